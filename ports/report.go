package ports

// Table is a simple HTML table with optional pretty column titles
type Table struct {
	Columns []string
	Titles  map[string]string
	Rows    []map[string]string
}

// AddColumn appends a column; title defaults to the column name
func (t *Table) AddColumn(name, title string) {
	t.Columns = append(t.Columns, name)
	if title != "" {
		if t.Titles == nil {
			t.Titles = make(map[string]string)
		}
		t.Titles[name] = title
	}
}

// AddRow appends one row keyed by column name
func (t *Table) AddRow(row map[string]string) {
	t.Rows = append(t.Rows, row)
}

// Title returns the display title of column
func (t *Table) Title(column string) string {
	if title, ok := t.Titles[column]; ok {
		return title
	}
	return column
}

// ReportSink collects numbered HTML sections in call order
type ReportSink interface {
	NewSection(title, html string)
	AddParagraph(text string)
	AddHTML(raw string)
	AddMarkdown(md string)
	AddTable(t Table)
	Close() error
}
