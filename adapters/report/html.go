// Package report renders an analysis summary as a single HTML page with
// numbered, collapsible sections.
package report

import (
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gomarkdown/markdown"

	"thetaauto/ports"
)

// Context locates the report: File is relative to WorkDir unless absolute
type Context struct {
	WorkDir string
	File    string
}

// Path returns the output path of the report
func (c Context) Path() string {
	if filepath.IsAbs(c.File) {
		return c.File
	}
	return filepath.Join(c.WorkDir, c.File)
}

const header = `<?xml version="1.0" ?>
<!DOCTYPE html PUBLIC "-//W3C//DTD XHTML 1.0 Transitional//EN" "http://www.w3.org/TR/xhtml1/DTD/xhtml1-transitional.dtd">
<html xmlns="http://www.w3.org/1999/xhtml">
<head><title>thetaauto model summary</title>
<style type="text/css">
body {margin: 30px; font-family: Verdana, Arial, sans-serif; font-size: 12px; background:#eee;}
h1, h2, h3 { padding: 0.2ex; padding-left:.8ex;}
h1 {font-size: 150%; background: #d44; cursor: pointer;}
h2 {font-size: 110%; background: #f88; padding-left:1.3ex;}
.inner {padding-left: 3ex;}
p {margin:0 0 0 0; margin-top: 1.3ex;}
table {border-collapse: collapse; margin-top: 1.3ex;}
</style>
<script type="text/javascript">
function toggle(id) { var e = document.getElementById(id); e.style.display = e.style.display == 'none' ? '' : 'none'; }
</script>
</head><body>
<p>Hint: click on top-level headers to toggle visibility of that section.</p>
`

// HTMLReport collects sections in memory and writes them on Close
type HTMLReport struct {
	ctx     Context
	buf     strings.Builder
	section int
	active  bool
	closed  bool

	// Now stamps the footer; defaults to time.Now
	Now func() time.Time
}

var _ ports.ReportSink = (*HTMLReport)(nil)

// New starts an empty report
func New(ctx Context) *HTMLReport {
	r := &HTMLReport{ctx: ctx, Now: time.Now}
	r.buf.WriteString(header)
	return r
}

// NewSection closes the current section and opens the next numbered one,
// followed by the raw html content
func (r *HTMLReport) NewSection(title, content string) {
	r.closeSection()
	r.section++
	fmt.Fprintf(&r.buf, "<h1 onclick=\"toggle('div%d')\">%d. %s</h1><div class=\"inner\" id=\"div%d\">\n",
		r.section, r.section, html.EscapeString(title), r.section)
	r.buf.WriteString(content)
	r.active = true
}

// AddParagraph adds escaped text as a paragraph
func (r *HTMLReport) AddParagraph(text string) {
	r.buf.WriteString("<p>" + html.EscapeString(text) + "</p>\n")
}

// AddHTML adds raw markup as a paragraph
func (r *HTMLReport) AddHTML(raw string) {
	r.buf.WriteString("<p>" + raw + "</p>\n")
}

// AddMarkdown renders md to html
func (r *HTMLReport) AddMarkdown(md string) {
	r.buf.Write(markdown.ToHTML([]byte(md), nil, nil))
}

// AddTable renders t with one header row of column titles
func (r *HTMLReport) AddTable(t ports.Table) {
	r.buf.WriteString(TableHTML(t))
}

// TableHTML renders t; missing cells are empty
func TableHTML(t ports.Table) string {
	var b strings.Builder
	b.WriteString("<table cellpadding=\"2\" border=\"1\">\n<tr>")
	for _, c := range t.Columns {
		b.WriteString("<th>" + html.EscapeString(t.Title(c)) + "</th>")
	}
	b.WriteString("</tr>\n")
	for _, row := range t.Rows {
		cells := make([]string, len(t.Columns))
		for i, c := range t.Columns {
			cells[i] = html.EscapeString(row[c])
		}
		b.WriteString("<tr><td>" + strings.Join(cells, "</td><td>") + "</td></tr>\n")
	}
	b.WriteString("</table>\n")
	return b.String()
}

func (r *HTMLReport) closeSection() {
	if r.active {
		r.buf.WriteString("\n</div>\n")
		r.active = false
	}
}

// Close appends the footer and writes the page. Further calls are no-ops.
func (r *HTMLReport) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.closeSection()
	fmt.Fprintf(&r.buf, "<hr /><p>This page was generated at %s for workdir '%s'.</p>",
		r.Now().Format("2006-01-02 15:04:05"), html.EscapeString(r.ctx.WorkDir))
	r.buf.WriteString("</body></html>\n")

	path := r.ctx.Path()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(r.buf.String()), 0o644); err != nil {
		return fmt.Errorf("writing report %s: %w", path, err)
	}
	return nil
}
