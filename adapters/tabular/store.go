// Package tabular stores histograms as rows of CSV or XLSX files:
// name, xmin, xmax, bin1, ..., binN.
package tabular

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"thetaauto/domain/histogram"
	"thetaauto/internal"
)

// SheetName is the XLSX sheet holding the histogram rows
const SheetName = "Histograms"

// Store handles reading and writing histogram files
type Store struct {
	filePath string
	fileType string // "xlsx" or "csv"
	logger   *internal.Logger
}

// NewStore creates a store for filePath; the extension selects the format
func NewStore(filePath string, logger *internal.Logger) *Store {
	fileType := "csv"
	if strings.EqualFold(filepath.Ext(filePath), ".xlsx") {
		fileType = "xlsx"
	}
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &Store{filePath: filePath, fileType: fileType, logger: logger}
}

// Path returns the file the store reads and writes
func (s *Store) Path() string { return s.filePath }

// Histograms reads every well-formed row of the file
func (s *Store) Histograms(ctx context.Context) (map[string]histogram.Histogram, error) {
	if _, err := os.Stat(s.filePath); err != nil {
		return nil, fmt.Errorf("%s file not found: %s: %w", strings.ToUpper(s.fileType), s.filePath, err)
	}
	var (
		rows [][]string
		err  error
	)
	switch s.fileType {
	case "xlsx":
		rows, err = s.readExcelRows()
	default:
		rows, err = s.readCSVRows()
	}
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.processRows(rows), nil
}

func (s *Store) readExcelRows() ([][]string, error) {
	f, err := excelize.OpenFile(s.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	rows, err := f.GetRows(SheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", SheetName, err)
	}
	s.logger.Debug("[tabular] sheet %s read (%d rows)", SheetName, len(rows))
	return rows, nil
}

func (s *Store) readCSVRows() ([][]string, error) {
	file, err := os.Open(s.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.Comment = '#'
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV file: %w", err)
	}
	s.logger.Debug("[tabular] CSV file read (%d rows)", len(rows))
	return rows, nil
}

func isHeader(row []string) bool {
	return len(row) > 0 && strings.EqualFold(strings.TrimSpace(row[0]), "name")
}

// processRows converts raw rows into histograms. Rows of unsupported shape are skipped.
func (s *Store) processRows(rows [][]string) map[string]histogram.Histogram {
	result := make(map[string]histogram.Histogram, len(rows))
	for i, row := range rows {
		if i == 0 && isHeader(row) {
			continue
		}
		if len(row) == 0 || (len(row) == 1 && strings.TrimSpace(row[0]) == "") {
			continue
		}
		name := strings.TrimSpace(row[0])
		h, err := parseRow(row)
		if err != nil {
			s.logger.Warn("ignoring histogram '%s' in %s (row %d): %v", name, s.filePath, i+1, err)
			continue
		}
		if _, dup := result[name]; dup {
			s.logger.Warn("histogram '%s' appears more than once in %s; keeping row %d", name, s.filePath, i+1)
		}
		result[name] = h
	}
	s.logger.Info("[tabular] %d histograms loaded from %s", len(result), s.filePath)
	return result
}

func parseRow(row []string) (histogram.Histogram, error) {
	if strings.TrimSpace(row[0]) == "" {
		return histogram.Histogram{}, fmt.Errorf("empty name")
	}
	if len(row) < 4 {
		return histogram.Histogram{}, fmt.Errorf("expected name, xmin, xmax and at least one bin, got %d cells", len(row))
	}
	values := make([]float64, len(row)-1)
	for j, cell := range row[1:] {
		v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
		if err != nil {
			return histogram.Histogram{}, fmt.Errorf("cell %d: %w", j+2, err)
		}
		values[j] = v
	}
	return histogram.New(values[0], values[1], values[2:])
}

func formatRow(name string, h histogram.Histogram) []string {
	row := make([]string, 0, len(h.Bins)+3)
	row = append(row, name, formatFloat(h.XMin), formatFloat(h.XMax))
	for _, v := range h.Bins {
		row = append(row, formatFloat(v))
	}
	return row
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// SaveHistograms writes all histograms in sorted name order, replacing the file
func (s *Store) SaveHistograms(ctx context.Context, histos map[string]histogram.Histogram) error {
	names := make([]string, 0, len(histos))
	for name := range histos {
		names = append(names, name)
	}
	sort.Strings(names)
	if err := ctx.Err(); err != nil {
		return err
	}
	if dir := filepath.Dir(s.filePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	if s.fileType == "xlsx" {
		return s.saveExcel(names, histos)
	}
	return s.saveCSV(names, histos)
}

func (s *Store) saveCSV(names []string, histos map[string]histogram.Histogram) error {
	file, err := os.Create(s.filePath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %w", err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	for _, name := range names {
		if err := w.Write(formatRow(name, histos[name])); err != nil {
			return fmt.Errorf("failed to write histogram %s: %w", name, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to write CSV file: %w", err)
	}
	return file.Close()
}

func (s *Store) saveExcel(names []string, histos map[string]histogram.Histogram) error {
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return fmt.Errorf("failed to create sheet %s: %w", SheetName, err)
	}
	for i, name := range names {
		h := histos[name]
		row := make([]interface{}, 0, len(h.Bins)+3)
		row = append(row, name, h.XMin, h.XMax)
		for _, v := range h.Bins {
			row = append(row, v)
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(SheetName, cell, &row); err != nil {
			return fmt.Errorf("failed to write histogram %s: %w", name, err)
		}
	}
	if err := f.SaveAs(s.filePath); err != nil {
		return fmt.Errorf("failed to save Excel file: %w", err)
	}
	return nil
}
