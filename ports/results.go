package ports

import (
	"context"

	"thetaauto/domain/histogram"
)

// ResultReader gives read-only access to the tables an engine run produced
type ResultReader interface {
	// Tables lists the table names
	Tables(ctx context.Context) ([]string, error)
	// Column returns one numeric column, one value per row
	Column(ctx context.Context, table, column string) ([]float64, error)
	// Columns returns rows of the selected numeric columns
	Columns(ctx context.Context, table string, columns ...string) ([][]float64, error)
	// Histograms returns a histogram-valued column, one histogram per row
	Histograms(ctx context.Context, table, column string) ([]histogram.Histogram, error)
	Close() error
}

// ResultOpener opens the result database written by one named run
type ResultOpener interface {
	OpenResults(ctx context.Context, path string) (ResultReader, error)
}
