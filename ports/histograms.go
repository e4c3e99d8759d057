package ports

import (
	"context"

	"thetaauto/domain/histogram"
)

// HistogramSource loads a flat name to histogram collection, e.g. one input file.
// Entries of unsupported shape are skipped with a warning, not an error.
type HistogramSource interface {
	Histograms(ctx context.Context) (map[string]histogram.Histogram, error)
}

// HistogramSink stores a named histogram collection
type HistogramSink interface {
	SaveHistograms(ctx context.Context, histos map[string]histogram.Histogram) error
}

// HistogramStore is a source that can also be written
type HistogramStore interface {
	HistogramSource
	HistogramSink
}
