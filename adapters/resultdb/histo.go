package resultdb

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"thetaauto/domain/histogram"
	"thetaauto/internal/errors"
)

// DecodeHistogram decodes a histogram column value: little-endian doubles
// xmin, xmax, underflow, the bin contents and overflow
func DecodeHistogram(blob []byte) (histogram.Histogram, error) {
	if len(blob)%8 != 0 || len(blob) < 5*8 {
		return histogram.Histogram{}, errors.InvalidInput(fmt.Sprintf("histogram column of %d bytes", len(blob)))
	}
	values := make([]float64, len(blob)/8)
	for i := range values {
		values[i] = math.Float64frombits(binary.LittleEndian.Uint64(blob[8*i:]))
	}
	h, err := histogram.New(values[0], values[1], values[3:len(values)-1])
	if err != nil {
		return histogram.Histogram{}, errors.WithCode(errors.CodeInvalidInput, err)
	}
	return h, nil
}

// EncodeHistogram is the inverse of DecodeHistogram with empty under- and overflow
func EncodeHistogram(h histogram.Histogram) []byte {
	values := append([]float64{h.XMin, h.XMax, 0}, h.Bins...)
	values = append(values, 0)
	blob := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(blob[8*i:], math.Float64bits(v))
	}
	return blob
}

// Histograms returns the histograms stored in column, in row order. NULL
// rows are skipped.
func (r *Reader) Histograms(ctx context.Context, table, column string) ([]histogram.Histogram, error) {
	if err := checkIdentifier(table); err != nil {
		return nil, err
	}
	if err := checkIdentifier(column); err != nil {
		return nil, err
	}
	var blobs [][]byte
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s IS NOT NULL`, column, table, column)
	if err := r.db.SelectContext(ctx, &blobs, query); err != nil {
		return nil, errors.Wrapf(errors.WithCode(errors.CodeDatabaseError, err), "failed to query %s.%s", table, column)
	}
	result := make([]histogram.Histogram, 0, len(blobs))
	for i, blob := range blobs {
		h, err := DecodeHistogram(blob)
		if err != nil {
			return nil, errors.Wrapf(err, "%s.%s row %d", table, column, i+1)
		}
		result = append(result, h)
	}
	return result, nil
}
