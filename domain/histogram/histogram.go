// Package histogram holds the binned one-dimensional histogram used for
// templates and data.
package histogram

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"thetaauto/domain/core"
)

// Binning is the range and bin count shared by all histograms of one observable
type Binning struct {
	XMin  float64 `json:"xmin" yaml:"xmin"`
	XMax  float64 `json:"xmax" yaml:"xmax"`
	NBins int     `json:"nbins" yaml:"nbins"`
}

func (b Binning) String() string {
	return fmt.Sprintf("(%g, %g, %d)", b.XMin, b.XMax, b.NBins)
}

// Histogram is a (xmin, xmax, bins) triple without under- and overflow.
// Operations named *InPlace, Scale, Rebin and FillZeroBins mutate the receiver;
// everything else returns a fresh histogram.
type Histogram struct {
	XMin float64   `json:"xmin"`
	XMax float64   `json:"xmax"`
	Bins []float64 `json:"bins"`
}

// New validates and builds a histogram. The bins slice is copied.
func New(xmin, xmax float64, bins []float64) (Histogram, error) {
	if math.IsNaN(xmin) || math.IsNaN(xmax) || math.IsInf(xmin, 0) || math.IsInf(xmax, 0) {
		return Histogram{}, fmt.Errorf("%w: non-finite range (%g, %g)", core.ErrInvalidHistogram, xmin, xmax)
	}
	if xmin >= xmax {
		return Histogram{}, fmt.Errorf("%w: xmin %g >= xmax %g", core.ErrInvalidHistogram, xmin, xmax)
	}
	if len(bins) == 0 {
		return Histogram{}, fmt.Errorf("%w: no bins", core.ErrInvalidHistogram)
	}
	return Histogram{XMin: xmin, XMax: xmax, Bins: append([]float64(nil), bins...)}, nil
}

// MustNew is New for literals in tests and synthetic models; it panics on invalid input.
func MustNew(xmin, xmax float64, bins []float64) Histogram {
	h, err := New(xmin, xmax, bins)
	if err != nil {
		panic(err)
	}
	return h
}

// Binning returns the range and bin count
func (h Histogram) Binning() Binning {
	return Binning{XMin: h.XMin, XMax: h.XMax, NBins: len(h.Bins)}
}

// Compatible reports whether both histograms share range and bin count
func (h Histogram) Compatible(other Histogram) bool {
	return h.Binning() == other.Binning()
}

// Copy returns a deep copy
func (h Histogram) Copy() Histogram {
	return Histogram{XMin: h.XMin, XMax: h.XMax, Bins: append([]float64(nil), h.Bins...)}
}

// Sum returns the integral over all bins
func (h Histogram) Sum() float64 {
	return floats.Sum(h.Bins)
}

// Scale multiplies every bin by factor
func (h Histogram) Scale(factor float64) {
	floats.Scale(factor, h.Bins)
}

// Add returns h + coeff*other
func (h Histogram) Add(other Histogram, coeff float64) (Histogram, error) {
	if !h.Compatible(other) {
		return Histogram{}, core.NewBinningError(fmt.Sprintf("%s vs %s", h.Binning(), other.Binning()))
	}
	result := h.Copy()
	floats.AddScaled(result.Bins, coeff, other.Bins)
	return result, nil
}

// AddInPlace performs h += coeff*other
func (h Histogram) AddInPlace(other Histogram, coeff float64) error {
	if !h.Compatible(other) {
		return core.NewBinningError(fmt.Sprintf("%s vs %s", h.Binning(), other.Binning()))
	}
	floats.AddScaled(h.Bins, coeff, other.Bins)
	return nil
}

// Rebin merges factor adjacent bins by summation
func (h *Histogram) Rebin(factor int) error {
	merged, err := RebinSlice(h.Bins, factor)
	if err != nil {
		return err
	}
	h.Bins = merged
	return nil
}

// RebinSlice sums groups of factor adjacent entries
func RebinSlice(bins []float64, factor int) ([]float64, error) {
	if factor < 1 || len(bins)%factor != 0 {
		return nil, fmt.Errorf("%w: %d bins, factor %d", core.ErrNotDivisible, len(bins), factor)
	}
	n := len(bins) / factor
	result := make([]float64, n)
	for i := 0; i < n; i++ {
		result[i] = floats.Sum(bins[factor*i : factor*(i+1)])
	}
	return result, nil
}

// FillZeroBins raises every bin to at least epsilon times the average bin content
func (h Histogram) FillZeroBins(epsilon float64) {
	floor := epsilon * h.Sum() / float64(len(h.Bins))
	for i, v := range h.Bins {
		h.Bins[i] = math.Max(floor, v)
	}
}

// SetRange returns the sub-histogram covering [newMin, newMax]. Both edges
// must coincide with bin borders.
func (h Histogram) SetRange(newMin, newMax float64) (Histogram, error) {
	width := (h.XMax - h.XMin) / float64(len(h.Bins))
	imin := int(math.Round((newMin - h.XMin) / width))
	imax := int(math.Round((newMax - h.XMin) / width))
	if imin < 0 || imax > len(h.Bins) || imin >= imax {
		return Histogram{}, fmt.Errorf("%w: range (%g, %g) outside of %s", core.ErrInvalidHistogram, newMin, newMax, h.Binning())
	}
	actualMin := h.XMin + float64(imin)*width
	actualMax := h.XMin + float64(imax)*width
	if !CloseTo(actualMin, newMin) || !CloseTo(actualMax, newMax) {
		return Histogram{}, fmt.Errorf("%w: range (%g, %g) does not match bin borders", core.ErrInvalidHistogram, newMin, newMax)
	}
	return Histogram{XMin: actualMin, XMax: actualMax, Bins: append([]float64(nil), h.Bins[imin:imax]...)}, nil
}

// CloseTo compares with a relative tolerance of 1e-10; zero only equals zero.
func CloseTo(x1, x2 float64) bool {
	if x1*x2 == 0 {
		return x1 == 0 && x2 == 0
	}
	return math.Abs(x1-x2)/math.Max(math.Abs(x1), math.Abs(x2)) < 1e-10
}
