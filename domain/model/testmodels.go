package model

import (
	"fmt"
	"math"

	"thetaauto/domain/histogram"
)

// Synthetic models for exercising methods without input files.

func counting(v float64) histogram.Histogram {
	return histogram.MustNew(0, 1, []float64{v})
}

func mustSet(m *Model, obs, proc string, hf *HistogramFunction) {
	if err := m.SetHistogramFunction(obs, proc, hf); err != nil {
		panic(err)
	}
}

func mustNoErr(err error) {
	if err != nil {
		panic(fmt.Sprintf("synthetic model: %v", err))
	}
}

// SimpleCounting is a one-bin counting experiment with signal s, observed
// nObs and background b with an absolute lognormal uncertainty bUnc. A
// second signal process "s2" is added if s2 is non-nil.
func SimpleCounting(s, nObs, b, bUnc float64, s2 *float64) *Model {
	m := New()
	mustNoErr(m.SetDataHistogram("obs", counting(nObs), false))
	mustSet(m, "obs", "s", NewCubiclinear(counting(s)))
	if s2 != nil {
		mustSet(m, "obs", "s2", NewCubiclinear(counting(*s2)))
	}
	mustNoErr(m.SetSignalProcesses([]string{"s*"}))
	if b > 0 {
		mustSet(m, "obs", "b", NewCubiclinear(counting(b)))
		if bUnc > 0 {
			mustNoErr(m.AddLognormalUncertainty("bunc", bUnc/b, "b", "*"))
		}
	}
	return m
}

// SimpleCountingShape is a one-bin counting experiment in which the
// background uncertainty is a morphing between bMinus and bPlus
func SimpleCountingShape(s, nObs, b, bPlus, bMinus float64) *Model {
	m := New()
	mustNoErr(m.SetDataHistogram("obs", counting(nObs), false))
	mustSet(m, "obs", "s", NewCubiclinear(counting(s)))
	mustNoErr(m.SetSignalProcesses([]string{"s*"}))
	if b > 0 {
		hf := NewCubiclinear(counting(b))
		mustNoErr(hf.SetShift("bunc", counting(bPlus), counting(bMinus), 1.0))
		mustNoErr(m.Distribution.SetDistribution("bunc", PriorGauss, MeanValue(0), 1, Unbounded))
		mustSet(m, "obs", "b", hf)
	}
	return m
}

// SimpleCountingBB is a background-free counting experiment with an
// absolute bin-by-bin uncertainty sUnc on the signal
func SimpleCountingBB(s, sUnc, nObs float64) *Model {
	return TemplateCountingBB([]float64{s}, []float64{sUnc}, []float64{nObs})
}

// TemplateCountingBB is SimpleCountingBB with one bin per entry. All slices
// must have the same length.
func TemplateCountingBB(s, sUnc, nObs []float64) *Model {
	if len(s) != len(sUnc) || len(s) != len(nObs) {
		panic("synthetic model: signal, uncertainty and data lengths differ")
	}
	m := New()
	mustNoErr(m.SetDataHistogram("obs", histogram.MustNew(0, 1, nObs), false))
	hf := NewCubiclinear(histogram.MustNew(0, 1, s))
	mustNoErr(hf.SetNominalUncertainty(histogram.MustNew(0, 1, sUnc)))
	mustSet(m, "obs", "s", hf)
	mustNoErr(m.SetSignalProcesses([]string{"s*"}))
	m.BBUncertainties = true
	return m
}

// GaussOverFlat is a gaussian signal peak (mean 50) of total yield s over a
// flat background b on 100 bins in [0, 100], without data. bUnc is the
// absolute background uncertainty, treated as lognormal.
func GaussOverFlat(s, b, bUnc float64) *Model {
	m := New()
	signal := make([]float64, 100)
	total := 0.0
	for i := range signal {
		x := float64(i) + 0.5
		signal[i] = math.Exp(-(x - 50) * (x - 50) / (2 * 20))
		total += signal[i]
	}
	for i := range signal {
		signal[i] *= s / total
	}
	mustSet(m, "obs", "s", NewCubiclinear(histogram.MustNew(0, 100, signal)))

	background := make([]float64, 100)
	for i := range background {
		background[i] = b * 0.01
	}
	mustSet(m, "obs", "b", NewCubiclinear(histogram.MustNew(0, 100, background)))
	if bUnc > 0 {
		mustNoErr(m.AddLognormalUncertainty("bunc", bUnc/b, "b", "*"))
	}
	mustNoErr(m.SetSignalProcesses([]string{"s*"}))
	return m
}
