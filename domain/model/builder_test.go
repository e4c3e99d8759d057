package model

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thetaauto/domain/core"
	"thetaauto/domain/histogram"
)

type recordingLogger struct {
	warnings []string
}

func (l *recordingLogger) Warn(format string, args ...interface{}) {
	l.warnings = append(l.warnings, fmt.Sprintf(format, args...))
}

func templates() map[string]histogram.Histogram {
	return map[string]histogram.Histogram{
		"mu__ttbar":                h3(10, 10, 10),
		"mu__ttbar__jes__up":       h3(12, 10, 10),
		"mu__ttbar__jes__down":     h3(8, 10, 10),
		"mu__w":                    h3(5, 5, 5),
		"mu__w__q2__plus":          h3(6, 5, 5),
		"mu__w__q2__minus":         h3(4, 5, 5),
		"mu__signal-500":           h3(1, 1, 1),
		"mu__DATA":                 h3(16, 15, 14),
		"ele__ttbar":               h3(3, 3, 3),
		"mu__ttbar__jes__sideways": h3(1, 1, 1),
		"garbage":                  h3(1, 1, 1),
		"mu__DATA__jes__plus":      h3(1, 1, 1),
	}
}

func TestBuildModel(t *testing.T) {
	logger := &recordingLogger{}
	m, err := BuildModel(templates(), WithLogger(logger))
	require.NoError(t, err)

	assert.Equal(t, []string{"ele", "mu"}, m.Observables())
	assert.Equal(t, []string{"signal_500", "ttbar", "w"}, m.Processes("mu"))
	assert.Equal(t, []string{"jes", "q2"}, m.Distribution.Parameters())
	assert.Len(t, logger.warnings, 3)

	hf, ok := m.HistogramFunction("mu", "ttbar")
	require.True(t, ok)
	assert.Equal(t, []string{"jes"}, hf.Parameters())
	shift, _ := hf.Shift("jes")
	assert.Equal(t, []float64{12, 10, 10}, shift.Plus.Bins)
	assert.Equal(t, []float64{8, 10, 10}, shift.Minus.Bins)

	data, ok := m.DataHistogram("mu")
	require.True(t, ok)
	assert.Equal(t, []float64{16, 15, 14}, data.Bins)
	assert.False(t, m.HasData())

	prior, _ := m.Distribution.Get("jes")
	assert.Equal(t, Prior{Kind: PriorGauss, Mean: MeanValue(0), Width: 1, Range: Unbounded}, prior)
}

func TestBuildModelUnmatchedShift(t *testing.T) {
	histos := templates()
	delete(histos, "mu__w__q2__minus")
	_, err := BuildModel(histos)
	assert.ErrorIs(t, err, core.ErrUnmatchedShift)
	assert.Contains(t, err.Error(), "q2")
}

func TestBuildModelBinningMismatch(t *testing.T) {
	histos := templates()
	histos["mu__w"] = histogram.MustNew(0, 3, []float64{1, 2})
	_, err := BuildModel(histos)
	assert.ErrorIs(t, err, core.ErrBinningMismatch)
}

func TestBuildModelOptions(t *testing.T) {
	histos := map[string]histogram.Histogram{
		"raw_mu_ttbar": histogram.MustNew(0, 4, []float64{1, 2, 3, 4}),
		"raw_mu_w":     histogram.MustNew(0, 4, []float64{1, 1, 1, 1}),
		"raw_mu_qcd":   histogram.MustNew(0, 4, []float64{9, 9, 9, 9}),
	}
	m, err := BuildModel(histos,
		WithFilter(func(name string) bool { return name != "raw_mu_qcd" }),
		WithNameMapping(func(name string) string {
			return map[string]string{"raw_mu_ttbar": "mu__ttbar", "raw_mu_w": "mu__w"}[name]
		}),
		WithTransform(func(name string, h histogram.Histogram) (histogram.Histogram, error) {
			c := h.Copy()
			if err := c.Rebin(2); err != nil {
				return histogram.Histogram{}, err
			}
			return c, nil
		}),
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"ttbar", "w"}, m.Processes("mu"))
	b, _ := m.Binning("mu")
	assert.Equal(t, 2, b.NBins)

	_, err = BuildModel(histos, WithTransform(func(string, histogram.Histogram) (histogram.Histogram, error) {
		return histogram.Histogram{}, errors.New("boom")
	}))
	assert.Error(t, err)
}

type staticSource map[string]histogram.Histogram

func (s staticSource) Histograms(context.Context) (map[string]histogram.Histogram, error) {
	return s, nil
}

func TestBuildModelWarnsOnNameCollision(t *testing.T) {
	logger := &recordingLogger{}
	m, err := BuildModel(map[string]histogram.Histogram{
		"mu__signal-500":    h3(1, 1, 1),
		"mu__signal.500":    h3(2, 2, 2),
		"mu__b":             h3(5, 5, 5),
		"mu__b__jes__up":    h3(6, 5, 5),
		"mu__b__jes__plus":  h3(7, 5, 5),
		"mu__b__jes__minus": h3(4, 5, 5),
	}, WithLogger(logger))
	require.NoError(t, err)
	require.Len(t, logger.warnings, 2)
	assert.Contains(t, logger.warnings[0], "mu__b__jes__plus")
	assert.Contains(t, logger.warnings[1], "mu__signal_500")

	// input names are visited in sorted order; the later one wins
	hf, ok := m.HistogramFunction("mu", "signal_500")
	require.True(t, ok)
	nominal, _ := hf.Nominal()
	assert.Equal(t, []float64{2, 2, 2}, nominal.Bins)
	hf, _ = m.HistogramFunction("mu", "b")
	shift, _ := hf.Shift("jes")
	assert.Equal(t, []float64{6, 5, 5}, shift.Plus.Bins)
}

func TestBuildModelFromSource(t *testing.T) {
	m, err := BuildModelFromSource(context.Background(), staticSource(templates()))
	require.NoError(t, err)
	assert.Len(t, m.Observables(), 2)
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "signal_500", SanitizeName("signal-500"))
	assert.Equal(t, "_2jets", SanitizeName("2jets"))
	assert.Equal(t, "a_b_c", SanitizeName("a b.c"))
	assert.Equal(t, "m_", SanitizeName("mµ"))
}
