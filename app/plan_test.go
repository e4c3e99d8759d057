package app

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thetaauto/domain/core"
	"thetaauto/domain/histogram"
	"thetaauto/domain/model"
)

const planYAML = `
signal: ["signal*"]
restrict: [mu]
rebin: {mu: 2}
scale:
  - {factor: 2.0, process: ttbar}
fill_zero_bins: 0.001
lognormal:
  - {name: lumi, minus: 0.05, plus: 0.05}
priors:
  - {name: jes, kind: gauss, mean: 0, width: 0.5, range: [-.inf, .inf]}
  - {name: xsec, kind: gamma, mean: 1, width: .inf, range: [0, 10]}
methods: [bayesian_limit, mle, posteriors]
`

func planModel(t *testing.T) *model.Model {
	t.Helper()
	four := func(v float64) histogram.Histogram { return histogram.MustNew(0, 4, []float64{v, v, v, v}) }
	m, err := model.BuildModel(map[string]histogram.Histogram{
		"mu__signal1":          four(1),
		"mu__ttbar":            four(10),
		"mu__ttbar__jes__up":   four(11),
		"mu__ttbar__jes__down": four(9),
		"mu__DATA":             four(12),
		"ele__ttbar":           four(3),
		"ele__DATA":            four(3),
	})
	require.NoError(t, err)
	return m
}

func TestParsePlan(t *testing.T) {
	p, err := ParsePlan([]byte(planYAML))
	require.NoError(t, err)

	assert.Equal(t, []string{"signal*"}, p.Signal)
	assert.Equal(t, map[string]int{"mu": 2}, p.Rebin)
	assert.Equal(t, []ScaleStep{{Factor: 2, Process: "ttbar"}}, p.Scale)
	require.Len(t, p.Priors, 2)
	assert.True(t, math.IsInf(p.Priors[0].Range[0], -1))
	assert.True(t, math.IsInf(p.Priors[1].Width, 1))

	methods, err := p.NewMethods(nil)
	require.NoError(t, err)
	require.Len(t, methods, 3)
	assert.Equal(t, MethodMaximumLikelihood, methods[1].Name())
	assert.Equal(t, MethodPosteriors, methods[2].Name())
}

func TestParsePlanRejects(t *testing.T) {
	_, err := ParsePlan([]byte("methods: [cls]\n"))
	assert.ErrorIs(t, err, core.ErrUnknownKind)

	_, err = ParsePlan([]byte("rebinn: {mu: 2}\n"))
	assert.Error(t, err)
}

func TestLoadPlan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(planYAML), 0o644))
	p, err := LoadPlan(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"mu"}, p.Restrict)
}

func TestExecutePlan(t *testing.T) {
	p, err := ParsePlan([]byte(planYAML))
	require.NoError(t, err)
	m := planModel(t)
	require.NoError(t, ExecutePlan(m, p))

	assert.Equal(t, []string{"mu"}, m.Observables())
	b, ok := m.Binning("mu")
	require.True(t, ok)
	assert.Equal(t, 2, b.NBins)

	hf, ok := m.HistogramFunction("mu", "ttbar")
	require.True(t, ok)
	nominal, ok := hf.Nominal()
	require.True(t, ok)
	assert.Equal(t, []float64{40, 40}, nominal.Bins)

	data, ok := m.DataHistogram("mu")
	require.True(t, ok)
	assert.Equal(t, []float64{24, 24}, data.Bins)

	assert.Equal(t, []string{"signal1"}, m.SignalProcesses())

	coeff, ok := m.Coefficient("mu", "signal1")
	require.True(t, ok)
	assert.Equal(t, []string{"lumi"}, coeff.Parameters())

	jes, ok := m.Distribution.Get("jes")
	require.True(t, ok)
	assert.Equal(t, 0.5, jes.Width)
	xsec, ok := m.Distribution.Get("xsec")
	require.True(t, ok)
	assert.Equal(t, model.PriorGamma, xsec.Kind)
	assert.Equal(t, [2]float64{0, 10}, xsec.Range)
}

func TestExecutePlanRestrictsBeforeRebinning(t *testing.T) {
	m := planModel(t)
	err := ExecutePlan(m, &Plan{Restrict: []string{"mu"}, Rebin: map[string]int{"ele": 2}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rebin ele")
}

func TestExecutePlanBadPrior(t *testing.T) {
	m := planModel(t)
	err := ExecutePlan(m, &Plan{Priors: []PriorStep{{Name: "x", Kind: "lognormal", Width: 1}}})
	assert.ErrorIs(t, err, core.ErrUnknownKind)

	err = ExecutePlan(m, &Plan{Priors: []PriorStep{{Name: "x", Width: 1, Range: []float64{0}}}})
	assert.ErrorIs(t, err, core.ErrInvalidDistribution)
}
