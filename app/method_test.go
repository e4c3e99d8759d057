package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"thetaauto/domain/core"
	"thetaauto/domain/histogram"
	"thetaauto/domain/model"
	"thetaauto/domain/result"
	"thetaauto/domain/setting"
)

func twoSignalModel() *model.Model {
	s2 := 8.0
	return model.SimpleCounting(5, 10, 100, 10, &s2)
}

func jobNames(jobs []Job) []string {
	names := make([]string, len(jobs))
	for i, j := range jobs {
		names[i] = j.Name
	}
	return names
}

func mainOf(t *testing.T, job Job) setting.Map {
	t.Helper()
	main, ok := job.Document["main"].Map()
	require.True(t, ok)
	return main
}

func TestNewMethod(t *testing.T) {
	m, err := NewMethod("bayesian_limit", nil)
	require.NoError(t, err)
	assert.Equal(t, MethodBayesianLimit, m.Name())

	m, err = NewMethod("mle", nil)
	require.NoError(t, err)
	assert.Equal(t, MethodMaximumLikelihood, m.Name())

	m, err = NewMethod("posteriors", []string{"core-plugins.so"})
	require.NoError(t, err)
	require.IsType(t, &Posteriors{}, m)
	assert.Equal(t, []string{"core-plugins.so"}, m.(*Posteriors).PluginFiles)

	m, err = NewMethod("model_summary", nil)
	require.NoError(t, err)
	assert.Implements(t, (*ModelReporter)(nil), m)

	_, err = NewMethod("cls", nil)
	assert.ErrorIs(t, err, core.ErrUnknownKind)
}

func TestBayesianLimitJobs(t *testing.T) {
	w := NewConfigWriter(t.TempDir(), model.CfgOptions{})
	b := NewBayesianLimit([]string{"core.so"})

	jobs, err := b.Jobs(twoSignalModel(), w)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"bayes_limit-s-data", "bayes_limit-s2-data",
		"bayes_limit-s-zero-1", "bayes_limit-s2-zero-1",
	}, jobNames(jobs))

	data := mainOf(t, jobs[0])
	assert.Equal(t, setting.I(10), data["n-events"])
	assert.Equal(t, SQLiteDatabase("bayes_limit-s-data.db"), data["output_database"])
	src, _ := data["data_source"].Map()
	assert.Equal(t, setting.S("histo_source"), src["type"])
	assert.Contains(t, src, "obs")

	toys := mainOf(t, jobs[3])
	assert.Equal(t, setting.I(1000), toys["n-events"])
	assert.Equal(t, ModelSource(1), toys["data_source"])
	assert.Equal(t, result.InputZero, jobs[3].Input)
	assert.Equal(t, "s2", jobs[3].Signal)

	for _, job := range jobs {
		assert.Equal(t, DeltaDistribution(map[string]float64{model.BetaSignal: 0}), job.Document[ModelDistributionSignal])
		assert.Equal(t, PluginOptions([]string{"core.so"}), job.Document["options"])
		ul, _ := job.Document["bayes_ul"].Map()
		assert.Equal(t, setting.S("mcmc_quantiles"), ul["type"])
		assert.Equal(t, setting.I(20000), ul["iterations"])
	}
	assert.Equal(t, "bayes__quant09500", b.Column())
}

func TestBayesianLimitWithoutData(t *testing.T) {
	m := model.New()
	require.NoError(t, m.SetHistogramFunction("obs", "s", model.NewCubiclinear(histogram.MustNew(0, 1, []float64{5}))))
	require.NoError(t, m.SetHistogramFunction("obs", "b", model.NewCubiclinear(histogram.MustNew(0, 1, []float64{50}))))
	require.NoError(t, m.SetSignalProcesses([]string{"s"}))

	w := NewConfigWriter(t.TempDir(), model.CfgOptions{})
	b := NewBayesianLimit(nil)
	jobs, err := b.Jobs(m, w)
	require.NoError(t, err)
	assert.Equal(t, []string{"bayes_limit-s-zero-1"}, jobNames(jobs))

	b.Expected = false
	jobs, err = b.Jobs(m, w)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestBayesianLimitSummarizeAndReport(t *testing.T) {
	b := NewBayesianLimit(nil)
	ctx := context.Background()

	reader := &mockReader{}
	reader.On("Column", ctx, "products", "bayes__quant09500").Return([]float64{4, 1, 3, 2}, nil)

	observed, err := b.Summarize(ctx, Job{Name: "bayes_limit-s-data", Signal: "s", Input: result.InputData}, reader)
	require.NoError(t, err)
	require.Len(t, observed, 1)
	assert.Equal(t, 2.5, observed[0].Mean)
	assert.Equal(t, 3.0, observed[0].Median)

	expected, err := b.Summarize(ctx, Job{Name: "bayes_limit-s-zero-1", Signal: "s", Input: result.InputZero}, reader)
	require.NoError(t, err)
	reader.AssertExpectations(t)

	sink := &recordingSink{}
	b.Report(sink, append(observed, expected...))
	assert.Equal(t, []string{"Bayesian Limits"}, sink.sections)
	assert.Len(t, sink.paragraphs, 2)
	require.Len(t, sink.tables, 1)
	table := sink.tables[0]
	assert.Equal(t, []string{"process", "expected", "observed"}, table.Columns)
	require.Len(t, table.Rows, 1)
	assert.Equal(t, observed[0].Observed(), table.Rows[0]["observed"])
	assert.Equal(t, expected[0].Expected(), table.Rows[0]["expected"])
}

func TestBayesianLimitSummarizeTooFewToys(t *testing.T) {
	b := NewBayesianLimit(nil)
	reader := &mockReader{}
	reader.On("Column", mock.Anything, "products", "bayes__quant09500").Return([]float64{1}, nil)

	_, err := b.Summarize(context.Background(), Job{Name: "x"}, reader)
	assert.ErrorIs(t, err, core.ErrInvalidValue)
}

func TestMaximumLikelihoodJobs(t *testing.T) {
	w := NewConfigWriter(t.TempDir(), model.CfgOptions{})
	l := NewMaximumLikelihood(nil)

	jobs, err := l.Jobs(model.SimpleCounting(5, 10, 100, 10, nil), w)
	require.NoError(t, err)
	assert.Equal(t, []string{"mle-s-data", "mle-s-one-1"}, jobNames(jobs))

	producer, ok := jobs[0].Document["mle"].Map()
	require.True(t, ok)
	assert.Equal(t, setting.Strings([]string{"beta_signal", "bunc"}), producer["parameters"])
	assert.Equal(t, setting.I(1), mainOf(t, jobs[0])["n-events"])
	assert.Equal(t, setting.I(100), mainOf(t, jobs[1])["n-events"])
	assert.Equal(t, DeltaDistribution(map[string]float64{model.BetaSignal: 1}), jobs[1].Document[ModelDistributionSignal])
}

func TestMaximumLikelihoodSummarizeAndReport(t *testing.T) {
	w := NewConfigWriter(t.TempDir(), model.CfgOptions{})
	l := NewMaximumLikelihood(nil)
	jobs, err := l.Jobs(model.SimpleCounting(5, 10, 100, 10, nil), w)
	require.NoError(t, err)

	ctx := context.Background()
	reader := &mockReader{}
	reader.On("Column", ctx, "products", "mle__beta_signal").Return([]float64{1.0}, nil).Once()
	reader.On("Column", ctx, "products", "mle__beta_signal_error").Return([]float64{0.4}, nil).Once()
	reader.On("Column", ctx, "products", "mle__bunc").Return([]float64{0.1}, nil).Once()
	reader.On("Column", ctx, "products", "mle__bunc_error").Return([]float64{}, nil).Once()

	summaries, err := l.Summarize(ctx, jobs[0], reader)
	require.NoError(t, err)
	reader.AssertExpectations(t)
	require.Len(t, summaries, 3)
	assert.Equal(t, "mle__beta_signal", summaries[0].Quantity)
	assert.Equal(t, 1, summaries[0].N)
	assert.Equal(t, 1.0, summaries[0].Mean)

	sink := &recordingSink{}
	l.Report(sink, summaries)
	require.Len(t, sink.tables, 1)
	rows := sink.tables[0].Rows
	require.Len(t, rows, 2)
	assert.Equal(t, "beta_signal", rows[0]["parameter"])
	assert.Equal(t, "0.4", rows[0]["error"])
	assert.Equal(t, "bunc", rows[1]["parameter"])
	assert.NotContains(t, rows[1], "error")
}
