package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"thetaauto/domain/core"
	"thetaauto/domain/histogram"
	"thetaauto/domain/model"
	"thetaauto/domain/result"
	"thetaauto/internal"
)

type serviceFixture struct {
	service *AnalysisService
	writer  *ConfigWriter
	engine  *mockEngine
	opener  *mockOpener
	archive *mockArchive
}

func newServiceFixture(t *testing.T) serviceFixture {
	t.Helper()
	f := serviceFixture{
		writer:  NewConfigWriter(t.TempDir(), model.CfgOptions{}),
		engine:  &mockEngine{},
		opener:  &mockOpener{},
		archive: &mockArchive{},
	}
	f.service = NewAnalysisService(f.writer, f.engine, f.opener, f.archive, internal.NewLogger(internal.LogLevelError))
	return f
}

func TestRunMethodSummarizesAndArchives(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	m := model.SimpleCounting(5, 10, 100, 10, nil)
	names := []string{"bayes_limit-s-data", "bayes_limit-s-zero-1"}

	f.engine.On("Run", ctx, names).Return(nil)
	reader := &mockReader{}
	for _, name := range names {
		f.engine.On("CachedDB", name).Return("/cache/" + name + ".db")
		f.opener.On("OpenResults", ctx, "/cache/"+name+".db").Return(reader, nil)
	}
	reader.On("Column", ctx, "products", "bayes__quant09500").Return([]float64{1, 2, 3}, nil)
	reader.On("Close").Return(nil)
	f.archive.On("Save", ctx, mock.AnythingOfType("*result.Summary")).Return(nil)

	sink := &recordingSink{}
	summaries, err := f.service.RunMethod(ctx, m, NewBayesianLimit(nil), sink)
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	assert.Equal(t, result.InputData, summaries[0].Input)
	assert.Equal(t, result.InputZero, summaries[1].Input)
	for i, name := range names {
		raw, err := os.ReadFile(filepath.Join(f.writer.WorkDir, name+".cfg"))
		require.NoError(t, err)
		assert.Equal(t, core.NewConfigHash(raw), summaries[i].ConfigHash)
	}

	f.engine.AssertExpectations(t)
	f.opener.AssertExpectations(t)
	f.archive.AssertNumberOfCalls(t, "Save", 2)
	reader.AssertNumberOfCalls(t, "Close", 2)
	assert.Equal(t, []string{"Bayesian Limits"}, sink.sections)
}

func TestRunMethodEngineFailure(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	m := model.SimpleCounting(5, 10, 100, 10, nil)

	f.engine.On("Run", ctx, mock.Anything).Return(core.NewEngineError("bayes_limit-s-data", errors.New("exit status 1")))

	sink := &recordingSink{}
	summaries, err := f.service.RunMethod(ctx, m, NewBayesianLimit(nil), sink)
	assert.ErrorIs(t, err, core.ErrEngineFailed)
	assert.Nil(t, summaries)
	assert.Empty(t, sink.sections)
	f.opener.AssertNotCalled(t, "OpenResults", mock.Anything, mock.Anything)
}

func TestRunMethodOpenFailure(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	m := model.SimpleCounting(5, 10, 100, 10, nil)
	bl := NewBayesianLimit(nil)
	bl.Expected = false

	f.engine.On("Run", ctx, []string{"bayes_limit-s-data"}).Return(nil)
	f.engine.On("CachedDB", "bayes_limit-s-data").Return("/cache/x.db")
	f.opener.On("OpenResults", ctx, "/cache/x.db").Return(nil, errors.New("no such file"))

	_, err := f.service.RunMethod(ctx, m, bl, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bayes_limit-s-data")
}

func TestAnalyzeWithoutArchive(t *testing.T) {
	f := newServiceFixture(t)
	f.service = NewAnalysisService(f.writer, f.engine, f.opener, nil, nil)
	ctx := context.Background()
	m := model.SimpleCounting(5, 10, 100, 10, nil)
	bl := NewBayesianLimit(nil)
	bl.Expected = false

	reader := &mockReader{}
	f.engine.On("Run", ctx, []string{"bayes_limit-s-data"}).Return(nil)
	f.engine.On("CachedDB", "bayes_limit-s-data").Return("/cache/x.db")
	f.opener.On("OpenResults", ctx, "/cache/x.db").Return(reader, nil)
	reader.On("Column", ctx, "products", "bayes__quant09500").Return([]float64{1, 2}, nil)
	reader.On("Close").Return(nil)

	summaries, err := f.service.Analyze(ctx, m, []Method{bl}, nil)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	f.archive.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestRunMethodReportsModel(t *testing.T) {
	f := newServiceFixture(t)
	sink := &recordingSink{}

	summaries, err := f.service.RunMethod(context.Background(), model.SimpleCounting(5, 10, 100, 10, nil), ModelSummary{}, sink)
	require.NoError(t, err)
	assert.Empty(t, summaries)
	assert.Equal(t, []string{"General Model Info", "Rate Summary"}, sink.sections)
	f.engine.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
}

func TestRunMethodWithoutJobsWarns(t *testing.T) {
	f := newServiceFixture(t)
	observed, logs := observer.New(zapcore.DebugLevel)
	f.service = NewAnalysisService(f.writer, f.engine, f.opener, f.archive, internal.NewLoggerWithCore(internal.LogLevelWarn, observed))

	m := model.New()
	require.NoError(t, m.SetHistogramFunction("obs", "b", model.NewCubiclinear(histogram.MustNew(0, 1, []float64{50}))))
	require.NoError(t, m.AddLognormalUncertainty("bunc", 0.1, "b", "*"))

	summaries, err := f.service.RunMethod(context.Background(), m, NewPosteriors(nil), &recordingSink{})
	require.NoError(t, err)
	assert.Empty(t, summaries)
	assert.Len(t, logs.FilterMessageSnippet("nothing to run").All(), 1)
	f.engine.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
}

func TestWriteModelConfigs(t *testing.T) {
	f := newServiceFixture(t)
	s2 := 3.0
	names, err := f.service.WriteModelConfigs(model.SimpleCounting(5, 10, 100, 10, &s2))
	require.NoError(t, err)
	assert.Equal(t, []string{"model-s", "model-s2"}, names)
	for _, name := range names {
		assert.FileExists(t, f.writer.Path(name))
	}

	names, err = f.service.WriteModelConfigs(model.GaussOverFlat(1, 10, 1))
	require.NoError(t, err)
	assert.Len(t, names, 1)
}
