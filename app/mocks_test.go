package app

import (
	"context"

	"github.com/stretchr/testify/mock"

	"thetaauto/domain/core"
	"thetaauto/domain/histogram"
	"thetaauto/domain/result"
	"thetaauto/ports"
)

type mockEngine struct{ mock.Mock }

func (e *mockEngine) Run(ctx context.Context, names []string) error {
	return e.Called(ctx, names).Error(0)
}

func (e *mockEngine) CachedDB(name string) string {
	return e.Called(name).String(0)
}

type mockOpener struct{ mock.Mock }

func (o *mockOpener) OpenResults(ctx context.Context, path string) (ports.ResultReader, error) {
	args := o.Called(ctx, path)
	r, _ := args.Get(0).(ports.ResultReader)
	return r, args.Error(1)
}

type mockReader struct{ mock.Mock }

func (r *mockReader) Tables(ctx context.Context) ([]string, error) {
	args := r.Called(ctx)
	t, _ := args.Get(0).([]string)
	return t, args.Error(1)
}

func (r *mockReader) Column(ctx context.Context, table, column string) ([]float64, error) {
	args := r.Called(ctx, table, column)
	v, _ := args.Get(0).([]float64)
	return v, args.Error(1)
}

func (r *mockReader) Columns(ctx context.Context, table string, columns ...string) ([][]float64, error) {
	args := r.Called(ctx, table, columns)
	v, _ := args.Get(0).([][]float64)
	return v, args.Error(1)
}

func (r *mockReader) Histograms(ctx context.Context, table, column string) ([]histogram.Histogram, error) {
	args := r.Called(ctx, table, column)
	v, _ := args.Get(0).([]histogram.Histogram)
	return v, args.Error(1)
}

func (r *mockReader) Close() error {
	return r.Called().Error(0)
}

type mockArchive struct{ mock.Mock }

func (a *mockArchive) Save(ctx context.Context, s *result.Summary) error {
	return a.Called(ctx, s).Error(0)
}

func (a *mockArchive) Get(ctx context.Context, id core.RunID) (*result.Summary, error) {
	args := a.Called(ctx, id)
	s, _ := args.Get(0).(*result.Summary)
	return s, args.Error(1)
}

func (a *mockArchive) ListByMethod(ctx context.Context, method string, limit int) ([]result.Summary, error) {
	args := a.Called(ctx, method, limit)
	s, _ := args.Get(0).([]result.Summary)
	return s, args.Error(1)
}

// recordingSink keeps what a method reported
type recordingSink struct {
	sections   []string
	paragraphs []string
	html       []string
	tables     []ports.Table
}

func (s *recordingSink) NewSection(title, html string) { s.sections = append(s.sections, title) }
func (s *recordingSink) AddParagraph(text string)      { s.paragraphs = append(s.paragraphs, text) }
func (s *recordingSink) AddHTML(html string)           { s.html = append(s.html, html) }
func (s *recordingSink) AddMarkdown(string)            {}
func (s *recordingSink) AddTable(t ports.Table)        { s.tables = append(s.tables, t) }
func (s *recordingSink) Close() error                  { return nil }

var (
	_ ports.Engine         = (*mockEngine)(nil)
	_ ports.ResultOpener   = (*mockOpener)(nil)
	_ ports.ResultReader   = (*mockReader)(nil)
	_ ports.SummaryArchive = (*mockArchive)(nil)
	_ ports.ReportSink     = (*recordingSink)(nil)
)
