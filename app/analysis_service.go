package app

import (
	"context"
	"errors"
	"fmt"

	"thetaauto/domain/model"
	"thetaauto/domain/result"
	"thetaauto/internal"
	"thetaauto/ports"
)

// AnalysisService writes method configurations, runs them through the
// engine and summarizes the result databases
type AnalysisService struct {
	writer  *ConfigWriter
	engine  ports.Engine
	opener  ports.ResultOpener
	archive ports.SummaryArchive
	logger  *internal.Logger
}

// NewAnalysisService creates an analysis service; archive may be nil
func NewAnalysisService(writer *ConfigWriter, engine ports.Engine, opener ports.ResultOpener, archive ports.SummaryArchive, logger *internal.Logger) *AnalysisService {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &AnalysisService{
		writer:  writer,
		engine:  engine,
		opener:  opener,
		archive: archive,
		logger:  logger,
	}
}

// WriteModelConfigs writes model-<signal>.cfg for every signal process, or
// model.cfg for a model without signal, and returns the written names
func (s *AnalysisService) WriteModelConfigs(m *model.Model) ([]string, error) {
	signals := m.SignalProcesses()
	if len(signals) == 0 {
		doc, err := s.writer.Document(m, nil, nil)
		if err != nil {
			return nil, err
		}
		if _, err := s.writer.Write("model", doc); err != nil {
			return nil, err
		}
		return []string{"model"}, nil
	}

	names := make([]string, 0, len(signals))
	for _, sp := range signals {
		name := "model-" + sp
		doc, err := s.writer.Document(m, []string{sp}, nil)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if _, err := s.writer.Write(name, doc); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, nil
}

// RunMethod writes the jobs of method, runs them and returns their
// summaries. Any failed engine run fails the method, since the cache may
// still hold a result of an older configuration.
func (s *AnalysisService) RunMethod(ctx context.Context, m *model.Model, method Method, report ports.ReportSink) ([]result.Summary, error) {
	mr, reportsModel := method.(ModelReporter)
	if reportsModel && report != nil {
		if err := mr.ReportModel(report, m); err != nil {
			return nil, fmt.Errorf("%s: %w", method.Name(), err)
		}
	}
	jobs, err := method.Jobs(m, s.writer)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method.Name(), err)
	}
	if len(jobs) == 0 {
		if !reportsModel {
			s.logger.Warn("%s: nothing to run for this model", method.Name())
		}
		return nil, nil
	}
	names := make([]string, len(jobs))
	for i := range jobs {
		hash, err := s.writer.Write(jobs[i].Name, jobs[i].Document)
		if err != nil {
			return nil, err
		}
		jobs[i].Hash = hash
		names[i] = jobs[i].Name
	}
	s.logger.Info("%s: running %d configurations", method.Name(), len(jobs))

	if err := s.engine.Run(ctx, names); err != nil {
		return nil, fmt.Errorf("%s: %w", method.Name(), err)
	}

	var summaries []result.Summary
	for _, job := range jobs {
		js, err := s.summarizeJob(ctx, method, job)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, js...)
	}

	if report != nil && len(summaries) > 0 {
		method.Report(report, summaries)
	}
	return summaries, nil
}

func (s *AnalysisService) summarizeJob(ctx context.Context, method Method, job Job) ([]result.Summary, error) {
	reader, err := s.opener.OpenResults(ctx, s.engine.CachedDB(job.Name))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", job.Name, err)
	}
	defer reader.Close()

	summaries, err := method.Summarize(ctx, job, reader)
	if err != nil {
		return nil, err
	}
	for i := range summaries {
		summaries[i].ConfigHash = job.Hash
		if s.archive != nil {
			if err := s.archive.Save(ctx, &summaries[i]); err != nil {
				return nil, fmt.Errorf("archiving %s: %w", job.Name, err)
			}
		}
	}
	return summaries, nil
}

// Analyze runs every method in turn and collects all summaries
func (s *AnalysisService) Analyze(ctx context.Context, m *model.Model, methods []Method, report ports.ReportSink) ([]result.Summary, error) {
	var all []result.Summary
	var errs []error
	for _, method := range methods {
		summaries, err := s.RunMethod(ctx, m, method, report)
		all = append(all, summaries...)
		if err != nil {
			s.logger.Error("%s: %v", method.Name(), err)
			errs = append(errs, err)
		}
	}
	return all, errors.Join(errs...)
}
