package app

import (
	"context"
	"fmt"
	"math"
	"sort"

	"thetaauto/domain/core"
	"thetaauto/domain/model"
	"thetaauto/domain/result"
	"thetaauto/domain/setting"
	"thetaauto/ports"
)

// Job is one engine configuration produced by a method. Names follow
// <method>-<signal>-<input>[-<seed>].
type Job struct {
	Name     string
	Signal   string
	Input    result.Input
	Document setting.Document
	Hash     core.ConfigHash
}

// Method generates engine configurations for a statistical method and
// summarizes their result databases
type Method interface {
	Name() string
	Jobs(m *model.Model, w *ConfigWriter) ([]Job, error)
	Summarize(ctx context.Context, job Job, r ports.ResultReader) ([]result.Summary, error)
	Report(sink ports.ReportSink, summaries []result.Summary)
}

const (
	MethodBayesianLimit     = "bayesian_limit"
	MethodMaximumLikelihood = "mle"
	MethodPosteriors        = "posteriors"
	MethodModelSummary      = "model_summary"
)

// NewMethod looks a method up by its plan name
func NewMethod(name string, pluginFiles []string) (Method, error) {
	switch name {
	case MethodBayesianLimit:
		return NewBayesianLimit(pluginFiles), nil
	case MethodMaximumLikelihood:
		return NewMaximumLikelihood(pluginFiles), nil
	case MethodPosteriors:
		return NewPosteriors(pluginFiles), nil
	case MethodModelSummary:
		return ModelSummary{}, nil
	}
	return nil, core.NewUnknownKindError("method", name)
}

// nllDistribution is the prior of all declared nuisance parameters
func nllDistribution(m *model.Model) (setting.Value, error) {
	return m.Distribution.Cfg(m.Distribution.Parameters())
}

func jobName(method, signal string, input result.Input, seed int) string {
	if input == result.InputData {
		return fmt.Sprintf("%s-%s-%s", method, signal, input)
	}
	return fmt.Sprintf("%s-%s-%s-%d", method, signal, input, seed)
}

// cloneMap copies the top level of m so a job can change its entries
func cloneMap(m setting.Map) setting.Map {
	out := make(setting.Map, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// BayesianLimit computes 95% C.L. upper limits on beta_signal by Markov
// chain integration of the posterior, observed on data and expected on toys
// without signal
type BayesianLimit struct {
	PluginFiles     []string
	SignalPrior     setting.Value
	Quantile        float64
	Iterations      int
	NEventsData     int
	NEventsExpected int
	Seed            int
	Expected        bool
}

// NewBayesianLimit returns the method with the usual defaults
func NewBayesianLimit(pluginFiles []string) *BayesianLimit {
	return &BayesianLimit{
		PluginFiles: pluginFiles,
		SignalPrior: setting.M(setting.Map{
			"type": setting.S("flat_distribution"),
			model.BetaSignal: setting.M(setting.Map{
				"range":            setting.Floats([]float64{1e-12, math.Inf(1)}),
				"fix-sample-value": setting.F(1.0),
			}),
		}),
		Quantile:        0.95,
		Iterations:      20000,
		NEventsData:     10,
		NEventsExpected: 1000,
		Seed:            1,
		Expected:        true,
	}
}

func (b *BayesianLimit) Name() string { return MethodBayesianLimit }

// Column is the result column holding the limit
func (b *BayesianLimit) Column() string {
	return fmt.Sprintf("bayes__quant%05d", int(math.Round(b.Quantile*10000)))
}

func (b *BayesianLimit) Jobs(m *model.Model, w *ConfigWriter) ([]Job, error) {
	nll, err := nllDistribution(m)
	if err != nil {
		return nil, err
	}
	toplevel := setting.Map{
		"nll_distribution": nll,
		"signal_prior":     b.SignalPrior,
		"bayes_ul": setting.M(setting.Map{
			"type":                            setting.S("mcmc_quantiles"),
			"name":                            setting.S("bayes"),
			"parameter":                       setting.S(model.BetaSignal),
			"override-parameter-distribution": ProductDistribution(setting.S("@signal_prior"), setting.S("@nll_distribution")),
			"quantiles":                       setting.Floats([]float64{b.Quantile}),
			"iterations":                      setting.I(b.Iterations),
		}),
		"options": PluginOptions(b.PluginFiles),
	}
	toplevel[ModelDistributionSignal] = DeltaDistribution(map[string]float64{model.BetaSignal: 0.0})

	var inputs []result.Input
	if m.HasData() {
		inputs = append(inputs, result.InputData)
	}
	if b.Expected {
		inputs = append(inputs, result.InputZero)
	}

	var jobs []Job
	for _, input := range inputs {
		for _, sp := range m.SignalProcesses() {
			name := jobName(b.Name(), sp, input, b.Seed)
			main := setting.Map{
				"model":           setting.S("@model"),
				"producers":       setting.L(setting.S("@bayes_ul")),
				"output_database": SQLiteDatabase(name + ".db"),
				"log-report":      setting.B(false),
			}
			if input == result.InputData {
				main["n-events"] = setting.I(b.NEventsData)
				main["data_source"] = DataSource(m)
			} else {
				main["n-events"] = setting.I(b.NEventsExpected)
				main["data_source"] = ModelSource(b.Seed)
			}
			extra := cloneMap(toplevel)
			extra["main"] = setting.M(main)

			doc, err := w.Document(m, []string{sp}, extra)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			jobs = append(jobs, Job{Name: name, Signal: sp, Input: input, Document: doc})
		}
	}
	return jobs, nil
}

func (b *BayesianLimit) Summarize(ctx context.Context, job Job, r ports.ResultReader) ([]result.Summary, error) {
	data, err := r.Column(ctx, "products", b.Column())
	if err != nil {
		return nil, err
	}
	s, err := result.Summarize(b.Name(), job.Signal, job.Input, b.Column(), data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", job.Name, err)
	}
	return []result.Summary{s}, nil
}

func (b *BayesianLimit) Report(sink ports.ReportSink, summaries []result.Summary) {
	rows := make(map[string]map[string]string)
	var order []string
	hasData, hasExpected := false, false
	for _, s := range summaries {
		row, ok := rows[s.Signal]
		if !ok {
			row = map[string]string{"process": s.Signal}
			rows[s.Signal] = row
			order = append(order, s.Signal)
		}
		switch s.Input {
		case result.InputData:
			row["observed"] = s.Observed()
			hasData = true
		case result.InputZero:
			row["expected"] = s.Expected()
			hasExpected = true
		}
	}

	var table ports.Table
	table.AddColumn("process", "")
	if hasExpected {
		table.AddColumn("expected", "expected (median / central 68%)")
	}
	if hasData {
		table.AddColumn("observed", "")
	}
	sort.Strings(order)
	for _, sp := range order {
		table.AddRow(rows[sp])
	}

	sink.NewSection("Bayesian Limits", "")
	if hasExpected {
		sink.AddParagraph("The expected result is the median and central 68% of toy outcomes.")
	}
	if hasData {
		sink.AddParagraph(`The uncertainty quoted for the "observed" result is due to limited chain length in MCMC integration only.`)
	}
	sink.AddTable(table)
}
