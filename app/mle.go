package app

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"thetaauto/domain/model"
	"thetaauto/domain/result"
	"thetaauto/domain/setting"
	"thetaauto/ports"
)

// MaximumLikelihood fits all model parameters on data and on toys generated
// with beta_signal = 1
type MaximumLikelihood struct {
	PluginFiles []string
	Minimizer   setting.Value
	NEventsData int
	NEventsToys int
	Seed        int
	Toys        bool
}

// NewMaximumLikelihood returns the method with the usual defaults
func NewMaximumLikelihood(pluginFiles []string) *MaximumLikelihood {
	return &MaximumLikelihood{
		PluginFiles: pluginFiles,
		Minimizer:   setting.M(setting.Map{"type": setting.S("root_minuit")}),
		NEventsData: 1,
		NEventsToys: 100,
		Seed:        1,
		Toys:        true,
	}
}

func (l *MaximumLikelihood) Name() string { return MethodMaximumLikelihood }

func valueColumn(param string) string { return "mle__" + param }

func errorColumn(param string) string { return "mle__" + param + "_error" }

func (l *MaximumLikelihood) Jobs(m *model.Model, w *ConfigWriter) ([]Job, error) {
	nll, err := nllDistribution(m)
	if err != nil {
		return nil, err
	}

	var inputs []result.Input
	if m.HasData() {
		inputs = append(inputs, result.InputData)
	}
	if l.Toys {
		inputs = append(inputs, result.InputOne)
	}

	var jobs []Job
	for _, input := range inputs {
		for _, sp := range m.SignalProcesses() {
			params, err := m.Parameters([]string{sp}, true)
			if err != nil {
				return nil, err
			}
			name := jobName(l.Name(), sp, input, l.Seed)
			main := setting.Map{
				"model":           setting.S("@model"),
				"producers":       setting.L(setting.S("@mle")),
				"output_database": SQLiteDatabase(name + ".db"),
				"log-report":      setting.B(false),
			}
			if input == result.InputData {
				main["n-events"] = setting.I(l.NEventsData)
				main["data_source"] = DataSource(m)
			} else {
				main["n-events"] = setting.I(l.NEventsToys)
				main["data_source"] = ModelSource(l.Seed)
			}
			extra := setting.Map{
				"nll_distribution": nll,
				"signal_prior":     setting.M(setting.Map{"type": setting.S("flat_distribution"), model.BetaSignal: flatRange(0, math.Inf(1), 1)}),
				"mle": setting.M(setting.Map{
					"type":                            setting.S("mle"),
					"name":                            setting.S("mle"),
					"parameters":                      setting.Strings(params),
					"override-parameter-distribution": ProductDistribution(setting.S("@signal_prior"), setting.S("@nll_distribution")),
					"minimizer":                       l.Minimizer,
				}),
				"main":    setting.M(main),
				"options": PluginOptions(l.PluginFiles),
			}
			extra[ModelDistributionSignal] = DeltaDistribution(map[string]float64{model.BetaSignal: 1.0})

			doc, err := w.Document(m, []string{sp}, extra)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			jobs = append(jobs, Job{Name: name, Signal: sp, Input: input, Document: doc})
		}
	}
	return jobs, nil
}

func flatRange(low, high, fix float64) setting.Value {
	return setting.M(setting.Map{
		"range":            setting.Floats([]float64{low, high}),
		"fix-sample-value": setting.F(fix),
	})
}

// Summarize summarizes every fitted parameter and, where present, its error.
// Rows in which the fit failed carry NULL and are skipped by the reader.
func (l *MaximumLikelihood) Summarize(ctx context.Context, job Job, r ports.ResultReader) ([]result.Summary, error) {
	params, ok := job.Document["mle"].Map()
	if !ok {
		return nil, fmt.Errorf("%s: no mle producer setting", job.Name)
	}
	list, _ := params["parameters"].List()

	var summaries []result.Summary
	for _, item := range list {
		param, _ := item.Str()
		for _, column := range []string{valueColumn(param), errorColumn(param)} {
			data, err := r.Column(ctx, "products", column)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", job.Name, err)
			}
			if len(data) == 0 {
				continue
			}
			s, err := summarizeFit(l.Name(), job, column, data)
			if err != nil {
				return nil, err
			}
			summaries = append(summaries, s)
		}
	}
	return summaries, nil
}

// summarizeFit tolerates a single fit on data, which has no spread
func summarizeFit(method string, job Job, column string, data []float64) (result.Summary, error) {
	if len(data) == 1 {
		v := data[0]
		return result.Summary{
			Method: method, Signal: job.Signal, Input: job.Input, Quantity: column,
			N: 1, Mean: v, Median: v,
			Band68: result.Band{Low: v, High: v},
			Band95: result.Band{Low: v, High: v},
		}, nil
	}
	s, err := result.Summarize(method, job.Signal, job.Input, column, data)
	if err != nil {
		return result.Summary{}, fmt.Errorf("%s: %w", job.Name, err)
	}
	return s, nil
}

func (l *MaximumLikelihood) Report(sink ports.ReportSink, summaries []result.Summary) {
	errs := make(map[string]float64)
	for _, s := range summaries {
		if strings.HasSuffix(s.Quantity, "_error") {
			errs[s.Signal+"/"+string(s.Input)+"/"+strings.TrimSuffix(s.Quantity, "_error")] = s.Mean
		}
	}

	var fits []result.Summary
	for _, s := range summaries {
		if !strings.HasSuffix(s.Quantity, "_error") {
			fits = append(fits, s)
		}
	}
	sort.SliceStable(fits, func(i, j int) bool {
		if fits[i].Signal != fits[j].Signal {
			return fits[i].Signal < fits[j].Signal
		}
		if fits[i].Input != fits[j].Input {
			return fits[i].Input < fits[j].Input
		}
		return fits[i].Quantity < fits[j].Quantity
	})

	var table ports.Table
	table.AddColumn("process", "")
	table.AddColumn("input", "")
	table.AddColumn("parameter", "")
	table.AddColumn("value", "fitted value (mean / width)")
	table.AddColumn("error", "mean fit error")
	for _, s := range fits {
		row := map[string]string{
			"process":   s.Signal,
			"input":     string(s.Input),
			"parameter": strings.TrimPrefix(s.Quantity, "mle__"),
			"value":     fmt.Sprintf("%.3g / %.3g", s.Mean, s.Width),
		}
		if e, ok := errs[s.Signal+"/"+string(s.Input)+"/"+s.Quantity]; ok {
			row["error"] = fmt.Sprintf("%.3g", e)
		}
		table.AddRow(row)
	}

	sink.NewSection("Maximum Likelihood Fits", "")
	sink.AddParagraph("Toys are generated with beta_signal = 1; the width is the spread of the fitted values over toys.")
	sink.AddTable(table)
}
