package app

import (
	"context"
	"fmt"
	"html"
	"sort"
	"strings"

	"thetaauto/domain/core"
	"thetaauto/domain/model"
	"thetaauto/domain/result"
	"thetaauto/ports"
)

// ModelReporter is a method that reports on the model itself rather than on
// engine results
type ModelReporter interface {
	ReportModel(sink ports.ReportSink, m *model.Model) error
}

// ModelSummary describes the observables, processes and uncertainties of a
// model and tabulates the rates of its nominal templates. It runs no jobs.
type ModelSummary struct{}

func (ModelSummary) Name() string { return MethodModelSummary }

func (ModelSummary) Jobs(*model.Model, *ConfigWriter) ([]Job, error) { return nil, nil }

func (ModelSummary) Summarize(context.Context, Job, ports.ResultReader) ([]result.Summary, error) {
	return nil, nil
}

func (ModelSummary) Report(ports.ReportSink, []result.Summary) {}

// Uncertainties tags every rate or shape parameter with the way it acts on
// the prediction
func Uncertainties(m *model.Model) []string {
	rate, shape := m.RateShapeParameters()
	isRate, isShape := make(map[string]bool), make(map[string]bool)
	var names []string
	for _, name := range rate {
		isRate[name] = true
		names = append(names, name)
	}
	for _, name := range shape {
		isShape[name] = true
		if !isRate[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	tagged := make([]string, len(names))
	for i, name := range names {
		switch {
		case isRate[name] && isShape[name]:
			tagged[i] = name + " (morph and rate)"
		case isShape[name]:
			tagged[i] = name + " (morph only)"
		default:
			tagged[i] = name + " (rate only)"
		}
	}
	return tagged
}

// nominalValues sets every parameter to its prior mean and beta_signal to 1
func nominalValues(m *model.Model, signal []string) (map[string]float64, error) {
	params, err := m.Parameters(signal, false)
	if err != nil {
		return nil, err
	}
	values := make(map[string]float64, len(params))
	var missing []string
	for _, name := range params {
		if name == model.BetaSignal {
			values[name] = 1
			continue
		}
		prior, ok := m.Distribution.Get(name)
		if !ok {
			missing = append(missing, name)
			continue
		}
		// a mean may refer to another parameter; follow the chain to a literal
		seen := map[string]bool{name: true}
		for prior.Mean.IsReference() && !seen[prior.Mean.Parameter] {
			seen[prior.Mean.Parameter] = true
			next, ok := m.Distribution.Get(prior.Mean.Parameter)
			if !ok {
				break
			}
			prior = next
		}
		values[name] = prior.Mean.Value
	}
	if len(missing) > 0 {
		return nil, core.NewUndeclaredParameterError(missing)
	}
	return values, nil
}

func splitProcesses(m *model.Model) (background, signal []string) {
	for _, proc := range m.AllProcesses() {
		if m.IsSignal(proc) {
			signal = append(signal, proc)
		} else {
			background = append(background, proc)
		}
	}
	return background, signal
}

// RateTable has one row per background process, the background total, one
// row per signal process and a data row, with one column per observable.
// Rates are predicted at the prior means with beta_signal = 1.
func RateTable(m *model.Model) (ports.Table, error) {
	var table ports.Table
	background, signal := splitProcesses(m)
	values, err := nominalValues(m, signal)
	if err != nil {
		return table, err
	}
	templates, err := m.ShiftedTemplates(values, signal)
	if err != nil {
		return table, err
	}
	totals, err := m.PredictedYields(values, nil)
	if err != nil {
		return table, err
	}

	observables := m.Observables()
	table.AddColumn("process", "process / observable")
	for _, obs := range observables {
		table.AddColumn(obs, "")
	}
	rate := func(obs, proc string) string {
		h, ok := templates[obs][proc]
		if !ok {
			return fmt.Sprintf("%.5g", 0.0)
		}
		return fmt.Sprintf("%.5g", h.Sum())
	}

	for _, proc := range background {
		row := map[string]string{"process": proc}
		for _, obs := range observables {
			row[obs] = rate(obs, proc)
		}
		table.AddRow(row)
	}
	row := map[string]string{"process": "total background"}
	for _, obs := range observables {
		row[obs] = fmt.Sprintf("%.5g", totals[obs].Sum())
	}
	table.AddRow(row)

	for _, proc := range signal {
		row := map[string]string{"process": proc}
		for _, obs := range observables {
			row[obs] = rate(obs, proc)
		}
		table.AddRow(row)
	}

	row = map[string]string{"process": "DATA"}
	for _, obs := range observables {
		row[obs] = "---"
		if h, ok := m.DataHistogram(obs); ok {
			row[obs] = fmt.Sprintf("%.5g", h.Sum())
		}
	}
	table.AddRow(row)
	return table, nil
}

func htmlList(items []string) string {
	var b strings.Builder
	b.WriteString("<ul>")
	for _, item := range items {
		b.WriteString("<li>" + html.EscapeString(item) + "</li>")
	}
	b.WriteString("</ul>\n")
	return b.String()
}

func (ModelSummary) ReportModel(sink ports.ReportSink, m *model.Model) error {
	var observables []string
	for _, obs := range m.Observables() {
		b, ok := m.Binning(obs)
		if !ok {
			return fmt.Errorf("observable %s has no binning", obs)
		}
		observables = append(observables, fmt.Sprintf("%s (%.5g, %.5g, %d)", obs, b.XMin, b.XMax, b.NBins))
	}
	table, err := RateTable(m)
	if err != nil {
		return err
	}
	background, signal := splitProcesses(m)

	sink.NewSection("General Model Info", "")
	sink.AddParagraph("Observables (xmin, xmax, nbins):")
	sink.AddHTML(htmlList(observables))
	sink.AddParagraph("Background processes:")
	sink.AddHTML(htmlList(background))
	sink.AddParagraph("Signal processes:")
	sink.AddHTML(htmlList(signal))
	sink.AddParagraph("Uncertainties:")
	sink.AddHTML(htmlList(Uncertainties(m)))

	sink.NewSection("Rate Summary", "")
	sink.AddParagraph("Rates for all observables and processes as given by the 'nominal' templates:")
	sink.AddTable(table)
	return nil
}
