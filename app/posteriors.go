package app

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/floats"

	"thetaauto/domain/histogram"
	"thetaauto/domain/model"
	"thetaauto/domain/result"
	"thetaauto/domain/setting"
	"thetaauto/ports"
)

const posteriorPrefix = "p__posterior_"

// Posteriors histograms the marginal posterior of every nuisance parameter
// on data, with beta_signal fixed to zero
type Posteriors struct {
	PluginFiles []string
	Iterations  int
	NEventsData int
	NBins       int
	// Ranges overrides the histogram range per parameter
	Ranges      map[string][2]float64
	// Store, if set, receives the posterior of the first data chain
	Store       ports.HistogramSink
	// StoreName is mentioned in the report when Store is set
	StoreName   string
}

// NewPosteriors returns the method with the usual defaults
func NewPosteriors(pluginFiles []string) *Posteriors {
	return &Posteriors{
		PluginFiles: pluginFiles,
		Iterations:  20000,
		NEventsData: 3,
		NBins:       100,
	}
}

func (p *Posteriors) Name() string { return MethodPosteriors }

// histoRange is the posterior histogram range of param: the override if
// any, else three prior widths around a literal mean clipped to the prior
// range, else [-3, 3] for delta* and [0, 3] for everything else
func (p *Posteriors) histoRange(m *model.Model, param string) [2]float64 {
	if r, ok := p.Ranges[param]; ok {
		return r
	}
	if prior, ok := m.Distribution.Get(param); ok && !prior.Mean.IsReference() && !prior.IsFixed() && !prior.IsFlat() {
		low := math.Max(prior.Range[0], prior.Mean.Value-3*prior.Width)
		high := math.Min(prior.Range[1], prior.Mean.Value+3*prior.Width)
		if low < high {
			return [2]float64{low, high}
		}
	}
	if strings.HasPrefix(param, "delta") {
		return [2]float64{-3, 3}
	}
	return [2]float64{0, 3}
}

// Jobs returns a single data job, or none for a model without data
func (p *Posteriors) Jobs(m *model.Model, w *ConfigWriter) ([]Job, error) {
	if !m.HasData() {
		return nil, nil
	}
	params := m.Distribution.Parameters()
	if len(params) == 0 {
		return nil, nil
	}
	nll, err := nllDistribution(m)
	if err != nil {
		return nil, err
	}

	name := p.Name() + "-" + string(result.InputData)
	producer := setting.Map{
		"type":                            setting.S("mcmc_posterior_histo"),
		"name":                            setting.S("p"),
		"parameters":                      setting.Strings(params),
		"override-parameter-distribution": setting.S("@nll_distribution"),
		"smooth":                          setting.B(true),
		"iterations":                      setting.I(p.Iterations),
	}
	for _, param := range params {
		r := p.histoRange(m, param)
		producer["histo_"+param] = setting.M(setting.Map{
			"range": setting.Floats(r[:]),
			"nbins": setting.I(p.NBins),
		})
	}
	extra := setting.Map{
		"nll_distribution": nll,
		"posteriors":       setting.M(producer),
		"main": setting.M(setting.Map{
			"model":           setting.S("@model"),
			"producers":       setting.L(setting.S("@posteriors")),
			"n-events":        setting.I(p.NEventsData),
			"output_database": SQLiteDatabase(name + ".db"),
			"log-report":      setting.B(false),
			"data_source":     DataSource(m),
		}),
		"options": PluginOptions(p.PluginFiles),
	}
	extra[ModelDistributionSignal] = DeltaDistribution(map[string]float64{})

	doc, err := w.Document(m, nil, extra)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return []Job{{Name: name, Input: result.InputData, Document: doc}}, nil
}

// Summarize reports, per parameter, the spread of the most probable value
// over the data chains and the central 68% and 95% intervals of the first
// chain
func (p *Posteriors) Summarize(ctx context.Context, job Job, r ports.ResultReader) ([]result.Summary, error) {
	producer, ok := job.Document["posteriors"].Map()
	if !ok {
		return nil, fmt.Errorf("%s: no posteriors producer setting", job.Name)
	}
	list, _ := producer["parameters"].List()

	var summaries []result.Summary
	saved := make(map[string]histogram.Histogram)
	for _, item := range list {
		param, _ := item.Str()
		column := posteriorPrefix + param
		histos, err := r.Histograms(ctx, "products", column)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", job.Name, err)
		}
		if len(histos) == 0 {
			continue
		}

		maxima := make([]float64, len(histos))
		for i, h := range histos {
			maxima[i] = mostProbable(h)
		}
		mean, _ := stats.Mean(maxima)
		width := 0.0
		if len(maxima) > 1 {
			width, _ = stats.StandardDeviationSample(maxima)
		}
		summaries = append(summaries, result.Summary{
			Method:   p.Name(),
			Input:    job.Input,
			Quantity: column,
			N:        len(maxima),
			Mean:     mean,
			Width:    width,
			Median:   maxima[0],
			Band68:   centralInterval(histos[0], 0.6827),
			Band95:   centralInterval(histos[0], 0.9545),
		})
		saved[column] = histos[0]
	}

	if p.Store != nil && len(saved) > 0 {
		if err := p.Store.SaveHistograms(ctx, saved); err != nil {
			return nil, fmt.Errorf("%s: saving posteriors: %w", job.Name, err)
		}
	}
	return summaries, nil
}

// mostProbable is the center of the highest bin
func mostProbable(h histogram.Histogram) float64 {
	i := floats.MaxIdx(h.Bins)
	width := (h.XMax - h.XMin) / float64(len(h.Bins))
	return h.XMin + (float64(i)+0.5)*width
}

// centralInterval grows a bin interval from the highest bin, each step
// taking the larger neighbour, until it holds content of the total
func centralInterval(h histogram.Histogram, content float64) result.Band {
	n := len(h.Bins)
	lo := floats.MaxIdx(h.Bins)
	hi := lo
	target := content * floats.Sum(h.Bins)
	sum := h.Bins[lo]
	for sum < target && (lo > 0 || hi < n-1) {
		if lo > 0 && (hi == n-1 || h.Bins[lo-1] > h.Bins[hi+1]) {
			lo--
			sum += h.Bins[lo]
		} else {
			hi++
			sum += h.Bins[hi]
		}
	}
	width := (h.XMax - h.XMin) / float64(n)
	return result.Band{Low: h.XMin + float64(lo)*width, High: h.XMin + float64(hi+1)*width}
}

func (p *Posteriors) Report(sink ports.ReportSink, summaries []result.Summary) {
	sorted := append([]result.Summary(nil), summaries...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Quantity < sorted[j].Quantity })

	var table ports.Table
	table.AddColumn("parameter", "")
	table.AddColumn("value", "most probable value")
	table.AddColumn("interval", "central 1sigma interval")
	for _, s := range sorted {
		table.AddRow(map[string]string{
			"parameter": strings.TrimPrefix(s.Quantity, posteriorPrefix),
			"value":     s.Observed(),
			"interval":  fmt.Sprintf("[%.3g, %.3g]", s.Band68.Low, s.Band68.High),
		})
	}

	sink.NewSection("Posteriors", "")
	sink.AddParagraph("Most probable values / intervals without any signal.")
	if p.Store != nil && p.StoreName != "" {
		sink.AddParagraph(fmt.Sprintf("The posterior histograms of the first chain are written to %s.", p.StoreName))
	}
	sink.AddTable(table)
}
