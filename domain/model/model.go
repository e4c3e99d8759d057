// Package model holds the statistical model of a template analysis: per
// (observable, process) predictions built from morphed templates and rate
// coefficients, the nuisance-parameter priors and the data histograms.
//
// Mutations are permissive about parameters without a prior; the
// consistency of the parameter set is checked when the model is serialized.
package model

import (
	"fmt"
	"math"
	"path"
	"sort"

	"thetaauto/domain/core"
	"thetaauto/domain/histogram"
	"thetaauto/domain/setting"
)

// BetaSignal is the signal-strength parameter multiplying every selected signal process
const BetaSignal = "beta_signal"

// Prediction is the content of one (observable, process) slot
type Prediction struct {
	Histogram   *HistogramFunction
	Coefficient *CoefficientFunction
}

func (p *Prediction) clone() *Prediction {
	return &Prediction{Histogram: p.Histogram.Clone(), Coefficient: p.Coefficient.Clone()}
}

// CfgOptions tunes the model setting
type CfgOptions struct {
	// UseLLVM selects the compiled model implementation of the engine
	UseLLVM bool
}

// Model is the root aggregate. It is not safe for concurrent mutation.
type Model struct {
	observables     map[string]histogram.Binning
	processes       map[string]bool
	signalProcesses map[string]bool
	predictions     map[string]map[string]*Prediction
	data            map[string]histogram.Histogram
	additionalNLL   NLLTerm

	// Distribution holds the priors of all nuisance parameters except beta_signal
	Distribution *Distribution
	// BBUncertainties enables the bin-by-bin treatment of nominal uncertainties
	BBUncertainties bool
}

// New returns an empty model
func New() *Model {
	return &Model{
		observables:     make(map[string]histogram.Binning),
		processes:       make(map[string]bool),
		signalProcesses: make(map[string]bool),
		predictions:     make(map[string]map[string]*Prediction),
		data:            make(map[string]histogram.Histogram),
		Distribution:    NewDistribution(),
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func match(pattern, name string) (bool, error) {
	ok, err := path.Match(pattern, name)
	if err != nil {
		return false, fmt.Errorf("%w: pattern '%s': %v", core.ErrInvalidValue, pattern, err)
	}
	return ok, nil
}

// Observables returns the observable names, sorted
func (m *Model) Observables() []string { return sortedKeys(m.observables) }

// Binning returns the binning of obs
func (m *Model) Binning(obs string) (histogram.Binning, bool) {
	b, ok := m.observables[obs]
	return b, ok
}

// AllProcesses returns every process ever registered, sorted
func (m *Model) AllProcesses() []string { return sortedKeys(m.processes) }

// SignalProcesses returns the processes marked as signal, sorted
func (m *Model) SignalProcesses() []string { return sortedKeys(m.signalProcesses) }

// IsSignal reports whether proc is marked as signal
func (m *Model) IsSignal(proc string) bool { return m.signalProcesses[proc] }

// Processes returns the processes with a prediction for obs, sorted
func (m *Model) Processes(obs string) []string { return sortedKeys(m.predictions[obs]) }

// ResetBinning overrides the registered binning of an existing observable
func (m *Model) ResetBinning(obs string, b histogram.Binning) error {
	if _, ok := m.observables[obs]; !ok {
		return core.NewNoMatchError("observable", obs)
	}
	m.observables[obs] = b
	return nil
}

func (m *Model) ensureObservable(obs string, b histogram.Binning) {
	if _, ok := m.observables[obs]; !ok {
		m.observables[obs] = b
		m.predictions[obs] = make(map[string]*Prediction)
	}
}

// SetDataHistogram registers the data of obs. The first histogram of an
// observable establishes its binning unless resetBinning forces a new one.
func (m *Model) SetDataHistogram(obs string, h histogram.Histogram, resetBinning bool) error {
	b := h.Binning()
	if existing, ok := m.observables[obs]; ok && !resetBinning && existing != b {
		return core.NewBinningError(fmt.Sprintf("data histogram of '%s' has %s, expected %s", obs, b, existing))
	}
	m.ensureObservable(obs, b)
	m.observables[obs] = b
	m.data[obs] = h.Copy()
	return nil
}

// DataHistogram returns a copy of the data of obs
func (m *Model) DataHistogram(obs string) (histogram.Histogram, bool) {
	h, ok := m.data[obs]
	if !ok {
		return histogram.Histogram{}, false
	}
	return h.Copy(), true
}

// HasData reports whether every observable has a data histogram
func (m *Model) HasData() bool {
	for obs := range m.observables {
		if _, ok := m.data[obs]; !ok {
			return false
		}
	}
	return true
}

// SetHistogramFunction stores hf for (obs, proc) together with a fresh
// coefficient function. The model takes ownership of hf.
func (m *Model) SetHistogramFunction(obs, proc string, hf *HistogramFunction) error {
	b, ok := hf.Binning()
	if !ok || hf.nominal == nil {
		return fmt.Errorf("%w: histogram function for (%s, %s) has no nominal template", core.ErrInvalidHistogram, obs, proc)
	}
	if existing, ok := m.observables[obs]; ok && existing != b {
		return core.NewBinningError(fmt.Sprintf("histogram function for (%s, %s) has %s, expected %s", obs, proc, b, existing))
	}
	m.ensureObservable(obs, b)
	m.processes[proc] = true
	m.predictions[obs][proc] = &Prediction{Histogram: hf, Coefficient: NewCoefficientFunction()}
	return nil
}

// Prediction returns the slot of (obs, proc)
func (m *Model) Prediction(obs, proc string) (*Prediction, bool) {
	p, ok := m.predictions[obs][proc]
	return p, ok
}

// HistogramFunction returns the histogram function of (obs, proc)
func (m *Model) HistogramFunction(obs, proc string) (*HistogramFunction, bool) {
	p, ok := m.predictions[obs][proc]
	if !ok {
		return nil, false
	}
	return p.Histogram, true
}

// Coefficient returns the coefficient function of (obs, proc)
func (m *Model) Coefficient(obs, proc string) (*CoefficientFunction, bool) {
	p, ok := m.predictions[obs][proc]
	if !ok {
		return nil, false
	}
	return p.Coefficient, true
}

// AdditionalNLL returns the extra likelihood term, or nil
func (m *Model) AdditionalNLL() NLLTerm { return m.additionalNLL }

// SetAdditionalNLL replaces the extra likelihood term
func (m *Model) SetAdditionalNLL(term NLLTerm) { m.additionalNLL = term }

// Clone returns an independent deep copy
func (m *Model) Clone() *Model {
	result := New()
	for obs, b := range m.observables {
		result.observables[obs] = b
		result.predictions[obs] = make(map[string]*Prediction, len(m.predictions[obs]))
		for proc, p := range m.predictions[obs] {
			result.predictions[obs][proc] = p.clone()
		}
	}
	for proc := range m.processes {
		result.processes[proc] = true
	}
	for proc := range m.signalProcesses {
		result.signalProcesses[proc] = true
	}
	for obs, h := range m.data {
		result.data[obs] = h.Copy()
	}
	result.Distribution = m.Distribution.Clone()
	result.additionalNLL = m.additionalNLL
	result.BBUncertainties = m.BBUncertainties
	return result
}

func sameSet(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

// Combine adds the observables of other, which must not overlap with the
// receiver's. With strict, both models must share the signal processes;
// otherwise the receiver keeps its own signal set.
// Shared nuisance parameters must have identical priors. The receiver is
// only modified on success; other is copied, not shared.
func (m *Model) Combine(other *Model, strict bool) error {
	var shared []string
	for _, obs := range other.Observables() {
		if _, ok := m.observables[obs]; ok {
			shared = append(shared, obs)
		}
	}
	if len(shared) > 0 {
		return fmt.Errorf("%w: %v", core.ErrObservableOverlap, shared)
	}
	if strict && !sameSet(m.signalProcesses, other.signalProcesses) {
		return fmt.Errorf("%w: %v vs %v", core.ErrSignalMismatch, m.SignalProcesses(), other.SignalProcesses())
	}
	merged, err := Merge(m.Distribution, other.Distribution, false)
	if err != nil {
		return err
	}
	o := other.Clone()
	m.Distribution = merged
	for obs, b := range o.observables {
		m.observables[obs] = b
		m.predictions[obs] = o.predictions[obs]
	}
	for obs, h := range o.data {
		m.data[obs] = h
	}
	for proc := range o.processes {
		m.processes[proc] = true
	}
	m.additionalNLL = AddNLL(m.additionalNLL, o.additionalNLL)
	return nil
}

// RestrictToObservables drops every observable not in subset together with
// its predictions and data. Processes and priors are kept.
func (m *Model) RestrictToObservables(subset []string) error {
	keep := make(map[string]bool, len(subset))
	var unknown []string
	for _, obs := range subset {
		if _, ok := m.observables[obs]; !ok {
			unknown = append(unknown, obs)
		}
		keep[obs] = true
	}
	if len(unknown) > 0 {
		return fmt.Errorf("%w: unknown observables %v", core.ErrNotSubset, unknown)
	}
	for obs := range m.observables {
		if keep[obs] {
			continue
		}
		delete(m.observables, obs)
		delete(m.predictions, obs)
		delete(m.data, obs)
	}
	return nil
}

// Rebin merges factor adjacent bins of every template and the data of obs
func (m *Model) Rebin(obs string, factor int) error {
	b, ok := m.observables[obs]
	if !ok {
		return core.NewNoMatchError("observable", obs)
	}
	if factor < 1 || b.NBins%factor != 0 {
		return fmt.Errorf("%w: observable '%s' has %d bins, factor %d", core.ErrNotDivisible, obs, b.NBins, factor)
	}
	for _, proc := range m.Processes(obs) {
		if err := m.predictions[obs][proc].Histogram.Rebin(factor); err != nil {
			return err
		}
	}
	if h, ok := m.data[obs]; ok {
		if err := h.Rebin(factor); err != nil {
			return err
		}
		m.data[obs] = h
	}
	b.NBins /= factor
	m.observables[obs] = b
	return nil
}

// FillZeroBins raises every template bin to at least epsilon times the
// average bin content of its template
func (m *Model) FillZeroBins(epsilon float64) {
	for _, preds := range m.predictions {
		for _, p := range preds {
			p.Histogram.FillZeroBins(epsilon)
		}
	}
}

type slot struct{ obs, proc string }

func (m *Model) matchSlots(procPattern, obsPattern string) ([]slot, error) {
	var slots []slot
	for _, obs := range m.Observables() {
		ok, err := match(obsPattern, obs)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		for _, proc := range m.Processes(obs) {
			ok, err := match(procPattern, proc)
			if err != nil {
				return nil, err
			}
			if ok {
				slots = append(slots, slot{obs, proc})
			}
		}
	}
	if len(slots) == 0 {
		return nil, core.NewNoMatchError("(observable, process)", fmt.Sprintf("(%s, %s)", obsPattern, procPattern))
	}
	return slots, nil
}

// ScalePredictions multiplies the templates of every matching slot by factor
func (m *Model) ScalePredictions(factor float64, procPattern, obsPattern string) error {
	slots, err := m.matchSlots(procPattern, obsPattern)
	if err != nil {
		return err
	}
	for _, s := range slots {
		m.predictions[s.obs][s.proc].Histogram.Scale(factor)
	}
	return nil
}

// SetSignalProcesses replaces the signal set by every process matching one
// of patterns. Each pattern must match at least one process.
func (m *Model) SetSignalProcesses(patterns []string) error {
	signal := make(map[string]bool)
	for _, pattern := range patterns {
		found := false
		for proc := range m.processes {
			ok, err := match(pattern, proc)
			if err != nil {
				return err
			}
			if ok {
				signal[proc] = true
				found = true
			}
		}
		if !found {
			return core.NewNoMatchError("process", pattern)
		}
	}
	m.signalProcesses = signal
	return nil
}

// AddAsymmetricLognormalUncertainty attaches exp factors of parameter name to
// every matching slot, declaring a unit gauss prior for name if it has none.
// minus and plus are the relative rate changes at -1 and +1; they usually,
// but not necessarily, share the same sign.
func (m *Model) AddAsymmetricLognormalUncertainty(name string, minus, plus float64, procPattern, obsPattern string) error {
	slots, err := m.matchSlots(procPattern, obsPattern)
	if err != nil {
		return err
	}
	if !m.Distribution.Has(name) {
		if err := m.Distribution.SetDistribution(name, PriorGauss, MeanValue(0), 1, Unbounded); err != nil {
			return err
		}
	}
	for _, s := range slots {
		m.predictions[s.obs][s.proc].Coefficient.AddExp(name, minus, plus)
	}
	return nil
}

// AddLognormalUncertainty is the symmetric AddAsymmetricLognormalUncertainty
func (m *Model) AddLognormalUncertainty(name string, rel float64, procPattern, obsPattern string) error {
	return m.AddAsymmetricLognormalUncertainty(name, rel, rel, procPattern, obsPattern)
}

func (m *Model) checkSignal(signal []string) (map[string]bool, error) {
	selected := make(map[string]bool, len(signal))
	for _, sp := range signal {
		if !m.signalProcesses[sp] {
			return nil, fmt.Errorf("%w: '%s'", core.ErrUnknownSignal, sp)
		}
		selected[sp] = true
	}
	return selected, nil
}

// included reports whether proc contributes when the given signal processes are selected
func (m *Model) included(proc string, selected map[string]bool) bool {
	return !m.signalProcesses[proc] || selected[proc]
}

// Parameters returns the parameters the prediction depends on when the given
// signal processes are selected: those of all background slots and selected
// signal slots, plus beta_signal if any signal is selected.
func (m *Model) Parameters(signal []string, includeAdditionalNLL bool) ([]string, error) {
	selected, err := m.checkSignal(signal)
	if err != nil {
		return nil, err
	}
	result := make(map[string]bool)
	for _, preds := range m.predictions {
		for proc, p := range preds {
			if !m.included(proc, selected) {
				continue
			}
			for _, name := range p.Histogram.Parameters() {
				result[name] = true
			}
			for _, name := range p.Coefficient.Parameters() {
				result[name] = true
			}
		}
	}
	if len(signal) > 0 {
		result[BetaSignal] = true
	}
	if includeAdditionalNLL && m.additionalNLL != nil {
		for _, name := range m.additionalNLL.Parameters() {
			result[name] = true
		}
	}
	return sortedKeys(result), nil
}

// RateShapeParameters returns the parameters of all coefficient functions
// and of all histogram functions. The sets may overlap; beta_signal is not included.
func (m *Model) RateShapeParameters() (rate, shape []string) {
	rc, sc := make(map[string]bool), make(map[string]bool)
	for _, preds := range m.predictions {
		for _, p := range preds {
			for _, name := range p.Coefficient.Parameters() {
				rc[name] = true
			}
			for _, name := range p.Histogram.Parameters() {
				sc[name] = true
			}
		}
	}
	return sortedKeys(rc), sortedKeys(sc)
}

// Cfg serializes the predictions of all background processes and the given
// signal processes. Selected signal coefficients get a beta_signal factor.
func (m *Model) Cfg(signal []string, opts CfgOptions) (setting.Map, error) {
	selected, err := m.checkSignal(signal)
	if err != nil {
		return nil, err
	}
	result := setting.Map{}
	if opts.UseLLVM {
		result["type"] = setting.S("llvm_model")
	}
	for _, obs := range m.Observables() {
		obsCfg := setting.Map{}
		for _, proc := range m.Processes(obs) {
			if !m.included(proc, selected) {
				continue
			}
			p := m.predictions[obs][proc]
			hcfg, err := p.Histogram.Cfg()
			if err != nil {
				return nil, fmt.Errorf("(%s, %s): %w", obs, proc, err)
			}
			ccfg := p.Coefficient.Cfg(true)
			if selected[proc] {
				cm, _ := ccfg.Map()
				factors, _ := cm.Get("factors")
				cm["factors"] = factors.Append(setting.S(BetaSignal))
			}
			obsCfg[proc] = setting.M(setting.Map{
				"histogram":            hcfg,
				"coefficient-function": ccfg,
			})
		}
		result[obs] = setting.M(obsCfg)
	}
	return result, nil
}

// ModelCfg returns the complete "model" setting: Cfg plus the parameter
// distribution and, if set, the additional likelihood term. The prior of
// beta_signal is taken from the top-level setting model-distribution-signal.
func (m *Model) ModelCfg(signal []string, opts CfgOptions) (setting.Value, error) {
	result, err := m.Cfg(signal, opts)
	if err != nil {
		return setting.Value{}, err
	}
	parameters, err := m.Parameters(signal, true)
	if err != nil {
		return setting.Value{}, err
	}
	dist, err := m.Distribution.Cfg(parameters)
	if err != nil {
		return setting.Value{}, err
	}
	distributions := []setting.Value{dist}
	if len(signal) > 0 {
		distributions = append([]setting.Value{setting.S("@model-distribution-signal")}, distributions...)
	}
	result["parameter-distribution"] = setting.M(setting.Map{
		"type":          setting.S("product_distribution"),
		"distributions": setting.L(distributions...),
	})
	if m.additionalNLL != nil {
		result["additional-nll-term"] = m.additionalNLL.Cfg()
	}
	return setting.M(result), nil
}

// ObservablesCfg returns the "observables" setting
func (m *Model) ObservablesCfg() setting.Value {
	result := setting.Map{}
	for obs, b := range m.observables {
		result[obs] = setting.M(setting.Map{
			"range": setting.Floats([]float64{b.XMin, b.XMax}),
			"nbins": setting.I(b.NBins),
		})
	}
	return setting.M(result)
}

// ShiftedTemplates evaluates every included slot at values: the morphed
// template times its coefficient, and times beta_signal for selected signal
// processes. Signal processes not in signal are left out.
func (m *Model) ShiftedTemplates(values map[string]float64, signal []string) (map[string]map[string]histogram.Histogram, error) {
	selected, err := m.checkSignal(signal)
	if err != nil {
		return nil, err
	}
	result := make(map[string]map[string]histogram.Histogram, len(m.predictions))
	for _, obs := range m.Observables() {
		result[obs] = make(map[string]histogram.Histogram)
		for _, proc := range m.Processes(obs) {
			if !m.included(proc, selected) {
				continue
			}
			p := m.predictions[obs][proc]
			factor, err := p.Coefficient.Value(values)
			if err != nil {
				return nil, err
			}
			if selected[proc] {
				beta, ok := values[BetaSignal]
				if !ok {
					return nil, core.NewUndeclaredParameterError([]string{BetaSignal})
				}
				factor *= beta
			}
			h, err := p.Histogram.Evaluate(values)
			if err != nil {
				return nil, fmt.Errorf("(%s, %s): %w", obs, proc, err)
			}
			h.Scale(factor)
			result[obs][proc] = h
		}
	}
	return result, nil
}

// PredictedYields sums the shifted templates per observable
func (m *Model) PredictedYields(values map[string]float64, signal []string) (map[string]histogram.Histogram, error) {
	templates, err := m.ShiftedTemplates(values, signal)
	if err != nil {
		return nil, err
	}
	result := make(map[string]histogram.Histogram, len(templates))
	for _, obs := range m.Observables() {
		b := m.observables[obs]
		total := histogram.MustNew(b.XMin, b.XMax, make([]float64, b.NBins))
		for _, proc := range sortedKeys(templates[obs]) {
			if err := total.AddInPlace(templates[obs][proc], 1); err != nil {
				return nil, err
			}
		}
		result[obs] = total
	}
	return result, nil
}

// NLL returns the negative log Poisson likelihood of the data given the
// prediction at values, plus the additional likelihood term. Priors are not included.
func (m *Model) NLL(values map[string]float64, signal []string) (float64, error) {
	if !m.HasData() {
		return 0, fmt.Errorf("%w: model has no data for all observables", core.ErrInvalidHistogram)
	}
	predicted, err := m.PredictedYields(values, signal)
	if err != nil {
		return 0, err
	}
	total := 0.0
	for obs, pred := range predicted {
		data := m.data[obs]
		for i, mu := range pred.Bins {
			n := data.Bins[i]
			if mu <= 0 {
				if n > 0 {
					return math.Inf(1), nil
				}
				continue
			}
			// data may be non-integer (asimov); the log(n!) term uses lgamma
			lg, _ := math.Lgamma(n + 1)
			total += mu - n*math.Log(mu) + lg
		}
	}
	if m.additionalNLL != nil {
		v, err := m.additionalNLL.Value(values)
		if err != nil {
			return 0, err
		}
		total += v
	}
	return total, nil
}
