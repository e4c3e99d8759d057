package app

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"thetaauto/domain/core"
	"thetaauto/domain/model"
)

// Plan is a declarative analysis: model adjustments applied in a fixed
// order followed by the statistical methods to run
type Plan struct {
	Signal       []string        `yaml:"signal"`
	Restrict     []string        `yaml:"restrict"`
	Rebin        map[string]int  `yaml:"rebin"`
	Scale        []ScaleStep     `yaml:"scale"`
	FillZeroBins float64         `yaml:"fill_zero_bins"`
	Lognormal    []LognormalStep `yaml:"lognormal"`
	Priors       []PriorStep     `yaml:"priors"`
	Methods      []string        `yaml:"methods"`
}

// ScaleStep multiplies the matching predictions by Factor
type ScaleStep struct {
	Factor     float64 `yaml:"factor"`
	Process    string  `yaml:"process"`
	Observable string  `yaml:"observable"`
}

// LognormalStep adds a rate uncertainty with relative impacts Minus and Plus
type LognormalStep struct {
	Name       string  `yaml:"name"`
	Minus      float64 `yaml:"minus"`
	Plus       float64 `yaml:"plus"`
	Process    string  `yaml:"process"`
	Observable string  `yaml:"observable"`
}

// PriorStep declares or replaces the prior of a parameter. Width .inf is an
// unconstrained parameter, width 0 a fixed one.
type PriorStep struct {
	Name          string    `yaml:"name"`
	Kind          string    `yaml:"kind"`
	Mean          float64   `yaml:"mean"`
	MeanParameter string    `yaml:"mean_parameter"`
	Width         float64   `yaml:"width"`
	Range         []float64 `yaml:"range"`
}

// ParsePlan decodes a YAML plan; unknown fields are rejected
func ParsePlan(data []byte) (*Plan, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var p Plan
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("parsing plan: %w", err)
	}
	for _, name := range p.Methods {
		if _, err := NewMethod(name, nil); err != nil {
			return nil, err
		}
	}
	return &p, nil
}

// LoadPlan reads a YAML plan file
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParsePlan(data)
}

func defaultPattern(p string) string {
	if p == "" {
		return "*"
	}
	return p
}

// ExecutePlan applies the model steps of p to m in the order restrict,
// rebin, scale, fill_zero_bins, signal, lognormal, priors
func ExecutePlan(m *model.Model, p *Plan) error {
	if len(p.Restrict) > 0 {
		if err := m.RestrictToObservables(p.Restrict); err != nil {
			return fmt.Errorf("restrict: %w", err)
		}
	}

	obs := make([]string, 0, len(p.Rebin))
	for o := range p.Rebin {
		obs = append(obs, o)
	}
	sort.Strings(obs)
	for _, o := range obs {
		if err := m.Rebin(o, p.Rebin[o]); err != nil {
			return fmt.Errorf("rebin %s: %w", o, err)
		}
	}

	for _, s := range p.Scale {
		if err := m.ScalePredictions(s.Factor, defaultPattern(s.Process), defaultPattern(s.Observable)); err != nil {
			return fmt.Errorf("scale: %w", err)
		}
	}

	if p.FillZeroBins > 0 {
		m.FillZeroBins(p.FillZeroBins)
	}

	if len(p.Signal) > 0 {
		if err := m.SetSignalProcesses(p.Signal); err != nil {
			return fmt.Errorf("signal: %w", err)
		}
	}

	for _, l := range p.Lognormal {
		if err := m.AddAsymmetricLognormalUncertainty(l.Name, l.Minus, l.Plus, defaultPattern(l.Process), defaultPattern(l.Observable)); err != nil {
			return fmt.Errorf("lognormal %s: %w", l.Name, err)
		}
	}

	for _, pr := range p.Priors {
		if err := applyPrior(m.Distribution, pr); err != nil {
			return fmt.Errorf("prior %s: %w", pr.Name, err)
		}
	}
	return nil
}

func applyPrior(d *model.Distribution, pr PriorStep) error {
	kind := model.PriorGauss
	switch pr.Kind {
	case "", "gauss":
	case "gamma":
		kind = model.PriorGamma
	default:
		return core.NewUnknownKindError("prior", pr.Kind)
	}

	rng := model.Unbounded
	switch len(pr.Range) {
	case 0:
	case 2:
		rng = [2]float64{pr.Range[0], pr.Range[1]}
	default:
		return core.NewInvalidDistributionError(pr.Name, "range needs two values")
	}

	mean := model.MeanValue(pr.Mean)
	if pr.MeanParameter != "" {
		mean = model.MeanParameter(pr.MeanParameter)
	}
	if math.IsNaN(pr.Width) {
		return core.NewInvalidDistributionError(pr.Name, "width is NaN")
	}
	return d.SetDistribution(pr.Name, kind, mean, pr.Width, rng)
}

// NewMethods resolves the method names of p
func (p *Plan) NewMethods(pluginFiles []string) ([]Method, error) {
	methods := make([]Method, 0, len(p.Methods))
	for _, name := range p.Methods {
		m, err := NewMethod(name, pluginFiles)
		if err != nil {
			return nil, err
		}
		methods = append(methods, m)
	}
	return methods, nil
}
