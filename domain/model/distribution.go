package model

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"

	"thetaauto/domain/core"
	"thetaauto/domain/setting"
)

// PriorKind selects the shape of a bounded prior
type PriorKind string

const (
	PriorGauss PriorKind = "gauss"
	PriorGamma PriorKind = "gamma"
)

// Mean is either a literal value or a reference to another parameter
type Mean struct {
	Value     float64
	Parameter string
}

// MeanValue returns a literal mean
func MeanValue(v float64) Mean { return Mean{Value: v} }

// MeanParameter returns a mean taken from the value of another parameter
func MeanParameter(name string) Mean { return Mean{Parameter: name} }

// IsReference reports whether the mean refers to a parameter
func (m Mean) IsReference() bool { return m.Parameter != "" }

func (m Mean) cfg() setting.Value {
	if m.IsReference() {
		return setting.S(m.Parameter)
	}
	return setting.F(m.Value)
}

func (m Mean) resolve(values map[string]float64) (float64, error) {
	if !m.IsReference() {
		return m.Value, nil
	}
	v, ok := values[m.Parameter]
	if !ok {
		return 0, core.NewUndeclaredParameterError([]string{m.Parameter})
	}
	return v, nil
}

// Prior is the distribution entry of one parameter. Width 0 is a fixed value,
// width +inf an unconstrained one, regardless of Kind.
type Prior struct {
	Kind  PriorKind
	Mean  Mean
	Width float64
	Range [2]float64
}

// IsFixed reports a delta distribution
func (p Prior) IsFixed() bool { return p.Width == 0 }

// IsFlat reports an unconstrained distribution
func (p Prior) IsFlat() bool { return math.IsInf(p.Width, 1) }

// Unbounded is the range (-inf, inf)
var Unbounded = [2]float64{math.Inf(-1), math.Inf(1)}

// PriorPatch changes selected fields of an existing prior
type PriorPatch struct {
	Kind  *PriorKind
	Mean  *Mean
	Width *float64
	Range *[2]float64
}

// Distribution is the product of one-dimensional priors for the nuisance parameters
type Distribution struct {
	priors map[string]Prior
}

// NewDistribution returns an empty distribution
func NewDistribution() *Distribution {
	return &Distribution{priors: make(map[string]Prior)}
}

// SetDistribution declares or replaces the prior of parameter name
func (d *Distribution) SetDistribution(name string, kind PriorKind, mean Mean, width float64, rng [2]float64) error {
	p := Prior{Kind: kind, Mean: mean, Width: width, Range: rng}
	if err := validatePrior(name, p); err != nil {
		return err
	}
	d.priors[name] = p
	return nil
}

func validatePrior(name string, p Prior) error {
	if p.Kind != PriorGauss && p.Kind != PriorGamma {
		return core.NewUnknownKindError("distribution", string(p.Kind))
	}
	if !(p.Range[0] <= p.Range[1]) {
		return core.NewInvalidDistributionError(name, fmt.Sprintf("range [%g, %g] is empty", p.Range[0], p.Range[1]))
	}
	if p.Mean.IsReference() {
		if p.Kind != PriorGauss {
			return core.NewInvalidDistributionError(name, "using a parameter as mean is only supported for gauss")
		}
		return nil
	}
	if !(p.Range[0] <= p.Mean.Value && p.Mean.Value <= p.Range[1]) {
		return core.NewInvalidDistributionError(name, fmt.Sprintf("mean %g outside of range [%g, %g]", p.Mean.Value, p.Range[0], p.Range[1]))
	}
	if !(p.Width >= 0) {
		return core.NewInvalidDistributionError(name, fmt.Sprintf("negative width %g", p.Width))
	}
	return nil
}

// SetParameters changes the given fields of an existing prior
func (d *Distribution) SetParameters(name string, patch PriorPatch) error {
	p, ok := d.priors[name]
	if !ok {
		return core.NewUndeclaredParameterError([]string{name})
	}
	if patch.Kind != nil {
		p.Kind = *patch.Kind
	}
	if patch.Mean != nil {
		p.Mean = *patch.Mean
	}
	if patch.Width != nil {
		p.Width = *patch.Width
	}
	if patch.Range != nil {
		p.Range = *patch.Range
	}
	if err := validatePrior(name, p); err != nil {
		return err
	}
	d.priors[name] = p
	return nil
}

// Get returns the prior of name
func (d *Distribution) Get(name string) (Prior, bool) {
	p, ok := d.priors[name]
	return p, ok
}

// Has reports whether name is declared
func (d *Distribution) Has(name string) bool {
	_, ok := d.priors[name]
	return ok
}

// Parameters returns the declared parameter names, sorted
func (d *Distribution) Parameters() []string {
	names := make([]string, 0, len(d.priors))
	for name := range d.priors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Remove drops the prior of name
func (d *Distribution) Remove(name string) {
	delete(d.priors, name)
}

// Clone returns an independent copy
func (d *Distribution) Clone() *Distribution {
	result := NewDistribution()
	for name, p := range d.priors {
		result.priors[name] = p
	}
	return result
}

// Equal reports whether both distributions declare identical priors
func (d *Distribution) Equal(other *Distribution) bool {
	if len(d.priors) != len(other.priors) {
		return false
	}
	for name, p := range d.priors {
		q, ok := other.priors[name]
		if !ok || p != q {
			return false
		}
	}
	return true
}

// Merge combines two distributions. Parameters declared in both take the
// prior of d1 if override is set; otherwise both priors must be identical.
func Merge(d0, d1 *Distribution, override bool) (*Distribution, error) {
	result := d0.Clone()
	for _, name := range d1.Parameters() {
		p1 := d1.priors[name]
		p0, shared := d0.priors[name]
		if shared && !override && p0 != p1 {
			return nil, core.NewDistributionConflictError(name)
		}
		result.priors[name] = p1
	}
	return result, nil
}

// FixedAtMeans returns a distribution in which every parameter of template is
// fixed to its mean. Parameter-valued means stay references.
func FixedAtMeans(template *Distribution) *Distribution {
	result := NewDistribution()
	for name, p := range template.priors {
		fixed := Prior{Kind: PriorGauss, Mean: p.Mean, Width: 0}
		if p.Mean.IsReference() {
			fixed.Range = Unbounded
		} else {
			fixed.Range = [2]float64{p.Mean.Value, p.Mean.Value}
		}
		result.priors[name] = fixed
	}
	return result
}

// FixedAtValues returns a distribution fixing every parameter to the given value
func FixedAtValues(values map[string]float64) *Distribution {
	result := NewDistribution()
	for name, v := range values {
		result.priors[name] = Prior{Kind: PriorGauss, Mean: MeanValue(v), Width: 0, Range: [2]float64{v, v}}
	}
	return result
}

// Cfg serializes the priors of the requested parameters. beta_signal may
// lack a prior and is then left to model-distribution-signal; any other
// parameter without a prior is an error.
func (d *Distribution) Cfg(parameters []string) (setting.Value, error) {
	requested := make(map[string]bool, len(parameters))
	var missing []string
	for _, name := range parameters {
		requested[name] = true
		if !d.Has(name) && name != BetaSignal {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return setting.Value{}, core.NewUndeclaredParameterError(missing)
	}

	flat := setting.Map{"type": setting.S("flat_distribution")}
	delta := setting.Map{"type": setting.S("delta_distribution")}
	var distributions []setting.Value
	for _, name := range d.Parameters() {
		if !requested[name] {
			continue
		}
		p := d.priors[name]
		switch {
		case p.IsFixed():
			delta[name] = p.Mean.cfg()
		case p.IsFlat():
			flat[name] = setting.M(setting.Map{
				"range":            setting.Floats(p.Range[:]),
				"fix-sample-value": p.Mean.cfg(),
			})
		default:
			typ := "gauss1d"
			if p.Kind == PriorGamma {
				typ = "gamma_distribution"
			}
			distributions = append(distributions, setting.M(setting.Map{
				"type":      setting.S(typ),
				"parameter": setting.S(name),
				"mean":      p.Mean.cfg(),
				"width":     setting.F(p.Width),
				"range":     setting.Floats(p.Range[:]),
			}))
		}
	}
	if len(flat) > 1 {
		distributions = append(distributions, setting.M(flat))
	}
	if len(delta) > 1 {
		distributions = append(distributions, setting.M(delta))
	}
	return setting.M(setting.Map{
		"type":          setting.S("product_distribution"),
		"distributions": setting.L(distributions...),
	}), nil
}

// LogDensity returns the log prior density at values, summed over all
// declared parameters. Bounded priors are not renormalized to their range.
func (d *Distribution) LogDensity(values map[string]float64) (float64, error) {
	total := 0.0
	for _, name := range d.Parameters() {
		p := d.priors[name]
		x, ok := values[name]
		if !ok {
			return 0, core.NewUndeclaredParameterError([]string{name})
		}
		mean, err := p.Mean.resolve(values)
		if err != nil {
			return 0, err
		}
		total += p.logDensity(x, mean)
	}
	return total, nil
}

func (p Prior) logDensity(x, mean float64) float64 {
	if p.IsFixed() {
		if x == mean {
			return 0
		}
		return math.Inf(-1)
	}
	if x < p.Range[0] || x > p.Range[1] {
		return math.Inf(-1)
	}
	if p.IsFlat() {
		return 0
	}
	if p.Kind == PriorGamma && x < 0 {
		return math.Inf(-1)
	}
	return p.shape(mean).LogProb(x)
}

type univariate interface {
	LogProb(x float64) float64
	CDF(x float64) float64
	Quantile(p float64) float64
}

// shape returns the untruncated distribution. A gamma prior with mean m and
// width w has shape (m/w)^2 and rate m/w^2.
func (p Prior) shape(mean float64) univariate {
	if p.Kind == PriorGamma {
		return distuv.Gamma{Alpha: mean * mean / (p.Width * p.Width), Beta: mean / (p.Width * p.Width)}
	}
	return distuv.Normal{Mu: mean, Sigma: p.Width}
}

const maxSampleAttempts = 100

func cdfAt(dist univariate, x float64) float64 {
	switch {
	case math.IsInf(x, 1):
		return 1
	case math.IsInf(x, -1):
		return 0
	}
	return dist.CDF(x)
}

// Sample draws one value per parameter from the priors truncated to their
// ranges. Parameters whose mean refers to another parameter are drawn after
// the referenced one.
func (d *Distribution) Sample(rng *rand.Rand) (map[string]float64, error) {
	values := make(map[string]float64, len(d.priors))
	pending := d.Parameters()
	for len(pending) > 0 {
		var next []string
		for _, name := range pending {
			p := d.priors[name]
			mean, err := p.Mean.resolve(values)
			if err != nil {
				if d.Has(p.Mean.Parameter) {
					next = append(next, name)
					continue
				}
				return nil, err
			}
			x, err := p.sample(name, mean, rng)
			if err != nil {
				return nil, err
			}
			values[name] = x
		}
		if len(next) == len(pending) {
			return nil, core.NewInvalidDistributionError(next[0], "cyclic mean references")
		}
		pending = next
	}
	return values, nil
}

func (p Prior) sample(name string, mean float64, rng *rand.Rand) (float64, error) {
	if p.IsFixed() {
		return mean, nil
	}
	if p.IsFlat() {
		if math.IsInf(p.Range[0], 0) || math.IsInf(p.Range[1], 0) {
			return mean, nil
		}
		return p.Range[0] + rng.Float64()*(p.Range[1]-p.Range[0]), nil
	}
	dist := p.shape(mean)
	lower := p.Range[0]
	if p.Kind == PriorGamma {
		lower = math.Max(lower, 0)
	}
	lo, hi := cdfAt(dist, lower), cdfAt(dist, p.Range[1])
	for i := 0; i < maxSampleAttempts; i++ {
		x := dist.Quantile(lo + rng.Float64()*(hi-lo))
		if !math.IsInf(x, 0) && !math.IsNaN(x) && x >= p.Range[0] && x <= p.Range[1] {
			return x, nil
		}
	}
	return 0, core.NewInvalidDistributionError(name, "no sample inside range")
}
