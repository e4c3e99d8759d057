package model

import (
	"fmt"
	"math"
	"sort"

	"thetaauto/domain/core"
	"thetaauto/domain/histogram"
	"thetaauto/domain/setting"
)

// Cubiclinear is the only supported morphing kind: cubic interpolation inside
// |delta| < 1, linear extrapolation outside.
const Cubiclinear = "cubiclinear"

// Shift holds the templates for a +1 and -1 sigma variation of one parameter
type Shift struct {
	Plus   histogram.Histogram
	Minus  histogram.Histogram
	Factor float64
}

// HistogramFunction predicts a template as a function of the nuisance
// parameters by morphing between the nominal and shifted templates.
// All owned histograms share the binning of the nominal one.
type HistogramFunction struct {
	kind               string
	nominal            *histogram.Histogram
	nominalUncertainty *histogram.Histogram
	shifts             map[string]Shift
	binning            *histogram.Binning

	// NormalizeToNominal rescales every evaluation to the nominal integral
	NormalizeToNominal bool
	// DecorrDeltaWidth is passed through to the engine when non-zero
	DecorrDeltaWidth float64
}

// NewHistogramFunction returns an empty function of the given morphing kind
func NewHistogramFunction(kind string) (*HistogramFunction, error) {
	if kind != Cubiclinear {
		return nil, core.NewUnknownKindError("histogram function", kind)
	}
	return &HistogramFunction{kind: kind, shifts: make(map[string]Shift)}, nil
}

// NewCubiclinear returns a cubiclinear function with the given nominal template
func NewCubiclinear(nominal histogram.Histogram) *HistogramFunction {
	hf := &HistogramFunction{kind: Cubiclinear, shifts: make(map[string]Shift)}
	b := nominal.Binning()
	hf.binning = &b
	n := nominal.Copy()
	hf.nominal = &n
	return hf
}

func (hf *HistogramFunction) checkBinning(h histogram.Histogram, what string) error {
	b := h.Binning()
	if hf.binning == nil {
		hf.binning = &b
		return nil
	}
	if *hf.binning != b {
		return core.NewBinningError(fmt.Sprintf("%s has %s, expected %s", what, b, *hf.binning))
	}
	return nil
}

// Kind returns the morphing kind
func (hf *HistogramFunction) Kind() string { return hf.kind }

// Binning returns the binning shared by all templates
func (hf *HistogramFunction) Binning() (histogram.Binning, bool) {
	if hf.binning == nil {
		return histogram.Binning{}, false
	}
	return *hf.binning, true
}

// SetNominal sets the nominal template. resetBinning discards the established
// binning, which is only allowed before any shift is set.
func (hf *HistogramFunction) SetNominal(h histogram.Histogram, resetBinning bool) error {
	if resetBinning {
		if len(hf.shifts) > 0 {
			return core.NewBinningError("cannot reset binning of a histogram function with shifted templates")
		}
		hf.binning = nil
		hf.nominalUncertainty = nil
	}
	if err := hf.checkBinning(h, "nominal histogram"); err != nil {
		return err
	}
	c := h.Copy()
	hf.nominal = &c
	return nil
}

// Nominal returns a copy of the nominal template
func (hf *HistogramFunction) Nominal() (histogram.Histogram, bool) {
	if hf.nominal == nil {
		return histogram.Histogram{}, false
	}
	return hf.nominal.Copy(), true
}

// SetNominalUncertainty sets the per-bin statistical uncertainty of the nominal template
func (hf *HistogramFunction) SetNominalUncertainty(h histogram.Histogram) error {
	if err := hf.checkBinning(h, "nominal uncertainty histogram"); err != nil {
		return err
	}
	c := h.Copy()
	hf.nominalUncertainty = &c
	return nil
}

// NominalUncertainty returns a copy of the uncertainty template
func (hf *HistogramFunction) NominalUncertainty() (histogram.Histogram, bool) {
	if hf.nominalUncertainty == nil {
		return histogram.Histogram{}, false
	}
	return hf.nominalUncertainty.Copy(), true
}

// SetShift registers the plus and minus templates of parameter. delta is
// the parameter value times factor.
func (hf *HistogramFunction) SetShift(parameter string, plus, minus histogram.Histogram, factor float64) error {
	if !plus.Compatible(minus) {
		return core.NewBinningError(fmt.Sprintf("plus %s and minus %s templates of '%s' differ", plus.Binning(), minus.Binning(), parameter))
	}
	if err := hf.checkBinning(plus, fmt.Sprintf("shifted templates of '%s'", parameter)); err != nil {
		return err
	}
	hf.shifts[parameter] = Shift{Plus: plus.Copy(), Minus: minus.Copy(), Factor: factor}
	return nil
}

// Shift returns a copy of the templates of parameter
func (hf *HistogramFunction) Shift(parameter string) (Shift, bool) {
	s, ok := hf.shifts[parameter]
	if !ok {
		return Shift{}, false
	}
	return Shift{Plus: s.Plus.Copy(), Minus: s.Minus.Copy(), Factor: s.Factor}, true
}

// Parameters returns the morphing parameters, sorted
func (hf *HistogramFunction) Parameters() []string {
	names := make([]string, 0, len(hf.shifts))
	for name := range hf.shifts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Evaluate returns the predicted template at values. The stored templates are not modified.
func (hf *HistogramFunction) Evaluate(values map[string]float64) (histogram.Histogram, error) {
	if hf.kind != Cubiclinear {
		return histogram.Histogram{}, core.NewUnknownKindError("histogram function", hf.kind)
	}
	if hf.nominal == nil {
		return histogram.Histogram{}, fmt.Errorf("%w: histogram function without nominal template", core.ErrInvalidHistogram)
	}
	nominal := hf.nominal.Bins
	result := hf.nominal.Copy()
	for _, name := range hf.Parameters() {
		x, ok := values[name]
		if !ok {
			return histogram.Histogram{}, core.NewUndeclaredParameterError([]string{name})
		}
		shift := hf.shifts[name]
		delta := x * shift.Factor
		morph(result.Bins, nominal, shift.Plus.Bins, shift.Minus.Bins, delta)
	}
	for i, v := range result.Bins {
		result.Bins[i] = math.Max(0, v)
	}
	if hf.NormalizeToNominal {
		if sum := result.Sum(); sum > 0 {
			result.Scale(hf.nominal.Sum() / sum)
		}
	}
	return result, nil
}

// morph adds the cubiclinear deviation for one parameter to result. The
// cubic branch matches value and slope of the linear one at |delta| = 1.
func morph(result, nominal, plus, minus []float64, delta float64) {
	abs := math.Abs(delta)
	if abs >= 1 {
		shifted := plus
		if delta < 0 {
			shifted = minus
		}
		for i := range result {
			result[i] += abs * (shifted[i] - nominal[i])
		}
		return
	}
	quad := delta*delta - 0.5*abs*abs*abs
	for i := range result {
		result[i] += 0.5*delta*(plus[i]-minus[i]) + quad*(plus[i]+minus[i]-2*nominal[i])
	}
}

// Scale multiplies every owned template in place
func (hf *HistogramFunction) Scale(factor float64) {
	if hf.nominal != nil {
		hf.nominal.Scale(factor)
	}
	if hf.nominalUncertainty != nil {
		hf.nominalUncertainty.Scale(factor)
	}
	for _, s := range hf.shifts {
		s.Plus.Scale(factor)
		s.Minus.Scale(factor)
	}
}

// Rebin merges factor adjacent bins of every owned template. The nominal
// uncertainty is combined in quadrature.
func (hf *HistogramFunction) Rebin(factor int) error {
	if hf.binning == nil {
		return nil
	}
	if factor < 1 || hf.binning.NBins%factor != 0 {
		return fmt.Errorf("%w: %d bins, factor %d", core.ErrNotDivisible, hf.binning.NBins, factor)
	}
	if hf.nominal != nil {
		if err := hf.nominal.Rebin(factor); err != nil {
			return err
		}
	}
	if hf.nominalUncertainty != nil {
		squares := make([]float64, len(hf.nominalUncertainty.Bins))
		for i, v := range hf.nominalUncertainty.Bins {
			squares[i] = v * v
		}
		merged, err := histogram.RebinSlice(squares, factor)
		if err != nil {
			return err
		}
		for i, v := range merged {
			merged[i] = math.Sqrt(v)
		}
		hf.nominalUncertainty.Bins = merged
	}
	for name, s := range hf.shifts {
		if err := s.Plus.Rebin(factor); err != nil {
			return err
		}
		if err := s.Minus.Rebin(factor); err != nil {
			return err
		}
		hf.shifts[name] = s
	}
	hf.binning.NBins /= factor
	return nil
}

// FillZeroBins applies histogram.FillZeroBins to the nominal and all shifted templates
func (hf *HistogramFunction) FillZeroBins(epsilon float64) {
	if hf.nominal != nil {
		hf.nominal.FillZeroBins(epsilon)
	}
	for _, s := range hf.shifts {
		s.Plus.FillZeroBins(epsilon)
		s.Minus.FillZeroBins(epsilon)
	}
}

// Clone returns an independent deep copy
func (hf *HistogramFunction) Clone() *HistogramFunction {
	result := &HistogramFunction{
		kind:               hf.kind,
		shifts:             make(map[string]Shift, len(hf.shifts)),
		NormalizeToNominal: hf.NormalizeToNominal,
		DecorrDeltaWidth:   hf.DecorrDeltaWidth,
	}
	if hf.binning != nil {
		b := *hf.binning
		result.binning = &b
	}
	if hf.nominal != nil {
		n := hf.nominal.Copy()
		result.nominal = &n
	}
	if hf.nominalUncertainty != nil {
		u := hf.nominalUncertainty.Copy()
		result.nominalUncertainty = &u
	}
	for name, s := range hf.shifts {
		result.shifts[name] = Shift{Plus: s.Plus.Copy(), Minus: s.Minus.Copy(), Factor: s.Factor}
	}
	return result
}

// HistoCfg returns the engine setting of a fixed histogram
func HistoCfg(h histogram.Histogram) setting.Value {
	return setting.M(setting.Map{
		"type":  setting.S("direct_data_histo"),
		"range": setting.Floats([]float64{h.XMin, h.XMax}),
		"nbins": setting.I(len(h.Bins)),
		"data":  setting.Floats(h.Bins),
	})
}

// Cfg serializes the function. Without shifted templates it is a plain histogram.
func (hf *HistogramFunction) Cfg() (setting.Value, error) {
	if hf.nominal == nil {
		return setting.Value{}, fmt.Errorf("%w: histogram function without nominal template", core.ErrInvalidHistogram)
	}
	if len(hf.shifts) == 0 {
		return HistoCfg(*hf.nominal), nil
	}
	parameters := hf.Parameters()
	result := setting.Map{
		"type":                 setting.S("cubiclinear_histomorph"),
		"parameters":           setting.Strings(parameters),
		"nominal-histogram":    HistoCfg(*hf.nominal),
		"normalize_to_nominal": setting.B(hf.NormalizeToNominal),
	}
	if hf.DecorrDeltaWidth != 0 {
		result["decorr_delta_width"] = setting.F(hf.DecorrDeltaWidth)
	}
	if hf.nominalUncertainty != nil {
		result["nominal-uncertainty-histogram"] = HistoCfg(*hf.nominalUncertainty)
	}
	factors := make([]float64, len(parameters))
	allOne := true
	for i, name := range parameters {
		factors[i] = hf.shifts[name].Factor
		if factors[i] != 1.0 {
			allOne = false
		}
	}
	if !allOne {
		result["factors"] = setting.Floats(factors)
	}
	for _, name := range parameters {
		s := hf.shifts[name]
		result[name+"-plus-histogram"] = HistoCfg(s.Plus)
		result[name+"-minus-histogram"] = HistoCfg(s.Minus)
	}
	return setting.M(result), nil
}
