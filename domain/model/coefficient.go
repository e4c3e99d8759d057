package model

import (
	"math"
	"sort"

	"thetaauto/domain/core"
	"thetaauto/domain/setting"
)

// FactorKind selects how a parameter enters a coefficient function
type FactorKind string

const (
	// FactorIdentity multiplies by the parameter value
	FactorIdentity FactorKind = "id"
	// FactorExp multiplies by exp(lambda_plus*x) for x > 0 and exp(lambda_minus*x) otherwise
	FactorExp FactorKind = "exp"
)

// Factor is the dependence of a coefficient function on one parameter
type Factor struct {
	Kind        FactorKind
	LambdaPlus  float64
	LambdaMinus float64
}

// CoefficientFunction scales the yield of one (observable, process) slot:
// a constant times one factor per parameter.
type CoefficientFunction struct {
	value   float64
	factors map[string]Factor
}

// NewCoefficientFunction returns the constant function 1
func NewCoefficientFunction() *CoefficientFunction {
	return &CoefficientFunction{value: 1.0, factors: make(map[string]Factor)}
}

// AddConstant multiplies the constant part by v
func (f *CoefficientFunction) AddConstant(v float64) {
	f.value *= v
}

// AddIdentity registers a direct multiplication by parameter, replacing any previous factor for it
func (f *CoefficientFunction) AddIdentity(parameter string) {
	f.factors[parameter] = Factor{Kind: FactorIdentity}
}

// AddExp registers an asymmetric exponential factor, replacing any previous factor for parameter
func (f *CoefficientFunction) AddExp(parameter string, lambdaMinus, lambdaPlus float64) {
	f.factors[parameter] = Factor{Kind: FactorExp, LambdaPlus: lambdaPlus, LambdaMinus: lambdaMinus}
}

// AddFactor dispatches on kind; the constant kind uses value, the others parameter and the lambdas
func (f *CoefficientFunction) AddFactor(kind string, parameter string, value, lambdaMinus, lambdaPlus float64) error {
	switch kind {
	case "constant":
		f.AddConstant(value)
	case string(FactorIdentity):
		f.AddIdentity(parameter)
	case string(FactorExp):
		f.AddExp(parameter, lambdaMinus, lambdaPlus)
	default:
		return core.NewUnknownKindError("factor", kind)
	}
	return nil
}

// RemoveParameter drops the factor of parameter, if any
func (f *CoefficientFunction) RemoveParameter(parameter string) {
	delete(f.factors, parameter)
}

// Constant returns the constant part
func (f *CoefficientFunction) Constant() float64 { return f.value }

// Factor returns the factor registered for parameter
func (f *CoefficientFunction) Factor(parameter string) (Factor, bool) {
	factor, ok := f.factors[parameter]
	return factor, ok
}

// Parameters returns the parameters with a factor, sorted
func (f *CoefficientFunction) Parameters() []string {
	names := make([]string, 0, len(f.factors))
	for name := range f.factors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns an independent copy
func (f *CoefficientFunction) Clone() *CoefficientFunction {
	result := &CoefficientFunction{value: f.value, factors: make(map[string]Factor, len(f.factors))}
	for name, factor := range f.factors {
		result.factors[name] = factor
	}
	return result
}

// Value evaluates the function at values
func (f *CoefficientFunction) Value(values map[string]float64) (float64, error) {
	result := f.value
	for _, name := range f.Parameters() {
		x, ok := values[name]
		if !ok {
			return 0, core.NewUndeclaredParameterError([]string{name})
		}
		factor := f.factors[name]
		switch factor.Kind {
		case FactorIdentity:
			result *= x
		case FactorExp:
			if x > 0 {
				result *= math.Exp(factor.LambdaPlus * x)
			} else {
				result *= math.Exp(factor.LambdaMinus * x)
			}
		default:
			return 0, core.NewUnknownKindError("factor", string(factor.Kind))
		}
	}
	return result, nil
}

// Cfg serializes the function as a "multiply" setting. With optimize, all
// exponential factors are merged into one exp_function.
func (f *CoefficientFunction) Cfg(optimize bool) setting.Value {
	var factors []setting.Value
	var parameters []string
	var lambdasPlus, lambdasMinus []float64
	for _, name := range f.Parameters() {
		factor := f.factors[name]
		if factor.Kind != FactorExp {
			factors = append(factors, setting.S(name))
			continue
		}
		if !optimize {
			factors = append(factors, setting.M(setting.Map{
				"type":         setting.S("exp_function"),
				"parameter":    setting.S(name),
				"lambda_plus":  setting.F(factor.LambdaPlus),
				"lambda_minus": setting.F(factor.LambdaMinus),
			}))
			continue
		}
		parameters = append(parameters, name)
		lambdasPlus = append(lambdasPlus, factor.LambdaPlus)
		lambdasMinus = append(lambdasMinus, factor.LambdaMinus)
	}
	if len(parameters) > 0 {
		factors = append(factors, setting.M(setting.Map{
			"type":          setting.S("exp_function"),
			"parameters":    setting.Strings(parameters),
			"lambdas_plus":  setting.Floats(lambdasPlus),
			"lambdas_minus": setting.Floats(lambdasMinus),
		}))
	}
	if f.value != 1.0 {
		factors = append(factors, setting.F(f.value))
	}
	return setting.M(setting.Map{
		"type":    setting.S("multiply"),
		"factors": setting.L(factors...),
	})
}
