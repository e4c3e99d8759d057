package model

import (
	"fmt"
	"sort"

	"thetaauto/domain/core"
	"thetaauto/domain/setting"
)

// NLLTerm is an extra negative log-likelihood contribution added to the model
type NLLTerm interface {
	Parameters() []string
	Value(values map[string]float64) (float64, error)
	Cfg() setting.Value
}

// ConstrainRatio constrains Numerator/Denominator to a gaussian around Mean with Width
type ConstrainRatio struct {
	Numerator   string
	Denominator string
	Mean        float64
	Width       float64
}

func (c ConstrainRatio) Parameters() []string {
	names := []string{c.Numerator, c.Denominator}
	sort.Strings(names)
	return names
}

func (c ConstrainRatio) Value(values map[string]float64) (float64, error) {
	n, ok := values[c.Numerator]
	if !ok {
		return 0, core.NewUndeclaredParameterError([]string{c.Numerator})
	}
	d, ok := values[c.Denominator]
	if !ok {
		return 0, core.NewUndeclaredParameterError([]string{c.Denominator})
	}
	if d == 0 {
		return 0, fmt.Errorf("%w: denominator '%s' is zero", core.ErrInvalidValue, c.Denominator)
	}
	pull := (n/d - c.Mean) / c.Width
	return 0.5 * pull * pull, nil
}

func (c ConstrainRatio) Cfg() setting.Value {
	return setting.M(setting.Map{
		"type":        setting.S("constrain_ratio"),
		"nominator":   setting.S(c.Numerator),
		"denominator": setting.S(c.Denominator),
		"mean":        setting.F(c.Mean),
		"width":       setting.F(c.Width),
	})
}

// SumNLL is the sum of its terms
type SumNLL struct {
	Terms []NLLTerm
}

// AddNLL returns the sum of a and b. Either may be nil; nested sums are flattened.
func AddNLL(a, b NLLTerm) NLLTerm {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	var terms []NLLTerm
	for _, t := range []NLLTerm{a, b} {
		if s, ok := t.(SumNLL); ok {
			terms = append(terms, s.Terms...)
		} else {
			terms = append(terms, t)
		}
	}
	return SumNLL{Terms: terms}
}

func (s SumNLL) Parameters() []string {
	seen := make(map[string]bool)
	for _, t := range s.Terms {
		for _, name := range t.Parameters() {
			seen[name] = true
		}
	}
	return sortedKeys(seen)
}

func (s SumNLL) Value(values map[string]float64) (float64, error) {
	total := 0.0
	for _, t := range s.Terms {
		v, err := t.Value(values)
		if err != nil {
			return 0, err
		}
		total += v
	}
	return total, nil
}

func (s SumNLL) Cfg() setting.Value {
	addends := make([]setting.Value, len(s.Terms))
	for i, t := range s.Terms {
		addends[i] = t.Cfg()
	}
	return setting.M(setting.Map{
		"type":    setting.S("add"),
		"addends": setting.L(addends...),
	})
}
