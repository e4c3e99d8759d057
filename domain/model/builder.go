package model

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"thetaauto/domain/core"
	"thetaauto/domain/histogram"
)

// DataProcess is the process name reserved for data histograms
const DataProcess = "DATA"

// Logger receives the recoverable warnings of the builder
type Logger interface {
	Warn(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Warn(string, ...interface{}) {}

// Source provides the flat name to histogram collection of an input file
type Source interface {
	Histograms(ctx context.Context) (map[string]histogram.Histogram, error)
}

type buildOptions struct {
	filter    func(name string) bool
	mapName   func(name string) string
	transform func(name string, h histogram.Histogram) (histogram.Histogram, error)
	logger    Logger
}

// BuildOption configures BuildModel
type BuildOption func(*buildOptions)

// WithFilter keeps only histograms whose input name passes keep
func WithFilter(keep func(name string) bool) BuildOption {
	return func(o *buildOptions) { o.filter = keep }
}

// WithNameMapping maps input names to the observable__process[__uncertainty__direction] convention
func WithNameMapping(mapName func(name string) string) BuildOption {
	return func(o *buildOptions) { o.mapName = mapName }
}

// WithTransform replaces each histogram before it is used, e.g. to rebin or restrict its range.
// The name passed is the mapped one.
func WithTransform(transform func(name string, h histogram.Histogram) (histogram.Histogram, error)) BuildOption {
	return func(o *buildOptions) { o.transform = transform }
}

// WithLogger sets the receiver of naming-convention warnings
func WithLogger(l Logger) BuildOption {
	return func(o *buildOptions) { o.logger = l }
}

// SanitizeName maps name to an identifier the engine accepts: characters
// outside [A-Za-z0-9_] become '_' and a leading digit gets a '_' prefix.
func SanitizeName(name string) string {
	var b strings.Builder
	for i, r := range name {
		if i == 0 && unicode.IsDigit(r) {
			b.WriteByte('_')
		}
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

func normalizeDirection(d string) (string, bool) {
	switch d {
	case "plus", "up":
		return "plus", true
	case "minus", "down":
		return "minus", true
	}
	return "", false
}

type shiftKey struct{ obs, proc, unc, dir string }

// BuildModel builds a model from histograms named observable__process
// (nominal) or observable__process__uncertainty__direction (shifted, with
// direction plus/up or minus/down). Process DATA holds data. Names outside
// the convention are skipped with a warning. Every uncertainty gets a unit
// gauss prior; only one direction of an uncertainty is an error.
func BuildModel(histos map[string]histogram.Histogram, opts ...BuildOption) (*Model, error) {
	o := buildOptions{
		filter:  func(string) bool { return true },
		mapName: func(s string) string { return s },
		logger:  nopLogger{},
	}
	for _, opt := range opts {
		opt(&o)
	}

	nominals := make(map[[2]string]histogram.Histogram)
	shifted := make(map[shiftKey]histogram.Histogram)
	data := make(map[string]histogram.Histogram)
	uncertainties := make(map[string]bool)
	// sanitized slot name to the input name that filled it
	origin := make(map[string]string)
	claim := func(slot, external string) {
		if prev, ok := origin[slot]; ok {
			o.logger.Warn("template %s replaces %s, both map to %s", external, prev, slot)
		}
		origin[slot] = external
	}

	names := make([]string, 0, len(histos))
	for name := range histos {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, external := range names {
		if !o.filter(external) {
			continue
		}
		internal := o.mapName(external)
		h := histos[external]
		if o.transform != nil {
			var err error
			if h, err = o.transform(internal, h); err != nil {
				return nil, fmt.Errorf("transforming '%s': %w", internal, err)
			}
		}
		parts := strings.Split(internal, "__")
		if len(parts) != 2 && len(parts) != 4 {
			o.logger.Warn("ignoring template %s (was: %s) which does not obey naming convention", internal, external)
			continue
		}
		obs, proc := SanitizeName(parts[0]), SanitizeName(parts[1])
		if len(parts) == 2 {
			if parts[1] == DataProcess {
				claim(obs+"__"+DataProcess, external)
				data[obs] = h
			} else {
				claim(obs+"__"+proc, external)
				nominals[[2]string{obs, proc}] = h
			}
			continue
		}
		dir, ok := normalizeDirection(parts[3])
		if !ok {
			o.logger.Warn("ignoring template %s (was: %s) with unknown direction '%s'", internal, external, parts[3])
			continue
		}
		if parts[1] == DataProcess {
			o.logger.Warn("ignoring shifted data template %s (was: %s)", internal, external)
			continue
		}
		unc := SanitizeName(parts[2])
		uncertainties[unc] = true
		claim(strings.Join([]string{obs, proc, unc, dir}, "__"), external)
		shifted[shiftKey{obs, proc, unc, dir}] = h
	}

	uncNames := sortedKeys(uncertainties)
	keys := make([][2]string, 0, len(nominals))
	for k := range nominals {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i][0] != keys[j][0] {
			return keys[i][0] < keys[j][0]
		}
		return keys[i][1] < keys[j][1]
	})

	result := New()
	for _, k := range keys {
		obs, proc := k[0], k[1]
		hf, err := NewHistogramFunction(Cubiclinear)
		if err != nil {
			return nil, err
		}
		if err := hf.SetNominal(nominals[k], false); err != nil {
			return nil, fmt.Errorf("(%s, %s): %w", obs, proc, err)
		}
		for _, unc := range uncNames {
			plus, hasPlus := shifted[shiftKey{obs, proc, unc, "plus"}]
			minus, hasMinus := shifted[shiftKey{obs, proc, unc, "minus"}]
			if !hasPlus && !hasMinus {
				continue
			}
			if hasPlus != hasMinus {
				return nil, core.NewUnmatchedShiftError(obs, proc, unc)
			}
			if err := hf.SetShift(unc, plus, minus, 1.0); err != nil {
				return nil, fmt.Errorf("(%s, %s): %w", obs, proc, err)
			}
		}
		if err := result.SetHistogramFunction(obs, proc, hf); err != nil {
			return nil, err
		}
	}
	for _, obs := range sortedKeys(data) {
		if err := result.SetDataHistogram(obs, data[obs], false); err != nil {
			return nil, err
		}
	}
	for _, unc := range uncNames {
		if err := result.Distribution.SetDistribution(unc, PriorGauss, MeanValue(0), 1, Unbounded); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// BuildModelFromSource loads all histograms of src and builds the model
func BuildModelFromSource(ctx context.Context, src Source, opts ...BuildOption) (*Model, error) {
	histos, err := src.Histograms(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading histograms: %w", err)
	}
	return BuildModel(histos, opts...)
}
