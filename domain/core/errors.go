package core

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Domain errors - centralized error definitions
var (
	// Consistency errors of a template set or model
	ErrBinningMismatch      = errors.New("inconsistent histogram range or binning")
	ErrUnmatchedShift       = errors.New("only one direction given for shifted template")
	ErrNoMatch              = errors.New("pattern matched nothing")
	ErrUndeclaredParameter  = errors.New("parameter not declared")
	ErrObservableOverlap    = errors.New("models share observables")
	ErrDistributionConflict = errors.New("conflicting distributions for parameter")
	ErrInvalidDistribution  = errors.New("invalid distribution")
	ErrNotDivisible         = errors.New("bin count not divisible by rebin factor")
	ErrNotSubset            = errors.New("not a subset of model observables")
	ErrSignalMismatch       = errors.New("signal processes differ")
	ErrUnknownSignal        = errors.New("process is not a signal process")
	ErrInvalidHistogram     = errors.New("invalid histogram")
	ErrInvalidValue         = errors.New("value cannot be encoded")

	// Selector errors
	ErrUnknownKind = errors.New("unknown kind")

	// External engine errors
	ErrEngineFailed = errors.New("engine run failed")
)

// Error constructors with context
func NewBinningError(what string) error {
	return fmt.Errorf("%w: %s", ErrBinningMismatch, what)
}

func NewUnmatchedShiftError(observable, process, uncertainty string) error {
	return fmt.Errorf("%w: (observable, process, uncertainty) = (%s, %s, %s)", ErrUnmatchedShift, observable, process, uncertainty)
}

func NewNoMatchError(kind, pattern string) error {
	return fmt.Errorf("%w: no %s matches '%s'", ErrNoMatch, kind, pattern)
}

func NewUndeclaredParameterError(names []string) error {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	return fmt.Errorf("%w: %s", ErrUndeclaredParameter, strings.Join(sorted, ", "))
}

func NewDistributionConflictError(parameter string) error {
	return fmt.Errorf("%w '%s'", ErrDistributionConflict, parameter)
}

func NewInvalidDistributionError(parameter, reason string) error {
	return fmt.Errorf("%w for '%s': %s", ErrInvalidDistribution, parameter, reason)
}

func NewUnknownKindError(what, kind string) error {
	return fmt.Errorf("%w: %s '%s'", ErrUnknownKind, what, kind)
}

func NewEngineError(name string, err error) error {
	return fmt.Errorf("%w for '%s': %v", ErrEngineFailed, name, err)
}

// IsConfigurationError reports whether err signals a malformed template set or
// model that has to be fixed upstream.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrBinningMismatch) ||
		errors.Is(err, ErrUnmatchedShift) ||
		errors.Is(err, ErrNoMatch) ||
		errors.Is(err, ErrUndeclaredParameter) ||
		errors.Is(err, ErrObservableOverlap) ||
		errors.Is(err, ErrDistributionConflict) ||
		errors.Is(err, ErrInvalidDistribution) ||
		errors.Is(err, ErrNotDivisible) ||
		errors.Is(err, ErrNotSubset) ||
		errors.Is(err, ErrSignalMismatch) ||
		errors.Is(err, ErrUnknownSignal) ||
		errors.Is(err, ErrInvalidHistogram)
}
