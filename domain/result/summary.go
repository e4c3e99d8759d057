// Package result summarizes the per-toy outputs of engine runs.
package result

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/montanaflynn/stats"

	"thetaauto/domain/core"
)

// Input names the data a run was performed on
type Input string

const (
	InputData Input = "data"
	InputZero Input = "zero"
	InputOne  Input = "one"
)

// Band is a central interval of a distribution of toy outcomes
type Band struct {
	Low  float64 `json:"low" db:"low"`
	High float64 `json:"high" db:"high"`
}

// Summary is the outcome of one method on one signal process and input
type Summary struct {
	ID         core.RunID      `json:"id"`
	Method     string          `json:"method"`
	Signal     string          `json:"signal"`
	Input      Input           `json:"input"`
	Quantity   string          `json:"quantity"`
	N          int             `json:"n"`
	Mean       float64         `json:"mean"`
	Width      float64         `json:"width"`
	Median     float64         `json:"median"`
	Band68     Band            `json:"band68"`
	Band95     Band            `json:"band95"`
	ConfigHash core.ConfigHash `json:"config_hash"`
	CreatedAt  time.Time       `json:"created_at"`
}

// MeanError is the uncertainty of Mean due to the finite number of toys
func (s Summary) MeanError() float64 {
	if s.N == 0 {
		return math.NaN()
	}
	return s.Width / math.Sqrt(float64(s.N))
}

// Observed formats the summary as "mean +- error"
func (s Summary) Observed() string {
	return fmt.Sprintf("%.3g +- %.3g", s.Mean, s.MeanError())
}

// Expected formats the summary as "median  (low68, high68)"
func (s Summary) Expected() string {
	return fmt.Sprintf("%.3g  (%.3g, %.3g)", s.Median, s.Band68.Low, s.Band68.High)
}

// MeanWidth returns the mean and the sample standard deviation of data
func MeanWidth(data []float64) (mean, width float64, err error) {
	if len(data) < 2 {
		return 0, 0, fmt.Errorf("%w: need at least two values, got %d", core.ErrInvalidValue, len(data))
	}
	if mean, err = stats.Mean(data); err != nil {
		return 0, 0, err
	}
	if width, err = stats.StandardDeviationSample(data); err != nil {
		return 0, 0, err
	}
	return mean, width, nil
}

// quantileAt picks the element at index int(q*n) of sorted data
func quantileAt(sorted []float64, q float64) float64 {
	i := int(q * float64(len(sorted)))
	if i >= len(sorted) {
		i = len(sorted) - 1
	}
	return sorted[i]
}

// Summarize fills the location and spread figures of a summary from the
// per-toy values of quantity
func Summarize(method, signal string, input Input, quantity string, data []float64) (Summary, error) {
	mean, width, err := MeanWidth(data)
	if err != nil {
		return Summary{}, fmt.Errorf("summarizing %s: %w", quantity, err)
	}
	sorted := append([]float64(nil), data...)
	sort.Float64s(sorted)
	return Summary{
		ID:       core.NewRunID(),
		Method:   method,
		Signal:   signal,
		Input:    input,
		Quantity: quantity,
		N:        len(data),
		Mean:     mean,
		Width:    width,
		Median:   sorted[len(sorted)/2],
		Band68:   Band{Low: quantileAt(sorted, 0.16), High: quantileAt(sorted, 0.84)},
		Band95:   Band{Low: quantileAt(sorted, 0.025), High: quantileAt(sorted, 0.975)},
	}, nil
}
