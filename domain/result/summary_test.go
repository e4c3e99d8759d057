package result

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thetaauto/domain/core"
)

func TestMeanWidth(t *testing.T) {
	mean, width, err := MeanWidth([]float64{1, 2, 3, 4})
	require.NoError(t, err)
	assert.InDelta(t, 2.5, mean, 1e-12)
	assert.InDelta(t, math.Sqrt(5.0/3.0), width, 1e-12)

	_, _, err = MeanWidth([]float64{1})
	assert.ErrorIs(t, err, core.ErrInvalidValue)
}

func TestSummarizeBands(t *testing.T) {
	data := make([]float64, 100)
	for i := range data {
		data[i] = float64(99 - i)
	}
	s, err := Summarize("bayesian_limit", "signal", InputZero, "bayes__quant09500", data)
	require.NoError(t, err)
	assert.Equal(t, 100, s.N)
	assert.Equal(t, 50.0, s.Median)
	assert.Equal(t, Band{Low: 16, High: 84}, s.Band68)
	assert.Equal(t, Band{Low: 2, High: 97}, s.Band95)
	assert.Equal(t, "50  (16, 84)", s.Expected())
	assert.False(t, s.ID.IsEmpty())
	assert.Equal(t, 99.0, data[0])
}

func TestObservedFormatting(t *testing.T) {
	s := Summary{Mean: 2.5, Width: 2, N: 4}
	assert.Equal(t, 1.0, s.MeanError())
	assert.Equal(t, "2.5 +- 1", s.Observed())
	assert.True(t, math.IsNaN(Summary{}.MeanError()))
}
