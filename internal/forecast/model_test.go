package forecast

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hourlyHistory(start time.Time, n int, f func(i int) float64) ([]time.Time, []float64) {
	timestamps := make([]time.Time, n)
	values := make([]float64, n)
	for i := 0; i < n; i++ {
		timestamps[i] = start.Add(time.Duration(i) * time.Hour)
		values[i] = f(i)
	}
	return timestamps, values
}

func TestFitRejectsThinHistory(t *testing.T) {
	fitter := &TrendSeasonalFitter{MinSamples: 50}
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	timestamps, values := hourlyHistory(start, 49, func(i int) float64 { return float64(i) })
	_, err := fitter.Fit(timestamps, values)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsufficientData)

	timestamps, values = hourlyHistory(start, 50, func(i int) float64 { return float64(i) })
	_, err = fitter.Fit(timestamps, values)
	assert.NoError(t, err)
}

func TestForecastContinuesLinearTrend(t *testing.T) {
	fitter := &TrendSeasonalFitter{MinSamples: 2}
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	// Perfectly linear readings, one per hour: y = 10 + 0.5x.
	timestamps, values := hourlyHistory(start, 120, func(i int) float64 { return 10 + 0.5*float64(i) })

	model, err := fitter.Fit(timestamps, values)
	require.NoError(t, err)
	assert.Equal(t, "trend+seasonal", model.Name())

	predicted, upper, lower := model.Forecast(48)
	require.Len(t, predicted, 48)
	require.Len(t, upper, 48)
	require.Len(t, lower, 48)

	for i, v := range predicted {
		want := 10 + 0.5*float64(120+i)
		assert.InDelta(t, want, v, 0.01, "step %d", i)
		assert.GreaterOrEqual(t, upper[i], v)
		assert.LessOrEqual(t, lower[i], v)
	}
}

func TestForecastTracksDailyCycle(t *testing.T) {
	fitter := &TrendSeasonalFitter{MinSamples: 2}
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	// Flat level plus a repeating hour-of-day swing: warm afternoons, cool
	// nights.
	cycle := func(hour int) float64 {
		return 20 + 5*math.Sin(2*math.Pi*float64(hour)/24)
	}
	timestamps, values := hourlyHistory(start, 14*24, func(i int) float64 { return cycle(i % 24) })

	model, err := fitter.Fit(timestamps, values)
	require.NoError(t, err)

	predicted, _, _ := model.Forecast(48)
	last := timestamps[len(timestamps)-1]
	for i, v := range predicted {
		hour := last.Add(time.Duration(i+1) * time.Hour).Hour()
		assert.InDelta(t, cycle(hour), v, 0.75, "step %d (hour %d)", i, hour)
	}
}

func TestForecastConfidenceBandWidensWithNoise(t *testing.T) {
	fitter := &TrendSeasonalFitter{MinSamples: 2}
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	clean, cleanVals := hourlyHistory(start, 100, func(i int) float64 { return 20 })
	noisy, noisyVals := hourlyHistory(start, 100, func(i int) float64 {
		if i%2 == 0 {
			return 25
		}
		return 15
	})

	cleanModel, err := fitter.Fit(clean, cleanVals)
	require.NoError(t, err)
	noisyModel, err := fitter.Fit(noisy, noisyVals)
	require.NoError(t, err)

	_, cu, cl := cleanModel.Forecast(1)
	_, nu, nl := noisyModel.Forecast(1)

	assert.Greater(t, nu[0]-nl[0], cu[0]-cl[0], "noisier history must yield a wider band")
}

func TestLeastSquares(t *testing.T) {
	xs := []float64{0, 1, 2, 3, 4}
	ys := []float64{1, 3, 5, 7, 9}

	slope, intercept := leastSquares(xs, ys)
	assert.InDelta(t, 2.0, slope, 1e-9)
	assert.InDelta(t, 1.0, intercept, 1e-9)

	// Degenerate x spread falls back to the mean.
	slope, intercept = leastSquares([]float64{2, 2, 2}, []float64{4, 6, 8})
	assert.Equal(t, 0.0, slope)
	assert.InDelta(t, 6.0, intercept, 1e-9)
}
