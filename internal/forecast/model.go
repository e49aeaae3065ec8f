// Package forecast fits per-metric models over recent history and produces
// bounded-horizon forecasts with confidence bounds and rolling accuracy
// tracking.
package forecast

import (
	"errors"
	"math"
	"time"
)

// ErrInsufficientData is returned by fitters when history is too thin to
// model. Workers treat it as a skip, not a failure.
var ErrInsufficientData = errors.New("insufficient data to fit model")

// Model is a fitted forecasting model. Forecast returns predicted values and
// upper/lower confidence bounds for the requested number of future steps.
type Model interface {
	Name() string
	Forecast(steps int) (values, upper, lower []float64)
}

// Fitter builds a Model from history. The trend+seasonal fitter below is the
// default; a seasonal-ARIMA-class implementation can be substituted without
// touching the worker's control flow.
type Fitter interface {
	Fit(timestamps []time.Time, values []float64) (Model, error)
}

// confidenceZ is the multiplier applied to the residual standard deviation:
// ~95% band under a normality assumption. The band is held constant across
// the horizon.
const confidenceZ = 1.96

// TrendSeasonalFitter fits a least-squares linear trend plus a repeating
// hour-of-day seasonal offset curve.
type TrendSeasonalFitter struct {
	// MinSamples is the fewest points Fit will accept.
	MinSamples int
}

// Fit implements Fitter.
func (f *TrendSeasonalFitter) Fit(timestamps []time.Time, values []float64) (Model, error) {
	n := len(values)
	min := f.MinSamples
	if min <= 0 {
		min = 2
	}
	if n < min || len(timestamps) != n {
		return nil, ErrInsufficientData
	}

	t0 := timestamps[0]
	xs := make([]float64, n)
	for i, ts := range timestamps {
		xs[i] = ts.Sub(t0).Hours()
	}

	slope, intercept := leastSquares(xs, values)

	// Hour-of-day seasonal curve: the average reading per hour across the
	// window, expressed as an offset from the curve's own mean so the
	// trend keeps the level.
	var hourSum, hourCount [24]float64
	for i, ts := range timestamps {
		h := ts.UTC().Hour()
		hourSum[h] += values[i]
		hourCount[h]++
	}

	var seasonal [24]float64
	var filled [24]bool
	var seasonalTotal float64
	filledHours := 0
	for h := 0; h < 24; h++ {
		if hourCount[h] > 0 {
			seasonal[h] = hourSum[h] / hourCount[h]
			filled[h] = true
			seasonalTotal += seasonal[h]
			filledHours++
		}
	}
	seasonalMean := 0.0
	if filledHours > 0 {
		seasonalMean = seasonalTotal / float64(filledHours)
	}

	// Residual spread drives the confidence band.
	var sumSq float64
	for i := range values {
		predicted := intercept + slope*xs[i]
		if filled[timestamps[i].UTC().Hour()] {
			predicted += seasonal[timestamps[i].UTC().Hour()] - seasonalMean
		}
		r := values[i] - predicted
		sumSq += r * r
	}
	residStd := math.Sqrt(sumSq / float64(n))

	return &trendSeasonalModel{
		slope:        slope,
		intercept:    intercept,
		lastX:        xs[n-1],
		lastTime:     timestamps[n-1].UTC(),
		seasonal:     seasonal,
		filled:       filled,
		seasonalMean: seasonalMean,
		residStd:     residStd,
	}, nil
}

type trendSeasonalModel struct {
	slope        float64
	intercept    float64
	lastX        float64
	lastTime     time.Time
	seasonal     [24]float64
	filled       [24]bool
	seasonalMean float64
	residStd     float64
}

func (m *trendSeasonalModel) Name() string { return "trend+seasonal" }

// Forecast projects the trend one hour per step past the end of history and
// adds the seasonal offset for each step's hour-of-day.
func (m *trendSeasonalModel) Forecast(steps int) (values, upper, lower []float64) {
	values = make([]float64, steps)
	upper = make([]float64, steps)
	lower = make([]float64, steps)

	band := confidenceZ * m.residStd
	for i := 0; i < steps; i++ {
		x := m.lastX + float64(i+1)
		t := m.lastTime.Add(time.Duration(i+1) * time.Hour)

		v := m.intercept + m.slope*x
		if h := t.Hour(); m.filled[h] {
			v += m.seasonal[h] - m.seasonalMean
		}

		values[i] = v
		upper[i] = v + band
		lower[i] = v - band
	}
	return values, upper, lower
}

// leastSquares fits y = intercept + slope*x.
func leastSquares(xs, ys []float64) (slope, intercept float64) {
	n := float64(len(xs))
	var sumX, sumY, sumXY, sumXX float64
	for i := range xs {
		sumX += xs[i]
		sumY += ys[i]
		sumXY += xs[i] * ys[i]
		sumXX += xs[i] * xs[i]
	}

	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0, sumY / n
	}
	slope = (n*sumXY - sumX*sumY) / denom
	intercept = (sumY - slope*sumX) / n
	return slope, intercept
}
