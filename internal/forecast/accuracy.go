package forecast

import (
	"math"
	"time"

	"github.com/homesense/homesense/internal/models"
)

// updateAccuracy folds a new batch of forecast-vs-actual comparisons into a
// metric's rolling accuracy. The previous cycle's predictions that have
// since been realized (timestamp already passed, an actual reading within
// tolerance) each contribute one sample.
func updateAccuracy(prev models.ForecastRecord, actualTimes []time.Time, actualValues []float64, now time.Time, tolerance time.Duration) models.AccuracyMetrics {
	acc := prev.Accuracy

	var n int
	var sumAbs, sumSq, sumAPE float64
	apeSamples := 0

	for i, ts := range prev.Timestamps {
		if ts.After(now) || i >= len(prev.Values) {
			continue
		}
		actual, ok := nearestActual(actualTimes, actualValues, ts, tolerance)
		if !ok {
			continue
		}

		err := prev.Values[i] - actual
		sumAbs += math.Abs(err)
		sumSq += err * err
		n++

		// Near-zero actuals blow MAPE up, skip them for that term only.
		if math.Abs(actual) > 1e-9 {
			sumAPE += math.Abs(err/actual) * 100
			apeSamples++
		}
	}

	if n == 0 {
		return acc
	}

	oldN := float64(acc.Samples)
	newN := oldN + float64(n)

	acc.MAE = (acc.MAE*oldN + sumAbs) / newN
	meanSq := (acc.RMSE*acc.RMSE*oldN + sumSq) / newN
	acc.RMSE = math.Sqrt(meanSq)
	if apeSamples > 0 {
		acc.MAPE = (acc.MAPE*oldN + sumAPE) / (oldN + float64(apeSamples))
	}
	acc.Samples += n

	return acc
}

// nearestActual finds the realized reading closest to target within
// tolerance. actualTimes must be sorted ascending.
func nearestActual(times []time.Time, values []float64, target time.Time, tolerance time.Duration) (float64, bool) {
	best := -1
	var bestDiff time.Duration
	for i, ts := range times {
		diff := ts.Sub(target)
		if diff < 0 {
			diff = -diff
		}
		if diff > tolerance {
			if ts.After(target) {
				break // sorted, only gets further away
			}
			continue
		}
		if best == -1 || diff < bestDiff {
			best = i
			bestDiff = diff
		}
	}
	if best == -1 {
		return 0, false
	}
	return values[best], true
}
