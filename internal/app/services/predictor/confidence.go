package predictor

import (
	"math"
	"sync"

	"github.com/visasight/prediction-service/internal/app/domain/prediction"
	"github.com/visasight/prediction-service/internal/app/inference"
)

// zScore90 converts a standard deviation into a two-sided 80% band
// (P10/P90), matching the quantile heads the trained models expose.
const zScore90 = 1.2816

// defaultSpread is the fractional fallback band used when a model reports
// no uncertainty signal at all. Recalibration tightens or widens it from
// observed residuals.
const defaultSpread = 0.25

// Estimator derives the confidence interval around a processing-time
// estimate. Preference order: explicit quantiles, then a standard
// deviation, then the historical residual band.
type Estimator struct {
	mu     sync.RWMutex
	spread float64
}

// NewEstimator builds an estimator with the default fallback band.
func NewEstimator() *Estimator {
	return &Estimator{spread: defaultSpread}
}

// Spread returns the current fallback band fraction.
func (e *Estimator) Spread() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.spread
}

// SetSpread replaces the fallback band fraction. Values outside (0, 1] are
// ignored.
func (e *Estimator) SetSpread(spread float64) {
	if spread <= 0 || spread > 1 {
		return
	}
	e.mu.Lock()
	e.spread = spread
	e.mu.Unlock()
}

// Interval bounds the rounded day estimate. The returned interval always
// satisfies 0 <= Lower <= days <= Upper.
func (e *Estimator) Interval(out inference.RawModelOutput, days int) prediction.ConfidenceInterval {
	var ci prediction.ConfidenceInterval

	switch {
	case out.DaysQuantiles != nil:
		ci.Lower = int(math.Round(out.DaysQuantiles.P10))
		ci.Upper = int(math.Round(out.DaysQuantiles.P90))
		ci.Provenance = prediction.ProvenanceCalibrated
	case out.DaysStdDev != nil:
		margin := zScore90 * *out.DaysStdDev
		ci.Lower = int(math.Round(float64(days) - margin))
		ci.Upper = int(math.Round(float64(days) + margin))
		ci.Provenance = prediction.ProvenanceCalibrated
	default:
		spread := e.Spread()
		ci.Lower = int(math.Round(float64(days) * (1 - spread)))
		ci.Upper = int(math.Round(float64(days) * (1 + spread)))
		ci.Provenance = prediction.ProvenanceHeuristic
	}

	if ci.Lower < 0 {
		ci.Lower = 0
	}
	if ci.Lower > days {
		ci.Lower = days
	}
	if ci.Upper < days {
		ci.Upper = days
	}
	return ci
}
