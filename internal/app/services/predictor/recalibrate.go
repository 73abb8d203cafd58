package predictor

import (
	"context"
	"sort"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/visasight/prediction-service/internal/app/storage"
	"github.com/visasight/prediction-service/internal/logging"
)

// minResidualSamples gates recalibration. Below this the default band is a
// better guess than a noisy quantile.
const minResidualSamples = 20

// residualWindow caps how many decided cases feed one recalibration.
const residualWindow = 500

// Recalibrator periodically re-derives the fallback confidence band from
// observed residuals of decided cases.
type Recalibrator struct {
	store     storage.PredictionStore
	estimator *Estimator
	log       *logging.Logger
	cron      *cron.Cron
}

// NewRecalibrator builds a recalibrator over the prediction store.
func NewRecalibrator(store storage.PredictionStore, estimator *Estimator, log *logging.Logger) *Recalibrator {
	if log == nil {
		log = logging.Default("recalibrator")
	}
	return &Recalibrator{
		store:     store,
		estimator: estimator,
		log:       log,
	}
}

// Start schedules recalibration with the given cron expression and runs
// one pass immediately so a restart does not wait a full period.
func (r *Recalibrator) Start(schedule string) error {
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		r.Run(ctx)
	}); err != nil {
		return err
	}
	c.Start()
	r.cron = c

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	r.Run(ctx)
	return nil
}

// Stop halts the schedule. Already-running jobs finish.
func (r *Recalibrator) Stop() {
	if r.cron != nil {
		r.cron.Stop()
	}
}

// Run performs one recalibration pass. The fallback band becomes the 90th
// percentile of the fractional residuals, so roughly nine in ten heuristic
// intervals would have covered the observed outcome.
func (r *Recalibrator) Run(ctx context.Context) {
	residuals, err := r.store.ListResiduals(ctx, residualWindow)
	if err != nil {
		r.log.WithError(err).Error("load residuals")
		return
	}
	if len(residuals) < minResidualSamples {
		r.log.WithField("samples", len(residuals)).Debug("not enough residuals to recalibrate")
		return
	}

	fractions := make([]float64, 0, len(residuals))
	for _, res := range residuals {
		predicted := float64(res.PredictedDays)
		if predicted < 1 {
			predicted = 1
		}
		diff := float64(res.ActualDays) - predicted
		if diff < 0 {
			diff = -diff
		}
		fractions = append(fractions, diff/predicted)
	}
	sort.Float64s(fractions)

	spread := fractions[len(fractions)*9/10]
	if spread > 1 {
		spread = 1
	}
	if spread <= 0 {
		return
	}

	previous := r.estimator.Spread()
	r.estimator.SetSpread(spread)
	r.log.WithField("samples", len(fractions)).
		WithField("previous", previous).
		WithField("spread", spread).
		Info("fallback confidence band recalibrated")
}
