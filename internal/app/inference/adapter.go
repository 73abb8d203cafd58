// Package inference wraps each model family's native scoring routine behind
// one narrow capability contract so the orchestrator never branches on model
// type.
package inference

import (
	"context"

	"github.com/visasight/prediction-service/internal/app/domain/model"
	"github.com/visasight/prediction-service/internal/app/features"
)

// Quantiles carries a model's own P10/P90 processing-time estimates.
type Quantiles struct {
	P10 float64
	P90 float64
}

// RawModelOutput is the unnormalized output shape every adapter produces.
// StatusScores may be logits or (possibly drifted) probabilities; the
// adapter reports which via ScoresAreLogits so the orchestrator applies the
// right normalization. Index order: approved, rfe, denied.
type RawModelOutput struct {
	StatusScores    [3]float64
	ScoresAreLogits bool

	DaysEstimate float64
	// DaysStdDev and DaysQuantiles are the model's own uncertainty signal;
	// both nil means the confidence estimator falls back to the historical
	// residual band.
	DaysStdDev    *float64
	DaysQuantiles *Quantiles

	// FeatureContributions is nil for families without attribution support.
	FeatureContributions map[string]float64
	// Confidence is the model's own calibration estimate in [0,1], nil when
	// the family does not report one.
	Confidence *float64
}

// Adapter is the single capability every model family implements. Predict
// either returns a complete RawModelOutput or an error; never a partial
// result.
type Adapter interface {
	Family() model.Family
	Predict(ctx context.Context, feats features.Features) (RawModelOutput, error)
}

func floatPtr(v float64) *float64 { return &v }
