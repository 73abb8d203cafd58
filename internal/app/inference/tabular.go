package inference

import (
	"context"
	"fmt"
	"math"

	"github.com/visasight/prediction-service/internal/app/domain/model"
	"github.com/visasight/prediction-service/internal/app/features"
)

// TabularAdapter scores the encoded feature vector with the additive
// per-class effects distilled from a tree ensemble (leaf averaging). Its
// status scores are direct probabilities, possibly drifted, never logits.
type TabularAdapter struct {
	family   model.Family
	artifact *Artifact
}

// NewTabular wraps a tabular-rf or tabular-xgb artifact.
func NewTabular(artifact *Artifact) (*TabularAdapter, error) {
	if artifact.Family != model.FamilyTabularRF && artifact.Family != model.FamilyTabularXGB {
		return nil, fmt.Errorf("artifact family %s is not tabular", artifact.Family)
	}
	return &TabularAdapter{family: artifact.Family, artifact: artifact}, nil
}

func (a *TabularAdapter) Family() model.Family { return a.family }

func (a *TabularAdapter) Predict(ctx context.Context, feats features.Features) (RawModelOutput, error) {
	if err := ctx.Err(); err != nil {
		return RawModelOutput{}, err
	}
	if len(feats.Vector) == 0 || len(feats.Vector) != len(feats.Names) {
		return RawModelOutput{}, fmt.Errorf("feature vector shape mismatch: %d values, %d names", len(feats.Vector), len(feats.Names))
	}

	values := featureMap(feats)

	var scores [3]float64
	copy(scores[:], a.artifact.ClassBias)

	contributions := make(map[string]float64, len(a.artifact.FeatureWeights))
	for name, weights := range a.artifact.FeatureWeights {
		value, ok := values[name]
		if !ok {
			return RawModelOutput{}, fmt.Errorf("artifact references unknown feature %q", name)
		}
		scaled := squash(value)
		for class := 0; class < 3; class++ {
			scores[class] += weights[class] * scaled
		}
		// Signed pull toward approval is what the explanation ranks.
		contributions[name] = weights[0] * scaled
	}

	total := 0.0
	for class := range scores {
		if scores[class] < 1e-3 {
			scores[class] = 1e-3
		}
		total += scores[class]
	}
	if total <= 0 || math.IsNaN(total) {
		return RawModelOutput{}, fmt.Errorf("degenerate class scores %v", scores)
	}

	days := a.artifact.DaysBase
	for name, weight := range a.artifact.DaysWeights {
		if value, ok := values[name]; ok {
			days += weight * squash(value)
		}
	}
	if days < 1 {
		days = 1
	}

	confidence := maxOf(scores) / total

	return RawModelOutput{
		StatusScores:         scores,
		ScoresAreLogits:      false,
		DaysEstimate:         days,
		DaysStdDev:           floatPtr(days * a.artifact.DaysSpread),
		FeatureContributions: contributions,
		Confidence:           floatPtr(confidence),
	}, nil
}

// squash compresses unbounded numeric features (day counts, vocabulary
// codes) into (-1, 1) so artifact weights stay in one scale.
func squash(v float64) float64 {
	return math.Tanh(v / 10.0)
}

func featureMap(feats features.Features) map[string]float64 {
	values := make(map[string]float64, len(feats.Names))
	for i, name := range feats.Names {
		values[name] = feats.Vector[i]
	}
	return values
}

func maxOf(scores [3]float64) float64 {
	max := scores[0]
	for _, s := range scores[1:] {
		if s > max {
			max = s
		}
	}
	return max
}
