package inference

import (
	"context"
	"fmt"
	"hash/fnv"
	"strconv"

	"github.com/visasight/prediction-service/internal/app/domain/model"
	"github.com/visasight/prediction-service/internal/app/features"
)

// TransformerClassifier scores the textual case prompt with the class heads
// of a fine-tuned encoder. Its status output is logits; its time output is
// an auxiliary distilled head with no calibrated uncertainty, so intervals
// for this family fall back to the historical residual band.
type TransformerClassifier struct {
	artifact *Artifact
}

// NewTransformerClassifier wraps a transformer-classifier artifact.
func NewTransformerClassifier(artifact *Artifact) (*TransformerClassifier, error) {
	if artifact.Family != model.FamilyTransformerClassifier {
		return nil, fmt.Errorf("artifact family %s is not transformer-classifier", artifact.Family)
	}
	return &TransformerClassifier{artifact: artifact}, nil
}

func (a *TransformerClassifier) Family() model.Family { return model.FamilyTransformerClassifier }

func (a *TransformerClassifier) Predict(ctx context.Context, feats features.Features) (RawModelOutput, error) {
	if err := ctx.Err(); err != nil {
		return RawModelOutput{}, err
	}
	if feats.Prompt == "" {
		return RawModelOutput{}, fmt.Errorf("empty case prompt")
	}

	embedding := embed(feats.Prompt, a.artifact.EmbeddingDim)

	var logits [3]float64
	for class, head := range a.artifact.ClassHeads {
		logits[class] = dot(head, embedding)
	}

	days := dot(a.artifact.QuantileHeads["p50"], embedding)
	if days < 1 {
		days = 1
	}

	return RawModelOutput{
		StatusScores:    logits,
		ScoresAreLogits: true,
		DaysEstimate:    days,
	}, nil
}

// TransformerRegressor predicts processing time with quantile heads
// (P10/P50/P90) over the prompt embedding, the multi-task artifact's class
// heads covering the status half of the contract.
type TransformerRegressor struct {
	artifact *Artifact
}

// NewTransformerRegressor wraps a transformer-regressor artifact.
func NewTransformerRegressor(artifact *Artifact) (*TransformerRegressor, error) {
	if artifact.Family != model.FamilyTransformerRegressor {
		return nil, fmt.Errorf("artifact family %s is not transformer-regressor", artifact.Family)
	}
	return &TransformerRegressor{artifact: artifact}, nil
}

func (a *TransformerRegressor) Family() model.Family { return model.FamilyTransformerRegressor }

func (a *TransformerRegressor) Predict(ctx context.Context, feats features.Features) (RawModelOutput, error) {
	if err := ctx.Err(); err != nil {
		return RawModelOutput{}, err
	}
	if feats.Prompt == "" {
		return RawModelOutput{}, fmt.Errorf("empty case prompt")
	}

	embedding := embed(feats.Prompt, a.artifact.EmbeddingDim)

	median := dot(a.artifact.QuantileHeads["p50"], embedding)
	lower := dot(a.artifact.QuantileHeads["p10"], embedding)
	upper := dot(a.artifact.QuantileHeads["p90"], embedding)

	// Enforce quantile ordering the way the training head does: fold
	// crossed quantiles back around the median.
	if median < 1 {
		median = 1
	}
	if lower > median {
		lower = median
	}
	if lower < 0 {
		lower = 0
	}
	if upper < median {
		upper = median
	}

	var logits [3]float64
	for class, head := range a.artifact.ClassHeads {
		logits[class] = dot(head, embedding)
	}

	// Tight quantile band means the model is sure of its estimate.
	confidence := 1.0 - (upper-lower)/(2*median)
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return RawModelOutput{
		StatusScores:    logits,
		ScoresAreLogits: true,
		DaysEstimate:    median,
		DaysQuantiles:   &Quantiles{P10: lower, P90: upper},
		Confidence:      floatPtr(confidence),
	}, nil
}

// embed folds the prompt into a fixed-size pseudo-embedding. One FNV hash
// per dimension keeps the mapping deterministic and artifact-independent.
func embed(prompt string, dim int) []float64 {
	embedding := make([]float64, dim)
	for i := range embedding {
		h := fnv.New64a()
		h.Write([]byte(prompt))
		h.Write([]byte("#" + strconv.Itoa(i)))
		// Map the hash onto [-1, 1).
		embedding[i] = float64(int64(h.Sum64())) / float64(1<<63)
	}
	return embedding
}

func dot(weights, embedding []float64) float64 {
	sum := 0.0
	for i := range weights {
		sum += weights[i] * embedding[i]
	}
	return sum
}
