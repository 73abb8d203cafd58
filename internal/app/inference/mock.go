package inference

import (
	"context"

	"github.com/visasight/prediction-service/internal/app/domain/model"
	"github.com/visasight/prediction-service/internal/app/features"
)

// MockVersion is the fixed version the mock descriptor carries.
const MockVersion = "v1.0.0"

// MockAdapter is the deterministic fallback family. It needs no trained
// artifact and always succeeds, which keeps the service operable on
// deployments that cannot hold real model weights. It is a legitimate model
// family, not an error path.
//
// Fixed output: status probabilities {approved: 0.72, rfe: 0.18,
// denied: 0.10}, a 42-day point estimate with P10/P90 of 28/56, an
// illustrative factor set, and confidence 0.85.
type MockAdapter struct{}

// NewMock builds the mock adapter.
func NewMock() *MockAdapter { return &MockAdapter{} }

// MockDescriptor is the registry record for the mock family.
func MockDescriptor() model.Descriptor {
	return model.Descriptor{
		Name:    "Mock Predictor",
		Version: MockVersion,
		Family:  model.FamilyMock,
	}
}

func (a *MockAdapter) Family() model.Family { return model.FamilyMock }

func (a *MockAdapter) Predict(_ context.Context, _ features.Features) (RawModelOutput, error) {
	return RawModelOutput{
		StatusScores:    [3]float64{0.72, 0.18, 0.10},
		ScoresAreLogits: false,
		DaysEstimate:    42,
		DaysQuantiles:   &Quantiles{P10: 28, P90: 56},
		FeatureContributions: map[string]float64{
			"prior_travel":        0.15,
			"sponsor_type":        0.12,
			"documents_submitted": 0.08,
			"consulate":           0.02,
			"rule_volatility":     -0.05,
		},
		Confidence: floatPtr(0.85),
	}, nil
}
