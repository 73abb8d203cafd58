package predictor

import (
	"context"
	"fmt"
	"sort"

	"github.com/visasight/prediction-service/internal/app/domain/prediction"
	"github.com/visasight/prediction-service/internal/app/features"
	"github.com/visasight/prediction-service/internal/app/inference"
)

// neutralThreshold separates a real signal from noise. Contributions within
// the threshold are labelled neutral.
const neutralThreshold = 0.025

// maxFactors caps the ranked factor list.
const maxFactors = 5

// defaultConfidence is reported when the model exposes no confidence
// signal.
const defaultConfidence = 0.5

// factorDescriptions renders advisory text per feature and direction.
var factorDescriptions = map[string]map[string]string{
	"prior_travel": {
		prediction.ImpactPositive: "Previous US travel history increases approval likelihood",
		prediction.ImpactNegative: "No prior US travel history on record",
	},
	"documents_submitted": {
		prediction.ImpactPositive: "Complete documentation submitted",
		prediction.ImpactNegative: "Consider submitting additional supporting documents",
	},
	"document_count": {
		prediction.ImpactPositive: "Complete documentation submitted",
		prediction.ImpactNegative: "Consider submitting additional supporting documents",
	},
	"document_completeness": {
		prediction.ImpactPositive: "Submitted documents cover the checklist for this visa type",
		prediction.ImpactNegative: "Submitted documents fall short of the checklist for this visa type",
	},
	"sponsor_type": {
		prediction.ImpactPositive: "Strong sponsorship demonstrates ties and support",
		prediction.ImpactNegative: "Sponsorship category carries additional scrutiny",
	},
	"consulate": {
		prediction.ImpactNeutral: "Consulate has standard processing times",
	},
	"nationality": {
		prediction.ImpactNeutral: "Processing aligns with typical patterns",
	},
	"visa_type": {
		prediction.ImpactNeutral: "Visa category processed normally",
	},
	"rule_volatility": {
		prediction.ImpactNegative: "Recent policy changes may cause delays",
	},
	"days_since_submission": {
		prediction.ImpactNeutral: "Case age is within normal processing range",
	},
}

// Explainer ranks model feature contributions into a client-facing bundle.
type Explainer struct{}

// NewExplainer builds an explainer.
func NewExplainer() *Explainer {
	return &Explainer{}
}

// Explain builds the explanation bundle from a raw model output. Models
// that expose no contributions yield a nil bundle.
func (e *Explainer) Explain(out inference.RawModelOutput) *prediction.Explanation {
	if len(out.FeatureContributions) == 0 {
		return nil
	}

	names := make([]string, 0, len(out.FeatureContributions))
	importance := make(map[string]float64, len(out.FeatureContributions))
	for name, contribution := range out.FeatureContributions {
		names = append(names, name)
		importance[name] = abs(contribution)
	}
	sort.Slice(names, func(i, j int) bool {
		ci, cj := importance[names[i]], importance[names[j]]
		if ci != cj {
			return ci > cj
		}
		return names[i] < names[j]
	})
	if len(names) > maxFactors {
		names = names[:maxFactors]
	}

	factors := make([]prediction.Factor, 0, len(names))
	for _, name := range names {
		contribution := out.FeatureContributions[name]
		impact := impactOf(contribution)
		factors = append(factors, prediction.Factor{
			Feature:      name,
			Impact:       impact,
			Contribution: contribution,
			Description:  describe(name, impact),
		})
	}

	confidence := defaultConfidence
	if out.Confidence != nil {
		confidence = *out.Confidence
	}

	return &prediction.Explanation{
		TopFactors:        factors,
		FeatureImportance: importance,
		ModelConfidence:   confidence,
	}
}

// Illustrative returns the explanation bundle served when no stored
// prediction exists for a case. It mirrors the mock model's factor set.
func (e *Explainer) Illustrative() *prediction.Explanation {
	out, _ := inference.NewMock().Predict(context.Background(), features.Features{})
	return e.Explain(out)
}

func impactOf(contribution float64) string {
	switch {
	case contribution > neutralThreshold:
		return prediction.ImpactPositive
	case contribution < -neutralThreshold:
		return prediction.ImpactNegative
	default:
		return prediction.ImpactNeutral
	}
}

func describe(feature, impact string) string {
	if text, ok := factorDescriptions[feature][impact]; ok {
		return text
	}
	switch impact {
	case prediction.ImpactPositive:
		return fmt.Sprintf("%s works in the applicant's favor", feature)
	case prediction.ImpactNegative:
		return fmt.Sprintf("%s weighs against the application", feature)
	default:
		return fmt.Sprintf("%s has no notable effect", feature)
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
