// Package prediction defines the uniform result contract returned by the
// orchestrator regardless of which model family produced it.
package prediction

import "time"

// Impact labels the direction of an explanation factor.
const (
	ImpactPositive = "positive"
	ImpactNegative = "negative"
	ImpactNeutral  = "neutral"
)

// Interval provenance values. Calibrated intervals come from the model's own
// uncertainty signal; heuristic ones from the historical residual band.
const (
	ProvenanceCalibrated = "calibrated"
	ProvenanceHeuristic  = "heuristic"
)

// StatusProbabilities is the normalized outcome distribution. The three
// fields always sum to 1 within 1e-6.
type StatusProbabilities struct {
	Approved float64 `json:"approved"`
	RFE      float64 `json:"rfe"`
	Denied   float64 `json:"denied"`
}

// ConfidenceInterval bounds the processing-time estimate.
// Lower <= point estimate <= Upper, and Lower >= 0.
type ConfidenceInterval struct {
	Lower      int    `json:"lower"`
	Upper      int    `json:"upper"`
	Provenance string `json:"provenance"`
}

// Factor is one ranked contribution to a prediction.
type Factor struct {
	Feature      string  `json:"feature"`
	Impact       string  `json:"impact"`
	Contribution float64 `json:"contribution"`
	Description  string  `json:"description"`
}

// Explanation carries the top factors by absolute contribution, at most five,
// sorted descending.
type Explanation struct {
	TopFactors        []Factor           `json:"top_factors"`
	FeatureImportance map[string]float64 `json:"feature_importance"`
	ModelConfidence   float64            `json:"model_confidence"`
}

// Result is the single normalized prediction contract.
type Result struct {
	ID                     string              `json:"id"`
	VisaCaseID             string              `json:"visa_case_id"`
	PredictedStatus        StatusProbabilities `json:"predicted_status"`
	EstimatedDaysRemaining int                 `json:"estimated_days_remaining"`
	ConfidenceInterval     ConfidenceInterval  `json:"confidence_interval"`
	ModelVersion           string              `json:"model_version"`
	GeneratedAt            time.Time           `json:"generated_at"`
	Explanation            *Explanation        `json:"explanation,omitempty"`
}

// Record is the row appended to the persistence sink after a prediction has
// been returned to the caller. Sink failures never fail the prediction.
type Record struct {
	ID                     string
	VisaCaseID             string
	Approved               float64
	RFE                    float64
	Denied                 float64
	EstimatedDaysRemaining int
	IntervalLower          int
	IntervalUpper          int
	IntervalProvenance     string
	ModelVersion           string
	GeneratedAt            time.Time
	Explanation            *Explanation
	// ActualDays is filled in later by the case-tracking collaborator once
	// a decision lands; it feeds residual recalibration.
	ActualDays *int
}
