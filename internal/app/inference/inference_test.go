package inference

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/visasight/prediction-service/internal/app/domain/model"
	"github.com/visasight/prediction-service/internal/app/features"
)

func testFeatures() features.Features {
	return features.Features{
		Names:  []string{"document_count", "prior_travel", "days_since_submission"},
		Vector: []float64{4, 1, 45},
		Prompt: "Visa application: F-1 visa, applicant from India, consulate Mumbai.",
	}
}

func TestMockAdapterFixedOutput(t *testing.T) {
	out, err := NewMock().Predict(context.Background(), features.Features{})
	if err != nil {
		t.Fatalf("mock Predict: %v", err)
	}

	want := [3]float64{0.72, 0.18, 0.10}
	if out.StatusScores != want {
		t.Fatalf("mock scores = %v, want %v", out.StatusScores, want)
	}
	if out.ScoresAreLogits {
		t.Fatalf("mock scores must be probabilities, not logits")
	}
	if out.DaysEstimate != 42 {
		t.Fatalf("mock days = %v, want 42", out.DaysEstimate)
	}
	if out.DaysQuantiles == nil || out.DaysQuantiles.P10 != 28 || out.DaysQuantiles.P90 != 56 {
		t.Fatalf("mock quantiles = %+v, want P10=28 P90=56", out.DaysQuantiles)
	}
	if out.Confidence == nil || *out.Confidence != 0.85 {
		t.Fatalf("mock confidence = %v, want 0.85", out.Confidence)
	}
	if out.FeatureContributions["prior_travel"] != 0.15 {
		t.Fatalf("mock contributions = %v", out.FeatureContributions)
	}
}

func tabularArtifact() *Artifact {
	return &Artifact{
		Family:    model.FamilyTabularRF,
		Version:   "v1.0.0-rf",
		ClassBias: []float64{0.5, 0.3, 0.2},
		FeatureWeights: map[string][]float64{
			"document_count": {0.2, -0.1, -0.1},
			"prior_travel":   {0.15, -0.05, -0.1},
		},
		DaysBase:    60,
		DaysWeights: map[string]float64{"days_since_submission": -20},
		DaysSpread:  0.2,
	}
}

func TestTabularAdapterDeterministic(t *testing.T) {
	adapter, err := NewTabular(tabularArtifact())
	if err != nil {
		t.Fatalf("NewTabular: %v", err)
	}

	first, err := adapter.Predict(context.Background(), testFeatures())
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	second, err := adapter.Predict(context.Background(), testFeatures())
	if err != nil {
		t.Fatalf("repeat Predict: %v", err)
	}
	if first.StatusScores != second.StatusScores || first.DaysEstimate != second.DaysEstimate {
		t.Fatalf("identical features produced different outputs: %+v vs %+v", first, second)
	}

	for class, score := range first.StatusScores {
		if score <= 0 {
			t.Fatalf("class %d score %v is not positive", class, score)
		}
	}
	if first.ScoresAreLogits {
		t.Fatalf("tabular scores must be probabilities, not logits")
	}
	if first.DaysEstimate < 1 {
		t.Fatalf("days estimate %v below floor", first.DaysEstimate)
	}
	if first.DaysStdDev == nil {
		t.Fatalf("tabular output missing spread")
	}
	if got := *first.DaysStdDev; math.Abs(got-first.DaysEstimate*0.2) > 1e-9 {
		t.Fatalf("spread = %v, want %v", got, first.DaysEstimate*0.2)
	}
	if len(first.FeatureContributions) != 2 {
		t.Fatalf("contributions = %v, want one per weighted feature", first.FeatureContributions)
	}
	if first.FeatureContributions["prior_travel"] <= 0 {
		t.Fatalf("positive weight with positive value must contribute positively, got %v", first.FeatureContributions["prior_travel"])
	}
}

func TestTabularAdapterUnknownFeature(t *testing.T) {
	artifact := tabularArtifact()
	artifact.FeatureWeights["rule_volatility"] = []float64{0.1, 0.1, 0.1}
	adapter, err := NewTabular(artifact)
	if err != nil {
		t.Fatalf("NewTabular: %v", err)
	}

	if _, err := adapter.Predict(context.Background(), testFeatures()); err == nil {
		t.Fatalf("expected error for artifact referencing unknown feature")
	}
}

func TestTabularRejectsWrongFamily(t *testing.T) {
	artifact := tabularArtifact()
	artifact.Family = model.FamilyTransformerClassifier
	if _, err := NewTabular(artifact); err == nil {
		t.Fatalf("expected family mismatch error")
	}
}

func transformerArtifact(family model.Family) *Artifact {
	dim := 8
	head := func(seed float64) []float64 {
		out := make([]float64, dim)
		for i := range out {
			out[i] = seed + float64(i)*0.1
		}
		return out
	}
	return &Artifact{
		Family:       family,
		Version:      "v1.0.0-" + string(family),
		EmbeddingDim: dim,
		ClassHeads:   [][]float64{head(0.5), head(-0.2), head(-0.4)},
		QuantileHeads: map[string][]float64{
			"p10": head(20),
			"p50": head(45),
			"p90": head(80),
		},
	}
}

func TestTransformerClassifierOutputsLogits(t *testing.T) {
	adapter, err := NewTransformerClassifier(transformerArtifact(model.FamilyTransformerClassifier))
	if err != nil {
		t.Fatalf("NewTransformerClassifier: %v", err)
	}

	first, err := adapter.Predict(context.Background(), testFeatures())
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	second, err := adapter.Predict(context.Background(), testFeatures())
	if err != nil {
		t.Fatalf("repeat Predict: %v", err)
	}
	if first.StatusScores != second.StatusScores {
		t.Fatalf("identical prompt produced different logits")
	}
	if !first.ScoresAreLogits {
		t.Fatalf("classifier scores must be logits")
	}
	if first.DaysEstimate < 1 {
		t.Fatalf("days estimate %v below floor", first.DaysEstimate)
	}
	if first.DaysQuantiles != nil || first.DaysStdDev != nil {
		t.Fatalf("classifier must not claim calibrated time uncertainty")
	}

	if _, err := adapter.Predict(context.Background(), features.Features{}); err == nil {
		t.Fatalf("expected error for empty prompt")
	}
}

func TestTransformerRegressorQuantileOrdering(t *testing.T) {
	adapter, err := NewTransformerRegressor(transformerArtifact(model.FamilyTransformerRegressor))
	if err != nil {
		t.Fatalf("NewTransformerRegressor: %v", err)
	}

	out, err := adapter.Predict(context.Background(), testFeatures())
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if out.DaysQuantiles == nil {
		t.Fatalf("regressor output missing quantiles")
	}
	q := out.DaysQuantiles
	if q.P10 < 0 || q.P10 > out.DaysEstimate || q.P90 < out.DaysEstimate {
		t.Fatalf("quantiles out of order: p10=%v median=%v p90=%v", q.P10, out.DaysEstimate, q.P90)
	}
	if out.Confidence == nil || *out.Confidence < 0 || *out.Confidence > 1 {
		t.Fatalf("confidence = %v, want within [0, 1]", out.Confidence)
	}
	if !out.ScoresAreLogits {
		t.Fatalf("regressor status scores must be logits")
	}
}

func TestArtifactValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Artifact)
		family model.Family
	}{
		{"missing version", func(a *Artifact) { a.Version = "" }, model.FamilyTabularRF},
		{"short class bias", func(a *Artifact) { a.ClassBias = []float64{1, 2} }, model.FamilyTabularRF},
		{"ragged feature weights", func(a *Artifact) { a.FeatureWeights["document_count"] = []float64{1} }, model.FamilyTabularRF},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			artifact := tabularArtifact()
			tc.mutate(artifact)
			if err := artifact.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}

	t.Run("regressor missing quantile head", func(t *testing.T) {
		artifact := transformerArtifact(model.FamilyTransformerRegressor)
		delete(artifact.QuantileHeads, "p10")
		if err := artifact.Validate(); err == nil {
			t.Fatalf("expected validation error")
		}
	})

	t.Run("classifier tolerates missing outer quantiles", func(t *testing.T) {
		artifact := transformerArtifact(model.FamilyTransformerClassifier)
		delete(artifact.QuantileHeads, "p10")
		delete(artifact.QuantileHeads, "p90")
		if err := artifact.Validate(); err != nil {
			t.Fatalf("Validate: %v", err)
		}
	})
}

func TestLoaderLoadAndReport(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "tabular-rf.json"), `{
		"family": "tabular-rf",
		"name": "Random Forest",
		"version": "v1.0.0-rf",
		"class_bias": [0.5, 0.3, 0.2],
		"feature_weights": {"document_count": [0.2, -0.1, -0.1]},
		"days_base": 60,
		"days_weights": {"days_since_submission": -20},
		"days_spread": 0.2
	}`)
	writeFile(t, filepath.Join(dir, "training_report_tabular-rf.json"), `{
		"report_generated_at": "2026-02-10T09:30:00Z",
		"status_metrics": {"test": {"f1_macro": 0.81, "accuracy": 0.84}},
		"time_metrics": {"test": {"mae": 9.4, "ci_coverage": 0.79}}
	}`)

	loader := NewLoader(dir)
	artifact, err := loader.Load(model.FamilyTabularRF)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if artifact.Version != "v1.0.0-rf" {
		t.Fatalf("artifact version = %s", artifact.Version)
	}

	descriptor, err := loader.Descriptor(artifact)
	if err != nil {
		t.Fatalf("Descriptor: %v", err)
	}
	if descriptor.Name != "Random Forest" || descriptor.Family != model.FamilyTabularRF {
		t.Fatalf("descriptor = %+v", descriptor)
	}
	if descriptor.Metrics["f1_macro"] != 0.81 || descriptor.Metrics["mae"] != 9.4 {
		t.Fatalf("descriptor metrics = %v", descriptor.Metrics)
	}
	if descriptor.TrainedAt == nil || descriptor.TrainedAt.Year() != 2026 {
		t.Fatalf("descriptor trained_at = %v", descriptor.TrainedAt)
	}
}

func TestLoaderMissingArtifact(t *testing.T) {
	loader := NewLoader(t.TempDir())
	if _, err := loader.Load(model.FamilyTabularXGB); !os.IsNotExist(err) {
		t.Fatalf("missing artifact error = %v, want not-exist", err)
	}
}

func TestLoaderMissingReport(t *testing.T) {
	loader := NewLoader(t.TempDir())
	report, err := loader.LoadReport(model.FamilyTabularRF)
	if err != nil {
		t.Fatalf("LoadReport: %v", err)
	}
	if report.Metrics != nil || report.TrainedAt != nil {
		t.Fatalf("missing report must yield empty metadata, got %+v", report)
	}
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
