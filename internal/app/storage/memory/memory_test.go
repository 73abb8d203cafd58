package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/visasight/prediction-service/internal/app/domain/model"
	"github.com/visasight/prediction-service/internal/app/domain/prediction"
	"github.com/visasight/prediction-service/internal/app/storage"
)

func sampleRecord(id, caseID string) prediction.Record {
	return prediction.Record{
		ID:                     id,
		VisaCaseID:             caseID,
		Approved:               0.72,
		RFE:                    0.18,
		Denied:                 0.10,
		EstimatedDaysRemaining: 42,
		IntervalLower:          28,
		IntervalUpper:          56,
		IntervalProvenance:     prediction.ProvenanceCalibrated,
		ModelVersion:           "v1.0.0",
		GeneratedAt:            time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestAppendAndGet(t *testing.T) {
	store := New()
	ctx := context.Background()

	if err := store.AppendPrediction(ctx, sampleRecord("p1", "case-1")); err != nil {
		t.Fatalf("AppendPrediction: %v", err)
	}

	rec, err := store.GetPrediction(ctx, "p1")
	if err != nil {
		t.Fatalf("GetPrediction: %v", err)
	}
	if rec.VisaCaseID != "case-1" || rec.EstimatedDaysRemaining != 42 {
		t.Fatalf("record = %+v", rec)
	}

	if _, err := store.GetPrediction(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("missing record error = %v, want ErrNotFound", err)
	}
}

func TestGetLatestByCase(t *testing.T) {
	store := New()
	ctx := context.Background()

	first := sampleRecord("p1", "case-1")
	second := sampleRecord("p2", "case-1")
	second.ModelVersion = "v1.0.0-rf"
	if err := store.AppendPrediction(ctx, first); err != nil {
		t.Fatalf("append first: %v", err)
	}
	if err := store.AppendPrediction(ctx, second); err != nil {
		t.Fatalf("append second: %v", err)
	}

	rec, err := store.GetLatestByCase(ctx, "case-1")
	if err != nil {
		t.Fatalf("GetLatestByCase: %v", err)
	}
	if rec.ID != "p2" || rec.ModelVersion != "v1.0.0-rf" {
		t.Fatalf("latest record = %+v, want p2", rec)
	}

	if _, err := store.GetLatestByCase(ctx, "case-9"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("missing case error = %v, want ErrNotFound", err)
	}
}

func TestListRecentNewestFirst(t *testing.T) {
	store := New()
	ctx := context.Background()

	for _, id := range []string{"p1", "p2", "p3"} {
		if err := store.AppendPrediction(ctx, sampleRecord(id, "case-"+id)); err != nil {
			t.Fatalf("append %s: %v", id, err)
		}
	}

	recent, err := store.ListRecent(ctx, 2)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(recent) != 2 || recent[0].ID != "p3" || recent[1].ID != "p2" {
		t.Fatalf("recent = %+v, want p3 then p2", recent)
	}
}

func TestResiduals(t *testing.T) {
	store := New()
	ctx := context.Background()

	if err := store.AppendPrediction(ctx, sampleRecord("p1", "case-1")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.AppendPrediction(ctx, sampleRecord("p2", "case-2")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.RecordActualDays(ctx, "p1", 50); err != nil {
		t.Fatalf("RecordActualDays: %v", err)
	}

	residuals, err := store.ListResiduals(ctx, 10)
	if err != nil {
		t.Fatalf("ListResiduals: %v", err)
	}
	if len(residuals) != 1 {
		t.Fatalf("residuals = %+v, want exactly the decided record", residuals)
	}
	if residuals[0].PredictedDays != 42 || residuals[0].ActualDays != 50 {
		t.Fatalf("residual = %+v", residuals[0])
	}

	if err := store.RecordActualDays(ctx, "missing", 10); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("missing record error = %v, want ErrNotFound", err)
	}
}

func TestClonesProtectStoredRecords(t *testing.T) {
	store := New()
	ctx := context.Background()

	rec := sampleRecord("p1", "case-1")
	rec.Explanation = &prediction.Explanation{
		TopFactors:        []prediction.Factor{{Feature: "prior_travel", Impact: prediction.ImpactPositive, Contribution: 0.15}},
		FeatureImportance: map[string]float64{"prior_travel": 0.15},
		ModelConfidence:   0.85,
	}
	if err := store.AppendPrediction(ctx, rec); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := store.GetPrediction(ctx, "p1")
	if err != nil {
		t.Fatalf("GetPrediction: %v", err)
	}
	got.Explanation.FeatureImportance["prior_travel"] = 0
	got.Explanation.TopFactors[0].Feature = "mutated"

	again, err := store.GetPrediction(ctx, "p1")
	if err != nil {
		t.Fatalf("repeat GetPrediction: %v", err)
	}
	if again.Explanation.FeatureImportance["prior_travel"] != 0.15 {
		t.Fatalf("caller mutation leaked into stored importance map")
	}
	if again.Explanation.TopFactors[0].Feature != "prior_travel" {
		t.Fatalf("caller mutation leaked into stored factors")
	}
}

func TestModelStoreUpsert(t *testing.T) {
	store := New()
	ctx := context.Background()

	d := model.Descriptor{Name: "rf", Version: "v1.0.0-rf", Family: model.FamilyTabularRF}
	if err := store.SaveDescriptor(ctx, d); err != nil {
		t.Fatalf("SaveDescriptor: %v", err)
	}
	d.IsActive = true
	if err := store.SaveDescriptor(ctx, d); err != nil {
		t.Fatalf("SaveDescriptor upsert: %v", err)
	}

	descriptors, err := store.ListDescriptors(ctx)
	if err != nil {
		t.Fatalf("ListDescriptors: %v", err)
	}
	if len(descriptors) != 1 || !descriptors[0].IsActive {
		t.Fatalf("descriptors = %+v, want one active record", descriptors)
	}
}
