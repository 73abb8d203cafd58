package postgres

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	_ "github.com/lib/pq"

	"github.com/visasight/prediction-service/internal/app/domain/model"
	"github.com/visasight/prediction-service/internal/app/domain/prediction"
	"github.com/visasight/prediction-service/internal/app/storage"
)

func TestStoreIntegration(t *testing.T) {
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	store := New(db)
	ctx := context.Background()

	rec := prediction.Record{
		VisaCaseID:             "case-int-1",
		Approved:               0.72,
		RFE:                    0.18,
		Denied:                 0.10,
		EstimatedDaysRemaining: 42,
		IntervalLower:          28,
		IntervalUpper:          56,
		IntervalProvenance:     prediction.ProvenanceCalibrated,
		ModelVersion:           "v1.0.0",
	}
	if err := store.AppendPrediction(ctx, rec); err != nil {
		t.Fatalf("append prediction: %v", err)
	}

	latest, err := store.GetLatestByCase(ctx, "case-int-1")
	if err != nil {
		t.Fatalf("get latest by case: %v", err)
	}
	if err := store.RecordActualDays(ctx, latest.ID, 50); err != nil {
		t.Fatalf("record actual days: %v", err)
	}

	residuals, err := store.ListResiduals(ctx, 10)
	if err != nil {
		t.Fatalf("list residuals: %v", err)
	}
	if len(residuals) == 0 {
		t.Fatalf("expected at least one residual")
	}
}

func TestAppendPredictionSQL(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("INSERT INTO visa_predictions").
		WithArgs(sqlmock.AnyArg(), "case-1", 0.72, 0.18, 0.10,
			42, 28, 56, prediction.ProvenanceCalibrated,
			"v1.0.0", nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := New(db)
	rec := prediction.Record{
		VisaCaseID:             "case-1",
		Approved:               0.72,
		RFE:                    0.18,
		Denied:                 0.10,
		EstimatedDaysRemaining: 42,
		IntervalLower:          28,
		IntervalUpper:          56,
		IntervalProvenance:     prediction.ProvenanceCalibrated,
		ModelVersion:           "v1.0.0",
	}
	if err := store.AppendPrediction(context.Background(), rec); err != nil {
		t.Fatalf("AppendPrediction: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetPredictionNotFound(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT .+ FROM visa_predictions").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	store := New(db)
	if _, err := store.GetPrediction(context.Background(), "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("missing record error = %v, want ErrNotFound", err)
	}
}

func TestGetLatestByCaseScansExplanation(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	generatedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	columns := []string{
		"id", "visa_case_id", "approved", "rfe", "denied",
		"estimated_days", "interval_lower", "interval_upper", "interval_provenance",
		"model_version", "explanation", "generated_at", "actual_days",
	}
	explanation := `{"top_factors":[{"feature":"prior_travel","impact":"positive","contribution":0.15,"description":"d"}],"feature_importance":{"prior_travel":0.15},"model_confidence":0.85}`
	mock.ExpectQuery("SELECT .+ FROM visa_predictions").
		WithArgs("case-1").
		WillReturnRows(sqlmock.NewRows(columns).AddRow(
			"p1", "case-1", 0.72, 0.18, 0.10,
			42, 28, 56, prediction.ProvenanceCalibrated,
			"v1.0.0", []byte(explanation), generatedAt, nil))

	store := New(db)
	rec, err := store.GetLatestByCase(context.Background(), "case-1")
	if err != nil {
		t.Fatalf("GetLatestByCase: %v", err)
	}
	if rec.Explanation == nil || len(rec.Explanation.TopFactors) != 1 {
		t.Fatalf("explanation not scanned: %+v", rec.Explanation)
	}
	if rec.Explanation.TopFactors[0].Feature != "prior_travel" {
		t.Fatalf("factor = %+v", rec.Explanation.TopFactors[0])
	}
	if rec.ActualDays != nil {
		t.Fatalf("actual days should be nil, got %v", *rec.ActualDays)
	}
}

func TestRecordActualDaysNotFound(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("UPDATE visa_predictions").
		WithArgs("missing", 50).
		WillReturnResult(sqlmock.NewResult(0, 0))

	store := New(db)
	if err := store.RecordActualDays(context.Background(), "missing", 50); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("missing record error = %v, want ErrNotFound", err)
	}
}

func TestSaveDescriptorUpsert(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("INSERT INTO model_descriptors").
		WithArgs("v1.0.0-rf", "rf", "tabular-rf", nil, sqlmock.AnyArg(), true, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := New(db)
	d := model.Descriptor{
		Name:     "rf",
		Version:  "v1.0.0-rf",
		Family:   model.FamilyTabularRF,
		Metrics:  map[string]float64{"f1_macro": 0.81},
		IsActive: true,
	}
	if err := store.SaveDescriptor(context.Background(), d); err != nil {
		t.Fatalf("SaveDescriptor: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
