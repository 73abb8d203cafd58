package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/visasight/prediction-service/internal/app/domain/model"
	"github.com/visasight/prediction-service/internal/app/domain/prediction"
	"github.com/visasight/prediction-service/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.PredictionStore = (*Store)(nil)
var _ storage.ModelStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// --- PredictionStore --------------------------------------------------------

func (s *Store) AppendPrediction(ctx context.Context, rec prediction.Record) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.GeneratedAt.IsZero() {
		rec.GeneratedAt = time.Now().UTC()
	}

	explanationJSON, err := marshalExplanation(rec.Explanation)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO visa_predictions (
			id, visa_case_id, approved, rfe, denied,
			estimated_days, interval_lower, interval_upper, interval_provenance,
			model_version, explanation, generated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, rec.ID, rec.VisaCaseID, rec.Approved, rec.RFE, rec.Denied,
		rec.EstimatedDaysRemaining, rec.IntervalLower, rec.IntervalUpper, rec.IntervalProvenance,
		rec.ModelVersion, explanationJSON, rec.GeneratedAt)
	return err
}

func (s *Store) GetPrediction(ctx context.Context, id string) (prediction.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, visa_case_id, approved, rfe, denied,
		       estimated_days, interval_lower, interval_upper, interval_provenance,
		       model_version, explanation, generated_at, actual_days
		FROM visa_predictions
		WHERE id = $1
	`, id)
	return scanRecord(row)
}

func (s *Store) GetLatestByCase(ctx context.Context, visaCaseID string) (prediction.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, visa_case_id, approved, rfe, denied,
		       estimated_days, interval_lower, interval_upper, interval_provenance,
		       model_version, explanation, generated_at, actual_days
		FROM visa_predictions
		WHERE visa_case_id = $1
		ORDER BY generated_at DESC
		LIMIT 1
	`, visaCaseID)
	return scanRecord(row)
}

func (s *Store) ListRecent(ctx context.Context, limit int) ([]prediction.Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, visa_case_id, approved, rfe, denied,
		       estimated_days, interval_lower, interval_upper, interval_provenance,
		       model_version, explanation, generated_at, actual_days
		FROM visa_predictions
		ORDER BY generated_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []prediction.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) RecordActualDays(ctx context.Context, id string, actualDays int) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE visa_predictions
		SET actual_days = $2
		WHERE id = $1
	`, id, actualDays)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) ListResiduals(ctx context.Context, limit int) ([]storage.Residual, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT estimated_days, actual_days
		FROM visa_predictions
		WHERE actual_days IS NOT NULL
		ORDER BY generated_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.Residual
	for rows.Next() {
		var r storage.Residual
		if err := rows.Scan(&r.PredictedDays, &r.ActualDays); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- ModelStore -------------------------------------------------------------

func (s *Store) SaveDescriptor(ctx context.Context, d model.Descriptor) error {
	metricsJSON, err := json.Marshal(d.Metrics)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO model_descriptors (version, name, family, trained_at, metrics, is_active, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (version) DO UPDATE
		SET name = EXCLUDED.name, family = EXCLUDED.family, trained_at = EXCLUDED.trained_at,
		    metrics = EXCLUDED.metrics, is_active = EXCLUDED.is_active, updated_at = EXCLUDED.updated_at
	`, d.Version, d.Name, string(d.Family), d.TrainedAt, metricsJSON, d.IsActive, time.Now().UTC())
	return err
}

func (s *Store) ListDescriptors(ctx context.Context) ([]model.Descriptor, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT version, name, family, trained_at, metrics, is_active
		FROM model_descriptors
		ORDER BY updated_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Descriptor
	for rows.Next() {
		var (
			d          model.Descriptor
			family     string
			trainedAt  sql.NullTime
			metricsRaw []byte
		)
		if err := rows.Scan(&d.Version, &d.Name, &family, &trainedAt, &metricsRaw, &d.IsActive); err != nil {
			return nil, err
		}
		d.Family = model.Family(family)
		if trainedAt.Valid {
			t := trainedAt.Time
			d.TrainedAt = &t
		}
		if len(metricsRaw) > 0 {
			_ = json.Unmarshal(metricsRaw, &d.Metrics)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (prediction.Record, error) {
	var (
		rec            prediction.Record
		explanationRaw []byte
		actualDays     sql.NullInt64
	)
	err := row.Scan(&rec.ID, &rec.VisaCaseID, &rec.Approved, &rec.RFE, &rec.Denied,
		&rec.EstimatedDaysRemaining, &rec.IntervalLower, &rec.IntervalUpper, &rec.IntervalProvenance,
		&rec.ModelVersion, &explanationRaw, &rec.GeneratedAt, &actualDays)
	if errors.Is(err, sql.ErrNoRows) {
		return prediction.Record{}, storage.ErrNotFound
	}
	if err != nil {
		return prediction.Record{}, err
	}

	if len(explanationRaw) > 0 {
		var exp prediction.Explanation
		if err := json.Unmarshal(explanationRaw, &exp); err == nil {
			rec.Explanation = &exp
		}
	}
	if actualDays.Valid {
		v := int(actualDays.Int64)
		rec.ActualDays = &v
	}
	return rec, nil
}

func marshalExplanation(exp *prediction.Explanation) ([]byte, error) {
	if exp == nil {
		return nil, nil
	}
	return json.Marshal(exp)
}
