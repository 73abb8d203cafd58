// Package storage defines the persistence ports behind the serving layer.
// The sink is write-behind: prediction latency never depends on it.
package storage

import (
	"context"
	"errors"

	"github.com/visasight/prediction-service/internal/app/domain/model"
	"github.com/visasight/prediction-service/internal/app/domain/prediction"
)

// ErrNotFound is returned when a lookup matches no stored record.
var ErrNotFound = errors.New("record not found")

// Residual pairs a stored estimate with the eventually observed outcome.
type Residual struct {
	PredictedDays int
	ActualDays    int
}

// PredictionStore persists prediction records for audit, explanations, and
// recalibration.
type PredictionStore interface {
	AppendPrediction(ctx context.Context, rec prediction.Record) error
	GetPrediction(ctx context.Context, id string) (prediction.Record, error)
	GetLatestByCase(ctx context.Context, visaCaseID string) (prediction.Record, error)
	ListRecent(ctx context.Context, limit int) ([]prediction.Record, error)

	// RecordActualDays attaches the observed processing time once a decision
	// lands, turning the record into a residual sample.
	RecordActualDays(ctx context.Context, id string, actualDays int) error
	ListResiduals(ctx context.Context, limit int) ([]Residual, error)
}

// ModelStore persists descriptor snapshots so registrations and switches
// survive restarts for audit purposes.
type ModelStore interface {
	SaveDescriptor(ctx context.Context, d model.Descriptor) error
	ListDescriptors(ctx context.Context) ([]model.Descriptor, error)
}
