package memory

import (
	"context"
	"sync"

	"github.com/visasight/prediction-service/internal/app/domain/model"
	"github.com/visasight/prediction-service/internal/app/domain/prediction"
	"github.com/visasight/prediction-service/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
type Store struct {
	mu           sync.RWMutex
	records      map[string]prediction.Record
	order        []string
	latestByCase map[string]string
	descriptors  []model.Descriptor
}

var _ storage.PredictionStore = (*Store)(nil)
var _ storage.ModelStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		records:      make(map[string]prediction.Record),
		latestByCase: make(map[string]string),
	}
}

// PredictionStore implementation ----------------------------------------------

func (s *Store) AppendPrediction(_ context.Context, rec prediction.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.ID]; !exists {
		s.order = append(s.order, rec.ID)
	}
	s.records[rec.ID] = cloneRecord(rec)
	if rec.VisaCaseID != "" {
		s.latestByCase[rec.VisaCaseID] = rec.ID
	}
	return nil
}

func (s *Store) GetPrediction(_ context.Context, id string) (prediction.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return prediction.Record{}, storage.ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (s *Store) GetLatestByCase(_ context.Context, visaCaseID string) (prediction.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.latestByCase[visaCaseID]
	if !ok {
		return prediction.Record{}, storage.ErrNotFound
	}
	return cloneRecord(s.records[id]), nil
}

func (s *Store) ListRecent(_ context.Context, limit int) ([]prediction.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.order) {
		limit = len(s.order)
	}
	out := make([]prediction.Record, 0, limit)
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, cloneRecord(s.records[s.order[i]]))
	}
	return out, nil
}

func (s *Store) RecordActualDays(_ context.Context, id string, actualDays int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return storage.ErrNotFound
	}
	rec.ActualDays = &actualDays
	s.records[id] = rec
	return nil
}

func (s *Store) ListResiduals(_ context.Context, limit int) ([]storage.Residual, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = len(s.order)
	}
	out := make([]storage.Residual, 0, limit)
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		rec := s.records[s.order[i]]
		if rec.ActualDays == nil {
			continue
		}
		out = append(out, storage.Residual{
			PredictedDays: rec.EstimatedDaysRemaining,
			ActualDays:    *rec.ActualDays,
		})
	}
	return out, nil
}

// ModelStore implementation ---------------------------------------------------

func (s *Store) SaveDescriptor(_ context.Context, d model.Descriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.descriptors {
		if s.descriptors[i].Version == d.Version {
			s.descriptors[i] = d.Clone()
			return nil
		}
	}
	s.descriptors = append(s.descriptors, d.Clone())
	return nil
}

func (s *Store) ListDescriptors(_ context.Context) ([]model.Descriptor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Descriptor, 0, len(s.descriptors))
	for _, d := range s.descriptors {
		out = append(out, d.Clone())
	}
	return out, nil
}

func cloneRecord(rec prediction.Record) prediction.Record {
	out := rec
	if rec.ActualDays != nil {
		v := *rec.ActualDays
		out.ActualDays = &v
	}
	if rec.Explanation != nil {
		exp := *rec.Explanation
		exp.TopFactors = append([]prediction.Factor(nil), rec.Explanation.TopFactors...)
		if rec.Explanation.FeatureImportance != nil {
			exp.FeatureImportance = make(map[string]float64, len(rec.Explanation.FeatureImportance))
			for k, v := range rec.Explanation.FeatureImportance {
				exp.FeatureImportance[k] = v
			}
		}
		out.Explanation = &exp
	}
	return out
}
