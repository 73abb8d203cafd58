// Package model defines registry metadata for loadable prediction models.
package model

import "time"

// Family identifies one interchangeable model implementation.
type Family string

const (
	FamilyTabularRF             Family = "tabular-rf"
	FamilyTabularXGB            Family = "tabular-xgb"
	FamilyTransformerClassifier Family = "transformer-classifier"
	FamilyTransformerRegressor  Family = "transformer-regressor"
	FamilyMock                  Family = "mock"
)

// Families lists every recognised family.
var Families = []Family{
	FamilyTabularRF,
	FamilyTabularXGB,
	FamilyTransformerClassifier,
	FamilyTransformerRegressor,
	FamilyMock,
}

// Valid reports whether f is a recognised family.
func (f Family) Valid() bool {
	for _, known := range Families {
		if f == known {
			return true
		}
	}
	return false
}

// Descriptor is the registry record identifying one loadable model version.
// Descriptors are immutable after registration except for IsActive, which
// only the switch operation toggles.
type Descriptor struct {
	Name      string             `json:"name"`
	Version   string             `json:"version"`
	Family    Family             `json:"family"`
	TrainedAt *time.Time         `json:"trained_at,omitempty"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
	IsActive  bool               `json:"is_active"`
}

// Clone returns a deep copy so registry readers never share the metrics map.
func (d Descriptor) Clone() Descriptor {
	out := d
	if d.Metrics != nil {
		out.Metrics = make(map[string]float64, len(d.Metrics))
		for k, v := range d.Metrics {
			out.Metrics[k] = v
		}
	}
	if d.TrainedAt != nil {
		t := *d.TrainedAt
		out.TrainedAt = &t
	}
	return out
}
