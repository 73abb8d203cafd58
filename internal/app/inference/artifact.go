package inference

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tidwall/gjson"

	"github.com/visasight/prediction-service/internal/app/domain/model"
)

// Artifact is the on-disk weight file published by the training pipeline,
// one JSON document per model family. The serving layer treats artifacts as
// opaque versioned blobs; only the matching adapter interprets the weights.
type Artifact struct {
	Family  model.Family `json:"family"`
	Name    string       `json:"name"`
	Version string       `json:"version"`

	// Tabular families: additive per-class effects over the feature vector.
	ClassBias      []float64            `json:"class_bias,omitempty"`
	FeatureWeights map[string][]float64 `json:"feature_weights,omitempty"`
	DaysBase       float64              `json:"days_base,omitempty"`
	DaysWeights    map[string]float64   `json:"days_weights,omitempty"`
	// DaysSpread is the per-tree spread of the time ensemble, expressed as
	// a fraction of the point estimate.
	DaysSpread float64 `json:"days_spread,omitempty"`

	// Transformer families: projection heads over the prompt embedding.
	EmbeddingDim  int                  `json:"embedding_dim,omitempty"`
	ClassHeads    [][]float64          `json:"class_heads,omitempty"`
	QuantileHeads map[string][]float64 `json:"quantile_heads,omitempty"`
}

// Validate checks the weight shapes the owning family needs.
func (a *Artifact) Validate() error {
	if !a.Family.Valid() {
		return fmt.Errorf("artifact declares unknown family %q", a.Family)
	}
	if a.Version == "" {
		return fmt.Errorf("artifact for family %s has no version", a.Family)
	}
	switch a.Family {
	case model.FamilyTabularRF, model.FamilyTabularXGB:
		if len(a.ClassBias) != 3 {
			return fmt.Errorf("family %s: class_bias must have 3 entries, has %d", a.Family, len(a.ClassBias))
		}
		for name, weights := range a.FeatureWeights {
			if len(weights) != 3 {
				return fmt.Errorf("family %s: feature %s must carry 3 class weights, has %d", a.Family, name, len(weights))
			}
		}
	case model.FamilyTransformerClassifier:
		if err := a.validateHeads([]string{"p50"}); err != nil {
			return err
		}
	case model.FamilyTransformerRegressor:
		if err := a.validateHeads([]string{"p10", "p50", "p90"}); err != nil {
			return err
		}
	}
	return nil
}

// validateHeads checks the multi-task transformer head shapes. Both
// transformer families ship class heads plus at least a median time head.
func (a *Artifact) validateHeads(quantiles []string) error {
	if a.EmbeddingDim <= 0 {
		return fmt.Errorf("family %s: embedding_dim must be positive", a.Family)
	}
	if len(a.ClassHeads) != 3 {
		return fmt.Errorf("family %s: needs 3 class heads, has %d", a.Family, len(a.ClassHeads))
	}
	for i, head := range a.ClassHeads {
		if len(head) != a.EmbeddingDim {
			return fmt.Errorf("family %s: class head %d has dim %d, want %d", a.Family, i, len(head), a.EmbeddingDim)
		}
	}
	for _, q := range quantiles {
		head, ok := a.QuantileHeads[q]
		if !ok {
			return fmt.Errorf("family %s: missing quantile head %s", a.Family, q)
		}
		if len(head) != a.EmbeddingDim {
			return fmt.Errorf("family %s: quantile head %s has dim %d, want %d", a.Family, q, len(head), a.EmbeddingDim)
		}
	}
	return nil
}

// Loader reads artifacts and training reports from the models directory.
type Loader struct {
	dir string
}

// NewLoader builds a loader over dir.
func NewLoader(dir string) *Loader {
	return &Loader{dir: dir}
}

// Load reads and validates the artifact for one family. A missing file is
// reported via os.IsNotExist so callers can treat the family as unavailable
// rather than broken.
func (l *Loader) Load(family model.Family) (*Artifact, error) {
	path := filepath.Join(l.dir, string(family)+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var artifact Artifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, fmt.Errorf("parse artifact %s: %w", path, err)
	}
	if artifact.Family == "" {
		artifact.Family = family
	}
	if err := artifact.Validate(); err != nil {
		return nil, err
	}
	return &artifact, nil
}

// metricPaths maps the descriptor metric name to its location inside the
// training report, which keeps the report format produced by the training
// pipeline (nested evaluation sections) out of the registry.
var metricPaths = map[string]string{
	"f1_macro":    "status_metrics.test.f1_macro",
	"accuracy":    "status_metrics.test.accuracy",
	"mae":         "time_metrics.test.mae",
	"ci_coverage": "time_metrics.test.ci_coverage",
}

// Report holds the training metadata attached to a descriptor.
type Report struct {
	Metrics   map[string]float64
	TrainedAt *time.Time
}

// LoadReport extracts descriptor metrics from the family's training report.
// A missing report is not an error; the descriptor simply carries no
// metrics.
func (l *Loader) LoadReport(family model.Family) (Report, error) {
	path := filepath.Join(l.dir, "training_report_"+string(family)+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Report{}, nil
		}
		return Report{}, err
	}

	report := Report{Metrics: make(map[string]float64)}
	for name, gjsonPath := range metricPaths {
		if value := gjson.GetBytes(data, gjsonPath); value.Exists() {
			report.Metrics[name] = value.Float()
		}
	}
	if len(report.Metrics) == 0 {
		report.Metrics = nil
	}
	if generated := gjson.GetBytes(data, "report_generated_at"); generated.Exists() {
		if t, err := time.Parse(time.RFC3339, generated.String()); err == nil {
			report.TrainedAt = &t
		}
	}
	return report, nil
}

// Descriptor builds the registry record for a loaded artifact.
func (l *Loader) Descriptor(artifact *Artifact) (model.Descriptor, error) {
	report, err := l.LoadReport(artifact.Family)
	if err != nil {
		return model.Descriptor{}, err
	}
	name := artifact.Name
	if name == "" {
		name = string(artifact.Family)
	}
	return model.Descriptor{
		Name:      name,
		Version:   artifact.Version,
		Family:    artifact.Family,
		TrainedAt: report.TrainedAt,
		Metrics:   report.Metrics,
	}, nil
}
