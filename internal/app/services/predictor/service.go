// Package predictor orchestrates a prediction request end to end: encode
// the case, resolve the active model, invoke it under a deadline, and
// normalize the raw output into the uniform result contract.
package predictor

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/visasight/prediction-service/internal/app/domain/model"
	"github.com/visasight/prediction-service/internal/app/domain/prediction"
	"github.com/visasight/prediction-service/internal/app/domain/visacase"
	"github.com/visasight/prediction-service/internal/app/features"
	"github.com/visasight/prediction-service/internal/app/inference"
	"github.com/visasight/prediction-service/internal/app/metrics"
	"github.com/visasight/prediction-service/internal/app/registry"
	"github.com/visasight/prediction-service/internal/app/storage"
	"github.com/visasight/prediction-service/internal/errors"
	"github.com/visasight/prediction-service/internal/logging"
)

// defaultTimeout bounds a single adapter invocation.
const defaultTimeout = 2 * time.Second

// Service is the prediction orchestrator.
type Service struct {
	encoder   *features.Encoder
	registry  *registry.Registry
	estimator *Estimator
	explainer *Explainer
	sink      storage.PredictionStore
	log       *logging.Logger
	timeout   time.Duration
	now       func() time.Time
	newID     func() string
}

// Config wires the orchestrator's collaborators. Registry is required; a
// nil Sink disables persistence.
type Config struct {
	Registry  *registry.Registry
	Sink      storage.PredictionStore
	Logger    *logging.Logger
	Timeout   time.Duration
	Estimator *Estimator
}

// New builds the orchestrator.
func New(cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default("predictor")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Estimator == nil {
		cfg.Estimator = NewEstimator()
	}
	return &Service{
		encoder:   features.NewEncoder(),
		registry:  cfg.Registry,
		estimator: cfg.Estimator,
		explainer: NewExplainer(),
		sink:      cfg.Sink,
		log:       cfg.Logger,
		timeout:   cfg.Timeout,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
}

// Estimator exposes the interval estimator for recalibration.
func (s *Service) Estimator() *Estimator {
	return s.estimator
}

// PredictStatus predicts the outcome distribution for a case, with a full
// explanation bundle attached when the model supports one.
func (s *Service) PredictStatus(ctx context.Context, caseID string, c visacase.Case) (prediction.Result, error) {
	return s.predict(ctx, caseID, c, true)
}

// PredictProcessingTime estimates remaining processing days for a case.
// It shares the status pipeline; the result simply omits the explanation.
func (s *Service) PredictProcessingTime(ctx context.Context, caseID string, c visacase.Case) (prediction.Result, error) {
	return s.predict(ctx, caseID, c, false)
}

// Explain returns the explanation bundle stored with the latest prediction
// for a case. Unknown cases get an illustrative bundle so the endpoint
// stays useful before the first prediction lands.
func (s *Service) Explain(ctx context.Context, caseID string) (*prediction.Explanation, error) {
	if s.sink != nil {
		rec, err := s.sink.GetLatestByCase(ctx, caseID)
		if err == nil && rec.Explanation != nil {
			return rec.Explanation, nil
		}
		if err != nil && err != storage.ErrNotFound {
			return nil, errors.Internal(err)
		}
	}
	return s.explainer.Illustrative(), nil
}

func (s *Service) predict(ctx context.Context, caseID string, c visacase.Case, withExplanation bool) (prediction.Result, error) {
	start := s.now()

	feats, err := s.encoder.Encode(c)
	if err != nil {
		return prediction.Result{}, err
	}

	// The descriptor is captured before invocation; a switch landing
	// mid-flight must not relabel this result.
	descriptor, adapter, err := s.registry.GetActive()
	if err != nil {
		return prediction.Result{}, err
	}

	out, err := s.invoke(ctx, descriptor, adapter, feats)
	if err != nil {
		metrics.RecordPrediction(string(descriptor.Family), "error", s.now().Sub(start))
		return prediction.Result{}, err
	}

	result := s.normalize(caseID, descriptor, out, withExplanation)
	metrics.RecordPrediction(string(descriptor.Family), "ok", s.now().Sub(start))

	s.persist(result)
	return result, nil
}

// invoke runs the adapter under the configured deadline. The inference
// goroutine is left to finish on its own after a timeout; adapters honor
// ctx and unwind promptly.
func (s *Service) invoke(ctx context.Context, d model.Descriptor, adapter inference.Adapter, feats features.Features) (inference.RawModelOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	type outcome struct {
		out inference.RawModelOutput
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		out, err := adapter.Predict(ctx, feats)
		done <- outcome{out: out, err: err}
	}()

	select {
	case <-ctx.Done():
		s.log.WithField("model_version", d.Version).Warn("inference deadline exceeded")
		return inference.RawModelOutput{}, errors.InferenceTimeout(d.Version, ctx.Err())
	case result := <-done:
		if result.err != nil {
			s.log.WithError(result.err).WithField("model_version", d.Version).Error("inference failed")
			return inference.RawModelOutput{}, errors.Inference(d.Version, result.err)
		}
		return result.out, nil
	}
}

// normalize converts a raw model output into the uniform result contract.
// Logit outputs go through softmax; distribution outputs are renormalized.
// The model version always comes from the registry descriptor.
func (s *Service) normalize(caseID string, d model.Descriptor, out inference.RawModelOutput, withExplanation bool) prediction.Result {
	probs := normalizeScores(out.StatusScores, out.ScoresAreLogits)

	days := int(math.Round(out.DaysEstimate))
	if days < 0 {
		days = 0
	}

	if caseID == "" {
		caseID = s.newID()
	}

	result := prediction.Result{
		ID:                     s.newID(),
		VisaCaseID:             caseID,
		PredictedStatus:        probs,
		EstimatedDaysRemaining: days,
		ConfidenceInterval:     s.estimator.Interval(out, days),
		ModelVersion:           d.Version,
		GeneratedAt:            s.now(),
	}
	if withExplanation {
		result.Explanation = s.explainer.Explain(out)
	}
	return result
}

// persist hands the result to the sink without blocking the response path.
// Sink failures are logged and counted, never surfaced.
func (s *Service) persist(result prediction.Result) {
	if s.sink == nil {
		return
	}

	rec := prediction.Record{
		ID:                     result.ID,
		VisaCaseID:             result.VisaCaseID,
		Approved:               result.PredictedStatus.Approved,
		RFE:                    result.PredictedStatus.RFE,
		Denied:                 result.PredictedStatus.Denied,
		EstimatedDaysRemaining: result.EstimatedDaysRemaining,
		IntervalLower:          result.ConfidenceInterval.Lower,
		IntervalUpper:          result.ConfidenceInterval.Upper,
		IntervalProvenance:     result.ConfidenceInterval.Provenance,
		ModelVersion:           result.ModelVersion,
		GeneratedAt:            result.GeneratedAt,
		Explanation:            result.Explanation,
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.sink.AppendPrediction(ctx, rec); err != nil {
			metrics.RecordSinkWrite(false)
			s.log.WithError(err).WithField("prediction_id", rec.ID).Error("sink write failed")
			return
		}
		metrics.RecordSinkWrite(true)
	}()
}

// normalizeScores maps the three raw scores onto the probability simplex.
func normalizeScores(scores [3]float64, logits bool) prediction.StatusProbabilities {
	if logits {
		// Softmax with max subtraction for numeric stability.
		max := scores[0]
		for _, v := range scores[1:] {
			if v > max {
				max = v
			}
		}
		sum := 0.0
		for i := range scores {
			scores[i] = math.Exp(scores[i] - max)
			sum += scores[i]
		}
		for i := range scores {
			scores[i] /= sum
		}
	} else {
		sum := 0.0
		for i := range scores {
			if scores[i] < 0 {
				scores[i] = 0
			}
			sum += scores[i]
		}
		if sum <= 0 {
			scores = [3]float64{1.0 / 3, 1.0 / 3, 1.0 / 3}
		} else {
			for i := range scores {
				scores[i] /= sum
			}
		}
	}

	return prediction.StatusProbabilities{
		Approved: scores[0],
		RFE:      scores[1],
		Denied:   scores[2],
	}
}
