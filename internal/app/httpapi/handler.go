// Package httpapi exposes the prediction service REST API.
package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/visasight/prediction-service/internal/app/domain/visacase"
	"github.com/visasight/prediction-service/internal/app/events"
	"github.com/visasight/prediction-service/internal/app/metrics"
	"github.com/visasight/prediction-service/internal/app/registry"
	"github.com/visasight/prediction-service/internal/app/services/predictor"
	"github.com/visasight/prediction-service/internal/errors"
	"github.com/visasight/prediction-service/internal/logging"
	"github.com/visasight/prediction-service/internal/middleware"
)

// handler bundles the HTTP endpoints of the serving layer.
type handler struct {
	predictor *predictor.Service
	registry  *registry.Registry
	hub       *events.Hub
	log       *logging.Logger
}

// Config wires the handler's collaborators.
type Config struct {
	Predictor *predictor.Service
	Registry  *registry.Registry
	Hub       *events.Hub
	Logger    *logging.Logger
	AdminAuth *middleware.AdminAuth
}

// NewHandler returns a router exposing the REST API.
func NewHandler(cfg Config) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default("httpapi")
	}
	h := &handler{
		predictor: cfg.Predictor,
		registry:  cfg.Registry,
		hub:       cfg.Hub,
		log:       cfg.Logger,
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/predict/status", h.predictStatus).Methods(http.MethodPost)
	api.HandleFunc("/predict/processing-time", h.predictProcessingTime).Methods(http.MethodPost)
	api.HandleFunc("/predict/explain/{case_id}", h.explain).Methods(http.MethodGet)
	api.HandleFunc("/models", h.listModels).Methods(http.MethodGet)
	api.HandleFunc("/models/active", h.activeModel).Methods(http.MethodGet)
	api.HandleFunc("/models/metrics/{model_type}", h.modelMetrics).Methods(http.MethodGet)

	switchHandler := http.Handler(http.HandlerFunc(h.switchModel))
	if cfg.AdminAuth != nil {
		switchHandler = cfg.AdminAuth.Handler(switchHandler)
	}
	api.Handle("/models/switch", switchHandler).Methods(http.MethodPost)

	if h.hub != nil {
		api.Handle("/models/events", h.hub).Methods(http.MethodGet)
	}

	return r
}

// predictRequest is the shared body of both prediction endpoints.
type predictRequest struct {
	CaseID   string        `json:"case_id"`
	CaseData visacase.Case `json:"case_data"`
}

func (h *handler) predictStatus(w http.ResponseWriter, r *http.Request) {
	var payload predictRequest
	if err := decodeJSON(r.Body, &payload); err != nil {
		h.writeServiceError(w, r, errors.InvalidCaseData("malformed request body: %v", err))
		return
	}

	result, err := h.predictor.PredictStatus(r.Context(), payload.CaseID, payload.CaseData)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) predictProcessingTime(w http.ResponseWriter, r *http.Request) {
	var payload predictRequest
	if err := decodeJSON(r.Body, &payload); err != nil {
		h.writeServiceError(w, r, errors.InvalidCaseData("malformed request body: %v", err))
		return
	}

	result, err := h.predictor.PredictProcessingTime(r.Context(), payload.CaseID, payload.CaseData)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) explain(w http.ResponseWriter, r *http.Request) {
	caseID := mux.Vars(r)["case_id"]

	explanation, err := h.predictor.Explain(r.Context(), caseID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, explanation)
}

func (h *handler) listModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"models": h.registry.List(),
	})
}

func (h *handler) activeModel(w http.ResponseWriter, r *http.Request) {
	active, _, err := h.registry.GetActive()
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"model_type": string(active.Family),
		"version":    active.Version,
	})
}

func (h *handler) switchModel(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ModelType string `json:"model_type"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		h.writeServiceError(w, r, errors.InvalidCaseData("malformed request body: %v", err))
		return
	}
	if payload.ModelType == "" {
		h.writeServiceError(w, r, errors.InvalidCaseData("model_type is required"))
		return
	}

	previous, err := h.registry.Switch(r.Context(), payload.ModelType)
	if err != nil {
		metrics.RecordModelSwitch(payload.ModelType, false)
		h.writeServiceError(w, r, err)
		return
	}

	// Resolve the target again rather than reading the active pointer: a
	// concurrent switch may already have moved it, and the response must
	// describe what this request activated.
	activated, err := h.registry.Get(payload.ModelType)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	metrics.RecordModelSwitch(activated.Version, true)

	writeJSON(w, http.StatusOK, map[string]string{
		"message":          fmt.Sprintf("switched active model from %s to %s", previous, activated.Version),
		"model_type":       string(activated.Family),
		"model_version":    activated.Version,
		"previous_version": previous,
	})
}

func (h *handler) modelMetrics(w http.ResponseWriter, r *http.Request) {
	target := mux.Vars(r)["model_type"]

	descriptor, err := h.registry.Get(target)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"model_type": string(descriptor.Family),
		"version":    descriptor.Version,
		"metrics":    descriptor.Metrics,
	})
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	}
	if active, _, err := h.registry.GetActive(); err == nil {
		body["active_model"] = active.Version
	}
	writeJSON(w, http.StatusOK, body)
}

// writeServiceError maps any error onto the standard envelope, logging the
// internal ones whose details the client must not see.
func (h *handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	serviceErr := errors.From(err)
	if serviceErr.Kind == errors.KindInternal || serviceErr.Kind == errors.KindInference {
		h.log.WithContext(r.Context()).WithError(err).Error("request failed")
	}
	writeJSON(w, serviceErr.HTTPStatus, map[string]interface{}{
		"error": map[string]string{
			"kind":    string(serviceErr.Kind),
			"message": serviceErr.Message,
		},
	})
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
