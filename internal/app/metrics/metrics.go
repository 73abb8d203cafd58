package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "visasight",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "visasight",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "visasight",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	predictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "visasight",
			Subsystem: "predictions",
			Name:      "total",
			Help:      "Total number of predictions served.",
		},
		[]string{"family", "status"},
	)

	predictionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "visasight",
			Subsystem: "predictions",
			Name:      "duration_seconds",
			Help:      "Duration of prediction requests including inference.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"family"},
	)

	modelSwitches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "visasight",
			Subsystem: "models",
			Name:      "switches_total",
			Help:      "Total number of active model switches.",
		},
		[]string{"to_version", "success"},
	)

	sinkWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "visasight",
			Subsystem: "sink",
			Name:      "writes_total",
			Help:      "Total number of write-behind persistence attempts.",
		},
		[]string{"success"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		predictions,
		predictionDuration,
		modelSwitches,
		sinkWrites,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordPrediction records one served (or failed) prediction.
func RecordPrediction(family, status string, duration time.Duration) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	if family == "" {
		family = "unknown"
	}
	predictions.WithLabelValues(family, status).Inc()
	predictionDuration.WithLabelValues(family).Observe(duration.Seconds())
}

// RecordModelSwitch records one switch attempt.
func RecordModelSwitch(toVersion string, success bool) {
	modelSwitches.WithLabelValues(toVersion, strconv.FormatBool(success)).Inc()
}

// RecordSinkWrite records one write-behind persistence attempt.
func RecordSinkWrite(success bool) {
	sinkWrites.WithLabelValues(strconv.FormatBool(success)).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// Hijack keeps websocket upgrades working through the wrapper.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hijacker.Hijack()
}

// canonicalPath collapses path parameters so the label set stays bounded.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if parts[0] != "api" || len(parts) == 1 {
		return "/" + parts[0]
	}
	switch {
	case len(parts) >= 3 && parts[1] == "predict" && parts[2] == "explain":
		return "/api/predict/explain/:case_id"
	case len(parts) >= 3 && parts[1] == "models" && parts[2] == "metrics":
		return "/api/models/metrics/:model_type"
	default:
		return "/" + strings.Join(parts[:min(len(parts), 3)], "/")
	}
}
