// Package errors defines the typed error taxonomy shared by the serving
// layer. Every error carries a machine-readable kind and the HTTP status the
// API layer should surface it with.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies a class of failure.
type Kind string

const (
	KindInvalidCaseData       Kind = "invalid_case_data"
	KindNoActiveModel         Kind = "no_active_model"
	KindUnknownModelVersion   Kind = "unknown_model_version"
	KindDuplicateModelVersion Kind = "duplicate_model_version"
	KindInference             Kind = "inference_error"
	KindInferenceTimeout      Kind = "inference_timeout"
	KindRateLimitExceeded     Kind = "rate_limit_exceeded"
	KindUnauthorized          Kind = "unauthorized"
	KindInternal              Kind = "internal_error"
)

// ServiceError is the concrete error type surfaced across component
// boundaries.
type ServiceError struct {
	Kind       Kind
	Message    string
	HTTPStatus int
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// Is matches two service errors by kind so callers can use errors.Is with a
// sentinel constructed via the same helper.
func (e *ServiceError) Is(target error) bool {
	var se *ServiceError
	if errors.As(target, &se) {
		return e.Kind == se.Kind
	}
	return false
}

// InvalidCaseData reports client input that fails validation.
func InvalidCaseData(format string, args ...interface{}) *ServiceError {
	return &ServiceError{
		Kind:       KindInvalidCaseData,
		Message:    fmt.Sprintf(format, args...),
		HTTPStatus: http.StatusUnprocessableEntity,
	}
}

// NoActiveModel reports a registry with no usable active descriptor.
func NoActiveModel(message string) *ServiceError {
	return &ServiceError{
		Kind:       KindNoActiveModel,
		Message:    message,
		HTTPStatus: http.StatusServiceUnavailable,
	}
}

// UnknownModelVersion reports a switch or lookup target that is not
// registered.
func UnknownModelVersion(target string) *ServiceError {
	return &ServiceError{
		Kind:       KindUnknownModelVersion,
		Message:    fmt.Sprintf("model %q is not registered", target),
		HTTPStatus: http.StatusNotFound,
	}
}

// DuplicateModelVersion reports a registration attempt reusing a version.
func DuplicateModelVersion(version string) *ServiceError {
	return &ServiceError{
		Kind:       KindDuplicateModelVersion,
		Message:    fmt.Sprintf("model version %q is already registered", version),
		HTTPStatus: http.StatusConflict,
	}
}

// Inference wraps an adapter execution failure.
func Inference(modelVersion string, err error) *ServiceError {
	return &ServiceError{
		Kind:       KindInference,
		Message:    fmt.Sprintf("inference failed for model %s", modelVersion),
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// InferenceTimeout reports an adapter call that exceeded its deadline.
func InferenceTimeout(modelVersion string, err error) *ServiceError {
	return &ServiceError{
		Kind:       KindInferenceTimeout,
		Message:    fmt.Sprintf("inference timed out for model %s", modelVersion),
		HTTPStatus: http.StatusGatewayTimeout,
		Err:        err,
	}
}

// RateLimitExceeded reports a client over its request budget.
func RateLimitExceeded(limit int, window string) *ServiceError {
	return &ServiceError{
		Kind:       KindRateLimitExceeded,
		Message:    fmt.Sprintf("rate limit of %d requests per %s exceeded", limit, window),
		HTTPStatus: http.StatusTooManyRequests,
	}
}

// Unauthorized reports a missing or invalid credential.
func Unauthorized(message string) *ServiceError {
	return &ServiceError{
		Kind:       KindUnauthorized,
		Message:    message,
		HTTPStatus: http.StatusUnauthorized,
	}
}

// Internal wraps an unexpected failure without leaking its details to
// clients.
func Internal(err error) *ServiceError {
	return &ServiceError{
		Kind:       KindInternal,
		Message:    "internal error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// From normalises an arbitrary error into a ServiceError. Already-typed
// errors pass through unchanged.
func From(err error) *ServiceError {
	var se *ServiceError
	if errors.As(err, &se) {
		return se
	}
	return Internal(err)
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	var se *ServiceError
	return errors.As(err, &se) && se.Kind == kind
}
