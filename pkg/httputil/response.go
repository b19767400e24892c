package httputil

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

type Envelope map[string]any

type APIError struct {
	Code    string `json:"code"` // "bad_request", "not_found", "debounced", "data_unavailable"
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}

// Headers are applied before WriteHeader; later keys win
type Headers map[string]string

// RetryAfter rounds up to whole seconds, at least 1
func RetryAfter(d time.Duration) Headers {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return Headers{"Retry-After": strconv.Itoa(secs)}
}

// CacheStatus marks cached lookup responses served past their TTL
func CacheStatus(stale bool) Headers {
	if stale {
		return Headers{"X-Cache-Status": "stale"}
	}
	return Headers{"X-Cache-Status": "fresh"}
}

func JSON(w http.ResponseWriter, status int, body any, headers Headers) error {
	// No body -> 204
	if body == nil && status == http.StatusNoContent {
		applyHeaders(w, headers)
		w.WriteHeader(status)
		return nil
	}

	var payload any
	switch body.(type) {
	case *APIError, APIError:
		payload = Envelope{"status": "error", "error": body}
	default:
		payload = Envelope{"status": "ok", "data": body}
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	applyHeaders(w, headers)
	w.WriteHeader(status)

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	return enc.Encode(payload)
}

func Error(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) error {
	return ErrorWithHeaders(w, r, status, code, message, details, nil)
}

// ErrorWithHeaders writes the error envelope; error responses are never cached
func ErrorWithHeaders(w http.ResponseWriter, r *http.Request, status int, code, message string, details any, headers Headers) error {
	h := Headers{"Cache-Control": "no-store"}
	for k, v := range headers {
		h[k] = v
	}

	return JSON(w, status, APIError{
		Code:    code,
		Message: message,
		Details: details,
		TraceID: middleware.GetReqID(r.Context()),
	}, h)
}

func applyHeaders(w http.ResponseWriter, headers Headers) {
	for k, v := range headers {
		w.Header().Set(k, v)
	}
}
