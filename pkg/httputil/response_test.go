package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSON_OKEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()

	require.NoError(t, JSON(rec, http.StatusOK, map[string]int{"n": 1}, CacheStatus(true)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "stale", rec.Header().Get("X-Cache-Status"))
	assert.JSONEq(t, `{"status":"ok","data":{"n":1}}`, rec.Body.String())
}

func TestJSON_NoContent(t *testing.T) {
	rec := httptest.NewRecorder()

	require.NoError(t, JSON(rec, http.StatusNoContent, nil, Headers{"X-Test": "1"}))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Equal(t, "1", rec.Header().Get("X-Test"))
}

func TestErrorWithHeaders_EnvelopeAndTrace(t *testing.T) {
	var rec *httptest.ResponseRecorder
	h := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec = httptest.NewRecorder()
		require.NoError(t, ErrorWithHeaders(rec, r, http.StatusTooManyRequests, "debounced", "retry", nil, RetryAfter(1500*time.Millisecond)))
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))

	var body struct {
		Status string   `json:"status"`
		Error  APIError `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "error", body.Status)
	assert.Equal(t, "debounced", body.Error.Code)
	assert.NotEmpty(t, body.Error.TraceID)
}

func TestRetryAfter_AtLeastOneSecond(t *testing.T) {
	assert.Equal(t, "1", RetryAfter(0)["Retry-After"])
	assert.Equal(t, "1", RetryAfter(500*time.Millisecond)["Retry-After"])
	assert.Equal(t, "3", RetryAfter(3*time.Second)["Retry-After"])
}
