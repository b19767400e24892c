package handlers

import (
	"errors"
	"net/http"
	"time"

	"marketpulse/internal/lookup"
	"marketpulse/internal/service"
	"marketpulse/internal/source/tracker"
	"marketpulse/pkg/httputil"
)

// writeError maps domain errors onto the HTTP envelope
func (a *Handler) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, code, msg := http.StatusInternalServerError, "internal", "internal error"
	var headers httputil.Headers

	switch {
	case errors.Is(err, lookup.ErrInvalidKey):
		status, code, msg = http.StatusBadRequest, "bad_request", "invalid lookup key"
	case errors.Is(err, lookup.ErrDebounced):
		status, code, msg = http.StatusTooManyRequests, "debounced", "lookup ignored, retry shortly"
		headers = httputil.RetryAfter(time.Second)
	case errors.Is(err, tracker.ErrNotFound), errors.Is(err, service.ErrInstrumentNotFound):
		status, code, msg = http.StatusNotFound, "not_found", "not found"
	case errors.Is(err, lookup.ErrUnavailable):
		status, code, msg = http.StatusServiceUnavailable, "data_unavailable", "data unavailable"
	}

	if status >= http.StatusInternalServerError {
		a.Log.Errorf("%s handler error: %v", op, err)
	} else {
		a.Log.Debugf("%s handler rejected: %v", op, err)
	}

	if werr := httputil.ErrorWithHeaders(w, r, status, code, msg, nil, headers); werr != nil {
		a.Log.Errorf("%s handler write error: %s", op, werr.Error())
	}
}

func (a *Handler) writeOK(w http.ResponseWriter, op string, body any) {
	a.write(w, op, body, nil)
}

// lookup results also report their cache status in a header
func (a *Handler) writeLookup(w http.ResponseWriter, op string, body any, stale bool) {
	a.write(w, op, body, httputil.CacheStatus(stale))
}

func (a *Handler) write(w http.ResponseWriter, op string, body any, headers httputil.Headers) {
	if err := httputil.JSON(w, http.StatusOK, body, headers); err != nil {
		a.Log.Errorf("%s handler error: %s", op, err.Error())
	}
}
