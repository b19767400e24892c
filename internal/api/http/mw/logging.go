package mw

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"gitlab.com/nevasik7/alerting/logger"
)

type LoggingMiddleware struct {
	Log logger.Logger
}

func NewLogging(log logger.Logger) *LoggingMiddleware {
	return &LoggingMiddleware{Log: log}
}

func (m *LoggingMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		lrw := &loggingRW{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(lrw, r)

		dur := time.Since(start)

		fields := map[string]interface{}{
			"method": r.Method,
			"path":   r.URL.Path,
			"status": lrw.status,
			"size":   lrw.size,
			"dur_ms": dur.Milliseconds(),
			"ip":     r.RemoteAddr,
			"ua":     r.UserAgent(),
			"req_id": middleware.GetReqID(r.Context()),
		}

		log := m.Log.WithFields(fields)
		switch {
		case lrw.status >= http.StatusInternalServerError:
			log.Errorf("http_request %s %s -> %d", r.Method, r.URL.Path, lrw.status)
		case lrw.status >= http.StatusBadRequest:
			log.Warnf("http_request %s %s -> %d", r.Method, r.URL.Path, lrw.status)
		default:
			log.Infof("http_request %s %s -> %d", r.Method, r.URL.Path, lrw.status)
		}
	})
}

type loggingRW struct {
	http.ResponseWriter
	status int
	size   int
}

func (w *loggingRW) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *loggingRW) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.size += n
	return n, err
}

func (w *loggingRW) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
