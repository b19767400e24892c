package mw

import (
	"compress/gzip"
	"io"
	"net/http"
	"strings"
	"sync"

	"gitlab.com/nevasik7/alerting/logger"
)

type GzipMiddleware struct {
	Level  int // gzip.NoCompression ... gzip.BestCompression
	Logger logger.Logger

	pool sync.Pool
}

func NewGzip(level int, log logger.Logger) *GzipMiddleware {
	if level == 0 || level < gzip.HuffmanOnly || level > gzip.BestCompression {
		level = gzip.BestSpeed
	}

	m := &GzipMiddleware{Level: level, Logger: log}
	m.pool.New = func() any {
		w, _ := gzip.NewWriterLevel(io.Discard, m.Level)
		return w
	}
	return m
}

func (m *GzipMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// client not support gzip
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			next.ServeHTTP(w, r)
			return
		}

		// already encoded upstream
		if enc := w.Header().Get("Content-Encoding"); enc != "" {
			next.ServeHTTP(w, r)
			return
		}

		if strings.HasPrefix(r.Header.Get("Accept"), "text/event-stream") {
			next.ServeHTTP(w, r)
			return
		}

		gzw := m.pool.Get().(*gzip.Writer)
		defer m.pool.Put(gzw)

		gzw.Reset(w)

		grw := &gzipResponseWriter{ResponseWriter: w, Writer: gzw}
		defer func() {
			// nothing written (e.g. 204) -> no gzip trailer either
			if !grw.wrote {
				return
			}
			if err := gzw.Close(); err != nil {
				m.Logger.Errorf("failed to close gzip writer: %v", err)
			}
		}()

		next.ServeHTTP(grw, r)
	})
}

type gzipResponseWriter struct {
	http.ResponseWriter
	io.Writer

	wroteHeader bool
	wrote       bool
	passthrough bool
}

func (w *gzipResponseWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true

	if code == http.StatusNoContent || code == http.StatusNotModified || w.Header().Get("Content-Encoding") != "" {
		w.passthrough = true
	} else {
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Add("Vary", "Accept-Encoding")
		w.Header().Del("Content-Length")
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *gzipResponseWriter) Write(b []byte) (int, error) {
	// if not send status let it 200 - OK
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	if w.passthrough {
		return w.ResponseWriter.Write(b)
	}
	w.wrote = true
	return w.Writer.Write(b)
}

func (w *gzipResponseWriter) Flush() {
	if f, ok := w.Writer.(interface{ Flush() error }); ok {
		_ = f.Flush()
	}

	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
