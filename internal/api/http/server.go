package http

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"marketpulse/internal/config"

	"gitlab.com/nevasik7/alerting/logger"
)

type Server struct {
	log logger.Logger
	srv *http.Server
}

func NewServer(log logger.Logger, cfg *config.HTTPConfig, handler http.Handler) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("http config is required to the server")
	}
	if handler == nil {
		return nil, errors.New("handler is required to the server")
	}

	// sane defaults
	readTimeout := cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}
	idleTimeout := cfg.IdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = 60 * time.Second
	}

	return &Server{
		log: log,
		srv: &http.Server{
			Addr:              cfg.Addr,
			Handler:           handler,
			ReadTimeout:       readTimeout,
			ReadHeaderTimeout: readTimeout,
			WriteTimeout:      writeTimeout,
			IdleTimeout:       idleTimeout,
		},
	}, nil
}

// Start blocks until the server stops; http.ErrServerClosed after Shutdown
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.log.Infof("HTTP server listening on %s", ln.Addr().String())
	return s.srv.Serve(ln)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
