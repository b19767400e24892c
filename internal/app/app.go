package app

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"gitlab.com/nevasik7/alerting/logger"
)

type HTTPServer interface {
	Start() error
	Shutdown(ctx context.Context) error
}

// Runner is a long-lived loop stopped by cancelling its context
type Runner interface {
	Run(ctx context.Context)
}

type App struct {
	log     logger.Logger
	httpSrv HTTPServer
	engine  Runner

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewApp(lg logger.Logger, httpSrv HTTPServer, engine Runner) *App {
	return &App{log: lg, httpSrv: httpSrv, engine: engine}
}

func (a *App) Start() error {
	a.log.Debug("App started begin...")

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.engine.Run(ctx)
	}()

	go func() {
		if err := a.httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Fatalf("Start HTTP server is error=%v", err)
		}
	}()

	a.log.Info("App started")
	return nil
}

// Shutdown stops serving first, then waits for the in-flight poll cycle
func (a *App) Shutdown(ctx context.Context) error {
	a.log.Debug("App stopped begin...")

	if err := a.httpSrv.Shutdown(ctx); err != nil {
		return err
	}

	if a.cancel != nil {
		a.cancel()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	a.log.Info("App stopped")
	return nil
}
