package app

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"marketpulse/internal/config"
)

// Run We assemble the container, start it, wait for the signal and stop
func Run(cfg *config.Config) error {
	ctxBuild, cancelBuild := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelBuild()

	container, err := Build(ctxBuild, cfg)
	if err != nil {
		return err
	}

	if err = container.Start(); err != nil {
		container.cleanup()
		return err
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	return container.Stop(shutdownCtx)
}
