package handlers

import (
	"context"
	"net/http"
	"time"

	"marketpulse/internal/lookup"
	"marketpulse/internal/service"
	"marketpulse/pkg/httputil"

	"gitlab.com/nevasik7/alerting/logger"
)

type Handler struct {
	Log    logger.Logger
	Engine *service.Engine
	Lookup *lookup.Service
}

func NewHandler(log logger.Logger, engine *service.Engine, lookups *lookup.Service) *Handler {
	if engine == nil {
		panic("engine cannot be nil")
	}
	if lookups == nil {
		panic("lookup service cannot be nil")
	}

	return &Handler{Log: log, Engine: engine, Lookup: lookups}
}

func (a *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	if err := httputil.JSON(w, http.StatusOK, map[string]any{}, nil); err != nil {
		a.Log.Errorf("Healthz handler error: %s", err.Error())
	}
}

// Check health external services/clients and that a first generation was committed
func (a *Handler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	if err := a.Engine.CheckDependency(ctx); err != nil {
		err = httputil.Error(w, r, http.StatusServiceUnavailable, "dependencies_unhealthy", "dependencies check failed", map[string]any{
			"error": err.Error(),
		})
		if err != nil {
			a.Log.Errorf("Readiness handler error: %s", err.Error())
		}
		return
	}

	st := a.Engine.Status()
	if st.Generation == 0 {
		err := httputil.Error(w, r, http.StatusServiceUnavailable, "warming_up", "no poll cycle committed yet", st)
		if err != nil {
			a.Log.Errorf("Readiness handler error: %s", err.Error())
		}
		return
	}

	if err := httputil.JSON(w, http.StatusOK, map[string]any{"dependencies": "healthy", "engine": st}, nil); err != nil {
		a.Log.Errorf("Readiness handler error: %s", err.Error())
	}
}
