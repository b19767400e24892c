package http

import (
	"marketpulse/internal/api/http/handlers"
	"marketpulse/internal/api/http/mw"
	"marketpulse/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func BuildRouter(
	h *handlers.Handler,
	logMW *mw.LoggingMiddleware,
	gzipMW *mw.GzipMiddleware,
	rateLimitMW *mw.RateLimitMiddleware,
	corsMW *mw.CORSMiddleware,
) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	if logMW != nil {
		r.Use(logMW.Handler)
	}
	if corsMW != nil {
		r.Use(corsMW.Handler())
	}

	// tech endpoint not limited
	r.Get("/healthz", h.Healthz)
	r.Get("/readiness", h.Readiness)
	r.Mount("/metrics", metrics.Handler())

	r.Route("/api", func(apiR chi.Router) {
		if rateLimitMW != nil {
			apiR.Use(rateLimitMW.Handler)
		}
		if gzipMW != nil {
			apiR.Use(gzipMW.Handler)
		}

		apiR.Get("/alerts", h.ListAlerts)

		apiR.Route("/instruments", func(ir chi.Router) {
			ir.Get("/", h.ListInstruments)
			ir.Get("/{mint}", h.GetInstrument)
		})

		apiR.Get("/wallets/{address}", h.WalletDetail)
		apiR.Get("/traders/top", h.TopTraders)
		apiR.Get("/tokens/{mint}", h.TokenDetail)
		apiR.Get("/sol-price", h.SolPrice)
	})

	return r
}
