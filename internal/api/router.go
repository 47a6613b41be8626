// RetroVue - Linear Broadcast Automation
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/retrovue/retrovue

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/retrovue/retrovue/internal/middleware"
)

// NewRouter builds the HTTP routing tree.
func NewRouter(handler *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Route("/api/v1/health", func(r chi.Router) {
		r.Get("/live", handler.HealthLive)
		r.Get("/ready", handler.HealthReady)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.PrometheusMetrics)

		r.Get("/status", handler.Status)
		r.Get("/channels", handler.Channels)
		r.Route("/channels/{slug}", func(r chi.Router) {
			r.Get("/", handler.ChannelGet)
			r.Get("/schedule", handler.ChannelSchedule)
			r.Get("/transmission", handler.ChannelTransmission)
			r.Get("/horizon/attempts", handler.ChannelHorizonAttempts)
		})
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
