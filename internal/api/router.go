package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/autelis-bridge/internal/bridges/autelis"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		r.Get("/state", s.handleGetState)
		r.Get("/state/{field}", s.handleGetField)
		r.Get("/history/{field}", s.handleFieldHistory)
		r.Get("/commands", s.handleListCommands)
		r.Get("/queue", s.handleQueue)

		r.Get("/ws", s.handleWebSocket)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Put("/devices/{name}/state", s.handleSetDeviceState)
			r.Post("/poll", s.handlePoll)
		})
	})

	return r
}

// handleHealth returns the bridge health document. Unhealthy bridges
// answer 503 so load balancers and container probes can act on it.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	msg := s.bridge.Health()

	status := http.StatusOK
	if msg.Status == autelis.HealthUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, msg)
}
