package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
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

	if s.metCfg.Enabled {
		path := s.metCfg.Path
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// WebSocket (ticket validated in handler when auth is on)
		r.Get("/ws", s.handleWebSocket)

		r.Route("/stove", func(r chi.Router) {
			r.Get("/", s.handleGetStove)
			r.Get("/parameters", s.handleListParameters)
			r.Get("/history", s.handleGetHistory)
			r.Get("/schedule", s.handleGetSchedule)

			// Mutating routes
			r.Group(func(r chi.Router) {
				r.Use(s.authMiddleware)

				r.Post("/on", s.handleTurnOn)
				r.Post("/off", s.handleTurnOff)
				r.Post("/reset", s.handleReset)
				r.Post("/refresh", s.handleRefresh)
				r.Put("/parameters/{id}", s.handleWriteParameter)
				r.Put("/temperature", s.handleSetTemperature)
				r.Post("/schedule/enable", s.handleEnableSchedule)
				r.Post("/schedule/disable", s.handleDisableSchedule)
			})
		})

		r.Post("/auth/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Post("/auth/ws-ticket", s.handleWSTicket)
		})
	})

	return r
}

// healthResponse is the body of GET /api/v1/health.
type healthResponse struct {
	Status        string       `json:"status"`
	Version       string       `json:"version"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	Device        deviceHealth `json:"device"`
	MQTTConnected *bool        `json:"mqtt_connected,omitempty"`
	WSClients     int          `json:"websocket_clients"`
}

type deviceHealth struct {
	ID                  string     `json:"id"`
	Host                string     `json:"host,omitempty"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	Suspended           bool       `json:"suspended"`
	LastPoll            *time.Time `json:"last_poll,omitempty"`
}

// handleHealth reports "ok" while the device answers and "degraded" after
// a failed poll. It always returns 200 so load balancers keep the API up.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:        "ok",
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Device: deviceHealth{
			ID:                  s.deviceID,
			ConsecutiveFailures: s.stove.ConsecutiveFailures(),
			Suspended:           s.stove.Suspended(),
		},
		WSClients: s.hub.ClientCount(),
	}
	if s.hostFunc != nil {
		resp.Device.Host = s.hostFunc()
	}
	if last := s.stove.LastPoll(); !last.IsZero() {
		utc := last.UTC()
		resp.Device.LastPoll = &utc
	}
	if s.mqtt != nil {
		connected := s.mqtt.IsConnected()
		resp.MQTTConnected = &connected
	}
	if resp.Device.ConsecutiveFailures > 0 {
		resp.Status = "degraded"
	}
	writeJSON(w, http.StatusOK, resp)
}
