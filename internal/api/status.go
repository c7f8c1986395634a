package api

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/gray-logic-pubsub/internal/messaging"
)

// healthCheckTimeout bounds each dependency check in /health.
const healthCheckTimeout = 2 * time.Second

// HealthResponse is the body of GET /api/v1/health.
type HealthResponse struct {
	Status     string            `json:"status"`
	Version    string            `json:"version"`
	Connection string            `json:"connection"`
	Checks     map[string]string `json:"checks,omitempty"`
}

// StatusResponse is the body of GET /api/v1/status.
type StatusResponse struct {
	Timestamp     string           `json:"timestamp"`
	Version       string           `json:"version"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Service       ServiceStatus    `json:"service"`
	Publisher     *PublisherStatus `json:"publisher,omitempty"`
	Stats         messaging.Stats  `json:"stats"`
	Runtime       RuntimeMetrics   `json:"runtime"`
}

// ServiceStatus describes the messaging service connection.
type ServiceStatus struct {
	ApplicationID string `json:"application_id"`
	BrokerURI     string `json:"broker_uri"`
	State         string `json:"state"`
	Connected     bool   `json:"connected"`
}

// PublisherStatus describes the publisher and its buffer.
type PublisherStatus struct {
	State          string `json:"state"`
	Ready          bool   `json:"ready"`
	BackPressure   string `json:"back_pressure"`
	DeliveryMode   string `json:"delivery_mode"`
	Buffered       int    `json:"buffered"`
	BufferCapacity int    `json:"buffer_capacity"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// handleHealth reports 200 while the service is usable and 503 once it is
// down or disconnected, or when a dependency check fails.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := s.service.State()
	resp := HealthResponse{
		Status:     "ok",
		Version:    s.version,
		Connection: state.String(),
	}

	status := http.StatusOK
	switch state {
	case messaging.Down, messaging.Disconnecting, messaging.Disconnected:
		resp.Status = "unavailable"
		status = http.StatusServiceUnavailable
	case messaging.NotConnected, messaging.Connecting:
		resp.Status = "starting"
	}

	if len(s.checks) > 0 {
		resp.Checks = make(map[string]string, len(s.checks))
		for name, checker := range s.checks {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			err := checker.HealthCheck(ctx)
			cancel()
			if err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
	}

	writeJSON(w, status, resp)
}

// handleStatus returns the service, publisher and runtime status.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	state := s.service.State()
	resp := StatusResponse{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Service: ServiceStatus{
			ApplicationID: s.service.ApplicationID(),
			BrokerURI:     s.service.BrokerURI(),
			State:         state.String(),
			Connected:     state == messaging.Connected,
		},
		Stats: s.service.Stats(),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
	}

	if s.publisher != nil {
		cfg := s.publisher.Config()
		resp.Publisher = &PublisherStatus{
			State:          s.publisher.State().String(),
			Ready:          s.publisher.IsReady(),
			BackPressure:   cfg.BackPressure.String(),
			DeliveryMode:   cfg.DeliveryMode.String(),
			Buffered:       s.publisher.Buffered(),
			BufferCapacity: cfg.BufferCapacity,
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
