package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/nerrad567/gray-logic-pubsub/internal/deadletter"
	"github.com/nerrad567/gray-logic-pubsub/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-pubsub/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-pubsub/internal/messaging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// ServiceSource is the read side of a messaging service. *messaging.Service
// implements it.
type ServiceSource interface {
	ApplicationID() string
	BrokerURI() string
	State() messaging.ConnectionState
	Stats() messaging.Stats
}

// PublisherSource is the read side of a publisher. *messaging.Publisher
// implements it.
type PublisherSource interface {
	Config() messaging.PublisherConfig
	State() messaging.PublisherState
	Buffered() int
	IsReady() bool
}

// HealthChecker is implemented by the database and InfluxDB clients.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config      config.APIConfig
	Logger      *logging.Logger
	Service     ServiceSource
	Publisher   PublisherSource       // optional
	DeadLetters deadletter.Repository // optional
	Checks      map[string]HealthChecker

	// Registry receives the messaging collector and Go runtime metrics.
	// A new registry is created when nil.
	Registry *prometheus.Registry
	Version  string
}

// Server is the status HTTP server.
//
// It is created with New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	logger      *logging.Logger
	service     ServiceSource
	publisher   PublisherSource
	deadLetters deadletter.Repository
	checks      map[string]HealthChecker
	registry    *prometheus.Registry
	version     string
	startTime   time.Time
	server      *http.Server
	listener    net.Listener
}

// New creates a new API server with the given dependencies.
//
// The messaging collector is registered here, so a registry shared with
// other components must not already hold one for the same service.
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing or metrics registration fails
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Service == nil {
		return nil, fmt.Errorf("messaging service is required")
	}

	reg := deps.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector())
	}
	collector := messaging.NewStatsCollector(deps.Service, prometheus.Labels{
		"client_id": deps.Service.ApplicationID(),
	})
	if err := reg.Register(collector); err != nil {
		return nil, fmt.Errorf("registering messaging metrics: %w", err)
	}

	return &Server{
		cfg:         deps.Config,
		logger:      deps.Logger,
		service:     deps.Service,
		publisher:   deps.Publisher,
		deadLetters: deps.DeadLetters,
		checks:      deps.Checks,
		registry:    reg,
		version:     deps.Version,
		startTime:   time.Now(),
	}, nil
}

// Start binds the listener and serves in a background goroutine.
// The server can be stopped with Close().
//
// Returns:
//   - error: If the address cannot be bound
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	s.logger.Info("API server starting", "address", ln.Addr().String())
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server, waiting up to 10 seconds for
// in-flight requests.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}
