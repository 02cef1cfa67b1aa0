package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/fourheat-core/internal/controller"
	"github.com/nerrad567/fourheat-core/internal/device"
	"github.com/nerrad567/fourheat-core/internal/infrastructure/config"
	"github.com/nerrad567/fourheat-core/internal/infrastructure/logging"
	"github.com/nerrad567/fourheat-core/internal/pinkey"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Stove is the controller surface the API reads and drives.
// It is satisfied by *controller.Controller.
type Stove interface {
	State() *pinkey.DeviceState
	ConsecutiveFailures() int
	Suspended() bool
	LastPoll() time.Time
	PollNow(ctx context.Context) (*pinkey.DeviceState, error)
	TurnOn(ctx context.Context) error
	TurnOff(ctx context.Context) error
	ResetError(ctx context.Context) error
	WriteParameter(ctx context.Context, id uint16, value int) error
	SetTargetTemperature(ctx context.Context, celsius float64) error
	ReadSchedule(ctx context.Context) (*pinkey.CronoSchedule, error)
	EnableCrono(ctx context.Context) error
	DisableCrono(ctx context.Context) error
}

// HistoryReader serves recorded state changes. Satisfied by *device.Recorder.
type HistoryReader interface {
	History(ctx context.Context, limit int) ([]device.HistoryEntry, error)
}

// ConnectionStatus reports broker connectivity. Satisfied by *mqtt.Client.
type ConnectionStatus interface {
	IsConnected() bool
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Metrics  config.MetricsConfig
	Logger   *logging.Logger
	DeviceID string
	Stove    Stove
	History  HistoryReader    // optional: history endpoint returns 503 without it
	MQTT     ConnectionStatus // optional: reported in /health
	HostFunc func() string    // optional: resolved device address
	Version  string
}

// Server is the HTTP API server for the stove.
//
// It manages the HTTP listener, routes, middleware, the WebSocket hub and
// the Prometheus registry. The server is created with New() and started
// with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	secCfg    config.SecurityConfig
	metCfg    config.MetricsConfig
	logger    *logging.Logger
	deviceID  string
	stove     Stove
	history   HistoryReader
	mqtt      ConnectionStatus
	hostFunc  func() string
	version   string
	startTime time.Time

	hub     *Hub
	metrics *Metrics
	tickets *ticketStore
	router  http.Handler

	server *http.Server
	cancel context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called, but Handler() is
// usable immediately.
//
// Parameters:
//   - deps: Required dependencies (logger, stove controller)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Stove == nil {
		return nil, fmt.Errorf("stove controller is required")
	}
	if deps.DeviceID == "" {
		deps.DeviceID = "stove"
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     withWSDefaults(deps.WS),
		secCfg:    deps.Security,
		metCfg:    deps.Metrics,
		logger:    deps.Logger,
		deviceID:  deps.DeviceID,
		stove:     deps.Stove,
		history:   deps.History,
		mqtt:      deps.MQTT,
		hostFunc:  deps.HostFunc,
		version:   deps.Version,
		startTime: time.Now(),
		tickets:   newTicketStore(),
	}
	s.hub = NewHub(s.wsCfg, s.logger)
	s.metrics = NewMetrics(s.deviceID, func() float64 { return float64(s.hub.ClientCount()) })
	s.router = s.buildRouter()

	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// ObservePoll is registered with controller.OnPoll. It updates the
// Prometheus gauges and pushes successful snapshots to WebSocket clients.
func (s *Server) ObservePoll(result controller.PollResult) {
	s.metrics.Observe(result)
	if result.State != nil {
		s.hub.Broadcast(EventStateChanged, s.stoveView(result.State))
	}
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub and the ticket cleanup loop, then launches
// the HTTP listener in a background goroutine. The server can be stopped
// with Close().
//
// Parameters:
//   - ctx: Context for cancellation (not used for listener lifetime)
//
// Returns:
//   - error: If the server fails to start
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	go s.cleanTicketsLoop(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
