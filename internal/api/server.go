package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-hass/internal/audit"
	"github.com/nerrad567/gray-logic-hass/internal/hass"
	"github.com/nerrad567/gray-logic-hass/internal/history"
	"github.com/nerrad567/gray-logic-hass/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-hass/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-hass/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-hass/internal/relay"
	"github.com/nerrad567/gray-logic-hass/internal/scheduler"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Engine is the part of the connection engine the API exposes.
// *hass.Engine implements it.
type Engine interface {
	Version() string
	Connected() bool
	LoadedInitialStates() bool
	EntityCount() int
	Entities() []hass.EntityState
	Entity(entityID string) (hass.EntityState, error)
	CallService(ctx context.Context, domain, service, entityID string, data map[string]any) (*hass.ServiceResult, error)
}

// TaskLister lists scheduled tasks. *scheduler.Scheduler implements it.
type TaskLister interface {
	Tasks() []scheduler.TaskInfo
	Fired() uint64
}

// RelayStats reports relay counters. *relay.Relay implements it.
type RelayStats interface {
	Stats() relay.Stats
	Sinks() []string
}

// AuditTrail records and lists service calls. *audit.Recorder implements it.
type AuditTrail interface {
	Record(e audit.Entry)
	List(ctx context.Context, f audit.Filter) (*audit.ListResult, error)
	Dropped() uint64
	Written() uint64
}

// FaultCounter reports how many supervised units failed.
// *supervisor.Supervisor implements it.
type FaultCounter interface {
	Faults() uint64
}

// DatabaseStats describes the SQLite file. *database.DB implements it.
type DatabaseStats interface {
	Stats(ctx context.Context) (database.Stats, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    config.APIConfig
	Logger    *logging.Logger
	Engine    Engine
	Scheduler TaskLister
	History   history.Repository // nil when history is disabled
	Relay     RelayStats         // nil when no sink is configured
	Audit     AuditTrail         // nil when the audit trail is disabled
	Faults    FaultCounter       // nil when there is no supervisor
	Database  DatabaseStats      // nil when SQLite is not used
	Checks    map[string]HealthChecker
	Version   string
}

// Server is the HTTP API server.
//
// It manages the HTTP listener, routes and middleware.
// The server is created with New() and started with Start().
type Server struct {
	cfg     config.APIConfig
	logger  *logging.Logger
	engine  Engine
	sched   TaskLister
	history history.Repository
	relay   RelayStats
	audit   AuditTrail
	faults  FaultCounter
	db      DatabaseStats
	checks  map[string]HealthChecker
	version string

	startTime time.Time

	mu     sync.Mutex
	server *http.Server
	addr   net.Addr
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, engine, scheduler)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if deps.Scheduler == nil {
		return nil, fmt.Errorf("scheduler is required")
	}

	return &Server{
		cfg:       deps.Config,
		logger:    deps.Logger.Component("api"),
		engine:    deps.Engine,
		sched:     deps.Scheduler,
		history:   deps.History,
		relay:     deps.Relay,
		audit:     deps.Audit,
		faults:    deps.Faults,
		db:        deps.Database,
		checks:    deps.Checks,
		version:   deps.Version,
		startTime: time.Now(),
	}, nil
}

// Start binds the listener and serves requests in a background goroutine.
// The server can be stopped with Close().
//
// Parameters:
//   - ctx: Context for the bind; request contexts derive from it
//
// Returns:
//   - error: If the address cannot be bound (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server != nil {
		return fmt.Errorf("api server already started")
	}

	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("binding API listener on %s: %w", addr, err)
	}

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.GetReadTimeout(),
		ReadHeaderTimeout: s.cfg.GetReadTimeout(),
		WriteTimeout:      s.cfg.GetWriteTimeout(),
		IdleTimeout:       s.cfg.GetIdleTimeout(),
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	s.addr = ln.Addr()

	srv := s.server
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	s.logger.Info("API server listening", "address", s.addr.String())
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	s.mu.Lock()
	srv := s.server
	s.server = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
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

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
