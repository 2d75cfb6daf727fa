package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/incidentdesk/internal/audit"
	"github.com/nerrad567/incidentdesk/internal/identity"
	"github.com/nerrad567/incidentdesk/internal/incident"
	"github.com/nerrad567/incidentdesk/internal/infrastructure/config"
	"github.com/nerrad567/incidentdesk/internal/infrastructure/influxdb"
	"github.com/nerrad567/incidentdesk/internal/infrastructure/logging"
	"github.com/nerrad567/incidentdesk/internal/infrastructure/mqtt"
	"github.com/nerrad567/incidentdesk/internal/storage"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// TokenIssuer signs and verifies access tokens.
type TokenIssuer interface {
	IssueAccess(subject string) (string, error)
	Verify(token string) (subject string, ok bool)
	AccessTTL() time.Duration
}

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    config.APIConfig
	RateLimit config.RateLimitConfig
	Logger    *logging.Logger
	Tokens    TokenIssuer
	Directory *identity.Directory
	Incidents *incident.Workflow
	Audio     *storage.FileStore
	AuditLog  audit.Repository
	Audit     *audit.Recorder
	DB        HealthChecker
	MQTT      *mqtt.Client     // optional
	InfluxDB  *influxdb.Client // optional
	Version   string
}

// Server is the HTTP API server.
//
// It is created with New and started with Start.
type Server struct {
	cfg       config.APIConfig
	logger    *logging.Logger
	tokens    TokenIssuer
	directory *identity.Directory
	incidents *incident.Workflow
	audio     *storage.FileStore
	auditLog  audit.Repository
	audit     *audit.Recorder
	db        HealthChecker
	mqtt      *mqtt.Client
	influx    *influxdb.Client
	limiter   *clientLimiter
	version   string
	server    *http.Server
}

// New creates a server. It is not listening until Start is called.
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Logger == nil:
		return nil, fmt.Errorf("logger is required")
	case deps.Tokens == nil:
		return nil, fmt.Errorf("token service is required")
	case deps.Directory == nil:
		return nil, fmt.Errorf("identity directory is required")
	case deps.Incidents == nil:
		return nil, fmt.Errorf("incident workflow is required")
	case deps.Audio == nil:
		return nil, fmt.Errorf("audio store is required")
	}

	s := &Server{
		cfg:       deps.Config,
		logger:    deps.Logger.With("component", "api"),
		tokens:    deps.Tokens,
		directory: deps.Directory,
		incidents: deps.Incidents,
		audio:     deps.Audio,
		auditLog:  deps.AuditLog,
		audit:     deps.Audit,
		db:        deps.DB,
		mqtt:      deps.MQTT,
		influx:    deps.InfluxDB,
		version:   deps.Version,
	}
	if deps.RateLimit.Enabled {
		s.limiter = newClientLimiter(deps.RateLimit.RequestsPerMinute, deps.RateLimit.Burst)
	}
	return s, nil
}

// Start begins listening in a background goroutine. It stops when Close is
// called.
func (s *Server) Start(_ context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server listening", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()
	return nil
}

// Close gracefully shuts down the server, waiting up to 10 seconds for
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

// Handler returns the fully wired router without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}
