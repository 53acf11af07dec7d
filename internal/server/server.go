// Package server is the running instance addons are composed onto.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/sirupsen/logrus"

	"github.com/R3E-Network/straight_server/internal/addon"
	"github.com/R3E-Network/straight_server/internal/config"
	"github.com/R3E-Network/straight_server/internal/database"
	"github.com/R3E-Network/straight_server/internal/metrics"
	"github.com/R3E-Network/straight_server/internal/middleware"
)

// Version is reported by the version operation. Overridden at link time.
var Version = "0.1.0-dev"

// Owner is the owner recorded for native operations.
const Owner = "server"

const limiterCleanupInterval = time.Minute

// Server holds the operation table and the HTTP surface in front of it.
type Server struct {
	*addon.MethodSet

	cfg     config.ServerConfig
	log     logrus.FieldLogger
	db      *sqlx.DB
	redis   *redis.Client
	metrics *metrics.Registry
	started time.Time
	limiter *middleware.RateLimiter
	router  *mux.Router
	proc    *process.Process

	mu         sync.Mutex
	httpServer *http.Server
	addr       net.Addr
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// WithDatabase lets the health operation check the database.
func WithDatabase(db *sqlx.DB) Option {
	return func(s *Server) { s.db = db }
}

// WithRedis lets the health operation check redis.
func WithRedis(client *redis.Client) Option {
	return func(s *Server) { s.redis = client }
}

// WithMetrics sets the registry served on /metrics and used for request counting.
func WithMetrics(m *metrics.Registry) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

// New creates a server with its native operations defined.
func New(cfg config.ServerConfig, opts ...Option) (*Server, error) {
	s := &Server{
		MethodSet: addon.NewMethodSet(),
		cfg:       cfg,
		log:       logrus.StandardLogger(),
		metrics:   metrics.Default(),
		started:   time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.Mixin(Owner, map[string]addon.Operation{
		"health":  s.health,
		"version": s.version,
		"methods": s.methods,
	}); err != nil {
		return nil, fmt.Errorf("define native operations: %w", err)
	}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		s.proc = proc
	} else {
		s.log.WithError(err).Debug("process stats unavailable")
	}

	s.limiter = middleware.NewRateLimiter(float64(cfg.RateLimit.RequestsPerSecond), cfg.RateLimit.Burst, s.log)
	s.router = s.routes()
	return s, nil
}

// Handler returns the instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.metrics.InstrumentHandler(s.router)
}

// Run serves HTTP until ctx is done or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr(), err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.addr = ln.Addr()
	s.mu.Unlock()

	s.limiter.StartCleanup(ctx, limiterCleanupInterval)

	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("HTTP server listening on %s", ln.Addr())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Addr returns the bound listener address once Run has started.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	timeout := time.Duration(s.cfg.ShutdownTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// HealthReport is the result of the health operation.
type HealthReport struct {
	Status    string  `json:"status"`
	Database  string  `json:"database"`
	Redis     string  `json:"redis"`
	Uptime    float64 `json:"uptime_seconds"`
	MemoryRSS uint64  `json:"memory_rss_bytes,omitempty"`
}

// Healthy reports whether every configured dependency is up.
func (h HealthReport) Healthy() bool { return h.Status == "ok" }

func (s *Server) health(ctx context.Context, _ ...any) (any, error) {
	report := HealthReport{
		Status:   "ok",
		Database: "disabled",
		Redis:    "disabled",
		Uptime:   time.Since(s.started).Seconds(),
	}
	if s.db != nil {
		report.Database = "up"
		if !database.Alive(ctx, s.db) {
			report.Database = "down"
			report.Status = "degraded"
		}
	}
	if s.redis != nil {
		report.Redis = "up"
		if err := s.redis.Ping(ctx).Err(); err != nil {
			report.Redis = "down"
			report.Status = "degraded"
		}
	}
	if s.proc != nil {
		if mem, err := s.proc.MemoryInfoWithContext(ctx); err == nil {
			report.MemoryRSS = mem.RSS
		}
	}
	return report, nil
}

func (s *Server) version(context.Context, ...any) (any, error) {
	return Version, nil
}

func (s *Server) methods(context.Context, ...any) (any, error) {
	return s.Methods(), nil
}
