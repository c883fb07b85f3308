// Package server provides the HTTP, Connect-RPC and gRPC health endpoints of
// the consolidator.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/limiquantix/consolidator/internal/config"
	"github.com/limiquantix/consolidator/internal/domain"
	"github.com/limiquantix/consolidator/internal/repository/etcd"
	"github.com/limiquantix/consolidator/internal/repository/memory"
	"github.com/limiquantix/consolidator/internal/repository/postgres"
	"github.com/limiquantix/consolidator/internal/repository/redis"
	"github.com/limiquantix/consolidator/internal/server/middleware"
	"github.com/limiquantix/consolidator/internal/services/auth"
	"github.com/limiquantix/consolidator/internal/simulation"
)

// healthService is the gRPC health service name reported by the consolidator.
const healthService = "consolidator.v1.Consolidation"

// MigrationLister reads stored migration records.
type MigrationLister interface {
	Get(ctx context.Context, id string) (*domain.MigrationRecord, error)
	List(ctx context.Context, filter domain.MigrationFilter, limit int) ([]*domain.MigrationRecord, error)
}

// HostLister reports the live state of the environment's hosts.
type HostLister interface {
	HostStatuses() []simulation.HostStatus
}

// CycleRunner is the consolidation loop as seen by the API.
type CycleRunner interface {
	Step(ctx context.Context) (*domain.CycleSummary, error)
	LastSummary() *domain.CycleSummary
	IsRunning() bool
}

// Coordinator is the cluster coordination backend shared by replicas.
type Coordinator interface {
	Health(ctx context.Context) error
	GetLeader(ctx context.Context, name string) (string, error)
	Close() error
}

// Server represents the main HTTP server.
type Server struct {
	config     *config.Config
	logger     *zap.Logger
	httpServer *http.Server
	grpcServer *grpc.Server
	health     *health.Server
	mux        *http.ServeMux

	// Infrastructure
	db    *postgres.DB
	cache *redis.Cache
	etcd  Coordinator

	records  MigrationLister
	hosts    HostLister
	engine   CycleRunner
	gatherer prometheus.Gatherer
	stream   *StreamHandler
	policy   string

	jwt  *auth.JWTManager
	auth *middleware.Auth

	// Leader election (for HA)
	leader *etcd.Leader
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithPostgreSQL enables PostgreSQL as the data store.
func WithPostgreSQL(db *postgres.DB) ServerOption {
	return func(s *Server) {
		s.db = db
	}
}

// WithRedis enables Redis caching and cross-replica event relay.
func WithRedis(cache *redis.Cache) ServerOption {
	return func(s *Server) {
		s.cache = cache
	}
}

// WithEtcd enables etcd for distributed coordination.
func WithEtcd(client Coordinator) ServerOption {
	return func(s *Server) {
		s.etcd = client
	}
}

// WithLeader reports and resigns the given election on shutdown.
func WithLeader(leader *etcd.Leader) ServerOption {
	return func(s *Server) {
		s.leader = leader
	}
}

// WithRecords sets the migration record store served by the API.
func WithRecords(records MigrationLister) ServerOption {
	return func(s *Server) {
		s.records = records
	}
}

// WithHosts exposes the environment's host state.
func WithHosts(hosts HostLister) ServerOption {
	return func(s *Server) {
		s.hosts = hosts
	}
}

// WithEngine exposes the consolidation loop.
func WithEngine(engine CycleRunner, policy string) ServerOption {
	return func(s *Server) {
		s.engine = engine
		s.policy = policy
	}
}

// WithMetrics serves the given registry on /metrics.
func WithMetrics(g prometheus.Gatherer) ServerOption {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithStream serves live migration events from the given hub.
func WithStream(stream *StreamHandler) ServerOption {
	return func(s *Server) {
		s.stream = stream
	}
}

// New creates a new server instance.
func New(cfg *config.Config, logger *zap.Logger, opts ...ServerOption) *Server {
	mux := http.NewServeMux()

	s := &Server{
		config: cfg,
		logger: logger.With(zap.String("component", "server")),
		mux:    mux,
	}

	// Apply options
	for _, opt := range opts {
		opt(s)
	}

	s.initRepositories()
	s.initAuth()
	s.registerRoutes()

	// Create HTTP server
	handler := s.setupMiddleware(mux)
	s.httpServer = &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// gRPC health service for load balancers and orchestrators
	s.health = health.NewServer()
	s.health.SetServingStatus(healthService, healthpb.HealthCheckResponse_SERVING)
	s.grpcServer = grpc.NewServer()
	healthpb.RegisterHealthServer(s.grpcServer, s.health)

	return s
}

// initRepositories falls back to a record store matching the configured
// backend when none was injected.
func (s *Server) initRepositories() {
	if s.records == nil {
		if s.db != nil {
			s.logger.Info("Initializing PostgreSQL repositories")
			s.records = postgres.NewMigrationRepository(s.db, s.logger)
		} else {
			s.logger.Info("Initializing in-memory repositories")
			s.records = memory.NewMigrationRepository()
		}
	}
	if s.stream == nil {
		s.stream = NewStreamHandler(s.logger)
	}

	s.logger.Info("Repositories initialized",
		zap.Bool("postgres", s.db != nil),
		zap.Bool("redis", s.cache != nil),
		zap.Bool("etcd", s.etcd != nil),
	)
}

func (s *Server) initAuth() {
	if !s.config.Auth.Enabled {
		return
	}
	s.jwt = auth.NewJWTManager(s.config.Auth)
	s.auth = middleware.NewAuth(s.jwt, s.logger)
}

// protect applies token checks when auth is enabled.
func (s *Server) protect(role auth.Role, h http.Handler) http.Handler {
	if s.auth == nil {
		return h
	}
	return s.auth.Require(role, h)
}

// registerRoutes registers all HTTP routes and Connect-RPC services.
func (s *Server) registerRoutes() {
	// Health endpoints
	s.mux.HandleFunc("GET /health", s.healthHandler)
	s.mux.HandleFunc("GET /healthz", s.healthHandler) // Kubernetes-style endpoint
	s.mux.HandleFunc("GET /ready", s.readyHandler)
	s.mux.HandleFunc("GET /live", s.liveHandler)

	// API info
	s.mux.HandleFunc("GET /api/v1/info", s.infoHandler)

	if s.gatherer != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	// =========================================================================
	// REST API
	// =========================================================================

	s.mux.Handle("GET /api/v1/migrations", s.protect(auth.RoleViewer, http.HandlerFunc(s.listMigrations)))
	s.mux.Handle("GET /api/v1/migrations/{id}", s.protect(auth.RoleViewer, http.HandlerFunc(s.getMigration)))
	s.mux.Handle("GET /api/v1/hosts", s.protect(auth.RoleViewer, http.HandlerFunc(s.listHosts)))
	s.mux.Handle("GET /api/v1/summary", s.protect(auth.RoleViewer, http.HandlerFunc(s.getSummary)))
	s.mux.Handle("POST /api/v1/cycles", s.protect(auth.RoleOperator, http.HandlerFunc(s.runCycle)))
	s.mux.Handle("GET /api/v1/stream", s.protect(auth.RoleViewer, s.stream))

	// =========================================================================
	// Connect-RPC Services
	// =========================================================================

	statusPath, statusHandler := s.newStatusServiceHandler()
	s.mux.Handle(statusPath, statusHandler)
	s.logger.Info("Registered Status service", zap.String("path", statusPath))

	s.logger.Info("All routes registered")
}

// setupMiddleware configures middleware chain.
func (s *Server) setupMiddleware(handler http.Handler) http.Handler {
	// CORS middleware
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   s.config.CORS.AllowedOrigins,
		AllowedMethods:   s.config.CORS.AllowedMethods,
		AllowedHeaders:   s.config.CORS.AllowedHeaders,
		AllowCredentials: s.config.CORS.AllowCredentials,
		MaxAge:           86400, // 24 hours
	})

	// Apply middleware
	handler = corsHandler.Handler(handler)
	handler = s.rateLimitMiddleware(handler)
	handler = s.loggingMiddleware(handler)
	handler = s.recoveryMiddleware(handler)

	return handler
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		// Skip logging for health checks
		if r.URL.Path == "/health" || r.URL.Path == "/ready" || r.URL.Path == "/live" || r.URL.Path == "/metrics" {
			return
		}

		s.logger.Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.statusCode),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote_addr", r.RemoteAddr),
			zap.String("user_agent", r.UserAgent()),
		)
	})
}

// rateLimitMiddleware limits API requests per client address through Redis.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	limit := s.config.Server.RateLimit
	if s.cache == nil || limit <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		res, err := s.cache.CheckRateLimit(r.Context(), "ratelimit:api:"+host, limit, time.Minute)
		if err != nil {
			// Fail open
			s.logger.Warn("Rate limit check failed", zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", res.Remaining))
		if !res.Allowed {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(time.Until(res.ResetAt).Seconds())))
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// recoveryMiddleware recovers from panics.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("Panic recovered",
					zap.Any("error", err),
					zap.String("path", r.URL.Path),
				)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets the stream endpoint take over the connection.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return h.Hijack()
}

// healthHandler returns health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "service": "consolidator"})
}

// readyHandler returns readiness status.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ready := true
	details := map[string]string{}

	// Check PostgreSQL
	if s.db != nil {
		if err := s.db.Health(ctx); err != nil {
			ready = false
			details["postgres"] = "unhealthy"
		} else {
			details["postgres"] = "healthy"
		}
	}

	// Check Redis
	if s.cache != nil {
		if err := s.cache.Health(ctx); err != nil {
			ready = false
			details["redis"] = "unhealthy"
		} else {
			details["redis"] = "healthy"
		}
	}

	// Check etcd
	if s.etcd != nil {
		if err := s.etcd.Health(ctx); err != nil {
			ready = false
			details["etcd"] = "unhealthy"
		} else {
			details["etcd"] = "healthy"
		}
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{"ready": ready, "components": details})
}

// currentLeader returns the identity of the replica holding the election for
// this environment, or "" when it is unknown.
func (s *Server) currentLeader(ctx context.Context) string {
	if s.etcd == nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	id, err := s.etcd.GetLeader(ctx, s.config.DRS.Environment)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn("Failed to look up leader", zap.Error(err))
		}
		return ""
	}
	return id
}

// liveHandler returns liveness status.
func (s *Server) liveHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"alive": true})
}

// infoHandler returns API information.
func (s *Server) infoHandler(w http.ResponseWriter, r *http.Request) {
	info := map[string]interface{}{
		"name":        "consolidator",
		"version":     Version,
		"api_version": "v1",
		"description": "Dynamic VM consolidation engine",
		"environment": s.config.DRS.Environment,
		"policy":      s.policy,
		"running":     s.engine != nil && s.engine.IsRunning(),
		"leader":      s.leader == nil || s.leader.IsLeader(),
		"leader_id":   s.currentLeader(r.Context()),
		"auth":        s.auth != nil,
		"infrastructure": map[string]bool{
			"postgres": s.db != nil,
			"redis":    s.cache != nil,
			"etcd":     s.etcd != nil,
		},
	}
	writeJSON(w, http.StatusOK, info)
}

// Version is set at build time.
var Version = "0.1.0"

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Stream returns the live event hub.
func (s *Server) Stream() *StreamHandler {
	return s.stream
}

// Run starts the HTTP and gRPC servers and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("Starting server",
		zap.String("address", s.config.Server.Address()),
		zap.String("grpc_address", s.config.Server.GRPCAddress()),
	)

	// Relay decisions made by whichever replica leads
	if s.cache != nil {
		events := s.cache.Subscribe(ctx, redis.MigrationChannel(s.config.DRS.Environment))
		go s.stream.Relay(ctx, events)
	}

	errCh := make(chan error, 2)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	if addr := s.config.Server.GRPCAddress(); addr != "" {
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", addr, err)
		}
		go func() {
			if err := s.grpcServer.Serve(lis); err != nil && err != grpc.ErrServerStopped {
				errCh <- err
			}
		}()
	}

	// Wait for shutdown signal or error
	select {
	case <-ctx.Done():
		s.logger.Info("Shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	// Graceful shutdown
	return s.Shutdown()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Shutting down server...")

	s.health.Shutdown()
	s.grpcServer.GracefulStop()

	// Resign from leadership
	if s.leader != nil {
		if err := s.leader.Resign(shutdownCtx); err != nil {
			s.logger.Warn("Failed to resign leadership", zap.Error(err))
		}
	}

	s.stream.Close()

	// Close HTTP server
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP shutdown error: %w", err)
	}

	// Close infrastructure connections
	if s.etcd != nil {
		if err := s.etcd.Close(); err != nil {
			s.logger.Warn("Failed to close etcd", zap.Error(err))
		}
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.logger.Warn("Failed to close Redis", zap.Error(err))
		}
	}
	if s.db != nil {
		s.db.Close()
	}

	s.logger.Info("Server stopped gracefully")
	return nil
}

// Address returns the server address.
func (s *Server) Address() string {
	return s.config.Server.Address()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
