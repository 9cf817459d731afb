package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/jiman93/checkpointd/api/handlers"
	"github.com/jiman93/checkpointd/checkpoint"
	"github.com/jiman93/checkpointd/config"
	"github.com/jiman93/checkpointd/internal/cache"
	"github.com/jiman93/checkpointd/internal/metrics"
	"github.com/jiman93/checkpointd/internal/server"
	"github.com/jiman93/checkpointd/internal/telemetry"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server wires the checkpoint engine components into two HTTP
// listeners: the data-plane/admin-plane API server and a separate
// Prometheus metrics server, mirroring the split used across the
// examples this module was grounded on.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger
	otel   *telemetry.Providers
	db     *gorm.DB

	httpManager    *server.Manager
	metricsManager *server.Manager

	healthHandler   *handlers.HealthHandler
	adminHandler    *handlers.CheckpointAdminHandler
	taskHandler     *handlers.CheckpointTaskHandler

	metricsCollector *metrics.Collector
	cacheManager     *cache.Manager

	rateLimiterCancel context.CancelFunc

	wg sync.WaitGroup
}

// NewServer creates a new Server instance around an already-open
// database connection and telemetry providers.
func NewServer(cfg *config.Config, logger *zap.Logger, otel *telemetry.Providers, db *gorm.DB) *Server {
	return &Server{
		cfg:    cfg,
		logger: logger,
		otel:   otel,
		db:     db,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start initializes every component and brings up both listeners.
func (s *Server) Start() error {
	s.metricsCollector = metrics.NewCollector("checkpointd", s.logger)

	if err := s.initHandlers(); err != nil {
		return fmt.Errorf("failed to init handlers: %w", err)
	}

	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
	)

	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initHandlers builds the checkpoint engine (stores, breaker, resolver,
// orchestrator, lifecycle), the optional Redis resolve cache in front of
// it, seeds the built-in definitions, and constructs the HTTP handlers.
func (s *Server) initHandlers() error {
	s.healthHandler = handlers.NewHealthHandler(s.logger)
	s.healthHandler.RegisterCheck(handlers.NewDatabaseHealthCheck("database", func(ctx context.Context) error {
		sqlDB, err := s.db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}))

	definitions := checkpoint.NewDefinitionStore(s.db, s.logger)
	instances := checkpoint.NewInstanceStore(s.db, s.logger)
	breaker := checkpoint.NewFailureTracker(definitions, s.logger)
	resolver := checkpoint.NewResolver(definitions, instances, breaker, s.logger)
	orchestrator := checkpoint.NewOrchestrator(resolver, instances)
	lifecycle := checkpoint.NewLifecycle(definitions, instances, breaker, s.logger)

	if s.cfg.Checkpoint.SeedOnStartup {
		if err := checkpoint.NewSeeder(definitions, s.logger).Seed(context.Background()); err != nil {
			s.logger.Error("checkpoint definition seeding failed", zap.Error(err))
		} else {
			s.logger.Info("built-in checkpoint definitions seeded")
		}
	}

	var resolveCache *cache.ResolveCache
	if s.cfg.Redis.Addr != "" {
		cacheManager, err := cache.NewManager(cache.Config{
			Addr:                s.cfg.Redis.Addr,
			Password:            s.cfg.Redis.Password,
			DB:                  s.cfg.Redis.DB,
			DefaultTTL:          s.cfg.Redis.ResolveCacheTTL,
			PoolSize:            s.cfg.Redis.PoolSize,
			MinIdleConns:        s.cfg.Redis.MinIdleConns,
			HealthCheckInterval: 30 * time.Second,
		}, s.logger)
		if err != nil {
			s.logger.Warn("resolve cache disabled: redis unavailable", zap.Error(err))
		} else {
			s.cacheManager = cacheManager
			resolveFn := func(ctx context.Context, taskID, position, mode string) ([]json.RawMessage, error) {
				resolved, err := orchestrator.Resolve(ctx, taskID, checkpoint.PipelinePosition(position), mode)
				if err != nil {
					return nil, err
				}
				raw := make([]json.RawMessage, len(resolved))
				for i, inst := range resolved {
					encoded, err := json.Marshal(inst)
					if err != nil {
						return nil, err
					}
					raw[i] = encoded
				}
				return raw, nil
			}
			resolveCache = cache.NewResolveCache(cacheManager, resolveFn, s.cfg.Redis.ResolveCacheTTL, s.metricsCollector, s.logger)
			s.healthHandler.RegisterCheck(handlers.NewRedisHealthCheck("redis", cacheManager.Ping))
			s.logger.Info("resolve cache enabled", zap.String("addr", s.cfg.Redis.Addr))
		}
	}

	s.adminHandler = handlers.NewCheckpointAdminHandler(definitions, breaker, s.logger)
	s.taskHandler = handlers.NewCheckpointTaskHandler(orchestrator, lifecycle, resolveCache, s.logger)

	s.logger.Info("Handlers initialized")
	return nil
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// startHTTPServer registers routes behind two distinct auth chains: the
// admin-plane definition routes require an admin JWT, the data-plane
// task routes require an API key.
func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.healthHandler.HandleHealth)
	mux.HandleFunc("/healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("/ready", s.healthHandler.HandleReady)
	mux.HandleFunc("/readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("/version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	skipAuthPaths := []string{"/health", "/healthz", "/ready", "/readyz", "/version", "/metrics"}

	adminMux := http.NewServeMux()
	adminMux.HandleFunc("GET /checkpoints/definitions", s.adminHandler.HandleList)
	adminMux.HandleFunc("POST /checkpoints/definitions", s.adminHandler.HandleCreate)
	adminMux.HandleFunc("GET /checkpoints/definitions/{id}", s.adminHandler.HandleGet)
	adminMux.HandleFunc("PUT /checkpoints/definitions/{id}", s.adminHandler.HandleUpdate)
	adminMux.HandleFunc("POST /checkpoints/definitions/{id}/toggle", s.adminHandler.HandleToggle)
	adminMux.HandleFunc("DELETE /checkpoints/definitions/{id}", s.adminHandler.HandleDelete)
	adminMux.HandleFunc("GET /checkpoints/field-types", s.adminHandler.HandleFieldTypes)
	adminHandler := Chain(adminMux, JWTAuth(s.cfg.Server.JWT, skipAuthPaths, s.logger))
	mux.Handle("/checkpoints/", adminHandler)

	taskMux := http.NewServeMux()
	taskMux.HandleFunc("GET /tasks/{task_id}/checkpoints", s.taskHandler.HandleResolve)
	taskMux.HandleFunc("GET /tasks/{task_id}/checkpoints/{instance_id}", s.taskHandler.HandleGet)
	taskMux.HandleFunc("POST /tasks/{task_id}/checkpoints/{instance_id}/submit", s.taskHandler.HandleSubmit)
	taskMux.HandleFunc("POST /tasks/{task_id}/checkpoints/{instance_id}/skip", s.taskHandler.HandleSkip)
	taskMux.HandleFunc("POST /tasks/{task_id}/checkpoints/{instance_id}/retry", s.taskHandler.HandleRetry)
	taskMux.HandleFunc("POST /tasks/{task_id}/checkpoints/{instance_id}/timeout", s.taskHandler.HandleTimeout)
	taskHandler := Chain(taskMux, APIKeyAuth(s.cfg.Server.APIKeys, skipAuthPaths, s.cfg.Server.AllowQueryAPIKey, s.logger))
	mux.Handle("/tasks/", taskHandler)

	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rateLimiterCancel
	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		RateLimiter(rateLimiterCtx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger),
		MetricsMiddleware(s.metricsCollector),
		OTelTracing(),
	)

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)
	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)
	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("Metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown blocks until the HTTP manager receives a shutdown
// signal, then tears everything down.
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown gracefully stops every component started by Start.
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx := context.Background()

	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}

	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	if s.otel != nil {
		if err := s.otel.Shutdown(ctx); err != nil {
			s.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
	}

	if s.cacheManager != nil {
		if err := s.cacheManager.Close(); err != nil {
			s.logger.Error("Cache manager shutdown error", zap.Error(err))
		}
	}

	s.wg.Wait()

	s.logger.Info("Graceful shutdown completed")
}
