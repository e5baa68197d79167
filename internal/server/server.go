package server

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/localh0ste/piiguard/internal/cache"
	"github.com/localh0ste/piiguard/internal/config"
	"github.com/localh0ste/piiguard/internal/logger"
	"github.com/localh0ste/piiguard/internal/pii"
	"github.com/localh0ste/piiguard/internal/store"
	"github.com/localh0ste/piiguard/internal/web"
	"github.com/localh0ste/piiguard/internal/websocket"
	"go.uber.org/zap"
)

// Server represents the scan API server
type Server struct {
	config       *config.Config
	logger       *logger.Logger
	detector     *pii.Detector
	auditStore   *store.Store
	verdictCache *cache.VerdictCache
	router       *mux.Router
	server       *http.Server
	wsHub        *websocket.Hub
	rateLimiter  *ipRateLimiter

	startTime       time.Time
	totalRequests   int64
	totalDetections int64
}

// New creates a new scan server instance
func New(cfg *config.Config, log *logger.Logger) (*Server, error) {
	detector, err := pii.New(cfg.Detector, log.WithComponent("pii"))
	if err != nil {
		return nil, fmt.Errorf("failed to create detector: %w", err)
	}

	var auditStore *store.Store
	if cfg.Store.Enabled {
		auditStore, err = store.NewStore(&store.Config{
			DatabaseURL:     cfg.Store.DatabaseURL,
			MaxOpenConns:    cfg.Store.MaxOpenConns,
			MaxIdleConns:    cfg.Store.MaxIdleConns,
			ConnMaxLifetime: cfg.Store.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.Store.ConnMaxIdleTime,
		}, log.WithComponent("store").Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create audit store: %w", err)
		}
	}

	var verdictCache *cache.VerdictCache
	if cfg.Cache.Enabled {
		verdictCache, err = cache.NewVerdictCache(&cache.Config{
			RedisURL:       cfg.Cache.RedisURL,
			MaxConnections: cfg.Cache.MaxConnections,
			MinIdleConns:   cfg.Cache.MinIdleConns,
			DefaultTTL:     cfg.Cache.DefaultTTL,
			KeyPrefix:      cfg.Cache.KeyPrefix,
		}, log.WithComponent("cache").Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create verdict cache: %w", err)
		}
	}

	wsHub := websocket.NewHub(&websocket.HubConfig{
		BroadcastDetections:  cfg.WebSocket.Events.BroadcastDetections,
		BroadcastRequests:    cfg.WebSocket.Events.BroadcastRequests,
		BroadcastSystem:      cfg.WebSocket.Events.BroadcastSystem,
		BroadcastConnections: cfg.WebSocket.Events.BroadcastConnections,
		AllowedOrigins:       cfg.WebSocket.AllowedOrigins,
		MaxConnections:       cfg.WebSocket.MaxConnections,
	}, log.WithComponent("websocket").Logger)

	var rateLimiter *ipRateLimiter
	if cfg.Server.RateLimit.Enabled {
		rateLimiter = newIPRateLimiter(cfg.Server.RateLimit.RequestsPerMin)
		rateLimiter.startCleanupRoutine()
	}

	server := &Server{
		config:       cfg,
		logger:       log.WithComponent("server"),
		detector:     detector,
		auditStore:   auditStore,
		verdictCache: verdictCache,
		router:       mux.NewRouter(),
		wsHub:        wsHub,
		rateLimiter:  rateLimiter,
		startTime:    time.Now(),
	}

	server.setupRoutes()

	server.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return server, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Info endpoint
	s.router.HandleFunc("/info", s.handleInfo).Methods("GET")

	// Dashboard endpoints - embedded HTML
	s.router.HandleFunc("/", web.ServeDashboard).Methods("GET")
	s.router.HandleFunc("/dashboard", web.ServeDashboard).Methods("GET")

	// WebSocket endpoint for dashboard
	if s.config.WebSocket.Enabled {
		s.router.HandleFunc(s.config.WebSocket.Path, s.handleWebSocket).Methods("GET")
	}

	// Scan API endpoints
	apiRouter := s.router.PathPrefix("/v1").Subrouter()
	apiRouter.Use(s.loggingMiddleware)
	apiRouter.Use(s.rateLimitMiddleware)
	apiRouter.HandleFunc("/scan", s.handleScan).Methods("POST")
	apiRouter.HandleFunc("/stats", s.handleStats).Methods("GET")
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("Starting PII Guard scan server",
		zap.Int("port", s.config.Server.Port),
		zap.Bool("store_enabled", s.config.Store.Enabled),
		zap.Bool("cache_enabled", s.config.Cache.Enabled),
		zap.Strings("rules", s.detector.GetEnabledRules()),
	)

	// Start WebSocket hub in a separate goroutine
	go s.wsHub.Run()

	// Periodic system status broadcast for the dashboard
	if s.config.WebSocket.Enabled && s.config.WebSocket.Events.BroadcastSystem {
		go s.broadcastSystemStatus()
	}

	return s.server.ListenAndServe()
}

// broadcastSystemStatus pushes a status event to dashboard clients every 30s
func (s *Server) broadcastSystemStatus() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		hubStats := s.wsHub.GetStats()
		s.wsHub.BroadcastEvent(websocket.Event{
			Type:      websocket.EventTypeSystemStatus,
			Timestamp: time.Now(),
			Data: websocket.SystemStatusEvent{
				Status:           "healthy",
				Uptime:           time.Since(s.startTime).Round(time.Second).String(),
				TotalRequests:    atomic.LoadInt64(&s.totalRequests),
				TotalDetections:  atomic.LoadInt64(&s.totalDetections),
				ActiveRules:      len(s.detector.GetEnabledRules()),
				ConnectedClients: int(hubStats.ActiveConnections),
			},
		})
	}
}

// Stop gracefully stops the HTTP server and closes backend connections
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping PII Guard scan server")

	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}

	if s.auditStore != nil {
		if err := s.auditStore.Close(); err != nil {
			s.logger.Warn("Failed to close audit store", zap.Error(err))
		}
	}
	if s.verdictCache != nil {
		if err := s.verdictCache.Close(); err != nil {
			s.logger.Warn("Failed to close verdict cache", zap.Error(err))
		}
	}

	return nil
}

// handleWebSocket handles WebSocket connections for the dashboard
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.wsHub.HandleWebSocket(w, r)
}

// GetWebSocketHub returns the WebSocket hub for broadcasting events
func (s *Server) GetWebSocketHub() *websocket.Hub {
	return s.wsHub
}

func (s *Server) recordRequest() {
	atomic.AddInt64(&s.totalRequests, 1)
}

func (s *Server) recordDetection() {
	atomic.AddInt64(&s.totalDetections, 1)
}
