package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/BaSui01/memchat/config"
	"github.com/BaSui01/memchat/internal/cache"
	"github.com/BaSui01/memchat/internal/database"
	"github.com/BaSui01/memchat/internal/metrics"
	"github.com/BaSui01/memchat/internal/telemetry"
	"github.com/BaSui01/memchat/llm"
	"github.com/BaSui01/memchat/memory"
	"github.com/BaSui01/memchat/pipeline"
	"github.com/BaSui01/memchat/prompt"
	"github.com/BaSui01/memchat/store"
	"github.com/BaSui01/memchat/tokenizer"
)

// Server owns the HTTP surface and the wired pipeline.
type Server struct {
	cfg           *config.Config
	logger        *zap.Logger
	otelProviders *telemetry.Providers

	pool          *database.PoolManager
	cacheManager  *cache.Manager
	pipeline      *pipeline.Pipeline
	registry      *prometheus.Registry
	httpServer    *http.Server
	metricsServer *http.Server
}

// NewServer wires every component from configuration.
func NewServer(cfg *config.Config, logger *zap.Logger, otelProviders *telemetry.Providers) (*Server, error) {
	pool, err := database.Open(cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	st := store.NewStore(pool, logger)
	if err := st.AutoMigrate(); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	// Optional external profile cache. Startup proceeds without it.
	var (
		cacheManager *cache.Manager
		profileCache memory.ProfileCache = memory.NewMapProfileCache()
	)
	if cfg.Redis.Enabled {
		cacheManager, err = cache.NewManager(cache.Config{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			DefaultTTL:   cfg.Redis.DefaultTTL,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		}, logger)
		if err != nil {
			logger.Warn("redis unavailable, falling back to in-process profile cache", zap.Error(err))
		} else {
			profileCache = memory.NewRedisProfileCache(cacheManager, cfg.Redis.DefaultTTL, logger)
		}
	}

	index, err := memory.NewVectorIndex(cfg.Vector, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("open vector index: %w", err)
	}

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector("memchat", registry, logger)

	window := memory.NewWindow(cfg.Memory.MaxRecentTurns, st, logger)
	profiles := memory.NewProfiles(st, profileCache, logger)
	ledger := memory.NewLedger(st, cfg.Memory.FeedbackLimit, nil, logger)
	coordinator := memory.NewCoordinator(window, profiles, index, ledger, cfg.Memory, collector, logger)

	counter := tokenizer.NewCounter(cfg.LLM.Model, logger)
	assembler := prompt.NewAssembler(cfg.Prompt, counter, logger)

	provider, err := llm.NewProvider(cfg.LLM, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}

	pipe := pipeline.New(st, coordinator, assembler, provider, llm.NewCalculator(),
		counter, collector, otel.Tracer("memchat"), cfg, logger)

	return &Server{
		cfg:           cfg,
		logger:        logger,
		otelProviders: otelProviders,
		pool:          pool,
		cacheManager:  cacheManager,
		pipeline:      pipe,
		registry:      registry,
	}, nil
}

// Start launches the API and metrics listeners.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/v1/chat", s.handleChat)
	mux.HandleFunc("/v1/users/", s.handleUsers)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		Handler:      mux,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	s.metricsServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		Handler: metricsMux,
	}

	go func() {
		s.logger.Info("metrics listening", zap.Int("port", s.cfg.Server.MetricsPort))
		if err := s.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	go func() {
		s.logger.Info("api listening", zap.Int("port", s.cfg.Server.HTTPPort))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("api server failed", zap.Error(err))
		}
	}()

	return nil
}

// WaitForShutdown blocks until SIGINT/SIGTERM, then drains.
func (s *Server) WaitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	s.logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("api shutdown failed", zap.Error(err))
	}
	if err := s.metricsServer.Shutdown(ctx); err != nil {
		s.logger.Error("metrics shutdown failed", zap.Error(err))
	}
	if s.cacheManager != nil {
		if err := s.cacheManager.Close(); err != nil {
			s.logger.Error("cache close failed", zap.Error(err))
		}
	}
	if err := s.pool.Close(); err != nil {
		s.logger.Error("database close failed", zap.Error(err))
	}
	if err := s.otelProviders.Shutdown(ctx); err != nil {
		s.logger.Error("telemetry shutdown failed", zap.Error(err))
	}
}

type chatRequest struct {
	UserID         string `json:"user_id"`
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" || strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "user_id and message are required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Server.RequestTimeout)
	defer cancel()

	result, err := s.pipeline.ProcessMessage(ctx, req.UserID, req.Message, req.ConversationID)
	if err != nil {
		s.logger.Error("chat request failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "failed to process message")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleUsers serves DELETE /v1/users/{user_id}/memory.
func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/v1/users/")
	userID, ok := strings.CutSuffix(rest, "/memory")
	if !ok || userID == "" || strings.Contains(userID, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	if err := s.pipeline.DeleteUserData(r.Context(), userID); err != nil {
		s.logger.Error("user data delete failed", zap.String("user_id", userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete user data")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "user_id": userID})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := s.pool.Ping(r.Context()); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{
		"status":  status,
		"version": Version,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
