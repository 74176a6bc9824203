package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/agentloop/api/handlers"
	"github.com/BaSui01/agentloop/config"
	"github.com/BaSui01/agentloop/internal/server"
)

// =============================================================================
// 🖥️ 服务器结构
// =============================================================================

// Server 组合 API 服务器、指标服务器和调度循环
type Server struct {
	app    *App
	cfg    *config.Config
	logger *zap.Logger

	httpManager    *server.Manager
	metricsManager *server.Manager

	healthHandler *handlers.HealthHandler
	chatHandler   *handlers.ChatHandler
}

// NewServer builds the routes and the HTTP managers; nothing listens
// until Listen or Run is called.
func NewServer(app *App, cfg *config.Config, logger *zap.Logger) *Server {
	s := &Server{
		app:    app,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "server")),
	}
	s.healthHandler = handlers.NewHealthHandler(logger)
	s.healthHandler.AddProbe(handlers.StoreProbe(app.Store))
	s.healthHandler.AddProbe(handlers.LoopProbe(app.Scheduler))
	s.chatHandler = handlers.NewChatHandler(app.Bus, logger)
	return s
}

// =============================================================================
// 🛣️ 路由
// =============================================================================

// routes 注册全部路由，不含中间件
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	// 健康检查端点
	mux.HandleFunc("/health", s.healthHandler.HandleHealth)
	mux.HandleFunc("/healthz", s.healthHandler.HandleHealth)
	mux.HandleFunc("/ready", s.healthHandler.HandleReady)
	mux.HandleFunc("/readyz", s.healthHandler.HandleReady)
	mux.HandleFunc("/version", handlers.HandleVersion(Version, BuildTime, GitCommit))

	// 循环控制
	loop := handlers.NewLoopHandler(s.app.Scheduler, s.app.LoopConfig(), s.logger)
	mux.HandleFunc("/api/v1/loop/start", loop.HandleStart)
	mux.HandleFunc("/api/v1/loop/stop", loop.HandleStop)
	mux.HandleFunc("/api/v1/loop/reset", loop.HandleReset)
	mux.HandleFunc("/api/v1/loop/status", loop.HandleStatus)
	mux.HandleFunc("/api/v1/loop/traces", loop.HandleTraces)
	mux.HandleFunc("/api/v1/loop/handoffs", loop.HandleHandoffs)

	// 目标
	goalHandler := handlers.NewGoalHandler(s.app.Scheduler, s.app.Goals, s.logger)
	mux.HandleFunc("/api/v1/goals", goalHandler.HandleGoals)

	// handler 注册表
	registry := handlers.NewRegistryHandler(s.app.Registry, s.logger)
	mux.HandleFunc("/api/v1/handlers", registry.HandleList)
	mux.HandleFunc("/api/v1/handlers/", registry.HandleList)

	// 聊天
	mux.HandleFunc("/api/v1/chat/history", s.chatHandler.HandleHistory)
	mux.HandleFunc("/api/v1/chat/ws", s.chatHandler.HandleStream)

	return mux
}

// Handler 返回带完整中间件链的 API handler
func (s *Server) Handler(ctx context.Context) http.Handler {
	chain := []Middleware{
		Recover(s.logger),
		AssignRequestID(),
		SecureHeaders(),
		Observe(s.logger, s.app.Metrics),
	}
	if rps := s.cfg.Server.RateLimitRPS; rps > 0 {
		chain = append(chain, RateLimit(ctx, rps, s.cfg.Server.RateLimitBurst, s.logger))
	}
	return Chain(s.routes(), chain...)
}

// =============================================================================
// 🚀 启动与关闭
// =============================================================================

// Listen binds the API port and, when enabled, the metrics port.
func (s *Server) Listen(ctx context.Context) error {
	if s.httpManager == nil {
		s.httpManager = server.NewManager("api", s.Handler(ctx), server.Config{
			Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
			ReadTimeout:     s.cfg.Server.ReadTimeout,
			WriteTimeout:    s.cfg.Server.WriteTimeout,
			IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
			MaxHeaderBytes:  1 << 20,
			ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
		}, s.logger)
	}
	if err := s.httpManager.Listen(); err != nil {
		return err
	}

	if s.app.PromRegistry == nil || s.cfg.Server.MetricsPort <= 0 {
		return nil
	}
	if s.metricsManager == nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(s.app.PromRegistry, promhttp.HandlerOpts{}))
		s.metricsManager = server.NewManager("metrics", mux, server.Config{
			Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
			ReadTimeout:     s.cfg.Server.ReadTimeout,
			WriteTimeout:    s.cfg.Server.WriteTimeout,
			ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
		}, s.logger)
	}
	return s.metricsManager.Listen()
}

// Addr 返回 API 服务器的实际监听地址
func (s *Server) Addr() string {
	if s.httpManager == nil {
		return ""
	}
	return s.httpManager.Addr()
}

// Run binds the ports, starts or resumes the loop as configured and
// serves until ctx is cancelled. On the way out the chat streams are
// closed before the HTTP servers shut down, then the loop is stopped.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Listen(ctx); err != nil {
		return err
	}
	if err := s.startLoop(ctx); err != nil {
		return err
	}

	serveCtx, cancelServe := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelServe()

	g, gctx := errgroup.WithContext(serveCtx)
	g.Go(func() error { return s.httpManager.Run(gctx) })
	if s.metricsManager != nil {
		g.Go(func() error { return s.metricsManager.Run(gctx) })
	}
	g.Go(func() error {
		select {
		case <-ctx.Done():
			s.logger.Info("shutdown requested")
		case <-gctx.Done():
		}
		s.chatHandler.Close()
		cancelServe()
		return nil
	})

	s.logger.Info("all servers started",
		zap.String("http_addr", s.Addr()),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
	)
	serveErr := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
	defer cancel()
	if err := s.app.Scheduler.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("loop shutdown failed", zap.Error(err))
	}
	return serveErr
}

func (s *Server) startLoop(ctx context.Context) error {
	loopCfg := s.app.LoopConfig()
	switch {
	case s.cfg.Loop.AutoStart:
		if err := s.app.Scheduler.Start(ctx, loopCfg); err != nil {
			return fmt.Errorf("failed to start loop: %w", err)
		}
	case s.cfg.Loop.ResumeOnStart:
		resumed, err := s.app.Scheduler.Resume(ctx, loopCfg)
		if err != nil {
			// 存储不可用时不阻止服务启动
			s.logger.Warn("failed to resume loop", zap.Error(err))
			return nil
		}
		if resumed {
			s.logger.Info("loop resumed from persisted state")
		}
	}
	return nil
}

func (s *Server) shutdownTimeout() time.Duration {
	if s.cfg.Server.ShutdownTimeout > 0 {
		return s.cfg.Server.ShutdownTimeout
	}
	return server.DefaultConfig().ShutdownTimeout
}
