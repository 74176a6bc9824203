package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/BaSui01/agentloop/agent"
	"github.com/BaSui01/agentloop/agent/builtin"
	"github.com/BaSui01/agentloop/agent/chat"
	"github.com/BaSui01/agentloop/agent/goals"
	"github.com/BaSui01/agentloop/agent/persistence"
	"github.com/BaSui01/agentloop/config"
	"github.com/BaSui01/agentloop/internal/metrics"
	"github.com/BaSui01/agentloop/orchestrator"
)

// App 聚合一次进程生命周期内共享的组件
type App struct {
	Config    *config.Config
	Store     persistence.StateStore
	Registry  *agent.Registry
	Goals     *goals.Queue
	Bus       *chat.Bus
	Scheduler *orchestrator.Scheduler

	// Metrics 与 PromRegistry 在禁用指标时为 nil
	Metrics      *metrics.Collector
	PromRegistry *prometheus.Registry

	logger *zap.Logger
}

// NewApp opens the state store and wires the registry, the built-in
// handlers and the scheduler around it.
func NewApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	storeCtx, cancel := context.WithTimeout(ctx, storeTimeout(cfg.Store))
	defer cancel()
	store, err := persistence.NewStateStore(storeCtx, cfg.Store, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}

	app := &App{
		Config:   cfg,
		Store:    store,
		Registry: agent.NewRegistry(logger),
		Goals:    goals.NewQueue(logger),
		logger:   logger.With(zap.String("component", "app")),
	}

	capacity := cfg.Loop.ChatHistoryCap
	if capacity <= 0 {
		capacity = chat.DefaultCapacity
	}
	app.Bus = chat.NewBus(capacity, logger)

	if cfg.Metrics.Enabled {
		app.PromRegistry = prometheus.NewRegistry()
		app.PromRegistry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		app.Metrics = metrics.NewCollector(cfg.Metrics.Namespace, app.PromRegistry, logger)
		if sqlStore, ok := store.(*persistence.SQLStore); ok && sqlStore.Pool() != nil {
			app.PromRegistry.MustRegister(sqlStore.Pool().Collector("state_store"))
		}
	}

	deps := builtin.Deps{Goals: app.Goals, Bus: app.Bus, Store: store, Logger: logger}
	if err := builtin.Register(app.Registry, deps, cfg.Loop.BuiltinWeights); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to register built-in handlers: %w", err)
	}

	app.Scheduler = orchestrator.NewScheduler(app.Registry, logger,
		orchestrator.WithStore(store),
		orchestrator.WithGoals(app.Goals),
		orchestrator.WithBus(app.Bus),
		orchestrator.WithMetrics(app.Metrics),
	)

	app.logger.Info("application ready",
		zap.String("store", string(cfg.Store.Type)),
		zap.Int("handlers", app.Registry.Len()),
		zap.Bool("metrics", cfg.Metrics.Enabled),
	)
	return app, nil
}

// LoopConfig is the scheduler configuration derived from the loaded config.
func (a *App) LoopConfig() orchestrator.Config {
	return toLoopConfig(a.Config.Loop, storeTimeout(a.Config.Store))
}

// Close stops the loop if it is still running and closes the store.
func (a *App) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Scheduler.Shutdown(ctx); err != nil {
		a.logger.Warn("scheduler shutdown failed", zap.Error(err))
	}
	if err := a.Store.Close(); err != nil {
		a.logger.Warn("failed to close state store", zap.Error(err))
	}
}

func storeTimeout(cfg persistence.StoreConfig) time.Duration {
	if cfg.Timeout > 0 {
		return cfg.Timeout
	}
	return orchestrator.DefaultStoreTimeout
}
