// =============================================================================
// AgentLoop 主入口
// =============================================================================
// 使用方法:
//
//	agentloop serve                       # 启动 API 服务与调度循环
//	agentloop serve --config config.yaml  # 指定配置文件
//	agentloop run --once                  # 只执行一个周期
//	agentloop run --cycles 10             # 执行 10 个周期后退出
//	agentloop migrate up                  # 运行状态表迁移
//	agentloop version                     # 显示版本信息
//	agentloop health                      # 健康检查
// =============================================================================

// @title AgentLoop API
// @version 1.0.0
// @description Control surface of the autonomous orchestration loop.
// @license.name MIT
// @license.url https://opensource.org/licenses/MIT
// @host localhost:8080
// @BasePath /

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/agentloop/config"
	"github.com/BaSui01/agentloop/internal/telemetry"
	"github.com/BaSui01/agentloop/orchestrator"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run dispatches one subcommand and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		printUsage(stderr)
		return 1
	}

	var err error
	switch args[0] {
	case "serve":
		err = runServe(ctx, args[1:])
	case "run":
		err = runLoop(ctx, args[1:], stdout)
	case "migrate":
		err = runMigrate(ctx, args[1:], stdout)
	case "version":
		printVersion(stdout)
	case "health":
		err = runHealthCheck(args[1:], stdout)
	case "help", "-h", "--help":
		printUsage(stdout)
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		printUsage(stderr)
		return 1
	}

	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// loadConfig 加载并验证配置
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting AgentLoop",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	otelProviders, err := telemetry.Init(ctx, cfg.Telemetry, Version, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	defer shutdownTelemetry(otelProviders, logger)

	app, err := NewApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	srv := NewServer(app, cfg, logger)
	if err := srv.Run(ctx); err != nil {
		return err
	}

	logger.Info("AgentLoop stopped")
	return nil
}

func shutdownTelemetry(p *telemetry.Providers, logger *zap.Logger) {
	if !p.Enabled() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Shutdown(ctx); err != nil {
		logger.Warn("telemetry shutdown failed", zap.Error(err))
	}
}

// =============================================================================
// 🔁 run 命令
// =============================================================================

func runLoop(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	once := fs.Bool("once", false, "Run a single cycle and print its trace")
	cycles := fs.Int64("cycles", 0, "Stop after this many cycles (overrides loop.max_cycles)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *cycles < 0 {
		return fmt.Errorf("--cycles must not be negative")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *cycles > 0 {
		cfg.Loop.MaxCycles = *cycles
	}

	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	app, err := NewApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	loopCfg := app.LoopConfig()
	if *once {
		if err := app.Scheduler.Configure(loopCfg); err != nil {
			return err
		}
		trace, err := app.Scheduler.Step(ctx)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(trace)
	}

	if err := app.Scheduler.Start(ctx, loopCfg); err != nil {
		return err
	}
	select {
	case <-app.Scheduler.Done():
	case <-ctx.Done():
		logger.Info("interrupt received, stopping loop")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := app.Scheduler.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("loop shutdown: %w", err)
	}

	fmt.Fprintf(stdout, "Completed %d cycle(s)\n", app.Scheduler.CyclesCompleted())
	return nil
}

// =============================================================================
// 🏥 健康检查命令
// =============================================================================

func runHealthCheck(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + "/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: status %d", resp.StatusCode)
	}

	fmt.Fprintln(stdout, "OK")
	return nil
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "AgentLoop %s\n", Version)
	fmt.Fprintf(w, "  Build Time: %s\n", BuildTime)
	fmt.Fprintf(w, "  Git Commit: %s\n", GitCommit)
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `AgentLoop - autonomous orchestration loop

Usage:
  agentloop <command> [options]

Commands:
  serve     Start the API server and the loop
  run       Run the loop in the foreground
  migrate   State store schema migrations
  version   Show version information
  health    Check server health
  help      Show this help message

Options for 'serve' and 'run':
  --config <path>   Path to configuration file (YAML)

Options for 'run':
  --once            Run a single cycle and print its trace as JSON
  --cycles <n>      Stop after n cycles

Migration subcommands:
  migrate up          Apply all pending migrations
  migrate down        Rollback the last migration
  migrate steps <n>   Apply (n > 0) or rollback (n < 0) n migrations
  migrate goto <v>    Migrate to a specific version
  migrate force <v>   Force set migration version
  migrate version     Show current migration version
  migrate status      Show migration status

Examples:
  agentloop serve --config /etc/agentloop/config.yaml
  agentloop run --once
  agentloop migrate up --config config.yaml
  agentloop health --addr http://localhost:8080`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       encoding == "console",
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}
	return logger
}

// toLoopConfig maps the file/env configuration onto the scheduler config.
func toLoopConfig(loop config.LoopConfig, storeTimeout time.Duration) orchestrator.Config {
	return orchestrator.Config{
		LoopDelay:               loop.LoopDelay,
		MaxCycles:               loop.MaxCycles,
		HandoffCooldown:         loop.HandoffCooldown,
		RecoveryWeightThreshold: loop.RecoveryWeightThreshold,
		ChatHistoryCap:          loop.ChatHistoryCap,
		FailureWindow:           loop.FailureWindow,
		FailureThreshold:        loop.FailureThreshold,
		HandlerTimeout:          loop.HandlerTimeout,
		StoreTimeout:            storeTimeout,
		GoalProgressStep:        loop.GoalProgressStep,
		Seed:                    loop.Seed,
	}
}
