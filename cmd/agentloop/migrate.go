package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/agentloop/agent/persistence"
	"github.com/BaSui01/agentloop/internal/migration"
)

// =============================================================================
// 🗄️ 数据库迁移命令
// =============================================================================

// runMigrate parses the shared migration flags and hands the remaining
// positional arguments to migration.CLI.
func runMigrate(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(stdout)
	configPath := fs.String("config", "", "Path to config file")
	driver := fs.String("driver", "", "Database driver: postgres, mysql, sqlite (default: from config)")
	dsn := fs.String("dsn", "", "Database DSN (default: from config)")

	flagArgs, positional := splitMigrateArgs(args)
	if err := fs.Parse(flagArgs); err != nil {
		return err
	}
	positional = append(positional, fs.Args()...)
	if len(positional) == 0 || positional[0] == "help" {
		printMigrateUsage(stdout)
		return nil
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	storeCfg := cfg.Store
	if *driver != "" || *dsn != "" {
		storeCfg.Type = persistence.StoreTypeSQL
	}
	if *driver != "" {
		storeCfg.SQL.Driver = *driver
	}
	if *dsn != "" {
		storeCfg.SQL.DSN = *dsn
	}

	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	m, err := migration.FromStoreConfig(storeCfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer func() {
		if err := m.Close(); err != nil {
			logger.Warn("failed to close migrator", zap.Error(err))
		}
	}()

	cli := migration.NewCLI(m)
	cli.SetOutput(stdout)
	return cli.Run(ctx, positional)
}

// splitMigrateArgs pulls numeric arguments out before flag parsing so that
// "steps -1" is not mistaken for a flag.
func splitMigrateArgs(args []string) (flagArgs, positional []string) {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if _, err := strconv.Atoi(arg); err == nil {
			positional = append(positional, arg)
			continue
		}
		if len(arg) > 0 && arg[0] != '-' {
			positional = append(positional, arg)
			continue
		}
		flagArgs = append(flagArgs, arg)
		// 值与 flag 分开书写时一并带上
		if !strings.Contains(arg, "=") && i+1 < len(args) && !isFlag(args[i+1]) {
			i++
			flagArgs = append(flagArgs, args[i])
		}
	}
	return flagArgs, positional
}

func isFlag(arg string) bool {
	if len(arg) == 0 || arg[0] != '-' {
		return false
	}
	_, err := strconv.Atoi(arg)
	return err != nil
}

func printMigrateUsage(w io.Writer) {
	fmt.Fprintln(w, `Database Migration Commands

Usage:
  agentloop migrate <subcommand> [args] [options]

Subcommands:
  up          Apply all pending migrations
  down        Rollback the last migration
  steps <n>   Apply (n > 0) or rollback (n < 0) n migrations
  goto <v>    Migrate to a specific version
  force <v>   Force set migration version (use with caution)
  version     Show current migration version
  status      Show migration status
  help        Show this help message

Options:
  --config <path>   Path to configuration file (YAML)
  --driver <name>   Database driver: postgres, mysql, sqlite (default: from config)
  --dsn <dsn>       Database connection string (default: from config)

Examples:
  agentloop migrate up --config /etc/agentloop/config.yaml
  agentloop migrate status --driver sqlite --dsn file:state.db
  agentloop migrate steps -1`)
}
