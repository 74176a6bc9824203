package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/agentloop/config"
	"github.com/BaSui01/agentloop/orchestrator"
)

const testConfig = `
log:
  level: error
  output_paths: ["stderr"]
loop:
  loop_delay: 1ms
`

func writeTestConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o600))
	return path
}

func runCmd(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_Dispatch(t *testing.T) {
	code, out, _ := runCmd(t, "version")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "AgentLoop dev")
	assert.Contains(t, out, "Git Commit: unknown")

	code, out, _ = runCmd(t, "help")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "Commands:")

	code, _, errOut := runCmd(t)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "Usage:")

	code, _, errOut = runCmd(t, "launch")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "Unknown command: launch")

	code, _, errOut = runCmd(t, "run", "--cycles", "-3")
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "--cycles must not be negative")

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("log: [unclosed"), 0o600))
	code, _, errOut = runCmd(t, "serve", "--config", bad)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "failed to load config")
}

func TestRun_Once(t *testing.T) {
	code, out, errOut := runCmd(t, "run", "--once", "--config", writeTestConfig(t))
	require.Equal(t, 0, code, errOut)

	var trace orchestrator.CycleTrace
	require.NoError(t, json.Unmarshal([]byte(out), &trace))
	assert.Equal(t, int64(1), trace.CycleNumber)
	assert.NotEmpty(t, trace.Outcome)
}

func TestRun_Cycles(t *testing.T) {
	code, out, errOut := runCmd(t, "run", "--cycles", "3", "--config", writeTestConfig(t))
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "Completed 3 cycle(s)")
}

func TestRun_Migrate(t *testing.T) {
	cfgPath := writeTestConfig(t)
	dsn := "file:" + filepath.Join(t.TempDir(), "state.db")

	code, out, errOut := runCmd(t, "migrate", "up", "--config", cfgPath, "--driver", "sqlite", "--dsn", dsn)
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "Current version: 2")

	code, out, errOut = runCmd(t, "migrate", "steps", "-1", "--config", cfgPath, "--driver=sqlite", "--dsn", dsn)
	require.Equal(t, 0, code, errOut)
	assert.Contains(t, out, "Rolling back 1 migration(s)")
	assert.Contains(t, out, "Current version: 1")

	code, out, _ = runCmd(t, "migrate", "--config", cfgPath)
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "Database Migration Commands")

	code, _, errOut = runCmd(t, "migrate", "up", "--config", cfgPath)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "sql state store")
}

func TestSplitMigrateArgs(t *testing.T) {
	flags, pos := splitMigrateArgs([]string{"steps", "-2", "--config", "c.yaml", "--dsn=x"})
	assert.Equal(t, []string{"--config", "c.yaml", "--dsn=x"}, flags)
	assert.Equal(t, []string{"steps", "-2"}, pos)

	flags, pos = splitMigrateArgs([]string{"--driver", "sqlite", "force", "0"})
	assert.Equal(t, []string{"--driver", "sqlite"}, flags)
	assert.Equal(t, []string{"force", "0"}, pos)
}

func TestInitLogger(t *testing.T) {
	logger := initLogger(config.LogConfig{Level: "warn", Format: "json", OutputPaths: []string{"stderr"}})
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))

	logger = initLogger(config.LogConfig{Level: "debug", Format: "console", OutputPaths: []string{"stderr"}})
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	// 非法级别回退到 info
	logger = initLogger(config.LogConfig{Level: "loud", OutputPaths: []string{"stderr"}})
	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
}

func TestToLoopConfig(t *testing.T) {
	loop := config.DefaultLoopConfig()
	loop.LoopDelay = 3 * time.Second
	loop.MaxCycles = 7
	loop.HandoffCooldown = time.Minute
	loop.RecoveryWeightThreshold = 4
	loop.ChatHistoryCap = 50
	loop.FailureWindow = time.Hour
	loop.FailureThreshold = 5
	loop.HandlerTimeout = 2 * time.Second
	loop.GoalProgressStep = 10
	loop.Seed = 99

	got := toLoopConfig(loop, 750*time.Millisecond)
	assert.Equal(t, orchestrator.Config{
		LoopDelay:               3 * time.Second,
		MaxCycles:               7,
		HandoffCooldown:         time.Minute,
		RecoveryWeightThreshold: 4,
		ChatHistoryCap:          50,
		FailureWindow:           time.Hour,
		FailureThreshold:        5,
		HandlerTimeout:          2 * time.Second,
		StoreTimeout:            750 * time.Millisecond,
		GoalProgressStep:        10,
		Seed:                    99,
	}, got)
	assert.NoError(t, got.Validate())
}
