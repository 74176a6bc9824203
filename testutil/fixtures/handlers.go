// Package fixtures 提供测试用的 handler 行为与预置注册表。
package fixtures

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentloop/agent"
)

// Succeed always returns a successful result carrying msg.
func Succeed(msg string) agent.HandlerFunc {
	return func(ctx context.Context, in *agent.ExecutionContext) (*agent.ExecutionResult, error) {
		return agent.Succeeded(msg), nil
	}
}

// Fail always returns an execution error with text msg.
func Fail(msg string) agent.HandlerFunc {
	return func(ctx context.Context, in *agent.ExecutionContext) (*agent.ExecutionResult, error) {
		return nil, errors.New(msg)
	}
}

// Reject returns an unsuccessful result without an error.
func Reject(msg string) agent.HandlerFunc {
	return func(ctx context.Context, in *agent.ExecutionContext) (*agent.ExecutionResult, error) {
		return agent.Failed(msg), nil
	}
}

// HandOff succeeds and hints the loop to hand off to target.
func HandOff(msg, target string) agent.HandlerFunc {
	return func(ctx context.Context, in *agent.ExecutionContext) (*agent.ExecutionResult, error) {
		return agent.Succeeded(msg).WithHint(target), nil
	}
}

// Progress succeeds and reports absolute goal progress.
func Progress(percent int) agent.HandlerFunc {
	return func(ctx context.Context, in *agent.ExecutionContext) (*agent.ExecutionResult, error) {
		return agent.Succeeded("progress").WithData(agent.DataGoalProgress, percent), nil
	}
}

// Block waits for ctx or d, whichever comes first, then succeeds.
func Block(d time.Duration) agent.HandlerFunc {
	return func(ctx context.Context, in *agent.ExecutionContext) (*agent.ExecutionResult, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(d):
			return agent.Succeeded("slept"), nil
		}
	}
}

// Entry is one handler of a fixture registry.
type Entry struct {
	Name   string
	Weight int
	Fn     agent.HandlerFunc
}

// Registry registers every entry on a fresh registry, failing the test on
// the first registration error.
func Registry(t *testing.T, entries ...Entry) *agent.Registry {
	t.Helper()
	reg := agent.NewRegistry(zap.NewNop())
	for _, e := range entries {
		require.NoError(t, reg.RegisterFunc(e.Name, e.Weight, e.Fn))
	}
	return reg
}
