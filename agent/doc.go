// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package agent defines the handler contract driven by the orchestration loop
and the registry that holds the registered handlers.

# Overview

A handler (historically an "agent") is a named unit of work. The loop treats
it as an opaque callable: it receives a fresh ExecutionContext and returns an
ExecutionResult. Anything a handler signals as a failure, including a
returned error, a nil result or a panic, is caught by the caller.

# Core Components

	type Handler interface {
	    Name() string
	    Execute(ctx context.Context, in *ExecutionContext) (*ExecutionResult, error)
	}

Registry: holds handlers keyed by a unique name together with an integer
priority weight and the current execution status.

	reg := agent.NewRegistry(logger)
	_ = reg.Register(myHandler, 5)
	_ = reg.RegisterFunc("echo", 1, func(ctx context.Context, in *agent.ExecutionContext) (*agent.ExecutionResult, error) {
	    return agent.Succeeded("echo"), nil
	})

Acceptor: optional interface for handlers that want to vet an incoming
hand-off before it is executed.

# Sub-packages

  - agent/selection    weighted/goal-driven choice of the next handler
  - agent/handoff      single-hop, cooldown-gated hand-off coordinator
  - agent/goals        priority-ordered goal backlog
  - agent/chat         bounded in-process publish/subscribe bus
  - agent/persistence  State Store contract and backends
  - agent/builtin      deterministic built-in handlers
*/
package agent
