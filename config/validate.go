package config

import (
	"errors"
	"fmt"

	"github.com/BaSui01/agentloop/agent/persistence"
)

// Validate 检查所有分段并一次性返回全部问题
func (c *Config) Validate() error {
	return errors.Join(
		c.Server.validate(),
		c.Loop.validate(),
		validateStore(c.Store),
		c.Telemetry.validate(),
	)
}

func (s ServerConfig) validate() error {
	var errs []error
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("server: invalid HTTP port %d", s.HTTPPort))
	}
	if s.MetricsPort < 0 || s.MetricsPort > 65535 {
		errs = append(errs, fmt.Errorf("server: invalid metrics port %d", s.MetricsPort))
	}
	if s.RateLimitRPS < 0 {
		errs = append(errs, errors.New("server: rate_limit_rps must not be negative"))
	}
	return errors.Join(errs...)
}

func (l LoopConfig) validate() error {
	var errs []error
	check := func(bad bool, format string, args ...any) {
		if bad {
			errs = append(errs, fmt.Errorf("loop: "+format, args...))
		}
	}
	check(l.LoopDelay <= 0, "loop_delay must be positive, got %s", l.LoopDelay)
	check(l.MaxCycles < 0, "max_cycles must not be negative")
	check(l.HandoffCooldown < 0, "handoff_cooldown must not be negative")
	check(l.RecoveryWeightThreshold < 1, "recovery_weight_threshold must be at least 1")
	check(l.ChatHistoryCap < 1, "chat_history_cap must be at least 1")
	check(l.FailureWindow <= 0, "failure_window must be positive")
	check(l.FailureThreshold < 1, "failure_threshold must be at least 1")
	check(l.GoalProgressStep < 1 || l.GoalProgressStep > 100, "goal_progress_step must be between 1 and 100")
	for name, w := range l.BuiltinWeights {
		check(w < 1, "builtin weight for %q must be at least 1", name)
	}
	return errors.Join(errs...)
}

func validateStore(s persistence.StoreConfig) error {
	switch s.Type {
	case "", persistence.StoreTypeMemory, persistence.StoreTypeFile,
		persistence.StoreTypeRedis, persistence.StoreTypeMongo:
		return nil
	case persistence.StoreTypeSQL:
		if err := s.SQL.Pool.Validate(); err != nil {
			return fmt.Errorf("store: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("store: unsupported store type %q", s.Type)
	}
}

func (t TelemetryConfig) validate() error {
	if t.SampleRate < 0 || t.SampleRate > 1 {
		return fmt.Errorf("telemetry: sample_rate must be between 0 and 1, got %g", t.SampleRate)
	}
	return nil
}
