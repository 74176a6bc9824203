package config

import (
	"time"

	"github.com/BaSui01/agentloop/agent/persistence"
)

// DefaultConfig 是 Loader 的起点；YAML 与环境变量只覆盖出现的字段
func DefaultConfig() *Config {
	return &Config{
		Server: DefaultServerConfig(),
		Loop:   DefaultLoopConfig(),
		Store:  persistence.DefaultStoreConfig(),
		Log: LogConfig{
			Level:        "info",
			Format:       "json",
			OutputPaths:  []string{"stdout"},
			EnableCaller: true,
		},
		Telemetry: DefaultTelemetryConfig(),
		Metrics:   MetricsConfig{Enabled: true, Namespace: "agentloop"},
	}
}

// DefaultServerConfig HTTP 端口 8080，指标端口 9091
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

// DefaultLoopConfig 不限轮数，启动时恢复上次状态但不自动运行
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		ResumeOnStart:           true,
		LoopDelay:               2 * time.Second,
		HandoffCooldown:         5 * time.Second,
		RecoveryWeightThreshold: 3,
		ChatHistoryCap:          100,
		FailureWindow:           10 * time.Minute,
		FailureThreshold:        3,
		HandlerTimeout:          30 * time.Second,
		GoalProgressStep:        25,
	}
}

// DefaultTelemetryConfig 默认关闭，开启后以 10% 采样率导出到本地 collector
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "agentloop",
		SampleRate:   0.1,
	}
}
