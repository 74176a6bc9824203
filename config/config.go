package config

import (
	"time"

	"github.com/BaSui01/agentloop/agent/persistence"
)

// Config 是 AgentLoop 的完整配置结构
type Config struct {
	// Server HTTP 服务配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Loop 调度循环配置
	Loop LoopConfig `yaml:"loop" env:"LOOP"`

	// Store 状态存储配置
	Store persistence.StoreConfig `yaml:"store" env:"STORE"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`

	// Metrics Prometheus 指标配置
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 每个客户端每秒请求数，0 表示不限流
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 令牌桶突发容量
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
}

// LoopConfig 调度循环配置
type LoopConfig struct {
	// 进程启动后立即开始循环
	AutoStart bool `yaml:"auto_start" env:"AUTO_START"`
	// 如果存储中记录为运行中，启动时自动恢复
	ResumeOnStart bool `yaml:"resume_on_start" env:"RESUME_ON_START"`
	// 两次周期之间的间隔
	LoopDelay time.Duration `yaml:"loop_delay" env:"LOOP_DELAY"`
	// 最大周期数，0 表示不限
	MaxCycles int64 `yaml:"max_cycles" env:"MAX_CYCLES"`
	// 两次移交之间的最小间隔
	HandoffCooldown time.Duration `yaml:"handoff_cooldown" env:"HANDOFF_COOLDOWN"`
	// 恢复模式下可被选中的最低权重
	RecoveryWeightThreshold int `yaml:"recovery_weight_threshold" env:"RECOVERY_WEIGHT_THRESHOLD"`
	// 聊天记录上限
	ChatHistoryCap int `yaml:"chat_history_cap" env:"CHAT_HISTORY_CAP"`
	// 失败统计窗口
	FailureWindow time.Duration `yaml:"failure_window" env:"FAILURE_WINDOW"`
	// 窗口内失败达到该数量时进入恢复模式
	FailureThreshold int `yaml:"failure_threshold" env:"FAILURE_THRESHOLD"`
	// 单次 handler 执行超时，0 表示不限
	HandlerTimeout time.Duration `yaml:"handler_timeout" env:"HANDLER_TIMEOUT"`
	// 每次成功推进目标的进度
	GoalProgressStep int `yaml:"goal_progress_step" env:"GOAL_PROGRESS_STEP"`
	// 随机种子，0 表示使用随机种子
	Seed int64 `yaml:"seed" env:"SEED"`
	// 内置 handler 权重，未列出的使用默认值；环境变量格式 planner=3,reviewer=4
	BuiltinWeights map[string]int `yaml:"builtin_weights" env:"BUILTIN_WEIGHTS"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// MetricsConfig Prometheus 指标配置
type MetricsConfig struct {
	// 是否启用 /metrics 端点
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 指标命名空间
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}
