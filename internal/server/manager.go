package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config 单个 HTTP 服务器的监听与超时参数
type Config struct {
	Addr            string // ":0" 绑定随机端口
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	MaxHeaderBytes  int
	ShutdownTimeout time.Duration
}

// DefaultConfig 返回 :8080 与 net/http 推荐的超时组合
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     2 * time.Minute,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: 15 * time.Second,
	}
}

// State is a Manager lifecycle stage.
type State int

const (
	StateIdle State = iota
	StateListening
	StateServing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateListening:
		return "listening"
	case StateServing:
		return "serving"
	case StateClosed:
		return "closed"
	default:
		return "idle"
	}
}

// ErrClosed is returned by Listen and Run after Shutdown.
var ErrClosed = errors.New("server closed")

// =============================================================================
// 🌐 Manager
// =============================================================================

// Manager drives one http.Server through idle → listening → serving →
// closed. The API and the metrics endpoint each get their own.
type Manager struct {
	name string
	srv  *http.Server
	cfg  Config
	log  *zap.Logger

	mu      sync.Mutex
	state   State
	ln      net.Listener
	serving chan struct{}
}

// NewManager 创建管理器；name 出现在日志和错误里
func NewManager(name string, handler http.Handler, cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultConfig().ShutdownTimeout
	}
	return &Manager{
		name: name,
		srv: &http.Server{
			Handler:        handler,
			ReadTimeout:    cfg.ReadTimeout,
			WriteTimeout:   cfg.WriteTimeout,
			IdleTimeout:    cfg.IdleTimeout,
			MaxHeaderBytes: cfg.MaxHeaderBytes,
		},
		cfg:     cfg,
		log:     logger.With(zap.String("component", "http_server"), zap.String("server", name)),
		serving: make(chan struct{}),
	}
}

// Listen binds the address ahead of Run so Addr reports the real port.
// Calling it again while listening is a no-op.
func (m *Manager) Listen() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case StateClosed:
		return fmt.Errorf("%s: %w", m.name, ErrClosed)
	case StateListening, StateServing:
		return nil
	}
	ln, err := net.Listen("tcp", m.cfg.Addr)
	if err != nil {
		return fmt.Errorf("%s: failed to listen on %s: %w", m.name, m.cfg.Addr, err)
	}
	m.ln, m.state = ln, StateListening
	return nil
}

// Run serves until ctx ends and then shuts down within ShutdownTimeout.
// A clean shutdown returns nil.
func (m *Manager) Run(ctx context.Context) error {
	if err := m.Listen(); err != nil {
		return err
	}

	m.mu.Lock()
	if m.state != StateListening {
		m.mu.Unlock()
		return fmt.Errorf("%s: already serving", m.name)
	}
	ln := m.ln
	m.state = StateServing
	close(m.serving)
	m.mu.Unlock()

	m.log.Info("serving", zap.String("addr", ln.Addr().String()))
	served := make(chan error, 1)
	go func() { served <- m.srv.Serve(ln) }()

	select {
	case err := <-served:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		m.log.Error("serve failed", zap.Error(err))
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.ShutdownTimeout)
	defer cancel()
	return m.Shutdown(shutdownCtx)
}

// Serving is closed once Run has handed the listener to http.Server.
func (m *Manager) Serving() <-chan struct{} { return m.serving }

// Shutdown drains in-flight requests. Only the first call does any work.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	prev := m.state
	m.state = StateClosed
	ln := m.ln
	m.mu.Unlock()

	if prev == StateClosed {
		return nil
	}
	start := time.Now()
	err := m.srv.Shutdown(ctx)
	if prev == StateListening {
		// 未进入 Serve 的 listener 需要自己关
		_ = ln.Close()
	}
	if err != nil {
		m.log.Error("shutdown failed", zap.Error(err))
		return fmt.Errorf("%s: shutdown: %w", m.name, err)
	}
	m.log.Info("stopped", zap.Duration("drain", time.Since(start)))
	return nil
}

// Addr 已监听时返回实际地址，否则返回配置地址
func (m *Manager) Addr() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ln != nil && m.state != StateClosed {
		return m.ln.Addr().String()
	}
	return m.cfg.Addr
}

// State 返回当前生命周期阶段
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}
