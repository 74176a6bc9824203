package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrPoolClosed is returned by Ping after Close.
var ErrPoolClosed = errors.New("database pool is closed")

// keepalivePingTimeout bounds one keepalive ping.
const keepalivePingTimeout = 5 * time.Second

// PoolConfig 连接池配置，零值字段在 NewPool 中取默认值
type PoolConfig struct {
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns" env:"MAX_OPEN_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time" env:"CONN_MAX_IDLE_TIME"`
	// KeepaliveInterval 后台 ping 间隔，0 表示关闭
	KeepaliveInterval time.Duration `yaml:"keepalive_interval" json:"keepalive_interval" env:"KEEPALIVE_INTERVAL"`
}

// DefaultPoolConfig 状态表读写量很小，连接数按单实例调度器设定
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxIdleConns:      2,
		MaxOpenConns:      8,
		ConnMaxLifetime:   time.Hour,
		ConnMaxIdleTime:   10 * time.Minute,
		KeepaliveInterval: 30 * time.Second,
	}
}

// withDefaults fills zero fields from DefaultPoolConfig.
func (c PoolConfig) withDefaults() PoolConfig {
	d := DefaultPoolConfig()
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = d.MaxOpenConns
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = min(d.MaxIdleConns, c.MaxOpenConns)
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = d.ConnMaxLifetime
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = d.ConnMaxIdleTime
	}
	return c
}

// Validate 校验连接池配置
func (c PoolConfig) Validate() error {
	switch {
	case c.MaxOpenConns < 0, c.MaxIdleConns < 0:
		return fmt.Errorf("pool connection limits must not be negative")
	case c.ConnMaxLifetime < 0, c.ConnMaxIdleTime < 0, c.KeepaliveInterval < 0:
		return fmt.Errorf("pool durations must not be negative")
	case c.MaxOpenConns > 0 && c.MaxIdleConns > c.MaxOpenConns:
		return fmt.Errorf("max_idle_conns (%d) cannot exceed max_open_conns (%d)", c.MaxIdleConns, c.MaxOpenConns)
	}
	return nil
}

// =============================================================================
// 🗄️ Pool
// =============================================================================

// Pool owns the *sql.DB behind a gorm handle: it applies the pool limits,
// optionally pings in the background and exposes pool statistics.
type Pool struct {
	db     *gorm.DB
	sqlDB  *sql.DB
	config PoolConfig
	logger *zap.Logger

	closed    atomic.Bool
	healthy   atomic.Bool
	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// NewPool applies cfg to db's connection pool. The returned Pool owns the
// connection; Close closes it.
func NewPool(db *gorm.DB, cfg PoolConfig, logger *zap.Logger) (*Pool, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pool config: %w", err)
	}
	cfg = cfg.withDefaults()

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	p := &Pool{
		db:     db,
		sqlDB:  sqlDB,
		config: cfg,
		logger: logger.With(zap.String("component", "db_pool")),
		stop:   make(chan struct{}),
	}
	p.healthy.Store(true)

	if cfg.KeepaliveInterval > 0 {
		p.wg.Add(1)
		go p.keepalive(cfg.KeepaliveInterval)
	}

	p.logger.Debug("database pool configured",
		zap.Int("max_open_conns", cfg.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.MaxIdleConns),
		zap.Duration("keepalive", cfg.KeepaliveInterval),
	)
	return p, nil
}

// Gorm 返回 gorm 句柄
func (p *Pool) Gorm() *gorm.DB { return p.db }

// Config returns the effective pool configuration.
func (p *Pool) Config() PoolConfig { return p.config }

// Ping checks the connection.
func (p *Pool) Ping(ctx context.Context) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}
	return p.sqlDB.PingContext(ctx)
}

// Healthy reports the result of the last keepalive ping; true until the
// first failure.
func (p *Pool) Healthy() bool { return p.healthy.Load() }

// Stats 返回 database/sql 的连接池统计
func (p *Pool) Stats() sql.DBStats { return p.sqlDB.Stats() }

// Collector exports the pool statistics with db_name=name.
func (p *Pool) Collector(name string) prometheus.Collector {
	return collectors.NewDBStatsCollector(p.sqlDB, name)
}

// Close stops the keepalive and closes the connection. Repeated calls
// return the first result.
func (p *Pool) Close() error {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		close(p.stop)
		p.wg.Wait()
		p.closeErr = p.sqlDB.Close()
	})
	return p.closeErr
}

// keepalive pings every interval and logs only health transitions.
func (p *Pool) keepalive(interval time.Duration) {
	defer p.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), keepalivePingTimeout)
		err := p.sqlDB.PingContext(ctx)
		cancel()

		switch {
		case err != nil && p.healthy.Swap(false):
			p.logger.Error("database unreachable", zap.Error(err))
		case err == nil && !p.healthy.Swap(true):
			stats := p.Stats()
			p.logger.Info("database reachable again",
				zap.Int("open_connections", stats.OpenConnections),
				zap.Int("idle", stats.Idle),
			)
		}
	}
}
