package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/BaSui01/agentloop/internal/database"
)

// Common errors
var (
	ErrNotFound     = errors.New("not found")
	ErrStoreClosed  = errors.New("store is closed")
	ErrInvalidInput = errors.New("invalid input")
)

// StoreType represents the type of storage backend
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeFile   StoreType = "file"
	StoreTypeRedis  StoreType = "redis"
	StoreTypeSQL    StoreType = "sql"
	StoreTypeMongo  StoreType = "mongo"
)

// StoreConfig is the configuration shared by all backends.
type StoreConfig struct {
	// Type is the storage backend type
	Type StoreType `json:"type" yaml:"type" env:"TYPE"`

	// BaseDir is the base directory for file-based storage
	BaseDir string `json:"base_dir" yaml:"base_dir" env:"BASE_DIR"`

	// Timeout bounds every Put/Get issued by the loop
	Timeout time.Duration `json:"timeout" yaml:"timeout" env:"TIMEOUT"`

	Redis RedisStoreConfig `json:"redis" yaml:"redis" env:"REDIS"`
	SQL   SQLStoreConfig   `json:"sql" yaml:"sql" env:"SQL"`
	Mongo MongoStoreConfig `json:"mongo" yaml:"mongo" env:"MONGO"`
}

// RedisStoreConfig contains Redis-specific configuration
type RedisStoreConfig struct {
	Host      string `json:"host" yaml:"host" env:"HOST"`
	Port      int    `json:"port" yaml:"port" env:"PORT"`
	Password  string `json:"password" yaml:"password" env:"PASSWORD"`
	DB        int    `json:"db" yaml:"db" env:"DB"`
	PoolSize  int    `json:"pool_size" yaml:"pool_size" env:"POOL_SIZE"`
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix" env:"KEY_PREFIX"`
}

// SQLStoreConfig contains gorm-backed store configuration.
type SQLStoreConfig struct {
	// Driver is one of postgres, mysql, sqlite
	Driver string `json:"driver" yaml:"driver" env:"DRIVER"`
	DSN    string `json:"dsn" yaml:"dsn" env:"DSN"`

	// AutoMigrate creates the state table through gorm when the schema
	// is not managed by `agentloop migrate`
	AutoMigrate bool `json:"auto_migrate" yaml:"auto_migrate" env:"AUTO_MIGRATE"`

	Pool database.PoolConfig `json:"pool" yaml:"pool" env:"POOL"`
}

// MongoStoreConfig contains MongoDB-specific configuration
type MongoStoreConfig struct {
	URI        string `json:"uri" yaml:"uri" env:"URI"`
	Database   string `json:"database" yaml:"database" env:"DATABASE"`
	Collection string `json:"collection" yaml:"collection" env:"COLLECTION"`
}

// DefaultStoreConfig returns the default store configuration
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Type:    StoreTypeMemory,
		BaseDir: "./data/state",
		Timeout: 5 * time.Second,
		Redis: RedisStoreConfig{
			Host:      "localhost",
			Port:      6379,
			DB:        0,
			PoolSize:  10,
			KeyPrefix: "agentloop:",
		},
		SQL: SQLStoreConfig{
			Driver: "sqlite",
			DSN:    "file:agentloop.db",
			Pool:   database.DefaultPoolConfig(),
		},
		Mongo: MongoStoreConfig{
			URI:        "mongodb://localhost:27017",
			Database:   "agentloop",
			Collection: "state",
		},
	}
}

// Store is the base interface for all persistent stores
type Store interface {
	// Close closes the store and releases resources
	Close() error

	// Ping checks if the store is healthy
	Ping(ctx context.Context) error
}

// StateStore is a durable key/value store. Put and Get are idempotent.
// Get returns ErrNotFound (possibly wrapped) for a missing key.
type StateStore interface {
	Store

	Put(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}
