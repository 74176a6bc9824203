package persistence

import (
	"context"
	"fmt"

	"github.com/BaSui01/agentloop/internal/database"
	"go.uber.org/zap"
)

// NewStateStore creates a StateStore based on the configuration.
func NewStateStore(ctx context.Context, config StoreConfig, logger *zap.Logger) (StateStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "state_store"), zap.String("type", string(config.Type)))

	var (
		store StateStore
		err   error
	)
	switch config.Type {
	case StoreTypeMemory, "":
		store = NewMemoryStore()
	case StoreTypeFile:
		store, err = NewFileStore(config)
	case StoreTypeRedis:
		store, err = NewRedisStore(config)
	case StoreTypeSQL:
		store, err = openSQLStore(config.SQL, logger)
	case StoreTypeMongo:
		store, err = NewMongoStore(ctx, config)
	default:
		return nil, fmt.Errorf("unsupported state store type: %s", config.Type)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("state store ready")
	return store, nil
}

func openSQLStore(cfg SQLStoreConfig, logger *zap.Logger) (*SQLStore, error) {
	db, err := database.Open(cfg.Driver, cfg.DSN, logger)
	if err != nil {
		return nil, err
	}
	pool, err := database.NewPool(db, cfg.Pool, logger)
	if err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
		return nil, err
	}
	store, err := NewSQLStore(pool.Gorm(), cfg.AutoMigrate)
	if err != nil {
		_ = pool.Close()
		return nil, err
	}
	store.pool = pool
	return store, nil
}
