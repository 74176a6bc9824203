package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/agentloop/internal/database"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StateEntry is the row backing SQLStore.
type StateEntry struct {
	Key       string    `gorm:"column:state_key;primaryKey;size:255"`
	Value     []byte    `gorm:"column:value"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

// TableName pins the table name shared with the SQL migrations.
func (StateEntry) TableName() string { return "state_entries" }

// SQLStore is a gorm-backed StateStore (postgres, mysql or sqlite).
type SQLStore struct {
	db *gorm.DB
	// pool is set when NewStateStore opened the connection itself.
	pool *database.Pool
}

// NewSQLStore wraps db. When autoMigrate is set the state table is created
// through gorm.
func NewSQLStore(db *gorm.DB, autoMigrate bool) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("%w: nil db", ErrInvalidInput)
	}
	if autoMigrate {
		if err := db.AutoMigrate(&StateEntry{}); err != nil {
			return nil, fmt.Errorf("failed to migrate state table: %w", err)
		}
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Put(ctx context.Context, key string, value []byte) error {
	if err := validKey(key); err != nil {
		return err
	}
	entry := StateEntry{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "state_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&entry).Error
	if err != nil {
		return fmt.Errorf("sql put %s: %w", key, err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, key string) ([]byte, error) {
	var entry StateEntry
	err := s.db.WithContext(ctx).Where("state_key = ?", key).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sql get %s: %w", key, err)
	}
	return entry.Value, nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	if s.pool != nil {
		return s.pool.Ping(ctx)
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the connection pool when the store opened it itself.
func (s *SQLStore) Close() error {
	if s.pool != nil {
		return s.pool.Close()
	}
	return nil
}

// Pool returns the connection pool owned by the store, or nil when the
// caller supplied the gorm handle.
func (s *SQLStore) Pool() *database.Pool { return s.pool }
