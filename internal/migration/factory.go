package migration

import (
	"fmt"

	"github.com/BaSui01/agentloop/agent/persistence"
	"go.uber.org/zap"
)

// FromStoreConfig builds a migrator for the SQL state store described by
// cfg. The store must be of type sql.
func FromStoreConfig(cfg persistence.StoreConfig, logger *zap.Logger) (*Migrator, error) {
	if cfg.Type != persistence.StoreTypeSQL {
		return nil, fmt.Errorf("migrations require the sql state store, got %q", cfg.Type)
	}
	dialect, err := ParseDialect(cfg.SQL.Driver)
	if err != nil {
		return nil, err
	}
	return New(Config{Dialect: dialect, DSN: cfg.SQL.DSN}, logger)
}
