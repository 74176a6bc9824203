package migration

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"

	appdb "github.com/BaSui01/agentloop/internal/database"
)

//go:embed migrations
var migrationsFS embed.FS

// DefaultTable is the golang-migrate bookkeeping table.
const DefaultTable = "schema_migrations"

// Dialect is a supported SQL dialect.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
	DialectSQLite   Dialect = "sqlite"
)

// ParseDialect accepts the driver names used by the state store config.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "postgres", "postgresql", "pg":
		return DialectPostgres, nil
	case "mysql", "mariadb":
		return DialectMySQL, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	default:
		return "", fmt.Errorf("unsupported database dialect: %q", s)
	}
}

// Dir is the embedded directory holding d's migrations.
func (d Dialect) Dir() string {
	return path.Join("migrations", string(d))
}

// Config configures a Migrator.
type Config struct {
	Dialect Dialect
	DSN     string
	// Table overrides DefaultTable.
	Table string
}

// Status is the state of one embedded migration.
type Status struct {
	Version uint   `json:"version"`
	Name    string `json:"name"`
	Applied bool   `json:"applied"`
	Dirty   bool   `json:"dirty"`
}

// Info summarises the schema state.
type Info struct {
	CurrentVersion uint `json:"current_version"`
	Dirty          bool `json:"dirty"`
	Total          int  `json:"total"`
	Applied        int  `json:"applied"`
	Pending        int  `json:"pending"`
}

// Runner is the operation set the CLI drives.
type Runner interface {
	Up(ctx context.Context) error
	Down(ctx context.Context) error
	Steps(ctx context.Context, n int) error
	Goto(ctx context.Context, version uint) error
	Force(ctx context.Context, version int) error
	Version(ctx context.Context) (uint, bool, error)
	Status(ctx context.Context) ([]Status, error)
	Info(ctx context.Context) (*Info, error)
	Close() error
}

// Migrator applies the embedded state-table migrations with golang-migrate.
type Migrator struct {
	config  Config
	migrate *migrate.Migrate
	db      *sql.DB
	logger  *zap.Logger
}

var _ Runner = (*Migrator)(nil)

// New opens cfg.DSN and prepares the migration source for cfg.Dialect.
func New(cfg Config, logger *zap.Logger) (*Migrator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DSN == "" {
		return nil, errors.New("database DSN is required")
	}
	if _, err := ParseDialect(string(cfg.Dialect)); err != nil {
		return nil, err
	}
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}

	// 复用 gorm 的连接（sqlite 为纯 Go 的 glebarez 驱动），只借用底层 *sql.DB
	gdb, err := appdb.Open(string(cfg.Dialect), cfg.DSN, logger)
	if err != nil {
		return nil, err
	}
	db, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	driver, err := databaseDriver(cfg, db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create database driver: %w", err)
	}
	src, err := iofs.New(migrationsFS, cfg.Dialect.Dir())
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to load migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, string(cfg.Dialect), driver)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	return &Migrator{
		config:  cfg,
		migrate: m,
		db:      db,
		logger:  logger.With(zap.String("component", "migrator"), zap.String("dialect", string(cfg.Dialect))),
	}, nil
}

func databaseDriver(cfg Config, db *sql.DB) (database.Driver, error) {
	switch cfg.Dialect {
	case DialectPostgres:
		return postgres.WithInstance(db, &postgres.Config{MigrationsTable: cfg.Table})
	case DialectMySQL:
		return mysql.WithInstance(db, &mysql.Config{MigrationsTable: cfg.Table})
	case DialectSQLite:
		return sqlite3.WithInstance(db, &sqlite3.Config{MigrationsTable: cfg.Table})
	default:
		return nil, fmt.Errorf("unsupported database dialect: %q", cfg.Dialect)
	}
}

// ignoreNoChange treats "nothing to do" as success.
func ignoreNoChange(op string, err error) error {
	if err == nil || errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return fmt.Errorf("migration %s failed: %w", op, err)
}

// Up applies every pending migration.
func (m *Migrator) Up(ctx context.Context) error {
	m.logger.Info("applying migrations")
	return ignoreNoChange("up", m.migrate.Up())
}

// Down rolls back the last applied migration.
func (m *Migrator) Down(ctx context.Context) error {
	m.logger.Info("rolling back one migration")
	return ignoreNoChange("down", m.migrate.Steps(-1))
}

// Steps applies (n > 0) or rolls back (n < 0) n migrations.
func (m *Migrator) Steps(ctx context.Context, n int) error {
	if n == 0 {
		return nil
	}
	m.logger.Info("migrating steps", zap.Int("steps", n))
	return ignoreNoChange("steps", m.migrate.Steps(n))
}

// Goto migrates up or down to version.
func (m *Migrator) Goto(ctx context.Context, version uint) error {
	m.logger.Info("migrating to version", zap.Uint("version", version))
	return ignoreNoChange("goto", m.migrate.Migrate(version))
}

// Force records version without running anything, clearing the dirty flag.
func (m *Migrator) Force(ctx context.Context, version int) error {
	m.logger.Warn("forcing migration version", zap.Int("version", version))
	if err := m.migrate.Force(version); err != nil {
		return fmt.Errorf("migration force failed: %w", err)
	}
	return nil
}

// Version returns the applied version; 0 means none.
func (m *Migrator) Version(ctx context.Context) (uint, bool, error) {
	version, dirty, err := m.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read version: %w", err)
	}
	return version, dirty, nil
}

// Status lists every embedded migration with its applied flag.
func (m *Migrator) Status(ctx context.Context) ([]Status, error) {
	current, dirty, err := m.Version(ctx)
	if err != nil {
		return nil, err
	}
	files, err := Available(m.config.Dialect)
	if err != nil {
		return nil, err
	}
	out := make([]Status, 0, len(files))
	for _, f := range files {
		out = append(out, Status{
			Version: f.Version,
			Name:    f.Name,
			Applied: f.Version <= current,
			Dirty:   dirty && f.Version == current,
		})
	}
	return out, nil
}

// Info summarises Status.
func (m *Migrator) Info(ctx context.Context) (*Info, error) {
	statuses, err := m.Status(ctx)
	if err != nil {
		return nil, err
	}
	current, dirty, err := m.Version(ctx)
	if err != nil {
		return nil, err
	}
	info := &Info{CurrentVersion: current, Dirty: dirty, Total: len(statuses)}
	for _, s := range statuses {
		if s.Applied {
			info.Applied++
		}
	}
	info.Pending = info.Total - info.Applied
	return info, nil
}

// Close releases the source, the driver and the connection.
func (m *Migrator) Close() error {
	srcErr, dbErr := m.migrate.Close()
	return errors.Join(srcErr, dbErr)
}

// File is one embedded migration.
type File struct {
	Version uint
	Name    string
}

// Available lists the embedded migrations of d, ordered by version.
func Available(d Dialect) ([]File, error) {
	entries, err := fs.ReadDir(migrationsFS, d.Dir())
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations for %s: %w", d, err)
	}

	seen := make(map[uint]bool)
	var files []File
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".up.sql") {
			continue
		}
		// 000001_create_state_entries.up.sql
		num, rest, ok := strings.Cut(name, "_")
		if !ok {
			continue
		}
		v, err := strconv.ParseUint(num, 10, 32)
		if err != nil || seen[uint(v)] {
			continue
		}
		seen[uint(v)] = true
		files = append(files, File{Version: uint(v), Name: strings.TrimSuffix(rest, ".up.sql")})
	}
	slices.SortFunc(files, func(a, b File) int {
		return int(a.Version) - int(b.Version)
	})
	return files, nil
}
