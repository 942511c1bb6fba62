// Package sqlite implements the SQLite storage backend for cupboard
// databases. A Backend owns one database/sql handle, creates a table per
// registered entity kind, and hands out compartments for entity reads and
// writes inside or outside a transaction.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/cupboard-tools/pkg/convert"
	"github.com/mesh-intelligence/cupboard-tools/pkg/types"
)

// Driver names registered by the imported SQLite packages.
const (
	driverModernc = "sqlite"
	driverNcruces = "sqlite3"
)

const busyTimeoutMillis = 5000

// CreateFunc runs when the database has no schema version yet.
type CreateFunc func(h *Helper) error

// UpgradeFunc runs when the stored schema version is older than the
// configured one.
type UpgradeFunc func(h *Helper, oldVersion, newVersion int) error

// Option configures a Backend at Open.
type Option func(*Backend)

// WithLogger sets the logger used for lifecycle and statement logging.
func WithLogger(l *log.Logger) Option {
	return func(b *Backend) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithOnCreate replaces the default create hook, which creates every table.
func WithOnCreate(fn CreateFunc) Option {
	return func(b *Backend) { b.onCreate = fn }
}

// WithOnUpgrade replaces the default upgrade hook, which adds missing tables,
// columns and indexes.
func WithOnUpgrade(fn UpgradeFunc) Option {
	return func(b *Backend) { b.onUpgrade = fn }
}

// WithConverterFactories registers factories consulted before the built-in
// list and object converters.
func WithConverterFactories(f ...types.ConverterFactory) Option {
	return func(b *Backend) { b.extra = append(b.extra, f...) }
}

// Backend implements types.Database on SQLite.
type Backend struct {
	mu     sync.RWMutex
	closed atomic.Bool
	db     *sql.DB
	config types.Config
	path   string
	logger *log.Logger

	kinds map[string]types.EntityKind
	order []types.EntityKind

	codec     convert.Codec
	extra     []types.ConverterFactory
	factories []types.ConverterFactory
	dynamic   types.FieldConverter

	onCreate  CreateFunc
	onUpgrade UpgradeFunc
}

// Open validates cfg and kinds, opens the database file for the configured
// backend, and runs the create or upgrade hook according to the stored
// schema version.
func Open(ctx context.Context, cfg types.Config, kinds []types.EntityKind, opts ...Option) (*Backend, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	codec, err := convert.CodecByName(cfg.JSONCodec)
	if err != nil {
		return nil, err
	}

	b := &Backend{
		config:    cfg,
		logger:    log.New(io.Discard),
		kinds:     make(map[string]types.EntityKind, len(kinds)),
		codec:     codec,
		onCreate:  func(h *Helper) error { return h.CreateTables() },
		onUpgrade: func(h *Helper, _, _ int) error { return h.UpgradeTables() },
	}
	for _, opt := range opts {
		opt(b)
	}
	b.factories = append(append([]types.ConverterFactory{}, b.extra...), convert.Factories(codec)...)
	b.dynamic = convert.Dynamic(codec)

	for _, k := range kinds {
		if err := k.Validate(); err != nil {
			return nil, err
		}
		if _, dup := b.kinds[k.Name]; dup {
			return nil, fmt.Errorf("kind %s: %w", k.Name, types.ErrDuplicateKind)
		}
		b.kinds[k.Name] = k
		b.order = append(b.order, k)
	}

	driver, dsn, err := b.dataSource()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", b.path, err)
	}
	// One connection serializes writers and keeps a :memory: database alive
	// for the life of the handle.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("opening %s: %w", b.path, err)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeoutMillis)); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	b.db = db

	if err := b.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	b.logger.Debug("database open", "backend", cfg.Backend, "path", b.path, "version", cfg.DatabaseVersion, "kinds", len(b.order))
	return b, nil
}

// dataSource resolves the driver name and DSN, creating the data directory
// when needed.
func (b *Backend) dataSource() (string, string, error) {
	driver := driverModernc
	if b.config.Backend == types.BackendNcruces {
		driver = driverNcruces
	}

	if b.config.DataDir == types.MemoryDataDir {
		b.path = types.MemoryDataDir
		return driver, types.MemoryDataDir, nil
	}

	dataDir := b.config.DataDir
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", "", fmt.Errorf("creating data dir: %w", err)
	}
	b.path = filepath.Join(dataDir, b.config.DatabaseName)
	return driver, b.path, nil
}

// migrate compares PRAGMA user_version with the configured version and runs
// the matching lifecycle hook in one transaction.
func (b *Backend) migrate(ctx context.Context) error {
	var current int
	if err := b.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&current); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	want := b.config.DatabaseVersion
	switch {
	case current == want:
		return nil
	case current > want:
		return fmt.Errorf("cannot downgrade from %d to %d: %w", current, want, types.ErrInvalidVersion)
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning migration: %w", err)
	}
	h := &Helper{compartment: b.compartment(ctx, tx)}

	if current == 0 {
		b.logger.Info("creating database", "path", b.path, "version", want)
		err = b.onCreate(h)
	} else {
		b.logger.Info("upgrading database", "path", b.path, "from", current, "to", want)
		err = b.onUpgrade(h, current, want)
	}
	if err == nil {
		// PRAGMA arguments cannot be bound parameters.
		_, err = tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", want))
	}
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("migrating to version %d: %w", want, err)
	}
	return tx.Commit()
}

// Path returns the database file path, or ":memory:".
func (b *Backend) Path() string { return b.path }

// Config returns the effective configuration after defaults.
func (b *Backend) Config() types.Config { return b.config }

// Codec returns the JSON codec used for converted columns.
func (b *Backend) Codec() convert.Codec { return b.codec }

// Kinds returns the registered kinds in registration order.
func (b *Backend) Kinds() []types.EntityKind {
	out := make([]types.EntityKind, len(b.order))
	copy(out, b.order)
	return out
}

// Kind returns the registered kind with the given name.
func (b *Backend) Kind(name string) (types.EntityKind, bool) {
	k, ok := b.kinds[name]
	return k, ok
}

// Version reads the stored schema version.
func (b *Backend) Version(ctx context.Context) (int, error) {
	if b.closed.Load() {
		return 0, types.ErrDatabaseClosed
	}
	var v int
	if err := b.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, err
	}
	return v, nil
}

// Reader returns a compartment that runs each statement on its own.
func (b *Backend) Reader(ctx context.Context) types.Compartment {
	return b.compartment(ctx, b.db)
}

// Transact runs fn in one transaction. listener, when non-nil, is told about
// the begin and then exactly one of commit or rollback.
func (b *Backend) Transact(ctx context.Context, listener types.TransactionListener, fn func(types.Compartment) error) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed.Load() {
		return types.ErrDatabaseClosed
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if listener != nil {
		listener.OnBegin()
	}

	if err := fn(b.compartment(ctx, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			b.logger.Warn("rollback failed", "err", rbErr)
		}
		if listener != nil {
			listener.OnRollback()
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		if listener != nil {
			listener.OnRollback()
		}
		return fmt.Errorf("committing transaction: %w", err)
	}
	if listener != nil {
		listener.OnCommit()
	}
	return nil
}

// Close releases the database handle. Close is idempotent; operations after
// Close return types.ErrDatabaseClosed.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed.Swap(true) {
		return nil
	}
	b.logger.Debug("database closed", "path", b.path)
	return b.db.Close()
}

func (b *Backend) compartment(ctx context.Context, q querier) *compartment {
	return &compartment{ctx: ctx, q: q, b: b}
}

// Helper is handed to lifecycle hooks. It writes through the migration
// transaction and exposes the schema operations.
type Helper struct {
	*compartment
}

var _ types.Compartment = (*Helper)(nil)

// CreateTables creates the table and indexes of every registered kind.
func (h *Helper) CreateTables() error {
	for _, k := range h.b.order {
		if err := createTable(h.ctx, h.q, k); err != nil {
			return err
		}
	}
	return nil
}

// UpgradeTables creates missing tables and adds missing columns and indexes.
// Existing columns are never dropped or retyped.
func (h *Helper) UpgradeTables() error {
	for _, k := range h.b.order {
		if err := upgradeTable(h.ctx, h.q, k); err != nil {
			return err
		}
	}
	return nil
}

// Compile-time interface check.
var _ types.Database = (*Backend)(nil)
