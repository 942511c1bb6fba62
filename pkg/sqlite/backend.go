// Package sqlite provides the public API for the SQLite cupboard backend.
// It exposes the Open function and lifecycle options while keeping the
// implementation internal.
package sqlite

import (
	"context"

	"github.com/charmbracelet/log"

	"github.com/mesh-intelligence/cupboard-tools/internal/sqlite"
	"github.com/mesh-intelligence/cupboard-tools/pkg/types"
)

// Backend is an open cupboard database. It implements types.Database.
type Backend = sqlite.Backend

// Helper is passed to create and upgrade hooks.
type Helper = sqlite.Helper

// Option configures Open.
type Option = sqlite.Option

// Open opens the database described by cfg and prepares a table for each
// kind.
//
// Example:
//
//	db, err := sqlite.Open(ctx, types.Config{
//	    Backend: types.BackendSQLite,
//	    DataDir: ".cupboard-db",
//	}, kinds)
//	defer db.Close()
func Open(ctx context.Context, cfg types.Config, kinds []types.EntityKind, opts ...Option) (*Backend, error) {
	return sqlite.Open(ctx, cfg, kinds, opts...)
}

// WithLogger sets the backend logger.
func WithLogger(l *log.Logger) Option { return sqlite.WithLogger(l) }

// WithOnCreate replaces the hook run on a fresh database.
func WithOnCreate(fn func(h *Helper) error) Option { return sqlite.WithOnCreate(fn) }

// WithOnUpgrade replaces the hook run when the stored version is older.
func WithOnUpgrade(fn func(h *Helper, oldVersion, newVersion int) error) Option {
	return sqlite.WithOnUpgrade(fn)
}

// WithConverterFactories adds converter factories ahead of the defaults.
func WithConverterFactories(f ...types.ConverterFactory) Option {
	return sqlite.WithConverterFactories(f...)
}
