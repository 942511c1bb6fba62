package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/mesh-intelligence/cupboard-tools/internal/paths"
	"github.com/mesh-intelligence/cupboard-tools/pkg/provider"
	"github.com/mesh-intelligence/cupboard-tools/pkg/router"
	"github.com/mesh-intelligence/cupboard-tools/pkg/sqlite"
	"github.com/mesh-intelligence/cupboard-tools/pkg/types"
)

// userErrors are domain errors caused by input rather than by the system.
var userErrors = []error{
	types.ErrUnknownURI,
	types.ErrNoMatch,
	types.ErrInvalidAuthority,
	types.ErrUnregisteredKind,
	types.ErrInvalidKind,
	types.ErrDuplicateKind,
	types.ErrInvalidValues,
	types.ErrInvalidQuery,
	types.ErrInvalidVersion,
	types.ErrNotFound,
	types.ErrBackendEmpty,
	types.ErrBackendUnknown,
	types.ErrCodecUnknown,
	provider.ErrInvalidOperation,
	fs.ErrNotExist,
}

// classify wraps err with the exit code its cause calls for.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return err
	}
	for _, target := range userErrors {
		if errors.Is(err, target) {
			return userError(err)
		}
	}
	return systemError(err)
}

// session is an open database with its router and provider.
type session struct {
	db       *sqlite.Backend
	router   *router.Router
	provider *provider.Provider
	dataDir  string
}

// kinds returns the configured kinds with column types normalized.
func (a *app) kinds() ([]types.EntityKind, error) {
	out := make([]types.EntityKind, len(a.settings.Kinds))
	for i, k := range a.settings.Kinds {
		cols := make([]types.Column, len(k.Columns))
		for j, c := range k.Columns {
			ct, err := types.ParseColumnType(string(c.Type))
			if err != nil {
				return nil, fmt.Errorf("kind %s: %w", k.Name, err)
			}
			c.Type = ct
			cols[j] = c
		}
		k.Columns = cols
		out[i] = k
	}
	return out, nil
}

// newRouter builds the router for the configured authority and kinds.
func (a *app) newRouter() (*router.Router, error) {
	kinds, err := a.kinds()
	if err != nil {
		return nil, userError(err)
	}
	var r *router.Router
	if a.settings.BasePath == "" {
		r, err = router.ForAuthority(a.settings.Authority, kinds)
	} else {
		r, err = router.ForAuthorityPath(a.settings.Authority, a.settings.BasePath, kinds)
	}
	if err != nil {
		return nil, userError(fmt.Errorf("config: %w", err))
	}
	return r, nil
}

// dataDir resolves the data directory for this invocation.
func (a *app) dataDir() (string, error) {
	dir, err := paths.ResolveDataDir(a.flags.dataDir, a.settings.DataDir)
	if err != nil {
		return "", systemError(fmt.Errorf("resolve data dir: %w", err))
	}
	return dir, nil
}

// open opens the database and wires a provider over it, configured with
// opts after the logger. The caller must Close the session.
func (a *app) open(ctx context.Context, opts ...provider.Option) (*session, error) {
	r, err := a.newRouter()
	if err != nil {
		return nil, err
	}
	dir, err := a.dataDir()
	if err != nil {
		return nil, err
	}

	db, err := sqlite.Open(ctx, a.settings.databaseConfig(dir), r.Kinds(), sqlite.WithLogger(a.logger))
	if err != nil {
		return nil, classify(fmt.Errorf("open database: %w", err))
	}
	a.logger.Debug("session open", "data_dir", dir, "base", r.BaseURI())

	return &session{
		db:       db,
		router:   r,
		provider: provider.New(db, r, append([]provider.Option{provider.WithLogger(a.logger)}, opts...)...),
		dataDir:  dir,
	}, nil
}

func (s *session) Close() error {
	return s.db.Close()
}
