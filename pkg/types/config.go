package types

import (
	"errors"
	"fmt"
)

// Config holds backend selection and database parameters for opening a
// cupboard database.
type Config struct {
	Backend         string `json:"backend" yaml:"backend"`
	DataDir         string `json:"data_dir" yaml:"data_dir"`
	DatabaseName    string `json:"database_name" yaml:"database_name"`
	DatabaseVersion int    `json:"database_version" yaml:"database_version"`
	JSONCodec       string `json:"json_codec" yaml:"json_codec"`
}

// Supported backend names. BackendSQLite uses modernc.org/sqlite;
// BackendNcruces uses the WebAssembly build from github.com/ncruces/go-sqlite3.
const (
	BackendSQLite  = "sqlite"
	BackendNcruces = "ncruces"
)

// Supported JSON codecs for field converters.
const (
	CodecGoccy    = "goccy"
	CodecJSONIter = "jsoniter"
)

// Defaults applied by WithDefaults.
const (
	DefaultDatabaseName    = "cupboard.db"
	DefaultDatabaseVersion = 1
	MemoryDataDir          = ":memory:"
)

// Config validation errors.
var (
	ErrBackendEmpty   = errors.New("backend must not be empty")
	ErrBackendUnknown = errors.New("unknown backend")
	ErrCodecUnknown   = errors.New("unknown json codec")
)

// knownBackends lists the backends that Validate accepts.
var knownBackends = map[string]bool{
	BackendSQLite:  true,
	BackendNcruces: true,
}

// knownCodecs lists the JSON codecs that Validate accepts.
var knownCodecs = map[string]bool{
	CodecGoccy:    true,
	CodecJSONIter: true,
}

// WithDefaults fills the database name, version, and codec when unset.
func (c Config) WithDefaults() Config {
	if c.DatabaseName == "" {
		c.DatabaseName = DefaultDatabaseName
	}
	if c.DatabaseVersion == 0 {
		c.DatabaseVersion = DefaultDatabaseVersion
	}
	if c.JSONCodec == "" {
		c.JSONCodec = CodecGoccy
	}
	return c
}

// Validate checks that the Config is well-formed. It returns a sentinel error
// from this package on failure.
func (c Config) Validate() error {
	if c.Backend == "" {
		return ErrBackendEmpty
	}
	if !knownBackends[c.Backend] {
		return fmt.Errorf("%q: %w", c.Backend, ErrBackendUnknown)
	}
	if c.DatabaseVersion < 0 {
		return fmt.Errorf("version %d: %w", c.DatabaseVersion, ErrInvalidVersion)
	}
	if c.JSONCodec != "" && !knownCodecs[c.JSONCodec] {
		return fmt.Errorf("%q: %w", c.JSONCodec, ErrCodecUnknown)
	}
	return nil
}
