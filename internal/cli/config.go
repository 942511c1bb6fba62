package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/cupboard-tools/internal/paths"
	"github.com/mesh-intelligence/cupboard-tools/pkg/types"
)

const (
	configFileName = "config"
	configFileType = "yaml"

	cfgKeyBackend   = "backend"
	cfgKeyAuthority = "authority"
	cfgKeyLogLevel  = "log_level"
	cfgKeyLogFormat = "log_format"

	defaultAuthority = "cupboard.local"
	defaultLogLevel  = "warn"
	defaultLogFormat = "text"

	envLogLevel = "CUPBOARD_LOG_LEVEL"
)

// settings is the decoded form of config.yaml.
type settings struct {
	Backend         string             `mapstructure:"backend" yaml:"backend"`
	DataDir         string             `mapstructure:"data_dir" yaml:"data_dir,omitempty"`
	DatabaseName    string             `mapstructure:"database_name" yaml:"database_name,omitempty"`
	DatabaseVersion int                `mapstructure:"database_version" yaml:"database_version,omitempty"`
	Authority       string             `mapstructure:"authority" yaml:"authority"`
	BasePath        string             `mapstructure:"base_path" yaml:"base_path,omitempty"`
	JSONCodec       string             `mapstructure:"json_codec" yaml:"json_codec,omitempty"`
	LogLevel        string             `mapstructure:"log_level" yaml:"log_level,omitempty"`
	LogFormat       string             `mapstructure:"log_format" yaml:"log_format,omitempty"`
	Kinds           []types.EntityKind `mapstructure:"kinds" yaml:"kinds"`
}

// defaultSettings is written to config.yaml on first run. The sample kind
// makes a fresh install usable without editing the file.
func defaultSettings() settings {
	return settings{
		Backend:   types.BackendSQLite,
		Authority: defaultAuthority,
		LogLevel:  defaultLogLevel,
		LogFormat: defaultLogFormat,
		Kinds: []types.EntityKind{{
			Name: "Note",
			Path: "notes",
			Columns: []types.Column{
				{Name: "title", Type: types.ColumnText, Index: true},
				{Name: "body", Type: types.ColumnText},
				{Name: "tags", Type: types.ColumnJSON},
			},
		}},
	}
}

// databaseConfig builds the backend configuration for dataDir.
func (s settings) databaseConfig(dataDir string) types.Config {
	return types.Config{
		Backend:         s.Backend,
		DataDir:         dataDir,
		DatabaseName:    s.DatabaseName,
		DatabaseVersion: s.DatabaseVersion,
		JSONCodec:       s.JSONCodec,
	}
}

// loadSettings reads config.yaml from configDir with Viper, creating the
// directory and a default file on first run.
func loadSettings(configDir string) (settings, error) {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return settings{}, systemError(fmt.Errorf("create config dir: %w", err))
	}
	if _, err := writeConfigIfMissing(paths.ConfigFile(configDir), defaultSettings()); err != nil {
		return settings{}, systemError(err)
	}

	v := viper.New()
	v.SetDefault(cfgKeyBackend, types.BackendSQLite)
	v.SetDefault(cfgKeyAuthority, defaultAuthority)
	v.SetDefault(cfgKeyLogLevel, defaultLogLevel)
	v.SetDefault(cfgKeyLogFormat, defaultLogFormat)
	if err := v.BindEnv(cfgKeyLogLevel, envLogLevel); err != nil {
		return settings{}, systemError(err)
	}
	v.SetConfigName(configFileName)
	v.SetConfigType(configFileType)
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return settings{}, userError(fmt.Errorf("read config: %w", err))
		}
	}

	var s settings
	if err := v.Unmarshal(&s); err != nil {
		return settings{}, userError(fmt.Errorf("decode config: %w", err))
	}
	return s, nil
}

// writeConfigIfMissing marshals s to path unless the file exists. It reports
// whether the file was written.
func writeConfigIfMissing(path string, s settings) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("stat config file: %w", err)
	}

	data, err := yaml.Marshal(&s)
	if err != nil {
		return false, fmt.Errorf("marshal config: %w", err)
	}
	header := []byte("# cupboard configuration\n")
	if err := os.WriteFile(path, append(header, data...), 0o644); err != nil {
		return false, fmt.Errorf("write config: %w", err)
	}
	return true, nil
}
