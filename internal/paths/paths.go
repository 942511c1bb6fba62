// Package paths resolves where the cupboard CLI keeps its configuration file
// and its database.
package paths

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/mesh-intelligence/cupboard-tools/pkg/types"
)

// AppName names the per-user platform directories.
const AppName = "cupboard"

// ConfigFileName is the configuration file inside the config directory.
const ConfigFileName = "config.yaml"

// DefaultDataDirName is the CWD-relative data directory used when nothing
// else selects one.
const DefaultDataDirName = ".cupboard-db"

// Environment variable names for directory overrides.
const (
	EnvConfigDir = "CUPBOARD_CONFIG_DIR"
	EnvDataDir   = "CUPBOARD_DATA_DIR"
)

// platformDir holds platform-detection functions that can be overridden in tests.
var platformDir = struct {
	homeDir       func() (string, error)
	userConfigDir func() (string, error)
}{
	homeDir:       os.UserHomeDir,
	userConfigDir: os.UserConfigDir,
}

// userDir returns <base>/cupboard where base is $<xdgVar>, ~/<linuxRel...>
// on Linux, or os.UserConfigDir elsewhere.
func userDir(xdgVar string, linuxRel ...string) (string, error) {
	if runtime.GOOS != "linux" {
		dir, err := platformDir.userConfigDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(dir, AppName), nil
	}
	if xdg := os.Getenv(xdgVar); xdg != "" {
		return filepath.Join(xdg, AppName), nil
	}
	home, err := platformDir.homeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(append(append([]string{home}, linuxRel...), AppName)...), nil
}

// DefaultConfigDir returns the platform-specific default configuration directory.
//
// Linux:   $XDG_CONFIG_HOME/cupboard (fallback ~/.config/cupboard)
// macOS:   ~/Library/Application Support/cupboard
// Windows: %APPDATA%/cupboard
func DefaultConfigDir() (string, error) {
	return userDir("XDG_CONFIG_HOME", ".config")
}

// DefaultDataDir returns the platform-specific per-user data directory.
//
// Linux:   $XDG_DATA_HOME/cupboard (fallback ~/.local/share/cupboard)
// macOS and Windows: same as DefaultConfigDir.
func DefaultDataDir() (string, error) {
	return userDir("XDG_DATA_HOME", ".local", "share")
}

// ResolveConfigDir returns the configuration directory:
// flag > CUPBOARD_CONFIG_DIR > DefaultConfigDir().
func ResolveConfigDir(flag string) (string, error) {
	if flag != "" {
		return filepath.Abs(flag)
	}
	if env := os.Getenv(EnvConfigDir); env != "" {
		return filepath.Abs(env)
	}
	return DefaultConfigDir()
}

// ConfigFile returns the configuration file path inside dir.
func ConfigFile(dir string) string {
	return filepath.Join(dir, ConfigFileName)
}

// ResolveDataDir returns the data directory:
// flag > config.yaml value > CUPBOARD_DATA_DIR > $(CWD)/.cupboard-db.
// The in-memory marker ":memory:" is returned unchanged from any source.
func ResolveDataDir(flag, configYAMLValue string) (string, error) {
	for _, v := range []string{flag, configYAMLValue, os.Getenv(EnvDataDir)} {
		switch v {
		case "":
			continue
		case types.MemoryDataDir:
			return v, nil
		default:
			return filepath.Abs(v)
		}
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(cwd, DefaultDataDirName), nil
}
