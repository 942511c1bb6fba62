// Package cli implements the cupboard command-line interface: a thin shell
// over the router, provider and SQLite backend driven by config.yaml.
package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/cupboard-tools/internal/paths"
)

// Version is the cupboard release, overridden at link time by the build.
var Version = "0.1.0"

const modulePath = "github.com/mesh-intelligence/cupboard-tools"

// Exit codes.
const (
	exitSuccess   = 0
	exitUserError = 1
	exitSysError  = 2
)

// rootFlags holds global flag values accessible to all subcommands.
type rootFlags struct {
	configDir string
	dataDir   string
	logLevel  string
	jsonMode  bool
}

// app is the state shared by one invocation's commands.
type app struct {
	flags     rootFlags
	configDir string
	settings  settings
	logger    *log.Logger
}

// NewRootCmd creates the top-level "cupboard" command with global flags
// and all subcommands registered.
func NewRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "cupboard",
		Short: "Route content identifiers to a local entity store",
		Long: `Cupboard maps content://authority/path identifiers onto entity kinds
declared in config.yaml and serves insert, update, delete and query requests
against a SQLite database.`,
		Version:           Version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return userError(err)
	})

	root.PersistentFlags().StringVar(&a.flags.configDir, "config-dir", "", "configuration directory (default: platform config dir)")
	root.PersistentFlags().StringVar(&a.flags.dataDir, "data-dir", "", "data directory, or :memory: (default: $(CWD)/"+paths.DefaultDataDirName+")")
	root.PersistentFlags().StringVar(&a.flags.logLevel, "log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().BoolVar(&a.flags.jsonMode, "json", false, "output as JSON")

	root.AddCommand(
		a.newVersionCmd(),
		a.newInitCmd(),
		a.newKindsCmd(),
		a.newResolveCmd(),
		a.newInsertCmd(),
		a.newBulkInsertCmd(),
		a.newUpdateCmd(),
		a.newDeleteCmd(),
		a.newQueryCmd(),
		a.newExportCmd(),
		a.newImportCmd(),
		a.newApplyCmd(),
	)
	return root
}

// setup loads config.yaml and builds the logger before any subcommand runs.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if cmd.Name() == "version" {
		return nil
	}

	dir, err := paths.ResolveConfigDir(a.flags.configDir)
	if err != nil {
		return systemError(fmt.Errorf("resolve config dir: %w", err))
	}
	s, err := loadSettings(dir)
	if err != nil {
		return err
	}
	if a.flags.logLevel != "" {
		s.LogLevel = a.flags.logLevel
	}
	logger, err := newLogger(cmd.ErrOrStderr(), s.LogLevel, s.LogFormat)
	if err != nil {
		return userError(err)
	}

	a.configDir = dir
	a.settings = s
	a.logger = logger
	logger.Debug("config loaded", "dir", dir, "kinds", len(s.Kinds))
	return nil
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	return run(context.Background(), NewRootCmd())
}

func run(ctx context.Context, root *cobra.Command) int {
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(root.ErrOrStderr(), "Error:", err)
		return exitCode(err)
	}
	return exitSuccess
}

// exitError carries an explicit exit code.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func userError(err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: exitUserError, err: err}
}

func systemError(err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: exitSysError, err: err}
}

// exitCode maps err to a process exit code. Errors without an explicit code,
// such as cobra argument errors, are user errors.
func exitCode(err error) int {
	if err == nil {
		return exitSuccess
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitUserError
}
