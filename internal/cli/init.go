package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/cupboard-tools/internal/paths"
)

func (a *app) newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize cupboard storage",
		Long: `Create the configuration directory with a default config.yaml when it is
missing, then open the database so every configured kind has a table.`,
		Args: cobra.NoArgs,
		RunE: a.runInit,
	}
}

func (a *app) runInit(cmd *cobra.Command, _ []string) error {
	s, err := a.open(cmd.Context())
	if err != nil {
		return err
	}
	defer s.Close()

	version, err := s.db.Version(cmd.Context())
	if err != nil {
		return classify(err)
	}

	out := cmd.OutOrStdout()
	if a.flags.jsonMode {
		return printJSON(out, map[string]any{
			"config":   paths.ConfigFile(a.configDir),
			"data_dir": s.dataDir,
			"database": s.db.Path(),
			"version":  version,
			"kinds":    len(s.router.Kinds()),
		})
	}
	fmt.Fprintln(out, "Cupboard initialized successfully")
	fmt.Fprintln(out, "  config:  ", paths.ConfigFile(a.configDir))
	fmt.Fprintln(out, "  database:", s.db.Path())
	fmt.Fprintln(out, "  version: ", version)
	return nil
}
