package cli

import (
	"github.com/spf13/cobra"
)

func (a *app) newExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export <kind> <file>",
		Short: "Write every row of a kind to a JSONL file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			n, err := s.db.ExportJSONL(cmd.Context(), args[0], args[1])
			if err != nil {
				return classify(err)
			}
			return a.printCount(cmd, "exported", int64(n))
		},
	}
}

func (a *app) newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <kind> <file>",
		Short: "Load a JSONL file into a kind, replacing rows with the same _id",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			n, err := s.db.ImportJSONL(cmd.Context(), args[0], args[1])
			if err != nil {
				return classify(err)
			}
			return a.printCount(cmd, "imported", int64(n))
		},
	}
}
