package cli

import (
	"bufio"
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/cupboard-tools/pkg/types"
)

// selectionFlags holds --where and --arg.
type selectionFlags struct {
	where string
	args  []string
}

func (f *selectionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.where, "where", "", `WHERE clause with ? placeholders, e.g. "age > ?"`)
	cmd.Flags().StringArrayVar(&f.args, "arg", nil, "argument bound to the next ? placeholder (repeatable)")
}

func (f *selectionFlags) selection() types.Selection {
	return types.Selection{Where: f.where, Args: parseArgs(f.args)}
}

func (a *app) newInsertCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "insert <uri> <json>",
		Short: "Insert a row at a collection or item identifier",
		Long: `Insert stores a JSON object. A collection identifier allocates a new key and
prints the identifier of the new row; an item identifier stores the row under
that key, replacing any existing row.`,
		Example: `  cupboard insert content://cupboard.local/notes '{"title":"milk","tags":["shop"]}'`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseValues(args[1])
			if err != nil {
				return err
			}
			s, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			uri, err := s.provider.Insert(cmd.Context(), args[0], values)
			if err != nil {
				return classify(err)
			}
			if a.flags.jsonMode {
				return printJSON(cmd.OutOrStdout(), map[string]string{"uri": uri})
			}
			fmt.Fprintln(cmd.OutOrStdout(), uri)
			return nil
		},
	}
}

func (a *app) newBulkInsertCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bulk-insert <uri> <jsonl-file>",
		Short: "Insert every JSON object of a JSONL file in one transaction",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := readValuesFile(args[1])
			if err != nil {
				return err
			}
			s, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			n, err := s.provider.BulkInsert(cmd.Context(), args[0], rows)
			if err != nil {
				return classify(err)
			}
			return a.printCount(cmd, "inserted", int64(n))
		},
	}
}

func (a *app) newUpdateCmd() *cobra.Command {
	var sel selectionFlags
	cmd := &cobra.Command{
		Use:   "update <uri> <json>",
		Short: "Update the rows an identifier and selection address",
		Example: `  cupboard update content://cupboard.local/notes/3 '{"body":"two litres"}'
  cupboard update content://cupboard.local/notes '{"body":""}' --where "title = ?" --arg milk`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseValues(args[1])
			if err != nil {
				return err
			}
			s, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			n, err := s.provider.Update(cmd.Context(), args[0], values, sel.selection())
			if err != nil {
				return classify(err)
			}
			return a.printCount(cmd, "updated", n)
		},
	}
	sel.register(cmd)
	return cmd
}

func (a *app) newDeleteCmd() *cobra.Command {
	var sel selectionFlags
	cmd := &cobra.Command{
		Use:   "delete <uri>",
		Short: "Delete the rows an identifier and selection address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			n, err := s.provider.Delete(cmd.Context(), args[0], sel.selection())
			if err != nil {
				return classify(err)
			}
			return a.printCount(cmd, "deleted", n)
		},
	}
	sel.register(cmd)
	return cmd
}

func (a *app) printCount(cmd *cobra.Command, verb string, n int64) error {
	if a.flags.jsonMode {
		return printJSON(cmd.OutOrStdout(), map[string]int64{verb: n})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %d\n", verb, n)
	return nil
}

// readValuesFile parses one JSON object per non-blank line.
func readValuesFile(path string) ([]types.Values, error) {
	var rows []types.Values
	err := scanLines(path, func(line int, text []byte) error {
		values, err := parseValues(string(text))
		if err != nil {
			return fmt.Errorf("%s line %d: %w", path, line, err)
		}
		rows = append(rows, values)
		return nil
	})
	return rows, err
}

// scanLines calls fn with every non-blank line of path, numbered from 1.
// Errors from fn are user errors.
func scanLines(path string, fn func(line int, text []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return userError(fmt.Errorf("open %s: %w", path, err))
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for line := 1; sc.Scan(); line++ {
		text := bytes.TrimSpace(sc.Bytes())
		if len(text) == 0 {
			continue
		}
		if err := fn(line, text); err != nil {
			return userError(err)
		}
	}
	if err := sc.Err(); err != nil {
		return systemError(fmt.Errorf("read %s: %w", path, err))
	}
	return nil
}
