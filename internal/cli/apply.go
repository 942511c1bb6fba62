package cli

import (
	"fmt"

	gojson "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/cupboard-tools/pkg/notify"
	"github.com/mesh-intelligence/cupboard-tools/pkg/provider"
	"github.com/mesh-intelligence/cupboard-tools/pkg/types"
)

// operationLine is one line of an apply file.
type operationLine struct {
	Op     provider.OpType `json:"op"`
	URI    string          `json:"uri"`
	Values types.Values    `json:"values"`
	Where  string          `json:"where"`
	Args   []any           `json:"args"`
}

func (l operationLine) operation() provider.Operation {
	return provider.Operation{
		Type:      l.Op,
		URI:       l.URI,
		Values:    l.Values,
		Selection: types.Selection{Where: l.Where, Args: l.Args},
	}
}

type resultView struct {
	Op    provider.OpType `json:"op"`
	URI   string          `json:"uri"`
	Count int64           `json:"count"`
}

type changeView struct {
	Watch         string `json:"watch"`
	URI           string `json:"uri"`
	SyncToNetwork bool   `json:"sync_to_network"`
}

// readOperations parses one operation object per non-blank line.
func readOperations(path string) ([]provider.Operation, error) {
	var ops []provider.Operation
	err := scanLines(path, func(line int, text []byte) error {
		var l operationLine
		if err := gojson.Unmarshal(text, &l); err != nil {
			return fmt.Errorf("%s line %d: %w", path, line, err)
		}
		if l.Op == "" || l.URI == "" {
			return fmt.Errorf("%s line %d: op and uri are required", path, line)
		}
		ops = append(ops, l.operation())
		return nil
	})
	return ops, err
}

func (a *app) newApplyCmd() *cobra.Command {
	var watch []string
	cmd := &cobra.Command{
		Use:   "apply <jsonl-file>",
		Short: "Apply a file of write operations in one transaction",
		Long: `Apply runs every operation of a JSONL file inside one transaction: either all
of them commit or none do. Each line is an object with "op" (insert, update or
delete), "uri", and as needed "values", "where" and "args".

With --watch, apply observes the given identifiers while the batch runs and
prints every change notification they receive after the commit. An identifier
observes changes to itself, its ancestors and its descendants.`,
		Example: `  cupboard apply ops.jsonl --watch content://cupboard.local/notes
  # ops.jsonl
  {"op":"insert","uri":"content://cupboard.local/notes","values":{"title":"milk"}}
  {"op":"delete","uri":"content://cupboard.local/notes","where":"title = ?","args":["bread"]}`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ops, err := readOperations(args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			resolver := notify.New(notify.WithLogger(a.logger))
			defer resolver.Close()
			subs := make([]*notify.Subscription, len(watch))
			for i, uri := range watch {
				subs[i] = resolver.Watch(ctx, uri)
			}

			s, err := a.open(ctx, provider.WithNotifier(resolver))
			if err != nil {
				return err
			}
			defer s.Close()

			results, err := s.provider.ApplyBatch(ctx, ops)
			if err != nil {
				return classify(err)
			}

			views := make([]resultView, len(results))
			for i, res := range results {
				views[i] = resultView{Op: ops[i].Type, URI: res.URI, Count: res.Count}
			}
			changes := drainChanges(subs)

			if a.flags.jsonMode {
				return printJSON(cmd.OutOrStdout(), map[string]any{"results": views, "changes": changes})
			}
			out := cmd.OutOrStdout()
			for _, v := range views {
				if v.Op == provider.OpInsert {
					fmt.Fprintf(out, "%s %s\n", v.Op, v.URI)
				} else {
					fmt.Fprintf(out, "%s %d\n", v.Op, v.Count)
				}
			}
			for _, c := range changes {
				fmt.Fprintf(out, "changed %s (watch %s)\n", c.URI, c.Watch)
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&watch, "watch", nil, "identifier to observe while the batch runs (repeatable)")
	return cmd
}

// drainChanges collects the changes already delivered to subs. Publishing
// is synchronous, so every change of a committed batch is buffered by now.
func drainChanges(subs []*notify.Subscription) []changeView {
	changes := []changeView{}
	for _, sub := range subs {
		for done := false; !done; {
			select {
			case ch, ok := <-sub.C:
				if !ok {
					done = true
					break
				}
				changes = append(changes, changeView{Watch: sub.URI, URI: ch.URI, SyncToNetwork: ch.SyncToNetwork})
			default:
				done = true
			}
		}
	}
	return changes
}
