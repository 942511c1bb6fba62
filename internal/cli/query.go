package cli

import (
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/cupboard-tools/pkg/types"
)

func (a *app) newQueryCmd() *cobra.Command {
	var (
		sel        selectionFlags
		projection []string
		order      string
	)
	cmd := &cobra.Command{
		Use:   "query <uri>",
		Short: "Query a collection or a single row",
		Long: `Query prints the rows an identifier addresses. Collection identifiers accept
the limit, offset, distinct, groupBy and having query parameters.`,
		Example: `  cupboard query content://cupboard.local/notes --order "title DESC"
  cupboard query 'content://cupboard.local/notes?limit=10&offset=20' --projection title
  cupboard query content://cupboard.local/notes --where "title LIKE ?" --arg 'm%' --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			cur, err := s.provider.Query(cmd.Context(), args[0], types.QueryArgs{
				Projection: projection,
				Selection:  sel.selection(),
				OrderBy:    order,
			})
			if err != nil {
				return classify(err)
			}
			a.logger.Debug("query", "uri", args[0], "rows", cur.Count(), "notify", cur.NotificationURI)
			return printCursor(cmd.OutOrStdout(), cur, a.flags.jsonMode)
		},
	}
	sel.register(cmd)
	cmd.Flags().StringSliceVar(&projection, "projection", nil, "columns to return (comma separated)")
	cmd.Flags().StringVar(&order, "order", "", `ORDER BY terms, e.g. "name ASC, age DESC"`)
	return cmd
}
