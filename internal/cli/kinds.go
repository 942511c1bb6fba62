package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/cupboard-tools/pkg/provider"
	"github.com/mesh-intelligence/cupboard-tools/pkg/router"
	"github.com/mesh-intelligence/cupboard-tools/pkg/types"
)

// routeView is the JSON form of one route.
type routeView struct {
	Name       string         `json:"name"`
	Path       string         `json:"path"`
	Collection string         `json:"collection"`
	Item       string         `json:"item"`
	Columns    []types.Column `json:"columns"`
}

func (a *app) newKindsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kinds",
		Short: "List the configured kinds and the identifiers they answer to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := a.newRouter()
			if err != nil {
				return err
			}
			routes := r.Routes()

			if a.flags.jsonMode {
				views := make([]routeView, 0, len(routes))
				for _, rt := range routes {
					views = append(views, routeView{
						Name:       rt.Kind.Name,
						Path:       rt.Kind.Path,
						Collection: rt.Collection,
						Item:       rt.Item,
						Columns:    rt.Kind.Columns,
					})
				}
				return printJSON(cmd.OutOrStdout(), views)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KIND\tCOLLECTION\tITEM\tCOLUMNS")
			for _, rt := range routes {
				cols := make([]string, 0, len(rt.Kind.Columns))
				for _, c := range rt.Kind.Columns {
					cols = append(cols, c.Name+":"+string(c.Type))
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", rt.Kind.Name, rt.Collection, rt.Item, strings.Join(cols, ","))
			}
			return tw.Flush()
		},
	}
}

// resolution is the outcome of the resolve command.
type resolution struct {
	URI        string `json:"uri"`
	Kind       string `json:"kind"`
	Collection bool   `json:"collection"`
	Key        *int64 `json:"key,omitempty"`
	Type       string `json:"type"`
	Notify     string `json:"notify"`
}

func (a *app) newResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <uri>",
		Short: "Classify an identifier against the configured kinds",
		Example: `  cupboard resolve content://cupboard.local/notes
  cupboard resolve content://cupboard.local/notes/7`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.newRouter()
			if err != nil {
				return err
			}
			uri := args[0]
			m, err := r.Classify(uri)
			if err != nil {
				return userError(err)
			}
			// GetType only consults the router.
			mime, err := provider.New(nil, r).GetType(uri)
			if err != nil {
				return userError(err)
			}
			notifyURI, err := r.IdentifierFor(m.Kind.Name)
			if err != nil {
				return classify(err)
			}

			res := resolution{URI: uri, Kind: m.Kind.Name, Collection: m.Collection, Type: mime, Notify: notifyURI}
			if !m.Collection {
				if key, ok := router.KeyOf(uri); ok {
					res.Key = &key
				}
			}

			if a.flags.jsonMode {
				return printJSON(cmd.OutOrStdout(), res)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "kind:      ", res.Kind)
			if res.Collection {
				fmt.Fprintln(out, "target:     collection")
			} else {
				fmt.Fprintln(out, "target:     item")
				if res.Key != nil {
					fmt.Fprintln(out, "key:       ", *res.Key)
				}
			}
			fmt.Fprintln(out, "type:      ", res.Type)
			fmt.Fprintln(out, "notify:    ", res.Notify)
			return nil
		},
	}
}
