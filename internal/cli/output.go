package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	gojson "github.com/goccy/go-json"

	"github.com/mesh-intelligence/cupboard-tools/pkg/types"
)

// printJSON writes v as indented JSON followed by a newline.
func printJSON(w io.Writer, v any) error {
	data, err := gojson.MarshalIndent(v, "", "  ")
	if err != nil {
		return systemError(fmt.Errorf("marshal output: %w", err))
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// printCursor writes the rows of cur as a JSON array of objects or as an
// aligned table.
func printCursor(w io.Writer, cur *types.Cursor, jsonMode bool) error {
	if jsonMode {
		records := cur.Records()
		if records == nil {
			records = []types.Values{}
		}
		return printJSON(w, records)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(cur.Columns, "\t"))
	for _, row := range cur.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = formatCell(v)
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	return tw.Flush()
}

func formatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case string:
		return x
	case []byte:
		return string(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case []any, map[string]any:
		data, err := gojson.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(data)
	default:
		return fmt.Sprint(x)
	}
}

// parseValues decodes a JSON object given on the command line.
func parseValues(s string) (types.Values, error) {
	var values types.Values
	if err := gojson.Unmarshal([]byte(s), &values); err != nil {
		return nil, userError(fmt.Errorf("invalid JSON object %q: %w", s, err))
	}
	if values == nil {
		return nil, userError(fmt.Errorf("invalid JSON object %q", s))
	}
	return values, nil
}

// parseArgs turns --arg strings into bound parameters, preferring integers
// then floats then text.
func parseArgs(raw []string) []any {
	if len(raw) == 0 {
		return nil
	}
	out := make([]any, len(raw))
	for i, s := range raw {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			out[i] = n
		} else if f, err := strconv.ParseFloat(s, 64); err == nil {
			out[i] = f
		} else {
			out[i] = s
		}
	}
	return out
}
