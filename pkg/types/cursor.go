package types

import (
	"errors"
	"fmt"
)

// Cursor is a materialized query result. Rows hold column values in the same
// order as Columns. NotificationURI, when set, is the resource identifier the
// result should be refreshed on.
type Cursor struct {
	Columns         []string
	Rows            [][]any
	NotificationURI string
}

// Cursor errors.
var (
	ErrInvalidPosition = errors.New("invalid cursor position")
	ErrNoIDColumn      = errors.New("cursor has no _id column")
)

// EmptyCursor returns a cursor with only the IDColumn and no rows.
func EmptyCursor() *Cursor {
	return &Cursor{Columns: []string{IDColumn}}
}

// Count returns the number of rows. A nil cursor has no rows.
func (c *Cursor) Count() int {
	if c == nil {
		return 0
	}
	return len(c.Rows)
}

// ColumnIndex returns the position of the named column or -1.
func (c *Cursor) ColumnIndex(name string) int {
	for i, col := range c.Columns {
		if col == name {
			return i
		}
	}
	return -1
}

// Row returns the row at pos as Values.
func (c *Cursor) Row(pos int) (Values, error) {
	if pos < 0 || pos >= c.Count() {
		return nil, fmt.Errorf("position %d of %d: %w", pos, c.Count(), ErrInvalidPosition)
	}
	row := c.Rows[pos]
	out := make(Values, len(c.Columns))
	for i, col := range c.Columns {
		out[col] = row[i]
	}
	return out, nil
}

// Value returns a single cell.
func (c *Cursor) Value(pos int, column string) (any, error) {
	if pos < 0 || pos >= c.Count() {
		return nil, fmt.Errorf("position %d of %d: %w", pos, c.Count(), ErrInvalidPosition)
	}
	idx := c.ColumnIndex(column)
	if idx < 0 {
		return nil, fmt.Errorf("column %q: %w", column, ErrInvalidQuery)
	}
	return c.Rows[pos][idx], nil
}

// Records returns every row as Values, in cursor order.
func (c *Cursor) Records() []Values {
	out := make([]Values, 0, c.Count())
	for i := 0; i < c.Count(); i++ {
		row, _ := c.Row(i)
		out = append(out, row)
	}
	return out
}
