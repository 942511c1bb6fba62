package types

import "errors"

// Selection is a WHERE clause with positional arguments. An empty Where
// selects every row of the kind.
type Selection struct {
	Where string
	Args  []any
}

// QueryArgs describes a collection query. Identifiers in Projection, OrderBy,
// and GroupBy are validated against the kind's columns by the backend; Where
// and Having are passed through with bound arguments.
type QueryArgs struct {
	Projection []string
	Selection  Selection
	OrderBy    string
	Limit      int
	Offset     int
	Distinct   bool
	GroupBy    string
	Having     string
}

// Query errors.
var ErrInvalidQuery = errors.New("invalid query")
