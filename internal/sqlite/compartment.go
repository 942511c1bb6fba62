package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/mesh-intelligence/cupboard-tools/pkg/convert"
	"github.com/mesh-intelligence/cupboard-tools/pkg/types"
)

// compartment runs entity operations against one querier: the database
// handle for reads, or an open transaction.
type compartment struct {
	ctx context.Context
	q   querier
	b   *Backend
}

var _ types.Compartment = (*compartment)(nil)

// resolve returns the registered definition of kind.
func (c *compartment) resolve(kind types.EntityKind) (types.EntityKind, error) {
	if c.b.closed.Load() {
		return types.EntityKind{}, types.ErrDatabaseClosed
	}
	k, ok := c.b.kinds[kind.Name]
	if !ok {
		return types.EntityKind{}, fmt.Errorf("kind %q: %w", kind.Name, types.ErrUnregisteredKind)
	}
	return k, nil
}

// Put inserts values, or replaces the row with the same _id.
func (c *compartment) Put(kind types.EntityKind, values types.Values) (int64, error) {
	k, err := c.resolve(kind)
	if err != nil {
		return 0, err
	}

	values = values.Clone()
	id, hasID := values.ID()
	if raw, ok := values[types.IDColumn]; ok && !hasID {
		if raw != nil {
			return 0, fmt.Errorf("%s %v: %w", types.IDColumn, raw, types.ErrInvalidValues)
		}
		delete(values, types.IDColumn)
	}
	if hasID {
		values[types.IDColumn] = id
	}

	cols, args, err := c.encodeAll(k, values)
	if err != nil {
		return 0, err
	}

	var stmt string
	switch {
	case len(cols) == 0:
		stmt = "INSERT INTO " + quote(k.Name) + " DEFAULT VALUES"
	default:
		verb := "INSERT"
		if hasID {
			verb = "INSERT OR REPLACE"
		}
		quoted := make([]string, len(cols))
		for i, col := range cols {
			quoted[i] = quote(col)
		}
		stmt = fmt.Sprintf("%s INTO %s (%s) VALUES (%s)", verb, quote(k.Name),
			strings.Join(quoted, ", "), placeholders(len(cols)))
	}

	res, err := c.exec(stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("put %s: %w", k.Name, err)
	}
	if hasID {
		return id, nil
	}
	return res.LastInsertId()
}

// UpdateByID updates the row with id. An _id entry in values is ignored.
func (c *compartment) UpdateByID(kind types.EntityKind, id int64, values types.Values) (int64, error) {
	k, err := c.resolve(kind)
	if err != nil {
		return 0, err
	}
	values = values.Clone()
	delete(values, types.IDColumn)
	return c.update(k, values, types.Selection{Where: quote(types.IDColumn) + " = ?", Args: []any{id}})
}

// Update updates every row matching sel. values may not carry _id.
func (c *compartment) Update(kind types.EntityKind, values types.Values, sel types.Selection) (int64, error) {
	k, err := c.resolve(kind)
	if err != nil {
		return 0, err
	}
	if _, ok := values[types.IDColumn]; ok {
		return 0, fmt.Errorf("%s in collection update: %w", types.IDColumn, types.ErrInvalidValues)
	}
	return c.update(k, values, sel)
}

func (c *compartment) update(k types.EntityKind, values types.Values, sel types.Selection) (int64, error) {
	cols, args, err := c.encodeAll(k, values)
	if err != nil {
		return 0, err
	}
	if len(cols) == 0 {
		return 0, nil
	}

	sets := make([]string, len(cols))
	for i, col := range cols {
		sets[i] = quote(col) + " = ?"
	}
	stmt := "UPDATE " + quote(k.Name) + " SET " + strings.Join(sets, ", ")
	if sel.Where != "" {
		stmt += " WHERE " + sel.Where
		args = append(args, sel.Args...)
	}

	res, err := c.exec(stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", k.Name, err)
	}
	return res.RowsAffected()
}

// DeleteByID removes the row with id and reports whether it existed.
func (c *compartment) DeleteByID(kind types.EntityKind, id int64) (bool, error) {
	n, err := c.Delete(kind, types.Selection{Where: quote(types.IDColumn) + " = ?", Args: []any{id}})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Delete removes every row matching sel.
func (c *compartment) Delete(kind types.EntityKind, sel types.Selection) (int64, error) {
	k, err := c.resolve(kind)
	if err != nil {
		return 0, err
	}
	stmt := "DELETE FROM " + quote(k.Name)
	if sel.Where != "" {
		stmt += " WHERE " + sel.Where
	}
	res, err := c.exec(stmt, sel.Args...)
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", k.Name, err)
	}
	return res.RowsAffected()
}

// QueryByID returns a cursor with the row of id, or no rows.
func (c *compartment) QueryByID(kind types.EntityKind, id int64, projection []string) (*types.Cursor, error) {
	return c.Query(kind, types.QueryArgs{
		Projection: projection,
		Selection:  types.Selection{Where: quote(types.IDColumn) + " = ?", Args: []any{id}},
	})
}

// Query runs a SELECT built from args and materializes the result.
func (c *compartment) Query(kind types.EntityKind, args types.QueryArgs) (*types.Cursor, error) {
	k, err := c.resolve(kind)
	if err != nil {
		return nil, err
	}
	stmt, err := selectSQL(k, args)
	if err != nil {
		return nil, err
	}

	c.b.logger.Debug("query", "sql", stmt)
	rows, err := c.q.QueryContext(c.ctx, stmt, args.Selection.Args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", k.Name, statementError(err))
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	cur := &types.Cursor{Columns: cols}
	for rows.Next() {
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning %s: %w", k.Name, err)
		}
		for i, name := range cols {
			col, ok := k.Column(name)
			if !ok {
				continue
			}
			if raw[i], err = c.decode(col, raw[i]); err != nil {
				return nil, err
			}
		}
		cur.Rows = append(cur.Rows, raw)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query %s: %w", k.Name, statementError(err))
	}
	return cur, nil
}

func (c *compartment) exec(stmt string, args ...any) (sql.Result, error) {
	c.b.logger.Debug("exec", "sql", stmt)
	res, err := c.q.ExecContext(c.ctx, stmt, args...)
	return res, statementError(err)
}

// encodeAll validates column names and converts values for storage. Columns
// come back in sorted order with their arguments.
func (c *compartment) encodeAll(k types.EntityKind, values types.Values) ([]string, []any, error) {
	cols := values.Keys()
	args := make([]any, len(cols))
	for i, name := range cols {
		col, ok := k.Column(name)
		if !ok {
			return nil, nil, fmt.Errorf("%s has no column %q: %w", k.Name, name, types.ErrInvalidValues)
		}
		v, err := c.encode(col, values[name])
		if err != nil {
			return nil, nil, err
		}
		args[i] = v
	}
	return cols, args, nil
}

// encode converts one Go value to a driver value for col.
func (c *compartment) encode(col types.Column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if col.Type == types.ColumnJSON {
		return c.b.dynamic.ToColumn(v)
	}

	switch x := v.(type) {
	case string, []byte, bool, time.Time:
		return v, nil
	case float64:
		if col.Type == types.ColumnInteger {
			if n, ok := types.AsInt64(x); ok {
				return n, nil
			}
		}
		return x, nil
	}
	if n, ok := types.AsInt64(v); ok {
		return n, nil
	}
	if f, ok := types.AsFloat64(v); ok {
		return f, nil
	}

	t := reflect.TypeOf(v)
	if conv := convert.Lookup(c.b.factories, t); conv != nil {
		return conv.ToColumn(v)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Bool:
		return rv.Bool(), nil
	case reflect.Uint, reflect.Uint64, reflect.Uintptr:
		return nil, fmt.Errorf("column %s: %d overflows int64: %w", col.Name, rv.Uint(), types.ErrInvalidValues)
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	case reflect.String:
		return rv.String(), nil
	}
	return nil, fmt.Errorf("column %s: unsupported value of type %T: %w", col.Name, v, types.ErrInvalidValues)
}

// decode converts a driver value read from col.
func (c *compartment) decode(col types.Column, raw any) (any, error) {
	if raw == nil || col.Type != types.ColumnJSON {
		return raw, nil
	}
	v, err := c.b.dynamic.FromColumn(raw)
	if err != nil {
		return nil, fmt.Errorf("decoding column %s: %w", col.Name, err)
	}
	return v, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// selectSQL builds the SELECT for args, checking every identifier it splices
// in against k.
func selectSQL(k types.EntityKind, args types.QueryArgs) (string, error) {
	if args.Limit < 0 || args.Offset < 0 {
		return "", fmt.Errorf("limit %d offset %d: %w", args.Limit, args.Offset, types.ErrInvalidQuery)
	}
	if args.Having != "" && args.GroupBy == "" {
		return "", fmt.Errorf("having without group by: %w", types.ErrInvalidQuery)
	}

	projection := args.Projection
	if len(projection) == 0 {
		projection = k.ColumnNames()
	}
	quoted := make([]string, len(projection))
	for i, name := range projection {
		if _, ok := k.Column(name); !ok {
			return "", fmt.Errorf("projection %q: %w", name, types.ErrInvalidQuery)
		}
		quoted[i] = quote(name)
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	if args.Distinct {
		sb.WriteString("DISTINCT ")
	}
	sb.WriteString(strings.Join(quoted, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(quote(k.Name))

	if args.Selection.Where != "" {
		sb.WriteString(" WHERE ")
		sb.WriteString(args.Selection.Where)
	}
	if args.GroupBy != "" {
		cols, err := columnList(k, args.GroupBy)
		if err != nil {
			return "", err
		}
		sb.WriteString(" GROUP BY ")
		sb.WriteString(cols)
		if args.Having != "" {
			sb.WriteString(" HAVING ")
			sb.WriteString(args.Having)
		}
	}
	if args.OrderBy != "" {
		order, err := orderTerms(k, args.OrderBy)
		if err != nil {
			return "", err
		}
		sb.WriteString(" ORDER BY ")
		sb.WriteString(order)
	}
	switch {
	case args.Limit > 0:
		fmt.Fprintf(&sb, " LIMIT %d", args.Limit)
		if args.Offset > 0 {
			fmt.Fprintf(&sb, " OFFSET %d", args.Offset)
		}
	case args.Offset > 0:
		fmt.Fprintf(&sb, " LIMIT -1 OFFSET %d", args.Offset)
	}
	return sb.String(), nil
}

// columnList validates a comma-separated list of column names.
func columnList(k types.EntityKind, list string) (string, error) {
	parts := strings.Split(list, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		name := strings.TrimSpace(p)
		if _, ok := k.Column(name); !ok {
			return "", fmt.Errorf("column %q: %w", name, types.ErrInvalidQuery)
		}
		out = append(out, quote(name))
	}
	return strings.Join(out, ", "), nil
}

// orderTerms validates "col [ASC|DESC], ..." order clauses.
func orderTerms(k types.EntityKind, order string) (string, error) {
	parts := strings.Split(order, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		fields := strings.Fields(p)
		if len(fields) == 0 || len(fields) > 2 {
			return "", fmt.Errorf("order by %q: %w", p, types.ErrInvalidQuery)
		}
		if _, ok := k.Column(fields[0]); !ok {
			return "", fmt.Errorf("order by column %q: %w", fields[0], types.ErrInvalidQuery)
		}
		term := quote(fields[0])
		if len(fields) == 2 {
			dir := strings.ToUpper(fields[1])
			if dir != "ASC" && dir != "DESC" {
				return "", fmt.Errorf("order direction %q: %w", fields[1], types.ErrInvalidQuery)
			}
			term += " " + dir
		}
		out = append(out, term)
	}
	return strings.Join(out, ", "), nil
}
