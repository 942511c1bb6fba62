package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/mesh-intelligence/cupboard-tools/pkg/types"
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// quote wraps a validated identifier in double quotes.
func quote(ident string) string {
	return `"` + ident + `"`
}

// createTableSQL builds the CREATE TABLE statement for k.
func createTableSQL(k types.EntityKind) string {
	var sb strings.Builder
	sb.WriteString("CREATE TABLE IF NOT EXISTS ")
	sb.WriteString(quote(k.Name))
	sb.WriteString(" (")
	sb.WriteString(quote(types.IDColumn))
	sb.WriteString(" INTEGER PRIMARY KEY AUTOINCREMENT")
	for _, c := range k.Columns {
		sb.WriteString(", ")
		sb.WriteString(quote(c.Name))
		sb.WriteString(" ")
		sb.WriteString(c.Type.SQLType())
	}
	sb.WriteString(")")
	return sb.String()
}

// indexName follows the idx_<table>_<column> convention.
func indexName(k types.EntityKind, c types.Column) string {
	return "idx_" + k.Name + "_" + c.Name
}

// indexSQL builds the CREATE INDEX statements for k's indexed columns.
func indexSQL(k types.EntityKind) []string {
	var out []string
	for _, c := range k.Columns {
		if !c.Index {
			continue
		}
		out = append(out, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s(%s)",
			quote(indexName(k, c)), quote(k.Name), quote(c.Name)))
	}
	return out
}

func createTable(ctx context.Context, q querier, k types.EntityKind) error {
	if _, err := q.ExecContext(ctx, createTableSQL(k)); err != nil {
		return fmt.Errorf("creating table %s: %w", k.Name, err)
	}
	return createIndexes(ctx, q, k)
}

func createIndexes(ctx context.Context, q querier, k types.EntityKind) error {
	for _, stmt := range indexSQL(k) {
		if _, err := q.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("creating index on %s: %w", k.Name, err)
		}
	}
	return nil
}

// tableColumns returns the column names of an existing table, or nil when
// the table does not exist.
func tableColumns(ctx context.Context, q querier, table string) (map[string]bool, error) {
	rows, err := q.QueryContext(ctx, "SELECT name FROM pragma_table_info(?)", table)
	if err != nil {
		return nil, fmt.Errorf("reading columns of %s: %w", table, err)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, nil
	}
	return cols, nil
}

func upgradeTable(ctx context.Context, q querier, k types.EntityKind) error {
	existing, err := tableColumns(ctx, q, k.Name)
	if err != nil {
		return err
	}
	if existing == nil {
		return createTable(ctx, q, k)
	}
	for _, c := range k.Columns {
		if existing[c.Name] {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", quote(k.Name), quote(c.Name), c.Type.SQLType())
		if _, err := q.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("adding column %s.%s: %w", k.Name, c.Name, err)
		}
	}
	return createIndexes(ctx, q, k)
}
