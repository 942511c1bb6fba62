package types

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// IDColumn is the implicit integer primary key present on every kind.
const IDColumn = "_id"

// ColumnType is the storage class of a declared column.
type ColumnType string

// Column storage classes. JSON columns are stored as TEXT and pass through
// the configured field converters on every read and write.
const (
	ColumnInteger ColumnType = "INTEGER"
	ColumnReal    ColumnType = "REAL"
	ColumnText    ColumnType = "TEXT"
	ColumnBlob    ColumnType = "BLOB"
	ColumnJSON    ColumnType = "JSON"
)

// validColumnTypes is the set of recognized column storage classes.
var validColumnTypes = map[ColumnType]bool{
	ColumnInteger: true,
	ColumnReal:    true,
	ColumnText:    true,
	ColumnBlob:    true,
	ColumnJSON:    true,
}

// ParseColumnType accepts a storage class name in any case.
func ParseColumnType(s string) (ColumnType, error) {
	ct := ColumnType(strings.ToUpper(strings.TrimSpace(s)))
	if !validColumnTypes[ct] {
		return "", fmt.Errorf("column type %q: %w", s, ErrInvalidKind)
	}
	return ct, nil
}

// SQLType returns the SQLite declared type for the column.
func (c ColumnType) SQLType() string {
	if c == ColumnJSON {
		return string(ColumnText)
	}
	return string(c)
}

// Column declares one persisted attribute of an entity kind.
type Column struct {
	Name  string     `json:"name" yaml:"name" mapstructure:"name"`
	Type  ColumnType `json:"type" yaml:"type" mapstructure:"type"`
	Index bool       `json:"index,omitempty" yaml:"index,omitempty" mapstructure:"index"`
}

// EntityKind is a registered data type eligible for storage and routing.
// Name identifies the kind and doubles as its table name; Path is the
// resource path segment the router maps to it.
type EntityKind struct {
	Name    string   `json:"name" yaml:"name" mapstructure:"name"`
	Path    string   `json:"path" yaml:"path" mapstructure:"path"`
	Columns []Column `json:"columns,omitempty" yaml:"columns,omitempty" mapstructure:"columns"`
}

// Kind registration errors.
var (
	ErrInvalidKind   = errors.New("invalid entity kind")
	ErrDuplicateKind = errors.New("entity kind already registered")
)

var (
	identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	pathRe  = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.\-]*$`)
)

// Validate checks the kind name, path segment, and column declarations.
// Column names must be unique and must not shadow IDColumn.
func (k EntityKind) Validate() error {
	if !identRe.MatchString(k.Name) {
		return fmt.Errorf("kind name %q: %w", k.Name, ErrInvalidKind)
	}
	if !pathRe.MatchString(k.Path) {
		return fmt.Errorf("kind %q path %q: %w", k.Name, k.Path, ErrInvalidKind)
	}
	seen := make(map[string]bool, len(k.Columns))
	for _, c := range k.Columns {
		if !identRe.MatchString(c.Name) || c.Name == IDColumn {
			return fmt.Errorf("kind %q column %q: %w", k.Name, c.Name, ErrInvalidKind)
		}
		if !validColumnTypes[c.Type] {
			return fmt.Errorf("kind %q column %q type %q: %w", k.Name, c.Name, c.Type, ErrInvalidKind)
		}
		if seen[c.Name] {
			return fmt.Errorf("kind %q column %q declared twice: %w", k.Name, c.Name, ErrInvalidKind)
		}
		seen[c.Name] = true
	}
	return nil
}

// Column returns the declared column with the given name. IDColumn is
// reported as an INTEGER column.
func (k EntityKind) Column(name string) (Column, bool) {
	if name == IDColumn {
		return Column{Name: IDColumn, Type: ColumnInteger}, true
	}
	for _, c := range k.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// ColumnNames returns IDColumn followed by the declared columns in order.
func (k EntityKind) ColumnNames() []string {
	names := make([]string, 0, len(k.Columns)+1)
	names = append(names, IDColumn)
	for _, c := range k.Columns {
		names = append(names, c.Name)
	}
	return names
}
