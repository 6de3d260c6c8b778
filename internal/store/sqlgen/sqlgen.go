// Package sqlgen renders compiled query plans as SQL. One generator
// serves both database backends; everything engine-specific (identifier
// quoting, parameter placeholders, type names, operator spelling) goes
// through the Dialect so the rendering logic stays shared.
package sqlgen

import (
	"fmt"
	"strings"
	"time"

	"github.com/hanpama/restframe/internal/descriptor"
)

// Dialect abstracts the engine-specific surface of SQL rendering.
type Dialect interface {
	// Placeholder returns the parameter marker for the nth argument,
	// 1-based.
	Placeholder(n int) string

	// QuoteIdent quotes a table or column identifier.
	QuoteIdent(name string) string

	// OperatorSQL maps an operator's fmt template to the engine's
	// spelling, e.g. rewriting ILIKE for engines without it.
	OperatorSQL(op, tmpl string) string

	// NoLimit is the LIMIT operand meaning "all rows", used when a
	// window has an offset but no limit.
	NoLimit() string

	// ColumnType returns the DDL type for a semantic field type.
	ColumnType(t descriptor.FieldType) string

	// PrimaryKeyType returns the DDL type of a primary key column,
	// including any id-generation clause the engine needs.
	PrimaryKeyType(t descriptor.FieldType) string

	// BindValue converts a typed in-memory value to its stored
	// representation before binding it as a statement argument.
	BindValue(v any) any
}

// SQLite is the dialect for mattn/go-sqlite3.
type SQLite struct{}

func (SQLite) Placeholder(int) string { return "?" }

func (SQLite) QuoteIdent(name string) string { return `"` + name + `"` }

// OperatorSQL maps ILIKE onto LIKE, which SQLite already treats
// case-insensitively for ASCII.
func (SQLite) OperatorSQL(op, tmpl string) string {
	switch op {
	case "ilike":
		return "%s LIKE %s"
	}
	return tmpl
}

func (SQLite) NoLimit() string { return "-1" }

// BindValue stores datetimes as UTC RFC 3339 text, which orders
// correctly as strings, and durations as fractional seconds.
func (SQLite) BindValue(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case time.Duration:
		return t.Seconds()
	}
	return v
}

func (SQLite) ColumnType(t descriptor.FieldType) string {
	switch t {
	case descriptor.Integer:
		return "INTEGER"
	case descriptor.Float, descriptor.Duration:
		return "REAL"
	case descriptor.Boolean:
		return "INTEGER"
	default:
		// Dates and datetimes are stored as RFC 3339 text, which
		// compares correctly as strings.
		return "TEXT"
	}
}

// PrimaryKeyType relies on integer primary keys aliasing the rowid,
// which generates ids automatically.
func (d SQLite) PrimaryKeyType(t descriptor.FieldType) string { return d.ColumnType(t) }

// Postgres is the dialect for pgx.
type Postgres struct{}

func (Postgres) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (Postgres) QuoteIdent(name string) string { return `"` + name + `"` }

func (Postgres) OperatorSQL(op, tmpl string) string { return tmpl }

func (Postgres) NoLimit() string { return "ALL" }

// BindValue leaves times to the driver's native binding; durations are
// stored as fractional seconds.
func (Postgres) BindValue(v any) any {
	if d, ok := v.(time.Duration); ok {
		return d.Seconds()
	}
	return v
}

func (Postgres) ColumnType(t descriptor.FieldType) string {
	switch t {
	case descriptor.Integer:
		return "BIGINT"
	case descriptor.Float, descriptor.Duration:
		return "DOUBLE PRECISION"
	case descriptor.Boolean:
		return "BOOLEAN"
	case descriptor.Date:
		return "DATE"
	case descriptor.DateTime:
		return "TIMESTAMPTZ"
	default:
		return "TEXT"
	}
}

func (d Postgres) PrimaryKeyType(t descriptor.FieldType) string {
	if t == descriptor.Integer {
		return "BIGINT GENERATED BY DEFAULT AS IDENTITY"
	}
	return d.ColumnType(t)
}

// writer accumulates SQL text and its bound arguments.
type writer struct {
	d Dialect
	b strings.Builder
	// args are shared across nested writers through the generator, so
	// placeholder numbering stays global to the statement.
	args *[]any
	// next hands out alias numbers for correlated sub-scans.
	next *int
}

func (w *writer) str(s string) { w.b.WriteString(s) }

func (w *writer) ident(name string) { w.b.WriteString(w.d.QuoteIdent(name)) }

func (w *writer) arg(v any) string {
	*w.args = append(*w.args, v)
	return w.d.Placeholder(len(*w.args))
}

func (w *writer) alias() string {
	*w.next++
	return fmt.Sprintf("t%d", *w.next)
}
