package query

import (
	"context"
	"fmt"
	"strings"
)

// MaxRows caps the rows returned by one SELECT.
const MaxRows = 50

// Backend is a read-only SQL database behind a SQL query engine.
type Backend interface {
	Dialect() string
	Tables(ctx context.Context) ([]string, error)
	Describe(ctx context.Context, table string) ([]Column, error)
	// Select runs an already validated statement in a read-only transaction.
	Select(ctx context.Context, stmt string, maxRows int) (*Rows, error)
	Close() error
}

// Column describes one table column.
type Column struct {
	Name     string
	Type     string
	Nullable bool
}

// Rows is a rendered result set.
type Rows struct {
	Columns   []string
	Values    [][]string
	Truncated bool
}

// Format renders rows as a pipe-separated table the model can read.
func (r *Rows) Format() string {
	if len(r.Values) == 0 {
		return "(no rows) columns: " + strings.Join(r.Columns, " | ")
	}
	var b strings.Builder
	b.WriteString(strings.Join(r.Columns, " | "))
	for _, row := range r.Values {
		b.WriteByte('\n')
		b.WriteString(strings.Join(row, " | "))
	}
	if r.Truncated {
		fmt.Fprintf(&b, "\n... (truncated to %d rows)", len(r.Values))
	}
	return b.String()
}

func formatColumns(table string, cols []Column) string {
	var b strings.Builder
	b.WriteString(table)
	b.WriteString(" (")
	for i, c := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(c.Name)
		b.WriteByte(' ')
		b.WriteString(c.Type)
		if !c.Nullable {
			b.WriteString(" NOT NULL")
		}
	}
	b.WriteByte(')')
	return b.String()
}

func formatValue(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(x)
	default:
		return fmt.Sprint(x)
	}
}

// knownTable returns the canonical spelling of name if it is one of tables.
func knownTable(tables []string, name string) (string, bool) {
	name = strings.Trim(strings.TrimSpace(name), "\"`[]")
	for _, t := range tables {
		if strings.EqualFold(t, name) {
			return t, true
		}
	}
	return "", false
}
