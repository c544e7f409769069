package query

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteBackend reads a SQLite database file through modernc.org/sqlite.
type SQLiteBackend struct {
	db *sql.DB
}

// OpenSQLite opens path read-only.
func OpenSQLite(path string) (*SQLiteBackend, error) {
	dsn := path
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	dsn += sep + "mode=ro&_pragma=query_only(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	return &SQLiteBackend{db: db}, nil
}

// NewSQLiteBackend wraps an open handle. Used by tests and the composition root.
func NewSQLiteBackend(db *sql.DB) *SQLiteBackend { return &SQLiteBackend{db: db} }

func (b *SQLiteBackend) Dialect() string { return "sqlite" }

func (b *SQLiteBackend) Tables(ctx context.Context) ([]string, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

func (b *SQLiteBackend) Describe(ctx context.Context, table string) ([]Column, error) {
	tables, err := b.Tables(ctx)
	if err != nil {
		return nil, err
	}
	name, ok := knownTable(tables, table)
	if !ok {
		return nil, fmt.Errorf("no such table: %s", table)
	}
	rows, err := b.db.QueryContext(ctx, `SELECT name, type, "notnull" FROM pragma_table_info(?)`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var cols []Column
	for rows.Next() {
		var c Column
		var notNull int
		if err := rows.Scan(&c.Name, &c.Type, &notNull); err != nil {
			return nil, err
		}
		c.Nullable = notNull == 0
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

func (b *SQLiteBackend) Select(ctx context.Context, stmt string, maxRows int) (*Rows, error) {
	tx, err := b.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, stmt)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := &Rows{Columns: cols}
	for rows.Next() {
		if len(out.Values) >= maxRows {
			out.Truncated = true
			break
		}
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make([]string, len(vals))
		for i, v := range vals {
			row[i] = formatValue(v)
		}
		out.Values = append(out.Values, row)
	}
	return out, rows.Err()
}

func (b *SQLiteBackend) Close() error { return b.db.Close() }
