package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresBackend reads a PostgreSQL database through a pgx pool.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects and pings.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresBackend, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return &PostgresBackend{pool: pool}, nil
}

func (b *PostgresBackend) Dialect() string { return "postgres" }

// Tables lists user tables and views; tables outside "public" are schema-qualified.
func (b *PostgresBackend) Tables(ctx context.Context) ([]string, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT CASE WHEN table_schema = 'public' THEN table_name ELSE table_schema || '.' || table_name END
		FROM information_schema.tables
		WHERE table_schema NOT IN ('pg_catalog', 'information_schema')
		ORDER BY 1`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (b *PostgresBackend) Describe(ctx context.Context, table string) ([]Column, error) {
	tables, err := b.Tables(ctx)
	if err != nil {
		return nil, err
	}
	name, ok := knownTable(tables, table)
	if !ok {
		return nil, fmt.Errorf("no such table: %s", table)
	}
	schema, tbl := "public", name
	if s, t, found := strings.Cut(name, "."); found {
		schema, tbl = s, t
	}
	rows, err := b.pool.Query(ctx, `
		SELECT column_name, data_type, is_nullable = 'YES'
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`, schema, tbl)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var cols []Column
	for rows.Next() {
		var c Column
		if err := rows.Scan(&c.Name, &c.Type, &c.Nullable); err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

func (b *PostgresBackend) Select(ctx context.Context, stmt string, maxRows int) (*Rows, error) {
	tx, err := b.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, stmt)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := &Rows{}
	for _, fd := range rows.FieldDescriptions() {
		out.Columns = append(out.Columns, fd.Name)
	}
	for rows.Next() {
		if len(out.Values) >= maxRows {
			out.Truncated = true
			break
		}
		vals, err := rows.Values()
		if err != nil {
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

func (b *PostgresBackend) Close() error {
	b.pool.Close()
	return nil
}
