package pgschema

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"
)

// Column is a text-typed column of a scanned table.
type Column struct {
	Name     string
	DataType string
}

// Table is a prefixed table together with its text-typed columns and, when
// the table has a single-column primary key, that key's column name. Tables
// without a usable key are still scannable; row-level rewrites fall back to
// ctid addressing.
type Table struct {
	Name        string
	TextColumns []Column
	PrimaryKey  string
}

// ScanPrefixTables enumerates all tables under the given name prefix with
// their text/character columns. An empty prefix scans every table in the
// public schema.
func ScanPrefixTables(ctx context.Context, conn *pgxpool.Pool, prefix string) ([]Table, error) {
	rows, err := conn.Query(ctx, querySelectPrefixTables, prefix)
	if err != nil {
		return nil, fmt.Errorf("listing tables with prefix %q: %w", prefix, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tables := make([]Table, 0, len(names))
	for _, name := range names {
		t := Table{Name: name}

		cols, err := textColumns(ctx, conn, name)
		if err != nil {
			return nil, err
		}
		t.TextColumns = cols

		pk, err := singleColumnPrimaryKey(ctx, conn, name)
		if err != nil {
			return nil, err
		}
		t.PrimaryKey = pk

		tables = append(tables, t)
	}
	return tables, nil
}

func textColumns(ctx context.Context, conn *pgxpool.Pool, table string) ([]Column, error) {
	rows, err := conn.Query(ctx, querySelectTextColumns, table)
	if err != nil {
		return nil, fmt.Errorf("listing columns of %q: %w", table, err)
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var c Column
		if err := rows.Scan(&c.Name, &c.DataType); err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

func singleColumnPrimaryKey(ctx context.Context, conn *pgxpool.Pool, table string) (string, error) {
	rows, err := conn.Query(ctx, querySelectPrimaryKey, table)
	if err != nil {
		return "", fmt.Errorf("reading primary key of %q: %w", table, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return "", err
		}
		cols = append(cols, name)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	if len(cols) == 1 {
		return cols[0], nil
	}
	return "", nil
}
