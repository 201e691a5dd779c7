// Package urlreplace rewrites a site's base URL across all text columns of
// a prefixed database schema. Columns known to hold PHP-serialized payloads
// go through the phpserial codec so length prefixes stay valid; everything
// else is a plain in-database substring replace.
package urlreplace

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/edulution/moodle-connector/pkg/pgschema"
	"github.com/edulution/moodle-connector/pkg/phpserial"
)

// Entry records the replacements found in one (table, column) pair. Only
// pairs with at least one match are reported.
type Entry struct {
	Table      string `json:"table"`
	Column     string `json:"column"`
	Count      int    `json:"count"`
	Serialized bool   `json:"serialized"`
}

// Result aggregates a full scan.
type Result struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
}

// Replacer scans and rewrites URLs in a live database. The pool is assumed
// to be exclusively owned for the duration of a run.
type Replacer struct {
	conn       *pgxpool.Pool
	prefix     string
	serialized map[string]struct{}
}

// NewReplacer returns a Replacer for tables under the given name prefix
// (e.g. "mdl_"). The set of serialized-data columns defaults to the known
// moodle columns; pass extra "table.column" pairs (without prefix) to
// extend it.
func NewReplacer(conn *pgxpool.Pool, prefix string, extraSerialized ...string) *Replacer {
	serialized := make(map[string]struct{}, len(defaultSerializedColumns)+len(extraSerialized))
	for _, c := range defaultSerializedColumns {
		serialized[prefix+c] = struct{}{}
	}
	for _, c := range extraSerialized {
		serialized[prefix+c] = struct{}{}
	}
	return &Replacer{conn: conn, prefix: prefix, serialized: serialized}
}

// defaultSerializedColumns lists the moodle columns that store
// PHP-serialized values. This is data, not logic; table names are given
// without the site prefix.
var defaultSerializedColumns = []string{
	"config.value",
	"config_plugins.value",
	"filter_config.value",
	"user_preferences.value",
	"course_format_options.value",
	"question_attempts.questionsummary",
	"block_instances.configdata",
}

// Preview counts replacements without mutating anything. It shares the scan
// logic with ReplaceAll so the reported counts can't drift from what a live
// run would change.
func (r *Replacer) Preview(ctx context.Context, oldURL, newURL string) (*Result, error) {
	return r.run(ctx, oldURL, newURL, false)
}

// ReplaceAll rewrites oldURL to newURL in every matching cell and returns
// per-column counts plus a grand total. Running it twice yields zero
// replacements on the second run.
func (r *Replacer) ReplaceAll(ctx context.Context, oldURL, newURL string) (*Result, error) {
	return r.run(ctx, oldURL, newURL, true)
}

func (r *Replacer) run(ctx context.Context, oldURL, newURL string, mutate bool) (*Result, error) {
	if oldURL == "" {
		return nil, fmt.Errorf("old base URL must not be empty")
	}

	tables, err := pgschema.ScanPrefixTables(ctx, r.conn, r.prefix)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	for _, t := range tables {
		// interruption is honored between tables, never mid-row
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, col := range t.TextColumns {
			_, isSerialized := r.serialized[t.Name+"."+col.Name]

			var count int
			if isSerialized {
				count, err = r.serializedPass(ctx, t, col.Name, oldURL, newURL, mutate)
			} else {
				count, err = r.plainPass(ctx, t.Name, col.Name, oldURL, newURL, mutate)
			}
			if err != nil {
				return nil, fmt.Errorf("replacing in %s.%s: %w", t.Name, col.Name, err)
			}
			if count == 0 {
				continue
			}
			log.Info().
				Str("table", t.Name).
				Str("column", col.Name).
				Int("count", count).
				Bool("serialized", isSerialized).
				Bool("dry_run", !mutate).
				Msg("url occurrences")
			res.Entries = append(res.Entries, Entry{
				Table:      t.Name,
				Column:     col.Name,
				Count:      count,
				Serialized: isSerialized,
			})
			res.Total += count
		}
	}
	return res, nil
}

// plainPass handles non-serialized columns entirely in SQL. The
// position()-based predicate is shared between the counting and the
// mutating variant.
func (r *Replacer) plainPass(ctx context.Context, table, column string, oldURL, newURL string, mutate bool) (int, error) {
	tbl := pgx.Identifier{table}.Sanitize()
	col := pgx.Identifier{column}.Sanitize()
	where := fmt.Sprintf("position($1 in %s) > 0", col)

	if !mutate {
		var count int
		query := fmt.Sprintf("SELECT count(*) FROM %s WHERE %s", tbl, where)
		if err := r.conn.QueryRow(ctx, query, oldURL).Scan(&count); err != nil {
			return 0, err
		}
		return count, nil
	}

	query := fmt.Sprintf("UPDATE %s SET %s = replace(%s, $1, $2) WHERE %s", tbl, col, col, where)
	tag, err := r.conn.Exec(ctx, query, oldURL, newURL)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// serializedPass pulls matching cells into memory, rewrites them through the
// phpserial codec and writes them back row by row. Rows are addressed by the
// table's primary key, or by ctid when it has none.
func (r *Replacer) serializedPass(ctx context.Context, t pgschema.Table, column string, oldURL, newURL string, mutate bool) (int, error) {
	tbl := pgx.Identifier{t.Name}.Sanitize()
	col := pgx.Identifier{column}.Sanitize()

	keyExpr := "ctid::text"
	keyPredicate := "ctid = $2::tid"
	if t.PrimaryKey != "" {
		pk := pgx.Identifier{t.PrimaryKey}.Sanitize()
		keyExpr = pk + "::text"
		keyPredicate = pk + "::text = $2"
	}

	query := fmt.Sprintf("SELECT %s, %s FROM %s WHERE position($1 in %s) > 0",
		keyExpr, col, tbl, col)
	rows, err := r.conn.Query(ctx, query, oldURL)
	if err != nil {
		return 0, err
	}

	type pending struct {
		key   string
		value string
	}
	var updates []pending
	total := 0
	for rows.Next() {
		var key, cell string
		if err := rows.Scan(&key, &cell); err != nil {
			rows.Close()
			return 0, err
		}

		var rewritten string
		var n int
		if phpserial.ContainsSerializedString(cell) {
			rewritten, n = phpserial.ReplaceInString(cell, oldURL, newURL)
		} else {
			// flagged column, but this cell holds no serialized tokens
			rewritten, n = plainReplace(cell, oldURL, newURL)
		}
		if n == 0 {
			continue
		}
		total += n
		updates = append(updates, pending{key: key, value: rewritten})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	if !mutate {
		return total, nil
	}

	update := fmt.Sprintf("UPDATE %s SET %s = $1 WHERE %s", tbl, col, keyPredicate)
	for _, u := range updates {
		if _, err := r.conn.Exec(ctx, update, u.value, u.key); err != nil {
			return 0, err
		}
	}
	return total, nil
}

func plainReplace(cell, oldURL, newURL string) (string, int) {
	n := strings.Count(cell, oldURL)
	if n == 0 {
		return cell, 0
	}
	return strings.ReplaceAll(cell, oldURL, newURL), n
}
