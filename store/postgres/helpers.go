package postgres

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/orquesta/orquesta/id"
)

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// isDuplicateKey reports a unique_violation (23505).
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// parseOptional parses s as an ID with prefix, mapping "" to id.Nil.
func parseOptional(s string, prefix id.Prefix) (id.ID, error) {
	if s == "" {
		return id.Nil, nil
	}
	return id.ParseWithPrefix(s, prefix)
}

// micros truncates t to the precision of TIMESTAMPTZ.
func micros(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// nullJSON maps an empty document to SQL NULL.
func nullJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

// query builds a WHERE clause with positional arguments.
type query struct {
	sql   strings.Builder
	args  []any
	where bool
}

func newQuery(base string) *query {
	q := &query{}
	q.sql.WriteString(base)
	return q
}

func (q *query) and(cond string, arg any) {
	if q.where {
		q.sql.WriteString(" AND ")
	} else {
		q.sql.WriteString(" WHERE ")
		q.where = true
	}
	q.args = append(q.args, arg)
	q.sql.WriteString(fmt.Sprintf(cond, len(q.args)))
}

func (q *query) page(order string, limit, offset int) {
	q.sql.WriteString(" ORDER BY " + order)
	if limit > 0 {
		q.args = append(q.args, limit)
		q.sql.WriteString(fmt.Sprintf(" LIMIT $%d", len(q.args)))
	}
	if offset > 0 {
		q.args = append(q.args, offset)
		q.sql.WriteString(fmt.Sprintf(" OFFSET $%d", len(q.args)))
	}
}

func (q *query) String() string { return q.sql.String() }

// collect scans every row with scan.
func collect[T any](rows pgx.Rows, scan func(pgx.Row) (*T, error), what string) ([]*T, error) {
	defer rows.Close()
	var out []*T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("orquesta/postgres: scan %s: %w", what, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("orquesta/postgres: iterate %s: %w", what, err)
	}
	return out, nil
}
