package lookup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultQuery finds a row by its id column.
const DefaultQuery = "SELECT * FROM records WHERE id = ?"

// SQL looks keys up in a SQLite database with a single-placeholder query.
type SQL struct {
	db    *sql.DB
	stmt  *sql.Stmt
	query string
}

// OpenSQL opens the database at dsn and prepares query. query must contain
// exactly one '?' placeholder, which receives the key.
func OpenSQL(ctx context.Context, dsn, query string) (*SQL, error) {
	if dsn == "" {
		return nil, errors.New("lookup: empty dsn")
	}
	if query == "" {
		query = DefaultQuery
	}
	if n := strings.Count(query, "?"); n != 1 {
		return nil, fmt.Errorf("lookup: query needs exactly one placeholder, has %d", n)
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("lookup: open %s: %w", dsn, err)
	}
	stmt, err := db.PrepareContext(ctx, query)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("lookup: prepare: %w", err)
	}
	return &SQL{db: db, stmt: stmt, query: query}, nil
}

// DB exposes the underlying handle.
func (s *SQL) DB() *sql.DB { return s.db }

// Lookup returns the first row matching key.
func (s *SQL) Lookup(ctx context.Context, key string) (Record, error) {
	rows, err := s.stmt.QueryContext(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	rec := make(Record, len(cols))
	for i, c := range cols {
		if b, ok := vals[i].([]byte); ok {
			rec[c] = string(b)
			continue
		}
		rec[c] = vals[i]
	}
	return rec, nil
}

func (s *SQL) Close() error {
	return errors.Join(s.stmt.Close(), s.db.Close())
}
