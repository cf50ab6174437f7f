package xmap

import (
	"context"
	"database/sql"
)

// Querier is implemented by *sql.DB, *sql.Tx, *sql.Conn, *sqlx.DB, *sqlx.Tx
// and any wrapper that can execute a query returning rows.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Execer is implemented by *sql.DB, *sql.Tx, *sql.Conn, and any wrapper
// that can execute a statement that does not return rows.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// DBTX is both a Querier and an Execer.
type DBTX interface {
	Querier
	Execer
}
