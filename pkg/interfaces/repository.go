package interfaces

import (
	"context"
	"database/sql"
)

// Executor runs statements against the relational store. Both *sql.DB and *sql.Tx satisfy it,
// so relational operations join whatever transaction the caller is in.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Session is the persistence handle supplied by the caller. The memory layer begins and ends
// transactions on it but never opens or closes the handle itself.
type Session interface {
	Executor
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
