package pgx

import (
	"context"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

// GraphDBStore implements the store.GraphStore interface on PostgreSQL.
// Runs live in a relational table; graph payloads and statistics are stored
// as JSONB snapshots keyed by run and view.
type GraphDBStore struct {
	conn pgxIConn
}

// NewGraphDBStore creates a new GraphDBStore using an existing database
// connection or pool.
func NewGraphDBStore(conn pgxIConn) *GraphDBStore {
	return &GraphDBStore{conn: conn}
}
