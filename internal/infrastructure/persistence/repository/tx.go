package repository

import (
	"context"
	"database/sql"

	"github.com/danyuan/approvalflow/internal/application/port"
	"github.com/danyuan/approvalflow/pkg/database"
)

type contextKey string

const txKey contextKey = "tx"

// executor covers both *sql.DB and *sql.Tx
type executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// executorFrom returns the transaction carried by the context, if any,
// otherwise the fallback connection
func executorFrom(ctx context.Context, db *sql.DB) executor {
	if tx, ok := ctx.Value(txKey).(*sql.Tx); ok {
		return tx
	}
	return db
}

// TxManager implements port.TransactionManager over the sqlite connection.
// The transaction rides the context so repositories inside fn transparently
// route their statements through it.
type TxManager struct {
	db *database.DB
}

// NewTxManager creates a new transaction manager
func NewTxManager(db *database.DB) *TxManager {
	return &TxManager{db: db}
}

// WithTransaction executes fn inside a transaction
func (m *TxManager) WithTransaction(ctx context.Context, fn func(txCtx context.Context) error) error {
	return m.db.WithTransaction(func(tx *sql.Tx) error {
		return fn(context.WithValue(ctx, txKey, tx))
	})
}

var _ port.TransactionManager = (*TxManager)(nil)
