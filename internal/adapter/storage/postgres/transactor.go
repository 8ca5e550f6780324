package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// depositTxOptions is used when a deposit row and its QR payload are written
// together. Later updates go through TransactionRepo.Mutate, which locks the
// row itself, so read committed is enough.
var depositTxOptions = pgx.TxOptions{IsoLevel: pgx.ReadCommitted}

// Transactor implements ports.DBTransactor for deposit creation.
type Transactor struct {
	pool Pool
}

// NewTransactor creates a new Transactor wrapping the connection pool.
func NewTransactor(pool Pool) *Transactor {
	return &Transactor{pool: pool}
}

// Begin opens the transaction shared by the deposit and QR inserts.
func (t *Transactor) Begin(ctx context.Context) (pgx.Tx, error) {
	tx, err := t.pool.BeginTx(ctx, depositTxOptions)
	if err != nil {
		return nil, fmt.Errorf("begin deposit transaction: %w", err)
	}
	return tx, nil
}
