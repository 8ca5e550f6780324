package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"casino-ewallet/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// QRPaymentRepo implements ports.QRPaymentRepository.
type QRPaymentRepo struct {
	pool Pool
}

func NewQRPaymentRepo(pool Pool) *QRPaymentRepo {
	return &QRPaymentRepo{pool: pool}
}

// Create inserts the QR record in the same database transaction as its deposit.
func (r *QRPaymentRepo) Create(ctx context.Context, tx pgx.Tx, qr *domain.QRPayment) error {
	query := `INSERT INTO qr_payments (id, transaction_id, reference, qr_payload, pay_url, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := tx.Exec(ctx, query,
		qr.ID, qr.TransactionID, qr.Reference, qr.QRPayload, qr.PayURL, qr.ExpiresAt, qr.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert qr payment: %w", err)
	}
	return nil
}

func (r *QRPaymentRepo) GetByTransactionID(ctx context.Context, transactionID uuid.UUID) (*domain.QRPayment, error) {
	query := `SELECT id, transaction_id, reference, qr_payload, pay_url, expires_at, created_at
		FROM qr_payments WHERE transaction_id = $1`

	qr := &domain.QRPayment{}
	err := r.pool.QueryRow(ctx, query, transactionID).Scan(
		&qr.ID, &qr.TransactionID, &qr.Reference, &qr.QRPayload, &qr.PayURL, &qr.ExpiresAt, &qr.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get qr payment: %w", err)
	}
	return qr, nil
}

// PurgeExpired removes QR records whose transaction is terminal and whose expiry predates before.
func (r *QRPaymentRepo) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	query := `DELETE FROM qr_payments q USING transactions t
		WHERE q.transaction_id = t.id
		  AND t.status IN ('completed', 'failed', 'expired', 'cancelled')
		  AND q.expires_at < $1`

	tag, err := r.pool.Exec(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("purge qr payments: %w", err)
	}
	return tag.RowsAffected(), nil
}
