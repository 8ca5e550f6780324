package ports

import (
	"context"
	"errors"
	"time"

	"casino-ewallet/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrNoChange is returned by a Mutate callback to abort without writing.
var ErrNoChange = errors.New("no change")

// MutateFunc edits a locked copy of a transaction. Returning ErrNoChange
// rolls back without persisting; any other error is propagated.
type MutateFunc func(t *domain.Transaction) error

// TransactionRepository defines persistence operations for transactions.
// Mutate is the only way to change a stored transaction and serialises
// read-modify-write per row.
type TransactionRepository interface {
	Create(ctx context.Context, tx pgx.Tx, transaction *domain.Transaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	GetByReference(ctx context.Context, reference string) (*domain.Transaction, error)
	Mutate(ctx context.Context, id uuid.UUID, fn MutateFunc) (*domain.Transaction, error)
	// Sweep queries
	ListAwaitingTransfer(ctx context.Context, now time.Time, limit int) ([]domain.Transaction, error)
	ListExpirable(ctx context.Context, now time.Time, limit int) ([]domain.Transaction, error)
	// Operator listing
	List(ctx context.Context, params TransactionListParams) ([]domain.Transaction, int64, error)
}

// TransactionListParams holds filter + pagination for listing transactions.
type TransactionListParams struct {
	UserID       *uuid.UUID
	Status       *domain.TransactionStatus
	ManualReview *bool
	Page         int
	PageSize     int
}

// QRPaymentRepository persists the gateway QR artefacts.
type QRPaymentRepository interface {
	Create(ctx context.Context, tx pgx.Tx, qr *domain.QRPayment) error
	GetByTransactionID(ctx context.Context, transactionID uuid.UUID) (*domain.QRPayment, error)
	// PurgeExpired deletes QR records of terminal transactions that expired before the cutoff.
	PurgeExpired(ctx context.Context, before time.Time) (int64, error)
}

// CasinoAccountRepository resolves the casino identity of a wallet user.
type CasinoAccountRepository interface {
	GetByUserID(ctx context.Context, userID uuid.UUID) (*domain.CasinoAccount, error)
}

// AuditRepository stores operator actions.
type AuditRepository interface {
	Create(ctx context.Context, log *domain.AuditLog) error
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
