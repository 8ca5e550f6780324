package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"casino-ewallet/internal/core/domain"
	"casino-ewallet/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const transactionColumns = `id, user_id, amount, currency, type, method, payment_reference,
		status, gcash_status, casino_status, status_history, metadata, expires_at, created_at, updated_at`

// TransactionRepo implements ports.TransactionRepository.
type TransactionRepo struct {
	pool Pool
}

// NewTransactionRepo creates a new TransactionRepo.
func NewTransactionRepo(pool Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

// Create inserts a new transaction within a database transaction.
func (r *TransactionRepo) Create(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error {
	history, metadata, err := encodeJSONColumns(t)
	if err != nil {
		return err
	}

	query := `INSERT INTO transactions (id, user_id, amount, currency, type, method, payment_reference,
		status, gcash_status, casino_status, status_history, metadata, manual_review, next_attempt_at,
		expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	_, err = tx.Exec(ctx, query,
		t.ID, t.UserID, t.Amount, t.Currency, t.Type, t.Method, t.PaymentReference,
		t.Status, t.GCashStatus, t.CasinoStatus, history, metadata,
		t.Metadata.ManualReview, t.Metadata.NextTransferAttemptAt,
		t.ExpiresAt, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// GetByID fetches a transaction by UUID.
func (r *TransactionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	return scanTransaction(r.pool.QueryRow(ctx, query, id))
}

// GetByReference fetches a transaction by its gateway payment reference.
func (r *TransactionRepo) GetByReference(ctx context.Context, reference string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE payment_reference = $1`
	return scanTransaction(r.pool.QueryRow(ctx, query, reference))
}

// Mutate locks the row, applies fn to a copy and writes the mutable columns back.
// Identity columns (user, amount, currency, reference) are never rewritten.
func (r *TransactionRepo) Mutate(ctx context.Context, id uuid.UUID, fn ports.MutateFunc) (*domain.Transaction, error) {
	dbTx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin mutate: %w", err)
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1 FOR UPDATE`
	current, err := scanTransaction(dbTx.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, nil
	}

	working := current.Clone()
	if err := fn(working); err != nil {
		if errors.Is(err, ports.ErrNoChange) {
			return current, nil
		}
		return nil, err
	}
	if err := working.CheckInvariants(); err != nil {
		return nil, fmt.Errorf("mutate transaction %s: %w", id, err)
	}

	history, metadata, err := encodeJSONColumns(working)
	if err != nil {
		return nil, err
	}

	update := `UPDATE transactions SET status = $1, gcash_status = $2, casino_status = $3,
		status_history = $4, metadata = $5, manual_review = $6, next_attempt_at = $7, updated_at = $8
		WHERE id = $9`
	tag, err := dbTx.Exec(ctx, update,
		working.Status, working.GCashStatus, working.CasinoStatus,
		history, metadata, working.Metadata.ManualReview, working.Metadata.NextTransferAttemptAt,
		working.UpdatedAt, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("transaction not found: %s", id)
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit mutate: %w", err)
	}
	return working, nil
}

// ListAwaitingTransfer returns paid transactions whose casino credit is due for another attempt.
func (r *TransactionRepo) ListAwaitingTransfer(ctx context.Context, now time.Time, limit int) ([]domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE status = 'payment_completed'
		  AND casino_status IN ('pending', 'failed')
		  AND manual_review = FALSE
		  AND (next_attempt_at IS NULL OR next_attempt_at <= $1)
		ORDER BY created_at ASC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list awaiting transfer: %w", err)
	}
	return collectTransactions(rows)
}

// ListExpirable returns pending transactions whose QR window has closed.
func (r *TransactionRepo) ListExpirable(ctx context.Context, now time.Time, limit int) ([]domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE status = 'pending' AND expires_at IS NOT NULL AND expires_at <= $1
		ORDER BY expires_at ASC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list expirable: %w", err)
	}
	return collectTransactions(rows)
}

// List fetches transactions with filtering and pagination.
func (r *TransactionRepo) List(ctx context.Context, params ports.TransactionListParams) ([]domain.Transaction, int64, error) {
	var conditions []string
	var args []any
	argIdx := 1

	if params.UserID != nil {
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", argIdx))
		args = append(args, *params.UserID)
		argIdx++
	}
	if params.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, *params.Status)
		argIdx++
	}
	if params.ManualReview != nil {
		conditions = append(conditions, fmt.Sprintf("manual_review = $%d", argIdx))
		args = append(args, *params.ManualReview)
		argIdx++
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	// Count total
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM transactions %s", where)
	var total int64
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}

	// Fetch page
	offset := (params.Page - 1) * params.PageSize
	dataQuery := fmt.Sprintf(`SELECT %s FROM transactions %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		transactionColumns, where, argIdx, argIdx+1)
	args = append(args, params.PageSize, offset)

	rows, err := r.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list transactions: %w", err)
	}
	txns, err := collectTransactions(rows)
	if err != nil {
		return nil, 0, err
	}
	return txns, total, nil
}

func collectTransactions(rows pgx.Rows) ([]domain.Transaction, error) {
	defer rows.Close()

	var txns []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transaction rows: %w", err)
	}
	return txns, nil
}

// scanTransaction is a helper to scan a single row into a Transaction.
func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	t := &domain.Transaction{}
	var history, metadata []byte
	err := row.Scan(
		&t.ID, &t.UserID, &t.Amount, &t.Currency, &t.Type, &t.Method, &t.PaymentReference,
		&t.Status, &t.GCashStatus, &t.CasinoStatus, &history, &metadata,
		&t.ExpiresAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan transaction: %w", err)
	}

	if len(history) > 0 {
		if err := json.Unmarshal(history, &t.StatusHistory); err != nil {
			return nil, fmt.Errorf("decode status history: %w", err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &t.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return t, nil
}

func encodeJSONColumns(t *domain.Transaction) (history []byte, metadata []byte, err error) {
	entries := t.StatusHistory
	if entries == nil {
		entries = []domain.StatusHistoryEntry{}
	}
	history, err = json.Marshal(entries)
	if err != nil {
		return nil, nil, fmt.Errorf("encode status history: %w", err)
	}
	metadata, err = json.Marshal(t.Metadata)
	if err != nil {
		return nil, nil, fmt.Errorf("encode metadata: %w", err)
	}
	return history, metadata, nil
}
