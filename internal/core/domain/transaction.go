package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionType represents the kind of money movement.
type TransactionType string

const (
	TransactionTypeDeposit    TransactionType = "deposit"
	TransactionTypeWithdrawal TransactionType = "withdrawal"
	TransactionTypeTransfer   TransactionType = "transfer"
)

// PaymentMethod is how the end user pays in.
type PaymentMethod string

const (
	PaymentMethodGCashQR PaymentMethod = "gcash_qr"
	PaymentMethodManual  PaymentMethod = "manual"
	PaymentMethodCrypto  PaymentMethod = "crypto"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodGCashQR, PaymentMethodManual, PaymentMethodCrypto:
		return true
	}
	return false
}

// TransactionStatus is the overall lifecycle state of a transaction.
type TransactionStatus string

const (
	StatusPending          TransactionStatus = "pending"
	StatusPaymentCompleted TransactionStatus = "payment_completed"
	StatusCompleted        TransactionStatus = "completed"
	StatusFailed           TransactionStatus = "failed"
	StatusExpired          TransactionStatus = "expired"
	StatusCancelled        TransactionStatus = "cancelled"
)

// PaymentStatus is the gateway-side sub-state.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentSuccess PaymentStatus = "success"
	PaymentFailed  PaymentStatus = "failed"
)

// CasinoStatus is the transfer-side sub-state.
type CasinoStatus string

const (
	CasinoPending   CasinoStatus = "pending"
	CasinoFailed    CasinoStatus = "failed"
	CasinoCompleted CasinoStatus = "completed"
)

// StatusHistoryEntry is one append-only audit record.
type StatusHistoryEntry struct {
	Status    TransactionStatus `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Note      string            `json:"note,omitempty"`
}

// Transaction is a single deposit attempt tracked across the gateway and the casino.
type Transaction struct {
	ID               uuid.UUID            `json:"id"`
	UserID           uuid.UUID            `json:"user_id"`
	Amount           decimal.Decimal      `json:"amount"`
	Currency         string               `json:"currency"`
	Type             TransactionType      `json:"type"`
	Method           PaymentMethod        `json:"method"`
	PaymentReference string               `json:"payment_reference"`
	Status           TransactionStatus    `json:"status"`
	GCashStatus      PaymentStatus        `json:"gcash_status"`
	CasinoStatus     CasinoStatus         `json:"casino_status"`
	StatusHistory    []StatusHistoryEntry `json:"status_history"`
	Metadata         Metadata             `json:"metadata"`
	ExpiresAt        *time.Time           `json:"expires_at,omitempty"`
	CreatedAt        time.Time            `json:"created_at"`
	UpdatedAt        time.Time            `json:"updated_at"`
}

// NewDeposit builds a pending deposit with its initial history entry.
func NewDeposit(userID uuid.UUID, amount decimal.Decimal, currency string, method PaymentMethod,
	reference string, expiresAt *time.Time, now time.Time) (*Transaction, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("amount must be positive, got %s", amount)
	}
	if !method.Valid() {
		return nil, fmt.Errorf("unsupported payment method %q", method)
	}
	if reference == "" {
		return nil, fmt.Errorf("payment reference is required")
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate transaction id: %w", err)
	}

	return &Transaction{
		ID:               id,
		UserID:           userID,
		Amount:           amount,
		Currency:         currency,
		Type:             TransactionTypeDeposit,
		Method:           method,
		PaymentReference: reference,
		Status:           StatusPending,
		GCashStatus:      PaymentPending,
		CasinoStatus:     CasinoPending,
		StatusHistory: []StatusHistoryEntry{
			{Status: StatusPending, Timestamp: now, Note: "deposit created"},
		},
		ExpiresAt: expiresAt,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// IsTerminal returns true if the transaction is in a final state.
func (t *Transaction) IsTerminal() bool {
	switch t.Status {
	case StatusCompleted, StatusFailed, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// AwaitingTransfer reports whether the casino credit is still outstanding.
func (t *Transaction) AwaitingTransfer() bool {
	return t.Status == StatusPaymentCompleted &&
		(t.CasinoStatus == CasinoPending || t.CasinoStatus == CasinoFailed)
}

// IsExpiredAt reports whether the QR window closed before now without payment.
func (t *Transaction) IsExpiredAt(now time.Time) bool {
	return t.Status == StatusPending && t.ExpiresAt != nil && !now.Before(*t.ExpiresAt)
}

// LastHistory returns the most recent history entry, if any.
func (t *Transaction) LastHistory() (StatusHistoryEntry, bool) {
	if len(t.StatusHistory) == 0 {
		return StatusHistoryEntry{}, false
	}
	return t.StatusHistory[len(t.StatusHistory)-1], true
}

// Clone returns a deep copy so callers can mutate without aliasing stored state.
func (t *Transaction) Clone() *Transaction {
	c := *t
	c.StatusHistory = append([]StatusHistoryEntry(nil), t.StatusHistory...)
	c.Metadata = t.Metadata.clone()
	if t.ExpiresAt != nil {
		e := *t.ExpiresAt
		c.ExpiresAt = &e
	}
	return &c
}
