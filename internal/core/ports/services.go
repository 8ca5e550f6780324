package ports

import (
	"context"
	"time"

	"casino-ewallet/internal/core/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// --- Infrastructure Ports ---

// SignatureService handles HMAC-SHA256 signing and verification.
type SignatureService interface {
	Sign(secretKey string, payload string) string
	Verify(secretKey string, payload string, signature string) bool
}

// TokenService handles JWT token operations.
type TokenService interface {
	Generate(userID uuid.UUID, username string, role string) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	UserID   uuid.UUID
	Username string
	Role     string
}

const (
	RolePlayer   = "player"
	RoleOperator = "operator"
)

// WebhookCache remembers fully processed webhook deliveries (fast path).
type WebhookCache interface {
	Seen(ctx context.Context, fingerprint string) (bool, error)
	Remember(ctx context.Context, fingerprint string, ttl time.Duration) error
}

// NonceStore reserves transfer nonces so no two attempts ever share one.
type NonceStore interface {
	// CheckAndSet atomically reserves nonce. Returns true if it was unused.
	CheckAndSet(ctx context.Context, scope string, nonce string, ttl time.Duration) (bool, error)
}

// Lease is a held lock; Release is safe to call once the lease has expired.
// Extend resets the expiry to ttl from now and reports false once another
// holder owns the key or it has lapsed.
type Lease interface {
	Release(ctx context.Context) error
	Extend(ctx context.Context, ttl time.Duration) (bool, error)
}

// Locker hands out short-lived exclusive leases keyed by name.
type Locker interface {
	// TryLock returns ok=false without error when another holder owns key.
	TryLock(ctx context.Context, key string, ttl time.Duration) (Lease, bool, error)
}

// --- External Collaborators ---

// PaymentGateway is the QR-issuing payment processor.
type PaymentGateway interface {
	GenerateQR(ctx context.Context, reference string, amount decimal.Decimal, currency string) (*domain.GeneratedQR, error)
	// GetStatus returns the gateway's raw status vocabulary for reference.
	GetStatus(ctx context.Context, reference string) (string, error)
}

// CasinoClient performs funds transfers on the casino platform.
// Implementations wrap failures with domain.ErrTransferRejected when the
// casino definitively refused; anything else is treated as uncertain.
type CasinoClient interface {
	Transfer(ctx context.Context, req domain.TransferRequest) (*domain.TransferReceipt, error)
}

// TransferLookup is optionally implemented by casino clients that can search
// transfer history. found=false means the nonce never reached the casino.
type TransferLookup interface {
	FindTransferByNonce(ctx context.Context, nonce string) (receipt *domain.TransferReceipt, found bool, err error)
}

// --- Service Ports (Business Logic) ---

// TransferExecutor performs one guarded casino transfer attempt.
type TransferExecutor interface {
	Execute(ctx context.Context, transactionID uuid.UUID) (*domain.TransferResult, error)
}

// WebhookGate ingests gateway callbacks.
type WebhookGate interface {
	Ingest(ctx context.Context, payload domain.WebhookPayload) (*domain.WebhookResult, error)
}

// DepositService is the API exposed to the HTTP layer.
type DepositService interface {
	CreateDeposit(ctx context.Context, req CreateDepositRequest) (*DepositView, error)
	GetTransaction(ctx context.Context, id uuid.UUID) (*DepositView, error)
	ListTransactions(ctx context.Context, params TransactionListParams) ([]domain.Transaction, int64, error)
	IngestWebhook(ctx context.Context, payload domain.WebhookPayload) (*domain.WebhookResult, error)
	RetryTransfer(ctx context.Context, req RetryTransferRequest) (*domain.TransferResult, error)
	CancelDeposit(ctx context.Context, req CancelDepositRequest) (*domain.Transaction, error)
	ResolveReview(ctx context.Context, req ResolveReviewRequest) (*domain.Transaction, error)
}

// CreateDepositRequest holds validated input for a new deposit.
type CreateDepositRequest struct {
	UserID   uuid.UUID
	Amount   decimal.Decimal
	Currency string
	Method   domain.PaymentMethod
	ClientIP string
}

// DepositView is a transaction together with its QR record, if any.
type DepositView struct {
	Transaction *domain.Transaction `json:"transaction"`
	QRPayment   *domain.QRPayment   `json:"qr_payment,omitempty"`
}

// RetryTransferRequest is an operator-triggered transfer attempt.
// Force clears a manual-review flag and restarts the attempt budget.
type RetryTransferRequest struct {
	TransactionID uuid.UUID
	ActorID       uuid.UUID
	Force         bool
	ClientIP      string
}

// CancelDepositRequest cancels a deposit that has not completed.
// OwnerID restricts the cancellation to the owner's own pending deposit.
type CancelDepositRequest struct {
	TransactionID uuid.UUID
	ActorID       uuid.UUID
	OwnerID       *uuid.UUID
	Reason        string
	ClientIP      string
}

// ReviewOutcome is the operator's verdict on a flagged transaction.
type ReviewOutcome string

const (
	ReviewCompleted ReviewOutcome = "completed"
	ReviewFailed    ReviewOutcome = "failed"
)

// ResolveReviewRequest closes a manual-review case.
type ResolveReviewRequest struct {
	TransactionID       uuid.UUID
	ActorID             uuid.UUID
	Outcome             ReviewOutcome
	CasinoTransactionID string
	Note                string
	ClientIP            string
}

// AuditService records operator actions.
type AuditService interface {
	Log(ctx context.Context, entry *domain.AuditLog)
}

// Metrics receives reconciliation telemetry.
type Metrics interface {
	ObserveWebhook(effect string)
	ObserveTransfer(outcome string, elapsed time.Duration)
	ObserveManualReview(reason string)
	ObserveSweep(elapsed time.Duration, err error)
	ObserveSweepItems(phase string, n int)
}
