package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"casino-ewallet/config"
	"casino-ewallet/internal/core/domain"
	"casino-ewallet/internal/core/ports"
	"casino-ewallet/pkg/apperror"
	"casino-ewallet/pkg/clock"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

var errReviewNotPending = errors.New("transaction is not awaiting review")

// DepositConfig holds deposit creation defaults.
type DepositConfig struct {
	Currency string
	QRTTL    time.Duration
	LeaseTTL time.Duration
}

// NewDepositConfig derives deposit settings from application config.
func NewDepositConfig(cfg *config.Config) DepositConfig {
	return DepositConfig{
		Currency: cfg.Gateway.Currency,
		QRTTL:    cfg.Gateway.QRTTL,
		LeaseTTL: cfg.Reconciler.TransferLeaseTTL,
	}
}

// DepositServiceImpl implements ports.DepositService.
type DepositServiceImpl struct {
	txRepo     ports.TransactionRepository
	qrRepo     ports.QRPaymentRepository
	transactor ports.DBTransactor
	gateway    ports.PaymentGateway
	gate       ports.WebhookGate
	executor   ports.TransferExecutor
	locker     ports.Locker
	audit      ports.AuditService
	clock      clock.Clock
	cfg        DepositConfig
	log        zerolog.Logger
}

// NewDepositService creates a new DepositServiceImpl.
func NewDepositService(
	txRepo ports.TransactionRepository,
	qrRepo ports.QRPaymentRepository,
	transactor ports.DBTransactor,
	gateway ports.PaymentGateway,
	gate ports.WebhookGate,
	executor ports.TransferExecutor,
	locker ports.Locker,
	audit ports.AuditService,
	clk clock.Clock,
	cfg DepositConfig,
	log zerolog.Logger,
) *DepositServiceImpl {
	return &DepositServiceImpl{
		txRepo:     txRepo,
		qrRepo:     qrRepo,
		transactor: transactor,
		gateway:    gateway,
		gate:       gate,
		executor:   executor,
		locker:     locker,
		audit:      audit,
		clock:      clk,
		cfg:        cfg,
		log:        log,
	}
}

// CreateDeposit opens a pending deposit. For gcash_qr the gateway QR is
// requested first; the transaction and its QR record are stored atomically.
func (s *DepositServiceImpl) CreateDeposit(ctx context.Context, req ports.CreateDepositRequest) (*ports.DepositView, error) {
	if !req.Amount.IsPositive() {
		return nil, apperror.ErrInvalidAmount()
	}
	if !req.Method.Valid() {
		return nil, apperror.ErrUnsupportedMethod(string(req.Method))
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.cfg.Currency
	}

	reference, err := newPaymentReference()
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	now := s.clock.Now()

	var (
		generated *domain.GeneratedQR
		expiresAt *time.Time
	)
	if req.Method == domain.PaymentMethodGCashQR {
		generated, err = s.gateway.GenerateQR(ctx, reference, req.Amount, currency)
		if err != nil {
			s.log.Error().Err(err).Str("reference", reference).Msg("qr generation failed")
			return nil, apperror.ErrGatewayUnavailable(err)
		}
		if generated.Reference != "" {
			reference = generated.Reference
		}
		exp := generated.ExpiresAt.UTC()
		if generated.ExpiresAt.IsZero() {
			exp = now.Add(s.cfg.QRTTL)
		}
		expiresAt = &exp
	}

	txn, err := domain.NewDeposit(req.UserID, req.Amount, currency, req.Method, reference, expiresAt, now)
	if err != nil {
		return nil, apperror.Validation(err.Error())
	}

	var qr *domain.QRPayment
	if generated != nil {
		qr = &domain.QRPayment{
			ID:            uuid.New(),
			TransactionID: txn.ID,
			Reference:     reference,
			QRPayload:     generated.QRPayload,
			PayURL:        generated.PayURL,
			ExpiresAt:     *expiresAt,
			CreatedAt:     now,
		}
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	if err := s.txRepo.Create(ctx, dbTx, txn); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("create transaction: %w", err))
	}
	if qr != nil {
		if err := s.qrRepo.Create(ctx, dbTx, qr); err != nil {
			return nil, apperror.ErrDatabaseError(fmt.Errorf("create qr payment: %w", err))
		}
	}
	if err := dbTx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.log.Info().
		Str("tx_id", txn.ID.String()).
		Str("reference", reference).
		Str("method", string(txn.Method)).
		Str("amount", txn.Amount.String()).
		Msg("deposit created")

	userID := req.UserID
	s.audit.Log(ctx, &domain.AuditLog{
		ID:           uuid.New(),
		ActorID:      &userID,
		Action:       domain.AuditActionCreateDeposit,
		ResourceType: "transaction",
		ResourceID:   txn.ID.String(),
		Details:      auditDetails(map[string]any{"amount": txn.Amount.String(), "method": txn.Method, "reference": reference}),
		IPAddress:    req.ClientIP,
		CreatedAt:    now,
	})

	return &ports.DepositView{Transaction: txn, QRPayment: qr}, nil
}

// GetTransaction returns a transaction and its QR record, if any.
func (s *DepositServiceImpl) GetTransaction(ctx context.Context, id uuid.UUID) (*ports.DepositView, error) {
	txn, err := s.txRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("get transaction: %w", err))
	}
	if txn == nil {
		return nil, apperror.ErrNotFound("transaction")
	}

	view := &ports.DepositView{Transaction: txn}
	if txn.Method == domain.PaymentMethodGCashQR {
		qr, err := s.qrRepo.GetByTransactionID(ctx, id)
		if err != nil {
			return nil, apperror.ErrDatabaseError(fmt.Errorf("get qr payment: %w", err))
		}
		view.QRPayment = qr
	}
	return view, nil
}

func (s *DepositServiceImpl) ListTransactions(ctx context.Context, params ports.TransactionListParams) ([]domain.Transaction, int64, error) {
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize < 1 {
		params.PageSize = defaultPageSize
	}
	if params.PageSize > maxPageSize {
		params.PageSize = maxPageSize
	}

	txns, total, err := s.txRepo.List(ctx, params)
	if err != nil {
		return nil, 0, apperror.ErrDatabaseError(fmt.Errorf("list transactions: %w", err))
	}
	return txns, total, nil
}

func (s *DepositServiceImpl) IngestWebhook(ctx context.Context, payload domain.WebhookPayload) (*domain.WebhookResult, error) {
	return s.gate.Ingest(ctx, payload)
}

// RetryTransfer runs the executor on operator request. Force clears a
// manual-review flag and restarts the attempt budget before trying.
func (s *DepositServiceImpl) RetryTransfer(ctx context.Context, req ports.RetryTransferRequest) (*domain.TransferResult, error) {
	txn, err := s.txRepo.GetByID(ctx, req.TransactionID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("get transaction: %w", err))
	}
	if txn == nil {
		return nil, apperror.ErrNotFound("transaction")
	}
	if !txn.AwaitingTransfer() {
		return nil, apperror.ErrTransferNotEligible(fmt.Sprintf("status is %s, casino status is %s", txn.Status, txn.CasinoStatus))
	}
	if txn.Metadata.ManualReview && !req.Force {
		return nil, apperror.ErrTransferNotEligible("transaction is under manual review, retry with force to override")
	}

	if req.Force {
		now := s.clock.Now()
		_, err := s.txRepo.Mutate(ctx, txn.ID, func(t *domain.Transaction) error {
			if !t.AwaitingTransfer() {
				return ports.ErrNoChange
			}
			t.Metadata.ClearReview()
			t.Metadata.ResetAttemptWindow()
			t.UpdatedAt = now
			return nil
		})
		if err != nil {
			return nil, apperror.ErrDatabaseError(fmt.Errorf("reset attempt budget: %w", err))
		}
	}

	result, err := s.executor.Execute(ctx, txn.ID)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("tx_id", txn.ID.String()).
		Str("actor_id", req.ActorID.String()).
		Bool("force", req.Force).
		Str("outcome", string(result.Outcome)).
		Msg("operator transfer retry")

	actorID := req.ActorID
	s.audit.Log(ctx, &domain.AuditLog{
		ID:           uuid.New(),
		ActorID:      &actorID,
		Action:       domain.AuditActionRetryTransfer,
		ResourceType: "transaction",
		ResourceID:   txn.ID.String(),
		Details:      auditDetails(map[string]any{"force": req.Force, "outcome": result.Outcome, "attempt": result.Attempt}),
		IPAddress:    req.ClientIP,
		CreatedAt:    s.clock.Now(),
	})
	return result, nil
}

// CancelDeposit cancels a deposit that is not completed. It is refused while
// a transfer attempt holds the transaction lease.
func (s *DepositServiceImpl) CancelDeposit(ctx context.Context, req ports.CancelDepositRequest) (*domain.Transaction, error) {
	lease, err := s.acquire(ctx, req.TransactionID)
	if err != nil {
		return nil, err
	}
	defer s.release(ctx, lease, req.TransactionID)

	now := s.clock.Now()
	note := "cancelled"
	if r := strings.TrimSpace(req.Reason); r != "" {
		note = "cancelled: " + r
	}

	txn, err := s.txRepo.Mutate(ctx, req.TransactionID, func(t *domain.Transaction) error {
		if req.OwnerID != nil && (t.UserID != *req.OwnerID || t.Status != domain.StatusPending) {
			return apperror.ErrForbidden()
		}
		changed, err := t.Transition(domain.StatusCancelled, note, now)
		if err != nil {
			return err
		}
		if !changed {
			return ports.ErrNoChange
		}
		return nil
	})
	if err != nil {
		return nil, mapMutateError(err)
	}
	if txn == nil {
		return nil, apperror.ErrNotFound("transaction")
	}

	s.log.Info().Str("tx_id", txn.ID.String()).Str("actor_id", req.ActorID.String()).Msg("deposit cancelled")

	actorID := req.ActorID
	s.audit.Log(ctx, &domain.AuditLog{
		ID:           uuid.New(),
		ActorID:      &actorID,
		Action:       domain.AuditActionCancel,
		ResourceType: "transaction",
		ResourceID:   txn.ID.String(),
		Details:      auditDetails(map[string]any{"reason": req.Reason}),
		IPAddress:    req.ClientIP,
		CreatedAt:    now,
	})
	return txn, nil
}

// ResolveReview closes a manual-review case. Completing requires the casino
// transaction id the operator verified; failing closes the deposit as failed.
func (s *DepositServiceImpl) ResolveReview(ctx context.Context, req ports.ResolveReviewRequest) (*domain.Transaction, error) {
	casinoTxnID := strings.TrimSpace(req.CasinoTransactionID)
	switch req.Outcome {
	case ports.ReviewCompleted:
		if casinoTxnID == "" {
			return nil, apperror.Validation("casino_transaction_id is required to resolve as completed")
		}
	case ports.ReviewFailed:
	default:
		return nil, apperror.Validation(fmt.Sprintf("unknown review outcome %q", req.Outcome))
	}

	lease, err := s.acquire(ctx, req.TransactionID)
	if err != nil {
		return nil, err
	}
	defer s.release(ctx, lease, req.TransactionID)

	now := s.clock.Now()
	txn, err := s.txRepo.Mutate(ctx, req.TransactionID, func(t *domain.Transaction) error {
		if !t.Metadata.ManualReview || t.Status != domain.StatusPaymentCompleted {
			return errReviewNotPending
		}
		t.Metadata.ClearReview()
		note := "review resolved as " + string(req.Outcome)
		if n := strings.TrimSpace(req.Note); n != "" {
			note += ": " + n
		}
		if req.Outcome == ports.ReviewCompleted {
			return completeTransfer(t, casinoTxnID, now, note)
		}
		t.CasinoStatus = domain.CasinoFailed
		t.Metadata.NextTransferAttemptAt = nil
		_, err := t.Transition(domain.StatusFailed, note, now)
		return err
	})
	if err != nil {
		return nil, mapMutateError(err)
	}
	if txn == nil {
		return nil, apperror.ErrNotFound("transaction")
	}

	s.log.Info().
		Str("tx_id", txn.ID.String()).
		Str("actor_id", req.ActorID.String()).
		Str("outcome", string(req.Outcome)).
		Msg("manual review resolved")

	actorID := req.ActorID
	s.audit.Log(ctx, &domain.AuditLog{
		ID:           uuid.New(),
		ActorID:      &actorID,
		Action:       domain.AuditActionResolveReview,
		ResourceType: "transaction",
		ResourceID:   txn.ID.String(),
		Details: auditDetails(map[string]any{
			"outcome":               req.Outcome,
			"casino_transaction_id": casinoTxnID,
			"note":                  req.Note,
		}),
		IPAddress: req.ClientIP,
		CreatedAt: now,
	})
	return txn, nil
}

func (s *DepositServiceImpl) acquire(ctx context.Context, id uuid.UUID) (ports.Lease, error) {
	lease, ok, err := s.locker.TryLock(ctx, transferLockKey(id), s.cfg.LeaseTTL)
	if err != nil {
		return nil, apperror.ErrLockUnavailable(err)
	}
	if !ok {
		return nil, apperror.ErrTransactionBusy()
	}
	return lease, nil
}

func (s *DepositServiceImpl) release(ctx context.Context, lease ports.Lease, id uuid.UUID) {
	if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
		s.log.Warn().Err(err).Str("tx_id", id.String()).Msg("failed to release transaction lease")
	}
}

func mapMutateError(err error) error {
	var appErr *apperror.AppError
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, errReviewNotPending):
		return apperror.ErrReviewNotPending()
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrInvariantViolated):
		return apperror.ErrInvalidTransition(err)
	default:
		return apperror.ErrDatabaseError(err)
	}
}

// newPaymentReference returns a unique, time-ordered external correlation id.
func newPaymentReference() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate payment reference: %w", err)
	}
	return "dep_" + strings.ReplaceAll(id.String(), "-", ""), nil
}

func auditDetails(fields map[string]any) string {
	b, err := json.Marshal(fields)
	if err != nil {
		return ""
	}
	return string(b)
}
