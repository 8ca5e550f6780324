package service

import (
	"context"
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
	nonceScope    = "transfer"
	nonceTTL      = 30 * 24 * time.Hour
	nonceAttempts = 3

	reviewReasonBudget         = "attempt_budget_exceeded"
	reviewReasonNoAccount      = "casino_account_missing"
	reviewReasonAmountMismatch = "amount_mismatch"
)

var errNotEligible = errors.New("transaction not eligible for transfer")

// ExecutorConfig holds the knobs of the transfer executor.
type ExecutorConfig struct {
	SourceManager string
	CallTimeout   time.Duration
	LeaseTTL      time.Duration
	NonceLookup   bool
}

// NewExecutorConfig derives executor settings from application config.
func NewExecutorConfig(cfg *config.Config) ExecutorConfig {
	return ExecutorConfig{
		SourceManager: cfg.Casino.SourceManager,
		CallTimeout:   cfg.Casino.Timeout,
		LeaseTTL:      cfg.Reconciler.TransferLeaseTTL,
		NonceLookup:   cfg.Casino.NonceLookup,
	}
}

// TransferExecutorImpl implements ports.TransferExecutor.
// One Execute call is at most one casino transfer call, guarded by a per-transaction lease.
type TransferExecutorImpl struct {
	txRepo   ports.TransactionRepository
	accounts ports.CasinoAccountRepository
	casino   ports.CasinoClient
	lookup   ports.TransferLookup
	locker   ports.Locker
	nonces   ports.NonceStore
	metrics  ports.Metrics
	clock    clock.Clock
	policy   RetryPolicy
	cfg      ExecutorConfig
	log      zerolog.Logger
}

// NewTransferExecutor creates a new TransferExecutorImpl. Nonce lookup is
// enabled when configured and the casino client implements ports.TransferLookup.
func NewTransferExecutor(
	txRepo ports.TransactionRepository,
	accounts ports.CasinoAccountRepository,
	casino ports.CasinoClient,
	locker ports.Locker,
	nonces ports.NonceStore,
	metrics ports.Metrics,
	clk clock.Clock,
	policy RetryPolicy,
	cfg ExecutorConfig,
	log zerolog.Logger,
) *TransferExecutorImpl {
	e := &TransferExecutorImpl{
		txRepo:   txRepo,
		accounts: accounts,
		casino:   casino,
		locker:   locker,
		nonces:   nonces,
		metrics:  orNopMetrics(metrics),
		clock:    clk,
		policy:   policy,
		cfg:      cfg,
		log:      log,
	}
	if lookup, ok := casino.(ports.TransferLookup); ok && cfg.NonceLookup {
		e.lookup = lookup
	}
	return e
}

func transferLockKey(id uuid.UUID) string {
	return "transfer:" + id.String()
}

// Execute performs one guarded transfer attempt for the transaction.
// Transfer failures are reported in the result; only infrastructure failures return an error.
func (e *TransferExecutorImpl) Execute(ctx context.Context, transactionID uuid.UUID) (*domain.TransferResult, error) {
	start := e.clock.Now()

	lease, ok, err := e.locker.TryLock(ctx, transferLockKey(transactionID), e.cfg.LeaseTTL)
	if err != nil {
		return nil, apperror.ErrLockUnavailable(fmt.Errorf("transfer lease %s: %w", transactionID, err))
	}
	if !ok {
		e.log.Debug().Str("tx_id", transactionID.String()).Msg("transfer already in flight, skipping")
		e.metrics.ObserveTransfer(string(domain.ResultInFlight), 0)
		return &domain.TransferResult{TransactionID: transactionID, Outcome: domain.ResultInFlight}, nil
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			e.log.Warn().Err(err).Str("tx_id", transactionID.String()).Msg("failed to release transfer lease")
		}
	}()

	held, stop := keepAlive(ctx, lease, e.cfg.LeaseTTL, e.log.With().Str("tx_id", transactionID.String()).Logger())
	defer stop()

	result, err := e.execute(held, transactionID, lease)
	if err != nil {
		if leaseLost(held) {
			result = leaseLostResult(transactionID)
			e.metrics.ObserveTransfer(string(result.Outcome), 0)
			return result, nil
		}
		return nil, err
	}
	e.metrics.ObserveTransfer(string(result.Outcome), e.clock.Now().Sub(start))
	return result, nil
}

func (e *TransferExecutorImpl) execute(ctx context.Context, id uuid.UUID, lease ports.Lease) (*domain.TransferResult, error) {
	txn, err := e.txRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("load transaction: %w", err))
	}
	if txn == nil {
		return nil, apperror.ErrNotFound("transaction")
	}
	if reason := ineligibleReason(txn); reason != "" {
		return resultFor(txn, domain.ResultNotEligible, "", reason), nil
	}

	// The executor that started it may still be waiting on the casino.
	if a, live := txn.Metadata.LiveAttempt(e.clock.Now(), e.cfg.LeaseTTL); live {
		e.log.Warn().Str("tx_id", id.String()).Str("nonce", a.Nonce).Msg("previous attempt still in flight, skipping")
		return resultFor(txn, domain.ResultInFlight, a.Nonce, "previous attempt still in flight"), nil
	}

	// Earlier attempts may have landed without us seeing the response.
	if e.lookup != nil && len(txn.Metadata.UnresolvedAttempts()) > 0 {
		res, refreshed, err := e.recoverUnresolved(ctx, txn)
		if err != nil || res != nil {
			return res, err
		}
		txn = refreshed
	}

	if e.policy.Exhausted(txn.Metadata.AttemptsInWindow()) {
		return e.flagReview(ctx, txn, reviewReasonBudget,
			fmt.Sprintf("attempt budget exceeded after %d attempts", txn.Metadata.TransferAttempts),
			domain.ResultBudgetExceeded)
	}

	account, err := e.accounts.GetByUserID(ctx, txn.UserID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("load casino account: %w", err))
	}
	if account == nil {
		return e.flagReview(ctx, txn, reviewReasonNoAccount, "no casino account linked to user", domain.ResultNotEligible)
	}
	username, fallback := account.TransferUsername()
	if fallback {
		e.log.Warn().
			Str("tx_id", id.String()).
			Str("username", username).
			Msg("casino username missing, falling back to wallet username")
	}

	nonce, err := e.reserveNonce(ctx)
	if err != nil {
		return nil, err
	}

	// Restart the lease so the call fits inside it; never call without it.
	if ok, err := lease.Extend(ctx, e.cfg.LeaseTTL); err != nil || !ok {
		e.log.Warn().Err(err).Str("tx_id", id.String()).Msg("transfer lease lost before casino call")
		return leaseLostResult(id), nil
	}

	now := e.clock.Now()
	txn, err = e.txRepo.Mutate(ctx, id, func(t *domain.Transaction) error {
		if ineligibleReason(t) != "" {
			return errNotEligible
		}
		t.Metadata.BeginAttempt(nonce, now)
		t.Metadata.CasinoUsername = username
		t.Metadata.UsernameFallback = fallback
		t.Metadata.NextTransferAttemptAt = nil
		t.CasinoStatus = domain.CasinoPending
		t.UpdatedAt = now
		return nil
	})
	if errors.Is(err, errNotEligible) {
		return &domain.TransferResult{TransactionID: id, Outcome: domain.ResultNotEligible, Error: "state changed before attempt"}, nil
	}
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("record transfer attempt: %w", err))
	}
	if txn == nil {
		return nil, apperror.ErrNotFound("transaction")
	}
	attempt := txn.Metadata.TransferAttempts

	log := e.log.With().
		Str("tx_id", id.String()).
		Str("reference", txn.PaymentReference).
		Str("nonce", nonce).
		Int("attempt", attempt).
		Logger()
	log.Info().Msg("calling casino transfer")

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	receipt, callErr := e.casino.Transfer(callCtx, domain.TransferRequest{
		Amount:              txn.Amount,
		Currency:            txn.Currency,
		DestinationClientID: account.CasinoClientID,
		DestinationUsername: username,
		SourceManager:       e.cfg.SourceManager,
		Comment:             fmt.Sprintf("Deposit %s nonce:%s", txn.PaymentReference, nonce),
		Nonce:               nonce,
	})
	cancel()

	// The outcome must be recorded even if the caller has gone away.
	recordCtx := context.WithoutCancel(ctx)
	if callErr == nil && receipt != nil && receipt.TransactionID != "" {
		return e.recordSuccess(recordCtx, log, id, nonce, receipt.TransactionID)
	}
	if callErr == nil {
		callErr = fmt.Errorf("%w: empty casino transaction id", domain.ErrTransferUncertain)
	}
	return e.recordFailure(recordCtx, log, id, nonce, callErr)
}

func (e *TransferExecutorImpl) recordSuccess(ctx context.Context, log zerolog.Logger, id uuid.UUID, nonce, casinoTxnID string) (*domain.TransferResult, error) {
	now := e.clock.Now()
	txn, err := e.txRepo.Mutate(ctx, id, func(t *domain.Transaction) error {
		t.Metadata.FinishAttempt(nonce, domain.TransferSucceeded, "", casinoTxnID, now)
		return completeTransfer(t, casinoTxnID, now, "casino transfer completed")
	})
	if err != nil || txn == nil {
		// The casino has the money; the in-flight attempt record lets a later lookup recover it.
		log.Error().Err(err).Str("casino_txn_id", casinoTxnID).Msg("casino transfer succeeded but recording failed")
		return nil, apperror.ErrDatabaseError(fmt.Errorf("record transfer success: %w", err))
	}
	log.Info().Str("casino_txn_id", casinoTxnID).Msg("casino transfer completed")
	return resultFor(txn, domain.ResultSucceeded, nonce, ""), nil
}

func (e *TransferExecutorImpl) recordFailure(ctx context.Context, log zerolog.Logger, id uuid.UUID, nonce string, callErr error) (*domain.TransferResult, error) {
	outcome := domain.TransferUncertain
	resultOutcome := domain.ResultUncertain
	if errors.Is(callErr, domain.ErrTransferRejected) {
		outcome = domain.TransferRejected
		resultOutcome = domain.ResultRejected
	}
	errMsg := callErr.Error()
	now := e.clock.Now()
	flagged := false

	txn, err := e.txRepo.Mutate(ctx, id, func(t *domain.Transaction) error {
		t.Metadata.FinishAttempt(nonce, outcome, errMsg, "", now)
		t.CasinoStatus = domain.CasinoFailed
		next := e.policy.NextAttemptAt(t.Metadata.AttemptsInWindow(), now)
		t.Metadata.NextTransferAttemptAt = &next
		t.AppendNote(fmt.Sprintf("casino transfer attempt %d %s: %s", t.Metadata.TransferAttempts, outcome, errMsg), now)
		if e.policy.Exhausted(t.Metadata.AttemptsInWindow()) {
			t.Metadata.FlagReview(reviewReasonBudget)
			flagged = true
		}
		return nil
	})
	if err != nil || txn == nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("record transfer failure: %w", err))
	}

	ev := log.Warn()
	if outcome == domain.TransferUncertain {
		ev = log.Error()
	}
	ev.Err(callErr).Str("outcome", string(outcome)).Msg("casino transfer failed")
	if flagged {
		e.metrics.ObserveManualReview(reviewReasonBudget)
		log.Warn().Msg("attempt budget exhausted, flagged for manual review")
	}
	return resultFor(txn, resultOutcome, nonce, errMsg), nil
}

// recoverUnresolved asks the casino whether uncertain attempts landed. It returns a
// result when the transfer was found or the lookup could not be completed.
func (e *TransferExecutorImpl) recoverUnresolved(ctx context.Context, txn *domain.Transaction) (*domain.TransferResult, *domain.Transaction, error) {
	for _, nonce := range txn.Metadata.UnresolvedAttempts() {
		lookupCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		receipt, found, err := e.lookup.FindTransferByNonce(lookupCtx, nonce)
		cancel()

		log := e.log.With().Str("tx_id", txn.ID.String()).Str("nonce", nonce).Logger()
		if err != nil {
			// A blind retry could double-credit; wait for the lookup to work again.
			log.Warn().Err(err).Msg("transfer lookup failed, deferring retry")
			now := e.clock.Now()
			updated, mErr := e.txRepo.Mutate(ctx, txn.ID, func(t *domain.Transaction) error {
				next := e.policy.NextAttemptAt(max(t.Metadata.AttemptsInWindow(), 1), now)
				t.Metadata.NextTransferAttemptAt = &next
				t.Metadata.LastTransferError = "transfer lookup failed: " + err.Error()
				t.UpdatedAt = now
				return nil
			})
			if mErr != nil || updated == nil {
				return nil, nil, apperror.ErrDatabaseError(fmt.Errorf("defer after lookup failure: %w", mErr))
			}
			return resultFor(updated, domain.ResultUncertain, nonce, err.Error()), nil, nil
		}

		now := e.clock.Now()
		if found && receipt != nil {
			updated, mErr := e.txRepo.Mutate(ctx, txn.ID, func(t *domain.Transaction) error {
				t.Metadata.FinishAttempt(nonce, domain.TransferRecovered, "", receipt.TransactionID, now)
				return completeTransfer(t, receipt.TransactionID, now, "casino transfer recovered by nonce lookup")
			})
			if mErr != nil || updated == nil {
				return nil, nil, apperror.ErrDatabaseError(fmt.Errorf("record recovered transfer: %w", mErr))
			}
			log.Info().Str("casino_txn_id", receipt.TransactionID).Msg("uncertain transfer found at casino")
			return resultFor(updated, domain.ResultRecovered, nonce, ""), nil, nil
		}

		updated, mErr := e.txRepo.Mutate(ctx, txn.ID, func(t *domain.Transaction) error {
			t.Metadata.FinishAttempt(nonce, domain.TransferRejected, "not found in casino transfer history", "", now)
			t.UpdatedAt = now
			return nil
		})
		if mErr != nil || updated == nil {
			return nil, nil, apperror.ErrDatabaseError(fmt.Errorf("resolve uncertain attempt: %w", mErr))
		}
		log.Info().Msg("uncertain transfer not found at casino")
		txn = updated
	}
	return nil, txn, nil
}

func (e *TransferExecutorImpl) flagReview(ctx context.Context, txn *domain.Transaction, reason, note string, outcome domain.TransferResultOutcome) (*domain.TransferResult, error) {
	now := e.clock.Now()
	updated, err := e.txRepo.Mutate(ctx, txn.ID, func(t *domain.Transaction) error {
		if t.Metadata.ManualReview {
			return ports.ErrNoChange
		}
		t.Metadata.FlagReview(reason)
		t.AppendNote(note, now)
		return nil
	})
	if err != nil || updated == nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("flag manual review: %w", err))
	}
	e.metrics.ObserveManualReview(reason)
	e.log.Warn().Str("tx_id", txn.ID.String()).Str("reason", reason).Msg("transaction flagged for manual review")
	return resultFor(updated, outcome, "", note), nil
}

func (e *TransferExecutorImpl) reserveNonce(ctx context.Context) (string, error) {
	for i := 0; i < nonceAttempts; i++ {
		nonce, err := newNonce()
		if err != nil {
			return "", apperror.InternalError(err)
		}
		ok, err := e.nonces.CheckAndSet(ctx, nonceScope, nonce, nonceTTL)
		if err != nil {
			return "", apperror.ErrLockUnavailable(fmt.Errorf("reserve nonce: %w", err))
		}
		if ok {
			return nonce, nil
		}
	}
	return "", apperror.InternalError(fmt.Errorf("could not reserve a unique transfer nonce"))
}

// newNonce returns a time-ordered random token.
func newNonce() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	return strings.ReplaceAll(id.String(), "-", ""), nil
}

// completeTransfer marks the casino side done and closes the transaction.
func completeTransfer(t *domain.Transaction, casinoTxnID string, at time.Time, note string) error {
	t.CasinoStatus = domain.CasinoCompleted
	t.Metadata.CasinoTransactionID = casinoTxnID
	completedAt := at
	t.Metadata.CasinoCompletedAt = &completedAt
	t.Metadata.NextTransferAttemptAt = nil
	t.Metadata.LastTransferError = ""
	if _, err := t.Transition(domain.StatusCompleted, note, at); err != nil {
		return fmt.Errorf("complete transaction: %w", err)
	}
	return nil
}

func ineligibleReason(t *domain.Transaction) string {
	if !t.AwaitingTransfer() {
		return fmt.Sprintf("status=%s casino_status=%s", t.Status, t.CasinoStatus)
	}
	if t.Metadata.ManualReview {
		return "under manual review: " + t.Metadata.ManualReviewReason
	}
	return ""
}

func leaseLostResult(id uuid.UUID) *domain.TransferResult {
	return &domain.TransferResult{TransactionID: id, Outcome: domain.ResultInFlight, Error: "transfer lease lost"}
}

func resultFor(t *domain.Transaction, outcome domain.TransferResultOutcome, nonce, errMsg string) *domain.TransferResult {
	return &domain.TransferResult{
		TransactionID:       t.ID,
		Outcome:             outcome,
		Attempt:             t.Metadata.TransferAttempts,
		Nonce:               nonce,
		CasinoTransactionID: t.Metadata.CasinoTransactionID,
		Error:               errMsg,
		Status:              t.Status,
		CasinoStatus:        t.CasinoStatus,
	}
}
