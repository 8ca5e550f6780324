package service

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"casino-ewallet/internal/core/domain"
	"casino-ewallet/internal/core/ports"
	"casino-ewallet/pkg/apperror"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenario_PaymentThenImmediateCredit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	txn := h.createDeposit(t, h.newPlayer(), 100)

	res, err := h.gate.Ingest(ctx, successPayload(txn.PaymentReference, 100))
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, domain.StatusCompleted, res.Status)

	stored := h.txRepo.get(txn.ID)
	assert.Equal(t, domain.StatusCompleted, stored.Status)
	assert.Equal(t, domain.PaymentSuccess, stored.GCashStatus)
	assert.Equal(t, domain.CasinoCompleted, stored.CasinoStatus)
	assert.Equal(t, "CX-1", stored.Metadata.CasinoTransactionID)
	assert.NotNil(t, stored.Metadata.CasinoCompletedAt)
	assert.Equal(t, "GC-"+txn.PaymentReference, stored.Metadata.GatewayTransactionID)
	assert.Equal(t, []domain.TransactionStatus{
		domain.StatusPending, domain.StatusPaymentCompleted, domain.StatusCompleted,
	}, historyStatuses(stored))

	require.Equal(t, 1, h.casino.callCount())
	req := h.casino.calls[0]
	assert.True(t, req.Amount.Equal(txn.Amount))
	assert.Equal(t, "PHP", req.Currency)
	assert.Equal(t, "agent_main", req.SourceManager)
	assert.Equal(t, stored.Metadata.TransferNonce, req.Nonce)
	assert.Contains(t, req.Comment, "nonce:"+req.Nonce)
	assert.Contains(t, req.Comment, txn.PaymentReference)
}

func TestScenario_TimeoutsThenScheduledSuccess(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.casino.script = []error{errCasinoTimeout, errCasinoTimeout, errCasinoTimeout}
	txn := h.createDeposit(t, h.newPlayer(), 100)

	res, err := h.gate.Ingest(ctx, successPayload(txn.PaymentReference, 100))
	require.NoError(t, err, "transfer failure must not fail the webhook")
	assert.Equal(t, domain.StatusPaymentCompleted, res.Status)

	stored := h.txRepo.get(txn.ID)
	assert.Equal(t, domain.CasinoFailed, stored.CasinoStatus)
	require.NotNil(t, stored.Metadata.NextTransferAttemptAt)

	// Backoff has not elapsed yet.
	report, err := h.reconciler.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.TransfersTried)

	for i := 0; i < 3; i++ {
		h.clock.Advance(h.cfg.BackoffMax)
		report, err = h.reconciler.RunOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, report.TransfersTried)
	}

	stored = h.txRepo.get(txn.ID)
	assert.Equal(t, domain.StatusCompleted, stored.Status)
	assert.Equal(t, domain.CasinoCompleted, stored.CasinoStatus)
	require.Len(t, stored.Metadata.TransferAttemptDetails, 4)
	assert.Equal(t, 4, stored.Metadata.TransferAttempts)
	assert.LessOrEqual(t, stored.Metadata.TransferAttempts, h.cfg.MaxAttempts)

	outcomes := make([]domain.TransferOutcome, 0, 4)
	nonces := make(map[string]bool)
	for _, a := range stored.Metadata.TransferAttemptDetails {
		outcomes = append(outcomes, a.Outcome)
		nonces[a.Nonce] = true
	}
	assert.Equal(t, []domain.TransferOutcome{
		domain.TransferUncertain, domain.TransferUncertain, domain.TransferUncertain, domain.TransferSucceeded,
	}, outcomes)
	assert.Len(t, nonces, 4, "every attempt carries a fresh nonce")
	assert.False(t, stored.Metadata.ManualReview)
}

func TestScenario_UnknownReference(t *testing.T) {
	h := newHarness(t)
	before := h.txRepo.count()

	_, err := h.gate.Ingest(context.Background(), successPayload("ref_doesnotexist", 100))
	require.Error(t, err)
	assert.True(t, apperror.HasCode(err, "WHK_003"))
	assert.Equal(t, before, h.txRepo.count())
	assert.Equal(t, 0, h.casino.callCount())
}

func TestScenario_DuplicateSuccessWebhook(t *testing.T) {
	for _, withCache := range []bool{true, false} {
		name := "with cache"
		if !withCache {
			name = "without cache"
		}
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			if !withCache {
				h.gate.cache = nil
			}
			ctx := context.Background()
			txn := h.createDeposit(t, h.newPlayer(), 100)
			payload := successPayload(txn.PaymentReference, 100)

			_, err := h.gate.Ingest(ctx, payload)
			require.NoError(t, err)
			first := h.txRepo.get(txn.ID)

			res, err := h.gate.Ingest(ctx, payload)
			require.NoError(t, err)
			assert.True(t, res.Accepted)
			assert.True(t, res.Duplicate)

			second := h.txRepo.get(txn.ID)
			assert.Len(t, second.StatusHistory, len(first.StatusHistory))
			assert.Len(t, second.Metadata.Webhooks, 1)
			assert.Equal(t, 1, h.casino.callCount())
		})
	}
}

func TestScenario_QRExpiresWithoutPayment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	txn := h.createDeposit(t, h.newPlayer(), 100)

	h.clock.Advance(16 * time.Minute)
	report, err := h.reconciler.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Expired)

	stored := h.txRepo.get(txn.ID)
	assert.Equal(t, domain.StatusExpired, stored.Status)
	assert.Equal(t, domain.PaymentPending, stored.GCashStatus)
	assert.Equal(t, 0, stored.Metadata.TransferAttempts)
	assert.Equal(t, 0, h.casino.callCount())

	// A second sweep finds nothing more to do.
	report, err = h.reconciler.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Expired)
	assert.Equal(t, 0, h.casino.callCount())
}

func TestProperty_WebhookSequences(t *testing.T) {
	vocab := []string{"SUCCESS", "PAID", "PENDING", "PROCESSING", "FAILED", "CANCELLED", "success", "REFUND_HOLD"}
	rng := rand.New(rand.NewSource(7))

	for run := 0; run < 200; run++ {
		h := newHarness(t)
		if run%2 == 0 {
			h.gate.cache = nil
		}
		ctx := context.Background()
		txn := h.createDeposit(t, h.newPlayer(), 100)

		var expected domain.PaymentStatus = domain.PaymentPending
		n := 1 + rng.Intn(8)
		for i := 0; i < n; i++ {
			raw := vocab[rng.Intn(len(vocab))]
			payload := domain.WebhookPayload{Reference: txn.PaymentReference, Status: raw}
			// Redeliver some events to exercise idempotence.
			repeats := 1 + rng.Intn(3)
			for r := 0; r < repeats; r++ {
				_, err := h.gate.Ingest(ctx, payload)
				require.NoError(t, err)
			}
			if ps, ok := domain.NormalizePaymentStatus(raw); ok && expected == domain.PaymentPending && ps != domain.PaymentPending {
				expected = ps
			}
		}

		stored := h.txRepo.get(txn.ID)
		require.Equal(t, expected, stored.GCashStatus, "run %d", run)
		for i := 1; i < len(stored.StatusHistory); i++ {
			require.NotEqual(t, stored.StatusHistory[i-1].Status, stored.StatusHistory[i].Status,
				"run %d: consecutive identical history entries", run)
		}
		require.NoError(t, stored.CheckInvariants())
		require.LessOrEqual(t, h.casino.callCount(), 1)
		if expected == domain.PaymentSuccess {
			require.Equal(t, domain.StatusCompleted, stored.Status)
		}
	}
}

func TestConcurrency_RetryAndSweepNeverOverlap(t *testing.T) {
	h := newHarness(t)
	h.casino.delay = 20 * time.Millisecond
	txn := seedPaid(t, h.txRepo, h.newPlayer(), h.clock.Now())

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, _ = h.deposits.RetryTransfer(context.Background(), ports.RetryTransferRequest{
					TransactionID: txn.ID,
					ActorID:       uuid.New(),
				})
				return
			}
			_, _ = h.reconciler.RunOnce(context.Background())
		}(i)
	}
	wg.Wait()

	stored := h.txRepo.get(txn.ID)
	assert.Equal(t, domain.StatusCompleted, stored.Status)
	assert.Equal(t, 1, h.casino.callCount(), "exactly one casino call for one deposit")
	assert.Equal(t, 1, h.casino.maxInFlight)

	succeeded := 0
	for _, a := range stored.Metadata.TransferAttemptDetails {
		if a.Outcome == domain.TransferSucceeded {
			succeeded++
		}
	}
	assert.Equal(t, 1, succeeded)
}

func TestConcurrency_DuplicateWebhookStorm(t *testing.T) {
	h := newHarness(t)
	h.casino.delay = 10 * time.Millisecond
	txn := h.createDeposit(t, h.newPlayer(), 100)
	payload := successPayload(txn.PaymentReference, 100)

	const deliveries = 25
	var wg sync.WaitGroup
	var accepted, duplicates, failed atomic.Int64

	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.gate.Ingest(context.Background(), payload)
			if err != nil {
				failed.Add(1)
				return
			}
			if res.Accepted {
				accepted.Add(1)
			}
			if res.Duplicate {
				duplicates.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(0), failed.Load())
	assert.Equal(t, int64(deliveries), accepted.Load(), "every delivery is acknowledged")
	assert.Equal(t, int64(deliveries-1), duplicates.Load())

	stored := h.txRepo.get(txn.ID)
	assert.Equal(t, domain.StatusCompleted, stored.Status)
	assert.Len(t, stored.Metadata.Webhooks, 1)
	assert.Equal(t, 1, h.casino.callCount(), "one payment, one credit")
}

func TestScenario_LateSuccessOnExpiredDeposit(t *testing.T) {
	h := newHarness(t)
	h.gate.cache = nil
	ctx := context.Background()
	txn := h.createDeposit(t, h.newPlayer(), 100)

	h.clock.Advance(20 * time.Minute)
	_, err := h.reconciler.RunOnce(ctx)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		res, err := h.gate.Ingest(ctx, successPayload(txn.PaymentReference, 100))
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentEffectTerminal, res.Effect)
	}

	stored := h.txRepo.get(txn.ID)
	assert.Equal(t, domain.StatusExpired, stored.Status)
	assert.Equal(t, domain.PaymentPending, stored.GCashStatus)
	assert.Equal(t, []domain.TransactionStatus{domain.StatusPending, domain.StatusExpired}, historyStatuses(stored))
	assert.Empty(t, stored.Metadata.Webhooks)
	assert.Equal(t, 0, h.casino.callCount())
}
