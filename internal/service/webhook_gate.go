package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"casino-ewallet/internal/core/domain"
	"casino-ewallet/internal/core/ports"
	"casino-ewallet/pkg/apperror"
	"casino-ewallet/pkg/clock"

	"github.com/rs/zerolog"
)

const (
	webhookCached           = "cached"
	webhookUnknownReference = "unknown_reference"
	webhookLateSuccess      = "late_success"
	reviewReasonLatePayment = "late_payment"
)

// WebhookGateImpl implements ports.WebhookGate.
type WebhookGateImpl struct {
	txRepo   ports.TransactionRepository
	executor ports.TransferExecutor
	cache    ports.WebhookCache
	metrics  ports.Metrics
	clock    clock.Clock
	dedupTTL time.Duration
	log      zerolog.Logger
}

// NewWebhookGate creates a new WebhookGateImpl. cache may be nil.
func NewWebhookGate(
	txRepo ports.TransactionRepository,
	executor ports.TransferExecutor,
	cache ports.WebhookCache,
	metrics ports.Metrics,
	clk clock.Clock,
	dedupTTL time.Duration,
	log zerolog.Logger,
) *WebhookGateImpl {
	return &WebhookGateImpl{
		txRepo:   txRepo,
		executor: executor,
		cache:    cache,
		metrics:  orNopMetrics(metrics),
		clock:    clk,
		dedupTTL: dedupTTL,
		log:      log,
	}
}

// Ingest applies one gateway callback. Transfer failures never surface as errors;
// only unresolvable references, bad payloads and storage failures do.
func (g *WebhookGateImpl) Ingest(ctx context.Context, payload domain.WebhookPayload) (*domain.WebhookResult, error) {
	payload.Reference = strings.TrimSpace(payload.Reference)
	if payload.Reference == "" {
		return nil, apperror.ErrWebhookPayload("reference is required")
	}
	if strings.TrimSpace(payload.Status) == "" {
		return nil, apperror.ErrWebhookPayload("status is required")
	}

	fingerprint := payload.Fingerprint()
	log := g.log.With().
		Str("reference", payload.Reference).
		Str("raw_status", payload.Status).
		Logger()

	// Layer 1: Redis fast path for exact re-deliveries
	if g.cache != nil {
		seen, err := g.cache.Seen(ctx, fingerprint)
		if err != nil {
			log.Warn().Err(err).Msg("webhook cache check failed, falling through to DB")
		}
		if seen {
			log.Debug().Msg("webhook already processed")
			g.metrics.ObserveWebhook(webhookCached)
			return &domain.WebhookResult{Accepted: true, Duplicate: true, Effect: domain.PaymentEffectDuplicate}, nil
		}
	}

	txn, err := g.txRepo.GetByReference(ctx, payload.Reference)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("lookup reference: %w", err))
	}
	if txn == nil {
		g.metrics.ObserveWebhook(webhookUnknownReference)
		log.Warn().Msg("webhook for unknown payment reference")
		return nil, apperror.ErrUnknownReference(payload.Reference)
	}
	log = log.With().Str("tx_id", txn.ID.String()).Logger()

	status, known := domain.NormalizePaymentStatus(payload.Status)
	if !known {
		log.Warn().Msg("unrecognized gateway status, ignoring")
		g.metrics.ObserveWebhook(string(domain.PaymentEffectUnrecognized))
		return resultFromTxn(txn, domain.PaymentEffectUnrecognized), nil
	}

	if txn.IsTerminal() {
		return g.ingestTerminal(log, txn, status), nil
	}

	now := g.clock.Now()
	var (
		effect   domain.PaymentEffect
		mismatch bool
	)
	updated, err := g.txRepo.Mutate(ctx, txn.ID, func(t *domain.Transaction) error {
		if t.IsTerminal() {
			effect = domain.PaymentEffectTerminal
			return ports.ErrNoChange
		}
		recorded := t.Metadata.RecordWebhook(webhookAudit(payload, fingerprint, status, now))

		note := "gateway status " + strings.ToUpper(strings.TrimSpace(payload.Status))
		mismatch = status == domain.PaymentSuccess && payload.Amount != nil && !payload.Amount.Equal(t.Amount)
		if mismatch {
			note = fmt.Sprintf("%s; amount mismatch: gateway=%s ledger=%s", note, payload.Amount.String(), t.Amount.String())
		}

		eff, err := t.ApplyPaymentStatus(status, note, now)
		if err != nil {
			return err
		}
		effect = eff
		if eff == domain.PaymentEffectConfirmed {
			if payload.ExternalTxnID != "" {
				t.Metadata.GatewayTransactionID = payload.ExternalTxnID
			}
			if mismatch {
				t.Metadata.FlagReview(reviewReasonAmountMismatch)
			}
		}
		if !recorded && !eff.Changed() {
			return ports.ErrNoChange
		}
		t.UpdatedAt = now
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrInvariantViolated) {
			return nil, apperror.ErrInvalidTransition(err)
		}
		return nil, apperror.ErrDatabaseError(fmt.Errorf("apply webhook: %w", err))
	}
	if updated == nil {
		return nil, apperror.ErrUnknownReference(payload.Reference)
	}

	g.remember(ctx, log, fingerprint)
	g.metrics.ObserveWebhook(string(effect))

	switch effect {
	case domain.PaymentEffectDuplicate:
		log.Debug().Msg("duplicate gateway status")
	case domain.PaymentEffectStale:
		log.Info().Str("gcash_status", string(updated.GCashStatus)).Msg("stale gateway status ignored")
	case domain.PaymentEffectFailed:
		log.Info().Msg("gateway reported payment failure")
	case domain.PaymentEffectConfirmed:
		log.Info().Msg("gateway payment confirmed")
	}

	res := resultFromTxn(updated, effect)
	if effect == domain.PaymentEffectTerminal {
		// Closed between the lookup and the row lock.
		res.Duplicate = status == updated.GCashStatus
	}
	if effect != domain.PaymentEffectConfirmed {
		return res, nil
	}
	if mismatch {
		g.metrics.ObserveManualReview(reviewReasonAmountMismatch)
		log.Warn().Msg("amount mismatch, transfer held for manual review")
		return res, nil
	}

	// Synchronous credit for the common case; the reconciler retries anything left over.
	transfer, err := g.executor.Execute(context.WithoutCancel(ctx), updated.ID)
	if err != nil {
		log.Error().Err(err).Msg("transfer after payment confirmation failed")
		return res, nil
	}
	log.Info().Str("outcome", string(transfer.Outcome)).Int("attempt", transfer.Attempt).Msg("transfer after payment confirmation")
	if transfer.Status != "" {
		res.Status = transfer.Status
	}
	return res, nil
}

// ingestTerminal accepts callbacks for closed transactions without touching them.
// A success arriving after the deposit was closed means money is on hand, so it
// is raised to operators through logs and metrics.
func (g *WebhookGateImpl) ingestTerminal(log zerolog.Logger, txn *domain.Transaction, status domain.PaymentStatus) *domain.WebhookResult {
	if status == domain.PaymentSuccess && txn.GCashStatus != domain.PaymentSuccess {
		log.Error().Str("status", string(txn.Status)).Msg("late gateway success on closed transaction, operator action required")
		g.metrics.ObserveWebhook(webhookLateSuccess)
		g.metrics.ObserveManualReview(reviewReasonLatePayment)
		return resultFromTxn(txn, domain.PaymentEffectTerminal)
	}
	log.Info().Str("status", string(txn.Status)).Msg("webhook for terminal transaction, no change")
	g.metrics.ObserveWebhook(string(domain.PaymentEffectTerminal))
	res := resultFromTxn(txn, domain.PaymentEffectTerminal)
	res.Duplicate = status == txn.GCashStatus
	return res
}

func (g *WebhookGateImpl) remember(ctx context.Context, log zerolog.Logger, fingerprint string) {
	if g.cache == nil {
		return
	}
	if err := g.cache.Remember(ctx, fingerprint, g.dedupTTL); err != nil {
		log.Warn().Err(err).Msg("failed to cache webhook fingerprint")
	}
}

func webhookAudit(p domain.WebhookPayload, fingerprint string, status domain.PaymentStatus, at time.Time) domain.WebhookAudit {
	audit := domain.WebhookAudit{
		Fingerprint:      fingerprint,
		ReceivedAt:       at,
		RawStatus:        p.Status,
		NormalizedStatus: status,
		InvoiceNo:        p.InvoiceNo,
		ExternalTxnID:    p.ExternalTxnID,
		Description:      p.Description,
	}
	if p.Amount != nil {
		audit.Amount = p.Amount.String()
	}
	return audit
}

func resultFromTxn(t *domain.Transaction, effect domain.PaymentEffect) *domain.WebhookResult {
	return &domain.WebhookResult{
		Accepted:      true,
		Duplicate:     effect == domain.PaymentEffectDuplicate,
		TransactionID: t.ID,
		Status:        t.Status,
		GCashStatus:   t.GCashStatus,
		Effect:        effect,
	}
}
