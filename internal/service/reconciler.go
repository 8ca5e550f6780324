package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"casino-ewallet/config"
	"casino-ewallet/internal/core/domain"
	"casino-ewallet/internal/core/ports"
	"casino-ewallet/pkg/clock"

	"github.com/rs/zerolog"
)

const (
	leaderLockKey = "reconciler:leader"

	// expiryGrace bounds how long an expired deposit waits on an unreachable gateway.
	expiryGrace   = time.Hour
	statusTimeout = 10 * time.Second

	phaseExpiry    = "expiry"
	phaseTransfers = "transfers"
	phasePurge     = "purge"
)

var errLeadershipLost = errors.New("leader lease lost")

// SweepReport summarises one reconciliation pass.
type SweepReport struct {
	Skipped         bool
	Expired         int
	PaymentsFound   int
	PaymentsFailed  int
	Deferred        int
	TransfersTried  int
	TransfersDone   int
	TransfersFailed int
	ReviewsFlagged  int
	QRPurged        int64
}

// Reconciler resumes deposits stuck between the gateway and the casino.
// Only one sweep runs at a time across all instances.
type Reconciler struct {
	txRepo   ports.TransactionRepository
	qrRepo   ports.QRPaymentRepository
	gateway  ports.PaymentGateway
	gate     ports.WebhookGate
	executor ports.TransferExecutor
	locker   ports.Locker
	metrics  ports.Metrics
	clock    clock.Clock
	cfg      config.ReconcilerConfig
	running  atomic.Bool
	log      zerolog.Logger
}

// NewReconciler creates a new Reconciler.
func NewReconciler(
	txRepo ports.TransactionRepository,
	qrRepo ports.QRPaymentRepository,
	gateway ports.PaymentGateway,
	gate ports.WebhookGate,
	executor ports.TransferExecutor,
	locker ports.Locker,
	metrics ports.Metrics,
	clk clock.Clock,
	cfg config.ReconcilerConfig,
	log zerolog.Logger,
) *Reconciler {
	return &Reconciler{
		txRepo:   txRepo,
		qrRepo:   qrRepo,
		gateway:  gateway,
		gate:     gate,
		executor: executor,
		locker:   locker,
		metrics:  orNopMetrics(metrics),
		clock:    clk,
		cfg:      cfg,
		log:      log,
	}
}

// Start runs a sweep immediately and then every interval until ctx is cancelled.
func (r *Reconciler) Start(ctx context.Context) {
	r.log.Info().Dur("interval", r.cfg.Interval).Msg("reconciler started")

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			r.log.Error().Err(err).Msg("reconciliation sweep failed")
		}
		select {
		case <-ctx.Done():
			r.log.Info().Msg("reconciler stopped")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single sweep if no other sweep holds the leader lease.
func (r *Reconciler) RunOnce(ctx context.Context) (*SweepReport, error) {
	if !r.running.CompareAndSwap(false, true) {
		return &SweepReport{Skipped: true}, nil
	}
	defer r.running.Store(false)

	lease, ok, err := r.locker.TryLock(ctx, leaderLockKey, r.cfg.LeaderLeaseTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire leader lease: %w", err)
	}
	if !ok {
		r.log.Debug().Msg("another instance is sweeping")
		return &SweepReport{Skipped: true}, nil
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			r.log.Warn().Err(err).Msg("failed to release leader lease")
		}
	}()

	held, stop := keepAlive(ctx, lease, r.cfg.LeaderLeaseTTL, r.log)
	defer stop()

	start := r.clock.Now()
	report := &SweepReport{}
	err = r.sweep(held, lease, report)
	r.metrics.ObserveSweep(r.clock.Now().Sub(start), err)

	r.log.Info().
		Int("expired", report.Expired).
		Int("payments_found", report.PaymentsFound).
		Int("transfers_tried", report.TransfersTried).
		Int("transfers_done", report.TransfersDone).
		Int("reviews_flagged", report.ReviewsFlagged).
		Int64("qr_purged", report.QRPurged).
		Dur("elapsed", r.clock.Now().Sub(start)).
		Msg("reconciliation sweep finished")
	return report, err
}

func (r *Reconciler) sweep(ctx context.Context, lease ports.Lease, report *SweepReport) error {
	if err := r.expirePending(ctx, lease, report); err != nil {
		return fmt.Errorf("expiry phase: %w", err)
	}
	if err := r.retryTransfers(ctx, lease, report); err != nil {
		return fmt.Errorf("transfer phase: %w", err)
	}
	if err := r.renewLeadership(ctx, lease); err != nil {
		return fmt.Errorf("purge phase: %w", err)
	}
	if err := r.purgeQR(ctx, report); err != nil {
		return fmt.Errorf("purge phase: %w", err)
	}
	return nil
}

// renewLeadership restarts the leader lease before the next unit of work so a
// long sweep never overlaps another instance's.
func (r *Reconciler) renewLeadership(ctx context.Context, lease ports.Lease) error {
	if err := ctx.Err(); err != nil {
		if leaseLost(ctx) {
			return errLeadershipLost
		}
		return err
	}
	ok, err := lease.Extend(ctx, r.cfg.LeaderLeaseTTL)
	if err != nil {
		return fmt.Errorf("renew leader lease: %w", err)
	}
	if !ok {
		r.log.Error().Msg("leader lease lost, abandoning sweep")
		return errLeadershipLost
	}
	return nil
}

// expirePending closes pending deposits past their QR expiry. The gateway is
// asked first so that a payment whose webhook was lost is still honoured.
func (r *Reconciler) expirePending(ctx context.Context, lease ports.Lease, report *SweepReport) error {
	now := r.clock.Now()
	txns, err := r.txRepo.ListExpirable(ctx, now, r.cfg.BatchSize)
	if err != nil {
		return err
	}

	for i := range txns {
		if err := r.renewLeadership(ctx, lease); err != nil {
			return err
		}
		txn := &txns[i]
		log := r.log.With().Str("tx_id", txn.ID.String()).Str("reference", txn.PaymentReference).Logger()

		if txn.Method == domain.PaymentMethodGCashQR {
			raw, err := r.queryStatus(ctx, txn.PaymentReference)
			if err != nil {
				if txn.ExpiresAt != nil && now.Sub(*txn.ExpiresAt) < expiryGrace {
					log.Warn().Err(err).Msg("gateway status query failed, deferring expiry")
					report.Deferred++
					continue
				}
				log.Warn().Err(err).Msg("gateway unreachable past grace period, expiring")
			} else if status, known := domain.NormalizePaymentStatus(raw); known && status != domain.PaymentPending {
				res, err := r.gate.Ingest(ctx, domain.WebhookPayload{
					Reference:   txn.PaymentReference,
					Status:      raw,
					Description: "gateway status query at expiry",
				})
				if err != nil {
					log.Error().Err(err).Msg("applying queried gateway status failed")
					continue
				}
				if status == domain.PaymentSuccess {
					report.PaymentsFound++
				} else {
					report.PaymentsFailed++
				}
				log.Info().Str("status", string(res.Status)).Msg("gateway status resolved at expiry")
				continue
			}
		}

		updated, err := r.txRepo.Mutate(ctx, txn.ID, func(t *domain.Transaction) error {
			if !t.IsExpiredAt(now) {
				return ports.ErrNoChange
			}
			_, err := t.Transition(domain.StatusExpired, "QR expired without payment", now)
			return err
		})
		if err != nil {
			log.Error().Err(err).Msg("expiring transaction failed")
			continue
		}
		if updated != nil && updated.Status == domain.StatusExpired {
			report.Expired++
			log.Info().Msg("deposit expired")
		}
	}
	r.metrics.ObserveSweepItems(phaseExpiry, report.Expired+report.PaymentsFound+report.PaymentsFailed)
	return nil
}

func (r *Reconciler) queryStatus(ctx context.Context, reference string) (string, error) {
	queryCtx, cancel := context.WithTimeout(ctx, statusTimeout)
	defer cancel()
	return r.gateway.GetStatus(queryCtx, reference)
}

// retryTransfers re-invokes the executor for paid deposits whose backoff has elapsed.
func (r *Reconciler) retryTransfers(ctx context.Context, lease ports.Lease, report *SweepReport) error {
	txns, err := r.txRepo.ListAwaitingTransfer(ctx, r.clock.Now(), r.cfg.BatchSize)
	if err != nil {
		return err
	}

	for i := range txns {
		if err := r.renewLeadership(ctx, lease); err != nil {
			return err
		}
		id := txns[i].ID
		res, err := r.executor.Execute(ctx, id)
		if err != nil {
			r.log.Error().Err(err).Str("tx_id", id.String()).Msg("scheduled transfer failed")
			continue
		}
		report.TransfersTried++
		switch res.Outcome {
		case domain.ResultSucceeded, domain.ResultRecovered:
			report.TransfersDone++
		case domain.ResultRejected, domain.ResultUncertain:
			report.TransfersFailed++
		case domain.ResultBudgetExceeded:
			report.ReviewsFlagged++
		}
	}
	r.metrics.ObserveSweepItems(phaseTransfers, report.TransfersTried)
	return nil
}

func (r *Reconciler) purgeQR(ctx context.Context, report *SweepReport) error {
	if r.cfg.QRRetention <= 0 {
		return nil
	}
	n, err := r.qrRepo.PurgeExpired(ctx, r.clock.Now().Add(-r.cfg.QRRetention))
	if err != nil {
		return err
	}
	report.QRPurged = n
	r.metrics.ObserveSweepItems(phasePurge, int(n))
	return nil
}
