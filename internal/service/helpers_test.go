package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"casino-ewallet/config"
	"casino-ewallet/internal/core/domain"
	"casino-ewallet/internal/core/ports"
	"casino-ewallet/pkg/clock"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func testReconcilerConfig() config.ReconcilerConfig {
	return config.ReconcilerConfig{
		Enabled:          true,
		Interval:         time.Minute,
		BatchSize:        50,
		MaxAttempts:      5,
		BackoffBase:      30 * time.Second,
		BackoffMax:       10 * time.Minute,
		LeaderLeaseTTL:   2 * time.Minute,
		TransferLeaseTTL: 45 * time.Second,
		QRRetention:      72 * time.Hour,
	}
}

func testExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		SourceManager: "agent_main",
		CallTimeout:   2 * time.Second,
		LeaseTTL:      45 * time.Second,
		NonceLookup:   true,
	}
}

// mockTx implements pgx.Tx for testing
type mockTx struct{ pgx.Tx }

func (m *mockTx) Rollback(_ context.Context) error { return nil }
func (m *mockTx) Commit(_ context.Context) error   { return nil }

type fakeTransactor struct{}

func (fakeTransactor) Begin(context.Context) (pgx.Tx, error) { return &mockTx{}, nil }

// ==================== In-memory stores ====================

// memTxRepo mirrors the row-locking semantics of the postgres repository:
// Mutate is serialised and rejects results that break the invariants.
type memTxRepo struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*domain.Transaction
}

func newMemTxRepo() *memTxRepo {
	return &memTxRepo{byID: make(map[uuid.UUID]*domain.Transaction)}
}

func (r *memTxRepo) put(t *domain.Transaction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[t.ID] = t.Clone()
}

func (r *memTxRepo) get(id uuid.UUID) *domain.Transaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.byID[id]; ok {
		return t.Clone()
	}
	return nil
}

func (r *memTxRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

func (r *memTxRepo) Create(_ context.Context, _ pgx.Tx, t *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.byID {
		if existing.PaymentReference == t.PaymentReference {
			return fmt.Errorf("duplicate payment reference %s", t.PaymentReference)
		}
	}
	r.byID[t.ID] = t.Clone()
	return nil
}

func (r *memTxRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Transaction, error) {
	return r.get(id), nil
}

func (r *memTxRepo) GetByReference(_ context.Context, reference string) (*domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.byID {
		if t.PaymentReference == reference {
			return t.Clone(), nil
		}
	}
	return nil, nil
}

func (r *memTxRepo) Mutate(_ context.Context, id uuid.UUID, fn ports.MutateFunc) (*domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	working := current.Clone()
	if err := fn(working); err != nil {
		if errors.Is(err, ports.ErrNoChange) {
			return current.Clone(), nil
		}
		return nil, err
	}
	if err := working.CheckInvariants(); err != nil {
		return nil, err
	}
	r.byID[id] = working.Clone()
	return working, nil
}

func (r *memTxRepo) ListAwaitingTransfer(_ context.Context, now time.Time, limit int) ([]domain.Transaction, error) {
	return r.filter(limit, func(t *domain.Transaction) bool {
		next := t.Metadata.NextTransferAttemptAt
		return t.AwaitingTransfer() && !t.Metadata.ManualReview && (next == nil || !next.After(now))
	}), nil
}

func (r *memTxRepo) ListExpirable(_ context.Context, now time.Time, limit int) ([]domain.Transaction, error) {
	return r.filter(limit, func(t *domain.Transaction) bool {
		return t.IsExpiredAt(now)
	}), nil
}

func (r *memTxRepo) List(_ context.Context, params ports.TransactionListParams) ([]domain.Transaction, int64, error) {
	all := r.filter(0, func(t *domain.Transaction) bool {
		if params.UserID != nil && t.UserID != *params.UserID {
			return false
		}
		if params.Status != nil && t.Status != *params.Status {
			return false
		}
		if params.ManualReview != nil && t.Metadata.ManualReview != *params.ManualReview {
			return false
		}
		return true
	})
	return all, int64(len(all)), nil
}

func (r *memTxRepo) filter(limit int, keep func(t *domain.Transaction) bool) []domain.Transaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Transaction
	for _, t := range r.byID {
		if keep(t) {
			out = append(out, *t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

type memQRRepo struct {
	mu     sync.Mutex
	txRepo *memTxRepo
	byTx   map[uuid.UUID]*domain.QRPayment
}

func newMemQRRepo(txRepo *memTxRepo) *memQRRepo {
	return &memQRRepo{txRepo: txRepo, byTx: make(map[uuid.UUID]*domain.QRPayment)}
}

func (r *memQRRepo) Create(_ context.Context, _ pgx.Tx, qr *domain.QRPayment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *qr
	r.byTx[qr.TransactionID] = &c
	return nil
}

func (r *memQRRepo) GetByTransactionID(_ context.Context, id uuid.UUID) (*domain.QRPayment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if qr, ok := r.byTx[id]; ok {
		c := *qr
		return &c, nil
	}
	return nil, nil
}

func (r *memQRRepo) PurgeExpired(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, qr := range r.byTx {
		t := r.txRepo.get(id)
		if t != nil && t.IsTerminal() && qr.ExpiresAt.Before(before) {
			delete(r.byTx, id)
			n++
		}
	}
	return n, nil
}

type memAccounts struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]*domain.CasinoAccount
}

func newMemAccounts() *memAccounts {
	return &memAccounts{accounts: make(map[uuid.UUID]*domain.CasinoAccount)}
}

func (a *memAccounts) add(acct domain.CasinoAccount) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.accounts[acct.UserID] = &acct
}

func (a *memAccounts) GetByUserID(_ context.Context, userID uuid.UUID) (*domain.CasinoAccount, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if acct, ok := a.accounts[userID]; ok {
		c := *acct
		return &c, nil
	}
	return nil, nil
}

// memLocker never expires leases on its own; expire simulates a lapse.
type memLocker struct {
	mu   sync.Mutex
	held map[string]*memLease
}

func newMemLocker() *memLocker {
	return &memLocker{held: make(map[string]*memLease)}
}

func (l *memLocker) TryLock(_ context.Context, key string, _ time.Duration) (ports.Lease, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] != nil {
		return nil, false, nil
	}
	lease := &memLease{locker: l, key: key}
	l.held[key] = lease
	return lease, true, nil
}

func (l *memLocker) expire(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
}

type memLease struct {
	locker *memLocker
	key    string
}

func (m *memLease) Release(context.Context) error {
	m.locker.mu.Lock()
	defer m.locker.mu.Unlock()
	if m.locker.held[m.key] == m {
		delete(m.locker.held, m.key)
	}
	return nil
}

func (m *memLease) Extend(context.Context, time.Duration) (bool, error) {
	m.locker.mu.Lock()
	defer m.locker.mu.Unlock()
	return m.locker.held[m.key] == m, nil
}

type memNonces struct {
	mu   sync.Mutex
	used map[string]bool
}

func newMemNonces() *memNonces {
	return &memNonces{used: make(map[string]bool)}
}

func (n *memNonces) CheckAndSet(_ context.Context, scope, nonce string, _ time.Duration) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	key := scope + ":" + nonce
	if n.used[key] {
		return false, nil
	}
	n.used[key] = true
	return true, nil
}

type memCache struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newMemCache() *memCache {
	return &memCache{seen: make(map[string]bool)}
}

func (c *memCache) Seen(_ context.Context, fp string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seen[fp], nil
}

func (c *memCache) Remember(_ context.Context, fp string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen[fp] = true
	return nil
}

// ==================== External collaborators ====================

var errCasinoTimeout = fmt.Errorf("%w: context deadline exceeded", domain.ErrTransferUncertain)

// fakeCasino answers transfer calls from a script; calls past the script succeed.
type fakeCasino struct {
	mu          sync.Mutex
	script      []error
	calls       []domain.TransferRequest
	delay       time.Duration
	inFlight    int
	maxInFlight int
}

func (c *fakeCasino) Transfer(_ context.Context, req domain.TransferRequest) (*domain.TransferReceipt, error) {
	c.mu.Lock()
	n := len(c.calls)
	c.calls = append(c.calls, req)
	c.inFlight++
	if c.inFlight > c.maxInFlight {
		c.maxInFlight = c.inFlight
	}
	c.mu.Unlock()

	if c.delay > 0 {
		time.Sleep(c.delay)
	}

	c.mu.Lock()
	c.inFlight--
	c.mu.Unlock()

	if n < len(c.script) && c.script[n] != nil {
		return nil, c.script[n]
	}
	return &domain.TransferReceipt{TransactionID: fmt.Sprintf("CX-%d", n+1)}, nil
}

func (c *fakeCasino) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

type fakeGateway struct {
	mu        sync.Mutex
	statuses  map[string]string
	statusErr error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{statuses: make(map[string]string)}
}

func (g *fakeGateway) GenerateQR(_ context.Context, reference string, _ decimal.Decimal, _ string) (*domain.GeneratedQR, error) {
	return &domain.GeneratedQR{
		QRPayload: "00020101021228" + reference,
		PayURL:    "https://pay.example.test/" + reference,
	}, nil
}

func (g *fakeGateway) GetStatus(_ context.Context, reference string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.statusErr != nil {
		return "", g.statusErr
	}
	if s, ok := g.statuses[reference]; ok {
		return s, nil
	}
	return "PENDING", nil
}

func (g *fakeGateway) setStatus(reference, status string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses[reference] = status
}

// ==================== Harness ====================

// harness wires the real executor, gate, deposit service and reconciler over in-memory stores.
type harness struct {
	clock      *clock.Manual
	cfg        config.ReconcilerConfig
	txRepo     *memTxRepo
	qrRepo     *memQRRepo
	accounts   *memAccounts
	locker     *memLocker
	nonces     *memNonces
	cache      *memCache
	casino     *fakeCasino
	gateway    *fakeGateway
	executor   *TransferExecutorImpl
	gate       *WebhookGateImpl
	deposits   *DepositServiceImpl
	reconciler *Reconciler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clock:    clock.NewManual(testStart),
		cfg:      testReconcilerConfig(),
		txRepo:   newMemTxRepo(),
		accounts: newMemAccounts(),
		locker:   newMemLocker(),
		nonces:   newMemNonces(),
		cache:    newMemCache(),
		casino:   &fakeCasino{},
		gateway:  newFakeGateway(),
	}
	h.qrRepo = newMemQRRepo(h.txRepo)
	log := newTestLogger()

	h.executor = NewTransferExecutor(h.txRepo, h.accounts, h.casino, h.locker, h.nonces, nil,
		h.clock, NewRetryPolicy(h.cfg), testExecutorConfig(), log)
	h.gate = NewWebhookGate(h.txRepo, h.executor, h.cache, nil, h.clock, 24*time.Hour, log)
	h.deposits = NewDepositService(h.txRepo, h.qrRepo, fakeTransactor{}, h.gateway, h.gate, h.executor,
		h.locker, NewAuditService(nil, log), h.clock,
		DepositConfig{Currency: "PHP", QRTTL: 15 * time.Minute, LeaseTTL: 45 * time.Second}, log)
	h.reconciler = NewReconciler(h.txRepo, h.qrRepo, h.gateway, h.gate, h.executor, h.locker, nil,
		h.clock, h.cfg, log)
	return h
}

// newPlayer links a casino account for a fresh user.
func (h *harness) newPlayer() uuid.UUID {
	userID := uuid.New()
	casinoName := "cp_" + userID.String()[:8]
	h.accounts.add(domain.CasinoAccount{
		UserID:         userID,
		Username:       "player_" + userID.String()[:8],
		CasinoUsername: &casinoName,
		CasinoClientID: "client-" + userID.String()[:8],
	})
	return userID
}

func (h *harness) createDeposit(t *testing.T, userID uuid.UUID, amount int64) *domain.Transaction {
	t.Helper()
	view, err := h.deposits.CreateDeposit(context.Background(), ports.CreateDepositRequest{
		UserID:   userID,
		Amount:   decimal.NewFromInt(amount),
		Currency: "PHP",
		Method:   domain.PaymentMethodGCashQR,
		ClientIP: "10.0.0.1",
	})
	require.NoError(t, err)
	return view.Transaction
}

// seedPaid stores a deposit whose gateway payment is already confirmed.
func seedPaid(t *testing.T, repo *memTxRepo, userID uuid.UUID, at time.Time) *domain.Transaction {
	t.Helper()
	exp := at.Add(15 * time.Minute)
	txn, err := domain.NewDeposit(userID, seedAmount(), "PHP", domain.PaymentMethodGCashQR,
		"ref_"+uuid.NewString(), &exp, at)
	require.NoError(t, err)
	_, err = txn.ApplyPaymentStatus(domain.PaymentSuccess, "gateway status SUCCESS", at)
	require.NoError(t, err)
	repo.put(txn)
	return txn
}

func historyStatuses(t *domain.Transaction) []domain.TransactionStatus {
	out := make([]domain.TransactionStatus, 0, len(t.StatusHistory))
	for _, h := range t.StatusHistory {
		out = append(out, h.Status)
	}
	return out
}

func successPayload(reference string, amount int64) domain.WebhookPayload {
	a := decimal.NewFromInt(amount)
	return domain.WebhookPayload{
		Reference:     reference,
		Status:        "SUCCESS",
		Amount:        &a,
		ExternalTxnID: "GC-" + reference,
		InvoiceNo:     "INV-" + reference,
		Description:   "GCash payment",
	}
}

func seedAmount() decimal.Decimal {
	return decimal.NewFromInt(100)
}
