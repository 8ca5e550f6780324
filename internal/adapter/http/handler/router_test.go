package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"casino-ewallet/config"
	redisStore "casino-ewallet/internal/adapter/storage/redis"
	"casino-ewallet/internal/core/domain"
	"casino-ewallet/internal/core/ports"
	"casino-ewallet/internal/core/ports/mocks"
	"casino-ewallet/internal/service"
	"casino-ewallet/pkg/clock"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const testWebhookSecret = "whsec_test"

type routerTestDeps struct {
	svc    *mocks.MockDepositService
	audit  *mocks.MockAuditService
	tokens *service.JWTTokenService
	sigs   *service.HMACSignatureService
	deps   RouterDeps
}

func setupRouter(t *testing.T) *routerTestDeps {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	d := &routerTestDeps{
		svc:    mocks.NewMockDepositService(ctrl),
		audit:  mocks.NewMockAuditService(ctrl),
		tokens: service.NewJWTTokenService("jwt-test-secret", time.Hour, "casino-ewallet"),
		sigs:   service.NewHMACSignatureService(),
	}
	d.deps = RouterDeps{
		DepositSvc:     d.svc,
		SigSvc:         d.sigs,
		TokenSvc:       d.tokens,
		RateLimitStore: redisStore.NewRateLimitStore(client, clock.RealClock{}),
		RateLimits: config.RateLimitConfig{
			Enabled:           true,
			DepositsPerMinute: 2,
			ReadsPerMinute:    100,
			OpsPerMinute:      100,
		},
		AuditSvc:    d.audit,
		MetricsPath: "/metrics",
		Webhook: config.WebhookConfig{
			Secret:          testWebhookSecret,
			SignatureHeader: "X-Signature",
			MaxBodyBytes:    4096,
		},
		Logger: zerolog.Nop(),
	}
	return d
}

func (d *routerTestDeps) token(t *testing.T, userID uuid.UUID, role string) string {
	t.Helper()
	tok, _, err := d.tokens.Generate(userID, "tester", role)
	require.NoError(t, err)
	return tok
}

func serve(r http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestRouter_PublicEndpoints(t *testing.T) {
	d := setupRouter(t)
	d.deps.MetricsHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("cew_webhooks_total 1\n"))
	})
	r := SetupRouter(d.deps)

	w := serve(r, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = serve(r, http.MethodGet, "/swagger/spec", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "/webhooks/gateway")

	w = serve(r, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "cew_webhooks_total")
}

func TestRouter_WebhookRequiresSignature(t *testing.T) {
	d := setupRouter(t)
	r := SetupRouter(d.deps)
	body := `{"reference":"GC-REF-1","status":"SUCCESS"}`

	d.audit.EXPECT().Log(gomock.Any(), gomock.Any()).
		Do(func(_ context.Context, entry *domain.AuditLog) {
			assert.Equal(t, domain.AuditActionAccessDenied, entry.Action)
		}).Times(2)

	w := serve(r, http.MethodPost, "/api/v1/webhooks/gateway", body, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = serve(r, http.MethodPost, "/api/v1/webhooks/gateway", body, map[string]string{"X-Signature": "deadbeef"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	d.svc.EXPECT().IngestWebhook(gomock.Any(), gomock.Any()).
		Return(&domain.WebhookResult{Accepted: true, Effect: domain.PaymentEffectConfirmed}, nil)
	w = serve(r, http.MethodPost, "/api/v1/webhooks/gateway", body,
		map[string]string{"X-Signature": "sha256=" + d.sigs.Sign(testWebhookSecret, body)})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_DepositsRequireToken(t *testing.T) {
	d := setupRouter(t)
	r := SetupRouter(d.deps)

	w := serve(r, http.MethodGet, "/api/v1/deposits", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = serve(r, http.MethodGet, "/api/v1/deposits", "", map[string]string{"Authorization": "Bearer garbage"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	playerID := uuid.New()
	d.svc.EXPECT().ListTransactions(gomock.Any(), gomock.Any()).Return(nil, int64(0), nil)
	w = serve(r, http.MethodGet, "/api/v1/deposits", "",
		map[string]string{"Authorization": "Bearer " + d.token(t, playerID, ports.RolePlayer)})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_OpsRequireOperatorRole(t *testing.T) {
	d := setupRouter(t)
	r := SetupRouter(d.deps)
	txnID := uuid.New()
	path := "/api/v1/ops/transactions/" + txnID.String() + "/retry"

	d.audit.EXPECT().Log(gomock.Any(), gomock.Any()).
		Do(func(_ context.Context, entry *domain.AuditLog) {
			assert.Equal(t, domain.AuditActionAccessDenied, entry.Action)
			assert.Equal(t, txnID.String(), entry.ResourceID)
		})
	w := serve(r, http.MethodPost, path, "",
		map[string]string{"Authorization": "Bearer " + d.token(t, uuid.New(), ports.RolePlayer)})
	assert.Equal(t, http.StatusForbidden, w.Code)

	d.svc.EXPECT().RetryTransfer(gomock.Any(), gomock.Any()).
		Return(&domain.TransferResult{TransactionID: txnID, Outcome: domain.ResultSucceeded}, nil)
	w = serve(r, http.MethodPost, path, "",
		map[string]string{"Authorization": "Bearer " + d.token(t, uuid.New(), ports.RoleOperator)})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_DepositCreationIsRateLimited(t *testing.T) {
	d := setupRouter(t)
	r := SetupRouter(d.deps)
	playerID := uuid.New()
	auth := map[string]string{"Authorization": "Bearer " + d.token(t, playerID, ports.RolePlayer)}
	body := `{"amount":"100","method":"manual"}`

	d.svc.EXPECT().CreateDeposit(gomock.Any(), gomock.Any()).
		Return(&ports.DepositView{Transaction: newTestTxn(playerID, domain.StatusPending)}, nil).Times(2)

	for i := 0; i < 2; i++ {
		w := serve(r, http.MethodPost, "/api/v1/deposits", body, auth)
		require.Equal(t, http.StatusCreated, w.Code, "request %d", i+1)
	}
	w := serve(r, http.MethodPost, "/api/v1/deposits", body, auth)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "RATE_001", errorCode(t, w))

	// Another player has their own budget.
	otherID := uuid.New()
	d.svc.EXPECT().CreateDeposit(gomock.Any(), gomock.Any()).
		Return(&ports.DepositView{Transaction: newTestTxn(otherID, domain.StatusPending)}, nil)
	w = serve(r, http.MethodPost, "/api/v1/deposits", body,
		map[string]string{"Authorization": "Bearer " + d.token(t, otherID, ports.RolePlayer)})
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestRouter_RateLimitingDisabled(t *testing.T) {
	d := setupRouter(t)
	d.deps.RateLimits.Enabled = false
	r := SetupRouter(d.deps)
	playerID := uuid.New()
	auth := map[string]string{"Authorization": "Bearer " + d.token(t, playerID, ports.RolePlayer)}

	d.svc.EXPECT().CreateDeposit(gomock.Any(), gomock.Any()).
		Return(&ports.DepositView{Transaction: newTestTxn(playerID, domain.StatusPending)}, nil).Times(4)
	for i := 0; i < 4; i++ {
		w := serve(r, http.MethodPost, "/api/v1/deposits", `{"amount":"100","method":"manual"}`, auth)
		assert.Equal(t, http.StatusCreated, w.Code)
	}
}
