package postgres

import (
	"context"
	"testing"
	"time"

	"casino-ewallet/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQR() *domain.QRPayment {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.QRPayment{
		ID:            uuid.New(),
		TransactionID: uuid.New(),
		Reference:     "ref_qr_001",
		QRPayload:     "00020101021228...",
		PayURL:        "https://pay.example.com/ref_qr_001",
		ExpiresAt:     now.Add(15 * time.Minute),
		CreatedAt:     now,
	}
}

func TestQRPaymentRepo_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewQRPaymentRepo(mock)
	qr := newTestQR()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO qr_payments").
		WithArgs(qr.ID, qr.TransactionID, qr.Reference, qr.QRPayload, qr.PayURL, qr.ExpiresAt, qr.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	dbTx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	assert.NoError(t, repo.Create(context.Background(), dbTx, qr))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQRPaymentRepo_GetByTransactionID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewQRPaymentRepo(mock)
	qr := newTestQR()

	mock.ExpectQuery("SELECT (.+) FROM qr_payments WHERE transaction_id").
		WithArgs(qr.TransactionID).
		WillReturnRows(pgxmock.NewRows([]string{"id", "transaction_id", "reference", "qr_payload", "pay_url", "expires_at", "created_at"}).
			AddRow(qr.ID, qr.TransactionID, qr.Reference, qr.QRPayload, qr.PayURL, qr.ExpiresAt, qr.CreatedAt))

	result, err := repo.GetByTransactionID(context.Background(), qr.TransactionID)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, qr.PayURL, result.PayURL)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQRPaymentRepo_GetByTransactionID_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewQRPaymentRepo(mock)
	id := uuid.New()

	mock.ExpectQuery("SELECT (.+) FROM qr_payments").
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)

	result, err := repo.GetByTransactionID(context.Background(), id)
	assert.NoError(t, err)
	assert.Nil(t, result)
}

func TestQRPaymentRepo_PurgeExpired(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewQRPaymentRepo(mock)
	cutoff := time.Now().UTC().Add(-72 * time.Hour)

	mock.ExpectExec("DELETE FROM qr_payments q USING transactions t").
		WithArgs(cutoff).
		WillReturnResult(pgxmock.NewResult("DELETE", 7))

	n, err := repo.PurgeExpired(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCasinoAccountRepo_GetByUserID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewCasinoAccountRepo(mock)
	userID := uuid.New()

	mock.ExpectQuery("SELECT id, username, casino_username, casino_client_id FROM users").
		WithArgs(userID).
		WillReturnRows(pgxmock.NewRows([]string{"id", "username", "casino_username", "casino_client_id"}).
			AddRow(userID, "wallet_user", (*string)(nil), "client-77"))

	account, err := repo.GetByUserID(context.Background(), userID)
	require.NoError(t, err)
	require.NotNil(t, account)
	assert.Equal(t, "client-77", account.CasinoClientID)
	assert.Nil(t, account.CasinoUsername)

	name, fallback := account.TransferUsername()
	assert.Equal(t, "wallet_user", name)
	assert.True(t, fallback)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepo_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewAuditRepo(mock)
	actor := uuid.New()
	entry := &domain.AuditLog{
		ID:           uuid.New(),
		ActorID:      &actor,
		Action:       domain.AuditActionRetryTransfer,
		ResourceType: "transaction",
		ResourceID:   uuid.NewString(),
		Details:      `{"force":true}`,
		IPAddress:    "10.0.0.1",
		CreatedAt:    time.Now().UTC(),
	}

	mock.ExpectExec("INSERT INTO audit_logs").
		WithArgs(entry.ID, entry.ActorID, "RETRY_TRANSFER", entry.ResourceType,
			entry.ResourceID, entry.Details, entry.IPAddress, entry.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	assert.NoError(t, repo.Create(context.Background(), entry))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHealthCheck_Ping(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	hc := NewHealthCheck(mock)
	mock.ExpectExec("SELECT 1").WillReturnResult(pgxmock.NewResult("SELECT", 1))

	assert.NoError(t, hc.Ping(context.Background()))
	assert.Equal(t, "postgresql", hc.Name())
}
