package casino

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"casino-ewallet/config"
	"casino-ewallet/internal/core/domain"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(srv *httptest.Server, timeout time.Duration) *Client {
	return NewClient(config.CasinoConfig{
		BaseURL: srv.URL,
		APIKey:  "casino-key",
		Timeout: timeout,
	}, srv.Client(), zerolog.Nop())
}

func transferReq() domain.TransferRequest {
	return domain.TransferRequest{
		Amount:              decimal.NewFromInt(100),
		Currency:            "PHP",
		DestinationClientID: "client-77",
		DestinationUsername: "lucky_player",
		SourceManager:       "ewallet",
		Comment:             "Deposit ref_001 nonce:n-1",
		Nonce:               "n-1",
	}
}

func TestClient_Transfer_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/transfers", r.URL.Path)
		assert.Equal(t, "n-1", r.Header.Get("Idempotency-Key"))
		assert.Equal(t, "casino-key", r.Header.Get("X-API-Key"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "lucky_player", body["destination_username"])
		assert.Equal(t, "Deposit ref_001 nonce:n-1", body["comment"])

		_ = json.NewEncoder(w).Encode(map[string]string{"transaction_id": "CX-100"})
	}))
	defer srv.Close()

	receipt, err := newTestClient(srv, time.Second).Transfer(context.Background(), transferReq())
	require.NoError(t, err)
	assert.Equal(t, "CX-100", receipt.TransactionID)
}

func TestClient_Transfer_Classification(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"business rejection", http.StatusUnprocessableEntity, `{"error":"account locked"}`, domain.ErrTransferRejected},
		{"auth failure", http.StatusUnauthorized, `{"error":"bad key"}`, domain.ErrTransferRejected},
		{"server error", http.StatusBadGateway, ``, domain.ErrTransferUncertain},
		{"throttled", http.StatusTooManyRequests, ``, domain.ErrTransferUncertain},
		{"accepted without id", http.StatusOK, `{}`, domain.ErrTransferUncertain},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := newTestClient(srv, time.Second).Transfer(context.Background(), transferReq())
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestClient_Transfer_TimeoutIsUncertain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	_, err := newTestClient(srv, 50*time.Millisecond).Transfer(context.Background(), transferReq())
	assert.True(t, errors.Is(err, domain.ErrTransferUncertain))
}

func TestClient_FindTransferByNonce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("nonce") {
		case "landed":
			_ = json.NewEncoder(w).Encode(map[string]string{"transaction_id": "CX-7"})
		case "missing":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()
	c := newTestClient(srv, time.Second)

	receipt, found, err := c.FindTransferByNonce(context.Background(), "landed")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "CX-7", receipt.TransactionID)

	_, found, err = c.FindTransferByNonce(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, found)

	_, _, err = c.FindTransferByNonce(context.Background(), "broken")
	assert.Error(t, err)
}
