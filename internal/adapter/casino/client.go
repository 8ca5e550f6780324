package casino

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"casino-ewallet/config"
	"casino-ewallet/internal/core/domain"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// HTTPClient interface for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client calls the casino platform's funds-transfer API.
type Client struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	http    HTTPClient
	log     zerolog.Logger
}

// NewClient creates a casino client. A nil httpClient uses http.DefaultClient.
func NewClient(cfg config.CasinoConfig, httpClient HTTPClient, log zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		timeout: cfg.Timeout,
		http:    httpClient,
		log:     log,
	}
}

type transferRequest struct {
	Amount              decimal.Decimal `json:"amount"`
	Currency            string          `json:"currency"`
	DestinationClientID string          `json:"destination_client_id"`
	DestinationUsername string          `json:"destination_username"`
	SourceManager       string          `json:"source_manager"`
	Comment             string          `json:"comment"`
	Nonce               string          `json:"nonce"`
}

type transferResponse struct {
	TransactionID string `json:"transaction_id"`
	Error         string `json:"error,omitempty"`
}

// Transfer credits the destination account. Definite refusals wrap
// domain.ErrTransferRejected; transport failures, timeouts and 5xx wrap
// domain.ErrTransferUncertain.
func (c *Client) Transfer(ctx context.Context, req domain.TransferRequest) (*domain.TransferReceipt, error) {
	body, err := json.Marshal(transferRequest{
		Amount:              req.Amount,
		Currency:            req.Currency,
		DestinationClientID: req.DestinationClientID,
		DestinationUsername: req.DestinationUsername,
		SourceManager:       req.SourceManager,
		Comment:             req.Comment,
		Nonce:               req.Nonce,
	})
	if err != nil {
		return nil, fmt.Errorf("casino: marshal transfer: %w", err)
	}

	status, out, err := c.do(ctx, http.MethodPost, "/api/transfers", body, req.Nonce)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransferUncertain, err)
	}

	switch {
	case status >= 200 && status < 300:
		if out.TransactionID == "" {
			return nil, fmt.Errorf("%w: accepted without transaction id", domain.ErrTransferUncertain)
		}
		return &domain.TransferReceipt{TransactionID: out.TransactionID}, nil
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500:
		return nil, fmt.Errorf("%w: status %d %s", domain.ErrTransferUncertain, status, out.Error)
	default:
		return nil, fmt.Errorf("%w: status %d %s", domain.ErrTransferRejected, status, out.Error)
	}
}

// FindTransferByNonce searches casino transfer history for an earlier attempt.
func (c *Client) FindTransferByNonce(ctx context.Context, nonce string) (*domain.TransferReceipt, bool, error) {
	status, out, err := c.do(ctx, http.MethodGet, "/api/transfers?nonce="+url.QueryEscape(nonce), nil, "")
	if err != nil {
		return nil, false, fmt.Errorf("casino: lookup %s: %w", nonce, err)
	}

	switch {
	case status == http.StatusNotFound:
		return nil, false, nil
	case status >= 200 && status < 300 && out.TransactionID != "":
		return &domain.TransferReceipt{TransactionID: out.TransactionID}, true, nil
	default:
		return nil, false, fmt.Errorf("casino: lookup %s: status %d %s", nonce, status, out.Error)
	}
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, idempotencyKey string) (int, transferResponse, error) {
	var out transferResponse

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, out, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			c.log.Warn().Str("path", path).Msg("casino: request timed out")
		}
		return 0, out, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return resp.StatusCode, out, fmt.Errorf("read response: %w", err)
	}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil && resp.StatusCode < 300 {
			return resp.StatusCode, out, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, out, nil
}
