package gateway

import (
	"bytes"
	"context"
	"encoding/json"
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

// Client talks to the QR payment gateway over JSON/HTTP.
type Client struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	http    HTTPClient
	log     zerolog.Logger
}

// NewClient creates a gateway client. A nil httpClient uses http.DefaultClient.
func NewClient(cfg config.GatewayConfig, httpClient HTTPClient, log zerolog.Logger) *Client {
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

type generateQRRequest struct {
	Reference string          `json:"reference"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
}

type generateQRResponse struct {
	Reference string    `json:"reference"`
	QRPayload string    `json:"qr_payload"`
	PayURL    string    `json:"pay_url"`
	ExpiresAt time.Time `json:"expires_at"`
}

type statusResponse struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
}

// GenerateQR asks the gateway for a QR code bound to reference.
func (c *Client) GenerateQR(ctx context.Context, reference string, amount decimal.Decimal, currency string) (*domain.GeneratedQR, error) {
	body, err := json.Marshal(generateQRRequest{Reference: reference, Amount: amount, Currency: currency})
	if err != nil {
		return nil, fmt.Errorf("gateway: marshal qr request: %w", err)
	}

	var out generateQRResponse
	if err := c.do(ctx, http.MethodPost, "/v1/qr", body, &out); err != nil {
		return nil, err
	}
	if out.QRPayload == "" && out.PayURL == "" {
		return nil, fmt.Errorf("gateway: empty qr response for %s", reference)
	}
	if out.Reference == "" {
		out.Reference = reference
	}

	c.log.Debug().Str("reference", out.Reference).Time("expires_at", out.ExpiresAt).Msg("gateway: qr generated")
	return &domain.GeneratedQR{
		Reference: out.Reference,
		QRPayload: out.QRPayload,
		PayURL:    out.PayURL,
		ExpiresAt: out.ExpiresAt,
	}, nil
}

// GetStatus returns the gateway's raw status string for reference.
func (c *Client) GetStatus(ctx context.Context, reference string) (string, error) {
	var out statusResponse
	if err := c.do(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(reference), nil, &out); err != nil {
		return "", err
	}
	return out.Status, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
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
		return fmt.Errorf("gateway: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gateway: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("gateway: %s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(snippet))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("gateway: decode response: %w", err)
	}
	return nil
}
