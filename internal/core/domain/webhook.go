package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// WebhookPayload is the normalised shape of an inbound gateway callback.
type WebhookPayload struct {
	Reference     string
	Status        string
	Amount        *decimal.Decimal
	ExternalTxnID string
	InvoiceNo     string
	Description   string
	Raw           map[string]any
}

// Fingerprint identifies a delivery independent of transport retries.
func (p *WebhookPayload) Fingerprint() string {
	amount := ""
	if p.Amount != nil {
		amount = p.Amount.String()
	}
	parts := []string{
		p.Reference,
		strings.ToUpper(strings.TrimSpace(p.Status)),
		p.ExternalTxnID,
		p.InvoiceNo,
		amount,
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// WebhookResult is the gate's answer to the gateway.
type WebhookResult struct {
	Accepted      bool              `json:"accepted"`
	Duplicate     bool              `json:"duplicate"`
	TransactionID uuid.UUID         `json:"transaction_id"`
	Status        TransactionStatus `json:"status"`
	GCashStatus   PaymentStatus     `json:"gcash_status"`
	Effect        PaymentEffect     `json:"effect,omitempty"`
}
