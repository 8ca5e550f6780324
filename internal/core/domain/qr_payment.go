package domain

import (
	"time"

	"github.com/google/uuid"
)

// QRPayment holds the gateway artefacts for a gcash_qr deposit.
type QRPayment struct {
	ID            uuid.UUID `json:"id"`
	TransactionID uuid.UUID `json:"transaction_id"`
	Reference     string    `json:"reference"`
	QRPayload     string    `json:"qr_payload"`
	PayURL        string    `json:"pay_url"`
	ExpiresAt     time.Time `json:"expires_at"`
	CreatedAt     time.Time `json:"created_at"`
}

func (q *QRPayment) IsExpired(now time.Time) bool {
	return !now.Before(q.ExpiresAt)
}

// GeneratedQR is what the gateway returns for a QR request.
type GeneratedQR struct {
	Reference string
	QRPayload string
	PayURL    string
	ExpiresAt time.Time
}
