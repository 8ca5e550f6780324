package dto

import (
	"time"

	"casino-ewallet/internal/core/domain"
	"casino-ewallet/internal/core/ports"

	"github.com/shopspring/decimal"
)

// CreateDepositRequest is the request body for opening a deposit.
type CreateDepositRequest struct {
	Amount   string `json:"amount" binding:"required,money"`
	Currency string `json:"currency" binding:"omitempty,len=3,alpha"`
	Method   string `json:"method" binding:"required,oneof=gcash_qr manual crypto"`
}

// CancelRequest is the request body for cancelling a deposit.
type CancelRequest struct {
	Reason string `json:"reason" binding:"max=255"`
}

// RetryRequest is the request body for an operator transfer retry.
type RetryRequest struct {
	Force bool `json:"force"`
}

// ResolveReviewRequest is the request body for closing a manual-review case.
type ResolveReviewRequest struct {
	Outcome             string `json:"outcome" binding:"required,oneof=completed failed"`
	CasinoTransactionID string `json:"casino_transaction_id" binding:"omitempty,max=100,safe_id"`
	Note                string `json:"note" binding:"max=500"`
}

// WebhookRequest is the gateway callback body.
type WebhookRequest struct {
	Reference     string           `json:"reference" binding:"required,max=100,safe_id"`
	Status        string           `json:"status" binding:"required,max=32"`
	Amount        *decimal.Decimal `json:"amount,omitempty"`
	ExternalTxnID string           `json:"external_txn_id" binding:"max=100"`
	InvoiceNo     string           `json:"invoice_no" binding:"max=100"`
	Description   string           `json:"description" binding:"max=255"`
}

// ToPayload converts the request into the gate's input.
func (r WebhookRequest) ToPayload(raw map[string]any) domain.WebhookPayload {
	return domain.WebhookPayload{
		Reference:     r.Reference,
		Status:        r.Status,
		Amount:        r.Amount,
		ExternalTxnID: r.ExternalTxnID,
		InvoiceNo:     r.InvoiceNo,
		Description:   r.Description,
		Raw:           raw,
	}
}

// QRResponse carries what the player needs to pay.
type QRResponse struct {
	Reference string `json:"reference"`
	QRPayload string `json:"qr_payload"`
	PayURL    string `json:"pay_url"`
	ExpiresAt string `json:"expires_at"`
}

// DepositResponse is the player-facing view of a deposit. Reconciliation
// detail stays out of it.
type DepositResponse struct {
	ID               string      `json:"id"`
	Amount           string      `json:"amount"`
	Currency         string      `json:"currency"`
	Method           string      `json:"method"`
	PaymentReference string      `json:"payment_reference"`
	Status           string      `json:"status"`
	StatusMessage    string      `json:"status_message"`
	CreatedAt        string      `json:"created_at"`
	ExpiresAt        *string     `json:"expires_at,omitempty"`
	QR               *QRResponse `json:"qr,omitempty"`
}

// TransactionResponse is the operator view with full reconciliation metadata.
type TransactionResponse struct {
	*domain.Transaction
	QRPayment *domain.QRPayment `json:"qr_payment,omitempty"`
}

// TransactionListResponse wraps paginated transaction list.
type TransactionListResponse[T any] struct {
	Items      []T   `json:"items"`
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalPages int   `json:"total_pages"`
}

var statusMessages = map[domain.TransactionStatus]string{
	domain.StatusPending:          "waiting for payment",
	domain.StatusPaymentCompleted: "payment received, credit pending",
	domain.StatusCompleted:        "credited",
	domain.StatusFailed:           "failed",
	domain.StatusExpired:          "expired",
	domain.StatusCancelled:        "cancelled",
}

// NewDepositResponse builds the player view from a deposit and its QR record.
func NewDepositResponse(view *ports.DepositView) DepositResponse {
	t := view.Transaction
	resp := DepositResponse{
		ID:               t.ID.String(),
		Amount:           t.Amount.StringFixed(2),
		Currency:         t.Currency,
		Method:           string(t.Method),
		PaymentReference: t.PaymentReference,
		Status:           string(t.Status),
		StatusMessage:    statusMessages[t.Status],
		CreatedAt:        t.CreatedAt.Format(time.RFC3339),
	}
	if t.ExpiresAt != nil {
		s := t.ExpiresAt.Format(time.RFC3339)
		resp.ExpiresAt = &s
	}
	// The QR is only useful while the deposit can still be paid.
	if qr := view.QRPayment; qr != nil && t.Status == domain.StatusPending {
		resp.QR = &QRResponse{
			Reference: qr.Reference,
			QRPayload: qr.QRPayload,
			PayURL:    qr.PayURL,
			ExpiresAt: qr.ExpiresAt.Format(time.RFC3339),
		}
	}
	return resp
}

// NewTransactionResponse builds the operator view.
func NewTransactionResponse(view *ports.DepositView) TransactionResponse {
	return TransactionResponse{Transaction: view.Transaction, QRPayment: view.QRPayment}
}

// NewListResponse computes pagination fields for items.
func NewListResponse[T any](items []T, total int64, page, pageSize int) TransactionListResponse[T] {
	totalPages := 0
	if pageSize > 0 {
		totalPages = int((total + int64(pageSize) - 1) / int64(pageSize))
	}
	if items == nil {
		items = []T{}
	}
	return TransactionListResponse[T]{
		Items:      items,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	}
}
