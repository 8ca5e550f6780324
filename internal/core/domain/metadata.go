package domain

import (
	"time"
)

// TransferOutcome classifies a single casino transfer attempt.
type TransferOutcome string

const (
	TransferInFlight  TransferOutcome = "in_flight"
	TransferSucceeded TransferOutcome = "success"
	TransferRejected  TransferOutcome = "failed"
	TransferUncertain TransferOutcome = "uncertain"
	TransferRecovered TransferOutcome = "recovered"
)

// TransferAttempt is the record of one executor invocation that reached the casino call.
type TransferAttempt struct {
	Nonce               string          `json:"nonce"`
	StartedAt           time.Time       `json:"started_at"`
	FinishedAt          *time.Time      `json:"finished_at,omitempty"`
	Outcome             TransferOutcome `json:"outcome"`
	Error               string          `json:"error,omitempty"`
	CasinoTransactionID string          `json:"casino_transaction_id,omitempty"`
}

// WebhookAudit keeps the distinguishing fields of an inbound callback.
type WebhookAudit struct {
	Fingerprint      string        `json:"fingerprint"`
	ReceivedAt       time.Time     `json:"received_at"`
	RawStatus        string        `json:"raw_status"`
	NormalizedStatus PaymentStatus `json:"normalized_status,omitempty"`
	InvoiceNo        string        `json:"invoice_no,omitempty"`
	ExternalTxnID    string        `json:"external_txn_id,omitempty"`
	Description      string        `json:"description,omitempty"`
	Amount           string        `json:"amount,omitempty"`
}

// Metadata is the operator-facing bag of reconciliation facts.
type Metadata struct {
	TransferNonce          string            `json:"transfer_nonce,omitempty"`
	TransferAttempts       int               `json:"transfer_attempts"`
	AttemptWindowStart     int               `json:"attempt_window_start,omitempty"`
	LastTransferError      string            `json:"last_transfer_error,omitempty"`
	LastTransferOutcome    TransferOutcome   `json:"last_transfer_outcome,omitempty"`
	TransferAttemptDetails []TransferAttempt `json:"transfer_attempt_details,omitempty"`
	NextTransferAttemptAt  *time.Time        `json:"next_transfer_attempt_at,omitempty"`

	CasinoTransactionID string     `json:"casino_transaction_id,omitempty"`
	CasinoCompletedAt   *time.Time `json:"casino_completed_at,omitempty"`
	CasinoUsername      string     `json:"casino_username,omitempty"`
	UsernameFallback    bool       `json:"username_fallback,omitempty"`

	GatewayTransactionID string     `json:"gateway_transaction_id,omitempty"`
	GatewayCompletedAt   *time.Time `json:"gateway_completed_at,omitempty"`

	ManualReview       bool   `json:"manual_review,omitempty"`
	ManualReviewReason string `json:"manual_review_reason,omitempty"`

	Webhooks []WebhookAudit    `json:"webhooks,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"`
}

// HasWebhook reports whether a callback with this fingerprint was already recorded.
func (m *Metadata) HasWebhook(fingerprint string) bool {
	for _, w := range m.Webhooks {
		if w.Fingerprint == fingerprint {
			return true
		}
	}
	return false
}

// RecordWebhook appends the audit fields unless the same callback is already stored.
func (m *Metadata) RecordWebhook(w WebhookAudit) bool {
	if m.HasWebhook(w.Fingerprint) {
		return false
	}
	m.Webhooks = append(m.Webhooks, w)
	return true
}

// FlagReview marks the transaction for operator attention.
func (m *Metadata) FlagReview(reason string) {
	m.ManualReview = true
	m.ManualReviewReason = reason
}

func (m *Metadata) ClearReview() {
	m.ManualReview = false
	m.ManualReviewReason = ""
}

// AttemptsInWindow counts attempts since the budget was last reset by an operator.
func (m *Metadata) AttemptsInWindow() int {
	return m.TransferAttempts - m.AttemptWindowStart
}

// ResetAttemptWindow restarts the retry budget without discarding attempt history.
func (m *Metadata) ResetAttemptWindow() {
	m.AttemptWindowStart = m.TransferAttempts
	m.NextTransferAttemptAt = nil
}

// BeginAttempt records an in-flight attempt and counts it against the budget.
func (m *Metadata) BeginAttempt(nonce string, at time.Time) {
	m.TransferNonce = nonce
	m.TransferAttempts++
	m.LastTransferOutcome = TransferInFlight
	m.TransferAttemptDetails = append(m.TransferAttemptDetails, TransferAttempt{
		Nonce:     nonce,
		StartedAt: at,
		Outcome:   TransferInFlight,
	})
}

// FinishAttempt closes the attempt carrying nonce. It returns false if no such attempt exists.
func (m *Metadata) FinishAttempt(nonce string, outcome TransferOutcome, errMsg, casinoTxnID string, at time.Time) bool {
	for i := len(m.TransferAttemptDetails) - 1; i >= 0; i-- {
		a := &m.TransferAttemptDetails[i]
		if a.Nonce != nonce {
			continue
		}
		finished := at
		a.FinishedAt = &finished
		a.Outcome = outcome
		a.Error = errMsg
		a.CasinoTransactionID = casinoTxnID
		m.LastTransferOutcome = outcome
		m.LastTransferError = errMsg
		return true
	}
	return false
}

// UnresolvedAttempts returns nonces whose outcome may have reached the casino unseen.
func (m *Metadata) UnresolvedAttempts() []string {
	var nonces []string
	for _, a := range m.TransferAttemptDetails {
		if a.Outcome == TransferUncertain || a.Outcome == TransferInFlight {
			nonces = append(nonces, a.Nonce)
		}
	}
	return nonces
}

// LiveAttempt returns the newest in-flight attempt started less than window ago.
func (m *Metadata) LiveAttempt(now time.Time, window time.Duration) (TransferAttempt, bool) {
	for i := len(m.TransferAttemptDetails) - 1; i >= 0; i-- {
		a := m.TransferAttemptDetails[i]
		if a.Outcome == TransferInFlight && now.Sub(a.StartedAt) < window {
			return a, true
		}
	}
	return TransferAttempt{}, false
}

func (m Metadata) clone() Metadata {
	c := m
	c.TransferAttemptDetails = append([]TransferAttempt(nil), m.TransferAttemptDetails...)
	c.Webhooks = append([]WebhookAudit(nil), m.Webhooks...)
	if m.Extra != nil {
		c.Extra = make(map[string]string, len(m.Extra))
		for k, v := range m.Extra {
			c.Extra[k] = v
		}
	}
	if m.NextTransferAttemptAt != nil {
		n := *m.NextTransferAttemptAt
		c.NextTransferAttemptAt = &n
	}
	return c
}
