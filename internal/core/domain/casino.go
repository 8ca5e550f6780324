package domain

import (
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrTransferRejected marks a definite refusal by the casino platform.
	ErrTransferRejected = errors.New("casino rejected transfer")
	// ErrTransferUncertain marks a call whose effect on the casino side is unknown.
	ErrTransferUncertain = errors.New("casino transfer outcome unknown")
)

// CasinoAccount links a wallet user to their casino platform identity.
type CasinoAccount struct {
	UserID         uuid.UUID `json:"user_id"`
	Username       string    `json:"username"`
	CasinoUsername *string   `json:"casino_username,omitempty"`
	CasinoClientID string    `json:"casino_client_id"`
}

// TransferUsername applies the casino-username fallback policy: a missing
// casino mapping never blocks a transfer, the wallet username is used instead.
func (a *CasinoAccount) TransferUsername() (username string, fallback bool) {
	if a.CasinoUsername != nil && strings.TrimSpace(*a.CasinoUsername) != "" {
		return strings.TrimSpace(*a.CasinoUsername), false
	}
	return a.Username, true
}

// TransferRequest is the abstract casino funds-transfer call.
type TransferRequest struct {
	Amount              decimal.Decimal
	Currency            string
	DestinationClientID string
	DestinationUsername string
	SourceManager       string
	Comment             string
	Nonce               string
}

// TransferReceipt is the casino's acknowledgement of a transfer.
type TransferReceipt struct {
	TransactionID string
}

// TransferResultOutcome is what one Execute call amounted to.
type TransferResultOutcome string

const (
	ResultSucceeded      TransferResultOutcome = "success"
	ResultRejected       TransferResultOutcome = "failed"
	ResultUncertain      TransferResultOutcome = "uncertain"
	ResultRecovered      TransferResultOutcome = "recovered"
	ResultInFlight       TransferResultOutcome = "in_flight"
	ResultBudgetExceeded TransferResultOutcome = "budget_exceeded"
	ResultNotEligible    TransferResultOutcome = "not_eligible"
)

// TransferResult is returned to callers of the executor.
type TransferResult struct {
	TransactionID       uuid.UUID             `json:"transaction_id"`
	Outcome             TransferResultOutcome `json:"outcome"`
	Attempt             int                   `json:"attempt"`
	Nonce               string                `json:"nonce,omitempty"`
	CasinoTransactionID string                `json:"casino_transaction_id,omitempty"`
	Error               string                `json:"error,omitempty"`
	Status              TransactionStatus     `json:"status"`
	CasinoStatus        CasinoStatus          `json:"casino_status"`
}
