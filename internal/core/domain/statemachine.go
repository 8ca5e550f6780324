package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvariantViolated = errors.New("transaction invariant violated")
)

var allowedTransitions = map[TransactionStatus][]TransactionStatus{
	StatusPending:          {StatusPaymentCompleted, StatusFailed, StatusExpired, StatusCancelled},
	StatusPaymentCompleted: {StatusCompleted, StatusFailed, StatusCancelled},
}

// CanTransition reports whether from -> to is an edge of the lifecycle graph.
func CanTransition(from, to TransactionStatus) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition moves the transaction to a new status and appends one history entry.
// Moving to the current status is a no-op and reports changed=false.
func (t *Transaction) Transition(to TransactionStatus, note string, at time.Time) (bool, error) {
	if t.Status == to {
		return false, nil
	}
	if !CanTransition(t.Status, to) {
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, to)
	}

	prev := t.Status
	t.Status = to
	if err := t.CheckInvariants(); err != nil {
		t.Status = prev
		return false, err
	}

	t.StatusHistory = append(t.StatusHistory, StatusHistoryEntry{Status: to, Timestamp: at, Note: note})
	t.UpdatedAt = at
	return true, nil
}

// AppendNote records an explanatory entry against the current status.
// It is the only history write allowed once a transaction is terminal.
func (t *Transaction) AppendNote(note string, at time.Time) {
	t.StatusHistory = append(t.StatusHistory, StatusHistoryEntry{Status: t.Status, Timestamp: at, Note: note})
	t.UpdatedAt = at
}

// CheckInvariants validates the cross-field rules between status and sub-states.
func (t *Transaction) CheckInvariants() error {
	bothDone := t.GCashStatus == PaymentSuccess && t.CasinoStatus == CasinoCompleted
	if (t.Status == StatusCompleted) != bothDone {
		return fmt.Errorf("%w: status=%s gcash=%s casino=%s",
			ErrInvariantViolated, t.Status, t.GCashStatus, t.CasinoStatus)
	}
	if t.Status == StatusPaymentCompleted && t.GCashStatus != PaymentSuccess {
		return fmt.Errorf("%w: payment_completed without gateway success", ErrInvariantViolated)
	}
	return nil
}
