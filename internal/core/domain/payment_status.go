package domain

import (
	"strings"
	"time"
)

// vendorPaymentStatus maps gateway vocabularies onto the internal three-way status.
var vendorPaymentStatus = map[string]PaymentStatus{
	"SUCCESS":    PaymentSuccess,
	"SUCCEEDED":  PaymentSuccess,
	"PAID":       PaymentSuccess,
	"COMPLETED":  PaymentSuccess,
	"SETTLED":    PaymentSuccess,
	"PENDING":    PaymentPending,
	"PROCESSING": PaymentPending,
	"CREATED":    PaymentPending,
	"WAITING":    PaymentPending,
	"FAILED":     PaymentFailed,
	"FAIL":       PaymentFailed,
	"CANCELLED":  PaymentFailed,
	"CANCELED":   PaymentFailed,
	"EXPIRED":    PaymentFailed,
	"DECLINED":   PaymentFailed,
	"REJECTED":   PaymentFailed,
}

// NormalizePaymentStatus translates a raw gateway status. ok is false for unknown vocabulary.
func NormalizePaymentStatus(raw string) (PaymentStatus, bool) {
	ps, ok := vendorPaymentStatus[strings.ToUpper(strings.TrimSpace(raw))]
	return ps, ok
}

// PaymentEffect describes what applying a gateway status did to a transaction.
type PaymentEffect string

const (
	PaymentEffectDuplicate PaymentEffect = "duplicate"
	PaymentEffectStale     PaymentEffect = "stale"
	PaymentEffectTerminal  PaymentEffect = "terminal"
	PaymentEffectConfirmed PaymentEffect = "confirmed"
	PaymentEffectFailed    PaymentEffect = "failed"

	// PaymentEffectUnrecognized is reported for vendor statuses outside the mapping table.
	PaymentEffectUnrecognized PaymentEffect = "unrecognized"
)

// Changed reports whether the effect mutated the transaction.
func (e PaymentEffect) Changed() bool {
	return e == PaymentEffectConfirmed || e == PaymentEffectFailed
}

// ApplyPaymentStatus is the gateway-side tracker. Once the gateway status is
// success or failed it never moves again; later events are reported as stale.
func (t *Transaction) ApplyPaymentStatus(ps PaymentStatus, note string, at time.Time) (PaymentEffect, error) {
	if t.IsTerminal() {
		return PaymentEffectTerminal, nil
	}
	if ps == t.GCashStatus {
		return PaymentEffectDuplicate, nil
	}
	if t.GCashStatus != PaymentPending {
		return PaymentEffectStale, nil
	}

	switch ps {
	case PaymentSuccess:
		t.GCashStatus = PaymentSuccess
		completedAt := at
		t.Metadata.GatewayCompletedAt = &completedAt
		if _, err := t.Transition(StatusPaymentCompleted, note, at); err != nil {
			t.GCashStatus = PaymentPending
			t.Metadata.GatewayCompletedAt = nil
			return "", err
		}
		return PaymentEffectConfirmed, nil
	case PaymentFailed:
		t.GCashStatus = PaymentFailed
		if _, err := t.Transition(StatusFailed, note, at); err != nil {
			t.GCashStatus = PaymentPending
			return "", err
		}
		return PaymentEffectFailed, nil
	default:
		return PaymentEffectDuplicate, nil
	}
}
