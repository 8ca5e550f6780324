package service

import (
	"time"

	"casino-ewallet/internal/core/ports"
)

type nopMetrics struct{}

func (nopMetrics) ObserveWebhook(string)                 {}
func (nopMetrics) ObserveTransfer(string, time.Duration) {}
func (nopMetrics) ObserveManualReview(string)            {}
func (nopMetrics) ObserveSweep(time.Duration, error)     {}
func (nopMetrics) ObserveSweepItems(string, int)         {}

func orNopMetrics(m ports.Metrics) ports.Metrics {
	if m == nil {
		return nopMetrics{}
	}
	return m
}
