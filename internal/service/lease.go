package service

import (
	"context"
	"errors"
	"time"

	"casino-ewallet/internal/core/ports"

	"github.com/rs/zerolog"
)

var errLeaseLost = errors.New("lease lost")

// keepAlive renews lease every third of ttl until stop is called. The returned
// context is cancelled with errLeaseLost once another holder owns the key, or
// once renewals have kept failing for a full ttl.
func keepAlive(ctx context.Context, lease ports.Lease, ttl time.Duration, log zerolog.Logger) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(ctx)
	interval := ttl / 3
	if interval <= 0 {
		return ctx, func() { cancel(nil) }
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		renewed := time.Now()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			ok, err := lease.Extend(ctx, ttl)
			switch {
			case err == nil && ok:
				renewed = time.Now()
			case err == nil:
				log.Error().Msg("lease taken over by another holder")
				cancel(errLeaseLost)
				return
			case ctx.Err() != nil:
				return
			case time.Since(renewed) >= ttl:
				log.Error().Err(err).Msg("lease expired while renewals failed")
				cancel(errLeaseLost)
				return
			default:
				log.Warn().Err(err).Msg("lease renewal failed, retrying")
			}
		}
	}()

	return ctx, func() {
		cancel(nil)
		<-done
	}
}

// leaseLost reports whether ctx was cancelled by keepAlive.
func leaseLost(ctx context.Context) bool {
	return errors.Is(context.Cause(ctx), errLeaseLost)
}
