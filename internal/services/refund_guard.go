// Package services – refund guard
//
// This file implements RefundWithGuard, the one entry point calling
// workflows use to return credits after failed or cancelled work. It wraps
// RefundCredits with a bounded retry loop and exponential backoff; when the
// budget runs out, the refund is durably parked in the failure queue for the
// sweeper instead of being dropped.
package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// CreditRefunder is the slice of CreditService the guard and sweeper need.
type CreditRefunder interface {
	RefundCredits(ctx context.Context, userID string, amount int64, opts RefundOptions) bool
}

// RefundFailureQueue accepts durable failure reports.
type RefundFailureQueue interface {
	UpsertFailure(ctx context.Context, r FailureReport) error
}

// defaultRefundBackoff is the backoff base applied when the caller leaves
// BaseDelay unset.
const defaultRefundBackoff = 250 * time.Millisecond

// waitFn sleeps between attempts, honoring context cancellation.
// Test seam: tests swap it to record the requested delays.
var waitFn = func(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// RefundGuardParams bundles the inputs of RefundWithGuard.
type RefundGuardParams struct {
	Credits  CreditRefunder
	Failures RefundFailureQueue

	UserID    string
	Amount    int64
	RefundKey string
	Reason    string

	// RequestRetries is the synchronous attempt budget. Values below one
	// still yield exactly one attempt; the guard never makes zero.
	RequestRetries int

	// BaseDelay is the first inter-attempt wait; each subsequent wait
	// doubles. Zero selects defaultRefundBackoff.
	BaseDelay time.Duration

	// Metadata is attached to the failure report when the refund is parked.
	Metadata map[string]string

	Log zerolog.Logger
}

// RefundWithGuard attempts a refund with retries and falls back to the
// failure queue.
//
// A zero amount is vacuously successful: nothing is called, nothing is
// queued. Otherwise the guard makes max(1, RequestRetries) attempts, waiting
// BaseDelay·2^i between failures and returning true on the first success.
// When every attempt fails, the refund is enqueued via UpsertFailure and the
// guard returns false. If even the enqueue fails, that error is logged and
// false is still returned — logs and alerting are the only remaining signal
// for that refund.
func RefundWithGuard(ctx context.Context, p RefundGuardParams) bool {
	if p.Amount == 0 {
		return true
	}

	attempts := p.RequestRetries
	if attempts < 1 {
		attempts = 1
	}
	delay := p.BaseDelay
	if delay == 0 {
		delay = defaultRefundBackoff
	}

	for i := 0; i < attempts; i++ {
		if p.Credits.RefundCredits(ctx, p.UserID, p.Amount, RefundOptions{RefundKey: p.RefundKey, Reason: p.Reason}) {
			return true
		}
		if i < attempts-1 {
			waitFn(ctx, delay<<i)
		}
	}

	p.Log.Warn().Str("user_id", p.UserID).Str("refund_key", p.RefundKey).
		Int64("amount", p.Amount).Int("attempts", attempts).
		Msg("refund retries exhausted, parking in failure queue")

	if err := p.Failures.UpsertFailure(ctx, FailureReport{
		RefundKey: p.RefundKey,
		UserID:    p.UserID,
		Amount:    p.Amount,
		Reason:    p.Reason,
		Metadata:  p.Metadata,
	}); err != nil {
		p.Log.Error().Err(err).Str("user_id", p.UserID).Str("refund_key", p.RefundKey).
			Int64("amount", p.Amount).
			Msg("parking refund failed, credits at risk of loss")
	}
	return false
}

// BuildRefundKey joins the non-empty parts with a stable separator. Two
// calls with the same effective parts in the same order always produce the
// same key, which is what keeps retried outer workflows idempotent.
func BuildRefundKey(parts ...string) string {
	key := ""
	for _, p := range parts {
		if p == "" {
			continue
		}
		if key != "" {
			key += ":"
		}
		key += p
	}
	return key
}
