// Package services – CreditRefundSweeper
//
// This file implements the background reconciliation loop that drains the
// refund failure queue: claim the oldest pending failure, replay the refund
// through the credit service, and resolve, release, or escalate the record
// depending on the outcome. One sweeper instance runs per process; cross-
// process coordination is delegated to the store's claim transition.
package services

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/pkaramol/go-credits-backend/internal/config"
	"github.com/pkaramol/go-credits-backend/internal/domain"
	"github.com/pkaramol/go-credits-backend/internal/observability"
)

// sweepRetryError is recorded as LastError on every failed background retry.
const sweepRetryError = "background refund retry failed"

// AlertCreditRefundEscalated is raised once per refund that exhausted its
// background retry budget and now requires an operator.
const AlertCreditRefundEscalated = "credit_refund_escalated"

// FailureWorkQueue is the claim cycle the sweeper drives. RefundFailureStore
// implements it.
type FailureWorkQueue interface {
	ClaimNextPending(ctx context.Context, maxAttempts, scanLimit int) *domain.RefundFailure
	MarkResolved(ctx context.Context, refundKey string) error
	ReleaseForRetry(ctx context.Context, refundKey, lastError string) error
	MarkEscalated(ctx context.Context, refundKey, lastError string) error
}

// CreditRefundSweeper periodically replays parked refunds until they resolve
// or escalate.
type CreditRefundSweeper struct {
	Credits  CreditRefunder
	Failures FailureWorkQueue
	Alerts   observability.AlertSink
	Log      zerolog.Logger

	Interval    time.Duration
	MaxPerRun   int
	MaxAttempts int

	mu      sync.Mutex    // guards stop
	stop    chan struct{} // non-nil while started
	running atomic.Bool   // serializes RunOnce
}

// NewSweeperFromConfig builds a sweeper from configuration, or returns nil
// when sweeping is disabled or any numeric setting is non-positive. A
// misconfigured sweeper fails safe (no reconciliation) instead of failing
// startup. The caller owns the Start/Stop lifecycle.
func NewSweeperFromConfig(cfg config.SweeperConfig, credits CreditRefunder, failures FailureWorkQueue, alerts observability.AlertSink, log zerolog.Logger) *CreditRefundSweeper {
	if !cfg.Enabled || cfg.Interval <= 0 || cfg.MaxPerRun <= 0 || cfg.MaxAttempts <= 0 {
		return nil
	}
	return &CreditRefundSweeper{
		Credits:     credits,
		Failures:    failures,
		Alerts:      alerts,
		Log:         log,
		Interval:    cfg.Interval,
		MaxPerRun:   cfg.MaxPerRun,
		MaxAttempts: cfg.MaxAttempts,
	}
}

// Start schedules RunOnce on the configured interval and fires one immediate
// asynchronous run. Calling Start on a started sweeper does nothing.
func (s *CreditRefundSweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return
	}
	stop := make(chan struct{})
	s.stop = stop

	go func() {
		t := time.NewTicker(s.Interval)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				s.RunOnce(context.Background())
			}
		}
	}()
	go s.RunOnce(context.Background())
}

// Stop cancels future scheduled runs. A run already in flight finishes on
// its own. Idempotent.
func (s *CreditRefundSweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
}

// RunOnce drains up to MaxPerRun failure records. Overlapping invocations
// are collapsed: if a run is already in flight, the call returns
// immediately. The sweeper must never take down the host process, so a
// panicking store or service is caught and logged here.
func (s *CreditRefundSweeper) RunOnce(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		return
	}
	defer s.running.Store(false)
	defer func() {
		if r := recover(); r != nil {
			s.Log.Error().Interface("panic", r).Msg("refund sweep panicked")
		}
	}()

	for processed := 0; processed < s.MaxPerRun; processed++ {
		rec := s.Failures.ClaimNextPending(ctx, s.MaxAttempts, s.MaxPerRun)
		if rec == nil {
			return
		}

		if s.Credits.RefundCredits(ctx, rec.UserID, rec.Amount, RefundOptions{RefundKey: rec.RefundKey, Reason: rec.Reason}) {
			if err := s.Failures.MarkResolved(ctx, rec.RefundKey); err != nil {
				s.Log.Error().Err(err).Str("refund_key", rec.RefundKey).
					Msg("resolving refund failure failed")
				continue
			}
			s.Log.Info().Str("refund_key", rec.RefundKey).Str("user_id", rec.UserID).
				Int64("amount", rec.Amount).Int("attempts", rec.Attempts).
				Msg("background refund resolved")
			continue
		}

		nextAttempts := rec.Attempts + 1
		if nextAttempts >= s.MaxAttempts {
			if err := s.Failures.MarkEscalated(ctx, rec.RefundKey, sweepRetryError); err != nil {
				s.Log.Error().Err(err).Str("refund_key", rec.RefundKey).
					Msg("escalating refund failure failed")
				continue
			}
			s.Log.Error().Str("refund_key", rec.RefundKey).Str("user_id", rec.UserID).
				Int64("amount", rec.Amount).Int("attempts", nextAttempts).
				Msg("refund escalated, manual intervention required")
			if s.Alerts != nil {
				s.Alerts.RecordAlert(AlertCreditRefundEscalated, map[string]string{
					"refund_key": rec.RefundKey,
					"user_id":    rec.UserID,
					"amount":     strconv.FormatInt(rec.Amount, 10),
					"attempts":   strconv.Itoa(nextAttempts),
				})
			}
			continue
		}

		if err := s.Failures.ReleaseForRetry(ctx, rec.RefundKey, sweepRetryError); err != nil {
			s.Log.Error().Err(err).Str("refund_key", rec.RefundKey).
				Msg("releasing refund failure failed")
		}
	}
}
