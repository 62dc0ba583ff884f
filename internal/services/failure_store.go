// Package services – RefundFailureStore
//
// This file implements the durable refund dead-letter queue: one record per
// refund key for refunds that exhausted their synchronous retries and await
// background recovery. Records move through a small state machine
// (pending → processing → resolved | pending | escalated); resolved records
// are immutable and can never be reopened by a late duplicate report.
package services

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/pkaramol/go-credits-backend/internal/domain"
	"github.com/pkaramol/go-credits-backend/internal/repo"
)

// FailureReport is the payload the refund guard enqueues when a refund could
// not be applied synchronously.
type FailureReport struct {
	RefundKey string
	UserID    string
	Amount    int64
	Reason    string
	Metadata  map[string]string
}

// RefundFailureStore owns the RefundFailure records. The guard enqueues into
// it; the sweeper claims, resolves, releases, and escalates through it. No
// other component touches failure records.
type RefundFailureStore struct {
	DB  *gorm.DB
	Log zerolog.Logger
}

// UpsertFailure registers (or refreshes) a failure for r.RefundKey.
//
// A missing record is created as pending with zero attempts. An existing
// non-resolved record is overwritten and forced back to pending, preserving
// its attempts counter: registering a failure is not itself a retry. A
// resolved record is never touched — the refund already went through, and a
// late duplicate report must not reopen it. Escalated records ARE reopened;
// an operator who fixed the underlying issue can re-register the failure to
// put automation back in charge.
func (s *RefundFailureStore) UpsertFailure(ctx context.Context, r FailureReport) error {
	if r.RefundKey == "" {
		return errors.New("refund failure: missing refund key")
	}

	meta := ""
	if len(r.Metadata) > 0 {
		raw, err := json.Marshal(r.Metadata)
		if err != nil {
			return err
		}
		meta = string(raw)
	}

	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := repo.GetRefundFailure(ctx, tx, r.RefundKey)
		switch {
		case repo.IsNotFound(err):
			return repo.CreateRefundFailure(tx, r.RefundKey, r.UserID, r.Amount, r.Reason, meta)
		case err != nil:
			return err
		case existing.Status == domain.FailureStatusResolved:
			return nil
		default:
			_, err := repo.RefreshRefundFailure(tx, r.RefundKey, r.UserID, r.Amount, r.Reason, meta)
			return err
		}
	})
}

// ClaimNextPending selects the oldest pending record within a scan window of
// scanLimit rows and transitions it to processing, returning it to the
// caller. A record that already reached maxAttempts is escalated on the spot
// (it never enters processing) and nil is returned; the caller loops if it
// wants more work.
//
// Every store error is caught, logged, and surfaced as nil — an empty round,
// never a crash.
func (s *RefundFailureStore) ClaimNextPending(ctx context.Context, maxAttempts, scanLimit int) *domain.RefundFailure {
	rec, err := repo.OldestPending(ctx, s.DB, scanLimit)
	if repo.IsNotFound(err) {
		return nil
	}
	if err != nil {
		s.Log.Error().Err(err).Msg("refund failure scan failed")
		return nil
	}

	if rec.Attempts >= maxAttempts {
		if err := repo.EscalateFailure(s.DB.WithContext(ctx), rec.RefundKey, "retry budget exhausted", false); err != nil {
			s.Log.Error().Err(err).Str("refund_key", rec.RefundKey).
				Msg("escalating exhausted refund failure failed")
			return nil
		}
		s.Log.Error().Str("refund_key", rec.RefundKey).Str("user_id", rec.UserID).
			Int("attempts", rec.Attempts).
			Msg("refund failure escalated: retry budget exhausted")
		return nil
	}

	claimed, err := repo.ClaimFailure(s.DB.WithContext(ctx), rec.RefundKey)
	if err != nil {
		s.Log.Error().Err(err).Str("refund_key", rec.RefundKey).
			Msg("claiming refund failure failed")
		return nil
	}
	if !claimed {
		// Lost the compare-and-swap to a concurrent claimer.
		return nil
	}
	rec.Status = domain.FailureStatusProcessing
	return rec
}

// MarkResolved transitions a record to the terminal resolved state. Missing
// records are a no-op.
func (s *RefundFailureStore) MarkResolved(ctx context.Context, refundKey string) error {
	return repo.MarkFailureResolved(s.DB.WithContext(ctx), refundKey)
}

// ReleaseForRetry returns a claimed record to pending, incrementing its
// attempts counter and recording lastError. Missing records are a no-op.
func (s *RefundFailureStore) ReleaseForRetry(ctx context.Context, refundKey, lastError string) error {
	return repo.ReleaseFailureForRetry(s.DB.WithContext(ctx), refundKey, lastError)
}

// MarkEscalated transitions a record to the terminal escalated state after a
// failed attempt, incrementing its attempts counter. Missing records are a
// no-op.
func (s *RefundFailureStore) MarkEscalated(ctx context.Context, refundKey, lastError string) error {
	return repo.EscalateFailure(s.DB.WithContext(ctx), refundKey, lastError, true)
}
