// Package repo implements the data persistence layer for the credit ledger,
// backed by GORM. This file provides repository functions for the
// RefundFailure dead-letter queue.
//
// Status transitions are expressed as conditional UPDATEs so that two
// processes racing on the same record cannot both win a claim: the UPDATE
// carries the expected prior status in its WHERE clause and the caller
// checks RowsAffected (compare-and-swap on the status column).
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/pkaramol/go-credits-backend/internal/domain"
)

// GetRefundFailure fetches a failure record by key, or ErrNotFound.
func GetRefundFailure(ctx context.Context, db *gorm.DB, refundKey string) (*domain.RefundFailure, error) {
	var f domain.RefundFailure
	if err := db.WithContext(ctx).Where("refund_key = ?", refundKey).First(&f).Error; err != nil {
		return nil, err
	}
	return &f, nil
}

// CreateRefundFailure inserts a fresh pending record with zero attempts.
func CreateRefundFailure(db *gorm.DB, refundKey, userID string, amount int64, reason, metadata string) error {
	now := time.Now().UTC()
	return db.Create(&domain.RefundFailure{
		RefundKey: refundKey,
		UserID:    userID,
		Amount:    amount,
		Reason:    reason,
		Status:    domain.FailureStatusPending,
		Attempts:  0,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}).Error
}

// RefreshRefundFailure re-registers an existing, non-resolved failure:
// identity fields are overwritten and the status forced back to pending,
// but the attempts counter is preserved (registering a failure is not a
// retry). Resolved records are left untouched by the WHERE guard.
// Returns the number of rows updated.
func RefreshRefundFailure(db *gorm.DB, refundKey, userID string, amount int64, reason, metadata string) (int64, error) {
	res := db.Model(&domain.RefundFailure{}).
		Where("refund_key = ? AND status <> ?", refundKey, domain.FailureStatusResolved).
		Updates(map[string]any{
			"user_id":    userID,
			"amount":     amount,
			"reason":     reason,
			"metadata":   metadata,
			"status":     domain.FailureStatusPending,
			"updated_at": time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

// OldestPending returns the oldest pending record within a scan window of
// scanLimit rows, or ErrNotFound when nothing is pending.
func OldestPending(ctx context.Context, db *gorm.DB, scanLimit int) (*domain.RefundFailure, error) {
	var rows []domain.RefundFailure
	q := db.WithContext(ctx).
		Where("status = ?", domain.FailureStatusPending).
		Order("created_at ASC, refund_key ASC")
	if scanLimit > 0 {
		q = q.Limit(scanLimit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return &rows[0], nil
}

// ClaimFailure transitions pending→processing for refundKey. Returns false
// when the record was not pending anymore (lost race or state change).
func ClaimFailure(db *gorm.DB, refundKey string) (bool, error) {
	res := db.Model(&domain.RefundFailure{}).
		Where("refund_key = ? AND status = ?", refundKey, domain.FailureStatusPending).
		Updates(map[string]any{
			"status":     domain.FailureStatusProcessing,
			"updated_at": time.Now().UTC(),
		})
	return res.RowsAffected > 0, res.Error
}

// MarkFailureResolved transitions a record to the terminal resolved state.
// Missing records are a no-op.
func MarkFailureResolved(db *gorm.DB, refundKey string) error {
	return db.Model(&domain.RefundFailure{}).
		Where("refund_key = ?", refundKey).
		Updates(map[string]any{
			"status":     domain.FailureStatusResolved,
			"updated_at": time.Now().UTC(),
		}).Error
}

// ReleaseFailureForRetry transitions processing→pending, incrementing the
// attempts counter and recording the last error. Missing records are a no-op.
func ReleaseFailureForRetry(db *gorm.DB, refundKey, lastError string) error {
	return db.Model(&domain.RefundFailure{}).
		Where("refund_key = ?", refundKey).
		Updates(map[string]any{
			"status":     domain.FailureStatusPending,
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": lastError,
			"updated_at": time.Now().UTC(),
		}).Error
}

// EscalateFailure transitions a record to the terminal escalated state.
// bumpAttempts distinguishes the sweeper's give-up path (a real failed
// attempt, counter +1) from the claim path that escalates a record already
// at the attempt ceiling without retrying it.
func EscalateFailure(db *gorm.DB, refundKey, lastError string, bumpAttempts bool) error {
	updates := map[string]any{
		"status":     domain.FailureStatusEscalated,
		"last_error": lastError,
		"updated_at": time.Now().UTC(),
	}
	if bumpAttempts {
		updates["attempts"] = gorm.Expr("attempts + 1")
	}
	return db.Model(&domain.RefundFailure{}).
		Where("refund_key = ?", refundKey).
		Updates(updates).Error
}

// IsNotFound reports whether err is the repo's not-found sentinel.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
