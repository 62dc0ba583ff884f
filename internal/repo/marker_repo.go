// Package repo implements the data persistence layer for the credit ledger,
// backed by GORM. This file provides repository helpers for the RefundMarker
// model used to implement refund idempotency: the marker's existence means
// the refund for that key has already been applied.
package repo

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/pkaramol/go-credits-backend/internal/domain"
)

// RefundMarkerExists reports whether a marker row exists for refundKey.
func RefundMarkerExists(db *gorm.DB, refundKey string) (bool, error) {
	var m domain.RefundMarker
	err := db.Where("refund_key = ?", refundKey).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	return err == nil, err
}

// CreateRefundMarker inserts the marker row for refundKey. Must run in the
// same transaction as the balance increment and ledger append it guards.
func CreateRefundMarker(db *gorm.DB, refundKey, userID string) error {
	return db.Create(&domain.RefundMarker{
		RefundKey: refundKey,
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
	}).Error
}
