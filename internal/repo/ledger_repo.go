// Package repo implements the data persistence layer for the credit ledger,
// backed by GORM. This file provides repository functions for the append-only
// CreditTransaction ledger.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/pkaramol/go-credits-backend/internal/domain"
)

// AppendTransaction inserts one immutable ledger entry. Amount is the signed
// delta as applied to the balance (reserves negative, refunds positive).
func AppendTransaction(db *gorm.DB, userID, txType string, amount int64, source, reason, referenceID string) (*domain.CreditTransaction, error) {
	t := &domain.CreditTransaction{
		ID:          uuid.NewString(),
		UserID:      userID,
		Type:        txType,
		Amount:      amount,
		Source:      source,
		Reason:      reason,
		ReferenceID: referenceID,
		CreatedAt:   time.Now().UTC(),
	}
	return t, db.Create(t).Error
}

// ListTransactions returns up to limit ledger entries for a user, newest
// first. Ordering is deterministic (CreatedAt DESC, ID DESC) so entries
// created within the same instant do not flap between pages.
func ListTransactions(ctx context.Context, db *gorm.DB, userID string, limit int) ([]domain.CreditTransaction, error) {
	var out []domain.CreditTransaction
	q := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// CountTransactions uses a raw COUNT so a missing table surfaces as an error.
func CountTransactions(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Raw("SELECT COUNT(*) FROM credit_transactions WHERE user_id = ?", userID).
		Scan(&total).Error
	return total, err
}
