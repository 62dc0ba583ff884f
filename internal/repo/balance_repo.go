// Package repo implements the data persistence layer for the credit ledger,
// backed by GORM. This file provides repository functions for the UserBalance
// model.
//
// All functions accept a *gorm.DB handle, which may be transaction-bound;
// the service layer owns transaction boundaries. They follow the "thin
// repository" approach: no business logic, only CRUD persistence and query
// composition.
//
// Error semantics:
//   - When a balance is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/pkaramol/go-credits-backend/internal/domain"
)

// ErrNotFound aliases gorm.ErrRecordNotFound for callers that prefer not to
// import gorm directly.
var ErrNotFound = gorm.ErrRecordNotFound

// GetBalance fetches a user's balance row, or ErrNotFound if absent.
func GetBalance(ctx context.Context, db *gorm.DB, userID string) (*domain.UserBalance, error) {
	var b domain.UserBalance
	if err := db.WithContext(ctx).Where("user_id = ?", userID).First(&b).Error; err != nil {
		return nil, err
	}
	return &b, nil
}

// AdjustBalance applies a signed delta to a user's balance, creating the row
// with Credits=delta when no row exists yet. Meant to run inside a
// transaction together with the matching ledger append.
func AdjustBalance(db *gorm.DB, userID string, delta int64) error {
	var b domain.UserBalance
	err := db.Where("user_id = ?", userID).First(&b).Error
	switch {
	case err == nil:
		return db.Model(&domain.UserBalance{}).
			Where("user_id = ?", userID).
			Update("credits", gorm.Expr("credits + ?", delta)).Error
	case err == gorm.ErrRecordNotFound:
		return db.Create(&domain.UserBalance{
			UserID:    userID,
			Credits:   delta,
			CreatedAt: time.Now().UTC(),
		}).Error
	default:
		return err
	}
}

// ApplyStarterGrant stamps the one-time starter grant fields and adds the
// granted amount to the balance, creating the row if needed. Callers must
// have verified inside the same transaction that no grant exists yet.
func ApplyStarterGrant(db *gorm.DB, userID string, amount int64, grantedAt time.Time) error {
	if err := AdjustBalance(db, userID, amount); err != nil {
		return err
	}
	return db.Model(&domain.UserBalance{}).
		Where("user_id = ?", userID).
		Updates(map[string]any{
			"starter_grant_credits":    amount,
			"starter_grant_granted_at": grantedAt,
		}).Error
}
