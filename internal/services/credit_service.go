// Package services – CreditService
//
// This file implements the CreditService, the only writer of user balances
// and the append-only credit transaction ledger. Every mutation runs as one
// GORM transaction covering the balance row, the ledger entry, and (for
// refunds) the idempotency marker, so a partial write can never be observed.
//
// Failure contract: the mutating operations (ReserveCredits, RefundCredits,
// AddCredits, EnsureStarterGrant) swallow every store error into a boolean
// false plus a structured log entry. They never return or panic with an
// infrastructure error. Callers — the refund guard in particular — rely on
// being able to treat failure uniformly as "returned false".
package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/pkaramol/go-credits-backend/internal/domain"
	"github.com/pkaramol/go-credits-backend/internal/repo"
)

// Ledger entry sources written by this service.
const (
	SourceGeneration   = "generation"
	SourceManual       = "manual"
	SourceStarterGrant = "signup"
)

// RefundOptions carries the idempotency key and optional context of a refund.
type RefundOptions struct {
	// RefundKey identifies one logical refund; repeated calls with the same
	// key credit the balance at most once.
	RefundKey string
	// Reason is optional free text recorded on the ledger entry.
	Reason string
}

// AddOptions carries the provenance of a manual credit top-up.
type AddOptions struct {
	Source      string // defaults to "manual" when empty
	Reason      string
	ReferenceID string
}

// StarterGrantInfo describes a user's one-time starter grant, if issued.
type StarterGrantInfo struct {
	Credits   int64     `json:"credits"`
	GrantedAt time.Time `json:"granted_at"`
}

// CreditService owns the UserBalance and CreditTransaction records. All
// balance mutations in the system flow through it.
type CreditService struct {
	// DB is the database handle used for all credit operations. It may be a
	// plain *gorm.DB or a transaction-bound handle.
	DB *gorm.DB

	// Log receives one structured entry per swallowed store failure.
	Log zerolog.Logger
}

// ReserveCredits deducts amount from the user's balance ahead of billable
// work and appends a matching negative "reserve" ledger entry. The balance
// row is created on first use.
//
// Returns true when the transaction committed, false on any failure
// (including a non-positive amount, which indicates a caller bug). Never
// returns an error and never panics on store failure.
func (s *CreditService) ReserveCredits(ctx context.Context, userID string, amount int64) bool {
	if amount <= 0 {
		s.Log.Warn().Str("user_id", userID).Int64("amount", amount).
			Msg("reserve rejected: non-positive amount")
		return false
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.AdjustBalance(tx, userID, -amount); err != nil {
			return err
		}
		_, err := repo.AppendTransaction(tx, userID, domain.TxTypeReserve, -amount, SourceGeneration, "", "")
		return err
	})
	if err != nil {
		s.Log.Error().Err(err).Str("user_id", userID).Int64("amount", amount).
			Msg("reserve credits failed")
		return false
	}
	return true
}

// RefundCredits restores amount to the user's balance, idempotently per
// opts.RefundKey. Inside one transaction it checks the refund marker: when
// the marker exists the call commits nothing and reports true (the refund
// was already applied). Otherwise it increments the balance, appends a
// positive "refund" ledger entry carrying the key as ReferenceID, and
// creates the marker.
//
// Returns true on commit or on an idempotent no-op, false on any failure.
func (s *CreditService) RefundCredits(ctx context.Context, userID string, amount int64, opts RefundOptions) bool {
	if amount <= 0 {
		s.Log.Warn().Str("user_id", userID).Int64("amount", amount).
			Str("refund_key", opts.RefundKey).
			Msg("refund rejected: non-positive amount")
		return false
	}
	if opts.RefundKey == "" {
		s.Log.Warn().Str("user_id", userID).Int64("amount", amount).
			Msg("refund rejected: missing refund key")
		return false
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		applied, err := repo.RefundMarkerExists(tx, opts.RefundKey)
		if err != nil {
			return err
		}
		if applied {
			return nil
		}
		if err := repo.AdjustBalance(tx, userID, amount); err != nil {
			return err
		}
		if _, err := repo.AppendTransaction(tx, userID, domain.TxTypeRefund, amount, SourceGeneration, opts.Reason, opts.RefundKey); err != nil {
			return err
		}
		return repo.CreateRefundMarker(tx, opts.RefundKey, userID)
	})
	if err != nil {
		s.Log.Error().Err(err).Str("user_id", userID).Int64("amount", amount).
			Str("refund_key", opts.RefundKey).
			Msg("refund credits failed")
		return false
	}
	return true
}

// AddCredits tops up the user's balance by amount (creating the balance row
// when absent) and appends an "add" ledger entry with the supplied
// provenance. Returns true on commit, false on any failure.
func (s *CreditService) AddCredits(ctx context.Context, userID string, amount int64, opts AddOptions) bool {
	if amount <= 0 {
		s.Log.Warn().Str("user_id", userID).Int64("amount", amount).
			Msg("add rejected: non-positive amount")
		return false
	}
	source := opts.Source
	if source == "" {
		source = SourceManual
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.AdjustBalance(tx, userID, amount); err != nil {
			return err
		}
		_, err := repo.AppendTransaction(tx, userID, domain.TxTypeAdd, amount, source, opts.Reason, opts.ReferenceID)
		return err
	})
	if err != nil {
		s.Log.Error().Err(err).Str("user_id", userID).Int64("amount", amount).
			Str("source", source).
			Msg("add credits failed")
		return false
	}
	return true
}

// EnsureStarterGrant issues the one-time starter grant to a real user
// account. API-key pseudo-identities never receive a grant. The grant check
// and the grant itself run in one transaction, so concurrent calls cannot
// both win.
//
// Returns true exactly once per user: the call that issued the grant. Every
// other outcome — already granted, API-key identity, store failure — is
// false.
func (s *CreditService) EnsureStarterGrant(ctx context.Context, userID string, amount int64) bool {
	if domain.IsAPIKeyIdentity(userID) {
		return false
	}
	if amount <= 0 {
		s.Log.Warn().Str("user_id", userID).Int64("amount", amount).
			Msg("starter grant rejected: non-positive amount")
		return false
	}

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		b, err := repo.GetBalance(ctx, tx, userID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if b != nil && b.StarterGrantCredits != nil {
			return errAlreadyGranted
		}
		if err := repo.ApplyStarterGrant(tx, userID, amount, time.Now().UTC()); err != nil {
			return err
		}
		_, err = repo.AppendTransaction(tx, userID, domain.TxTypeStarterGrant, amount, SourceStarterGrant, "", "")
		return err
	})
	switch {
	case err == nil:
		return true
	case errors.Is(err, errAlreadyGranted):
		return false
	default:
		s.Log.Error().Err(err).Str("user_id", userID).Int64("amount", amount).
			Msg("starter grant failed")
		return false
	}
}

// ListCreditTransactions returns the limit most recent ledger entries for a
// user, newest first. A non-positive limit falls back to 50.
func (s *CreditService) ListCreditTransactions(ctx context.Context, userID string, limit int) ([]domain.CreditTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	return repo.ListTransactions(ctx, s.DB, userID, limit)
}

// GetBalance returns the user's current balance, or zero when no balance
// row exists yet (a user who never touched credits simply has none).
func (s *CreditService) GetBalance(ctx context.Context, userID string) (int64, error) {
	b, err := repo.GetBalance(ctx, s.DB, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return b.Credits, nil
}

// GetStarterGrantInfo reports the user's starter grant, or nil when no grant
// has been issued.
func (s *CreditService) GetStarterGrantInfo(ctx context.Context, userID string) (*StarterGrantInfo, error) {
	b, err := repo.GetBalance(ctx, s.DB, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if b.StarterGrantCredits == nil || b.StarterGrantGrantedAt == nil {
		return nil, nil
	}
	return &StarterGrantInfo{
		Credits:   *b.StarterGrantCredits,
		GrantedAt: *b.StarterGrantGrantedAt,
	}, nil
}
