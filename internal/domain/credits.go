// Package domain defines the persistence models for the credit ledger:
// per-user balances, the append-only credit transaction log, refund
// idempotency markers, and the refund failure queue. These types are mapped
// with GORM and form the core data layer of the credits backend.
package domain

import (
	"strings"
	"time"
)

// Credit transaction types. Every balance mutation appends exactly one
// ledger entry carrying one of these types.
const (
	TxTypeReserve      = "reserve"
	TxTypeRefund       = "refund"
	TxTypeAdd          = "add"
	TxTypeStarterGrant = "starter_grant"
)

// Refund failure lifecycle states. The only legal transitions are
// pending→processing (claim), processing→pending (release, attempts+1),
// processing→resolved, and pending/processing→escalated. resolved and
// escalated are terminal for the claim cycle; resolved is immutable.
const (
	FailureStatusPending    = "pending"
	FailureStatusProcessing = "processing"
	FailureStatusResolved   = "resolved"
	FailureStatusEscalated  = "escalated"
)

// APIKeyIDPrefix marks pseudo-identities that represent API-key callers
// rather than real user accounts. Starter grants are never issued to them.
const APIKeyIDPrefix = "api-key:"

// IsAPIKeyIdentity reports whether userID is an API-key pseudo-identity.
func IsAPIKeyIdentity(userID string) bool {
	return strings.HasPrefix(userID, APIKeyIDPrefix)
}

// UserBalance is the single mutable credits record per user. It is created
// lazily by the first credit-affecting operation and only ever mutated
// inside a transaction together with its ledger entry.
//
// Fields:
//   - UserID: primary key; either a real account id or an API-key identity.
//   - Credits: current consumable balance. May go negative transiently when
//     a reservation races an exhausted balance; callers gate on it upstream.
//   - StarterGrantCredits / StarterGrantGrantedAt: set exactly once when the
//     one-time starter grant is issued; their presence is the grant's
//     idempotency check.
type UserBalance struct {
	UserID                string     `json:"user_id"               gorm:"type:varchar(64);primaryKey"`
	Credits               int64      `json:"credits"               gorm:"not null;default:0"`
	StarterGrantCredits   *int64     `json:"starter_grant_credits,omitempty"`
	StarterGrantGrantedAt *time.Time `json:"starter_grant_granted_at,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// TableName returns the database table name for UserBalance.
func (UserBalance) TableName() string { return "user_balances" }

// CreditTransaction is one immutable, append-only ledger entry. The sum of
// Amount over a user's entries always equals that user's current balance.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - UserID: owner of the entry; indexed together with CreatedAt so the
//     "newest first" listing is a single index walk.
//   - Type: one of the TxType* constants.
//   - Amount: signed delta applied to the balance (reserves are negative).
//   - Source: originating feature, e.g. "generation" or "admin".
//   - Reason: optional free-text context.
//   - ReferenceID: optional correlation id; for refunds this is the refund
//     idempotency key.
type CreditTransaction struct {
	ID          string    `json:"id"           gorm:"type:char(36);primaryKey"`
	UserID      string    `json:"user_id"      gorm:"type:varchar(64);not null;index:idx_user_tx,priority:1"`
	Type        string    `json:"type"         gorm:"type:varchar(16);not null;check:type IN ('reserve','refund','add','starter_grant')"`
	Amount      int64     `json:"amount"       gorm:"not null"`
	Source      string    `json:"source"       gorm:"type:varchar(64);not null"`
	Reason      string    `json:"reason,omitempty"       gorm:"type:varchar(255)"`
	ReferenceID string    `json:"reference_id,omitempty" gorm:"type:varchar(255);index"`
	CreatedAt   time.Time `json:"created_at"   gorm:"index:idx_user_tx,priority:2"`
}

// TableName returns the database table name for CreditTransaction.
func (CreditTransaction) TableName() string { return "credit_transactions" }

// RefundMarker is an existence-only idempotency record: one row per refund
// key, created in the same transaction as the balance increment it guards.
// If the row exists, the refund has already been applied.
type RefundMarker struct {
	RefundKey string    `json:"refund_key" gorm:"type:varchar(255);primaryKey"`
	UserID    string    `json:"user_id"    gorm:"type:varchar(64);not null"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for RefundMarker.
func (RefundMarker) TableName() string { return "refund_markers" }

// RefundFailure is one durable dead-letter record per refund key: a refund
// that exhausted its synchronous retries and awaits background recovery.
//
// Fields:
//   - RefundKey: primary key; same key space as RefundMarker.
//   - Attempts: background retry count. Refreshing an existing failure via
//     upsert preserves it; only release/escalate increment it.
//   - Metadata: optional caller-supplied context, JSON-encoded.
//   - CreatedAt: claim order; the sweeper drains oldest first.
type RefundFailure struct {
	RefundKey string    `json:"refund_key" gorm:"type:varchar(255);primaryKey"`
	UserID    string    `json:"user_id"    gorm:"type:varchar(64);not null;index"`
	Amount    int64     `json:"amount"     gorm:"not null"`
	Reason    string    `json:"reason,omitempty"     gorm:"type:varchar(255)"`
	Status    string    `json:"status"     gorm:"type:varchar(16);not null;index;check:status IN ('pending','processing','resolved','escalated')"`
	Attempts  int       `json:"attempts"   gorm:"not null;default:0"`
	LastError string    `json:"last_error,omitempty" gorm:"type:varchar(512)"`
	Metadata  string    `json:"metadata,omitempty"   gorm:"type:text"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for RefundFailure.
func (RefundFailure) TableName() string { return "refund_failures" }
