// Credits HTTP handlers.
//
// This file exposes the REST endpoints of the credits API:
//   - GET  /credits/balance       (current balance + starter grant info)
//   - GET  /credits/transactions  (recent ledger entries, newest first)
//   - POST /credits/grant         (issue the one-time starter grant)
//   - POST /credits/add           (manual top-up)
//
// Handlers are transport-thin: they validate input, delegate to the
// CreditService, and translate outcomes into HTTP results. Reservations and
// refunds have no endpoint here on purpose — they are invoked in-process by
// the generation workflows through the refund guard.
package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/pkaramol/go-credits-backend/internal/domain"
	"github.com/pkaramol/go-credits-backend/internal/services"
	"github.com/pkaramol/go-credits-backend/internal/utils"
)

// CreditReader is the read/grant slice of the credit service the handlers use.
type CreditReader interface {
	GetBalance(ctx context.Context, userID string) (int64, error)
	GetStarterGrantInfo(ctx context.Context, userID string) (*services.StarterGrantInfo, error)
	ListCreditTransactions(ctx context.Context, userID string, limit int) ([]domain.CreditTransaction, error)
	EnsureStarterGrant(ctx context.Context, userID string, amount int64) bool
	AddCredits(ctx context.Context, userID string, amount int64, opts services.AddOptions) bool
}

// Handlers bundles the API endpoints and their service dependencies.
type Handlers struct {
	credits      CreditReader
	starterGrant int64
}

// New constructs a Handlers instance bound to the given credit service and
// the configured starter grant amount.
func New(credits CreditReader, starterGrant int64) *Handlers {
	return &Handlers{credits: credits, starterGrant: starterGrant}
}

// userID extracts the authenticated user id from Gin context (set by upstream
// middleware). If absent, it falls back to the "X-User-ID" header, and
// finally to "demo-user".
func userID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
			return h
		}
	}
	return "demo-user"
}

// BalanceResponse is the payload of GET /credits/balance.
type BalanceResponse struct {
	UserID       string                     `json:"user_id"`
	Credits      int64                      `json:"credits"`
	StarterGrant *services.StarterGrantInfo `json:"starter_grant,omitempty"`
}

// GetBalance returns the caller's current balance and starter grant info.
func (h *Handlers) GetBalance(c *gin.Context) {
	uid := userID(c)

	credits, err := h.credits.GetBalance(c.Request.Context(), uid)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not load balance")
		return
	}
	grant, err := h.credits.GetStarterGrantInfo(c.Request.Context(), uid)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "could not load balance")
		return
	}

	ok(c, http.StatusOK, BalanceResponse{UserID: uid, Credits: credits, StarterGrant: grant})
}

// TransactionsResponse is the payload of GET /credits/transactions.
type TransactionsResponse struct {
	UserID       string                     `json:"user_id"`
	Transactions []domain.CreditTransaction `json:"transactions"`
}

// ListTransactions returns the caller's most recent ledger entries, newest
// first. The `limit` query parameter is clamped to [1,200] with a default
// of 50.
func (h *Handlers) ListTransactions(c *gin.Context) {
	uid := userID(c)

	limit := utils.ClampInt(utils.AtoiDefault(c.Query("limit"), 50), 1, 200)

	txs, err := h.credits.ListCreditTransactions(c.Request.Context(), uid, limit)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, "could not list transactions")
		return
	}
	if txs == nil {
		txs = []domain.CreditTransaction{}
	}

	ok(c, http.StatusOK, TransactionsResponse{UserID: uid, Transactions: txs})
}

// GrantResponse is the payload of POST /credits/grant.
type GrantResponse struct {
	UserID  string `json:"user_id"`
	Granted bool   `json:"granted"`
	Credits int64  `json:"credits,omitempty"`
}

// EnsureStarterGrant issues the caller's one-time starter grant. Granted is
// true only on the call that issued it; repeat calls and API-key identities
// get false with HTTP 200 (the outcome is not an error, just "nothing to do").
func (h *Handlers) EnsureStarterGrant(c *gin.Context) {
	uid := userID(c)

	granted := h.credits.EnsureStarterGrant(c.Request.Context(), uid, h.starterGrant)
	resp := GrantResponse{UserID: uid, Granted: granted}
	if granted {
		resp.Credits = h.starterGrant
	}
	ok(c, http.StatusOK, resp)
}

// AddCreditsRequest is the JSON payload for a manual top-up.
type AddCreditsRequest struct {
	Amount      int64  `json:"amount" binding:"required,gt=0"`
	Source      string `json:"source,omitempty"`
	Reason      string `json:"reason,omitempty"`
	ReferenceID string `json:"reference_id,omitempty"`
}

// AddCredits tops up the caller's balance.
func (h *Handlers) AddCredits(c *gin.Context) {
	var req AddCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "amount must be a positive integer")
		return
	}

	uid := userID(c)
	if !h.credits.AddCredits(c.Request.Context(), uid, req.Amount, services.AddOptions{
		Source:      req.Source,
		Reason:      req.Reason,
		ReferenceID: req.ReferenceID,
	}) {
		fail(c, http.StatusInternalServerError, ErrCodeAddFailed, "could not add credits")
		return
	}

	c.Status(http.StatusNoContent)
}
