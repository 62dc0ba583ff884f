package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pkaramol/go-credits-backend/internal/domain"
	"github.com/pkaramol/go-credits-backend/internal/services"
)

// fakeCredits is a scriptable CreditReader.
type fakeCredits struct {
	balance    int64
	balanceErr error
	grantInfo  *services.StarterGrantInfo
	txs        []domain.CreditTransaction
	listErr    error
	granted    bool
	addOK      bool

	lastLimit  int
	lastUser   string
	lastAmount int64
	lastOpts   services.AddOptions
}

func (f *fakeCredits) GetBalance(_ context.Context, userID string) (int64, error) {
	f.lastUser = userID
	return f.balance, f.balanceErr
}

func (f *fakeCredits) GetStarterGrantInfo(_ context.Context, _ string) (*services.StarterGrantInfo, error) {
	return f.grantInfo, nil
}

func (f *fakeCredits) ListCreditTransactions(_ context.Context, userID string, limit int) ([]domain.CreditTransaction, error) {
	f.lastUser = userID
	f.lastLimit = limit
	return f.txs, f.listErr
}

func (f *fakeCredits) EnsureStarterGrant(_ context.Context, userID string, amount int64) bool {
	f.lastUser = userID
	f.lastAmount = amount
	return f.granted
}

func (f *fakeCredits) AddCredits(_ context.Context, userID string, amount int64, opts services.AddOptions) bool {
	f.lastUser = userID
	f.lastAmount = amount
	f.lastOpts = opts
	return f.addOK
}

func newTestRouter(f *fakeCredits) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := New(f, 100)
	r.GET("/credits/balance", h.GetBalance)
	r.GET("/credits/transactions", h.ListTransactions)
	r.POST("/credits/grant", h.EnsureStarterGrant)
	r.POST("/credits/add", h.AddCredits)
	return r
}

func doRequest(r *gin.Engine, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestGetBalance(t *testing.T) {
	f := &fakeCredits{balance: 70, grantInfo: &services.StarterGrantInfo{Credits: 100, GrantedAt: time.Now()}}
	r := newTestRouter(f)

	w := doRequest(r, http.MethodGet, "/credits/balance", "", map[string]string{"X-User-ID": "u1"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp BalanceResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.UserID != "u1" || resp.Credits != 70 {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.StarterGrant == nil || resp.StarterGrant.Credits != 100 {
		t.Fatalf("starter grant missing from response: %+v", resp)
	}
}

func TestGetBalance_ServiceError(t *testing.T) {
	f := &fakeCredits{balanceErr: errors.New("db down")}
	r := newTestRouter(f)

	w := doRequest(r, http.MethodGet, "/credits/balance", "", nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}

	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Code != ErrCodeInternal {
		t.Fatalf("code = %q, want %q", resp.Code, ErrCodeInternal)
	}
}

func TestGetBalance_DefaultUser(t *testing.T) {
	f := &fakeCredits{}
	r := newTestRouter(f)

	doRequest(r, http.MethodGet, "/credits/balance", "", nil)
	if f.lastUser != "demo-user" {
		t.Fatalf("user = %q, want demo-user fallback", f.lastUser)
	}
}

func TestListTransactions_LimitClamped(t *testing.T) {
	f := &fakeCredits{}
	r := newTestRouter(f)

	cases := map[string]int{
		"":                50,
		"?limit=10":       10,
		"?limit=0":        1,
		"?limit=9999":     200,
		"?limit=notanint": 50,
	}
	for query, want := range cases {
		w := doRequest(r, http.MethodGet, "/credits/transactions"+query, "", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("%q: status = %d", query, w.Code)
		}
		if f.lastLimit != want {
			t.Fatalf("%q: limit = %d, want %d", query, f.lastLimit, want)
		}
	}
}

func TestListTransactions_EmptyIsArrayNotNull(t *testing.T) {
	f := &fakeCredits{txs: nil}
	r := newTestRouter(f)

	w := doRequest(r, http.MethodGet, "/credits/transactions", "", nil)
	if !strings.Contains(w.Body.String(), `"transactions":[]`) {
		t.Fatalf("empty list must serialize as [], got %s", w.Body.String())
	}
}

func TestEnsureStarterGrant(t *testing.T) {
	f := &fakeCredits{granted: true}
	r := newTestRouter(f)

	w := doRequest(r, http.MethodPost, "/credits/grant", "", map[string]string{"X-User-ID": "u1"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp GrantResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Granted || resp.Credits != 100 {
		t.Fatalf("resp = %+v, want granted with 100 credits", resp)
	}
	if f.lastAmount != 100 {
		t.Fatalf("configured grant amount not forwarded: %d", f.lastAmount)
	}

	// A repeat grant is still HTTP 200, just granted=false without credits.
	f.granted = false
	w = doRequest(r, http.MethodPost, "/credits/grant", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("repeat status = %d, want 200", w.Code)
	}
	resp = GrantResponse{}
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Granted || resp.Credits != 0 {
		t.Fatalf("repeat resp = %+v", resp)
	}
}

func TestAddCredits(t *testing.T) {
	f := &fakeCredits{addOK: true}
	r := newTestRouter(f)

	w := doRequest(r, http.MethodPost, "/credits/add",
		`{"amount":25,"source":"promo","reason":"launch","reference_id":"promo-1"}`,
		map[string]string{"X-User-ID": "u1"})
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}
	if f.lastUser != "u1" || f.lastAmount != 25 {
		t.Fatalf("forwarded user/amount = %q/%d", f.lastUser, f.lastAmount)
	}
	if f.lastOpts.Source != "promo" || f.lastOpts.ReferenceID != "promo-1" {
		t.Fatalf("opts = %+v", f.lastOpts)
	}
}

func TestAddCredits_Validation(t *testing.T) {
	f := &fakeCredits{addOK: true}
	r := newTestRouter(f)

	for _, body := range []string{
		``,
		`{}`,
		`{"amount":0}`,
		`{"amount":-5}`,
		`{"amount":"ten"}`,
	} {
		w := doRequest(r, http.MethodPost, "/credits/add", body, nil)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("body %q: status = %d, want 400", body, w.Code)
		}
	}
}

func TestAddCredits_ServiceFailure(t *testing.T) {
	f := &fakeCredits{addOK: false}
	r := newTestRouter(f)

	w := doRequest(r, http.MethodPost, "/credits/add", `{"amount":25}`, nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	var resp ErrorResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Code != ErrCodeAddFailed {
		t.Fatalf("code = %q, want %q", resp.Code, ErrCodeAddFailed)
	}
}
