package repo

import (
	"context"
	"testing"

	"github.com/pkaramol/go-credits-backend/internal/domain"
)

func TestAppendAndListTransactions(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	first, err := AppendTransaction(db, "u1", domain.TxTypeAdd, 100, "manual", "top-up", "")
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if first.ID == "" {
		t.Fatalf("ledger entry must get a generated id")
	}
	if _, err := AppendTransaction(db, "u1", domain.TxTypeReserve, -30, "generation", "", "job:1"); err != nil {
		t.Fatalf("append reserve: %v", err)
	}
	if _, err := AppendTransaction(db, "u2", domain.TxTypeAdd, 5, "manual", "", ""); err != nil {
		t.Fatalf("append other user: %v", err)
	}

	txs, err := ListTransactions(ctx, db, "u1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(txs) != 2 {
		t.Fatalf("len = %d, want 2 (other users excluded)", len(txs))
	}

	total, err := CountTransactions(ctx, db, "u1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if total != 2 {
		t.Fatalf("count = %d, want 2", total)
	}
}

func TestListTransactions_LimitAndOrder(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := AppendTransaction(db, "u1", domain.TxTypeAdd, int64(i+1), "manual", "", ""); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	txs, err := ListTransactions(ctx, db, "u1", 3)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(txs) != 3 {
		t.Fatalf("len = %d, want 3", len(txs))
	}
	for i := 1; i < len(txs); i++ {
		prev, cur := txs[i-1], txs[i]
		if cur.CreatedAt.After(prev.CreatedAt) {
			t.Fatalf("entries not newest first: %v before %v", prev.CreatedAt, cur.CreatedAt)
		}
		if cur.CreatedAt.Equal(prev.CreatedAt) && cur.ID > prev.ID {
			t.Fatalf("tie-break not by id desc: %q before %q", prev.ID, cur.ID)
		}
	}
}

func TestCountTransactions_MissingTableSurfacesError(t *testing.T) {
	db := newTestDB(t)
	db.Exec("DROP TABLE credit_transactions")

	if _, err := CountTransactions(context.Background(), db, "u1"); err == nil {
		t.Fatalf("expected an error for a missing table")
	}
}
