package bank

import (
	"context"
	"testing"
	"time"

	xerrors "OpenMCP-Bank/internal/errors"
)

func TestMemoryStoreScopesByProfile(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore(DemoDataset(now))
	ctx := context.Background()

	txs, err := store.ListTransactions(ctx, "u2", 50)
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(txs) != 4 {
		t.Fatalf("expected 4 transactions for u2, got %d", len(txs))
	}
	for _, tx := range txs {
		if tx.ProfileID != "u2" {
			t.Fatalf("leaked transaction %s of %s", tx.ID, tx.ProfileID)
		}
		if tx.RecipientName != "Carol" {
			t.Fatalf("expected joined recipient name, got %q", tx.RecipientName)
		}
	}

	recipients, err := store.ListRecipients(ctx, "u1")
	if err != nil {
		t.Fatalf("ListRecipients: %v", err)
	}
	if len(recipients) != 2 || recipients[0].Name != "Alice" {
		t.Fatalf("unexpected recipients: %+v", recipients)
	}
}

func TestMemoryStoreTransactionsNewestFirst(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore(DemoDataset(now))

	txs, err := store.ListTransactions(context.Background(), "u1", 10)
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(txs) != 10 {
		t.Fatalf("expected limit to apply, got %d", len(txs))
	}
	for i := 1; i < len(txs); i++ {
		if txs[i].CreatedAt.After(txs[i-1].CreatedAt) {
			t.Fatalf("transactions not ordered newest first at %d", i)
		}
	}
}

func TestMemoryStoreMissingProfile(t *testing.T) {
	store := NewMemoryStore(Dataset{})
	_, err := store.GetBalance(context.Background(), "ghost")
	if xerrors.CodeOf(err) != xerrors.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestFindRecipientByNameIgnoresCase(t *testing.T) {
	store := NewMemoryStore(DemoDataset(time.Now()))
	r, ok, err := FindRecipientByName(context.Background(), store, "u1", " alice ")
	if err != nil || !ok || r.ID != "rcp-u1-alice" {
		t.Fatalf("unexpected lookup result: %+v ok=%v err=%v", r, ok, err)
	}
	if _, ok, _ := FindRecipientByName(context.Background(), store, "u2", "Alice"); ok {
		t.Fatalf("recipient of another profile must not be found")
	}
}

func TestSummarize(t *testing.T) {
	txs := []Transaction{
		{ProfileID: "u1", Type: TransactionCredit, Amount: 1000, Currency: "USD", Status: "completed"},
		{ProfileID: "u1", Type: TransactionDebit, Amount: 50.25, Currency: "USD", Status: "completed", Category: "dining", RecipientName: "Alice"},
		{ProfileID: "u1", Type: TransactionDebit, Amount: 20, Currency: "USD", Status: "completed", Category: "dining", RecipientName: "Bob"},
		{ProfileID: "u1", Type: TransactionDebit, Amount: 99, Currency: "USD", Status: "failed"},
		{ProfileID: "u2", Type: TransactionDebit, Amount: 500, Currency: "USD", Status: "completed"},
	}
	s := Summarize("u1", 30, txs)
	if s.Count != 3 || s.TotalIn != 1000 || s.TotalOut != 70.25 || s.Net != 929.75 {
		t.Fatalf("unexpected summary: %+v", s)
	}
	if s.ByCategory["dining"] != 70.25 {
		t.Fatalf("unexpected category totals: %+v", s.ByCategory)
	}
	if len(s.TopRecipients) != 2 || s.TopRecipients[0].Name != "Alice" {
		t.Fatalf("unexpected top recipients: %+v", s.TopRecipients)
	}
}
