package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rhinox-exchange/rhinox-v2/pkg/errs"
	"github.com/rhinox-exchange/rhinox-v2/pkg/money"
)

func seedWallet(t *testing.T, store *Storage, id, userID, currency string) {
	t.Helper()
	err := store.CreateWallet(context.Background(), &Wallet{
		ID: id, UserID: userID, Currency: currency,
		Kind: WalletKindFiat, IsActive: true, CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("CreateWallet(%s) error = %v", id, err)
	}
}

func TestTransactionInsertAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedUser(t, store, "user-1")
	seedWallet(t, store, "wallet-1", "user-1", "NGN")

	now := time.Now()
	entry := &Transaction{
		ID:        "tx-1",
		WalletID:  "wallet-1",
		Type:      TxTypeDeposit,
		Status:    TxStatusCompleted,
		Amount:    money.MustParse("5000"),
		Currency:  "NGN",
		Fee:       money.Zero(),
		Reference: "TXN-ABC-0001",
		Channel:   "bank",
		Metadata:  map[string]string{"source": "test"},
		CreatedAt: now,
	}
	completed := now
	entry.CompletedAt = &completed

	if err := store.InsertTransaction(ctx, entry); err != nil {
		t.Fatalf("InsertTransaction() error = %v", err)
	}

	got, err := store.GetTransaction(ctx, "tx-1")
	if err != nil {
		t.Fatalf("GetTransaction() error = %v", err)
	}
	if !got.Amount.Equal(money.MustParse("5000")) {
		t.Errorf("Amount = %s, want 5000", got.Amount)
	}
	if got.Metadata["source"] != "test" {
		t.Errorf("Metadata = %v, want source=test", got.Metadata)
	}

	byRef, err := store.GetTransactionByReference(ctx, "TXN-ABC-0001")
	if err != nil {
		t.Fatalf("GetTransactionByReference() error = %v", err)
	}
	if byRef.ID != "tx-1" {
		t.Errorf("ID = %s, want tx-1", byRef.ID)
	}
}

func TestTransactionReferenceUnique(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedUser(t, store, "user-1")
	seedWallet(t, store, "wallet-1", "user-1", "NGN")

	base := &Transaction{
		WalletID: "wallet-1", Type: TxTypeDeposit, Status: TxStatusCompleted,
		Amount: money.MustParse("1"), Currency: "NGN", Fee: money.Zero(),
		Reference: "TXN-DUP", CreatedAt: time.Now(),
	}

	first := *base
	first.ID = "tx-1"
	if err := store.InsertTransaction(ctx, &first); err != nil {
		t.Fatalf("InsertTransaction() error = %v", err)
	}

	second := *base
	second.ID = "tx-2"
	if err := store.InsertTransaction(ctx, &second); !errors.Is(err, errs.ErrDuplicateKey) {
		t.Errorf("duplicate reference error = %v, want ErrDuplicateKey", err)
	}
}

func TestTransactionListAndSum(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedUser(t, store, "user-1")
	seedWallet(t, store, "wallet-1", "user-1", "NGN")

	now := time.Now()
	entries := []struct {
		id     string
		amount string
		fee    string
		status TxStatus
	}{
		{"tx-1", "5000", "0", TxStatusCompleted},
		{"tx-2", "-2000", "50", TxStatusCompleted},
		{"tx-3", "700", "0", TxStatusPending},
	}
	for i, e := range entries {
		tx := &Transaction{
			ID: e.id, WalletID: "wallet-1", Type: TxTypeTransfer, Status: e.status,
			Amount: money.MustParse(e.amount), Currency: "NGN", Fee: money.MustParse(e.fee),
			Reference: "TXN-" + e.id, CreatedAt: now.Add(time.Duration(i) * time.Second),
		}
		if err := store.InsertTransaction(ctx, tx); err != nil {
			t.Fatalf("InsertTransaction(%s) error = %v", e.id, err)
		}
	}

	completed, err := store.ListTransactions(ctx, TransactionFilter{
		WalletIDs: []string{"wallet-1"},
		Status:    TxStatusCompleted,
	})
	if err != nil {
		t.Fatalf("ListTransactions() error = %v", err)
	}
	if len(completed) != 2 {
		t.Fatalf("completed count = %d, want 2", len(completed))
	}

	// 5000 - 2000 - 50 fee = 2950
	sum, err := store.SumCompletedAmounts(ctx, "wallet-1")
	if err != nil {
		t.Fatalf("SumCompletedAmounts() error = %v", err)
	}
	if !sum.Equal(money.MustParse("2950")) {
		t.Errorf("sum = %s, want 2950", sum)
	}
}

func TestTransactionDateRangeFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedUser(t, store, "user-1")
	seedWallet(t, store, "wallet-1", "user-1", "NGN")

	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	for i, offset := range []time.Duration{-48 * time.Hour, 0, 48 * time.Hour} {
		tx := &Transaction{
			ID: "tx-" + string(rune('a'+i)), WalletID: "wallet-1",
			Type: TxTypeDeposit, Status: TxStatusCompleted,
			Amount: money.MustParse("10"), Currency: "NGN", Fee: money.Zero(),
			Reference: "TXN-range-" + string(rune('a'+i)), CreatedAt: base.Add(offset),
		}
		if err := store.InsertTransaction(ctx, tx); err != nil {
			t.Fatalf("InsertTransaction() error = %v", err)
		}
	}

	start := base.Add(-time.Hour)
	end := base.Add(time.Hour)
	got, err := store.ListTransactions(ctx, TransactionFilter{
		WalletIDs: []string{"wallet-1"},
		Start:     &start,
		End:       &end,
	})
	if err != nil {
		t.Fatalf("ListTransactions() error = %v", err)
	}
	if len(got) != 1 {
		t.Errorf("in-range count = %d, want 1", len(got))
	}
}
