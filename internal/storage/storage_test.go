package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rhinox-exchange/rhinox-v2/pkg/errs"
	"github.com/rhinox-exchange/rhinox-v2/pkg/money"
)

func newTestStore(t *testing.T) *Storage {
	t.Helper()
	store, err := New(&Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func seedUser(t *testing.T, store *Storage, id string) {
	t.Helper()
	err := store.CreateUser(context.Background(), &User{
		ID:        id,
		Email:     id + "@example.com",
		Phone:     "+234" + id,
		CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("CreateUser(%s) error = %v", id, err)
	}
}

func TestWalletCRUD(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedUser(t, store, "user-1")

	w := &Wallet{
		ID:            "wallet-1",
		UserID:        "user-1",
		Currency:      "NGN",
		Kind:          WalletKindFiat,
		Balance:       money.MustParse("1000"),
		LockedBalance: money.MustParse("250"),
		IsActive:      true,
		CreatedAt:     time.Now(),
	}
	if err := store.CreateWallet(ctx, w); err != nil {
		t.Fatalf("CreateWallet() error = %v", err)
	}

	got, err := store.GetWallet(ctx, "wallet-1")
	if err != nil {
		t.Fatalf("GetWallet() error = %v", err)
	}
	if !got.Balance.Equal(money.MustParse("1000")) {
		t.Errorf("Balance = %s, want 1000", got.Balance)
	}
	if !got.Available().Equal(money.MustParse("750")) {
		t.Errorf("Available = %s, want 750", got.Available())
	}

	byCurrency, err := store.GetWalletByUserCurrency(ctx, "user-1", "NGN")
	if err != nil {
		t.Fatalf("GetWalletByUserCurrency() error = %v", err)
	}
	if byCurrency.ID != "wallet-1" {
		t.Errorf("ID = %s, want wallet-1", byCurrency.ID)
	}

	_, err = store.GetWallet(ctx, "missing")
	if !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("GetWallet(missing) error = %v, want ErrNotFound", err)
	}
}

func TestWalletUniqueness(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedUser(t, store, "user-1")

	first := &Wallet{
		ID: "wallet-1", UserID: "user-1", Currency: "NGN",
		Kind: WalletKindFiat, IsActive: true, CreatedAt: time.Now(),
	}
	if err := store.CreateWallet(ctx, first); err != nil {
		t.Fatalf("CreateWallet() error = %v", err)
	}

	dup := &Wallet{
		ID: "wallet-2", UserID: "user-1", Currency: "NGN",
		Kind: WalletKindFiat, IsActive: true, CreatedAt: time.Now(),
	}
	err := store.CreateWallet(ctx, dup)
	if !errors.Is(err, errs.ErrDuplicateKey) {
		t.Errorf("duplicate wallet error = %v, want ErrDuplicateKey", err)
	}
}

func TestWalletBalanceUpdateRequiresScope(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedUser(t, store, "user-1")

	w := &Wallet{
		ID: "wallet-1", UserID: "user-1", Currency: "NGN",
		Kind: WalletKindFiat, IsActive: true, CreatedAt: time.Now(),
	}
	if err := store.CreateWallet(ctx, w); err != nil {
		t.Fatalf("CreateWallet() error = %v", err)
	}

	err := store.UpdateWalletBalances(ctx, "wallet-1", money.MustParse("10"), money.Zero())
	if !errors.Is(err, errs.ErrInternal) {
		t.Errorf("out-of-scope update error = %v, want ErrInternal", err)
	}

	err = store.WithTx(ctx, func(tx *Storage) error {
		return tx.UpdateWalletBalances(ctx, "wallet-1", money.MustParse("10"), money.Zero())
	})
	if err != nil {
		t.Fatalf("in-scope update error = %v", err)
	}

	got, _ := store.GetWallet(ctx, "wallet-1")
	if !got.Balance.Equal(money.MustParse("10")) {
		t.Errorf("Balance = %s, want 10", got.Balance)
	}
}

func TestVirtualAccountCRUD(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedUser(t, store, "user-1")

	a := &VirtualAccount{
		ID:               "va-1",
		UserID:           "user-1",
		Blockchain:       "TRON",
		Currency:         "USDT",
		AccountBalance:   money.MustParse("10"),
		AvailableBalance: money.MustParse("8"),
		IsActive:         true,
		CreatedAt:        time.Now(),
	}
	if err := store.CreateVirtualAccount(ctx, a); err != nil {
		t.Fatalf("CreateVirtualAccount() error = %v", err)
	}

	got, err := store.GetVirtualAccountByUser(ctx, "user-1", "TRON", "USDT")
	if err != nil {
		t.Fatalf("GetVirtualAccountByUser() error = %v", err)
	}
	if !got.FrozenBalance().Equal(money.MustParse("2")) {
		t.Errorf("FrozenBalance = %s, want 2", got.FrozenBalance())
	}

	dup := &VirtualAccount{
		ID: "va-2", UserID: "user-1", Blockchain: "TRON", Currency: "USDT",
		AccountBalance: money.Zero(), AvailableBalance: money.Zero(),
		IsActive: true, CreatedAt: time.Now(),
	}
	if err := store.CreateVirtualAccount(ctx, dup); !errors.Is(err, errs.ErrDuplicateKey) {
		t.Errorf("duplicate account error = %v, want ErrDuplicateKey", err)
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedUser(t, store, "user-1")

	w := &Wallet{
		ID: "wallet-1", UserID: "user-1", Currency: "NGN",
		Kind: WalletKindFiat, IsActive: true, CreatedAt: time.Now(),
	}
	if err := store.CreateWallet(ctx, w); err != nil {
		t.Fatalf("CreateWallet() error = %v", err)
	}

	wantErr := errors.New("boom")
	err := store.WithTx(ctx, func(tx *Storage) error {
		if err := tx.UpdateWalletBalances(ctx, "wallet-1", money.MustParse("999"), money.Zero()); err != nil {
			return err
		}
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("WithTx error = %v, want boom", err)
	}

	got, _ := store.GetWallet(ctx, "wallet-1")
	if !got.Balance.IsZero() {
		t.Errorf("Balance after rollback = %s, want 0", got.Balance)
	}
}

func TestAuthTokens(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedUser(t, store, "user-1")

	if err := store.InsertAuthToken(ctx, "tok-1", "user-1", nil); err != nil {
		t.Fatalf("InsertAuthToken() error = %v", err)
	}

	u, err := store.GetUserByToken(ctx, "tok-1")
	if err != nil {
		t.Fatalf("GetUserByToken() error = %v", err)
	}
	if u.ID != "user-1" {
		t.Errorf("user = %s, want user-1", u.ID)
	}

	if _, err := store.GetUserByToken(ctx, "unknown"); !errors.Is(err, errs.ErrUnauthenticated) {
		t.Errorf("unknown token error = %v, want ErrUnauthenticated", err)
	}

	expired := time.Now().Add(-time.Hour)
	if err := store.InsertAuthToken(ctx, "tok-2", "user-1", &expired); err != nil {
		t.Fatalf("InsertAuthToken() error = %v", err)
	}
	if _, err := store.GetUserByToken(ctx, "tok-2"); !errors.Is(err, errs.ErrUnauthenticated) {
		t.Errorf("expired token error = %v, want ErrUnauthenticated", err)
	}
}
