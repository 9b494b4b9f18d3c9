package wallet

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rhinox-exchange/rhinox-v2/internal/clock"
	"github.com/rhinox-exchange/rhinox-v2/internal/rates"
	"github.com/rhinox-exchange/rhinox-v2/internal/storage"
	"github.com/rhinox-exchange/rhinox-v2/pkg/errs"
	"github.com/rhinox-exchange/rhinox-v2/pkg/money"
)

func setup(t *testing.T) (*Service, *storage.Storage, *rates.Service) {
	t.Helper()
	store, err := storage.New(&storage.Config{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	clk := &clock.Fixed{T: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	rateSvc := rates.New(store, clk)
	svc := New(store, rateSvc, clk)

	require.NoError(t, store.CreateUser(context.Background(), &storage.User{
		ID: "user-1", Email: "u1@example.com", Phone: "+2341", CreatedAt: time.Now(),
	}))
	return svc, store, rateSvc
}

func TestCreateFiatWallet(t *testing.T) {
	svc, _, _ := setup(t)
	ctx := context.Background()

	w, err := svc.CreateFiatWallet(ctx, "user-1", "NGN")
	require.NoError(t, err)
	require.Equal(t, storage.WalletKindFiat, w.Kind)
	require.True(t, w.Balance.IsZero())

	_, err = svc.CreateFiatWallet(ctx, "user-1", "NGN")
	require.ErrorIs(t, err, errs.ErrDuplicateKey)

	_, err = svc.CreateFiatWallet(ctx, "user-1", "XXX")
	require.ErrorIs(t, err, errs.ErrInvalidInput)

	_, err = svc.CreateFiatWallet(ctx, "ghost", "USD")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestCreateVirtualAccount(t *testing.T) {
	svc, _, _ := setup(t)
	ctx := context.Background()

	a, err := svc.CreateVirtualAccount(ctx, "user-1", "TRON", "USDT")
	require.NoError(t, err)
	require.True(t, a.AccountBalance.IsZero())

	_, err = svc.CreateVirtualAccount(ctx, "user-1", "TRON", "USDT")
	require.ErrorIs(t, err, errs.ErrDuplicateKey)

	_, err = svc.CreateVirtualAccount(ctx, "user-1", "TRON", "DOGE")
	require.ErrorIs(t, err, errs.ErrInvalidInput)
}

func TestGetBalancesNormalizesUSD(t *testing.T) {
	svc, store, rateSvc := setup(t)
	ctx := context.Background()

	require.NoError(t, store.CreateWallet(ctx, &storage.Wallet{
		ID: "w-ngn", UserID: "user-1", Currency: "NGN",
		Kind:    storage.WalletKindFiat,
		Balance: money.MustParse("150000"), LockedBalance: money.Zero(),
		IsActive: true, CreatedAt: time.Now(),
	}))
	require.NoError(t, store.CreateWallet(ctx, &storage.Wallet{
		ID: "w-usd", UserID: "user-1", Currency: "USD",
		Kind:    storage.WalletKindFiat,
		Balance: money.MustParse("25"), LockedBalance: money.Zero(),
		IsActive: true, CreatedAt: time.Now(),
	}))
	require.NoError(t, store.CreateVirtualAccount(ctx, &storage.VirtualAccount{
		ID: "va-1", UserID: "user-1", Blockchain: "TRON", Currency: "USDT",
		AccountBalance: money.MustParse("10"), AvailableBalance: money.MustParse("10"),
		IsActive: true, CreatedAt: time.Now(),
	}))

	_, err := rateSvc.SetRate(ctx, "NGN", "USD", money.MustParse("0.001"), nil)
	require.NoError(t, err)
	_, err = rateSvc.SetRate(ctx, "USDT", "USD", money.MustParse("1"), nil)
	require.NoError(t, err)

	balances, err := svc.GetBalances(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, balances.Fiat, 2)
	require.Len(t, balances.Crypto, 1)
	// 150000*0.001 + 25 + 10*1 = 185
	require.Equal(t, "185.00", balances.TotalUSD.StringFixed(money.FiatScale))
}

func TestListWalletsExcludesSyntheticAnchors(t *testing.T) {
	svc, store, _ := setup(t)
	ctx := context.Background()

	_, err := svc.CreateFiatWallet(ctx, "user-1", "NGN")
	require.NoError(t, err)
	require.NoError(t, store.CreateWallet(ctx, &storage.Wallet{
		ID: "w-anchor", UserID: "user-1", Currency: "USDT",
		Kind: storage.WalletKindCrypto, IsActive: true, CreatedAt: time.Now(),
	}))

	wallets, err := svc.ListWallets(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, wallets, 1)
	require.Equal(t, "NGN", wallets[0].Currency)
}

func TestProvisionDefaultsIsIdempotent(t *testing.T) {
	svc, store, _ := setup(t)
	ctx := context.Background()

	fiat := []string{"NGN", "USD"}
	crypto := []string{"TRON/USDT", "BITCOIN/BTC"}

	require.NoError(t, svc.ProvisionDefaults(ctx, "user-1", fiat, crypto))
	// Replaying reconciles against existing rows and creates nothing new.
	require.NoError(t, svc.ProvisionDefaults(ctx, "user-1", fiat, crypto))

	wallets, err := store.ListWallets(ctx, "user-1", storage.WalletKindFiat)
	require.NoError(t, err)
	require.Len(t, wallets, 2)

	accounts, err := store.ListVirtualAccounts(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, accounts, 2)
}
