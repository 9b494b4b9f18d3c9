package p2p

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rhinox-exchange/rhinox-v2/internal/clock"
	"github.com/rhinox-exchange/rhinox-v2/internal/ledger"
	"github.com/rhinox-exchange/rhinox-v2/internal/rates"
	"github.com/rhinox-exchange/rhinox-v2/internal/reserve"
	"github.com/rhinox-exchange/rhinox-v2/internal/storage"
	"github.com/rhinox-exchange/rhinox-v2/internal/transfer"
	"github.com/rhinox-exchange/rhinox-v2/pkg/errs"
	"github.com/rhinox-exchange/rhinox-v2/pkg/money"
)

type fixture struct {
	engine *Engine
	store  *storage.Storage
	clk    *clock.Fixed
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.New(&storage.Config{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	clk := &clock.Fixed{T: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	ledgerSvc := ledger.New(clk)
	reserveEng := reserve.New()
	rateSvc := rates.New(store, clk)
	transferExec := transfer.New(store, ledgerSvc, reserveEng, rateSvc)

	engine := NewEngine(&Config{
		Store:    store,
		Ledger:   ledgerSvc,
		Reserve:  reserveEng,
		Transfer: transferExec,
		Clock:    clk,
	})
	return &fixture{engine: engine, store: store, clk: clk}
}

func (f *fixture) user(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, f.store.CreateUser(context.Background(), &storage.User{
		ID: id, Email: id + "@example.com", Phone: "+234" + id, CreatedAt: f.clk.Now(),
	}))
}

func (f *fixture) bankMethod(t *testing.T, id, userID, bank string) {
	t.Helper()
	require.NoError(t, f.store.CreatePaymentMethod(context.Background(), &storage.PaymentMethod{
		ID: id, UserID: userID, Type: storage.MethodBankAccount,
		BankName: bank, IsActive: true, CreatedAt: f.clk.Now(),
	}))
}

func (f *fixture) rhinoxMethod(t *testing.T, id, userID, currency string) {
	t.Helper()
	require.NoError(t, f.store.CreatePaymentMethod(context.Background(), &storage.PaymentMethod{
		ID: id, UserID: userID, Type: storage.MethodRhinoxpay,
		Currency: currency, IsActive: true, CreatedAt: f.clk.Now(),
	}))
}

func (f *fixture) virtualAccount(t *testing.T, id, userID, amount string) {
	t.Helper()
	require.NoError(t, f.store.CreateVirtualAccount(context.Background(), &storage.VirtualAccount{
		ID: id, UserID: userID, Blockchain: "TRON", Currency: "USDT",
		AccountBalance:   money.MustParse(amount),
		AvailableBalance: money.MustParse(amount),
		IsActive:         true, CreatedAt: f.clk.Now(),
	}))
}

func (f *fixture) fiatWallet(t *testing.T, id, userID, currency, amount string) {
	t.Helper()
	require.NoError(t, f.store.CreateWallet(context.Background(), &storage.Wallet{
		ID: id, UserID: userID, Currency: currency,
		Kind:    storage.WalletKindFiat,
		Balance: money.MustParse(amount), LockedBalance: money.Zero(),
		IsActive: true, CreatedAt: f.clk.Now(),
	}))
}

func (f *fixture) sellAd(t *testing.T, vendorID string, autoAccept bool) *storage.Ad {
	t.Helper()
	ad, err := f.engine.CreateAd(context.Background(), vendorID, AdRequest{
		AdType:         storage.AdTypeSell,
		Blockchain:     "TRON",
		CryptoCurrency: "USDT",
		FiatCurrency:   "NGN",
		Price:          money.MustParse("1500"),
		Volume:         money.MustParse("10"),
		MinOrder:       money.MustParse("1500"),
		MaxOrder:       money.MustParse("15000"),
		AutoAccept:     autoAccept,
		PaymentMethods: []string{"pm-vendor"},
		ProcessingTime: 30,
	})
	require.NoError(t, err)
	return ad
}

func (f *fixture) va(t *testing.T, userID string) *storage.VirtualAccount {
	t.Helper()
	a, err := f.store.GetVirtualAccountByUser(context.Background(), userID, "TRON", "USDT")
	require.NoError(t, err)
	return a
}

// sellSetup builds the scenario-1 world: vendor SELL ad with a bank
// method, vendor holds 10 USDT, counterparty holds none.
func sellSetup(t *testing.T) (*fixture, *storage.Ad) {
	f := newFixture(t)
	f.user(t, "vendor")
	f.user(t, "buyer")
	f.bankMethod(t, "pm-vendor", "vendor", "GTBank")
	f.bankMethod(t, "pm-buyer", "buyer", "GTBank")
	f.virtualAccount(t, "va-vendor", "vendor", "10")
	ad := f.sellAd(t, "vendor", false)
	return f, ad
}

func TestResolveRoles(t *testing.T) {
	buy, err := ResolveRoles(storage.AdTypeBuy, "vendor", "counterparty")
	require.NoError(t, err)
	require.Equal(t, "vendor", buy.BuyerID)
	require.Equal(t, "counterparty", buy.SellerID)

	sell, err := ResolveRoles(storage.AdTypeSell, "vendor", "counterparty")
	require.NoError(t, err)
	require.Equal(t, "counterparty", sell.BuyerID)
	require.Equal(t, "vendor", sell.SellerID)

	_, err = ResolveRoles("swap", "vendor", "counterparty")
	require.ErrorIs(t, err, errs.ErrInternal)
}

func TestCreateOrderValidations(t *testing.T) {
	f, ad := sellSetup(t)
	ctx := context.Background()

	// Below minOrder: 0.5 USDT = 750 NGN < 1500.
	_, err := f.engine.CreateOrder(ctx, "buyer", ad.ID, money.MustParse("0.5"), "pm-buyer")
	require.ErrorIs(t, err, errs.ErrInvalidInput)

	// Above maxOrder: 10.5 USDT exceeds volume as well as the cap.
	_, err = f.engine.CreateOrder(ctx, "buyer", ad.ID, money.MustParse("10.5"), "pm-buyer")
	require.ErrorIs(t, err, errs.ErrInvalidInput)

	// Ordering against own ad.
	_, err = f.engine.CreateOrder(ctx, "vendor", ad.ID, money.MustParse("2"), "pm-vendor")
	require.ErrorIs(t, err, errs.ErrInvalidInput)

	// Paused ad refuses orders.
	require.NoError(t, f.engine.UpdateAdStatus(ctx, "vendor", ad.ID, storage.AdStatusPaused))
	_, err = f.engine.CreateOrder(ctx, "buyer", ad.ID, money.MustParse("2"), "pm-buyer")
	require.ErrorIs(t, err, errs.ErrInvalidTransition)
}

func TestCreateOrderExactMinimum(t *testing.T) {
	f, ad := sellSetup(t)

	// 1 USDT = exactly minOrder 1500 NGN.
	order, err := f.engine.CreateOrder(context.Background(), "buyer", ad.ID, money.MustParse("1"), "pm-buyer")
	require.NoError(t, err)
	require.Equal(t, storage.OrderStatusPending, order.Status)
	require.Equal(t, "1500", order.FiatAmount.String())
}

func TestCreateOrderMinEqualsMax(t *testing.T) {
	f := newFixture(t)
	f.user(t, "vendor")
	f.user(t, "buyer")
	f.bankMethod(t, "pm-vendor", "vendor", "GTBank")
	f.bankMethod(t, "pm-buyer", "buyer", "GTBank")
	f.virtualAccount(t, "va-vendor", "vendor", "10")

	ad, err := f.engine.CreateAd(context.Background(), "vendor", AdRequest{
		AdType:         storage.AdTypeSell,
		Blockchain:     "TRON",
		CryptoCurrency: "USDT",
		FiatCurrency:   "NGN",
		Price:          money.MustParse("1500"),
		Volume:         money.MustParse("10"),
		MinOrder:       money.MustParse("3000"),
		MaxOrder:       money.MustParse("3000"),
		PaymentMethods: []string{"pm-vendor"},
		ProcessingTime: 30,
	})
	require.NoError(t, err)

	order, err := f.engine.CreateOrder(context.Background(), "buyer", ad.ID, money.MustParse("2"), "pm-buyer")
	require.NoError(t, err)
	require.Equal(t, "3000", order.FiatAmount.String())

	_, err = f.engine.CreateOrder(context.Background(), "buyer", ad.ID, money.MustParse("1"), "pm-buyer")
	require.ErrorIs(t, err, errs.ErrInvalidInput)
}

func TestCreateOrderRolesStored(t *testing.T) {
	f, ad := sellSetup(t)

	order, err := f.engine.CreateOrder(context.Background(), "buyer", ad.ID, money.MustParse("2"), "pm-buyer")
	require.NoError(t, err)

	// Sell ad: vendor sells, counterparty buys.
	require.Equal(t, "buyer", order.BuyerID)
	require.Equal(t, "vendor", order.SellerID)

	roles, err := ResolveRoles(order.AdType, order.VendorUserID, order.CounterpartyUserID)
	require.NoError(t, err)
	require.Equal(t, roles.BuyerID, order.BuyerID)
	require.Equal(t, roles.SellerID, order.SellerID)
}

func TestCreateOrderIncrementsAdCounter(t *testing.T) {
	f, ad := sellSetup(t)
	ctx := context.Background()

	_, err := f.engine.CreateOrder(ctx, "buyer", ad.ID, money.MustParse("2"), "pm-buyer")
	require.NoError(t, err)

	got, err := f.store.GetAd(ctx, ad.ID)
	require.NoError(t, err)
	require.Equal(t, 1, got.OrdersReceived)
}

func TestPaymentMethodMatching(t *testing.T) {
	f := newFixture(t)
	f.user(t, "vendor")
	f.user(t, "buyer")
	f.bankMethod(t, "pm-vendor", "vendor", " GTBank ")
	f.virtualAccount(t, "va-vendor", "vendor", "10")
	ad := f.sellAd(t, "vendor", false)
	ctx := context.Background()

	// Different bank name: mismatch.
	f.bankMethod(t, "pm-zenith", "buyer", "Zenith")
	_, err := f.engine.CreateOrder(ctx, "buyer", ad.ID, money.MustParse("2"), "pm-zenith")
	require.ErrorIs(t, err, errs.ErrPaymentMethodMismatch)

	// Someone else's method: ownership mismatch.
	_, err = f.engine.CreateOrder(ctx, "buyer", ad.ID, money.MustParse("2"), "pm-vendor")
	require.ErrorIs(t, err, errs.ErrPaymentMethodMismatch)

	// Same bank, case-folded and trimmed: match.
	f.bankMethod(t, "pm-gtb", "buyer", "gtbank")
	order, err := f.engine.CreateOrder(ctx, "buyer", ad.ID, money.MustParse("2"), "pm-gtb")
	require.NoError(t, err)
	require.Equal(t, "pm-vendor", order.PaymentMethodID)
	require.Equal(t, "pm-gtb", order.CounterpartyMethodID)
	require.Equal(t, storage.ChannelOffline, order.PaymentChannel)
}

func TestMatchingPaymentMethodsQuery(t *testing.T) {
	f, ad := sellSetup(t)
	ctx := context.Background()

	f.bankMethod(t, "pm-other", "buyer", "Zenith")

	matches, err := f.engine.MatchingPaymentMethods(ctx, "buyer", ad.ID)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, "pm-buyer", matches[0].ID)
}

func TestGetOrderVisibility(t *testing.T) {
	f, ad := sellSetup(t)
	ctx := context.Background()
	f.user(t, "stranger")

	order, err := f.engine.CreateOrder(ctx, "buyer", ad.ID, money.MustParse("2"), "pm-buyer")
	require.NoError(t, err)

	_, err = f.engine.GetOrder(ctx, "stranger", order.ID)
	require.ErrorIs(t, err, errs.ErrForbidden)

	got, err := f.engine.GetOrder(ctx, "vendor", order.ID)
	require.NoError(t, err)
	require.Equal(t, order.ID, got.ID)
}
