package p2p

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rhinox-exchange/rhinox-v2/internal/storage"
	"github.com/rhinox-exchange/rhinox-v2/pkg/errs"
	"github.com/rhinox-exchange/rhinox-v2/pkg/money"
)

func steps(t *testing.T, store *storage.Storage) map[storage.P2PStep]int {
	t.Helper()
	txs, err := store.ListTransactions(context.Background(), storage.TransactionFilter{
		Types: []storage.TxType{storage.TxTypeP2P},
	})
	require.NoError(t, err)

	out := make(map[storage.P2PStep]int)
	for _, tx := range txs {
		out[tx.P2PStep]++
	}
	return out
}

// Happy path for a sell ad settling offline: create, accept, confirm,
// mark received. Crypto moves vendor -> counterparty, four P2P entries.
func TestHappySellOffline(t *testing.T) {
	f, ad := sellSetup(t)
	ctx := context.Background()

	order, err := f.engine.CreateOrder(ctx, "buyer", ad.ID, money.MustParse("2"), "pm-buyer")
	require.NoError(t, err)
	require.Equal(t, storage.OrderStatusPending, order.Status)

	order, err = f.engine.AcceptOrder(ctx, "vendor", order.ID)
	require.NoError(t, err)
	require.Equal(t, storage.OrderStatusAwaitingPayment, order.Status)
	require.NotNil(t, order.ExpiresAt)

	vendorVA := f.va(t, "vendor")
	require.Equal(t, "8", vendorVA.AvailableBalance.String())
	require.Equal(t, "10", vendorVA.AccountBalance.String())

	order, err = f.engine.ConfirmPayment(ctx, "buyer", order.ID)
	require.NoError(t, err)
	require.Equal(t, storage.OrderStatusPaymentMade, order.Status)

	order, err = f.engine.MarkPaymentReceived(ctx, "vendor", order.ID)
	require.NoError(t, err)
	require.Equal(t, storage.OrderStatusCompleted, order.Status)

	vendorVA = f.va(t, "vendor")
	require.Equal(t, "8", vendorVA.AvailableBalance.String())
	require.Equal(t, "8", vendorVA.AccountBalance.String())

	buyerVA := f.va(t, "buyer")
	require.Equal(t, "2", buyerVA.AvailableBalance.String())
	require.Equal(t, "2", buyerVA.AccountBalance.String())

	got := steps(t, f.store)
	for _, step := range []storage.P2PStep{
		storage.StepOrderAccepted,
		storage.StepPaymentReceived,
		storage.StepCryptoDebited,
		storage.StepCryptoCredited,
	} {
		require.Equal(t, 1, got[step], "step %s", step)
	}
}

// Happy path for a buy ad settling via rhinoxpay: the vendor is the
// buyer, the fiat leg moves in-platform and the crypto releases in the
// confirm scope.
func TestHappyBuyRhinoxpay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.user(t, "vendor")
	f.user(t, "seller")
	f.rhinoxMethod(t, "pm-vendor", "vendor", "NGN")
	f.rhinoxMethod(t, "pm-seller", "seller", "NGN")
	f.fiatWallet(t, "vendor-ngn", "vendor", "NGN", "100000")
	f.fiatWallet(t, "seller-ngn", "seller", "NGN", "0")
	f.virtualAccount(t, "va-seller", "seller", "5")

	ad, err := f.engine.CreateAd(ctx, "vendor", AdRequest{
		AdType:         storage.AdTypeBuy,
		Blockchain:     "TRON",
		CryptoCurrency: "USDT",
		FiatCurrency:   "NGN",
		Price:          money.MustParse("1500"),
		Volume:         money.MustParse("10"),
		MinOrder:       money.MustParse("1500"),
		MaxOrder:       money.MustParse("15000"),
		AutoAccept:     true,
		PaymentMethods: []string{"pm-vendor"},
		ProcessingTime: 30,
	})
	require.NoError(t, err)

	order, err := f.engine.CreateOrder(ctx, "seller", ad.ID, money.MustParse("2"), "pm-seller")
	require.NoError(t, err)
	require.Equal(t, storage.OrderStatusAwaitingPayment, order.Status)
	require.Equal(t, storage.ChannelRhinoxpay, order.PaymentChannel)
	require.Equal(t, "vendor", order.BuyerID)
	require.Equal(t, "seller", order.SellerID)

	sellerVA := f.va(t, "seller")
	require.Equal(t, "3", sellerVA.AvailableBalance.String())
	require.Equal(t, "5", sellerVA.AccountBalance.String())

	// The vendor is the buyer on a buy ad.
	order, err = f.engine.ConfirmPayment(ctx, "vendor", order.ID)
	require.NoError(t, err)
	require.Equal(t, storage.OrderStatusCompleted, order.Status)

	vendorNGN, err := f.store.GetWallet(ctx, "vendor-ngn")
	require.NoError(t, err)
	require.Equal(t, "97000", vendorNGN.Balance.String())

	sellerNGN, err := f.store.GetWallet(ctx, "seller-ngn")
	require.NoError(t, err)
	require.Equal(t, "3000", sellerNGN.Balance.String())

	sellerVA = f.va(t, "seller")
	require.Equal(t, "3", sellerVA.AccountBalance.String())
	require.Equal(t, "3", sellerVA.AvailableBalance.String())

	vendorVA := f.va(t, "vendor")
	require.Equal(t, "2", vendorVA.AccountBalance.String())

	got := steps(t, f.store)
	require.Equal(t, 1, got[storage.StepFiatSent])
	require.Equal(t, 1, got[storage.StepFiatReceived])
	require.Equal(t, 1, got[storage.StepCryptoDebited])
	require.Equal(t, 1, got[storage.StepCryptoCredited])
}

// A competing accept drained the seller's available balance: accept
// fails with insufficient funds, the order stays pending, no freeze.
func TestAcceptInsufficientSellerBalance(t *testing.T) {
	f, ad := sellSetup(t)
	ctx := context.Background()

	first, err := f.engine.CreateOrder(ctx, "buyer", ad.ID, money.MustParse("9"), "pm-buyer")
	require.NoError(t, err)
	second, err := f.engine.CreateOrder(ctx, "buyer", ad.ID, money.MustParse("2"), "pm-buyer")
	require.NoError(t, err)

	_, err = f.engine.AcceptOrder(ctx, "vendor", first.ID)
	require.NoError(t, err)

	_, err = f.engine.AcceptOrder(ctx, "vendor", second.ID)
	require.ErrorIs(t, err, errs.ErrInsufficientFunds)

	got, err := f.store.GetOrder(ctx, second.ID)
	require.NoError(t, err)
	require.Equal(t, storage.OrderStatusPending, got.Status)

	// Only the first order's freeze is outstanding.
	vendorVA := f.va(t, "vendor")
	require.Equal(t, "1", vendorVA.AvailableBalance.String())
	require.Equal(t, "10", vendorVA.AccountBalance.String())
}

func TestAcceptReplayFails(t *testing.T) {
	f, ad := sellSetup(t)
	ctx := context.Background()

	order, err := f.engine.CreateOrder(ctx, "buyer", ad.ID, money.MustParse("2"), "pm-buyer")
	require.NoError(t, err)

	_, err = f.engine.AcceptOrder(ctx, "vendor", order.ID)
	require.NoError(t, err)

	// Replay: guard fails, no double freeze.
	_, err = f.engine.AcceptOrder(ctx, "vendor", order.ID)
	require.ErrorIs(t, err, errs.ErrInvalidTransition)

	vendorVA := f.va(t, "vendor")
	require.Equal(t, "8", vendorVA.AvailableBalance.String())
}

func TestAcceptWrongPrincipal(t *testing.T) {
	f, ad := sellSetup(t)
	ctx := context.Background()

	order, err := f.engine.CreateOrder(ctx, "buyer", ad.ID, money.MustParse("2"), "pm-buyer")
	require.NoError(t, err)

	_, err = f.engine.AcceptOrder(ctx, "buyer", order.ID)
	require.ErrorIs(t, err, errs.ErrForbidden)

	// Guard failure has no side effect.
	vendorVA := f.va(t, "vendor")
	require.Equal(t, "10", vendorVA.AvailableBalance.String())
}

func TestExpirySweep(t *testing.T) {
	f, ad := sellSetup(t)
	ctx := context.Background()

	order, err := f.engine.CreateOrder(ctx, "buyer", ad.ID, money.MustParse("2"), "pm-buyer")
	require.NoError(t, err)
	_, err = f.engine.AcceptOrder(ctx, "vendor", order.ID)
	require.NoError(t, err)

	f.clk.Advance(31 * time.Minute)

	sweeper := NewSweeper(f.engine)
	n, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err := f.store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, storage.OrderStatusExpired, got.Status)

	vendorVA := f.va(t, "vendor")
	require.Equal(t, "10", vendorVA.AvailableBalance.String())
	require.Equal(t, "10", vendorVA.AccountBalance.String())

	// Replaying the sweep is a no-op.
	n, err = sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n)
	vendorVA = f.va(t, "vendor")
	require.Equal(t, "10", vendorVA.AvailableBalance.String())
}

func TestCancelAfterAcceptUnfreezes(t *testing.T) {
	f, ad := sellSetup(t)
	ctx := context.Background()

	order, err := f.engine.CreateOrder(ctx, "buyer", ad.ID, money.MustParse("2"), "pm-buyer")
	require.NoError(t, err)
	_, err = f.engine.AcceptOrder(ctx, "vendor", order.ID)
	require.NoError(t, err)

	order, err = f.engine.CancelOrder(ctx, "buyer", order.ID)
	require.NoError(t, err)
	require.Equal(t, storage.OrderStatusCancelled, order.Status)

	vendorVA := f.va(t, "vendor")
	require.Equal(t, "10", vendorVA.AvailableBalance.String())
	require.Equal(t, "10", vendorVA.AccountBalance.String())

	// Only the accept entry exists besides the unfreeze bookkeeping.
	got := steps(t, f.store)
	require.Equal(t, 1, got[storage.StepOrderAccepted])
	require.Zero(t, got[storage.StepCryptoDebited])
	require.Zero(t, got[storage.StepCryptoCredited])
}

func TestDeclinePending(t *testing.T) {
	f, ad := sellSetup(t)
	ctx := context.Background()

	order, err := f.engine.CreateOrder(ctx, "buyer", ad.ID, money.MustParse("2"), "pm-buyer")
	require.NoError(t, err)

	order, err = f.engine.DeclineOrder(ctx, "vendor", order.ID)
	require.NoError(t, err)
	require.Equal(t, storage.OrderStatusCancelled, order.Status)

	vendorVA := f.va(t, "vendor")
	require.Equal(t, "10", vendorVA.AvailableBalance.String())
}

func TestMarkReceivedSellerOnly(t *testing.T) {
	f, ad := sellSetup(t)
	ctx := context.Background()

	order, err := f.engine.CreateOrder(ctx, "buyer", ad.ID, money.MustParse("2"), "pm-buyer")
	require.NoError(t, err)
	_, err = f.engine.AcceptOrder(ctx, "vendor", order.ID)
	require.NoError(t, err)
	_, err = f.engine.ConfirmPayment(ctx, "buyer", order.ID)
	require.NoError(t, err)

	// The buyer cannot release the crypto.
	_, err = f.engine.MarkPaymentReceived(ctx, "buyer", order.ID)
	require.ErrorIs(t, err, errs.ErrForbidden)

	vendorVA := f.va(t, "vendor")
	require.Equal(t, "10", vendorVA.AccountBalance.String())
}

func TestConfirmPaymentAfterExpiryLazilyExpires(t *testing.T) {
	f, ad := sellSetup(t)
	ctx := context.Background()

	order, err := f.engine.CreateOrder(ctx, "buyer", ad.ID, money.MustParse("2"), "pm-buyer")
	require.NoError(t, err)
	_, err = f.engine.AcceptOrder(ctx, "vendor", order.ID)
	require.NoError(t, err)

	f.clk.Advance(31 * time.Minute)

	_, err = f.engine.ConfirmPayment(ctx, "buyer", order.ID)
	require.ErrorIs(t, err, errs.ErrInvalidTransition)

	got, err := f.store.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, storage.OrderStatusExpired, got.Status)

	vendorVA := f.va(t, "vendor")
	require.Equal(t, "10", vendorVA.AvailableBalance.String())
}

func TestDisputeKeepsEscrow(t *testing.T) {
	f, ad := sellSetup(t)
	ctx := context.Background()

	order, err := f.engine.CreateOrder(ctx, "buyer", ad.ID, money.MustParse("2"), "pm-buyer")
	require.NoError(t, err)
	_, err = f.engine.AcceptOrder(ctx, "vendor", order.ID)
	require.NoError(t, err)

	order, err = f.engine.DisputeOrder(ctx, "buyer", order.ID)
	require.NoError(t, err)
	require.Equal(t, storage.OrderStatusDisputed, order.Status)

	// The freeze remains.
	vendorVA := f.va(t, "vendor")
	require.Equal(t, "8", vendorVA.AvailableBalance.String())
	require.Equal(t, "10", vendorVA.AccountBalance.String())
}
