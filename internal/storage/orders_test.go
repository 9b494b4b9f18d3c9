package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rhinox-exchange/rhinox-v2/pkg/errs"
	"github.com/rhinox-exchange/rhinox-v2/pkg/money"
)

func seedAd(t *testing.T, store *Storage, id, vendorID string) *Ad {
	t.Helper()
	ad := &Ad{
		ID:               id,
		VendorUserID:     vendorID,
		AdType:           AdTypeSell,
		Blockchain:       "TRON",
		CryptoCurrency:   "USDT",
		FiatCurrency:     "NGN",
		Price:            money.MustParse("1500"),
		Volume:           money.MustParse("10"),
		MinOrder:         money.MustParse("1500"),
		MaxOrder:         money.MustParse("15000"),
		PaymentMethodIDs: []string{"pm-1"},
		ProcessingTime:   30,
		Status:           AdStatusAvailable,
		IsOnline:         true,
		CreatedAt:        time.Now(),
	}
	if err := store.CreateAd(context.Background(), ad); err != nil {
		t.Fatalf("CreateAd() error = %v", err)
	}
	return ad
}

func seedOrder(t *testing.T, store *Storage, id string, ad *Ad, counterpartyID string, status OrderStatus) *Order {
	t.Helper()
	o := &Order{
		ID:                   id,
		AdID:                 ad.ID,
		VendorUserID:         ad.VendorUserID,
		CounterpartyUserID:   counterpartyID,
		AdType:               ad.AdType,
		Blockchain:           ad.Blockchain,
		CryptoCurrency:       ad.CryptoCurrency,
		FiatCurrency:         ad.FiatCurrency,
		CryptoAmount:         money.MustParse("2"),
		FiatAmount:           money.MustParse("3000"),
		Price:                ad.Price,
		ProcessingTime:       ad.ProcessingTime,
		PaymentMethodID:      "pm-1",
		CounterpartyMethodID: "pm-2",
		PaymentChannel:       ChannelOffline,
		Status:               status,
		BuyerID:              counterpartyID,
		SellerID:             ad.VendorUserID,
		CreatedAt:            time.Now(),
	}
	if err := store.CreateOrder(context.Background(), o); err != nil {
		t.Fatalf("CreateOrder() error = %v", err)
	}
	return o
}

func TestAdCRUD(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedUser(t, store, "vendor-1")
	ad := seedAd(t, store, "ad-1", "vendor-1")

	got, err := store.GetAd(ctx, "ad-1")
	if err != nil {
		t.Fatalf("GetAd() error = %v", err)
	}
	if !got.Price.Equal(money.MustParse("1500")) {
		t.Errorf("Price = %s, want 1500", got.Price)
	}
	if len(got.PaymentMethodIDs) != 1 || got.PaymentMethodIDs[0] != "pm-1" {
		t.Errorf("PaymentMethodIDs = %v, want [pm-1]", got.PaymentMethodIDs)
	}

	if err := store.IncrementAdOrders(ctx, ad.ID); err != nil {
		t.Fatalf("IncrementAdOrders() error = %v", err)
	}
	got, _ = store.GetAd(ctx, "ad-1")
	if got.OrdersReceived != 1 {
		t.Errorf("OrdersReceived = %d, want 1", got.OrdersReceived)
	}

	if err := store.UpdateAdStatus(ctx, ad.ID, AdStatusPaused); err != nil {
		t.Fatalf("UpdateAdStatus() error = %v", err)
	}
	got, _ = store.GetAd(ctx, "ad-1")
	if got.Status != AdStatusPaused {
		t.Errorf("Status = %s, want paused", got.Status)
	}

	ads, err := store.ListAds(ctx, AdFilter{VendorUserID: "vendor-1"})
	if err != nil {
		t.Fatalf("ListAds() error = %v", err)
	}
	if len(ads) != 1 {
		t.Errorf("ads = %d, want 1", len(ads))
	}
}

func TestOrderTransitionGuard(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedUser(t, store, "vendor-1")
	seedUser(t, store, "user-2")
	ad := seedAd(t, store, "ad-1", "vendor-1")
	order := seedOrder(t, store, "order-1", ad, "user-2", OrderStatusPending)

	err := store.WithTx(ctx, func(tx *Storage) error {
		return tx.UpdateOrderTransition(ctx, order.ID,
			OrderStatusPending, OrderStatusAwaitingPayment,
			map[string]time.Time{"accepted_at": time.Now()})
	})
	if err != nil {
		t.Fatalf("transition error = %v", err)
	}

	got, _ := store.GetOrder(ctx, order.ID)
	if got.Status != OrderStatusAwaitingPayment {
		t.Errorf("Status = %s, want awaiting_payment", got.Status)
	}
	if got.AcceptedAt == nil {
		t.Error("AcceptedAt not stamped")
	}

	// Replaying the same transition must fail the from-status guard.
	err = store.WithTx(ctx, func(tx *Storage) error {
		return tx.UpdateOrderTransition(ctx, order.ID,
			OrderStatusPending, OrderStatusAwaitingPayment, nil)
	})
	if !errors.Is(err, errs.ErrInvalidTransition) {
		t.Errorf("replay error = %v, want ErrInvalidTransition", err)
	}
}

func TestListExpiredOrders(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedUser(t, store, "vendor-1")
	seedUser(t, store, "user-2")
	ad := seedAd(t, store, "ad-1", "vendor-1")

	expired := seedOrder(t, store, "order-expired", ad, "user-2", OrderStatusPending)
	fresh := seedOrder(t, store, "order-fresh", ad, "user-2", OrderStatusPending)

	now := time.Now()
	err := store.WithTx(ctx, func(tx *Storage) error {
		if err := tx.UpdateOrderTransition(ctx, expired.ID,
			OrderStatusPending, OrderStatusAwaitingPayment,
			map[string]time.Time{"expires_at": now.Add(-time.Minute)}); err != nil {
			return err
		}
		return tx.UpdateOrderTransition(ctx, fresh.ID,
			OrderStatusPending, OrderStatusAwaitingPayment,
			map[string]time.Time{"expires_at": now.Add(time.Hour)})
	})
	if err != nil {
		t.Fatalf("setup transitions error = %v", err)
	}

	due, err := store.ListExpiredOrders(ctx, now, 10)
	if err != nil {
		t.Fatalf("ListExpiredOrders() error = %v", err)
	}
	if len(due) != 1 || due[0].ID != expired.ID {
		t.Errorf("due = %v, want [order-expired]", due)
	}
}

func TestOrderListFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedUser(t, store, "vendor-1")
	seedUser(t, store, "user-2")
	seedUser(t, store, "user-3")
	ad := seedAd(t, store, "ad-1", "vendor-1")

	seedOrder(t, store, "order-1", ad, "user-2", OrderStatusPending)
	seedOrder(t, store, "order-2", ad, "user-3", OrderStatusCompleted)

	mine, err := store.ListOrders(ctx, OrderFilter{UserID: "user-2"})
	if err != nil {
		t.Fatalf("ListOrders() error = %v", err)
	}
	if len(mine) != 1 || mine[0].ID != "order-1" {
		t.Errorf("user-2 orders = %d, want order-1 only", len(mine))
	}

	vendors, err := store.ListOrders(ctx, OrderFilter{UserID: "vendor-1"})
	if err != nil {
		t.Fatalf("ListOrders() error = %v", err)
	}
	if len(vendors) != 2 {
		t.Errorf("vendor orders = %d, want 2", len(vendors))
	}

	completed, err := store.ListOrders(ctx, OrderFilter{Status: OrderStatusCompleted})
	if err != nil {
		t.Fatalf("ListOrders() error = %v", err)
	}
	if len(completed) != 1 || completed[0].ID != "order-2" {
		t.Errorf("completed orders = %d, want order-2 only", len(completed))
	}
}

func TestJobQueueIdempotency(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedUser(t, store, "user-1")

	if err := store.EnqueueJob(ctx, JobProvisionWallets, "user-1", ""); err != nil {
		t.Fatalf("EnqueueJob() error = %v", err)
	}
	// A second enqueue for the same user is silently absorbed.
	if err := store.EnqueueJob(ctx, JobProvisionWallets, "user-1", ""); err != nil {
		t.Fatalf("repeat EnqueueJob() error = %v", err)
	}

	due, err := store.GetDueJobs(ctx, time.Now().Add(time.Second), 10)
	if err != nil {
		t.Fatalf("GetDueJobs() error = %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("due jobs = %d, want 1", len(due))
	}

	if err := store.MarkJobDone(ctx, due[0].ID); err != nil {
		t.Fatalf("MarkJobDone() error = %v", err)
	}
	due, _ = store.GetDueJobs(ctx, time.Now().Add(time.Second), 10)
	if len(due) != 0 {
		t.Errorf("due after done = %d, want 0", len(due))
	}
}
