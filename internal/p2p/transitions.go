// Package p2p - Order state machine transitions.
//
// Every transition runs three guards in order: principal authorization,
// current-state validity, balance precondition. Violating any guard
// fails without side effect. All transitions execute inside one
// serializable scope; the from-status check in the store makes replays
// fail with an invalid-transition error instead of double-applying
// balance effects.
package p2p

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rhinox-exchange/rhinox-v2/internal/ledger"
	"github.com/rhinox-exchange/rhinox-v2/internal/storage"
	"github.com/rhinox-exchange/rhinox-v2/internal/transfer"
	"github.com/rhinox-exchange/rhinox-v2/pkg/errs"
	"github.com/rhinox-exchange/rhinox-v2/pkg/money"
)

// errLazyExpired signals that a touch found a closed payment window; the
// caller expires the order in a fresh scope.
var errLazyExpired = errors.New("order payment window closed")

// AcceptOrder moves a pending order to awaiting_payment and freezes the
// seller's crypto. Vendor only.
func (e *Engine) AcceptOrder(ctx context.Context, vendorID, orderID string) (*storage.Order, error) {
	var order *storage.Order
	err := e.store.RunInTx(ctx, func(tx *storage.Storage) error {
		var err error
		order, err = tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order.VendorUserID != vendorID {
			return fmt.Errorf("only the vendor may accept: %w", errs.ErrForbidden)
		}
		if order.Status != storage.OrderStatusPending {
			return fmt.Errorf("order is %s: %w", order.Status, errs.ErrInvalidTransition)
		}
		return e.acceptTx(ctx, tx, order)
	})
	if err != nil {
		return nil, err
	}

	e.emitEvent(order.ID, "order_accepted", order.Status)
	return order, nil
}

// acceptTx performs the accept inside an existing scope. The caller has
// already verified principal and state.
func (e *Engine) acceptTx(ctx context.Context, tx *storage.Storage, order *storage.Order) error {
	roles, err := ResolveRoles(order.AdType, order.VendorUserID, order.CounterpartyUserID)
	if err != nil {
		return err
	}

	sellerVA, err := tx.GetVirtualAccountByUser(ctx, roles.SellerID, order.Blockchain, order.CryptoCurrency)
	if err != nil {
		return err
	}
	if err := e.reserve.Freeze(ctx, tx, sellerVA.ID, order.CryptoAmount); err != nil {
		return err
	}

	now := e.clock.Now()
	expires := now.Add(time.Duration(order.ProcessingTime) * time.Minute)
	if err := tx.UpdateOrderTransition(ctx, order.ID,
		storage.OrderStatusPending, storage.OrderStatusAwaitingPayment,
		map[string]time.Time{"accepted_at": now, "expires_at": expires}); err != nil {
		return err
	}

	sellerWallet, err := e.ledger.FindOrCreateCryptoWallet(ctx, tx, roles.SellerID, order.CryptoCurrency)
	if err != nil {
		return err
	}
	if _, err := e.ledger.Post(ctx, tx, e.orderPost(order, sellerWallet.ID,
		order.CryptoAmount, order.CryptoCurrency, storage.StepOrderAccepted,
		"Crypto held in escrow for order")); err != nil {
		return err
	}

	order.Status = storage.OrderStatusAwaitingPayment
	order.AcceptedAt = &now
	order.ExpiresAt = &expires
	e.log.Info("order accepted", "order", order.ID, "expires", expires)
	return nil
}

// DeclineOrder cancels a pending order. Vendor only; no balance effect
// because nothing is frozen yet.
func (e *Engine) DeclineOrder(ctx context.Context, vendorID, orderID string) (*storage.Order, error) {
	var order *storage.Order
	err := e.store.RunInTx(ctx, func(tx *storage.Storage) error {
		var err error
		order, err = tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order.VendorUserID != vendorID {
			return fmt.Errorf("only the vendor may decline: %w", errs.ErrForbidden)
		}
		if order.Status != storage.OrderStatusPending {
			return fmt.Errorf("order is %s: %w", order.Status, errs.ErrInvalidTransition)
		}

		now := e.clock.Now()
		if err := tx.UpdateOrderTransition(ctx, order.ID,
			storage.OrderStatusPending, storage.OrderStatusCancelled,
			map[string]time.Time{"cancelled_at": now}); err != nil {
			return err
		}
		order.Status = storage.OrderStatusCancelled
		order.CancelledAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.emitEvent(order.ID, "order_declined", order.Status)
	return order, nil
}

// CancelOrder cancels an order before or after acceptance. Either party
// may cancel; a post-acceptance cancel unfreezes the seller's crypto.
func (e *Engine) CancelOrder(ctx context.Context, userID, orderID string) (*storage.Order, error) {
	var order *storage.Order
	err := e.store.RunInTx(ctx, func(tx *storage.Storage) error {
		var err error
		order, err = tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order.VendorUserID != userID && order.CounterpartyUserID != userID {
			return fmt.Errorf("caller is not a party to the order: %w", errs.ErrForbidden)
		}

		now := e.clock.Now()
		switch order.Status {
		case storage.OrderStatusPending:
			if err := tx.UpdateOrderTransition(ctx, order.ID,
				storage.OrderStatusPending, storage.OrderStatusCancelled,
				map[string]time.Time{"cancelled_at": now}); err != nil {
				return err
			}

		case storage.OrderStatusAwaitingPayment:
			if err := tx.UpdateOrderTransition(ctx, order.ID,
				storage.OrderStatusAwaitingPayment, storage.OrderStatusCancelled,
				map[string]time.Time{"cancelled_at": now}); err != nil {
				return err
			}
			if err := e.unfreezeSeller(ctx, tx, order); err != nil {
				return err
			}

		default:
			return fmt.Errorf("order is %s: %w", order.Status, errs.ErrInvalidTransition)
		}

		order.Status = storage.OrderStatusCancelled
		order.CancelledAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.emitEvent(order.ID, "order_cancelled", order.Status)
	return order, nil
}

// ConfirmPayment records that the buyer has paid. For the offline
// channel this only stamps the order; for rhinoxpay the fiat moves
// wallet-to-wallet and the crypto releases in the same scope.
func (e *Engine) ConfirmPayment(ctx context.Context, buyerID, orderID string) (*storage.Order, error) {
	var order *storage.Order
	err := e.store.RunInTx(ctx, func(tx *storage.Storage) error {
		var err error
		order, err = tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}

		roles, err := ResolveRoles(order.AdType, order.VendorUserID, order.CounterpartyUserID)
		if err != nil {
			return err
		}
		if roles.BuyerID != buyerID {
			return fmt.Errorf("only the buyer may confirm payment: %w", errs.ErrForbidden)
		}
		if order.Status != storage.OrderStatusAwaitingPayment {
			return fmt.Errorf("order is %s: %w", order.Status, errs.ErrInvalidTransition)
		}

		// Lazy expiry: a closed payment window expires the order on touch.
		// The expiry commits in its own scope after this one unwinds.
		now := e.clock.Now()
		if order.ExpiresAt != nil && now.After(*order.ExpiresAt) {
			return errLazyExpired
		}

		if err := tx.UpdateOrderTransition(ctx, order.ID,
			storage.OrderStatusAwaitingPayment, storage.OrderStatusPaymentMade,
			map[string]time.Time{"payment_made_at": now}); err != nil {
			return err
		}
		order.Status = storage.OrderStatusPaymentMade
		order.PaymentMadeAt = &now

		if order.PaymentChannel != storage.ChannelRhinoxpay {
			return nil
		}

		// Rhinoxpay settles the fiat leg in-platform and releases the
		// crypto without waiting for the seller.
		buyerWallet, err := tx.GetWalletByUserCurrency(ctx, roles.BuyerID, order.FiatCurrency)
		if err != nil {
			return err
		}
		sellerWallet, err := tx.GetWalletByUserCurrency(ctx, roles.SellerID, order.FiatCurrency)
		if err != nil {
			return err
		}

		if _, err := e.transfer.ExecuteTx(ctx, tx, transfer.Request{
			SourceWalletID: buyerWallet.ID,
			DestWalletID:   sellerWallet.ID,
			Amount:         order.FiatAmount,
			Currency:       order.FiatCurrency,
			Fee:            money.Zero(),
			Channel:        "rhinoxpay",
			Description:    "P2P order payment",
			Type:           storage.TxTypeP2P,
			DebitStep:      storage.StepFiatSent,
			CreditStep:     storage.StepFiatReceived,
			Metadata:       map[string]string{"order_id": order.ID},
		}); err != nil {
			return err
		}

		if err := tx.UpdateOrderTransition(ctx, order.ID,
			storage.OrderStatusPaymentMade, storage.OrderStatusAwaitingCoinRelease,
			map[string]time.Time{"payment_received_at": now}); err != nil {
			return err
		}
		order.Status = storage.OrderStatusAwaitingCoinRelease
		order.PaymentReceivedAt = &now

		return e.releaseTx(ctx, tx, order)
	})
	if errors.Is(err, errLazyExpired) {
		if eerr := e.ExpireOrder(ctx, orderID); eerr != nil {
			return nil, eerr
		}
		return nil, fmt.Errorf("payment window closed: %w", errs.ErrInvalidTransition)
	}
	if err != nil {
		return nil, err
	}

	e.emitEvent(order.ID, "payment_confirmed", order.Status)
	return order, nil
}

// MarkPaymentReceived is the seller confirming fiat receipt; the crypto
// releases immediately in the same scope. Seller only.
func (e *Engine) MarkPaymentReceived(ctx context.Context, sellerID, orderID string) (*storage.Order, error) {
	var order *storage.Order
	err := e.store.RunInTx(ctx, func(tx *storage.Storage) error {
		var err error
		order, err = tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}

		roles, err := ResolveRoles(order.AdType, order.VendorUserID, order.CounterpartyUserID)
		if err != nil {
			return err
		}
		if roles.SellerID != sellerID {
			return fmt.Errorf("only the seller may mark payment received: %w", errs.ErrForbidden)
		}
		if order.Status != storage.OrderStatusPaymentMade {
			return fmt.Errorf("order is %s: %w", order.Status, errs.ErrInvalidTransition)
		}

		now := e.clock.Now()
		if err := tx.UpdateOrderTransition(ctx, order.ID,
			storage.OrderStatusPaymentMade, storage.OrderStatusAwaitingCoinRelease,
			map[string]time.Time{"payment_received_at": now}); err != nil {
			return err
		}
		order.Status = storage.OrderStatusAwaitingCoinRelease
		order.PaymentReceivedAt = &now

		sellerWallet, err := e.ledger.FindOrCreateCryptoWallet(ctx, tx, roles.SellerID, order.CryptoCurrency)
		if err != nil {
			return err
		}
		if _, err := e.ledger.Post(ctx, tx, e.orderPost(order, sellerWallet.ID,
			order.FiatAmount, order.FiatCurrency, storage.StepPaymentReceived,
			"Fiat payment received off-platform")); err != nil {
			return err
		}

		return e.releaseTx(ctx, tx, order)
	})
	if err != nil {
		return nil, err
	}

	e.emitEvent(order.ID, "payment_received", order.Status)
	return order, nil
}

// DisputeOrder freezes an order in the disputed state. Either party;
// escrow remains until resolution, which is out of band.
func (e *Engine) DisputeOrder(ctx context.Context, userID, orderID string) (*storage.Order, error) {
	var order *storage.Order
	err := e.store.RunInTx(ctx, func(tx *storage.Storage) error {
		var err error
		order, err = tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order.VendorUserID != userID && order.CounterpartyUserID != userID {
			return fmt.Errorf("caller is not a party to the order: %w", errs.ErrForbidden)
		}
		if order.Status.IsTerminal() || order.Status == storage.OrderStatusDisputed {
			return fmt.Errorf("order is %s: %w", order.Status, errs.ErrInvalidTransition)
		}

		if err := tx.UpdateOrderTransition(ctx, order.ID,
			order.Status, storage.OrderStatusDisputed, nil); err != nil {
			return err
		}
		order.Status = storage.OrderStatusDisputed
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.emitEvent(order.ID, "order_disputed", order.Status)
	return order, nil
}

// releaseTx settles the crypto seller -> buyer and completes the order.
// Caller holds the scope and has already moved the order to
// awaiting_coin_release.
func (e *Engine) releaseTx(ctx context.Context, tx *storage.Storage, order *storage.Order) error {
	roles, err := ResolveRoles(order.AdType, order.VendorUserID, order.CounterpartyUserID)
	if err != nil {
		return err
	}

	sellerVA, err := tx.GetVirtualAccountByUser(ctx, roles.SellerID, order.Blockchain, order.CryptoCurrency)
	if err != nil {
		return err
	}
	buyerVA, err := e.findOrCreateVirtualAccount(ctx, tx, roles.BuyerID, order.Blockchain, order.CryptoCurrency)
	if err != nil {
		return err
	}

	if err := e.reserve.SettleOut(ctx, tx, sellerVA.ID, order.CryptoAmount); err != nil {
		return err
	}
	if err := e.reserve.SettleIn(ctx, tx, buyerVA.ID, order.CryptoAmount); err != nil {
		return err
	}

	sellerWallet, err := e.ledger.FindOrCreateCryptoWallet(ctx, tx, roles.SellerID, order.CryptoCurrency)
	if err != nil {
		return err
	}
	buyerWallet, err := e.ledger.FindOrCreateCryptoWallet(ctx, tx, roles.BuyerID, order.CryptoCurrency)
	if err != nil {
		return err
	}

	if _, _, err := e.ledger.PostPair(ctx, tx, e.releasePair(order, sellerWallet.ID, buyerWallet.ID)); err != nil {
		return err
	}

	now := e.clock.Now()
	if err := tx.UpdateOrderTransition(ctx, order.ID,
		storage.OrderStatusAwaitingCoinRelease, storage.OrderStatusCompleted,
		map[string]time.Time{"completed_at": now}); err != nil {
		return err
	}
	order.Status = storage.OrderStatusCompleted
	order.CompletedAt = &now

	e.log.Info("order completed", "order", order.ID,
		"crypto", order.CryptoAmount.String()+" "+order.CryptoCurrency,
		"seller", roles.SellerID, "buyer", roles.BuyerID)
	return nil
}

// unfreezeSeller returns the escrowed crypto after a cancel or expiry.
func (e *Engine) unfreezeSeller(ctx context.Context, tx *storage.Storage, order *storage.Order) error {
	roles, err := ResolveRoles(order.AdType, order.VendorUserID, order.CounterpartyUserID)
	if err != nil {
		return err
	}
	sellerVA, err := tx.GetVirtualAccountByUser(ctx, roles.SellerID, order.Blockchain, order.CryptoCurrency)
	if err != nil {
		return err
	}
	if err := e.reserve.Unfreeze(ctx, tx, sellerVA.ID, order.CryptoAmount); err != nil {
		return err
	}

	sellerWallet, err := e.ledger.FindOrCreateCryptoWallet(ctx, tx, roles.SellerID, order.CryptoCurrency)
	if err != nil {
		return err
	}
	_, err = e.ledger.Post(ctx, tx, e.orderPost(order, sellerWallet.ID,
		order.CryptoAmount.Neg(), order.CryptoCurrency, "",
		"Crypto returned from escrow for order"))
	return err
}

// findOrCreateVirtualAccount provisions the buyer's receiving account
// when absent.
func (e *Engine) findOrCreateVirtualAccount(ctx context.Context, tx *storage.Storage, userID, blockchain, currency string) (*storage.VirtualAccount, error) {
	va, err := tx.GetVirtualAccountByUser(ctx, userID, blockchain, currency)
	if err == nil {
		return va, nil
	}
	if !errors.Is(err, errs.ErrNotFound) {
		return nil, err
	}

	va = &storage.VirtualAccount{
		ID:               uuid.NewString(),
		UserID:           userID,
		Blockchain:       blockchain,
		Currency:         currency,
		AccountBalance:   money.Zero(),
		AvailableBalance: money.Zero(),
		IsActive:         true,
		CreatedAt:        e.clock.Now(),
	}
	if cerr := tx.CreateVirtualAccount(ctx, va); cerr != nil {
		return nil, cerr
	}
	return va, nil
}

// orderPost builds a neutral single-sided order entry.
func (e *Engine) orderPost(order *storage.Order, walletID string, amount money.Money, currency string, step storage.P2PStep, description string) ledger.PostRequest {
	return ledger.PostRequest{
		WalletID:    walletID,
		Type:        storage.TxTypeP2P,
		Amount:      amount,
		Currency:    currency,
		Fee:         money.Zero(),
		Channel:     "p2p",
		Description: description,
		Status:      storage.TxStatusCompleted,
		P2PStep:     step,
		Metadata:    map[string]string{"order_id": order.ID},
	}
}

// releasePair builds the paired crypto debit/credit for completion.
func (e *Engine) releasePair(order *storage.Order, sellerWalletID, buyerWalletID string) ledger.PairRequest {
	return ledger.PairRequest{
		DebitWalletID:  sellerWalletID,
		CreditWalletID: buyerWalletID,
		Type:           storage.TxTypeP2P,
		Amount:         order.CryptoAmount,
		Currency:       order.CryptoCurrency,
		Fee:            money.Zero(),
		Channel:        "p2p",
		Description:    "P2P crypto release",
		DebitStep:      storage.StepCryptoDebited,
		CreditStep:     storage.StepCryptoCredited,
		Metadata:       map[string]string{"order_id": order.ID},
	}
}
