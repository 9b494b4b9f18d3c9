// Package p2p - Engine manages ads and orchestrates the order flow.
package p2p

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rhinox-exchange/rhinox-v2/internal/clock"
	"github.com/rhinox-exchange/rhinox-v2/internal/config"
	"github.com/rhinox-exchange/rhinox-v2/internal/ledger"
	"github.com/rhinox-exchange/rhinox-v2/internal/reserve"
	"github.com/rhinox-exchange/rhinox-v2/internal/storage"
	"github.com/rhinox-exchange/rhinox-v2/internal/transfer"
	"github.com/rhinox-exchange/rhinox-v2/pkg/errs"
	"github.com/rhinox-exchange/rhinox-v2/pkg/logging"
	"github.com/rhinox-exchange/rhinox-v2/pkg/money"
)

// OrderEvent notifies listeners of an order status change.
type OrderEvent struct {
	OrderID   string
	EventType string
	Status    storage.OrderStatus
	Timestamp time.Time
}

// EventHandler is called when order events occur.
type EventHandler func(event OrderEvent)

// Engine validates, transitions and terminates P2P orders.
type Engine struct {
	mu sync.RWMutex

	store    *storage.Storage
	ledger   *ledger.Ledger
	reserve  *reserve.Engine
	transfer *transfer.Executor
	clock    clock.Clock

	eventHandlers []EventHandler
	log           *logging.Logger
}

// Config holds engine dependencies.
type Config struct {
	Store    *storage.Storage
	Ledger   *ledger.Ledger
	Reserve  *reserve.Engine
	Transfer *transfer.Executor
	Clock    clock.Clock
}

// NewEngine creates a P2P engine.
func NewEngine(cfg *Config) *Engine {
	return &Engine{
		store:    cfg.Store,
		ledger:   cfg.Ledger,
		reserve:  cfg.Reserve,
		transfer: cfg.Transfer,
		clock:    cfg.Clock,
		log:      logging.GetDefault().Component("p2p"),
	}
}

// OnEvent registers an event handler.
func (e *Engine) OnEvent(handler EventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.eventHandlers = append(e.eventHandlers, handler)
}

func (e *Engine) emitEvent(orderID, eventType string, status storage.OrderStatus) {
	e.mu.RLock()
	handlers := make([]EventHandler, len(e.eventHandlers))
	copy(handlers, e.eventHandlers)
	e.mu.RUnlock()

	event := OrderEvent{
		OrderID:   orderID,
		EventType: eventType,
		Status:    status,
		Timestamp: e.clock.Now(),
	}
	for _, handler := range handlers {
		go handler(event)
	}
}

// =============================================================================
// Ads
// =============================================================================

// AdRequest carries the vendor-supplied fields of an ad.
type AdRequest struct {
	AdType         storage.AdType
	Blockchain     string
	CryptoCurrency string
	FiatCurrency   string
	Price          money.Money
	Volume         money.Money
	MinOrder       money.Money
	MaxOrder       money.Money
	AutoAccept     bool
	PaymentMethods []string
	ProcessingTime int
}

func (e *Engine) validateAdRequest(req *AdRequest) error {
	if req.AdType != storage.AdTypeBuy && req.AdType != storage.AdTypeSell {
		return fmt.Errorf("%w: ad type must be buy or sell", errs.ErrInvalidInput)
	}
	if !config.IsCrypto(req.Blockchain, req.CryptoCurrency) {
		return fmt.Errorf("%w: unsupported crypto %s on %s", errs.ErrInvalidInput, req.CryptoCurrency, req.Blockchain)
	}
	if !config.IsFiat(req.FiatCurrency) {
		return fmt.Errorf("%w: unsupported fiat currency %s", errs.ErrInvalidInput, req.FiatCurrency)
	}
	if req.Price.Sign() <= 0 || req.Volume.Sign() <= 0 {
		return fmt.Errorf("%w: price and volume must be positive", errs.ErrInvalidInput)
	}
	if req.MinOrder.Sign() <= 0 || req.MinOrder.Cmp(req.MaxOrder) > 0 {
		return fmt.Errorf("%w: require 0 < minOrder <= maxOrder", errs.ErrInvalidInput)
	}
	if req.MinOrder.Cmp(req.Volume.Mul(req.Price)) > 0 {
		return fmt.Errorf("%w: minOrder exceeds ad volume at price", errs.ErrInvalidInput)
	}
	if req.ProcessingTime < config.MinProcessingTime || req.ProcessingTime > config.MaxProcessingTime {
		return fmt.Errorf("%w: processing time must be %d-%d minutes",
			errs.ErrInvalidInput, config.MinProcessingTime, config.MaxProcessingTime)
	}
	if len(req.PaymentMethods) == 0 {
		return fmt.Errorf("%w: at least one payment method required", errs.ErrInvalidInput)
	}
	return nil
}

// CreateAd publishes a standing offer for the vendor.
func (e *Engine) CreateAd(ctx context.Context, vendorID string, req AdRequest) (*storage.Ad, error) {
	if err := e.validateAdRequest(&req); err != nil {
		return nil, err
	}

	// The accepted methods must belong to the vendor.
	methods, err := e.store.GetPaymentMethods(ctx, req.PaymentMethods)
	if err != nil {
		return nil, err
	}
	if len(methods) != len(req.PaymentMethods) {
		return nil, fmt.Errorf("payment method missing: %w", errs.ErrNotFound)
	}
	for _, m := range methods {
		if m.UserID != vendorID {
			return nil, fmt.Errorf("payment method %s does not belong to vendor: %w", m.ID, errs.ErrForbidden)
		}
	}

	ad := &storage.Ad{
		ID:               uuid.NewString(),
		VendorUserID:     vendorID,
		AdType:           req.AdType,
		Blockchain:       req.Blockchain,
		CryptoCurrency:   req.CryptoCurrency,
		FiatCurrency:     req.FiatCurrency,
		Price:            req.Price,
		Volume:           req.Volume,
		MinOrder:         req.MinOrder,
		MaxOrder:         req.MaxOrder,
		AutoAccept:       req.AutoAccept,
		PaymentMethodIDs: req.PaymentMethods,
		ProcessingTime:   req.ProcessingTime,
		Status:           storage.AdStatusAvailable,
		IsOnline:         true,
		CreatedAt:        e.clock.Now(),
	}
	if err := e.store.CreateAd(ctx, ad); err != nil {
		return nil, err
	}

	e.log.Info("ad created", "ad", ad.ID, "vendor", vendorID, "type", ad.AdType,
		"pair", ad.CryptoCurrency+"/"+ad.FiatCurrency)
	return ad, nil
}

// UpdateAd replaces the mutable fields of a vendor's ad.
func (e *Engine) UpdateAd(ctx context.Context, vendorID, adID string, req AdRequest) (*storage.Ad, error) {
	ad, err := e.store.GetAd(ctx, adID)
	if err != nil {
		return nil, err
	}
	if ad.VendorUserID != vendorID {
		return nil, fmt.Errorf("ad %s does not belong to vendor: %w", adID, errs.ErrForbidden)
	}
	if err := e.validateAdRequest(&req); err != nil {
		return nil, err
	}

	ad.Price = req.Price
	ad.Volume = req.Volume
	ad.MinOrder = req.MinOrder
	ad.MaxOrder = req.MaxOrder
	ad.AutoAccept = req.AutoAccept
	ad.PaymentMethodIDs = req.PaymentMethods
	ad.ProcessingTime = req.ProcessingTime

	if err := e.store.UpdateAd(ctx, ad); err != nil {
		return nil, err
	}
	return ad, nil
}

// UpdateAdStatus sets a vendor's ad status.
func (e *Engine) UpdateAdStatus(ctx context.Context, vendorID, adID string, status storage.AdStatus) error {
	switch status {
	case storage.AdStatusAvailable, storage.AdStatusUnavailable, storage.AdStatusPaused:
	default:
		return fmt.Errorf("%w: unknown ad status %q", errs.ErrInvalidInput, status)
	}

	ad, err := e.store.GetAd(ctx, adID)
	if err != nil {
		return err
	}
	if ad.VendorUserID != vendorID {
		return fmt.Errorf("ad %s does not belong to vendor: %w", adID, errs.ErrForbidden)
	}
	return e.store.UpdateAdStatus(ctx, adID, status)
}

// ListMyAds returns a vendor's ads.
func (e *Engine) ListMyAds(ctx context.Context, vendorID string, filter storage.AdFilter) ([]*storage.Ad, error) {
	filter.VendorUserID = vendorID
	return e.store.ListAds(ctx, filter)
}

// BrowseAds returns publicly visible ads: available and online.
func (e *Engine) BrowseAds(ctx context.Context, filter storage.AdFilter) ([]*storage.Ad, error) {
	filter.VendorUserID = ""
	filter.Status = storage.AdStatusAvailable
	filter.OnlineOnly = true
	return e.store.ListAds(ctx, filter)
}

// GetAd returns one ad.
func (e *Engine) GetAd(ctx context.Context, adID string) (*storage.Ad, error) {
	return e.store.GetAd(ctx, adID)
}

// =============================================================================
// Order creation
// =============================================================================

// CreateOrder opens an order against an ad on behalf of the counterparty.
// Validation, insertion, the ad counter bump and the chat thread all
// happen in one scope; when the ad auto-accepts, the accept transition
// joins the same scope.
func (e *Engine) CreateOrder(ctx context.Context, counterpartyID, adID string, cryptoAmount money.Money, paymentMethodID string) (*storage.Order, error) {
	if cryptoAmount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: crypto amount must be positive", errs.ErrInvalidInput)
	}

	var order *storage.Order
	err := e.store.RunInTx(ctx, func(tx *storage.Storage) error {
		ad, err := tx.GetAd(ctx, adID)
		if err != nil {
			return err
		}
		if ad.Status != storage.AdStatusAvailable || !ad.IsOnline {
			return fmt.Errorf("ad %s is not accepting orders: %w", adID, errs.ErrInvalidTransition)
		}
		if ad.VendorUserID == counterpartyID {
			return fmt.Errorf("%w: cannot order against own ad", errs.ErrInvalidInput)
		}
		if cryptoAmount.Cmp(ad.Volume) > 0 {
			return fmt.Errorf("%w: order exceeds ad volume", errs.ErrInvalidInput)
		}

		fiatAmount := cryptoAmount.Mul(ad.Price).Round(money.FiatScale)
		if fiatAmount.Cmp(ad.MinOrder) < 0 || fiatAmount.Cmp(ad.MaxOrder) > 0 {
			return fmt.Errorf("%w: order of %s %s outside ad bounds %s-%s",
				errs.ErrInvalidInput, fiatAmount.String(), ad.FiatCurrency,
				ad.MinOrder.String(), ad.MaxOrder.String())
		}

		mine, vendorMethod, err := e.matchPaymentMethod(ctx, tx, counterpartyID, paymentMethodID, ad)
		if err != nil {
			return err
		}
		channel := storage.ChannelOffline
		if vendorMethod.Type == storage.MethodRhinoxpay {
			channel = storage.ChannelRhinoxpay
		}

		roles, err := ResolveRoles(ad.AdType, ad.VendorUserID, counterpartyID)
		if err != nil {
			return err
		}

		// The seller must be able to cover the crypto before the order opens.
		sellerVA, err := tx.GetVirtualAccountByUser(ctx, roles.SellerID, ad.Blockchain, ad.CryptoCurrency)
		if err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				return fmt.Errorf("%w: seller holds no %s", errs.ErrInsufficientFunds, ad.CryptoCurrency)
			}
			return err
		}
		if sellerVA.AvailableBalance.LessThan(cryptoAmount) {
			return fmt.Errorf("%w: required %s, available %s %s",
				errs.ErrInsufficientFunds, cryptoAmount.String(),
				sellerVA.AvailableBalance.String(), ad.CryptoCurrency)
		}

		// On a buy ad the vendor pays fiat; their cover is checked up front.
		if ad.AdType == storage.AdTypeBuy {
			buyerWallet, err := tx.GetWalletByUserCurrency(ctx, roles.BuyerID, ad.FiatCurrency)
			if err != nil {
				if errors.Is(err, errs.ErrNotFound) {
					return fmt.Errorf("%w: buyer holds no %s", errs.ErrInsufficientFunds, ad.FiatCurrency)
				}
				return err
			}
			if buyerWallet.Available().LessThan(fiatAmount) {
				return fmt.Errorf("%w: required %s, available %s %s",
					errs.ErrInsufficientFunds, fiatAmount.String(),
					buyerWallet.Available().String(), ad.FiatCurrency)
			}
		}

		now := e.clock.Now()
		order = &storage.Order{
			ID:                   uuid.NewString(),
			AdID:                 ad.ID,
			VendorUserID:         ad.VendorUserID,
			CounterpartyUserID:   counterpartyID,
			AdType:               ad.AdType,
			Blockchain:           ad.Blockchain,
			CryptoCurrency:       ad.CryptoCurrency,
			FiatCurrency:         ad.FiatCurrency,
			CryptoAmount:         cryptoAmount,
			FiatAmount:           fiatAmount,
			Price:                ad.Price,
			ProcessingTime:       ad.ProcessingTime,
			PaymentMethodID:      vendorMethod.ID,
			CounterpartyMethodID: mine.ID,
			PaymentChannel:       channel,
			Status:               storage.OrderStatusPending,
			BuyerID:              roles.BuyerID,
			SellerID:             roles.SellerID,
			Metadata: map[string]string{
				"counterparty_method_type": string(mine.Type),
			},
			CreatedAt: now,
		}
		if err := tx.CreateOrder(ctx, order); err != nil {
			return err
		}
		if err := tx.IncrementAdOrders(ctx, ad.ID); err != nil {
			return err
		}
		if err := tx.CreateChatThread(ctx, uuid.NewString(), order.ID, now); err != nil {
			return err
		}

		if ad.AutoAccept {
			if err := e.acceptTx(ctx, tx, order); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("order created", "order", order.ID, "ad", adID,
		"crypto", order.CryptoAmount.String()+" "+order.CryptoCurrency,
		"fiat", order.FiatAmount.String()+" "+order.FiatCurrency,
		"status", order.Status)
	e.emitEvent(order.ID, "order_created", order.Status)
	return order, nil
}

// GetOrder returns an order visible to the caller (vendor or counterparty).
func (e *Engine) GetOrder(ctx context.Context, userID, orderID string) (*storage.Order, error) {
	o, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.VendorUserID != userID && o.CounterpartyUserID != userID {
		return nil, fmt.Errorf("order %s is not visible to caller: %w", orderID, errs.ErrForbidden)
	}
	return o, nil
}

// ListMyOrders returns orders where the caller is a party.
func (e *Engine) ListMyOrders(ctx context.Context, userID string, filter storage.OrderFilter) ([]*storage.Order, error) {
	filter.UserID = userID
	return e.store.ListOrders(ctx, filter)
}

// Profile summarizes a user's P2P activity.
type Profile struct {
	UserID          string
	TotalOrders     int
	CompletedOrders int
	ActiveAds       int
}

// GetUserProfile returns the caller's P2P profile.
func (e *Engine) GetUserProfile(ctx context.Context, userID string) (*Profile, error) {
	if _, err := e.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}

	orders, err := e.store.ListOrders(ctx, storage.OrderFilter{UserID: userID})
	if err != nil {
		return nil, err
	}
	ads, err := e.store.ListAds(ctx, storage.AdFilter{
		VendorUserID: userID,
		Status:       storage.AdStatusAvailable,
	})
	if err != nil {
		return nil, err
	}

	p := &Profile{UserID: userID, TotalOrders: len(orders), ActiveAds: len(ads)}
	for _, o := range orders {
		if o.Status == storage.OrderStatusCompleted {
			p.CompletedOrders++
		}
	}
	return p, nil
}
