// Package rpc - P2P ad and order handlers.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rhinox-exchange/rhinox-v2/internal/auth"
	"github.com/rhinox-exchange/rhinox-v2/internal/p2p"
	"github.com/rhinox-exchange/rhinox-v2/internal/storage"
	"github.com/rhinox-exchange/rhinox-v2/pkg/errs"
	"github.com/rhinox-exchange/rhinox-v2/pkg/money"
)

// AdParams is the parameters for ads_create and ads_update.
type AdParams struct {
	AdID           string   `json:"ad_id,omitempty"` // update only
	AdType         string   `json:"ad_type"`
	Blockchain     string   `json:"blockchain"`
	CryptoCurrency string   `json:"crypto_currency"`
	FiatCurrency   string   `json:"fiat_currency"`
	Price          string   `json:"price"`
	Volume         string   `json:"volume"`
	MinOrder       string   `json:"min_order"`
	MaxOrder       string   `json:"max_order"`
	AutoAccept     bool     `json:"auto_accept"`
	PaymentMethods []string `json:"payment_method_ids"`
	ProcessingTime int      `json:"processing_time"`
}

func (p *AdParams) toRequest() (p2p.AdRequest, error) {
	req := p2p.AdRequest{
		AdType:         storage.AdType(p.AdType),
		Blockchain:     p.Blockchain,
		CryptoCurrency: p.CryptoCurrency,
		FiatCurrency:   p.FiatCurrency,
		AutoAccept:     p.AutoAccept,
		PaymentMethods: p.PaymentMethods,
		ProcessingTime: p.ProcessingTime,
	}

	var err error
	if req.Price, err = money.Parse(p.Price); err != nil {
		return req, fmt.Errorf("%w: price: %v", errs.ErrInvalidInput, err)
	}
	if req.Volume, err = money.Parse(p.Volume); err != nil {
		return req, fmt.Errorf("%w: volume: %v", errs.ErrInvalidInput, err)
	}
	if req.MinOrder, err = money.Parse(p.MinOrder); err != nil {
		return req, fmt.Errorf("%w: min_order: %v", errs.ErrInvalidInput, err)
	}
	if req.MaxOrder, err = money.Parse(p.MaxOrder); err != nil {
		return req, fmt.Errorf("%w: max_order: %v", errs.ErrInvalidInput, err)
	}
	return req, nil
}

func (s *Server) adsCreate(ctx context.Context, principal *auth.Principal, params json.RawMessage) (interface{}, error) {
	var p AdParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrInvalidInput, err)
	}
	req, err := p.toRequest()
	if err != nil {
		return nil, err
	}

	ad, err := s.engine.CreateAd(ctx, principal.UserID, req)
	if err != nil {
		return nil, err
	}
	return adView(ad), nil
}

func (s *Server) adsUpdate(ctx context.Context, principal *auth.Principal, params json.RawMessage) (interface{}, error) {
	var p AdParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrInvalidInput, err)
	}
	if p.AdID == "" {
		return nil, fmt.Errorf("%w: missing ad_id", errs.ErrInvalidInput)
	}
	req, err := p.toRequest()
	if err != nil {
		return nil, err
	}

	ad, err := s.engine.UpdateAd(ctx, principal.UserID, p.AdID, req)
	if err != nil {
		return nil, err
	}
	return adView(ad), nil
}

// AdStatusParams is the parameters for ads_updateStatus.
type AdStatusParams struct {
	AdID   string `json:"ad_id"`
	Status string `json:"status"`
}

func (s *Server) adsUpdateStatus(ctx context.Context, principal *auth.Principal, params json.RawMessage) (interface{}, error) {
	var p AdStatusParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrInvalidInput, err)
	}
	if err := s.engine.UpdateAdStatus(ctx, principal.UserID, p.AdID, storage.AdStatus(p.Status)); err != nil {
		return nil, err
	}
	return map[string]bool{"updated": true}, nil
}

// AdFilterParams narrows ad listings.
type AdFilterParams struct {
	AdType         string `json:"ad_type,omitempty"`
	Status         string `json:"status,omitempty"`
	CryptoCurrency string `json:"crypto_currency,omitempty"`
	FiatCurrency   string `json:"fiat_currency,omitempty"`
	Limit          int    `json:"limit,omitempty"`
	Offset         int    `json:"offset,omitempty"`
}

func (p *AdFilterParams) toFilter() storage.AdFilter {
	return storage.AdFilter{
		AdType:         storage.AdType(p.AdType),
		Status:         storage.AdStatus(p.Status),
		CryptoCurrency: p.CryptoCurrency,
		FiatCurrency:   p.FiatCurrency,
		Limit:          p.Limit,
		Offset:         p.Offset,
	}
}

func (s *Server) adsListMine(ctx context.Context, principal *auth.Principal, params json.RawMessage) (interface{}, error) {
	var p AdFilterParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrInvalidInput, err)
		}
	}

	ads, err := s.engine.ListMyAds(ctx, principal.UserID, p.toFilter())
	if err != nil {
		return nil, err
	}
	return adViews(ads), nil
}

func (s *Server) adsBrowse(ctx context.Context, _ *auth.Principal, params json.RawMessage) (interface{}, error) {
	var p AdFilterParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrInvalidInput, err)
		}
	}

	ads, err := s.engine.BrowseAds(ctx, p.toFilter())
	if err != nil {
		return nil, err
	}
	return adViews(ads), nil
}

// AdGetParams is the parameters for ads_get.
type AdGetParams struct {
	AdID string `json:"ad_id"`
}

func (s *Server) adsGet(ctx context.Context, _ *auth.Principal, params json.RawMessage) (interface{}, error) {
	var p AdGetParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrInvalidInput, err)
	}

	ad, err := s.engine.GetAd(ctx, p.AdID)
	if err != nil {
		return nil, err
	}
	return adView(ad), nil
}

func (s *Server) adsMatchingPaymentMethods(ctx context.Context, principal *auth.Principal, params json.RawMessage) (interface{}, error) {
	var p AdGetParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrInvalidInput, err)
	}

	methods, err := s.engine.MatchingPaymentMethods(ctx, principal.UserID, p.AdID)
	if err != nil {
		return nil, err
	}

	views := make([]*PaymentMethodView, 0, len(methods))
	for _, m := range methods {
		views = append(views, paymentMethodView(m))
	}
	return views, nil
}

// OrderCreateParams is the parameters for orders_create.
type OrderCreateParams struct {
	AdID            string `json:"ad_id"`
	CryptoAmount    string `json:"crypto_amount"`
	PaymentMethodID string `json:"payment_method_id"`
}

func (s *Server) ordersCreate(ctx context.Context, principal *auth.Principal, params json.RawMessage) (interface{}, error) {
	var p OrderCreateParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrInvalidInput, err)
	}

	amount, err := money.Parse(p.CryptoAmount)
	if err != nil {
		return nil, fmt.Errorf("%w: crypto_amount: %v", errs.ErrInvalidInput, err)
	}

	order, err := s.engine.CreateOrder(ctx, principal.UserID, p.AdID, amount, p.PaymentMethodID)
	if err != nil {
		return nil, err
	}
	return orderView(order), nil
}

// OrderFilterParams narrows order listings.
type OrderFilterParams struct {
	Status string `json:"status,omitempty"`
	AdID   string `json:"ad_id,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

func (s *Server) ordersList(ctx context.Context, principal *auth.Principal, params json.RawMessage) (interface{}, error) {
	var p OrderFilterParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrInvalidInput, err)
		}
	}

	orders, err := s.engine.ListMyOrders(ctx, principal.UserID, storage.OrderFilter{
		Status: storage.OrderStatus(p.Status),
		AdID:   p.AdID,
		Limit:  p.Limit,
		Offset: p.Offset,
	})
	if err != nil {
		return nil, err
	}

	views := make([]*OrderView, 0, len(orders))
	for _, o := range orders {
		views = append(views, orderView(o))
	}
	return views, nil
}

// OrderParams identifies one order.
type OrderParams struct {
	OrderID string `json:"order_id"`
}

type orderAction func(ctx context.Context, userID, orderID string) (*storage.Order, error)

func (s *Server) orderTransition(ctx context.Context, principal *auth.Principal, params json.RawMessage, action orderAction) (interface{}, error) {
	var p OrderParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrInvalidInput, err)
	}

	order, err := action(ctx, principal.UserID, p.OrderID)
	if err != nil {
		return nil, err
	}
	return orderView(order), nil
}

func (s *Server) ordersGet(ctx context.Context, principal *auth.Principal, params json.RawMessage) (interface{}, error) {
	return s.orderTransition(ctx, principal, params, s.engine.GetOrder)
}

func (s *Server) ordersAccept(ctx context.Context, principal *auth.Principal, params json.RawMessage) (interface{}, error) {
	return s.orderTransition(ctx, principal, params, s.engine.AcceptOrder)
}

func (s *Server) ordersDecline(ctx context.Context, principal *auth.Principal, params json.RawMessage) (interface{}, error) {
	return s.orderTransition(ctx, principal, params, s.engine.DeclineOrder)
}

func (s *Server) ordersConfirmPayment(ctx context.Context, principal *auth.Principal, params json.RawMessage) (interface{}, error) {
	return s.orderTransition(ctx, principal, params, s.engine.ConfirmPayment)
}

func (s *Server) ordersMarkPaymentReceived(ctx context.Context, principal *auth.Principal, params json.RawMessage) (interface{}, error) {
	return s.orderTransition(ctx, principal, params, s.engine.MarkPaymentReceived)
}

func (s *Server) ordersCancel(ctx context.Context, principal *auth.Principal, params json.RawMessage) (interface{}, error) {
	return s.orderTransition(ctx, principal, params, s.engine.CancelOrder)
}

func (s *Server) ordersDispute(ctx context.Context, principal *auth.Principal, params json.RawMessage) (interface{}, error) {
	return s.orderTransition(ctx, principal, params, s.engine.DisputeOrder)
}

func (s *Server) ordersProfile(ctx context.Context, principal *auth.Principal, params json.RawMessage) (interface{}, error) {
	return s.engine.GetUserProfile(ctx, principal.UserID)
}

func adViews(ads []*storage.Ad) []*AdView {
	views := make([]*AdView, 0, len(ads))
	for _, ad := range ads {
		views = append(views, adView(ad))
	}
	return views
}
