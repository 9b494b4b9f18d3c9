// Package rpc - Exchange rate and conversion handlers.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rhinox-exchange/rhinox-v2/internal/auth"
	"github.com/rhinox-exchange/rhinox-v2/internal/storage"
	"github.com/rhinox-exchange/rhinox-v2/internal/transfer"
	"github.com/rhinox-exchange/rhinox-v2/pkg/errs"
	"github.com/rhinox-exchange/rhinox-v2/pkg/money"
)

// RateParams is the parameters for exchange_getRate.
type RateParams struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// RateResult is the response for exchange_getRate.
type RateResult struct {
	From string `json:"from"`
	To   string `json:"to"`
	Rate string `json:"rate"`
}

func (s *Server) exchangeGetRate(ctx context.Context, _ *auth.Principal, params json.RawMessage) (interface{}, error) {
	var p RateParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrInvalidInput, err)
	}

	rate, err := s.rates.GetRate(ctx, p.From, p.To)
	if err != nil {
		return nil, err
	}
	return &RateResult{From: p.From, To: p.To, Rate: rate.String()}, nil
}

// ListRatesParams is the parameters for exchange_listRates.
type ListRatesParams struct {
	ActiveOnly bool   `json:"active_only,omitempty"`
	Base       string `json:"base,omitempty"`
}

func (s *Server) exchangeListRates(ctx context.Context, _ *auth.Principal, params json.RawMessage) (interface{}, error) {
	var p ListRatesParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrInvalidInput, err)
		}
	}

	rateList, err := s.rates.List(ctx, p.ActiveOnly)
	if err != nil {
		return nil, err
	}
	return rateViews(rateList), nil
}

func (s *Server) exchangeListRatesFromBase(ctx context.Context, _ *auth.Principal, params json.RawMessage) (interface{}, error) {
	var p ListRatesParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrInvalidInput, err)
	}

	rateList, err := s.rates.ListFromBase(ctx, p.Base)
	if err != nil {
		return nil, err
	}
	return rateViews(rateList), nil
}

// ConvertParams is the parameters for exchange_convert.
type ConvertParams struct {
	Amount string `json:"amount"`
	From   string `json:"from"`
	To     string `json:"to"`
}

// ConvertResult is the response for exchange_convert.
type ConvertResult struct {
	Converted string           `json:"converted"`
	Rate      string           `json:"rate"`
	Debit     *TransactionView `json:"debit"`
	Credit    *TransactionView `json:"credit"`
}

func (s *Server) exchangeConvert(ctx context.Context, principal *auth.Principal, params json.RawMessage) (interface{}, error) {
	var p ConvertParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrInvalidInput, err)
	}

	amount, err := money.Parse(p.Amount)
	if err != nil {
		return nil, fmt.Errorf("%w: amount: %v", errs.ErrInvalidInput, err)
	}

	res, err := s.transfer.Convert(ctx, transfer.ConvertRequest{
		UserID:       principal.UserID,
		FromCurrency: p.From,
		ToCurrency:   p.To,
		Amount:       amount,
	})
	if err != nil {
		return nil, err
	}

	return &ConvertResult{
		Converted: res.Converted.String(),
		Rate:      res.Rate.String(),
		Debit:     transactionView(res.Debit),
		Credit:    transactionView(res.Credit),
	}, nil
}

// SetRateParams is the parameters for exchange_setRate. Admin only.
type SetRateParams struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Rate        string `json:"rate"`
	InverseRate string `json:"inverse_rate,omitempty"`
}

func (s *Server) exchangeSetRate(ctx context.Context, principal *auth.Principal, params json.RawMessage) (interface{}, error) {
	if err := s.auth.RequireAdmin(principal); err != nil {
		return nil, err
	}

	var p SetRateParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrInvalidInput, err)
	}

	rate, err := money.Parse(p.Rate)
	if err != nil {
		return nil, fmt.Errorf("%w: rate: %v", errs.ErrInvalidInput, err)
	}

	var inverse *money.Money
	if p.InverseRate != "" {
		inv, err := money.Parse(p.InverseRate)
		if err != nil {
			return nil, fmt.Errorf("%w: inverse_rate: %v", errs.ErrInvalidInput, err)
		}
		inverse = &inv
	}

	r, err := s.rates.SetRate(ctx, p.From, p.To, rate, inverse)
	if err != nil {
		return nil, err
	}
	return rateView(r), nil
}

func rateViews(rateList []*storage.ExchangeRate) []*RateView {
	views := make([]*RateView, 0, len(rateList))
	for _, r := range rateList {
		views = append(views, rateView(r))
	}
	return views
}
