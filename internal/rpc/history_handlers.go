// Package rpc - History handlers.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rhinox-exchange/rhinox-v2/internal/auth"
	"github.com/rhinox-exchange/rhinox-v2/internal/history"
	"github.com/rhinox-exchange/rhinox-v2/internal/storage"
	"github.com/rhinox-exchange/rhinox-v2/pkg/errs"
)

// HistoryParams is the parameters for history_get and history_listByType.
type HistoryParams struct {
	Period string   `json:"period"` // D, W, M or custom
	Start  string   `json:"start,omitempty"`
	End    string   `json:"end,omitempty"`
	Types  []string `json:"types,omitempty"` // listByType only
}

func (p *HistoryParams) rangeArgs() (history.Period, *time.Time, *time.Time, error) {
	period := history.Period(p.Period)
	if period == "" {
		period = history.PeriodDay
	}

	var start, end *time.Time
	if p.Start != "" {
		t, err := time.Parse(time.RFC3339, p.Start)
		if err != nil {
			return "", nil, nil, fmt.Errorf("%w: start: %v", errs.ErrInvalidInput, err)
		}
		start = &t
	}
	if p.End != "" {
		t, err := time.Parse(time.RFC3339, p.End)
		if err != nil {
			return "", nil, nil, fmt.Errorf("%w: end: %v", errs.ErrInvalidInput, err)
		}
		end = &t
	}
	return period, start, end, nil
}

// HistoryViewResult is the response for history_get.
type HistoryViewResult struct {
	Summary struct {
		Incoming string `json:"incoming"`
		Outgoing string `json:"outgoing"`
		Net      string `json:"net"`
		Count    int    `json:"count"`
	} `json:"summary"`
	Chart  []ChartBucketView `json:"chart"`
	ByType []TypeSummaryView `json:"by_type"`
}

// ChartBucketView is one hour of the chart.
type ChartBucketView struct {
	Label string `json:"label"`
	Total string `json:"total"`
}

// TypeSummaryView is one (type, currency, wallet kind) group.
type TypeSummaryView struct {
	Type       string `json:"type"`
	Currency   string `json:"currency"`
	WalletKind string `json:"wallet_kind"`
	Count      int    `json:"count"`
	Total      string `json:"total"`
	TotalUSD   string `json:"total_usd"`
}

func (s *Server) historyGet(ctx context.Context, principal *auth.Principal, params json.RawMessage) (interface{}, error) {
	var p HistoryParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrInvalidInput, err)
		}
	}
	period, start, end, err := p.rangeArgs()
	if err != nil {
		return nil, err
	}

	view, err := s.history.GetView(ctx, principal.UserID, period, start, end)
	if err != nil {
		return nil, err
	}

	var result HistoryViewResult
	result.Summary.Incoming = view.Summary.Incoming.String()
	result.Summary.Outgoing = view.Summary.Outgoing.String()
	result.Summary.Net = view.Summary.Net.String()
	result.Summary.Count = view.Summary.Count

	result.Chart = make([]ChartBucketView, 0, len(view.Chart))
	for _, b := range view.Chart {
		result.Chart = append(result.Chart, ChartBucketView{Label: b.Label, Total: b.Total.String()})
	}

	result.ByType = make([]TypeSummaryView, 0, len(view.ByType))
	for _, t := range view.ByType {
		result.ByType = append(result.ByType, TypeSummaryView{
			Type:       string(t.Type),
			Currency:   t.Currency,
			WalletKind: string(t.WalletKind),
			Count:      t.Count,
			Total:      t.Total.String(),
			TotalUSD:   t.TotalUSD.String(),
		})
	}
	return &result, nil
}

func (s *Server) historyListByType(ctx context.Context, principal *auth.Principal, params json.RawMessage) (interface{}, error) {
	var p HistoryParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrInvalidInput, err)
	}
	period, start, end, err := p.rangeArgs()
	if err != nil {
		return nil, err
	}

	types := make([]storage.TxType, 0, len(p.Types))
	for _, t := range p.Types {
		types = append(types, storage.TxType(t))
	}

	txs, err := s.history.ListByType(ctx, principal.UserID, types, period, start, end)
	if err != nil {
		return nil, err
	}

	views := make([]*TransactionView, 0, len(txs))
	for _, t := range txs {
		views = append(views, transactionView(t))
	}
	return views, nil
}

// TransactionParams identifies one ledger entry.
type TransactionParams struct {
	TransactionID string `json:"transaction_id"`
}

func (s *Server) historyGetTransaction(ctx context.Context, principal *auth.Principal, params json.RawMessage) (interface{}, error) {
	var p TransactionParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrInvalidInput, err)
	}

	t, err := s.history.GetTransactionDetails(ctx, principal.UserID, p.TransactionID)
	if err != nil {
		return nil, err
	}
	return transactionView(t), nil
}
