// Package history materializes summaries, hourly chart buckets and
// USD-normalized type summaries from the ledger.
package history

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rhinox-exchange/rhinox-v2/internal/clock"
	"github.com/rhinox-exchange/rhinox-v2/internal/config"
	"github.com/rhinox-exchange/rhinox-v2/internal/rates"
	"github.com/rhinox-exchange/rhinox-v2/internal/storage"
	"github.com/rhinox-exchange/rhinox-v2/pkg/errs"
	"github.com/rhinox-exchange/rhinox-v2/pkg/logging"
	"github.com/rhinox-exchange/rhinox-v2/pkg/money"
)

// Period selects the date range of a history query.
type Period string

const (
	PeriodDay    Period = "D"
	PeriodWeek   Period = "W"
	PeriodMonth  Period = "M"
	PeriodCustom Period = "custom"
)

// Aggregator computes history views over ledger entries.
type Aggregator struct {
	store *storage.Storage
	rates *rates.Service
	clock clock.Clock
	loc   *time.Location
	log   *logging.Logger
}

// New creates a history aggregator. The location drives hourly
// bucketing.
func New(store *storage.Storage, rs *rates.Service, c clock.Clock, loc *time.Location) *Aggregator {
	if loc == nil {
		loc = time.Local
	}
	return &Aggregator{
		store: store,
		rates: rs,
		clock: c,
		loc:   loc,
		log:   logging.GetDefault().Component("history"),
	}
}

// ResolveRange turns a period selection into an inclusive [start, end]
// range. Custom requires start <= end.
func (a *Aggregator) ResolveRange(period Period, customStart, customEnd *time.Time) (time.Time, time.Time, error) {
	now := a.clock.Now().In(a.loc)
	switch period {
	case PeriodDay:
		start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, a.loc)
		return start, now, nil
	case PeriodWeek:
		return now.AddDate(0, 0, -7), now, nil
	case PeriodMonth:
		return now.AddDate(0, 0, -30), now, nil
	case PeriodCustom:
		if customStart == nil || customEnd == nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: custom period requires start and end", errs.ErrInvalidInput)
		}
		if customStart.After(*customEnd) {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: start after end", errs.ErrInvalidInput)
		}
		return *customStart, *customEnd, nil
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("%w: unknown period %q", errs.ErrInvalidInput, period)
	}
}

// incoming/outgoing classification per entry.
func isIncoming(t *storage.Transaction) bool {
	switch t.Type {
	case storage.TxTypeDeposit:
		return true
	case storage.TxTypeP2P:
		switch t.P2PStep {
		case storage.StepCryptoCredited, storage.StepFiatReceived, storage.StepFiatCredited:
			return true
		}
	}
	return false
}

func isOutgoing(t *storage.Transaction) bool {
	switch t.Type {
	case storage.TxTypeWithdrawal, storage.TxTypeTransfer, storage.TxTypeBillPayment:
		return true
	case storage.TxTypeP2P:
		switch t.P2PStep {
		case storage.StepCryptoDebited, storage.StepCryptoFrozen, storage.StepFiatSent, storage.StepFiatDebited:
			return true
		}
	}
	return false
}

// Summary holds the incoming/outgoing totals of a range.
type Summary struct {
	Incoming money.Money
	Outgoing money.Money
	Net      money.Money
	Count    int
}

// ChartBucket is one hour of the 24-bucket chart.
type ChartBucket struct {
	Label string
	Total money.Money
}

// TypeSummary groups entries by (type, currency, wallet kind).
type TypeSummary struct {
	Type       storage.TxType
	Currency   string
	WalletKind storage.WalletKind
	Count      int
	Total      money.Money // native currency
	TotalUSD   money.Money
}

// View is the full history response for a range.
type View struct {
	Summary Summary
	Chart   []ChartBucket
	ByType  []TypeSummary
}

// userTransactions loads the ledger entries of all the user's wallets in
// the range, with the owning wallet's kind.
func (a *Aggregator) userTransactions(ctx context.Context, userID string, start, end time.Time, types []storage.TxType) ([]*storage.Transaction, map[string]storage.WalletKind, error) {
	wallets, err := a.store.ListWallets(ctx, userID, "")
	if err != nil {
		return nil, nil, err
	}
	if len(wallets) == 0 {
		return nil, nil, nil
	}

	ids := make([]string, len(wallets))
	kinds := make(map[string]storage.WalletKind, len(wallets))
	for i, w := range wallets {
		ids[i] = w.ID
		kinds[w.ID] = w.Kind
	}

	txs, err := a.store.ListTransactions(ctx, storage.TransactionFilter{
		WalletIDs: ids,
		Types:     types,
		Status:    storage.TxStatusCompleted,
		Start:     &start,
		End:       &end,
	})
	if err != nil {
		return nil, nil, err
	}
	return txs, kinds, nil
}

// GetView computes the summary, hourly chart and USD-normalized type
// summary for a user's range.
func (a *Aggregator) GetView(ctx context.Context, userID string, period Period, customStart, customEnd *time.Time) (*View, error) {
	start, end, err := a.ResolveRange(period, customStart, customEnd)
	if err != nil {
		return nil, err
	}

	txs, kinds, err := a.userTransactions(ctx, userID, start, end, nil)
	if err != nil {
		return nil, err
	}

	view := &View{
		Summary: a.summarize(txs),
		Chart:   a.hourlyChart(txs),
		ByType:  a.typeSummary(ctx, txs, kinds),
	}
	return view, nil
}

func (a *Aggregator) summarize(txs []*storage.Transaction) Summary {
	s := Summary{
		Incoming: money.Zero(),
		Outgoing: money.Zero(),
		Count:    len(txs),
	}
	for _, t := range txs {
		switch {
		case isIncoming(t):
			s.Incoming = s.Incoming.Add(t.Amount.Abs())
		case isOutgoing(t):
			s.Outgoing = s.Outgoing.Add(t.Amount.Abs())
		}
	}
	s.Net = s.Incoming.Sub(s.Outgoing)
	return s
}

// hourLabel formats an hour in 12-hour form: 0 -> "12 AM", 13 -> "1 PM".
func hourLabel(h int) string {
	h = h % 24
	suffix := "AM"
	if h >= 12 {
		suffix = "PM"
	}
	display := h % 12
	if display == 0 {
		display = 12
	}
	return fmt.Sprintf("%d %s", display, suffix)
}

// hourlyChart buckets |amount| into 24 fixed hourly buckets in the
// configured zone. Output length is always exactly 24.
func (a *Aggregator) hourlyChart(txs []*storage.Transaction) []ChartBucket {
	buckets := make([]ChartBucket, 24)
	for h := 0; h < 24; h++ {
		buckets[h] = ChartBucket{
			Label: fmt.Sprintf("%s - %s", hourLabel(h), hourLabel(h+1)),
			Total: money.Zero(),
		}
	}
	for _, t := range txs {
		h := t.CreatedAt.In(a.loc).Hour()
		buckets[h].Total = buckets[h].Total.Add(t.Amount.Abs())
	}
	return buckets
}

// typeSummary groups entries and normalizes totals to USD. Rate lookup
// failures report zero and log; they never fail the query.
func (a *Aggregator) typeSummary(ctx context.Context, txs []*storage.Transaction, kinds map[string]storage.WalletKind) []TypeSummary {
	type key struct {
		txType   storage.TxType
		currency string
		kind     storage.WalletKind
	}

	groups := make(map[key]*TypeSummary)
	for _, t := range txs {
		k := key{t.Type, t.Currency, kinds[t.WalletID]}
		g, ok := groups[k]
		if !ok {
			g = &TypeSummary{
				Type:       k.txType,
				Currency:   k.currency,
				WalletKind: k.kind,
				Total:      money.Zero(),
				TotalUSD:   money.Zero(),
			}
			groups[k] = g
		}
		g.Count++
		g.Total = g.Total.Add(t.Amount.Abs())
	}

	out := make([]TypeSummary, 0, len(groups))
	for _, g := range groups {
		g.TotalUSD = a.toUSD(ctx, g.Total, g.Currency)
		out = append(out, *g)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		if out[i].Currency != out[j].Currency {
			return out[i].Currency < out[j].Currency
		}
		return out[i].WalletKind < out[j].WalletKind
	})
	return out
}

// toUSD normalizes an amount via the rate service; identity for USD,
// zero (with a log line) when no rate resolves.
func (a *Aggregator) toUSD(ctx context.Context, amount money.Money, currency string) money.Money {
	if currency == config.USDCode {
		return amount
	}
	converted, err := a.rates.Convert(ctx, amount, currency, config.USDCode)
	if err != nil {
		a.log.Warn("usd normalization unavailable", "currency", currency, "error", err)
		return money.Zero()
	}
	return converted
}

// ListByType returns a user's completed entries of the given types in a
// range, newest first. Used by the deposits/withdrawals/p2p/bill-payment
// listings.
func (a *Aggregator) ListByType(ctx context.Context, userID string, types []storage.TxType, period Period, customStart, customEnd *time.Time) ([]*storage.Transaction, error) {
	start, end, err := a.ResolveRange(period, customStart, customEnd)
	if err != nil {
		return nil, err
	}
	txs, _, err := a.userTransactions(ctx, userID, start, end, types)
	return txs, err
}

// GetTransactionDetails returns one entry, enforcing that the owning
// wallet belongs to the caller.
func (a *Aggregator) GetTransactionDetails(ctx context.Context, userID, txID string) (*storage.Transaction, error) {
	t, err := a.store.GetTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}
	w, err := a.store.GetWallet(ctx, t.WalletID)
	if err != nil {
		return nil, err
	}
	if w.UserID != userID {
		return nil, fmt.Errorf("transaction %s is not visible to caller: %w", txID, errs.ErrForbidden)
	}
	return t, nil
}
