// Package rates resolves administered exchange rates with inverse-rate
// fallback. The P2P engine never uses this package; orders settle at the
// ad's frozen price.
package rates

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/rhinox-exchange/rhinox-v2/internal/clock"
	"github.com/rhinox-exchange/rhinox-v2/internal/storage"
	"github.com/rhinox-exchange/rhinox-v2/pkg/errs"
	"github.com/rhinox-exchange/rhinox-v2/pkg/logging"
	"github.com/rhinox-exchange/rhinox-v2/pkg/money"
)

// RateScale is the decimal precision of computed reciprocal rates.
const RateScale = 8

// Service reads and administers the exchange-rate table.
type Service struct {
	store *storage.Storage
	clock clock.Clock
	log   *logging.Logger
}

// New creates a rate service.
func New(store *storage.Storage, c clock.Clock) *Service {
	return &Service{
		store: store,
		clock: c,
		log:   logging.GetDefault().Component("rates"),
	}
}

// GetRate resolves the rate from one currency to another:
// identity for equal currencies, then the direct pair, then the
// reciprocal of the inverse pair. Fails with errs.ErrRateUnavailable.
func (s *Service) GetRate(ctx context.Context, from, to string) (money.Money, error) {
	return s.getRate(ctx, s.store, from, to)
}

// GetRateTx is GetRate inside an existing transaction scope.
func (s *Service) GetRateTx(ctx context.Context, tx *storage.Storage, from, to string) (money.Money, error) {
	return s.getRate(ctx, tx, from, to)
}

func (s *Service) getRate(ctx context.Context, q *storage.Storage, from, to string) (money.Money, error) {
	if from == "" || to == "" {
		return money.Zero(), fmt.Errorf("%w: missing currency", errs.ErrInvalidInput)
	}
	if from == to {
		return money.FromInt(1), nil
	}

	direct, err := q.GetExchangeRate(ctx, from, to)
	if err == nil {
		return direct.Rate, nil
	}
	if !errors.Is(err, errs.ErrNotFound) {
		return money.Zero(), err
	}

	inverse, err := q.GetExchangeRate(ctx, to, from)
	if err == nil {
		// Prefer the administered inverse when stored.
		if inverse.InverseRate != nil {
			return *inverse.InverseRate, nil
		}
		return money.FromInt(1).Div(inverse.Rate, RateScale)
	}
	if !errors.Is(err, errs.ErrNotFound) {
		return money.Zero(), err
	}

	return money.Zero(), fmt.Errorf("no rate for %s/%s: %w", from, to, errs.ErrRateUnavailable)
}

// Convert returns amount * rate(from, to).
func (s *Service) Convert(ctx context.Context, amount money.Money, from, to string) (money.Money, error) {
	rate, err := s.GetRate(ctx, from, to)
	if err != nil {
		return money.Zero(), err
	}
	return amount.Mul(rate), nil
}

// SetRate administers the rate for a pair. Zero or negative rates are
// rejected; the optional stored inverse follows the same rule.
func (s *Service) SetRate(ctx context.Context, from, to string, rate money.Money, inverseRate *money.Money) (*storage.ExchangeRate, error) {
	if from == "" || to == "" || from == to {
		return nil, fmt.Errorf("%w: invalid currency pair %s/%s", errs.ErrInvalidInput, from, to)
	}
	if rate.Sign() <= 0 {
		return nil, fmt.Errorf("%w: rate must be positive", errs.ErrInvalidInput)
	}
	if inverseRate != nil && inverseRate.Sign() <= 0 {
		return nil, fmt.Errorf("%w: inverse rate must be positive", errs.ErrInvalidInput)
	}

	r := &storage.ExchangeRate{
		ID:           uuid.NewString(),
		FromCurrency: from,
		ToCurrency:   to,
		Rate:         rate,
		InverseRate:  inverseRate,
		IsActive:     true,
		CreatedAt:    s.clock.Now(),
	}
	if err := s.store.UpsertExchangeRate(ctx, r); err != nil {
		return nil, err
	}

	s.log.Info("rate set", "from", from, "to", to, "rate", rate.String())
	return r, nil
}

// List returns all rates, optionally active only.
func (s *Service) List(ctx context.Context, activeOnly bool) ([]*storage.ExchangeRate, error) {
	return s.store.ListExchangeRates(ctx, activeOnly)
}

// ListFromBase returns active rates quoted from the given base currency.
func (s *Service) ListFromBase(ctx context.Context, base string) ([]*storage.ExchangeRate, error) {
	if base == "" {
		return nil, fmt.Errorf("%w: missing base currency", errs.ErrInvalidInput)
	}
	return s.store.ListExchangeRatesFrom(ctx, base)
}
