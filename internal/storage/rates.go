// Package storage - Exchange rate operations.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rhinox-exchange/rhinox-v2/pkg/errs"
	"github.com/rhinox-exchange/rhinox-v2/pkg/money"
)

// ExchangeRate is an administered rate for one (from, to) currency pair.
type ExchangeRate struct {
	ID           string
	FromCurrency string
	ToCurrency   string
	Rate         money.Money
	InverseRate  *money.Money
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    *time.Time
}

// UpsertExchangeRate inserts or replaces the rate for a pair.
func (s *Storage) UpsertExchangeRate(ctx context.Context, r *ExchangeRate) error {
	var inverse *string
	if r.InverseRate != nil {
		str := r.InverseRate.String()
		inverse = &str
	}

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO exchange_rates (id, from_currency, to_currency, rate, inverse_rate, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(from_currency, to_currency) DO UPDATE SET
			rate = excluded.rate,
			inverse_rate = excluded.inverse_rate,
			is_active = excluded.is_active,
			updated_at = excluded.created_at
	`, r.ID, r.FromCurrency, r.ToCurrency, r.Rate.String(), inverse,
		boolToInt(r.IsActive), r.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to upsert exchange rate: %w", mapSQLError(err))
	}
	return nil
}

const rateColumns = `id, from_currency, to_currency, rate, inverse_rate, is_active, created_at, updated_at`

// GetExchangeRate retrieves the active rate for an exact (from, to) pair.
func (s *Storage) GetExchangeRate(ctx context.Context, from, to string) (*ExchangeRate, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+rateColumns+` FROM exchange_rates
		WHERE from_currency = ? AND to_currency = ? AND is_active = 1
	`, from, to)
	r, err := scanExchangeRate(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("rate %s/%s: %w", from, to, errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get exchange rate: %w", mapSQLError(err))
	}
	return r, nil
}

// ListExchangeRates returns all rates, optionally only active ones.
func (s *Storage) ListExchangeRates(ctx context.Context, activeOnly bool) ([]*ExchangeRate, error) {
	query := `SELECT ` + rateColumns + ` FROM exchange_rates`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY from_currency, to_currency`

	rows, err := s.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list exchange rates: %w", mapSQLError(err))
	}
	defer rows.Close()

	var rates []*ExchangeRate
	for rows.Next() {
		r, err := scanExchangeRate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan exchange rate: %w", err)
		}
		rates = append(rates, r)
	}
	return rates, rows.Err()
}

// ListExchangeRatesFrom returns active rates whose from-currency matches base.
func (s *Storage) ListExchangeRatesFrom(ctx context.Context, base string) ([]*ExchangeRate, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+rateColumns+` FROM exchange_rates
		WHERE from_currency = ? AND is_active = 1
		ORDER BY to_currency
	`, base)
	if err != nil {
		return nil, fmt.Errorf("failed to list exchange rates: %w", mapSQLError(err))
	}
	defer rows.Close()

	var rates []*ExchangeRate
	for rows.Next() {
		r, err := scanExchangeRate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan exchange rate: %w", err)
		}
		rates = append(rates, r)
	}
	return rates, rows.Err()
}

func scanExchangeRate(row rowScanner) (*ExchangeRate, error) {
	var r ExchangeRate
	var rate string
	var inverse sql.NullString
	var active int
	var createdAt int64
	var updatedAt sql.NullInt64

	err := row.Scan(&r.ID, &r.FromCurrency, &r.ToCurrency, &rate, &inverse, &active, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	r.Rate, err = money.Parse(rate)
	if err != nil {
		return nil, fmt.Errorf("%w: stored rate %q", errs.ErrInternal, rate)
	}
	if inverse.Valid && inverse.String != "" {
		inv, err := money.Parse(inverse.String)
		if err != nil {
			return nil, fmt.Errorf("%w: stored inverse rate %q", errs.ErrInternal, inverse.String)
		}
		r.InverseRate = &inv
	}

	r.IsActive = active == 1
	r.CreatedAt = time.Unix(createdAt, 0)
	if updatedAt.Valid {
		t := time.Unix(updatedAt.Int64, 0)
		r.UpdatedAt = &t
	}
	return &r, nil
}
