// Package storage - P2P ad operations.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rhinox-exchange/rhinox-v2/pkg/errs"
	"github.com/rhinox-exchange/rhinox-v2/pkg/money"
)

// AdType is the vendor's side of an ad: a "buy" ad means the vendor buys
// crypto; the counterparty sells into it.
type AdType string

const (
	AdTypeBuy  AdType = "buy"
	AdTypeSell AdType = "sell"
)

// AdStatus represents the availability of an ad.
type AdStatus string

const (
	AdStatusAvailable   AdStatus = "available"
	AdStatusUnavailable AdStatus = "unavailable"
	AdStatusPaused      AdStatus = "paused"
)

// Ad is a standing vendor offer to buy or sell a crypto for a fiat at a
// fixed price.
type Ad struct {
	ID           string
	VendorUserID string
	AdType       AdType

	Blockchain     string
	CryptoCurrency string
	FiatCurrency   string

	Price  money.Money // fiat per unit crypto
	Volume money.Money // crypto

	MinOrder money.Money // fiat
	MaxOrder money.Money // fiat

	AutoAccept       bool
	PaymentMethodIDs []string
	ProcessingTime   int // minutes

	Status         AdStatus
	IsOnline       bool
	OrdersReceived int

	CreatedAt time.Time
	UpdatedAt *time.Time
}

// CreateAd inserts an ad row.
func (s *Storage) CreateAd(ctx context.Context, ad *Ad) error {
	methodsJSON, err := json.Marshal(ad.PaymentMethodIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal payment method ids: %w", err)
	}

	_, err = s.q.ExecContext(ctx, `
		INSERT INTO p2p_ads (
			id, vendor_user_id, ad_type, blockchain, crypto_currency, fiat_currency,
			price, volume, min_order, max_order, auto_accept, payment_method_ids,
			processing_time, status, is_online, orders_received, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ad.ID, ad.VendorUserID, ad.AdType, ad.Blockchain, ad.CryptoCurrency, ad.FiatCurrency,
		ad.Price.String(), ad.Volume.String(), ad.MinOrder.String(), ad.MaxOrder.String(),
		boolToInt(ad.AutoAccept), string(methodsJSON),
		ad.ProcessingTime, ad.Status, boolToInt(ad.IsOnline), ad.OrdersReceived, ad.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to create ad: %w", mapSQLError(err))
	}
	return nil
}

const adColumns = `id, vendor_user_id, ad_type, blockchain, crypto_currency, fiat_currency,
	price, volume, min_order, max_order, auto_accept, payment_method_ids,
	processing_time, status, is_online, orders_received, created_at, updated_at`

// GetAd retrieves an ad by ID.
func (s *Storage) GetAd(ctx context.Context, id string) (*Ad, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+adColumns+` FROM p2p_ads WHERE id = ?`, id)
	ad, err := scanAd(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("ad %s: %w", id, errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ad: %w", mapSQLError(err))
	}
	return ad, nil
}

// AdFilter narrows ListAds results.
type AdFilter struct {
	VendorUserID   string
	AdType         AdType
	Status         AdStatus
	CryptoCurrency string
	FiatCurrency   string
	OnlineOnly     bool
	Limit          int
	Offset         int
}

// ListAds returns ads matching the filter, newest first.
func (s *Storage) ListAds(ctx context.Context, filter AdFilter) ([]*Ad, error) {
	query := `SELECT ` + adColumns + ` FROM p2p_ads WHERE 1=1`
	args := []interface{}{}

	if filter.VendorUserID != "" {
		query += ` AND vendor_user_id = ?`
		args = append(args, filter.VendorUserID)
	}
	if filter.AdType != "" {
		query += ` AND ad_type = ?`
		args = append(args, filter.AdType)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	if filter.CryptoCurrency != "" {
		query += ` AND crypto_currency = ?`
		args = append(args, filter.CryptoCurrency)
	}
	if filter.FiatCurrency != "" {
		query += ` AND fiat_currency = ?`
		args = append(args, filter.FiatCurrency)
	}
	if filter.OnlineOnly {
		query += ` AND is_online = 1`
	}

	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list ads: %w", mapSQLError(err))
	}
	defer rows.Close()

	var ads []*Ad
	for rows.Next() {
		ad, err := scanAd(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ad: %w", err)
		}
		ads = append(ads, ad)
	}
	return ads, rows.Err()
}

// UpdateAd writes the mutable fields of an ad.
func (s *Storage) UpdateAd(ctx context.Context, ad *Ad) error {
	methodsJSON, err := json.Marshal(ad.PaymentMethodIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal payment method ids: %w", err)
	}

	res, err := s.q.ExecContext(ctx, `
		UPDATE p2p_ads SET
			price = ?, volume = ?, min_order = ?, max_order = ?,
			auto_accept = ?, payment_method_ids = ?, processing_time = ?,
			status = ?, is_online = ?, updated_at = ?
		WHERE id = ?
	`, ad.Price.String(), ad.Volume.String(), ad.MinOrder.String(), ad.MaxOrder.String(),
		boolToInt(ad.AutoAccept), string(methodsJSON), ad.ProcessingTime,
		ad.Status, boolToInt(ad.IsOnline), time.Now().Unix(), ad.ID)
	if err != nil {
		return fmt.Errorf("failed to update ad: %w", mapSQLError(err))
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("ad %s: %w", ad.ID, errs.ErrNotFound)
	}
	return nil
}

// UpdateAdStatus writes only the ad status.
func (s *Storage) UpdateAdStatus(ctx context.Context, id string, status AdStatus) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE p2p_ads SET status = ?, updated_at = ? WHERE id = ?
	`, status, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to update ad status: %w", mapSQLError(err))
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("ad %s: %w", id, errs.ErrNotFound)
	}
	return nil
}

// IncrementAdOrders bumps the orders_received counter. Called inside the
// order-creation scope.
func (s *Storage) IncrementAdOrders(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE p2p_ads SET orders_received = orders_received + 1, updated_at = ? WHERE id = ?
	`, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to increment ad orders: %w", mapSQLError(err))
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("ad %s: %w", id, errs.ErrNotFound)
	}
	return nil
}

func scanAd(row rowScanner) (*Ad, error) {
	var ad Ad
	var price, volume, minOrder, maxOrder, methodsJSON string
	var autoAccept, online int
	var createdAt int64
	var updatedAt sql.NullInt64

	err := row.Scan(&ad.ID, &ad.VendorUserID, &ad.AdType, &ad.Blockchain,
		&ad.CryptoCurrency, &ad.FiatCurrency,
		&price, &volume, &minOrder, &maxOrder,
		&autoAccept, &methodsJSON, &ad.ProcessingTime,
		&ad.Status, &online, &ad.OrdersReceived, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	amounts := []struct {
		raw string
		dst *money.Money
	}{
		{price, &ad.Price},
		{volume, &ad.Volume},
		{minOrder, &ad.MinOrder},
		{maxOrder, &ad.MaxOrder},
	}
	for _, a := range amounts {
		m, err := money.Parse(a.raw)
		if err != nil {
			return nil, fmt.Errorf("%w: stored ad amount %q", errs.ErrInternal, a.raw)
		}
		*a.dst = m
	}

	if err := json.Unmarshal([]byte(methodsJSON), &ad.PaymentMethodIDs); err != nil {
		return nil, fmt.Errorf("failed to parse payment method ids: %w", err)
	}

	ad.AutoAccept = autoAccept == 1
	ad.IsOnline = online == 1
	ad.CreatedAt = time.Unix(createdAt, 0)
	if updatedAt.Valid {
		t := time.Unix(updatedAt.Int64, 0)
		ad.UpdatedAt = &t
	}
	return &ad, nil
}
