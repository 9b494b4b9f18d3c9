// Package storage - P2P order operations.
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

// OrderStatus represents the status of a P2P order.
type OrderStatus string

const (
	OrderStatusPending             OrderStatus = "pending"
	OrderStatusAwaitingPayment     OrderStatus = "awaiting_payment"
	OrderStatusPaymentMade         OrderStatus = "payment_made"
	OrderStatusAwaitingCoinRelease OrderStatus = "awaiting_coin_release"
	OrderStatusCompleted           OrderStatus = "completed"
	OrderStatusCancelled           OrderStatus = "cancelled"
	OrderStatusExpired             OrderStatus = "expired"
	OrderStatusDisputed            OrderStatus = "disputed"
	OrderStatusRefunded            OrderStatus = "refunded"
)

// IsTerminal reports whether the status admits no further transitions.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusCompleted, OrderStatusCancelled, OrderStatusExpired, OrderStatusRefunded:
		return true
	}
	return false
}

// PaymentChannel is how the fiat leg of an order settles.
type PaymentChannel string

const (
	ChannelOffline    PaymentChannel = "offline"
	ChannelRhinoxpay  PaymentChannel = "rhinoxpay_id"
)

// Order is a single exchange between one user and one ad's vendor.
// Price, ad type and processing time are frozen at creation.
type Order struct {
	ID                 string
	AdID               string
	VendorUserID       string
	CounterpartyUserID string

	AdType         AdType
	Blockchain     string
	CryptoCurrency string
	FiatCurrency   string
	CryptoAmount   money.Money
	FiatAmount     money.Money
	Price          money.Money
	ProcessingTime int // minutes

	PaymentMethodID      string // matched vendor method
	CounterpartyMethodID string
	PaymentChannel       PaymentChannel

	Status OrderStatus

	// Role cache; derived from AdType at creation
	BuyerID  string
	SellerID string

	Metadata map[string]string

	CreatedAt         time.Time
	AcceptedAt        *time.Time
	ExpiresAt         *time.Time
	PaymentMadeAt     *time.Time
	PaymentReceivedAt *time.Time
	CompletedAt       *time.Time
	CancelledAt       *time.Time
	UpdatedAt         *time.Time
}

// CreateOrder inserts an order row.
func (s *Storage) CreateOrder(ctx context.Context, o *Order) error {
	var metadata *string
	if len(o.Metadata) > 0 {
		b, err := json.Marshal(o.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		str := string(b)
		metadata = &str
	}

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO p2p_orders (
			id, ad_id, vendor_user_id, counterparty_user_id,
			ad_type, blockchain, crypto_currency, fiat_currency,
			crypto_amount, fiat_amount, price, processing_time,
			payment_method_id, counterparty_method_id, payment_channel,
			status, buyer_id, seller_id, metadata, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, o.ID, o.AdID, o.VendorUserID, o.CounterpartyUserID,
		o.AdType, o.Blockchain, o.CryptoCurrency, o.FiatCurrency,
		o.CryptoAmount.String(), o.FiatAmount.String(), o.Price.String(), o.ProcessingTime,
		o.PaymentMethodID, o.CounterpartyMethodID, o.PaymentChannel,
		o.Status, o.BuyerID, o.SellerID, metadata, o.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to create order: %w", mapSQLError(err))
	}
	return nil
}

const orderColumns = `id, ad_id, vendor_user_id, counterparty_user_id,
	ad_type, blockchain, crypto_currency, fiat_currency,
	crypto_amount, fiat_amount, price, processing_time,
	payment_method_id, counterparty_method_id, payment_channel,
	status, buyer_id, seller_id, metadata,
	created_at, accepted_at, expires_at, payment_made_at,
	payment_received_at, completed_at, cancelled_at, updated_at`

// GetOrder retrieves an order by ID.
func (s *Storage) GetOrder(ctx context.Context, id string) (*Order, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM p2p_orders WHERE id = ?`, id)
	o, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order %s: %w", id, errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", mapSQLError(err))
	}
	return o, nil
}

// OrderFilter narrows ListOrders results.
type OrderFilter struct {
	UserID   string // matches vendor or counterparty
	AdID     string
	Status   OrderStatus
	Limit    int
	Offset   int
}

// ListOrders returns orders matching the filter, newest first.
func (s *Storage) ListOrders(ctx context.Context, filter OrderFilter) ([]*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM p2p_orders WHERE 1=1`
	args := []interface{}{}

	if filter.UserID != "" {
		query += ` AND (vendor_user_id = ? OR counterparty_user_id = ?)`
		args = append(args, filter.UserID, filter.UserID)
	}
	if filter.AdID != "" {
		query += ` AND ad_id = ?`
		args = append(args, filter.AdID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
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
		return nil, fmt.Errorf("failed to list orders: %w", mapSQLError(err))
	}
	defer rows.Close()

	var orders []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// ListExpiredOrders returns orders in awaiting_payment whose payment
// window has closed, oldest first. Used by the expiry sweeper.
func (s *Storage) ListExpiredOrders(ctx context.Context, now time.Time, limit int) ([]*Order, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+orderColumns+` FROM p2p_orders
		WHERE status = ? AND expires_at IS NOT NULL AND expires_at < ?
		ORDER BY expires_at ASC
		LIMIT ?
	`, OrderStatusAwaitingPayment, now.Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired orders: %w", mapSQLError(err))
	}
	defer rows.Close()

	var orders []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// UpdateOrderTransition moves an order from one status to another,
// writing the given timestamp column. The from-status guard makes the
// transition idempotent: a replay affects zero rows and returns
// errs.ErrInvalidTransition.
func (s *Storage) UpdateOrderTransition(ctx context.Context, id string, from, to OrderStatus, stamps map[string]time.Time) error {
	if !s.InTx() {
		return fmt.Errorf("%w: order transition outside transaction scope", errs.ErrInternal)
	}

	query := `UPDATE p2p_orders SET status = ?, updated_at = ?`
	args := []interface{}{to, time.Now().Unix()}

	for _, col := range []string{"accepted_at", "expires_at", "payment_made_at", "payment_received_at", "completed_at", "cancelled_at"} {
		if t, ok := stamps[col]; ok {
			query += `, ` + col + ` = ?`
			args = append(args, t.Unix())
		}
	}

	query += ` WHERE id = ? AND status = ?`
	args = append(args, id, from)

	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to transition order: %w", mapSQLError(err))
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("order %s is not %s: %w", id, from, errs.ErrInvalidTransition)
	}
	return nil
}

// CreateChatThread initializes the chat thread for an order.
func (s *Storage) CreateChatThread(ctx context.Context, id, orderID string, createdAt time.Time) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO chat_threads (id, order_id, created_at) VALUES (?, ?, ?)
	`, id, orderID, createdAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to create chat thread: %w", mapSQLError(err))
	}
	return nil
}

func scanOrder(row rowScanner) (*Order, error) {
	var o Order
	var cryptoAmount, fiatAmount, price string
	var metadata sql.NullString
	var createdAt int64
	var acceptedAt, expiresAt, paymentMadeAt, paymentReceivedAt, completedAt, cancelledAt, updatedAt sql.NullInt64

	err := row.Scan(&o.ID, &o.AdID, &o.VendorUserID, &o.CounterpartyUserID,
		&o.AdType, &o.Blockchain, &o.CryptoCurrency, &o.FiatCurrency,
		&cryptoAmount, &fiatAmount, &price, &o.ProcessingTime,
		&o.PaymentMethodID, &o.CounterpartyMethodID, &o.PaymentChannel,
		&o.Status, &o.BuyerID, &o.SellerID, &metadata,
		&createdAt, &acceptedAt, &expiresAt, &paymentMadeAt,
		&paymentReceivedAt, &completedAt, &cancelledAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	o.CryptoAmount, err = money.Parse(cryptoAmount)
	if err != nil {
		return nil, fmt.Errorf("%w: stored crypto amount %q", errs.ErrInternal, cryptoAmount)
	}
	o.FiatAmount, err = money.Parse(fiatAmount)
	if err != nil {
		return nil, fmt.Errorf("%w: stored fiat amount %q", errs.ErrInternal, fiatAmount)
	}
	o.Price, err = money.Parse(price)
	if err != nil {
		return nil, fmt.Errorf("%w: stored price %q", errs.ErrInternal, price)
	}

	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &o.Metadata); err != nil {
			return nil, fmt.Errorf("failed to parse metadata: %w", err)
		}
	}

	o.CreatedAt = time.Unix(createdAt, 0)
	o.AcceptedAt = unixPtr(acceptedAt)
	o.ExpiresAt = unixPtr(expiresAt)
	o.PaymentMadeAt = unixPtr(paymentMadeAt)
	o.PaymentReceivedAt = unixPtr(paymentReceivedAt)
	o.CompletedAt = unixPtr(completedAt)
	o.CancelledAt = unixPtr(cancelledAt)
	o.UpdatedAt = unixPtr(updatedAt)
	return &o, nil
}

func unixPtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0)
	return &t
}
