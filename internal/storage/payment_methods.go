// Package storage - Payment method operations.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rhinox-exchange/rhinox-v2/pkg/errs"
)

// MethodType is the kind of payout channel a payment method represents.
type MethodType string

const (
	MethodBankAccount MethodType = "bank_account"
	MethodMobileMoney MethodType = "mobile_money"
	MethodRhinoxpay   MethodType = "rhinoxpay_id"
)

// PaymentMethod is a user-owned payout channel.
type PaymentMethod struct {
	ID     string
	UserID string
	Type   MethodType

	BankName   string // bank_account
	ProviderID string // mobile_money
	Currency   string // rhinoxpay_id

	IsActive  bool
	CreatedAt time.Time
}

// CreatePaymentMethod inserts a payment method row.
func (s *Storage) CreatePaymentMethod(ctx context.Context, m *PaymentMethod) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO payment_methods (id, user_id, method_type, bank_name, provider_id, currency, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.UserID, m.Type, nullStr(m.BankName), nullStr(m.ProviderID), nullStr(m.Currency),
		boolToInt(m.IsActive), m.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to create payment method: %w", mapSQLError(err))
	}
	return nil
}

const methodColumns = `id, user_id, method_type, bank_name, provider_id, currency, is_active, created_at`

// GetPaymentMethod retrieves a payment method by ID.
func (s *Storage) GetPaymentMethod(ctx context.Context, id string) (*PaymentMethod, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+methodColumns+` FROM payment_methods WHERE id = ?`, id)
	m, err := scanPaymentMethod(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("payment method %s: %w", id, errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment method: %w", mapSQLError(err))
	}
	return m, nil
}

// ListPaymentMethods returns a user's payment methods.
func (s *Storage) ListPaymentMethods(ctx context.Context, userID string, activeOnly bool) ([]*PaymentMethod, error) {
	query := `SELECT ` + methodColumns + ` FROM payment_methods WHERE user_id = ?`
	if activeOnly {
		query += ` AND is_active = 1`
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.q.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payment methods: %w", mapSQLError(err))
	}
	defer rows.Close()

	var methods []*PaymentMethod
	for rows.Next() {
		m, err := scanPaymentMethod(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment method: %w", err)
		}
		methods = append(methods, m)
	}
	return methods, rows.Err()
}

// GetPaymentMethods retrieves several payment methods by id, preserving
// only those that exist.
func (s *Storage) GetPaymentMethods(ctx context.Context, ids []string) ([]*PaymentMethod, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `SELECT ` + methodColumns + ` FROM payment_methods WHERE id IN (` + placeholders(len(ids)) + `)`
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get payment methods: %w", mapSQLError(err))
	}
	defer rows.Close()

	var methods []*PaymentMethod
	for rows.Next() {
		m, err := scanPaymentMethod(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment method: %w", err)
		}
		methods = append(methods, m)
	}
	return methods, rows.Err()
}

func scanPaymentMethod(row rowScanner) (*PaymentMethod, error) {
	var m PaymentMethod
	var bankName, providerID, currency sql.NullString
	var active int
	var createdAt int64

	err := row.Scan(&m.ID, &m.UserID, &m.Type, &bankName, &providerID, &currency, &active, &createdAt)
	if err != nil {
		return nil, err
	}

	m.BankName = bankName.String
	m.ProviderID = providerID.String
	m.Currency = currency.String
	m.IsActive = active == 1
	m.CreatedAt = time.Unix(createdAt, 0)
	return &m, nil
}
