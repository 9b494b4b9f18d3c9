// Package storage - Virtual account operations.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rhinox-exchange/rhinox-v2/pkg/errs"
	"github.com/rhinox-exchange/rhinox-v2/pkg/money"
)

// VirtualAccount holds the custodial crypto balance for one
// (user, blockchain, currency). The frozen-in-escrow amount is
// accountBalance - availableBalance.
type VirtualAccount struct {
	ID               string
	UserID           string
	Blockchain       string
	Currency         string
	AccountBalance   money.Money
	AvailableBalance money.Money
	IsActive         bool
	IsFrozen         bool
	CreatedAt        time.Time
	UpdatedAt        *time.Time
}

// FrozenBalance returns accountBalance - availableBalance.
func (a *VirtualAccount) FrozenBalance() money.Money {
	return a.AccountBalance.Sub(a.AvailableBalance)
}

// CreateVirtualAccount inserts a virtual account row. Violating the
// (user, blockchain, currency) uniqueness returns errs.ErrDuplicateKey.
func (s *Storage) CreateVirtualAccount(ctx context.Context, a *VirtualAccount) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO virtual_accounts (
			id, user_id, blockchain, currency,
			account_balance, available_balance,
			is_active, is_frozen, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.UserID, a.Blockchain, a.Currency,
		a.AccountBalance.String(), a.AvailableBalance.String(),
		boolToInt(a.IsActive), boolToInt(a.IsFrozen), a.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to create virtual account: %w", mapSQLError(err))
	}
	return nil
}

const vaColumns = `id, user_id, blockchain, currency, account_balance, available_balance, is_active, is_frozen, created_at, updated_at`

// GetVirtualAccount retrieves a virtual account by ID.
func (s *Storage) GetVirtualAccount(ctx context.Context, id string) (*VirtualAccount, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+vaColumns+` FROM virtual_accounts WHERE id = ?`, id)
	a, err := scanVirtualAccount(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("virtual account %s: %w", id, errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get virtual account: %w", mapSQLError(err))
	}
	return a, nil
}

// GetVirtualAccountByUser retrieves a user's account for a
// (blockchain, currency) pair.
func (s *Storage) GetVirtualAccountByUser(ctx context.Context, userID, blockchain, currency string) (*VirtualAccount, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+vaColumns+` FROM virtual_accounts
		WHERE user_id = ? AND blockchain = ? AND currency = ?
	`, userID, blockchain, currency)
	a, err := scanVirtualAccount(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("virtual account %s %s/%s: %w", userID, blockchain, currency, errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get virtual account: %w", mapSQLError(err))
	}
	return a, nil
}

// ListVirtualAccounts returns all virtual accounts for a user.
func (s *Storage) ListVirtualAccounts(ctx context.Context, userID string) ([]*VirtualAccount, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+vaColumns+` FROM virtual_accounts WHERE user_id = ? ORDER BY created_at ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list virtual accounts: %w", mapSQLError(err))
	}
	defer rows.Close()

	var accounts []*VirtualAccount
	for rows.Next() {
		a, err := scanVirtualAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan virtual account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// UpdateVirtualAccountBalances writes the account and available balances.
// Caller must hold a transaction scope; the reservation engine is the
// only caller.
func (s *Storage) UpdateVirtualAccountBalances(ctx context.Context, id string, account, available money.Money) error {
	if !s.InTx() {
		return fmt.Errorf("%w: virtual account balance update outside transaction scope", errs.ErrInternal)
	}
	res, err := s.q.ExecContext(ctx, `
		UPDATE virtual_accounts SET account_balance = ?, available_balance = ?, updated_at = ? WHERE id = ?
	`, account.String(), available.String(), time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to update virtual account balances: %w", mapSQLError(err))
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("virtual account %s: %w", id, errs.ErrNotFound)
	}
	return nil
}

func scanVirtualAccount(row rowScanner) (*VirtualAccount, error) {
	var a VirtualAccount
	var account, available string
	var active, frozen int
	var createdAt int64
	var updatedAt sql.NullInt64

	err := row.Scan(&a.ID, &a.UserID, &a.Blockchain, &a.Currency,
		&account, &available, &active, &frozen, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	a.AccountBalance, err = money.Parse(account)
	if err != nil {
		return nil, fmt.Errorf("%w: stored account balance %q", errs.ErrInternal, account)
	}
	a.AvailableBalance, err = money.Parse(available)
	if err != nil {
		return nil, fmt.Errorf("%w: stored available balance %q", errs.ErrInternal, available)
	}

	a.IsActive = active == 1
	a.IsFrozen = frozen == 1
	a.CreatedAt = time.Unix(createdAt, 0)
	if updatedAt.Valid {
		t := time.Unix(updatedAt.Int64, 0)
		a.UpdatedAt = &t
	}
	return &a, nil
}
