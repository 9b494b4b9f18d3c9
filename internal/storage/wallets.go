// Package storage - Wallet operations.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rhinox-exchange/rhinox-v2/pkg/errs"
	"github.com/rhinox-exchange/rhinox-v2/pkg/money"
)

// WalletKind distinguishes real fiat wallets from synthetic crypto anchors.
type WalletKind string

const (
	WalletKindFiat   WalletKind = "fiat"
	WalletKindCrypto WalletKind = "crypto"
)

// Wallet represents a fiat balance for one (user, currency) pair, or a
// synthetic zero-balance anchor for crypto ledger entries.
type Wallet struct {
	ID            string
	UserID        string
	Currency      string
	Kind          WalletKind
	Balance       money.Money
	LockedBalance money.Money
	IsActive      bool
	CreatedAt     time.Time
	UpdatedAt     *time.Time
}

// Available returns balance - lockedBalance.
func (w *Wallet) Available() money.Money {
	return w.Balance.Sub(w.LockedBalance)
}

// CreateWallet inserts a wallet row. Violating the (user, currency)
// uniqueness constraint returns errs.ErrDuplicateKey.
func (s *Storage) CreateWallet(ctx context.Context, w *Wallet) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO wallets (id, user_id, currency, kind, balance, locked_balance, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, w.ID, w.UserID, w.Currency, w.Kind,
		w.Balance.String(), w.LockedBalance.String(),
		boolToInt(w.IsActive), w.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to create wallet: %w", mapSQLError(err))
	}
	return nil
}

const walletColumns = `id, user_id, currency, kind, balance, locked_balance, is_active, created_at, updated_at`

// GetWallet retrieves a wallet by ID.
func (s *Storage) GetWallet(ctx context.Context, id string) (*Wallet, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = ?`, id)
	w, err := scanWallet(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("wallet %s: %w", id, errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet: %w", mapSQLError(err))
	}
	return w, nil
}

// GetWalletByUserCurrency retrieves a user's wallet for a currency.
func (s *Storage) GetWalletByUserCurrency(ctx context.Context, userID, currency string) (*Wallet, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+walletColumns+` FROM wallets WHERE user_id = ? AND currency = ?
	`, userID, currency)
	w, err := scanWallet(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("wallet %s/%s: %w", userID, currency, errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet: %w", mapSQLError(err))
	}
	return w, nil
}

// ListWallets returns all wallets for a user, optionally filtered by kind.
func (s *Storage) ListWallets(ctx context.Context, userID string, kind WalletKind) ([]*Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE user_id = ?`
	args := []interface{}{userID}
	if kind != "" {
		query += ` AND kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", mapSQLError(err))
	}
	defer rows.Close()

	var wallets []*Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan wallet: %w", err)
		}
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}

// UpdateWalletBalances writes the wallet's balance and locked balance.
// Caller must hold a transaction scope; the reservation engine is the
// only caller.
func (s *Storage) UpdateWalletBalances(ctx context.Context, id string, balance, locked money.Money) error {
	if !s.InTx() {
		return fmt.Errorf("%w: wallet balance update outside transaction scope", errs.ErrInternal)
	}
	res, err := s.q.ExecContext(ctx, `
		UPDATE wallets SET balance = ?, locked_balance = ?, updated_at = ? WHERE id = ?
	`, balance.String(), locked.String(), time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to update wallet balances: %w", mapSQLError(err))
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("wallet %s: %w", id, errs.ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanWallet(row rowScanner) (*Wallet, error) {
	var w Wallet
	var balance, locked string
	var active int
	var createdAt int64
	var updatedAt sql.NullInt64

	err := row.Scan(&w.ID, &w.UserID, &w.Currency, &w.Kind, &balance, &locked, &active, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	w.Balance, err = money.Parse(balance)
	if err != nil {
		return nil, fmt.Errorf("%w: stored balance %q", errs.ErrInternal, balance)
	}
	w.LockedBalance, err = money.Parse(locked)
	if err != nil {
		return nil, fmt.Errorf("%w: stored locked balance %q", errs.ErrInternal, locked)
	}

	w.IsActive = active == 1
	w.CreatedAt = time.Unix(createdAt, 0)
	if updatedAt.Valid {
		t := time.Unix(updatedAt.Int64, 0)
		w.UpdatedAt = &t
	}
	return &w, nil
}
