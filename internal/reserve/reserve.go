// Package reserve holds and releases funds for in-flight operations.
//
// Fiat uses a locked-balance split on the wallet row; crypto uses the
// available-vs-account split on the virtual account (the gap is escrow).
// Every method requires a transaction scope and fails without mutating
// state when its precondition does not hold.
package reserve

import (
	"context"
	"fmt"

	"github.com/rhinox-exchange/rhinox-v2/internal/storage"
	"github.com/rhinox-exchange/rhinox-v2/pkg/errs"
	"github.com/rhinox-exchange/rhinox-v2/pkg/logging"
	"github.com/rhinox-exchange/rhinox-v2/pkg/money"
)

// Engine performs balance reservations and settlements.
type Engine struct {
	log *logging.Logger
}

// New creates a reservation engine.
func New() *Engine {
	return &Engine{log: logging.GetDefault().Component("reserve")}
}

func requireScope(tx *storage.Storage) error {
	if !tx.InTx() {
		return fmt.Errorf("%w: reservation outside transaction scope", errs.ErrInternal)
	}
	return nil
}

func requirePositive(amount money.Money) error {
	if amount.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be positive", errs.ErrInvalidInput)
	}
	return nil
}

// =============================================================================
// Fiat
// =============================================================================

// Reserve locks amount on a fiat wallet. Requires
// balance - lockedBalance >= amount.
func (e *Engine) Reserve(ctx context.Context, tx *storage.Storage, walletID string, amount money.Money) error {
	if err := requireScope(tx); err != nil {
		return err
	}
	if err := requirePositive(amount); err != nil {
		return err
	}

	w, err := tx.GetWallet(ctx, walletID)
	if err != nil {
		return err
	}
	if !w.IsActive {
		return fmt.Errorf("wallet %s is inactive: %w", walletID, errs.ErrForbidden)
	}
	if w.Available().LessThan(amount) {
		return fmt.Errorf("%w: required %s, available %s %s",
			errs.ErrInsufficientFunds, amount.String(), w.Available().String(), w.Currency)
	}

	return tx.UpdateWalletBalances(ctx, walletID, w.Balance, w.LockedBalance.Add(amount))
}

// Release unlocks a previous reservation without moving funds.
func (e *Engine) Release(ctx context.Context, tx *storage.Storage, walletID string, amount money.Money) error {
	if err := requireScope(tx); err != nil {
		return err
	}
	if err := requirePositive(amount); err != nil {
		return err
	}

	w, err := tx.GetWallet(ctx, walletID)
	if err != nil {
		return err
	}
	// A release larger than the outstanding lock is a double-release.
	if w.LockedBalance.LessThan(amount) {
		return fmt.Errorf("%w: release %s exceeds locked %s on wallet %s",
			errs.ErrInternal, amount.String(), w.LockedBalance.String(), walletID)
	}

	return tx.UpdateWalletBalances(ctx, walletID, w.Balance, w.LockedBalance.Sub(amount))
}

// Settle removes reserved funds from the wallet: the money has left.
// Decrements both balance and lockedBalance.
func (e *Engine) Settle(ctx context.Context, tx *storage.Storage, walletID string, amount money.Money) error {
	if err := requireScope(tx); err != nil {
		return err
	}
	if err := requirePositive(amount); err != nil {
		return err
	}

	w, err := tx.GetWallet(ctx, walletID)
	if err != nil {
		return err
	}
	if w.LockedBalance.LessThan(amount) {
		return fmt.Errorf("%w: settle %s exceeds locked %s on wallet %s",
			errs.ErrInternal, amount.String(), w.LockedBalance.String(), walletID)
	}

	balance := w.Balance.Sub(amount)
	locked := w.LockedBalance.Sub(amount)
	if balance.LessThan(locked) || locked.IsNegative() {
		return fmt.Errorf("%w: settle would break balance invariant on wallet %s",
			errs.ErrInternal, walletID)
	}

	return tx.UpdateWalletBalances(ctx, walletID, balance, locked)
}

// Credit adds settled funds to a fiat wallet (the receiving side of a
// transfer or a deposit).
func (e *Engine) Credit(ctx context.Context, tx *storage.Storage, walletID string, amount money.Money) error {
	if err := requireScope(tx); err != nil {
		return err
	}
	if err := requirePositive(amount); err != nil {
		return err
	}

	w, err := tx.GetWallet(ctx, walletID)
	if err != nil {
		return err
	}
	if !w.IsActive {
		return fmt.Errorf("wallet %s is inactive: %w", walletID, errs.ErrForbidden)
	}

	return tx.UpdateWalletBalances(ctx, walletID, w.Balance.Add(amount), w.LockedBalance)
}

// =============================================================================
// Crypto
// =============================================================================

// Freeze moves amount into escrow on a virtual account: available drops,
// account balance is unchanged. Requires availableBalance >= amount.
func (e *Engine) Freeze(ctx context.Context, tx *storage.Storage, accountID string, amount money.Money) error {
	if err := requireScope(tx); err != nil {
		return err
	}
	if err := requirePositive(amount); err != nil {
		return err
	}

	a, err := tx.GetVirtualAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if !a.IsActive || a.IsFrozen {
		return fmt.Errorf("virtual account %s is unavailable: %w", accountID, errs.ErrForbidden)
	}
	if a.AvailableBalance.LessThan(amount) {
		return fmt.Errorf("%w: required %s, available %s %s",
			errs.ErrInsufficientFunds, amount.String(), a.AvailableBalance.String(), a.Currency)
	}

	return tx.UpdateVirtualAccountBalances(ctx, accountID, a.AccountBalance, a.AvailableBalance.Sub(amount))
}

// Unfreeze returns escrowed funds to the available balance.
func (e *Engine) Unfreeze(ctx context.Context, tx *storage.Storage, accountID string, amount money.Money) error {
	if err := requireScope(tx); err != nil {
		return err
	}
	if err := requirePositive(amount); err != nil {
		return err
	}

	a, err := tx.GetVirtualAccount(ctx, accountID)
	if err != nil {
		return err
	}
	// Unfreezing more than is escrowed is a double-unfreeze.
	if a.FrozenBalance().LessThan(amount) {
		return fmt.Errorf("%w: unfreeze %s exceeds escrow %s on account %s",
			errs.ErrInternal, amount.String(), a.FrozenBalance().String(), accountID)
	}

	return tx.UpdateVirtualAccountBalances(ctx, accountID, a.AccountBalance, a.AvailableBalance.Add(amount))
}

// SettleOut removes escrowed crypto from the account: both account and
// available reflect the departure (available was already reduced by the
// freeze, so only the account balance drops here).
func (e *Engine) SettleOut(ctx context.Context, tx *storage.Storage, accountID string, amount money.Money) error {
	if err := requireScope(tx); err != nil {
		return err
	}
	if err := requirePositive(amount); err != nil {
		return err
	}

	a, err := tx.GetVirtualAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if a.FrozenBalance().LessThan(amount) {
		return fmt.Errorf("%w: settle-out %s exceeds escrow %s on account %s",
			errs.ErrInternal, amount.String(), a.FrozenBalance().String(), accountID)
	}

	account := a.AccountBalance.Sub(amount)
	if account.LessThan(a.AvailableBalance) {
		return fmt.Errorf("%w: settle-out would break escrow invariant on account %s",
			errs.ErrInternal, accountID)
	}

	return tx.UpdateVirtualAccountBalances(ctx, accountID, account, a.AvailableBalance)
}

// SettleIn credits received crypto, immediately available.
func (e *Engine) SettleIn(ctx context.Context, tx *storage.Storage, accountID string, amount money.Money) error {
	if err := requireScope(tx); err != nil {
		return err
	}
	if err := requirePositive(amount); err != nil {
		return err
	}

	a, err := tx.GetVirtualAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if !a.IsActive {
		return fmt.Errorf("virtual account %s is inactive: %w", accountID, errs.ErrForbidden)
	}

	return tx.UpdateVirtualAccountBalances(ctx, accountID,
		a.AccountBalance.Add(amount), a.AvailableBalance.Add(amount))
}
