// Package ledger posts debit and credit entries against wallets. It is
// purely the journal: it never mutates balances, and every balance
// mutation made by the reservation engine is mirrored by a post here.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/rhinox-exchange/rhinox-v2/internal/clock"
	"github.com/rhinox-exchange/rhinox-v2/internal/config"
	"github.com/rhinox-exchange/rhinox-v2/internal/storage"
	"github.com/rhinox-exchange/rhinox-v2/pkg/errs"
	"github.com/rhinox-exchange/rhinox-v2/pkg/logging"
	"github.com/rhinox-exchange/rhinox-v2/pkg/money"
)

// Ledger appends transaction entries to the journal.
type Ledger struct {
	clock clock.Clock
	refs  *clock.RefGenerator
	log   *logging.Logger
}

// New creates a Ledger on the given clock.
func New(c clock.Clock) *Ledger {
	return &Ledger{
		clock: c,
		refs:  clock.NewRefGenerator(c),
		log:   logging.GetDefault().Component("ledger"),
	}
}

// PostRequest describes one journal entry.
type PostRequest struct {
	WalletID    string
	Type        storage.TxType
	Amount      money.Money // signed
	Currency    string
	Fee         money.Money
	Channel     string
	Description string
	Status      storage.TxStatus

	// Reference, when supplied by the caller, is the idempotency key:
	// posting the same reference twice returns errs.ErrDuplicateKey.
	Reference string

	P2PStep       storage.P2PStep
	CorrelationID string
	Metadata      map[string]string
}

// Post appends one entry. The caller supplies the transaction scope.
func (l *Ledger) Post(ctx context.Context, tx *storage.Storage, req PostRequest) (*storage.Transaction, error) {
	if req.WalletID == "" {
		return nil, fmt.Errorf("%w: missing wallet id", errs.ErrInvalidInput)
	}
	if req.Status == "" {
		req.Status = storage.TxStatusPending
	}

	reference := req.Reference
	if reference == "" {
		reference = l.refs.Next(config.RefPrefixTransaction)
	} else {
		// Replay protection for externally-generated references.
		if _, err := tx.GetTransactionByReference(ctx, reference); err == nil {
			return nil, fmt.Errorf("reference %s already posted: %w", reference, errs.ErrDuplicateKey)
		} else if !errors.Is(err, errs.ErrNotFound) {
			return nil, err
		}
	}

	now := l.clock.Now()
	entry := &storage.Transaction{
		ID:            uuid.NewString(),
		WalletID:      req.WalletID,
		Type:          req.Type,
		Status:        req.Status,
		Amount:        req.Amount,
		Currency:      req.Currency,
		Fee:           req.Fee,
		Reference:     reference,
		Channel:       req.Channel,
		Description:   req.Description,
		P2PStep:       req.P2PStep,
		CorrelationID: req.CorrelationID,
		Metadata:      req.Metadata,
		CreatedAt:     now,
	}
	if req.Status == storage.TxStatusCompleted {
		completed := now
		entry.CompletedAt = &completed
	}

	if err := tx.InsertTransaction(ctx, entry); err != nil {
		return nil, err
	}

	l.log.Debug("posted entry", "reference", reference, "wallet", req.WalletID,
		"type", req.Type, "amount", req.Amount.String(), "currency", req.Currency)
	return entry, nil
}

// PairRequest describes a two-sided transfer: a debit on the source
// wallet and a credit on the destination, sharing a correlation id.
type PairRequest struct {
	DebitWalletID  string
	CreditWalletID string
	Type           storage.TxType
	Amount         money.Money // positive; the debit leg is negated
	Currency       string
	Fee            money.Money // charged on the debit leg
	Channel        string
	Description    string
	DebitStep      storage.P2PStep
	CreditStep     storage.P2PStep
	Metadata       map[string]string
}

// PostPair appends both legs of a transfer with a shared correlation id.
// Both entries are posted completed.
func (l *Ledger) PostPair(ctx context.Context, tx *storage.Storage, req PairRequest) (debit, credit *storage.Transaction, err error) {
	if req.Amount.Sign() <= 0 {
		return nil, nil, fmt.Errorf("%w: pair amount must be positive", errs.ErrInvalidInput)
	}

	correlationID := uuid.NewString()

	debit, err = l.Post(ctx, tx, PostRequest{
		WalletID:      req.DebitWalletID,
		Type:          req.Type,
		Amount:        req.Amount.Neg(),
		Currency:      req.Currency,
		Fee:           req.Fee,
		Channel:       req.Channel,
		Description:   req.Description,
		Status:        storage.TxStatusCompleted,
		P2PStep:       req.DebitStep,
		CorrelationID: correlationID,
		Metadata:      req.Metadata,
	})
	if err != nil {
		return nil, nil, err
	}

	credit, err = l.Post(ctx, tx, PostRequest{
		WalletID:      req.CreditWalletID,
		Type:          req.Type,
		Amount:        req.Amount,
		Currency:      req.Currency,
		Fee:           money.Zero(),
		Channel:       req.Channel,
		Description:   req.Description,
		Status:        storage.TxStatusCompleted,
		P2PStep:       req.CreditStep,
		CorrelationID: correlationID,
		Metadata:      req.Metadata,
	})
	if err != nil {
		return nil, nil, err
	}

	return debit, credit, nil
}

// FindOrCreateCryptoWallet returns the synthetic crypto wallet anchoring
// ledger entries for (user, currency), creating it with zero balances
// when absent. The authoritative crypto balance lives on the user's
// virtual account.
func (l *Ledger) FindOrCreateCryptoWallet(ctx context.Context, tx *storage.Storage, userID, currency string) (*storage.Wallet, error) {
	w, err := tx.GetWalletByUserCurrency(ctx, userID, currency)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, errs.ErrNotFound) {
		return nil, err
	}

	w = &storage.Wallet{
		ID:            uuid.NewString(),
		UserID:        userID,
		Currency:      currency,
		Kind:          storage.WalletKindCrypto,
		Balance:       money.Zero(),
		LockedBalance: money.Zero(),
		IsActive:      true,
		CreatedAt:     l.clock.Now(),
	}
	if err := tx.CreateWallet(ctx, w); err != nil {
		return nil, err
	}
	l.log.Debug("created synthetic crypto wallet", "user", userID, "currency", currency)
	return w, nil
}

// Reconcile verifies invariant T1 for a wallet: its posted balance must
// equal the signed sum of completed entries minus completed fees.
// A mismatch is an internal invariant failure.
func (l *Ledger) Reconcile(ctx context.Context, tx *storage.Storage, walletID string) error {
	w, err := tx.GetWallet(ctx, walletID)
	if err != nil {
		return err
	}
	if w.Kind == storage.WalletKindCrypto {
		// Synthetic anchors stay at zero; their truth is the virtual account.
		return nil
	}

	sum, err := tx.SumCompletedAmounts(ctx, walletID)
	if err != nil {
		return err
	}
	if !sum.Equal(w.Balance) {
		return fmt.Errorf("%w: wallet %s balance %s does not reconcile with ledger sum %s",
			errs.ErrInternal, walletID, w.Balance.String(), sum.String())
	}
	return nil
}
