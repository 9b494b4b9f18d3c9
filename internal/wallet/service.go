// Package wallet provisions wallets and virtual accounts and produces
// balance views.
package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/rhinox-exchange/rhinox-v2/internal/clock"
	"github.com/rhinox-exchange/rhinox-v2/internal/config"
	"github.com/rhinox-exchange/rhinox-v2/internal/rates"
	"github.com/rhinox-exchange/rhinox-v2/internal/storage"
	"github.com/rhinox-exchange/rhinox-v2/pkg/errs"
	"github.com/rhinox-exchange/rhinox-v2/pkg/logging"
	"github.com/rhinox-exchange/rhinox-v2/pkg/money"
)

// Service manages wallet provisioning and balance views.
type Service struct {
	store *storage.Storage
	rates *rates.Service
	clock clock.Clock
	log   *logging.Logger
}

// New creates a wallet service.
func New(store *storage.Storage, rs *rates.Service, c clock.Clock) *Service {
	return &Service{
		store: store,
		rates: rs,
		clock: c,
		log:   logging.GetDefault().Component("wallet"),
	}
}

// CreateFiatWallet provisions a fiat wallet for a user and currency.
func (s *Service) CreateFiatWallet(ctx context.Context, userID, currency string) (*storage.Wallet, error) {
	if !config.IsFiat(currency) {
		return nil, fmt.Errorf("%w: unsupported fiat currency %s", errs.ErrInvalidInput, currency)
	}
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}

	w := &storage.Wallet{
		ID:            uuid.NewString(),
		UserID:        userID,
		Currency:      currency,
		Kind:          storage.WalletKindFiat,
		Balance:       money.Zero(),
		LockedBalance: money.Zero(),
		IsActive:      true,
		CreatedAt:     s.clock.Now(),
	}
	if err := s.store.CreateWallet(ctx, w); err != nil {
		return nil, err
	}

	s.log.Info("fiat wallet created", "user", userID, "currency", currency)
	return w, nil
}

// CreateVirtualAccount provisions a crypto virtual account for a user on
// a (blockchain, currency) pair.
func (s *Service) CreateVirtualAccount(ctx context.Context, userID, blockchain, currency string) (*storage.VirtualAccount, error) {
	if !config.IsCrypto(blockchain, currency) {
		return nil, fmt.Errorf("%w: unsupported crypto %s on %s", errs.ErrInvalidInput, currency, blockchain)
	}
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}

	a := &storage.VirtualAccount{
		ID:               uuid.NewString(),
		UserID:           userID,
		Blockchain:       blockchain,
		Currency:         currency,
		AccountBalance:   money.Zero(),
		AvailableBalance: money.Zero(),
		IsActive:         true,
		CreatedAt:        s.clock.Now(),
	}
	if err := s.store.CreateVirtualAccount(ctx, a); err != nil {
		return nil, err
	}

	s.log.Info("virtual account created", "user", userID, "blockchain", blockchain, "currency", currency)
	return a, nil
}

// ListWallets returns a user's fiat wallets (synthetic crypto anchors
// are excluded from the user-facing view).
func (s *Service) ListWallets(ctx context.Context, userID string) ([]*storage.Wallet, error) {
	return s.store.ListWallets(ctx, userID, storage.WalletKindFiat)
}

// ListVirtualAccounts returns a user's crypto accounts.
func (s *Service) ListVirtualAccounts(ctx context.Context, userID string) ([]*storage.VirtualAccount, error) {
	return s.store.ListVirtualAccounts(ctx, userID)
}

// Balances is the combined balance view of a user.
type Balances struct {
	Fiat     []*storage.Wallet
	Crypto   []*storage.VirtualAccount
	TotalUSD money.Money
}

// GetBalances returns the user's fiat and crypto balances with a
// USD-normalized total. Unresolvable rates contribute zero and log;
// the view never fails on a missing rate.
func (s *Service) GetBalances(ctx context.Context, userID string) (*Balances, error) {
	fiat, err := s.store.ListWallets(ctx, userID, storage.WalletKindFiat)
	if err != nil {
		return nil, err
	}
	crypto, err := s.store.ListVirtualAccounts(ctx, userID)
	if err != nil {
		return nil, err
	}

	total := money.Zero()
	for _, w := range fiat {
		total = total.Add(s.toUSD(ctx, w.Balance, w.Currency))
	}
	for _, a := range crypto {
		total = total.Add(s.toUSD(ctx, a.AccountBalance, a.Currency))
	}

	return &Balances{Fiat: fiat, Crypto: crypto, TotalUSD: total.Round(money.FiatScale)}, nil
}

func (s *Service) toUSD(ctx context.Context, amount money.Money, currency string) money.Money {
	if currency == config.USDCode {
		return amount
	}
	converted, err := s.rates.Convert(ctx, amount, currency, config.USDCode)
	if err != nil {
		s.log.Warn("usd normalization unavailable", "currency", currency, "error", err)
		return money.Zero()
	}
	return converted
}

// ProvisionDefaults creates the default wallet set for a verified user,
// reconciling against existing rows first so replays are harmless. Used
// by the provisioning worker.
func (s *Service) ProvisionDefaults(ctx context.Context, userID string, fiatCurrencies []string, cryptoKeys []string) error {
	for _, currency := range fiatCurrencies {
		_, err := s.store.GetWalletByUserCurrency(ctx, userID, currency)
		if err == nil {
			continue
		}
		if !errors.Is(err, errs.ErrNotFound) {
			return err
		}
		if _, err := s.CreateFiatWallet(ctx, userID, currency); err != nil && !errors.Is(err, errs.ErrDuplicateKey) {
			return err
		}
	}

	for _, key := range cryptoKeys {
		cc, ok := config.SupportedCrypto[key]
		if !ok {
			return fmt.Errorf("%w: unsupported crypto key %s", errs.ErrInvalidInput, key)
		}
		_, err := s.store.GetVirtualAccountByUser(ctx, userID, cc.Blockchain, cc.Symbol)
		if err == nil {
			continue
		}
		if !errors.Is(err, errs.ErrNotFound) {
			return err
		}
		if _, err := s.CreateVirtualAccount(ctx, userID, cc.Blockchain, cc.Symbol); err != nil && !errors.Is(err, errs.ErrDuplicateKey) {
			return err
		}
	}
	return nil
}
