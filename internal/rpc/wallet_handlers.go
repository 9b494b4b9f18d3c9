// Package rpc - Wallet and transfer handlers.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rhinox-exchange/rhinox-v2/internal/auth"
	"github.com/rhinox-exchange/rhinox-v2/internal/transfer"
	"github.com/rhinox-exchange/rhinox-v2/pkg/errs"
	"github.com/rhinox-exchange/rhinox-v2/pkg/money"
)

// WalletCreateParams is the parameters for wallet_create.
type WalletCreateParams struct {
	Currency   string `json:"currency"`
	Kind       string `json:"kind"` // "fiat" or "crypto"
	Blockchain string `json:"blockchain,omitempty"`
}

func (s *Server) walletCreate(ctx context.Context, principal *auth.Principal, params json.RawMessage) (interface{}, error) {
	var p WalletCreateParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrInvalidInput, err)
	}

	switch p.Kind {
	case "fiat", "":
		w, err := s.wallets.CreateFiatWallet(ctx, principal.UserID, p.Currency)
		if err != nil {
			return nil, err
		}
		return walletView(w), nil
	case "crypto":
		a, err := s.wallets.CreateVirtualAccount(ctx, principal.UserID, p.Blockchain, p.Currency)
		if err != nil {
			return nil, err
		}
		return virtualAccountView(a), nil
	default:
		return nil, fmt.Errorf("%w: unknown wallet kind %q", errs.ErrInvalidInput, p.Kind)
	}
}

// WalletListResult is the response for wallet_list.
type WalletListResult struct {
	Fiat   []*WalletView         `json:"fiat"`
	Crypto []*VirtualAccountView `json:"crypto"`
}

func (s *Server) walletList(ctx context.Context, principal *auth.Principal, params json.RawMessage) (interface{}, error) {
	fiat, err := s.wallets.ListWallets(ctx, principal.UserID)
	if err != nil {
		return nil, err
	}
	crypto, err := s.wallets.ListVirtualAccounts(ctx, principal.UserID)
	if err != nil {
		return nil, err
	}

	result := &WalletListResult{
		Fiat:   make([]*WalletView, 0, len(fiat)),
		Crypto: make([]*VirtualAccountView, 0, len(crypto)),
	}
	for _, w := range fiat {
		result.Fiat = append(result.Fiat, walletView(w))
	}
	for _, a := range crypto {
		result.Crypto = append(result.Crypto, virtualAccountView(a))
	}
	return result, nil
}

// WalletBalancesResult is the response for wallet_getBalances.
type WalletBalancesResult struct {
	Fiat     []*WalletView         `json:"fiat"`
	Crypto   []*VirtualAccountView `json:"crypto"`
	TotalUSD string                `json:"total_usd"`
}

func (s *Server) walletGetBalances(ctx context.Context, principal *auth.Principal, params json.RawMessage) (interface{}, error) {
	balances, err := s.wallets.GetBalances(ctx, principal.UserID)
	if err != nil {
		return nil, err
	}

	result := &WalletBalancesResult{
		Fiat:     make([]*WalletView, 0, len(balances.Fiat)),
		Crypto:   make([]*VirtualAccountView, 0, len(balances.Crypto)),
		TotalUSD: balances.TotalUSD.StringFixed(money.FiatScale),
	}
	for _, w := range balances.Fiat {
		result.Fiat = append(result.Fiat, walletView(w))
	}
	for _, a := range balances.Crypto {
		result.Crypto = append(result.Crypto, virtualAccountView(a))
	}
	return result, nil
}

// WalletTransferParams is the parameters for wallet_transfer.
type WalletTransferParams struct {
	DestWalletID string `json:"dest_wallet_id"`
	Amount       string `json:"amount"`
	Currency     string `json:"currency"`
	Description  string `json:"description,omitempty"`
}

// WalletTransferResult is the response for wallet_transfer.
type WalletTransferResult struct {
	Debit  *TransactionView `json:"debit"`
	Credit *TransactionView `json:"credit"`
}

func (s *Server) walletTransfer(ctx context.Context, principal *auth.Principal, params json.RawMessage) (interface{}, error) {
	var p WalletTransferParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrInvalidInput, err)
	}

	amount, err := money.Parse(p.Amount)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrInvalidInput, err)
	}

	source, err := s.store.GetWalletByUserCurrency(ctx, principal.UserID, p.Currency)
	if err != nil {
		return nil, err
	}

	res, err := s.transfer.Transfer(ctx, transfer.Request{
		SourceWalletID: source.ID,
		DestWalletID:   p.DestWalletID,
		Amount:         amount,
		Currency:       p.Currency,
		Fee:            money.Zero(),
		Channel:        "wallet",
		Description:    p.Description,
	})
	if err != nil {
		return nil, err
	}

	return &WalletTransferResult{
		Debit:  transactionView(res.Debit),
		Credit: transactionView(res.Credit),
	}, nil
}
