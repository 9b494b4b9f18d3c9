// Package transfer executes atomic two-sided fiat movements: direct
// transfers, conversions at administered rates, and the rhinoxpay leg of
// P2P payment release.
package transfer

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/rhinox-exchange/rhinox-v2/internal/ledger"
	"github.com/rhinox-exchange/rhinox-v2/internal/rates"
	"github.com/rhinox-exchange/rhinox-v2/internal/reserve"
	"github.com/rhinox-exchange/rhinox-v2/internal/storage"
	"github.com/rhinox-exchange/rhinox-v2/pkg/errs"
	"github.com/rhinox-exchange/rhinox-v2/pkg/logging"
	"github.com/rhinox-exchange/rhinox-v2/pkg/money"
)

// Executor moves fiat between wallets under one serializable scope.
type Executor struct {
	store   *storage.Storage
	ledger  *ledger.Ledger
	reserve *reserve.Engine
	rates   *rates.Service
	log     *logging.Logger
}

// New creates a transfer executor.
func New(store *storage.Storage, l *ledger.Ledger, r *reserve.Engine, rs *rates.Service) *Executor {
	return &Executor{
		store:   store,
		ledger:  l,
		reserve: r,
		rates:   rs,
		log:     logging.GetDefault().Component("transfer"),
	}
}

// Request describes a two-sided transfer.
type Request struct {
	SourceWalletID string
	DestWalletID   string
	Amount         money.Money
	Currency       string
	Fee            money.Money
	Channel        string
	Description    string
	Type           storage.TxType // defaults to transfer
	DebitStep      storage.P2PStep
	CreditStep     storage.P2PStep
	Metadata       map[string]string
}

// Result carries the two posted ledger entries.
type Result struct {
	Debit  *storage.Transaction
	Credit *storage.Transaction
}

// Transfer runs the full transfer in its own retrying transaction scope.
func (e *Executor) Transfer(ctx context.Context, req Request) (*Result, error) {
	var res *Result
	err := e.store.RunInTx(ctx, func(tx *storage.Storage) error {
		var err error
		res, err = e.ExecuteTx(ctx, tx, req)
		return err
	})
	return res, err
}

// ExecuteTx runs the transfer inside an existing scope:
// validate -> reserve -> post both legs -> settle source, credit dest.
// Any failure after the reservation releases it before returning.
func (e *Executor) ExecuteTx(ctx context.Context, tx *storage.Storage, req Request) (*Result, error) {
	if req.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: transfer amount must be positive", errs.ErrInvalidInput)
	}
	if req.Fee.IsNegative() {
		return nil, fmt.Errorf("%w: fee must not be negative", errs.ErrInvalidInput)
	}
	if req.SourceWalletID == req.DestWalletID {
		return nil, fmt.Errorf("%w: source and destination are the same wallet", errs.ErrInvalidInput)
	}
	if req.Type == "" {
		req.Type = storage.TxTypeTransfer
	}

	source, err := tx.GetWallet(ctx, req.SourceWalletID)
	if err != nil {
		return nil, err
	}
	dest, err := tx.GetWallet(ctx, req.DestWalletID)
	if err != nil {
		return nil, err
	}
	if source.Currency != req.Currency || dest.Currency != req.Currency {
		return nil, fmt.Errorf("%w: currency mismatch between wallets", errs.ErrInvalidInput)
	}
	if !source.IsActive || !dest.IsActive {
		return nil, fmt.Errorf("%w: wallet inactive", errs.ErrForbidden)
	}

	total := req.Amount.Add(req.Fee)
	if err := e.reserve.Reserve(ctx, tx, source.ID, total); err != nil {
		return nil, err
	}

	debit, credit, err := e.ledger.PostPair(ctx, tx, ledger.PairRequest{
		DebitWalletID:  source.ID,
		CreditWalletID: dest.ID,
		Type:           req.Type,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Fee:            req.Fee,
		Channel:        req.Channel,
		Description:    req.Description,
		DebitStep:      req.DebitStep,
		CreditStep:     req.CreditStep,
		Metadata:       req.Metadata,
	})
	if err != nil {
		if rerr := e.reserve.Release(ctx, tx, source.ID, total); rerr != nil {
			return nil, fmt.Errorf("%w (release also failed: %v)", err, rerr)
		}
		return nil, err
	}

	if err := e.reserve.Settle(ctx, tx, source.ID, total); err != nil {
		if rerr := e.reserve.Release(ctx, tx, source.ID, total); rerr != nil {
			return nil, fmt.Errorf("%w (release also failed: %v)", err, rerr)
		}
		return nil, err
	}
	if err := e.reserve.Credit(ctx, tx, dest.ID, req.Amount); err != nil {
		return nil, err
	}

	e.log.Info("transfer executed", "source", source.ID, "dest", dest.ID,
		"amount", req.Amount.String(), "currency", req.Currency)
	return &Result{Debit: debit, Credit: credit}, nil
}

// ConvertRequest describes a conversion between a user's wallets at the
// administered rate.
type ConvertRequest struct {
	UserID       string
	FromCurrency string
	ToCurrency   string
	Amount       money.Money // in FromCurrency
	Description  string
}

// ConvertResult carries the converted amount and the two entries.
type ConvertResult struct {
	Converted money.Money
	Rate      money.Money
	Debit     *storage.Transaction
	Credit    *storage.Transaction
}

// Convert debits the user's from-currency wallet and credits the
// to-currency wallet at the administered rate, in one scope.
func (e *Executor) Convert(ctx context.Context, req ConvertRequest) (*ConvertResult, error) {
	if req.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: conversion amount must be positive", errs.ErrInvalidInput)
	}
	if req.FromCurrency == req.ToCurrency {
		return nil, fmt.Errorf("%w: cannot convert %s to itself", errs.ErrInvalidInput, req.FromCurrency)
	}

	var res *ConvertResult
	err := e.store.RunInTx(ctx, func(tx *storage.Storage) error {
		rate, err := e.rates.GetRateTx(ctx, tx, req.FromCurrency, req.ToCurrency)
		if err != nil {
			return err
		}
		converted := req.Amount.Mul(rate).Round(money.FiatScale)

		source, err := tx.GetWalletByUserCurrency(ctx, req.UserID, req.FromCurrency)
		if err != nil {
			return err
		}
		dest, err := tx.GetWalletByUserCurrency(ctx, req.UserID, req.ToCurrency)
		if err != nil {
			return err
		}
		if !source.IsActive || !dest.IsActive {
			return fmt.Errorf("%w: wallet inactive", errs.ErrForbidden)
		}

		if err := e.reserve.Reserve(ctx, tx, source.ID, req.Amount); err != nil {
			return err
		}

		correlationID := uuid.NewString()
		meta := map[string]string{"rate": rate.String()}
		description := req.Description
		if description == "" {
			description = fmt.Sprintf("Convert %s %s to %s", req.Amount.String(), req.FromCurrency, req.ToCurrency)
		}

		debit, err := e.ledger.Post(ctx, tx, ledger.PostRequest{
			WalletID:      source.ID,
			Type:          storage.TxTypeConversion,
			Amount:        req.Amount.Neg(),
			Currency:      req.FromCurrency,
			Fee:           money.Zero(),
			Description:   description,
			Status:        storage.TxStatusCompleted,
			CorrelationID: correlationID,
			Metadata:      meta,
		})
		if err != nil {
			return err
		}
		credit, err := e.ledger.Post(ctx, tx, ledger.PostRequest{
			WalletID:      dest.ID,
			Type:          storage.TxTypeConversion,
			Amount:        converted,
			Currency:      req.ToCurrency,
			Fee:           money.Zero(),
			Description:   description,
			Status:        storage.TxStatusCompleted,
			CorrelationID: correlationID,
			Metadata:      meta,
		})
		if err != nil {
			return err
		}

		if err := e.reserve.Settle(ctx, tx, source.ID, req.Amount); err != nil {
			return err
		}
		if err := e.reserve.Credit(ctx, tx, dest.ID, converted); err != nil {
			return err
		}

		res = &ConvertResult{Converted: converted, Rate: rate, Debit: debit, Credit: credit}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("conversion executed", "user", req.UserID,
		"from", req.FromCurrency, "to", req.ToCurrency,
		"amount", req.Amount.String(), "converted", res.Converted.String())
	return res, nil
}
