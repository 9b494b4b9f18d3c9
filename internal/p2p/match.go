// Package p2p - Payment method matching.
package p2p

import (
	"context"
	"fmt"
	"strings"

	"github.com/rhinox-exchange/rhinox-v2/internal/storage"
	"github.com/rhinox-exchange/rhinox-v2/pkg/errs"
)

// methodsMatch reports whether a counterparty method can pay into a
// vendor method:
//   - bank_account <-> bank_account when the trimmed, case-folded bank
//     names are equal and non-empty
//   - mobile_money <-> mobile_money when the provider ids are equal
//   - rhinoxpay_id <-> rhinoxpay_id; when both carry a currency the
//     currencies must be equal
func methodsMatch(mine, vendors *storage.PaymentMethod) bool {
	if mine.Type != vendors.Type {
		return false
	}
	switch mine.Type {
	case storage.MethodBankAccount:
		a := strings.ToLower(strings.TrimSpace(mine.BankName))
		b := strings.ToLower(strings.TrimSpace(vendors.BankName))
		return a != "" && a == b
	case storage.MethodMobileMoney:
		return mine.ProviderID != "" && mine.ProviderID == vendors.ProviderID
	case storage.MethodRhinoxpay:
		if mine.Currency != "" && vendors.Currency != "" {
			return mine.Currency == vendors.Currency
		}
		return true
	}
	return false
}

// matchPaymentMethod validates the counterparty's chosen method against
// the ad's accepted vendor methods. It enforces ownership and activity
// on the chosen method and returns the matched vendor method.
func (e *Engine) matchPaymentMethod(ctx context.Context, tx *storage.Storage, callerID, methodID string, ad *storage.Ad) (*storage.PaymentMethod, *storage.PaymentMethod, error) {
	mine, err := tx.GetPaymentMethod(ctx, methodID)
	if err != nil {
		return nil, nil, err
	}
	if mine.UserID != callerID {
		return nil, nil, fmt.Errorf("payment method %s does not belong to caller: %w", methodID, errs.ErrPaymentMethodMismatch)
	}
	if !mine.IsActive {
		return nil, nil, fmt.Errorf("payment method %s is inactive: %w", methodID, errs.ErrPaymentMethodMismatch)
	}

	vendorMethods, err := tx.GetPaymentMethods(ctx, ad.PaymentMethodIDs)
	if err != nil {
		return nil, nil, err
	}

	accepted := make([]string, 0, len(vendorMethods))
	for _, vm := range vendorMethods {
		if !vm.IsActive {
			continue
		}
		accepted = append(accepted, string(vm.Type))
		if methodsMatch(mine, vm) {
			return mine, vm, nil
		}
	}

	return nil, nil, fmt.Errorf("no accepted payment method matches %s; ad accepts: %s: %w",
		mine.Type, strings.Join(accepted, ", "), errs.ErrPaymentMethodMismatch)
}

// MatchingPaymentMethods returns the caller's active methods that could
// pay into the given ad. Used by the public matching-methods query.
func (e *Engine) MatchingPaymentMethods(ctx context.Context, userID, adID string) ([]*storage.PaymentMethod, error) {
	ad, err := e.store.GetAd(ctx, adID)
	if err != nil {
		return nil, err
	}
	mine, err := e.store.ListPaymentMethods(ctx, userID, true)
	if err != nil {
		return nil, err
	}
	vendors, err := e.store.GetPaymentMethods(ctx, ad.PaymentMethodIDs)
	if err != nil {
		return nil, err
	}

	var matches []*storage.PaymentMethod
	for _, m := range mine {
		for _, vm := range vendors {
			if vm.IsActive && methodsMatch(m, vm) {
				matches = append(matches, m)
				break
			}
		}
	}
	return matches, nil
}
