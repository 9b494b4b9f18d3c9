// Package p2p - Role resolution.
package p2p

import (
	"fmt"

	"github.com/rhinox-exchange/rhinox-v2/internal/storage"
	"github.com/rhinox-exchange/rhinox-v2/pkg/errs"
)

// Roles names the buyer and seller of an order. Crypto settles only in
// the direction seller -> buyer; every code path that moves crypto must
// resolve roles here and use the result unchanged.
type Roles struct {
	BuyerID  string
	SellerID string
}

// ResolveRoles derives buyer and seller from the ad type alone:
// on a buy ad the vendor is the buyer; on a sell ad the vendor is the
// seller. The user-facing action label is the inverse of the ad type and
// must never drive this mapping.
func ResolveRoles(adType storage.AdType, vendorID, counterpartyID string) (Roles, error) {
	switch adType {
	case storage.AdTypeBuy:
		return Roles{BuyerID: vendorID, SellerID: counterpartyID}, nil
	case storage.AdTypeSell:
		return Roles{BuyerID: counterpartyID, SellerID: vendorID}, nil
	default:
		return Roles{}, fmt.Errorf("%w: unknown ad type %q", errs.ErrInternal, adType)
	}
}
