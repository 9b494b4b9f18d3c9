// Package rpc - Response shaping. Amounts cross the wire as decimal
// strings, timestamps as RFC 3339.
package rpc

import (
	"time"

	"github.com/rhinox-exchange/rhinox-v2/internal/storage"
)

// WalletView is the wire form of a fiat wallet.
type WalletView struct {
	ID            string `json:"id"`
	Currency      string `json:"currency"`
	Balance       string `json:"balance"`
	LockedBalance string `json:"locked_balance"`
	Available     string `json:"available"`
	IsActive      bool   `json:"is_active"`
	CreatedAt     string `json:"created_at"`
}

func walletView(w *storage.Wallet) *WalletView {
	return &WalletView{
		ID:            w.ID,
		Currency:      w.Currency,
		Balance:       w.Balance.String(),
		LockedBalance: w.LockedBalance.String(),
		Available:     w.Available().String(),
		IsActive:      w.IsActive,
		CreatedAt:     w.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// VirtualAccountView is the wire form of a crypto account.
type VirtualAccountView struct {
	ID               string `json:"id"`
	Blockchain       string `json:"blockchain"`
	Currency         string `json:"currency"`
	AccountBalance   string `json:"account_balance"`
	AvailableBalance string `json:"available_balance"`
	FrozenBalance    string `json:"frozen_balance"`
	IsActive         bool   `json:"is_active"`
	CreatedAt        string `json:"created_at"`
}

func virtualAccountView(a *storage.VirtualAccount) *VirtualAccountView {
	return &VirtualAccountView{
		ID:               a.ID,
		Blockchain:       a.Blockchain,
		Currency:         a.Currency,
		AccountBalance:   a.AccountBalance.String(),
		AvailableBalance: a.AvailableBalance.String(),
		FrozenBalance:    a.FrozenBalance().String(),
		IsActive:         a.IsActive,
		CreatedAt:        a.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// AdView is the wire form of a P2P ad. UserAction is the counterparty's
// side: the inverse of the vendor's ad type.
type AdView struct {
	ID             string   `json:"id"`
	VendorUserID   string   `json:"vendor_user_id"`
	AdType         string   `json:"ad_type"`
	UserAction     string   `json:"user_action"`
	Blockchain     string   `json:"blockchain"`
	CryptoCurrency string   `json:"crypto_currency"`
	FiatCurrency   string   `json:"fiat_currency"`
	Price          string   `json:"price"`
	Volume         string   `json:"volume"`
	MinOrder       string   `json:"min_order"`
	MaxOrder       string   `json:"max_order"`
	AutoAccept     bool     `json:"auto_accept"`
	PaymentMethods []string `json:"payment_method_ids"`
	ProcessingTime int      `json:"processing_time"`
	Status         string   `json:"status"`
	IsOnline       bool     `json:"is_online"`
	OrdersReceived int      `json:"orders_received"`
	CreatedAt      string   `json:"created_at"`
}

func adView(ad *storage.Ad) *AdView {
	userAction := "sell"
	if ad.AdType == storage.AdTypeSell {
		userAction = "buy"
	}
	return &AdView{
		ID:             ad.ID,
		VendorUserID:   ad.VendorUserID,
		AdType:         string(ad.AdType),
		UserAction:     userAction,
		Blockchain:     ad.Blockchain,
		CryptoCurrency: ad.CryptoCurrency,
		FiatCurrency:   ad.FiatCurrency,
		Price:          ad.Price.String(),
		Volume:         ad.Volume.String(),
		MinOrder:       ad.MinOrder.String(),
		MaxOrder:       ad.MaxOrder.String(),
		AutoAccept:     ad.AutoAccept,
		PaymentMethods: ad.PaymentMethodIDs,
		ProcessingTime: ad.ProcessingTime,
		Status:         string(ad.Status),
		IsOnline:       ad.IsOnline,
		OrdersReceived: ad.OrdersReceived,
		CreatedAt:      ad.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// OrderView is the wire form of a P2P order.
type OrderView struct {
	ID             string `json:"id"`
	AdID           string `json:"ad_id"`
	AdType         string `json:"ad_type"`
	Blockchain     string `json:"blockchain"`
	CryptoCurrency string `json:"crypto_currency"`
	FiatCurrency   string `json:"fiat_currency"`
	CryptoAmount   string `json:"crypto_amount"`
	FiatAmount     string `json:"fiat_amount"`
	Price          string `json:"price"`
	PaymentChannel string `json:"payment_channel"`
	Status         string `json:"status"`
	BuyerID        string `json:"buyer_id"`
	SellerID       string `json:"seller_id"`
	CreatedAt      string `json:"created_at"`
	AcceptedAt     string `json:"accepted_at,omitempty"`
	ExpiresAt      string `json:"expires_at,omitempty"`
	CompletedAt    string `json:"completed_at,omitempty"`
}

func orderView(o *storage.Order) *OrderView {
	return &OrderView{
		ID:             o.ID,
		AdID:           o.AdID,
		AdType:         string(o.AdType),
		Blockchain:     o.Blockchain,
		CryptoCurrency: o.CryptoCurrency,
		FiatCurrency:   o.FiatCurrency,
		CryptoAmount:   o.CryptoAmount.String(),
		FiatAmount:     o.FiatAmount.String(),
		Price:          o.Price.String(),
		PaymentChannel: string(o.PaymentChannel),
		Status:         string(o.Status),
		BuyerID:        o.BuyerID,
		SellerID:       o.SellerID,
		CreatedAt:      o.CreatedAt.UTC().Format(time.RFC3339),
		AcceptedAt:     optTime(o.AcceptedAt),
		ExpiresAt:      optTime(o.ExpiresAt),
		CompletedAt:    optTime(o.CompletedAt),
	}
}

// TransactionView is the wire form of a ledger entry.
type TransactionView struct {
	ID          string            `json:"id"`
	WalletID    string            `json:"wallet_id"`
	Type        string            `json:"type"`
	Status      string            `json:"status"`
	Amount      string            `json:"amount"`
	Currency    string            `json:"currency"`
	Fee         string            `json:"fee"`
	Reference   string            `json:"reference"`
	Channel     string            `json:"channel,omitempty"`
	Description string            `json:"description,omitempty"`
	P2PStep     string            `json:"p2p_step,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   string            `json:"created_at"`
	CompletedAt string            `json:"completed_at,omitempty"`
}

func transactionView(t *storage.Transaction) *TransactionView {
	return &TransactionView{
		ID:          t.ID,
		WalletID:    t.WalletID,
		Type:        string(t.Type),
		Status:      string(t.Status),
		Amount:      t.Amount.String(),
		Currency:    t.Currency,
		Fee:         t.Fee.String(),
		Reference:   t.Reference,
		Channel:     t.Channel,
		Description: t.Description,
		P2PStep:     string(t.P2PStep),
		Metadata:    t.Metadata,
		CreatedAt:   t.CreatedAt.UTC().Format(time.RFC3339),
		CompletedAt: optTime(t.CompletedAt),
	}
}

// RateView is the wire form of an exchange rate.
type RateView struct {
	FromCurrency string `json:"from_currency"`
	ToCurrency   string `json:"to_currency"`
	Rate         string `json:"rate"`
	InverseRate  string `json:"inverse_rate,omitempty"`
	IsActive     bool   `json:"is_active"`
}

func rateView(r *storage.ExchangeRate) *RateView {
	v := &RateView{
		FromCurrency: r.FromCurrency,
		ToCurrency:   r.ToCurrency,
		Rate:         r.Rate.String(),
		IsActive:     r.IsActive,
	}
	if r.InverseRate != nil {
		v.InverseRate = r.InverseRate.String()
	}
	return v
}

// PaymentMethodView is the wire form of a payment method.
type PaymentMethodView struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	BankName   string `json:"bank_name,omitempty"`
	ProviderID string `json:"provider_id,omitempty"`
	Currency   string `json:"currency,omitempty"`
}

func paymentMethodView(m *storage.PaymentMethod) *PaymentMethodView {
	return &PaymentMethodView{
		ID:         m.ID,
		Type:       string(m.Type),
		BankName:   m.BankName,
		ProviderID: m.ProviderID,
		Currency:   m.Currency,
	}
}

func optTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
