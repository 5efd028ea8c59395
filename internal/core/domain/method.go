package domain

import "fmt"

// PaymentMethodType enumerates the supported instrument kinds.
type PaymentMethodType string

const (
	MethodCard       PaymentMethodType = "CARD"
	MethodUPI        PaymentMethodType = "UPI"
	MethodNetBanking PaymentMethodType = "NET_BANKING"
	MethodWallet     PaymentMethodType = "WALLET"
	MethodPayLater   PaymentMethodType = "PAY_LATER"
)

// PaymentMethod is a tagged variant: exactly the detail record matching
// Type must be set.
type PaymentMethod struct {
	Type       PaymentMethodType  `json:"type"`
	Card       *CardDetails       `json:"card,omitempty"`
	UPI        *UPIDetails        `json:"upi,omitempty"`
	NetBanking *NetBankingDetails `json:"net_banking,omitempty"`
	Wallet     *WalletDetails     `json:"wallet,omitempty"`
	PayLater   *PayLaterDetails   `json:"pay_later,omitempty"`
}

type CardDetails struct {
	Last4       string `json:"last4"`
	Network     string `json:"network"`
	ExpiryMonth int    `json:"expiry_month"`
	ExpiryYear  int    `json:"expiry_year"`
	Token       string `json:"token"` // tokenized PAN, never the raw number
}

type UPIDetails struct {
	VPA string `json:"vpa"`
}

type NetBankingDetails struct {
	BankCode string `json:"bank_code"`
}

type WalletDetails struct {
	Provider string `json:"provider"`
	WalletID string `json:"wallet_id"`
}

type PayLaterDetails struct {
	Provider string `json:"provider"`
}

// Validate checks that exactly the detail record matching Type is present.
func (m PaymentMethod) Validate() error {
	set := 0
	for _, present := range []bool{
		m.Card != nil, m.UPI != nil, m.NetBanking != nil, m.Wallet != nil, m.PayLater != nil,
	} {
		if present {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("payment method must carry exactly one detail record, got %d", set)
	}

	switch m.Type {
	case MethodCard:
		if m.Card == nil {
			return fmt.Errorf("payment method CARD requires card details")
		}
		if m.Card.Token == "" {
			return fmt.Errorf("card token must not be empty")
		}
	case MethodUPI:
		if m.UPI == nil {
			return fmt.Errorf("payment method UPI requires upi details")
		}
		if m.UPI.VPA == "" {
			return fmt.Errorf("upi vpa must not be empty")
		}
	case MethodNetBanking:
		if m.NetBanking == nil {
			return fmt.Errorf("payment method NET_BANKING requires net_banking details")
		}
		if m.NetBanking.BankCode == "" {
			return fmt.Errorf("bank code must not be empty")
		}
	case MethodWallet:
		if m.Wallet == nil {
			return fmt.Errorf("payment method WALLET requires wallet details")
		}
		if m.Wallet.Provider == "" {
			return fmt.Errorf("wallet provider must not be empty")
		}
	case MethodPayLater:
		if m.PayLater == nil {
			return fmt.Errorf("payment method PAY_LATER requires pay_later details")
		}
		if m.PayLater.Provider == "" {
			return fmt.Errorf("pay-later provider must not be empty")
		}
	default:
		return fmt.Errorf("unknown payment method type %q", m.Type)
	}
	return nil
}
