package domain

import (
	"fmt"
	"strings"
)

// ProviderKind tags every gateway integration. Dispatch is always by kind.
type ProviderKind string

const (
	ProviderStripe  ProviderKind = "stripe"
	ProviderMoMo    ProviderKind = "momo"
	ProviderZaloPay ProviderKind = "zalopay"
	ProviderPayPal  ProviderKind = "paypal"
)

var allProviderKinds = []ProviderKind{ProviderStripe, ProviderMoMo, ProviderZaloPay, ProviderPayPal}

func AllProviderKinds() []ProviderKind {
	out := make([]ProviderKind, len(allProviderKinds))
	copy(out, allProviderKinds)
	return out
}

func ParseProviderKind(s string) (ProviderKind, error) {
	k := ProviderKind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range allProviderKinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedProvider, s)
}

func (k ProviderKind) String() string { return string(k) }

type PaymentMethod string

const (
	MethodCard         PaymentMethod = "card"
	MethodEWallet      PaymentMethod = "e_wallet"
	MethodBankTransfer PaymentMethod = "bank_transfer"
	MethodQRCode       PaymentMethod = "qr_code"
	MethodPayPal       PaymentMethod = "paypal"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCard, MethodEWallet, MethodBankTransfer, MethodQRCode, MethodPayPal:
		return true
	}
	return false
}
