package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderKind string

const (
	KindNewCard OrderKind = "new_card"
	KindTopUp   OrderKind = "top_up"
)

func (k OrderKind) Valid() bool {
	return k == KindNewCard || k == KindTopUp
}

type PaymentMethod string

const (
	MethodDirectCollection PaymentMethod = "direct_collection"
	MethodRedirectCheckout PaymentMethod = "redirect_checkout"
)

type Customer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// Order is one card purchase or top-up. Amounts are frozen at creation;
// only Status, ProviderReference and LastTransitionAt change afterwards.
type Order struct {
	ID                uuid.UUID       `json:"id"`
	Kind              OrderKind       `json:"kind"`
	CardID            string          `json:"card_id,omitempty"`
	AmountBaseUSD     decimal.Decimal `json:"amount_base_usd"`
	ExchangeRate      decimal.Decimal `json:"exchange_rate"`
	AmountLocal       decimal.Decimal `json:"amount_local"`
	CurrencyCode      string          `json:"currency_code"`
	Country           string          `json:"country"`
	PaymentMethod     PaymentMethod   `json:"payment_method"`
	Customer          Customer        `json:"customer"`
	ProviderReference string          `json:"provider_reference,omitempty"`
	Status            Status          `json:"status"`
	CreatedAt         time.Time       `json:"created_at"`
	LastTransitionAt  time.Time       `json:"last_transition_at"`
}

// LocalAmount is the single place the charged amount is derived from the
// USD base and the rate snapshot.
func LocalAmount(amountUSD, rate decimal.Decimal) decimal.Decimal {
	return amountUSD.Mul(rate).Round(0)
}

func (o *Order) Terminal() bool {
	return o.Status.Terminal()
}
