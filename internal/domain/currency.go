package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Currency is a currency code (e.g. "ETH", "USDT").
type Currency string

// CurrencyPair represents a market pair: amounts are expressed in the base
// currency, prices in the quote currency.
type CurrencyPair struct {
	Base  Currency // currency being bought or sold (e.g. "ETH")
	Quote Currency // currency prices are quoted in (e.g. "USDT")
}

// ParsePair parses a "BASE/QUOTE" string (e.g. "ETH/USDT") into a CurrencyPair.
func ParsePair(s string) (CurrencyPair, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return CurrencyPair{}, fmt.Errorf("invalid currency pair %q: expected BASE/QUOTE", s)
	}
	return CurrencyPair{
		Base:  Currency(strings.ToUpper(parts[0])),
		Quote: Currency(strings.ToUpper(parts[1])),
	}, nil
}

// Symbol returns the exchange symbol form of the pair (e.g. "ETHUSDT").
func (p CurrencyPair) Symbol() string {
	return string(p.Base) + string(p.Quote)
}

func (p CurrencyPair) String() string {
	return string(p.Base) + "/" + string(p.Quote)
}

// IsZero reports whether the pair is unset.
func (p CurrencyPair) IsZero() bool {
	return p.Base == "" && p.Quote == ""
}

// CurrencyAmount is a decimal value together with the currency it is
// denominated in.
type CurrencyAmount struct {
	Value    decimal.Decimal
	Currency Currency
}

// NewCurrencyAmount builds a CurrencyAmount from a value and currency.
func NewCurrencyAmount(value decimal.Decimal, currency Currency) CurrencyAmount {
	return CurrencyAmount{Value: value, Currency: currency}
}

func (a CurrencyAmount) String() string {
	return a.Value.String() + " " + string(a.Currency)
}
