package domain

import "github.com/shopspring/decimal"

// Balance represents the funds held in one currency on one account.
type Balance struct {
	Currency  Currency        // currency of the balance
	Available decimal.Decimal // amount available for trading
	Locked    decimal.Decimal // amount locked in open orders
}

// Account represents an exchange account and its balances per currency.
type Account struct {
	ID       string               // exchange account identifier
	Name     string               // account label (e.g. "trade", "savings")
	Balances map[Currency]Balance // balances keyed by currency
}

// Balance returns the balance held in the given currency, if any.
func (a Account) Balance(c Currency) (Balance, bool) {
	b, ok := a.Balances[c]
	return b, ok
}
