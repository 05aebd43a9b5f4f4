package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tick represents a single price observation for a currency pair.
type Tick struct {
	Pair      CurrencyPair    // pair the price belongs to
	Price     decimal.Decimal // last traded price, quoted in the pair's quote currency
	Timestamp time.Time       // exchange event time of the observation
}
