package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order represents an order placed on the exchange.
type Order struct {
	ID              int64           // local identifier (from DB, 0 until persisted)
	ExchangeOrderID int64           // identifier assigned by the exchange
	ClientOrderID   string          // client-side identifier sent with the order
	Pair            CurrencyPair    // pair the order trades
	Side            OrderSide       // BUY or SELL
	Type            OrderType       // execution type (MARKET)
	Status          OrderStatus     // current lifecycle state
	Amount          decimal.Decimal // requested amount in base currency
	ExecutedAmount  decimal.Decimal // amount filled so far in base currency
	Price           decimal.Decimal // average executed price (0 until a fill)
	CreatedAt       time.Time       // when the order was placed
	UpdatedAt       time.Time       // last status update
}

// IsFilled reports whether the order is fully executed.
func (o *Order) IsFilled() bool {
	return o.Status == OrderStatusFilled
}
