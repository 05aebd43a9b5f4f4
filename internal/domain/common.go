package domain

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// OrderType represents the execution type of an order.
type OrderType string

const (
	Market OrderType = "MARKET"
)

// OrderStatus represents the lifecycle state of an exchange order.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// IsTerminal reports whether the order can no longer change state.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired:
		return true
	}
	return false
}

// PositionStatus represents the lifecycle state of a trading position.
type PositionStatus string

const (
	StatusOpening PositionStatus = "OPENING" // opening order placed, not yet filled
	StatusOpened  PositionStatus = "OPENED"  // opening order filled
	StatusClosing PositionStatus = "CLOSING" // closing order placed, not yet filled
	StatusClosed  PositionStatus = "CLOSED"  // closing order filled
)

// CloseReason indicates why a position was closed.
type CloseReason string

const (
	CloseReasonStopGain   CloseReason = "STOP_GAIN"
	CloseReasonStopLoss   CloseReason = "STOP_LOSS"
	CloseReasonExitSignal CloseReason = "EXIT_SIGNAL" // strategy exit rule fired
	CloseReasonManual     CloseReason = "MANUAL"
	CloseReasonUnknown    CloseReason = "UNKNOWN"
)
