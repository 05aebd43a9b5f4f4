package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var oneHundred = decimal.NewFromInt(100)

// PositionRules holds the optional stop rules attached to a position.
// A nil percentage means the rule is not set and never triggers.
type PositionRules struct {
	StopGainPercentage *float64 // close when gain reaches this percentage
	StopLossPercentage *float64 // close when loss reaches this percentage
}

// IsStopGainSet reports whether a stop gain rule is attached.
func (r PositionRules) IsStopGainSet() bool { return r.StopGainPercentage != nil }

// IsStopLossSet reports whether a stop loss rule is attached.
func (r PositionRules) IsStopLossSet() bool { return r.StopLossPercentage != nil }

// Position represents a trading position held by the bot.
//
// The three price trackers start unset and are maintained from ticks while the
// position is OPENING or OPENED, so stop rules can be evaluated at tick
// granularity rather than bar granularity.
type Position struct {
	ID           int64           // unique identifier (usually from DB)
	StrategyID   string          // identifier of the strategy that opened the position
	Pair         CurrencyPair    // pair the position is held in
	Status       PositionStatus  // current lifecycle state
	Amount       CurrencyAmount  // position size in the pair's base currency
	Rules        PositionRules   // optional stop gain / stop loss rules
	OpeningOrder *Order          // order that opened the position
	ClosingOrder *Order          // order that closed it; set only when entering CLOSING
	LowestPrice  *CurrencyAmount // lowest price seen while open (nil until first tick)
	HighestPrice *CurrencyAmount // highest price seen while open (nil until first tick)
	LatestPrice  *CurrencyAmount // most recent price seen while open (nil until first tick)
	CloseReason  CloseReason     // why the position was closed (empty while open)
	CreatedAt    time.Time       // when the opening order was placed
	ClosedAt     time.Time       // when the closing order filled (zero value while open)
}

// Equal reports whether two positions are the same logical position.
// Identity is the (ID, StrategyID) pair only; prices, status and orders do
// not participate.
func (p *Position) Equal(other *Position) bool {
	if p == nil || other == nil {
		return p == other
	}
	return p.ID == other.ID && p.StrategyID == other.StrategyID
}

// IsOpen reports whether the position still tracks prices (OPENING or OPENED).
func (p *Position) IsOpen() bool {
	return p.Status == StatusOpening || p.Status == StatusOpened
}

// IsClosed reports whether the position reached its terminal state.
func (p *Position) IsClosed() bool {
	return p.Status == StatusClosed
}

// UpdatePrice folds one tick into the position's price trackers. It applies
// only while the position is OPENING or OPENED and the tick belongs to the
// position's pair. The first tick initializes all three trackers; afterwards
// lowest <= latest <= highest holds. Returns whether the tick was applied.
func (p *Position) UpdatePrice(t Tick) bool {
	if !p.IsOpen() || t.Pair != p.Pair {
		return false
	}
	price := NewCurrencyAmount(t.Price, p.Pair.Quote)
	latest := price
	p.LatestPrice = &latest
	if p.LowestPrice == nil || t.Price.LessThan(p.LowestPrice.Value) {
		lowest := price
		p.LowestPrice = &lowest
	}
	if p.HighestPrice == nil || t.Price.GreaterThan(p.HighestPrice.Value) {
		highest := price
		p.HighestPrice = &highest
	}
	return true
}

// GainPercentage returns the current gain of the position in percent,
// computed from the opening order's executed price and the latest tracked
// price. The second return value is false while either price is unknown.
func (p *Position) GainPercentage() (float64, bool) {
	if p.OpeningOrder == nil || p.LatestPrice == nil {
		return 0, false
	}
	entry := p.OpeningOrder.Price
	if entry.IsZero() {
		return 0, false
	}
	gain := p.LatestPrice.Value.Sub(entry).Div(entry).Mul(oneHundred)
	return gain.InexactFloat64(), true
}

// ShouldBeClosed evaluates the position's stop rules against the current
// gain. It only reports; closing the position is up to the caller. A rule
// that is not set never triggers, and an OPENING or CLOSING position is
// never reported as closable.
func (p *Position) ShouldBeClosed() bool {
	return p.Status == StatusOpened && p.StopReason() != CloseReasonUnknown
}

// StopReason names the stop rule the current gain trips, regardless of the
// position's status. It returns CloseReasonUnknown while the gain is unknown
// or neither rule trips.
func (p *Position) StopReason() CloseReason {
	gain, ok := p.GainPercentage()
	if !ok {
		return CloseReasonUnknown
	}
	if p.Rules.IsStopGainSet() && gain >= *p.Rules.StopGainPercentage {
		return CloseReasonStopGain
	}
	if p.Rules.IsStopLossSet() && gain <= -*p.Rules.StopLossPercentage {
		return CloseReasonStopLoss
	}
	return CloseReasonUnknown
}

// MarkOpened transitions the position from OPENING to OPENED.
func (p *Position) MarkOpened() error {
	if p.Status != StatusOpening {
		return fmt.Errorf("cannot mark position %d opened: status is %s", p.ID, p.Status)
	}
	p.Status = StatusOpened
	return nil
}

// MarkClosing transitions the position from OPENED to CLOSING and attaches
// the closing order. This is the only place a closing order may be set.
func (p *Position) MarkClosing(closingOrder *Order, reason CloseReason) error {
	if p.Status != StatusOpened {
		return fmt.Errorf("cannot mark position %d closing: status is %s", p.ID, p.Status)
	}
	if closingOrder == nil {
		return fmt.Errorf("cannot mark position %d closing: no closing order", p.ID)
	}
	p.Status = StatusClosing
	p.ClosingOrder = closingOrder
	p.CloseReason = reason
	return nil
}

// MarkClosed transitions the position from CLOSING to CLOSED.
func (p *Position) MarkClosed(at time.Time) error {
	if p.Status != StatusClosing {
		return fmt.Errorf("cannot mark position %d closed: status is %s", p.ID, p.Status)
	}
	p.Status = StatusClosed
	p.ClosedAt = at
	return nil
}
