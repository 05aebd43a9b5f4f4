package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bar represents one fixed-duration OHLC window built from price ticks.
type Bar struct {
	StartTime time.Time       // inclusive start of the window
	EndTime   time.Time       // exclusive end of the window (StartTime + duration)
	Open      decimal.Decimal // price of the first tick absorbed
	High      decimal.Decimal // highest price absorbed
	Low       decimal.Decimal // lowest price absorbed
	Close     decimal.Decimal // price of the last tick absorbed
	LastPrice decimal.Decimal // most recently absorbed price; equals Close once the bar is complete
}

// Duration returns the length of the bar's window.
func (b Bar) Duration() time.Duration {
	return b.EndTime.Sub(b.StartTime)
}

// Contains reports whether the timestamp falls inside the bar's window.
func (b Bar) Contains(ts time.Time) bool {
	return !ts.Before(b.StartTime) && ts.Before(b.EndTime)
}
