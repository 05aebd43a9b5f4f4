package strategy

import (
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"cryptoSpotBot/internal/domain"
)

// ErrInvalidBarDuration is returned when an aggregator is built with a zero or
// negative bar duration.
var ErrInvalidBarDuration = errors.New("bar duration must be positive")

// BarAggregator folds an irregular stream of price ticks into fixed-duration
// OHLC bars. A bar is emitted on the Bars channel the moment a tick at or past
// its window end arrives; the partial bar in progress is never emitted.
//
// The emission channel has capacity one, so at most one completed bar is ever
// waiting for the consumer. When the consumer has not caught up, Update blocks
// on the emit, which pushes back on the tick source instead of dropping or
// piling up bars.
//
// Update is not safe for concurrent use; ticks must come from a single
// goroutine.
type BarAggregator struct {
	duration  time.Duration
	out       chan domain.Bar
	stop      chan struct{}
	closeOnce sync.Once
	current   *domain.Bar // open window, nil until the first tick
}

// NewBarAggregator builds an aggregator producing bars of the given duration.
func NewBarAggregator(duration time.Duration) (*BarAggregator, error) {
	if duration <= 0 {
		return nil, ErrInvalidBarDuration
	}
	return &BarAggregator{
		duration: duration,
		out:      make(chan domain.Bar, 1),
		stop:     make(chan struct{}),
	}, nil
}

// Bars returns the channel completed bars are emitted on. The channel is
// closed by Close after the last emitted bar.
func (a *BarAggregator) Bars() <-chan domain.Bar {
	return a.out
}

// Duration returns the bar window length.
func (a *BarAggregator) Duration() time.Duration {
	return a.duration
}

// Update folds one price observation into the aggregator.
//
// The first tick ever opens the first bar at its own timestamp. A tick
// timestamped before the current window's end (stale ticks included) is
// absorbed into the current bar. A tick at or past the window end finalizes
// and emits the current bar, then opens a new one at the window boundary that
// contains the tick, so a gap longer than one window produces no empty bars.
func (a *BarAggregator) Update(ts time.Time, price decimal.Decimal) {
	select {
	case <-a.stop:
		return
	default:
	}

	if a.current == nil {
		a.current = a.newBar(ts, price)
		return
	}
	if ts.Before(a.current.EndTime) {
		if price.GreaterThan(a.current.High) {
			a.current.High = price
		}
		if price.LessThan(a.current.Low) {
			a.current.Low = price
		}
		a.current.Close = price
		a.current.LastPrice = price
		return
	}

	completed := *a.current
	start := completed.EndTime.Add(ts.Sub(completed.EndTime).Truncate(a.duration))
	a.current = a.newBar(start, price)
	a.emit(completed)
}

// Close tears the aggregator down: the bar in progress is discarded and the
// emission channel is closed so the consumer can drain any bar in flight and
// exit. Close is idempotent. It must not be called while another goroutine is
// still calling Update; stop the tick source first.
func (a *BarAggregator) Close() {
	a.closeOnce.Do(func() {
		close(a.stop)
		close(a.out)
	})
}

func (a *BarAggregator) newBar(start time.Time, price decimal.Decimal) *domain.Bar {
	return &domain.Bar{
		StartTime: start,
		EndTime:   start.Add(a.duration),
		Open:      price,
		High:      price,
		Low:       price,
		Close:     price,
		LastPrice: price,
	}
}

func (a *BarAggregator) emit(bar domain.Bar) {
	select {
	case a.out <- bar:
	case <-a.stop:
	}
}
