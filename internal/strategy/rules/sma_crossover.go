package rules

import (
	"context"
	"fmt"

	"cryptoSpotBot/internal/ports"
	"cryptoSpotBot/internal/strategy"
	"cryptoSpotBot/internal/strategy/indicators"
)

// SMACrossoverConfig holds the parameters for the SMA crossover rule.
type SMACrossoverConfig struct {
	Logger      ports.Logger
	ShortPeriod int // e.g., 20
	LongPeriod  int // e.g., 50
}

// SMACrossover enters when the short moving average crosses above the long
// one between the previous and the current bar, and exits on the opposite
// cross. A calculation failure logs and yields no signal; it never stops the
// pipeline.
type SMACrossover struct {
	cfg    SMACrossoverConfig
	logger ports.Logger
	short  *indicators.MovingAverage
	long   *indicators.MovingAverage
}

// NewSMACrossover creates the rule and validates its periods.
func NewSMACrossover(cfg SMACrossoverConfig) (*SMACrossover, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SMA crossover rule")
	}
	if cfg.ShortPeriod <= 0 || cfg.LongPeriod <= 0 {
		return nil, fmt.Errorf("SMA periods must be positive")
	}
	if cfg.ShortPeriod >= cfg.LongPeriod {
		return nil, fmt.Errorf("short SMA period must be less than long SMA period")
	}
	return &SMACrossover{
		cfg:    cfg,
		logger: cfg.Logger,
		short: indicators.NewMovingAverage(indicators.MovingAverageConfig{
			IndicatorConfig: indicators.IndicatorConfig{Period: cfg.ShortPeriod},
			Type:            indicators.SimpleMovingAverage,
		}),
		long: indicators.NewMovingAverage(indicators.MovingAverageConfig{
			IndicatorConfig: indicators.IndicatorConfig{Period: cfg.LongPeriod},
			Type:            indicators.SimpleMovingAverage,
		}),
	}, nil
}

// RequiredDataPoints returns the number of bars needed before the rule can
// compare the current cross state with the previous one.
func (r *SMACrossover) RequiredDataPoints() int {
	return r.cfg.LongPeriod + 1
}

// ShouldEnter reports a golden cross on the current bar.
func (r *SMACrossover) ShouldEnter(ctx context.Context, series *strategy.BarSeries, index int) bool {
	shortPrev, shortCurr, longPrev, longCurr, ok := r.averages(ctx, series)
	if !ok {
		return false
	}
	return shortPrev <= longPrev && shortCurr > longCurr
}

// ShouldExit reports a death cross on the current bar.
func (r *SMACrossover) ShouldExit(ctx context.Context, series *strategy.BarSeries, index int) bool {
	shortPrev, shortCurr, longPrev, longCurr, ok := r.averages(ctx, series)
	if !ok {
		return false
	}
	return shortPrev >= longPrev && shortCurr < longCurr
}

// averages computes the short and long SMA for the previous and current bar.
func (r *SMACrossover) averages(ctx context.Context, series *strategy.BarSeries) (shortPrev, shortCurr, longPrev, longCurr float64, ok bool) {
	bars := series.Bars()
	if len(bars) < r.RequiredDataPoints() {
		return 0, 0, 0, 0, false
	}
	prev := bars[:len(bars)-1]

	var err error
	if shortPrev, err = r.short.Calculate(ctx, prev); err != nil {
		r.logFailure(ctx, err)
		return 0, 0, 0, 0, false
	}
	if shortCurr, err = r.short.Calculate(ctx, bars); err != nil {
		r.logFailure(ctx, err)
		return 0, 0, 0, 0, false
	}
	if longPrev, err = r.long.Calculate(ctx, prev); err != nil {
		r.logFailure(ctx, err)
		return 0, 0, 0, 0, false
	}
	if longCurr, err = r.long.Calculate(ctx, bars); err != nil {
		r.logFailure(ctx, err)
		return 0, 0, 0, 0, false
	}
	return shortPrev, shortCurr, longPrev, longCurr, true
}

func (r *SMACrossover) logFailure(ctx context.Context, err error) {
	r.logger.Error(ctx, err, "SMA crossover calculation failed", map[string]interface{}{
		"shortPeriod": r.cfg.ShortPeriod,
		"longPeriod":  r.cfg.LongPeriod,
	})
}
