package rules

import (
	"context"
	"fmt"

	"cryptoSpotBot/internal/ports"
	"cryptoSpotBot/internal/strategy"
	"cryptoSpotBot/internal/strategy/indicators"
)

// RSIThresholdConfig holds the parameters for the RSI threshold rule.
type RSIThresholdConfig struct {
	Logger     ports.Logger
	Period     int     // e.g., 14
	Oversold   float64 // e.g., 30.0
	Overbought float64 // e.g., 70.0
}

// RSIThreshold enters when the RSI drops to the oversold threshold and exits
// when it reaches the overbought threshold.
type RSIThreshold struct {
	cfg    RSIThresholdConfig
	logger ports.Logger
	rsi    *indicators.RSI
}

// NewRSIThreshold creates the rule and validates its parameters.
func NewRSIThreshold(cfg RSIThresholdConfig) (*RSIThreshold, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for RSI threshold rule")
	}
	if cfg.Period <= 0 {
		return nil, fmt.Errorf("RSI period must be positive")
	}
	if cfg.Oversold <= 0 || cfg.Overbought <= 0 || cfg.Oversold >= cfg.Overbought {
		return nil, fmt.Errorf("RSI thresholds must satisfy 0 < oversold < overbought")
	}
	return &RSIThreshold{
		cfg:    cfg,
		logger: cfg.Logger,
		rsi: indicators.NewRSI(indicators.RSIConfig{
			IndicatorConfig: indicators.IndicatorConfig{Period: cfg.Period},
			Overbought:      cfg.Overbought,
			Oversold:        cfg.Oversold,
		}),
	}, nil
}

// RequiredDataPoints returns the number of bars needed for a stable RSI.
func (r *RSIThreshold) RequiredDataPoints() int {
	return r.cfg.Period + 1
}

// ShouldEnter reports whether the current bar closed oversold.
func (r *RSIThreshold) ShouldEnter(ctx context.Context, series *strategy.BarSeries, index int) bool {
	value, ok := r.value(ctx, series)
	return ok && r.rsi.IsOversold(value)
}

// ShouldExit reports whether the current bar closed overbought.
func (r *RSIThreshold) ShouldExit(ctx context.Context, series *strategy.BarSeries, index int) bool {
	value, ok := r.value(ctx, series)
	return ok && r.rsi.IsOverbought(value)
}

func (r *RSIThreshold) value(ctx context.Context, series *strategy.BarSeries) (float64, bool) {
	bars := series.Bars()
	if len(bars) < r.RequiredDataPoints() {
		return 0, false
	}
	value, err := r.rsi.Calculate(ctx, bars)
	if err != nil {
		r.logger.Error(ctx, err, "RSI calculation failed", map[string]interface{}{
			"period": r.cfg.Period,
		})
		return 0, false
	}
	return value, true
}
