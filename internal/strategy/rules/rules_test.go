package rules

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoSpotBot/internal/domain"
	"cryptoSpotBot/internal/strategy"
)

// mockLogger implements ports.Logger for testing.
type mockLogger struct {
	errorMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.errorMsgs = append(m.errorMsgs, msg)
}

func seriesOf(t *testing.T, closes ...float64) *strategy.BarSeries {
	t.Helper()
	s, err := strategy.NewBarSeries(100)
	require.NoError(t, err)
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	for i, c := range closes {
		price := decimal.NewFromFloat(c)
		start := base.Add(time.Duration(i) * time.Minute)
		s.Add(domain.Bar{
			StartTime: start,
			EndTime:   start.Add(time.Minute),
			Open:      price,
			High:      price,
			Low:       price,
			Close:     price,
			LastPrice: price,
		})
	}
	return s
}

func TestNewSMACrossover(t *testing.T) {
	logger := &mockLogger{}

	tests := []struct {
		name    string
		cfg     SMACrossoverConfig
		wantErr bool
	}{
		{name: "valid", cfg: SMACrossoverConfig{Logger: logger, ShortPeriod: 20, LongPeriod: 50}},
		{name: "nil logger", cfg: SMACrossoverConfig{ShortPeriod: 20, LongPeriod: 50}, wantErr: true},
		{name: "zero short period", cfg: SMACrossoverConfig{Logger: logger, ShortPeriod: 0, LongPeriod: 50}, wantErr: true},
		{name: "short not below long", cfg: SMACrossoverConfig{Logger: logger, ShortPeriod: 50, LongPeriod: 50}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewSMACrossover(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, r)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 51, r.RequiredDataPoints())
		})
	}
}

func TestSMACrossoverSignals(t *testing.T) {
	rule, err := NewSMACrossover(SMACrossoverConfig{
		Logger:      &mockLogger{},
		ShortPeriod: 2,
		LongPeriod:  3,
	})
	require.NoError(t, err)
	ctx := context.Background()

	tests := []struct {
		name      string
		closes    []float64
		wantEnter bool
		wantExit  bool
	}{
		{
			name:      "golden cross enters",
			closes:    []float64{10, 10, 10, 10, 20},
			wantEnter: true,
		},
		{
			name:     "death cross exits",
			closes:   []float64{20, 20, 20, 20, 10},
			wantExit: true,
		},
		{
			name:   "flat series signals nothing",
			closes: []float64{10, 10, 10, 10, 10},
		},
		{
			name:   "continued rise after the cross does not re-trigger",
			closes: []float64{10, 10, 10, 10, 20, 30},
		},
		{
			name:   "not enough bars",
			closes: []float64{10, 10, 10},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			series := seriesOf(t, tt.closes...)
			index := series.EndIndex()

			assert.Equal(t, tt.wantEnter, rule.ShouldEnter(ctx, series, index), "enter")
			assert.Equal(t, tt.wantExit, rule.ShouldExit(ctx, series, index), "exit")
		})
	}
}

func TestNewRSIThreshold(t *testing.T) {
	logger := &mockLogger{}

	tests := []struct {
		name    string
		cfg     RSIThresholdConfig
		wantErr bool
	}{
		{name: "valid", cfg: RSIThresholdConfig{Logger: logger, Period: 14, Oversold: 30, Overbought: 70}},
		{name: "nil logger", cfg: RSIThresholdConfig{Period: 14, Oversold: 30, Overbought: 70}, wantErr: true},
		{name: "zero period", cfg: RSIThresholdConfig{Logger: logger, Period: 0, Oversold: 30, Overbought: 70}, wantErr: true},
		{name: "inverted thresholds", cfg: RSIThresholdConfig{Logger: logger, Period: 14, Oversold: 70, Overbought: 30}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewRSIThreshold(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, r)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 15, r.RequiredDataPoints())
		})
	}
}

func TestRSIThresholdSignals(t *testing.T) {
	rule, err := NewRSIThreshold(RSIThresholdConfig{
		Logger:     &mockLogger{},
		Period:     3,
		Oversold:   30,
		Overbought: 70,
	})
	require.NoError(t, err)
	ctx := context.Background()

	tests := []struct {
		name      string
		closes    []float64
		wantEnter bool
		wantExit  bool
	}{
		{
			name:      "persistent losses read oversold",
			closes:    []float64{106, 104, 102, 100, 98},
			wantEnter: true,
		},
		{
			name:     "persistent gains read overbought",
			closes:   []float64{100, 102, 104, 106, 108},
			wantExit: true,
		},
		{
			name:   "choppy neutral series signals nothing",
			closes: []float64{100, 101, 100, 101, 100},
		},
		{
			name:   "not enough bars",
			closes: []float64{100, 101, 102},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			series := seriesOf(t, tt.closes...)
			index := series.EndIndex()

			assert.Equal(t, tt.wantEnter, rule.ShouldEnter(ctx, series, index), "enter")
			assert.Equal(t, tt.wantExit, rule.ShouldExit(ctx, series, index), "exit")
		})
	}
}
