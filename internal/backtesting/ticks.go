package backtesting

import (
	"cryptoSpotBot/internal/domain"
)

// TicksFromBars flattens historical bars into a tick sequence that rebuilds
// the same bars when replayed: the open at the window start, then the high,
// low and close spread across the window. OHLC data does not record whether
// the high or the low came first within a bar; the high is emitted first.
func TicksFromBars(pair domain.CurrencyPair, bars []domain.Bar) []domain.Tick {
	ticks := make([]domain.Tick, 0, len(bars)*4)
	for _, b := range bars {
		quarter := b.Duration() / 4
		ticks = append(ticks,
			domain.Tick{Pair: pair, Price: b.Open, Timestamp: b.StartTime},
			domain.Tick{Pair: pair, Price: b.High, Timestamp: b.StartTime.Add(quarter)},
			domain.Tick{Pair: pair, Price: b.Low, Timestamp: b.StartTime.Add(2 * quarter)},
			domain.Tick{Pair: pair, Price: b.Close, Timestamp: b.StartTime.Add(3 * quarter)},
		)
	}
	return ticks
}
