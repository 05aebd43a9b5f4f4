package backtesting

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"cryptoSpotBot/internal/domain"
	"cryptoSpotBot/internal/ports"
	"cryptoSpotBot/internal/strategy"
)

// Config holds the parameters for a tick replay.
type Config struct {
	Logger      ports.Logger
	StrategyID  string              // identity stamped onto simulated positions
	Pair        domain.CurrencyPair // the only pair ticks are accepted for
	BarDuration time.Duration       // window length of aggregated bars
	MaxBarCount int                 // bound of the bar series

	// TradeAmount is the base amount bought on every entry signal.
	TradeAmount decimal.Decimal
	// InitialBalance is the quote balance the simulated account starts with.
	InitialBalance decimal.Decimal
	// MinimumBalanceLeft skips entries that would leave less quote balance
	// than this, mirroring the live entry check. Zero means every affordable
	// entry is taken.
	MinimumBalanceLeft decimal.Decimal
	// StopRules are stamped onto every simulated position and evaluated on
	// each tick, the way the live position tracker evaluates them.
	StopRules domain.PositionRules
}

// RoundTrip is one buy and its matching sell produced by a replay.
type RoundTrip struct {
	EntryTime  time.Time
	ExitTime   time.Time
	EntryPrice decimal.Decimal
	ExitPrice  decimal.Decimal
	Amount     decimal.Decimal // base amount traded
	Profit     decimal.Decimal // (exit - entry) * amount, in the quote currency
	Reason     domain.CloseReason
}

// Result summarizes a replay run. Only completed round trips enter the trade
// statistics; a position still open when the ticks run out is reported via
// OpenAtEnd and marked at its last seen price in FinalBalance.
type Result struct {
	TicksReplayed  int // ticks accepted for the configured pair
	BarsCompleted  int
	SkippedEntries int // entry signals not taken because the balance was too low

	Trips        []RoundTrip
	TotalTrips   int
	WinningTrips int
	LosingTrips  int
	WinRate      float64

	TotalProfit    decimal.Decimal // realized profit over all completed trips
	AverageWin     decimal.Decimal
	AverageLoss    decimal.Decimal
	ProfitFactor   float64 // average win divided by average loss magnitude
	MaxDrawdown    float64 // deepest fraction of the peak balance given back
	InitialBalance decimal.Decimal
	FinalBalance   decimal.Decimal
	Return         float64 // (FinalBalance - InitialBalance) / InitialBalance

	// OpenAtEnd holds the entry half of a trip the ticks ran out on, nil
	// when the run ended flat.
	OpenAtEnd *RoundTrip
}

// Replayer drives recorded ticks through the same bar aggregation and rule
// evaluation the live strategy runtime uses and simulates the order fills.
// Entries and rule exits fill at the close of the bar that produced the
// signal; stop closes fill at the tick that tripped the stop. The whole run
// happens on the calling goroutine, so replaying the same ticks twice yields
// the same result.
type Replayer struct {
	cfg    Config
	logger ports.Logger
	rule   strategy.Rule
}

func (c Config) validate() error {
	if c.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if c.Pair.IsZero() {
		return fmt.Errorf("currency pair is required")
	}
	if c.BarDuration <= 0 {
		return fmt.Errorf("bar duration must be positive")
	}
	if c.MaxBarCount <= 0 {
		return fmt.Errorf("max bar count must be positive")
	}
	if c.TradeAmount.Sign() <= 0 {
		return fmt.Errorf("trade amount must be positive")
	}
	if c.InitialBalance.Sign() < 0 {
		return fmt.Errorf("initial balance cannot be negative")
	}
	return nil
}

// New validates the configuration and builds a replayer.
func New(cfg Config, rule strategy.Rule) (*Replayer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, fmt.Errorf("rule is required")
	}
	return &Replayer{cfg: cfg, logger: cfg.Logger, rule: rule}, nil
}

// Run replays ticks in the order given and returns the summary. Ticks for
// other pairs are ignored. Run returns early with the context error when ctx
// is canceled mid-replay.
func (r *Replayer) Run(ctx context.Context, ticks []domain.Tick) (*Result, error) {
	agg, err := strategy.NewBarAggregator(r.cfg.BarDuration)
	if err != nil {
		return nil, fmt.Errorf("building bar aggregator: %w", err)
	}
	defer agg.Close()

	series, err := strategy.NewBarSeries(r.cfg.MaxBarCount)
	if err != nil {
		return nil, fmt.Errorf("building bar series: %w", err)
	}

	run := &replayRun{
		cfg:     r.cfg,
		logger:  r.logger,
		rule:    r.rule,
		series:  series,
		balance: r.cfg.InitialBalance,
		peak:    r.cfg.InitialBalance,
		res: &Result{
			Trips:          make([]RoundTrip, 0),
			InitialBalance: r.cfg.InitialBalance,
		},
	}

	for _, t := range ticks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if t.Pair != r.cfg.Pair {
			continue
		}
		run.res.TicksReplayed++

		// The aggregator emits at most one completed bar per update and we
		// drain it immediately, so Update never blocks on the emit.
		agg.Update(t.Timestamp, t.Price)
		select {
		case bar := <-agg.Bars():
			run.onBar(ctx, bar)
		default:
		}
		run.onTick(ctx, t)
	}

	res := run.summarize()
	r.logger.Info(ctx, "Replay complete", map[string]interface{}{
		"strategyID": r.cfg.StrategyID,
		"ticks":      res.TicksReplayed,
		"bars":       res.BarsCompleted,
		"trips":      res.TotalTrips,
	})
	return res, nil
}

// replayRun is the mutable state of a single Run.
type replayRun struct {
	cfg    Config
	logger ports.Logger
	rule   strategy.Rule
	series *strategy.BarSeries
	res    *Result

	position *domain.Position
	entry    RoundTrip // entry half of the open position's trip
	nextID   int64

	balance   decimal.Decimal
	peak      decimal.Decimal
	totalWin  decimal.Decimal
	totalLoss decimal.Decimal
}

// onBar appends the completed bar and evaluates the rule on it, entry rule
// first. The exit rule is not consulted on a bar whose entry rule matched,
// matching the live runtime's tie-break.
func (r *replayRun) onBar(ctx context.Context, bar domain.Bar) {
	r.series.Add(bar)
	r.res.BarsCompleted++
	index := r.series.EndIndex()
	if r.rule.ShouldEnter(ctx, r.series, index) {
		r.enter(ctx, bar)
		return
	}
	if r.rule.ShouldExit(ctx, r.series, index) {
		r.exit(ctx, bar.Close, bar.EndTime, domain.CloseReasonExitSignal)
	}
}

// onTick feeds the tick into the open position's price trackers and closes
// the position at the tick's own price when a stop rule trips.
func (r *replayRun) onTick(ctx context.Context, t domain.Tick) {
	if r.position == nil {
		return
	}
	r.position.UpdatePrice(t)
	if !r.position.ShouldBeClosed() {
		return
	}
	r.exit(ctx, t.Price, t.Timestamp, r.position.StopReason())
}

// enter opens a simulated position at the close of the signal bar. The
// position goes straight to OPENED, modelling the market buy as an immediate
// full fill.
func (r *replayRun) enter(ctx context.Context, bar domain.Bar) {
	if r.position != nil {
		return
	}
	cost := r.cfg.TradeAmount.Mul(bar.Close)
	if r.balance.Sub(cost).LessThan(r.cfg.MinimumBalanceLeft) {
		r.res.SkippedEntries++
		r.logger.Debug(ctx, "Entry signal skipped, balance too low", map[string]interface{}{
			"endTime": bar.EndTime,
			"cost":    cost.String(),
			"balance": r.balance.String(),
		})
		return
	}
	r.balance = r.balance.Sub(cost)
	r.nextID++
	r.position = &domain.Position{
		ID:         r.nextID,
		StrategyID: r.cfg.StrategyID,
		Pair:       r.cfg.Pair,
		Status:     domain.StatusOpened,
		Amount:     domain.NewCurrencyAmount(r.cfg.TradeAmount, r.cfg.Pair.Base),
		Rules:      r.cfg.StopRules,
		OpeningOrder: &domain.Order{
			ExchangeOrderID: r.nextID,
			Pair:            r.cfg.Pair,
			Side:            domain.Buy,
			Type:            domain.Market,
			Status:          domain.OrderStatusFilled,
			Amount:          r.cfg.TradeAmount,
			ExecutedAmount:  r.cfg.TradeAmount,
			Price:           bar.Close,
			CreatedAt:       bar.EndTime,
			UpdatedAt:       bar.EndTime,
		},
		CreatedAt: bar.EndTime,
	}
	r.entry = RoundTrip{
		EntryTime:  bar.EndTime,
		EntryPrice: bar.Close,
		Amount:     r.cfg.TradeAmount,
	}
	r.logger.Debug(ctx, "Replay entered position", map[string]interface{}{
		"positionID": r.position.ID,
		"entryTime":  bar.EndTime,
		"entryPrice": bar.Close.String(),
	})
}

// exit closes the open position at the given price and folds the completed
// trip into the running statistics.
func (r *replayRun) exit(ctx context.Context, price decimal.Decimal, at time.Time, reason domain.CloseReason) {
	if r.position == nil {
		return
	}
	trip := r.entry
	trip.ExitTime = at
	trip.ExitPrice = price
	trip.Profit = price.Sub(trip.EntryPrice).Mul(trip.Amount)
	trip.Reason = reason

	r.balance = r.balance.Add(trip.Amount.Mul(price))
	r.position = nil

	res := r.res
	res.Trips = append(res.Trips, trip)
	res.TotalTrips++
	res.TotalProfit = res.TotalProfit.Add(trip.Profit)
	if trip.Profit.Sign() > 0 {
		res.WinningTrips++
		r.totalWin = r.totalWin.Add(trip.Profit)
	} else {
		res.LosingTrips++
		r.totalLoss = r.totalLoss.Add(trip.Profit)
	}

	if r.balance.GreaterThan(r.peak) {
		r.peak = r.balance
	} else if r.peak.Sign() > 0 {
		drawdown := r.peak.Sub(r.balance).Div(r.peak).InexactFloat64()
		if drawdown > res.MaxDrawdown {
			res.MaxDrawdown = drawdown
		}
	}

	r.logger.Debug(ctx, "Replay closed position", map[string]interface{}{
		"exitTime":  at,
		"exitPrice": price.String(),
		"profit":    trip.Profit.String(),
		"reason":    string(reason),
	})
}

// summarize finalizes the ratio statistics and marks any still-open position
// to its last seen price.
func (r *replayRun) summarize() *Result {
	res := r.res
	res.FinalBalance = r.balance
	if r.position != nil {
		last := r.entry.EntryPrice
		if r.position.LatestPrice != nil {
			last = r.position.LatestPrice.Value
		}
		res.FinalBalance = res.FinalBalance.Add(r.entry.Amount.Mul(last))
		open := r.entry
		res.OpenAtEnd = &open
	}
	if res.TotalTrips > 0 {
		res.WinRate = float64(res.WinningTrips) / float64(res.TotalTrips)
		if res.WinningTrips > 0 {
			res.AverageWin = r.totalWin.Div(decimal.NewFromInt(int64(res.WinningTrips)))
		}
		if res.LosingTrips > 0 {
			res.AverageLoss = r.totalLoss.Div(decimal.NewFromInt(int64(res.LosingTrips)))
		}
		if !res.AverageLoss.IsZero() {
			res.ProfitFactor = res.AverageWin.Div(res.AverageLoss.Neg()).InexactFloat64()
		}
	}
	if res.InitialBalance.Sign() > 0 {
		res.Return = res.FinalBalance.Sub(res.InitialBalance).Div(res.InitialBalance).InexactFloat64()
	}
	return res
}
