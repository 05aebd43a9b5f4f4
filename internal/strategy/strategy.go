package strategy

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"cryptoSpotBot/internal/domain"
	"cryptoSpotBot/internal/ports"
)

// Config holds the parameters for a strategy runtime.
type Config struct {
	Logger      ports.Logger
	StrategyID  string              // identity stamped onto positions this strategy opens
	Pair        domain.CurrencyPair // the only pair ticks are accepted for
	BarDuration time.Duration       // window length of aggregated bars
	MaxBarCount int                 // bound of the bar series
}

// Strategy is the runtime between the tick stream and a trading rule.
//
// Ticks fed through OnTicks are folded into fixed-duration bars. Completed
// bars are processed one at a time on the strategy's own goroutine: each bar
// is appended to the bounded series, the current rule is evaluated on it
// (entry first; the exit rule is not consulted when the entry rule matches)
// and the matching hook is fired. Because the goroutine only takes the next
// bar after the previous one is fully processed, bars arrive in order,
// exactly once, and rule evaluation never runs concurrently with itself.
//
// The rule can be swapped at any time with UpdateRule; the swap takes effect
// at the next bar and is never observed mid-evaluation.
type Strategy struct {
	cfg    Config
	logger ports.Logger
	agg    *BarAggregator
	series *BarSeries
	hooks  Hooks

	mu            sync.RWMutex
	rule          Rule
	lastTicks     map[domain.CurrencyPair]domain.Tick
	accounts      []domain.Account
	importActive  bool
	importSeamEnd time.Time

	started  atomic.Bool
	stopOnce sync.Once
	done     chan struct{}
}

// New creates a strategy runtime. The bar duration and maximum bar count are
// validated here so a misconfigured strategy fails at startup, not mid-run.
func New(cfg Config, rule Rule, hooks Hooks) (*Strategy, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for strategy")
	}
	if cfg.StrategyID == "" {
		return nil, fmt.Errorf("strategy ID is required")
	}
	if cfg.Pair.IsZero() {
		return nil, fmt.Errorf("currency pair is required for strategy")
	}
	if rule == nil {
		return nil, fmt.Errorf("rule is required for strategy")
	}
	if hooks == nil {
		return nil, fmt.Errorf("hooks are required for strategy")
	}
	agg, err := NewBarAggregator(cfg.BarDuration)
	if err != nil {
		return nil, err
	}
	series, err := NewBarSeries(cfg.MaxBarCount)
	if err != nil {
		return nil, err
	}
	return &Strategy{
		cfg:       cfg,
		logger:    cfg.Logger,
		agg:       agg,
		series:    series,
		hooks:     hooks,
		rule:      rule,
		lastTicks: make(map[domain.CurrencyPair]domain.Tick),
		done:      make(chan struct{}),
	}, nil
}

// ID returns the strategy identifier.
func (s *Strategy) ID() string {
	return s.cfg.StrategyID
}

// Pair returns the pair the strategy trades.
func (s *Strategy) Pair() domain.CurrencyPair {
	return s.cfg.Pair
}

// BarDuration returns the window length of the aggregated bars.
func (s *Strategy) BarDuration() time.Duration {
	return s.cfg.BarDuration
}

// Series returns the bar series. It must only be inspected from hook
// callbacks (which run on the bar-processing goroutine) or after Stop.
func (s *Strategy) Series() *BarSeries {
	return s.series
}

// SeedBars pre-fills the series from historical bars, oldest first, and arms
// the import seam: the first live tick after seeding is folded into the
// aggregator at the end time of the last seeded bar instead of its own
// timestamp, exactly once, so the live window lines up with the imported
// series. Must be called before Start. Seeding nothing is a no-op.
func (s *Strategy) SeedBars(ctx context.Context, bars []domain.Bar) error {
	if s.started.Load() {
		return fmt.Errorf("cannot seed bars after the strategy has started")
	}
	if len(bars) == 0 {
		return nil
	}
	for _, b := range bars {
		s.series.Add(b)
	}
	last := bars[len(bars)-1]
	s.mu.Lock()
	s.importActive = true
	s.importSeamEnd = last.EndTime
	s.mu.Unlock()
	s.logger.Info(ctx, "Seeded bar series from history", map[string]interface{}{
		"strategyID": s.cfg.StrategyID,
		"bars":       len(bars),
		"seamEnd":    last.EndTime,
	})
	return nil
}

// Start launches the bar-processing goroutine. Calling Start twice is a no-op.
func (s *Strategy) Start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	go s.run(ctx)
}

// Stop tears the strategy down: no more bars are emitted, the bar currently
// being processed (if any) completes, and the partial bar under aggregation
// is discarded. Stop is idempotent and must only be called after the tick
// source has stopped.
func (s *Strategy) Stop() {
	s.stopOnce.Do(func() {
		s.agg.Close()
		if s.started.Load() {
			<-s.done
		}
	})
}

// OnTicks feeds a batch of price ticks into the strategy. Ticks for other
// pairs are ignored. The last accepted tick per pair is retained as the
// reference price for sufficiency checks. OnTicks blocks while the previous
// completed bar has not been processed yet, which is the backpressure that
// keeps bar processing from falling behind the market.
func (s *Strategy) OnTicks(ctx context.Context, ticks []domain.Tick) {
	for _, t := range ticks {
		if t.Pair != s.cfg.Pair {
			continue
		}
		s.mu.Lock()
		s.lastTicks[t.Pair] = t
		ts := t.Timestamp
		reanchored := false
		if s.importActive {
			ts = s.importSeamEnd
			s.importActive = false
			reanchored = true
		}
		s.mu.Unlock()
		if reanchored {
			s.logger.Debug(ctx, "Re-anchored first live tick to imported series", map[string]interface{}{
				"strategyID": s.cfg.StrategyID,
				"tickTime":   t.Timestamp,
				"seamEnd":    ts,
			})
		}
		s.agg.Update(ts, t.Price)
	}
}

// OnAccountsUpdate replaces the account snapshot sufficiency checks run on.
func (s *Strategy) OnAccountsUpdate(ctx context.Context, accounts []domain.Account) {
	s.mu.Lock()
	s.accounts = accounts
	s.mu.Unlock()
	s.logger.Debug(ctx, "Account snapshot updated", map[string]interface{}{
		"strategyID": s.cfg.StrategyID,
		"accounts":   len(accounts),
	})
}

// LastTick returns the last accepted tick for the pair, if any.
func (s *Strategy) LastTick(pair domain.CurrencyPair) (domain.Tick, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.lastTicks[pair]
	return t, ok
}

// UpdateRule swaps the trading rule. The new rule applies from the next
// completed bar onwards; the series and any open positions are untouched.
func (s *Strategy) UpdateRule(rule Rule) error {
	if rule == nil {
		return fmt.Errorf("rule is required")
	}
	s.mu.Lock()
	s.rule = rule
	s.mu.Unlock()
	s.logger.Info(context.Background(), "Strategy rule updated", map[string]interface{}{
		"strategyID": s.cfg.StrategyID,
	})
	return nil
}

func (s *Strategy) currentRule() Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rule
}

func (s *Strategy) run(ctx context.Context) {
	defer close(s.done)
	for bar := range s.agg.Bars() {
		s.processBar(ctx, bar)
	}
}

// processBar appends the bar to the series and evaluates the current rule on
// it. The append happens first and survives an evaluation failure: a panic in
// the rule or a hook is recovered and logged, the bar's signals are skipped,
// and processing moves on to the next bar.
func (s *Strategy) processBar(ctx context.Context, bar domain.Bar) {
	s.series.Add(bar)
	index := s.series.EndIndex()
	s.logger.Debug(ctx, "Completed bar appended", map[string]interface{}{
		"strategyID": s.cfg.StrategyID,
		"index":      index,
		"startTime":  bar.StartTime,
		"endTime":    bar.EndTime,
		"close":      bar.Close.String(),
	})

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error(ctx, fmt.Errorf("bar evaluation panicked: %v", r), "Skipping bar after evaluation failure", map[string]interface{}{
				"strategyID": s.cfg.StrategyID,
				"index":      index,
				"endTime":    bar.EndTime,
			})
		}
	}()

	rule := s.currentRule()
	if rule.ShouldEnter(ctx, s.series, index) {
		s.logger.Info(ctx, "Entry rule matched", map[string]interface{}{
			"strategyID": s.cfg.StrategyID,
			"endTime":    bar.EndTime,
			"close":      bar.Close.String(),
		})
		s.hooks.OnShouldEnter(ctx)
		return
	}
	if rule.ShouldExit(ctx, s.series, index) {
		s.logger.Info(ctx, "Exit rule matched", map[string]interface{}{
			"strategyID": s.cfg.StrategyID,
			"endTime":    bar.EndTime,
			"close":      bar.Close.String(),
		})
		s.hooks.OnShouldExit(ctx)
	}
}

// CanBuy reports whether the trade account holds enough quote currency to buy
// the given base amount at the last seen price. An optional minimum balance
// that must remain after the buy can be passed. It returns false, never an
// error, when no trade account, balance or reference price is available.
func (s *Strategy) CanBuy(ctx context.Context, amount decimal.Decimal, minimumBalanceLeftAfter ...decimal.Decimal) bool {
	account, ok := s.tradeAccount()
	if !ok {
		s.logger.Warn(ctx, "No trade account available for buy check", map[string]interface{}{
			"strategyID": s.cfg.StrategyID,
		})
		return false
	}
	return s.CanBuyOn(ctx, account, amount, minimumBalanceLeftAfter...)
}

// CanBuyOn is CanBuy against an explicitly chosen account.
func (s *Strategy) CanBuyOn(ctx context.Context, account domain.Account, amount decimal.Decimal, minimumBalanceLeftAfter ...decimal.Decimal) bool {
	if amount.Sign() <= 0 {
		return false
	}
	lastTick, ok := s.LastTick(s.cfg.Pair)
	if !ok {
		return false
	}
	balance, ok := account.Balance(s.cfg.Pair.Quote)
	if !ok {
		return false
	}
	cost := amount.Mul(lastTick.Price)
	if cost.GreaterThan(balance.Available) {
		return false
	}
	if len(minimumBalanceLeftAfter) > 0 && balance.Available.Sub(cost).LessThan(minimumBalanceLeftAfter[0]) {
		return false
	}
	return true
}

// CanSell reports whether the trade account holds enough base currency to
// sell the given amount. An optional minimum balance that must remain after
// the sell can be passed. It returns false, never an error, when no trade
// account or balance is available.
func (s *Strategy) CanSell(ctx context.Context, amount decimal.Decimal, minimumBalanceLeftAfter ...decimal.Decimal) bool {
	account, ok := s.tradeAccount()
	if !ok {
		s.logger.Warn(ctx, "No trade account available for sell check", map[string]interface{}{
			"strategyID": s.cfg.StrategyID,
		})
		return false
	}
	return s.CanSellOn(ctx, account, amount, minimumBalanceLeftAfter...)
}

// CanSellOn is CanSell against an explicitly chosen account.
func (s *Strategy) CanSellOn(ctx context.Context, account domain.Account, amount decimal.Decimal, minimumBalanceLeftAfter ...decimal.Decimal) bool {
	if amount.Sign() <= 0 {
		return false
	}
	balance, ok := account.Balance(s.cfg.Pair.Base)
	if !ok {
		return false
	}
	if balance.Available.LessThan(amount) {
		return false
	}
	if len(minimumBalanceLeftAfter) > 0 && balance.Available.Sub(amount).LessThan(minimumBalanceLeftAfter[0]) {
		return false
	}
	return true
}

func (s *Strategy) tradeAccount() (domain.Account, bool) {
	s.mu.RLock()
	accounts := s.accounts
	s.mu.RUnlock()
	return s.hooks.TradeAccount(accounts)
}
