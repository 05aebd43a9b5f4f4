package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"cryptoSpotBot/internal/domain"
	"cryptoSpotBot/internal/flux"
	"cryptoSpotBot/internal/ports"
	"cryptoSpotBot/internal/positions"
	"cryptoSpotBot/internal/strategy"
)

// Config holds everything the trading service needs to run one strategy on
// one pair.
type Config struct {
	Logger    ports.Logger
	Exchange  ports.ExchangeClient
	OrderRepo ports.OrderRepository
	Tracker   *positions.Tracker

	// Strategy wiring. The service constructs the strategy runtime itself
	// because it is also the runtime's hook implementation.
	Rule         strategy.Rule
	StrategyID   string
	Pair         domain.CurrencyPair
	BarDuration  time.Duration
	MaxBarCount  int
	BackfillBars int // historical bars seeded before going live; 0 disables

	// Trading parameters.
	TradeAmount    decimal.Decimal      // base currency amount per position
	PositionRules  domain.PositionRules // stop rules stamped on new positions
	MinBalanceLeft decimal.Decimal      // quote balance that must survive an entry

	// Polling cadence.
	TickerRate    time.Duration
	AccountRate   time.Duration
	TickQueueSize int
	OrderPollRate time.Duration
}

// TradingService orchestrates the live trading loop: it feeds exchange ticks
// into the strategy, reacts to the strategy's entry and exit signals by
// placing market orders, tracks the resulting positions, closes them when
// their stop rules fire and polls unfilled orders until they settle.
type TradingService struct {
	logger    ports.Logger
	exchange  ports.ExchangeClient
	orderRepo ports.OrderRepository
	tracker   *positions.Tracker
	strategy  *strategy.Strategy

	tickerFlux  *flux.TickerFlux
	accountFlux *flux.AccountFlux

	pair           domain.CurrencyPair
	tradeAmount    decimal.Decimal
	positionRules  domain.PositionRules
	minBalanceLeft decimal.Decimal
	backfillBars   int
	orderPollRate  time.Duration

	// tradeMu serializes entries and exits. Signals arrive from the bar
	// goroutine and stop rules from the tick goroutine; without the lock the
	// same position could be sold twice.
	tradeMu sync.Mutex

	fatalCh chan error
}

// New creates the trading service together with its strategy runtime and
// fluxes. Invalid configuration fails here, before anything is started.
func New(cfg Config) (*TradingService, error) {
	if cfg.Logger == nil || cfg.Exchange == nil || cfg.OrderRepo == nil || cfg.Tracker == nil {
		return nil, fmt.Errorf("missing required dependencies for TradingService")
	}
	if cfg.TradeAmount.Sign() <= 0 {
		return nil, fmt.Errorf("trade amount must be positive, got %s", cfg.TradeAmount)
	}
	if cfg.MinBalanceLeft.Sign() < 0 {
		return nil, fmt.Errorf("minimum balance left cannot be negative, got %s", cfg.MinBalanceLeft)
	}
	if cfg.BackfillBars < 0 {
		return nil, fmt.Errorf("backfill bar count cannot be negative, got %d", cfg.BackfillBars)
	}
	if cfg.OrderPollRate <= 0 {
		return nil, fmt.Errorf("order poll rate must be positive, got %s", cfg.OrderPollRate)
	}

	s := &TradingService{
		logger:         cfg.Logger,
		exchange:       cfg.Exchange,
		orderRepo:      cfg.OrderRepo,
		tracker:        cfg.Tracker,
		pair:           cfg.Pair,
		tradeAmount:    cfg.TradeAmount,
		positionRules:  cfg.PositionRules,
		minBalanceLeft: cfg.MinBalanceLeft,
		backfillBars:   cfg.BackfillBars,
		orderPollRate:  cfg.OrderPollRate,
		fatalCh:        make(chan error, 1),
	}

	strat, err := strategy.New(strategy.Config{
		Logger:      cfg.Logger,
		StrategyID:  cfg.StrategyID,
		Pair:        cfg.Pair,
		BarDuration: cfg.BarDuration,
		MaxBarCount: cfg.MaxBarCount,
	}, cfg.Rule, s)
	if err != nil {
		return nil, fmt.Errorf("building strategy runtime: %w", err)
	}
	s.strategy = strat

	tickerFlux, err := flux.NewTicker(flux.TickerConfig{
		Logger:    cfg.Logger,
		Exchange:  cfg.Exchange,
		Pairs:     []domain.CurrencyPair{cfg.Pair},
		Rate:      cfg.TickerRate,
		QueueSize: cfg.TickQueueSize,
	})
	if err != nil {
		return nil, fmt.Errorf("building ticker flux: %w", err)
	}
	s.tickerFlux = tickerFlux

	accountFlux, err := flux.NewAccount(flux.AccountConfig{
		Logger:   cfg.Logger,
		Exchange: cfg.Exchange,
		Rate:     cfg.AccountRate,
	})
	if err != nil {
		return nil, fmt.Errorf("building account flux: %w", err)
	}
	s.accountFlux = accountFlux

	return s, nil
}

// Run starts the trading loop and blocks until the context is canceled, a
// shutdown signal arrives or a fatal pipeline error occurs.
func (s *TradingService) Run(ctx context.Context) error {
	s.logger.Info(ctx, "Starting trading service", map[string]interface{}{
		"strategyID": s.strategy.ID(),
		"pair":       s.pair.String(),
		"amount":     s.tradeAmount.String(),
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			s.logger.Info(ctx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})
			cancel()
		case <-ctx.Done():
		}
	}()

	// 1. Synchronize clocks and verify connectivity. Signed requests fail
	// with skewed timestamps, so this is fatal.
	if err := s.exchange.SetServerTime(ctx); err != nil {
		return fmt.Errorf("failed to synchronize server time: %w", err)
	}
	if err := s.exchange.Ping(ctx); err != nil {
		return fmt.Errorf("exchange is unreachable: %w", err)
	}
	s.logger.Info(ctx, "Exchange connectivity verified")

	// 2. Verify API access and hand the strategy its first account snapshot.
	accounts, err := s.exchange.GetAccounts(ctx)
	if err != nil {
		return fmt.Errorf("failed to load accounts, check API credentials: %w", err)
	}
	s.strategy.OnAccountsUpdate(ctx, accounts)

	// 3. Restore positions that were open when the previous run ended.
	if err := s.tracker.Load(ctx); err != nil {
		return fmt.Errorf("failed to restore open positions: %w", err)
	}

	// 4. Warm the bar series from history so rules have context from the
	// first live bar on.
	if err := s.seedFromHistory(ctx); err != nil {
		return fmt.Errorf("failed to seed historical bars: %w", err)
	}

	// 5. Launch the pipeline: bar processing first, then the order poller,
	// then the fluxes that feed everything.
	s.strategy.Start(ctx)

	pollDone := make(chan struct{})
	go func() {
		defer close(pollDone)
		s.pollPendingOrders(ctx)
	}()

	if err := s.tickerFlux.Start(ctx, s.handleTicks, s.handleFluxError); err != nil {
		cancel()
		<-pollDone
		s.strategy.Stop()
		return fmt.Errorf("failed to start ticker flux: %w", err)
	}
	if err := s.accountFlux.Start(ctx, s.handleAccounts); err != nil {
		cancel()
		s.tickerFlux.Stop()
		<-pollDone
		s.strategy.Stop()
		return fmt.Errorf("failed to start account flux: %w", err)
	}
	s.logger.Info(ctx, "Trading service started")

	var runErr error
	select {
	case <-ctx.Done():
		s.logger.Info(ctx, "Shutting down trading service")
	case err := <-s.fatalCh:
		s.logger.Error(ctx, err, "Fatal pipeline error, shutting down")
		runErr = err
	}

	// Teardown in dependency order: stop the tick sources, then let the
	// strategy finish its in-flight bar, then the poller.
	cancel()
	s.tickerFlux.Stop()
	s.accountFlux.Stop()
	s.strategy.Stop()
	<-pollDone

	s.logger.Info(ctx, "Trading service stopped")
	return runErr
}

// seedFromHistory fetches recent bars and seeds the strategy series. The
// exchange includes the bar still being built; it is dropped so only closed
// bars are imported and the first live tick re-anchors at the right window.
func (s *TradingService) seedFromHistory(ctx context.Context) error {
	if s.backfillBars <= 0 {
		return nil
	}
	history, err := s.exchange.GetBars(ctx, s.pair, s.strategy.BarDuration(), s.backfillBars)
	if err != nil {
		return err
	}
	bars := make([]domain.Bar, 0, len(history))
	now := time.Now()
	for _, b := range history {
		if b == nil || now.Before(b.EndTime) {
			continue
		}
		bars = append(bars, *b)
	}
	return s.strategy.SeedBars(ctx, bars)
}

// handleTicks is the tick path: aggregate first, then update position price
// trackers, then close whatever the stop rules flagged. Runs on the flux
// dispatch goroutine.
func (s *TradingService) handleTicks(ctx context.Context, ticks []domain.Tick) {
	s.strategy.OnTicks(ctx, ticks)
	s.tracker.UpdateWithTicks(ctx, ticks)
	for _, p := range s.tracker.PositionsToClose() {
		reason := p.StopReason()
		s.logger.Info(ctx, "Stop rule triggered", map[string]interface{}{
			"positionID": p.ID,
			"reason":     string(reason),
		})
		if err := s.closePosition(ctx, p.ID, reason); err != nil {
			s.logger.Error(ctx, err, "Failed to close position on stop rule", map[string]interface{}{
				"positionID": p.ID,
			})
		}
	}
}

// handleAccounts forwards fresh balance snapshots to the strategy.
func (s *TradingService) handleAccounts(ctx context.Context, accounts []domain.Account) {
	s.strategy.OnAccountsUpdate(ctx, accounts)
}

// handleFluxError receives fatal flux errors and triggers shutdown.
func (s *TradingService) handleFluxError(err error) {
	select {
	case s.fatalCh <- err:
	default:
	}
}

// OnShouldEnter implements strategy.Hooks. Fired on the bar goroutine when
// the entry rule matched a completed bar.
func (s *TradingService) OnShouldEnter(ctx context.Context) {
	op := "OnShouldEnter"
	s.tradeMu.Lock()
	defer s.tradeMu.Unlock()

	if s.tracker.HasOpen(s.pair, s.strategy.ID()) {
		s.logger.Debug(ctx, "Entry signal ignored, position already open", map[string]interface{}{"op": op})
		return
	}
	if !s.strategy.CanBuy(ctx, s.tradeAmount, s.minBalanceLeft) {
		s.logger.Info(ctx, "Entry signal ignored, insufficient funds", map[string]interface{}{
			"op":             op,
			"amount":         s.tradeAmount.String(),
			"minBalanceLeft": s.minBalanceLeft.String(),
		})
		return
	}
	if err := s.enterPosition(ctx); err != nil {
		s.logger.Error(ctx, err, "Failed to enter position", map[string]interface{}{"op": op})
	}
}

// OnShouldExit implements strategy.Hooks. Fired on the bar goroutine when
// the exit rule matched a completed bar.
func (s *TradingService) OnShouldExit(ctx context.Context) {
	op := "OnShouldExit"
	for _, p := range s.tracker.OpenPositions() {
		if p.StrategyID != s.strategy.ID() || p.Pair != s.pair || p.Status != domain.StatusOpened {
			continue
		}
		if err := s.closePosition(ctx, p.ID, domain.CloseReasonExitSignal); err != nil {
			s.logger.Error(ctx, err, "Failed to close position on exit signal", map[string]interface{}{
				"op":         op,
				"positionID": p.ID,
			})
		}
	}
}

// TradeAccount implements strategy.Hooks.
func (s *TradingService) TradeAccount(accounts []domain.Account) (domain.Account, bool) {
	return strategy.DefaultTradeAccount(accounts)
}

// enterPosition places the opening market order and registers the new
// position with the tracker. Caller holds tradeMu.
func (s *TradingService) enterPosition(ctx context.Context) error {
	op := "enterPosition"
	clientOrderID := uuid.NewString()
	s.logger.Info(ctx, "Entering position", map[string]interface{}{
		"op":            op,
		"pair":          s.pair.String(),
		"amount":        s.tradeAmount.String(),
		"clientOrderID": clientOrderID,
	})

	order, err := s.exchange.PlaceMarketOrder(ctx, s.pair, domain.Buy, s.tradeAmount, clientOrderID)
	if err != nil {
		return fmt.Errorf("placing opening order: %w", err)
	}
	orderID, err := s.orderRepo.Create(ctx, order)
	if err != nil {
		// The order is live on the exchange either way. Keep going so the
		// tracker owns the position; the missing row is an operator concern.
		s.logger.Error(ctx, err, "Failed to persist opening order", map[string]interface{}{
			"op":              op,
			"exchangeOrderID": order.ExchangeOrderID,
		})
	} else {
		order.ID = orderID
	}

	createdAt := order.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	pos := &domain.Position{
		StrategyID:   s.strategy.ID(),
		Pair:         s.pair,
		Status:       domain.StatusOpening,
		Amount:       domain.NewCurrencyAmount(s.tradeAmount, s.pair.Base),
		Rules:        s.positionRules,
		OpeningOrder: order,
		CreatedAt:    createdAt,
	}
	if err := s.tracker.Open(ctx, pos); err != nil {
		return fmt.Errorf("tracking new position: %w", err)
	}

	// Spot market orders usually fill in the placement response; apply the
	// terminal state now instead of waiting a poll cycle.
	if order.Status.IsTerminal() {
		if err := s.tracker.OnOrderUpdate(ctx, *order); err != nil {
			s.logger.Error(ctx, err, "Failed to apply opening order fill", map[string]interface{}{
				"op":         op,
				"positionID": pos.ID,
			})
		}
	}
	return nil
}

// closePosition places the closing market order for a tracked position and
// moves it to CLOSING. Safe against concurrent exit paths: whoever wins the
// lock sells, the loser sees the position is no longer OPENED and does
// nothing.
func (s *TradingService) closePosition(ctx context.Context, positionID int64, reason domain.CloseReason) error {
	op := "closePosition"
	s.tradeMu.Lock()
	defer s.tradeMu.Unlock()

	current, ok := s.trackedPosition(positionID)
	if !ok || current.Status != domain.StatusOpened {
		s.logger.Debug(ctx, "Position no longer open, skipping close", map[string]interface{}{
			"op":         op,
			"positionID": positionID,
		})
		return nil
	}

	clientOrderID := uuid.NewString()
	s.logger.Info(ctx, "Closing position", map[string]interface{}{
		"op":            op,
		"positionID":    positionID,
		"reason":        string(reason),
		"clientOrderID": clientOrderID,
	})

	order, err := s.exchange.PlaceMarketOrder(ctx, current.Pair, domain.Sell, current.Amount.Value, clientOrderID)
	if err != nil {
		return fmt.Errorf("placing closing order for position %d: %w", positionID, err)
	}
	orderID, err := s.orderRepo.Create(ctx, order)
	if err != nil {
		s.logger.Error(ctx, err, "Failed to persist closing order", map[string]interface{}{
			"op":              op,
			"exchangeOrderID": order.ExchangeOrderID,
		})
	} else {
		order.ID = orderID
	}

	if err := s.tracker.MarkClosing(ctx, positionID, order, reason); err != nil {
		return fmt.Errorf("marking position %d closing: %w", positionID, err)
	}
	if order.Status.IsTerminal() {
		if err := s.tracker.OnOrderUpdate(ctx, *order); err != nil {
			s.logger.Error(ctx, err, "Failed to apply closing order fill", map[string]interface{}{
				"op":         op,
				"positionID": positionID,
			})
		}
	}
	return nil
}

// pollPendingOrders keeps asking the exchange about orders that have not
// reached a terminal state, persisting every change and feeding it to the
// tracker. This is the safety net for market orders that did not fill in
// their placement response.
func (s *TradingService) pollPendingOrders(ctx context.Context) {
	op := "pollPendingOrders"
	ticker := time.NewTicker(s.orderPollRate)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for _, pending := range s.tracker.PendingOrders() {
			fresh, err := s.exchange.GetOrder(ctx, pending.Pair, pending.ExchangeOrderID)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Warn(ctx, "Failed to poll order", map[string]interface{}{
					"op":              op,
					"exchangeOrderID": pending.ExchangeOrderID,
					"error":           err.Error(),
				})
				continue
			}
			if fresh == nil {
				continue
			}
			if fresh.Status == pending.Status && fresh.ExecutedAmount.Equal(pending.ExecutedAmount) {
				continue
			}
			fresh.ID = pending.ID
			if fresh.ID != 0 {
				if err := s.orderRepo.Update(ctx, fresh); err != nil {
					s.logger.Error(ctx, err, "Failed to persist order update", map[string]interface{}{
						"op":      op,
						"orderID": fresh.ID,
					})
				}
			}
			if err := s.tracker.OnOrderUpdate(ctx, *fresh); err != nil {
				s.logger.Error(ctx, err, "Failed to apply order update", map[string]interface{}{
					"op":              op,
					"exchangeOrderID": fresh.ExchangeOrderID,
				})
			}
		}
	}
}

// trackedPosition finds the current snapshot of a tracked position.
func (s *TradingService) trackedPosition(positionID int64) (domain.Position, bool) {
	for _, p := range s.tracker.OpenPositions() {
		if p.ID == positionID {
			return p, true
		}
	}
	return domain.Position{}, false
}
