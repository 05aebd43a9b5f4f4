package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoSpotBot/internal/domain"
	"cryptoSpotBot/internal/positions"
	"cryptoSpotBot/internal/strategy"
)

// Mock implementations

// mockLogger is mutex guarded because the service logs from several
// goroutines while a test observes it.
type mockLogger struct {
	mu        sync.Mutex
	debugMsgs []string
	infoMsgs  []string
	warnMsgs  []string
	errorMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.debugMsgs = append(m.debugMsgs, msg)
}

func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infoMsgs = append(m.infoMsgs, msg)
}

func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warnMsgs = append(m.warnMsgs, msg)
}

func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorMsgs = append(m.errorMsgs, msg)
}

func (m *mockLogger) debugs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.debugMsgs...)
}

func (m *mockLogger) infos() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.infoMsgs...)
}

func (m *mockLogger) errors() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.errorMsgs...)
}

type mockRule struct {
	enter bool
	exit  bool
}

func (m *mockRule) ShouldEnter(ctx context.Context, series *strategy.BarSeries, index int) bool {
	return m.enter
}

func (m *mockRule) ShouldExit(ctx context.Context, series *strategy.BarSeries, index int) bool {
	return m.exit
}

type mockExchange struct {
	serverTimeErr  error
	pingErr        error
	tick           *domain.Tick
	tickErr        error
	accounts       []domain.Account
	accountsErr    error
	bars           []*domain.Bar
	barsErr        error
	orderResponses map[string]*domain.Order // keyed by order side
	orderErrors    map[string]error
	getOrderResp   *domain.Order
	getOrderErr    error
}

func (m *mockExchange) SetServerTime(ctx context.Context) error { return m.serverTimeErr }

func (m *mockExchange) Ping(ctx context.Context) error { return m.pingErr }

func (m *mockExchange) GetServerTime(ctx context.Context) (time.Time, error) {
	return time.Now(), nil
}

func (m *mockExchange) GetTicker(ctx context.Context, pair domain.CurrencyPair) (*domain.Tick, error) {
	if m.tickErr != nil {
		return nil, m.tickErr
	}
	if m.tick == nil {
		return nil, nil
	}
	t := *m.tick
	t.Pair = pair
	return &t, nil
}

func (m *mockExchange) GetAccounts(ctx context.Context) ([]domain.Account, error) {
	return m.accounts, m.accountsErr
}

func (m *mockExchange) GetBars(ctx context.Context, pair domain.CurrencyPair, duration time.Duration, limit int) ([]*domain.Bar, error) {
	return m.bars, m.barsErr
}

func (m *mockExchange) PlaceMarketOrder(ctx context.Context, pair domain.CurrencyPair, side domain.OrderSide, amount decimal.Decimal, clientOrderID string) (*domain.Order, error) {
	if err := m.orderErrors[string(side)]; err != nil {
		return nil, err
	}
	resp, ok := m.orderResponses[string(side)]
	if !ok {
		return nil, assert.AnError
	}
	order := *resp
	order.Pair = pair
	order.Side = side
	order.Amount = amount
	order.ClientOrderID = clientOrderID
	return &order, nil
}

func (m *mockExchange) GetOrder(ctx context.Context, pair domain.CurrencyPair, exchangeOrderID int64) (*domain.Order, error) {
	if m.getOrderErr != nil {
		return nil, m.getOrderErr
	}
	if m.getOrderResp == nil {
		return nil, nil
	}
	order := *m.getOrderResp
	order.Pair = pair
	return &order, nil
}

func (m *mockExchange) CancelOrder(ctx context.Context, pair domain.CurrencyPair, exchangeOrderID int64) (*domain.Order, error) {
	return nil, nil
}

type mockPositionRepo struct {
	nextID    int64
	positions map[int64]*domain.Position
	createErr error
	updateErr error
	openErr   error
}

func (m *mockPositionRepo) Create(ctx context.Context, pos *domain.Position) (int64, error) {
	if m.createErr != nil {
		return 0, m.createErr
	}
	m.nextID++
	pos.ID = m.nextID
	stored := *pos
	m.positions[stored.ID] = &stored
	return stored.ID, nil
}

func (m *mockPositionRepo) Update(ctx context.Context, pos *domain.Position) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	stored := *pos
	m.positions[stored.ID] = &stored
	return nil
}

func (m *mockPositionRepo) FindOpen(ctx context.Context) ([]*domain.Position, error) {
	if m.openErr != nil {
		return nil, m.openErr
	}
	var out []*domain.Position
	for _, p := range m.positions {
		if !p.IsClosed() {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockPositionRepo) FindByID(ctx context.Context, id int64) (*domain.Position, error) {
	p, ok := m.positions[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *mockPositionRepo) FindAll(ctx context.Context) ([]*domain.Position, error) {
	var out []*domain.Position
	for _, p := range m.positions {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

type mockOrderRepo struct {
	nextID    int64
	created   []*domain.Order
	updated   []*domain.Order
	createErr error
	updateErr error
}

func (m *mockOrderRepo) Create(ctx context.Context, order *domain.Order) (int64, error) {
	if m.createErr != nil {
		return 0, m.createErr
	}
	m.nextID++
	stored := *order
	stored.ID = m.nextID
	m.created = append(m.created, &stored)
	return stored.ID, nil
}

func (m *mockOrderRepo) Update(ctx context.Context, order *domain.Order) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	stored := *order
	m.updated = append(m.updated, &stored)
	return nil
}

func (m *mockOrderRepo) FindByID(ctx context.Context, id int64) (*domain.Order, error) {
	for _, o := range m.created {
		if o.ID == id {
			cp := *o
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockOrderRepo) FindByExchangeOrderID(ctx context.Context, exchangeOrderID int64) (*domain.Order, error) {
	for _, o := range m.created {
		if o.ExchangeOrderID == exchangeOrderID {
			cp := *o
			return &cp, nil
		}
	}
	return nil, nil
}

// Helpers

var servicePair = domain.CurrencyPair{Base: "ETH", Quote: "USDT"}

func serviceDec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func floatPtr(v float64) *float64 { return &v }

func tradeAccounts(t *testing.T, usdt, eth string) []domain.Account {
	t.Helper()
	return []domain.Account{{
		ID:   "spot",
		Name: "trade",
		Balances: map[domain.Currency]domain.Balance{
			"USDT": {Currency: "USDT", Available: serviceDec(t, usdt)},
			"ETH":  {Currency: "ETH", Available: serviceDec(t, eth)},
		},
	}}
}

func filledOrder(t *testing.T, exchangeOrderID int64, side domain.OrderSide, price string) *domain.Order {
	t.Helper()
	now := time.Now()
	return &domain.Order{
		ExchangeOrderID: exchangeOrderID,
		Pair:            servicePair,
		Side:            side,
		Type:            domain.Market,
		Status:          domain.OrderStatusFilled,
		Amount:          serviceDec(t, "0.1"),
		ExecutedAmount:  serviceDec(t, "0.1"),
		Price:           serviceDec(t, price),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func serviceConfig(logger *mockLogger, exchange *mockExchange, orderRepo *mockOrderRepo, tracker *positions.Tracker, rule strategy.Rule) Config {
	return Config{
		Logger:         logger,
		Exchange:       exchange,
		OrderRepo:      orderRepo,
		Tracker:        tracker,
		Rule:           rule,
		StrategyID:     "test-strat",
		Pair:           servicePair,
		BarDuration:    time.Hour,
		MaxBarCount:    100,
		BackfillBars:   0,
		TradeAmount:    decimal.RequireFromString("0.1"),
		PositionRules:  domain.PositionRules{StopGainPercentage: floatPtr(5), StopLossPercentage: floatPtr(2)},
		MinBalanceLeft: decimal.RequireFromString("100"),
		TickerRate:     5 * time.Millisecond,
		AccountRate:    5 * time.Millisecond,
		TickQueueSize:  4,
		OrderPollRate:  5 * time.Millisecond,
	}
}

func newTestService(t *testing.T, exchange *mockExchange, rule strategy.Rule) (*TradingService, *mockLogger, *mockOrderRepo, *mockPositionRepo) {
	t.Helper()
	logger := &mockLogger{}
	orderRepo := &mockOrderRepo{}
	posRepo := &mockPositionRepo{positions: make(map[int64]*domain.Position)}
	tracker, err := positions.New(positions.Config{Logger: logger, Repo: posRepo})
	require.NoError(t, err)
	svc, err := New(serviceConfig(logger, exchange, orderRepo, tracker, rule))
	require.NoError(t, err)
	return svc, logger, orderRepo, posRepo
}

// primeForEntry gives the strategy an account snapshot and a reference price
// so sufficiency checks pass.
func primeForEntry(t *testing.T, svc *TradingService, price string) {
	t.Helper()
	ctx := context.Background()
	svc.strategy.OnAccountsUpdate(ctx, tradeAccounts(t, "10000", "5"))
	svc.strategy.OnTicks(ctx, []domain.Tick{{
		Pair:      servicePair,
		Price:     serviceDec(t, price),
		Timestamp: time.Now(),
	}})
}

func TestNew(t *testing.T) {
	logger := &mockLogger{}
	exchange := &mockExchange{}
	orderRepo := &mockOrderRepo{}
	posRepo := &mockPositionRepo{positions: make(map[int64]*domain.Position)}
	tracker, err := positions.New(positions.Config{Logger: logger, Repo: posRepo})
	require.NoError(t, err)
	rule := &mockRule{}

	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr string
	}{
		{
			name:   "valid configuration",
			mutate: func(cfg *Config) {},
		},
		{
			name:    "missing logger",
			mutate:  func(cfg *Config) { cfg.Logger = nil },
			wantErr: "missing required dependencies",
		},
		{
			name:    "missing exchange",
			mutate:  func(cfg *Config) { cfg.Exchange = nil },
			wantErr: "missing required dependencies",
		},
		{
			name:    "missing tracker",
			mutate:  func(cfg *Config) { cfg.Tracker = nil },
			wantErr: "missing required dependencies",
		},
		{
			name:    "zero trade amount",
			mutate:  func(cfg *Config) { cfg.TradeAmount = decimal.Zero },
			wantErr: "trade amount must be positive",
		},
		{
			name:    "negative balance floor",
			mutate:  func(cfg *Config) { cfg.MinBalanceLeft = decimal.NewFromInt(-1) },
			wantErr: "minimum balance left cannot be negative",
		},
		{
			name:    "zero order poll rate",
			mutate:  func(cfg *Config) { cfg.OrderPollRate = 0 },
			wantErr: "order poll rate must be positive",
		},
		{
			name:    "missing rule",
			mutate:  func(cfg *Config) { cfg.Rule = nil },
			wantErr: "building strategy runtime",
		},
		{
			name:    "zero ticker rate",
			mutate:  func(cfg *Config) { cfg.TickerRate = 0 },
			wantErr: "building ticker flux",
		},
		{
			name:    "zero account rate",
			mutate:  func(cfg *Config) { cfg.AccountRate = 0 },
			wantErr: "building account flux",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := serviceConfig(logger, exchange, orderRepo, tracker, rule)
			tt.mutate(&cfg)
			svc, err := New(cfg)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Nil(t, svc)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, svc)
		})
	}
}

func TestTradingService_OnShouldEnter(t *testing.T) {
	ctx := context.Background()

	t.Run("opens a position on a filled buy", func(t *testing.T) {
		exchange := &mockExchange{
			orderResponses: map[string]*domain.Order{
				"BUY": filledOrder(t, 1001, domain.Buy, "2000.50"),
			},
		}
		svc, _, orderRepo, posRepo := newTestService(t, exchange, &mockRule{})
		primeForEntry(t, svc, "2000.50")

		svc.OnShouldEnter(ctx)

		open := svc.tracker.OpenPositions()
		require.Len(t, open, 1)
		assert.Equal(t, domain.StatusOpened, open[0].Status)
		assert.Equal(t, "test-strat", open[0].StrategyID)
		assert.True(t, open[0].Amount.Value.Equal(serviceDec(t, "0.1")))
		require.NotNil(t, open[0].OpeningOrder)
		assert.Equal(t, int64(1001), open[0].OpeningOrder.ExchangeOrderID)
		assert.Equal(t, int64(1), open[0].OpeningOrder.ID)
		assert.NotEmpty(t, open[0].OpeningOrder.ClientOrderID)

		require.Len(t, orderRepo.created, 1)
		require.Contains(t, posRepo.positions, int64(1))
		assert.Equal(t, domain.StatusOpened, posRepo.positions[1].Status)
	})

	t.Run("ignores the signal when a position is already open", func(t *testing.T) {
		exchange := &mockExchange{
			orderResponses: map[string]*domain.Order{
				"BUY": filledOrder(t, 1001, domain.Buy, "2000.50"),
			},
		}
		svc, logger, orderRepo, _ := newTestService(t, exchange, &mockRule{})
		primeForEntry(t, svc, "2000.50")

		svc.OnShouldEnter(ctx)
		require.Len(t, svc.tracker.OpenPositions(), 1)

		svc.OnShouldEnter(ctx)

		assert.Len(t, svc.tracker.OpenPositions(), 1)
		assert.Len(t, orderRepo.created, 1)
		assert.Contains(t, logger.debugs(), "Entry signal ignored, position already open")
	})

	t.Run("ignores the signal when funds are insufficient", func(t *testing.T) {
		exchange := &mockExchange{
			orderResponses: map[string]*domain.Order{
				"BUY": filledOrder(t, 1001, domain.Buy, "2000.50"),
			},
		}
		svc, logger, orderRepo, _ := newTestService(t, exchange, &mockRule{})
		// Account can cover the cost but not the configured floor.
		svc.strategy.OnAccountsUpdate(ctx, []domain.Account{{
			ID:   "spot",
			Name: "trade",
			Balances: map[domain.Currency]domain.Balance{
				"USDT": {Currency: "USDT", Available: serviceDec(t, "250")},
			},
		}})
		svc.strategy.OnTicks(ctx, []domain.Tick{{
			Pair:      servicePair,
			Price:     serviceDec(t, "2000.50"),
			Timestamp: time.Now(),
		}})

		svc.OnShouldEnter(ctx)

		assert.Empty(t, svc.tracker.OpenPositions())
		assert.Empty(t, orderRepo.created)
		assert.Contains(t, logger.infos(), "Entry signal ignored, insufficient funds")
	})

	t.Run("logs and stays flat when the order is rejected", func(t *testing.T) {
		exchange := &mockExchange{
			orderErrors: map[string]error{"BUY": assert.AnError},
		}
		svc, logger, _, _ := newTestService(t, exchange, &mockRule{})
		primeForEntry(t, svc, "2000.50")

		svc.OnShouldEnter(ctx)

		assert.Empty(t, svc.tracker.OpenPositions())
		assert.Contains(t, logger.errors(), "Failed to enter position")
	})
}

func TestTradingService_OnShouldExit(t *testing.T) {
	ctx := context.Background()

	t.Run("closes the open position", func(t *testing.T) {
		exchange := &mockExchange{
			orderResponses: map[string]*domain.Order{
				"BUY":  filledOrder(t, 1001, domain.Buy, "2000"),
				"SELL": filledOrder(t, 1002, domain.Sell, "2100"),
			},
		}
		svc, _, orderRepo, posRepo := newTestService(t, exchange, &mockRule{})
		primeForEntry(t, svc, "2000")
		svc.OnShouldEnter(ctx)
		require.Len(t, svc.tracker.OpenPositions(), 1)

		svc.OnShouldExit(ctx)

		assert.Empty(t, svc.tracker.OpenPositions())
		require.Len(t, orderRepo.created, 2)

		closed := posRepo.positions[1]
		require.NotNil(t, closed)
		assert.Equal(t, domain.StatusClosed, closed.Status)
		assert.Equal(t, domain.CloseReasonExitSignal, closed.CloseReason)
		require.NotNil(t, closed.ClosingOrder)
		assert.Equal(t, int64(1002), closed.ClosingOrder.ExchangeOrderID)
		assert.False(t, closed.ClosedAt.IsZero())
	})

	t.Run("skips positions that are not fully opened", func(t *testing.T) {
		pendingBuy := filledOrder(t, 1001, domain.Buy, "0")
		pendingBuy.Status = domain.OrderStatusNew
		pendingBuy.ExecutedAmount = decimal.Zero
		pendingBuy.Price = decimal.Zero
		exchange := &mockExchange{
			orderResponses: map[string]*domain.Order{
				"BUY":  pendingBuy,
				"SELL": filledOrder(t, 1002, domain.Sell, "2100"),
			},
		}
		svc, _, orderRepo, _ := newTestService(t, exchange, &mockRule{})
		primeForEntry(t, svc, "2000")
		svc.OnShouldEnter(ctx)
		open := svc.tracker.OpenPositions()
		require.Len(t, open, 1)
		require.Equal(t, domain.StatusOpening, open[0].Status)

		svc.OnShouldExit(ctx)

		// Still tracked and still OPENING; no sell was placed.
		open = svc.tracker.OpenPositions()
		require.Len(t, open, 1)
		assert.Equal(t, domain.StatusOpening, open[0].Status)
		assert.Len(t, orderRepo.created, 1)
	})
}

func TestTradingService_StopRules(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		tickPrice  string
		wantClosed bool
		wantReason domain.CloseReason
	}{
		{
			name:       "stop gain closes the position",
			tickPrice:  "2105", // +5.25% against an entry of 2000
			wantClosed: true,
			wantReason: domain.CloseReasonStopGain,
		},
		{
			name:       "stop loss closes the position",
			tickPrice:  "1955", // -2.25%
			wantClosed: true,
			wantReason: domain.CloseReasonStopLoss,
		},
		{
			name:      "gain inside the band keeps the position",
			tickPrice: "2040", // +2%
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exchange := &mockExchange{
				orderResponses: map[string]*domain.Order{
					"BUY":  filledOrder(t, 1001, domain.Buy, "2000"),
					"SELL": filledOrder(t, 1002, domain.Sell, tt.tickPrice),
				},
			}
			svc, _, _, posRepo := newTestService(t, exchange, &mockRule{})
			primeForEntry(t, svc, "2000")
			svc.OnShouldEnter(ctx)
			require.Len(t, svc.tracker.OpenPositions(), 1)

			svc.handleTicks(ctx, []domain.Tick{{
				Pair:      servicePair,
				Price:     serviceDec(t, tt.tickPrice),
				Timestamp: time.Now(),
			}})

			if !tt.wantClosed {
				assert.Len(t, svc.tracker.OpenPositions(), 1)
				return
			}
			assert.Empty(t, svc.tracker.OpenPositions())
			closed := posRepo.positions[1]
			require.NotNil(t, closed)
			assert.Equal(t, domain.StatusClosed, closed.Status)
			assert.Equal(t, tt.wantReason, closed.CloseReason)
		})
	}
}

func TestTradingService_PollPendingOrders(t *testing.T) {
	pendingBuy := filledOrder(t, 1001, domain.Buy, "0")
	pendingBuy.Status = domain.OrderStatusNew
	pendingBuy.ExecutedAmount = decimal.Zero
	pendingBuy.Price = decimal.Zero
	exchange := &mockExchange{
		orderResponses: map[string]*domain.Order{"BUY": pendingBuy},
		getOrderResp:   filledOrder(t, 1001, domain.Buy, "2001"),
	}
	svc, _, orderRepo, _ := newTestService(t, exchange, &mockRule{})
	primeForEntry(t, svc, "2000")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc.OnShouldEnter(ctx)
	open := svc.tracker.OpenPositions()
	require.Len(t, open, 1)
	require.Equal(t, domain.StatusOpening, open[0].Status)

	done := make(chan struct{})
	go func() {
		defer close(done)
		svc.pollPendingOrders(ctx)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		open = svc.tracker.OpenPositions()
		if len(open) == 1 && open[0].Status == domain.StatusOpened {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for the polled fill to open the position")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	<-done

	require.NotEmpty(t, orderRepo.updated)
	assert.Equal(t, domain.OrderStatusFilled, orderRepo.updated[0].Status)
	assert.Equal(t, int64(1), orderRepo.updated[0].ID)
}

func TestTradingService_Run(t *testing.T) {
	tests := []struct {
		name           string
		setup          func(e *mockExchange, p *mockPositionRepo)
		backfillBars   int
		expectedErrMsg string
		wantSeeded     int
	}{
		{
			name:  "clean run and shutdown",
			setup: func(e *mockExchange, p *mockPositionRepo) {},
		},
		{
			name: "server time sync failure",
			setup: func(e *mockExchange, p *mockPositionRepo) {
				e.serverTimeErr = assert.AnError
			},
			expectedErrMsg: "failed to synchronize server time",
		},
		{
			name: "ping failure",
			setup: func(e *mockExchange, p *mockPositionRepo) {
				e.pingErr = assert.AnError
			},
			expectedErrMsg: "exchange is unreachable",
		},
		{
			name: "account load failure",
			setup: func(e *mockExchange, p *mockPositionRepo) {
				e.accountsErr = assert.AnError
			},
			expectedErrMsg: "failed to load accounts",
		},
		{
			name: "position restore failure",
			setup: func(e *mockExchange, p *mockPositionRepo) {
				p.openErr = assert.AnError
			},
			expectedErrMsg: "failed to restore open positions",
		},
		{
			name: "backfill failure",
			setup: func(e *mockExchange, p *mockPositionRepo) {
				e.barsErr = assert.AnError
			},
			backfillBars:   10,
			expectedErrMsg: "failed to seed historical bars",
		},
		{
			name: "backfill seeds only closed bars",
			setup: func(e *mockExchange, p *mockPositionRepo) {
				now := time.Now()
				e.bars = []*domain.Bar{
					barAt(now.Add(-3*time.Hour), time.Hour, "2000"),
					barAt(now.Add(-2*time.Hour), time.Hour, "2010"),
					barAt(now.Add(-1*time.Hour), time.Hour, "2020"),
					barAt(now, time.Hour, "2030"), // still in progress
				}
			},
			backfillBars: 10,
			wantSeeded:   3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := &mockLogger{}
			exchange := &mockExchange{
				tick:     &domain.Tick{Price: decimal.NewFromInt(2000), Timestamp: time.Now()},
				accounts: tradeAccounts(t, "10000", "5"),
			}
			orderRepo := &mockOrderRepo{}
			posRepo := &mockPositionRepo{positions: make(map[int64]*domain.Position)}
			tt.setup(exchange, posRepo)

			tracker, err := positions.New(positions.Config{Logger: logger, Repo: posRepo})
			require.NoError(t, err)
			cfg := serviceConfig(logger, exchange, orderRepo, tracker, &mockRule{})
			cfg.BackfillBars = tt.backfillBars
			svc, err := New(cfg)
			require.NoError(t, err)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			errCh := make(chan error, 1)
			go func() {
				errCh <- svc.Run(ctx)
			}()

			time.Sleep(100 * time.Millisecond)
			cancel()
			err = <-errCh

			if tt.expectedErrMsg != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectedErrMsg)
				return
			}
			require.NoError(t, err)
			assert.Contains(t, logger.infos(), "Trading service started")
			assert.Contains(t, logger.infos(), "Trading service stopped")
			if tt.wantSeeded > 0 {
				assert.Equal(t, tt.wantSeeded, svc.strategy.Series().Len())
			}
		})
	}
}

func TestTradingService_FluxErrorIsFatal(t *testing.T) {
	logger := &mockLogger{}
	exchange := &mockExchange{
		tick:     &domain.Tick{Price: decimal.NewFromInt(2000), Timestamp: time.Now()},
		accounts: tradeAccounts(t, "10000", "5"),
	}
	orderRepo := &mockOrderRepo{}
	posRepo := &mockPositionRepo{positions: make(map[int64]*domain.Position)}
	tracker, err := positions.New(positions.Config{Logger: logger, Repo: posRepo})
	require.NoError(t, err)
	svc, err := New(serviceConfig(logger, exchange, orderRepo, tracker, &mockRule{}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- svc.Run(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	svc.handleFluxError(assert.AnError)

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, assert.AnError)
	case <-time.After(2 * time.Second):
		t.Fatal("service did not shut down on a fatal flux error")
	}
}

func barAt(start time.Time, d time.Duration, close string) *domain.Bar {
	price := decimal.RequireFromString(close)
	return &domain.Bar{
		StartTime: start,
		EndTime:   start.Add(d),
		Open:      price,
		High:      price,
		Low:       price,
		Close:     price,
		LastPrice: price,
	}
}
