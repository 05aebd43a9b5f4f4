package flux

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"cryptoSpotBot/internal/domain"
	"cryptoSpotBot/internal/ports"
)

// TickerConfig holds the dependencies and tuning of a TickerFlux.
type TickerConfig struct {
	Logger   ports.Logger
	Exchange ports.ExchangeClient
	Pairs    []domain.CurrencyPair
	// Rate is the polling interval.
	Rate time.Duration
	// QueueSize bounds the number of tick batches buffered between the
	// poller and the consumer. Defaults to 1.
	QueueSize int
}

// TickerFlux polls the exchange for the latest price of each configured
// pair and delivers fresh ticks, in order, to a single handler. A tick is
// fresh when its exchange timestamp is newer than the last one seen for the
// pair, so an unchanged market produces no deliveries.
//
// The poller never waits for the handler. Batches queue up to QueueSize;
// when the queue overflows the flux reports ErrQueueFull through the error
// handler and stops polling, leaving the decision to the caller.
type TickerFlux struct {
	logger   ports.Logger
	exchange ports.ExchangeClient
	pairs    []domain.CurrencyPair
	rate     time.Duration

	queue        *tickQueue
	lastSeen     map[domain.CurrencyPair]time.Time
	started      atomic.Bool
	cancel       context.CancelFunc
	pollDone     chan struct{}
	dispatchDone chan struct{}
	stopOnce     sync.Once
}

// NewTicker creates a stopped TickerFlux.
func NewTicker(cfg TickerConfig) (*TickerFlux, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for ticker flux")
	}
	if cfg.Exchange == nil {
		return nil, fmt.Errorf("exchange client is required for ticker flux")
	}
	if len(cfg.Pairs) == 0 {
		return nil, fmt.Errorf("at least one currency pair is required for ticker flux")
	}
	if cfg.Rate <= 0 {
		return nil, fmt.Errorf("polling rate must be positive, got %s", cfg.Rate)
	}
	return &TickerFlux{
		logger:       cfg.Logger,
		exchange:     cfg.Exchange,
		pairs:        cfg.Pairs,
		rate:         cfg.Rate,
		queue:        newTickQueue(cfg.QueueSize),
		lastSeen:     make(map[domain.CurrencyPair]time.Time),
		pollDone:     make(chan struct{}),
		dispatchDone: make(chan struct{}),
	}, nil
}

// Start launches the poll and dispatch goroutines. The handler runs on the
// dispatch goroutine, one batch at a time; errHandler receives fatal flux
// errors such as a queue overflow.
func (f *TickerFlux) Start(ctx context.Context, handler func(ctx context.Context, ticks []domain.Tick), errHandler func(error)) error {
	if handler == nil {
		return fmt.Errorf("tick handler is required")
	}
	if errHandler == nil {
		return fmt.Errorf("error handler is required")
	}
	if !f.started.CompareAndSwap(false, true) {
		return fmt.Errorf("ticker flux already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel

	go func() {
		defer close(f.pollDone)
		f.poll(runCtx, errHandler)
	}()
	go func() {
		defer close(f.dispatchDone)
		f.queue.run(runCtx, func(batch []domain.Tick) {
			handler(runCtx, batch)
		})
	}()
	f.logger.Info(ctx, "Ticker flux started", map[string]interface{}{
		"pairs": len(f.pairs),
		"rate":  f.rate.String(),
	})
	return nil
}

// Stop halts polling, waits for the in-flight handler call to return and
// releases both goroutines. Safe to call more than once.
func (f *TickerFlux) Stop() {
	if !f.started.Load() {
		return
	}
	f.stopOnce.Do(func() {
		f.cancel()
		<-f.pollDone
		f.queue.close()
		<-f.dispatchDone
	})
}

func (f *TickerFlux) poll(ctx context.Context, errHandler func(error)) {
	op := "poll"
	ticker := time.NewTicker(f.rate)
	defer ticker.Stop()
	for {
		batch := f.collect(ctx, op)
		if len(batch) > 0 {
			if err := f.queue.tryPublish(batch); err != nil {
				f.logger.Error(ctx, err, "Tick consumer cannot keep up, stopping ticker flux", map[string]interface{}{
					"op":      op,
					"dropped": len(batch),
				})
				errHandler(err)
				return
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// collect asks the exchange for the current ticker of every pair and keeps
// the ones newer than the last delivery.
func (f *TickerFlux) collect(ctx context.Context, op string) []domain.Tick {
	var batch []domain.Tick
	for _, pair := range f.pairs {
		tick, err := f.exchange.GetTicker(ctx, pair)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			f.logger.Warn(ctx, "Failed to fetch ticker", map[string]interface{}{
				"op":    op,
				"pair":  pair.String(),
				"error": err.Error(),
			})
			continue
		}
		if tick == nil {
			continue
		}
		if last, ok := f.lastSeen[pair]; ok && !tick.Timestamp.After(last) {
			continue
		}
		f.lastSeen[pair] = tick.Timestamp
		batch = append(batch, *tick)
	}
	return batch
}
