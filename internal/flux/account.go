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

// AccountConfig holds the dependencies and tuning of an AccountFlux.
type AccountConfig struct {
	Logger   ports.Logger
	Exchange ports.ExchangeClient
	// Rate is the polling interval. Account data moves slowly, so this is
	// typically much longer than the ticker rate.
	Rate time.Duration
}

// AccountFlux polls the exchange for account balances and delivers them to
// a handler whenever they differ from the previous poll. The first poll
// always delivers, so consumers see balances before the first trade.
type AccountFlux struct {
	logger   ports.Logger
	exchange ports.ExchangeClient
	rate     time.Duration

	lastSeen []domain.Account
	started  atomic.Bool
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// NewAccount creates a stopped AccountFlux.
func NewAccount(cfg AccountConfig) (*AccountFlux, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for account flux")
	}
	if cfg.Exchange == nil {
		return nil, fmt.Errorf("exchange client is required for account flux")
	}
	if cfg.Rate <= 0 {
		return nil, fmt.Errorf("polling rate must be positive, got %s", cfg.Rate)
	}
	return &AccountFlux{
		logger:   cfg.Logger,
		exchange: cfg.Exchange,
		rate:     cfg.Rate,
		done:     make(chan struct{}),
	}, nil
}

// Start launches the polling goroutine. The handler runs on that goroutine.
func (f *AccountFlux) Start(ctx context.Context, handler func(ctx context.Context, accounts []domain.Account)) error {
	if handler == nil {
		return fmt.Errorf("account handler is required")
	}
	if !f.started.CompareAndSwap(false, true) {
		return fmt.Errorf("account flux already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel

	go func() {
		defer close(f.done)
		f.poll(runCtx, handler)
	}()
	f.logger.Info(ctx, "Account flux started", map[string]interface{}{
		"rate": f.rate.String(),
	})
	return nil
}

// Stop halts polling and waits for the goroutine to finish. Safe to call
// more than once.
func (f *AccountFlux) Stop() {
	if !f.started.Load() {
		return
	}
	f.stopOnce.Do(func() {
		f.cancel()
		<-f.done
	})
}

func (f *AccountFlux) poll(ctx context.Context, handler func(ctx context.Context, accounts []domain.Account)) {
	op := "poll"
	ticker := time.NewTicker(f.rate)
	defer ticker.Stop()
	for {
		accounts, err := f.exchange.GetAccounts(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			f.logger.Warn(ctx, "Failed to fetch accounts", map[string]interface{}{
				"op":    op,
				"error": err.Error(),
			})
		case !accountsEqual(f.lastSeen, accounts):
			f.lastSeen = accounts
			handler(ctx, accounts)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// accountsEqual compares two account snapshots by identity and balances.
// Decimal values compare by numeric value, not representation.
func accountsEqual(a, b []domain.Account) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].Name != b[i].Name {
			return false
		}
		if len(a[i].Balances) != len(b[i].Balances) {
			return false
		}
		for currency, bal := range a[i].Balances {
			other, ok := b[i].Balances[currency]
			if !ok {
				return false
			}
			if !bal.Available.Equal(other.Available) || !bal.Locked.Equal(other.Locked) {
				return false
			}
		}
	}
	return true
}
