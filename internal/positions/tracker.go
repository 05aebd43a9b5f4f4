package positions

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cryptoSpotBot/internal/domain"
	"cryptoSpotBot/internal/ports"
)

// Config holds the dependencies of the position tracker.
type Config struct {
	Logger ports.Logger
	Repo   ports.PositionRepository
}

// Tracker is the in-memory registry of every position that has not reached
// CLOSED. It feeds price ticks into the positions' price trackers at tick
// granularity, applies order updates to their lifecycle and answers which
// positions the enclosing service should close. It never places or cancels
// orders itself.
//
// All mutations go through the repository; a failed persist of a pure price
// update is logged and tolerated, a failed persist of a lifecycle transition
// is returned to the caller.
type Tracker struct {
	logger ports.Logger
	repo   ports.PositionRepository

	mu        sync.Mutex
	positions map[int64]*domain.Position
}

// New creates an empty tracker.
func New(cfg Config) (*Tracker, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for position tracker")
	}
	if cfg.Repo == nil {
		return nil, fmt.Errorf("position repository is required for position tracker")
	}
	return &Tracker{
		logger:    cfg.Logger,
		repo:      cfg.Repo,
		positions: make(map[int64]*domain.Position),
	}, nil
}

// Load restores all non-closed positions from the repository, typically
// after a restart.
func (t *Tracker) Load(ctx context.Context) error {
	op := "Load"
	open, err := t.repo.FindOpen(ctx)
	if err != nil {
		return fmt.Errorf("loading open positions: %w", err)
	}
	t.mu.Lock()
	for _, p := range open {
		t.positions[p.ID] = p
	}
	count := len(t.positions)
	t.mu.Unlock()
	t.logger.Info(ctx, "Restored open positions", map[string]interface{}{
		"op":    op,
		"count": count,
	})
	return nil
}

// Open persists a freshly created position (status OPENING) and starts
// tracking it. The assigned ID is written back to the position.
func (t *Tracker) Open(ctx context.Context, pos *domain.Position) error {
	op := "Open"
	if pos == nil {
		return fmt.Errorf("position is required")
	}
	if pos.Status != domain.StatusOpening {
		return fmt.Errorf("new positions must be OPENING, got %s", pos.Status)
	}
	if pos.OpeningOrder == nil {
		return fmt.Errorf("new positions must carry their opening order")
	}
	id, err := t.repo.Create(ctx, pos)
	if err != nil {
		return fmt.Errorf("persisting new position: %w", err)
	}
	pos.ID = id
	t.mu.Lock()
	t.positions[id] = pos
	t.mu.Unlock()
	t.logger.Info(ctx, "Tracking new position", map[string]interface{}{
		"op":         op,
		"positionID": id,
		"strategyID": pos.StrategyID,
		"pair":       pos.Pair.String(),
		"amount":     pos.Amount.String(),
	})
	return nil
}

// UpdateWithTicks folds a tick batch into every tracked position of the
// matching pair. Persistence failures are logged and do not interrupt the
// tick path.
func (t *Tracker) UpdateWithTicks(ctx context.Context, ticks []domain.Tick) {
	op := "UpdateWithTicks"
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, tick := range ticks {
		for _, p := range t.positions {
			if !p.UpdatePrice(tick) {
				continue
			}
			if err := t.repo.Update(ctx, p); err != nil {
				t.logger.Error(ctx, err, "Failed to persist position price update", map[string]interface{}{
					"op":         op,
					"positionID": p.ID,
				})
			}
		}
	}
}

// OnOrderUpdate applies a fresh order state to the position owning it.
// A filled opening order moves the position to OPENED; a filled closing
// order moves it to CLOSED and stops tracking it. An opening or closing
// order that terminates without filling is logged and the position is
// dropped from tracking for an operator to inspect.
func (t *Tracker) OnOrderUpdate(ctx context.Context, order domain.Order) error {
	op := "OnOrderUpdate"
	if !order.Status.IsTerminal() {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range t.positions {
		switch {
		case p.OpeningOrder != nil && p.OpeningOrder.ExchangeOrderID == order.ExchangeOrderID:
			return t.applyOpeningOrder(ctx, op, p, order)
		case p.ClosingOrder != nil && p.ClosingOrder.ExchangeOrderID == order.ExchangeOrderID:
			return t.applyClosingOrder(ctx, op, p, order)
		}
	}
	return nil
}

func (t *Tracker) applyOpeningOrder(ctx context.Context, op string, p *domain.Position, order domain.Order) error {
	fresh := order
	p.OpeningOrder = &fresh
	if !order.IsFilled() {
		t.logger.Error(ctx, fmt.Errorf("opening order ended %s", order.Status), "Position could not be opened", map[string]interface{}{
			"op":         op,
			"positionID": p.ID,
			"orderID":    order.ExchangeOrderID,
		})
		delete(t.positions, p.ID)
		return t.repo.Update(ctx, p)
	}
	if p.Status != domain.StatusOpening {
		return nil
	}
	if err := p.MarkOpened(); err != nil {
		return err
	}
	t.logger.Info(ctx, "Position opened", map[string]interface{}{
		"op":         op,
		"positionID": p.ID,
		"entryPrice": order.Price.String(),
	})
	return t.repo.Update(ctx, p)
}

func (t *Tracker) applyClosingOrder(ctx context.Context, op string, p *domain.Position, order domain.Order) error {
	fresh := order
	p.ClosingOrder = &fresh
	if !order.IsFilled() {
		t.logger.Error(ctx, fmt.Errorf("closing order ended %s", order.Status), "Position could not be closed, manual intervention needed", map[string]interface{}{
			"op":         op,
			"positionID": p.ID,
			"orderID":    order.ExchangeOrderID,
		})
		delete(t.positions, p.ID)
		return t.repo.Update(ctx, p)
	}
	if p.Status != domain.StatusClosing {
		return nil
	}
	closedAt := order.UpdatedAt
	if closedAt.IsZero() {
		closedAt = time.Now()
	}
	if !order.Price.IsZero() {
		exit := domain.NewCurrencyAmount(order.Price, p.Pair.Quote)
		p.LatestPrice = &exit
	}
	if err := p.MarkClosed(closedAt); err != nil {
		return err
	}
	delete(t.positions, p.ID)
	gain, _ := p.GainPercentage()
	t.logger.Info(ctx, "Position closed", map[string]interface{}{
		"op":          op,
		"positionID":  p.ID,
		"exitPrice":   order.Price.String(),
		"gainPercent": gain,
		"reason":      string(p.CloseReason),
	})
	return t.repo.Update(ctx, p)
}

// MarkClosing attaches a freshly placed closing order to the position and
// moves it to CLOSING.
func (t *Tracker) MarkClosing(ctx context.Context, positionID int64, closingOrder *domain.Order, reason domain.CloseReason) error {
	op := "MarkClosing"
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.positions[positionID]
	if !ok {
		return fmt.Errorf("position %d is not tracked: %w", positionID, ports.ErrNotFound)
	}
	if err := p.MarkClosing(closingOrder, reason); err != nil {
		return err
	}
	if err := t.repo.Update(ctx, p); err != nil {
		return fmt.Errorf("persisting closing transition: %w", err)
	}
	t.logger.Info(ctx, "Position closing", map[string]interface{}{
		"op":         op,
		"positionID": positionID,
		"reason":     string(reason),
	})
	return nil
}

// OpenPositions returns a snapshot of every tracked position.
func (t *Tracker) OpenPositions() []domain.Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.Position, 0, len(t.positions))
	for _, p := range t.positions {
		out = append(out, *p)
	}
	return out
}

// PositionsToClose returns a snapshot of the tracked positions whose stop
// rules currently fire. The tracker only reports; closing is the caller's
// job.
func (t *Tracker) PositionsToClose() []domain.Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []domain.Position
	for _, p := range t.positions {
		if p.ShouldBeClosed() {
			out = append(out, *p)
		}
	}
	return out
}

// HasOpen reports whether any tracked position exists for the pair and
// strategy.
func (t *Tracker) HasOpen(pair domain.CurrencyPair, strategyID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range t.positions {
		if p.Pair == pair && p.StrategyID == strategyID {
			return true
		}
	}
	return false
}

// PendingOrders returns a snapshot of the non-terminal orders attached to
// tracked positions, for the caller to poll.
func (t *Tracker) PendingOrders() []domain.Order {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []domain.Order
	for _, p := range t.positions {
		if p.OpeningOrder != nil && !p.OpeningOrder.Status.IsTerminal() {
			out = append(out, *p.OpeningOrder)
		}
		if p.ClosingOrder != nil && !p.ClosingOrder.Status.IsTerminal() {
			out = append(out, *p.ClosingOrder)
		}
	}
	return out
}
