package ports

import (
	"context"

	"cryptoSpotBot/internal/domain"
)

// PositionRepository defines the interface for storing and retrieving trading positions.
type PositionRepository interface {
	// Create saves a new position and returns its assigned ID.
	Create(ctx context.Context, pos *domain.Position) (int64, error)
	// Update modifies an existing position.
	Update(ctx context.Context, pos *domain.Position) error
	// FindOpen retrieves all positions that have not reached CLOSED yet.
	FindOpen(ctx context.Context) ([]*domain.Position, error)
	// FindByID retrieves a position by its unique ID.
	// Returns nil, nil if not found.
	FindByID(ctx context.Context, id int64) (*domain.Position, error)
	// FindAll retrieves all positions, newest first.
	FindAll(ctx context.Context) ([]*domain.Position, error)
}

// OrderRepository defines the interface for storing and retrieving exchange orders.
type OrderRepository interface {
	// Create saves a new order and returns its assigned ID.
	Create(ctx context.Context, order *domain.Order) (int64, error)
	// Update modifies an existing order.
	Update(ctx context.Context, order *domain.Order) error
	// FindByID retrieves an order by its local ID.
	// Returns nil, nil if not found.
	FindByID(ctx context.Context, id int64) (*domain.Order, error)
	// FindByExchangeOrderID retrieves an order by the ID the exchange assigned.
	// Returns nil, nil if not found.
	FindByExchangeOrderID(ctx context.Context, exchangeOrderID int64) (*domain.Order, error)
}
