package ports

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"cryptoSpotBot/internal/domain"
)

// ExchangeClient defines the interface for interacting with a spot exchange.
// This abstraction allows decoupling the core bot logic from specific exchange implementations.
type ExchangeClient interface {
	// SetServerTime synchronizes the client's time with the server's time.
	SetServerTime(ctx context.Context) error

	// Ping checks the connectivity to the exchange API.
	Ping(ctx context.Context) error

	// GetServerTime retrieves the current server time from the exchange.
	GetServerTime(ctx context.Context) (time.Time, error)

	// GetTicker retrieves the latest price observation for a currency pair.
	GetTicker(ctx context.Context, pair domain.CurrencyPair) (*domain.Tick, error)

	// GetAccounts retrieves the exchange accounts and their balances.
	GetAccounts(ctx context.Context) ([]domain.Account, error)

	// GetBars retrieves historical candlestick data for the pair.
	// The duration must map onto an interval the exchange supports.
	GetBars(ctx context.Context, pair domain.CurrencyPair, duration time.Duration, limit int) ([]*domain.Bar, error)

	// PlaceMarketOrder places a market order for the given base currency amount.
	// Returns the resulting order as reported by the exchange.
	PlaceMarketOrder(ctx context.Context, pair domain.CurrencyPair, side domain.OrderSide, amount decimal.Decimal, clientOrderID string) (*domain.Order, error)

	// GetOrder retrieves the current state of an order by its exchange ID.
	GetOrder(ctx context.Context, pair domain.CurrencyPair, exchangeOrderID int64) (*domain.Order, error)

	// CancelOrder cancels an existing open order by its exchange ID.
	// Returns the order in its state after cancellation.
	CancelOrder(ctx context.Context, pair domain.CurrencyPair, exchangeOrderID int64) (*domain.Order, error)
}
