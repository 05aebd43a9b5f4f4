package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/shopspring/decimal"

	"cryptoSpotBot/internal/domain"
	"cryptoSpotBot/internal/ports"
)

const (
	// Base URLs
	baseURLProduction = "https://api.binance.com"
	baseURLTestnet    = "https://testnet.binance.vision"

	// Identity of the single spot account Binance exposes.
	accountID   = "spot"
	accountName = "trade"
)

// supportedIntervals maps bar durations onto the kline intervals the spot
// API accepts.
var supportedIntervals = map[time.Duration]string{
	time.Minute:        "1m",
	3 * time.Minute:    "3m",
	5 * time.Minute:    "5m",
	15 * time.Minute:   "15m",
	30 * time.Minute:   "30m",
	time.Hour:          "1h",
	2 * time.Hour:      "2h",
	4 * time.Hour:      "4h",
	6 * time.Hour:      "6h",
	8 * time.Hour:      "8h",
	12 * time.Hour:     "12h",
	24 * time.Hour:     "1d",
	3 * 24 * time.Hour: "3d",
	7 * 24 * time.Hour: "1w",
}

// Client implements the ports.ExchangeClient interface for Binance spot
// using the go-binance library.
type Client struct {
	spotClient *binance.Client
	logger     ports.Logger
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey     string
	SecretKey  string
	UseTestnet bool
	Logger     ports.Logger
}

// New creates a new Binance spot client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		// Public endpoints still work; private calls will fail with an
		// authentication error.
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty. Client will only work for public endpoints.")
	}

	client := binance.NewClient(cfg.APIKey, cfg.SecretKey)

	// Set BaseURL directly instead of using the global binance.UseTestnet
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
		cfg.Logger.Info(context.Background(), "Binance client configured for Testnet", map[string]interface{}{"baseURL": client.BaseURL})
	} else {
		client.BaseURL = baseURLProduction
		cfg.Logger.Info(context.Background(), "Binance client configured for Production", map[string]interface{}{"baseURL": client.BaseURL})
	}

	return &Client{
		spotClient: client,
		logger:     cfg.Logger,
	}, nil
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		// Map specific Binance error codes to custom errors
		var mappedErr error
		switch apiErr.Code {
		case -1001: // Internal error; unable to process your request
			mappedErr = ports.ErrExchangeUnavailable
		case -1003: // Too many requests
			mappedErr = ports.ErrRateLimited
		case -1021: // Timestamp for this request is outside of the recvWindow
			mappedErr = ports.ErrTimeout
		case -1022: // Signature for this request is not valid
			mappedErr = ports.ErrAuthenticationFailed
		case -1013, -1100, -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1115, -1116, -1117, -1120, -1121, -1125, -1130: // Parameter/Request format errors
			mappedErr = ports.ErrInvalidRequest
		case -2010: // New order rejected; message distinguishes why
			if strings.Contains(strings.ToLower(apiErr.Message), "insufficient") {
				mappedErr = ports.ErrInsufficientFunds
			} else {
				mappedErr = ports.ErrOrderPlacementFailed
			}
		case -2011: // Cancel rejected (usually already filled or canceled)
			mappedErr = ports.ErrInvalidRequest
		case -2013: // Order does not exist
			mappedErr = ports.ErrOrderNotFound
		case -2014, -2015: // API-key format invalid / invalid key, IP or permissions
			mappedErr = ports.ErrAuthenticationFailed
		default:
			mappedErr = ports.ErrUnknown
		}
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return finalErr
	}

	// Handle non-API errors (network, context cancellation, etc.)
	var finalErr error
	if errors.Is(err, context.DeadlineExceeded) {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	} else if errors.Is(err, context.Canceled) {
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	} else if strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset by peer") {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	} else {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// SetServerTime synchronizes the client's time with the server's time.
func (c *Client) SetServerTime(ctx context.Context) error {
	op := "SetServerTime"
	_, err := c.spotClient.NewSetServerTimeService().Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Debug(ctx, op+" successful")
	return nil
}

// Ping checks the connectivity to the exchange API.
func (c *Client) Ping(ctx context.Context) error {
	op := "Ping"
	if err := c.spotClient.NewPingService().Do(ctx); err != nil {
		return c.handleError(ctx, fmt.Errorf("ping failed: %w", err), op)
	}
	c.logger.Debug(ctx, op+" successful")
	return nil
}

// GetServerTime retrieves the current server time from the exchange.
func (c *Client) GetServerTime(ctx context.Context) (time.Time, error) {
	op := "GetServerTime"
	serverTimeMs, err := c.spotClient.NewServerTimeService().Do(ctx)
	if err != nil {
		return time.Time{}, c.handleError(ctx, err, op)
	}
	return time.UnixMilli(serverTimeMs), nil
}

// GetTicker retrieves the latest price observation for a currency pair.
// The timestamp is the exchange's event time, never local time.
func (c *Client) GetTicker(ctx context.Context, pair domain.CurrencyPair) (*domain.Tick, error) {
	op := "GetTicker"
	stats, err := c.spotClient.NewListPriceChangeStatsService().Symbol(pair.Symbol()).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	if len(stats) == 0 {
		err := fmt.Errorf("no ticker data returned for symbol %s", pair.Symbol())
		return nil, c.handleError(ctx, err, op)
	}

	price, err := decimal.NewFromString(stats[0].LastPrice)
	if err != nil {
		parseErr := fmt.Errorf("could not parse price '%s': %w", stats[0].LastPrice, err)
		return nil, c.handleError(ctx, parseErr, op)
	}
	return &domain.Tick{
		Pair:      pair,
		Price:     price,
		Timestamp: time.UnixMilli(stats[0].CloseTime),
	}, nil
}

// GetAccounts retrieves the spot account and its non-empty balances.
func (c *Client) GetAccounts(ctx context.Context) ([]domain.Account, error) {
	op := "GetAccounts"
	acct, err := c.spotClient.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	account := domain.Account{
		ID:       accountID,
		Name:     accountName,
		Balances: make(map[domain.Currency]domain.Balance, len(acct.Balances)),
	}
	for _, bal := range acct.Balances {
		free, err := decimal.NewFromString(bal.Free)
		if err != nil {
			parseErr := fmt.Errorf("could not parse free balance '%s' for asset %s: %w", bal.Free, bal.Asset, err)
			return nil, c.handleError(ctx, parseErr, op)
		}
		locked, err := decimal.NewFromString(bal.Locked)
		if err != nil {
			parseErr := fmt.Errorf("could not parse locked balance '%s' for asset %s: %w", bal.Locked, bal.Asset, err)
			return nil, c.handleError(ctx, parseErr, op)
		}
		if free.IsZero() && locked.IsZero() {
			continue
		}
		currency := domain.Currency(bal.Asset)
		account.Balances[currency] = domain.Balance{
			Currency:  currency,
			Available: free,
			Locked:    locked,
		}
	}
	return []domain.Account{account}, nil
}

// GetBars retrieves historical candlestick data for the pair.
func (c *Client) GetBars(ctx context.Context, pair domain.CurrencyPair, duration time.Duration, limit int) ([]*domain.Bar, error) {
	op := "GetBars"
	interval, ok := supportedIntervals[duration]
	if !ok {
		err := fmt.Errorf("bar duration %s has no matching kline interval: %w", duration, ports.ErrInvalidRequest)
		c.logger.Error(ctx, err, op+" rejected")
		return nil, err
	}

	klines, err := c.spotClient.NewKlinesService().
		Symbol(pair.Symbol()).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	bars := make([]*domain.Bar, 0, len(klines))
	for _, k := range klines {
		bar, err := translateKline(k, duration)
		if err != nil {
			return nil, c.handleError(ctx, fmt.Errorf("failed to translate historical kline: %w", err), op)
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// PlaceMarketOrder places a market order for the given base currency amount.
func (c *Client) PlaceMarketOrder(ctx context.Context, pair domain.CurrencyPair, side domain.OrderSide, amount decimal.Decimal, clientOrderID string) (*domain.Order, error) {
	op := "PlaceMarketOrder"
	resp, err := c.spotClient.NewCreateOrderService().
		Symbol(pair.Symbol()).
		Side(binance.SideType(side)).
		Type(binance.OrderTypeMarket).
		Quantity(amount.String()).
		NewClientOrderID(clientOrderID).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	order, err := translateCreateOrderResponse(resp, pair)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"pair":            pair.String(),
		"side":            string(side),
		"amount":          amount.String(),
		"exchangeOrderID": order.ExchangeOrderID,
		"status":          string(order.Status),
		"avgPrice":        order.Price.String(),
	})
	return order, nil
}

// GetOrder retrieves the current state of an order by its exchange ID.
func (c *Client) GetOrder(ctx context.Context, pair domain.CurrencyPair, exchangeOrderID int64) (*domain.Order, error) {
	op := "GetOrder"
	resp, err := c.spotClient.NewGetOrderService().
		Symbol(pair.Symbol()).
		OrderID(exchangeOrderID).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	order, err := translateOrder(resp, pair)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	return order, nil
}

// CancelOrder cancels an existing open order by its exchange ID.
func (c *Client) CancelOrder(ctx context.Context, pair domain.CurrencyPair, exchangeOrderID int64) (*domain.Order, error) {
	op := "CancelOrder"
	resp, err := c.spotClient.NewCancelOrderService().
		Symbol(pair.Symbol()).
		OrderID(exchangeOrderID).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	order, err := translateCancelOrderResponse(resp, pair)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"pair":            pair.String(),
		"exchangeOrderID": exchangeOrderID,
		"status":          string(order.Status),
	})
	return order, nil
}

// --- Translation Helpers ---

// averagePrice derives the average fill price from the cumulative quote
// amount, since the spot API does not report it directly.
func averagePrice(cumulativeQuote, executedQty string) (decimal.Decimal, error) {
	quote, err := decimal.NewFromString(cumulativeQuote)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parsing cumulative quote quantity '%s': %w", cumulativeQuote, err)
	}
	executed, err := decimal.NewFromString(executedQty)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parsing executed quantity '%s': %w", executedQty, err)
	}
	if executed.IsZero() {
		return decimal.Zero, nil
	}
	return quote.Div(executed), nil
}

func translateCreateOrderResponse(resp *binance.CreateOrderResponse, pair domain.CurrencyPair) (*domain.Order, error) {
	if resp == nil {
		return nil, errors.New("received nil order response")
	}
	amount, err := decimal.NewFromString(resp.OrigQuantity)
	if err != nil {
		return nil, fmt.Errorf("parsing original quantity '%s': %w", resp.OrigQuantity, err)
	}
	executed, err := decimal.NewFromString(resp.ExecutedQuantity)
	if err != nil {
		return nil, fmt.Errorf("parsing executed quantity '%s': %w", resp.ExecutedQuantity, err)
	}
	avg, err := averagePrice(resp.CummulativeQuoteQuantity, resp.ExecutedQuantity)
	if err != nil {
		return nil, err
	}
	transactTime := time.UnixMilli(resp.TransactTime)
	return &domain.Order{
		ExchangeOrderID: resp.OrderID,
		ClientOrderID:   resp.ClientOrderID,
		Pair:            pair,
		Side:            domain.OrderSide(resp.Side),
		Type:            domain.OrderType(resp.Type),
		Status:          domain.OrderStatus(resp.Status),
		Amount:          amount,
		ExecutedAmount:  executed,
		Price:           avg,
		CreatedAt:       transactTime,
		UpdatedAt:       transactTime,
	}, nil
}

func translateOrder(o *binance.Order, pair domain.CurrencyPair) (*domain.Order, error) {
	if o == nil {
		return nil, errors.New("received nil order")
	}
	amount, err := decimal.NewFromString(o.OrigQuantity)
	if err != nil {
		return nil, fmt.Errorf("parsing original quantity '%s': %w", o.OrigQuantity, err)
	}
	executed, err := decimal.NewFromString(o.ExecutedQuantity)
	if err != nil {
		return nil, fmt.Errorf("parsing executed quantity '%s': %w", o.ExecutedQuantity, err)
	}
	avg, err := averagePrice(o.CummulativeQuoteQuantity, o.ExecutedQuantity)
	if err != nil {
		return nil, err
	}
	return &domain.Order{
		ExchangeOrderID: o.OrderID,
		ClientOrderID:   o.ClientOrderID,
		Pair:            pair,
		Side:            domain.OrderSide(o.Side),
		Type:            domain.OrderType(o.Type),
		Status:          domain.OrderStatus(o.Status),
		Amount:          amount,
		ExecutedAmount:  executed,
		Price:           avg,
		CreatedAt:       time.UnixMilli(o.Time),
		UpdatedAt:       time.UnixMilli(o.UpdateTime),
	}, nil
}

func translateCancelOrderResponse(resp *binance.CancelOrderResponse, pair domain.CurrencyPair) (*domain.Order, error) {
	if resp == nil {
		return nil, errors.New("received nil cancel response")
	}
	amount, err := decimal.NewFromString(resp.OrigQuantity)
	if err != nil {
		return nil, fmt.Errorf("parsing original quantity '%s': %w", resp.OrigQuantity, err)
	}
	executed, err := decimal.NewFromString(resp.ExecutedQuantity)
	if err != nil {
		return nil, fmt.Errorf("parsing executed quantity '%s': %w", resp.ExecutedQuantity, err)
	}
	avg, err := averagePrice(resp.CummulativeQuoteQuantity, resp.ExecutedQuantity)
	if err != nil {
		return nil, err
	}
	now := time.UnixMilli(resp.TransactTime)
	return &domain.Order{
		ExchangeOrderID: resp.OrderID,
		ClientOrderID:   resp.ClientOrderID,
		Pair:            pair,
		Side:            domain.OrderSide(resp.Side),
		Type:            domain.OrderType(resp.Type),
		Status:          domain.OrderStatus(resp.Status),
		Amount:          amount,
		ExecutedAmount:  executed,
		Price:           avg,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

func translateKline(k *binance.Kline, duration time.Duration) (*domain.Bar, error) {
	if k == nil {
		return nil, errors.New("received nil historical kline")
	}
	open, err := decimal.NewFromString(k.Open)
	if err != nil {
		return nil, fmt.Errorf("parsing open price '%s': %w", k.Open, err)
	}
	high, err := decimal.NewFromString(k.High)
	if err != nil {
		return nil, fmt.Errorf("parsing high price '%s': %w", k.High, err)
	}
	low, err := decimal.NewFromString(k.Low)
	if err != nil {
		return nil, fmt.Errorf("parsing low price '%s': %w", k.Low, err)
	}
	cls, err := decimal.NewFromString(k.Close)
	if err != nil {
		return nil, fmt.Errorf("parsing close price '%s': %w", k.Close, err)
	}

	startTime := time.UnixMilli(k.OpenTime)
	return &domain.Bar{
		StartTime: startTime,
		EndTime:   startTime.Add(duration),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     cls,
		LastPrice: cls,
	}, nil
}
