package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"cryptoSpotBot/internal/domain"
	"cryptoSpotBot/internal/ports"
)

// Store owns the SQLite database shared by the position and order
// repositories.
type Store struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite store.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewStore opens the database, verifies the connection and initializes the
// schema.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite store")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/spot_bot.db" // Default path
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite store initialization failed")
		return nil, err
	}

	// WAL mode for better concurrency
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite store initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite store initialization failed")
		return nil, err
	}

	// SQLite handles concurrency internally; the Go driver benefits from
	// limiting connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	store := &Store{db: db, logger: cfg.Logger}

	if err := store.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite store initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "SQLite database ready", map[string]interface{}{"path": dbPath})

	return store, nil
}

// initializeSchema creates tables if they don't exist.
// NOTE: This is a basic approach. A proper migration tool is recommended for production.
func (s *Store) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS orders (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		exchange_order_id INTEGER NOT NULL,
		client_order_id TEXT NOT NULL,
		pair TEXT NOT NULL,
		side TEXT NOT NULL,
		type TEXT NOT NULL,
		status TEXT NOT NULL,
		amount TEXT NOT NULL,
		executed_amount TEXT NOT NULL,
		price TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_orders_exchange_order_id ON orders (exchange_order_id);

	CREATE TABLE IF NOT EXISTS positions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		strategy_id TEXT NOT NULL,
		pair TEXT NOT NULL,
		status TEXT NOT NULL,
		amount TEXT NOT NULL,
		stop_gain_percentage REAL DEFAULT NULL,
		stop_loss_percentage REAL DEFAULT NULL,
		opening_order_id INTEGER DEFAULT NULL,
		closing_order_id INTEGER DEFAULT NULL,
		lowest_price TEXT DEFAULT NULL,
		highest_price TEXT DEFAULT NULL,
		latest_price TEXT DEFAULT NULL,
		close_reason TEXT DEFAULT NULL,
		created_at TIMESTAMP NOT NULL,
		closed_at TIMESTAMP DEFAULT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_positions_status ON positions (status);
	CREATE INDEX IF NOT EXISTS idx_positions_pair_status ON positions (pair, status);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		s.logger.Info(context.Background(), "Closing SQLite database connection")
		return s.db.Close()
	}
	return nil
}

// Positions returns the position repository backed by this store.
func (s *Store) Positions() *PositionRepository {
	return &PositionRepository{store: s}
}

// Orders returns the order repository backed by this store.
func (s *Store) Orders() *OrderRepository {
	return &OrderRepository{store: s}
}

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func parseStoredDecimal(value, what string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("failed to parse stored %s %q: %w", what, value, err)
	}
	return d, nil
}

// orderByID loads an order by its local ID, shared by both repositories.
func (s *Store) orderByID(ctx context.Context, id int64) (*domain.Order, error) {
	const query = `
	SELECT id, exchange_order_id, client_order_id, pair, side, type, status,
	       amount, executed_amount, price, created_at, updated_at
	FROM orders
	WHERE id = ?`

	order, err := scanOrder(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query order by ID %d: %w", id, err)
	}
	return order, nil
}

// --- PositionRepository ---

// PositionRepository implements ports.PositionRepository using SQLite.
type PositionRepository struct {
	store *Store
}

// Create saves a new position and returns its assigned ID.
func (r *PositionRepository) Create(ctx context.Context, pos *domain.Position) (int64, error) {
	const query = `
	INSERT INTO positions (strategy_id, pair, status, amount,
	                       stop_gain_percentage, stop_loss_percentage,
	                       opening_order_id, closing_order_id,
	                       lowest_price, highest_price, latest_price,
	                       close_reason, created_at, closed_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := r.store.db.ExecContext(ctx, query,
		pos.StrategyID, pos.Pair.String(), string(pos.Status), pos.Amount.Value.String(),
		nullableFloat(pos.Rules.StopGainPercentage), nullableFloat(pos.Rules.StopLossPercentage),
		nullableOrderID(pos.OpeningOrder), nullableOrderID(pos.ClosingOrder),
		nullablePrice(pos.LowestPrice), nullablePrice(pos.HighestPrice), nullablePrice(pos.LatestPrice),
		nullableReason(pos.CloseReason), pos.CreatedAt, nullableTime(pos.ClosedAt))
	if err != nil {
		return 0, fmt.Errorf("failed to insert position for pair %s: %w", pos.Pair, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for position on %s: %w", pos.Pair, err)
	}
	pos.ID = id
	r.store.logger.Debug(ctx, "Position created", map[string]interface{}{"positionID": id, "pair": pos.Pair.String()})
	return id, nil
}

// Update modifies an existing position based on its ID.
func (r *PositionRepository) Update(ctx context.Context, pos *domain.Position) error {
	const query = `
	UPDATE positions
	SET strategy_id = ?, pair = ?, status = ?, amount = ?,
	    stop_gain_percentage = ?, stop_loss_percentage = ?,
	    opening_order_id = ?, closing_order_id = ?,
	    lowest_price = ?, highest_price = ?, latest_price = ?,
	    close_reason = ?, created_at = ?, closed_at = ?
	WHERE id = ?`

	result, err := r.store.db.ExecContext(ctx, query,
		pos.StrategyID, pos.Pair.String(), string(pos.Status), pos.Amount.Value.String(),
		nullableFloat(pos.Rules.StopGainPercentage), nullableFloat(pos.Rules.StopLossPercentage),
		nullableOrderID(pos.OpeningOrder), nullableOrderID(pos.ClosingOrder),
		nullablePrice(pos.LowestPrice), nullablePrice(pos.HighestPrice), nullablePrice(pos.LatestPrice),
		nullableReason(pos.CloseReason), pos.CreatedAt, nullableTime(pos.ClosedAt),
		pos.ID)
	if err != nil {
		return fmt.Errorf("failed to update position ID %d: %w", pos.ID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for update position ID %d: %w", pos.ID, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("position ID %d not found for update: %w", pos.ID, ports.ErrNotFound)
	}
	r.store.logger.Debug(ctx, "Position updated", map[string]interface{}{"positionID": pos.ID, "status": string(pos.Status)})
	return nil
}

// FindOpen retrieves all positions that have not reached CLOSED yet.
func (r *PositionRepository) FindOpen(ctx context.Context) ([]*domain.Position, error) {
	const query = `
	SELECT id, strategy_id, pair, status, amount,
	       stop_gain_percentage, stop_loss_percentage,
	       opening_order_id, closing_order_id,
	       lowest_price, highest_price, latest_price,
	       close_reason, created_at, closed_at
	FROM positions
	WHERE status != ?
	ORDER BY created_at ASC`

	return r.queryPositions(ctx, query, string(domain.StatusClosed))
}

// FindByID retrieves a position by its unique ID.
func (r *PositionRepository) FindByID(ctx context.Context, id int64) (*domain.Position, error) {
	const query = `
	SELECT id, strategy_id, pair, status, amount,
	       stop_gain_percentage, stop_loss_percentage,
	       opening_order_id, closing_order_id,
	       lowest_price, highest_price, latest_price,
	       close_reason, created_at, closed_at
	FROM positions
	WHERE id = ?`

	pos, err := scanPosition(r.store.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query position by ID %d: %w", id, err)
	}
	if err := r.loadOrders(ctx, pos); err != nil {
		return nil, err
	}
	return pos, nil
}

// FindAll retrieves all positions, newest first.
func (r *PositionRepository) FindAll(ctx context.Context) ([]*domain.Position, error) {
	const query = `
	SELECT id, strategy_id, pair, status, amount,
	       stop_gain_percentage, stop_loss_percentage,
	       opening_order_id, closing_order_id,
	       lowest_price, highest_price, latest_price,
	       close_reason, created_at, closed_at
	FROM positions
	ORDER BY created_at DESC`

	return r.queryPositions(ctx, query)
}

func (r *PositionRepository) queryPositions(ctx context.Context, query string, args ...interface{}) ([]*domain.Position, error) {
	rows, err := r.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	positions := make([]*domain.Position, 0)
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position row: %w", err)
		}
		positions = append(positions, pos)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating position rows: %w", err)
	}
	for _, pos := range positions {
		if err := r.loadOrders(ctx, pos); err != nil {
			return nil, err
		}
	}
	return positions, nil
}

// loadOrders resolves the order references scanned into the position.
func (r *PositionRepository) loadOrders(ctx context.Context, pos *domain.Position) error {
	if pos.OpeningOrder != nil && pos.OpeningOrder.ID != 0 {
		order, err := r.store.orderByID(ctx, pos.OpeningOrder.ID)
		if err != nil {
			return fmt.Errorf("failed to load opening order of position %d: %w", pos.ID, err)
		}
		pos.OpeningOrder = order
	}
	if pos.ClosingOrder != nil && pos.ClosingOrder.ID != 0 {
		order, err := r.store.orderByID(ctx, pos.ClosingOrder.ID)
		if err != nil {
			return fmt.Errorf("failed to load closing order of position %d: %w", pos.ID, err)
		}
		pos.ClosingOrder = order
	}
	return nil
}

// scanPosition scans a row into a domain.Position. Order columns only carry
// the local order IDs; loadOrders resolves them afterwards.
func scanPosition(s scanner) (*domain.Position, error) {
	p := &domain.Position{}
	var (
		pair           string
		status         string
		amount         string
		stopGain       sql.NullFloat64
		stopLoss       sql.NullFloat64
		openingOrderID sql.NullInt64
		closingOrderID sql.NullInt64
		lowest         sql.NullString
		highest        sql.NullString
		latest         sql.NullString
		closeReason    sql.NullString
		closedAt       sql.NullTime
	)
	err := s.Scan(
		&p.ID, &p.StrategyID, &pair, &status, &amount,
		&stopGain, &stopLoss,
		&openingOrderID, &closingOrderID,
		&lowest, &highest, &latest,
		&closeReason, &p.CreatedAt, &closedAt)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}

	parsedPair, err := domain.ParsePair(pair)
	if err != nil {
		return nil, fmt.Errorf("position %d has invalid pair: %w", p.ID, err)
	}
	p.Pair = parsedPair
	p.Status = domain.PositionStatus(status)

	amountValue, err := parseStoredDecimal(amount, "amount")
	if err != nil {
		return nil, err
	}
	p.Amount = domain.NewCurrencyAmount(amountValue, p.Pair.Base)

	if stopGain.Valid {
		v := stopGain.Float64
		p.Rules.StopGainPercentage = &v
	}
	if stopLoss.Valid {
		v := stopLoss.Float64
		p.Rules.StopLossPercentage = &v
	}
	if openingOrderID.Valid {
		p.OpeningOrder = &domain.Order{ID: openingOrderID.Int64}
	}
	if closingOrderID.Valid {
		p.ClosingOrder = &domain.Order{ID: closingOrderID.Int64}
	}

	for _, price := range []struct {
		raw  sql.NullString
		dest **domain.CurrencyAmount
		name string
	}{
		{lowest, &p.LowestPrice, "lowest price"},
		{highest, &p.HighestPrice, "highest price"},
		{latest, &p.LatestPrice, "latest price"},
	} {
		if !price.raw.Valid {
			continue
		}
		value, err := parseStoredDecimal(price.raw.String, price.name)
		if err != nil {
			return nil, err
		}
		tracked := domain.NewCurrencyAmount(value, p.Pair.Quote)
		*price.dest = &tracked
	}

	if closeReason.Valid {
		p.CloseReason = domain.CloseReason(closeReason.String)
	}
	if closedAt.Valid {
		p.ClosedAt = closedAt.Time
	}
	return p, nil
}

// --- OrderRepository ---

// OrderRepository implements ports.OrderRepository using SQLite.
type OrderRepository struct {
	store *Store
}

// Create saves a new order and returns its assigned ID.
func (r *OrderRepository) Create(ctx context.Context, order *domain.Order) (int64, error) {
	const query = `
	INSERT INTO orders (exchange_order_id, client_order_id, pair, side, type, status,
	                    amount, executed_amount, price, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := r.store.db.ExecContext(ctx, query,
		order.ExchangeOrderID, order.ClientOrderID, order.Pair.String(),
		string(order.Side), string(order.Type), string(order.Status),
		order.Amount.String(), order.ExecutedAmount.String(), order.Price.String(),
		order.CreatedAt, order.UpdatedAt)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return 0, fmt.Errorf("order with exchange ID %d already stored: %w", order.ExchangeOrderID, ports.ErrDuplicateEntry)
		}
		return 0, fmt.Errorf("failed to insert order %d: %w", order.ExchangeOrderID, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for order %d: %w", order.ExchangeOrderID, err)
	}
	order.ID = id
	r.store.logger.Debug(ctx, "Order stored", map[string]interface{}{"orderID": id, "exchangeOrderID": order.ExchangeOrderID})
	return id, nil
}

// Update modifies an existing order based on its local ID.
func (r *OrderRepository) Update(ctx context.Context, order *domain.Order) error {
	const query = `
	UPDATE orders
	SET exchange_order_id = ?, client_order_id = ?, pair = ?, side = ?, type = ?, status = ?,
	    amount = ?, executed_amount = ?, price = ?, created_at = ?, updated_at = ?
	WHERE id = ?`

	result, err := r.store.db.ExecContext(ctx, query,
		order.ExchangeOrderID, order.ClientOrderID, order.Pair.String(),
		string(order.Side), string(order.Type), string(order.Status),
		order.Amount.String(), order.ExecutedAmount.String(), order.Price.String(),
		order.CreatedAt, order.UpdatedAt,
		order.ID)
	if err != nil {
		return fmt.Errorf("failed to update order ID %d: %w", order.ID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for update order ID %d: %w", order.ID, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("order ID %d not found for update: %w", order.ID, ports.ErrNotFound)
	}
	return nil
}

// FindByID retrieves an order by its local ID.
func (r *OrderRepository) FindByID(ctx context.Context, id int64) (*domain.Order, error) {
	return r.store.orderByID(ctx, id)
}

// FindByExchangeOrderID retrieves an order by the ID the exchange assigned.
func (r *OrderRepository) FindByExchangeOrderID(ctx context.Context, exchangeOrderID int64) (*domain.Order, error) {
	const query = `
	SELECT id, exchange_order_id, client_order_id, pair, side, type, status,
	       amount, executed_amount, price, created_at, updated_at
	FROM orders
	WHERE exchange_order_id = ?`

	order, err := scanOrder(r.store.db.QueryRowContext(ctx, query, exchangeOrderID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query order by exchange ID %d: %w", exchangeOrderID, err)
	}
	return order, nil
}

// scanOrder scans a row into a domain.Order.
func scanOrder(s scanner) (*domain.Order, error) {
	o := &domain.Order{}
	var (
		pair     string
		side     string
		typ      string
		status   string
		amount   string
		executed string
		price    string
	)
	err := s.Scan(
		&o.ID, &o.ExchangeOrderID, &o.ClientOrderID, &pair, &side, &typ, &status,
		&amount, &executed, &price, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}

	parsedPair, err := domain.ParsePair(pair)
	if err != nil {
		return nil, fmt.Errorf("order %d has invalid pair: %w", o.ID, err)
	}
	o.Pair = parsedPair
	o.Side = domain.OrderSide(side)
	o.Type = domain.OrderType(typ)
	o.Status = domain.OrderStatus(status)

	if o.Amount, err = parseStoredDecimal(amount, "order amount"); err != nil {
		return nil, err
	}
	if o.ExecutedAmount, err = parseStoredDecimal(executed, "executed amount"); err != nil {
		return nil, err
	}
	if o.Price, err = parseStoredDecimal(price, "order price"); err != nil {
		return nil, err
	}
	return o, nil
}

// --- nullable column helpers ---

func nullableFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullableOrderID(order *domain.Order) sql.NullInt64 {
	if order == nil || order.ID == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: order.ID, Valid: true}
}

func nullablePrice(amount *domain.CurrencyAmount) sql.NullString {
	if amount == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: amount.Value.String(), Valid: true}
}

func nullableReason(reason domain.CloseReason) sql.NullString {
	if reason == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: string(reason), Valid: true}
}

func nullableTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
