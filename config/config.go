package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap/zapcore"

	"cryptoSpotBot/internal/adapters/logger"
	"cryptoSpotBot/internal/domain"
)

// Rule names accepted in STRATEGY_RULE.
const (
	RuleSMACrossover = "sma-crossover"
	RuleRSIThreshold = "rsi-threshold"
)

// Config holds all application configuration.
type Config struct {
	// Binance API
	APIKey    string
	SecretKey string
	IsTestnet bool

	// Trading parameters
	Pair                domain.CurrencyPair
	TradeAmount         decimal.Decimal // base amount bought per entry signal
	StopGainPercent     float64         // close at this gain; zero or negative disables the rule
	StopLossPercent     float64         // close at this loss; zero or negative disables the rule
	MinQuoteBalanceLeft decimal.Decimal // quote balance a buy must leave untouched

	// Strategy runtime
	StrategyID   string
	StrategyRule string // RuleSMACrossover or RuleRSIThreshold
	BarDuration  time.Duration
	MaxBarCount  int
	BackfillBars int // bars fetched to warm the series on startup, zero disables backfill

	// Rule parameters
	StrategyShortMAPeriod int
	StrategyLongMAPeriod  int
	StrategyRSIPeriod     int
	StrategyRSIOversold   float64
	StrategyRSIOverbought float64

	// Polling cadence
	TickerRate    time.Duration
	AccountRate   time.Duration
	OrderPollRate time.Duration
	TickQueueSize int

	// Database
	DBPath string

	// Logging
	LogLevel zapcore.Level
}

// PositionRules converts the stop percentages into domain rules. A zero or
// negative percentage leaves that rule unset.
func (c *Config) PositionRules() domain.PositionRules {
	var rules domain.PositionRules
	if c.StopGainPercent > 0 {
		gain := c.StopGainPercent
		rules.StopGainPercentage = &gain
	}
	if c.StopLossPercent > 0 {
		loss := c.StopLossPercent
		rules.StopLossPercentage = &loss
	}
	return rules
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	// Binance API
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety

	if cfg.APIKey == "" {
		errs = append(errs, "BINANCE_API_KEY must be set")
	}
	if cfg.SecretKey == "" {
		errs = append(errs, "BINANCE_API_SECRET must be set")
	}

	// Trading parameters
	cfg.Pair, err = domain.ParsePair(getEnv("TRADING_PAIR", "ETH/USDT"))
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid TRADING_PAIR: %v", err))
	}

	cfg.TradeAmount, err = getEnvAsDecimal("TRADE_AMOUNT", "0.1")
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid TRADE_AMOUNT: %v", err))
	} else if cfg.TradeAmount.Sign() <= 0 {
		errs = append(errs, "TRADE_AMOUNT must be positive")
	}

	cfg.StopGainPercent, err = getEnvAsFloatRequired("STOP_GAIN_PERCENT", 5)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid STOP_GAIN_PERCENT: %v", err))
	}

	cfg.StopLossPercent, err = getEnvAsFloatRequired("STOP_LOSS_PERCENT", 2)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid STOP_LOSS_PERCENT: %v", err))
	} else if cfg.StopLossPercent > 100 {
		errs = append(errs, "STOP_LOSS_PERCENT cannot exceed 100")
	}

	cfg.MinQuoteBalanceLeft, err = getEnvAsDecimal("MIN_QUOTE_BALANCE_LEFT", "100")
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MIN_QUOTE_BALANCE_LEFT: %v", err))
	} else if cfg.MinQuoteBalanceLeft.Sign() < 0 {
		errs = append(errs, "MIN_QUOTE_BALANCE_LEFT cannot be negative")
	}

	// Strategy runtime
	cfg.StrategyID = getEnv("STRATEGY_ID", "spot-bot")

	cfg.StrategyRule = getEnv("STRATEGY_RULE", RuleSMACrossover)
	switch cfg.StrategyRule {
	case RuleSMACrossover, RuleRSIThreshold:
	default:
		errs = append(errs, fmt.Sprintf("unknown STRATEGY_RULE %q (want %s or %s)", cfg.StrategyRule, RuleSMACrossover, RuleRSIThreshold))
	}

	cfg.BarDuration, err = getEnvAsDuration("BAR_DURATION", time.Minute)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid BAR_DURATION: %v", err))
	} else if cfg.BarDuration <= 0 {
		errs = append(errs, "BAR_DURATION must be positive")
	}

	cfg.MaxBarCount = getEnvAsInt("MAX_BAR_COUNT", 500)
	if cfg.MaxBarCount <= 0 {
		errs = append(errs, "MAX_BAR_COUNT must be positive")
	}

	cfg.BackfillBars = getEnvAsInt("BACKFILL_BARS", 100)
	if cfg.BackfillBars < 0 {
		errs = append(errs, "BACKFILL_BARS cannot be negative")
	}

	// Rule parameters (using defaults if not set)
	cfg.StrategyShortMAPeriod = getEnvAsInt("STRATEGY_SHORT_MA_PERIOD", 20)
	cfg.StrategyLongMAPeriod = getEnvAsInt("STRATEGY_LONG_MA_PERIOD", 50)
	cfg.StrategyRSIPeriod = getEnvAsInt("STRATEGY_RSI_PERIOD", 14)
	cfg.StrategyRSIOversold = getEnvAsFloat("STRATEGY_RSI_OVERSOLD", 30)
	cfg.StrategyRSIOverbought = getEnvAsFloat("STRATEGY_RSI_OVERBOUGHT", 70)

	if cfg.StrategyShortMAPeriod <= 0 || cfg.StrategyLongMAPeriod <= 0 || cfg.StrategyRSIPeriod <= 0 {
		errs = append(errs, "strategy periods (MA, RSI) must be positive")
	}
	if cfg.StrategyShortMAPeriod >= cfg.StrategyLongMAPeriod {
		errs = append(errs, "STRATEGY_SHORT_MA_PERIOD must be less than STRATEGY_LONG_MA_PERIOD")
	}
	if cfg.StrategyRSIOverbought <= cfg.StrategyRSIOversold || cfg.StrategyRSIOverbought > 100 || cfg.StrategyRSIOversold < 0 {
		errs = append(errs, "invalid RSI thresholds (Overbought must be > Oversold, between 0-100)")
	}

	// Polling cadence
	cfg.TickerRate, err = getEnvAsDuration("TICKER_RATE", 2*time.Second)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid TICKER_RATE: %v", err))
	} else if cfg.TickerRate <= 0 {
		errs = append(errs, "TICKER_RATE must be positive")
	}

	cfg.AccountRate, err = getEnvAsDuration("ACCOUNT_RATE", 30*time.Second)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid ACCOUNT_RATE: %v", err))
	} else if cfg.AccountRate <= 0 {
		errs = append(errs, "ACCOUNT_RATE must be positive")
	}

	cfg.OrderPollRate, err = getEnvAsDuration("ORDER_POLL_RATE", 5*time.Second)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid ORDER_POLL_RATE: %v", err))
	} else if cfg.OrderPollRate <= 0 {
		errs = append(errs, "ORDER_POLL_RATE must be positive")
	}

	cfg.TickQueueSize = getEnvAsInt("TICK_QUEUE_SIZE", 16)
	if cfg.TickQueueSize <= 0 {
		errs = append(errs, "TICK_QUEUE_SIZE must be positive")
	}

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/spot_bot.db")

	// Logging
	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		// Use default if env var is not set at all
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		// Return error if env var is set but invalid
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return 0, fmt.Errorf("invalid duration value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsDecimal(key string, defaultValue string) (decimal.Decimal, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}
	value, err := decimal.NewFromString(valueStr)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid decimal value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}
