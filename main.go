package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up

	"cryptoSpotBot/config"
	"cryptoSpotBot/internal/adapters/binanceclient"
	"cryptoSpotBot/internal/adapters/logger"
	"cryptoSpotBot/internal/adapters/sqlite"
	"cryptoSpotBot/internal/app"
	"cryptoSpotBot/internal/positions"
	"cryptoSpotBot/internal/strategy"
	"cryptoSpotBot/internal/strategy/rules"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err) // Use standard log before logger is ready
	}

	// 2. Initialize Logger
	appLogger, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}
	defer func() { _ = appLogger.Sync() }()
	appLogger.Info(context.Background(), "Logger initialized", map[string]interface{}{"level": cfg.LogLevel.String()})

	// 3. Initialize Store (Database Adapter)
	store, err := sqlite.NewStore(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize database store")
		log.Fatalf("FATAL: Failed to initialize database store: %v", err) // Also log to stderr
	}
	defer func() {
		if err := store.Close(); err != nil {
			appLogger.Error(context.Background(), err, "Error closing database store")
		}
	}()
	appLogger.Info(context.Background(), "Database store initialized")

	// 4. Initialize Exchange Client (Binance Adapter)
	binanceClient, err := binanceclient.New(binanceclient.Config{
		APIKey:     cfg.APIKey,
		SecretKey:  cfg.SecretKey,
		UseTestnet: cfg.IsTestnet,
		Logger:     appLogger,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize Binance client")
		log.Fatalf("FATAL: Failed to initialize Binance client: %v", err)
	}
	appLogger.Info(context.Background(), "Binance client initialized")

	// 5. Initialize Trading Rule
	var rule strategy.Rule
	switch cfg.StrategyRule {
	case config.RuleSMACrossover:
		rule, err = rules.NewSMACrossover(rules.SMACrossoverConfig{
			Logger:      appLogger,
			ShortPeriod: cfg.StrategyShortMAPeriod,
			LongPeriod:  cfg.StrategyLongMAPeriod,
		})
	case config.RuleRSIThreshold:
		rule, err = rules.NewRSIThreshold(rules.RSIThresholdConfig{
			Logger:     appLogger,
			Period:     cfg.StrategyRSIPeriod,
			Oversold:   cfg.StrategyRSIOversold,
			Overbought: cfg.StrategyRSIOverbought,
		})
	default:
		log.Fatalf("FATAL: Unknown strategy rule: %s", cfg.StrategyRule)
	}
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize trading rule")
		log.Fatalf("FATAL: Failed to initialize trading rule: %v", err)
	}
	appLogger.Info(context.Background(), "Trading rule initialized", map[string]interface{}{"rule": cfg.StrategyRule})

	// 6. Initialize Position Tracker
	tracker, err := positions.New(positions.Config{
		Logger: appLogger,
		Repo:   store.Positions(),
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize position tracker")
		log.Fatalf("FATAL: Failed to initialize position tracker: %v", err)
	}

	// 7. Initialize Application Service
	tradingService, err := app.New(app.Config{
		Logger:         appLogger,
		Exchange:       binanceClient,
		OrderRepo:      store.Orders(),
		Tracker:        tracker,
		Rule:           rule,
		StrategyID:     cfg.StrategyID,
		Pair:           cfg.Pair,
		BarDuration:    cfg.BarDuration,
		MaxBarCount:    cfg.MaxBarCount,
		BackfillBars:   cfg.BackfillBars,
		TradeAmount:    cfg.TradeAmount,
		PositionRules:  cfg.PositionRules(),
		MinBalanceLeft: cfg.MinQuoteBalanceLeft,
		TickerRate:     cfg.TickerRate,
		AccountRate:    cfg.AccountRate,
		TickQueueSize:  cfg.TickQueueSize,
		OrderPollRate:  cfg.OrderPollRate,
	})
	if err != nil {
		appLogger.Error(context.Background(), err, "FATAL: Failed to initialize trading service")
		log.Fatalf("FATAL: Failed to initialize trading service: %v", err)
	}
	appLogger.Info(context.Background(), "Trading service initialized")

	// 8. Run the Service
	// Run blocks until a shutdown signal arrives or the pipeline fails.
	if err := tradingService.Run(context.Background()); err != nil {
		appLogger.Error(context.Background(), err, "Trading service exited with error")
		log.Fatalf("FATAL: Trading service exited with error: %v", err)
	}

	appLogger.Info(context.Background(), "Application finished gracefully.")
}
