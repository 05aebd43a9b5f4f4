package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"cryptoSpotBot/config"
	"cryptoSpotBot/internal/adapters/binanceclient"
	"cryptoSpotBot/internal/adapters/logger"
	"cryptoSpotBot/internal/backtesting"
	"cryptoSpotBot/internal/domain"
	"cryptoSpotBot/internal/utils"
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

	// 3. Initialize Exchange Client (Binance Adapter)
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

	// 4. Fetch bars and flatten them to ticks
	barCount := 1000 // one exchange page of history

	fmt.Printf("Fetching %d %s bars for %s...\n", barCount, cfg.BarDuration, cfg.Pair.String())
	barPtrs, err := binanceClient.GetBars(context.Background(), cfg.Pair, cfg.BarDuration, barCount)
	if err != nil {
		appLogger.Error(context.Background(), err, "Error fetching bars")
		log.Fatalf("Error fetching bars: %v", err)
	}
	if len(barPtrs) == 0 {
		log.Fatalf("Exchange returned no bars for %s", cfg.Pair.String())
	}

	bars := make([]domain.Bar, len(barPtrs))
	for i, b := range barPtrs {
		bars[i] = *b
	}
	ticks := backtesting.TicksFromBars(cfg.Pair, bars)
	appLogger.Info(context.Background(), "Flattened bars to ticks", map[string]interface{}{
		"bars":  len(bars),
		"ticks": len(ticks),
	})

	// 5. Write the tick CSV
	filename := fmt.Sprintf("data/%s_ticks_%s_to_%s.csv",
		cfg.Pair.Symbol(),
		bars[0].StartTime.Format("20060102"),
		bars[len(bars)-1].EndTime.Format("20060102"))
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		log.Fatalf("Error creating output directory: %v", err)
	}
	if err := utils.WriteTicksToCSV(ticks, filename); err != nil {
		appLogger.Error(context.Background(), err, "Error writing CSV")
		log.Fatalf("Error writing CSV: %v", err)
	}
	appLogger.Info(context.Background(), "Saved to", map[string]interface{}{"filename": filename})
}
