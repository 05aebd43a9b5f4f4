package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"cryptoSpotBot/config"
	"cryptoSpotBot/internal/adapters/logger"
	"cryptoSpotBot/internal/backtesting"
	"cryptoSpotBot/internal/strategy"
	"cryptoSpotBot/internal/strategy/rules"
	"cryptoSpotBot/internal/utils"
)

const defaultTicksFile = "data/ticks.csv"

func main() {
	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	// 2. Initialize Logger
	appLogger, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize logger: %v", err)
	}
	defer func() { _ = appLogger.Sync() }()

	// 3. Load recorded ticks. The first argument overrides the default file.
	filename := defaultTicksFile
	if len(os.Args) > 1 {
		filename = os.Args[1]
	}
	ticks, err := utils.ReadTicksFromCSV(filename)
	if err != nil {
		appLogger.Error(context.Background(), err, "Error loading ticks",
			map[string]interface{}{"filename": filename})
		log.Fatalf("Error loading ticks from %s: %v", filename, err)
	}
	appLogger.Info(context.Background(), "Loaded ticks", map[string]interface{}{
		"filename": filename,
		"count":    len(ticks),
	})

	// 4. Build the trading rule
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
		appLogger.Error(context.Background(), err, "Failed to create trading rule")
		log.Fatalf("Failed to create trading rule: %v", err)
	}

	// 5. Run the replay
	initialBalance := decimal.NewFromInt(10000)

	replayer, err := backtesting.New(backtesting.Config{
		Logger:             appLogger,
		StrategyID:         cfg.StrategyID,
		Pair:               cfg.Pair,
		BarDuration:        cfg.BarDuration,
		MaxBarCount:        cfg.MaxBarCount,
		TradeAmount:        cfg.TradeAmount,
		InitialBalance:     initialBalance,
		MinimumBalanceLeft: cfg.MinQuoteBalanceLeft,
		StopRules:          cfg.PositionRules(),
	}, rule)
	if err != nil {
		appLogger.Error(context.Background(), err, "Failed to create replayer")
		log.Fatalf("Failed to create replayer: %v", err)
	}

	result, err := replayer.Run(context.Background(), ticks)
	if err != nil {
		appLogger.Error(context.Background(), err, "Replay failed")
		log.Fatalf("Replay failed: %v", err)
	}

	// 6. Print the report
	printReport(cfg, result)
}

func printReport(cfg *config.Config, res *backtesting.Result) {
	fmt.Printf("\nReplay of %s, %s bars, %s rule\n\n", cfg.Pair.String(), cfg.BarDuration, cfg.StrategyRule)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight|tabwriter.Debug)
	fmt.Fprintln(w, "Ticks\tBars\tTrips\tWinRate\tAvgWin\tAvgLoss\tPF\tTotalPnL\tMaxDD\tReturn\t")
	fmt.Fprintf(w, "%d\t%d\t%d\t%.1f%%\t%s\t%s\t%.2f\t%s\t%.2f%%\t%.2f%%\t\n",
		res.TicksReplayed,
		res.BarsCompleted,
		res.TotalTrips,
		res.WinRate*100,
		res.AverageWin.StringFixed(2),
		res.AverageLoss.StringFixed(2),
		res.ProfitFactor,
		res.TotalProfit.StringFixed(2),
		res.MaxDrawdown*100,
		res.Return*100,
	)
	w.Flush()

	if len(res.Trips) > 0 {
		fmt.Println("\nRound trips:")
		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight|tabwriter.Debug)
		fmt.Fprintln(tw, "Entry\tExit\tEntryPrice\tExitPrice\tProfit\tReason\t")
		for _, trip := range res.Trips {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t\n",
				trip.EntryTime.Format(time.RFC3339),
				trip.ExitTime.Format(time.RFC3339),
				trip.EntryPrice.StringFixed(2),
				trip.ExitPrice.StringFixed(2),
				trip.Profit.StringFixed(2),
				trip.Reason,
			)
		}
		tw.Flush()
	}

	if res.OpenAtEnd != nil {
		fmt.Printf("\nStill open at end: entered %s at %s, marked into the final balance\n",
			res.OpenAtEnd.EntryTime.Format(time.RFC3339), res.OpenAtEnd.EntryPrice.StringFixed(2))
	}
	if res.SkippedEntries > 0 {
		fmt.Printf("Skipped %d entry signals for insufficient balance\n", res.SkippedEntries)
	}
	fmt.Printf("\nBalance: %s -> %s\n", res.InitialBalance.StringFixed(2), res.FinalBalance.StringFixed(2))
}
