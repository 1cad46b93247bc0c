package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"qbt/internal/config"
	"qbt/internal/logger"
	"qbt/internal/market/kline"
	"qbt/internal/monitoring"
	"qbt/internal/strategy/backtest"
	"qbt/internal/strategy/montecarlo"
	"qbt/internal/strategy/optimizer"
	"qbt/internal/strategy/sdk"
)

func main() {
	var (
		configFile = flag.String("config", "configs/backtest.yaml", "configuration file path")
		dataDir    = flag.String("data", "data", "directory containing <symbol>.csv candle files")
		symbols    = flag.String("symbols", "", "comma-separated symbol override")
		output     = flag.String("output", "", "write results JSON to this file")
		fast       = flag.Int("fast", 10, "fast SMA window")
		slow       = flag.Int("slow", 30, "slow SMA window")
	)
	flag.Parse()

	// Optional .env overlay, same as the service entry points.
	_ = godotenv.Load()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *symbols != "" {
		cfg.Symbols = strings.Split(*symbols, ",")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(logger.Config{
		Level:    cfg.Logging.Level,
		Format:   cfg.Logging.Format,
		Output:   cfg.Logging.Output,
		Filename: cfg.Logging.File,
	})

	data, err := loadData(*dataDir, cfg.Symbols)
	if err != nil {
		log.Fatalf("Failed to load market data: %v", err)
	}

	strategy := sdk.NewSMACross(*fast, *slow)
	sink := backtest.MultiSink{
		backtest.NewLogSink("backtest"),
		monitoring.NewMetrics(prometheus.DefaultRegisterer),
	}

	ctx := context.Background()
	var results *backtest.Results
	if cfg.WalkForward.Enabled {
		wf := optimizer.NewWalkForward(cfg, strategy, sink)
		results, err = wf.Run(ctx, data)
	} else {
		engine := backtest.NewEngine(cfg, strategy, sink)
		results, err = engine.Run(ctx, data)
	}
	if err != nil {
		log.Fatalf("Backtest failed: %v", err)
	}

	if cfg.MonteCarlo.Enabled {
		mc := montecarlo.New(cfg.MonteCarlo, sink)
		report, err := mc.Run(ctx, results.Returns(), cfg.InitialCapital)
		if err != nil {
			log.Fatalf("Monte Carlo simulation failed: %v", err)
		}
		results.MonteCarlo = report
	}

	printReport(results)

	if *output != "" {
		if err := writeResults(*output, results); err != nil {
			log.Fatalf("Failed to write results: %v", err)
		}
		fmt.Printf("\nResults written to %s\n", *output)
	}
}

func loadData(dir string, symbols []string) (kline.Series, error) {
	if len(symbols) == 0 {
		return nil, fmt.Errorf("no symbols configured")
	}
	data := make(kline.Series, len(symbols))
	for _, symbol := range symbols {
		bars, err := kline.LoadCSV(filepath.Join(dir, symbol+".csv"), symbol)
		if err != nil {
			return nil, err
		}
		data[symbol] = bars
	}
	data.Sort()
	return data, nil
}

func printReport(r *backtest.Results) {
	p := r.Performance
	fmt.Printf("Strategy:           %s\n", r.Strategy)
	fmt.Printf("Period:             %s .. %s\n", r.StartTime.Format("2006-01-02"), r.EndTime.Format("2006-01-02"))
	fmt.Printf("Total return:       %.2f%%\n", p.TotalReturn*100)
	fmt.Printf("Annualized return:  %.2f%%\n", p.AnnualizedReturn*100)
	fmt.Printf("Volatility:         %.2f%%\n", p.Volatility*100)
	fmt.Printf("Sharpe ratio:       %.2f\n", p.SharpeRatio)
	fmt.Printf("Sortino ratio:      %.2f\n", p.SortinoRatio)
	fmt.Printf("Max drawdown:       %.2f%% (%s)\n", p.MaxDrawdown*100, p.MaxDrawdownDuration)
	fmt.Printf("Win rate:           %.2f%%\n", p.WinRate*100)
	fmt.Printf("Profit factor:      %.2f\n", p.ProfitFactor)
	fmt.Printf("Trades:             %d (%d wins / %d losses)\n",
		r.TradeStats.TotalTrades, r.TradeStats.WinningTrades, r.TradeStats.LosingTrades)
	fmt.Printf("VaR 95%% / CVaR 95%%: %.4f / %.4f\n", r.Risk.VaR95, r.Risk.CVaR95)

	if wf := r.WalkForward; wf != nil {
		fmt.Printf("\nWalk-forward: %d windows\n", len(wf.Windows))
		fmt.Printf("Combined return:    %.2f%%\n", wf.CombinedReturn*100)
		fmt.Printf("Avg efficiency:     %.4f\n", wf.AvgEfficiency)
		fmt.Printf("Stability:          %.4f\n", wf.Stability)
		fmt.Printf("Robustness:         %.4f\n", wf.Robustness)
	}

	if mc := r.MonteCarlo; mc != nil {
		fmt.Printf("\nMonte Carlo: %d simulations\n", mc.Simulations)
		fmt.Printf("Return p5/p50/p95:  %.2f%% / %.2f%% / %.2f%%\n",
			mc.ReturnPercentiles[5]*100, mc.ReturnPercentiles[50]*100, mc.ReturnPercentiles[95]*100)
		fmt.Printf("Expected max DD:    %.2f%%\n", mc.ExpectedMaxDrawdown*100)
		fmt.Printf("Probability of ruin: %.4f\n", mc.ProbabilityOfRuin)
	}
}

func writeResults(path string, r *backtest.Results) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
