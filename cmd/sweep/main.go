// Command sweep runs the same backtest under several pricing models in
// parallel and prints a comparison table. Each variant is persisted to the
// results store under <name>-<model>.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/eddiefleurent/scranton_backtester/internal/config"
	"github.com/eddiefleurent/scranton_backtester/internal/engine"
	"github.com/eddiefleurent/scranton_backtester/internal/instrument"
	"github.com/eddiefleurent/scranton_backtester/internal/loader"
	"github.com/eddiefleurent/scranton_backtester/internal/market"
	"github.com/eddiefleurent/scranton_backtester/internal/pricing"
	"github.com/eddiefleurent/scranton_backtester/internal/results"
)

func main() {
	var (
		configPath string
		baseName   string
		modelsFlag string
		parallel   int
		strat      string
		cadence    string
		targetDTE  int
		qty        float64
		widthPct   float64
	)
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.StringVar(&baseName, "name", "", "Base run name (default: sweep-<date>)")
	flag.StringVar(&modelsFlag, "models", "black_scholes,bachelier,sabr,surface_greeks",
		"Comma-separated pricing models to compare")
	flag.IntVar(&parallel, "parallel", runtime.NumCPU(), "Max concurrent runs")
	flag.StringVar(&strat, "strategy", "short_straddle", "Entry strategy: short_straddle | short_strangle")
	flag.StringVar(&cadence, "cadence", "weekly", "Entry cadence: daily | weekly | monthly")
	flag.IntVar(&targetDTE, "dte", 30, "Target days to expiry for new entries")
	flag.Float64Var(&qty, "qty", 1, "Contracts per entry")
	flag.Float64Var(&widthPct, "width", 0.05, "Strangle wing distance as a fraction of spot")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := log.New(os.Stdout, "[SWEEP] ", log.LstdFlags)

	if baseName == "" {
		baseName = "sweep-" + time.Now().Format("20060102-150405")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Println("Shutdown signal received, stopping...")
		cancel()
	}()

	if err := runSweep(ctx, cfg, logger, baseName, modelsFlag, parallel,
		strat, cadence, targetDTE, qty, widthPct); err != nil {
		logger.Fatalf("Sweep failed: %v", err)
	}
}

func runSweep(ctx context.Context, cfg *config.Config, logger *log.Logger,
	baseName, modelsFlag string, parallel int,
	strat, cadence string, targetDTE int, qty, widthPct float64) error {

	series, err := buildSeries(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("load market data: %w", err)
	}

	var factory engine.StrategyFactory
	switch strat {
	case "short_straddle":
		factory = engine.StraddleFactory(instrument.Short, targetDTE, qty)
	case "short_strangle":
		factory = engine.StrangleFactory(instrument.Short, targetDTE, widthPct, qty)
	default:
		return fmt.Errorf("unknown strategy %q", strat)
	}

	entries, err := engine.RollingEntries(series, cfg.StartDate(), cfg.EndDate(),
		engine.Cadence(cadence), factory)
	if err != nil {
		return fmt.Errorf("build entry schedule: %w", err)
	}

	engCfg := engine.Config{
		Start:       cfg.StartDate(),
		End:         cfg.EndDate(),
		InitialCash: cfg.Backtest.InitialCash,
		Costs: engine.Costs{
			PerContract: cfg.Backtest.Costs.PerContract,
			SlippagePct: cfg.Backtest.Costs.SlippagePct,
			TickSize:    cfg.Backtest.Costs.TickSize,
		},
		Exits: engine.ExitRules{
			ProfitTargetPct: cfg.Backtest.Exit.ProfitTargetPct,
			StopLossPct:     cfg.Backtest.Exit.StopLossPct,
			TimeStopDTE:     cfg.Backtest.Exit.TimeStopDTE,
			TieBreak:        engine.TieBreak(cfg.Backtest.Exit.TieBreak),
		},
	}

	// A non-SABR config may leave the sabr block empty; the sweep still
	// needs usable parameters to include the sabr variant.
	sabrParams := pricing.SABRParams(cfg.Model.SABR)
	if sabrParams.Alpha == 0 {
		sabrParams = pricing.SABRParams{Alpha: 0.2, Beta: 1.0, Rho: -0.3, Nu: 0.4}
	}

	var runs []engine.SweepRun
	for _, name := range strings.Split(modelsFlag, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		model, err := pricing.Build(name, sabrParams, pricing.BumpSizes(cfg.Model.Bumps))
		if err != nil {
			return fmt.Errorf("build model %s: %w", name, err)
		}
		runs = append(runs, engine.SweepRun{
			Name:    name,
			Config:  engCfg,
			Model:   model,
			Entries: entries,
		})
	}
	if len(runs) == 0 {
		return fmt.Errorf("no models selected")
	}

	logger.Printf("Sweeping %d models over %d entries (%d parallel)",
		len(runs), len(entries), parallel)

	sweepResults, err := engine.Sweep(ctx, series, runs, parallel, logger)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}

	store, err := results.NewStore(cfg.Results.Path)
	if err != nil {
		return fmt.Errorf("open results store: %w", err)
	}

	logger.Printf("%-16s %12s %10s %10s %8s %8s",
		"model", "final equity", "return %", "max dd %", "trades", "win %")
	for _, res := range sweepResults {
		attribution, err := engine.AttributePnL(res.Rows, series)
		if err != nil {
			return fmt.Errorf("attribute pnl for %s: %w", res.Name, err)
		}
		stats := results.ComputeStatistics(cfg.Backtest.InitialCash, res.Rows, res.Portfolio)

		if err := store.SaveRun(&results.Run{
			Name:        baseName + "-" + res.Name,
			Underlying:  cfg.Backtest.Underlying,
			Model:       res.Name,
			CreatedAt:   time.Now().UTC(),
			InitialCash: cfg.Backtest.InitialCash,
			Rows:        res.Rows,
			Trades:      res.Portfolio.TradeLog,
			Attribution: attribution,
			Stats:       stats,
		}); err != nil {
			return fmt.Errorf("save run %s: %w", res.Name, err)
		}

		logger.Printf("%-16s %12.2f %10.2f %10.2f %8d %8.0f",
			res.Name, stats.FinalEquity, stats.TotalReturnPct,
			stats.MaxDrawdownPct, stats.TotalTrades, stats.WinRate*100)
	}
	logger.Printf("Results saved to %s", cfg.Results.Path)
	return nil
}

func buildSeries(ctx context.Context, cfg *config.Config, logger *log.Logger) (*market.Series, error) {
	extrap := market.Extrapolation(cfg.Model.Extrapolation)

	switch cfg.Data.Source {
	case "csv":
		return loader.LoadCSV(cfg.Backtest.Underlying,
			cfg.Data.CSV.SpotPath, cfg.Data.CSV.VolPath, extrap)
	case "synthetic":
		syn := cfg.Data.Synthetic
		return loader.Synthetic(loader.SyntheticParams{
			Underlying: cfg.Backtest.Underlying,
			Start:      cfg.StartDate(),
			Days:       syn.Days,
			Seed:       syn.Seed,
			StartSpot:  syn.StartSpot,
			Vol:        syn.Vol,
			Drift:      syn.Drift,
			Rate:       syn.Rate,
		}, extrap)
	case "http":
		client := loader.NewClient(cfg.Data.HTTP.BaseURL, cfg.Data.HTTP.APIKey,
			cfg.HTTPTimeout(), logger)
		return client.FetchSeries(ctx, cfg.Backtest.Underlying,
			cfg.StartDate(), cfg.EndDate(), extrap)
	default:
		return nil, fmt.Errorf("unknown data source %q", cfg.Data.Source)
	}
}
