package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eddiefleurent/scranton_backtester/internal/config"
	"github.com/eddiefleurent/scranton_backtester/internal/engine"
	"github.com/eddiefleurent/scranton_backtester/internal/instrument"
	"github.com/eddiefleurent/scranton_backtester/internal/loader"
	"github.com/eddiefleurent/scranton_backtester/internal/market"
	"github.com/eddiefleurent/scranton_backtester/internal/pricing"
	"github.com/eddiefleurent/scranton_backtester/internal/report"
	"github.com/eddiefleurent/scranton_backtester/internal/results"
	"github.com/sirupsen/logrus"
)

func main() {
	var (
		configPath string
		runName    string
		strat      string
		cadence    string
		targetDTE  int
		qty        float64
		widthPct   float64
	)
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.StringVar(&runName, "name", "", "Run name (default: <underlying>-<model>-<date>)")
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

	logger := log.New(os.Stdout, "[BACKTEST] ", log.LstdFlags)

	if runName == "" {
		runName = fmt.Sprintf("%s-%s-%s", cfg.Backtest.Underlying, cfg.Model.Name,
			time.Now().Format("20060102-150405"))
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

	if err := runBacktest(ctx, cfg, logger, runName, strat, cadence, targetDTE, qty, widthPct); err != nil {
		logger.Fatalf("Backtest failed: %v", err)
	}
}

func runBacktest(ctx context.Context, cfg *config.Config, logger *log.Logger,
	runName, strat, cadence string, targetDTE int, qty, widthPct float64) error {

	logger.Printf("Loading %s market data for %s", cfg.Data.Source, cfg.Backtest.Underlying)
	series, err := buildSeries(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("load market data: %w", err)
	}
	logger.Printf("Loaded %d trading days (%s .. %s)",
		len(series.Dates(series.FirstDate(), series.LastDate())),
		series.FirstDate().Format("2006-01-02"), series.LastDate().Format("2006-01-02"))

	model, err := pricing.Build(cfg.Model.Name,
		pricing.SABRParams(cfg.Model.SABR), pricing.BumpSizes(cfg.Model.Bumps))
	if err != nil {
		return fmt.Errorf("build pricing model: %w", err)
	}

	factory, err := strategyFactory(strat, targetDTE, widthPct, qty)
	if err != nil {
		return err
	}
	entries, err := engine.RollingEntries(series, cfg.StartDate(), cfg.EndDate(),
		engine.Cadence(cadence), factory)
	if err != nil {
		return fmt.Errorf("build entry schedule: %w", err)
	}
	logger.Printf("Scheduled %d %s entries (%s, %d DTE)", len(entries), strat, cadence, targetDTE)

	eng, err := engine.New(engineConfig(cfg), model, series, entries, logger)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	rows, err := eng.Run(ctx)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}

	attribution, err := engine.AttributePnL(rows, series)
	if err != nil {
		return fmt.Errorf("attribute pnl: %w", err)
	}

	pf := eng.Portfolio()
	stats := results.ComputeStatistics(cfg.Backtest.InitialCash, rows, pf)

	store, err := results.NewStore(cfg.Results.Path)
	if err != nil {
		return fmt.Errorf("open results store: %w", err)
	}
	run := &results.Run{
		Name:        runName,
		Underlying:  cfg.Backtest.Underlying,
		Model:       cfg.Model.Name,
		CreatedAt:   time.Now().UTC(),
		InitialCash: cfg.Backtest.InitialCash,
		Rows:        rows,
		Trades:      pf.TradeLog,
		Attribution: attribution,
		Stats:       stats,
	}
	if err := store.SaveRun(run); err != nil {
		return fmt.Errorf("save run: %w", err)
	}

	logger.Printf("Run %q: %d days, final equity $%.2f (%.2f%%), max drawdown %.2f%%, "+
		"%d trades, win rate %.0f%%",
		runName, stats.Days, stats.FinalEquity, stats.TotalReturnPct,
		stats.MaxDrawdownPct, stats.TotalTrades, stats.WinRate*100)
	logger.Printf("Results saved to %s", cfg.Results.Path)

	if cfg.Report.Addr != "" {
		return serveReport(ctx, cfg, store, logger)
	}
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

func strategyFactory(strat string, targetDTE int, widthPct, qty float64) (engine.StrategyFactory, error) {
	switch strat {
	case "short_straddle":
		return engine.StraddleFactory(instrument.Short, targetDTE, qty), nil
	case "short_strangle":
		return engine.StrangleFactory(instrument.Short, targetDTE, widthPct, qty), nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", strat)
	}
}

func engineConfig(cfg *config.Config) engine.Config {
	return engine.Config{
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
}

func serveReport(ctx context.Context, cfg *config.Config, store *results.Store, logger *log.Logger) error {
	reportLog := logrus.New()
	if level, err := logrus.ParseLevel(cfg.Report.LogLevel); err == nil {
		reportLog.SetLevel(level)
	}

	srv := report.NewServer(report.Config{Addr: cfg.Report.Addr}, store, reportLog)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()
	logger.Printf("Report server listening on %s (Ctrl-C to stop)", cfg.Report.Addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
