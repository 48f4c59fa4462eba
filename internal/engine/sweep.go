package engine

import (
	"context"
	"fmt"
	"log"

	"golang.org/x/sync/errgroup"

	"github.com/eddiefleurent/scranton_backtester/internal/market"
	"github.com/eddiefleurent/scranton_backtester/internal/portfolio"
	"github.com/eddiefleurent/scranton_backtester/internal/pricing"
)

// SweepRun is one independent configuration in a parameter sweep. Each run
// gets its own engine, portfolio and trade log; only the market series is
// shared, read-only.
type SweepRun struct {
	Name    string
	Config  Config
	Model   pricing.Model
	Entries []ScheduledEntry
}

// SweepResult is one run's output, in the same order the runs were given.
type SweepResult struct {
	Name      string
	Rows      []DayResult
	Portfolio *portfolio.Portfolio
}

// Sweep executes the runs concurrently over the shared series. The first
// failing run cancels the rest; on success results come back in input
// order. maxParallel <= 0 means unbounded.
func Sweep(ctx context.Context, series *market.Series, runs []SweepRun, maxParallel int, logger *log.Logger) ([]SweepResult, error) {
	if len(runs) == 0 {
		return nil, fmt.Errorf("sweep: no runs given")
	}

	g, ctx := errgroup.WithContext(ctx)
	if maxParallel > 0 {
		g.SetLimit(maxParallel)
	}

	results := make([]SweepResult, len(runs))
	for i, run := range runs {
		i, run := i, run
		g.Go(func() error {
			eng, err := New(run.Config, run.Model, series, run.Entries, logger)
			if err != nil {
				return fmt.Errorf("sweep run %q: %w", run.Name, err)
			}
			rows, err := eng.Run(ctx)
			if err != nil {
				return fmt.Errorf("sweep run %q: %w", run.Name, err)
			}
			results[i] = SweepResult{Name: run.Name, Rows: rows, Portfolio: eng.Portfolio()}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
