// Package results persists backtest run artifacts (day rows, trade log,
// attribution and summary statistics) as JSON with atomic writes, and
// computes the summary metrics reporting consumes.
package results

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/eddiefleurent/scranton_backtester/internal/engine"
	"github.com/eddiefleurent/scranton_backtester/internal/portfolio"
)

// Run is one backtest's complete artifact.
type Run struct {
	Name        string                  `json:"name"`
	Underlying  string                  `json:"underlying"`
	Model       string                  `json:"model"`
	CreatedAt   time.Time               `json:"created_at"`
	InitialCash float64                 `json:"initial_cash"`
	Rows        []engine.DayResult      `json:"rows"`
	Trades      []portfolio.TradeEntry  `json:"trades"`
	Attribution []engine.AttributionRow `json:"attribution,omitempty"`
	Stats       Statistics              `json:"statistics"`
}

// Statistics summarizes a run.
type Statistics struct {
	Days           int     `json:"days"`
	FinalEquity    float64 `json:"final_equity"`
	TotalReturnPct float64 `json:"total_return_pct"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	TotalTrades    int     `json:"total_trades"`
	WinningTrades  int     `json:"winning_trades"`
	LosingTrades   int     `json:"losing_trades"`
	WinRate        float64 `json:"win_rate"`
}

// ComputeStatistics derives the summary from the day rows and the book.
// Drawdown is peak-to-trough on daily equity; a closed position counts as
// a win when its realized trade-log flows net positive.
func ComputeStatistics(initialCash float64, rows []engine.DayResult, pf *portfolio.Portfolio) Statistics {
	stats := Statistics{Days: len(rows)}
	if len(rows) == 0 || initialCash == 0 {
		return stats
	}

	stats.FinalEquity = rows[len(rows)-1].Equity()
	stats.TotalReturnPct = (stats.FinalEquity - initialCash) / initialCash

	peak := rows[0].Equity()
	for _, row := range rows {
		eq := row.Equity()
		if eq > peak {
			peak = eq
		}
		if peak > 0 {
			dd := (peak - eq) / peak
			if dd > stats.MaxDrawdownPct {
				stats.MaxDrawdownPct = dd
			}
		}
	}

	if pf == nil {
		return stats
	}
	realized := make(map[int]float64)
	for _, entry := range pf.TradeLog {
		delta, _ := entry.CashDelta.Float64()
		realized[entry.PositionIndex] += delta
	}
	for idx, pos := range pf.Positions {
		if pos.Status != portfolio.StatusClosed {
			continue
		}
		stats.TotalTrades++
		if realized[idx] > 0 {
			stats.WinningTrades++
		} else {
			stats.LosingTrades++
		}
	}
	if stats.TotalTrades > 0 {
		stats.WinRate = float64(stats.WinningTrades) / float64(stats.TotalTrades)
	}
	return stats
}

// Store persists runs to one JSON file, newest write wins, safe for
// concurrent readers (the report server) alongside a writer.
type Store struct {
	mu   sync.RWMutex
	path string
	data *storeData
}

type storeData struct {
	Runs        map[string]*Run `json:"runs"`
	LastUpdated time.Time       `json:"last_updated"`
}

// NewStore opens or creates the store at path.
func NewStore(path string) (*Store, error) {
	s := &Store{
		path: path,
		data: &storeData{Runs: make(map[string]*Run)},
	}

	if _, err := os.Stat(path); err == nil {
		if err := s.load(); err != nil {
			return nil, fmt.Errorf("loading results store: %w", err)
		}
	}
	return s, nil
}

func (s *Store) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, &s.data); err != nil {
		return err
	}
	if s.data.Runs == nil {
		s.data.Runs = make(map[string]*Run)
	}
	return nil
}

// SaveRun stores the run under its name and flushes to disk.
func (s *Store) SaveRun(run *Run) error {
	if run == nil || run.Name == "" {
		return fmt.Errorf("run name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	s.data.Runs[run.Name] = run
	return s.save()
}

// save flushes under the held lock: temp file then atomic rename.
func (s *Store) save() error {
	s.data.LastUpdated = time.Now().UTC()

	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmpFile := s.path + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpFile, s.path)
}

// GetRun returns the named run, or nil if absent.
func (s *Store) GetRun(name string) *Run {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.Runs[name]
}

// RunNames lists stored runs sorted by name.
func (s *Store) RunNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.data.Runs))
	for name := range s.data.Runs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Latest returns the most recently created run, or nil if empty.
func (s *Store) Latest() *Run {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *Run
	for _, run := range s.data.Runs {
		if latest == nil || run.CreatedAt.After(latest.CreatedAt) {
			latest = run
		}
	}
	return latest
}
