// Package config provides configuration management for the backtester.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

const (
	// defaultTimeStopDTE is the forced-exit days-to-expiration when
	// backtest.exit.time_stop_dte is unset (21 days).
	defaultTimeStopDTE = 21
	// defaultTickSize is used when backtest.costs.tick_size is unset.
	defaultTickSize = 0.01
	// defaultTieBreak resolves gap days that cross both exit thresholds.
	defaultTieBreak = "profit_first"
	// defaultExtrapolation is the surface policy beyond the quoted grid.
	defaultExtrapolation = "flat"
	// defaultResultsPath is where run artifacts land when unset.
	defaultResultsPath = "results/run.json"
)

// dateLayout is the wire format for all config dates.
const dateLayout = "2006-01-02"

// Config represents the complete application configuration.
type Config struct {
	Backtest BacktestConfig `yaml:"backtest"`
	Model    ModelConfig    `yaml:"model"`
	Data     DataConfig     `yaml:"data"`
	Results  ResultsConfig  `yaml:"results"`
	Report   ReportConfig   `yaml:"report"`
}

// BacktestConfig defines the simulation window, cash and trading rules.
type BacktestConfig struct {
	Underlying  string      `yaml:"underlying"`
	Start       string      `yaml:"start"` // YYYY-MM-DD
	End         string      `yaml:"end"`   // YYYY-MM-DD
	InitialCash float64     `yaml:"initial_cash"`
	Costs       CostsConfig `yaml:"costs"`
	Exit        ExitConfig  `yaml:"exit"`
}

// CostsConfig defines the transaction cost model.
type CostsConfig struct {
	PerContract float64 `yaml:"per_contract"`
	SlippagePct float64 `yaml:"slippage_pct"`
	TickSize    float64 `yaml:"tick_size"`
}

// ExitConfig defines position-closing thresholds.
type ExitConfig struct {
	ProfitTargetPct float64 `yaml:"profit_target_pct"`
	StopLossPct     float64 `yaml:"stop_loss_pct"`
	TimeStopDTE     int     `yaml:"time_stop_dte"`
	TieBreak        string  `yaml:"tie_break"` // profit_first | stop_first
}

// ModelConfig selects the pricing model and its parameters.
type ModelConfig struct {
	// Name is one of black_scholes, bachelier, sabr, surface_greeks.
	Name string `yaml:"name"`
	// Extrapolation is the surface policy beyond the grid: flat | error.
	Extrapolation string     `yaml:"extrapolation"`
	SABR          SABRConfig `yaml:"sabr"`
	Bumps         BumpConfig `yaml:"bumps"`
}

// SABRConfig holds Hagan expansion parameters, used when model.name is sabr.
type SABRConfig struct {
	Alpha float64 `yaml:"alpha"`
	Beta  float64 `yaml:"beta"`
	Rho   float64 `yaml:"rho"`
	Nu    float64 `yaml:"nu"`
}

// BumpConfig holds finite-difference steps for surface_greeks. Zero fields
// fall back to the pricing package defaults.
type BumpConfig struct {
	SpotPct  float64 `yaml:"spot_pct"`
	VolAbs   float64 `yaml:"vol_abs"`
	TimeDays int     `yaml:"time_days"`
	RateAbs  float64 `yaml:"rate_abs"`
}

// DataConfig defines where market data comes from.
type DataConfig struct {
	// Source is one of csv, synthetic, http.
	Source    string          `yaml:"source"`
	CSV       CSVConfig       `yaml:"csv"`
	Synthetic SyntheticConfig `yaml:"synthetic"`
	HTTP      HTTPConfig      `yaml:"http"`
}

// CSVConfig points at spot and vol-quote files.
type CSVConfig struct {
	SpotPath string `yaml:"spot_path"`
	VolPath  string `yaml:"vol_path"`
}

// SyntheticConfig seeds the deterministic data generator.
type SyntheticConfig struct {
	Seed      int64   `yaml:"seed"`
	Days      int     `yaml:"days"`
	StartSpot float64 `yaml:"start_spot"`
	Vol       float64 `yaml:"vol"`
	Drift     float64 `yaml:"drift"`
	Rate      float64 `yaml:"rate"`
}

// HTTPConfig defines the historical-quotes API client.
type HTTPConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Timeout string `yaml:"timeout"` // duration, e.g. "30s"
}

// ResultsConfig defines run artifact persistence.
type ResultsConfig struct {
	Path string `yaml:"path"`
}

// ReportConfig defines the read-only results dashboard.
type ReportConfig struct {
	Addr     string `yaml:"addr"` // empty disables the server
	LogLevel string `yaml:"log_level"`
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate checks that all configuration values are valid and consistent.
// Defaults are normalized in before validation runs.
func (c *Config) Validate() error {
	c.normalize()

	// Backtest validation
	if c.Backtest.Underlying == "" {
		return fmt.Errorf("backtest.underlying is required")
	}
	start, err := time.Parse(dateLayout, c.Backtest.Start)
	if err != nil {
		return fmt.Errorf("backtest.start invalid: %w", err)
	}
	end, err := time.Parse(dateLayout, c.Backtest.End)
	if err != nil {
		return fmt.Errorf("backtest.end invalid: %w", err)
	}
	if end.Before(start) {
		return fmt.Errorf("backtest.end (%s) must not precede backtest.start (%s)",
			c.Backtest.End, c.Backtest.Start)
	}
	if c.Backtest.InitialCash <= 0 {
		return fmt.Errorf("backtest.initial_cash must be > 0")
	}
	if c.Backtest.Costs.PerContract < 0 || c.Backtest.Costs.SlippagePct < 0 {
		return fmt.Errorf("backtest.costs must be >= 0")
	}
	if c.Backtest.Costs.SlippagePct >= 1 {
		return fmt.Errorf("backtest.costs.slippage_pct must be < 1")
	}
	if c.Backtest.Costs.TickSize <= 0 {
		return fmt.Errorf("backtest.costs.tick_size must be > 0")
	}
	if c.Backtest.Exit.ProfitTargetPct < 0 || c.Backtest.Exit.ProfitTargetPct >= 1 {
		return fmt.Errorf("backtest.exit.profit_target_pct must be in [0,1)")
	}
	if c.Backtest.Exit.StopLossPct < 0 {
		return fmt.Errorf("backtest.exit.stop_loss_pct must be >= 0")
	}
	if c.Backtest.Exit.TimeStopDTE < 0 {
		return fmt.Errorf("backtest.exit.time_stop_dte must be >= 0")
	}
	if tb := c.Backtest.Exit.TieBreak; tb != "profit_first" && tb != "stop_first" {
		return fmt.Errorf("backtest.exit.tie_break must be 'profit_first' or 'stop_first'")
	}

	// Model validation
	switch c.Model.Name {
	case "black_scholes", "bachelier", "surface_greeks":
	case "sabr":
		if c.Model.SABR.Alpha <= 0 {
			return fmt.Errorf("model.sabr.alpha must be > 0")
		}
		if c.Model.SABR.Beta < 0 || c.Model.SABR.Beta > 1 {
			return fmt.Errorf("model.sabr.beta must be in [0,1]")
		}
		if c.Model.SABR.Rho <= -1 || c.Model.SABR.Rho >= 1 {
			return fmt.Errorf("model.sabr.rho must be in (-1,1)")
		}
		if c.Model.SABR.Nu < 0 {
			return fmt.Errorf("model.sabr.nu must be >= 0")
		}
	default:
		return fmt.Errorf("model.name must be one of black_scholes, bachelier, sabr, surface_greeks")
	}
	if ex := c.Model.Extrapolation; ex != "flat" && ex != "error" {
		return fmt.Errorf("model.extrapolation must be 'flat' or 'error'")
	}
	if c.Model.Bumps.SpotPct < 0 || c.Model.Bumps.VolAbs < 0 ||
		c.Model.Bumps.TimeDays < 0 || c.Model.Bumps.RateAbs < 0 {
		return fmt.Errorf("model.bumps must be >= 0")
	}

	// Data validation
	switch c.Data.Source {
	case "csv":
		if c.Data.CSV.SpotPath == "" || c.Data.CSV.VolPath == "" {
			return fmt.Errorf("data.csv.spot_path and data.csv.vol_path are required")
		}
	case "synthetic":
		if c.Data.Synthetic.Days <= 0 {
			return fmt.Errorf("data.synthetic.days must be > 0")
		}
		if c.Data.Synthetic.StartSpot <= 0 {
			return fmt.Errorf("data.synthetic.start_spot must be > 0")
		}
		if c.Data.Synthetic.Vol <= 0 {
			return fmt.Errorf("data.synthetic.vol must be > 0")
		}
	case "http":
		if c.Data.HTTP.BaseURL == "" {
			return fmt.Errorf("data.http.base_url is required")
		}
		if c.Data.HTTP.APIKey == "" {
			return fmt.Errorf("data.http.api_key is required")
		}
		if _, err := time.ParseDuration(c.Data.HTTP.Timeout); err != nil {
			return fmt.Errorf("data.http.timeout invalid: %w", err)
		}
	default:
		return fmt.Errorf("data.source must be one of csv, synthetic, http")
	}

	return nil
}

// StartDate returns the parsed backtest start. Validate must have passed.
func (c *Config) StartDate() time.Time {
	d, _ := time.Parse(dateLayout, c.Backtest.Start)
	return d.UTC()
}

// EndDate returns the parsed backtest end. Validate must have passed.
func (c *Config) EndDate() time.Time {
	d, _ := time.Parse(dateLayout, c.Backtest.End)
	return d.UTC()
}

// HTTPTimeout returns the data client timeout duration.
func (c *Config) HTTPTimeout() time.Duration {
	d, err := time.ParseDuration(c.Data.HTTP.Timeout)
	if err != nil {
		return 30 * time.Second // default
	}
	return d
}

// normalize sets defaults for optional fields.
func (c *Config) normalize() {
	if c.Backtest.Exit.TieBreak == "" {
		c.Backtest.Exit.TieBreak = defaultTieBreak
	}
	if c.Backtest.Exit.TimeStopDTE == 0 {
		c.Backtest.Exit.TimeStopDTE = defaultTimeStopDTE
	}
	if c.Backtest.Costs.TickSize == 0 {
		c.Backtest.Costs.TickSize = defaultTickSize
	}
	if c.Model.Name == "" {
		c.Model.Name = "black_scholes"
	}
	if c.Model.Extrapolation == "" {
		c.Model.Extrapolation = defaultExtrapolation
	}
	if c.Data.Source == "" {
		c.Data.Source = "synthetic"
	}
	if c.Data.Source == "http" && c.Data.HTTP.Timeout == "" {
		c.Data.HTTP.Timeout = "30s"
	}
	if c.Results.Path == "" {
		c.Results.Path = defaultResultsPath
	}
	if c.Report.LogLevel == "" {
		c.Report.LogLevel = "info"
	}
}
