package config

import (
	"path/filepath"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Backtest: BacktestConfig{
			Underlying:  "SPY",
			Start:       "2024-01-02",
			End:         "2024-06-28",
			InitialCash: 100000,
			Costs:       CostsConfig{PerContract: 0.65, SlippagePct: 0.01, TickSize: 0.01},
			Exit: ExitConfig{
				ProfitTargetPct: 0.25,
				StopLossPct:     1.0,
				TimeStopDTE:     21,
				TieBreak:        "profit_first",
			},
		},
		Model: ModelConfig{Name: "black_scholes", Extrapolation: "flat"},
		Data: DataConfig{
			Source:    "synthetic",
			Synthetic: SyntheticConfig{Seed: 42, Days: 120, StartSpot: 400, Vol: 0.2},
		},
	}
}

func TestLoad(t *testing.T) {
	configPath := filepath.Join("..", "..", "config.yaml.example")
	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Expected example config to load, got error: %v", err)
	}
	if cfg.Backtest.Underlying != "SPY" {
		t.Errorf("underlying = %q, want SPY", cfg.Backtest.Underlying)
	}
	if cfg.Model.Name != "black_scholes" {
		t.Errorf("model = %q, want black_scholes", cfg.Model.Name)
	}
}

func TestLoad_InvalidPath(t *testing.T) {
	if _, err := Load("nonexistent.yaml"); err == nil {
		t.Error("Expected error when loading nonexistent config file, got nil")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing underlying", func(c *Config) { c.Backtest.Underlying = "" }, true},
		{"bad start date", func(c *Config) { c.Backtest.Start = "Jan 2 2024" }, true},
		{"end before start", func(c *Config) { c.Backtest.End = "2023-12-29" }, true},
		{"zero cash", func(c *Config) { c.Backtest.InitialCash = 0 }, true},
		{"negative fee", func(c *Config) { c.Backtest.Costs.PerContract = -1 }, true},
		{"slippage full spread", func(c *Config) { c.Backtest.Costs.SlippagePct = 1 }, true},
		{"profit target over 1", func(c *Config) { c.Backtest.Exit.ProfitTargetPct = 1.5 }, true},
		{"bad tie break", func(c *Config) { c.Backtest.Exit.TieBreak = "chronological" }, true},
		{"unknown model", func(c *Config) { c.Model.Name = "heston" }, true},
		{"bad extrapolation", func(c *Config) { c.Model.Extrapolation = "cubic" }, true},
		{"sabr without alpha", func(c *Config) {
			c.Model.Name = "sabr"
			c.Model.SABR = SABRConfig{Alpha: 0, Beta: 1, Rho: -0.3, Nu: 0.4}
		}, true},
		{"sabr valid", func(c *Config) {
			c.Model.Name = "sabr"
			c.Model.SABR = SABRConfig{Alpha: 0.2, Beta: 1, Rho: -0.3, Nu: 0.4}
		}, false},
		{"csv without paths", func(c *Config) { c.Data = DataConfig{Source: "csv"} }, true},
		{"http without key", func(c *Config) {
			c.Data = DataConfig{Source: "http", HTTP: HTTPConfig{BaseURL: "https://x", Timeout: "30s"}}
		}, true},
		{"unknown source", func(c *Config) { c.Data.Source = "ftp" }, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr && err == nil {
				t.Error("expected validation error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestNormalizeDefaults(t *testing.T) {
	cfg := validConfig()
	cfg.Backtest.Exit.TieBreak = ""
	cfg.Backtest.Exit.TimeStopDTE = 0
	cfg.Backtest.Costs.TickSize = 0
	cfg.Model.Name = ""
	cfg.Model.Extrapolation = ""
	cfg.Results.Path = ""

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Backtest.Exit.TieBreak != "profit_first" {
		t.Errorf("tie_break default = %q", cfg.Backtest.Exit.TieBreak)
	}
	if cfg.Backtest.Exit.TimeStopDTE != 21 {
		t.Errorf("time_stop_dte default = %d", cfg.Backtest.Exit.TimeStopDTE)
	}
	if cfg.Backtest.Costs.TickSize != 0.01 {
		t.Errorf("tick_size default = %v", cfg.Backtest.Costs.TickSize)
	}
	if cfg.Model.Name != "black_scholes" {
		t.Errorf("model default = %q", cfg.Model.Name)
	}
	if cfg.Model.Extrapolation != "flat" {
		t.Errorf("extrapolation default = %q", cfg.Model.Extrapolation)
	}
	if cfg.Results.Path != "results/run.json" {
		t.Errorf("results path default = %q", cfg.Results.Path)
	}
}

func TestDateAccessors(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	want := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	if got := cfg.StartDate(); !got.Equal(want) {
		t.Errorf("StartDate = %v, want %v", got, want)
	}
	if got := cfg.EndDate(); got.Month() != time.June {
		t.Errorf("EndDate month = %v, want June", got.Month())
	}
}

func TestHTTPTimeout(t *testing.T) {
	cfg := validConfig()
	cfg.Data.HTTP.Timeout = "45s"
	if got := cfg.HTTPTimeout(); got != 45*time.Second {
		t.Errorf("HTTPTimeout = %v, want 45s", got)
	}
	cfg.Data.HTTP.Timeout = "bogus"
	if got := cfg.HTTPTimeout(); got != 30*time.Second {
		t.Errorf("HTTPTimeout fallback = %v, want 30s", got)
	}
}
