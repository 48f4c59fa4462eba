package market

import (
	"fmt"
	"time"
)

// SurfaceConstructionError reports a malformed volatility grid. It is raised
// at construction time and never recovered from.
type SurfaceConstructionError struct {
	Underlying string
	Date       time.Time
	Reason     string
}

func (e *SurfaceConstructionError) Error() string {
	return fmt.Sprintf("vol surface %s@%s: %s",
		e.Underlying, e.Date.Format("2006-01-02"), e.Reason)
}

// MissingMarketDataError reports a query for a date the series has no data
// for. The backtest cannot invent data, so callers must treat this as fatal
// for the enclosing run.
type MissingMarketDataError struct {
	Underlying string
	Date       time.Time
	Field      string // spot | surface | rate | dividend_yield
}

func (e *MissingMarketDataError) Error() string {
	return fmt.Sprintf("no %s data for %s on %s",
		e.Field, e.Underlying, e.Date.Format("2006-01-02"))
}
