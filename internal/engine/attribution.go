package engine

import (
	"fmt"
	"time"

	"github.com/eddiefleurent/scranton_backtester/internal/market"
)

// anchorTenorDays is the tenor at which the attribution reads each day's
// at-the-money vol level.
const anchorTenorDays = 30

// AttributionRow explains one day-over-day equity change as the sum of the
// Greek terms plus a residual. The terms always close exactly:
// TotalPnL = DeltaPnL + GammaPnL + VegaPnL + ThetaPnL + RhoPnL + Residual.
type AttributionRow struct {
	Date     time.Time `json:"date"`
	TotalPnL float64   `json:"total_pnl"`
	DeltaPnL float64   `json:"delta_pnl"`
	GammaPnL float64   `json:"gamma_pnl"`
	VegaPnL  float64   `json:"vega_pnl"`
	ThetaPnL float64   `json:"theta_pnl"`
	RhoPnL   float64   `json:"rho_pnl"`
	Residual float64   `json:"residual"`
}

// AttributePnL decomposes each consecutive pair of day rows with a
// second-order Taylor expansion, Greeks taken at the interval start:
//
//	dV ~ delta*dS + gamma*dS^2/2 + vega*dVol + theta*dt + rho*dRate
//
// The vol move is read at the surface's at-the-money anchor, so the term
// captures level shifts, not skew rotation; whatever the expansion cannot
// explain lands in the residual.
func AttributePnL(rows []DayResult, series *market.Series) ([]AttributionRow, error) {
	if len(rows) < 2 {
		return nil, nil
	}

	out := make([]AttributionRow, 0, len(rows)-1)
	for i := 1; i < len(rows); i++ {
		prev, cur := rows[i-1], rows[i]

		prevSpot, err := series.Spot(prev.Date)
		if err != nil {
			return nil, fmt.Errorf("attribution: %w", err)
		}
		curSpot, err := series.Spot(cur.Date)
		if err != nil {
			return nil, fmt.Errorf("attribution: %w", err)
		}
		prevVol, err := anchorVol(series, prev.Date, prevSpot)
		if err != nil {
			return nil, err
		}
		curVol, err := anchorVol(series, cur.Date, prevSpot)
		if err != nil {
			return nil, err
		}
		prevRate, err := series.Rate(prev.Date)
		if err != nil {
			return nil, fmt.Errorf("attribution: %w", err)
		}
		curRate, err := series.Rate(cur.Date)
		if err != nil {
			return nil, fmt.Errorf("attribution: %w", err)
		}

		dS := curSpot - prevSpot
		dVol := curVol - prevVol
		dRate := curRate - prevRate
		dt := float64(market.CalendarDays(prev.Date, cur.Date))

		g := prev.Greeks
		row := AttributionRow{
			Date:     cur.Date,
			TotalPnL: cur.Equity() - prev.Equity(),
			DeltaPnL: g.Delta * dS,
			GammaPnL: 0.5 * g.Gamma * dS * dS,
			// Vega and rho are quoted per 1% move.
			VegaPnL:  g.Vega * dVol * 100,
			RhoPnL:   g.Rho * dRate * 100,
			ThetaPnL: g.Theta * dt,
		}
		row.Residual = row.TotalPnL -
			(row.DeltaPnL + row.GammaPnL + row.VegaPnL + row.ThetaPnL + row.RhoPnL)
		out = append(out, row)
	}
	return out, nil
}

// anchorVol reads the surface's vol at the given strike and the anchor
// tenor; both days are read at the same strike so the difference is a
// level move.
func anchorVol(series *market.Series, date time.Time, strike float64) (float64, error) {
	surf, err := series.SurfaceAt(date)
	if err != nil {
		return 0, fmt.Errorf("attribution: %w", err)
	}
	vol, err := surf.AnchorVol(strike, anchorTenorDays)
	if err != nil {
		return 0, fmt.Errorf("attribution: anchor vol on %s: %w",
			date.Format("2006-01-02"), err)
	}
	return vol, nil
}
