package loader

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/eddiefleurent/scranton_backtester/internal/market"
)

// Expected CSV layouts:
//
//	spot file: date,spot,rate,dividend_yield
//	vol file:  date,strike,tenor_days,vol
//
// Dates are YYYY-MM-DD; the vol file must cover every spot date.

// LoadCSV reads the two files and assembles a series, one surface per spot
// date.
func LoadCSV(underlying, spotPath, volPath string, extrap market.Extrapolation) (*market.Series, error) {
	spots, err := readSpotFile(spotPath)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", spotPath, err)
	}
	quotes, err := readVolFile(volPath)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", volPath, err)
	}

	snaps := make([]market.Snapshot, 0, len(spots))
	for _, row := range spots {
		dayQuotes := quotes[row.date.Format("2006-01-02")]
		if len(dayQuotes) == 0 {
			return nil, fmt.Errorf("loading %s: no vol quotes for %s",
				volPath, row.date.Format("2006-01-02"))
		}
		surf, err := market.NewSurface(underlying, row.date, dayQuotes, extrap)
		if err != nil {
			return nil, fmt.Errorf("building surface: %w", err)
		}
		snaps = append(snaps, market.Snapshot{
			Date:          row.date,
			Spot:          row.spot,
			Surface:       surf,
			Rate:          row.rate,
			DividendYield: row.div,
		})
	}
	return market.NewSeries(underlying, snaps)
}

type spotRow struct {
	date time.Time
	spot float64
	rate float64
	div  float64
}

func readSpotFile(path string) ([]spotRow, error) {
	f, err := os.Open(path) // #nosec G304 -- data file path comes from config
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = 4

	var rows []spotRow
	line := 0
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		line++
		if line == 1 && rec[0] == "date" {
			continue // header
		}
		date, err := time.Parse("2006-01-02", rec[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: bad date %q: %w", line, rec[0], err)
		}
		spot, err := parseFloat(rec[1], line, "spot")
		if err != nil {
			return nil, err
		}
		rate, err := parseFloat(rec[2], line, "rate")
		if err != nil {
			return nil, err
		}
		div, err := parseFloat(rec[3], line, "dividend_yield")
		if err != nil {
			return nil, err
		}
		rows = append(rows, spotRow{date: date.UTC(), spot: spot, rate: rate, div: div})
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no data rows")
	}
	return rows, nil
}

func readVolFile(path string) (map[string][]market.VolQuote, error) {
	f, err := os.Open(path) // #nosec G304 -- data file path comes from config
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = 4

	quotes := make(map[string][]market.VolQuote)
	line := 0
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		line++
		if line == 1 && rec[0] == "date" {
			continue // header
		}
		if _, err := time.Parse("2006-01-02", rec[0]); err != nil {
			return nil, fmt.Errorf("line %d: bad date %q: %w", line, rec[0], err)
		}
		strike, err := parseFloat(rec[1], line, "strike")
		if err != nil {
			return nil, err
		}
		tenor, err := strconv.Atoi(rec[2])
		if err != nil {
			return nil, fmt.Errorf("line %d: bad tenor_days %q: %w", line, rec[2], err)
		}
		vol, err := parseFloat(rec[3], line, "vol")
		if err != nil {
			return nil, err
		}
		quotes[rec[0]] = append(quotes[rec[0]], market.VolQuote{
			Strike:    strike,
			TenorDays: tenor,
			Vol:       vol,
		})
	}
	if len(quotes) == 0 {
		return nil, fmt.Errorf("no data rows")
	}
	return quotes, nil
}

func parseFloat(s string, line int, field string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("line %d: bad %s %q: %w", line, field, s, err)
	}
	return v, nil
}
