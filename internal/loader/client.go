package loader

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"

	"github.com/eddiefleurent/scranton_backtester/internal/market"
	"github.com/eddiefleurent/scranton_backtester/internal/retry"
)

// APIError represents a vendor error with status code and response body.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
}

// Client fetches historical spots and vol quotes from an HTTP vendor.
// Calls go through a circuit breaker and a bounded retry loop, so a
// flapping vendor degrades to a fast failure instead of a hang.
type Client struct {
	http     *http.Client
	breaker  *gobreaker.CircuitBreaker
	retryCfg retry.Config
	logger   *log.Logger
	baseURL  string
	apiKey   string
}

// NewClient builds a vendor client. A nil logger uses the process default.
func NewClient(baseURL, apiKey string, timeout time.Duration, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.Default()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "quotes-api",
		MaxRequests: 3,                // allow 3 requests when half-open
		Interval:    60 * time.Second, // reset counts every minute
		Timeout:     30 * time.Second, // open circuit for 30 seconds
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
	})
	return &Client{
		http:     &http.Client{Timeout: timeout},
		breaker:  breaker,
		retryCfg: retry.DefaultConfig,
		logger:   logger,
		baseURL:  baseURL,
		apiKey:   apiKey,
	}
}

// historyResponse is the vendor wire format: one object per trading day
// with its full quote grid.
type historyResponse struct {
	Days []historyDay `json:"days"`
}

type historyDay struct {
	Date          string     `json:"date"`
	Close         float64    `json:"close"`
	Rate          float64    `json:"rate"`
	DividendYield float64    `json:"dividend_yield"`
	Quotes        []volQuote `json:"quotes"`
}

type volQuote struct {
	Strike    float64 `json:"strike"`
	TenorDays int     `json:"tenor_days"`
	Vol       float64 `json:"vol"`
}

// FetchSeries downloads the symbol's history for [start, end] and builds a
// series from it.
func (c *Client) FetchSeries(ctx context.Context, symbol string, start, end time.Time, extrap market.Extrapolation) (*market.Series, error) {
	resp, err := retry.Do(ctx, c.logger, c.retryCfg, "fetch history",
		func(ctx context.Context) (*historyResponse, error) {
			return c.fetchHistory(ctx, symbol, start, end)
		})
	if err != nil {
		return nil, err
	}
	if len(resp.Days) == 0 {
		return nil, fmt.Errorf("vendor returned no history for %s", symbol)
	}

	snaps := make([]market.Snapshot, 0, len(resp.Days))
	for _, day := range resp.Days {
		date, err := time.Parse("2006-01-02", day.Date)
		if err != nil {
			return nil, fmt.Errorf("vendor history: bad date %q: %w", day.Date, err)
		}
		quotes := make([]market.VolQuote, 0, len(day.Quotes))
		for _, q := range day.Quotes {
			quotes = append(quotes, market.VolQuote{
				Strike:    q.Strike,
				TenorDays: q.TenorDays,
				Vol:       q.Vol,
			})
		}
		surf, err := market.NewSurface(symbol, date.UTC(), quotes, extrap)
		if err != nil {
			return nil, fmt.Errorf("vendor history %s: %w", day.Date, err)
		}
		snaps = append(snaps, market.Snapshot{
			Date:          date.UTC(),
			Spot:          day.Close,
			Surface:       surf,
			Rate:          day.Rate,
			DividendYield: day.DividendYield,
		})
	}
	return market.NewSeries(symbol, snaps)
}

func (c *Client) fetchHistory(ctx context.Context, symbol string, start, end time.Time) (*historyResponse, error) {
	res, err := c.breaker.Execute(func() (interface{}, error) {
		return c.doFetch(ctx, symbol, start, end)
	})
	if err != nil {
		return nil, err
	}
	resp, ok := res.(*historyResponse)
	if !ok {
		return nil, fmt.Errorf("circuit breaker: unexpected result type")
	}
	return resp, nil
}

func (c *Client) doFetch(ctx context.Context, symbol string, start, end time.Time) (*historyResponse, error) {
	u, err := url.Parse(c.baseURL + "/history")
	if err != nil {
		return nil, fmt.Errorf("bad base URL: %w", err)
	}
	q := u.Query()
	q.Set("symbol", symbol)
	q.Set("start", start.Format("2006-01-02"))
	q.Set("end", end.Format("2006-01-02"))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := res.Body.Close(); cerr != nil {
			c.logger.Printf("closing response body: %v", cerr)
		}
	}()

	body, err := io.ReadAll(io.LimitReader(res.Body, 32<<20))
	if err != nil {
		return nil, err
	}
	if res.StatusCode != http.StatusOK {
		return nil, &APIError{Status: res.StatusCode, Body: string(body)}
	}

	var parsed historyResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decoding history response: %w", err)
	}
	return &parsed, nil
}
