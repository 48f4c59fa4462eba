package report

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/eddiefleurent/scranton_backtester/internal/engine"
	"github.com/eddiefleurent/scranton_backtester/internal/results"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	store, err := results.NewStore(filepath.Join(t.TempDir(), "runs.json"))
	require.NoError(t, err)

	base := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveRun(&results.Run{
		Name:        "alpha",
		Underlying:  "SPY",
		Model:       "black_scholes",
		CreatedAt:   base,
		InitialCash: 10000,
		Rows: []engine.DayResult{
			{Date: base, PortfolioValue: 0, Cash: 10000},
			{Date: base.AddDate(0, 0, 1), PortfolioValue: 0, Cash: 10250},
		},
		Stats: results.Statistics{
			Days:           2,
			FinalEquity:    10250,
			TotalReturnPct: 2.5,
			TotalTrades:    1,
			WinningTrades:  1,
			WinRate:        1.0,
		},
	}))
	require.NoError(t, store.SaveRun(&results.Run{
		Name:        "beta",
		Underlying:  "SPY",
		Model:       "sabr",
		CreatedAt:   base.AddDate(0, 0, 5),
		InitialCash: 10000,
		Stats: results.Statistics{
			FinalEquity:    9800,
			TotalReturnPct: -2.0,
			TotalTrades:    2,
			LosingTrades:   2,
		},
	}))

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	srv := NewServer(Config{Addr: ":0"}, store, logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func getJSON(t *testing.T, url string, v interface{}) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	if v != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp
}

func TestListRuns(t *testing.T) {
	_, ts := newTestServer(t)

	var names []string
	resp := getJSON(t, ts.URL+"/api/runs", &names)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"alpha", "beta"}, names)
}

func TestGetRun(t *testing.T) {
	_, ts := newTestServer(t)

	var run results.Run
	resp := getJSON(t, ts.URL+"/api/runs/alpha", &run)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "alpha", run.Name)
	assert.Equal(t, "black_scholes", run.Model)
	assert.Len(t, run.Rows, 2)
}

func TestGetRunNotFound(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/runs/missing")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRunSubresources(t *testing.T) {
	_, ts := newTestServer(t)

	var rows []engine.DayResult
	resp := getJSON(t, ts.URL+"/api/runs/alpha/rows", &rows)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, rows, 2)
	assert.Equal(t, 10250.0, rows[1].Cash)

	resp = getJSON(t, ts.URL+"/api/runs/beta/rows", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSummary(t *testing.T) {
	_, ts := newTestServer(t)

	var views []RunView
	resp := getJSON(t, ts.URL+"/api/summary", &views)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, views, 2)

	assert.Equal(t, "alpha", views[0].Name)
	assert.Equal(t, 100.0, views[0].WinRatePct)
	assert.True(t, views[0].IsProfit)
	assert.False(t, views[1].IsProfit)
}

func TestIndexPage(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	html := string(body)
	assert.True(t, strings.Contains(html, "Backtest Results"))
	assert.True(t, strings.Contains(html, "alpha"))
	assert.True(t, strings.Contains(html, "beta"))
}

func TestHealth(t *testing.T) {
	_, ts := newTestServer(t)

	var health map[string]interface{}
	resp := getJSON(t, ts.URL+"/health", &health)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, 2.0, health["runs"])
}
