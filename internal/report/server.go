// Package report serves backtest results over HTTP: JSON endpoints for
// scripted analysis plus a minimal HTML summary page.
package report

import (
	"context"
	"embed"
	"encoding/json"
	"html/template"
	"net/http"
	"time"

	"github.com/eddiefleurent/scranton_backtester/internal/results"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

//go:embed web/templates/*
var templateFS embed.FS

// Server exposes a read-only view over a results store. It never mutates
// the store, so it is safe to run alongside a backtest writing new runs.
type Server struct {
	router *chi.Mux
	server *http.Server
	store  *results.Store
	logger *logrus.Logger
	addr   string
}

type Config struct {
	Addr string
}

// SummaryView is the payload for the HTML index and /api/summary.
type SummaryView struct {
	Runs       []RunView
	LastUpdate time.Time
}

// RunView flattens a stored run into the fields the summary cares about.
type RunView struct {
	Name           string    `json:"name"`
	Underlying     string    `json:"underlying"`
	Model          string    `json:"model"`
	CreatedAt      time.Time `json:"created_at"`
	Days           int       `json:"days"`
	FinalEquity    float64   `json:"final_equity"`
	TotalReturnPct float64   `json:"total_return_pct"`
	MaxDrawdownPct float64   `json:"max_drawdown_pct"`
	TotalTrades    int       `json:"total_trades"`
	WinRatePct     float64   `json:"win_rate_pct"`
	IsProfit       bool      `json:"is_profit"`
}

func NewServer(cfg Config, store *results.Store, logger *logrus.Logger) *Server {
	s := &Server{
		router: chi.NewRouter(),
		store:  store,
		logger: logger,
		addr:   cfg.Addr,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Get("/", s.handleIndex)
	s.router.Get("/api/runs", s.handleListRuns)
	s.router.Get("/api/runs/{name}", s.handleGetRun)
	s.router.Get("/api/runs/{name}/rows", s.handleGetRows)
	s.router.Get("/api/runs/{name}/trades", s.handleGetTrades)
	s.router.Get("/api/runs/{name}/attribution", s.handleGetAttribution)
	s.router.Get("/api/summary", s.handleSummary)
	s.router.Get("/health", s.handleHealth)
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    s.addr,
		Handler: s.router,
	}

	s.logger.Infof("Starting report server on %s", s.addr)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// Handler returns the underlying router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	tmpl, err := template.ParseFS(templateFS, "web/templates/index.html")
	if err != nil {
		s.logger.WithError(err).Error("Failed to parse index template")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	data := SummaryView{
		Runs:       s.runViews(),
		LastUpdate: time.Now(),
	}

	if err := tmpl.Execute(w, data); err != nil {
		s.logger.WithError(err).Error("Failed to execute index template")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.store.RunNames())
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run := s.lookupRun(w, r)
	if run == nil {
		return
	}
	s.writeJSON(w, run)
}

func (s *Server) handleGetRows(w http.ResponseWriter, r *http.Request) {
	run := s.lookupRun(w, r)
	if run == nil {
		return
	}
	s.writeJSON(w, run.Rows)
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	run := s.lookupRun(w, r)
	if run == nil {
		return
	}
	s.writeJSON(w, run.Trades)
}

func (s *Server) handleGetAttribution(w http.ResponseWriter, r *http.Request) {
	run := s.lookupRun(w, r)
	if run == nil {
		return
	}
	s.writeJSON(w, run.Attribution)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.runViews())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"runs":      len(s.store.RunNames()),
		"timestamp": time.Now().Unix(),
	}
	s.writeJSON(w, health)
}

func (s *Server) lookupRun(w http.ResponseWriter, r *http.Request) *results.Run {
	name := chi.URLParam(r, "name")
	run := s.store.GetRun(name)
	if run == nil {
		http.Error(w, "Not Found", http.StatusNotFound)
		return nil
	}
	return run
}

func (s *Server) runViews() []RunView {
	names := s.store.RunNames()
	views := make([]RunView, 0, len(names))
	for _, name := range names {
		run := s.store.GetRun(name)
		if run == nil {
			continue
		}
		views = append(views, RunView{
			Name:           run.Name,
			Underlying:     run.Underlying,
			Model:          run.Model,
			CreatedAt:      run.CreatedAt,
			Days:           run.Stats.Days,
			FinalEquity:    run.Stats.FinalEquity,
			TotalReturnPct: run.Stats.TotalReturnPct,
			MaxDrawdownPct: run.Stats.MaxDrawdownPct,
			TotalTrades:    run.Stats.TotalTrades,
			WinRatePct:     run.Stats.WinRate * 100,
			IsProfit:       run.Stats.FinalEquity >= run.InitialCash,
		})
	}
	return views
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}
