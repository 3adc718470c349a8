// Package api provides the HTTP REST API server for TickerPulse.
//
// It exposes the tracked symbol list, the latest daily summary per symbol,
// manual refreshes, and the cache and quota state.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/seenimoa/tickerpulse/internal/cache"
	"github.com/seenimoa/tickerpulse/internal/config"
	"github.com/seenimoa/tickerpulse/internal/logging"
	"github.com/seenimoa/tickerpulse/internal/pipeline"
	"github.com/seenimoa/tickerpulse/internal/quota"
	"github.com/seenimoa/tickerpulse/internal/store"
	"github.com/seenimoa/tickerpulse/pkg/models"
	"github.com/seenimoa/tickerpulse/pkg/utils"
)

// Refresher runs a symbol refresh.
type Refresher interface {
	Refresh(ctx context.Context, symbol string, opts pipeline.Opts) (*pipeline.Result, error)
}

// Store is the persistence the handlers read and write.
type Store interface {
	AddSymbol(ctx context.Context, symbol string) error
	RemoveSymbol(ctx context.Context, symbol string) error
	ListSymbols(ctx context.Context) ([]string, error)
	RecentSummaries(ctx context.Context, symbol string, limit int) ([]models.SummaryRecord, error)
}

// Cache exposes cache presence and invalidation.
type Cache interface {
	HasNews(ctx context.Context, symbol string) bool
	HasSummary(ctx context.Context, symbol string) bool
	Invalidate(ctx context.Context, symbol string)
	Status() cache.Status
}

// Quota exposes the provider counters.
type Quota interface {
	Snapshot() map[string]quota.State
}

// Deps are the collaborators a Server is built from.
type Deps struct {
	Config      *config.Config
	Refresher   Refresher
	Store       Store
	Cache       Cache
	Quota       Quota
	HistoryDays int
	Version     string
}

// Server is the HTTP API server.
type Server struct {
	router      chi.Router
	cfg         *config.Config
	refresher   Refresher
	store       Store
	cache       Cache
	quota       Quota
	historyDays int
	version     string
	started     time.Time
	log         *slog.Logger
}

// NewServer creates a configured API server with all routes and middleware.
func NewServer(d Deps) *Server {
	if d.Config == nil {
		d.Config = &config.Config{}
	}
	if d.HistoryDays <= 0 {
		d.HistoryDays = 7
	}
	if d.Version == "" {
		d.Version = "dev"
	}
	s := &Server{
		cfg:         d.Config,
		refresher:   d.Refresher,
		store:       d.Store,
		cache:       d.Cache,
		quota:       d.Quota,
		historyDays: d.HistoryDays,
		version:     d.Version,
		started:     time.Now(),
		log:         logging.For("api"),
	}
	s.router = s.buildRouter()
	return s
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 180 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", "addr", addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// buildRouter configures all routes and middleware.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(170 * time.Second))

	// CORS
	origins := []string{"*"}
	if len(s.cfg.API.CORSOrigins) > 0 {
		origins = s.cfg.API.CORSOrigins
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// Tracked symbols
		r.Get("/symbols", s.handleListSymbols)
		r.Post("/symbols", s.handleAddSymbol)
		r.Delete("/symbols/{symbol}", s.handleRemoveSymbol)

		// Summaries
		r.Get("/summary/{symbol}", s.handleSummary)
		r.Post("/refresh/{symbol}", s.handleRefresh)

		// Operational state
		r.Get("/cache-status", s.handleCacheStatus)
		r.Get("/quota", s.handleQuota)
		r.Get("/config/keys", s.handleGetConfigKeys)
	})

	return r
}

// ============================================================
// Request / Response types
// ============================================================

// APIResponse is the standard JSON envelope.
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// AddSymbolRequest is the body for POST /api/symbols.
type AddSymbolRequest struct {
	Symbol string `json:"symbol"`
}

// HistoryEntry is one prior day in a summary response.
type HistoryEntry struct {
	Date   string               `json:"date"`
	Delta  string               `json:"delta"`
	Status models.SummaryStatus `json:"status"`
}

// CachePresence reports which namespaces hold the symbol.
type CachePresence struct {
	NewsCached    bool   `json:"news_cached"`
	SummaryCached bool   `json:"summary_cached"`
	Backend       string `json:"backend"`
}

// SummaryResponse is returned by GET /api/summary/{symbol}.
type SummaryResponse struct {
	Symbol         string               `json:"symbol"`
	CurrentSummary models.SummaryRecord `json:"current_summary"`
	History        []HistoryEntry       `json:"history"`
	QuotaRemaining map[string]int       `json:"quota_remaining"`
	Cache          CachePresence        `json:"cache"`
}

// ============================================================
// Handlers
// ============================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data: map[string]any{
			"status":   "ok",
			"version":  s.version,
			"uptime":   time.Since(s.started).Round(time.Second).String(),
			"time_ist": utils.FormatDateTime(time.Now(), utils.IST),
		},
	})
}

func (s *Server) handleListSymbols(w http.ResponseWriter, r *http.Request) {
	symbols, err := s.store.ListSymbols(r.Context())
	if err != nil {
		s.internalError(w, "list symbols", err)
		return
	}
	if symbols == nil {
		symbols = []string{}
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: symbols})
}

func (s *Server) handleAddSymbol(w http.ResponseWriter, r *http.Request) {
	var req AddSymbolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	symbol, ok := parseSymbol(w, req.Symbol)
	if !ok {
		return
	}

	err := s.store.AddSymbol(r.Context(), symbol)
	switch {
	case errors.Is(err, store.ErrSymbolExists):
		writeError(w, http.StatusConflict, symbol+" is already tracked")
	case err != nil:
		s.internalError(w, "add symbol", err)
	default:
		writeJSON(w, http.StatusCreated, APIResponse{Success: true, Data: map[string]string{"symbol": symbol}})
	}
}

func (s *Server) handleRemoveSymbol(w http.ResponseWriter, r *http.Request) {
	symbol, ok := parseSymbol(w, chi.URLParam(r, "symbol"))
	if !ok {
		return
	}

	err := s.store.RemoveSymbol(r.Context(), symbol)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, symbol+" is not tracked")
		return
	case err != nil:
		s.internalError(w, "remove symbol", err)
		return
	}
	s.cache.Invalidate(r.Context(), symbol)
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: map[string]string{"symbol": symbol}})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	symbol, ok := parseSymbol(w, chi.URLParam(r, "symbol"))
	if !ok {
		return
	}
	ctx := r.Context()

	records, err := s.store.RecentSummaries(ctx, symbol, s.historyDays+1)
	if err != nil {
		s.internalError(w, "load summaries", err)
		return
	}
	if len(records) == 0 {
		writeError(w, http.StatusNotFound, "no summary for "+symbol)
		return
	}

	history := make([]HistoryEntry, 0, len(records)-1)
	for _, rec := range records[1:] {
		history = append(history, HistoryEntry{Date: rec.Date, Delta: rec.Delta, Status: rec.Status})
	}

	writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data: SummaryResponse{
			Symbol:         symbol,
			CurrentSummary: records[0],
			History:        history,
			QuotaRemaining: s.remaining(),
			Cache: CachePresence{
				NewsCached:    s.cache.HasNews(ctx, symbol),
				SummaryCached: s.cache.HasSummary(ctx, symbol),
				Backend:       s.cache.Status().Backend,
			},
		},
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	symbol, ok := parseSymbol(w, chi.URLParam(r, "symbol"))
	if !ok {
		return
	}

	res, err := s.refresher.Refresh(r.Context(), symbol, pipeline.Opts{Force: true})
	switch {
	case errors.Is(err, pipeline.ErrInvalidSymbol):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "refresh did not finish in time")
	case err != nil:
		s.internalError(w, "refresh", err)
	default:
		writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: res})
	}
}

func (s *Server) handleCacheStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: s.cache.Status()})
}

func (s *Server) handleQuota(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: s.quota.Snapshot()})
}

// remaining maps each bounded provider to its calls left today.
func (s *Server) remaining() map[string]int {
	out := make(map[string]int)
	for name, st := range s.quota.Snapshot() {
		if left := st.Remaining(); left >= 0 {
			out[name] = left
		}
	}
	return out
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.log.Error(op+" failed", "error", err)
	writeError(w, http.StatusInternalServerError, op+" failed")
}

// parseSymbol normalizes raw and writes a 400 when it is not a ticker.
func parseSymbol(w http.ResponseWriter, raw string) (string, bool) {
	symbol := utils.NormalizeSymbol(raw)
	if !utils.ValidSymbol(symbol) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid symbol %q", raw))
		return "", false
	}
	return symbol, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Warn("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, APIResponse{
		Success: false,
		Error:   msg,
	})
}
