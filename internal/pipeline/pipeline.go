// Package pipeline runs a symbol refresh end to end: collection, article
// persistence, summarization and summary persistence. The scheduler, the
// CLI and the HTTP API all enter through Service.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/seenimoa/tickerpulse/internal/aggregator"
	"github.com/seenimoa/tickerpulse/internal/logging"
	"github.com/seenimoa/tickerpulse/internal/store"
	"github.com/seenimoa/tickerpulse/pkg/models"
	"github.com/seenimoa/tickerpulse/pkg/utils"
)

// ErrInvalidSymbol is returned for malformed ticker input.
var ErrInvalidSymbol = errors.New("pipeline: invalid symbol")

// Collector gathers the merged article batch for a symbol.
type Collector interface {
	Collect(ctx context.Context, symbol string) (*aggregator.Batch, error)
}

// Summarizer produces the day's record from a batch.
type Summarizer interface {
	Summarize(ctx context.Context, symbol string, articles []models.Article,
		history []models.SummaryRecord, quote *models.Quote) models.SummaryRecord
	NoData(symbol string) models.SummaryRecord
	Today() string
	HistoryDays() int
}

// Store is the persistence the service needs.
type Store interface {
	store.ArticleInserter
	UpsertSummary(ctx context.Context, rec models.SummaryRecord) error
	SummaryExists(ctx context.Context, symbol, date string) (bool, error)
	RecentSummaries(ctx context.Context, symbol string, limit int) ([]models.SummaryRecord, error)
	ListSymbols(ctx context.Context) ([]string, error)
}

// SummaryCache holds the synthesized-summary namespace.
type SummaryCache interface {
	GetSummary(ctx context.Context, symbol string) (*models.SummaryRecord, bool)
	PutSummary(ctx context.Context, rec *models.SummaryRecord)
	Invalidate(ctx context.Context, symbol string)
}

// QuoteSource supplies optional market context. It may return nil.
type QuoteSource interface {
	Get(ctx context.Context, symbol string) *models.Quote
}

// Opts modifies a single refresh.
type Opts struct {
	// Force drops both cache namespaces before collecting.
	Force bool
}

// Result describes one completed refresh.
type Result struct {
	RunID         string                `json:"run_id"`
	Symbol        string                `json:"symbol"`
	Record        models.SummaryRecord  `json:"record"`
	Articles      int                   `json:"articles"`
	Saved         int                   `json:"saved"`
	Skipped       int                   `json:"skipped"`
	Counts        map[string]int        `json:"counts"`
	Sources       []models.SourceResult `json:"sources,omitempty"`
	NewsCached    bool                  `json:"news_cached"`
	SummaryCached bool                  `json:"summary_cached"`
	Persisted     bool                  `json:"persisted"`
	Elapsed       time.Duration         `json:"elapsed"`
}

// Config wires a Service.
type Config struct {
	Collector  Collector
	Summarizer Summarizer
	Store      Store
	Cache      SummaryCache // optional
	Quotes     QuoteSource  // optional
	Pause      time.Duration
}

// Service runs refreshes. Concurrent refreshes of the same symbol share a
// single in-flight run.
type Service struct {
	cfg    Config
	dedup  *store.Deduplicator
	flight singleflight.Group
	log    *slog.Logger
}

// New creates a Service.
func New(cfg Config) *Service {
	return &Service{
		cfg:   cfg,
		dedup: store.NewDeduplicator(cfg.Store),
		log:   logging.For("pipeline"),
	}
}

// Refresh collects, summarizes and persists symbol. A refresh that
// collects nothing yields a no_data record rather than an error.
func (s *Service) Refresh(ctx context.Context, symbol string, opts Opts) (*Result, error) {
	symbol = utils.NormalizeSymbol(symbol)
	if !utils.ValidSymbol(symbol) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSymbol, symbol)
	}

	ch := s.flight.DoChan(symbol, func() (any, error) {
		// The shared run outlives any single caller.
		return s.refresh(context.WithoutCancel(ctx), symbol, opts)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		res := r.Val.(*Result)
		if r.Shared {
			s.log.Debug("joined in-flight refresh", "symbol", symbol, "run_id", res.RunID)
		}
		return res, nil
	}
}

func (s *Service) refresh(ctx context.Context, symbol string, opts Opts) (*Result, error) {
	start := time.Now()
	runID := uuid.NewString()
	ctx = logging.WithRunID(ctx, runID)
	log := logging.FromContext(ctx, s.log).With("symbol", symbol)
	log.Info("refresh started", "force", opts.Force)

	if opts.Force && s.cfg.Cache != nil {
		s.cfg.Cache.Invalidate(ctx, symbol)
	}

	res := &Result{RunID: runID, Symbol: symbol}
	defer func() { res.Elapsed = time.Since(start) }()

	batch, err := s.cfg.Collector.Collect(ctx, symbol)
	if errors.Is(err, aggregator.ErrNoArticles) {
		if batch != nil {
			res.Counts, res.Sources = batch.Counts, batch.Results
		}
		return s.noData(ctx, log, res)
	}
	if err != nil {
		return nil, fmt.Errorf("refresh %s: %w", symbol, err)
	}
	res.Articles = len(batch.Articles)
	res.Counts = batch.Counts
	res.Sources = batch.Results
	res.NewsCached = batch.Cached

	res.Saved, res.Skipped, err = s.dedup.Save(ctx, symbol, batch.Articles)
	if err != nil {
		return nil, fmt.Errorf("refresh %s: save articles: %w", symbol, err)
	}

	rec, cached := s.summary(ctx, symbol, batch)
	res.SummaryCached = cached
	if err := s.cfg.Store.UpsertSummary(ctx, rec); err != nil {
		return nil, fmt.Errorf("refresh %s: save summary: %w", symbol, err)
	}
	res.Record = rec
	res.Persisted = true

	log.Info("refresh completed",
		"status", rec.Status,
		"articles", res.Articles,
		"saved", res.Saved,
		"skipped", res.Skipped,
		"news_cached", res.NewsCached,
		"summary_cached", res.SummaryCached,
		"elapsed", time.Since(start).Round(time.Millisecond))
	return res, nil
}

// summary reuses the cached record only when the articles also came from
// cache; otherwise it synthesizes and re-caches.
func (s *Service) summary(ctx context.Context, symbol string, batch *aggregator.Batch) (models.SummaryRecord, bool) {
	if batch.Cached && s.cfg.Cache != nil {
		if rec, ok := s.cfg.Cache.GetSummary(ctx, symbol); ok {
			return *rec, true
		}
	}

	history, err := s.history(ctx, symbol)
	if err != nil {
		logging.FromContext(ctx, s.log).Warn("history unavailable", "symbol", symbol, "error", err)
	}
	var quote *models.Quote
	if s.cfg.Quotes != nil {
		quote = s.cfg.Quotes.Get(ctx, symbol)
	}

	rec := s.cfg.Summarizer.Summarize(ctx, symbol, batch.Articles, history, quote)
	if s.cfg.Cache != nil && rec.Status == models.SummaryOK {
		s.cfg.Cache.PutSummary(ctx, &rec)
	}
	return rec, false
}

// history returns prior days' records, newest first, excluding today.
func (s *Service) history(ctx context.Context, symbol string) ([]models.SummaryRecord, error) {
	days := s.cfg.Summarizer.HistoryDays()
	recent, err := s.cfg.Store.RecentSummaries(ctx, symbol, days+1)
	if err != nil {
		return nil, err
	}
	today := s.cfg.Summarizer.Today()
	out := make([]models.SummaryRecord, 0, days)
	for _, r := range recent {
		if r.Date == today || r.Status == models.SummaryNoData {
			continue
		}
		out = append(out, r)
		if len(out) == days {
			break
		}
	}
	return out, nil
}

// noData persists the empty-day record unless the day already has one.
func (s *Service) noData(ctx context.Context, log *slog.Logger, res *Result) (*Result, error) {
	rec := s.cfg.Summarizer.NoData(res.Symbol)
	res.Record = rec

	exists, err := s.cfg.Store.SummaryExists(ctx, rec.Symbol, rec.Date)
	if err != nil {
		return nil, fmt.Errorf("refresh %s: %w", res.Symbol, err)
	}
	if exists {
		log.Warn("no articles collected, keeping existing record for today")
		return res, nil
	}
	if err := s.cfg.Store.UpsertSummary(ctx, rec); err != nil {
		return nil, fmt.Errorf("refresh %s: save summary: %w", res.Symbol, err)
	}
	res.Persisted = true
	log.Warn("no articles collected, stored empty record")
	return res, nil
}
