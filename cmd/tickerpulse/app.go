package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/seenimoa/tickerpulse/api"
	"github.com/seenimoa/tickerpulse/internal/aggregator"
	"github.com/seenimoa/tickerpulse/internal/cache"
	"github.com/seenimoa/tickerpulse/internal/config"
	"github.com/seenimoa/tickerpulse/internal/llm"
	"github.com/seenimoa/tickerpulse/internal/logging"
	"github.com/seenimoa/tickerpulse/internal/notify"
	"github.com/seenimoa/tickerpulse/internal/pipeline"
	"github.com/seenimoa/tickerpulse/internal/quota"
	"github.com/seenimoa/tickerpulse/internal/quote"
	"github.com/seenimoa/tickerpulse/internal/scheduler"
	"github.com/seenimoa/tickerpulse/internal/source"
	"github.com/seenimoa/tickerpulse/internal/store"
	"github.com/seenimoa/tickerpulse/internal/summary"
	"github.com/seenimoa/tickerpulse/pkg/utils"
)

// app holds the wired components for one process.
type app struct {
	cfg      *config.Config
	ledger   *quota.Ledger
	layer    *cache.Layer
	store    *store.SQLStore
	registry *source.Registry
	router   *llm.Router
	service  *pipeline.Service
	notifier *notify.Notifier // nil when mail is off
	log      *slog.Logger

	closers []func() error
}

// openStore connects only the relational store. Used by commands that do
// not collect or summarize.
func openStore(ctx context.Context, cfg *config.Config) (*store.SQLStore, error) {
	st, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("database setup failed: %w", err)
	}
	return st, nil
}

// newLedger builds the quota ledger, persisted when a state file is set.
func newLedger(cfg *config.Config) (*quota.Ledger, func() error, error) {
	opts := []quota.Option{quota.WithLocation(utils.LoadLocation(cfg.Quota.Timezone))}
	closer := func() error { return nil }
	if cfg.Quota.StateFile != "" {
		bs, err := quota.OpenBoltStore(cfg.Quota.StateFile)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, quota.WithStore(bs))
		closer = bs.Close
	}
	return quota.New(cfg.Quota.Limits, opts...), closer, nil
}

// newApp wires the full refresh pipeline.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, log: logging.For("app")}

	ledger, closeLedger, err := newLedger(cfg)
	if err != nil {
		return nil, err
	}
	a.ledger = ledger
	a.closers = append(a.closers, closeLedger)

	a.layer = cache.Open(ctx, cache.Options{
		RestURL:      cfg.Cache.RestURL,
		RestToken:    cfg.Cache.RestToken,
		RedisURL:     cfg.Cache.RedisURL,
		NewsTTL:      cfg.Cache.NewsTTL(),
		SummaryTTL:   cfg.Cache.SummaryTTL(),
		ProbeTimeout: time.Duration(cfg.Cache.ProbeTimeoutSec) * time.Second,
	})
	if c, ok := a.layer.Backend().(io.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store = st
	a.closers = append(a.closers, st.Close)

	a.router, err = llm.NewRouterFromConfig(cfg, llm.WithRateLimitHook(ledger.Exhaust))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("LLM setup failed: %w", err)
	}

	a.registry = source.NewRegistry(cfg.Sources, logging.For("source"))
	orch := aggregator.New(a.registry.Registrations(), ledger, a.layer, aggregator.OptionsFromConfig(cfg.Aggregation))
	coord := summary.New(a.router, ledger, summary.OptionsFromConfig(cfg))

	a.service = pipeline.New(pipeline.Config{
		Collector:  orch,
		Summarizer: coord,
		Store:      st,
		Cache:      a.layer,
		Quotes:     newQuoteChain(cfg, a.registry, ledger),
		Pause:      time.Duration(cfg.Schedule.PauseMillis) * time.Millisecond,
	})

	a.notifier = newNotifier(cfg, st)

	a.log.Info("pipeline ready",
		"sources", len(a.registry.Names()),
		"llm", a.router.ProviderNames(),
		"cache", a.layer.Status().Backend,
		"database", st.Driver())
	return a, nil
}

// newNotifier returns the digest mailer, or nil when notify is disabled.
func newNotifier(cfg *config.Config, summaries notify.Summaries) *notify.Notifier {
	if !cfg.Notify.Enabled {
		return nil
	}
	return notify.New(notify.NewSMTPSender(cfg.Notify), summaries, cfg.Notify,
		notify.WithLocation(utils.LoadLocation(cfg.Schedule.Timezone)))
}

// newQuoteChain orders quote providers: Alpaca first, then Alpha Vantage.
func newQuoteChain(cfg *config.Config, reg *source.Registry, ledger *quota.Ledger) *quote.Chain {
	var entries []quote.Entry
	if client := reg.AlpacaClient(); client != nil {
		entries = append(entries, quote.Entry{Provider: quote.NewAlpaca(client)})
	}
	if av, err := source.NewAlphaVantage(cfg.Sources.AlphaVantageKey, source.WithUserAgent(cfg.Sources.UserAgent)); err == nil {
		entries = append(entries, quote.Entry{Provider: quote.NewAlphaVantage(av), QuotaKey: quota.AlphaVantageQuote})
	}
	return quote.NewChain(ledger, entries...)
}

// seedSymbols tracks the configured defaults when the list is empty.
func (a *app) seedSymbols(ctx context.Context) error {
	existing, err := a.store.ListSymbols(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}
	for _, raw := range a.cfg.Schedule.SeedSymbols {
		sym := utils.NormalizeSymbol(raw)
		if !utils.ValidSymbol(sym) {
			a.log.Warn("skipping invalid seed symbol", "symbol", raw)
			continue
		}
		if err := a.store.AddSymbol(ctx, sym); err != nil && !errors.Is(err, store.ErrSymbolExists) {
			return err
		}
	}
	a.log.Info("seeded tracked symbols", "count", len(a.cfg.Schedule.SeedSymbols))
	return nil
}

// newScheduler builds the daily batch and cache sweep jobs.
func (a *app) newScheduler() (*scheduler.Scheduler, error) {
	cfg := scheduler.Config{
		Location:   utils.LoadLocation(a.cfg.Schedule.Timezone),
		SweepEvery: time.Duration(a.cfg.Cache.SweepIntervalSec) * time.Second,
		Sweep:      a.layer.Sweep,
	}
	if a.cfg.Schedule.Enabled {
		cfg.DailyAt = a.cfg.Schedule.DailyAt
		cfg.Daily = a.runDaily
	}
	return scheduler.New(cfg)
}

func (a *app) runDaily(ctx context.Context) {
	report, err := a.service.RefreshAll(ctx)
	if err != nil {
		a.log.Error("daily refresh failed", "error", err)
		return
	}
	a.log.Info("daily refresh report",
		"symbols", len(report.Symbols),
		"failed", report.Failed,
		"elapsed", report.Finished.Sub(report.Started).Round(time.Second))
	if err := a.sendDigest(ctx, report); err != nil {
		a.log.Error("daily digest failed", "error", err)
	}
}

// sendDigest mails the batch digest when a notifier is configured.
func (a *app) sendDigest(ctx context.Context, report *pipeline.BatchReport) error {
	if a.notifier == nil {
		return nil
	}
	return a.notifier.SendDigest(ctx, report)
}

func (a *app) newServer() *api.Server {
	return api.NewServer(api.Deps{
		Config:      a.cfg,
		Refresher:   a.service,
		Store:       a.store,
		Cache:       a.layer,
		Quota:       a.ledger,
		HistoryDays: a.cfg.Summary.HistoryDays,
		Version:     version,
	})
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}
