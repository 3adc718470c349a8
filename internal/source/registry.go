package source

import (
	"errors"
	"log/slog"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"github.com/seenimoa/tickerpulse/internal/config"
	"github.com/seenimoa/tickerpulse/internal/quota"
)

// Registry builds the adapter set from configuration. Keyed adapters
// whose credentials are missing are left out, as are adapters named in
// sources.disabled.
type Registry struct {
	regs   []Registration
	alpaca *marketdata.Client
}

// NewRegistry constructs every configured adapter.
func NewRegistry(cfg config.SourcesConfig, log *slog.Logger) *Registry {
	ua := WithUserAgent(cfg.UserAgent)
	r := &Registry{}

	add := func(s Source, tier Tier, retry bool, quotaKey string) {
		if cfg.IsDisabled(s.Name()) {
			log.Info("source disabled", "source", s.Name())
			return
		}
		r.regs = append(r.regs, Registration{Source: s, Tier: tier, Retry: retry, QuotaKey: quotaKey})
	}
	keyed := func(name string, s Source, err error, tier Tier, quotaKey string) {
		if err != nil {
			if errors.Is(err, ErrNotConfigured) {
				log.Debug("source not configured", "source", name)
			} else {
				log.Warn("source unavailable", "source", name, "error", err)
			}
			return
		}
		add(s, tier, false, quotaKey)
	}

	add(NewFinviz(ua), TierPriority, false, "")
	add(NewTradingView(ua), TierPriority, false, "")
	add(NewFeed(YahooFeed, ua), TierPriority, false, "")

	add(NewFeed(GoogleNewsFeed, ua), TierSecondary, true, "")
	add(NewFeed(SeekingAlphaFeed, ua), TierSecondary, true, "")
	add(NewFeed(NasdaqFeed, ua), TierSecondary, false, "")

	poly, err := NewPolygon(cfg.PolygonKey)
	keyed("Polygon", poly, err, TierSecondary, quota.Polygon)
	av, err := NewAlphaVantage(cfg.AlphaVantageKey)
	keyed("Alpha Vantage", av, err, TierSecondary, quota.AlphaVantage)
	fh, err := NewFinnhub(cfg.FinnhubKey)
	keyed("Finnhub", fh, err, TierSecondary, quota.Finnhub)

	if client, err := NewAlpacaClient(cfg.AlpacaKey, cfg.AlpacaSecret); err == nil {
		r.alpaca = client
		add(NewAlpaca(client), TierSequential, false, "")
	} else {
		log.Debug("source not configured", "source", "Alpaca")
	}

	return r
}

// Registrations returns the adapters in registration order.
func (r *Registry) Registrations() []Registration {
	out := make([]Registration, len(r.regs))
	copy(out, r.regs)
	return out
}

// AlpacaClient returns the shared market data client, or nil when
// Alpaca credentials are not configured.
func (r *Registry) AlpacaClient() *marketdata.Client { return r.alpaca }

// Names lists the registered adapter names.
func (r *Registry) Names() []string {
	names := make([]string, len(r.regs))
	for i, reg := range r.regs {
		names[i] = reg.Source.Name()
	}
	return names
}
