// Package quote fetches an optional market snapshot for the synthesis
// prompt. Providers are tried in order and the first usable quote wins.
package quote

import (
	"context"
	"errors"
	"log/slog"

	"github.com/seenimoa/tickerpulse/internal/logging"
	"github.com/seenimoa/tickerpulse/pkg/models"
)

// ErrNoQuote is returned by a provider that has nothing for the symbol.
var ErrNoQuote = errors.New("quote: no data")

// Provider returns a snapshot for one symbol.
type Provider interface {
	Name() string
	Quote(ctx context.Context, symbol string) (*models.Quote, error)
}

// Quota gates metered providers.
type Quota interface {
	Allow(provider string) bool
	Record(provider string)
}

// Entry is one provider in the chain. An empty QuotaKey means ungated.
type Entry struct {
	Provider Provider
	QuotaKey string
}

// Chain tries providers in order.
type Chain struct {
	entries []Entry
	quota   Quota
	log     *slog.Logger
}

// NewChain builds a chain. quota may be nil when no entry is gated.
func NewChain(quota Quota, entries ...Entry) *Chain {
	return &Chain{entries: entries, quota: quota, log: logging.For("quote")}
}

// Len reports the number of configured providers.
func (c *Chain) Len() int { return len(c.entries) }

// Get returns the first usable quote, or nil. Failures are logged, never
// returned: the quote is optional context.
func (c *Chain) Get(ctx context.Context, symbol string) *models.Quote {
	log := logging.FromContext(ctx, c.log).With("symbol", symbol)
	for _, e := range c.entries {
		if e.QuotaKey != "" && c.quota != nil {
			if !c.quota.Allow(e.QuotaKey) {
				log.Debug("quote provider over quota", "provider", e.Provider.Name())
				continue
			}
			c.quota.Record(e.QuotaKey)
		}
		q, err := e.Provider.Quote(ctx, symbol)
		if err != nil {
			if !errors.Is(err, ErrNoQuote) {
				log.Warn("quote provider failed", "provider", e.Provider.Name(), "error", err)
			}
			continue
		}
		if q != nil && q.Price > 0 {
			return q
		}
		if ctx.Err() != nil {
			return nil
		}
	}
	return nil
}
