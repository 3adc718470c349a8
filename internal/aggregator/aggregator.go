// Package aggregator runs the registered source adapters for a symbol in
// bounded, deadline-limited tiers and merges their output into one batch.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/seenimoa/tickerpulse/internal/cache"
	"github.com/seenimoa/tickerpulse/internal/config"
	"github.com/seenimoa/tickerpulse/internal/logging"
	"github.com/seenimoa/tickerpulse/internal/source"
	"github.com/seenimoa/tickerpulse/pkg/models"
)

// ErrNoArticles is returned when every adapter came back empty or failed.
var ErrNoArticles = errors.New("aggregator: no articles collected from any source")

// errAbandoned marks an adapter whose result arrived after the tier deadline.
var errAbandoned = errors.New("abandoned at tier deadline")

// Quota is the subset of the ledger the orchestrator needs.
type Quota interface {
	Allow(provider string) bool
	Record(provider string)
	Exhaust(provider string)
}

// NewsCache is the raw-article namespace of the cache layer.
type NewsCache interface {
	GetNews(ctx context.Context, symbol string) (*cache.NewsPayload, bool)
	PutNews(ctx context.Context, p *cache.NewsPayload)
}

// TierOptions bounds one tier.
type TierOptions struct {
	Workers  int
	Timeout  time.Duration // per adapter attempt
	Deadline time.Duration // whole tier
}

// Options configures the orchestrator.
type Options struct {
	Priority          TierOptions
	Secondary         TierOptions
	SequentialTimeout time.Duration
}

// OptionsFromConfig converts the aggregation config section.
func OptionsFromConfig(c config.AggregationConfig) Options {
	sec := func(n int) time.Duration { return time.Duration(n) * time.Second }
	return Options{
		Priority: TierOptions{
			Workers:  c.PriorityWorkers,
			Timeout:  sec(c.PriorityTimeoutSec),
			Deadline: sec(c.PriorityDeadlineSec),
		},
		Secondary: TierOptions{
			Workers:  c.SecondaryWorkers,
			Timeout:  sec(c.SecondaryTimeoutSec),
			Deadline: sec(c.SecondaryDeadlineSec),
		},
		SequentialTimeout: sec(c.SequentialTimeoutSec),
	}
}

func (t TierOptions) withDefaults(workers int, timeout, deadline time.Duration) TierOptions {
	if t.Workers <= 0 {
		t.Workers = workers
	}
	if t.Timeout <= 0 {
		t.Timeout = timeout
	}
	if t.Deadline <= 0 {
		t.Deadline = deadline
	}
	return t
}

// Batch is the merged result of one collection.
type Batch struct {
	Symbol      string                `json:"symbol"`
	Articles    []models.Article      `json:"articles"`
	Counts      map[string]int        `json:"counts"`
	Results     []models.SourceResult `json:"results,omitempty"`
	Cached      bool                  `json:"cached"`
	CollectedAt time.Time             `json:"collected_at"`
}

// Err joins the per-source failures. It is for logging only; a batch
// with failures can still be complete enough to summarize.
func (b *Batch) Err() error {
	var errs []error
	for _, r := range b.Results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Name, r.Err))
		}
	}
	return errors.Join(errs...)
}

// Orchestrator fans a symbol out over the adapter registry.
type Orchestrator struct {
	priority   []source.Registration
	secondary  []source.Registration
	sequential []source.Registration

	quota Quota
	cache NewsCache
	opts  Options
	log   *slog.Logger
	now   func() time.Time
}

// New creates an orchestrator. quota and newsCache may be nil.
func New(regs []source.Registration, quota Quota, newsCache NewsCache, opts Options) *Orchestrator {
	opts.Priority = opts.Priority.withDefaults(3, 15*time.Second, 30*time.Second)
	opts.Secondary = opts.Secondary.withDefaults(5, 20*time.Second, 45*time.Second)
	if opts.SequentialTimeout <= 0 {
		opts.SequentialTimeout = 20 * time.Second
	}

	o := &Orchestrator{
		quota: quota,
		cache: newsCache,
		opts:  opts,
		log:   logging.For("aggregator"),
		now:   time.Now,
	}
	for _, r := range regs {
		switch r.Tier {
		case source.TierPriority:
			o.priority = append(o.priority, r)
		case source.TierSecondary:
			o.secondary = append(o.secondary, r)
		default:
			o.sequential = append(o.sequential, r)
		}
	}
	return o
}

// Sources returns the number of registered adapters.
func (o *Orchestrator) Sources() int {
	return len(o.priority) + len(o.secondary) + len(o.sequential)
}

// Collect returns the merged batch for symbol. A cached batch is returned
// as-is without invoking any adapter. When nothing was collected the
// batch is still returned, carrying its count map, alongside ErrNoArticles.
func (o *Orchestrator) Collect(ctx context.Context, symbol string) (*Batch, error) {
	log := logging.FromContext(ctx, o.log).With("symbol", symbol)

	if o.cache != nil {
		if p, ok := o.cache.GetNews(ctx, symbol); ok {
			log.Info("news cache hit", "articles", len(p.Articles))
			return &Batch{
				Symbol:      symbol,
				Articles:    p.Articles,
				Counts:      p.Counts,
				Cached:      true,
				CollectedAt: p.CollectedAt,
			}, nil
		}
	}

	start := o.now()
	m := newMerger(o.now)

	// Tiers run back to back so priority results are merged first.
	m.add(o.priority, o.runTier(ctx, symbol, o.priority, o.opts.Priority))
	if ctx.Err() == nil {
		m.add(o.secondary, o.runTier(ctx, symbol, o.secondary, o.opts.Secondary))
	}
	for _, reg := range o.sequential {
		if ctx.Err() != nil {
			break
		}
		m.add([]source.Registration{reg}, []outcome{o.launch(ctx, symbol, reg, o.opts.SequentialTimeout)})
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("collect %s: %w", symbol, err)
	}

	batch := &Batch{
		Symbol:      symbol,
		Articles:    m.articles,
		Counts:      m.counts,
		Results:     m.results,
		CollectedAt: start.UTC(),
	}
	o.logSummary(log, batch, o.now().Sub(start))

	if len(batch.Articles) == 0 {
		return batch, ErrNoArticles
	}

	if o.cache != nil {
		o.cache.PutNews(ctx, &cache.NewsPayload{
			Symbol:      symbol,
			Articles:    batch.Articles,
			Counts:      batch.Counts,
			CollectedAt: batch.CollectedAt,
		})
	}
	return batch, nil
}

func (o *Orchestrator) logSummary(log *slog.Logger, b *Batch, elapsed time.Duration) {
	var empty, failed, skipped []string
	for _, r := range b.Results {
		switch {
		case r.Skipped:
			skipped = append(skipped, r.Name)
		case r.Failed():
			failed = append(failed, r.Name+": "+r.Error)
		case r.Count == 0:
			empty = append(empty, r.Name)
		}
	}
	if len(empty) > 0 {
		log.Info("sources returned no articles", "sources", strings.Join(empty, ", "))
	}
	if len(failed) > 0 {
		log.Warn("sources failed", "sources", strings.Join(failed, "; "))
	}
	if len(skipped) > 0 {
		log.Info("sources skipped by quota", "sources", strings.Join(skipped, ", "))
	}
	log.Info("collection complete",
		"articles", len(b.Articles),
		"sources", len(b.Counts),
		"elapsed", elapsed.Round(time.Millisecond))
}
