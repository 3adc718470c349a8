package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/seenimoa/tickerpulse/internal/logging"
	"github.com/seenimoa/tickerpulse/pkg/models"
)

// Options selects and tunes the cache backend.
type Options struct {
	RestURL      string
	RestToken    string
	RedisURL     string
	NewsTTL      time.Duration
	SummaryTTL   time.Duration
	ProbeTimeout time.Duration
}

// NewsPayload is the cached form of one merged collection batch.
type NewsPayload struct {
	Symbol      string           `json:"symbol"`
	Articles    []models.Article `json:"articles"`
	Counts      map[string]int   `json:"counts"`
	CollectedAt time.Time        `json:"collected_at"`
}

// Layer exposes the two namespaces on top of the selected backend.
type Layer struct {
	backend    Backend
	memory     *MemoryCache // non-nil when the in-process backend is active
	newsTTL    time.Duration
	summaryTTL time.Duration
	status     Status
	log        *slog.Logger
}

// Open picks a backend. A configured Redis URL is tried first, then the
// REST service; the first that passes its probe wins. With neither
// configured, or when the probe fails, the in-process map is used.
func Open(ctx context.Context, opts Options) *Layer {
	log := logging.For("cache")
	probeTimeout := opts.ProbeTimeout
	if probeTimeout <= 0 {
		probeTimeout = 5 * time.Second
	}

	var (
		candidates []Backend
		reason     string
	)
	if opts.RedisURL != "" {
		rc, err := OpenRedis(opts.RedisURL)
		if err != nil {
			reason = err.Error()
		} else {
			candidates = append(candidates, rc)
		}
	}
	if opts.RestURL != "" && opts.RestToken != "" {
		candidates = append(candidates, NewRESTCache(opts.RestURL, opts.RestToken))
	}

	for _, b := range candidates {
		pctx, cancel := context.WithTimeout(ctx, probeTimeout)
		err := b.Ping(pctx)
		cancel()
		if err == nil {
			log.Info("remote cache connected", "backend", b.Name())
			return newLayer(b, opts, Status{Backend: b.Name(), Connected: true})
		}
		reason = err.Error()
		log.Warn("remote cache probe failed, falling back", "backend", b.Name(), "error", err)
		if rc, ok := b.(*RedisCache); ok {
			rc.Close()
		}
	}

	st := Status{Backend: "memory", Connected: true}
	if len(candidates) > 0 || reason != "" {
		st.Fallback = true
		st.Reason = reason
	}
	return NewLayer(NewMemoryCache(), opts, st)
}

// NewLayer builds a layer directly over a backend.
func NewLayer(b Backend, opts Options, st Status) *Layer {
	if st.Backend == "" {
		st = Status{Backend: b.Name(), Connected: true}
	}
	return newLayer(b, opts, st)
}

func newLayer(b Backend, opts Options, st Status) *Layer {
	l := &Layer{
		backend:    b,
		newsTTL:    opts.NewsTTL,
		summaryTTL: opts.SummaryTTL,
		status:     st,
		log:        logging.For("cache"),
	}
	if l.newsTTL <= 0 {
		l.newsTTL = 4 * time.Hour
	}
	if l.summaryTTL <= 0 {
		l.summaryTTL = 2 * time.Hour
	}
	if mc, ok := b.(*MemoryCache); ok {
		l.memory = mc
	}
	return l
}

// Backend returns the active backend.
func (l *Layer) Backend() Backend { return l.backend }

// NewsTTL returns the raw-article TTL.
func (l *Layer) NewsTTL() time.Duration { return l.newsTTL }

// GetNews returns the cached batch for symbol.
func (l *Layer) GetNews(ctx context.Context, symbol string) (*NewsPayload, bool) {
	var p NewsPayload
	if !l.getJSON(ctx, NewsKey(symbol), &p) {
		return nil, false
	}
	if len(p.Articles) == 0 {
		return nil, false
	}
	return &p, true
}

// PutNews caches a non-empty batch under the raw-article TTL.
// Empty batches are never written.
func (l *Layer) PutNews(ctx context.Context, p *NewsPayload) {
	if p == nil || len(p.Articles) == 0 {
		return
	}
	l.setJSON(ctx, NewsKey(p.Symbol), p, l.newsTTL)
}

// GetSummary returns the cached summary for symbol.
func (l *Layer) GetSummary(ctx context.Context, symbol string) (*models.SummaryRecord, bool) {
	var rec models.SummaryRecord
	if !l.getJSON(ctx, SummaryKey(symbol), &rec) {
		return nil, false
	}
	return &rec, true
}

// PutSummary caches rec under the summary TTL.
func (l *Layer) PutSummary(ctx context.Context, rec *models.SummaryRecord) {
	if rec == nil {
		return
	}
	l.setJSON(ctx, SummaryKey(rec.Symbol), rec, l.summaryTTL)
}

// HasNews reports whether raw articles are cached for symbol.
func (l *Layer) HasNews(ctx context.Context, symbol string) bool {
	return l.backend.Exists(ctx, NewsKey(symbol))
}

// HasSummary reports whether a summary is cached for symbol.
func (l *Layer) HasSummary(ctx context.Context, symbol string) bool {
	return l.backend.Exists(ctx, SummaryKey(symbol))
}

// Invalidate drops both namespaces for symbol.
func (l *Layer) Invalidate(ctx context.Context, symbol string) {
	l.backend.Delete(ctx, NewsKey(symbol), SummaryKey(symbol))
}

// Sweep drops expired in-process entries. Remote backends expire keys
// natively, so this is a no-op for them.
func (l *Layer) Sweep() int {
	if l.memory == nil {
		return 0
	}
	n := l.memory.Sweep()
	if n > 0 {
		l.log.Debug("swept expired entries", "removed", n, "remaining", l.memory.Len())
	}
	return n
}

// Status reports the backend in use.
func (l *Layer) Status() Status {
	st := l.status
	if l.memory != nil {
		st.Entries = l.memory.Len()
	}
	return st
}

func (l *Layer) getJSON(ctx context.Context, key string, v any) bool {
	data, ok := l.backend.Get(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		l.log.Warn("discarding undecodable entry", "key", key, "error", err)
		l.backend.Delete(ctx, key)
		return false
	}
	return true
}

func (l *Layer) setJSON(ctx context.Context, key string, v any, ttl time.Duration) {
	data, err := json.Marshal(v)
	if err != nil {
		l.log.Warn("encode cache entry failed", "key", key, "error", err)
		return
	}
	l.backend.Set(ctx, key, data, ttl)
}
