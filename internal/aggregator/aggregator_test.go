package aggregator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seenimoa/tickerpulse/internal/cache"
	"github.com/seenimoa/tickerpulse/internal/config"
	"github.com/seenimoa/tickerpulse/internal/source"
	"github.com/seenimoa/tickerpulse/pkg/models"
)

var published = time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC)

type fakeSource struct {
	name      string
	articles  []models.Article
	err       error
	failFirst int32         // number of initial calls that return err
	block     chan struct{} // when non-nil, Fetch waits for it to close
	delay     time.Duration

	calls    atomic.Int32
	inFlight *atomic.Int32
	maxSeen  *atomic.Int32
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Fetch(ctx context.Context, _ string) ([]models.Article, error) {
	n := f.calls.Add(1)
	if f.inFlight != nil {
		cur := f.inFlight.Add(1)
		defer f.inFlight.Add(-1)
		for {
			m := f.maxSeen.Load()
			if cur <= m || f.maxSeen.CompareAndSwap(m, cur) {
				break
			}
		}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil && (f.failFirst == 0 || n <= f.failFirst) {
		return nil, f.err
	}
	return f.articles, nil
}

func articles(src string, n int) []models.Article {
	out := make([]models.Article, n)
	for i := range out {
		out[i] = models.Article{
			Title:       fmt.Sprintf("%s headline %d", src, i+1),
			URL:         fmt.Sprintf("https://%s.example/%d", src, i+1),
			Source:      src,
			Content:     "body",
			PublishedAt: published,
		}
	}
	return out
}

type fakeQuota struct {
	mu        sync.Mutex
	deny      map[string]bool
	recorded  map[string]int
	exhausted map[string]int
}

func newFakeQuota(deny ...string) *fakeQuota {
	q := &fakeQuota{deny: map[string]bool{}, recorded: map[string]int{}, exhausted: map[string]int{}}
	for _, d := range deny {
		q.deny[d] = true
	}
	return q
}

func (q *fakeQuota) Allow(p string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return !q.deny[p]
}

func (q *fakeQuota) Record(p string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.recorded[p]++
}

func (q *fakeQuota) Exhaust(p string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.exhausted[p]++
}

func newsLayer() *cache.Layer {
	return cache.NewLayer(cache.NewMemoryCache(), cache.Options{NewsTTL: time.Hour}, cache.Status{})
}

func fastOptions() Options {
	return Options{
		Priority:          TierOptions{Workers: 3, Timeout: 5 * time.Second, Deadline: 150 * time.Millisecond},
		Secondary:         TierOptions{Workers: 5, Timeout: 5 * time.Second, Deadline: 150 * time.Millisecond},
		SequentialTimeout: time.Second,
	}
}

func TestCollectMixedOutcomes(t *testing.T) {
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })

	a := &fakeSource{name: "A", articles: articles("A", 3)}
	b := &fakeSource{name: "B", articles: articles("B", 4), block: block}
	c := &fakeSource{name: "C", articles: articles("C", 2)}
	d := &fakeSource{name: "D", articles: articles("D", 1)}
	q := newFakeQuota("d-quota")

	o := New([]source.Registration{
		{Source: a, Tier: source.TierPriority},
		{Source: b, Tier: source.TierPriority},
		{Source: c, Tier: source.TierSecondary},
		{Source: d, Tier: source.TierSecondary, QuotaKey: "d-quota"},
	}, q, nil, fastOptions())

	batch, err := o.Collect(context.Background(), "AAPL")
	require.NoError(t, err)

	assert.Len(t, batch.Articles, 5)
	assert.Equal(t, map[string]int{"A": 3, "B": 0, "C": 2}, batch.Counts)
	assert.False(t, batch.Cached)
	assert.Zero(t, d.calls.Load(), "denied adapter must not be invoked")
	assert.Zero(t, q.recorded["d-quota"])

	byName := map[string]models.SourceResult{}
	for _, r := range batch.Results {
		byName[r.Name] = r
	}
	assert.True(t, byName["B"].TimedOut)
	assert.True(t, byName["B"].Failed())
	assert.True(t, byName["D"].Skipped)
	assert.False(t, byName["A"].Failed())

	// Priority articles are merged ahead of secondary ones.
	assert.Equal(t, "A", batch.Articles[0].Source)
	assert.Equal(t, "C", batch.Articles[4].Source)
}

func TestCollectUnionAndCounts(t *testing.T) {
	regs := []source.Registration{
		{Source: &fakeSource{name: "P1", articles: articles("P1", 2)}, Tier: source.TierPriority},
		{Source: &fakeSource{name: "P2", articles: articles("P2", 1)}, Tier: source.TierPriority},
		{Source: &fakeSource{name: "S1", articles: articles("S1", 3)}, Tier: source.TierSecondary},
		{Source: &fakeSource{name: "S2", err: errors.New("boom")}, Tier: source.TierSecondary},
		{Source: &fakeSource{name: "Q1", articles: articles("Q1", 2)}, Tier: source.TierSequential},
	}
	o := New(regs, nil, nil, fastOptions())
	assert.Equal(t, 5, o.Sources())

	batch, err := o.Collect(context.Background(), "MSFT")
	require.NoError(t, err)
	assert.Len(t, batch.Counts, 5)
	assert.Equal(t, map[string]int{"P1": 2, "P2": 1, "S1": 3, "S2": 0, "Q1": 2}, batch.Counts)
	assert.Len(t, batch.Articles, 8)
	assert.Equal(t, "Q1", batch.Articles[7].Source)
}

func TestCollectAllFailed(t *testing.T) {
	layer := newsLayer()
	o := New([]source.Registration{
		{Source: &fakeSource{name: "A", err: errors.New("down")}, Tier: source.TierPriority},
		{Source: &fakeSource{name: "B"}, Tier: source.TierSecondary},
	}, nil, layer, fastOptions())

	batch, err := o.Collect(context.Background(), "AAPL")
	require.ErrorIs(t, err, ErrNoArticles)
	require.NotNil(t, batch)
	assert.Equal(t, map[string]int{"A": 0, "B": 0}, batch.Counts)
	assert.False(t, layer.HasNews(context.Background(), "AAPL"), "empty batch must not be cached")
}

func TestCollectCacheHitSkipsAdapters(t *testing.T) {
	src := &fakeSource{name: "A", articles: articles("A", 2)}
	o := New([]source.Registration{{Source: src, Tier: source.TierPriority}}, nil, newsLayer(), fastOptions())

	first, err := o.Collect(context.Background(), "AAPL")
	require.NoError(t, err)
	require.EqualValues(t, 1, src.calls.Load())

	second, err := o.Collect(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.EqualValues(t, 1, src.calls.Load(), "second collect should not invoke adapters")
	assert.True(t, second.Cached)
	assert.Equal(t, first.Articles, second.Articles)
	assert.Equal(t, first.Counts, second.Counts)
}

func TestRetryFlag(t *testing.T) {
	flaky := &fakeSource{name: "flaky", articles: articles("flaky", 1), err: errors.New("reset"), failFirst: 1}
	o := New([]source.Registration{{Source: flaky, Tier: source.TierSecondary, Retry: true}}, nil, nil, fastOptions())

	batch, err := o.Collect(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.EqualValues(t, 2, flaky.calls.Load())
	assert.Equal(t, 2, batch.Results[0].Attempts)
	assert.Equal(t, 1, batch.Counts["flaky"])
}

func TestRetryIgnoredWhenGated(t *testing.T) {
	gated := &fakeSource{name: "gated", err: errors.New("reset"), failFirst: 1, articles: articles("gated", 1)}
	q := newFakeQuota()
	o := New([]source.Registration{{Source: gated, Tier: source.TierSecondary, Retry: true, QuotaKey: "g"}}, q, nil, fastOptions())

	_, err := o.Collect(context.Background(), "AAPL")
	require.ErrorIs(t, err, ErrNoArticles)
	assert.EqualValues(t, 1, gated.calls.Load())
	assert.Equal(t, 1, q.recorded["g"])
}

func TestProviderQuotaErrorExhaustsLedger(t *testing.T) {
	q := newFakeQuota()
	src := &fakeSource{name: "poly", err: fmt.Errorf("polygon: %w", source.ErrQuotaExceeded)}
	o := New([]source.Registration{{Source: src, Tier: source.TierSecondary, QuotaKey: "polygon"}}, q, nil, fastOptions())

	_, err := o.Collect(context.Background(), "AAPL")
	require.ErrorIs(t, err, ErrNoArticles)
	assert.Equal(t, 1, q.recorded["polygon"])
	assert.Equal(t, 1, q.exhausted["polygon"])
}

func TestMergeNormalises(t *testing.T) {
	raw := []models.Article{
		{Title: "  Padded title  ", Source: "A", PublishedAt: published},
		{Title: "   ", Source: "A"},
		{Title: "No timestamp", Source: "A"},
		{Title: "padded TITLE", Source: "A", PublishedAt: published},
		{Title: "Padded title", Source: "A", PublishedAt: published},
		{Title: "Same title other source", Source: "B", PublishedAt: published},
		{Title: "Same title other source", Source: "A", PublishedAt: published},
	}
	o := New([]source.Registration{{Source: &fakeSource{name: "A", articles: raw}, Tier: source.TierPriority}}, nil, nil, fastOptions())

	batch, err := o.Collect(context.Background(), "AAPL")
	require.NoError(t, err)
	require.Len(t, batch.Articles, 5)
	assert.Equal(t, "Padded title", batch.Articles[0].Title)
	assert.False(t, batch.Articles[1].PublishedAt.IsZero())
	assert.Equal(t, "padded TITLE", batch.Articles[2].Title, "case variants are distinct articles")
	assert.Equal(t, 5, batch.Counts["A"])
}

func TestTierPoolIsBounded(t *testing.T) {
	var inFlight, maxSeen atomic.Int32
	var regs []source.Registration
	for i := 0; i < 6; i++ {
		name := fmt.Sprintf("S%d", i)
		regs = append(regs, source.Registration{
			Source: &fakeSource{name: name, articles: articles(name, 1), delay: 20 * time.Millisecond, inFlight: &inFlight, maxSeen: &maxSeen},
			Tier:   source.TierSecondary,
		})
	}
	opts := fastOptions()
	opts.Secondary = TierOptions{Workers: 2, Timeout: time.Second, Deadline: 2 * time.Second}

	batch, err := New(regs, nil, nil, opts).Collect(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Len(t, batch.Articles, 6)
	assert.LessOrEqual(t, maxSeen.Load(), int32(2))
}

func TestCollectCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	o := New([]source.Registration{{Source: &fakeSource{name: "A", articles: articles("A", 1)}, Tier: source.TierPriority}}, nil, nil, fastOptions())
	_, err := o.Collect(ctx, "AAPL")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOptionsFromConfig(t *testing.T) {
	opts := OptionsFromConfig(config.AggregationConfig{
		PriorityWorkers: 3, PriorityTimeoutSec: 15, PriorityDeadlineSec: 30,
		SecondaryWorkers: 5, SecondaryTimeoutSec: 20, SecondaryDeadlineSec: 45,
		SequentialTimeoutSec: 20,
	})
	assert.Equal(t, TierOptions{Workers: 3, Timeout: 15 * time.Second, Deadline: 30 * time.Second}, opts.Priority)
	assert.Equal(t, 45*time.Second, opts.Secondary.Deadline)
	assert.Equal(t, 20*time.Second, opts.SequentialTimeout)

	o := New(nil, nil, nil, Options{})
	assert.Equal(t, 3, o.opts.Priority.Workers)
	assert.Equal(t, 45*time.Second, o.opts.Secondary.Deadline)
}

func TestBatchErrJoinsFailures(t *testing.T) {
	boom := errors.New("boom")
	b := &Batch{Results: []models.SourceResult{
		{Name: "A", Count: 2},
		{Name: "B", Err: boom},
		{Name: "C", Err: errAbandoned, TimedOut: true},
	}}
	err := b.Err()
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, err, errAbandoned)
	assert.Contains(t, err.Error(), "B: boom")

	assert.NoError(t, (&Batch{}).Err())
}
