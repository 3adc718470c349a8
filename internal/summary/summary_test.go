package summary

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seenimoa/tickerpulse/internal/llm"
	"github.com/seenimoa/tickerpulse/pkg/models"
)

type reply struct {
	text string
	err  error
	none bool
}

type fakeGen struct {
	mu      sync.Mutex
	replies []reply
	prompts []string
	opts    []*llm.Options
}

func (f *fakeGen) Name() string                   { return llm.ProviderGemini }
func (f *fakeGen) Ping(ctx context.Context) error { return nil }

func (f *fakeGen) Generate(ctx context.Context, prompt string, opts *llm.Options) (*llm.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	f.opts = append(f.opts, opts)
	if len(f.replies) == 0 {
		return nil, errors.New("unexpected call")
	}
	r := f.replies[0]
	f.replies = f.replies[1:]
	if r.err != nil || r.none {
		return nil, r.err
	}
	return &llm.Response{Content: r.text, Provider: llm.ProviderGemini}, nil
}

func (f *fakeGen) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

type fakeQuota struct {
	deny      bool
	recorded  int
	exhausted []string
}

func (q *fakeQuota) Allow(string) bool { return !q.deny }
func (q *fakeQuota) Record(string)     { q.recorded++ }
func (q *fakeQuota) Exhaust(p string)  { q.exhausted = append(q.exhausted, p) }

var fixedNow = time.Date(2025, 3, 3, 14, 0, 0, 0, time.UTC)

func newCoordinator(gen *fakeGen, q *fakeQuota) *Coordinator {
	return New(gen, q, Options{Timeout: time.Second}).WithClock(func() time.Time { return fixedNow })
}

func articles(n int) []models.Article {
	out := make([]models.Article, n)
	for i := range out {
		out[i] = models.Article{
			Title:   fmt.Sprintf("Headline number %d", i+1),
			URL:     fmt.Sprintf("https://example.com/%d", i+1),
			Source:  "Finviz",
			Content: "body",
		}
	}
	return out
}

const narrative = `**EXECUTIVE SUMMARY**
Shares rose.

**WHAT CHANGED TODAY**
New product launch announced.
Guidance raised for Q3.

**MARKET IMPLICATIONS**
Upside.`

// ── Selection ──

func TestExactlyFiveArticlesSkipsRanking(t *testing.T) {
	gen := &fakeGen{replies: []reply{{text: narrative}}}
	q := &fakeQuota{}
	c := newCoordinator(gen, q)

	rec := c.Summarize(context.Background(), "AAPL", articles(5), nil, nil)

	assert.Equal(t, 1, gen.calls(), "only the synthesis call is made")
	assert.Len(t, rec.Articles, 5)
	assert.Equal(t, models.SummaryOK, rec.Status)
	assert.Equal(t, 1, q.recorded)
}

func TestRankingPicksIndices(t *testing.T) {
	gen := &fakeGen{replies: []reply{{text: "3, 1, 3, 99, 8"}}}
	c := newCoordinator(gen, &fakeQuota{})

	got := c.SelectTop(context.Background(), "AAPL", articles(8))

	require.Len(t, got, 3)
	assert.Equal(t, "Headline number 3", got[0].Title)
	assert.Equal(t, "Headline number 1", got[1].Title)
	assert.Equal(t, "Headline number 8", got[2].Title)
	require.Len(t, gen.opts, 1)
	assert.True(t, gen.opts[0].PrimaryOnly, "ranking must not fall back")
	assert.Contains(t, gen.prompts[0], "Article 8:")
}

func TestRankingFailuresUseCollectionOrder(t *testing.T) {
	tests := []struct {
		name  string
		reply reply
		deny  bool
	}{
		{"garbage", reply{text: "I think the best ones are the first"}, false},
		{"transport", reply{err: fmt.Errorf("%w: reset", llm.ErrProviderDown)}, false},
		{"rate limit", reply{err: llm.ErrRateLimit}, false},
		{"quota deny", reply{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &fakeGen{replies: []reply{tt.reply}}
			c := newCoordinator(gen, &fakeQuota{deny: tt.deny})
			got := c.SelectTop(context.Background(), "AAPL", articles(9))
			require.Len(t, got, 5)
			for i := range got {
				assert.Equal(t, fmt.Sprintf("Headline number %d", i+1), got[i].Title)
			}
			if tt.deny {
				assert.Zero(t, gen.calls())
			}
		})
	}
}

func TestParseIndices(t *testing.T) {
	assert.Equal(t, []int{0, 1, 2, 3, 4}, ParseIndices("1,2,3,4,5,6,7", 10, 5))
	assert.Equal(t, []int{1}, ParseIndices(" 2. , 0, -1, 2", 3, 5))
	assert.Empty(t, ParseIndices("none", 3, 5))
}

// ── Synthesis ──

func TestSummarizeOK(t *testing.T) {
	gen := &fakeGen{replies: []reply{{text: narrative}}}
	c := newCoordinator(gen, &fakeQuota{})
	history := []models.SummaryRecord{
		{Delta: strings.Repeat("x", 400)},
		{Delta: "Earnings beat"},
	}
	quote := &models.Quote{Symbol: "AAPL", Price: 190.5, Provider: "alpaca"}

	rec := c.Summarize(context.Background(), "AAPL", articles(3), history, quote)

	assert.Equal(t, models.SummaryOK, rec.Status)
	assert.Equal(t, narrative, rec.Narrative)
	assert.Equal(t, "New product launch announced. Guidance raised for Q3.", rec.Delta)
	assert.Equal(t, "2025-03-03", rec.Date)
	assert.Equal(t, fixedNow, rec.CreatedAt)
	assert.Equal(t, 3, rec.Sentiment.Articles)

	prompt := gen.prompts[0]
	assert.Contains(t, prompt, "Day 1: "+strings.Repeat("x", 300)+"\n")
	assert.Contains(t, prompt, "Day 2: Earnings beat")
	assert.Contains(t, prompt, "AAPL last 190.50")
}

func TestTransportErrorYieldsFallback(t *testing.T) {
	gen := &fakeGen{replies: []reply{{err: fmt.Errorf("%w: gemini: HTTP 503", llm.ErrProviderDown)}}}
	q := &fakeQuota{}
	c := newCoordinator(gen, q)

	rec := c.Summarize(context.Background(), "msft", articles(2), nil, nil)

	assert.Equal(t, models.SummaryFallback, rec.Status)
	assert.Equal(t, FallbackNarrative("msft"), rec.Narrative)
	assert.Equal(t, FallbackDelta, rec.Delta)
	assert.Len(t, rec.Articles, 2)
	assert.Empty(t, q.exhausted)
}

func TestRateLimitExhaustsLedger(t *testing.T) {
	gen := &fakeGen{replies: []reply{{err: fmt.Errorf("%w: 429", llm.ErrRateLimit)}}}
	q := &fakeQuota{}
	rec := newCoordinator(gen, q).Summarize(context.Background(), "AAPL", articles(2), nil, nil)

	assert.Equal(t, FallbackDelta, rec.Delta)
	assert.Equal(t, []string{llm.ProviderGemini}, q.exhausted)
}

func TestQuotaDenySkipsCall(t *testing.T) {
	gen := &fakeGen{}
	rec := newCoordinator(gen, &fakeQuota{deny: true}).Summarize(context.Background(), "AAPL", articles(2), nil, nil)

	assert.Zero(t, gen.calls())
	assert.Equal(t, models.SummaryFallback, rec.Status)
	assert.Equal(t, FallbackNarrative("AAPL"), rec.Narrative)
}

func TestOtherErrorYieldsErrorRecord(t *testing.T) {
	long := strings.Repeat("e", 500)
	gen := &fakeGen{replies: []reply{{err: errors.New(long)}}}
	rec := newCoordinator(gen, &fakeQuota{}).Summarize(context.Background(), "AAPL", articles(2), nil, nil)

	assert.Equal(t, models.SummaryFallback, rec.Status)
	assert.Equal(t, "API Error: "+strings.Repeat("e", 200), rec.Narrative)
	assert.Equal(t, ErrorDelta, rec.Delta)
}

func TestNilResponseYieldsErrorRecord(t *testing.T) {
	gen := &fakeGen{replies: []reply{{none: true}}}
	q := &fakeQuota{}
	var rec models.SummaryRecord
	require.NotPanics(t, func() {
		rec = newCoordinator(gen, q).Summarize(context.Background(), "AAPL", articles(2), nil, nil)
	})

	assert.Equal(t, models.SummaryFallback, rec.Status)
	assert.Equal(t, "API Error: "+llm.ErrEmptyResponse.Error(), rec.Narrative)
	assert.Equal(t, ErrorDelta, rec.Delta)
	assert.Len(t, rec.Articles, 2)
}

func TestBlankContentYieldsErrorRecord(t *testing.T) {
	gen := &fakeGen{replies: []reply{{text: "  \n "}}}
	rec := newCoordinator(gen, &fakeQuota{}).Summarize(context.Background(), "AAPL", articles(2), nil, nil)

	assert.Equal(t, models.SummaryFallback, rec.Status)
	assert.Equal(t, ErrorDelta, rec.Delta)
}

func TestNilRankingResponseUsesCollectionOrder(t *testing.T) {
	gen := &fakeGen{replies: []reply{{none: true}}}
	var got []models.Article
	require.NotPanics(t, func() {
		got = newCoordinator(gen, &fakeQuota{}).SelectTop(context.Background(), "AAPL", articles(8))
	})

	require.Len(t, got, 5)
	assert.Equal(t, "Headline number 1", got[0].Title)
}

func TestNoArticlesYieldsNoData(t *testing.T) {
	gen := &fakeGen{}
	rec := newCoordinator(gen, &fakeQuota{}).Summarize(context.Background(), "AAPL", nil, nil, nil)

	assert.Zero(t, gen.calls())
	assert.Equal(t, models.SummaryNoData, rec.Status)
	assert.Empty(t, rec.Articles)
}

// ── Delta extraction ──

func TestExtractDelta(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bold marker", narrative, "New product launch announced. Guidance raised for Q3."},
		{
			"plain marker stops at heading",
			"Intro\n\nWHAT CHANGED TODAY\n- Deal closed\n\n## Outlook\nlater",
			"- Deal closed",
		},
		{
			"title case with memo lines",
			"What Changed Today:\nTO: desk\n---\n**CEO resigned** effective immediately",
			"CEO resigned effective immediately",
		},
		{
			"empty section falls to tail scan",
			"**WHAT CHANGED TODAY**\n\n**KEY DEVELOPMENTS**\nA new partnership was signed today.",
			"A new partnership was signed today.",
		},
		{
			"tail scan ignores short lines",
			"Margins compressed sharply this quarter.\nnew today",
			NoDevelopments,
		},
		{"nothing", "Flat quarter with no surprises at all.", NoDevelopments},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractDelta(tt.in))
		})
	}
}
