// Package summary turns a symbol's collected articles into one daily
// SummaryRecord: top-k selection, synthesis against recent history, and
// extraction of the day's delta.
package summary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/seenimoa/tickerpulse/internal/analysis/sentiment"
	"github.com/seenimoa/tickerpulse/internal/config"
	"github.com/seenimoa/tickerpulse/internal/llm"
	"github.com/seenimoa/tickerpulse/internal/logging"
	"github.com/seenimoa/tickerpulse/pkg/models"
	"github.com/seenimoa/tickerpulse/pkg/utils"
)

// Fixed texts for records built without a usable provider reply.
const (
	FallbackDelta = "API quota exceeded - manual review recommended."
	ErrorDelta    = "Unable to determine changes due to API error."
	NoDataDelta   = "No articles were collected today."

	maxErrorChars = 200
)

// FallbackNarrative is the narrative used when the provider is out of quota
// or unreachable.
func FallbackNarrative(symbol string) string {
	return fmt.Sprintf("Summary temporarily unavailable for %s due to API limits. Key articles collected from multiple sources.", symbol)
}

// Quota is the subset of the ledger the coordinator needs.
type Quota interface {
	Allow(provider string) bool
	Record(provider string)
	Exhaust(provider string)
}

// Options bounds selection and synthesis.
type Options struct {
	SelectCount  int           // articles kept for synthesis
	HistoryDays  int           // prior records fed as context
	HistoryChars int           // per-record truncation
	Timeout      time.Duration // synthesis call bound
	MaxTokens    int
	Temperature  float64
	Location     *time.Location // calendar for the record date
}

// OptionsFromConfig maps configuration onto coordinator options.
func OptionsFromConfig(cfg *config.Config) Options {
	opts := Options{
		SelectCount:  cfg.Summary.SelectCount,
		HistoryDays:  cfg.Summary.HistoryDays,
		HistoryChars: cfg.Summary.HistoryChars,
		Timeout:      cfg.LLM.Timeout(),
		MaxTokens:    cfg.LLM.MaxTokens,
		Temperature:  cfg.LLM.Temperature,
		Location:     utils.LoadLocation(cfg.Schedule.Timezone),
	}
	return opts
}

func (o *Options) fill() {
	if o.SelectCount <= 0 {
		o.SelectCount = 5
	}
	if o.HistoryDays <= 0 {
		o.HistoryDays = 7
	}
	if o.HistoryChars <= 0 {
		o.HistoryChars = 300
	}
	if o.Timeout <= 0 {
		o.Timeout = 60 * time.Second
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
}

// Coordinator produces summary records. It never returns an error: every
// failure path maps to a record with a non-ok status.
type Coordinator struct {
	gen   llm.Provider
	quota Quota
	key   string
	opts  Options
	now   func() time.Time
	log   *slog.Logger
}

// New creates a coordinator. Quota for every call is accounted against
// gen.Name(), the primary provider.
func New(gen llm.Provider, quota Quota, opts Options) *Coordinator {
	opts.fill()
	return &Coordinator{
		gen:   gen,
		quota: quota,
		key:   gen.Name(),
		opts:  opts,
		now:   time.Now,
		log:   logging.For("summary"),
	}
}

// WithClock overrides the coordinator's time source.
func (c *Coordinator) WithClock(now func() time.Time) *Coordinator {
	c.now = now
	return c
}

// Today returns the record date for the current instant.
func (c *Coordinator) Today() string {
	return c.now().In(c.opts.Location).Format(models.DateLayout)
}

// SelectCount reports how many articles a summary uses at most.
func (c *Coordinator) SelectCount() int { return c.opts.SelectCount }

// HistoryDays reports how many prior records Summarize expects.
func (c *Coordinator) HistoryDays() int { return c.opts.HistoryDays }

// NoData builds the record for a symbol whose collection came back empty.
func (c *Coordinator) NoData(symbol string) models.SummaryRecord {
	return models.SummaryRecord{
		Symbol:    symbol,
		Date:      c.Today(),
		Narrative: fmt.Sprintf("No news articles were found for %s today.", symbol),
		Delta:     NoDataDelta,
		Sentiment: models.Sentiment{Label: sentiment.LabelNeutral},
		Status:    models.SummaryNoData,
		CreatedAt: c.now(),
	}
}

// Summarize selects the top articles, synthesizes a narrative with history
// as context and extracts the delta. history is newest first.
func (c *Coordinator) Summarize(ctx context.Context, symbol string, articles []models.Article,
	history []models.SummaryRecord, quote *models.Quote) models.SummaryRecord {

	if len(articles) == 0 {
		return c.NoData(symbol)
	}
	log := logging.FromContext(ctx, c.log).With("symbol", symbol)

	selected := c.SelectTop(ctx, symbol, articles)
	rec := models.SummaryRecord{
		Symbol:    symbol,
		Date:      c.Today(),
		Articles:  refs(selected),
		Sentiment: sentiment.Aggregate(selected, c.now()),
		CreatedAt: c.now(),
	}

	if !c.admit() {
		log.Warn("text-generation quota exhausted, using fallback summary", "provider", c.key)
		return c.fallback(rec)
	}

	prompt := synthesisPrompt(symbol, selected, c.historyLines(history), quote.Snippet())
	callCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	resp, err := c.gen.Generate(callCtx, prompt, &llm.Options{
		System:      synthesisSystem,
		MaxTokens:   c.opts.MaxTokens,
		Temperature: c.opts.Temperature,
	})
	if err == nil && (resp == nil || strings.TrimSpace(resp.Content) == "") {
		err = llm.ErrEmptyResponse
	}
	switch {
	case err == nil:
		rec.Narrative = resp.Content
		rec.Delta = ExtractDelta(resp.Content)
		rec.Status = models.SummaryOK
		log.Info("summary generated", "provider", resp.Provider, "articles", len(selected),
			"tokens", resp.Usage.TotalTokens, "latency", resp.Latency.Round(time.Millisecond))
		return rec
	case llm.IsRateLimited(err):
		c.quota.Exhaust(c.key)
		log.Warn("text-generation rate limited, using fallback summary", "error", err)
		return c.fallback(rec)
	case llm.IsTransient(err) || errors.Is(callCtx.Err(), context.DeadlineExceeded):
		log.Warn("text-generation unavailable, using fallback summary", "error", err)
		return c.fallback(rec)
	default:
		log.Error("summary generation failed", "error", err)
		rec.Narrative = "API Error: " + clip(err.Error(), maxErrorChars)
		rec.Delta = ErrorDelta
		rec.Status = models.SummaryFallback
		return rec
	}
}

// SelectTop returns at most SelectCount articles. Up to that many are used
// as is; beyond it one ranking call picks them. Any ranking failure falls
// back to collection order.
func (c *Coordinator) SelectTop(ctx context.Context, symbol string, articles []models.Article) []models.Article {
	k := c.opts.SelectCount
	if len(articles) <= k {
		return articles
	}
	log := logging.FromContext(ctx, c.log).With("symbol", symbol)
	head := articles[:k]

	if !c.admit() {
		log.Warn("quota exhausted, ranking skipped", "provider", c.key)
		return head
	}

	callCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()
	resp, err := c.gen.Generate(callCtx, rankPrompt(symbol, articles), &llm.Options{
		System:      rankSystem,
		MaxTokens:   64,
		PrimaryOnly: true,
	})
	if err == nil && resp == nil {
		err = llm.ErrEmptyResponse
	}
	if err != nil {
		if llm.IsRateLimited(err) {
			c.quota.Exhaust(c.key)
		}
		log.Warn("ranking failed, using first articles", "error", err)
		return head
	}

	idx := ParseIndices(resp.Content, len(articles), k)
	if len(idx) == 0 {
		log.Warn("ranking reply unusable, using first articles", "reply", clip(resp.Content, 100))
		return head
	}
	out := make([]models.Article, 0, len(idx))
	for _, i := range idx {
		out = append(out, articles[i])
	}
	log.Debug("articles ranked", "selected", len(out), "of", len(articles))
	return out
}

// ParseIndices reads a comma-separated list of 1-based indices and returns
// distinct 0-based positions below n, at most limit of them.
func ParseIndices(reply string, n, limit int) []int {
	seen := make(map[int]bool)
	var out []int
	for _, field := range strings.Split(reply, ",") {
		field = strings.TrimRight(strings.TrimSpace(field), ".")
		v, err := strconv.Atoi(field)
		if err != nil || v < 1 || v > n || seen[v-1] {
			continue
		}
		seen[v-1] = true
		out = append(out, v-1)
		if len(out) == limit {
			break
		}
	}
	return out
}

func (c *Coordinator) admit() bool {
	if !c.quota.Allow(c.key) {
		return false
	}
	c.quota.Record(c.key)
	return true
}

func (c *Coordinator) historyLines(history []models.SummaryRecord) []string {
	if len(history) > c.opts.HistoryDays {
		history = history[:c.opts.HistoryDays]
	}
	lines := make([]string, 0, len(history))
	for _, h := range history {
		if h.Delta == "" {
			continue
		}
		lines = append(lines, clip(strings.ReplaceAll(h.Delta, "\n", " "), c.opts.HistoryChars))
	}
	return lines
}

func (c *Coordinator) fallback(rec models.SummaryRecord) models.SummaryRecord {
	rec.Narrative = FallbackNarrative(rec.Symbol)
	rec.Delta = FallbackDelta
	rec.Status = models.SummaryFallback
	return rec
}

func refs(articles []models.Article) []models.ArticleRef {
	out := make([]models.ArticleRef, len(articles))
	for i, a := range articles {
		out[i] = a.Ref()
	}
	return out
}
