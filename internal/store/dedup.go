package store

import (
	"context"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/seenimoa/tickerpulse/internal/logging"
	"github.com/seenimoa/tickerpulse/pkg/models"
)

// Column bounds applied before insert.
const (
	maxTitle   = 500
	maxURL     = 1000
	maxSource  = 100
	maxContent = 2000
)

// ArticleInserter stores one article if its natural key is new.
type ArticleInserter interface {
	InsertIfAbsent(ctx context.Context, symbol string, a models.Article) (bool, error)
}

// Deduplicator saves collected articles, counting natural-key conflicts
// as skips rather than errors.
type Deduplicator struct {
	store ArticleInserter
	log   *slog.Logger
}

// NewDeduplicator wraps an article store.
func NewDeduplicator(s ArticleInserter) *Deduplicator {
	return &Deduplicator{store: s, log: logging.For("store")}
}

// Save persists articles for symbol. Articles missing a title or source
// are skipped. The first non-duplicate error stops the run and is returned
// with the counts so far.
func (d *Deduplicator) Save(ctx context.Context, symbol string, articles []models.Article) (saved, skipped int, err error) {
	for _, a := range articles {
		a = clamp(a)
		if a.Title == "" || a.Source == "" {
			skipped++
			continue
		}
		inserted, err := d.store.InsertIfAbsent(ctx, symbol, a)
		if err != nil {
			return saved, skipped, err
		}
		if inserted {
			saved++
		} else {
			skipped++
		}
	}
	logging.FromContext(ctx, d.log).Debug("articles saved", "symbol", symbol, "saved", saved, "skipped", skipped)
	return saved, skipped, nil
}

func clamp(a models.Article) models.Article {
	a.Title = truncate(strings.TrimSpace(a.Title), maxTitle)
	a.URL = truncate(a.URL, maxURL)
	a.Source = truncate(strings.TrimSpace(a.Source), maxSource)
	a.Content = truncate(a.Content, maxContent)
	return a
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
