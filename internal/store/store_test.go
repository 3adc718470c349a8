package store

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seenimoa/tickerpulse/pkg/models"
)

func openTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := Open(context.Background(), DriverSQLite, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func article(title, source string) models.Article {
	return models.Article{
		Title:       title,
		URL:         "https://example.com/" + strings.ReplaceAll(title, " ", "-"),
		Source:      source,
		Content:     title,
		PublishedAt: time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC),
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "x")
	assert.Error(t, err)
}

func TestEnsureSchemaIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.EnsureSchema(context.Background()))
}

func TestInsertIfAbsent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ok, err := s.InsertIfAbsent(ctx, "AAPL", article("Apple beats", "Finviz"))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.InsertIfAbsent(ctx, "AAPL", article("Apple beats", "Finviz"))
	require.NoError(t, err)
	assert.False(t, ok, "same natural key should be skipped")

	// Same title from another source or for another symbol is a new row.
	ok, err = s.InsertIfAbsent(ctx, "AAPL", article("Apple beats", "Polygon"))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.InsertIfAbsent(ctx, "MSFT", article("Apple beats", "Finviz"))
	require.NoError(t, err)
	assert.True(t, ok)

	n, err := s.CountArticles(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestUniqueViolationDetected(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	a := article("Raced insert", "Finviz")

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO news_articles (symbol, title, url, source, content, published_at, collected_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		"AAPL", a.Title, a.URL, a.Source, a.Content, a.PublishedAt, time.Now().UTC())
	require.NoError(t, err)

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO news_articles (symbol, title, url, source, content, published_at, collected_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		"AAPL", a.Title, a.URL, a.Source, a.Content, a.PublishedAt, time.Now().UTC())
	require.Error(t, err)
	assert.True(t, isUniqueViolation(err), "got %v", err)
	assert.False(t, isUniqueViolation(errors.New("disk full")))
}

func TestDeduplicatorSaveIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	d := NewDeduplicator(s)
	ctx := context.Background()

	batch := []models.Article{
		article("One", "Finviz"),
		article("Two", "Finviz"),
		article("Three", "Yahoo Finance"),
		{Title: "", Source: "Finviz"},
		{Title: "No source"},
	}

	saved, skipped, err := d.Save(ctx, "AAPL", batch)
	require.NoError(t, err)
	assert.Equal(t, 3, saved)
	assert.Equal(t, 2, skipped)

	saved, skipped, err = d.Save(ctx, "AAPL", batch)
	require.NoError(t, err)
	assert.Equal(t, 0, saved)
	assert.Equal(t, 5, skipped)

	n, err := s.CountArticles(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

type failingInserter struct{ calls int }

func (f *failingInserter) InsertIfAbsent(context.Context, string, models.Article) (bool, error) {
	f.calls++
	if f.calls == 2 {
		return false, errors.New("connection reset")
	}
	return true, nil
}

func TestDeduplicatorPropagatesOtherErrors(t *testing.T) {
	f := &failingInserter{}
	saved, _, err := NewDeduplicator(f).Save(context.Background(), "AAPL", []models.Article{
		article("a", "X"), article("b", "X"), article("c", "X"),
	})
	require.Error(t, err)
	assert.Equal(t, 1, saved)
	assert.Equal(t, 2, f.calls)
}

func TestClampTruncatesFields(t *testing.T) {
	a := clamp(models.Article{
		Title:   strings.Repeat("é", 600),
		URL:     strings.Repeat("u", 1200),
		Source:  "  " + strings.Repeat("s", 150),
		Content: strings.Repeat("c", 2500),
	})
	assert.Equal(t, 500, len([]rune(a.Title)))
	assert.Len(t, a.URL, 1000)
	assert.Len(t, a.Source, 100)
	assert.Len(t, a.Content, 2000)
}

func TestUpsertSummary(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := models.SummaryRecord{
		Symbol:    "AAPL",
		Date:      "2025-03-03",
		Narrative: "first",
		Delta:     "first delta",
		Articles:  []models.ArticleRef{{Title: "One", URL: "https://x/1", Source: "Finviz"}},
		Sentiment: models.Sentiment{Label: "Neutral", Articles: 1},
		Status:    models.SummaryOK,
		CreatedAt: time.Date(2025, 3, 3, 8, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.UpsertSummary(ctx, rec))

	rec.Narrative = "second"
	rec.Status = models.SummaryFallback
	require.NoError(t, s.UpsertSummary(ctx, rec))

	recs, err := s.RecentSummaries(ctx, "AAPL", 7)
	require.NoError(t, err)
	require.Len(t, recs, 1, "one record per (symbol, date)")
	assert.Equal(t, "second", recs[0].Narrative)
	assert.Equal(t, models.SummaryFallback, recs[0].Status)
	assert.Equal(t, rec.Articles, recs[0].Articles)
	assert.Equal(t, "Neutral", recs[0].Sentiment.Label)
	assert.True(t, rec.CreatedAt.Equal(recs[0].CreatedAt))

	ok, err := s.SummaryExists(ctx, "AAPL", "2025-03-03")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.SummaryExists(ctx, "AAPL", "2025-03-04")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRecentSummariesOrderAndLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for d := 1; d <= 9; d++ {
		require.NoError(t, s.UpsertSummary(ctx, models.SummaryRecord{
			Symbol: "AAPL",
			Date:   time.Date(2025, 3, d, 0, 0, 0, 0, time.UTC).Format(models.DateLayout),
			Status: models.SummaryOK,
		}))
	}

	recs, err := s.RecentSummaries(ctx, "AAPL", 7)
	require.NoError(t, err)
	require.Len(t, recs, 7)
	assert.Equal(t, "2025-03-09", recs[0].Date)
	assert.Equal(t, "2025-03-03", recs[6].Date)
	assert.NotNil(t, recs[0].Articles)

	latest, err := s.LatestSummary(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "2025-03-09", latest.Date)

	_, err = s.LatestSummary(ctx, "MSFT")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSymbols(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddSymbol(ctx, "AAPL"))
	require.NoError(t, s.AddSymbol(ctx, "MSFT"))
	assert.ErrorIs(t, s.AddSymbol(ctx, "AAPL"), ErrSymbolExists)

	syms, err := s.ListSymbols(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"AAPL", "MSFT"}, syms)

	ok, err := s.HasSymbol(ctx, "MSFT")
	require.NoError(t, err)
	assert.True(t, ok)

	// Removal cascades to articles and summaries.
	_, err = s.InsertIfAbsent(ctx, "AAPL", article("Gone soon", "Finviz"))
	require.NoError(t, err)
	require.NoError(t, s.UpsertSummary(ctx, models.SummaryRecord{Symbol: "AAPL", Date: "2025-03-03", Status: models.SummaryOK}))

	require.NoError(t, s.RemoveSymbol(ctx, "AAPL"))
	assert.ErrorIs(t, s.RemoveSymbol(ctx, "AAPL"), ErrNotFound)

	n, err := s.CountArticles(ctx, "AAPL")
	require.NoError(t, err)
	assert.Zero(t, n)
	_, err = s.LatestSummary(ctx, "AAPL")
	assert.ErrorIs(t, err, ErrNotFound)

	syms, err = s.ListSymbols(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"MSFT"}, syms)
}

func TestRebind(t *testing.T) {
	pg := &SQLStore{driver: DriverPostgres}
	assert.Equal(t, "SELECT 1 WHERE a = $1 AND b = $2", pg.rebind("SELECT 1 WHERE a = ? AND b = ?"))

	lite := &SQLStore{driver: DriverSQLite}
	assert.Equal(t, "a = ?", lite.rebind("a = ?"))
}
