// Package store persists articles, daily summaries, and the tracked
// symbol list over database/sql. SQLite (modernc.org/sqlite) and
// PostgreSQL (lib/pq) are supported.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/seenimoa/tickerpulse/internal/logging"
	"github.com/seenimoa/tickerpulse/pkg/models"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrSymbolExists is returned when adding an already tracked symbol.
	ErrSymbolExists = errors.New("store: symbol already tracked")
)

// SQLStore is the relational store.
type SQLStore struct {
	db     *sql.DB
	driver string
	log    *slog.Logger
}

// Open connects to the database and prepares the schema.
func Open(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	switch driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("store: unsupported driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// A single connection serialises writers and keeps :memory: databases shared.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	s := New(db, driver)
	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing connection pool.
func New(db *sql.DB, driver string) *SQLStore {
	return &SQLStore{db: db, driver: driver, log: logging.For("store")}
}

// Close closes the connection pool.
func (s *SQLStore) Close() error { return s.db.Close() }

// Driver returns the configured driver name.
func (s *SQLStore) Driver() string { return s.driver }

// EnsureSchema creates the tables if they do not exist.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	idCol := "id INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.driver == DriverPostgres {
		idCol = "id BIGSERIAL PRIMARY KEY"
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS symbols (
			symbol   TEXT PRIMARY KEY,
			added_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS news_articles (
			` + idCol + `,
			symbol       TEXT NOT NULL,
			title        TEXT NOT NULL,
			url          TEXT NOT NULL DEFAULT '',
			source       TEXT NOT NULL,
			content      TEXT NOT NULL DEFAULT '',
			published_at TIMESTAMP NOT NULL,
			collected_at TIMESTAMP NOT NULL,
			UNIQUE (symbol, title, source)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_news_articles_symbol ON news_articles (symbol, published_at)`,
		`CREATE TABLE IF NOT EXISTS daily_summaries (
			symbol        TEXT NOT NULL,
			summary_date  TEXT NOT NULL,
			narrative     TEXT NOT NULL,
			delta         TEXT NOT NULL,
			articles_used TEXT NOT NULL DEFAULT '[]',
			sentiment     TEXT NOT NULL DEFAULT '{}',
			status        TEXT NOT NULL,
			created_at    TIMESTAMP NOT NULL,
			PRIMARY KEY (symbol, summary_date)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// --- Articles ---

// ArticleExists reports whether the natural key is already stored.
func (s *SQLStore) ArticleExists(ctx context.Context, symbol, title, source string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT 1 FROM news_articles WHERE symbol = ? AND title = ? AND source = ?`),
		symbol, title, source).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("article exists: %w", err)
	}
	return true, nil
}

// InsertIfAbsent stores a, keyed on (symbol, title, source). It reports
// false when the key already exists, whether found by the pre-check or
// raced in and rejected by the unique constraint.
func (s *SQLStore) InsertIfAbsent(ctx context.Context, symbol string, a models.Article) (bool, error) {
	exists, err := s.ArticleExists(ctx, symbol, a.Title, a.Source)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	_, err = s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO news_articles (symbol, title, url, source, content, published_at, collected_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`),
		symbol, a.Title, a.URL, a.Source, a.Content, a.PublishedAt.UTC(), time.Now().UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("insert article: %w", err)
	}
	return true, nil
}

// CountArticles returns the number of stored articles for symbol.
func (s *SQLStore) CountArticles(ctx context.Context, symbol string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT COUNT(*) FROM news_articles WHERE symbol = ?`), symbol).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count articles: %w", err)
	}
	return n, nil
}

// --- Summaries ---

// UpsertSummary inserts or replaces the record for (Symbol, Date).
func (s *SQLStore) UpsertSummary(ctx context.Context, rec models.SummaryRecord) error {
	refs := rec.Articles
	if refs == nil {
		refs = []models.ArticleRef{}
	}
	articlesJSON, err := json.Marshal(refs)
	if err != nil {
		return fmt.Errorf("encode articles_used: %w", err)
	}
	sentimentJSON, err := json.Marshal(rec.Sentiment)
	if err != nil {
		return fmt.Errorf("encode sentiment: %w", err)
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	_, err = s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO daily_summaries (symbol, summary_date, narrative, delta, articles_used, sentiment, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (symbol, summary_date) DO UPDATE SET
			narrative     = excluded.narrative,
			delta         = excluded.delta,
			articles_used = excluded.articles_used,
			sentiment     = excluded.sentiment,
			status        = excluded.status,
			created_at    = excluded.created_at`),
		rec.Symbol, rec.Date, rec.Narrative, rec.Delta, string(articlesJSON), string(sentimentJSON), string(rec.Status), created.UTC())
	if err != nil {
		return fmt.Errorf("upsert summary: %w", err)
	}
	return nil
}

// SummaryExists reports whether a record exists for (symbol, date).
func (s *SQLStore) SummaryExists(ctx context.Context, symbol, date string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT 1 FROM daily_summaries WHERE symbol = ? AND summary_date = ?`), symbol, date).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("summary exists: %w", err)
	}
	return true, nil
}

// RecentSummaries returns up to limit records for symbol, newest first.
func (s *SQLStore) RecentSummaries(ctx context.Context, symbol string, limit int) ([]models.SummaryRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT symbol, summary_date, narrative, delta, articles_used, sentiment, status, created_at
		 FROM daily_summaries WHERE symbol = ?
		 ORDER BY summary_date DESC LIMIT ?`), symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("recent summaries: %w", err)
	}
	defer rows.Close()

	var out []models.SummaryRecord
	for rows.Next() {
		rec, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recent summaries: %w", err)
	}
	return out, nil
}

// LatestSummary returns the newest record for symbol or ErrNotFound.
func (s *SQLStore) LatestSummary(ctx context.Context, symbol string) (*models.SummaryRecord, error) {
	recs, err := s.RecentSummaries(ctx, symbol, 1)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, ErrNotFound
	}
	return &recs[0], nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSummary(row scanner) (models.SummaryRecord, error) {
	var (
		rec                    models.SummaryRecord
		articlesJSON, sentJSON string
		status                 string
	)
	if err := row.Scan(&rec.Symbol, &rec.Date, &rec.Narrative, &rec.Delta, &articlesJSON, &sentJSON, &status, &rec.CreatedAt); err != nil {
		return rec, fmt.Errorf("scan summary: %w", err)
	}
	rec.Status = models.SummaryStatus(status)
	if err := json.Unmarshal([]byte(articlesJSON), &rec.Articles); err != nil {
		return rec, fmt.Errorf("decode articles_used: %w", err)
	}
	if sentJSON != "" {
		if err := json.Unmarshal([]byte(sentJSON), &rec.Sentiment); err != nil {
			return rec, fmt.Errorf("decode sentiment: %w", err)
		}
	}
	return rec, nil
}

// --- Symbols ---

// AddSymbol starts tracking symbol.
func (s *SQLStore) AddSymbol(ctx context.Context, symbol string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO symbols (symbol, added_at) VALUES (?, ?)`), symbol, time.Now().UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrSymbolExists
		}
		return fmt.Errorf("add symbol: %w", err)
	}
	return nil
}

// RemoveSymbol stops tracking symbol and deletes its articles and summaries.
func (s *SQLStore) RemoveSymbol(ctx context.Context, symbol string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("remove symbol: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM symbols WHERE symbol = ?`), symbol)
	if err != nil {
		return fmt.Errorf("remove symbol: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	for _, table := range []string{"daily_summaries", "news_articles"} {
		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM `+table+` WHERE symbol = ?`), symbol); err != nil {
			return fmt.Errorf("remove symbol %s: %w", table, err)
		}
	}
	return tx.Commit()
}

// ListSymbols returns tracked symbols, most recently added first.
func (s *SQLStore) ListSymbols(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT symbol FROM symbols ORDER BY added_at DESC, symbol`)
	if err != nil {
		return nil, fmt.Errorf("list symbols: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, fmt.Errorf("list symbols: %w", err)
		}
		out = append(out, sym)
	}
	return out, rows.Err()
}

// HasSymbol reports whether symbol is tracked.
func (s *SQLStore) HasSymbol(ctx context.Context, symbol string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT 1 FROM symbols WHERE symbol = ?`), symbol).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("has symbol: %w", err)
	}
	return true, nil
}

// --- Dialect helpers ---

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// isUniqueViolation recognises constraint violations from both drivers.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var sqErr *sqlite.Error
	if errors.As(err, &sqErr) {
		switch sqErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		case sqlite3.SQLITE_CONSTRAINT:
			return strings.Contains(sqErr.Error(), "UNIQUE")
		}
	}
	return false
}
