// Package models defines the data types shared across the collection,
// caching, persistence, and summarization layers.
package models

import (
	"strings"
	"time"
)

// Article represents one piece of collected news content.
// Articles are created by a source adapter and never mutated afterwards.
type Article struct {
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Source      string    `json:"source"`
	Content     string    `json:"content"`
	PublishedAt time.Time `json:"published_at"`
}

// Key returns the in-batch identity of the article (title + source).
// Titles compare exactly after trimming, matching the persistence natural
// key (symbol, title, source).
func (a Article) Key() string {
	return strings.TrimSpace(a.Title) + "\x00" + a.Source
}

// Ref returns the reference triple stored alongside a summary.
func (a Article) Ref() ArticleRef {
	return ArticleRef{Title: a.Title, URL: a.URL, Source: a.Source}
}

// ArticleRef identifies an article used to build a summary.
type ArticleRef struct {
	Title  string `json:"title"`
	URL    string `json:"url"`
	Source string `json:"source"`
}

// SourceResult is the outcome of one adapter invocation.
// It is kept for observability only and never persisted.
type SourceResult struct {
	Name     string        `json:"name"`
	Count    int           `json:"count"`
	Err      error         `json:"-"`
	Error    string        `json:"error,omitempty"`
	Skipped  bool          `json:"skipped,omitempty"`   // quota gate denied the call
	TimedOut bool          `json:"timed_out,omitempty"` // abandoned at the tier deadline
	Attempts int           `json:"attempts"`
	Elapsed  time.Duration `json:"elapsed"`
}

// Failed reports whether the invocation produced an error or was abandoned.
func (r SourceResult) Failed() bool {
	return r.Err != nil || r.TimedOut
}
