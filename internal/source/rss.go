package source

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/seenimoa/tickerpulse/pkg/models"
)

const rssMaxItems = 10

// FeedSpec describes one per-symbol RSS or Atom feed.
type FeedSpec struct {
	Name string
	// URLTemplate is a fmt pattern with a single %s for the escaped symbol.
	URLTemplate string
}

// Default feeds. Each template is relative to the feed's own host.
var (
	YahooFeed = FeedSpec{
		Name:        "Yahoo Finance",
		URLTemplate: "https://feeds.finance.yahoo.com/rss/2.0/headline?s=%s&region=US&lang=en-US",
	}
	GoogleNewsFeed = FeedSpec{
		Name:        "Google News",
		URLTemplate: "https://news.google.com/rss/search?q=%s+stock&hl=en-US&gl=US&ceid=US:en",
	}
	SeekingAlphaFeed = FeedSpec{
		Name:        "Seeking Alpha",
		URLTemplate: "https://seekingalpha.com/api/sa/combined/%s.xml",
	}
	NasdaqFeed = FeedSpec{
		Name:        "Nasdaq",
		URLTemplate: "https://www.nasdaq.com/feed/rssoutbound?symbol=%s",
	}
)

// Feed fetches a per-symbol syndication feed.
type Feed struct {
	spec   FeedSpec
	opts   httpOptions
	parser *gofeed.Parser
}

// NewFeed creates a feed adapter. WithBaseURL replaces the template's
// scheme and host, keeping its path and query.
func NewFeed(spec FeedSpec, opts ...Option) *Feed {
	return &Feed{
		spec:   spec,
		opts:   buildOptions("", opts),
		parser: gofeed.NewParser(),
	}
}

// Name returns the adapter name.
func (f *Feed) Name() string { return f.spec.Name }

// Fetch parses the feed and maps its items to articles.
func (f *Feed) Fetch(ctx context.Context, symbol string) ([]models.Article, error) {
	u := f.feedURL(symbol)
	body, err := httpGet(ctx, f.opts.client, u, f.opts.headers(map[string]string{
		"Accept": "application/rss+xml, application/atom+xml, application/xml, text/xml",
	}))
	if err != nil {
		return nil, err
	}

	feed, err := f.parser.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse RSS %s: %w", f.spec.Name, err)
	}

	articles := make([]models.Article, 0, min(len(feed.Items), rssMaxItems))
	for _, item := range feed.Items {
		if len(articles) >= rssMaxItems {
			break
		}
		title := cleanHTML(item.Title)
		if title == "" {
			continue
		}
		content := cleanHTML(item.Description)
		if content == "" {
			content = cleanHTML(item.Content)
		}
		a := newArticle(f.spec.Name, title, item.Link, content, zeroTime)
		if item.PublishedParsed != nil {
			a.PublishedAt = item.PublishedParsed.UTC()
		} else if item.UpdatedParsed != nil {
			a.PublishedAt = item.UpdatedParsed.UTC()
		}
		articles = append(articles, a)
	}

	return articles, nil
}

func (f *Feed) feedURL(symbol string) string {
	u := fmt.Sprintf(f.spec.URLTemplate, url.QueryEscape(symbol))
	if f.opts.baseURL == "" {
		return u
	}
	parsed, err := url.Parse(u)
	if err != nil {
		return u
	}
	return strings.TrimRight(f.opts.baseURL, "/") + parsed.RequestURI()
}
