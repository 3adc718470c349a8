package source

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/seenimoa/tickerpulse/pkg/models"
)

const finvizMaxRows = 10

// Finviz scrapes the news table on a Finviz quote page.
type Finviz struct {
	opts httpOptions
}

// NewFinviz creates a Finviz adapter.
func NewFinviz(opts ...Option) *Finviz {
	return &Finviz{opts: buildOptions("https://finviz.com", opts)}
}

// Name returns the adapter name.
func (f *Finviz) Name() string { return "Finviz" }

// Fetch returns the first rows of the quote page's news table.
func (f *Finviz) Fetch(ctx context.Context, symbol string) ([]models.Article, error) {
	u := fmt.Sprintf("%s/quote.ashx?t=%s", f.opts.baseURL, url.QueryEscape(symbol))
	body, err := httpGet(ctx, f.opts.client, u, f.opts.headers(nil))
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse finviz page: %w", err)
	}

	var articles []models.Article
	doc.Find("table.fullview-news-outer tr").EachWithBreak(func(i int, row *goquery.Selection) bool {
		if i >= finvizMaxRows {
			return false
		}
		link := row.Find("a").First()
		title := strings.TrimSpace(link.Text())
		if title == "" {
			return true
		}
		href, _ := link.Attr("href")
		articles = append(articles, newArticle(f.Name(), title, absoluteURL(f.opts.baseURL, href), title, zeroTime))
		return true
	})

	return articles, nil
}
