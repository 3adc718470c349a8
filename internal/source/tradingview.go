package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/seenimoa/tickerpulse/pkg/models"
)

const (
	tradingViewMaxArticles = 8
	tradingViewMinTitle    = 15
	tradingViewMaxFallback = 5
)

var (
	tvTitleRe = regexp.MustCompile(`"title"\s*:\s*"([^"]+)"`)
	tvURLRe   = regexp.MustCompile(`"(?:url|link)"\s*:\s*"([^"]+)"`)

	tvHeadlineWords = []string{"earnings", "revenue", "stock", "shares", "analyst", "price", "target"}

	zeroTime time.Time
)

// TradingView extracts news headlines from the JSON embedded in a
// TradingView symbol news page.
type TradingView struct {
	opts httpOptions
}

// NewTradingView creates a TradingView adapter.
func NewTradingView(opts ...Option) *TradingView {
	return &TradingView{opts: buildOptions("https://www.tradingview.com", opts)}
}

// Name returns the adapter name.
func (t *TradingView) Name() string { return "TradingView" }

// Fetch tries the bare symbol page, then the NASDAQ and NYSE qualified
// pages, returning the first page that yields headlines.
func (t *TradingView) Fetch(ctx context.Context, symbol string) ([]models.Article, error) {
	var lastErr error
	for _, path := range []string{symbol, "NASDAQ-" + symbol, "NYSE-" + symbol} {
		u := fmt.Sprintf("%s/symbols/%s/news/", t.opts.baseURL, path)
		body, err := httpGet(ctx, t.opts.client, u, t.opts.headers(nil))
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			lastErr = err
			continue
		}
		articles, err := t.parse(body, u)
		if err != nil {
			lastErr = err
			continue
		}
		if len(articles) > 0 {
			return articles, nil
		}
	}

	var httpErr *ErrHTTP
	if errors.As(lastErr, &httpErr) && httpErr.StatusCode == 404 {
		return nil, nil
	}
	return nil, lastErr
}

func (t *TradingView) parse(body []byte, pageURL string) ([]models.Article, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse tradingview page: %w", err)
	}

	var articles []models.Article
	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := s.Text()
		if !strings.Contains(text, "news") {
			return true
		}
		titles := tvTitleRe.FindAllStringSubmatch(text, -1)
		urls := tvURLRe.FindAllStringSubmatch(text, -1)
		for i, m := range titles {
			title := unescapeJSON(m[1])
			if len(title) <= tradingViewMinTitle {
				continue
			}
			link := pageURL
			if i < len(urls) {
				link = absoluteURL(t.opts.baseURL, unescapeJSON(urls[i][1]))
			}
			articles = append(articles, newArticle(t.Name(), title, link, title, zeroTime))
			if len(articles) >= tradingViewMaxArticles {
				return false
			}
		}
		return len(articles) == 0
	})
	if len(articles) > 0 {
		return articles, nil
	}

	// No embedded payload: fall back to headline-looking lines of page text.
	for _, line := range strings.Split(doc.Find("body").Text(), "\n") {
		line = strings.TrimSpace(line)
		if len(line) <= 20 || len(line) >= 150 || !containsAny(strings.ToLower(line), tvHeadlineWords) {
			continue
		}
		articles = append(articles, newArticle(t.Name(), line, pageURL, line, zeroTime))
		if len(articles) >= tradingViewMaxFallback {
			break
		}
	}
	return articles, nil
}

func unescapeJSON(s string) string {
	r := strings.NewReplacer(`\/`, "/", `\"`, `"`, `\u0026`, "&", `\n`, " ")
	return r.Replace(s)
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}
