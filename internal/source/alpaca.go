package source

import (
	"context"
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"github.com/seenimoa/tickerpulse/pkg/models"
)

const (
	alpacaLookback = 48 * time.Hour
	alpacaMax      = 10
)

// Alpaca fetches Benzinga-backed news through an authenticated Alpaca
// market data session. It runs in the sequential tier.
type Alpaca struct {
	client *marketdata.Client
	now    func() time.Time
}

// NewAlpacaClient builds the shared market data client used by the news
// adapter and the quote provider.
func NewAlpacaClient(key, secret string, opts ...Option) (*marketdata.Client, error) {
	if key == "" || secret == "" {
		return nil, fmt.Errorf("alpaca: %w", ErrNotConfigured)
	}
	o := buildOptions("", opts)
	return marketdata.NewClient(marketdata.ClientOpts{
		APIKey:     key,
		APISecret:  secret,
		BaseURL:    o.baseURL,
		HTTPClient: o.client,
	}), nil
}

// NewAlpaca wraps an existing market data client.
func NewAlpaca(client *marketdata.Client) *Alpaca {
	return &Alpaca{client: client, now: time.Now}
}

// Name returns the adapter name.
func (a *Alpaca) Name() string { return "Alpaca" }

// Fetch returns news for symbol from the last two days. The SDK call
// does not take a context, so the result is abandoned when ctx ends.
func (a *Alpaca) Fetch(ctx context.Context, symbol string) ([]models.Article, error) {
	end := a.now().UTC()
	req := marketdata.GetNewsRequest{
		Symbols:    []string{symbol},
		Start:      end.Add(-alpacaLookback),
		End:        end,
		TotalLimit: alpacaMax,
		Sort:       marketdata.SortDesc,
	}

	type result struct {
		news []marketdata.News
		err  error
	}
	done := make(chan result, 1)
	go func() {
		news, err := a.client.GetNews(req)
		done <- result{news, err}
	}()

	var r result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r = <-done:
	}
	if r.err != nil {
		return nil, fmt.Errorf("alpaca news: %w", r.err)
	}

	articles := make([]models.Article, 0, len(r.news))
	for _, n := range r.news {
		if n.Headline == "" {
			continue
		}
		content := n.Summary
		if content == "" {
			content = cleanHTML(n.Content)
		}
		articles = append(articles, newArticle(a.Name(), n.Headline, n.URL, content, n.CreatedAt.UTC()))
	}
	return articles, nil
}
