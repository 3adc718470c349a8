package source

import (
	"context"
	"fmt"
	"net/http"
	"time"

	finnhub "github.com/Finnhub-Stock-API/finnhub-go/v2"

	"github.com/seenimoa/tickerpulse/pkg/models"
)

const (
	finnhubLookback = 3 * 24 * time.Hour
	finnhubMax      = 10
	finnhubDateFmt  = "2006-01-02"
)

// Finnhub fetches company news for the last few days through the
// Finnhub SDK.
type Finnhub struct {
	client *finnhub.DefaultApiService
	now    func() time.Time
}

// NewFinnhub creates a Finnhub adapter. WithBaseURL and WithHTTPClient
// are honoured; WithUserAgent is ignored.
func NewFinnhub(apiKey string, opts ...Option) (*Finnhub, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("finnhub: %w", ErrNotConfigured)
	}
	o := buildOptions("", opts)

	cfg := finnhub.NewConfiguration()
	cfg.AddDefaultHeader("X-Finnhub-Token", apiKey)
	cfg.HTTPClient = o.client
	if o.baseURL != "" {
		cfg.Servers = finnhub.ServerConfigurations{{URL: o.baseURL}}
	}
	return &Finnhub{client: finnhub.NewAPIClient(cfg).DefaultApi, now: time.Now}, nil
}

// Name returns the adapter name.
func (f *Finnhub) Name() string { return "Finnhub" }

// Fetch returns company news published over the lookback window.
func (f *Finnhub) Fetch(ctx context.Context, symbol string) ([]models.Article, error) {
	to := f.now().UTC()
	from := to.Add(-finnhubLookback)

	res, httpResp, err := f.client.CompanyNews(ctx).
		Symbol(symbol).
		From(from.Format(finnhubDateFmt)).
		To(to.Format(finnhubDateFmt)).
		Execute()
	if err != nil {
		if httpResp != nil && httpResp.StatusCode == http.StatusTooManyRequests {
			return nil, fmt.Errorf("finnhub: %w", ErrQuotaExceeded)
		}
		return nil, fmt.Errorf("finnhub company news: %w", err)
	}

	articles := make([]models.Article, 0, min(len(res), finnhubMax))
	for _, news := range res {
		if len(articles) >= finnhubMax {
			break
		}
		if news.Headline == nil || *news.Headline == "" {
			continue
		}
		var link, summary string
		var published time.Time
		if news.Url != nil {
			link = *news.Url
		}
		if news.Summary != nil {
			summary = *news.Summary
		}
		if news.Datetime != nil {
			published = time.Unix(*news.Datetime, 0).UTC()
		}
		articles = append(articles, newArticle(f.Name(), *news.Headline, link, summary, published))
	}
	return articles, nil
}
