package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/seenimoa/tickerpulse/pkg/models"
)

const polygonLimit = 10

// Polygon fetches ticker news from the Polygon.io reference API.
type Polygon struct {
	apiKey  string
	opts    httpOptions
	limiter *RateLimiter
}

type polygonResponse struct {
	Status  string `json:"status"`
	Error   string `json:"error"`
	Results []struct {
		Title        string `json:"title"`
		ArticleURL   string `json:"article_url"`
		Description  string `json:"description"`
		PublishedUTC string `json:"published_utc"`
		Publisher    struct {
			Name string `json:"name"`
		} `json:"publisher"`
	} `json:"results"`
}

// NewPolygon creates a Polygon adapter paced at the free tier's five
// calls per minute.
func NewPolygon(apiKey string, opts ...Option) (*Polygon, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("polygon: %w", ErrNotConfigured)
	}
	return &Polygon{
		apiKey:  apiKey,
		opts:    buildOptions("https://api.polygon.io", opts),
		limiter: NewRateLimiter(5, 12*time.Second),
	}, nil
}

// Name returns the adapter name.
func (p *Polygon) Name() string { return "Polygon" }

// Fetch returns the latest news items tagged with symbol.
func (p *Polygon) Fetch(ctx context.Context, symbol string) ([]models.Article, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("ticker", symbol)
	q.Set("limit", fmt.Sprint(polygonLimit))
	q.Set("apikey", p.apiKey)
	u := p.opts.baseURL + "/v2/reference/news?" + q.Encode()

	body, err := httpGet(ctx, p.opts.client, u, nil)
	if err != nil {
		var httpErr *ErrHTTP
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusTooManyRequests {
			return nil, fmt.Errorf("polygon: %w", ErrQuotaExceeded)
		}
		return nil, err
	}

	var resp polygonResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode polygon response: %w", err)
	}
	if resp.Status == "ERROR" {
		return nil, fmt.Errorf("polygon: %s", resp.Error)
	}

	articles := make([]models.Article, 0, len(resp.Results))
	for _, r := range resp.Results {
		if r.Title == "" {
			continue
		}
		published, _ := time.Parse(time.RFC3339, r.PublishedUTC)
		articles = append(articles, newArticle(p.Name(), r.Title, r.ArticleURL, r.Description, published))
	}
	return articles, nil
}
