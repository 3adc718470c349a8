package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/seenimoa/tickerpulse/pkg/models"
)

const (
	alphaVantageLimit    = 10
	alphaVantageMinTitle = 15
	alphaVantageTimeFmt  = "20060102T150405"
)

// AlphaVantage fetches the NEWS_SENTIMENT feed.
type AlphaVantage struct {
	apiKey string
	opts   httpOptions
}

// alphaVantageStatus carries the informational keys Alpha Vantage sends
// with HTTP 200 in place of data when a budget runs out.
type alphaVantageStatus struct {
	Note         string `json:"Note"`
	Information  string `json:"Information"`
	ErrorMessage string `json:"Error Message"`
}

func (s alphaVantageStatus) err() error {
	switch {
	case s.Note != "" || s.Information != "":
		return fmt.Errorf("alphavantage: %w", ErrQuotaExceeded)
	case s.ErrorMessage != "":
		return fmt.Errorf("alphavantage: %s", s.ErrorMessage)
	}
	return nil
}

type alphaVantageNews struct {
	alphaVantageStatus
	Feed []struct {
		Title         string `json:"title"`
		URL           string `json:"url"`
		Summary       string `json:"summary"`
		TimePublished string `json:"time_published"`
		Source        string `json:"source"`
	} `json:"feed"`
}

// NewAlphaVantage creates an Alpha Vantage news adapter.
func NewAlphaVantage(apiKey string, opts ...Option) (*AlphaVantage, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("alphavantage: %w", ErrNotConfigured)
	}
	return &AlphaVantage{apiKey: apiKey, opts: buildOptions("https://www.alphavantage.co", opts)}, nil
}

// Name returns the adapter name.
func (a *AlphaVantage) Name() string { return "Alpha Vantage" }

// Fetch returns sentiment-feed articles mentioning symbol.
func (a *AlphaVantage) Fetch(ctx context.Context, symbol string) ([]models.Article, error) {
	q := url.Values{}
	q.Set("function", "NEWS_SENTIMENT")
	q.Set("tickers", symbol)
	q.Set("limit", fmt.Sprint(alphaVantageLimit))
	q.Set("apikey", a.apiKey)

	body, err := httpGet(ctx, a.opts.client, a.opts.baseURL+"/query?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var resp alphaVantageNews
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode alphavantage response: %w", err)
	}
	if err := resp.err(); err != nil {
		return nil, err
	}

	var articles []models.Article
	for _, item := range resp.Feed {
		if len(item.Title) <= alphaVantageMinTitle {
			continue
		}
		published, _ := time.ParseInLocation(alphaVantageTimeFmt, item.TimePublished, time.UTC)
		articles = append(articles, newArticle(a.Name(), item.Title, item.URL, item.Summary, published))
		if len(articles) >= alphaVantageLimit {
			break
		}
	}
	return articles, nil
}

// GetJSON fetches an arbitrary Alpha Vantage function and decodes it
// into out after checking for quota and error payloads.
func (a *AlphaVantage) GetJSON(ctx context.Context, params url.Values, out any) error {
	params.Set("apikey", a.apiKey)
	body, err := httpGet(ctx, a.opts.client, a.opts.baseURL+"/query?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	var status alphaVantageStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return fmt.Errorf("decode alphavantage response: %w", err)
	}
	if err := status.err(); err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode alphavantage response: %w", err)
	}
	return nil
}
