package quote

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/seenimoa/tickerpulse/pkg/models"
)

type jsonGetter interface {
	GetJSON(ctx context.Context, params url.Values, out any) error
}

// AlphaVantage reads GLOBAL_QUOTE. It shares the news adapter's client and
// is metered under its own quota key.
type AlphaVantage struct {
	api jsonGetter
}

// NewAlphaVantage wraps an Alpha Vantage client such as *source.AlphaVantage.
func NewAlphaVantage(api jsonGetter) *AlphaVantage {
	return &AlphaVantage{api: api}
}

func (a *AlphaVantage) Name() string { return "alphavantage" }

type globalQuote struct {
	Quote struct {
		Symbol        string `json:"01. symbol"`
		Price         string `json:"05. price"`
		Volume        string `json:"06. volume"`
		LatestDay     string `json:"07. latest trading day"`
		PreviousClose string `json:"08. previous close"`
		Change        string `json:"09. change"`
		ChangePercent string `json:"10. change percent"`
	} `json:"Global Quote"`
}

// Quote fetches the latest daily quote.
func (a *AlphaVantage) Quote(ctx context.Context, symbol string) (*models.Quote, error) {
	params := url.Values{}
	params.Set("function", "GLOBAL_QUOTE")
	params.Set("symbol", symbol)

	var raw globalQuote
	if err := a.api.GetJSON(ctx, params, &raw); err != nil {
		return nil, err
	}
	g := raw.Quote
	price := parseFloat(g.Price)
	if price == 0 {
		return nil, ErrNoQuote
	}

	q := &models.Quote{
		Symbol:        symbol,
		Price:         price,
		PreviousClose: parseFloat(g.PreviousClose),
		Change:        parseFloat(g.Change),
		ChangePct:     parseFloat(strings.TrimSuffix(g.ChangePercent, "%")),
		Provider:      a.Name(),
	}
	q.Volume, _ = strconv.ParseInt(g.Volume, 10, 64)
	if t, err := time.Parse("2006-01-02", g.LatestDay); err == nil {
		q.AsOf = t
	}
	return q, nil
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f
}
