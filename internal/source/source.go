// Package source defines the uniform content-provider capability and its
// concrete adapters: HTML scrapes, RSS feeds, and JSON/SDK API clients.
//
// Adapters are polymorphic only over Fetch; provider specifics such as
// URLs, selectors, and payload shapes stay inside each adapter.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/seenimoa/tickerpulse/pkg/models"
)

// Source wraps one external content provider.
type Source interface {
	// Name identifies the provider in count maps and logs.
	Name() string

	// Fetch returns the provider's current articles for symbol. An empty
	// slice with a nil error means the provider had nothing.
	Fetch(ctx context.Context, symbol string) ([]models.Article, error)
}

// Tier selects the pool an adapter runs in.
type Tier int

const (
	TierPriority   Tier = iota // small pool, short deadline
	TierSecondary              // larger pool, longer deadline
	TierSequential             // session-authenticated, run one at a time after the pools
)

func (t Tier) String() string {
	switch t {
	case TierPriority:
		return "priority"
	case TierSecondary:
		return "secondary"
	case TierSequential:
		return "sequential"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// Registration binds an adapter to its scheduling policy.
type Registration struct {
	Source Source
	Tier   Tier

	// Retry grants exactly one extra attempt after a hard error.
	// It is ignored for quota-gated adapters.
	Retry bool

	// QuotaKey names the ledger budget the adapter draws from; empty
	// means the adapter is not quota-gated.
	QuotaKey string
}

// Gated reports whether the registration draws from a quota budget.
func (r Registration) Gated() bool { return r.QuotaKey != "" }

// Retries reports whether the adapter gets a second attempt on failure.
func (r Registration) Retries() bool { return r.Retry && !r.Gated() }

// --- Sentinel errors ---

// ErrQuotaExceeded is returned when the provider reports an exhausted budget.
var ErrQuotaExceeded = errors.New("source: provider quota exceeded")

// ErrNotConfigured is returned by constructors missing required credentials.
var ErrNotConfigured = errors.New("source: provider not configured")

// ErrHTTP wraps an HTTP error with status code.
type ErrHTTP struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("HTTP %d %s: %s", e.StatusCode, e.Status, e.Body)
}

// --- Shared HTTP client helpers ---

// DefaultUserAgent is the user agent string used for HTTP requests.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// HTTPClient is the shared client. Per-call deadlines come from the
// caller's context; this timeout is only a backstop.
var HTTPClient = &http.Client{
	Timeout: 30 * time.Second,
}

// maxBody caps how much of a response body an adapter will read.
const maxBody = 4 << 20

// httpGet performs a GET request and returns the (bounded) response body.
func httpGet(ctx context.Context, client *http.Client, url string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("User-Agent", DefaultUserAgent)
	req.Header.Set("Accept", "application/json, text/html, */*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	if client == nil {
		client = HTTPClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP GET %s: %w", redact(url), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &ErrHTTP{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(body),
		}
	}

	return io.ReadAll(io.LimitReader(resp.Body, maxBody))
}

// redact strips query strings so API keys never reach logs.
func redact(url string) string {
	if i := strings.IndexByte(url, '?'); i >= 0 {
		return url[:i]
	}
	return url
}
