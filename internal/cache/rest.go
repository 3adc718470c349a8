package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/seenimoa/tickerpulse/internal/logging"
)

// RESTCache talks to an Upstash-style REST key/value service:
//
//	GET  /get/{key}     -> {"result": "<value>" | null}
//	POST /set/{key}     body {"value": "<value>", "ex": <seconds>}
//	POST /del/{key}     -> {"result": <n>}
//	GET  /exists/{key}  -> {"result": 0 | 1}
//
// All requests carry "Authorization: Bearer <token>".
type RESTCache struct {
	baseURL string
	token   string
	client  *http.Client
	log     *slog.Logger
}

// RESTOption configures the REST backend.
type RESTOption func(*RESTCache)

// WithRESTHTTPClient sets a custom HTTP client.
func WithRESTHTTPClient(c *http.Client) RESTOption {
	return func(r *RESTCache) { r.client = c }
}

// NewRESTCache creates a REST backend for baseURL.
func NewRESTCache(baseURL, token string, opts ...RESTOption) *RESTCache {
	r := &RESTCache{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 5 * time.Second},
		log:     logging.For("cache/rest"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RESTCache) Name() string { return "rest" }

type restResult struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error,omitempty"`
}

type restSetBody struct {
	Value string `json:"value"`
	EX    int    `json:"ex"`
}

// Get fetches key. Any failure is a miss.
func (r *RESTCache) Get(ctx context.Context, key string) ([]byte, bool) {
	res, err := r.do(ctx, http.MethodGet, "get", key, nil)
	if err != nil {
		r.log.Debug("get failed", "key", key, "error", err)
		return nil, false
	}
	if len(res.Result) == 0 || string(res.Result) == "null" {
		return nil, false
	}
	var s string
	if err := json.Unmarshal(res.Result, &s); err != nil {
		r.log.Debug("get: unexpected result shape", "key", key, "error", err)
		return nil, false
	}
	return []byte(s), true
}

// Set writes key with an expiry in whole seconds (minimum 1).
func (r *RESTCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	ex := int(ttl / time.Second)
	if ex < 1 {
		ex = 1
	}
	if _, err := r.do(ctx, http.MethodPost, "set", key, restSetBody{Value: string(value), EX: ex}); err != nil {
		r.log.Warn("set failed", "key", key, "error", err)
	}
}

// Delete removes each key. Failures are logged and ignored.
func (r *RESTCache) Delete(ctx context.Context, keys ...string) {
	for _, k := range keys {
		if _, err := r.do(ctx, http.MethodPost, "del", k, nil); err != nil {
			r.log.Warn("del failed", "key", k, "error", err)
		}
	}
}

// Exists reports whether key is present. Any failure reports false.
func (r *RESTCache) Exists(ctx context.Context, key string) bool {
	res, err := r.do(ctx, http.MethodGet, "exists", key, nil)
	if err != nil {
		return false
	}
	var n int
	if err := json.Unmarshal(res.Result, &n); err != nil {
		return false
	}
	return n > 0
}

// Ping performs a set/get round trip on a probe key.
func (r *RESTCache) Ping(ctx context.Context) error {
	const probeKey = "tickerpulse:probe"
	if _, err := r.do(ctx, http.MethodPost, "set", probeKey, restSetBody{Value: "ok", EX: 10}); err != nil {
		return fmt.Errorf("cache/rest: probe set: %w", err)
	}
	if _, ok := r.Get(ctx, probeKey); !ok {
		return errors.New("cache/rest: probe get returned no value")
	}
	return nil
}

// do performs one REST command and decodes the result envelope.
func (r *RESTCache) do(ctx context.Context, method, command, key string, body any) (*restResult, error) {
	endpoint := fmt.Sprintf("%s/%s/%s", r.baseURL, command, url.PathEscape(key))

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+r.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var res restResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if res.Error != "" {
		return nil, errors.New(res.Error)
	}
	return &res, nil
}
