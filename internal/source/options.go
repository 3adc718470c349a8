package source

import "net/http"

// Option configures an HTTP-backed adapter.
type Option func(*httpOptions)

type httpOptions struct {
	baseURL   string
	client    *http.Client
	userAgent string
}

// WithBaseURL points the adapter at a different host, e.g. a test server.
func WithBaseURL(url string) Option {
	return func(o *httpOptions) { o.baseURL = url }
}

// WithHTTPClient overrides the shared HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *httpOptions) { o.client = c }
}

// WithUserAgent overrides the browser user agent sent to scraped sites.
func WithUserAgent(ua string) Option {
	return func(o *httpOptions) {
		if ua != "" {
			o.userAgent = ua
		}
	}
}

func buildOptions(base string, opts []Option) httpOptions {
	o := httpOptions{baseURL: base, client: HTTPClient, userAgent: DefaultUserAgent}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o httpOptions) headers(extra map[string]string) map[string]string {
	h := map[string]string{"User-Agent": o.userAgent}
	for k, v := range extra {
		h[k] = v
	}
	return h
}
