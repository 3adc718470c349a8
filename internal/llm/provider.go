// Package llm provides a unified text-generation interface over several
// providers (Gemini, OpenAI, Anthropic, Ollama) and a router that falls
// back across them.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Provider names for routing, configuration, and quota keys.
const (
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
	ProviderGemini    = "gemini"
	ProviderAnthropic = "anthropic"
)

// Common errors returned by providers.
var (
	ErrNoAPIKey      = errors.New("llm: API key not configured")
	ErrRateLimit     = errors.New("llm: rate limit exceeded")
	ErrProviderDown  = errors.New("llm: provider unavailable")
	ErrInvalidModel  = errors.New("llm: invalid model")
	ErrEmptyResponse = errors.New("llm: empty response")
	ErrNoProviders   = errors.New("llm: no providers configured")
)

// Options configures a single generation request.
type Options struct {
	Model       string  `json:"model,omitempty"`
	System      string  `json:"system,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`

	// PrimaryOnly stops the router from falling back to other providers.
	PrimaryOnly bool `json:"-"`
}

// Response is a completed generation.
type Response struct {
	Content  string        `json:"content"`
	Model    string        `json:"model"`
	Provider string        `json:"provider"`
	Usage    Usage         `json:"usage"`
	Latency  time.Duration `json:"latency"`
}

// Usage tracks token consumption for a request.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Provider is the interface that all text-generation backends implement.
type Provider interface {
	// Name returns the provider identifier (e.g., "gemini", "ollama").
	Name() string

	// Generate sends a single-turn prompt and returns the completion.
	Generate(ctx context.Context, prompt string, opts *Options) (*Response, error)

	// Ping checks if the provider is reachable and the key is valid.
	Ping(ctx context.Context) error
}

// IsTransient reports whether err is a transport-level failure: network
// errors, timeouts, and provider-side 5xx responses.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrProviderDown) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// IsRateLimited reports whether the provider refused the call for quota.
func IsRateLimited(err error) bool { return errors.Is(err, ErrRateLimit) }

// statusError maps an HTTP status to the package's error taxonomy.
func statusError(provider string, status int, msg string) error {
	switch {
	case status == 401 || status == 403:
		return fmt.Errorf("%w: %s: %s", ErrNoAPIKey, provider, msg)
	case status == 429:
		return fmt.Errorf("%w: %s: %s", ErrRateLimit, provider, msg)
	case status == 404:
		return fmt.Errorf("%w: %s: %s", ErrInvalidModel, provider, msg)
	case status >= 500:
		return fmt.Errorf("%w: %s: HTTP %d: %s", ErrProviderDown, provider, status, msg)
	default:
		return fmt.Errorf("%s: API error (%d): %s", provider, status, msg)
	}
}

// String returns a human-readable summary of the response.
func (r *Response) String() string {
	truncated := r.Content
	if len(truncated) > 100 {
		truncated = truncated[:100] + "..."
	}
	return fmt.Sprintf("[%s/%s] %q, %d tokens, %v",
		r.Provider, r.Model, truncated, r.Usage.TotalTokens, r.Latency.Round(time.Millisecond))
}

func resolveModel(opts *Options, def string) string {
	if opts != nil && opts.Model != "" {
		return opts.Model
	}
	return def
}
