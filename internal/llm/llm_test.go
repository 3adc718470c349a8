package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seenimoa/tickerpulse/internal/config"
	"github.com/seenimoa/tickerpulse/internal/logging"
)

// ════════════════════════════════════════════════════════════════════
// provider.go — Errors & Helpers
// ════════════════════════════════════════════════════════════════════

func TestStatusErrorMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{401, ErrNoAPIKey},
		{403, ErrNoAPIKey},
		{404, ErrInvalidModel},
		{429, ErrRateLimit},
		{500, ErrProviderDown},
		{503, ErrProviderDown},
	}
	for _, tt := range tests {
		assert.ErrorIs(t, statusError("x", tt.status, "boom"), tt.want, "status %d", tt.status)
	}
	err := statusError("x", 400, "bad")
	assert.NotErrorIs(t, err, ErrProviderDown)
	assert.NotErrorIs(t, err, ErrRateLimit)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(fmt.Errorf("wrap: %w", ErrProviderDown)))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.False(t, IsTransient(ErrRateLimit))
	assert.False(t, IsTransient(ErrEmptyResponse))
	assert.False(t, IsTransient(ErrNoProviders))
	assert.False(t, IsTransient(nil))
}

func TestResponseString(t *testing.T) {
	r := &Response{Content: strings.Repeat("a", 150), Provider: "gemini", Model: "m"}
	s := r.String()
	assert.Contains(t, s, "...")
	assert.Contains(t, s, "[gemini/m]")
}

// ════════════════════════════════════════════════════════════════════
// gemini.go
// ════════════════════════════════════════════════════════════════════

func TestGeminiGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-test:generateContent", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("x-goog-api-key"))
		var req geminiRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if assert.NotNil(t, req.SystemInstruction) {
			assert.Equal(t, "be brief", req.SystemInstruction.Parts[0].Text)
		}
		if assert.NotNil(t, req.GenerationConfig) {
			assert.Equal(t, 200, req.GenerationConfig.MaxOutputTokens)
		}
		fmt.Fprint(w, `{"candidates":[{"content":{"parts":[{"text":"Hello "},{"text":"world"}]},"finishReason":"STOP"}],
			"usageMetadata":{"promptTokenCount":4,"candidatesTokenCount":2,"totalTokenCount":6}}`)
	}))
	defer srv.Close()

	p, err := NewGeminiProvider("key", WithGeminiBaseURL(srv.URL), WithGeminiModel("gemini-test"))
	require.NoError(t, err)
	resp, err := p.Generate(context.Background(), "hi", &Options{System: "be brief", MaxTokens: 200})
	require.NoError(t, err)
	assert.Equal(t, "Hello world", resp.Content)
	assert.Equal(t, 6, resp.Usage.TotalTokens)
	assert.Equal(t, ProviderGemini, resp.Provider)
}

func TestGeminiErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"quota", 429, `{"error":{"code":429,"message":"quota","status":"RESOURCE_EXHAUSTED"}}`, ErrRateLimit},
		{"exhausted-as-400", 400, `{"error":{"code":400,"message":"quota","status":"RESOURCE_EXHAUSTED"}}`, ErrRateLimit},
		{"bad key", 403, `{"error":{"code":403,"message":"denied"}}`, ErrNoAPIKey},
		{"server", 503, `overloaded`, ErrProviderDown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()
			p, _ := NewGeminiProvider("key", WithGeminiBaseURL(srv.URL))
			_, err := p.Generate(context.Background(), "hi", nil)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestGeminiEmptyCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"candidates":[]}`)
	}))
	defer srv.Close()
	p, _ := NewGeminiProvider("key", WithGeminiBaseURL(srv.URL))
	_, err := p.Generate(context.Background(), "hi", nil)
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestGeminiUnreachableIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	p, _ := NewGeminiProvider("key", WithGeminiBaseURL(url))
	_, err := p.Generate(context.Background(), "hi", nil)
	assert.True(t, IsTransient(err), "connection refused should be transient, got %v", err)
}

func TestNewProvidersRequireKey(t *testing.T) {
	_, err := NewGeminiProvider("")
	assert.ErrorIs(t, err, ErrNoAPIKey, "gemini")
	_, err = NewOpenAIProvider("")
	assert.ErrorIs(t, err, ErrNoAPIKey, "openai")
	_, err = NewAnthropicProvider("")
	assert.ErrorIs(t, err, ErrNoAPIKey, "anthropic")
}

// ════════════════════════════════════════════════════════════════════
// ollama.go
// ════════════════════════════════════════════════════════════════════

func TestOllamaGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			io.WriteString(w, `{"models":[]}`)
		case "/api/chat":
			var req ollamaRequest
			json.NewDecoder(r.Body).Decode(&req)
			assert.False(t, req.Stream, "stream should be false")
			if assert.Len(t, req.Messages, 2) {
				assert.Equal(t, "system", req.Messages[0].Role)
			}
			io.WriteString(w, `{"model":"llama","message":{"role":"assistant","content":"ok"},"prompt_eval_count":3,"eval_count":1}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	p, _ := NewOllamaProvider(srv.URL + "/")
	require.NoError(t, p.Ping(context.Background()))
	resp, err := p.Generate(context.Background(), "hi", &Options{System: "sys", Temperature: 0.2})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, 4, resp.Usage.TotalTokens)
}

// ════════════════════════════════════════════════════════════════════
// openai.go / anthropic.go
// ════════════════════════════════════════════════════════════════════

func TestOpenAIGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"), "path %s", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o-mini",
			"choices":[{"index":0,"message":{"role":"assistant","content":"summary"},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`)
	}))
	defer srv.Close()

	p, _ := NewOpenAIProvider("sk-test", WithOpenAIBaseURL(srv.URL+"/"))
	resp, err := p.Generate(context.Background(), "hi", &Options{System: "s", MaxTokens: 50})
	require.NoError(t, err)
	assert.Equal(t, "summary", resp.Content)
	assert.Equal(t, 5, resp.Usage.TotalTokens)
}

func TestOpenAIRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, `{"error":{"message":"slow down","type":"rate_limit"}}`)
	}))
	defer srv.Close()

	p, _ := NewOpenAIProvider("sk-test", WithOpenAIBaseURL(srv.URL+"/"))
	_, err := p.Generate(context.Background(), "hi", nil)
	assert.ErrorIs(t, err, ErrRateLimit)
}

func TestAnthropicGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/v1/messages"), "path %s", r.URL.Path)
		assert.Equal(t, "ak-test", r.Header.Get("X-Api-Key"))
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"msg_1","type":"message","role":"assistant","model":"claude-haiku-4-5",
			"content":[{"type":"text","text":"brief"}],"stop_reason":"end_turn",
			"usage":{"input_tokens":4,"output_tokens":2}}`)
	}))
	defer srv.Close()

	p, _ := NewAnthropicProvider("ak-test", WithAnthropicBaseURL(srv.URL+"/"))
	resp, err := p.Generate(context.Background(), "hi", &Options{System: "s"})
	require.NoError(t, err)
	assert.Equal(t, "brief", resp.Content)
	assert.Equal(t, 6, resp.Usage.TotalTokens)
}

func TestAnthropicServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"type":"error","error":{"type":"api_error","message":"boom"}}`)
	}))
	defer srv.Close()

	p, _ := NewAnthropicProvider("ak-test", WithAnthropicBaseURL(srv.URL+"/"))
	_, err := p.Generate(context.Background(), "hi", nil)
	assert.True(t, IsTransient(err), "500 should be transient, got %v", err)
}

// ════════════════════════════════════════════════════════════════════
// router.go
// ════════════════════════════════════════════════════════════════════

type mockProvider struct {
	name  string
	reply string
	errs  []error // returned in order, then reply

	mu    sync.Mutex
	calls int
	opts  []*Options
}

func (m *mockProvider) Name() string                   { return m.name }
func (m *mockProvider) Ping(ctx context.Context) error { return nil }

func (m *mockProvider) Generate(ctx context.Context, prompt string, opts *Options) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.opts = append(m.opts, opts)
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return nil, err
	}
	return &Response{Content: m.reply, Provider: m.name}, nil
}

func (m *mockProvider) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func newTestRouter(opts ...RouterOption) *Router {
	return NewRouter("a", append([]RouterOption{WithLogger(logging.Discard()), WithRetryDelay(time.Millisecond)}, opts...)...)
}

func TestRouterFallsBackOnFailure(t *testing.T) {
	a := &mockProvider{name: "a", errs: []error{ErrProviderDown}}
	b := &mockProvider{name: "b", reply: "from b"}
	r := newTestRouter(WithFallbacks("b"))
	r.RegisterProvider(a)
	r.RegisterProvider(b)

	resp, err := r.Generate(context.Background(), "p", &Options{Model: "a-model"})
	require.NoError(t, err)
	assert.Equal(t, "b", resp.Provider)
	assert.Empty(t, b.opts[0].Model, "model override leaked to fallback")
}

func TestRouterAllFailedWrapsLastError(t *testing.T) {
	a := &mockProvider{name: "a", errs: []error{ErrProviderDown}}
	b := &mockProvider{name: "b", errs: []error{ErrInvalidModel}}
	r := newTestRouter(WithFallbacks("b"))
	r.RegisterProvider(a)
	r.RegisterProvider(b)

	resp, err := r.Generate(context.Background(), "p", nil)
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, ErrInvalidModel)
	assert.Contains(t, err.Error(), "all providers failed")
}

func TestRouterPrimaryOnly(t *testing.T) {
	a := &mockProvider{name: "a", errs: []error{ErrProviderDown}}
	b := &mockProvider{name: "b", reply: "from b"}
	r := newTestRouter(WithFallbacks("b"))
	r.RegisterProvider(a)
	r.RegisterProvider(b)

	_, err := r.Generate(context.Background(), "p", &Options{PrimaryOnly: true})
	assert.ErrorIs(t, err, ErrProviderDown)
	assert.Zero(t, b.callCount(), "fallback should not be called")
}

func TestRouterRetriesTransientOnly(t *testing.T) {
	a := &mockProvider{name: "a", reply: "ok", errs: []error{ErrProviderDown}}
	r := newTestRouter(WithMaxRetries(1))
	r.RegisterProvider(a)
	_, err := r.Generate(context.Background(), "p", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, a.callCount())

	limited := &mockProvider{name: "a", reply: "ok", errs: []error{ErrRateLimit}}
	r = newTestRouter(WithMaxRetries(3))
	r.RegisterProvider(limited)
	_, err = r.Generate(context.Background(), "p", nil)
	assert.ErrorIs(t, err, ErrRateLimit)
	assert.Equal(t, 1, limited.callCount(), "rate limit should not be retried")
}

func TestRouterRateLimitHook(t *testing.T) {
	var hit []string
	a := &mockProvider{name: "a", errs: []error{fmt.Errorf("%w: quota", ErrRateLimit)}}
	b := &mockProvider{name: "b", reply: "ok"}
	r := newTestRouter(WithFallbacks("b"), WithRateLimitHook(func(p string) { hit = append(hit, p) }))
	r.RegisterProvider(a)
	r.RegisterProvider(b)

	_, err := r.Generate(context.Background(), "p", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, hit)
}

type slowProvider struct{ mockProvider }

func (s *slowProvider) Generate(ctx context.Context, prompt string, opts *Options) (*Response, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRouterTimeoutIsTransient(t *testing.T) {
	r := newTestRouter(WithTimeout(20 * time.Millisecond))
	r.RegisterProvider(&slowProvider{mockProvider{name: "a"}})
	_, err := r.Generate(context.Background(), "p", nil)
	assert.True(t, IsTransient(err), "timeout should be transient, got %v", err)
}

func TestRouterNoProviders(t *testing.T) {
	r := newTestRouter()
	resp, err := r.Generate(context.Background(), "p", nil)
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, ErrNoProviders)

	_, err = r.Primary()
	assert.ErrorIs(t, err, ErrNoProviders)
}

func TestRouterUnregisteredChain(t *testing.T) {
	r := newTestRouter(WithFallbacks("b", "c"))
	r.RegisterProvider(&mockProvider{name: "z", reply: "unused"})

	resp, err := r.Generate(context.Background(), "p", nil)
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, ErrNoProviders)

	resp, err = r.Generate(context.Background(), "p", &Options{PrimaryOnly: true})
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, ErrNoProviders)
}

func TestRouterHealthCheck(t *testing.T) {
	r := newTestRouter(WithFallbacks("b"))
	r.RegisterProvider(&mockProvider{name: "a"})
	r.RegisterProvider(&mockProvider{name: "b"})

	res := r.HealthCheck(context.Background())
	require.Len(t, res, 2)
	assert.NoError(t, res["a"])
	assert.NoError(t, res["b"])

	names := r.ProviderNames()
	require.Len(t, names, 2)
	assert.Equal(t, "a", names[0])
}

func TestNewRouterFromConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.LLM.Primary = ProviderGemini
	cfg.LLM.Model = "gemini-2.0-flash"
	cfg.LLM.GeminiKey = "g-key"
	cfg.LLM.AnthropicKey = "a-key"

	r, err := NewRouterFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{ProviderGemini, ProviderAnthropic}, r.ProviderNames())
	assert.Equal(t, ProviderGemini, r.Name())
}

func TestNewRouterFromConfigMissingPrimary(t *testing.T) {
	cfg := &config.Config{}
	cfg.LLM.Primary = ProviderOpenAI
	cfg.LLM.GeminiKey = "g-key"
	_, err := NewRouterFromConfig(cfg)
	assert.ErrorIs(t, err, ErrNoProviders)
}

func TestDefaultModels(t *testing.T) {
	assert.Equal(t, "gemini-2.0-flash", defaultGeminiModel("gpt-4o"))
	assert.Equal(t, "gemini-1.5-pro", defaultGeminiModel("gemini-1.5-pro"))
	assert.Equal(t, "claude-haiku-4-5", defaultAnthropicModel(""))
}
