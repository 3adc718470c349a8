package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/seenimoa/tickerpulse/internal/config"
	"github.com/seenimoa/tickerpulse/internal/logging"
)

// Router sends generation requests to the primary provider and falls
// back through the remaining registered providers in order.
type Router struct {
	mu         sync.RWMutex
	providers  map[string]Provider
	primary    string
	fallbacks  []string
	maxRetries int
	retryDelay time.Duration
	timeout    time.Duration
	onLimit    func(provider string)
	log        *slog.Logger
}

// RouterOption configures the router.
type RouterOption func(*Router)

// WithFallbacks sets the fallback provider chain.
func WithFallbacks(providers ...string) RouterOption {
	return func(r *Router) { r.fallbacks = providers }
}

// WithMaxRetries sets the number of extra attempts per provider on
// transient failures.
func WithMaxRetries(n int) RouterOption {
	return func(r *Router) { r.maxRetries = n }
}

// WithRetryDelay sets the base delay between retries.
func WithRetryDelay(d time.Duration) RouterOption {
	return func(r *Router) { r.retryDelay = d }
}

// WithTimeout bounds every provider call. Zero means no bound beyond ctx.
func WithTimeout(d time.Duration) RouterOption {
	return func(r *Router) { r.timeout = d }
}

// WithRateLimitHook registers a callback invoked with the provider name
// whenever a provider reports its quota as exhausted.
func WithRateLimitHook(fn func(provider string)) RouterOption {
	return func(r *Router) { r.onLimit = fn }
}

// WithLogger overrides the router's logger.
func WithLogger(l *slog.Logger) RouterOption {
	return func(r *Router) { r.log = l }
}

// NewRouter creates a new router with the given primary provider.
func NewRouter(primary string, opts ...RouterOption) *Router {
	r := &Router{
		providers:  make(map[string]Provider),
		primary:    primary,
		retryDelay: time.Second,
		log:        logging.For("llm"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterProvider adds a provider to the router.
func (r *Router) RegisterProvider(provider Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[provider.Name()] = provider
}

// GetProvider returns a registered provider by name.
func (r *Router) GetProvider(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Primary returns the primary provider.
func (r *Router) Primary() (Provider, error) {
	p, ok := r.GetProvider(r.primary)
	if !ok {
		return nil, fmt.Errorf("%w: primary provider %q not registered", ErrNoProviders, r.primary)
	}
	return p, nil
}

// Name reports the primary provider name. Quota for router calls is
// accounted against it.
func (r *Router) Name() string { return r.primary }

// Generate routes a request through the provider chain. With
// opts.PrimaryOnly set, only the primary provider is tried.
func (r *Router) Generate(ctx context.Context, prompt string, opts *Options) (*Response, error) {
	chain := r.providerChain()
	if opts != nil && opts.PrimaryOnly && len(chain) > 0 {
		chain = chain[:1]
	}
	if len(chain) == 0 {
		return nil, ErrNoProviders
	}

	log := logging.FromContext(ctx, r.log)
	var (
		lastErr error
		tried   int
	)
	for i, name := range chain {
		provider, ok := r.GetProvider(name)
		if !ok {
			continue
		}
		tried++
		// A model override only makes sense for the primary.
		callOpts := opts
		if i > 0 && opts != nil && opts.Model != "" {
			cp := *opts
			cp.Model = ""
			callOpts = &cp
		}

		resp, err := r.generateWithRetry(ctx, provider, prompt, callOpts)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if IsRateLimited(err) && r.onLimit != nil {
			r.onLimit(name)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warn("provider failed", "provider", name, "error", err)
	}
	if tried == 0 {
		return nil, ErrNoProviders
	}
	if tried == 1 {
		return nil, lastErr
	}
	return nil, fmt.Errorf("llm/router: all providers failed, last error: %w", lastErr)
}

// Ping checks the primary provider.
func (r *Router) Ping(ctx context.Context) error {
	p, err := r.Primary()
	if err != nil {
		return err
	}
	return p.Ping(ctx)
}

// HealthCheck pings every registered provider concurrently.
func (r *Router) HealthCheck(ctx context.Context) map[string]error {
	r.mu.RLock()
	providers := make(map[string]Provider, len(r.providers))
	for n, p := range r.providers {
		providers[n] = p
	}
	r.mu.RUnlock()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]error, len(providers))
	)
	for name, p := range providers {
		wg.Add(1)
		go func(n string, p Provider) {
			defer wg.Done()
			err := p.Ping(ctx)
			mu.Lock()
			results[n] = err
			mu.Unlock()
		}(name, p)
	}
	wg.Wait()
	return results
}

// ProviderNames returns the provider chain in routing order.
func (r *Router) ProviderNames() []string {
	var names []string
	for _, n := range r.providerChain() {
		if _, ok := r.GetProvider(n); ok {
			names = append(names, n)
		}
	}
	return names
}

func (r *Router) providerChain() []string {
	chain := []string{r.primary}
	for _, fb := range r.fallbacks {
		if fb != r.primary {
			chain = append(chain, fb)
		}
	}
	return chain
}

func (r *Router) generateWithRetry(ctx context.Context, p Provider, prompt string, opts *Options) (*Response, error) {
	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(r.retryDelay * time.Duration(attempt)):
			}
		}

		resp, err := r.call(ctx, p, prompt, opts)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !IsTransient(err) || ctx.Err() != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

func (r *Router) call(ctx context.Context, p Provider, prompt string, opts *Options) (*Response, error) {
	if r.timeout <= 0 {
		return p.Generate(ctx, prompt, opts)
	}
	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	resp, err := p.Generate(callCtx, prompt, opts)
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrProviderDown, p.Name(), context.DeadlineExceeded)
	}
	return resp, err
}

// NewRouterFromConfig creates a Router from the application config,
// registering every provider that has credentials. The configured model
// applies to the primary; fallbacks use their own defaults.
func NewRouterFromConfig(cfg *config.Config, opts ...RouterOption) (*Router, error) {
	base := []RouterOption{WithTimeout(cfg.LLM.Timeout())}
	router := NewRouter(cfg.LLM.Primary, append(base, opts...)...)

	modelFor := func(name string) string {
		if name == cfg.LLM.Primary {
			return cfg.LLM.Model
		}
		return ""
	}

	var fallbacks []string
	add := func(p Provider) {
		router.RegisterProvider(p)
		if p.Name() != cfg.LLM.Primary {
			fallbacks = append(fallbacks, p.Name())
		}
	}

	if cfg.LLM.GeminiKey != "" {
		p, err := NewGeminiProvider(cfg.LLM.GeminiKey,
			WithGeminiModel(defaultGeminiModel(modelFor(ProviderGemini))))
		if err == nil {
			add(p)
		}
	}
	if cfg.LLM.OpenAIKey != "" {
		var o []OpenAIOption
		if m := modelFor(ProviderOpenAI); m != "" {
			o = append(o, WithOpenAIModel(m))
		}
		p, err := NewOpenAIProvider(cfg.LLM.OpenAIKey, o...)
		if err == nil {
			add(p)
		}
	}
	if cfg.LLM.AnthropicKey != "" {
		p, err := NewAnthropicProvider(cfg.LLM.AnthropicKey,
			WithAnthropicModel(defaultAnthropicModel(modelFor(ProviderAnthropic))))
		if err == nil {
			add(p)
		}
	}
	if cfg.LLM.OllamaURL != "" {
		var o []OllamaOption
		if m := modelFor(ProviderOllama); m != "" {
			o = append(o, WithOllamaModel(m))
		}
		p, err := NewOllamaProvider(cfg.LLM.OllamaURL, o...)
		if err == nil {
			add(p)
		}
	}

	if _, err := router.Primary(); err != nil {
		return nil, err
	}
	router.fallbacks = fallbacks
	return router, nil
}

func defaultGeminiModel(model string) string {
	if strings.HasPrefix(model, "gemini") {
		return model
	}
	return "gemini-2.0-flash"
}

func defaultAnthropicModel(model string) string {
	if strings.HasPrefix(model, "claude") {
		return model
	}
	return "claude-haiku-4-5"
}
