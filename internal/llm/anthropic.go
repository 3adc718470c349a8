package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const anthropicDefaultMaxTokens = 1024

// AnthropicProvider implements Provider on the Anthropic Messages API.
type AnthropicProvider struct {
	client *anthropic.Client
	model  string
}

type anthropicSettings struct {
	model   string
	baseURL string
	client  *http.Client
}

// AnthropicOption configures the Anthropic provider.
type AnthropicOption func(*anthropicSettings)

// WithAnthropicModel sets the default model.
func WithAnthropicModel(model string) AnthropicOption {
	return func(s *anthropicSettings) { s.model = model }
}

// WithAnthropicBaseURL overrides the API endpoint.
func WithAnthropicBaseURL(url string) AnthropicOption {
	return func(s *anthropicSettings) { s.baseURL = url }
}

// WithAnthropicHTTPClient sets a custom HTTP client.
func WithAnthropicHTTPClient(client *http.Client) AnthropicOption {
	return func(s *anthropicSettings) { s.client = client }
}

// NewAnthropicProvider creates an Anthropic provider.
func NewAnthropicProvider(apiKey string, opts ...AnthropicOption) (*AnthropicProvider, error) {
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	s := anthropicSettings{model: string(anthropic.ModelClaudeHaiku4_5)}
	for _, opt := range opts {
		opt(&s)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if s.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(s.baseURL))
	}
	if s.client != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(s.client))
	}
	client := anthropic.NewClient(reqOpts...)
	return &AnthropicProvider{client: &client, model: s.model}, nil
}

func (p *AnthropicProvider) Name() string { return ProviderAnthropic }

// Ping lists models to verify the key.
func (p *AnthropicProvider) Ping(ctx context.Context) error {
	if _, err := p.client.Models.List(ctx, anthropic.ModelListParams{}); err != nil {
		return mapAnthropicError(err)
	}
	return nil
}

// Generate sends a single-turn Messages request.
func (p *AnthropicProvider) Generate(ctx context.Context, prompt string, opts *Options) (*Response, error) {
	start := time.Now()
	model := resolveModel(opts, p.model)

	maxTokens := int64(anthropicDefaultMaxTokens)
	if opts != nil && opts.MaxTokens > 0 {
		maxTokens = int64(opts.MaxTokens)
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if opts != nil && opts.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: opts.System}}
	}
	if opts != nil && opts.Temperature > 0 {
		params.Temperature = anthropic.Float(opts.Temperature)
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, mapAnthropicError(err)
	}

	var parts []string
	for _, block := range resp.Content {
		if block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	content := strings.Join(parts, "")
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("anthropic: %w", ErrEmptyResponse)
	}

	in, out := int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens)
	return &Response{
		Content:  content,
		Model:    string(resp.Model),
		Provider: ProviderAnthropic,
		Latency:  time.Since(start),
		Usage:    Usage{PromptTokens: in, CompletionTokens: out, TotalTokens: in + out},
	}, nil
}

func mapAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return statusError(ProviderAnthropic, apiErr.StatusCode, apiErr.Error())
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: anthropic: %v", ErrProviderDown, err)
}
