package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIProvider implements Provider on the OpenAI chat completions API.
// Any OpenAI-compatible endpoint works through WithOpenAIBaseURL.
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

type openAISettings struct {
	model   string
	baseURL string
	client  *http.Client
}

// OpenAIOption configures the OpenAI provider.
type OpenAIOption func(*openAISettings)

// WithOpenAIModel sets the default model.
func WithOpenAIModel(model string) OpenAIOption {
	return func(s *openAISettings) { s.model = model }
}

// WithOpenAIBaseURL overrides the API endpoint.
func WithOpenAIBaseURL(url string) OpenAIOption {
	return func(s *openAISettings) { s.baseURL = url }
}

// WithOpenAIHTTPClient sets a custom HTTP client.
func WithOpenAIHTTPClient(client *http.Client) OpenAIOption {
	return func(s *openAISettings) { s.client = client }
}

// NewOpenAIProvider creates an OpenAI provider.
func NewOpenAIProvider(apiKey string, opts ...OpenAIOption) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	s := openAISettings{model: string(openai.ChatModelGPT4oMini)}
	for _, opt := range opts {
		opt(&s)
	}

	// Retries are the router's job.
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if s.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(s.baseURL))
	}
	if s.client != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(s.client))
	}
	client := openai.NewClient(reqOpts...)
	return &OpenAIProvider{client: &client, model: s.model}, nil
}

func (p *OpenAIProvider) Name() string { return ProviderOpenAI }

// Ping lists models to verify the key.
func (p *OpenAIProvider) Ping(ctx context.Context) error {
	if _, err := p.client.Models.List(ctx); err != nil {
		return mapOpenAIError(err)
	}
	return nil
}

// Generate sends a chat completion request.
func (p *OpenAIProvider) Generate(ctx context.Context, prompt string, opts *Options) (*Response, error) {
	start := time.Now()
	model := resolveModel(opts, p.model)

	var msgs []openai.ChatCompletionMessageParamUnion
	if opts != nil && opts.System != "" {
		msgs = append(msgs, openai.SystemMessage(opts.System))
	}
	msgs = append(msgs, openai.UserMessage(prompt))

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: msgs,
	}
	if opts != nil && opts.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(opts.MaxTokens))
	}
	if opts != nil && opts.Temperature > 0 {
		params.Temperature = openai.Float(opts.Temperature)
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, mapOpenAIError(err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, fmt.Errorf("openai: %w", ErrEmptyResponse)
	}

	return &Response{
		Content:  resp.Choices[0].Message.Content,
		Model:    resp.Model,
		Provider: ProviderOpenAI,
		Latency:  time.Since(start),
		Usage: Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

func mapOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return statusError(ProviderOpenAI, apiErr.StatusCode, apiErr.Message)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: openai: %v", ErrProviderDown, err)
}
