// Package openai provides a corrector.Provider backed by the OpenAI API.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/verbatimhq/verbatim/pkg/provider/corrector"
)

const defaultTemperature = 0.1

// Provider implements corrector.Provider using the OpenAI chat completions API.
type Provider struct {
	client      oai.Client
	model       string
	temperature float64
}

// Compile-time interface check.
var _ corrector.Provider = (*Provider)(nil)

// config holds optional configuration for the provider.
type config struct {
	baseURL     string
	timeout     time.Duration
	temperature float64
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Useful for
// OpenAI-compatible gateways.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithTemperature sets the sampling temperature. Lower values produce more
// deterministic corrections. Default: 0.1.
func WithTemperature(temp float64) Option {
	return func(c *config) {
		c.temperature = temp
	}
}

// New constructs a new OpenAI corrector Provider.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	cfg := &config{temperature: defaultTemperature}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	client := oai.NewClient(reqOpts...)
	return &Provider{client: client, model: model, temperature: cfg.temperature}, nil
}

// Name implements corrector.Provider.
func (p *Provider) Name() string { return "openai" }

// Correct implements corrector.Provider. Network and API errors are returned
// as non-nil errors; an unparseable model reply degrades to the input text
// with zero confidence (see [corrector.ParseResponse]).
func (p *Provider) Correct(ctx context.Context, req corrector.Request) (*corrector.Response, error) {
	params := oai.ChatCompletionNewParams{
		Model: shared.ChatModel(p.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(corrector.BuildSystemPrompt(req)),
			oai.UserMessage(req.Text),
		},
		Temperature: param.NewOpt(p.temperature),
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: empty choices in response")
	}

	return corrector.ParseResponse(resp.Choices[0].Message.Content, req.Text), nil
}
