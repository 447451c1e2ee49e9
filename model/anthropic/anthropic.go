// Package anthropic provides a core.Responder backed by the Anthropic
// Messages API.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/hupe1980/consultmesh/core"
	"github.com/hupe1980/consultmesh/model"
)

// Options configures the Anthropic responder (model id, temperature, max
// tokens, API key).
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
	BaseURL     string
	// RequestOptions are appended to the client options.
	RequestOptions []option.RequestOption
}

// Responder wraps the Messages API behind core.Responder.
type Responder struct {
	client *anthropic.Client
	opts   Options
}

// NewResponder creates a responder using the official client with SDK
// retries disabled. The API key falls back to ANTHROPIC_API_KEY.
func NewResponder(optFns ...func(o *Options)) *Responder {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	clientOpts := []option.RequestOption{option.WithMaxRetries(0)}
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}
	clientOpts = append(clientOpts, opts.RequestOptions...)

	client := anthropic.NewClient(clientOpts...)

	return &Responder{client: &client, opts: opts}
}

// NewResponderFromClient creates a responder from an existing client.
func NewResponderFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Responder {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Responder{client: client, opts: opts}
}

func defaultOptions() Options {
	return Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4000,
	}
}

// Invoke implements core.Responder.
func (r *Responder) Invoke(ctx context.Context, req core.Request) (*core.Response, error) {
	resp, err := r.client.Messages.New(ctx, r.buildParams(req))
	if err != nil {
		return nil, classify(err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	if sb.Len() == 0 {
		return nil, core.NewPermanentError(core.ErrorKindServer, errors.New("anthropic: response has no text content"))
	}

	return &core.Response{
		Text: sb.String(),
		Usage: core.TokenUsage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
		},
		Model: string(resp.Model),
	}, nil
}

func (r *Responder) buildParams(req core.Request) anthropic.MessageNewParams {
	modelName := r.opts.Model
	if req.Params.Model != "" {
		modelName = anthropic.Model(req.Params.Model)
	}

	temperature := r.opts.Temperature
	if req.Params.Temperature > 0 {
		temperature = req.Params.Temperature
	}

	maxTokens := r.opts.MaxTokens
	if req.Params.MaxTokens > 0 {
		maxTokens = int64(req.Params.MaxTokens)
	}

	params := anthropic.MessageNewParams{
		Model:       modelName,
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}

	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	return params
}

func classify(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return model.ClassifyStatus(apiErr.StatusCode, fmt.Errorf("anthropic: %w", err))
	}

	return model.ClassifyError(fmt.Errorf("anthropic: %w", err))
}
