// Package openai provides a core.Responder backed by the OpenAI Chat
// Completions API. SDK retries are disabled; failures are returned as
// core.CallError so the scheduler decides whether to retry.
package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/hupe1980/consultmesh/core"
	"github.com/hupe1980/consultmesh/model"
)

// Options configure the OpenAI responder. Request parameters override the
// defaults field by field when set.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
	APIKey              string
	BaseURL             string
	// RequestOptions are appended to the client options.
	RequestOptions []option.RequestOption
}

// Responder wraps the Chat Completions API behind core.Responder.
type Responder struct {
	client *openai.Client
	opts   Options
}

// NewResponder creates a responder with its own client. The API key falls
// back to OPENAI_API_KEY.
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

	client := openai.NewClient(clientOpts...)

	return &Responder{client: &client, opts: opts}
}

// NewResponderFromClient creates a responder from an existing client.
func NewResponderFromClient(client *openai.Client, optFns ...func(o *Options)) *Responder {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Responder{client: client, opts: opts}
}

func defaultOptions() Options {
	return Options{
		Model:               "gpt-4.1-2025-04-14",
		Temperature:         0.7,
		MaxCompletionTokens: 4000,
	}
}

// Invoke implements core.Responder.
func (r *Responder) Invoke(ctx context.Context, req core.Request) (*core.Response, error) {
	resp, err := r.client.Chat.Completions.New(ctx, r.buildParams(req))
	if err != nil {
		return nil, classify(err)
	}

	if len(resp.Choices) == 0 {
		return nil, core.NewPermanentError(core.ErrorKindServer, errors.New("openai: no choices returned"))
	}

	return &core.Response{
		Text: resp.Choices[0].Message.Content,
		Usage: core.TokenUsage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
		},
		Model: resp.Model,
	}, nil
}

func (r *Responder) buildParams(req core.Request) openai.ChatCompletionNewParams {
	modelName := r.opts.Model
	if req.Params.Model != "" {
		modelName = req.Params.Model
	}

	temperature := r.opts.Temperature
	if req.Params.Temperature > 0 {
		temperature = req.Params.Temperature
	}

	maxTokens := r.opts.MaxCompletionTokens
	if req.Params.MaxTokens > 0 {
		maxTokens = int64(req.Params.MaxTokens)
	}

	var messages []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	return openai.ChatCompletionNewParams{
		Messages:            messages,
		Model:               modelName,
		Temperature:         openai.Float(temperature),
		MaxCompletionTokens: openai.Int(maxTokens),
	}
}

func classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return model.ClassifyStatus(apiErr.StatusCode, fmt.Errorf("openai: %w", err))
	}

	return model.ClassifyError(fmt.Errorf("openai: %w", err))
}
