package completion

import (
	"context"
	"errors"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIClient completes prompts through an OpenAI-compatible Chat
// Completions endpoint (OpenAI, OpenRouter, vLLM, llama.cpp server).
type OpenAIClient struct {
	client  openai.Client
	timeout time.Duration
}

type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// ExtraHeaders are additional HTTP headers sent with every request.
	ExtraHeaders map[string]string
}

func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	// The SDK retries on its own by default; a call here is one attempt.
	opts := []option.RequestOption{option.WithMaxRetries(0)}

	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	for k, v := range cfg.ExtraHeaders {
		opts = append(opts, option.WithHeader(k, v))
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &OpenAIClient{
		client:  openai.NewClient(opts...),
		timeout: timeout,
	}
}

func (c *OpenAIClient) Complete(ctx context.Context, model, prompt string, opts Options) (string, error) {
	timeout := timeoutFor(opts, c.timeout)
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model: model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Temperature: openai.Float(opts.Temperature),
	}
	if opts.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(opts.MaxTokens))
	}

	resp, err := c.client.Chat.Completions.New(callCtx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", &BackendError{Model: model, Status: apiErr.StatusCode, Body: apiErr.Message, Err: err}
		}
		return "", classifyTransportError(ctx, callCtx, model, timeout, err)
	}

	// No choices is reported as empty text; the caller treats that as a
	// transient empty answer.
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}
