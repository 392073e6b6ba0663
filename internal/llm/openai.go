package llm

import (
	"context"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	ierrors "github.com/inkwell-ai/inkwell/internal/errors"
)

// DefaultCompletionTimeout bounds a single completion call.
const DefaultCompletionTimeout = 120 * time.Second

// OpenAIClient talks to any OpenAI-compatible chat completion endpoint.
type OpenAIClient struct {
	client      openai.Client
	model       string
	temperature float64
	timeout     time.Duration
	retry       ierrors.RetryConfig
}

// OpenAIOption configures an OpenAIClient.
type OpenAIOption func(*OpenAIClient)

// WithCompletionTimeout sets the per-request timeout.
func WithCompletionTimeout(d time.Duration) OpenAIOption {
	return func(c *OpenAIClient) {
		c.timeout = d
	}
}

// WithRetryConfig overrides the retry behavior for transient failures.
func WithRetryConfig(cfg ierrors.RetryConfig) OpenAIOption {
	return func(c *OpenAIClient) {
		c.retry = cfg
	}
}

// NewOpenAIClient creates a completion client. baseURL may be empty for the
// default OpenAI endpoint.
func NewOpenAIClient(apiKey, baseURL, model string, temperature float64, opts ...OpenAIOption) *OpenAIClient {
	clientOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(baseURL))
	}

	c := &OpenAIClient{
		client:      openai.NewClient(clientOpts...),
		model:       model,
		temperature: temperature,
		timeout:     DefaultCompletionTimeout,
		retry:       ierrors.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Complete returns the model's text for a system message and prompt.
func (c *OpenAIClient) Complete(ctx context.Context, system, prompt string) (string, error) {
	return ierrors.RetryWithResult(ctx, c.retry, func() (string, error) {
		reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		resp, err := c.client.Chat.Completions.New(reqCtx, openai.ChatCompletionNewParams{
			Model: openai.ChatModel(c.model),
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.SystemMessage(system),
				openai.UserMessage(prompt),
			},
			Temperature: openai.Float(c.temperature),
		})
		if err != nil {
			if reqCtx.Err() == context.DeadlineExceeded {
				return "", ierrors.BackendError(ierrors.ErrCodeBackendTimeout, "completion timed out", err)
			}
			return "", ierrors.BackendError(ierrors.ErrCodeCompletionFailed, "completion request failed", err)
		}
		if len(resp.Choices) == 0 {
			return "", ierrors.BackendError(ierrors.ErrCodeCompletionFailed, "completion returned no choices", nil)
		}
		return resp.Choices[0].Message.Content, nil
	})
}

// ModelName returns the model identifier.
func (c *OpenAIClient) ModelName() string {
	return c.model
}

var _ Client = (*OpenAIClient)(nil)
