package anthropic

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/oceanbase/agentmem-go/pkg/llm"
)

const providerName = "anthropic"

// Client is an Anthropic LLM client built on the official SDK.
// The system role is sent as the Messages API system block.
type Client struct {
	client anthropic.Client
	model  string
}

// Config is the configuration for Anthropic LLM.
// APIKey: Anthropic API key (required)
// Model: Model name to use, defaults to "claude-3-5-sonnet-20240620"
// BaseURL: API base URL, defaults to "https://api.anthropic.com"
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
}

// NewClient creates a new Anthropic LLM client.
//
// Args:
//   - cfg: Anthropic configuration containing APIKey, Model, and BaseURL
//
// Returns:
//   - *Client: Anthropic client instance
//   - error: Returns an error if the API key is missing
//
// SDK-level retries are disabled; llm.RetryingProvider owns the retry budget.
func NewClient(cfg *Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("API key is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = "claude-3-5-sonnet-20240620"
	}

	return &Client{
		client: anthropic.NewClient(opts...),
		model:  model,
	}, nil
}

// Complete implements llm.Provider.
//
// Args:
//   - ctx: Context for controlling the request lifecycle
//   - systemRole: Sent as the system block
//   - prompt: Single user message
//   - opts: Optional generation parameters
//
// Returns:
//   - *llm.Completion: Concatenated text blocks with token usage
//   - error: *llm.APIError for HTTP failures, otherwise the SDK error
func (c *Client) Complete(ctx context.Context, systemRole, prompt string, opts ...llm.GenerateOption) (*llm.Completion, error) {
	options := llm.ApplyGenerateOptions(opts)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(options.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
		Temperature: anthropic.Float(options.Temperature),
	}
	if systemRole != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemRole}}
	}
	if len(options.Stop) > 0 {
		params.StopSequences = options.Stop
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return nil, &llm.APIError{Provider: providerName, StatusCode: apiErr.StatusCode, Err: err}
		}
		return nil, err
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return nil, llm.ErrEmptyCompletion
	}

	return &llm.Completion{
		Text:        sb.String(),
		TotalTokens: int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
	}, nil
}

// Close is a no-op retained for interface compatibility.
func (c *Client) Close() error {
	return nil
}
