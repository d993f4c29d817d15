// Package openai implements llm.Provider on the OpenAI chat completions API.
//
// The exported CreateCompletion helper is shared with the other
// OpenAI-compatible providers (DeepSeek, Ollama).
package openai

import (
	"context"
	"errors"

	openai "github.com/sashabaranov/go-openai"

	"github.com/oceanbase/agentmem-go/pkg/llm"
)

const providerName = "openai"

// Client is an OpenAI LLM client.
type Client struct {
	client *openai.Client
	model  string
}

// Config is the configuration for OpenAI LLM.
// APIKey: OpenAI API key (required)
// Model: Model name to use, defaults to "gpt-4o-mini"
// BaseURL: API base URL, defaults to OpenAI official address
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
}

// NewClient creates a new OpenAI LLM client.
//
// Args:
//   - cfg: OpenAI configuration containing APIKey, Model, and BaseURL
//
// Returns:
//   - *Client: OpenAI client instance
//   - error: Returns an error if the API key is missing
func NewClient(cfg *Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("API key is required")
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}

	return &Client{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}, nil
}

// Complete implements llm.Provider.
func (c *Client) Complete(ctx context.Context, systemRole, prompt string, opts ...llm.GenerateOption) (*llm.Completion, error) {
	return CreateCompletion(ctx, c.client, providerName, c.model, systemRole, prompt, opts)
}

// Close closes the client connection.
// The OpenAI SDK client does not require explicit closing; this method is retained for interface compatibility.
func (c *Client) Close() error {
	return nil
}

// CreateCompletion sends a system + user chat request through an
// OpenAI-compatible client and converts HTTP failures to *llm.APIError.
//
// Args:
//   - client: Configured go-openai client
//   - provider: Provider name recorded in *llm.APIError
//   - model: Chat model name
//   - systemRole, prompt: System and user messages
//   - opts: Optional generation parameters
//
// Returns:
//   - *llm.Completion: First choice content with token usage
//   - error: Returns an error if the request fails or no choice is returned
func CreateCompletion(ctx context.Context, client *openai.Client, provider, model, systemRole, prompt string, opts []llm.GenerateOption) (*llm.Completion, error) {
	options := llm.ApplyGenerateOptions(opts)

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if systemRole != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemRole,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	req := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: float32(options.Temperature),
		MaxTokens:   options.MaxTokens,
		TopP:        float32(options.TopP),
		Stop:        options.Stop,
	}

	resp, err := client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, ConvertError(provider, err)
	}

	if len(resp.Choices) == 0 {
		return nil, llm.ErrEmptyCompletion
	}

	return &llm.Completion{
		Text:        resp.Choices[0].Message.Content,
		TotalTokens: resp.Usage.TotalTokens,
	}, nil
}

// ConvertError attaches the HTTP status of a go-openai error so that
// llm.Classify can inspect it. Other errors are returned unchanged.
func ConvertError(provider string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &llm.APIError{Provider: provider, StatusCode: apiErr.HTTPStatusCode, Err: err}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return &llm.APIError{Provider: provider, StatusCode: reqErr.HTTPStatusCode, Err: err}
	}

	return err
}
