package deepseek

import (
	"context"
	"errors"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/oceanbase/agentmem-go/pkg/llm"
	"github.com/oceanbase/agentmem-go/pkg/llm/openai"
)

// Client is a DeepSeek LLM client.
// DeepSeek uses OpenAI-compatible API format, so it reuses the OpenAI SDK.
type Client struct {
	client *goopenai.Client
	model  string
}

// Config is the configuration for DeepSeek LLM.
// APIKey: DeepSeek API key (required)
// Model: Model name to use, defaults to "deepseek-chat"
// BaseURL: API base URL, defaults to "https://api.deepseek.com"
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
}

// NewClient creates a new DeepSeek LLM client.
//
// Args:
//   - cfg: DeepSeek configuration containing APIKey, Model, and BaseURL
//
// Returns:
//   - *Client: DeepSeek client instance
//   - error: Returns an error if the API key is missing
func NewClient(cfg *Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("API key is required")
	}

	config := goopenai.DefaultConfig(cfg.APIKey)

	// DeepSeek uses OpenAI-compatible API, but with a different base URL
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	} else {
		config.BaseURL = "https://api.deepseek.com"
	}

	model := cfg.Model
	if model == "" {
		model = "deepseek-chat"
	}

	return &Client{
		client: goopenai.NewClientWithConfig(config),
		model:  model,
	}, nil
}

// Complete implements llm.Provider.
//
// Args:
//   - ctx: Context for controlling the request lifecycle
//   - systemRole: System message framing the request
//   - prompt: User message
//   - opts: Optional generation parameters (temperature, max tokens, etc.)
//
// Returns:
//   - *llm.Completion: Response text with token usage
//   - error: *llm.APIError for HTTP failures, otherwise the transport error
func (c *Client) Complete(ctx context.Context, systemRole, prompt string, opts ...llm.GenerateOption) (*llm.Completion, error) {
	return openai.CreateCompletion(ctx, c.client, "deepseek", c.model, systemRole, prompt, opts)
}

// Close is a no-op retained for interface compatibility.
func (c *Client) Close() error {
	return nil
}
