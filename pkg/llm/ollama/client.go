package ollama

import (
	"context"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/oceanbase/agentmem-go/pkg/llm"
	"github.com/oceanbase/agentmem-go/pkg/llm/openai"
)

// Client is an Ollama LLM client using Ollama's OpenAI-compatible endpoint.
type Client struct {
	client *goopenai.Client
	model  string
}

// Config is the configuration for Ollama LLM.
// Model: Model name to use, defaults to "llama3.1:70b"
// BaseURL: Ollama service address, defaults to "http://localhost:11434"
// APIKey: optional, only needed behind an authenticating proxy
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
}

// NewClient creates a new Ollama LLM client.
//
// Args:
//   - cfg: Ollama configuration containing BaseURL and Model
//
// Returns:
//   - *Client: Ollama client instance
//   - error: Currently always nil
func NewClient(cfg *Config) (*Client, error) {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if !strings.HasSuffix(baseURL, "/v1") {
		baseURL += "/v1"
	}

	apiKey := cfg.APIKey
	if apiKey == "" {
		// ignored by Ollama, but the SDK always sends an Authorization header
		apiKey = "ollama"
	}

	config := goopenai.DefaultConfig(apiKey)
	config.BaseURL = baseURL

	model := cfg.Model
	if model == "" {
		model = "llama3.1:70b"
	}

	return &Client{
		client: goopenai.NewClientWithConfig(config),
		model:  model,
	}, nil
}

// Complete implements llm.Provider.
func (c *Client) Complete(ctx context.Context, systemRole, prompt string, opts ...llm.GenerateOption) (*llm.Completion, error) {
	return openai.CreateCompletion(ctx, c.client, "ollama", c.model, systemRole, prompt, opts)
}

// Close is a no-op retained for interface compatibility.
func (c *Client) Close() error {
	return nil
}
