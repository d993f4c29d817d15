// Package llm provides interfaces and utilities for Large Language Model (LLM) providers.
//
// It defines the Provider interface that all LLM implementations must satisfy,
// the completion result type, generation options, and a retrying decorator
// that turns transient provider failures into bounded, backed-off retries.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// Provider defines the interface for LLM providers.
//
// All LLM implementations (OpenAI, DeepSeek, Ollama, Anthropic) must implement this interface.
type Provider interface {
	// Complete sends one system role and one user prompt and returns the
	// model's text.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - systemRole: Instructions describing who the model speaks as
	//   - prompt: The input prompt text
	//   - opts: Optional generation parameters (temperature, max tokens, etc.)
	//
	// Failures that carry an HTTP status must be returned as *APIError so
	// that Classify can tell transient failures from fatal ones.
	Complete(ctx context.Context, systemRole, prompt string, opts ...GenerateOption) (*Completion, error)

	// Close closes the provider and releases resources.
	Close() error
}

// Completion is the text a model returned for one call.
type Completion struct {
	// Text is the generated content.
	Text string

	// TotalTokens is the provider-reported usage, zero when unknown.
	TotalTokens int
}

// APIError is a provider failure annotated with its HTTP status.
type APIError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: status %d: %v", e.Provider, e.StatusCode, e.Err)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// ErrEmptyCompletion is returned when a provider answers without any text choice.
var ErrEmptyCompletion = errors.New("llm generation failed: no content returned")

// GenerateOptions contains options for text generation.
type GenerateOptions struct {
	// Temperature controls randomness (0.0-2.0). Higher = more random.
	Temperature float64

	// MaxTokens limits the maximum number of tokens in the response.
	MaxTokens int

	// TopP controls nucleus sampling (0.0-1.0). Higher = more diverse.
	TopP float64

	// Stop contains stop sequences that will end generation.
	Stop []string
}

// GenerateOption is a function type for configuring generation options.
type GenerateOption func(*GenerateOptions)

// WithTemperature sets the temperature for text generation.
//
// Example:
//
//	c, _ := provider.Complete(ctx, role, "Hello", llm.WithTemperature(0.7))
func WithTemperature(temp float64) GenerateOption {
	return func(opts *GenerateOptions) {
		opts.Temperature = temp
	}
}

// WithMaxTokens sets the maximum number of tokens in the response.
func WithMaxTokens(max int) GenerateOption {
	return func(opts *GenerateOptions) {
		opts.MaxTokens = max
	}
}

// WithTopP sets the top-p (nucleus sampling) parameter.
func WithTopP(topP float64) GenerateOption {
	return func(opts *GenerateOptions) {
		opts.TopP = topP
	}
}

// WithStop sets stop sequences.
func WithStop(stop ...string) GenerateOption {
	return func(opts *GenerateOptions) {
		opts.Stop = stop
	}
}

// ApplyGenerateOptions applies a slice of GenerateOption functions to create GenerateOptions.
//
// Default values: Temperature=0.7, MaxTokens=1000, TopP=1.0.
func ApplyGenerateOptions(opts []GenerateOption) *GenerateOptions {
	options := &GenerateOptions{
		Temperature: 0.7,
		MaxTokens:   1000,
		TopP:        1.0,
	}
	for _, opt := range opts {
		opt(options)
	}
	return options
}
