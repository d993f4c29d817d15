// Package core provides the agentmem client: one character's memory stream
// wired to its store, model providers and worker pool.
package core

import (
	"errors"
	"fmt"

	"github.com/oceanbase/agentmem-go/pkg/intelligence"
	"github.com/oceanbase/agentmem-go/pkg/llm"
	"github.com/oceanbase/agentmem-go/pkg/memory"
	"github.com/oceanbase/agentmem-go/pkg/reflection"
	"github.com/oceanbase/agentmem-go/pkg/storage"
	"github.com/oceanbase/agentmem-go/pkg/workerpool"
)

// Predefined errors for common failure scenarios.
var (
	// ErrInvalidConfig indicates that the provided configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrLLMOperation indicates that the LLM provider could not be built.
	ErrLLMOperation = errors.New("llm operation failed")

	// ErrEmbeddingFailed indicates that the embedding provider could not be built.
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// Errors raised by the packages the client wires together. They are
// re-exported so callers only need to import core.
var (
	// ErrMalformedModelResponse indicates a model reply that ignored the
	// mandated format (rating, questions, insights, status or summary).
	ErrMalformedModelResponse = intelligence.ErrMalformedModelResponse

	// ErrInvalidReference indicates a reflection source that does not resolve.
	ErrInvalidReference = memory.ErrInvalidReference

	// ErrInvalidInput indicates that the provided input is invalid.
	ErrInvalidInput = memory.ErrInvalidInput

	// ErrTransientService indicates that the retry budget was spent on
	// transient model failures.
	ErrTransientService = llm.ErrTransientService

	// ErrPersistence indicates that the memory store failed.
	ErrPersistence = storage.ErrPersistence

	// ErrNotFound indicates that a requested record or status does not exist.
	ErrNotFound = storage.ErrNotFound

	// ErrReflectionInProgress is returned when a reflection is already running.
	ErrReflectionInProgress = reflection.ErrReflectionInProgress

	// ErrPoolSaturated is returned when the worker pool queue is full.
	ErrPoolSaturated = workerpool.ErrPoolSaturated
)

// MemoryError wraps errors with operation context.
//
// It provides additional context about which operation failed,
// making error messages more informative for debugging.
//
// Example:
//
//	err := &MemoryError{
//	    Op:  "Record",
//	    Err: ErrMalformedModelResponse,
//	}
//	// Error() returns: "agentmem: Record: malformed model response"
type MemoryError struct {
	// Op is the name of the operation that failed.
	Op string

	// Err is the underlying error.
	Err error
}

// Error returns a formatted error message.
//
// The format is: "agentmem: <Op>: <Err>"
func (e *MemoryError) Error() string {
	return fmt.Sprintf("agentmem: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
//
// This allows using errors.Is() and errors.As() with MemoryError.
func (e *MemoryError) Unwrap() error {
	return e.Err
}

// NewMemoryError creates a new MemoryError wrapping the given error.
//
// If err is nil, returns nil. This allows safe error wrapping:
//
//	if err != nil {
//	    return NewMemoryError("Record", err)
//	}
func NewMemoryError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &MemoryError{
		Op:  op,
		Err: err,
	}
}
