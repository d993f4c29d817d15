// Package storage provides the persistence contract for memory streams.
//
// It defines the MemoryStore interface that all backends (SQLite, PostgreSQL,
// OceanBase, Redis, JSON file) must satisfy, along with the persisted record type.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound indicates that a lookup matched nothing. It is not a failure:
	// seeding relies on it to decide whether an entry must be created.
	ErrNotFound = errors.New("not found")

	// ErrPersistence indicates that the backend failed to store or load data.
	ErrPersistence = errors.New("persistence operation failed")
)

// Record is the durable form of a memory entry.
//
// This type is defined in the storage package to avoid circular dependencies
// with the memory package. It mirrors memory.Entry.
type Record struct {
	// ID is the unique identifier of the memory.
	ID int64 `json:"id"`

	// Kind is "OBSERVATION" or "REFLECTION".
	Kind string `json:"kind"`

	// Description is the text content of the memory.
	Description string `json:"description"`

	// Importance is the model-assigned rating in [1, 10].
	Importance int `json:"importance"`

	// Embedding is the vector representation of Description.
	Embedding []float64 `json:"embedding"`

	// AssociatedIDs lists the memories a reflection was derived from.
	AssociatedIDs []int64 `json:"associated_memory_ids"`

	// CreatedAt is when the memory was created.
	CreatedAt time.Time `json:"created_at"`

	// AccessedAt is the last-touch marker at the time the record was written.
	AccessedAt time.Time `json:"accessed_at"`

	// RetrievalValue caches the most recent composite score.
	RetrievalValue float64 `json:"retrieval_value"`
}

// MemoryStore defines the interface for memory persistence backends.
//
// Storing two records with the same description is permitted; deduplication
// is the caller's responsibility.
type MemoryStore interface {
	// Store appends a record.
	Store(ctx context.Context, record *Record) error

	// FindByDescription returns a record whose description equals the given
	// text exactly, or ErrNotFound.
	FindByDescription(ctx context.Context, description string) (*Record, error)

	// ListAll returns every persisted record. No ordering is guaranteed.
	ListAll(ctx context.Context) ([]*Record, error)

	// GetStatus returns the agent status, or ErrNotFound if it was never set.
	GetStatus(ctx context.Context) (string, error)

	// SetStatus overwrites the agent status. The last writer wins.
	SetStatus(ctx context.Context, status string) error

	// Close closes the store and releases resources.
	Close() error
}

// Wrap annotates a backend failure with the operation name and ErrPersistence.
// A nil error and ErrNotFound pass through untouched.
func Wrap(op string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}
