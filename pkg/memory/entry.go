// Package memory implements the memory stream of a character: timestamped,
// embedded and importance-rated entries, and the index that seeds, records
// and retrieves them.
package memory

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/oceanbase/agentmem-go/pkg/intelligence"
	"github.com/oceanbase/agentmem-go/pkg/storage"
)

var (
	// ErrInvalidInput indicates an entry that violates a field constraint.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidReference indicates a reflection source that does not resolve.
	ErrInvalidReference = errors.New("invalid memory reference")
)

// Kind tells observations apart from reflections.
type Kind string

const (
	KindObservation Kind = "OBSERVATION"
	KindReflection  Kind = "REFLECTION"
)

// ParseKind parses a stored kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToUpper(strings.TrimSpace(s))); k {
	case KindObservation, KindReflection:
		return k, nil
	}
	return "", fmt.Errorf("%w: unknown memory kind %q", ErrInvalidInput, s)
}

func (k Kind) String() string {
	return string(k)
}

// Entry is one memory. Everything except the access marker and the cached
// retrieval score is immutable after construction.
//
// Entries must be handled by pointer.
type Entry struct {
	id            int64
	description   string
	kind          Kind
	importance    int
	embedding     []float64
	createdAt     time.Time
	associatedIDs []int64

	// unix nanoseconds, only ever moved forward
	accessedAt atomic.Int64
	// float64 bits
	retrievalValue atomic.Uint64
}

// NewObservation creates an observation entry accessed at now.
func NewObservation(id int64, description string, importance int, embedding []float64, now time.Time) (*Entry, error) {
	return newEntry(id, KindObservation, description, importance, embedding, nil, now, now)
}

// NewReflection creates a reflection derived from sources. At least one
// source is required; whether the ids resolve is checked by the Index.
func NewReflection(id int64, description string, importance int, embedding []float64, sources []int64, now time.Time) (*Entry, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: reflection without sources", ErrInvalidReference)
	}
	return newEntry(id, KindReflection, description, importance, embedding, sources, now, now)
}

// FromRecord rebuilds an entry loaded from storage.
func FromRecord(r *storage.Record) (*Entry, error) {
	kind, err := ParseKind(r.Kind)
	if err != nil {
		return nil, err
	}
	if kind == KindReflection && len(r.AssociatedIDs) == 0 {
		return nil, fmt.Errorf("%w: stored reflection %d has no sources", ErrInvalidReference, r.ID)
	}
	if kind == KindObservation && len(r.AssociatedIDs) > 0 {
		return nil, fmt.Errorf("%w: stored observation %d has sources", ErrInvalidInput, r.ID)
	}
	return newEntry(r.ID, kind, r.Description, r.Importance, r.Embedding, r.AssociatedIDs, r.CreatedAt, r.AccessedAt)
}

func newEntry(id int64, kind Kind, description string, importance int, embedding []float64, sources []int64, createdAt, accessedAt time.Time) (*Entry, error) {
	description = strings.TrimSpace(description)
	switch {
	case description == "":
		return nil, fmt.Errorf("%w: empty description", ErrInvalidInput)
	case importance < intelligence.MinImportance || importance > intelligence.MaxImportance:
		return nil, fmt.Errorf("%w: importance %d outside [%d, %d]", ErrInvalidInput, importance, intelligence.MinImportance, intelligence.MaxImportance)
	case len(embedding) == 0:
		return nil, fmt.Errorf("%w: empty embedding", ErrInvalidInput)
	}

	e := &Entry{
		id:            id,
		description:   description,
		kind:          kind,
		importance:    importance,
		embedding:     append([]float64(nil), embedding...),
		createdAt:     createdAt,
		associatedIDs: dedupIDs(sources),
	}
	if accessedAt.Before(createdAt) {
		accessedAt = createdAt
	}
	e.accessedAt.Store(accessedAt.UnixNano())
	return e, nil
}

// dedupIDs keeps the first occurrence of every id.
func dedupIDs(ids []int64) []int64 {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func (e *Entry) ID() int64            { return e.id }
func (e *Entry) Description() string  { return e.description }
func (e *Entry) Kind() Kind           { return e.kind }
func (e *Entry) Importance() int      { return e.importance }
func (e *Entry) CreatedAt() time.Time { return e.createdAt }

// Embedding returns the stored vector. Callers must not modify it.
func (e *Entry) Embedding() []float64 { return e.embedding }

// AssociatedIDs returns the source memories of a reflection.
func (e *Entry) AssociatedIDs() []int64 {
	return append([]int64(nil), e.associatedIDs...)
}

// AccessedAt returns the last-touch marker.
func (e *Entry) AccessedAt() time.Time {
	return time.Unix(0, e.accessedAt.Load()).In(e.createdAt.Location())
}

// Touch advances AccessedAt to now. An older now is ignored, so concurrent
// readers can never move the marker backwards.
func (e *Entry) Touch(now time.Time) {
	n := now.UnixNano()
	for {
		cur := e.accessedAt.Load()
		if n <= cur {
			return
		}
		if e.accessedAt.CompareAndSwap(cur, n) {
			return
		}
	}
}

// Access reads the description and touches the entry.
func (e *Entry) Access(now time.Time) string {
	e.Touch(now)
	return e.description
}

// Recency scores the time since the previous access and then touches the
// entry, so a retrieval resets the decay clock of what it looked at.
func (e *Entry) Recency(decay intelligence.RecencyDecay, now time.Time) float64 {
	prev := time.Unix(0, e.accessedAt.Load())
	e.Touch(now)
	return decay.Score(prev, now)
}

// RetrievalValue returns the composite score from the latest retrieval.
func (e *Entry) RetrievalValue() float64 {
	return math.Float64frombits(e.retrievalValue.Load())
}

func (e *Entry) setRetrievalValue(v float64) {
	e.retrievalValue.Store(math.Float64bits(v))
}

func (e *Entry) String() string {
	return e.description
}

// Record returns the persisted form of the entry.
func (e *Entry) Record() *storage.Record {
	return &storage.Record{
		ID:             e.id,
		Kind:           string(e.kind),
		Description:    e.description,
		Importance:     e.importance,
		Embedding:      append([]float64(nil), e.embedding...),
		AssociatedIDs:  e.AssociatedIDs(),
		CreatedAt:      e.createdAt,
		AccessedAt:     e.AccessedAt(),
		RetrievalValue: e.RetrievalValue(),
	}
}
