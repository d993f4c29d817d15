// Package storagetest holds behavior checks shared by every MemoryStore backend.
package storagetest

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/agentmem-go/pkg/storage"
)

// Opener connects to a backend as the named agent.
type Opener func(t *testing.T, agent string) storage.MemoryStore

// Factory prepares a fresh, empty backend and returns its Opener. Stores
// opened through one Opener share the backend. The suite closes every store.
type Factory func(t *testing.T) Opener

// Run exercises the MemoryStore contract against a backend.
func Run(t *testing.T, newBackend Factory) {
	newStore := func(t *testing.T) storage.MemoryStore {
		return newBackend(t)(t, "Klaus Mueller")
	}

	t.Run("StoreAndList", func(t *testing.T) { testStoreAndList(t, newStore(t)) })
	t.Run("FindByDescription", func(t *testing.T) { testFindByDescription(t, newStore(t)) })
	t.Run("DuplicateDescriptions", func(t *testing.T) { testDuplicateDescriptions(t, newStore(t)) })
	t.Run("Status", func(t *testing.T) { testStatus(t, newStore(t)) })
	t.Run("AgentIsolation", func(t *testing.T) { testAgentIsolation(t, newBackend(t)) })
}

// NewRecord builds a record with a small embedding.
func NewRecord(id int64, description string) *storage.Record {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(id) * time.Minute)
	return &storage.Record{
		ID:          id,
		Kind:        "OBSERVATION",
		Description: description,
		Importance:  5,
		Embedding:   []float64{0.25, 0.5, 0.75},
		CreatedAt:   now,
		AccessedAt:  now,
	}
}

func testStoreAndList(t *testing.T, store storage.MemoryStore) {
	defer func() { _ = store.Close() }()
	ctx := context.Background()

	first := NewRecord(1, "Klaus is writing a paper")
	second := NewRecord(2, "Klaus reflects on gentrification")
	second.Kind = "REFLECTION"
	second.Importance = 8
	second.AssociatedIDs = []int64{1}

	require.NoError(t, store.Store(ctx, first))
	require.NoError(t, store.Store(ctx, second))

	records, err := store.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)

	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })

	assert.Equal(t, "OBSERVATION", records[0].Kind)
	assert.Empty(t, records[0].AssociatedIDs)
	assert.Equal(t, "REFLECTION", records[1].Kind)
	assert.Equal(t, 8, records[1].Importance)
	assert.Equal(t, []int64{1}, records[1].AssociatedIDs)
	assert.InDeltaSlice(t, []float64{0.25, 0.5, 0.75}, records[1].Embedding, 1e-6)
	assert.WithinDuration(t, second.CreatedAt, records[1].CreatedAt, time.Millisecond)
}

func testFindByDescription(t *testing.T, store storage.MemoryStore) {
	defer func() { _ = store.Close() }()
	ctx := context.Background()

	_, err := store.FindByDescription(ctx, "nothing here")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, store.Store(ctx, NewRecord(7, "Maria is studying physics")))

	found, err := store.FindByDescription(ctx, "Maria is studying physics")
	require.NoError(t, err)
	assert.Equal(t, int64(7), found.ID)

	_, err = store.FindByDescription(ctx, "maria is studying physics")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testDuplicateDescriptions(t *testing.T, store storage.MemoryStore) {
	defer func() { _ = store.Close() }()
	ctx := context.Background()

	require.NoError(t, store.Store(ctx, NewRecord(1, "same text")))
	require.NoError(t, store.Store(ctx, NewRecord(2, "same text")))

	records, err := store.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 2)

	found, err := store.FindByDescription(ctx, "same text")
	require.NoError(t, err)
	assert.Equal(t, int64(1), found.ID)
}

func testStatus(t *testing.T, store storage.MemoryStore) {
	defer func() { _ = store.Close() }()
	ctx := context.Background()

	_, err := store.GetStatus(ctx)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, store.SetStatus(ctx, "Klaus is reading"))
	require.NoError(t, store.SetStatus(ctx, "Klaus is asleep"))

	status, err := store.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Klaus is asleep", status)
}

func testAgentIsolation(t *testing.T, open Opener) {
	ctx := context.Background()
	klaus := open(t, "Klaus Mueller")
	defer func() { _ = klaus.Close() }()
	maria := open(t, "Maria Lopez")
	defer func() { _ = maria.Close() }()

	require.NoError(t, klaus.Store(ctx, NewRecord(1, "Klaus is writing a paper")))
	require.NoError(t, klaus.SetStatus(ctx, "Klaus is writing"))

	records, err := maria.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)

	_, err = maria.FindByDescription(ctx, "Klaus is writing a paper")
	assert.ErrorIs(t, err, storage.ErrNotFound, "seeding must not match another agent's memory")

	_, err = maria.GetStatus(ctx)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, maria.Store(ctx, NewRecord(2, "Klaus is writing a paper")))
	found, err := maria.FindByDescription(ctx, "Klaus is writing a paper")
	require.NoError(t, err)
	assert.Equal(t, int64(2), found.ID)

	records, err = klaus.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(1), records[0].ID)
}
