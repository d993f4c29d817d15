package core_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agentmem "github.com/oceanbase/agentmem-go/pkg/core"
	"github.com/oceanbase/agentmem-go/pkg/embedder/embeddertest"
	"github.com/oceanbase/agentmem-go/pkg/llm/llmtest"
	"github.com/oceanbase/agentmem-go/pkg/memory"
)

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

// character answers every prompt the client sends with a well-formed reply.
// Memories containing "MALFORMED" get a rating without the mandated format.
func character() *llmtest.Provider {
	var insightCalls atomic.Int32
	return llmtest.NewProvider(func(_ context.Context, _, prompt string) (string, error) {
		switch {
		case strings.Contains(prompt, "Rating: [<FILL IN>]"):
			if strings.Contains(prompt, "MALFORMED") {
				return "hard to say", nil
			}
			return "Rating: [6]", nil
		case strings.Contains(prompt, "high-level questions"):
			return "Question 1: What does Ana like?\nQuestion 2: Who is Ana close to?\nQuestion 3: Where does Ana work?", nil
		case strings.Contains(prompt, "high-level ideas"):
			n := insightCalls.Add(1)
			return fmt.Sprintf("1. Ana values routine %d. /*/ References: [1]\n2. Ana is social %d. /*/ References: [1, 2]", n, n), nil
		case strings.Contains(prompt, "Status: <FILL IN>"):
			return "Status: Ana is calm and content", nil
		case strings.Contains(prompt, "Summary: <FILL IN>"):
			return "Summary: Ana spends her days at the library", nil
		}
		return "Ana is a thoughtful librarian.", nil
	})
}

func testConfig(t *testing.T) *agentmem.Config {
	return &agentmem.Config{
		Agent:    agentmem.AgentConfig{Name: "Ana", Description: "Ana is a librarian."},
		LLM:      agentmem.LLMConfig{Provider: "openai"},
		Embedder: agentmem.EmbedderConfig{Provider: "openai"},
		Store: agentmem.StoreConfig{
			Provider: "jsonfile",
			Config:   map[string]interface{}{"path": filepath.Join(t.TempDir(), "ana.json")},
		},
		Retry: agentmem.RetryConfig{MaxAttempts: 1},
	}
}

func newClient(t *testing.T, cfg *agentmem.Config, provider *llmtest.Provider) *agentmem.Client {
	t.Helper()
	emb := embeddertest.NewProvider(2)
	emb.Fallback = embeddertest.Constant(2)

	client, err := agentmem.NewClient(cfg,
		agentmem.WithLLM(provider),
		agentmem.WithEmbedder(emb),
		agentmem.WithClock(func() time.Time { return t0 }))
	require.NoError(t, err)
	return client
}

func TestClient_BootstrapIsIdempotent(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	client := newClient(t, cfg, character())
	firstRun, err := client.Bootstrap(ctx, []string{"A met B", "A likes tea"})
	require.NoError(t, err)
	assert.True(t, firstRun)
	assert.Len(t, client.Memories(), 2)
	require.NoError(t, client.Close())

	reopened := newClient(t, cfg, character())
	defer reopened.Close()
	firstRun, err = reopened.Bootstrap(ctx, []string{"A met B", "A likes tea"})
	require.NoError(t, err)
	assert.False(t, firstRun)
	assert.False(t, reopened.FirstRun())
	assert.Len(t, reopened.Memories(), 2)
}

func TestClient_AgentsSharingADatabaseKeepSeparateStreams(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "agentmem.db")
	open := func(name string) *agentmem.Client {
		cfg := testConfig(t)
		cfg.Agent.Name = name
		cfg.Store = agentmem.StoreConfig{
			Provider: "sqlite",
			Config:   map[string]interface{}{"db_path": path},
		}
		return newClient(t, cfg, character())
	}

	monika := open("Monika")
	defer monika.Close()
	sayori := open("Sayori")
	defer sayori.Close()

	firstRun, err := monika.Bootstrap(ctx, []string{"I like poems"})
	require.NoError(t, err)
	assert.True(t, firstRun)

	firstRun, err = sayori.Bootstrap(ctx, []string{"I like poems", "I forget breakfast"})
	require.NoError(t, err)
	assert.True(t, firstRun)
	assert.Len(t, sayori.Memories(), 2)
	assert.Len(t, monika.Memories(), 1)
}

func TestClient_InitialReflectionOnFirstRun(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Reflection.OnFirstRun = true

	client := newClient(t, cfg, character())
	defer client.Close()

	_, err := client.Bootstrap(ctx, []string{"Ana works at the library", "Ana plays chess with Bruno"})
	require.NoError(t, err)

	var reflections int
	for _, m := range client.Memories() {
		if m.Kind() == memory.KindReflection {
			reflections++
			assert.NotEmpty(t, m.AssociatedIDs())
		}
	}
	assert.Equal(t, 6, reflections)
}

func TestClient_ReflectionTrigger(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Reflection.Every = 3

	client := newClient(t, cfg, character())
	defer client.Close()
	_, err := client.Bootstrap(ctx, []string{"Ana works at the library"})
	require.NoError(t, err)

	report, err := client.MaybeReflect(ctx)
	require.NoError(t, err)
	assert.Nil(t, report)

	for i := 0; i < 3; i++ {
		assert.False(t, client.ReflectionDue())
		_, err := client.Record(ctx, fmt.Sprintf("Ana shelved book %d", i))
		require.NoError(t, err)
	}
	assert.True(t, client.ReflectionDue())

	report, err = client.MaybeReflect(ctx)
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Len(t, report.Persisted, 6)
	assert.False(t, client.ReflectionDue())
}

func TestClient_BioTrigger(t *testing.T) {
	ctx := context.Background()
	provider := character()
	cfg := testConfig(t)
	cfg.Bio.Every = 2

	client := newClient(t, cfg, provider)
	defer client.Close()
	_, err := client.Bootstrap(ctx, []string{"Ana works at the library"})
	require.NoError(t, err)

	assert.Equal(t, "Ana is a librarian.", client.CharacterDescription())
	bio, refreshed, err := client.MaybeRefreshBio(ctx)
	require.NoError(t, err)
	assert.False(t, refreshed)
	assert.Empty(t, bio)

	for i := 0; i < 2; i++ {
		assert.False(t, client.BioDue())
		_, err := client.Record(ctx, fmt.Sprintf("Ana lent book %d", i))
		require.NoError(t, err)
	}
	require.True(t, client.BioDue())

	bio, refreshed, err = client.MaybeRefreshBio(ctx)
	require.NoError(t, err)
	assert.True(t, refreshed)
	assert.Equal(t, bio, client.CurrentBio())
	assert.False(t, client.BioDue())

	_, err = client.Record(ctx, "Ana adopted a kitten")
	require.NoError(t, err)

	calls := provider.Calls()
	last := calls[len(calls)-1]
	require.Contains(t, last.Prompt, "Rating: [<FILL IN>]")
	assert.True(t, strings.HasPrefix(last.SystemRole, "You are a person named Ana."))
	assert.Contains(t, last.SystemRole, "Ana is a thoughtful librarian.")
}

func TestClient_RetrieveWithLimit(t *testing.T) {
	ctx := context.Background()
	client := newClient(t, testConfig(t), character())
	defer client.Close()

	_, err := client.Bootstrap(ctx, []string{"one", "two", "three", "four"})
	require.NoError(t, err)

	all, err := client.Retrieve(ctx, "anything")
	require.NoError(t, err)
	assert.Len(t, all, 4)

	top, err := client.RetrieveScored(ctx, "anything", agentmem.WithLimit(2))
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.GreaterOrEqual(t, top[0].Score, top[1].Score)
}

func TestClient_StatusIsGeneratedOnce(t *testing.T) {
	ctx := context.Background()
	provider := character()
	client := newClient(t, testConfig(t), provider)
	defer client.Close()

	_, err := client.Bootstrap(ctx, []string{"Ana slept well"})
	require.NoError(t, err)

	status, err := client.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Ana is calm and content", status)

	calls := len(provider.Calls())
	again, err := client.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, status, again)
	assert.Len(t, provider.Calls(), calls, "stored status is reused")
}

func TestClient_SummarizeAndBio(t *testing.T) {
	ctx := context.Background()
	client := newClient(t, testConfig(t), character())
	defer client.Close()

	_, err := client.Bootstrap(ctx, []string{"Ana works at the library"})
	require.NoError(t, err)

	summaries, err := client.Summarize(ctx, []string{"Where does Ana work?", "What does Ana do?"})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"Ana spends her days at the library",
		"Ana spends her days at the library",
	}, summaries)

	bio, err := client.Bio(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(bio, "Ana is a thoughtful librarian."))
}

func TestClient_ErrorsCarryOperation(t *testing.T) {
	ctx := context.Background()
	client := newClient(t, testConfig(t), character())
	defer client.Close()

	_, err := client.Record(ctx, "MALFORMED memory")
	require.ErrorIs(t, err, agentmem.ErrMalformedModelResponse)

	var memErr *agentmem.MemoryError
	require.ErrorAs(t, err, &memErr)
	assert.Equal(t, "Record", memErr.Op)
	assert.True(t, strings.HasPrefix(err.Error(), "agentmem: Record: "))

	_, err = client.Get(42)
	assert.ErrorIs(t, err, agentmem.ErrNotFound)

	_, err = client.GenerateReflections(ctx)
	assert.ErrorIs(t, err, agentmem.ErrInvalidInput)
}

func TestNewClient_UnknownProviders(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Provider = "mongodb"
	_, err := agentmem.NewClient(cfg)
	assert.ErrorIs(t, err, agentmem.ErrInvalidConfig)

	cfg = testConfig(t)
	cfg.LLM.Provider = "qwen"
	_, err = agentmem.NewClient(cfg)
	assert.ErrorIs(t, err, agentmem.ErrInvalidConfig)

	cfg = testConfig(t)
	_, err = agentmem.NewClient(cfg)
	assert.ErrorIs(t, err, agentmem.ErrLLMOperation, "openai without an api key")
}

func TestAsyncClient(t *testing.T) {
	ctx := context.Background()
	emb := embeddertest.NewProvider(2)
	emb.Fallback = embeddertest.Constant(2)

	client, err := agentmem.NewAsyncClient(testConfig(t),
		agentmem.WithLLM(character()),
		agentmem.WithEmbedder(emb))
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Bootstrap(ctx, []string{"Ana works at the library"})
	require.NoError(t, err)

	recorded := <-client.RecordAsync(ctx, "Ana met Bruno at the park")
	require.NoError(t, recorded.Error)
	assert.Equal(t, memory.KindObservation, recorded.Memory.Kind())

	retrieved := <-client.RetrieveAsync(ctx, "Bruno", agentmem.WithLimit(1))
	require.NoError(t, retrieved.Error)
	assert.Len(t, retrieved.Memories, 1)

	reflected := <-client.GenerateReflectionsAsync(ctx)
	require.NoError(t, reflected.Error)
	assert.NotEmpty(t, reflected.Report.Persisted)

	client.Wait()
}

func TestMemoryError(t *testing.T) {
	originalErr := errors.New("original error")
	err := agentmem.NewMemoryError("test_operation", originalErr)

	assert.Equal(t, "agentmem: test_operation: original error", err.Error())
	assert.ErrorIs(t, err, originalErr)
	assert.Nil(t, agentmem.NewMemoryError("noop", nil))
}
