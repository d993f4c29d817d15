package summary_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/agentmem-go/pkg/embedder/embeddertest"
	"github.com/oceanbase/agentmem-go/pkg/intelligence"
	"github.com/oceanbase/agentmem-go/pkg/llm/llmtest"
	"github.com/oceanbase/agentmem-go/pkg/memory"
	"github.com/oceanbase/agentmem-go/pkg/storage"
	"github.com/oceanbase/agentmem-go/pkg/storage/jsonfile"
	"github.com/oceanbase/agentmem-go/pkg/summary"
	"github.com/oceanbase/agentmem-go/pkg/workerpool"
)

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

type env struct {
	store storage.MemoryStore
	index *memory.Index
	llm   *llmtest.Provider
	pool  *workerpool.Pool
}

// newEnv seeds an index whose model rates everything 5 and answers all
// other prompts with answer.
func newEnv(t *testing.T, seeds []string, answer func(prompt string) (string, error)) *env {
	t.Helper()

	store, err := jsonfile.NewClient(&jsonfile.Config{
		Path:      filepath.Join(t.TempDir(), "memories.json"),
		AgentName: "Ana",
	})
	require.NoError(t, err)

	provider := llmtest.NewProvider(func(_ context.Context, _, prompt string) (string, error) {
		if strings.Contains(prompt, "Rating: [<FILL IN>]") {
			return "Rating: [5]", nil
		}
		return answer(prompt)
	})

	emb := embeddertest.NewProvider(2)
	emb.Fallback = embeddertest.Constant(2)

	idx, err := memory.NewIndex(store, provider, emb, memory.WithClock(func() time.Time { return t0 }))
	require.NoError(t, err)
	_, err = idx.Bootstrap(context.Background(), seeds)
	require.NoError(t, err)

	pool := workerpool.New(workerpool.DefaultConfig(), nil)
	t.Cleanup(pool.Close)

	return &env{store: store, index: idx, llm: provider, pool: pool}
}

func TestStatusGenerator_StoresParsedStatus(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, []string{"Ana won the chess match", "Ana slept well"}, func(prompt string) (string, error) {
		return "Status: Ana feels proud and rested\n", nil
	})

	g := summary.NewStatusGenerator(e.index, e.store, e.llm, "Ana", nil)
	status, err := g.Generate(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Ana feels proud and rested", status)

	stored, err := e.store.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, status, stored)

	calls := e.llm.Calls()
	last := calls[len(calls)-1]
	assert.Contains(t, last.Prompt, "1. Ana")
	assert.Contains(t, last.Prompt, "emotional state of Ana")
}

func TestStatusGenerator_UsesThirtyMostRecent(t *testing.T) {
	ctx := context.Background()
	var seeds []string
	for i := 0; i < 40; i++ {
		seeds = append(seeds, fmt.Sprintf("memory %02d", i))
	}
	e := newEnv(t, seeds, func(string) (string, error) { return "Status: calm", nil })

	_, err := summary.NewStatusGenerator(e.index, e.store, e.llm, "Ana", nil).Generate(ctx)
	require.NoError(t, err)

	calls := e.llm.Calls()
	prompt := calls[len(calls)-1].Prompt
	assert.Contains(t, prompt, "30. ")
	assert.NotContains(t, prompt, "31. ")
}

func TestStatusGenerator_MalformedKeepsOldStatus(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, []string{"Ana slept well"}, func(string) (string, error) {
		return "She seems fine.", nil
	})
	require.NoError(t, e.store.SetStatus(ctx, "Ana is tired"))

	_, err := summary.NewStatusGenerator(e.index, e.store, e.llm, "Ana", nil).Generate(ctx)
	require.ErrorIs(t, err, intelligence.ErrMalformedModelResponse)

	stored, err := e.store.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Ana is tired", stored)
}

func TestSummarizer_KeepsQuestionOrder(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, []string{"Ana plays chess", "Ana bakes bread"}, func(prompt string) (string, error) {
		return "Summary: Ana has hobbies", nil
	})

	s := summary.NewSummarizer(e.index, e.llm, e.pool, nil)
	out, err := s.Summarize(ctx, []string{"q1", "q2", "q3", "q4", "q5"})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"Ana has hobbies", "Ana has hobbies", "Ana has hobbies", "Ana has hobbies", "Ana has hobbies",
	}, out)
}

func TestSummarizer_PropagatesFirstFailure(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("model unavailable")
	e := newEnv(t, []string{"Ana plays chess"}, func(string) (string, error) {
		return "", boom
	})

	_, err := summary.NewSummarizer(e.index, e.llm, e.pool, nil).Summarize(ctx, []string{"q1", "q2"})
	assert.ErrorIs(t, err, boom)
}

func TestSummarizer_BioJoinsSectionsInOrder(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, []string{"Ana plays chess", "Ana works at the library"}, func(prompt string) (string, error) {
		switch {
		case strings.Contains(prompt, "key features"):
			return "Ana is curious.", nil
		case strings.Contains(prompt, "daily occupation"):
			return "Ana works at the library.", nil
		case strings.Contains(prompt, "recent progress"):
			return "  Ana feels she is improving.  ", nil
		}
		return "", fmt.Errorf("unexpected prompt %q", prompt)
	})

	bio, err := summary.NewSummarizer(e.index, e.llm, e.pool, nil).Bio(ctx, "Ana")
	require.NoError(t, err)
	assert.Equal(t, "Ana is curious.\n\nAna works at the library.\n\nAna feels she is improving.", bio)
}

func TestDescribe(t *testing.T) {
	desc := summary.Describe("Ana", "Ana runs the village library.")
	assert.Equal(t, "You are a person named Ana.\nYour bio is the following:\nAna runs the village library.", desc)
}
