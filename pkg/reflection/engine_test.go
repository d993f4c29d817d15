package reflection_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/agentmem-go/pkg/embedder/embeddertest"
	"github.com/oceanbase/agentmem-go/pkg/intelligence"
	"github.com/oceanbase/agentmem-go/pkg/llm/llmtest"
	"github.com/oceanbase/agentmem-go/pkg/memory"
	"github.com/oceanbase/agentmem-go/pkg/reflection"
	"github.com/oceanbase/agentmem-go/pkg/storage"
	"github.com/oceanbase/agentmem-go/pkg/storage/jsonfile"
	"github.com/oceanbase/agentmem-go/pkg/workerpool"
)

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

const goodQuestions = `Question 1: What does A care about?
Question 2: Who does A spend time with?
Question 3: How does A feel about work?`

// script answers the three prompt kinds a reflection run sends.
type script struct {
	questions string
	insights  func(call int) string
	onInsight func()

	insightCalls atomic.Int32
}

func (s *script) provider() *llmtest.Provider {
	return llmtest.NewProvider(func(ctx context.Context, _, prompt string) (string, error) {
		switch {
		case strings.Contains(prompt, "Rating: [<FILL IN>]"):
			return "Rating: [5]", nil
		case strings.Contains(prompt, "high-level questions"):
			return s.questions, nil
		case strings.Contains(prompt, "high-level ideas"):
			if s.onInsight != nil {
				s.onInsight()
			}
			return s.insights(int(s.insightCalls.Add(1))), nil
		}
		return "", fmt.Errorf("unexpected prompt %q", prompt)
	})
}

// fiveInsights numbers every insight with the call it came from.
func fiveInsights(call int) string {
	var sb strings.Builder
	for k := 1; k <= 5; k++ {
		fmt.Fprintf(&sb, "%d. idea %d-%d. /*/ References: [1, %d]\n", k, call, k, 1+k%3)
	}
	return sb.String()
}

type fixture struct {
	store  storage.MemoryStore
	index  *memory.Index
	engine *reflection.Engine
	seeds  []*memory.Entry
}

// newFixture seeds A's stream so that every question retrieves
// "A likes tea", "A met B", "A works at the bakery" in that order.
func newFixture(t *testing.T, s *script, wrap func(storage.MemoryStore) storage.MemoryStore) *fixture {
	t.Helper()
	ctx := context.Background()

	store, err := jsonfile.NewClient(&jsonfile.Config{
		Path:      filepath.Join(t.TempDir(), "memories.json"),
		AgentName: "A",
	})
	require.NoError(t, err)
	var ms storage.MemoryStore = store
	if wrap != nil {
		ms = wrap(store)
	}

	emb := embeddertest.NewProvider(2).
		Set("A likes tea", []float64{0.9, 0.4359}).
		Set("A met B", []float64{0.5, 0.866}).
		Set("A works at the bakery", []float64{0.1, 0.995})
	emb.Fallback = func(text string) []float64 {
		if strings.HasPrefix(text, "What") || strings.HasPrefix(text, "Who") || strings.HasPrefix(text, "How") {
			return []float64{1, 0}
		}
		return []float64{0, 1}
	}

	provider := s.provider()
	idx, err := memory.NewIndex(ms, provider, emb, memory.WithClock(func() time.Time { return t0 }))
	require.NoError(t, err)

	_, err = idx.Bootstrap(ctx, []string{"A works at the bakery", "A met B", "A likes tea"})
	require.NoError(t, err)

	pool := workerpool.New(workerpool.DefaultConfig(), nil)
	t.Cleanup(pool.Close)

	byDesc := map[string]*memory.Entry{}
	for _, e := range idx.Memories() {
		byDesc[e.Description()] = e
	}

	return &fixture{
		store:  ms,
		index:  idx,
		engine: reflection.NewEngine(idx, provider, pool, reflection.WithCharacterName("A")),
		seeds:  []*memory.Entry{byDesc["A likes tea"], byDesc["A met B"], byDesc["A works at the bakery"]},
	}
}

func TestGenerateReflections_PersistsLinkedInsights(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &script{questions: goodQuestions, insights: fiveInsights}, nil)

	report, err := f.engine.GenerateReflections(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"What does A care about?",
		"Who does A spend time with?",
		"How does A feel about work?",
	}, report.Questions)
	assert.Len(t, report.Insights, 15)
	assert.Len(t, report.Persisted, 15)
	assert.Empty(t, report.Failed)
	assert.Equal(t, reflection.StateIdle, f.engine.State())

	for _, e := range report.Persisted {
		assert.Equal(t, memory.KindReflection, e.Kind())
		require.NotEmpty(t, e.AssociatedIDs())
		for _, id := range e.AssociatedIDs() {
			_, ok := f.index.Get(id)
			assert.True(t, ok, "reflection %q cites unknown memory %d", e.Description(), id)
		}
	}
	assert.Equal(t, 18, f.index.Len())

	records, err := f.store.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 18)
}

func TestGenerateReflections_IndexOneIsFirstRetrieved(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &script{
		questions: goodQuestions,
		insights: func(call int) string {
			return fmt.Sprintf("1. idea %d. /*/ References: [1]\n2. other idea %d. /*/ References: [3, 2, 3]", call, call)
		},
	}, nil)

	report, err := f.engine.GenerateReflections(ctx)
	require.NoError(t, err)
	require.Len(t, report.Insights, 6)

	tea, met, bakery := f.seeds[0], f.seeds[1], f.seeds[2]
	for _, ins := range report.Insights {
		if strings.HasPrefix(ins.Description, "idea") {
			assert.Equal(t, []int{1}, ins.SourceIndices)
			assert.Equal(t, []int64{tea.ID()}, ins.SourceIDs)
		} else {
			assert.Equal(t, []int{3, 2}, ins.SourceIndices)
			assert.Equal(t, []int64{bakery.ID(), met.ID()}, ins.SourceIDs)
		}
		assert.NotEmpty(t, ins.Question)
	}
}

type failingStore struct {
	storage.MemoryStore
	failOn string
}

func (s failingStore) Store(ctx context.Context, r *storage.Record) error {
	if r.Description == s.failOn {
		return storage.Wrap("Store", errors.New("write refused"))
	}
	return s.MemoryStore.Store(ctx, r)
}

func TestGenerateReflections_FailedSaveDoesNotAbortOthers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &script{questions: goodQuestions, insights: fiveInsights}, func(s storage.MemoryStore) storage.MemoryStore {
		return failingStore{MemoryStore: s, failOn: "idea 1-3."}
	})

	report, err := f.engine.GenerateReflections(ctx)
	require.NoError(t, err)

	assert.Len(t, report.Persisted, 14)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, "idea 1-3.", report.Failed[0].Insight.Description)
	assert.ErrorIs(t, report.Failed[0].Err, storage.ErrPersistence)
	assert.Equal(t, 17, f.index.Len())
}

func TestGenerateReflections_MalformedQuestions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, &script{
		questions: "Question 1: What does A care about?\nI am not sure about the rest.",
		insights:  fiveInsights,
	}, nil)

	_, err := f.engine.GenerateReflections(ctx)
	require.ErrorIs(t, err, intelligence.ErrMalformedModelResponse)
	assert.Equal(t, 3, f.index.Len())
	assert.Equal(t, reflection.StateIdle, f.engine.State())
}

func TestGenerateReflections_MalformedInsightsStoreNothing(t *testing.T) {
	cases := map[string]string{
		"missing delimiter": "1. A likes tea a lot. References: [1]",
		"missing brackets":  "1. A likes tea a lot. /*/ References: 1, 2",
		"empty brackets":    "1. A likes tea a lot. /*/ References: []",
	}
	for name, reply := range cases {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, &script{
				questions: goodQuestions,
				insights:  func(int) string { return reply },
			}, nil)

			_, err := f.engine.GenerateReflections(ctx)
			require.ErrorIs(t, err, intelligence.ErrMalformedModelResponse)
			assert.Equal(t, 3, f.index.Len())
		})
	}
}

func TestGenerateReflections_OutOfRangeReference(t *testing.T) {
	tests := []struct {
		name string
		refs string
	}{
		{name: "past the window", refs: "[1, 4]"},
		{name: "zero", refs: "[0]"},
		{name: "negative", refs: "[-1]"},
		{name: "overflows int", refs: "[99999999999999999999]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, &script{
				questions: goodQuestions,
				insights: func(call int) string {
					return fmt.Sprintf("1. idea %d. /*/ References: %s", call, tt.refs)
				},
			}, nil)

			_, err := f.engine.GenerateReflections(ctx)
			require.ErrorIs(t, err, memory.ErrInvalidReference)
			assert.NotErrorIs(t, err, intelligence.ErrMalformedModelResponse)
			assert.Equal(t, 3, f.index.Len())
		})
	}
}

func TestGenerateReflections_RejectsConcurrentRun(t *testing.T) {
	ctx := context.Background()
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	f := newFixture(t, &script{
		questions: goodQuestions,
		insights:  fiveInsights,
		onInsight: func() {
			once.Do(func() { close(started) })
			<-release
		},
	}, nil)

	done := make(chan error, 1)
	go func() {
		_, err := f.engine.GenerateReflections(ctx)
		done <- err
	}()

	<-started
	assert.Equal(t, reflection.StateQuestionsGenerated, f.engine.State())
	_, err := f.engine.GenerateReflections(ctx)
	assert.ErrorIs(t, err, reflection.ErrReflectionInProgress)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, reflection.StateIdle, f.engine.State())

	// a finished run frees the engine
	_, err = f.engine.GenerateReflections(ctx)
	assert.NoError(t, err)
}

func TestGenerateReflections_EmptyStream(t *testing.T) {
	store, err := jsonfile.NewClient(&jsonfile.Config{
		Path:      filepath.Join(t.TempDir(), "memories.json"),
		AgentName: "A",
	})
	require.NoError(t, err)

	s := &script{questions: goodQuestions, insights: fiveInsights}
	emb := embeddertest.NewProvider(2)
	idx, err := memory.NewIndex(store, s.provider(), emb)
	require.NoError(t, err)

	pool := workerpool.New(workerpool.DefaultConfig(), nil)
	defer pool.Close()

	_, err = reflection.NewEngine(idx, s.provider(), pool).GenerateReflections(context.Background())
	assert.ErrorIs(t, err, memory.ErrInvalidInput)
}
