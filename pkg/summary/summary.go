// Package summary condenses the memory stream into text for the dialogue
// layer: the character's current status, per-question memory summaries and
// a bio rebuilt from what the character remembers.
package summary

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/oceanbase/agentmem-go/pkg/intelligence"
	"github.com/oceanbase/agentmem-go/pkg/llm"
	"github.com/oceanbase/agentmem-go/pkg/memory"
	"github.com/oceanbase/agentmem-go/pkg/storage"
	"github.com/oceanbase/agentmem-go/pkg/workerpool"
)

// StatusWindow is how many recent memories a status is generated from.
const StatusWindow = 30

// MemoryIndex is the part of memory.Index summaries read from.
type MemoryIndex interface {
	Recent(n int) []*memory.Entry
	Retrieve(ctx context.Context, query string) ([]*memory.Entry, error)
	Now() time.Time
}

// StatusStore keeps the single status of a character.
type StatusStore interface {
	GetStatus(ctx context.Context) (string, error)
	SetStatus(ctx context.Context, status string) error
}

var _ StatusStore = storage.MemoryStore(nil)

// StatusGenerator derives a short emotional status from recent memories.
type StatusGenerator struct {
	index  MemoryIndex
	store  StatusStore
	llm    llm.Provider
	name   string
	logger *zap.Logger
}

// NewStatusGenerator creates a generator for the character called name.
func NewStatusGenerator(index MemoryIndex, store StatusStore, provider llm.Provider, name string, logger *zap.Logger) *StatusGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatusGenerator{index: index, store: store, llm: provider, name: name, logger: logger}
}

// Generate asks the model for a new status and stores it.
func (g *StatusGenerator) Generate(ctx context.Context) (string, error) {
	recent := g.index.Recent(StatusWindow)
	if len(recent) == 0 {
		return "", fmt.Errorf("%w: no memories to derive a status from", memory.ErrInvalidInput)
	}

	prompt := fmt.Sprintf(statusPrompt, numbered(recent, g.index.Now()), g.name)
	completion, err := g.llm.Complete(ctx, summarySystemRole, prompt)
	if err != nil {
		return "", err
	}

	status, err := intelligence.ExtractField(completion.Text, "Status")
	if err != nil {
		return "", err
	}
	if err := g.store.SetStatus(ctx, status); err != nil {
		return "", err
	}

	g.logger.Info("status generated", zap.String("status", status))
	return status, nil
}

// Summarizer answers questions about the character from its memories.
type Summarizer struct {
	index  MemoryIndex
	llm    llm.Provider
	pool   *workerpool.Pool
	logger *zap.Logger
}

// NewSummarizer creates a Summarizer that fans out on pool.
func NewSummarizer(index MemoryIndex, provider llm.Provider, pool *workerpool.Pool, logger *zap.Logger) *Summarizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Summarizer{index: index, llm: provider, pool: pool, logger: logger}
}

// Summarize returns one summary per question, in question order. Questions
// are answered concurrently; the first failure is returned.
func (s *Summarizer) Summarize(ctx context.Context, questions []string) ([]string, error) {
	return s.fanOut(ctx, len(questions), func(ctx context.Context, i int) (string, error) {
		memories, err := s.index.Retrieve(ctx, questions[i])
		if err != nil {
			return "", err
		}

		prompt := fmt.Sprintf(summaryPrompt, numbered(memories, s.index.Now()))
		completion, err := s.llm.Complete(ctx, summarySystemRole, prompt)
		if err != nil {
			return "", err
		}

		summary, err := intelligence.ExtractField(completion.Text, "Summary")
		if err != nil {
			return "", err
		}
		s.logger.Debug("memory summary generated",
			zap.String("question", questions[i]),
			zap.String("summary", summary))
		return summary, nil
	})
}

// Bio rebuilds the character's bio from three summaries: key features,
// daily occupation and recent progress. Sections are separated by a blank line.
func (s *Summarizer) Bio(ctx context.Context, name string) (string, error) {
	s.logger.Info("generating bio", zap.String("name", name))

	sections, err := s.fanOut(ctx, len(bioTopics), func(ctx context.Context, i int) (string, error) {
		topic := bioTopics[i]
		memories, err := s.index.Retrieve(ctx, fmt.Sprintf(topic.question, name))
		if err != nil {
			return "", err
		}

		completion, err := s.llm.Complete(ctx, summarySystemRole, fmt.Sprintf(topic.prompt, name, bulleted(memories, s.index.Now())))
		if err != nil {
			return "", err
		}

		text := strings.TrimSpace(completion.Text)
		if text == "" {
			return "", fmt.Errorf("%w: empty bio section", intelligence.ErrMalformedModelResponse)
		}
		return text, nil
	})
	if err != nil {
		return "", err
	}
	return strings.Join(sections, "\n\n"), nil
}

// Describe turns a bio into the character description that later prompts
// use as their system role.
func Describe(name, bio string) string {
	return fmt.Sprintf(characterPrompt, name, bio)
}

func (s *Summarizer) fanOut(ctx context.Context, n int, fn func(ctx context.Context, i int) (string, error)) ([]string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	futures := make([]*workerpool.Future[string], n)
	for i := 0; i < n; i++ {
		i := i
		f, err := workerpool.Submit(ctx, s.pool, func(ctx context.Context) (string, error) {
			return fn(ctx, i)
		})
		if err != nil {
			return nil, err
		}
		futures[i] = f
	}

	out := make([]string, n)
	for i, f := range futures {
		v, err := f.Await(ctx)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func numbered(entries []*memory.Entry, now time.Time) string {
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = fmt.Sprintf("%d. %s", i+1, e.Access(now))
	}
	return strings.Join(lines, "\n")
}

func bulleted(entries []*memory.Entry, now time.Time) string {
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = fmt.Sprintf("- %s.", e.Access(now))
	}
	return strings.Join(lines, "\n")
}
