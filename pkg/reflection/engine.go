// Package reflection synthesizes higher-level memories from the memory stream.
//
// A run asks the model for three questions about the most recent memories,
// answers each question concurrently with five insights that cite the
// retrieved memories they came from, and stores every insight as a
// reflection memory.
package reflection

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/oceanbase/agentmem-go/pkg/llm"
	"github.com/oceanbase/agentmem-go/pkg/memory"
	"github.com/oceanbase/agentmem-go/pkg/metrics"
	"github.com/oceanbase/agentmem-go/pkg/workerpool"
)

// ErrReflectionInProgress is returned when a run is requested while another
// run on the same engine has not finished.
var ErrReflectionInProgress = errors.New("reflection already in progress")

const questionCount = 3

// MemoryIndex is the part of memory.Index a reflection run needs.
type MemoryIndex interface {
	Recent(n int) []*memory.Entry
	Retrieve(ctx context.Context, query string) ([]*memory.Entry, error)
	Record(ctx context.Context, description string, opts ...memory.RecordOption) (*memory.Entry, error)
	WindowSize() int
	Now() time.Time
}

// State is the phase of the current run.
type State int32

const (
	StateIdle State = iota
	StateQuestionsGenerated
	StateReflectionsGenerated
	StatePersisted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateQuestionsGenerated:
		return "questions_generated"
	case StateReflectionsGenerated:
		return "reflections_generated"
	case StatePersisted:
		return "persisted"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Insight is one parsed model idea and the memories it cites.
type Insight struct {
	Question      string
	Description   string
	SourceIndices []int
	SourceIDs     []int64
}

// FailedInsight is an insight that could not be stored.
type FailedInsight struct {
	Insight Insight
	Err     error
}

// Report summarizes a completed run.
type Report struct {
	Questions []string
	Insights  []Insight
	Persisted []*memory.Entry
	Failed    []FailedInsight
}

// Engine runs reflections for one character.
type Engine struct {
	index         MemoryIndex
	llm           llm.Provider
	pool          *workerpool.Pool
	characterName string
	logger        *zap.Logger
	metrics       *metrics.Recorder

	state   atomic.Int32
	running atomic.Bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithCharacterName sets the name used in the insight prompt.
func WithCharacterName(name string) Option {
	return func(e *Engine) { e.characterName = name }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Recorder) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates an engine. All fan-out runs on pool.
func NewEngine(index MemoryIndex, provider llm.Provider, pool *workerpool.Pool, opts ...Option) *Engine {
	e := &Engine{
		index:         index,
		llm:           provider,
		pool:          pool,
		characterName: "the character",
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State returns the phase of the running reflection, or StateIdle.
func (e *Engine) State() State {
	return State(e.state.Load())
}

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
}

// GenerateReflections runs one reflection cycle.
//
// Question and insight failures abort the run before anything is stored.
// Failures while storing individual insights are logged and listed in
// Report.Failed without affecting the other insights.
func (e *Engine) GenerateReflections(ctx context.Context) (*Report, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, ErrReflectionInProgress
	}
	defer func() {
		e.setState(StateIdle)
		e.running.Store(false)
	}()

	start := time.Now()
	e.logger.Info("generating reflections")

	report, err := e.run(ctx)
	if err != nil {
		e.metrics.RecordReflection(0, 0, err)
		e.logger.Error("reflection failed", zap.Error(err))
		return nil, err
	}

	e.metrics.RecordReflection(len(report.Persisted), len(report.Failed), nil)
	e.logger.Info("reflections generated",
		zap.Int("insights", len(report.Insights)),
		zap.Int("persisted", len(report.Persisted)),
		zap.Int("failed", len(report.Failed)),
		zap.Duration("elapsed", time.Since(start)))
	return report, nil
}

func (e *Engine) run(ctx context.Context) (*Report, error) {
	questions, err := e.generateQuestions(ctx)
	if err != nil {
		return nil, fmt.Errorf("generate questions: %w", err)
	}
	e.setState(StateQuestionsGenerated)

	insights, err := e.generateInsights(ctx, questions)
	if err != nil {
		return nil, fmt.Errorf("generate insights: %w", err)
	}
	e.setState(StateReflectionsGenerated)

	persisted, failed := e.persist(ctx, insights)
	e.setState(StatePersisted)

	return &Report{
		Questions: questions,
		Insights:  insights,
		Persisted: persisted,
		Failed:    failed,
	}, nil
}

func (e *Engine) generateQuestions(ctx context.Context) ([]string, error) {
	recent := e.index.Recent(e.index.WindowSize())
	if len(recent) == 0 {
		return nil, fmt.Errorf("%w: no memories to reflect on", memory.ErrInvalidInput)
	}

	prompt := fmt.Sprintf(questionPrompt, formatNumbered(recent, e.index.Now()))
	completion, err := e.llm.Complete(ctx, questionSystemRole, prompt)
	if err != nil {
		return nil, err
	}

	questions, err := parseQuestions(completion.Text, questionCount)
	if err != nil {
		return nil, err
	}
	for _, q := range questions {
		e.logger.Debug("reflection question", zap.String("question", q))
	}
	return questions, nil
}

// generateInsights answers every question concurrently. The first failure
// cancels the remaining questions.
func (e *Engine) generateInsights(ctx context.Context, questions []string) ([]Insight, error) {
	results := make([][]Insight, len(questions))

	g, gctx := errgroup.WithContext(ctx)
	for i, q := range questions {
		i, q := i, q
		g.Go(func() error {
			return e.pool.Do(gctx, func(ctx context.Context) error {
				insights, err := e.reflectOn(ctx, q)
				if err != nil {
					return fmt.Errorf("question %q: %w", q, err)
				}
				results[i] = insights
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []Insight
	for _, r := range results {
		all = append(all, r...)
	}
	return all, nil
}

func (e *Engine) reflectOn(ctx context.Context, question string) ([]Insight, error) {
	window, err := e.index.Retrieve(ctx, question)
	if err != nil {
		return nil, err
	}

	prompt := fmt.Sprintf(insightPrompt, e.characterName, formatNumbered(window, e.index.Now()))
	completion, err := e.llm.Complete(ctx, insightSystemRole, prompt)
	if err != nil {
		return nil, err
	}

	insights, err := parseInsights(completion.Text, window)
	if err != nil {
		return nil, err
	}
	for i := range insights {
		insights[i].Question = question
	}
	return insights, nil
}

// persist stores every insight as its own pool task.
func (e *Engine) persist(ctx context.Context, insights []Insight) ([]*memory.Entry, []FailedInsight) {
	futures := make([]*workerpool.Future[*memory.Entry], len(insights))
	submitErrs := make([]error, len(insights))

	for i, ins := range insights {
		ins := ins
		futures[i], submitErrs[i] = workerpool.Submit(ctx, e.pool, func(ctx context.Context) (*memory.Entry, error) {
			return e.index.Record(ctx, ins.Description,
				memory.WithKind(memory.KindReflection),
				memory.WithAssociatedIDs(ins.SourceIDs...))
		})
	}

	var (
		persisted []*memory.Entry
		failed    []FailedInsight
	)
	for i, ins := range insights {
		err := submitErrs[i]
		var entry *memory.Entry
		if err == nil {
			entry, err = futures[i].Await(ctx)
		}
		if err != nil {
			e.logger.Error("failed to save reflection",
				zap.String("description", ins.Description),
				zap.Int64s("sources", ins.SourceIDs),
				zap.Error(err))
			failed = append(failed, FailedInsight{Insight: ins, Err: err})
			continue
		}
		persisted = append(persisted, entry)
	}
	return persisted, failed
}
