package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/oceanbase/agentmem-go/pkg/embedder"
	"github.com/oceanbase/agentmem-go/pkg/intelligence"
	"github.com/oceanbase/agentmem-go/pkg/llm"
	"github.com/oceanbase/agentmem-go/pkg/metrics"
	"github.com/oceanbase/agentmem-go/pkg/storage"
)

// DefaultWindowSize is how many of the most recent memories a retrieval scores.
const DefaultWindowSize = 70

// Index owns the live memory set of one character.
//
// It is safe for concurrent use. The live set is append-only; access markers
// and retrieval scores on entries are updated atomically.
type Index struct {
	store     storage.MemoryStore
	embedder  embedder.Provider
	evaluator *intelligence.ImportanceEvaluator
	decay     intelligence.RecencyDecay
	node      *snowflake.Node

	clock      func() time.Time
	windowSize int
	logger     *zap.Logger
	metrics    *metrics.Recorder

	mu      sync.RWMutex
	entries []*Entry // insertion order
	byID    map[int64]*Entry
	dims    int // fixed by the first loaded or recorded embedding

	firstRun atomic.Bool
}

// Option configures an Index.
type Option func(*indexOptions)

type indexOptions struct {
	clock                func() time.Time
	windowSize           int
	logger               *zap.Logger
	metrics              *metrics.Recorder
	characterDescription string
	nodeID               int64
	decayBase            float64
}

// WithClock replaces time.Now, mainly to freeze time in tests.
func WithClock(clock func() time.Time) Option {
	return func(o *indexOptions) { o.clock = clock }
}

// WithWindowSize sets how many recent memories Retrieve scores.
func WithWindowSize(n int) Option {
	return func(o *indexOptions) { o.windowSize = n }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *indexOptions) { o.logger = logger }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Recorder) Option {
	return func(o *indexOptions) { o.metrics = m }
}

// WithCharacterDescription sets the system role used when rating importance.
func WithCharacterDescription(description string) Option {
	return func(o *indexOptions) { o.characterDescription = description }
}

// WithNodeID sets the snowflake node, which must differ between processes
// that share a store.
func WithNodeID(id int64) Option {
	return func(o *indexOptions) { o.nodeID = id }
}

// WithDecayBase overrides the per-hour recency decay base.
func WithDecayBase(base float64) Option {
	return func(o *indexOptions) { o.decayBase = base }
}

// NewIndex creates an empty index. Call Bootstrap or Load to populate it.
func NewIndex(store storage.MemoryStore, provider llm.Provider, emb embedder.Provider, opts ...Option) (*Index, error) {
	o := indexOptions{
		clock:      time.Now,
		windowSize: DefaultWindowSize,
		logger:     zap.NewNop(),
		nodeID:     1,
		decayBase:  intelligence.DefaultDecayBase,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.windowSize <= 0 {
		o.windowSize = DefaultWindowSize
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	node, err := snowflake.NewNode(o.nodeID)
	if err != nil {
		return nil, fmt.Errorf("%w: snowflake node: %w", ErrInvalidInput, err)
	}

	return &Index{
		store:      store,
		embedder:   emb,
		evaluator:  intelligence.NewImportanceEvaluator(provider, o.characterDescription),
		decay:      intelligence.NewRecencyDecay(o.decayBase),
		node:       node,
		clock:      o.clock,
		windowSize: o.windowSize,
		logger:     o.logger,
		metrics:    o.metrics,
		byID:       make(map[int64]*Entry),
	}, nil
}

// Bootstrap records every seed whose exact description is not stored yet,
// then loads the full stream into the live set.
//
// Blank seeds are skipped. The returned flag (also kept for FirstRun) is true
// iff at least one seed was created.
func (x *Index) Bootstrap(ctx context.Context, seeds []string) (bool, error) {
	created := 0
	for _, seed := range seeds {
		seed = strings.TrimSpace(seed)
		if seed == "" {
			continue
		}

		_, err := x.store.FindByDescription(ctx, seed)
		if err == nil {
			x.logger.Debug("seed memory already exists", zap.String("description", seed))
			continue
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return false, err
		}

		if _, err := x.Record(ctx, seed); err != nil {
			return false, fmt.Errorf("seed %q: %w", seed, err)
		}
		created++
	}

	if err := x.Load(ctx); err != nil {
		return false, err
	}

	firstRun := created > 0
	x.firstRun.Store(firstRun)
	x.logger.Info("memory stream bootstrapped",
		zap.Int("seeds_created", created),
		zap.Int("memories", x.Len()),
		zap.Bool("first_run", firstRun))
	return firstRun, nil
}

// FirstRun reports whether the last Bootstrap created any seed.
func (x *Index) FirstRun() bool {
	return x.firstRun.Load()
}

// Load replaces the live set with everything in the store.
func (x *Index) Load(ctx context.Context) error {
	records, err := x.store.ListAll(ctx)
	if err != nil {
		return err
	}

	entries := make([]*Entry, 0, len(records))
	for _, r := range records {
		e, err := FromRecord(r)
		if err != nil {
			return fmt.Errorf("load memory %d: %w", r.ID, err)
		}
		entries = append(entries, e)
	}
	// stores give no ordering guarantee; ids break creation-time ties
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].createdAt.Equal(entries[j].createdAt) {
			return entries[i].createdAt.Before(entries[j].createdAt)
		}
		return entries[i].id < entries[j].id
	})

	byID := make(map[int64]*Entry, len(entries))
	for _, e := range entries {
		byID[e.id] = e
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	x.entries = entries
	x.byID = byID
	if x.dims == 0 && len(entries) > 0 {
		x.dims = len(entries[0].embedding)
	}
	return nil
}

// RecordOption configures Record.
type RecordOption func(*recordOptions)

type recordOptions struct {
	kind    Kind
	sources []int64
}

// WithKind sets the kind of the new memory. Defaults to KindObservation.
func WithKind(kind Kind) RecordOption {
	return func(o *recordOptions) { o.kind = kind }
}

// WithAssociatedIDs sets the source memories of a reflection.
func WithAssociatedIDs(ids ...int64) RecordOption {
	return func(o *recordOptions) { o.sources = ids }
}

// Record rates, embeds, persists and indexes a new memory.
//
// Reflection sources must resolve in the live set (ErrInvalidReference).
// A rating the model did not format correctly fails the call with
// intelligence.ErrMalformedModelResponse; nothing is stored in that case.
func (x *Index) Record(ctx context.Context, description string, opts ...RecordOption) (*Entry, error) {
	o := recordOptions{kind: KindObservation}
	for _, opt := range opts {
		opt(&o)
	}

	description = strings.TrimSpace(description)
	if description == "" {
		return nil, fmt.Errorf("%w: empty description", ErrInvalidInput)
	}

	switch o.kind {
	case KindObservation:
		if len(o.sources) > 0 {
			return nil, fmt.Errorf("%w: observations cannot cite sources", ErrInvalidInput)
		}
	case KindReflection:
		if err := x.checkSources(o.sources); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: unknown memory kind %q", ErrInvalidInput, o.kind)
	}

	importance, err := x.evaluator.Rate(ctx, description)
	if err != nil {
		return nil, fmt.Errorf("rate importance: %w", err)
	}

	embedding, err := x.embedder.Embed(ctx, description)
	if err != nil {
		return nil, fmt.Errorf("embed memory: %w", err)
	}
	if err := x.checkDimensions(embedding); err != nil {
		return nil, err
	}

	now := x.clock()
	id := x.node.Generate().Int64()

	var entry *Entry
	if o.kind == KindReflection {
		entry, err = NewReflection(id, description, importance, embedding, o.sources, now)
	} else {
		entry, err = NewObservation(id, description, importance, embedding, now)
	}
	if err != nil {
		return nil, err
	}

	if err := x.store.Store(ctx, entry.Record()); err != nil {
		return nil, err
	}
	x.append(entry)

	x.metrics.RecordMemory(entry.kind.String())
	x.logger.Debug("memory recorded",
		zap.Int64("memory_id", entry.id),
		zap.String("kind", entry.kind.String()),
		zap.Int("importance", importance))
	return entry, nil
}

func (x *Index) checkSources(ids []int64) error {
	if len(ids) == 0 {
		return fmt.Errorf("%w: reflection without sources", ErrInvalidReference)
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	for _, id := range ids {
		if _, ok := x.byID[id]; !ok {
			return fmt.Errorf("%w: memory %d does not exist", ErrInvalidReference, id)
		}
	}
	return nil
}

func (x *Index) checkDimensions(embedding []float64) error {
	x.mu.RLock()
	dims := x.dims
	x.mu.RUnlock()
	if dims > 0 && len(embedding) != dims {
		return fmt.Errorf("%w: embedding has %d dimensions, want %d", ErrInvalidInput, len(embedding), dims)
	}
	return nil
}

func (x *Index) append(e *Entry) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.entries = append(x.entries, e)
	x.byID[e.id] = e
	if x.dims == 0 {
		x.dims = len(e.embedding)
	}
}

// Get returns the live entry with id.
func (x *Index) Get(id int64) (*Entry, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	e, ok := x.byID[id]
	return e, ok
}

// Len returns the size of the live set.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}

// Memories returns a snapshot of the live set, newest first. Entries created
// at the same instant keep newest-inserted-first order.
func (x *Index) Memories() []*Entry {
	x.mu.RLock()
	out := make([]*Entry, len(x.entries))
	for i, e := range x.entries {
		out[len(x.entries)-1-i] = e
	}
	x.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].createdAt.After(out[j].createdAt)
	})
	return out
}

// Recent returns at most n entries of Memories.
func (x *Index) Recent(n int) []*Entry {
	all := x.Memories()
	if n < len(all) {
		all = all[:n]
	}
	return all
}

// SetCharacterDescription changes the perspective from which later
// memories are rated. Existing ratings are kept.
func (x *Index) SetCharacterDescription(description string) {
	x.evaluator.SetCharacterDescription(description)
}

// CharacterDescription returns the perspective used to rate memories.
func (x *Index) CharacterDescription() string {
	return x.evaluator.CharacterDescription()
}

// WindowSize returns how many memories Retrieve scores.
func (x *Index) WindowSize() int {
	return x.windowSize
}

// Now returns the index clock's current time.
func (x *Index) Now() time.Time {
	return x.clock()
}

// Scored is an entry with the parts of its composite retrieval score.
type Scored struct {
	Entry      *Entry
	Recency    float64
	Importance float64
	Relevance  float64
	Score      float64
}

// Retrieve ranks the recent window against query, best first.
//
//	score = 0.99^hours_since_access + (importance-1)/9 + cosine(query, embedding)
//
// Relevance is the raw cosine, so a score can exceed 3 and go below 1.
// The whole window is returned; scoring touches every entry in it.
func (x *Index) Retrieve(ctx context.Context, query string) ([]*Entry, error) {
	scored, err := x.RetrieveScored(ctx, query)
	if err != nil {
		return nil, err
	}
	out := make([]*Entry, len(scored))
	for i, s := range scored {
		out[i] = s.Entry
	}
	return out, nil
}

// RetrieveScored is Retrieve with the score breakdown.
func (x *Index) RetrieveScored(ctx context.Context, query string) ([]Scored, error) {
	start := time.Now()

	window := x.Recent(x.windowSize)
	if len(window) == 0 {
		return []Scored{}, nil
	}

	queryEmbedding, err := x.embedder.Embed(ctx, strings.TrimSpace(query))
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	now := x.clock()
	scored := make([]Scored, len(window))
	for i, e := range window {
		s := Scored{
			Entry:      e,
			Recency:    e.Recency(x.decay, now),
			Importance: intelligence.NormalizeImportance(e.importance),
			Relevance:  intelligence.CosineSimilarity(queryEmbedding, e.embedding),
		}
		s.Score = s.Recency + s.Importance + s.Relevance
		e.setRetrievalValue(s.Score)
		scored[i] = s
	}

	// sort on the local scores; a concurrent retrieval may overwrite the cached ones
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	x.metrics.RecordRetrieval(time.Since(start))
	return scored, nil
}
