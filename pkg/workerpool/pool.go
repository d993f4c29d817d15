// Package workerpool bounds the number of concurrently running tasks.
//
// All fan-out work (reflection questions, insight saves, summaries) shares
// one Pool so that a burst of requests cannot open an unbounded number of
// model calls. Tasks acquire a slot from a FIFO weighted semaphore; once
// MaxQueued tasks are waiting for a slot, further submissions fail fast with
// ErrPoolSaturated.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrPoolSaturated is returned by Submit when the wait queue is full.
	ErrPoolSaturated = errors.New("worker pool saturated")

	// ErrPoolClosed is returned by Submit after Close.
	ErrPoolClosed = errors.New("worker pool closed")
)

// Config sizes a Pool.
type Config struct {
	// MaxWorkers is the number of tasks allowed to run at once. Defaults to 4.
	MaxWorkers int

	// MaxQueued is the number of tasks allowed to wait for a slot.
	// Zero or negative means no limit.
	MaxQueued int
}

// DefaultConfig returns 4 workers and a 64 task queue.
func DefaultConfig() Config {
	return Config{MaxWorkers: 4, MaxQueued: 64}
}

// Pool runs tasks on goroutines, at most MaxWorkers at a time.
type Pool struct {
	sem       *semaphore.Weighted
	workers   int
	maxQueued int64
	waiting   atomic.Int64
	closed    atomic.Bool
	wg        sync.WaitGroup
	logger    *zap.Logger
}

// New creates a Pool.
func New(cfg Config, logger *zap.Logger) *Pool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = DefaultConfig().MaxWorkers
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		sem:       semaphore.NewWeighted(int64(cfg.MaxWorkers)),
		workers:   cfg.MaxWorkers,
		maxQueued: int64(cfg.MaxQueued),
		logger:    logger,
	}
}

// Workers returns the concurrency limit.
func (p *Pool) Workers() int {
	return p.workers
}

// Queued returns the number of tasks waiting for a slot.
func (p *Pool) Queued() int {
	return int(p.waiting.Load())
}

// enqueue reserves a place in the wait queue.
func (p *Pool) enqueue() error {
	if p.maxQueued <= 0 {
		p.waiting.Add(1)
		return nil
	}
	for {
		n := p.waiting.Load()
		if n >= p.maxQueued {
			return ErrPoolSaturated
		}
		if p.waiting.CompareAndSwap(n, n+1) {
			return nil
		}
	}
}

// Future is the pending result of a submitted task.
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// Done is closed once the task has finished.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the task finishes or ctx is done. Abandoning a Future
// does not cancel its task; cancel the context passed to Submit for that.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Submit schedules fn on p and returns its Future.
//
// ctx is passed to fn and also bounds the wait for a slot. A panic in fn is
// recovered and reported as the task's error.
func Submit[T any](ctx context.Context, p *Pool, fn func(ctx context.Context) (T, error)) (*Future[T], error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}

	acquired := p.sem.TryAcquire(1)
	if !acquired {
		if err := p.enqueue(); err != nil {
			return nil, err
		}
	}

	f := &Future[T]{done: make(chan struct{})}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer close(f.done)

		if !acquired {
			err := p.sem.Acquire(ctx, 1)
			p.waiting.Add(-1)
			if err != nil {
				f.err = err
				return
			}
		}
		defer p.sem.Release(1)

		f.val, f.err = runTask(ctx, p.logger, fn)
	}()

	return f, nil
}

func runTask[T any](ctx context.Context, logger *zap.Logger, fn func(ctx context.Context) (T, error)) (val T, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("worker task panicked",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("worker task panicked: %v", r)
		}
	}()
	return fn(ctx)
}

// Do submits fn and waits for it.
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	f, err := Submit(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	if err != nil {
		return err
	}
	_, err = f.Await(ctx)
	return err
}

// Wait blocks until every submitted task has finished.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Close rejects new submissions and waits for running tasks.
func (p *Pool) Close() {
	p.closed.Store(true)
	p.wg.Wait()
}
