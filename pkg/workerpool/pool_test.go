package workerpool_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/agentmem-go/pkg/workerpool"
)

func TestSubmit_ReturnsValue(t *testing.T) {
	pool := workerpool.New(workerpool.DefaultConfig(), nil)
	defer pool.Close()

	f, err := workerpool.Submit(context.Background(), pool, func(ctx context.Context) (string, error) {
		return "Klaus", nil
	})
	require.NoError(t, err)

	v, err := f.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Klaus", v)
}

func TestSubmit_BoundsConcurrency(t *testing.T) {
	pool := workerpool.New(workerpool.Config{MaxWorkers: 3}, nil)
	defer pool.Close()

	var running, peak atomic.Int32
	var futures []*workerpool.Future[int]
	for i := 0; i < 20; i++ {
		i := i
		f, err := workerpool.Submit(context.Background(), pool, func(ctx context.Context) (int, error) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			running.Add(-1)
			return i, nil
		})
		require.NoError(t, err)
		futures = append(futures, f)
	}

	for i, f := range futures {
		v, err := f.Await(context.Background())
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}
	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Equal(t, 3, pool.Workers())
}

func TestSubmit_Saturated(t *testing.T) {
	pool := workerpool.New(workerpool.Config{MaxWorkers: 1, MaxQueued: 1}, nil)
	defer pool.Close()

	release := make(chan struct{})
	block := func(ctx context.Context) (int, error) {
		<-release
		return 1, nil
	}

	running, err := workerpool.Submit(context.Background(), pool, block)
	require.NoError(t, err)
	queued, err := workerpool.Submit(context.Background(), pool, block)
	require.NoError(t, err)
	assert.Equal(t, 1, pool.Queued())

	_, err = workerpool.Submit(context.Background(), pool, block)
	assert.ErrorIs(t, err, workerpool.ErrPoolSaturated)

	close(release)
	_, err = running.Await(context.Background())
	require.NoError(t, err)
	_, err = queued.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, pool.Queued())
}

func TestSubmit_RecoversPanic(t *testing.T) {
	pool := workerpool.New(workerpool.DefaultConfig(), nil)
	defer pool.Close()

	f, err := workerpool.Submit(context.Background(), pool, func(ctx context.Context) (int, error) {
		panic("boom")
	})
	require.NoError(t, err)

	_, err = f.Await(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	// the slot was released
	require.NoError(t, pool.Do(context.Background(), func(ctx context.Context) error { return nil }))
}

func TestSubmit_CanceledWhileQueued(t *testing.T) {
	pool := workerpool.New(workerpool.Config{MaxWorkers: 1}, nil)

	release := make(chan struct{})
	_, err := workerpool.Submit(context.Background(), pool, func(ctx context.Context) (int, error) {
		<-release
		return 0, nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var ran atomic.Bool
	f, err := workerpool.Submit(ctx, pool, func(ctx context.Context) (int, error) {
		ran.Store(true)
		return 0, nil
	})
	require.NoError(t, err)

	cancel()
	<-f.Done()
	_, err = f.Await(context.Background())
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ran.Load())

	close(release)
	pool.Close()
}

func TestDo_PropagatesError(t *testing.T) {
	pool := workerpool.New(workerpool.DefaultConfig(), nil)
	defer pool.Close()

	sentinel := errors.New("save failed")
	err := pool.Do(context.Background(), func(ctx context.Context) error { return sentinel })
	assert.ErrorIs(t, err, sentinel)
}

func TestClose_RejectsSubmissions(t *testing.T) {
	pool := workerpool.New(workerpool.DefaultConfig(), nil)

	var wg sync.WaitGroup
	wg.Add(1)
	_, err := workerpool.Submit(context.Background(), pool, func(ctx context.Context) (int, error) {
		defer wg.Done()
		return 0, nil
	})
	require.NoError(t, err)

	pool.Close()
	wg.Wait()

	_, err = workerpool.Submit(context.Background(), pool, func(ctx context.Context) (int, error) { return 0, nil })
	assert.ErrorIs(t, err, workerpool.ErrPoolClosed)
}
