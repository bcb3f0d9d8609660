package worker_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hbomb79/Telluride/pkg/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startPool(t *testing.T, size int) *worker.WorkerPool {
	pool := worker.NewSizedWorkerPool("test", size)
	require.NoError(t, pool.Start())
	t.Cleanup(pool.Close)

	return pool
}

func Test_Submit_ExecutesTask(t *testing.T) {
	pool := startPool(t, 2)

	done := make(chan struct{})
	err := pool.Submit(context.Background(), func() { close(done) })
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task was not executed")
	}
}

func Test_Submit_BoundsConcurrency(t *testing.T) {
	const size = 3
	pool := startPool(t, size)

	var running, peak atomic.Int32
	release := make(chan struct{})
	wg := sync.WaitGroup{}

	for range size * 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			done := make(chan struct{})
			err := pool.Submit(context.Background(), func() {
				defer close(done)
				n := running.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				<-release
				running.Add(-1)
			})
			assert.NoError(t, err)
			<-done
		}()
	}

	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(size))
	assert.Equal(t, int32(0), running.Load())
}

func Test_Submit_HonoursContext(t *testing.T) {
	pool := startPool(t, 1)

	block := make(chan struct{})
	defer close(block)
	require.NoError(t, pool.Submit(context.Background(), func() { <-block }))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := pool.Submit(ctx, func() {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func Test_Submit_AfterClose(t *testing.T) {
	pool := worker.NewSizedWorkerPool("closed", 1)
	assert.ErrorIs(t, pool.Submit(context.Background(), func() {}), worker.ErrPoolNotStarted)

	require.NoError(t, pool.Start())
	pool.Close()

	assert.ErrorIs(t, pool.Submit(context.Background(), func() {}), worker.ErrPoolClosed)
}

func Test_Start_RequiresWorkers(t *testing.T) {
	pool := worker.NewWorkerPool()
	assert.Error(t, pool.Start())

	pool = worker.NewSizedWorkerPool("twice", 1)
	require.NoError(t, pool.Start())
	defer pool.Close()

	assert.Error(t, pool.Start())
	assert.Error(t, pool.PushWorker(worker.NewWorker("late")))
	assert.Equal(t, 1, pool.Size())
}

func Test_Worker_RecoversFromPanic(t *testing.T) {
	pool := startPool(t, 1)

	require.NoError(t, pool.Submit(context.Background(), func() { panic("boom") }))

	done := make(chan struct{})
	require.NoError(t, pool.Submit(context.Background(), func() { close(done) }))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not survive a panicking task")
	}
}
