package workflow

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumflow/nevra/internal/models"
)

// blockingRunner holds every request until release is closed
type blockingRunner struct {
	started chan struct{}
	release chan struct{}
	running int32
	peak    int32
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{started: make(chan struct{}, 100), release: make(chan struct{})}
}

func (b *blockingRunner) Execute(_ context.Context, wc *models.WorkflowContext) *models.WorkflowResult {
	n := atomic.AddInt32(&b.running, 1)
	for {
		peak := atomic.LoadInt32(&b.peak)
		if n <= peak || atomic.CompareAndSwapInt32(&b.peak, peak, n) {
			break
		}
	}
	b.started <- struct{}{}
	<-b.release
	atomic.AddInt32(&b.running, -1)
	return &models.WorkflowResult{Response: wc.Prompt, Metadata: models.ResultMetadata{FinalState: models.StateDone}}
}

type echoRunner struct{}

func (echoRunner) Execute(_ context.Context, wc *models.WorkflowContext) *models.WorkflowResult {
	return &models.WorkflowResult{Response: wc.Prompt}
}

func TestPool_Run(t *testing.T) {
	pool := NewPool(echoRunner{}, &PoolConfig{Workers: 2, QueueSize: 4}, nil)
	defer pool.Shutdown(time.Second)

	result, err := pool.Run(context.Background(), &models.WorkflowContext{Prompt: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello", result.Response)

	stats := pool.Stats()
	assert.Equal(t, int64(1), stats.Submitted)
	assert.Equal(t, int64(1), stats.Completed)
}

func TestPool_BoundsConcurrency(t *testing.T) {
	runner := newBlockingRunner()
	pool := NewPool(runner, &PoolConfig{Workers: 2, QueueSize: 10}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := pool.Run(context.Background(), &models.WorkflowContext{Prompt: "x"})
			assert.NoError(t, err)
		}()
	}

	<-runner.started
	<-runner.started
	close(runner.release)
	wg.Wait()

	assert.Equal(t, int32(2), atomic.LoadInt32(&runner.peak))
	assert.Equal(t, int64(5), pool.Stats().Completed)
	require.NoError(t, pool.Shutdown(time.Second))
}

func TestPool_RejectsWhenQueueFull(t *testing.T) {
	runner := newBlockingRunner()
	pool := NewPool(runner, &PoolConfig{Workers: 1, QueueSize: 1}, nil)
	ctx := context.Background()

	first, err := pool.Submit(ctx, &models.WorkflowContext{Prompt: "1"})
	require.NoError(t, err)
	<-runner.started

	_, err = pool.Submit(ctx, &models.WorkflowContext{Prompt: "2"})
	require.NoError(t, err)

	_, err = pool.Submit(ctx, &models.WorkflowContext{Prompt: "3"})
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, int64(1), pool.Stats().Rejected)

	close(runner.release)
	assert.Equal(t, "1", (<-first).Response)
	require.NoError(t, pool.Shutdown(time.Second))
}

func TestPool_RunHonoursContext(t *testing.T) {
	runner := newBlockingRunner()
	pool := NewPool(runner, &PoolConfig{Workers: 1, QueueSize: 1}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := pool.Run(ctx, &models.WorkflowContext{Prompt: "slow"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(runner.release)
	require.NoError(t, pool.Shutdown(time.Second))
}

func TestPool_ShutdownRejectsNewWork(t *testing.T) {
	pool := NewPool(echoRunner{}, nil, nil)
	require.NoError(t, pool.Shutdown(time.Second))
	require.NoError(t, pool.Shutdown(time.Second))

	_, err := pool.Submit(context.Background(), &models.WorkflowContext{Prompt: "late"})
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestPool_ShutdownTimeout(t *testing.T) {
	runner := newBlockingRunner()
	pool := NewPool(runner, &PoolConfig{Workers: 1, QueueSize: 1}, nil)

	_, err := pool.Submit(context.Background(), &models.WorkflowContext{Prompt: "stuck"})
	require.NoError(t, err)
	<-runner.started

	err = pool.Shutdown(10 * time.Millisecond)
	assert.Error(t, err)
	close(runner.release)
}
