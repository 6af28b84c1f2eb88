package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quantumflow/nevra/internal/logging"
	"github.com/quantumflow/nevra/internal/models"
)

var (
	// ErrQueueFull is returned when no queue slot is free
	ErrQueueFull = errors.New("workflow queue full")
	// ErrPoolClosed is returned after Shutdown
	ErrPoolClosed = errors.New("workflow pool closed")
)

// Runner executes one request
type Runner interface {
	Execute(ctx context.Context, wc *models.WorkflowContext) *models.WorkflowResult
}

// PoolConfig holds pool configuration
type PoolConfig struct {
	Workers   int // Number of concurrently running workflows
	QueueSize int // Requests waiting for a worker
}

// DefaultPoolConfig returns default pool configuration
func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		Workers:   8,
		QueueSize: 64,
	}
}

// PoolStats is a snapshot of pool activity
type PoolStats struct {
	Submitted      int64
	Completed      int64
	Rejected       int64
	InFlight       int
	AverageLatency time.Duration
}

type job struct {
	ctx  context.Context
	wc   *models.WorkflowContext
	done chan *models.WorkflowResult
}

// Pool bounds the number of workflows running at once. Requests beyond
// the queue are rejected instead of piling up.
type Pool struct {
	runner Runner
	logger *logging.Logger
	queue  chan *job
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	statsMu      sync.Mutex
	stats        PoolStats
	totalLatency time.Duration
}

// NewPool starts the workers
func NewPool(runner Runner, config *PoolConfig, logger *logging.Logger) *Pool {
	if config == nil {
		config = DefaultPoolConfig()
	}
	if config.Workers < 1 {
		config.Workers = 1
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	p := &Pool{
		runner: runner,
		logger: logger.Named("pool"),
		queue:  make(chan *job, config.QueueSize),
	}

	for i := 0; i < config.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for j := range p.queue {
		p.process(j)
	}
}

func (p *Pool) process(j *job) {
	p.statsMu.Lock()
	p.stats.InFlight++
	p.statsMu.Unlock()

	start := time.Now()
	result := p.runner.Execute(j.ctx, j.wc)
	latency := time.Since(start)

	p.statsMu.Lock()
	p.stats.InFlight--
	p.stats.Completed++
	p.totalLatency += latency
	p.stats.AverageLatency = p.totalLatency / time.Duration(p.stats.Completed)
	p.statsMu.Unlock()

	j.done <- result
}

// Submit queues wc and returns the channel its result is delivered on
func (p *Pool) Submit(ctx context.Context, wc *models.WorkflowContext) (<-chan *models.WorkflowResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, ErrPoolClosed
	}

	j := &job{ctx: ctx, wc: wc, done: make(chan *models.WorkflowResult, 1)}
	select {
	case p.queue <- j:
	default:
		p.statsMu.Lock()
		p.stats.Rejected++
		p.statsMu.Unlock()
		p.logger.Warn(ctx, "workflow rejected", zap.Int("queue_length", len(p.queue)))
		return nil, ErrQueueFull
	}

	p.statsMu.Lock()
	p.stats.Submitted++
	p.statsMu.Unlock()
	return j.done, nil
}

// Run submits wc and waits for its result
func (p *Pool) Run(ctx context.Context, wc *models.WorkflowContext) (*models.WorkflowResult, error) {
	done, err := p.Submit(ctx, wc)
	if err != nil {
		return nil, err
	}

	select {
	case result := <-done:
		return result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stats returns current pool statistics
func (p *Pool) Stats() PoolStats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.stats
}

// QueueLength returns the number of waiting requests
func (p *Pool) QueueLength() int {
	return len(p.queue)
}

// Shutdown stops accepting requests and waits for queued ones to finish
func (p *Pool) Shutdown(timeout time.Duration) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("shutdown timeout exceeded after %s", timeout)
	}
}
