package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Task represents a unit of work for the pool.
type Task interface {
	Process(ctx context.Context) error
}

// TaskFunc adapts a function to the Task interface.
type TaskFunc func(ctx context.Context) error

func (f TaskFunc) Process(ctx context.Context) error { return f(ctx) }

// Pool runs submitted tasks on their own goroutines. Submit never blocks the
// caller: when a concurrency limit is set, tasks wait for a slot on their own
// goroutine. Tasks are run once; the pool does not retry.
type Pool struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *zap.SugaredLogger

	sem   *semaphore.Weighted
	limit int64

	mu     sync.Mutex
	closed bool

	waiting   atomic.Int64
	running   atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

// PoolStats holds monitoring information about the pool.
type PoolStats struct {
	Limit     int64 `json:"limit"`
	Waiting   int64 `json:"waiting"`
	Running   int64 `json:"running"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// NewPool creates a pool. maxConcurrent <= 0 means unbounded.
func NewPool(maxConcurrent int, logger *zap.SugaredLogger) *Pool {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
	if maxConcurrent > 0 {
		p.limit = int64(maxConcurrent)
		p.sem = semaphore.NewWeighted(p.limit)
	}
	return p
}

// Submit hands a task to the pool. It returns false once the pool is stopped.
func (p *Pool) Submit(task Task) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go p.run(task)
	return true
}

func (p *Pool) run(task Task) {
	defer p.wg.Done()

	if p.sem != nil {
		p.waiting.Add(1)
		err := p.sem.Acquire(p.ctx, 1)
		p.waiting.Add(-1)
		if err != nil {
			p.failed.Add(1)
			p.logger.Warnw("Task abandoned before start", "error", err)
			return
		}
		defer p.sem.Release(1)
	}

	p.running.Add(1)
	defer p.running.Add(-1)

	if err := p.process(task); err != nil {
		p.failed.Add(1)
		p.logger.Errorw("Task failed", "error", err)
		return
	}
	p.completed.Add(1)
}

func (p *Pool) process(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panic: %v", r)
		}
	}()
	return task.Process(p.ctx)
}

// Stop rejects further submissions and waits for accepted tasks to finish.
// If ctx expires first, the context handed to tasks is cancelled and Stop
// returns ctx.Err() without waiting further.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		return ctx.Err()
	}
}

// Stats returns current statistics about the pool.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Limit:     p.limit,
		Waiting:   p.waiting.Load(),
		Running:   p.running.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
	}
}
