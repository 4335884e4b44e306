package inference

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Executor serializes model calls onto a single worker goroutine through a
// bounded queue. It implements Engine so callers never touch the backend
// directly.
//
// A caller waits at most queueTimeout for a queue slot. Once queued, a job
// always runs; if the caller's context ends first its result is discarded.
type Executor struct {
	engine       Engine
	jobs         chan func()
	done         chan struct{}
	queueTimeout time.Duration
	closeOnce    sync.Once
	wg           sync.WaitGroup
	processed    atomic.Int64
}

// NewExecutor starts the worker for engine.
func NewExecutor(engine Engine, queueSize int, queueTimeout time.Duration) *Executor {
	e := &Executor{
		engine:       engine,
		jobs:         make(chan func(), max(queueSize, 1)),
		done:         make(chan struct{}),
		queueTimeout: queueTimeout,
	}
	e.wg.Add(1)
	go e.work()
	return e
}

func (e *Executor) work() {
	defer e.wg.Done()
	for {
		select {
		case job := <-e.jobs:
			job()
			e.processed.Add(1)
		case <-e.done:
			return
		}
	}
}

// Detect runs the detector on the worker.
func (e *Executor) Detect(ctx context.Context, input Tensor) (*DetectorOutput, error) {
	return submit(ctx, e, func(ctx context.Context) (*DetectorOutput, error) {
		return e.engine.Detect(ctx, input)
	})
}

// Embed runs the recognizer on the worker.
func (e *Executor) Embed(ctx context.Context, input Tensor) ([]float32, error) {
	return submit(ctx, e, func(ctx context.Context) ([]float32, error) {
		return e.engine.Embed(ctx, input)
	})
}

// Pending returns the number of queued jobs.
func (e *Executor) Pending() int {
	return len(e.jobs)
}

// Processed returns the number of jobs run so far.
func (e *Executor) Processed() int64 {
	return e.processed.Load()
}

// Close stops the worker after the running job. Queued jobs are abandoned
// and their callers receive ErrExecutorClosed.
func (e *Executor) Close() {
	e.closeOnce.Do(func() {
		close(e.done)
	})
	e.wg.Wait()
}

type result[T any] struct {
	value T
	err   error
}

func submit[T any](ctx context.Context, e *Executor, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	select {
	case <-e.done:
		return zero, ErrExecutorClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	default:
	}

	// Buffered so the worker never blocks on an abandoned caller.
	results := make(chan result[T], 1)
	runCtx := context.WithoutCancel(ctx)
	job := func() {
		v, err := fn(runCtx)
		results <- result[T]{value: v, err: err}
	}

	timer := time.NewTimer(e.queueTimeout)
	defer timer.Stop()

	select {
	case e.jobs <- job:
	case <-timer.C:
		return zero, ErrQueueTimeout
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-e.done:
		return zero, ErrExecutorClosed
	}

	select {
	case r := <-results:
		return r.value, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-e.done:
		return zero, ErrExecutorClosed
	}
}
