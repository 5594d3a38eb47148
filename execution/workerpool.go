package execution

import (
	"context"
	"time"

	"github.com/evolvai/evolv/core"
)

// WorkerPool bounds the number of tool calls in flight. Admission waits up
// to queueTimeout for a slot; past that the call fails with a rate-limit
// classification, mirroring a saturated connection pool.
type WorkerPool struct {
	slots        chan struct{}
	queueTimeout time.Duration
}

// NewWorkerPool creates a pool with the given parallelism.
func NewWorkerPool(size int, queueTimeout time.Duration) *WorkerPool {
	if size <= 0 {
		size = 16
	}
	if queueTimeout <= 0 {
		queueTimeout = 5 * time.Second
	}
	return &WorkerPool{
		slots:        make(chan struct{}, size),
		queueTimeout: queueTimeout,
	}
}

// Run executes fn under a pool slot with the given deadline. When fn does
// not return by the deadline the call is abandoned: the goroutine keeps
// the slot until it finishes, but the caller gets a timeout immediately.
func (p *WorkerPool) Run(ctx context.Context, deadline time.Duration, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(p.queueTimeout):
		return nil, &core.FrameworkError{Op: "pool.Run", Kind: "execution", Err: core.ErrRateLimited, Message: "worker pool queue timeout"}
	}

	runCtx, cancel := context.WithTimeout(ctx, deadline)

	type outcome struct {
		value interface{}
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() { <-p.slots }()
		defer cancel()
		v, err := fn(runCtx)
		done <- outcome{v, err}
	}()

	select {
	case o := <-done:
		return o.value, o.err
	case <-runCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &core.FrameworkError{Op: "pool.Run", Kind: "execution", Err: core.ErrTimeout, Message: "tool call exceeded deadline"}
	}
}
