package engine

import (
	"context"
	"runtime"
	"sync"

	"github.com/crimson-sun/tally/internal/model"
)

// Future is the handle returned by ClassifyAsync. Wait blocks until the
// classification finishes or the caller's context expires.
type Future struct {
	done   chan struct{}
	result model.InferenceResult
	err    error
}

// Wait returns the classification outcome. The inference itself is not
// cancelled on context expiry; only the wait is abandoned.
func (f *Future) Wait(ctx context.Context) (model.InferenceResult, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return model.InferenceResult{}, ctx.Err()
	}
}

// workerPool offloads synchronous classification so an external event loop
// is never blocked. Workers are bounded; submission blocks once the queue
// is full (backpressure rather than unbounded goroutines).
type workerPool struct {
	tasks     chan func()
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func newWorkerPool(workers int) *workerPool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	p := &workerPool{tasks: make(chan func(), workers*4)}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer p.wg.Done()
			for task := range p.tasks {
				task()
			}
		}()
	}
	return p
}

func (p *workerPool) close() {
	p.closeOnce.Do(func() {
		close(p.tasks)
		p.wg.Wait()
	})
}

// ClassifyAsync submits the request to the worker pool and returns a Future.
func (e *Engine) ClassifyAsync(ctx context.Context, req model.ClassificationRequest) *Future {
	f := &Future{done: make(chan struct{})}
	e.pool.tasks <- func() {
		defer close(f.done)
		f.result, f.err = e.Classify(ctx, req)
	}
	return f
}
