package zfscli

import (
	"context"
	"sync"

	"snapportal/src/backend"
)

// workerPool bounds concurrent subprocess invocations. Submissions beyond
// the worker count queue in FIFO order instead of failing, so bursts degrade
// latency rather than availability.
type workerPool struct {
	tasks     chan func()
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func newWorkerPool(workers int) *workerPool {
	if workers < 1 {
		workers = 1
	}
	p := &workerPool{tasks: make(chan func())}
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

// do runs fn on a pool worker and waits for its result. The wait is bounded
// by ctx; once a worker has picked the task up it runs to completion even if
// the caller gives up.
func (p *workerPool) do(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	select {
	case p.tasks <- func() { done <- fn() }:
	case <-ctx.Done():
		return backend.TimeoutError("queued subprocess call abandoned before execution")
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return backend.TimeoutError("subprocess call abandoned while running")
	}
}

func (p *workerPool) close() {
	p.closeOnce.Do(func() { close(p.tasks) })
	p.wg.Wait()
}
