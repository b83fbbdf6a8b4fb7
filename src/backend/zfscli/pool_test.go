package zfscli

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"snapportal/src/backend"
)

func TestWorkerPoolRunsTasks(t *testing.T) {
	p := newWorkerPool(2)
	defer p.close()

	var ran int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.do(context.Background(), func() error {
				atomic.AddInt32(&ran, 1)
				return nil
			}); err != nil {
				t.Errorf("do: %v", err)
			}
		}()
	}
	wg.Wait()
	if ran != 10 {
		t.Fatalf("expected 10 tasks, ran %d", ran)
	}
}

func TestWorkerPoolPropagatesTaskError(t *testing.T) {
	p := newWorkerPool(1)
	defer p.close()

	want := errors.New("boom")
	if err := p.do(context.Background(), func() error { return want }); !errors.Is(err, want) {
		t.Fatalf("expected task error, got %v", err)
	}
}

func TestWorkerPoolBoundsConcurrency(t *testing.T) {
	p := newWorkerPool(1)
	defer p.close()

	var active, maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.do(context.Background(), func() error {
				n := atomic.AddInt32(&active, 1)
				for {
					m := atomic.LoadInt32(&maxActive)
					if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt32(&active, -1)
				return nil
			})
		}()
	}
	wg.Wait()
	if maxActive != 1 {
		t.Fatalf("expected single-worker pool to serialize, saw %d concurrent", maxActive)
	}
}

func TestWorkerPoolAbandonsQueuedTaskOnCancel(t *testing.T) {
	p := newWorkerPool(1)
	defer p.close()

	block := make(chan struct{})
	go p.do(context.Background(), func() error {
		<-block
		return nil
	})
	time.Sleep(20 * time.Millisecond) // let the blocker occupy the worker

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := p.do(ctx, func() error { return nil })
	close(block)
	if !backend.IsKind(err, backend.KindTimeout) {
		t.Fatalf("expected timeout for abandoned queued task, got %v", err)
	}
}
