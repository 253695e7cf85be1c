package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func counting(n *atomic.Int64) Task {
	return Task{Name: "count", Run: func(context.Context) error {
		n.Add(1)
		return nil
	}}
}

func TestWorkerPool_StartStop(t *testing.T) {
	var processed atomic.Int64
	pool := NewWorkerPool(2, 10)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	for i := 0; i < 5; i++ {
		if !pool.Submit(counting(&processed)) {
			t.Fatal("unexpected rejected submit")
		}
	}

	// Stop drains the queue before returning.
	pool.Stop()

	if processed.Load() != 5 {
		t.Errorf("expected 5 tasks processed, got %d", processed.Load())
	}
}

func TestWorkerPool_ConcurrentSubmit(t *testing.T) {
	var processed atomic.Int64
	pool := NewWorkerPool(4, 100)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	done := make(chan struct{})
	for i := 0; i < 100; i++ {
		go func() {
			pool.Submit(counting(&processed))
			done <- struct{}{}
		}()
	}
	for i := 0; i < 100; i++ {
		<-done
	}

	pool.Stop()

	if processed.Load() != 100 {
		t.Errorf("expected 100 tasks processed, got %d", processed.Load())
	}
}

func TestWorkerPool_SubmitDoesNotBlockWhenFull(t *testing.T) {
	pool := NewWorkerPool(1, 1)

	var processed atomic.Int64
	if !pool.Submit(counting(&processed)) {
		t.Fatal("expected first submit to fit the buffer")
	}
	if pool.Submit(counting(&processed)) {
		t.Error("expected submit to a full queue to be rejected")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	pool.Stop()

	if processed.Load() != 1 {
		t.Errorf("expected 1 task processed, got %d", processed.Load())
	}
}

func TestWorkerPool_SubmitAfterStop(t *testing.T) {
	pool := NewWorkerPool(1, 1)
	pool.Start(context.Background())
	pool.Stop()
	pool.Stop()

	if pool.Submit(Task{Name: "late", Run: func(context.Context) error { return nil }}) {
		t.Error("expected submit after stop to be rejected")
	}
}

func TestWorkerPool_FailingTasksDoNotStopWorkers(t *testing.T) {
	var processed atomic.Int64
	pool := NewWorkerPool(1, 10)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	pool.Submit(Task{Name: "fails", Run: func(context.Context) error { return errors.New("boom") }})
	pool.Submit(Task{Name: "panics", Run: func(context.Context) error { panic("boom") }})
	pool.Submit(counting(&processed))
	pool.Stop()

	if processed.Load() != 1 {
		t.Errorf("expected task after failures to run, got %d", processed.Load())
	}
}

func TestWorkerPool_ContextCancellation(t *testing.T) {
	var started atomic.Int64
	var completed atomic.Int64

	pool := NewWorkerPool(2, 10)
	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)

	for i := 0; i < 5; i++ {
		pool.Submit(Task{Name: "slow", Run: func(ctx context.Context) error {
			started.Add(1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(100 * time.Millisecond):
				completed.Add(1)
				return nil
			}
		}})
	}

	time.Sleep(50 * time.Millisecond)
	cancel()

	done := make(chan struct{})
	go func() {
		pool.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pool.Stop() timed out")
	}

	t.Logf("started: %d, completed: %d", started.Load(), completed.Load())
}
