package worker

import (
	"context"
	"runtime"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewWorkerPool(t *testing.T) {
	pool := NewPool(4)
	if pool.NumWorkers() != 4 {
		t.Errorf("expected 4 workers, got %d", pool.NumWorkers())
	}

	// Zero should default to CPU count
	pool2 := NewPool(0)
	if pool2.NumWorkers() != runtime.NumCPU() {
		t.Errorf("expected %d workers, got %d", runtime.NumCPU(), pool2.NumWorkers())
	}
}

func TestWorkerPoolStartStop(t *testing.T) {
	pool := NewPool(2)
	ctx := context.Background()

	pool.Start(ctx)
	// Double start should be no-op
	pool.Start(ctx)

	pool.Stop()
	// Double stop should be no-op
	pool.Stop()
}

func TestWorkerPoolSubmitWait(t *testing.T) {
	pool := NewPool(2)
	pool.Start(context.Background())
	defer pool.Stop()

	var counter atomic.Int32
	done := make(chan struct{}, 10)

	for range 10 {
		ok := pool.SubmitWait(func(context.Context) {
			counter.Add(1)
			done <- struct{}{}
		})
		if !ok {
			t.Fatal("expected SubmitWait to return true")
		}
	}

	for range 10 {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for jobs to complete")
		}
	}

	if counter.Load() != 10 {
		t.Errorf("expected 10 jobs completed, got %d", counter.Load())
	}
	// Completed is bumped after the job returns
	deadline := time.Now().Add(time.Second)
	for pool.Completed() < 10 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if pool.Completed() != 10 {
		t.Errorf("expected 10 completed, got %d", pool.Completed())
	}
}

func TestWorkerPoolRecoversPanic(t *testing.T) {
	pool := NewPool(1)
	pool.Start(context.Background())
	defer pool.Stop()

	done := make(chan struct{})
	pool.SubmitWait(func(context.Context) { panic("boom") })
	pool.SubmitWait(func(context.Context) { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected the single worker to survive a panicking job")
	}

	if pool.Panics() != 1 {
		t.Errorf("expected 1 panic, got %d", pool.Panics())
	}
}

func TestWorkerPoolSubmitFullQueue(t *testing.T) {
	pool := NewPool(1)
	pool.Start(context.Background())
	defer pool.Stop()

	blocker := make(chan struct{})
	started := make(chan struct{})
	pool.SubmitWait(func(ctx context.Context) {
		close(started)
		select {
		case <-blocker:
		case <-ctx.Done():
		}
	})
	<-started

	// 1 slot in the queue
	if !pool.Submit(func(context.Context) {}) {
		t.Error("expected first queued Submit to succeed")
	}
	if pool.Submit(func(context.Context) {}) {
		t.Error("expected Submit to refuse when the queue is full")
	}
	if pool.Active() != 1 {
		t.Errorf("expected 1 active job, got %d", pool.Active())
	}
	close(blocker)
}

func TestWorkerPoolSubmitBeforeStart(t *testing.T) {
	pool := NewPool(1)
	if pool.Submit(func(context.Context) {}) {
		t.Error("expected Submit to return false before Start")
	}
	if pool.SubmitWait(func(context.Context) {}) {
		t.Error("expected SubmitWait to return false before Start")
	}
}

func TestWorkerPoolSubmitAfterStop(t *testing.T) {
	pool := NewPool(2)
	pool.Start(context.Background())
	pool.Stop()

	if pool.Submit(func(context.Context) {}) {
		t.Error("expected Submit to return false after stop")
	}
}

func TestWorkerPoolJobSeesCancellation(t *testing.T) {
	pool := NewPool(1)
	pool.Start(context.Background())

	canceled := make(chan struct{})
	started := make(chan struct{})
	pool.SubmitWait(func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		close(canceled)
	})
	<-started

	pool.Stop()

	select {
	case <-canceled:
	default:
		t.Error("expected job context to be canceled by Stop")
	}
}

func TestWorkerPoolStopWithinHungJob(t *testing.T) {
	pool := NewPool(1)
	pool.Start(context.Background())

	release := make(chan struct{})
	started := make(chan struct{})
	pool.SubmitWait(func(context.Context) {
		close(started)
		<-release // ignores cancellation
	})
	<-started

	start := time.Now()
	if pool.StopWithin(30 * time.Millisecond) {
		t.Error("expected StopWithin to report a hung job")
	}
	if time.Since(start) > time.Second {
		t.Error("StopWithin should not block on a hung job")
	}
	close(release)
}

func TestWorkerPoolSubmitWaitAfterCancel(t *testing.T) {
	pool := NewPool(2)
	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)

	cancel()

	if pool.SubmitWait(func(context.Context) {}) {
		t.Error("expected SubmitWait to return false after cancel")
	}

	pool.Stop()
}

func TestWorkerPoolNegativeWorkers(t *testing.T) {
	// Negative workers should default to CPU count
	pool := NewPool(-5)
	if pool.NumWorkers() != runtime.NumCPU() {
		t.Errorf("expected %d workers for negative input, got %d", runtime.NumCPU(), pool.NumWorkers())
	}
}

func TestWorkerPoolConcurrentSubmitWait(t *testing.T) {
	pool := NewPoolWithConfig(PoolConfig{NumWorkers: 4, QueueFactor: 10})
	pool.Start(context.Background())
	defer pool.Stop()

	var counter atomic.Int32
	const numGoroutines = 10
	const jobsPerGoroutine = 100

	var wg atomic.Int32
	wg.Store(numGoroutines)

	for range numGoroutines {
		go func() {
			for range jobsPerGoroutine {
				pool.SubmitWait(func(context.Context) {
					counter.Add(1)
				})
			}
			wg.Add(-1)
		}()
	}

	for wg.Load() > 0 {
		time.Sleep(time.Millisecond)
	}

	expected := int32(numGoroutines * jobsPerGoroutine)
	deadline := time.Now().Add(2 * time.Second)
	for counter.Load() < expected && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if counter.Load() != expected {
		t.Errorf("expected %d jobs completed, got %d", expected, counter.Load())
	}
}
