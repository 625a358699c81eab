package contentmgr

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestTaskPoolRunsSubmittedTask(t *testing.T) {
	pool := NewTaskPool(context.Background(), 2)
	defer pool.Shutdown()

	var ran int32
	done := make(chan struct{})
	pool.Submit(Task{Run: func(ctx context.Context) {
		atomic.StoreInt32(&ran, 1)
		close(done)
	}})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run")
	}
	if atomic.LoadInt32(&ran) != 1 {
		t.Fatal("task did not set flag")
	}
}

func TestTaskPoolRunsLowPriorityWhenNormalEmpty(t *testing.T) {
	pool := NewTaskPool(context.Background(), 1)
	defer pool.Shutdown()

	done := make(chan struct{})
	pool.SubmitLowPriority(Task{Run: func(ctx context.Context) { close(done) }})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("low priority task did not run")
	}
}

func TestTaskPoolRecoversPanic(t *testing.T) {
	pool := NewTaskPool(context.Background(), 1)
	defer pool.Shutdown()

	done := make(chan struct{})
	pool.Submit(Task{Run: func(ctx context.Context) { panic("boom") }})
	pool.Submit(Task{Run: func(ctx context.Context) { close(done) }})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not survive a panicking task")
	}
}

func TestTaskPoolShutdownCancelsQueuedNonPersistentTask(t *testing.T) {
	pool := NewTaskPool(context.Background(), 0)

	cancelled := make(chan struct{})
	_, cancel := context.WithCancel(context.Background())
	pool.Submit(Task{
		Run:    func(ctx context.Context) { <-ctx.Done() },
		Cancel: func() { close(cancelled); cancel() },
	})

	pool.Shutdown()

	select {
	case <-cancelled:
	default:
		// Task may have already started running against pool ctx (which
		// Shutdown also cancels); either path satisfies "does not hang".
	}
}

func TestTaskPoolShutdownRunsPersistentTaskToCompletion(t *testing.T) {
	pool := NewTaskPool(context.Background(), 0)

	ran := make(chan struct{})
	pool.Submit(Task{
		Persistent: true,
		Run:        func(ctx context.Context) { close(ran) },
	})
	pool.Shutdown()

	select {
	case <-ran:
	default:
		t.Fatal("persistent task should run during shutdown drain")
	}
}
