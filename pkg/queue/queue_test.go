package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bbva/deeptracy-api/internal/models"
	"github.com/bbva/deeptracy-api/pkg/logging"
)

func delivery(branch string) *Delivery {
	return &Delivery{Hook: pushHook(branch, "c1"), RequestID: "req-" + branch}
}

func TestHookQueue_EnqueueDequeue(t *testing.T) {
	q := NewHookQueue(2, logging.NewNopLogger())
	ctx := context.Background()

	if err := q.Enqueue(ctx, delivery("a")); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if err := q.Enqueue(ctx, delivery("b")); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if err := q.Enqueue(ctx, delivery("c")); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Enqueue() on full queue error = %v, want ErrQueueFull", err)
	}
	if q.Depth() != 2 {
		t.Errorf("Depth() = %d, want 2", q.Depth())
	}

	d, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue() error = %v", err)
	}
	if d.Hook.BranchName != "a" {
		t.Errorf("Dequeue() = %s, want FIFO order", d.Hook.BranchName)
	}
	if d.EnqueuedAt.IsZero() {
		t.Error("EnqueuedAt not stamped")
	}

	stats := q.Stats()
	if stats.Depth != 1 || stats.Capacity != 2 || stats.Utilization != 50 {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestHookQueue_Close(t *testing.T) {
	q := NewHookQueue(2, logging.NewNopLogger())
	ctx := context.Background()

	_ = q.Enqueue(ctx, delivery("a"))
	q.Close()
	q.Close()

	if !q.IsClosed() {
		t.Error("IsClosed() = false")
	}
	if err := q.Enqueue(ctx, delivery("b")); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Enqueue() after close error = %v, want ErrQueueClosed", err)
	}

	if _, err := q.Dequeue(ctx); err != nil {
		t.Errorf("queued delivery lost on close: %v", err)
	}
	if _, err := q.Dequeue(ctx); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Dequeue() on drained queue error = %v, want ErrQueueClosed", err)
	}
}

func TestHookQueue_DequeueCancelled(t *testing.T) {
	q := NewHookQueue(1, logging.NewNopLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := q.Dequeue(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Dequeue() error = %v, want deadline exceeded", err)
	}
}

func TestWorkerPool_DrainsQueueOnStop(t *testing.T) {
	q := NewHookQueue(10, logging.NewNopLogger())

	var mu sync.Mutex
	var routed []string
	pool := NewWorkerPool(q, 2, time.Second, func(ctx context.Context, d *Delivery) error {
		mu.Lock()
		defer mu.Unlock()
		routed = append(routed, d.Hook.BranchName)
		return nil
	}, logging.NewNopLogger())

	for _, b := range []string{"a", "b", "c", "d"} {
		if err := q.Enqueue(context.Background(), delivery(b)); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}

	pool.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(routed) != 4 {
		t.Errorf("routed %d hooks, want 4", len(routed))
	}
}

func TestWorkerPool_RecoversFromPanic(t *testing.T) {
	q := NewHookQueue(10, logging.NewNopLogger())

	var routed int64
	pool := NewWorkerPool(q, 1, time.Second, func(ctx context.Context, d *Delivery) error {
		atomic.AddInt64(&routed, 1)
		if d.Hook.BranchName == "boom" {
			panic("handler exploded")
		}
		return nil
	}, logging.NewNopLogger())

	_ = q.Enqueue(context.Background(), delivery("boom"))
	_ = q.Enqueue(context.Background(), delivery("ok"))

	pool.Start()
	if err := pool.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if got := atomic.LoadInt64(&routed); got != 2 {
		t.Errorf("routed %d hooks, want 2 (worker should survive the panic)", got)
	}
}

func TestWorkerPool_HandlerTimeout(t *testing.T) {
	q := NewHookQueue(1, logging.NewNopLogger())

	deadlineSet := make(chan bool, 1)
	pool := NewWorkerPool(q, 1, 50*time.Millisecond, func(ctx context.Context, d *Delivery) error {
		_, ok := ctx.Deadline()
		deadlineSet <- ok
		return nil
	}, logging.NewNopLogger())

	_ = q.Enqueue(context.Background(), &Delivery{Hook: &models.Hook{Provider: models.ProviderGitHub}})
	pool.Start()
	defer func() { _ = pool.Stop(context.Background()) }()

	select {
	case ok := <-deadlineSet:
		if !ok {
			t.Error("route context has no deadline")
		}
	case <-time.After(time.Second):
		t.Fatal("delivery not routed")
	}
}
