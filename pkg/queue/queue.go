package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bbva/deeptracy-api/internal/models"
	"github.com/bbva/deeptracy-api/pkg/metrics"
)

var (
	// ErrQueueFull is returned when a Hook cannot be enqueued without blocking
	ErrQueueFull = errors.New("queue is full")

	// ErrQueueClosed is returned once the queue stops accepting Hooks
	ErrQueueClosed = errors.New("queue is closed")
)

// Delivery is a Hook waiting to be routed to its handler
type Delivery struct {
	Hook       *models.Hook
	RequestID  string
	EnqueuedAt time.Time
}

// HookQueue is a bounded in-memory FIFO of Deliveries
type HookQueue struct {
	queue    chan *Delivery
	capacity int
	depth    int64 // atomic counter for current queue depth
	logger   *logrus.Logger
	mu       sync.RWMutex
	closed   bool
}

// NewHookQueue creates a new hook queue with the specified capacity
func NewHookQueue(capacity int, logger *logrus.Logger) *HookQueue {
	return &HookQueue{
		queue:    make(chan *Delivery, capacity),
		capacity: capacity,
		logger:   logger,
	}
}

// Enqueue adds a delivery without blocking.
// Returns ErrQueueFull or ErrQueueClosed when it cannot.
func (q *HookQueue) Enqueue(ctx context.Context, d *Delivery) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}
	if d.EnqueuedAt.IsZero() {
		d.EnqueuedAt = time.Now()
	}

	select {
	case q.queue <- d:
		depth := atomic.AddInt64(&q.depth, 1)
		metrics.SetQueueDepth(int(depth))
		q.logger.WithFields(logrus.Fields{
			"provider":    d.Hook.Provider,
			"branch":      d.Hook.BranchName,
			"request_id":  d.RequestID,
			"queue_depth": depth,
		}).Debug("Hook enqueued")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("enqueue cancelled: %w", ctx.Err())
	default:
		return fmt.Errorf("%w (capacity: %d)", ErrQueueFull, q.capacity)
	}
}

// Dequeue removes and returns the oldest delivery.
// Blocks until one is available, the queue is closed and drained, or ctx is done.
func (q *HookQueue) Dequeue(ctx context.Context) (*Delivery, error) {
	select {
	case d, ok := <-q.queue:
		if !ok {
			return nil, ErrQueueClosed
		}
		depth := atomic.AddInt64(&q.depth, -1)
		metrics.SetQueueDepth(int(depth))
		return d, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("dequeue cancelled: %w", ctx.Err())
	}
}

// Depth returns the current number of items in the queue
func (q *HookQueue) Depth() int {
	return int(atomic.LoadInt64(&q.depth))
}

// Close stops accepting deliveries.
// Queued deliveries remain available to Dequeue.
func (q *HookQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.queue)
		q.logger.Info("Hook queue closed")
	}
}

// IsClosed returns true if the queue has been closed
func (q *HookQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}

// Stats returns queue statistics
func (q *HookQueue) Stats() QueueStats {
	depth := q.Depth()
	return QueueStats{
		Depth:       depth,
		Capacity:    q.capacity,
		Utilization: float64(depth) / float64(q.capacity) * 100,
	}
}

// QueueStats represents queue statistics
type QueueStats struct {
	Depth       int
	Capacity    int
	Utilization float64 // Percentage (0-100)
}
