package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// RouteFunc delivers one Hook to its handler
type RouteFunc func(ctx context.Context, d *Delivery) error

// WorkerPool manages a pool of worker goroutines draining a HookQueue
type WorkerPool struct {
	queue          *HookQueue
	workers        int
	route          RouteFunc
	handlerTimeout time.Duration
	logger         *logrus.Logger
	wg             sync.WaitGroup
	ctx            context.Context
	cancel         context.CancelFunc
	stopOnce       sync.Once
	inFlight       int64
}

// NewWorkerPool creates a new worker pool. Each delivery gets at most
// handlerTimeout to be routed, retries included.
func NewWorkerPool(queue *HookQueue, workers int, handlerTimeout time.Duration, route RouteFunc, logger *logrus.Logger) *WorkerPool {
	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		queue:          queue,
		workers:        workers,
		route:          route,
		handlerTimeout: handlerTimeout,
		logger:         logger,
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Start starts all worker goroutines
func (wp *WorkerPool) Start() {
	wp.logger.WithFields(logrus.Fields{
		"workers": wp.workers,
	}).Info("Starting worker pool")

	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop closes the queue and waits for workers to drain it. When ctx
// expires first, in-flight deliveries are cancelled.
func (wp *WorkerPool) Stop(ctx context.Context) error {
	var stopErr error

	wp.stopOnce.Do(func() {
		wp.logger.Info("Stopping worker pool")
		wp.queue.Close()

		done := make(chan struct{})
		go func() {
			wp.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			wp.logger.Info("All workers stopped gracefully")
		case <-ctx.Done():
			wp.cancel()
			<-done
			stopErr = fmt.Errorf("worker pool shutdown: %w", ctx.Err())
			wp.logger.WithField("dropped", wp.queue.Depth()).Warn("Worker pool shutdown timeout, queued hooks dropped")
		}
		wp.cancel()
	})

	return stopErr
}

// worker processes deliveries until the queue is drained or the pool is cancelled
func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	workerLogger := wp.logger.WithField("worker_id", id)
	workerLogger.Debug("Worker started")

	for {
		d, err := wp.queue.Dequeue(wp.ctx)
		if err != nil {
			if !errors.Is(err, ErrQueueClosed) && wp.ctx.Err() == nil {
				workerLogger.WithError(err).Debug("Dequeue error")
			}
			workerLogger.Debug("Worker stopping")
			return
		}

		wp.process(workerLogger, d)
	}
}

// process routes a single delivery, recovering from handler panics
func (wp *WorkerPool) process(logger *logrus.Entry, d *Delivery) {
	atomic.AddInt64(&wp.inFlight, 1)
	defer atomic.AddInt64(&wp.inFlight, -1)

	fields := logrus.Fields{
		"provider":   d.Hook.Provider,
		"branch":     d.Hook.BranchName,
		"request_id": d.RequestID,
	}

	defer func() {
		if r := recover(); r != nil {
			logger.WithFields(fields).WithField("panic", r).Error("Worker panic recovered")
		}
	}()

	ctx := wp.ctx
	if wp.handlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(wp.ctx, wp.handlerTimeout)
		defer cancel()
	}

	if err := wp.route(ctx, d); err != nil {
		logger.WithFields(fields).WithError(err).Error("Hook delivery failed")
		return
	}

	logger.WithFields(fields).WithField("queued_for", time.Since(d.EnqueuedAt).String()).Debug("Hook delivered")
}

// Stats returns worker pool statistics
func (wp *WorkerPool) Stats() WorkerPoolStats {
	return WorkerPoolStats{
		Workers:    wp.workers,
		InFlight:   int(atomic.LoadInt64(&wp.inFlight)),
		QueueDepth: wp.queue.Depth(),
	}
}

// WorkerPoolStats represents worker pool statistics
type WorkerPoolStats struct {
	Workers    int
	InFlight   int
	QueueDepth int
}
