package worker

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/hiresignal/jobs-pipeline/internal/logging"
	"github.com/hiresignal/jobs-pipeline/internal/metrics"
	"github.com/hiresignal/jobs-pipeline/internal/queue"
)

// Dispatcher fans out a fixed number of receiver goroutines per registered
// topic and wraps every handler with the task-level retry layer: a failed
// task is republished with Attempt+1, and after MaxAttempts it goes to the
// topic's dead-letter queue.
type Dispatcher struct {
	tasks       queue.Queue
	maxAttempts int
	workers     int
	logger      *zap.Logger

	mu       sync.Mutex
	handlers map[queue.Topic]queue.Handler
}

func NewDispatcher(tasks queue.Queue, maxAttempts, workers int, logger *zap.Logger) *Dispatcher {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if workers <= 0 {
		workers = 1
	}
	return &Dispatcher{
		tasks:       tasks,
		maxAttempts: maxAttempts,
		workers:     workers,
		logger:      logger,
		handlers:    make(map[queue.Topic]queue.Handler),
	}
}

// Register binds a handler to a topic. Must be called before Run.
func (d *Dispatcher) Register(topic queue.Topic, h queue.Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[topic] = h
}

// Run blocks until ctx is canceled, consuming every registered topic.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.mu.Lock()
	handlers := make(map[queue.Topic]queue.Handler, len(d.handlers))
	for topic, h := range d.handlers {
		handlers[topic] = h
	}
	d.mu.Unlock()

	if len(handlers) == 0 {
		return fmt.Errorf("no handlers registered")
	}

	var wg sync.WaitGroup
	errCh := make(chan error, len(handlers)*d.workers)
	for topic, h := range handlers {
		wrapped := d.withRetry(topic, h)
		for i := 0; i < d.workers; i++ {
			wg.Add(1)
			go func(topic queue.Topic, h queue.Handler) {
				defer wg.Done()
				metrics.WorkerStarted()
				defer metrics.WorkerFinished()
				if err := d.tasks.Receive(ctx, topic, h); err != nil && ctx.Err() == nil {
					errCh <- fmt.Errorf("receive %s: %w", topic, err)
				}
			}(topic, wrapped)
		}
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		return err
	}
	return ctx.Err()
}

// withRetry implements the late-ack retry contract. Returning nil acks the
// delivery, so a failed task is acked only after its replacement (retry or
// dead-letter copy) has been published. A failed republish leaves the
// original unacked for broker redelivery.
func (d *Dispatcher) withRetry(topic queue.Topic, h queue.Handler) queue.Handler {
	logger := logging.ForStage(d.logger, string(topic))
	return func(ctx context.Context, task queue.Task) error {
		err := h(ctx, task)
		if err == nil {
			metrics.ObserveTask(string(topic), "ok")
			return nil
		}

		task.Attempt++
		task.LastError = err.Error()

		if task.Attempt >= d.maxAttempts {
			logger.Error("task exhausted retries",
				zap.String("task_id", task.ID),
				zap.Int("attempts", task.Attempt),
				zap.Error(err),
			)
			if pubErr := d.tasks.Publish(ctx, topic.DeadLetter(), task); pubErr != nil {
				return fmt.Errorf("dead-letter task %s: %w", task.ID, pubErr)
			}
			metrics.ObserveTask(string(topic), "dead_letter")
			return nil
		}

		logger.Warn("task failed, retrying",
			zap.String("task_id", task.ID),
			zap.Int("attempt", task.Attempt),
			zap.Error(err),
		)
		if pubErr := d.tasks.Publish(ctx, topic, task); pubErr != nil {
			return fmt.Errorf("republish task %s: %w", task.ID, pubErr)
		}
		metrics.ObserveTask(string(topic), "retried")
		return nil
	}
}
