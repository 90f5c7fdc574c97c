package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/expense-workflow/internal/application/dispatcher"
	"github.com/garyjia/expense-workflow/internal/domain/event"
)

var (
	// ErrQueueClosed is returned when a job is offered after Stop
	ErrQueueClosed = errors.New("event worker is not accepting jobs")
	ErrQueueFull   = errors.New("event queue is full")
)

// EventWorkerConfig holds configuration for the event worker
type EventWorkerConfig struct {
	QueueSize      int
	Concurrency    int
	MaxAttempts    int
	RetryDelay     time.Duration
	HandlerTimeout time.Duration
}

// DefaultEventWorkerConfig returns default configuration
func DefaultEventWorkerConfig() EventWorkerConfig {
	return EventWorkerConfig{
		QueueSize:      256,
		Concurrency:    4,
		MaxAttempts:    3,
		RetryDelay:     2 * time.Second,
		HandlerTimeout: 30 * time.Second,
	}
}

// JobObserver is told how every job ended
type JobObserver func(name string, attempts int, err error)

type job struct {
	name    string
	evt     *event.Event
	handler dispatcher.Handler
}

// EventWorker runs event side effects on a bounded pool with retries.
// Dispatcher subscriptions built with Handler only enqueue.
type EventWorker struct {
	config   EventWorkerConfig
	queue    chan job
	observer JobObserver
	logger   *zap.Logger

	mu        sync.RWMutex
	isRunning bool
	accepting bool
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewEventWorker creates a new event worker
func NewEventWorker(config EventWorkerConfig, observer JobObserver, logger *zap.Logger) *EventWorker {
	defaults := DefaultEventWorkerConfig()
	if config.QueueSize <= 0 {
		config.QueueSize = defaults.QueueSize
	}
	if config.Concurrency <= 0 {
		config.Concurrency = defaults.Concurrency
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if config.HandlerTimeout <= 0 {
		config.HandlerTimeout = defaults.HandlerTimeout
	}

	return &EventWorker{
		config:    config,
		queue:     make(chan job, config.QueueSize),
		observer:  observer,
		logger:    logger,
		accepting: true,
	}
}

// Name returns the worker name
func (w *EventWorker) Name() string {
	return "event_worker"
}

// Handler wraps h so that the dispatcher only queues the work
func (w *EventWorker) Handler(name string, h dispatcher.Handler) dispatcher.Handler {
	return func(ctx context.Context, evt *event.Event) error {
		return w.Enqueue(ctx, name, evt, h)
	}
}

// Enqueue offers a job, waiting for queue space until ctx ends, the
// handler timeout passes or the worker stops. The lock is not held while
// waiting so Stop never queues behind a full queue.
func (w *EventWorker) Enqueue(ctx context.Context, name string, evt *event.Event, h dispatcher.Handler) error {
	w.mu.RLock()
	accepting, done := w.accepting, w.done
	w.mu.RUnlock()

	if !accepting {
		return ErrQueueClosed
	}

	t := time.NewTimer(w.config.HandlerTimeout)
	defer t.Stop()
	select {
	case w.queue <- job{name: name, evt: evt, handler: h}:
		return nil
	case <-done:
		return fmt.Errorf("enqueue %s: %w", name, ErrQueueClosed)
	case <-ctx.Done():
		return fmt.Errorf("enqueue %s: %w", name, ctx.Err())
	case <-t.C:
		return fmt.Errorf("enqueue %s: %w", name, ErrQueueFull)
	}
}

// Start launches the pool
func (w *EventWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.isRunning {
		return fmt.Errorf("worker already running")
	}
	w.isRunning = true
	w.done = make(chan struct{})

	for i := 0; i < w.config.Concurrency; i++ {
		w.wg.Add(1)
		go w.run(i)
	}

	w.logger.Info("Event worker started",
		zap.Int("concurrency", w.config.Concurrency),
		zap.Int("queue_size", w.config.QueueSize))
	return nil
}

// Stop stops accepting jobs, drains the queue and waits for the pool
func (w *EventWorker) Stop() error {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return nil
	}
	w.isRunning = false
	w.accepting = false
	close(w.done)
	w.mu.Unlock()

	w.wg.Wait()
	// a send racing the final drain can still land after the pool exits
	if n := len(w.queue); n > 0 {
		w.logger.Warn("Event worker stopped with queued jobs", zap.Int("dropped", n))
	}
	w.logger.Info("Event worker stopped")
	return nil
}

// QueueDepth returns the number of queued jobs
func (w *EventWorker) QueueDepth() int {
	return len(w.queue)
}

func (w *EventWorker) run(id int) {
	defer w.wg.Done()
	for {
		select {
		case j := <-w.queue:
			w.process(j)
		case <-w.done:
			for {
				select {
				case j := <-w.queue:
					w.process(j)
				default:
					w.logger.Debug("Event worker goroutine exiting", zap.Int("worker_id", id))
					return
				}
			}
		}
	}
}

// process runs one job, retrying with a linear backoff. Retries stop early
// once the worker is stopping.
func (w *EventWorker) process(j job) {
	var err error
	attempts := 0
	for attempts < w.config.MaxAttempts {
		attempts++
		err = w.runOnce(j)
		if err == nil {
			break
		}

		w.logger.Warn("Event job failed",
			zap.String("job", j.name),
			zap.String("event_type", j.evt.Type.String()),
			zap.Int64("expense_id", j.evt.ExpenseID),
			zap.Int("attempt", attempts),
			zap.Error(err))

		if attempts < w.config.MaxAttempts && !w.sleep(time.Duration(attempts)*w.config.RetryDelay) {
			break
		}
	}

	if err != nil {
		w.logger.Error("Event job gave up",
			zap.String("job", j.name),
			zap.String("event_id", j.evt.ID),
			zap.Int("attempts", attempts),
			zap.Error(err))
	}
	if w.observer != nil {
		w.observer(j.name, attempts, err)
	}
}

func (w *EventWorker) runOnce(j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panic: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), w.config.HandlerTimeout)
	defer cancel()
	return j.handler(ctx, j.evt)
}

// sleep waits d and reports false if the worker is stopping
func (w *EventWorker) sleep(d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-w.done:
		return false
	}
}
