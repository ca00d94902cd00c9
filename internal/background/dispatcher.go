// Package background runs fire-and-forget side effects (usage records, key
// last-used stamps) on a bounded queue so request handlers never wait on them.
package background

import (
	"context"
	"fmt"
	"sync"
	"time"

	"llm-gateway/config"
	"llm-gateway/observability"
	"llm-gateway/services"
)

// Task is a unit of deferred work. Run receives a context detached from the
// originating request.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Config tunes the dispatcher
type Config struct {
	QueueSize  int
	Workers    int
	MaxRetries int
	Timeout    time.Duration

	// Retryable filters task errors worth another attempt; nil retries all
	Retryable func(error) bool
}

// ConfigFrom maps the usage writer settings onto a dispatcher Config
func ConfigFrom(cfg config.UsageConfig) Config {
	return Config{
		QueueSize:  cfg.QueueSize,
		Workers:    cfg.Workers,
		MaxRetries: cfg.MaxRetries,
		Timeout:    time.Duration(cfg.WriteTimeoutSeconds) * time.Second,
	}
}

// Dispatcher owns a fixed pool of workers draining a bounded queue.
// Submit never blocks: when the queue is full the task is dropped and logged.
type Dispatcher struct {
	cfg   Config
	tasks chan Task
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	startOnce sync.Once
}

// NewDispatcher creates a dispatcher. Workers are not running until Start.
func NewDispatcher(cfg Config) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Dispatcher{
		cfg:   cfg,
		tasks: make(chan Task, cfg.QueueSize),
	}
}

// Start launches the worker pool. Calling it more than once is a no-op.
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		for i := 0; i < d.cfg.Workers; i++ {
			d.wg.Add(1)
			go d.worker(i)
		}
		observability.Info("background dispatcher started",
			"workers", d.cfg.Workers,
			"queue_size", d.cfg.QueueSize)
	})
}

// Submit enqueues a task and reports whether it was accepted
func (d *Dispatcher) Submit(task Task) bool {
	metrics := observability.GetMetrics()

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		observability.Warn("background task dropped, dispatcher closed", "task", task.Name)
		metrics.RecordBackgroundTask(task.Name, "dropped")
		return false
	}

	select {
	case d.tasks <- task:
		metrics.RecordBackgroundTask(task.Name, "submitted")
		metrics.SetBackgroundQueueDepth(len(d.tasks))
		return true
	default:
		observability.Warn("background task dropped, queue full",
			"task", task.Name,
			"queue_size", d.cfg.QueueSize)
		metrics.RecordBackgroundTask(task.Name, "dropped")
		return false
	}
}

// Pending returns the number of queued tasks not yet picked up
func (d *Dispatcher) Pending() int {
	return len(d.tasks)
}

// Shutdown stops accepting tasks and waits for queued work to drain or for
// ctx to expire, whichever comes first.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.tasks)
	}
	d.mu.Unlock()

	// Workers that were never started cannot drain the queue.
	d.Start()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		observability.Info("background dispatcher drained")
		return nil
	case <-ctx.Done():
		observability.Warn("background dispatcher shutdown timed out", "pending", len(d.tasks))
		return fmt.Errorf("background drain interrupted: %w", ctx.Err())
	}
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	for task := range d.tasks {
		observability.GetMetrics().SetBackgroundQueueDepth(len(d.tasks))
		d.run(id, task)
	}
}

func (d *Dispatcher) run(worker int, task Task) {
	metrics := observability.GetMetrics()
	retry := services.RetryConfig{
		MaxRetries:     d.cfg.MaxRetries,
		InitialBackoff: services.DefaultRetryConfig.InitialBackoff,
		MaxBackoff:     services.DefaultRetryConfig.MaxBackoff,
		Retryable:      d.cfg.Retryable,
	}

	err := services.WithRetry(context.Background(), retry, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Timeout)
		defer cancel()
		return safeRun(ctx, task)
	})
	if err != nil {
		observability.Error("background task failed",
			"task", task.Name,
			"worker", worker,
			"error", err)
		metrics.RecordBackgroundTask(task.Name, "failed")
		return
	}
	metrics.RecordBackgroundTask(task.Name, "succeeded")
}

func safeRun(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v", task.Name, r)
		}
	}()
	return task.Run(ctx)
}
