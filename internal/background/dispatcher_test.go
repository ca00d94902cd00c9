package background

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"llm-gateway/config"
	"llm-gateway/observability"
)

func testMetrics(t *testing.T) *observability.Metrics {
	t.Helper()
	m := observability.NewMetrics(prometheus.NewRegistry())
	observability.SetMetrics(m)
	return m
}

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(config.UsageConfig{
		QueueSize:           10,
		Workers:             3,
		MaxRetries:          2,
		WriteTimeoutSeconds: 4,
	})
	if cfg.QueueSize != 10 || cfg.Workers != 3 || cfg.MaxRetries != 2 {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if cfg.Timeout != 4*time.Second {
		t.Errorf("Timeout = %v, want 4s", cfg.Timeout)
	}
}

func TestDispatcher_RunsSubmittedTasks(t *testing.T) {
	m := testMetrics(t)
	d := NewDispatcher(Config{QueueSize: 10, Workers: 2, Timeout: time.Second})
	d.Start()

	var ran int32
	for i := 0; i < 5; i++ {
		ok := d.Submit(Task{Name: "usage_log", Run: func(ctx context.Context) error {
			atomic.AddInt32(&ran, 1)
			return nil
		}})
		if !ok {
			t.Fatal("Submit() rejected a task with room in the queue")
		}
	}

	if err := d.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if got := atomic.LoadInt32(&ran); got != 5 {
		t.Errorf("ran %d tasks, want 5", got)
	}
	if got := testutil.ToFloat64(m.BackgroundTasksTotal.WithLabelValues("usage_log", "succeeded")); got != 5 {
		t.Errorf("succeeded = %f, want 5", got)
	}
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	m := testMetrics(t)
	// Not started, so nothing drains the single slot.
	d := NewDispatcher(Config{QueueSize: 1, Workers: 1, Timeout: time.Second})

	noop := func(ctx context.Context) error { return nil }
	if !d.Submit(Task{Name: "touch", Run: noop}) {
		t.Fatal("first Submit() should be accepted")
	}
	if d.Submit(Task{Name: "touch", Run: noop}) {
		t.Error("second Submit() should be dropped")
	}
	if d.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", d.Pending())
	}
	if got := testutil.ToFloat64(m.BackgroundTasksTotal.WithLabelValues("touch", "dropped")); got != 1 {
		t.Errorf("dropped = %f, want 1", got)
	}

	if err := d.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
}

func TestDispatcher_SubmitAfterShutdown(t *testing.T) {
	testMetrics(t)
	d := NewDispatcher(Config{QueueSize: 4, Workers: 1})
	d.Start()

	if err := d.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if d.Submit(Task{Name: "late", Run: func(ctx context.Context) error { return nil }}) {
		t.Error("Submit() after Shutdown() should be rejected")
	}
	// A second shutdown must not panic on the closed channel.
	if err := d.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown() error = %v", err)
	}
}

func TestDispatcher_RetriesFailures(t *testing.T) {
	m := testMetrics(t)
	d := NewDispatcher(Config{QueueSize: 4, Workers: 1, MaxRetries: 2, Timeout: time.Second})
	d.Start()

	var attempts int32
	d.Submit(Task{Name: "flaky", Run: func(ctx context.Context) error {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return errors.New("connection reset")
		}
		return nil
	}})
	d.Submit(Task{Name: "broken", Run: func(ctx context.Context) error {
		return errors.New("permanent")
	}})

	if err := d.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
	if got := testutil.ToFloat64(m.BackgroundTasksTotal.WithLabelValues("flaky", "succeeded")); got != 1 {
		t.Errorf("flaky succeeded = %f, want 1", got)
	}
	if got := testutil.ToFloat64(m.BackgroundTasksTotal.WithLabelValues("broken", "failed")); got != 1 {
		t.Errorf("broken failed = %f, want 1", got)
	}
}

func TestDispatcher_RecoversPanics(t *testing.T) {
	m := testMetrics(t)
	d := NewDispatcher(Config{QueueSize: 4, Workers: 1, Timeout: time.Second})
	d.Start()

	d.Submit(Task{Name: "panicky", Run: func(ctx context.Context) error {
		panic("boom")
	}})
	var after int32
	d.Submit(Task{Name: "after", Run: func(ctx context.Context) error {
		atomic.StoreInt32(&after, 1)
		return nil
	}})

	if err := d.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if atomic.LoadInt32(&after) != 1 {
		t.Error("worker should survive a panicking task")
	}
	if got := testutil.ToFloat64(m.BackgroundTasksTotal.WithLabelValues("panicky", "failed")); got != 1 {
		t.Errorf("panicky failed = %f, want 1", got)
	}
}

func TestDispatcher_TaskContextHasDeadline(t *testing.T) {
	testMetrics(t)
	d := NewDispatcher(Config{QueueSize: 1, Workers: 1, Timeout: time.Second})
	d.Start()

	var hasDeadline bool
	var taskErr error
	d.Submit(Task{Name: "deadline", Run: func(ctx context.Context) error {
		_, hasDeadline = ctx.Deadline()
		taskErr = ctx.Err()
		return nil
	}})

	if err := d.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if !hasDeadline {
		t.Error("task context should carry the write timeout")
	}
	if taskErr != nil {
		t.Errorf("task context should be live, got %v", taskErr)
	}
}

func TestDispatcher_ShutdownTimeout(t *testing.T) {
	testMetrics(t)
	d := NewDispatcher(Config{QueueSize: 1, Workers: 1, Timeout: time.Second})
	d.Start()

	release := make(chan struct{})
	d.Submit(Task{Name: "slow", Run: func(ctx context.Context) error {
		<-release
		return nil
	}})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := d.Shutdown(ctx); err == nil {
		t.Error("expected Shutdown() to report the interrupted drain")
	}
	close(release)
}

func TestDispatcher_SkipsRetryForPermanentErrors(t *testing.T) {
	m := testMetrics(t)
	permanent := errors.New("constraint violation")
	d := NewDispatcher(Config{
		QueueSize:  1,
		Workers:    1,
		MaxRetries: 3,
		Timeout:    time.Second,
		Retryable:  func(err error) bool { return !errors.Is(err, permanent) },
	})
	d.Start()

	var calls int32
	d.Submit(Task{Name: "usage_log", Run: func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return permanent
	}})

	if err := d.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("task ran %d times, want 1", got)
	}
	if got := testutil.ToFloat64(m.BackgroundTasksTotal.WithLabelValues("usage_log", "failed")); got != 1 {
		t.Errorf("failed = %f, want 1", got)
	}
}
