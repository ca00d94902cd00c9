package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"

	"llm-gateway/config"
	"llm-gateway/internal/apperr"
)

func TestCircuitBreakerConfigFrom(t *testing.T) {
	cfg := CircuitBreakerConfigFrom(config.CircuitBreakerConfig{
		MaxRequests:     3,
		IntervalSeconds: 30,
		TimeoutSeconds:  10,
	})

	if cfg.MaxRequests != 3 {
		t.Errorf("expected MaxRequests=3, got %d", cfg.MaxRequests)
	}
	if cfg.Interval != 30*time.Second {
		t.Errorf("expected Interval=30s, got %v", cfg.Interval)
	}
	if cfg.Timeout != 10*time.Second {
		t.Errorf("expected Timeout=10s, got %v", cfg.Timeout)
	}
}

func TestCircuitBreakerRegistry_GetBreaker(t *testing.T) {
	registry := NewCircuitBreakerRegistry(DefaultCircuitBreakerConfig)

	breaker1 := registry.GetBreaker(BreakerOpenAI)
	if breaker1 == nil {
		t.Fatal("expected breaker to be created")
	}

	if breaker2 := registry.GetBreaker(BreakerOpenAI); breaker1 != breaker2 {
		t.Error("expected same breaker instance")
	}

	if breaker3 := registry.GetBreaker("other-provider"); breaker1 == breaker3 {
		t.Error("expected different breaker for different name")
	}
}

func TestCircuitBreakerRegistry_Execute(t *testing.T) {
	registry := NewCircuitBreakerRegistry(DefaultCircuitBreakerConfig)
	ctx := context.Background()

	result, err := registry.Execute(ctx, "test-service", func() (any, error) {
		return "success", nil
	})
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if result != "success" {
		t.Errorf("expected 'success', got %v", result)
	}

	expectedErr := errors.New("test error")
	_, err = registry.Execute(ctx, "test-service", func() (any, error) {
		return nil, expectedErr
	})
	if !errors.Is(err, expectedErr) {
		t.Errorf("expected %v, got %v", expectedErr, err)
	}
}

func TestCircuitBreakerRegistry_Execute_ContextCanceled(t *testing.T) {
	registry := NewCircuitBreakerRegistry(DefaultCircuitBreakerConfig)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	_, err := registry.Execute(ctx, "test-service", func() (any, error) {
		called = true
		return nil, nil
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if called {
		t.Error("function should not run with a cancelled context")
	}
}

func TestCircuitBreakerRegistry_TripsAfterFailures(t *testing.T) {
	registry := NewCircuitBreakerRegistry(CircuitBreakerConfig{
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     time.Minute,
	})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		registry.Execute(ctx, "failing-provider", func() (any, error) {
			return nil, apperr.ExternalAPI("upstream 500")
		})
	}

	if state := registry.GetBreaker("failing-provider").State(); state != gobreaker.StateOpen {
		t.Fatalf("expected breaker to be open, got %s", state)
	}

	_, err := registry.Execute(ctx, "failing-provider", func() (any, error) {
		t.Error("function should not run while the breaker is open")
		return nil, nil
	})
	if !apperr.IsKind(err, apperr.KindServiceUnavailable) {
		t.Errorf("expected service unavailable, got %v", err)
	}
	if apperr.As(err).StatusCode() != 503 {
		t.Errorf("expected 503, got %d", apperr.As(err).StatusCode())
	}
}

func TestCircuitBreakerRegistry_CallerFaultsDoNotTrip(t *testing.T) {
	registry := NewCircuitBreakerRegistry(DefaultCircuitBreakerConfig)
	ctx := context.Background()

	callerErrors := []error{
		apperr.BadRequest("bad model"),
		apperr.Authentication("bad upstream key"),
		apperr.New(apperr.KindRateLimit, "slow down"),
		context.Canceled,
	}

	for i := 0; i < 10; i++ {
		e := callerErrors[i%len(callerErrors)]
		registry.Execute(ctx, "caller-faults", func() (any, error) {
			return nil, e
		})
	}

	if state := registry.GetBreaker("caller-faults").State(); state != gobreaker.StateClosed {
		t.Errorf("expected breaker to stay closed, got %s", state)
	}
}

func TestCircuitBreakerRegistry_Status(t *testing.T) {
	registry := NewCircuitBreakerRegistry(DefaultCircuitBreakerConfig)
	ctx := context.Background()

	registry.Execute(ctx, BreakerOpenAI, func() (any, error) { return "ok", nil })
	registry.Execute(ctx, BreakerOpenAI, func() (any, error) { return nil, errors.New("boom") })

	status := registry.Status()
	s, ok := status[BreakerOpenAI]
	if !ok {
		t.Fatal("expected status for openai breaker")
	}
	if s.State != "closed" {
		t.Errorf("expected state closed, got %s", s.State)
	}
	if s.TotalSuccesses != 1 || s.TotalFailures != 1 {
		t.Errorf("unexpected counts: %+v", s)
	}
}

func TestWithCircuitBreaker_TypedResults(t *testing.T) {
	SetGlobalRegistry(NewCircuitBreakerRegistry(DefaultCircuitBreakerConfig))

	result, err := WithCircuitBreaker(context.Background(), "typed", func() (int, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != 42 {
		t.Errorf("expected 42, got %d", result)
	}

	ptr, err := WithCircuitBreaker(context.Background(), "typed", func() (*string, error) {
		return nil, errors.New("failed")
	})
	if err == nil {
		t.Error("expected error")
	}
	if ptr != nil {
		t.Error("expected zero value on error")
	}
}

func TestGetGlobalRegistry(t *testing.T) {
	custom := NewCircuitBreakerRegistry(DefaultCircuitBreakerConfig)
	SetGlobalRegistry(custom)

	if GetGlobalRegistry() != custom {
		t.Error("GetGlobalRegistry should return the registry set by SetGlobalRegistry")
	}
}

func TestCircuitBreakerRegistry_GetBreaker_Concurrent(t *testing.T) {
	registry := NewCircuitBreakerRegistry(DefaultCircuitBreakerConfig)

	var wg sync.WaitGroup
	breakers := make([]*gobreaker.CircuitBreaker[any], 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			breakers[idx] = registry.GetBreaker("concurrent")
		}(i)
	}
	wg.Wait()

	for i := 1; i < len(breakers); i++ {
		if breakers[i] != breakers[0] {
			t.Fatal("expected a single breaker instance across goroutines")
		}
	}
}

func TestStateToInt(t *testing.T) {
	tests := map[gobreaker.State]int{
		gobreaker.StateClosed:   0,
		gobreaker.StateHalfOpen: 1,
		gobreaker.StateOpen:     2,
	}
	for state, want := range tests {
		if got := stateToInt(state); got != want {
			t.Errorf("stateToInt(%s) = %d, want %d", state, got, want)
		}
	}
}
