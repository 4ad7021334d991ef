package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func ok(context.Context) error { return nil }

func fail(context.Context) error { return errors.New("test error") }

func TestCircuitBreaker_InitialState(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())

	if cb.State() != StateClosed {
		t.Errorf("Expected initial state to be CLOSED, got %v", cb.State())
	}

	if cb.Failures() != 0 {
		t.Errorf("Expected initial failures to be 0, got %d", cb.Failures())
	}
}

func TestCircuitBreaker_SuccessfulExecution(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())

	called := false
	err := cb.Execute(context.Background(), func(context.Context) error {
		called = true
		return nil
	})

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}

	if !called {
		t.Error("Expected function to be called")
	}

	if cb.State() != StateClosed {
		t.Errorf("Expected state to remain CLOSED, got %v", cb.State())
	}
}

func TestCircuitBreaker_FailuresLeadToOpen(t *testing.T) {
	config := CircuitBreakerConfig{
		MaxFailures:           3,
		Timeout:               100 * time.Millisecond,
		MaxConcurrentRequests: 1,
		SuccessThreshold:      2,
	}

	cb := NewCircuitBreaker(config)

	for i := 0; i < config.MaxFailures; i++ {
		if err := cb.Execute(context.Background(), fail); err == nil {
			t.Errorf("Expected error for failure %d", i)
		}

		if i < config.MaxFailures-1 && cb.State() != StateClosed {
			t.Errorf("Expected state to be CLOSED after %d failures, got %v", i+1, cb.State())
		}
	}

	if cb.State() != StateOpen {
		t.Errorf("Expected state to be OPEN after %d failures, got %v", config.MaxFailures, cb.State())
	}

	err := cb.Execute(context.Background(), func(context.Context) error {
		t.Error("Function should not be called when circuit is open")
		return nil
	})

	if err != ErrCircuitBreakerOpen {
		t.Errorf("Expected ErrCircuitBreakerOpen, got %v", err)
	}
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 2, Timeout: time.Second})

	cb.Execute(context.Background(), fail)
	cb.Execute(context.Background(), ok)
	cb.Execute(context.Background(), fail)

	if cb.State() != StateClosed {
		t.Errorf("Expected non-consecutive failures to keep the circuit CLOSED, got %v", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenToClosed(t *testing.T) {
	config := CircuitBreakerConfig{
		MaxFailures:           2,
		Timeout:               10 * time.Millisecond,
		MaxConcurrentRequests: 1,
		SuccessThreshold:      2,
	}

	cb := NewCircuitBreaker(config)

	for i := 0; i < config.MaxFailures; i++ {
		cb.Execute(context.Background(), fail)
	}

	time.Sleep(config.Timeout + 5*time.Millisecond)

	if err := cb.Execute(context.Background(), ok); err != nil {
		t.Errorf("Expected trial call to succeed, got %v", err)
	}
	if cb.State() != StateHalfOpen {
		t.Errorf("Expected state to be HALF_OPEN, got %v", cb.State())
	}

	if err := cb.Execute(context.Background(), ok); err != nil {
		t.Errorf("Expected trial call to succeed, got %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected state to be CLOSED after %d successes, got %v", config.SuccessThreshold, cb.State())
	}
}

func TestCircuitBreaker_HalfOpenToOpen(t *testing.T) {
	config := CircuitBreakerConfig{
		MaxFailures:           2,
		Timeout:               10 * time.Millisecond,
		MaxConcurrentRequests: 1,
		SuccessThreshold:      2,
	}

	cb := NewCircuitBreaker(config)

	for i := 0; i < config.MaxFailures; i++ {
		cb.Execute(context.Background(), fail)
	}

	time.Sleep(config.Timeout + 5*time.Millisecond)

	cb.Execute(context.Background(), ok)
	if cb.State() != StateHalfOpen {
		t.Errorf("Expected state to be HALF_OPEN, got %v", cb.State())
	}

	if err := cb.Execute(context.Background(), fail); err == nil {
		t.Error("Expected error")
	}

	if cb.State() != StateOpen {
		t.Errorf("Expected state to be OPEN after failure in half-open, got %v", cb.State())
	}
}

func TestCircuitBreaker_RequestTimeout(t *testing.T) {
	config := CircuitBreakerConfig{
		MaxFailures:    3,
		Timeout:        100 * time.Millisecond,
		RequestTimeout: 20 * time.Millisecond,
	}

	cb := NewCircuitBreaker(config)

	start := time.Now()
	err := cb.Execute(context.Background(), func(ctx context.Context) error {
		select {
		case <-time.After(500 * time.Millisecond):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	duration := time.Since(start)

	if !errors.Is(err, ErrCircuitBreakerTimeout) {
		t.Errorf("Expected ErrCircuitBreakerTimeout, got %v", err)
	}

	if duration > 200*time.Millisecond {
		t.Errorf("Expected timeout around 20ms, got %v", duration)
	}

	if cb.Failures() != 1 {
		t.Errorf("Expected 1 failure, got %d", cb.Failures())
	}
}

func TestCircuitBreaker_CallerCancellation(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:    1,
		Timeout:        time.Second,
		RequestTimeout: time.Second,
		IsFailure: func(err error) bool {
			return !errors.Is(err, context.Canceled)
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := cb.Execute(ctx, func(ctx context.Context) error { return ctx.Err() })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected caller cancellation not to open the circuit, got %v", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenCancellationKeepsState(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures: 1,
		Timeout:     10 * time.Millisecond,
		IsFailure: func(err error) bool {
			return !errors.Is(err, context.Canceled)
		},
	})

	cb.Execute(context.Background(), fail)
	if cb.State() != StateOpen {
		t.Fatalf("Expected state OPEN, got %v", cb.State())
	}

	time.Sleep(15 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := cb.Execute(ctx, func(ctx context.Context) error { return ctx.Err() })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if cb.State() == StateClosed {
		t.Error("Expected a cancelled half-open call not to close the circuit")
	}
	if stats := cb.Stats(); stats.Requests != 0 {
		t.Errorf("Expected half-open slot to be released, got %d", stats.Requests)
	}

	if err := cb.Execute(context.Background(), ok); err != nil {
		t.Errorf("Expected the next call to be admitted, got %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("Expected a real success to close the circuit, got %v", cb.State())
	}
}

func TestCircuitBreaker_MaxConcurrentRequests(t *testing.T) {
	config := CircuitBreakerConfig{
		MaxFailures:           2,
		Timeout:               10 * time.Millisecond,
		MaxConcurrentRequests: 1,
		SuccessThreshold:      5,
	}

	cb := NewCircuitBreaker(config)

	for i := 0; i < config.MaxFailures; i++ {
		cb.Execute(context.Background(), fail)
	}

	time.Sleep(config.Timeout + 5*time.Millisecond)

	release := make(chan struct{})
	started := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		cb.Execute(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	err := cb.Execute(context.Background(), func(context.Context) error {
		t.Error("Second concurrent request should not execute")
		return nil
	})

	if err != ErrCircuitBreakerOpen {
		t.Errorf("Expected ErrCircuitBreakerOpen for concurrent request, got %v", err)
	}

	close(release)
	wg.Wait()

	if stats := cb.Stats(); stats.Requests != 0 {
		t.Errorf("Expected half-open slot to be released, got %d", stats.Requests)
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 2, Timeout: 100 * time.Millisecond})

	cb.Execute(context.Background(), fail)
	cb.Execute(context.Background(), fail)

	if cb.State() != StateOpen {
		t.Errorf("Expected state to be OPEN, got %v", cb.State())
	}

	cb.Reset()

	if cb.State() != StateClosed {
		t.Errorf("Expected state to be CLOSED after reset, got %v", cb.State())
	}

	if cb.Failures() != 0 {
		t.Errorf("Expected failures to be 0 after reset, got %d", cb.Failures())
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures: 1,
		Timeout:     5 * time.Millisecond,
		OnStateChange: func(from, to CircuitBreakerState) {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, from.String()+"->"+to.String())
		},
	})

	cb.Execute(context.Background(), fail)
	time.Sleep(10 * time.Millisecond)
	cb.Execute(context.Background(), ok)

	mu.Lock()
	defer mu.Unlock()
	want := []string{"CLOSED->OPEN", "OPEN->HALF_OPEN", "HALF_OPEN->CLOSED"}
	if len(seen) != len(want) {
		t.Fatalf("Expected transitions %v, got %v", want, seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("Transition %d: expected %s, got %s", i, want[i], seen[i])
		}
	}
}
