package infra

import (
	"errors"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(failures, successes int) (*CircuitBreaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test",
		FailureThreshold: failures,
		SuccessThreshold: successes,
		CoolDown:         time.Second,
	})
	cb.now = clock.now
	return cb, clock
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb, _ := newTestBreaker(3, 2)

	if !cb.Allow() {
		t.Error("Expected Allow() in CLOSED state")
	}

	cb.RecordFailure()
	cb.RecordFailure()
	if cb.State() != StateClosed {
		t.Error("Should still be CLOSED after 2 failures")
	}

	cb.RecordFailure()
	if cb.State() != StateOpen {
		t.Fatalf("Expected OPEN after 3 failures, got %s", cb.State())
	}
	if cb.Allow() {
		t.Error("Expected Allow() to be false in OPEN state")
	}
	if cb.Rejected() != 1 {
		t.Errorf("Expected 1 rejected call, got %d", cb.Rejected())
	}
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb, _ := newTestBreaker(2, 1)

	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	if cb.State() != StateClosed {
		t.Error("Non-consecutive failures opened the breaker")
	}
}

func TestCircuitBreaker_HalfOpenCycle(t *testing.T) {
	cb, clock := newTestBreaker(1, 2)

	cb.RecordFailure()
	clock.advance(500 * time.Millisecond)
	if cb.Allow() {
		t.Fatal("Allowed during cool-down")
	}

	clock.advance(time.Second)
	if !cb.Allow() || cb.State() != StateHalfOpen {
		t.Fatalf("Expected HALF_OPEN after cool-down, got %s", cb.State())
	}

	cb.RecordSuccess()
	if cb.State() != StateHalfOpen {
		t.Error("Should still be HALF_OPEN after 1 success")
	}
	cb.RecordSuccess()
	if cb.State() != StateClosed {
		t.Errorf("Expected CLOSED after 2 successes, got %s", cb.State())
	}
}

func TestCircuitBreaker_ProbeFailureReopens(t *testing.T) {
	cb, clock := newTestBreaker(1, 1)

	cb.RecordFailure()
	clock.advance(2 * time.Second)
	cb.Allow()
	cb.RecordFailure()

	if cb.State() != StateOpen {
		t.Fatalf("Expected OPEN after failed probe, got %s", cb.State())
	}
	if cb.Allow() {
		t.Error("Cool-down did not restart after failed probe")
	}
}

func TestCircuitBreaker_Do(t *testing.T) {
	cb, _ := newTestBreaker(1, 1)
	boom := errors.New("boom")

	if err := cb.Do(func() error { return nil }); err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if err := cb.Do(func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("Expected call error, got %v", err)
	}

	called := false
	err := cb.Do(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) || called {
		t.Errorf("Expected ErrCircuitOpen without a call, got %v (called=%v)", err, called)
	}

	cb.Reset()
	if !cb.Allow() {
		t.Error("Expected Allow() after Reset")
	}
}
