package infra

import (
	"testing"
	"time"
)

func TestBackoffDelay(t *testing.T) {
	tests := []struct {
		retry int
		want  time.Duration
	}{
		{-1, 1 * time.Second},
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{10, 60 * time.Second},  // capped
		{100, 60 * time.Second}, // still capped
	}

	for _, tt := range tests {
		if got := DefaultBackoff.Delay(tt.retry); got != tt.want {
			t.Errorf("Delay(%d) = %s, want %s", tt.retry, got, tt.want)
		}
	}
}

func TestBackoffWaitInterrupted(t *testing.T) {
	b := Backoff{Base: time.Hour, Max: time.Hour}
	done := make(chan struct{})
	close(done)

	start := time.Now()
	if b.Wait(done, 0) {
		t.Error("Wait should report interruption")
	}
	if time.Since(start) > time.Second {
		t.Error("Wait ignored the done channel")
	}

	short := Backoff{Base: time.Millisecond, Max: time.Millisecond}
	if !short.Wait(make(chan struct{}), 3) {
		t.Error("Wait should complete for a short delay")
	}
}
