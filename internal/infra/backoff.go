package infra

import (
	"time"
)

// Backoff computes reconnect delays for live feeds: Base * 2^retry, capped
// at Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff is used by feeds that do not configure their own.
var DefaultBackoff = Backoff{Base: time.Second, Max: 60 * time.Second}

// Delay returns the wait before attempt retry. Negative retries get Base.
func (b Backoff) Delay(retry int) time.Duration {
	if retry <= 0 {
		return b.Base
	}
	// 2^30 seconds is far past any sane cap; avoid shifting into overflow.
	if retry > 30 {
		return b.Max
	}

	d := b.Base * time.Duration(1<<retry)
	if d > b.Max || d <= 0 {
		return b.Max
	}
	return d
}

// Wait sleeps for Delay(retry) or until done is closed. It reports whether
// the full delay elapsed.
func (b Backoff) Wait(done <-chan struct{}, retry int) bool {
	t := time.NewTimer(b.Delay(retry))
	defer t.Stop()
	select {
	case <-done:
		return false
	case <-t.C:
		return true
	}
}
