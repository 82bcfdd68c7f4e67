package safe

import (
	"testing"
)

// FuzzAddSub checks that a successful Add is undone by Sub.
func FuzzAddSub(f *testing.F) {
	f.Add(int64(0), int64(0))
	f.Add(int64(1), int64(2))
	f.Add(int64(-1), int64(1))
	f.Add(int64(9223372036854775807), int64(0))  // MaxInt64
	f.Add(int64(-9223372036854775808), int64(0)) // MinInt64

	f.Fuzz(func(t *testing.T, a, b int64) {
		sum, ok := Add(a, b)
		if !ok {
			return
		}
		back, ok := Sub(sum, b)
		if !ok || back != a {
			t.Fatalf("Sub(Add(%d, %d), %d) = %d, %v", a, b, b, back, ok)
		}
	})
}
