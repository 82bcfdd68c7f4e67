// Package quant expresses decimal values as integer multiples of a fixed step.
package quant

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

var (
	maxSteps = decimal.NewFromInt(math.MaxInt64)
	minSteps = decimal.NewFromInt(math.MinInt64)
)

// DecimalSize is the width of a fixed-layout decimal (int64 coefficient + int32 exponent).
const DecimalSize = 12

// Steps returns diff/step when diff is an exact multiple of step and the quotient fits in int64.
func Steps(diff, step decimal.Decimal) (int64, bool) {
	if step.Sign() <= 0 {
		return 0, false
	}
	if !diff.Mod(step).IsZero() {
		return 0, false
	}
	q := diff.Div(step)
	if q.GreaterThan(maxSteps) || q.LessThan(minSteps) {
		return 0, false
	}
	return q.IntPart(), true
}

// FromSteps reconstructs base + steps*step.
func FromSteps(base decimal.Decimal, steps int64, step decimal.Decimal) decimal.Decimal {
	return base.Add(step.Mul(decimal.NewFromInt(steps)))
}

// IsAligned reports whether v is an exact multiple of step.
func IsAligned(v, step decimal.Decimal) bool {
	_, ok := Steps(v, step)
	return ok
}

// PutDecimal writes d into buf[:DecimalSize] little-endian.
func PutDecimal(buf []byte, d decimal.Decimal) error {
	coef := d.Coefficient()
	if !coef.IsInt64() {
		return fmt.Errorf("decimal %s exceeds fixed width", d)
	}
	binary.LittleEndian.PutUint64(buf[0:8], uint64(coef.Int64()))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(d.Exponent()))
	return nil
}

// ReadDecimal is the inverse of PutDecimal.
func ReadDecimal(buf []byte) decimal.Decimal {
	coef := int64(binary.LittleEndian.Uint64(buf[0:8]))
	exp := int32(binary.LittleEndian.Uint32(buf[8:12]))
	return decimal.New(coef, exp)
}
