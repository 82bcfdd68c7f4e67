package codec

import (
	"fmt"
	"math/big"

	"market_store/internal/domain"

	"github.com/shopspring/decimal"
)

// Variable-length unsigned integers carry a 2-bit width class.
var uintWidths = [4]int{4, 12, 32, 64}

const maxStringLen = 1 << 20

// BitWriter packs values LSB-first into a growing byte slice.
type BitWriter struct {
	buf  []byte
	nbit int
}

// WriteBit appends one bit.
func (w *BitWriter) WriteBit(b bool) {
	if w.nbit%8 == 0 {
		w.buf = append(w.buf, 0)
	}
	if b {
		w.buf[len(w.buf)-1] |= 1 << (w.nbit % 8)
	}
	w.nbit++
}

// WriteBits appends the low n bits of v.
func (w *BitWriter) WriteBits(v uint64, n int) {
	for i := 0; i < n; i++ {
		w.WriteBit(v>>i&1 == 1)
	}
}

// WriteUint appends v using the smallest width class that holds it.
func (w *BitWriter) WriteUint(v uint64) {
	for class, width := range uintWidths {
		if width == 64 || v < 1<<width {
			w.WriteBits(uint64(class), 2)
			w.WriteBits(v, width)
			return
		}
	}
}

// WriteInt appends a sign bit and the magnitude.
func (w *BitWriter) WriteInt(v int64) {
	neg := v < 0
	m := uint64(v)
	if neg {
		m = -m
	}
	w.WriteBit(neg)
	w.WriteUint(m)
}

// WriteString appends a length-prefixed byte string.
func (w *BitWriter) WriteString(s string) {
	w.WriteUint(uint64(len(s)))
	for i := 0; i < len(s); i++ {
		w.WriteBits(uint64(s[i]), 8)
	}
}

// WriteDecimal appends d exactly as exponent plus signed coefficient bytes.
func (w *BitWriter) WriteDecimal(d decimal.Decimal) {
	coef := d.Coefficient()
	w.WriteInt(int64(d.Exponent()))
	w.WriteBit(coef.Sign() < 0)
	b := coef.Bytes()
	w.WriteUint(uint64(len(b)))
	for _, x := range b {
		w.WriteBits(uint64(x), 8)
	}
}

// Align pads to the next byte boundary.
func (w *BitWriter) Align() {
	w.nbit = len(w.buf) * 8
}

// Bytes returns the packed stream.
func (w *BitWriter) Bytes() []byte {
	return w.buf
}

// BitReader is the inverse of BitWriter. Errors are sticky: after the first
// failure every read returns zero values and Err reports the cause.
type BitReader struct {
	buf []byte
	pos int
	err error
}

// NewBitReader reads from buf.
func NewBitReader(buf []byte) *BitReader {
	return &BitReader{buf: buf}
}

// Err returns the first read failure.
func (r *BitReader) Err() error {
	return r.err
}

func (r *BitReader) fail(format string, args ...any) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: "+format, append([]any{domain.ErrDataFormat}, args...)...)
	}
}

// ReadBit reads one bit.
func (r *BitReader) ReadBit() bool {
	if r.err != nil {
		return false
	}
	if r.pos >= len(r.buf)*8 {
		r.fail("unexpected end of stream at bit %d", r.pos)
		return false
	}
	b := r.buf[r.pos/8]>>(r.pos%8)&1 == 1
	r.pos++
	return b
}

// ReadBits reads n bits written by WriteBits.
func (r *BitReader) ReadBits(n int) uint64 {
	var v uint64
	for i := 0; i < n; i++ {
		if r.ReadBit() {
			v |= 1 << i
		}
	}
	return v
}

// ReadUint reads a value written by WriteUint.
func (r *BitReader) ReadUint() uint64 {
	class := r.ReadBits(2)
	return r.ReadBits(uintWidths[class])
}

// ReadInt reads a value written by WriteInt.
func (r *BitReader) ReadInt() int64 {
	neg := r.ReadBit()
	m := r.ReadUint()
	if neg {
		return -int64(m)
	}
	return int64(m)
}

// ReadString reads a value written by WriteString.
func (r *BitReader) ReadString() string {
	n := r.ReadUint()
	if r.err != nil {
		return ""
	}
	if n > maxStringLen || int(n) > r.remaining()/8 {
		r.fail("string length %d exceeds stream", n)
		return ""
	}
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(r.ReadBits(8))
	}
	return string(b)
}

// ReadDecimal reads a value written by WriteDecimal.
func (r *BitReader) ReadDecimal() decimal.Decimal {
	exp := r.ReadInt()
	neg := r.ReadBit()
	n := r.ReadUint()
	if r.err != nil {
		return decimal.Zero
	}
	if n > 64 || int(n) > r.remaining()/8 {
		r.fail("decimal length %d exceeds stream", n)
		return decimal.Zero
	}
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(r.ReadBits(8))
	}
	coef := new(big.Int).SetBytes(b)
	if neg {
		coef.Neg(coef)
	}
	return decimal.NewFromBigInt(coef, int32(exp))
}

// Align skips to the next byte boundary.
func (r *BitReader) Align() {
	r.pos = (r.pos + 7) / 8 * 8
}

func (r *BitReader) remaining() int {
	return len(r.buf)*8 - r.pos
}
