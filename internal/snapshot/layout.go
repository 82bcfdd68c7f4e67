package snapshot

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"market_store/internal/domain"
	"market_store/pkg/quant"
)

// Fixed widths of text fields inside slots.
const (
	codeSize      = 32
	boardSize     = 16
	portfolioSize = 32
	errorSize     = 64
)

// slotWriter fills a fixed payload front to back. The first error sticks.
type slotWriter struct {
	buf []byte
	pos int
	err error
}

func (w *slotWriter) string(s string, size int) {
	if w.err != nil {
		return
	}
	if len(s) > size {
		w.err = fmt.Errorf("%w: %q exceeds %d bytes", domain.ErrDataFormat, s, size)
		return
	}
	copy(w.buf[w.pos:w.pos+size], s)
	w.pos += size
}

func (w *slotWriter) security(sec domain.SecurityID) {
	w.string(sec.Code, codeSize)
	w.string(sec.Board, boardSize)
}

func (w *slotWriter) u8(v uint8) {
	if w.err != nil {
		return
	}
	w.buf[w.pos] = v
	w.pos++
}

func (w *slotWriter) u32(v uint32) {
	if w.err != nil {
		return
	}
	binary.LittleEndian.PutUint32(w.buf[w.pos:], v)
	w.pos += 4
}

func (w *slotWriter) i64(v int64) {
	if w.err != nil {
		return
	}
	binary.LittleEndian.PutUint64(w.buf[w.pos:], uint64(v))
	w.pos += 8
}

func (w *slotWriter) time(t time.Time) {
	if t.IsZero() {
		w.i64(0)
		return
	}
	w.i64(t.UnixNano())
}

func (w *slotWriter) decimal(d decimal.Decimal) {
	if w.err != nil {
		return
	}
	if err := quant.PutDecimal(w.buf[w.pos:w.pos+quant.DecimalSize], d); err != nil {
		w.err = fmt.Errorf("%w: %v", domain.ErrDataFormat, err)
		return
	}
	w.pos += quant.DecimalSize
}

type slotReader struct {
	buf []byte
	pos int
}

func (r *slotReader) string(size int) string {
	b := r.buf[r.pos : r.pos+size]
	r.pos += size
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

func (r *slotReader) security() domain.SecurityID {
	code := r.string(codeSize)
	return domain.SecurityID{Code: code, Board: r.string(boardSize)}
}

func (r *slotReader) u8() uint8 {
	v := r.buf[r.pos]
	r.pos++
	return v
}

func (r *slotReader) u32() uint32 {
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v
}

func (r *slotReader) i64() int64 {
	v := int64(binary.LittleEndian.Uint64(r.buf[r.pos:]))
	r.pos += 8
	return v
}

func (r *slotReader) time() time.Time {
	n := r.i64()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func (r *slotReader) decimal() decimal.Decimal {
	d := quant.ReadDecimal(r.buf[r.pos : r.pos+quant.DecimalSize])
	r.pos += quant.DecimalSize
	return d
}
