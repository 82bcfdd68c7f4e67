package codec

import (
	"encoding/binary"
	"fmt"
	"maps"
	"slices"
	"time"

	"market_store/internal/domain"
	"market_store/pkg/quant"

	"github.com/shopspring/decimal"
)

var (
	DefaultPriceStep  = decimal.New(1, -2)
	DefaultVolumeStep = decimal.NewFromInt(1)
)

// Metadata is the per-day encoding state of a segment.
// Writers advance the Last* cursors; readers replay from the First* baselines
// on a private copy, so a Metadata value is never mutated by a load.
type Metadata struct {
	Version      Version
	Date         time.Time
	Count        int
	PriceStep    decimal.Decimal
	VolumeStep   decimal.Decimal
	ServerOffset time.Duration

	FirstTime      time.Time
	LastTime       time.Time
	FirstLocalTime time.Time
	LastLocalTime  time.Time

	FirstPrice decimal.Decimal
	LastPrice  decimal.Decimal

	// FirstID/LastID track trade ids for ticks and order ids elsewhere.
	FirstID            int64
	LastID             int64
	FirstTradeID       int64
	LastTradeID        int64
	FirstTransactionID int64
	LastTransactionID  int64

	Portfolios []string
	// LastValues holds the last written value per level-1/position field.
	LastValues map[uint8]decimal.Decimal
}

// IsEmpty reports whether nothing has been written under this metadata.
func (m Metadata) IsEmpty() bool {
	return m.Count == 0
}

// Clone returns a copy that shares no mutable state with m.
func (m Metadata) Clone() Metadata {
	c := m
	c.Portfolios = slices.Clone(m.Portfolios)
	c.LastValues = maps.Clone(m.LastValues)
	return c
}

func (m *Metadata) rewind() {
	m.LastTime = m.FirstTime
	m.LastLocalTime = m.FirstLocalTime
	m.LastPrice = m.FirstPrice
	m.LastID = m.FirstID
	m.LastTradeID = m.FirstTradeID
	m.LastTransactionID = m.FirstTransactionID
	m.LastValues = nil
}

const metadataFixedSize = 2 + 4 + 8 + quant.DecimalSize*2 + 4 + 8*4 + quant.DecimalSize*2 + 8*6

// MarshalBinary encodes the fixed block followed by the portfolio and field tables.
func (m Metadata) MarshalBinary() ([]byte, error) {
	b := make([]byte, 0, metadataFixedSize+64)
	b = append(b, m.Version.Major, m.Version.Minor)
	b = binary.LittleEndian.AppendUint32(b, uint32(m.Count))
	b = binary.LittleEndian.AppendUint64(b, uint64(timeToNanos(m.Date)))

	var err error
	if b, err = appendDecimal(b, m.PriceStep); err != nil {
		return nil, err
	}
	if b, err = appendDecimal(b, m.VolumeStep); err != nil {
		return nil, err
	}
	b = binary.LittleEndian.AppendUint32(b, uint32(int32(m.ServerOffset/time.Second)))

	for _, t := range []time.Time{m.FirstTime, m.LastTime, m.FirstLocalTime, m.LastLocalTime} {
		b = binary.LittleEndian.AppendUint64(b, uint64(timeToNanos(t)))
	}
	if b, err = appendDecimal(b, m.FirstPrice); err != nil {
		return nil, err
	}
	if b, err = appendDecimal(b, m.LastPrice); err != nil {
		return nil, err
	}
	for _, id := range []int64{m.FirstID, m.LastID, m.FirstTradeID, m.LastTradeID, m.FirstTransactionID, m.LastTransactionID} {
		b = binary.LittleEndian.AppendUint64(b, uint64(id))
	}

	b = binary.LittleEndian.AppendUint16(b, uint16(len(m.Portfolios)))
	for _, p := range m.Portfolios {
		b = binary.LittleEndian.AppendUint16(b, uint16(len(p)))
		b = append(b, p...)
	}

	keys := make([]uint8, 0, len(m.LastValues))
	for k := range m.LastValues {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	b = append(b, uint8(len(keys)))
	for _, k := range keys {
		b = append(b, k)
		if b, err = appendDecimal(b, m.LastValues[k]); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// UnmarshalBinary decodes a block written by MarshalBinary.
func (m *Metadata) UnmarshalBinary(data []byte) error {
	r := metaReader{buf: data}
	*m = Metadata{}
	m.Version = Version{r.u8(), r.u8()}
	m.Count = int(r.u32())
	m.Date = nanosToTime(int64(r.u64()))
	m.PriceStep = r.decimal()
	m.VolumeStep = r.decimal()
	m.ServerOffset = time.Duration(int32(r.u32())) * time.Second
	m.FirstTime = nanosToTime(int64(r.u64()))
	m.LastTime = nanosToTime(int64(r.u64()))
	m.FirstLocalTime = nanosToTime(int64(r.u64()))
	m.LastLocalTime = nanosToTime(int64(r.u64()))
	m.FirstPrice = r.decimal()
	m.LastPrice = r.decimal()
	m.FirstID = int64(r.u64())
	m.LastID = int64(r.u64())
	m.FirstTradeID = int64(r.u64())
	m.LastTradeID = int64(r.u64())
	m.FirstTransactionID = int64(r.u64())
	m.LastTransactionID = int64(r.u64())

	if n := int(r.u16()); n > 0 {
		m.Portfolios = make([]string, 0, n)
		for i := 0; i < n; i++ {
			m.Portfolios = append(m.Portfolios, string(r.bytes(int(r.u16()))))
		}
	}
	if n := int(r.u8()); n > 0 {
		m.LastValues = make(map[uint8]decimal.Decimal, n)
		for i := 0; i < n; i++ {
			k := r.u8()
			m.LastValues[k] = r.decimal()
		}
	}
	return r.err
}

// EncodeSegment frames metadata and the record stream into one day blob.
func EncodeSegment(meta Metadata, data []byte) ([]byte, error) {
	mb, err := meta.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	out := make([]byte, 0, 4+len(mb)+len(data))
	out = binary.LittleEndian.AppendUint32(out, uint32(len(mb)))
	out = append(out, mb...)
	return append(out, data...), nil
}

// DecodeSegment splits a day blob into metadata and record stream.
func DecodeSegment(blob []byte) (Metadata, []byte, error) {
	var meta Metadata
	if len(blob) < 4 {
		return meta, nil, fmt.Errorf("%w: segment too short", domain.ErrDataFormat)
	}
	n := int(binary.LittleEndian.Uint32(blob))
	if n > len(blob)-4 {
		return meta, nil, fmt.Errorf("%w: metadata length %d exceeds segment", domain.ErrDataFormat, n)
	}
	if err := meta.UnmarshalBinary(blob[4 : 4+n]); err != nil {
		return meta, nil, err
	}
	return meta, blob[4+n:], nil
}

func appendDecimal(b []byte, d decimal.Decimal) ([]byte, error) {
	var buf [quant.DecimalSize]byte
	if err := quant.PutDecimal(buf[:], d); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDataFormat, err)
	}
	return append(b, buf[:]...), nil
}

// Zero time is stored as 0 since it has no UnixNano representation.
func timeToNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func nanosToTime(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

type metaReader struct {
	buf []byte
	pos int
	err error
}

func (r *metaReader) bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.pos+n > len(r.buf) {
		r.err = fmt.Errorf("%w: metadata truncated at %d", domain.ErrDataFormat, r.pos)
		return nil
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *metaReader) u8() uint8 {
	if b := r.bytes(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *metaReader) u16() uint16 {
	if b := r.bytes(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (r *metaReader) u32() uint32 {
	if b := r.bytes(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (r *metaReader) u64() uint64 {
	if b := r.bytes(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

func (r *metaReader) decimal() decimal.Decimal {
	if b := r.bytes(quant.DecimalSize); b != nil {
		return quant.ReadDecimal(b)
	}
	return decimal.Zero
}
