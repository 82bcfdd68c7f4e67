// Package codec implements the versioned bit-packed day-segment format.
package codec

import (
	"fmt"
	"time"

	"market_store/internal/domain"
	"market_store/pkg/quant"
	"market_store/pkg/safe"

	"github.com/shopspring/decimal"
)

// Serializer encodes one message kind of one security into day segments.
type Serializer[T any] interface {
	DataType() domain.DataType
	Version() Version
	TimePrecision() time.Duration
	CreateMetadata(date time.Time) Metadata
	// Serialize encodes records as one part appended after the segment's existing
	// data and returns the advanced metadata. meta itself is left untouched.
	Serialize(records []T, meta Metadata) ([]byte, Metadata, error)
	Deserialize(data []byte, meta Metadata) ([]T, error)
}

// Option configures a serializer.
type Option func(*options)

type options struct {
	version   Version
	precision time.Duration
}

// WithVersion pins the format version written into new segments.
func WithVersion(v Version) Option {
	return func(o *options) { o.version = v }
}

// WithTimePrecision overrides the timestamp resolution.
func WithTimePrecision(d time.Duration) Option {
	return func(o *options) { o.precision = d }
}

// binarySerializer is the shared part framing, baseline and version handling;
// per-kind hooks encode single records.
type binarySerializer[T domain.Message] struct {
	security  domain.SecurityID
	dataType  domain.DataType
	version   Version
	precision time.Duration

	validate func(item T) error
	baseline func(m *Metadata, first T)
	write    func(c *writeCtx, item, prev T, hasPrev bool) error
	read     func(c *readCtx, prev T, hasPrev bool) (T, error)
}

func newBinarySerializer[T domain.Message](sec domain.SecurityID, dt domain.DataType, precision time.Duration, opts []Option) *binarySerializer[T] {
	o := options{version: CurrentVersion, precision: precision}
	for _, opt := range opts {
		opt(&o)
	}
	return &binarySerializer[T]{
		security:  sec,
		dataType:  dt,
		version:   o.version,
		precision: o.precision,
	}
}

func (s *binarySerializer[T]) DataType() domain.DataType    { return s.dataType }
func (s *binarySerializer[T]) Version() Version             { return s.version }
func (s *binarySerializer[T]) TimePrecision() time.Duration { return s.precision }

func (s *binarySerializer[T]) CreateMetadata(date time.Time) Metadata {
	return Metadata{
		Version:    s.version,
		Date:       date,
		PriceStep:  DefaultPriceStep,
		VolumeStep: DefaultVolumeStep,
	}
}

func (s *binarySerializer[T]) checkVersion(meta Metadata) error {
	if !s.version.AtLeast(meta.Version) {
		return fmt.Errorf("%w: segment version %s is newer than serializer version %s",
			domain.ErrDataFormat, meta.Version, s.version)
	}
	return nil
}

func (s *binarySerializer[T]) Serialize(records []T, meta Metadata) ([]byte, Metadata, error) {
	if err := s.checkVersion(meta); err != nil {
		return nil, meta, err
	}
	if len(records) == 0 {
		if meta.IsEmpty() {
			return nil, meta, fmt.Errorf("%w: first write of %s segment has no records", domain.ErrDataFormat, s.dataType)
		}
		return nil, meta, nil
	}
	for _, item := range records {
		if err := s.validate(item); err != nil {
			return nil, meta, err
		}
	}

	m := meta.Clone()
	if m.IsEmpty() {
		s.initBaseline(&m, records[0])
	}

	c := &writeCtx{w: &BitWriter{}, m: &m, v: m.Version, precision: s.precision}
	c.w.WriteUint(uint64(len(records)))

	var prev T
	for i, item := range records {
		if err := s.write(c, item, prev, i > 0); err != nil {
			return nil, meta, err
		}
		prev = item
	}
	c.w.Align()

	m.Count += len(records)
	return c.w.Bytes(), m, nil
}

func (s *binarySerializer[T]) initBaseline(m *Metadata, first T) {
	t := first.GetTime().Truncate(s.precision)
	m.FirstTime, m.LastTime = t, t
	m.FirstLocalTime, m.LastLocalTime = t, t
	_, offset := first.GetTime().Zone()
	m.ServerOffset = time.Duration(offset) * time.Second
	m.LastValues = nil
	if s.baseline != nil {
		s.baseline(m, first)
	}
}

func (s *binarySerializer[T]) Deserialize(data []byte, meta Metadata) ([]T, error) {
	if err := s.checkVersion(meta); err != nil {
		return nil, err
	}

	m := meta.Clone()
	m.rewind()

	c := &readCtx{r: NewBitReader(data), m: &m, v: m.Version, precision: s.precision, security: s.security}
	out := make([]T, 0, meta.Count)

	var prev T
	for len(out) < meta.Count {
		n := c.r.ReadUint()
		if err := c.r.Err(); err != nil {
			return nil, err
		}
		if n == 0 || n > uint64(meta.Count-len(out)) {
			return nil, fmt.Errorf("%w: part of %d records exceeds metadata count %d", domain.ErrDataFormat, n, meta.Count)
		}
		for i := uint64(0); i < n; i++ {
			item, err := s.read(c, prev, i > 0 || len(out) > 0)
			if err == nil {
				err = c.r.Err()
			}
			if err != nil {
				return nil, fmt.Errorf("failed to read %s record %d: %w", s.dataType, len(out), err)
			}
			out = append(out, item)
			prev = item
		}
		c.r.Align()
	}
	return out, nil
}

type writeCtx struct {
	w         *BitWriter
	m         *Metadata
	v         Version
	precision time.Duration
}

// writePriceDelta writes price relative to base, as step counts when aligned.
func (c *writeCtx) writePriceDelta(price, base decimal.Decimal) {
	diff := price.Sub(base)
	if steps, ok := quant.Steps(diff, c.m.PriceStep); ok {
		c.w.WriteBit(true)
		c.w.WriteInt(steps)
		return
	}
	c.w.WriteBit(false)
	c.w.WriteDecimal(diff)
}

// writePrice writes price against the running price cursor.
func (c *writeCtx) writePrice(price decimal.Decimal) {
	c.writePriceDelta(price, c.m.LastPrice)
	c.m.LastPrice = price
}

func (c *writeCtx) writeVolume(v decimal.Decimal) {
	if steps, ok := quant.Steps(v, c.m.VolumeStep); ok {
		c.w.WriteBit(true)
		c.w.WriteInt(steps)
		return
	}
	c.w.WriteBit(false)
	c.w.WriteDecimal(v)
}

func (c *writeCtx) writeID(id int64, cursor *int64) error {
	diff, ok := safe.Sub(id, *cursor)
	if !ok {
		return fmt.Errorf("%w: identifier delta %d - %d overflows", domain.ErrDataFormat, id, *cursor)
	}
	c.w.WriteInt(diff)
	*cursor = id
	return nil
}

func (c *writeCtx) writeTime(t time.Time) error {
	if !c.v.IsUTC() {
		if _, off := t.Zone(); time.Duration(off)*time.Second != c.m.ServerOffset {
			return fmt.Errorf("%w: time %s offset differs from segment offset %s", domain.ErrDataFormat, t, c.m.ServerOffset)
		}
	}
	t = t.Truncate(c.precision)
	units := int64(t.Sub(c.m.LastTime) / c.precision)
	if c.v.AllowNonOrdered() {
		c.w.WriteInt(units)
	} else {
		if units < 0 {
			return fmt.Errorf("%w: time %s is before previous %s", domain.ErrDataFormat, t, c.m.LastTime)
		}
		c.w.WriteUint(uint64(units))
	}
	c.m.LastTime = t
	return nil
}

// writeLocalTime writes the optional receive time when the version carries it.
func (c *writeCtx) writeLocalTime(t time.Time) {
	if !c.v.HasLocalTime() {
		return
	}
	c.w.WriteBit(!t.IsZero())
	if t.IsZero() {
		return
	}
	t = t.Truncate(c.precision)
	c.w.WriteInt(int64(t.Sub(c.m.LastLocalTime) / c.precision))
	c.m.LastLocalTime = t
}

func (c *writeCtx) writeSide(s domain.Side) {
	c.w.WriteBits(uint64(s), 2)
}

func (c *writeCtx) writeOptionalBool(b *bool) {
	c.w.WriteBit(b != nil)
	if b != nil {
		c.w.WriteBit(*b)
	}
}

func (c *writeCtx) writeOptionalDecimal(d *decimal.Decimal) {
	c.w.WriteBit(d != nil)
	if d != nil {
		c.w.WriteDecimal(*d)
	}
}

func (c *writeCtx) writePortfolio(name string) {
	c.w.WriteBit(name != "")
	if name == "" {
		return
	}
	idx := -1
	for i, p := range c.m.Portfolios {
		if p == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		idx = len(c.m.Portfolios)
		c.m.Portfolios = append(c.m.Portfolios, name)
	}
	c.w.WriteUint(uint64(idx))
}

// writeFieldValue writes v relative to the last value of the same field.
func (c *writeCtx) writeFieldValue(field uint8, v decimal.Decimal) {
	if c.m.LastValues == nil {
		c.m.LastValues = make(map[uint8]decimal.Decimal)
	}
	c.writePriceDelta(v, c.m.LastValues[field])
	c.m.LastValues[field] = v
}

type readCtx struct {
	r         *BitReader
	m         *Metadata
	v         Version
	precision time.Duration
	security  domain.SecurityID
}

func (c *readCtx) readPriceDelta(base decimal.Decimal) decimal.Decimal {
	if c.r.ReadBit() {
		return quant.FromSteps(base, c.r.ReadInt(), c.m.PriceStep)
	}
	return base.Add(c.r.ReadDecimal())
}

func (c *readCtx) readPrice() decimal.Decimal {
	p := c.readPriceDelta(c.m.LastPrice)
	c.m.LastPrice = p
	return p
}

func (c *readCtx) readVolume() decimal.Decimal {
	if c.r.ReadBit() {
		return quant.FromSteps(decimal.Zero, c.r.ReadInt(), c.m.VolumeStep)
	}
	return c.r.ReadDecimal()
}

func (c *readCtx) readID(cursor *int64) int64 {
	id, ok := safe.Add(*cursor, c.r.ReadInt())
	if !ok {
		c.r.fail("identifier overflow after %d", *cursor)
		return 0
	}
	*cursor = id
	return id
}

func (c *readCtx) readTime() time.Time {
	var units int64
	if c.v.AllowNonOrdered() {
		units = c.r.ReadInt()
	} else {
		units = int64(c.r.ReadUint())
	}
	t := c.m.LastTime.Add(time.Duration(units) * c.precision)
	c.m.LastTime = t
	return c.zone(t)
}

func (c *readCtx) readLocalTime() time.Time {
	if !c.v.HasLocalTime() || !c.r.ReadBit() {
		return time.Time{}
	}
	t := c.m.LastLocalTime.Add(time.Duration(c.r.ReadInt()) * c.precision)
	c.m.LastLocalTime = t
	return c.zone(t)
}

func (c *readCtx) zone(t time.Time) time.Time {
	if c.v.IsUTC() {
		return t.UTC()
	}
	return t.In(time.FixedZone("", int(c.m.ServerOffset/time.Second)))
}

func (c *readCtx) readSide() domain.Side {
	s := domain.Side(c.r.ReadBits(2))
	if s > domain.SideSell {
		c.r.fail("invalid side %d", s)
	}
	return s
}

func (c *readCtx) readOptionalBool() *bool {
	if !c.r.ReadBit() {
		return nil
	}
	v := c.r.ReadBit()
	return &v
}

func (c *readCtx) readOptionalDecimal() *decimal.Decimal {
	if !c.r.ReadBit() {
		return nil
	}
	v := c.r.ReadDecimal()
	return &v
}

func (c *readCtx) readPortfolio() string {
	if !c.r.ReadBit() {
		return ""
	}
	idx := c.r.ReadUint()
	if idx >= uint64(len(c.m.Portfolios)) {
		c.r.fail("portfolio index %d out of range", idx)
		return ""
	}
	return c.m.Portfolios[idx]
}

func (c *readCtx) readFieldValue(field uint8) decimal.Decimal {
	if c.m.LastValues == nil {
		c.m.LastValues = make(map[uint8]decimal.Decimal)
	}
	v := c.readPriceDelta(c.m.LastValues[field])
	c.m.LastValues[field] = v
	return v
}

func checkVolume(name string, v decimal.Decimal) error {
	if v.Sign() < 0 {
		return fmt.Errorf("%w: negative %s %s", domain.ErrDataFormat, name, v)
	}
	return nil
}
