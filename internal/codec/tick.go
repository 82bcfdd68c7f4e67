package codec

import (
	"fmt"
	"time"

	"market_store/internal/domain"
)

// NewTickSerializer returns the trade stream serializer for sec.
func NewTickSerializer(sec domain.SecurityID, opts ...Option) Serializer[*domain.Tick] {
	s := newBinarySerializer[*domain.Tick](sec, domain.Ticks, time.Microsecond, opts)
	s.validate = validateTick
	s.baseline = func(m *Metadata, first *domain.Tick) {
		m.FirstID, m.LastID = first.TradeID, first.TradeID
		m.FirstPrice, m.LastPrice = first.Price, first.Price
	}
	s.write = writeTick
	s.read = readTick
	return s
}

func validateTick(t *domain.Tick) error {
	if t.TradeID < 0 {
		return fmt.Errorf("%w: negative trade id %d", domain.ErrDataFormat, t.TradeID)
	}
	return checkVolume("volume", t.Volume)
}

func writeTick(c *writeCtx, t, _ *domain.Tick, _ bool) error {
	if err := c.writeID(t.TradeID, &c.m.LastID); err != nil {
		return err
	}
	c.writePrice(t.Price)
	c.writeVolume(t.Volume)
	c.writeSide(t.Side)
	if err := c.writeTime(t.ServerTime); err != nil {
		return err
	}
	if c.v.HasSystemFlag() {
		c.writeOptionalBool(t.IsSystem)
	}
	if c.v.HasOpenInterest() {
		c.writeOptionalDecimal(t.OpenInterest)
	}
	c.writeLocalTime(t.LocalTime)
	if c.v.HasUpTick() {
		c.writeOptionalBool(t.IsUpTick)
	}
	return nil
}

func readTick(c *readCtx, _ *domain.Tick, _ bool) (*domain.Tick, error) {
	t := &domain.Tick{SecurityID: c.security}
	t.TradeID = c.readID(&c.m.LastID)
	t.Price = c.readPrice()
	t.Volume = c.readVolume()
	t.Side = c.readSide()
	t.ServerTime = c.readTime()
	if c.v.HasSystemFlag() {
		t.IsSystem = c.readOptionalBool()
	}
	if c.v.HasOpenInterest() {
		t.OpenInterest = c.readOptionalDecimal()
	}
	t.LocalTime = c.readLocalTime()
	if c.v.HasUpTick() {
		t.IsUpTick = c.readOptionalBool()
	}
	return t, nil
}
