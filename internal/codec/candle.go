package codec

import (
	"fmt"
	"time"

	"market_store/internal/domain"
)

// NewCandleSerializer returns the serializer for one candle series of sec.
func NewCandleSerializer(sec domain.SecurityID, typ domain.CandleType, arg string, opts ...Option) Serializer[*domain.Candle] {
	s := newBinarySerializer[*domain.Candle](sec, domain.CandleDataType(typ, arg), time.Millisecond, opts)
	s.validate = validateCandle
	s.baseline = func(m *Metadata, first *domain.Candle) {
		m.FirstPrice, m.LastPrice = first.Open, first.Open
	}
	s.write = writeCandle
	s.read = func(c *readCtx, _ *domain.Candle, _ bool) (*domain.Candle, error) {
		return readCandle(c, typ, arg)
	}
	return s
}

func validateCandle(k *domain.Candle) error {
	if err := checkVolume("candle volume", k.Volume); err != nil {
		return err
	}
	if k.TotalTicks < 0 {
		return fmt.Errorf("%w: negative tick count %d", domain.ErrDataFormat, k.TotalTicks)
	}
	if !k.CloseTime.IsZero() && k.CloseTime.Before(k.OpenTime) {
		return fmt.Errorf("%w: candle closes at %s before it opens at %s", domain.ErrDataFormat, k.CloseTime, k.OpenTime)
	}
	return nil
}

func writeCandle(c *writeCtx, k, _ *domain.Candle, _ bool) error {
	if err := c.writeTime(k.OpenTime); err != nil {
		return err
	}
	c.w.WriteBit(!k.CloseTime.IsZero())
	if !k.CloseTime.IsZero() {
		c.w.WriteUint(uint64(k.CloseTime.Sub(k.OpenTime) / c.precision))
	}

	c.writePrice(k.Open)
	c.writePriceDelta(k.High, k.Open)
	c.writePriceDelta(k.Low, k.Open)
	c.writePriceDelta(k.Close, k.Open)
	c.writeVolume(k.Volume)
	c.w.WriteUint(uint64(k.TotalTicks))
	c.w.WriteBit(k.State == domain.CandleStateFinished)

	if c.v.HasOpenInterest() {
		c.writeOptionalDecimal(k.OpenInterest)
	}
	c.writeLocalTime(k.LocalTime)
	return nil
}

func readCandle(c *readCtx, typ domain.CandleType, arg string) (*domain.Candle, error) {
	k := &domain.Candle{SecurityID: c.security, Type: typ, Arg: arg}
	k.OpenTime = c.readTime()
	if c.r.ReadBit() {
		k.CloseTime = k.OpenTime.Add(time.Duration(c.r.ReadUint()) * c.precision)
	}

	k.Open = c.readPrice()
	k.High = c.readPriceDelta(k.Open)
	k.Low = c.readPriceDelta(k.Open)
	k.Close = c.readPriceDelta(k.Open)
	k.Volume = c.readVolume()
	k.TotalTicks = int64(c.r.ReadUint())
	if c.r.ReadBit() {
		k.State = domain.CandleStateFinished
	}

	if c.v.HasOpenInterest() {
		k.OpenInterest = c.readOptionalDecimal()
	}
	k.LocalTime = c.readLocalTime()
	return k, nil
}
