package codec

import (
	"fmt"
	"time"

	"market_store/internal/domain"
)

// NewOrderLogSerializer returns the order log serializer for sec.
func NewOrderLogSerializer(sec domain.SecurityID, opts ...Option) Serializer[*domain.OrderLogItem] {
	s := newBinarySerializer[*domain.OrderLogItem](sec, domain.OrderLog, time.Microsecond, opts)
	s.validate = validateOrderLog
	s.baseline = func(m *Metadata, first *domain.OrderLogItem) {
		m.FirstID, m.LastID = first.OrderID, first.OrderID
		m.FirstPrice, m.LastPrice = first.OrderPrice, first.OrderPrice
		m.FirstTradeID, m.LastTradeID = first.TradeID, first.TradeID
		m.FirstTransactionID, m.LastTransactionID = first.TransactionID, first.TransactionID
	}
	s.write = writeOrderLog
	s.read = readOrderLog
	return s
}

func validateOrderLog(o *domain.OrderLogItem) error {
	if o.OrderID < 0 {
		return fmt.Errorf("%w: negative order id %d", domain.ErrDataFormat, o.OrderID)
	}
	if o.TransactionID < 0 {
		return fmt.Errorf("%w: negative transaction id %d", domain.ErrDataFormat, o.TransactionID)
	}
	if err := checkVolume("order volume", o.OrderVolume); err != nil {
		return err
	}
	if o.OrderVolume.IsZero() && o.State != domain.OrderStateDone {
		return fmt.Errorf("%w: zero volume for order %d in state %d", domain.ErrDataFormat, o.OrderID, o.State)
	}
	if o.TradeID < 0 {
		return fmt.Errorf("%w: negative trade id %d", domain.ErrDataFormat, o.TradeID)
	}
	return nil
}

func writeOrderLog(c *writeCtx, o, _ *domain.OrderLogItem, _ bool) error {
	if err := c.writeID(o.OrderID, &c.m.LastID); err != nil {
		return err
	}
	c.writePrice(o.OrderPrice)
	c.writeVolume(o.OrderVolume)
	c.writeSide(o.Side)
	c.w.WriteBits(uint64(o.State), 3)
	if err := c.writeTime(o.ServerTime); err != nil {
		return err
	}

	c.w.WriteBit(o.HasTrade())
	if o.HasTrade() {
		if err := c.writeID(o.TradeID, &c.m.LastTradeID); err != nil {
			return err
		}
		c.writePriceDelta(o.TradePrice, o.OrderPrice)
	}

	if err := c.writeID(o.TransactionID, &c.m.LastTransactionID); err != nil {
		return err
	}
	if c.v.HasSystemFlag() {
		c.writeOptionalBool(o.IsSystem)
	}
	c.writePortfolio(o.Portfolio)
	c.writeLocalTime(o.LocalTime)
	return nil
}

func readOrderLog(c *readCtx, _ *domain.OrderLogItem, _ bool) (*domain.OrderLogItem, error) {
	o := &domain.OrderLogItem{SecurityID: c.security}
	o.OrderID = c.readID(&c.m.LastID)
	o.OrderPrice = c.readPrice()
	o.OrderVolume = c.readVolume()
	o.Side = c.readSide()
	o.State = domain.OrderState(c.r.ReadBits(3))
	o.ServerTime = c.readTime()

	if c.r.ReadBit() {
		o.TradeID = c.readID(&c.m.LastTradeID)
		o.TradePrice = c.readPriceDelta(o.OrderPrice)
	}

	o.TransactionID = c.readID(&c.m.LastTransactionID)
	if c.v.HasSystemFlag() {
		o.IsSystem = c.readOptionalBool()
	}
	o.Portfolio = c.readPortfolio()
	o.LocalTime = c.readLocalTime()
	return o, nil
}
