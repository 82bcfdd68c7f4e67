package codec

import (
	"fmt"
	"time"

	"market_store/internal/domain"
)

// NewTransactionSerializer returns the own-transactions serializer for sec.
func NewTransactionSerializer(sec domain.SecurityID, opts ...Option) Serializer[*domain.Transaction] {
	s := newBinarySerializer[*domain.Transaction](sec, domain.Transactions, time.Microsecond, opts)
	s.validate = validateTransaction
	s.baseline = func(m *Metadata, first *domain.Transaction) {
		m.FirstTransactionID, m.LastTransactionID = first.TransactionID, first.TransactionID
		m.FirstID, m.LastID = first.OrderID, first.OrderID
		m.FirstTradeID, m.LastTradeID = first.TradeID, first.TradeID
		m.FirstPrice, m.LastPrice = first.OrderPrice, first.OrderPrice
	}
	s.write = writeTransaction
	s.read = readTransaction
	return s
}

func validateTransaction(t *domain.Transaction) error {
	if t.TransactionID < 0 || t.OrderID < 0 {
		return fmt.Errorf("%w: negative transaction %d or order id %d", domain.ErrDataFormat, t.TransactionID, t.OrderID)
	}
	if t.TradeID < 0 {
		return fmt.Errorf("%w: negative trade id %d", domain.ErrDataFormat, t.TradeID)
	}
	if err := checkVolume("order volume", t.OrderVolume); err != nil {
		return err
	}
	return checkVolume("trade volume", t.TradeVolume)
}

func writeTransaction(c *writeCtx, t, _ *domain.Transaction, _ bool) error {
	if err := c.writeID(t.TransactionID, &c.m.LastTransactionID); err != nil {
		return err
	}
	orig := t.TransactionID
	if err := c.writeID(t.OriginalTransactionID, &orig); err != nil {
		return err
	}
	if err := c.writeID(t.OrderID, &c.m.LastID); err != nil {
		return err
	}
	c.writePrice(t.OrderPrice)
	c.writeVolume(t.OrderVolume)
	c.w.WriteDecimal(t.Balance)
	c.writeSide(t.Side)
	c.w.WriteBits(uint64(t.State), 3)
	if err := c.writeTime(t.ServerTime); err != nil {
		return err
	}

	c.w.WriteBit(t.TradeID != 0)
	if t.TradeID != 0 {
		if err := c.writeID(t.TradeID, &c.m.LastTradeID); err != nil {
			return err
		}
		c.writePriceDelta(t.TradePrice, t.OrderPrice)
		c.writeVolume(t.TradeVolume)
	}

	c.writeOptionalDecimal(t.Commission)
	c.writePortfolio(t.Portfolio)
	c.w.WriteString(t.Error)
	c.writeLocalTime(t.LocalTime)
	return nil
}

func readTransaction(c *readCtx, _ *domain.Transaction, _ bool) (*domain.Transaction, error) {
	t := &domain.Transaction{SecurityID: c.security}
	t.TransactionID = c.readID(&c.m.LastTransactionID)
	orig := t.TransactionID
	t.OriginalTransactionID = c.readID(&orig)
	t.OrderID = c.readID(&c.m.LastID)
	t.OrderPrice = c.readPrice()
	t.OrderVolume = c.readVolume()
	t.Balance = c.r.ReadDecimal()
	t.Side = c.readSide()
	t.State = domain.OrderState(c.r.ReadBits(3))
	t.ServerTime = c.readTime()

	if c.r.ReadBit() {
		t.TradeID = c.readID(&c.m.LastTradeID)
		t.TradePrice = c.readPriceDelta(t.OrderPrice)
		t.TradeVolume = c.readVolume()
	}

	t.Commission = c.readOptionalDecimal()
	t.Portfolio = c.readPortfolio()
	t.Error = c.r.ReadString()
	t.LocalTime = c.readLocalTime()
	return t, nil
}
