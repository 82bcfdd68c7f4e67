package codec

import (
	"fmt"
	"slices"
	"time"

	"market_store/internal/domain"

	"github.com/shopspring/decimal"
)

// NewLevel1Serializer returns the level-1 change serializer for sec.
func NewLevel1Serializer(sec domain.SecurityID, opts ...Option) Serializer[*domain.Level1Change] {
	s := newBinarySerializer[*domain.Level1Change](sec, domain.Level1, time.Microsecond, opts)
	s.validate = func(l *domain.Level1Change) error {
		return validateFields(l.Changes, domain.Level1FieldCount)
	}
	s.write = func(c *writeCtx, l, _ *domain.Level1Change, _ bool) error {
		writeChangesOf(c, l.Changes)
		if err := c.writeTime(l.ServerTime); err != nil {
			return err
		}
		c.writeLocalTime(l.LocalTime)
		return nil
	}
	s.read = func(c *readCtx, _ *domain.Level1Change, _ bool) (*domain.Level1Change, error) {
		l := &domain.Level1Change{SecurityID: c.security}
		l.Changes = readChanges[domain.Level1Field](c, domain.Level1FieldCount)
		l.ServerTime = c.readTime()
		l.LocalTime = c.readLocalTime()
		return l, nil
	}
	return s
}

const positionFieldCount = 8

// NewPositionSerializer returns the position change serializer for sec.
func NewPositionSerializer(sec domain.SecurityID, opts ...Option) Serializer[*domain.PositionChange] {
	s := newBinarySerializer[*domain.PositionChange](sec, domain.Positions, time.Microsecond, opts)
	s.validate = func(p *domain.PositionChange) error {
		return validateFields(p.Changes, positionFieldCount)
	}
	s.write = func(c *writeCtx, p, _ *domain.PositionChange, _ bool) error {
		c.writePortfolio(p.Portfolio)
		writeChangesOf(c, p.Changes)
		if err := c.writeTime(p.ServerTime); err != nil {
			return err
		}
		c.writeLocalTime(p.LocalTime)
		return nil
	}
	s.read = func(c *readCtx, _ *domain.PositionChange, _ bool) (*domain.PositionChange, error) {
		p := &domain.PositionChange{SecurityID: c.security}
		p.Portfolio = c.readPortfolio()
		p.Changes = readChanges[domain.PositionField](c, positionFieldCount)
		p.ServerTime = c.readTime()
		p.LocalTime = c.readLocalTime()
		return p, nil
	}
	return s
}

func validateFields[F ~uint8](changes map[F]decimal.Decimal, count int) error {
	for f := range changes {
		if f == 0 || int(f) > count {
			return fmt.Errorf("%w: unknown field %d", domain.ErrDataFormat, f)
		}
	}
	return nil
}

func writeChangesOf[F ~uint8](c *writeCtx, changes map[F]decimal.Decimal) {
	fields := make([]F, 0, len(changes))
	for f := range changes {
		fields = append(fields, f)
	}
	slices.Sort(fields)

	c.w.WriteUint(uint64(len(fields)))
	for _, f := range fields {
		c.w.WriteUint(uint64(f))
		c.writeFieldValue(uint8(f), changes[f])
	}
}

func readChanges[F ~uint8](c *readCtx, count int) map[F]decimal.Decimal {
	n := c.r.ReadUint()
	if c.r.Err() != nil {
		return nil
	}
	if n > uint64(count) {
		c.r.fail("%d field changes exceed %d fields", n, count)
		return nil
	}
	changes := make(map[F]decimal.Decimal, n)
	for i := uint64(0); i < n; i++ {
		f := c.r.ReadUint()
		if f == 0 || f > uint64(count) {
			c.r.fail("unknown field %d", f)
			return nil
		}
		changes[F(f)] = c.readFieldValue(uint8(f))
	}
	return changes
}
