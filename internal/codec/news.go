package codec

import (
	"time"

	"market_store/internal/domain"
)

// NewNewsSerializer returns the news serializer. News segments live under
// domain.AllSecurity; each record keeps its own optional instrument.
func NewNewsSerializer(opts ...Option) Serializer[*domain.News] {
	s := newBinarySerializer[*domain.News](domain.AllSecurity, domain.NewsData, time.Millisecond, opts)
	s.validate = func(*domain.News) error { return nil }
	s.write = func(c *writeCtx, n, _ *domain.News, _ bool) error {
		c.w.WriteString(n.ID)
		c.w.WriteBit(!n.SecurityID.IsZero())
		if !n.SecurityID.IsZero() {
			c.w.WriteString(n.SecurityID.Code)
			c.w.WriteString(n.SecurityID.Board)
		}
		c.w.WriteString(n.Source)
		c.w.WriteString(n.Headline)
		c.w.WriteString(n.Story)
		c.w.WriteString(n.URL)
		if err := c.writeTime(n.ServerTime); err != nil {
			return err
		}
		c.writeLocalTime(n.LocalTime)
		return nil
	}
	s.read = func(c *readCtx, _ *domain.News, _ bool) (*domain.News, error) {
		n := &domain.News{ID: c.r.ReadString()}
		if c.r.ReadBit() {
			n.SecurityID.Code = c.r.ReadString()
			n.SecurityID.Board = c.r.ReadString()
		}
		n.Source = c.r.ReadString()
		n.Headline = c.r.ReadString()
		n.Story = c.r.ReadString()
		n.URL = c.r.ReadString()
		n.ServerTime = c.readTime()
		n.LocalTime = c.readLocalTime()
		return n, nil
	}
	return s
}

// NewBoardStateSerializer returns the board session state serializer.
func NewBoardStateSerializer(opts ...Option) Serializer[*domain.BoardState] {
	s := newBinarySerializer[*domain.BoardState](domain.AllSecurity, domain.Board, time.Millisecond, opts)
	s.validate = func(*domain.BoardState) error { return nil }
	s.write = func(c *writeCtx, b, _ *domain.BoardState, _ bool) error {
		c.w.WriteString(b.Board)
		c.w.WriteBits(uint64(b.State), 2)
		return c.writeTime(b.ServerTime)
	}
	s.read = func(c *readCtx, _ *domain.BoardState, _ bool) (*domain.BoardState, error) {
		b := &domain.BoardState{Board: c.r.ReadString()}
		b.State = domain.BoardStateKind(c.r.ReadBits(2))
		b.ServerTime = c.readTime()
		return b, nil
	}
	return s
}
