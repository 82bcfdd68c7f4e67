package snapshot

import (
	"fmt"
	"time"

	"market_store/internal/domain"
	"market_store/pkg/quant"
)

const TransactionVersion uint16 = 1

// TransactionSerializer keeps the latest state of each own order, keyed by
// transaction id.
type TransactionSerializer struct{}

func (TransactionSerializer) Name() string    { return "transactions" }
func (TransactionSerializer) Version() uint16 { return TransactionVersion }

func (TransactionSerializer) SlotSize(version uint16) (int, error) {
	if version != TransactionVersion {
		return 0, fmt.Errorf("%w: unknown transaction snapshot version %d", domain.ErrDataFormat, version)
	}
	return codeSize + boardSize + portfolioSize + 2*8 + 4*8 + 6*quant.DecimalSize + 3 + errorSize, nil
}

func (TransactionSerializer) Key(m *domain.Transaction) int64 { return m.TransactionID }

func (TransactionSerializer) Encode(buf []byte, m *domain.Transaction, _ uint16) error {
	w := &slotWriter{buf: buf}
	w.security(m.SecurityID)
	w.string(m.Portfolio, portfolioSize)
	w.time(m.ServerTime)
	w.time(m.LocalTime)
	w.i64(m.TransactionID)
	w.i64(m.OriginalTransactionID)
	w.i64(m.OrderID)
	w.i64(m.TradeID)
	w.decimal(m.OrderPrice)
	w.decimal(m.OrderVolume)
	w.decimal(m.Balance)
	w.decimal(m.TradePrice)
	w.decimal(m.TradeVolume)

	var flags uint8
	if m.Commission != nil {
		flags |= 1
		w.decimal(*m.Commission)
	} else {
		w.pos += quant.DecimalSize
	}
	w.u8(flags)
	w.u8(uint8(m.Side))
	w.u8(uint8(m.State))
	w.string(m.Error, errorSize)
	return w.err
}

func (TransactionSerializer) Decode(buf []byte, _ uint16) (*domain.Transaction, error) {
	r := &slotReader{buf: buf}
	m := &domain.Transaction{
		SecurityID: r.security(),
		Portfolio:  r.string(portfolioSize),
	}
	m.ServerTime = r.time()
	m.LocalTime = r.time()
	m.TransactionID = r.i64()
	m.OriginalTransactionID = r.i64()
	m.OrderID = r.i64()
	m.TradeID = r.i64()
	m.OrderPrice = r.decimal()
	m.OrderVolume = r.decimal()
	m.Balance = r.decimal()
	m.TradePrice = r.decimal()
	m.TradeVolume = r.decimal()
	commission := r.decimal()
	flags := r.u8()
	if flags&1 != 0 {
		m.Commission = domain.Decimal(commission)
	}
	m.Side = domain.Side(r.u8())
	m.State = domain.OrderState(r.u8())
	m.Error = r.string(errorSize)
	return m, nil
}

// Update takes the state, balance and times of curr and every other field
// curr actually carries.
func (TransactionSerializer) Update(prev, curr *domain.Transaction) *domain.Transaction {
	m := prev.Clone()
	m.ServerTime = curr.ServerTime
	m.LocalTime = curr.LocalTime
	m.State = curr.State
	m.Balance = curr.Balance

	if !curr.SecurityID.IsZero() {
		m.SecurityID = curr.SecurityID
	}
	if curr.Portfolio != "" {
		m.Portfolio = curr.Portfolio
	}
	if curr.OriginalTransactionID != 0 {
		m.OriginalTransactionID = curr.OriginalTransactionID
	}
	if curr.OrderID != 0 {
		m.OrderID = curr.OrderID
	}
	if !curr.OrderPrice.IsZero() {
		m.OrderPrice = curr.OrderPrice
	}
	if !curr.OrderVolume.IsZero() {
		m.OrderVolume = curr.OrderVolume
	}
	if curr.Side != domain.SideNone {
		m.Side = curr.Side
	}
	if curr.TradeID != 0 {
		m.TradeID = curr.TradeID
		m.TradePrice = curr.TradePrice
		m.TradeVolume = curr.TradeVolume
	}
	if curr.Commission != nil {
		m.Commission = domain.Decimal(*curr.Commission)
	}
	if curr.Error != "" {
		m.Error = curr.Error
	}
	return m
}

func (TransactionSerializer) Clone(m *domain.Transaction) *domain.Transaction { return m.Clone() }
func (TransactionSerializer) Time(m *domain.Transaction) time.Time            { return m.ServerTime }
