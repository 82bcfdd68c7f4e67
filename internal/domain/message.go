package domain

import (
	"maps"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// Message is implemented by every record that flows through storage and the live path.
type Message interface {
	GetType() MessageKind
	GetTime() time.Time
	GetSecurityID() SecurityID
}

// Side is the aggressor or order direction.
type Side int8

const (
	SideNone Side = iota
	SideBuy
	SideSell
)

// OrderState is the lifecycle stage of an order.
type OrderState int8

const (
	OrderStateNone OrderState = iota
	OrderStatePending
	OrderStateActive
	OrderStateDone
	OrderStateFailed
)

// CandleState marks whether a bar is still forming.
type CandleState int8

const (
	CandleStateActive CandleState = iota
	CandleStateFinished
)

// BoardStateKind is the trading session state of a board.
type BoardStateKind int8

const (
	BoardTrading BoardStateKind = iota
	BoardPaused
	BoardBreak
	BoardClosed
)

// Tick is one anonymous trade.
type Tick struct {
	SecurityID   SecurityID       `json:"security"`
	ServerTime   time.Time        `json:"server_time"`
	LocalTime    time.Time        `json:"local_time,omitempty"`
	TradeID      int64            `json:"trade_id"`
	Price        decimal.Decimal  `json:"price"`
	Volume       decimal.Decimal  `json:"volume"`
	Side         Side             `json:"side"`
	OpenInterest *decimal.Decimal `json:"open_interest,omitempty"`
	IsSystem     *bool            `json:"is_system,omitempty"`
	IsUpTick     *bool            `json:"is_up_tick,omitempty"`
}

func (m *Tick) GetType() MessageKind      { return KindTick }
func (m *Tick) GetTime() time.Time        { return m.ServerTime }
func (m *Tick) GetSecurityID() SecurityID { return m.SecurityID }

// Clone returns a deep copy.
func (m *Tick) Clone() *Tick {
	c := *m
	c.OpenInterest = cloneDecimal(m.OpenInterest)
	c.IsSystem = cloneBool(m.IsSystem)
	c.IsUpTick = cloneBool(m.IsUpTick)
	return &c
}

// OrderLogItem is one order-book event from a full order log.
type OrderLogItem struct {
	SecurityID    SecurityID      `json:"security"`
	ServerTime    time.Time       `json:"server_time"`
	LocalTime     time.Time       `json:"local_time,omitempty"`
	TransactionID int64           `json:"transaction_id"`
	OrderID       int64           `json:"order_id"`
	OrderPrice    decimal.Decimal `json:"order_price"`
	OrderVolume   decimal.Decimal `json:"order_volume"`
	Side          Side            `json:"side"`
	State         OrderState      `json:"state"`
	TradeID       int64           `json:"trade_id,omitempty"`
	TradePrice    decimal.Decimal `json:"trade_price"`
	IsSystem      *bool           `json:"is_system,omitempty"`
	Portfolio     string          `json:"portfolio,omitempty"`
}

func (m *OrderLogItem) GetType() MessageKind      { return KindOrderLog }
func (m *OrderLogItem) GetTime() time.Time        { return m.ServerTime }
func (m *OrderLogItem) GetSecurityID() SecurityID { return m.SecurityID }

// HasTrade reports whether the entry records a match.
func (m *OrderLogItem) HasTrade() bool { return m.TradeID != 0 }

// Clone returns a deep copy.
func (m *OrderLogItem) Clone() *OrderLogItem {
	c := *m
	c.IsSystem = cloneBool(m.IsSystem)
	return &c
}

// Transaction is an own order or trade report.
type Transaction struct {
	SecurityID            SecurityID       `json:"security"`
	ServerTime            time.Time        `json:"server_time"`
	LocalTime             time.Time        `json:"local_time,omitempty"`
	TransactionID         int64            `json:"transaction_id"`
	OriginalTransactionID int64            `json:"original_transaction_id"`
	OrderID               int64            `json:"order_id"`
	OrderPrice            decimal.Decimal  `json:"order_price"`
	OrderVolume           decimal.Decimal  `json:"order_volume"`
	Balance               decimal.Decimal  `json:"balance"`
	Side                  Side             `json:"side"`
	State                 OrderState       `json:"state"`
	TradeID               int64            `json:"trade_id,omitempty"`
	TradePrice            decimal.Decimal  `json:"trade_price"`
	TradeVolume           decimal.Decimal  `json:"trade_volume"`
	Commission            *decimal.Decimal `json:"commission,omitempty"`
	Portfolio             string           `json:"portfolio"`
	Error                 string           `json:"error,omitempty"`
}

func (m *Transaction) GetType() MessageKind      { return KindTransaction }
func (m *Transaction) GetTime() time.Time        { return m.ServerTime }
func (m *Transaction) GetSecurityID() SecurityID { return m.SecurityID }

// Clone returns a deep copy.
func (m *Transaction) Clone() *Transaction {
	c := *m
	c.Commission = cloneDecimal(m.Commission)
	return &c
}

// Quote is one price level.
type Quote struct {
	Price  decimal.Decimal `json:"price"`
	Volume decimal.Decimal `json:"volume"`
}

// QuoteChange is a full order-book state. Bids are sorted descending, asks ascending.
type QuoteChange struct {
	SecurityID SecurityID `json:"security"`
	ServerTime time.Time  `json:"server_time"`
	LocalTime  time.Time  `json:"local_time,omitempty"`
	Bids       []Quote    `json:"bids"`
	Asks       []Quote    `json:"asks"`
}

func (m *QuoteChange) GetType() MessageKind      { return KindQuotes }
func (m *QuoteChange) GetTime() time.Time        { return m.ServerTime }
func (m *QuoteChange) GetSecurityID() SecurityID { return m.SecurityID }

// Clone returns a deep copy.
func (m *QuoteChange) Clone() *QuoteChange {
	c := *m
	c.Bids = slices.Clone(m.Bids)
	c.Asks = slices.Clone(m.Asks)
	return &c
}

// IsCrossed reports whether the best bid is above the best ask.
func (m *QuoteChange) IsCrossed() bool {
	if len(m.Bids) == 0 || len(m.Asks) == 0 {
		return false
	}
	return m.Bids[0].Price.GreaterThan(m.Asks[0].Price)
}

// Candle is one OHLCV bar.
type Candle struct {
	SecurityID   SecurityID       `json:"security"`
	Type         CandleType       `json:"type"`
	Arg          string           `json:"arg"`
	OpenTime     time.Time        `json:"open_time"`
	CloseTime    time.Time        `json:"close_time"`
	LocalTime    time.Time        `json:"local_time,omitempty"`
	Open         decimal.Decimal  `json:"open"`
	High         decimal.Decimal  `json:"high"`
	Low          decimal.Decimal  `json:"low"`
	Close        decimal.Decimal  `json:"close"`
	Volume       decimal.Decimal  `json:"volume"`
	OpenInterest *decimal.Decimal `json:"open_interest,omitempty"`
	TotalTicks   int64            `json:"total_ticks"`
	State        CandleState      `json:"state"`
}

func (m *Candle) GetType() MessageKind      { return KindCandle }
func (m *Candle) GetTime() time.Time        { return m.OpenTime }
func (m *Candle) GetSecurityID() SecurityID { return m.SecurityID }

// DataType is the storage key of the candle series.
func (m *Candle) DataType() DataType { return CandleDataType(m.Type, m.Arg) }

// Clone returns a deep copy.
func (m *Candle) Clone() *Candle {
	c := *m
	c.OpenInterest = cloneDecimal(m.OpenInterest)
	return &c
}

// Level1Field names one top-of-book or session value.
type Level1Field uint8

const (
	L1LastTradePrice Level1Field = iota + 1
	L1LastTradeVolume
	L1BestBidPrice
	L1BestBidVolume
	L1BestAskPrice
	L1BestAskVolume
	L1OpenPrice
	L1HighPrice
	L1LowPrice
	L1ClosePrice
	L1Volume
	L1OpenInterest
	L1PriceStep
	L1VolumeStep
	L1MinPrice
	L1MaxPrice
)

// Level1FieldCount is the number of defined level-1 fields.
const Level1FieldCount = 16

// Level1Change carries the level-1 fields that changed at ServerTime.
type Level1Change struct {
	SecurityID SecurityID                      `json:"security"`
	ServerTime time.Time                       `json:"server_time"`
	LocalTime  time.Time                       `json:"local_time,omitempty"`
	Changes    map[Level1Field]decimal.Decimal `json:"changes"`
}

func (m *Level1Change) GetType() MessageKind      { return KindLevel1 }
func (m *Level1Change) GetTime() time.Time        { return m.ServerTime }
func (m *Level1Change) GetSecurityID() SecurityID { return m.SecurityID }

// Clone returns a deep copy.
func (m *Level1Change) Clone() *Level1Change {
	c := *m
	c.Changes = maps.Clone(m.Changes)
	return &c
}

// PositionField names one position value.
type PositionField uint8

const (
	PosBeginValue PositionField = iota + 1
	PosCurrentValue
	PosBlockedValue
	PosAveragePrice
	PosUnrealizedPnL
	PosRealizedPnL
	PosCommission
	PosLeverage
)

// PositionChange carries changed position values for one portfolio.
type PositionChange struct {
	SecurityID SecurityID                        `json:"security"`
	Portfolio  string                            `json:"portfolio"`
	ServerTime time.Time                         `json:"server_time"`
	LocalTime  time.Time                         `json:"local_time,omitempty"`
	Changes    map[PositionField]decimal.Decimal `json:"changes"`
}

func (m *PositionChange) GetType() MessageKind      { return KindPosition }
func (m *PositionChange) GetTime() time.Time        { return m.ServerTime }
func (m *PositionChange) GetSecurityID() SecurityID { return m.SecurityID }

// Clone returns a deep copy.
func (m *PositionChange) Clone() *PositionChange {
	c := *m
	c.Changes = maps.Clone(m.Changes)
	return &c
}

// News is a headline with an optional body, optionally bound to an instrument.
type News struct {
	ID         string     `json:"id"`
	SecurityID SecurityID `json:"security"`
	ServerTime time.Time  `json:"server_time"`
	LocalTime  time.Time  `json:"local_time,omitempty"`
	Source     string     `json:"source"`
	Headline   string     `json:"headline"`
	Story      string     `json:"story,omitempty"`
	URL        string     `json:"url,omitempty"`
}

func (m *News) GetType() MessageKind      { return KindNews }
func (m *News) GetTime() time.Time        { return m.ServerTime }
func (m *News) GetSecurityID() SecurityID { return m.SecurityID }

// Clone returns a copy.
func (m *News) Clone() *News {
	c := *m
	return &c
}

// BoardState reports a session change of a board.
type BoardState struct {
	Board      string         `json:"board"`
	ServerTime time.Time      `json:"server_time"`
	State      BoardStateKind `json:"state"`
}

func (m *BoardState) GetType() MessageKind      { return KindBoardState }
func (m *BoardState) GetTime() time.Time        { return m.ServerTime }
func (m *BoardState) GetSecurityID() SecurityID { return AllSecurity }

// Clone returns a copy.
func (m *BoardState) Clone() *BoardState {
	c := *m
	return &c
}

// DataTypeOf returns the storage data type a message belongs to.
func DataTypeOf(m Message) DataType {
	if c, ok := m.(*Candle); ok {
		return c.DataType()
	}
	return DataType{Kind: m.GetType()}
}

func cloneDecimal(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}

func cloneBool(b *bool) *bool {
	if b == nil {
		return nil
	}
	v := *b
	return &v
}

// Bool returns a pointer to v.
func Bool(v bool) *bool { return &v }

// Decimal returns a pointer to v.
func Decimal(v decimal.Decimal) *decimal.Decimal { return &v }
