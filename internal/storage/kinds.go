package storage

import (
	"strconv"
	"time"

	"market_store/internal/codec"
	"market_store/internal/domain"
)

// timeKey is the record time at the precision it is stored with.
func timeKey(m domain.Message, precision time.Duration) string {
	return strconv.FormatInt(m.GetTime().Truncate(precision).UnixNano(), 10)
}

// NewTickStorage creates the trade storage of sec.
func NewTickStorage(sec domain.SecurityID, drive MarketDataDrive, opts Options, codecOpts ...codec.Option) *Storage[*domain.Tick] {
	return New(sec, drive.GetDrive(sec, domain.Ticks), codec.NewTickSerializer(sec, codecOpts...), Policy[*domain.Tick]{
		Filter: FilterTicks,
		Key: func(t *domain.Tick, precision time.Duration) string {
			if t.TradeID != 0 {
				return strconv.FormatInt(t.TradeID, 10)
			}
			return timeKey(t, precision) + "/" + t.Price.String() + "/" + t.Volume.String()
		},
	}, opts)
}

// NewOrderLogStorage creates the order log storage of sec.
func NewOrderLogStorage(sec domain.SecurityID, drive MarketDataDrive, opts Options, codecOpts ...codec.Option) *Storage[*domain.OrderLogItem] {
	return New(sec, drive.GetDrive(sec, domain.OrderLog), codec.NewOrderLogSerializer(sec, codecOpts...), Policy[*domain.OrderLogItem]{
		Filter: FilterOrderLog,
		Key: func(r *domain.OrderLogItem, _ time.Duration) string {
			return strconv.FormatInt(r.TransactionID, 10)
		},
	}, opts)
}

// NewTransactionStorage creates the own-transaction storage of sec.
func NewTransactionStorage(sec domain.SecurityID, drive MarketDataDrive, opts Options, codecOpts ...codec.Option) *Storage[*domain.Transaction] {
	return New(sec, drive.GetDrive(sec, domain.Transactions), codec.NewTransactionSerializer(sec, codecOpts...), Policy[*domain.Transaction]{
		Key: func(r *domain.Transaction, precision time.Duration) string {
			return strconv.FormatInt(r.TransactionID, 10) + "/" + timeKey(r, precision)
		},
	}, opts)
}

// NewQuoteStorage creates the order book storage of sec.
func NewQuoteStorage(sec domain.SecurityID, drive MarketDataDrive, opts Options, codecOpts ...codec.Option) *Storage[*domain.QuoteChange] {
	return New(sec, drive.GetDrive(sec, domain.MarketDepth), codec.NewQuoteSerializer(sec, codecOpts...), Policy[*domain.QuoteChange]{
		Key: func(q *domain.QuoteChange, precision time.Duration) string { return timeKey(q, precision) },
	}, opts)
}

// NewCandleStorage creates the storage of one candle series of sec.
func NewCandleStorage(sec domain.SecurityID, typ domain.CandleType, arg string, drive MarketDataDrive, opts Options, codecOpts ...codec.Option) *Storage[*domain.Candle] {
	dt := domain.CandleDataType(typ, arg)
	return New(sec, drive.GetDrive(sec, dt), codec.NewCandleSerializer(sec, typ, arg, codecOpts...), Policy[*domain.Candle]{
		Filter: CandleFilter(typ == domain.CandleTimeFrame),
		Key:    func(c *domain.Candle, precision time.Duration) string { return timeKey(c, precision) },
	}, opts)
}

// NewLevel1Storage creates the level-1 storage of sec.
func NewLevel1Storage(sec domain.SecurityID, drive MarketDataDrive, opts Options, codecOpts ...codec.Option) *Storage[*domain.Level1Change] {
	return New(sec, drive.GetDrive(sec, domain.Level1), codec.NewLevel1Serializer(sec, codecOpts...), Policy[*domain.Level1Change]{
		Filter: FilterLevel1,
		Key:    func(l *domain.Level1Change, precision time.Duration) string { return timeKey(l, precision) },
	}, opts)
}

// NewPositionStorage creates the position storage of sec.
func NewPositionStorage(sec domain.SecurityID, drive MarketDataDrive, opts Options, codecOpts ...codec.Option) *Storage[*domain.PositionChange] {
	return New(sec, drive.GetDrive(sec, domain.Positions), codec.NewPositionSerializer(sec, codecOpts...), Policy[*domain.PositionChange]{
		Filter: FilterPositions,
		Key: func(p *domain.PositionChange, precision time.Duration) string {
			return p.Portfolio + "/" + timeKey(p, precision)
		},
	}, opts)
}

// NewNewsStorage creates the news storage. News is kept under AllSecurity.
func NewNewsStorage(drive MarketDataDrive, opts Options, codecOpts ...codec.Option) *Storage[*domain.News] {
	return New(domain.AllSecurity, drive.GetDrive(domain.AllSecurity, domain.NewsData), codec.NewNewsSerializer(codecOpts...), Policy[*domain.News]{
		Key: func(n *domain.News, precision time.Duration) string {
			if n.ID != "" {
				return n.ID
			}
			return timeKey(n, precision) + "/" + n.Headline
		},
	}, opts)
}

// NewBoardStateStorage creates the board session storage under AllSecurity.
func NewBoardStateStorage(drive MarketDataDrive, opts Options, codecOpts ...codec.Option) *Storage[*domain.BoardState] {
	return New(domain.AllSecurity, drive.GetDrive(domain.AllSecurity, domain.Board), codec.NewBoardStateSerializer(codecOpts...), Policy[*domain.BoardState]{
		Key: func(b *domain.BoardState, precision time.Duration) string { return b.Board + "/" + timeKey(b, precision) },
	}, opts)
}
