package domain

import (
	"fmt"
	"strings"
)

// MessageKind enumerates message payloads.
type MessageKind uint16

const (
	KindTick MessageKind = iota + 1
	KindOrderLog
	KindTransaction
	KindQuotes
	KindCandle
	KindLevel1
	KindPosition
	KindNews
	KindBoardState
	KindSubscription
	KindSubscriptionResponse
	KindSubscriptionFinished
)

var kindNames = map[MessageKind]string{
	KindTick:                 "tick",
	KindOrderLog:             "orderlog",
	KindTransaction:          "transaction",
	KindQuotes:               "quotes",
	KindCandle:               "candle",
	KindLevel1:               "level1",
	KindPosition:             "position",
	KindNews:                 "news",
	KindBoardState:           "board",
	KindSubscription:         "subscription",
	KindSubscriptionResponse: "subscription_response",
	KindSubscriptionFinished: "subscription_finished",
}

func (k MessageKind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", uint16(k))
}

// ParseMessageKind is the inverse of MessageKind.String.
func ParseMessageKind(s string) (MessageKind, error) {
	for k, n := range kindNames {
		if n == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown message kind %q", s)
}

// CandleType distinguishes how candle bars are formed.
type CandleType string

const (
	CandleTimeFrame CandleType = "TimeFrame"
	CandleTick      CandleType = "Tick"
	CandleVolume    CandleType = "Volume"
	CandleRange     CandleType = "Range"
)

// DataType is the storage key for one stream of a security: a kind plus an optional argument.
// Candle data types carry "<CandleType>_<arg>" in Arg.
type DataType struct {
	Kind MessageKind `json:"kind"`
	Arg  string      `json:"arg,omitempty"`
}

var (
	Ticks        = DataType{Kind: KindTick}
	OrderLog     = DataType{Kind: KindOrderLog}
	Transactions = DataType{Kind: KindTransaction}
	MarketDepth  = DataType{Kind: KindQuotes}
	Level1       = DataType{Kind: KindLevel1}
	Positions    = DataType{Kind: KindPosition}
	NewsData     = DataType{Kind: KindNews}
	Board        = DataType{Kind: KindBoardState}
)

// CandleDataType builds the data type for candles of the given type and argument.
func CandleDataType(t CandleType, arg string) DataType {
	return DataType{Kind: KindCandle, Arg: string(t) + "_" + arg}
}

// CandleType returns the candle type encoded in a candle data type.
func (d DataType) CandleType() CandleType {
	t, _, _ := strings.Cut(d.Arg, "_")
	return CandleType(t)
}

// CandleArg returns the argument part of a candle data type, e.g. "00:01:00".
func (d DataType) CandleArg() string {
	_, arg, _ := strings.Cut(d.Arg, "_")
	return arg
}

// IsSecurityLess reports whether the stream is not bound to one instrument.
func (d DataType) IsSecurityLess() bool {
	return d.Kind == KindNews || d.Kind == KindBoardState
}

// FileName is the on-disk base name of a day segment for this data type.
func (d DataType) FileName() string {
	switch d.Kind {
	case KindTick:
		return "trades"
	case KindOrderLog:
		return "orderLog"
	case KindTransaction:
		return "transactions"
	case KindQuotes:
		return "quotes"
	case KindCandle:
		return "candles_" + d.Arg
	case KindLevel1:
		return "security"
	case KindPosition:
		return "positions"
	case KindNews:
		return "news"
	case KindBoardState:
		return "board"
	default:
		return d.Kind.String()
	}
}

func (d DataType) String() string {
	if d.Arg == "" {
		return d.Kind.String()
	}
	return d.Kind.String() + ":" + d.Arg
}

// ParseDataType is the inverse of DataType.String.
func ParseDataType(s string) (DataType, error) {
	name, arg, _ := strings.Cut(s, ":")
	kind, err := ParseMessageKind(name)
	if err != nil {
		return DataType{}, err
	}
	if kind == KindCandle && arg == "" {
		return DataType{}, fmt.Errorf("candle data type %q needs an argument", s)
	}
	return DataType{Kind: kind, Arg: arg}, nil
}
