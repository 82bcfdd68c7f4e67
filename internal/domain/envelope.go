package domain

import (
	"encoding/json"
	"fmt"
)

// Envelope is the JSON wire form of a message on live feeds.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// EncodeEnvelope wraps m in its JSON envelope.
func EncodeEnvelope(m Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", m.GetType(), err)
	}
	return json.Marshal(Envelope{Type: m.GetType().String(), Data: data})
}

// DecodeEnvelope parses one JSON envelope into its concrete message.
func DecodeEnvelope(b []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}

	kind, err := ParseMessageKind(env.Type)
	if err != nil {
		return nil, err
	}

	var m Message
	switch kind {
	case KindTick:
		m = &Tick{}
	case KindOrderLog:
		m = &OrderLogItem{}
	case KindTransaction:
		m = &Transaction{}
	case KindQuotes:
		m = &QuoteChange{}
	case KindCandle:
		m = &Candle{}
	case KindLevel1:
		m = &Level1Change{}
	case KindPosition:
		m = &PositionChange{}
	case KindNews:
		m = &News{}
	case KindBoardState:
		m = &BoardState{}
	case KindSubscription:
		m = &MarketDataRequest{}
	default:
		return nil, fmt.Errorf("%w: %s is not a feed message", ErrNotSupported, kind)
	}

	if err := json.Unmarshal(env.Data, m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", kind, err)
	}
	return m, nil
}
