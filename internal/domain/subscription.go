package domain

import "time"

// MarketDataRequest subscribes to, or stops, one data stream of a security.
// From, To and Count bound the requested history; nil means unbounded.
type MarketDataRequest struct {
	TransactionID         int64      `json:"transaction_id"`
	OriginalTransactionID int64      `json:"original_transaction_id,omitempty"`
	IsSubscribe           bool       `json:"is_subscribe"`
	SecurityID            SecurityID `json:"security"`
	DataType              DataType   `json:"data_type"`
	From                  *time.Time `json:"from,omitempty"`
	To                    *time.Time `json:"to,omitempty"`
	Count                 *int64     `json:"count,omitempty"`
}

func (m *MarketDataRequest) GetType() MessageKind      { return KindSubscription }
func (m *MarketDataRequest) GetTime() time.Time        { return time.Time{} }
func (m *MarketDataRequest) GetSecurityID() SecurityID { return m.SecurityID }

// Clone returns a deep copy.
func (m *MarketDataRequest) Clone() *MarketDataRequest {
	c := *m
	if m.From != nil {
		v := *m.From
		c.From = &v
	}
	if m.To != nil {
		v := *m.To
		c.To = &v
	}
	if m.Count != nil {
		v := *m.Count
		c.Count = &v
	}
	return &c
}

// SubscriptionResponse confirms a request identified by OriginalTransactionID.
type SubscriptionResponse struct {
	OriginalTransactionID int64  `json:"original_transaction_id"`
	Error                 string `json:"error,omitempty"`
}

func (m *SubscriptionResponse) GetType() MessageKind      { return KindSubscriptionResponse }
func (m *SubscriptionResponse) GetTime() time.Time        { return time.Time{} }
func (m *SubscriptionResponse) GetSecurityID() SecurityID { return SecurityID{} }

// SubscriptionFinished tells the subscriber no more data will follow.
type SubscriptionFinished struct {
	OriginalTransactionID int64 `json:"original_transaction_id"`
}

func (m *SubscriptionFinished) GetType() MessageKind      { return KindSubscriptionFinished }
func (m *SubscriptionFinished) GetTime() time.Time        { return time.Time{} }
func (m *SubscriptionFinished) GetSecurityID() SecurityID { return SecurityID{} }
