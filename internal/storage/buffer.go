package storage

import (
	"sync"

	"market_store/internal/domain"
)

// Batch is the drained content of one buffered stream.
type Batch struct {
	SecurityID domain.SecurityID
	DataType   domain.DataType
	Messages   []domain.Message
}

// Buffer accumulates live messages per (security, data type) until the
// storage timer drains them.
type Buffer struct {
	mu    sync.Mutex
	order []registryKey
	data  map[registryKey][]domain.Message
	subs  map[registryKey]int

	filterSubscription bool
	disabled           map[domain.MessageKind]bool
}

// NewBuffer creates a buffer. With filterSubscription set only subscribed
// streams are kept.
func NewBuffer(filterSubscription bool) *Buffer {
	return &Buffer{
		data:               make(map[registryKey][]domain.Message),
		subs:               make(map[registryKey]int),
		filterSubscription: filterSubscription,
		disabled:           make(map[domain.MessageKind]bool),
	}
}

func bufferKey(sec domain.SecurityID, dt domain.DataType) registryKey {
	if dt.IsSecurityLess() {
		sec = domain.AllSecurity
	}
	return registryKey{sec, dt}
}

// Disable stops buffering a message kind.
func (b *Buffer) Disable(kind domain.MessageKind) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disabled[kind] = true
}

// Subscribe marks a stream as wanted when subscription filtering is on.
func (b *Buffer) Subscribe(sec domain.SecurityID, dt domain.DataType) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[bufferKey(sec, dt)]++
}

// Unsubscribe reverts one Subscribe.
func (b *Buffer) Unsubscribe(sec domain.SecurityID, dt domain.DataType) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := bufferKey(sec, dt)
	if b.subs[key] <= 1 {
		delete(b.subs, key)
		return
	}
	b.subs[key]--
}

// Add buffers m and reports whether it was kept.
func (b *Buffer) Add(m domain.Message) bool {
	dt := domain.DataTypeOf(m)
	key := bufferKey(m.GetSecurityID(), dt)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.disabled[dt.Kind] {
		return false
	}
	if b.filterSubscription && !dt.IsSecurityLess() && b.subs[key] == 0 {
		return false
	}
	if _, ok := b.data[key]; !ok {
		b.order = append(b.order, key)
	}
	b.data[key] = append(b.data[key], m)
	return true
}

// Len returns the number of buffered messages.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, msgs := range b.data {
		n += len(msgs)
	}
	return n
}

// Drain removes and returns everything buffered, in first-seen stream order.
func (b *Buffer) Drain() []Batch {
	b.mu.Lock()
	order, data := b.order, b.data
	b.order = nil
	b.data = make(map[registryKey][]domain.Message)
	b.mu.Unlock()

	batches := make([]Batch, 0, len(order))
	for _, key := range order {
		batches = append(batches, Batch{SecurityID: key.sec, DataType: key.dt, Messages: data[key]})
	}
	return batches
}
