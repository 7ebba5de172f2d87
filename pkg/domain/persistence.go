package domain

import (
	"context"
	"time"
)

// KV is a single world-state entry returned by a selector query.
type KV struct {
	Key   string
	Value []byte
}

// KeyModification is one historical version of a ledger key.
type KeyModification struct {
	TxID      string
	Timestamp time.Time
	IsDelete  bool
	Value     []byte
}

// RecordIterator walks the results of a selector query in ledger order.
type RecordIterator interface {
	HasNext() bool
	Next() (KV, error)
	Close() error
}

// HistoryIterator walks the versions of one key in ledger order.
type HistoryIterator interface {
	HasNext() bool
	Next() (KeyModification, error)
	Close() error
}

// LedgerAccess is the view of the external ledger available to one transaction.
// Every call may fail; callers propagate failures as storage errors.
type LedgerAccess interface {
	PutRecord(ctx context.Context, key string, value []byte) error
	// GetRecord returns nil, nil when key is absent.
	GetRecord(ctx context.Context, key string) ([]byte, error)
	QueryBySelector(ctx context.Context, query string) (RecordIterator, error)
	GetHistory(ctx context.Context, key string) (HistoryIterator, error)
	EmitEvent(ctx context.Context, name string, payload []byte) error
	MakeCompositeKey(list string, parts []string) (string, error)
}

// TxReceipt describes a transaction after the ledger accepted it.
type TxReceipt struct {
	TxID      string
	Timestamp time.Time
	Writes    int
	Events    []Event
}

// Ledger runs contract invocations. Implementations give fn a LedgerAccess
// scoped to one transaction and apply its writes only if fn returns nil.
type Ledger interface {
	RunInTransaction(ctx context.Context, fn func(LedgerAccess) error) (TxReceipt, error)
}

// Event is a named marker emitted by a committed transaction.
type Event struct {
	Name      string    `json:"name"`
	Payload   []byte    `json:"payload"`
	TxID      string    `json:"tx_id"`
	Timestamp time.Time `json:"timestamp"`
}

// EventPublisher receives committed events. Publishing never rolls back a commit.
type EventPublisher interface {
	Publish(ctx context.Context, event Event)
}

// EventPublisherFunc adapts a function to EventPublisher.
type EventPublisherFunc func(ctx context.Context, event Event)

// Publish implements EventPublisher.
func (f EventPublisherFunc) Publish(ctx context.Context, event Event) { f(ctx, event) }

// SliceRecordIterator iterates over an in-memory result set.
type SliceRecordIterator struct {
	items []KV
	pos   int
}

// NewSliceRecordIterator wraps items.
func NewSliceRecordIterator(items []KV) *SliceRecordIterator {
	return &SliceRecordIterator{items: items}
}

// HasNext implements RecordIterator.
func (it *SliceRecordIterator) HasNext() bool { return it.pos < len(it.items) }

// Next implements RecordIterator.
func (it *SliceRecordIterator) Next() (KV, error) {
	if !it.HasNext() {
		return KV{}, NewError(KindNotFound, "iterator exhausted")
	}
	kv := it.items[it.pos]
	it.pos++
	return kv, nil
}

// Close implements RecordIterator.
func (it *SliceRecordIterator) Close() error { return nil }

// SliceHistoryIterator iterates over an in-memory history.
type SliceHistoryIterator struct {
	items []KeyModification
	pos   int
}

// NewSliceHistoryIterator wraps items.
func NewSliceHistoryIterator(items []KeyModification) *SliceHistoryIterator {
	return &SliceHistoryIterator{items: items}
}

// HasNext implements HistoryIterator.
func (it *SliceHistoryIterator) HasNext() bool { return it.pos < len(it.items) }

// Next implements HistoryIterator.
func (it *SliceHistoryIterator) Next() (KeyModification, error) {
	if !it.HasNext() {
		return KeyModification{}, NewError(KindNotFound, "iterator exhausted")
	}
	m := it.items[it.pos]
	it.pos++
	return m, nil
}

// Close implements HistoryIterator.
func (it *SliceHistoryIterator) Close() error { return nil }
