// Package ledgertest holds the behaviour every local ledger adapter must share.
package ledgertest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"bloodledger/internal/infra/ledger"
	"bloodledger/pkg/domain"
)

// Factory opens a fresh, empty ledger configured with opts.
type Factory func(t *testing.T, opts ...ledger.Option) domain.Ledger

// Sequence returns deterministic transaction IDs tx-1, tx-2, ...
func Sequence() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("tx-%d", n)
	}
}

// Ticker returns a clock advancing one second per call from start.
func Ticker(start time.Time) func() time.Time {
	var mu sync.Mutex
	next := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now := next
		next = next.Add(time.Second)
		return now
	}
}

// Recorder collects published events.
type Recorder struct {
	mu     sync.Mutex
	Events []domain.Event
}

// Publish implements domain.EventPublisher.
func (r *Recorder) Publish(_ context.Context, ev domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, ev)
}

// Snapshot returns a copy of the recorded events.
func (r *Recorder) Snapshot() []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Event(nil), r.Events...)
}

// Run exercises open against the shared ledger contract.
func Run(t *testing.T, open Factory) {
	t.Run("commit and read", func(t *testing.T) { testCommitAndRead(t, open) })
	t.Run("rollback on error", func(t *testing.T) { testRollback(t, open) })
	t.Run("history", func(t *testing.T) { testHistory(t, open) })
	t.Run("selector queries", func(t *testing.T) { testQueries(t, open) })
	t.Run("events", func(t *testing.T) { testEvents(t, open) })
	t.Run("empty value", func(t *testing.T) { testEmptyValue(t, open) })
}

func key(t *testing.T, list string, parts ...string) string {
	t.Helper()
	k, err := domain.CreateCompositeKey(list, parts)
	if err != nil {
		t.Fatalf("composite key: %v", err)
	}
	return k
}

func put(t *testing.T, l domain.Ledger, entries ...domain.KV) domain.TxReceipt {
	t.Helper()
	ctx := context.Background()
	receipt, err := l.RunInTransaction(ctx, func(tx domain.LedgerAccess) error {
		for _, kv := range entries {
			if err := tx.PutRecord(ctx, kv.Key, kv.Value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	return receipt
}

func get(t *testing.T, l domain.Ledger, k string) []byte {
	t.Helper()
	ctx := context.Background()
	var out []byte
	_, err := l.RunInTransaction(ctx, func(tx domain.LedgerAccess) error {
		v, err := tx.GetRecord(ctx, k)
		out = v
		return err
	})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	return out
}

func testCommitAndRead(t *testing.T, open Factory) {
	l := open(t)
	ctx := context.Background()
	k := key(t, domain.ListBloodUnits, "d1", "BD1")

	if v := get(t, l, k); v != nil {
		t.Fatalf("expected absent key to read as nil, got %q", v)
	}
	_, err := l.RunInTransaction(ctx, func(tx domain.LedgerAccess) error {
		if err := tx.PutRecord(ctx, k, []byte(`{"v":1}`)); err != nil {
			return err
		}
		v, err := tx.GetRecord(ctx, k)
		if err != nil {
			return err
		}
		if v != nil {
			return fmt.Errorf("write visible before commit: %q", v)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	if v := get(t, l, k); string(v) != `{"v":1}` {
		t.Fatalf("expected committed value, got %q", v)
	}
	put(t, l, domain.KV{Key: k, Value: []byte(`{"v":2}`)})
	if v := get(t, l, k); string(v) != `{"v":2}` {
		t.Fatalf("expected overwrite, got %q", v)
	}
}

// testEmptyValue checks that a committed empty value reads as present.
func testEmptyValue(t *testing.T, open Factory) {
	l := open(t)
	k := key(t, domain.ListBloodUnits, "d1", "EMPTY")
	put(t, l, domain.KV{Key: k, Value: []byte{}})
	v := get(t, l, k)
	if v == nil || len(v) != 0 {
		t.Fatalf("expected a present empty value, got %#v", v)
	}
}

func testRollback(t *testing.T, open Factory) {
	rec := &Recorder{}
	l := open(t, ledger.WithPublisher(rec))
	ctx := context.Background()
	k := key(t, domain.ListBloodUnits, "d1", "BD1")
	boom := errors.New("guard failed")

	_, err := l.RunInTransaction(ctx, func(tx domain.LedgerAccess) error {
		if err := tx.PutRecord(ctx, k, []byte(`{"v":1}`)); err != nil {
			return err
		}
		if err := tx.EmitEvent(ctx, "X", nil); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error to propagate, got %v", err)
	}
	if v := get(t, l, k); v != nil {
		t.Fatalf("expected no partial write, got %q", v)
	}
	if got := rec.Snapshot(); len(got) != 0 {
		t.Fatalf("expected no events from failed transaction, got %v", got)
	}
}

func testHistory(t *testing.T, open Factory) {
	start := time.Date(2021, 2, 19, 8, 0, 0, 0, time.UTC)
	l := open(t, ledger.WithTxIDs(Sequence()), ledger.WithClock(Ticker(start)))
	ctx := context.Background()
	k := key(t, domain.ListBloodUnits, "d1", "BD1")
	other := key(t, domain.ListBloodUnits, "d1", "BD10")

	put(t, l, domain.KV{Key: k, Value: []byte(`{"v":1}`)})
	put(t, l, domain.KV{Key: other, Value: []byte(`{"v":"other"}`)})
	put(t, l, domain.KV{Key: k, Value: []byte(`{"v":2}`)})

	var history []domain.KeyModification
	_, err := l.RunInTransaction(ctx, func(tx domain.LedgerAccess) error {
		it, err := tx.GetHistory(ctx, k)
		if err != nil {
			return err
		}
		defer it.Close()
		for it.HasNext() {
			m, err := it.Next()
			if err != nil {
				return err
			}
			history = append(history, m)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected two versions, got %d", len(history))
	}
	if history[0].TxID != "tx-1" || history[1].TxID != "tx-3" {
		t.Fatalf("expected oldest first, got %s then %s", history[0].TxID, history[1].TxID)
	}
	if string(history[0].Value) != `{"v":1}` || string(history[1].Value) != `{"v":2}` {
		t.Fatalf("unexpected values %q %q", history[0].Value, history[1].Value)
	}
	if !history[0].Timestamp.Equal(start) || !history[1].Timestamp.Equal(start.Add(2*time.Second)) {
		t.Fatalf("unexpected timestamps %v %v", history[0].Timestamp, history[1].Timestamp)
	}
	if history[0].IsDelete {
		t.Fatalf("unexpected tombstone")
	}

	var empty int
	_, err = l.RunInTransaction(ctx, func(tx domain.LedgerAccess) error {
		it, err := tx.GetHistory(ctx, key(t, domain.ListBloodUnits, "d9", "none"))
		if err != nil {
			return err
		}
		defer it.Close()
		for it.HasNext() {
			empty++
			if _, err := it.Next(); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil || empty != 0 {
		t.Fatalf("expected empty history, got %d (%v)", empty, err)
	}
}

func testQueries(t *testing.T, open Factory) {
	l := open(t)
	ctx := context.Background()
	b2 := key(t, domain.ListBloodUnits, "d2", "BD2")
	b1 := key(t, domain.ListBloodUnits, "d1", "BD1")
	b3 := key(t, domain.ListBloodUnits, "d3", "BD3")
	p1 := key(t, domain.ListProcesses, "P1", "donate")
	put(t, l,
		domain.KV{Key: b2, Value: []byte(`{"type":"A+","donorID":"d2"}`)},
		domain.KV{Key: b1, Value: []byte(`{"type":"A+","donorID":"d1"}`)},
		domain.KV{Key: b3, Value: []byte(`{"type":"O-","donorID":"d3"}`)},
		domain.KV{Key: p1, Value: []byte(`{"type":"A+"}`)},
	)

	run := func(list string, sel domain.Selector) []string {
		t.Helper()
		query, err := domain.ScopedQuery(list, sel)
		if err != nil {
			t.Fatalf("scoped query: %v", err)
		}
		var keys []string
		_, err = l.RunInTransaction(ctx, func(tx domain.LedgerAccess) error {
			it, err := tx.QueryBySelector(ctx, query)
			if err != nil {
				return err
			}
			defer it.Close()
			for it.HasNext() {
				kv, err := it.Next()
				if err != nil {
					return err
				}
				keys = append(keys, kv.Key)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		return keys
	}

	got := run(domain.ListBloodUnits, domain.Selector{"type": "A+"})
	if len(got) != 2 || got[0] != b1 || got[1] != b2 {
		t.Fatalf("expected blood units d1, d2 in key order, got %q", got)
	}
	if got := run(domain.ListBloodUnits, nil); len(got) != 3 {
		t.Fatalf("expected every blood unit, got %q", got)
	}
	if got := run(domain.ListProcesses, domain.Selector{"type": "A+"}); len(got) != 1 || got[0] != p1 {
		t.Fatalf("expected process list only, got %q", got)
	}
	if got := run(domain.ListBloodUnits, domain.Selector{"type": "AB+"}); len(got) != 0 {
		t.Fatalf("expected no match, got %q", got)
	}
}

func testEvents(t *testing.T, open Factory) {
	rec := &Recorder{}
	l := open(t, ledger.WithPublisher(rec), ledger.WithTxIDs(Sequence()))
	ctx := context.Background()
	k := key(t, domain.ListBloodUnits, "d1", "BD1")

	receipt, err := l.RunInTransaction(ctx, func(tx domain.LedgerAccess) error {
		if err := tx.PutRecord(ctx, k, []byte(`{}`)); err != nil {
			return err
		}
		return tx.EmitEvent(ctx, domain.EventDelivered, []byte("payload"))
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	events := rec.Snapshot()
	if len(events) != 1 || len(receipt.Events) != 1 {
		t.Fatalf("expected one event, got %d published / %d in receipt", len(events), len(receipt.Events))
	}
	ev := events[0]
	if ev.Name != domain.EventDelivered || string(ev.Payload) != "payload" || ev.TxID != receipt.TxID || ev.TxID != "tx-1" {
		t.Fatalf("unexpected event %+v", ev)
	}
	if receipt.Writes != 1 {
		t.Fatalf("expected one write, got %d", receipt.Writes)
	}
}
