package fabric

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hyperledger/fabric-chaincode-go/shim"
	"github.com/hyperledger/fabric-chaincode-go/shimtest"
	"github.com/hyperledger/fabric-protos-go/ledger/queryresult"
	"google.golang.org/protobuf/types/known/timestamppb"

	"bloodledger/pkg/domain"
)

func newStub(t *testing.T) *shimtest.MockStub {
	t.Helper()
	return shimtest.NewMockStub("bloodledger", nil)
}

func TestRunInTransactionUsesPeerIdentity(t *testing.T) {
	ctx := context.Background()
	stub := newStub(t)
	stub.MockTransactionStart("tx-peer-1")
	defer stub.MockTransactionEnd("tx-peer-1")

	l := New(stub, "")
	key, _ := domain.CreateCompositeKey(domain.ListBloodUnits, []string{"d1", "BD1"})
	receipt, err := l.RunInTransaction(ctx, func(tx domain.LedgerAccess) error {
		if err := tx.PutRecord(ctx, key, []byte(`{"class":"org.blood"}`)); err != nil {
			return err
		}
		return tx.EmitEvent(ctx, domain.EventUsed, []byte("d1:BD1"))
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	if receipt.TxID != "tx-peer-1" || receipt.Timestamp.IsZero() || receipt.Writes != 1 {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
	if len(receipt.Events) != 1 || receipt.Events[0].TxID != "tx-peer-1" {
		t.Fatalf("unexpected events %+v", receipt.Events)
	}
	if string(stub.State[key]) != `{"class":"org.blood"}` {
		t.Fatalf("expected write in stub state, got %q", stub.State[key])
	}
	select {
	case ev := <-stub.ChaincodeEventsChannel:
		if ev.EventName != domain.EventUsed || string(ev.Payload) != "d1:BD1" {
			t.Fatalf("unexpected chaincode event %+v", ev)
		}
	default:
		t.Fatalf("expected chaincode event")
	}
}

func TestCompositeKeysMatchShim(t *testing.T) {
	stub := newStub(t)
	tx := &access{stub: stub}
	got, err := tx.MakeCompositeKey(domain.ListProcesses, []string{"P1", "donate"})
	if err != nil {
		t.Fatalf("composite key: %v", err)
	}
	want, _ := domain.CreateCompositeKey(domain.ListProcesses, []string{"P1", "donate"})
	if got != want {
		t.Fatalf("shim key %q differs from domain key %q", got, want)
	}
	if _, err := tx.MakeCompositeKey(domain.ListProcesses, []string{"P\x001"}); !errors.Is(err, domain.ErrInvalidAttribute) {
		t.Fatalf("expected invalid attribute, got %v", err)
	}
}

func TestInProcessQueryScansListRange(t *testing.T) {
	ctx := context.Background()
	stub := newStub(t)
	stub.MockTransactionStart("seed")
	put := func(list string, parts []string, value string) string {
		key, _ := stub.CreateCompositeKey(list, parts)
		if err := stub.PutState(key, []byte(value)); err != nil {
			t.Fatalf("seed: %v", err)
		}
		return key
	}
	b2 := put(domain.ListBloodUnits, []string{"d2", "BD2"}, `{"type":"A+"}`)
	b1 := put(domain.ListBloodUnits, []string{"d1", "BD1"}, `{"type":"A+"}`)
	put(domain.ListBloodUnits, []string{"d3", "BD3"}, `{"type":"O-"}`)
	put(domain.ListProcesses, []string{"P1", "donate"}, `{"type":"A+"}`)
	stub.MockTransactionEnd("seed")

	stub.MockTransactionStart("query")
	defer stub.MockTransactionEnd("query")
	query, _ := domain.ScopedQuery(domain.ListBloodUnits, domain.Selector{"type": "A+"})
	var keys []string
	_, err := New(stub, QueryModeInProcess).RunInTransaction(ctx, func(tx domain.LedgerAccess) error {
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
	if len(keys) != 2 || keys[0] != b1 || keys[1] != b2 {
		t.Fatalf("expected d1, d2 blood units in key order, got %q", keys)
	}
}

func TestInProcessQueryRequiresListScope(t *testing.T) {
	ctx := context.Background()
	stub := newStub(t)
	stub.MockTransactionStart("q")
	defer stub.MockTransactionEnd("q")
	_, err := New(stub, QueryModeInProcess).RunInTransaction(ctx, func(tx domain.LedgerAccess) error {
		_, err := tx.QueryBySelector(ctx, `{"selector":{"type":"A+"}}`)
		return err
	})
	if !errors.Is(err, domain.ErrStorageFailure) {
		t.Fatalf("expected storage failure, got %v", err)
	}
}

func TestStateDBFailuresSurfaceAsStorageErrors(t *testing.T) {
	ctx := context.Background()
	stub := newStub(t)
	stub.MockTransactionStart("q")
	defer stub.MockTransactionEnd("q")
	_, err := New(stub, QueryModeStateDB).RunInTransaction(ctx, func(tx domain.LedgerAccess) error {
		_, err := tx.QueryBySelector(ctx, `{"selector":{}}`)
		return err
	})
	if !errors.Is(err, domain.ErrStorageFailure) {
		t.Fatalf("expected storage failure from mock query engine, got %v", err)
	}
}

// historyStub serves a fixed history, newest first, the way a peer does.
type historyStub struct {
	*shimtest.MockStub
	versions []*queryresult.KeyModification
}

func (h *historyStub) GetHistoryForKey(string) (shim.HistoryQueryIteratorInterface, error) {
	return &fixedHistory{items: h.versions}, nil
}

type fixedHistory struct {
	items []*queryresult.KeyModification
	pos   int
}

func (f *fixedHistory) HasNext() bool { return f.pos < len(f.items) }
func (f *fixedHistory) Close() error  { return nil }

func (f *fixedHistory) Next() (*queryresult.KeyModification, error) {
	m := f.items[f.pos]
	f.pos++
	return m, nil
}

func TestHistoryReturnedOldestFirst(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2021, 2, 19, 8, 0, 0, 0, time.UTC)
	stub := &historyStub{
		MockStub: newStub(t),
		versions: []*queryresult.KeyModification{
			{TxId: "tx-3", Timestamp: timestamppb.New(base.Add(2 * time.Hour)), IsDelete: true},
			{TxId: "tx-2", Timestamp: timestamppb.New(base.Add(time.Hour)), Value: []byte(`{"v":2}`)},
			{TxId: "tx-1", Timestamp: timestamppb.New(base), Value: []byte(`{"v":1}`)},
		},
	}
	stub.MockTransactionStart("h")
	defer stub.MockTransactionEnd("h")
	var got []domain.KeyModification
	_, err := New(stub, "").RunInTransaction(ctx, func(tx domain.LedgerAccess) error {
		it, err := tx.GetHistory(ctx, "k")
		if err != nil {
			return err
		}
		defer it.Close()
		for it.HasNext() {
			m, err := it.Next()
			if err != nil {
				return err
			}
			got = append(got, m)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(got) != 3 || got[0].TxID != "tx-1" || got[2].TxID != "tx-3" || !got[2].IsDelete {
		t.Fatalf("unexpected order %+v", got)
	}
	if !got[0].Timestamp.Equal(base) {
		t.Fatalf("unexpected timestamp %v", got[0].Timestamp)
	}
}

func TestParseQueryMode(t *testing.T) {
	for in, want := range map[string]QueryMode{"": QueryModeStateDB, "statedb": QueryModeStateDB, "inprocess": QueryModeInProcess} {
		got, err := ParseQueryMode(in)
		if err != nil || got != want {
			t.Fatalf("ParseQueryMode(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseQueryMode("couch"); err == nil {
		t.Fatalf("expected unknown mode error")
	}
}
