// Package fabric adapts a Hyperledger Fabric chaincode stub to the ledger
// contracts. The peer owns ordering and commit: writes go straight to the
// stub's write set, which the peer discards when the invocation fails.
package fabric

import (
	"context"
	"fmt"
	"sort"

	"github.com/hyperledger/fabric-chaincode-go/shim"

	"bloodledger/internal/infra/ledger/selector"
	"bloodledger/pkg/domain"
)

var _ domain.Ledger = (*Ledger)(nil)

// QueryMode selects how selector queries are evaluated.
type QueryMode string

const (
	// QueryModeStateDB forwards selectors to the peer's state database (CouchDB).
	QueryModeStateDB QueryMode = "statedb"
	// QueryModeInProcess walks the list's composite key range and matches in
	// the chaincode, for peers whose state database is LevelDB.
	QueryModeInProcess QueryMode = "inprocess"
)

// ParseQueryMode accepts the names above; empty selects QueryModeStateDB.
func ParseQueryMode(s string) (QueryMode, error) {
	switch QueryMode(s) {
	case "", QueryModeStateDB:
		return QueryModeStateDB, nil
	case QueryModeInProcess:
		return QueryModeInProcess, nil
	default:
		return "", fmt.Errorf("unknown fabric query mode %q", s)
	}
}

// Ledger runs contract operations against one chaincode invocation.
type Ledger struct {
	stub shim.ChaincodeStubInterface
	mode QueryMode
}

// New wraps stub.
func New(stub shim.ChaincodeStubInterface, mode QueryMode) *Ledger {
	if mode == "" {
		mode = QueryModeStateDB
	}
	return &Ledger{stub: stub, mode: mode}
}

// RunInTransaction executes fn against the invocation's stub. The receipt
// carries the peer-assigned transaction ID and timestamp.
func (l *Ledger) RunInTransaction(_ context.Context, fn func(domain.LedgerAccess) error) (domain.TxReceipt, error) {
	tx := &access{stub: l.stub, mode: l.mode}
	if err := fn(tx); err != nil {
		return domain.TxReceipt{}, err
	}
	receipt := domain.TxReceipt{TxID: l.stub.GetTxID(), Writes: tx.writes}
	ts, err := l.stub.GetTxTimestamp()
	if err != nil {
		return domain.TxReceipt{}, domain.StorageError("read tx timestamp", err)
	}
	if ts != nil {
		receipt.Timestamp = ts.AsTime().UTC()
	}
	for _, ev := range tx.events {
		ev.TxID = receipt.TxID
		ev.Timestamp = receipt.Timestamp
		receipt.Events = append(receipt.Events, ev)
	}
	return receipt, nil
}

type access struct {
	stub   shim.ChaincodeStubInterface
	mode   QueryMode
	writes int
	events []domain.Event
}

func (a *access) PutRecord(_ context.Context, key string, value []byte) error {
	if err := a.stub.PutState(key, value); err != nil {
		return domain.StorageError("put state", err)
	}
	a.writes++
	return nil
}

func (a *access) GetRecord(_ context.Context, key string) ([]byte, error) {
	value, err := a.stub.GetState(key)
	if err != nil {
		return nil, domain.StorageError("get state", err)
	}
	return value, nil
}

func (a *access) QueryBySelector(_ context.Context, query string) (domain.RecordIterator, error) {
	if a.mode == QueryModeInProcess {
		return a.matchInProcess(query)
	}
	it, err := a.stub.GetQueryResult(query)
	if err != nil {
		return nil, domain.StorageError("query state", err)
	}
	return &stateIterator{it: it}, nil
}

// matchInProcess requires the query to be scoped to one list by an anchored
// key regex, as domain.ScopedQuery produces.
func (a *access) matchInProcess(query string) (domain.RecordIterator, error) {
	program, err := selector.Compile(query)
	if err != nil {
		return nil, domain.StorageError("compile query", err)
	}
	list, _, err := domain.SplitCompositeKey(program.KeyPrefix())
	if err != nil {
		return nil, domain.StorageError("query state", fmt.Errorf("query is not scoped to a list: %w", err))
	}
	it, err := a.stub.GetStateByPartialCompositeKey(list, []string{})
	if err != nil {
		return nil, domain.StorageError("query state", err)
	}
	defer func() { _ = it.Close() }()
	var matches []domain.KV
	for it.HasNext() {
		kv, err := it.Next()
		if err != nil {
			return nil, domain.StorageError("query state", err)
		}
		ok, err := program.Match(kv.Key, kv.Value)
		if err != nil {
			return nil, domain.StorageError("evaluate query", err)
		}
		if ok {
			matches = append(matches, domain.KV{Key: kv.Key, Value: kv.Value})
		}
	}
	return domain.NewSliceRecordIterator(matches), nil
}

// GetHistory drains the peer's history iterator and returns the versions
// oldest first, whatever order the peer produced them in.
func (a *access) GetHistory(_ context.Context, key string) (domain.HistoryIterator, error) {
	it, err := a.stub.GetHistoryForKey(key)
	if err != nil {
		return nil, domain.StorageError("get history", err)
	}
	defer func() { _ = it.Close() }()
	var versions []domain.KeyModification
	for it.HasNext() {
		m, err := it.Next()
		if err != nil {
			return nil, domain.StorageError("next history entry", err)
		}
		v := domain.KeyModification{TxID: m.TxId, IsDelete: m.IsDelete, Value: m.Value}
		if m.Timestamp != nil {
			v.Timestamp = m.Timestamp.AsTime().UTC()
		}
		versions = append(versions, v)
	}
	sort.SliceStable(versions, func(i, j int) bool { return versions[i].Timestamp.Before(versions[j].Timestamp) })
	return domain.NewSliceHistoryIterator(versions), nil
}

// EmitEvent sets the invocation's chaincode event. Fabric keeps only the last
// event set by a transaction.
func (a *access) EmitEvent(_ context.Context, name string, payload []byte) error {
	if err := a.stub.SetEvent(name, payload); err != nil {
		return domain.StorageError("set event", err)
	}
	a.events = []domain.Event{{Name: name, Payload: append([]byte(nil), payload...)}}
	return nil
}

func (a *access) MakeCompositeKey(list string, parts []string) (string, error) {
	key, err := a.stub.CreateCompositeKey(list, parts)
	if err != nil {
		return "", domain.NewError(domain.KindInvalidAttribute, err.Error())
	}
	return key, nil
}

type stateIterator struct {
	it shim.StateQueryIteratorInterface
}

func (s *stateIterator) HasNext() bool { return s.it.HasNext() }

func (s *stateIterator) Next() (domain.KV, error) {
	kv, err := s.it.Next()
	if err != nil {
		return domain.KV{}, domain.StorageError("next result", err)
	}
	return domain.KV{Key: kv.Key, Value: kv.Value}, nil
}

func (s *stateIterator) Close() error { return s.it.Close() }
