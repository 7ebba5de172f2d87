// Package ledger implements the transaction model shared by the local ledger
// adapters. A Runner buffers the writes and events of one invocation and
// hands them to a Backend only when the invocation succeeds, mirroring how a
// peer endorses and then commits chaincode output.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"bloodledger/internal/infra/ledger/selector"
	"bloodledger/pkg/domain"
)

// Write is one buffered mutation.
type Write struct {
	Key    string
	Value  []byte
	Delete bool
}

// CommitSet is everything a successful transaction asks the backend to apply.
type CommitSet struct {
	TxID      string
	Timestamp time.Time
	Writes    []Write
}

// Backend is the storage engine behind a Runner. Implementations only see
// committed state; the Runner owns buffering and ordering.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// Scan returns committed entries that may match p, in any order. Returning
	// a superset is allowed: the Runner filters with p.Match.
	Scan(ctx context.Context, p *selector.Program) ([]domain.KV, error)
	// History returns every version of key, oldest first.
	History(ctx context.Context, key string) ([]domain.KeyModification, error)
	// Commit applies set atomically and appends one history entry per write.
	Commit(ctx context.Context, set CommitSet) error
}

// Option configures a Runner.
type Option func(*Runner)

// WithPublisher delivers committed events to p.
func WithPublisher(p domain.EventPublisher) Option {
	return func(r *Runner) {
		if p != nil {
			r.publisher = p
		}
	}
}

// WithClock overrides the transaction timestamp source.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// WithTxIDs overrides transaction ID generation.
func WithTxIDs(next func() string) Option {
	return func(r *Runner) {
		if next != nil {
			r.nextID = next
		}
	}
}

// WithCompiler sets the selector compiler used for rich queries.
func WithCompiler(c *selector.Compiler) Option {
	return func(r *Runner) {
		if c != nil {
			r.compile = c.Compile
		}
	}
}

// Runner implements domain.Ledger over a Backend. Transactions are
// serialized so that guard checks and the writes they protect cannot
// interleave with another invocation in the same process.
type Runner struct {
	backend   Backend
	publisher domain.EventPublisher
	now       func() time.Time
	nextID    func() string
	compile   func(string) (*selector.Program, error)
	mu        sync.Mutex
}

var _ domain.Ledger = (*Runner)(nil)

// NewRunner wraps backend.
func NewRunner(backend Backend, opts ...Option) *Runner {
	r := &Runner{
		backend:   backend,
		publisher: domain.EventPublisherFunc(func(context.Context, domain.Event) {}),
		now:       time.Now,
		nextID:    uuid.NewString,
		compile:   selector.Compile,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Backend returns the wrapped storage engine.
func (r *Runner) Backend() Backend { return r.backend }

// RunInTransaction executes fn against a buffered view of the ledger and
// commits its writes only when fn returns nil.
func (r *Runner) RunInTransaction(ctx context.Context, fn func(domain.LedgerAccess) error) (domain.TxReceipt, error) {
	tx, err := r.execute(ctx, fn)
	if err != nil {
		return domain.TxReceipt{}, err
	}
	receipt := domain.TxReceipt{
		TxID:      tx.txID,
		Timestamp: tx.timestamp,
		Writes:    len(tx.writes),
		Events:    tx.events,
	}
	for _, ev := range tx.events {
		r.publisher.Publish(ctx, ev)
	}
	return receipt, nil
}

// execute runs fn and commits under the runner lock. The lock is released
// even when fn panics.
func (r *Runner) execute(ctx context.Context, fn func(domain.LedgerAccess) error) (*access, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx := &access{
		runner:    r,
		txID:      r.nextID(),
		timestamp: r.now().UTC(),
	}
	if err := fn(tx); err != nil {
		return nil, err
	}
	if err := r.commit(ctx, tx.txID, tx.timestamp, tx.writes); err != nil {
		return nil, err
	}
	return tx, nil
}

// Delete commits a tombstone for key in a transaction of its own.
func (r *Runner) Delete(ctx context.Context, key string) (domain.TxReceipt, error) {
	if key == "" {
		return domain.TxReceipt{}, domain.NewError(domain.KindInvalidAttribute, "key must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	txID, ts := r.nextID(), r.now().UTC()
	if err := r.commit(ctx, txID, ts, []Write{{Key: key, Delete: true}}); err != nil {
		return domain.TxReceipt{}, err
	}
	return domain.TxReceipt{TxID: txID, Timestamp: ts, Writes: 1}, nil
}

func (r *Runner) commit(ctx context.Context, txID string, ts time.Time, writes []Write) error {
	if len(writes) == 0 {
		return nil
	}
	if err := r.backend.Commit(ctx, CommitSet{TxID: txID, Timestamp: ts, Writes: writes}); err != nil {
		return domain.StorageError("commit "+txID, err)
	}
	return nil
}

// access is the LedgerAccess handed to one transaction. Reads observe
// committed state only.
type access struct {
	runner    *Runner
	txID      string
	timestamp time.Time
	writes    []Write
	events    []domain.Event
}

func (a *access) PutRecord(_ context.Context, key string, value []byte) error {
	if key == "" {
		return domain.NewError(domain.KindInvalidAttribute, "key must not be empty")
	}
	cp := append([]byte{}, value...)
	for i := range a.writes {
		if a.writes[i].Key == key {
			a.writes[i] = Write{Key: key, Value: cp}
			return nil
		}
	}
	a.writes = append(a.writes, Write{Key: key, Value: cp})
	return nil
}

func (a *access) GetRecord(ctx context.Context, key string) ([]byte, error) {
	value, err := a.runner.backend.Get(ctx, key)
	if err != nil {
		return nil, domain.StorageError("get state", err)
	}
	return value, nil
}

func (a *access) QueryBySelector(ctx context.Context, query string) (domain.RecordIterator, error) {
	program, err := a.runner.compile(query)
	if err != nil {
		return nil, domain.StorageError("compile query", err)
	}
	candidates, err := a.runner.backend.Scan(ctx, program)
	if err != nil {
		return nil, domain.StorageError("scan state", err)
	}
	matches := make([]domain.KV, 0, len(candidates))
	for _, kv := range candidates {
		ok, err := program.Match(kv.Key, kv.Value)
		if err != nil {
			return nil, domain.StorageError("evaluate query", err)
		}
		if ok {
			matches = append(matches, kv)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Key < matches[j].Key })
	return domain.NewSliceRecordIterator(matches), nil
}

func (a *access) GetHistory(ctx context.Context, key string) (domain.HistoryIterator, error) {
	history, err := a.runner.backend.History(ctx, key)
	if err != nil {
		return nil, domain.StorageError("get history", err)
	}
	return domain.NewSliceHistoryIterator(history), nil
}

func (a *access) EmitEvent(_ context.Context, name string, payload []byte) error {
	if name == "" {
		return domain.NewError(domain.KindInvalidAttribute, "event name must not be empty")
	}
	a.events = append(a.events, domain.Event{
		Name:      name,
		Payload:   append([]byte(nil), payload...),
		TxID:      a.txID,
		Timestamp: a.timestamp,
	})
	return nil
}

func (a *access) MakeCompositeKey(list string, parts []string) (string, error) {
	return domain.CreateCompositeKey(list, parts)
}

// ErrClosed is returned by backends used after Close.
var ErrClosed = errors.New("ledger closed")

// PrefixEnd returns the smallest key greater than every key starting with
// prefix, or "" when no such bound exists.
func PrefixEnd(prefix string) string {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1])
		}
	}
	return ""
}

// DecodeErr annotates backend decoding failures with the offending key.
func DecodeErr(key string, err error) error {
	return fmt.Errorf("decode %q: %w", key, err)
}
