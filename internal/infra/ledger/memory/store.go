// Package memory provides an in-memory ledger used for tests and ephemeral
// environments.
package memory

import (
	"context"
	"strings"
	"sync"

	"bloodledger/internal/infra/ledger"
	"bloodledger/internal/infra/ledger/selector"
	"bloodledger/pkg/domain"
)

var (
	_ domain.Ledger  = (*Store)(nil)
	_ ledger.Backend = (*backend)(nil)
)

// Store is an in-memory ledger. World state and history live for the life of
// the process.
type Store struct {
	*ledger.Runner
	state *backend
}

// NewStore constructs an empty ledger.
func NewStore(opts ...ledger.Option) *Store {
	b := &backend{
		state:   make(map[string][]byte),
		history: make(map[string][]domain.KeyModification),
	}
	return &Store{Runner: ledger.NewRunner(b, opts...), state: b}
}

// Delete records a tombstone for key. Contract operations never delete; this
// exists so history consumers can be exercised against deleted keys.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.Runner.Delete(ctx, key)
	return err
}

// Corrupt overwrites key with raw bytes outside of any contract operation,
// leaving a history entry like any other write.
func (s *Store) Corrupt(ctx context.Context, key string, raw []byte) error {
	_, err := s.RunInTransaction(ctx, func(tx domain.LedgerAccess) error {
		return tx.PutRecord(ctx, key, raw)
	})
	return err
}

// Len reports the number of live keys.
func (s *Store) Len() int {
	s.state.mu.RLock()
	defer s.state.mu.RUnlock()
	return len(s.state.state)
}

type backend struct {
	mu      sync.RWMutex
	state   map[string][]byte
	history map[string][]domain.KeyModification
}

func (b *backend) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	value, ok := b.state[key]
	if !ok {
		return nil, nil
	}
	return append([]byte{}, value...), nil
}

func (b *backend) Scan(_ context.Context, p *selector.Program) ([]domain.KV, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	prefix := p.KeyPrefix()
	out := make([]domain.KV, 0, len(b.state))
	for key, value := range b.state {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		out = append(out, domain.KV{Key: key, Value: append([]byte{}, value...)})
	}
	return out, nil
}

func (b *backend) History(_ context.Context, key string) ([]domain.KeyModification, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	versions := b.history[key]
	out := make([]domain.KeyModification, len(versions))
	for i, m := range versions {
		m.Value = append([]byte(nil), m.Value...)
		out[i] = m
	}
	return out, nil
}

func (b *backend) Commit(_ context.Context, set ledger.CommitSet) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, w := range set.Writes {
		mod := domain.KeyModification{TxID: set.TxID, Timestamp: set.Timestamp, IsDelete: w.Delete}
		if w.Delete {
			delete(b.state, w.Key)
		} else {
			b.state[w.Key] = w.Value
			mod.Value = w.Value
		}
		b.history[w.Key] = append(b.history[w.Key], mod)
	}
	return nil
}
