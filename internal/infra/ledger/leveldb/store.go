// Package leveldb provides a ledger stored in a LevelDB directory. Keys are
// partitioned by a one byte pool prefix: world state, key history and counters.
package leveldb

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"bloodledger/internal/infra/ledger"
	"bloodledger/internal/infra/ledger/selector"
	"bloodledger/pkg/domain"
)

// DefaultPath is used when NewStore is given an empty path.
const DefaultPath = "bloodledger.leveldb"

const (
	poolState   byte = 's'
	poolHistory byte = 'h'
	poolMeta    byte = 'm'
)

var sequenceKey = []byte{poolMeta, 's', 'e', 'q'}

var (
	_ domain.Ledger  = (*Store)(nil)
	_ ledger.Backend = (*backend)(nil)
)

// Store is a ledger persisted in LevelDB.
type Store struct {
	*ledger.Runner
	db *leveldb.DB
}

// NewStore opens (creating if needed) the database directory at path.
func NewStore(path string, opts ...ledger.Option) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb: %w", err)
	}
	b := &backend{db: db}
	if err := b.loadSequence(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{Runner: ledger.NewRunner(b, opts...), db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error { return s.db.Close() }

type backend struct {
	db  *leveldb.DB
	mu  sync.Mutex
	seq uint64
}

// historyRecord is the persisted form of one key version.
type historyRecord struct {
	TxID      string `json:"tx_id"`
	Timestamp int64  `json:"ts"`
	IsDelete  bool   `json:"is_delete,omitempty"`
	Value     []byte `json:"value,omitempty"`
}

func stateKey(key string) []byte {
	out := make([]byte, 0, len(key)+1)
	out = append(out, poolState)
	return append(out, key...)
}

// historyPrefix length-prefixes key so one key's scan never reaches a longer
// key sharing its bytes.
func historyPrefix(key string) []byte {
	out := make([]byte, 5, len(key)+13)
	out[0] = poolHistory
	binary.BigEndian.PutUint32(out[1:5], uint32(len(key)))
	return append(out, key...)
}

func historyKey(key string, seq uint64) []byte {
	return binary.BigEndian.AppendUint64(historyPrefix(key), seq)
}

func (b *backend) loadSequence() error {
	raw, err := b.db.Get(sequenceKey, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read sequence: %w", err)
	}
	if len(raw) != 8 {
		return fmt.Errorf("read sequence: corrupt counter of %d bytes", len(raw))
	}
	b.seq = binary.BigEndian.Uint64(raw)
	return nil
}

func (b *backend) Get(_ context.Context, key string) ([]byte, error) {
	value, err := b.db.Get(stateKey(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if value == nil {
		value = []byte{}
	}
	return value, nil
}

func (b *backend) Scan(_ context.Context, p *selector.Program) ([]domain.KV, error) {
	iter := b.db.NewIterator(util.BytesPrefix(stateKey(p.KeyPrefix())), nil)
	defer iter.Release()
	var out []domain.KV
	for iter.Next() {
		// iterator buffers are only valid until the next call to Next
		key := iter.Key()
		value := make([]byte, len(iter.Value()))
		copy(value, iter.Value())
		out = append(out, domain.KV{Key: string(key[1:]), Value: value})
	}
	return out, iter.Error()
}

func (b *backend) History(_ context.Context, key string) ([]domain.KeyModification, error) {
	iter := b.db.NewIterator(util.BytesPrefix(historyPrefix(key)), nil)
	defer iter.Release()
	var out []domain.KeyModification
	for iter.Next() {
		var rec historyRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return nil, ledger.DecodeErr(key, err)
		}
		out = append(out, domain.KeyModification{
			TxID:      rec.TxID,
			Timestamp: time.Unix(0, rec.Timestamp).UTC(),
			IsDelete:  rec.IsDelete,
			Value:     rec.Value,
		})
	}
	return out, iter.Error()
}

func (b *backend) Commit(_ context.Context, set ledger.CommitSet) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	batch := new(leveldb.Batch)
	seq := b.seq
	for _, w := range set.Writes {
		seq++
		rec := historyRecord{TxID: set.TxID, Timestamp: set.Timestamp.UnixNano(), IsDelete: w.Delete}
		if w.Delete {
			batch.Delete(stateKey(w.Key))
		} else {
			batch.Put(stateKey(w.Key), w.Value)
			rec.Value = w.Value
		}
		encoded, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode history %q: %w", w.Key, err)
		}
		batch.Put(historyKey(w.Key, seq), encoded)
	}
	batch.Put(sequenceKey, binary.BigEndian.AppendUint64(nil, seq))
	if err := b.db.Write(batch, nil); err != nil {
		return err
	}
	b.seq = seq
	return nil
}
