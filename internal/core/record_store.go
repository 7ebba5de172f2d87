package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bloodledger/pkg/domain"
)

// RecordStore is a named partition of the ledger key space. It owns no data:
// it composes keys for its list and maps stored type tags back to concrete
// records. A RecordStore is scoped to one transaction and must not be reused
// across invocations.
type RecordStore struct {
	access   domain.LedgerAccess
	list     string
	decoders map[string]domain.Decoder
}

// HistoryEntry is one historical version of a record. Deletes carry a nil
// Value. When a stored version cannot be decoded the entry is Degraded: Value
// is nil, Raw holds the stored bytes and DecodeError explains the failure.
type HistoryEntry struct {
	TxID        string        `json:"txId"`
	Timestamp   time.Time     `json:"timestamp"`
	IsDelete    bool          `json:"isDelete"`
	Value       domain.Record `json:"value,omitempty"`
	Raw         []byte        `json:"raw,omitempty"`
	Degraded    bool          `json:"degraded,omitempty"`
	DecodeError string        `json:"decodeError,omitempty"`
}

// NewRecordStore scopes a store to list within the transaction behind access.
func NewRecordStore(access domain.LedgerAccess, list string) *RecordStore {
	return &RecordStore{
		access:   access,
		list:     list,
		decoders: make(map[string]domain.Decoder),
	}
}

// List returns the list name keys are composed under.
func (s *RecordStore) List() string { return s.list }

// Use registers the decoder for class. Register every type the list may hold
// before reading from it.
func (s *RecordStore) Use(class string, dec domain.Decoder) {
	s.decoders[class] = dec
}

func (s *RecordStore) key(parts []string) (string, error) {
	key, err := s.access.MakeCompositeKey(s.list, parts)
	if err != nil {
		if domain.KindOf(err) != "" {
			return "", err
		}
		return "", domain.NewError(domain.KindInvalidAttribute, err.Error())
	}
	return key, nil
}

// Put writes r under the key derived from its key parts. Existing values are
// overwritten; concurrent writers are left to the ledger.
func (s *RecordStore) Put(ctx context.Context, r domain.Record) error {
	if r == nil {
		return domain.NewError(domain.KindInvalidAttribute, "cannot store nil record")
	}
	key, err := s.key(r.SplitKey())
	if err != nil {
		return err
	}
	data, err := domain.Serialize(r)
	if err != nil {
		return err
	}
	if err := s.access.PutRecord(ctx, key, data); err != nil {
		return domain.StorageError("put "+domain.MakeLogicalKey(r.SplitKey()), err)
	}
	return nil
}

// Get reads the record stored under parts. A missing key is reported as
// (nil, false, nil).
func (s *RecordStore) Get(ctx context.Context, parts ...string) (domain.Record, bool, error) {
	key, err := s.key(parts)
	if err != nil {
		return nil, false, err
	}
	data, err := s.access.GetRecord(ctx, key)
	if err != nil {
		return nil, false, domain.StorageError("get "+domain.MakeLogicalKey(parts), err)
	}
	if data == nil {
		return nil, false, nil
	}
	rec, err := s.decode(data)
	if err != nil {
		return nil, false, s.decodeFailure(parts, err)
	}
	return rec, true, nil
}

// Exists reports whether parts resolves to a decodable record. Read and
// decode failures count as absence; use Get to see them.
func (s *RecordStore) Exists(ctx context.Context, parts ...string) bool {
	_, ok, err := s.Get(ctx, parts...)
	return err == nil && ok
}

// QueryBySelector returns every record of this list matching sel, in ledger
// order.
func (s *RecordStore) QueryBySelector(ctx context.Context, sel domain.Selector) ([]domain.Record, error) {
	query, err := domain.ScopedQuery(s.list, sel)
	if err != nil {
		return nil, err
	}
	it, err := s.access.QueryBySelector(ctx, query)
	if err != nil {
		return nil, domain.StorageError("query "+s.list, err)
	}
	defer func() { _ = it.Close() }()
	var out []domain.Record
	for it.HasNext() {
		kv, err := it.Next()
		if err != nil {
			return nil, domain.StorageError("query "+s.list, err)
		}
		rec, err := s.decode(kv.Value)
		if err != nil {
			_, parts, _ := domain.SplitCompositeKey(kv.Key)
			return nil, s.decodeFailure(parts, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// All returns every record of the list.
func (s *RecordStore) All(ctx context.Context) ([]domain.Record, error) {
	return s.QueryBySelector(ctx, nil)
}

// History returns every version of the record under parts in ledger order.
// A key that was never written yields an empty slice.
func (s *RecordStore) History(ctx context.Context, parts ...string) ([]HistoryEntry, error) {
	key, err := s.key(parts)
	if err != nil {
		return nil, err
	}
	it, err := s.access.GetHistory(ctx, key)
	if err != nil {
		return nil, domain.StorageError("history "+domain.MakeLogicalKey(parts), err)
	}
	defer func() { _ = it.Close() }()
	var out []HistoryEntry
	for it.HasNext() {
		m, err := it.Next()
		if err != nil {
			return nil, domain.StorageError("history "+domain.MakeLogicalKey(parts), err)
		}
		entry := HistoryEntry{TxID: m.TxID, Timestamp: m.Timestamp, IsDelete: m.IsDelete}
		if !m.IsDelete {
			rec, err := s.decode(m.Value)
			if err != nil {
				entry.Degraded = true
				entry.Raw = append([]byte(nil), m.Value...)
				entry.DecodeError = err.Error()
			} else {
				entry.Value = rec
			}
		}
		out = append(out, entry)
	}
	return out, nil
}

func (s *RecordStore) decode(data []byte) (domain.Record, error) {
	class, err := domain.PeekClass(data)
	if err != nil {
		return nil, err
	}
	dec, ok := s.decoders[class]
	if !ok {
		return nil, domain.NewError(domain.KindUnknownType, fmt.Sprintf("no decoder registered for %q in %s", class, s.list))
	}
	return dec(data)
}

// decodeFailure keeps UnknownType as is and reports unreadable stored bytes
// as a storage failure.
func (s *RecordStore) decodeFailure(parts []string, err error) error {
	var domainErr *domain.Error
	if errors.As(err, &domainErr) && domainErr.Kind != domain.KindStorageFailure {
		return err
	}
	return domain.StorageError("decode "+domain.MakeLogicalKey(parts), err)
}
