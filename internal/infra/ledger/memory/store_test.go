package memory

import (
	"context"
	"errors"
	"testing"

	"bloodledger/internal/infra/ledger"
	"bloodledger/internal/infra/ledger/ledgertest"
	"bloodledger/pkg/domain"
)

func TestStoreContract(t *testing.T) {
	ledgertest.Run(t, func(_ *testing.T, opts ...ledger.Option) domain.Ledger {
		return NewStore(opts...)
	})
}

func TestDeleteLeavesTombstone(t *testing.T) {
	ctx := context.Background()
	store := NewStore(ledger.WithTxIDs(ledgertest.Sequence()))
	key, _ := domain.CreateCompositeKey(domain.ListBloodUnits, []string{"d1", "BD1"})
	if _, err := store.RunInTransaction(ctx, func(tx domain.LedgerAccess) error {
		return tx.PutRecord(ctx, key, []byte(`{"v":1}`))
	}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("expected key removed from world state")
	}
	var versions []domain.KeyModification
	_, err := store.RunInTransaction(ctx, func(tx domain.LedgerAccess) error {
		it, err := tx.GetHistory(ctx, key)
		if err != nil {
			return err
		}
		for it.HasNext() {
			m, err := it.Next()
			if err != nil {
				return err
			}
			versions = append(versions, m)
		}
		return it.Close()
	})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(versions) != 2 || !versions[1].IsDelete || versions[1].Value != nil || versions[1].TxID != "tx-2" {
		t.Fatalf("unexpected history %+v", versions)
	}
	if err := store.Delete(ctx, ""); err == nil {
		t.Fatalf("expected empty key to be rejected")
	}
}

func TestReadOnlyTransactionCommitsNothing(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	receipt, err := store.RunInTransaction(ctx, func(tx domain.LedgerAccess) error {
		_, err := tx.GetRecord(ctx, "missing")
		return err
	})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if receipt.Writes != 0 || receipt.TxID == "" {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
}

func TestPutRejectsEmptyKey(t *testing.T) {
	ctx := context.Background()
	_, err := NewStore().RunInTransaction(ctx, func(tx domain.LedgerAccess) error {
		return tx.PutRecord(ctx, "", []byte("x"))
	})
	if !errors.Is(err, domain.ErrInvalidAttribute) {
		t.Fatalf("expected invalid attribute, got %v", err)
	}
}
