package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"bloodledger/internal/infra/ledger"
	"bloodledger/internal/infra/ledger/ledgertest"
	"bloodledger/internal/infra/ledger/memory"
	"bloodledger/pkg/domain"
)

var testEpoch = time.Date(2021, 2, 19, 8, 0, 0, 0, time.UTC)

type fixture struct {
	svc    *Service
	store  *memory.Store
	events *ledgertest.Recorder
}

func newFixture(t *testing.T, opts ...Option) fixture {
	t.Helper()
	events := &ledgertest.Recorder{}
	store := memory.NewStore(
		ledger.WithTxIDs(ledgertest.Sequence()),
		ledger.WithClock(ledgertest.Ticker(testEpoch)),
		ledger.WithPublisher(events),
	)
	opts = append([]Option{WithClock(ClockFunc(func() time.Time { return testEpoch }))}, opts...)
	return fixture{svc: NewService(store, opts...), store: store, events: events}
}

func unitInput(donorID, din string) domain.BloodUnitInput {
	return domain.BloodUnitInput{
		DIN:         din,
		Volume:      "450",
		BloodType:   "B+",
		Date:        "2021-02-19",
		Expired:     "2021-06-19",
		Test:        domain.TestResultSafe,
		DonorID:     donorID,
		Temperature: "4C",
	}
}

func (f fixture) mustCreate(t *testing.T, in domain.BloodUnitInput) domain.BloodUnit {
	t.Helper()
	unit, _, err := f.svc.CreateBloodUnit(context.Background(), in)
	if err != nil {
		t.Fatalf("create %s: %v", domain.BloodNumber(in.DonorID, in.DIN), err)
	}
	return unit
}

// mustReachHospital creates a unit and walks it to DELIVERED at the hospital.
func (f fixture) mustReachHospital(t *testing.T, in domain.BloodUnitInput) string {
	t.Helper()
	ctx := context.Background()
	bn := f.mustCreate(t, in).BloodNumber()
	if _, _, err := f.svc.Dispatch(ctx, bn); err != nil {
		t.Fatalf("dispatch %s: %v", bn, err)
	}
	if _, _, err := f.svc.Relocate(ctx, bn, domain.LocationTransportation, "Courier 7"); err != nil {
		t.Fatalf("relocate %s to transportation: %v", bn, err)
	}
	if _, _, err := f.svc.Deliver(ctx, bn); err != nil {
		t.Fatalf("deliver %s: %v", bn, err)
	}
	if _, _, err := f.svc.Relocate(ctx, bn, domain.LocationHospital, "Hospital 57357"); err != nil {
		t.Fatalf("relocate %s to hospital: %v", bn, err)
	}
	return bn
}

func rawKey(t *testing.T, list string, parts ...string) string {
	t.Helper()
	key, err := domain.CreateCompositeKey(list, parts)
	if err != nil {
		t.Fatalf("composite key: %v", err)
	}
	return key
}

func expectKind(t *testing.T, err error, kind domain.Kind) {
	t.Helper()
	if !errors.Is(err, &domain.Error{Kind: kind}) {
		t.Fatalf("expected %s error, got %v", kind, err)
	}
}

// inTx runs fn in a committed transaction against the fixture's ledger.
func (f fixture) inTx(t *testing.T, fn func(ctx context.Context, tx domain.LedgerAccess) error) {
	t.Helper()
	ctx := context.Background()
	if _, err := f.store.RunInTransaction(ctx, func(tx domain.LedgerAccess) error { return fn(ctx, tx) }); err != nil {
		t.Fatalf("transaction: %v", err)
	}
}
