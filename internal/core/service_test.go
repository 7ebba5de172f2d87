package core

import (
	"context"
	"testing"

	"bloodledger/pkg/domain"
)

func TestScenarioCreateThenDispatchTwice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	unit, res, err := f.svc.CreateBloodUnit(ctx, unitInput("d524", "BD58911"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if unit.CurrentState != domain.StateReady || unit.Location != domain.LocationBloodBank {
		t.Fatalf("unexpected new unit %+v", unit)
	}
	if unit.CurrentOwner != domain.DefaultOwner || unit.Timestamp != "2021-02-19T08:00:00Z" {
		t.Fatalf("unexpected owner/timestamp %q %q", unit.CurrentOwner, unit.Timestamp)
	}
	if res.TxID == "" || res.Writes != 1 || len(res.Events) != 0 {
		t.Fatalf("unexpected create receipt %+v", res)
	}

	dispatched, res, err := f.svc.Dispatch(ctx, "d524:BD58911")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if dispatched.CurrentState != domain.StateUnderTransportation {
		t.Fatalf("expected UNDER_TRANSPORTATION, got %s", dispatched.CurrentState)
	}
	if len(res.Events) != 1 || res.Events[0].Name != domain.EventUnderTransportation {
		t.Fatalf("unexpected dispatch events %+v", res.Events)
	}
	rec, err := domain.DecodeBloodUnit(res.Events[0].Payload)
	if err != nil {
		t.Fatalf("decode event payload: %v", err)
	}
	if rec.(domain.BloodUnit) != dispatched {
		t.Fatalf("event payload %+v does not match stored unit %+v", rec, dispatched)
	}

	_, _, err = f.svc.Dispatch(ctx, "d524:BD58911")
	expectKind(t, err, domain.KindInvalidTransition)
	if got := len(f.events.Snapshot()); got != 1 {
		t.Fatalf("expected exactly one published event, got %d", got)
	}
}

func TestScenarioConsumeReadyUnitLeavesItUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mustCreate(t, unitInput("d524", "BD58911"))

	_, _, err := f.svc.Consume(ctx, "d524:BD58911", "r301")
	expectKind(t, err, domain.KindInvalidTransition)

	unit, err := f.svc.QueryBloodUnit(ctx, "d524:BD58911")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if unit.CurrentState != domain.StateReady || unit.PatientID != domain.NoPatient {
		t.Fatalf("unit mutated by failed consume: %+v", unit)
	}
	history, err := f.svc.BloodUnitHistory(ctx, "d524:BD58911")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected a single version, got %d", len(history))
	}
}

func TestScenarioProcessWithWrongPrefixIsNotPersisted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mustCreate(t, unitInput("d524", "BD58911"))

	_, _, err := f.svc.CreateProcess(ctx, domain.ProcessInput{
		ProcessID:   "P4367",
		BloodNumber: "d524:BD58911",
		UserID:      "r524",
		HospitalID:  "H1",
		BloodBankID: "BB1",
		Type:        "donate",
	})
	expectKind(t, err, domain.KindInvalidAttribute)

	f.inTx(t, func(ctx context.Context, tx domain.LedgerAccess) error {
		if NewProcessList(tx).Exists(ctx, "P4367", domain.ActionDonate) {
			t.Fatalf("rejected process record was persisted")
		}
		return nil
	})
}

func TestScenarioRelocateToPatient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bn := f.mustReachHospital(t, unitInput("d524", "BD58911"))
	if _, _, err := f.svc.Consume(ctx, bn, "r301"); err != nil {
		t.Fatalf("consume: %v", err)
	}
	moved, _, err := f.svc.Relocate(ctx, bn, domain.LocationPatient, "r301")
	if err != nil {
		t.Fatalf("relocate used unit: %v", err)
	}
	if moved.Location != domain.LocationPatient || moved.CurrentOwner != "r301" || moved.PatientID != "r301" {
		t.Fatalf("unexpected relocated unit %+v", moved)
	}

	ready := f.mustCreate(t, unitInput("d525", "BD1"))
	_, _, err = f.svc.Relocate(ctx, ready.BloodNumber(), domain.LocationPatient, "r301")
	expectKind(t, err, domain.KindInvalidTransition)
}

func TestFullLifecycleEmitsOneEventPerTransition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bn := f.mustReachHospital(t, unitInput("d524", "BD58911"))
	used, res, err := f.svc.Consume(ctx, bn, "r301")
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if used.CurrentState != domain.StateUsed || used.Location != domain.LocationHospital {
		t.Fatalf("unexpected consumed unit %+v", used)
	}
	if len(res.Events) != 1 || res.Events[0].TxID != res.TxID {
		t.Fatalf("unexpected consume receipt %+v", res)
	}
	var names []string
	for _, ev := range f.events.Snapshot() {
		names = append(names, ev.Name)
	}
	want := []string{domain.EventUnderTransportation, domain.EventDelivered, domain.EventUsed}
	if len(names) != len(want) {
		t.Fatalf("expected events %v, got %v", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("expected events %v, got %v", want, names)
		}
	}

	history, err := f.svc.BloodUnitHistory(ctx, bn)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 6 {
		t.Fatalf("expected 6 versions, got %d", len(history))
	}
	first := history[0].Value.(domain.BloodUnit)
	last := history[len(history)-1].Value.(domain.BloodUnit)
	if first.CurrentState != domain.StateReady || last.CurrentState != domain.StateUsed {
		t.Fatalf("history not oldest first: %s .. %s", first.CurrentState, last.CurrentState)
	}
	for i := 1; i < len(history); i++ {
		if !history[i].Timestamp.After(history[i-1].Timestamp) {
			t.Fatalf("history timestamps not increasing at %d", i)
		}
	}
}

func TestCreateBloodUnitGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mustCreate(t, unitInput("d524", "BD58911"))

	_, _, err := f.svc.CreateBloodUnit(ctx, unitInput("d524", "BD58911"))
	expectKind(t, err, domain.KindDuplicateKey)

	_, _, err = f.svc.CreateBloodUnit(ctx, unitInput("r524", "BD1"))
	expectKind(t, err, domain.KindInvalidAttribute)

	if f.store.Len() != 1 {
		t.Fatalf("rejected creates wrote to the ledger: %d keys", f.store.Len())
	}
}

func TestDefaultOwnerOption(t *testing.T) {
	f := newFixture(t, WithDefaultOwner("Alexandria Blood Bank"))
	unit := f.mustCreate(t, unitInput("d1", "BD1"))
	if unit.CurrentOwner != "Alexandria Blood Bank" {
		t.Fatalf("expected configured owner, got %q", unit.CurrentOwner)
	}
}

func TestUnsafeDispatchWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := unitInput("d524", "BD58911")
	in.Test = "REACTIVE"
	f.mustCreate(t, in)

	_, _, err := f.svc.Dispatch(ctx, "d524:BD58911")
	expectKind(t, err, domain.KindInvalidAttribute)
	history, err := f.svc.BloodUnitHistory(ctx, "d524:BD58911")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || len(f.events.Snapshot()) != 0 {
		t.Fatalf("guard failure left %d versions and %d events", len(history), len(f.events.Snapshot()))
	}
}

func TestMissingUnits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.QueryBloodUnit(ctx, "d1:BD404")
	expectKind(t, err, domain.KindNotFound)
	_, err = f.svc.QueryBloodUnit(ctx, "BD404")
	expectKind(t, err, domain.KindInvalidAttribute)
	_, _, err = f.svc.Deliver(ctx, "d1:BD404")
	expectKind(t, err, domain.KindNotFound)
	_, _, err = f.svc.Relocate(ctx, "d1:BD404", domain.LocationHospital, "H1")
	expectKind(t, err, domain.KindNotFound)
	_, err = f.svc.BloodUnitHistory(ctx, "d1:BD404")
	expectKind(t, err, domain.KindNotFound)

	f.mustCreate(t, unitInput("d1", "BD1"))
	_, _, err = f.svc.Relocate(ctx, "d1:BD1", "Moon", "x")
	expectKind(t, err, domain.KindInvalidAttribute)
}

func TestCreateProcessGuardOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mustCreate(t, unitInput("d524", "BD58911"))

	donate := domain.ProcessInput{ProcessID: "P1", BloodNumber: "d524:BD58911", UserID: "d524", HospitalID: "H1", BloodBankID: "BB1", Type: "donate"}
	rec, res, err := f.svc.CreateProcess(ctx, donate)
	if err != nil {
		t.Fatalf("create process: %v", err)
	}
	if rec.ProcessNumber() != "P1:donate" || res.Writes != 1 {
		t.Fatalf("unexpected process %+v (%+v)", rec, res)
	}

	dup := donate
	dup.UserID = "r1"
	dup.BloodNumber = "d9:BD9"
	_, _, err = f.svc.CreateProcess(ctx, dup)
	expectKind(t, err, domain.KindDuplicateKey)

	orphan := dup
	orphan.ProcessID = "P2"
	_, _, err = f.svc.CreateProcess(ctx, orphan)
	expectKind(t, err, domain.KindNotFound)

	unknown := donate
	unknown.ProcessID = "P3"
	unknown.Type = "transfuse"
	_, _, err = f.svc.CreateProcess(ctx, unknown)
	expectKind(t, err, domain.KindInvalidAttribute)

	empty := donate
	empty.ProcessID = " "
	_, _, err = f.svc.CreateProcess(ctx, empty)
	expectKind(t, err, domain.KindInvalidAttribute)
}

func TestLegacyReceiveSpelling(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mustCreate(t, unitInput("d524", "BD58911"))
	in := domain.ProcessInput{ProcessID: "P9", BloodNumber: "d524:BD58911", UserID: "r301", HospitalID: "H1", Type: "recieve"}
	rec, _, err := f.svc.CreateProcess(ctx, in)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.Type != domain.ActionReceive {
		t.Fatalf("expected normalized receive, got %q", rec.Type)
	}
	got, err := f.svc.QueryProcess(ctx, "P9:recieve")
	if err != nil {
		t.Fatalf("query legacy number: %v", err)
	}
	if got != rec {
		t.Fatalf("unexpected record %+v", got)
	}
	_, err = f.svc.QueryProcess(ctx, "P9:donate")
	expectKind(t, err, domain.KindNotFound)
}

func TestLegacyStoredReceiveRecordIsFoundAndGuarded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mustCreate(t, unitInput("d524", "BD58911"))
	legacy := domain.ProcessRecord{ProcessID: "P4347", BloodNumber: "d524:BD58911", UserID: "r301", HospitalID: "H1", Type: domain.ActionType("recieve")}
	data, err := domain.Serialize(legacy)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	if err := f.store.Corrupt(ctx, rawKey(t, domain.ListProcesses, "P4347", "recieve"), data); err != nil {
		t.Fatalf("seed legacy record: %v", err)
	}

	for _, number := range []string{"P4347:recieve", "P4347:receive"} {
		got, err := f.svc.QueryProcess(ctx, number)
		if err != nil {
			t.Fatalf("query %s: %v", number, err)
		}
		if got.ProcessID != "P4347" || got.UserID != "r301" {
			t.Fatalf("query %s: unexpected record %+v", number, got)
		}
	}

	for _, spelling := range []string{"recieve", "receive"} {
		_, _, err := f.svc.CreateProcess(ctx, domain.ProcessInput{
			ProcessID: "P4347", BloodNumber: "d524:BD58911", UserID: "r301", HospitalID: "H1", Type: spelling,
		})
		expectKind(t, err, domain.KindDuplicateKey)
	}
	all, err := f.svc.QueryAllProcesses(ctx)
	if err != nil {
		t.Fatalf("query all: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected the legacy record only, got %d records", len(all))
	}
	f.inTx(t, func(ctx context.Context, tx domain.LedgerAccess) error {
		if !NewProcessList(tx).Exists(ctx, "P4347", domain.ActionReceive) {
			t.Fatalf("legacy record reported absent")
		}
		return nil
	})
}

func TestQueriesStayWithinTheirList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := unitInput("d1", "BD1")
	second := unitInput("d1", "BD2")
	second.BloodType = "O-"
	third := unitInput("d2", "BD3")
	for _, in := range []domain.BloodUnitInput{third, first, second} {
		f.mustCreate(t, in)
	}
	processes := []domain.ProcessInput{
		{ProcessID: "P1", BloodNumber: "d1:BD1", UserID: "d1", HospitalID: "H1", BloodBankID: "BB1", Type: "donate"},
		{ProcessID: "P2", BloodNumber: "d2:BD3", UserID: "d2", HospitalID: "H2", BloodBankID: "BB1", Type: "donate"},
	}
	for _, in := range processes {
		if _, _, err := f.svc.CreateProcess(ctx, in); err != nil {
			t.Fatalf("create process %s: %v", in.ProcessID, err)
		}
	}

	all, err := f.svc.QueryAllBloodUnits(ctx)
	if err != nil || len(all) != 3 {
		t.Fatalf("expected 3 units, got %d (%v)", len(all), err)
	}
	byDonor, err := f.svc.QueryBloodUnitsByDonor(ctx, "d1")
	if err != nil || len(byDonor) != 2 || byDonor[0].DIN != "BD1" || byDonor[1].DIN != "BD2" {
		t.Fatalf("unexpected donor query %+v (%v)", byDonor, err)
	}
	byType, err := f.svc.QueryBloodUnitsByType(ctx, "B+")
	if err != nil || len(byType) != 2 {
		t.Fatalf("unexpected type query %+v (%v)", byType, err)
	}
	// process records also carry a "type" attribute
	leaked, err := f.svc.QueryBloodUnitsByType(ctx, "donate")
	if err != nil || len(leaked) != 0 {
		t.Fatalf("blood list query returned process records: %+v (%v)", leaked, err)
	}
	allProcesses, err := f.svc.QueryAllProcesses(ctx)
	if err != nil || len(allProcesses) != 2 {
		t.Fatalf("expected 2 processes, got %d (%v)", len(allProcesses), err)
	}
	byHospital, err := f.svc.QueryProcessesByHospital(ctx, "H2")
	if err != nil || len(byHospital) != 1 || byHospital[0].ProcessID != "P2" {
		t.Fatalf("unexpected hospital query %+v (%v)", byHospital, err)
	}
	byBank, err := f.svc.QueryProcessesByBloodBank(ctx, "BB1")
	if err != nil || len(byBank) != 2 {
		t.Fatalf("unexpected blood bank query %+v (%v)", byBank, err)
	}
	none, err := f.svc.QueryBloodUnitsByPatient(ctx, "r301")
	if err != nil || len(none) != 0 {
		t.Fatalf("unexpected patient query %+v (%v)", none, err)
	}
}

func TestQueryByPatient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bn := f.mustReachHospital(t, unitInput("d524", "BD58911"))
	if _, _, err := f.svc.Consume(ctx, bn, "r301"); err != nil {
		t.Fatalf("consume: %v", err)
	}
	units, err := f.svc.QueryBloodUnitsByPatient(ctx, "r301")
	if err != nil || len(units) != 1 || units[0].BloodNumber() != bn {
		t.Fatalf("unexpected patient query %+v (%v)", units, err)
	}
}
