package core

import (
	"context"
	"fmt"

	"bloodledger/pkg/domain"
)

// BloodList is the typed view of the blood unit list.
type BloodList struct {
	store *RecordStore
}

// NewBloodList scopes a blood list to the transaction behind access.
func NewBloodList(access domain.LedgerAccess) *BloodList {
	store := NewRecordStore(access, domain.ListBloodUnits)
	store.Use(domain.ClassBloodUnit, domain.DecodeBloodUnit)
	return &BloodList{store: store}
}

// Put writes unit, creating or replacing it.
func (l *BloodList) Put(ctx context.Context, unit domain.BloodUnit) error {
	return l.store.Put(ctx, unit)
}

// Get loads the unit identified by bloodNumber ("<donorID>:<DIN>").
func (l *BloodList) Get(ctx context.Context, bloodNumber string) (domain.BloodUnit, bool, error) {
	donorID, din, err := domain.ParseBloodNumber(bloodNumber)
	if err != nil {
		return domain.BloodUnit{}, false, err
	}
	rec, ok, err := l.store.Get(ctx, donorID, din)
	if err != nil || !ok {
		return domain.BloodUnit{}, false, err
	}
	unit, err := asBloodUnit(rec)
	return unit, err == nil, err
}

// Exists reports whether bloodNumber resolves to a readable unit.
func (l *BloodList) Exists(ctx context.Context, bloodNumber string) bool {
	donorID, din, err := domain.ParseBloodNumber(bloodNumber)
	if err != nil {
		return false
	}
	return l.store.Exists(ctx, donorID, din)
}

// History returns every version of the unit.
func (l *BloodList) History(ctx context.Context, bloodNumber string) ([]HistoryEntry, error) {
	donorID, din, err := domain.ParseBloodNumber(bloodNumber)
	if err != nil {
		return nil, err
	}
	return l.store.History(ctx, donorID, din)
}

// All returns every unit.
func (l *BloodList) All(ctx context.Context) ([]domain.BloodUnit, error) {
	return l.query(ctx, nil)
}

// ByDonor returns the units given by donorID.
func (l *BloodList) ByDonor(ctx context.Context, donorID string) ([]domain.BloodUnit, error) {
	return l.query(ctx, domain.Selector{"donorID": donorID})
}

// ByPatient returns the units consumed by patientID.
func (l *BloodList) ByPatient(ctx context.Context, patientID string) ([]domain.BloodUnit, error) {
	return l.query(ctx, domain.Selector{"patientID": patientID})
}

// ByType returns the units of bloodType.
func (l *BloodList) ByType(ctx context.Context, bloodType string) ([]domain.BloodUnit, error) {
	return l.query(ctx, domain.Selector{"type": bloodType})
}

func (l *BloodList) query(ctx context.Context, sel domain.Selector) ([]domain.BloodUnit, error) {
	recs, err := l.store.QueryBySelector(ctx, sel)
	if err != nil {
		return nil, err
	}
	out := make([]domain.BloodUnit, 0, len(recs))
	for _, rec := range recs {
		unit, err := asBloodUnit(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, unit)
	}
	return out, nil
}

func asBloodUnit(rec domain.Record) (domain.BloodUnit, error) {
	unit, ok := rec.(domain.BloodUnit)
	if !ok {
		return domain.BloodUnit{}, domain.NewError(domain.KindUnknownType, fmt.Sprintf("blood list holds %T", rec))
	}
	return unit, nil
}

// ProcessList is the typed view of the process list.
type ProcessList struct {
	store *RecordStore
}

// NewProcessList scopes a process list to the transaction behind access.
func NewProcessList(access domain.LedgerAccess) *ProcessList {
	store := NewRecordStore(access, domain.ListProcesses)
	store.Use(domain.ClassProcess, domain.DecodeProcessRecord)
	return &ProcessList{store: store}
}

// Put writes rec.
func (l *ProcessList) Put(ctx context.Context, rec domain.ProcessRecord) error {
	return l.store.Put(ctx, rec)
}

// Get loads the record identified by processNumber ("<processID>:<type>").
func (l *ProcessList) Get(ctx context.Context, processNumber string) (domain.ProcessRecord, bool, error) {
	id, action, err := domain.ParseProcessNumber(processNumber)
	if err != nil {
		return domain.ProcessRecord{}, false, err
	}
	return l.get(ctx, id, action)
}

// Exists reports whether a record with id and action is readable under any
// stored spelling of action.
func (l *ProcessList) Exists(ctx context.Context, id string, action domain.ActionType) bool {
	for _, spelling := range action.StoredSpellings() {
		if l.store.Exists(ctx, id, spelling) {
			return true
		}
	}
	return false
}

// get tries the canonical key first and then the legacy spellings of action.
func (l *ProcessList) get(ctx context.Context, id string, action domain.ActionType) (domain.ProcessRecord, bool, error) {
	for _, spelling := range action.StoredSpellings() {
		rec, ok, err := l.store.Get(ctx, id, spelling)
		if err != nil {
			return domain.ProcessRecord{}, false, err
		}
		if !ok {
			continue
		}
		p, err := asProcess(rec)
		return p, err == nil, err
	}
	return domain.ProcessRecord{}, false, nil
}

// All returns every process record.
func (l *ProcessList) All(ctx context.Context) ([]domain.ProcessRecord, error) {
	return l.query(ctx, nil)
}

// ByHospital returns the records logged by hospitalID.
func (l *ProcessList) ByHospital(ctx context.Context, hospitalID string) ([]domain.ProcessRecord, error) {
	return l.query(ctx, domain.Selector{"hospitalID": hospitalID})
}

// ByBloodBank returns the records logged by bloodBankID.
func (l *ProcessList) ByBloodBank(ctx context.Context, bloodBankID string) ([]domain.ProcessRecord, error) {
	return l.query(ctx, domain.Selector{"bloodBankID": bloodBankID})
}

func (l *ProcessList) query(ctx context.Context, sel domain.Selector) ([]domain.ProcessRecord, error) {
	recs, err := l.store.QueryBySelector(ctx, sel)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ProcessRecord, 0, len(recs))
	for _, rec := range recs {
		p, err := asProcess(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func asProcess(rec domain.Record) (domain.ProcessRecord, error) {
	p, ok := rec.(domain.ProcessRecord)
	if !ok {
		return domain.ProcessRecord{}, domain.NewError(domain.KindUnknownType, fmt.Sprintf("process list holds %T", rec))
	}
	return p, nil
}
