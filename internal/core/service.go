package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"bloodledger/pkg/domain"
)

// Service exposes the blood tracking contract operations. Each operation runs
// in one ledger transaction: it loads records through freshly scoped lists,
// checks every guard, and only then writes and emits.
type Service struct {
	ledger       domain.Ledger
	logger       Logger
	clock        Clock
	metrics      MetricsRecorder
	tracer       Tracer
	audit        AuditRecorder
	defaultOwner string
}

// NewService constructs a service running against ledger.
func NewService(ledger domain.Ledger, opts ...Option) *Service {
	s := &Service{
		ledger:       ledger,
		logger:       noopLogger{},
		clock:        systemClock{},
		metrics:      noopMetrics{},
		tracer:       noopTracer{},
		audit:        noopAudit{},
		defaultOwner: domain.DefaultOwner,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Ledger returns the ledger operations run against.
func (s *Service) Ledger() domain.Ledger {
	return s.ledger
}

// Operation names reported to loggers, metrics, tracers and audit recorders.
const (
	OpCreateBloodUnit          = "create_blood_unit"
	OpQueryAllBloodUnits       = "query_all_blood_units"
	OpQueryBloodUnit           = "query_blood_unit"
	OpDispatch                 = "dispatch_blood_unit"
	OpDeliver                  = "deliver_blood_unit"
	OpConsume                  = "consume_blood_unit"
	OpRelocate                 = "relocate_blood_unit"
	OpBloodUnitHistory         = "blood_unit_history"
	OpQueryBloodUnitsByDonor   = "query_blood_units_by_donor"
	OpQueryBloodUnitsByPatient = "query_blood_units_by_patient"
	OpQueryBloodUnitsByType    = "query_blood_units_by_type"
	OpCreateProcess            = "create_process"
	OpQueryAllProcesses        = "query_all_processes"
	OpQueryProcess             = "query_process"
	OpQueryProcessesByHospital = "query_processes_by_hospital"
	OpQueryProcessesByBank     = "query_processes_by_blood_bank"
	OpArchiveHistory           = "archive_blood_unit_history"
)

// CreateBloodUnit registers a new READY unit at the blood bank.
func (s *Service) CreateBloodUnit(ctx context.Context, in domain.BloodUnitInput) (domain.BloodUnit, domain.TxReceipt, error) {
	var created domain.BloodUnit
	key := domain.BloodNumber(in.DonorID, in.DIN)
	res, err := s.run(ctx, OpCreateBloodUnit, key, func(ctx context.Context, tx domain.LedgerAccess) error {
		unit, err := domain.NewBloodUnit(in, s.defaultOwner, s.clock.Now())
		if err != nil {
			return err
		}
		units := NewBloodList(tx)
		if _, exists, err := units.Get(ctx, unit.BloodNumber()); err != nil {
			return err
		} else if exists {
			return domain.NewError(domain.KindDuplicateKey, fmt.Sprintf("blood unit %s already exists", unit.BloodNumber()))
		}
		if err := units.Put(ctx, unit); err != nil {
			return err
		}
		created = unit
		return nil
	})
	return created, res, err
}

// QueryAllBloodUnits returns every unit on the ledger.
func (s *Service) QueryAllBloodUnits(ctx context.Context) ([]domain.BloodUnit, error) {
	var units []domain.BloodUnit
	_, err := s.run(ctx, OpQueryAllBloodUnits, "", func(ctx context.Context, tx domain.LedgerAccess) error {
		var err error
		units, err = NewBloodList(tx).All(ctx)
		return err
	})
	return units, err
}

// QueryBloodUnit returns the unit identified by bloodNumber.
func (s *Service) QueryBloodUnit(ctx context.Context, bloodNumber string) (domain.BloodUnit, error) {
	var unit domain.BloodUnit
	_, err := s.run(ctx, OpQueryBloodUnit, bloodNumber, func(ctx context.Context, tx domain.LedgerAccess) error {
		var err error
		unit, err = loadBloodUnit(ctx, NewBloodList(tx), bloodNumber)
		return err
	})
	return unit, err
}

// Dispatch moves a SAFE unit from the blood bank into transportation.
func (s *Service) Dispatch(ctx context.Context, bloodNumber string) (domain.BloodUnit, domain.TxReceipt, error) {
	return s.transition(ctx, OpDispatch, bloodNumber, domain.TransitionDispatch, "")
}

// Deliver marks a transported unit as delivered.
func (s *Service) Deliver(ctx context.Context, bloodNumber string) (domain.BloodUnit, domain.TxReceipt, error) {
	return s.transition(ctx, OpDeliver, bloodNumber, domain.TransitionDeliver, "")
}

// Consume marks a delivered unit as used by patientID.
func (s *Service) Consume(ctx context.Context, bloodNumber, patientID string) (domain.BloodUnit, domain.TxReceipt, error) {
	return s.transition(ctx, OpConsume, bloodNumber, domain.TransitionConsume, patientID)
}

func (s *Service) transition(ctx context.Context, op, bloodNumber string, name domain.TransitionName, patientID string) (domain.BloodUnit, domain.TxReceipt, error) {
	var updated domain.BloodUnit
	res, err := s.run(ctx, op, bloodNumber, func(ctx context.Context, tx domain.LedgerAccess) error {
		t, err := domain.LookupTransition(name)
		if err != nil {
			return err
		}
		units := NewBloodList(tx)
		unit, err := loadBloodUnit(ctx, units, bloodNumber)
		if err != nil {
			return err
		}
		if err := unit.Apply(t, patientID); err != nil {
			return err
		}
		payload, err := domain.Serialize(unit)
		if err != nil {
			return err
		}
		if err := units.Put(ctx, unit); err != nil {
			return err
		}
		if err := tx.EmitEvent(ctx, t.Event, payload); err != nil {
			return domain.StorageError("emit "+t.Event, err)
		}
		updated = unit
		return nil
	})
	return updated, res, err
}

// Relocate hands the unit to owner at location. The unit must already be in
// the state that location requires.
func (s *Service) Relocate(ctx context.Context, bloodNumber string, location domain.Location, owner string) (domain.BloodUnit, domain.TxReceipt, error) {
	var updated domain.BloodUnit
	res, err := s.run(ctx, OpRelocate, bloodNumber, func(ctx context.Context, tx domain.LedgerAccess) error {
		units := NewBloodList(tx)
		unit, err := loadBloodUnit(ctx, units, bloodNumber)
		if err != nil {
			return err
		}
		if err := unit.Relocate(location, owner); err != nil {
			return err
		}
		if err := units.Put(ctx, unit); err != nil {
			return err
		}
		updated = unit
		return nil
	})
	return updated, res, err
}

// BloodUnitHistory returns every recorded version of the unit, oldest first.
func (s *Service) BloodUnitHistory(ctx context.Context, bloodNumber string) ([]HistoryEntry, error) {
	var history []HistoryEntry
	_, err := s.run(ctx, OpBloodUnitHistory, bloodNumber, func(ctx context.Context, tx domain.LedgerAccess) error {
		var err error
		history, err = NewBloodList(tx).History(ctx, bloodNumber)
		if err != nil {
			return err
		}
		if len(history) == 0 {
			return domain.NewError(domain.KindNotFound, fmt.Sprintf("blood unit %s has no history", bloodNumber))
		}
		return nil
	})
	return history, err
}

// QueryBloodUnitsByDonor returns the units given by donorID.
func (s *Service) QueryBloodUnitsByDonor(ctx context.Context, donorID string) ([]domain.BloodUnit, error) {
	return s.queryUnits(ctx, OpQueryBloodUnitsByDonor, donorID, (*BloodList).ByDonor)
}

// QueryBloodUnitsByPatient returns the units consumed by patientID.
func (s *Service) QueryBloodUnitsByPatient(ctx context.Context, patientID string) ([]domain.BloodUnit, error) {
	return s.queryUnits(ctx, OpQueryBloodUnitsByPatient, patientID, (*BloodList).ByPatient)
}

// QueryBloodUnitsByType returns the units of bloodType.
func (s *Service) QueryBloodUnitsByType(ctx context.Context, bloodType string) ([]domain.BloodUnit, error) {
	return s.queryUnits(ctx, OpQueryBloodUnitsByType, bloodType, (*BloodList).ByType)
}

func (s *Service) queryUnits(ctx context.Context, op, value string, query func(*BloodList, context.Context, string) ([]domain.BloodUnit, error)) ([]domain.BloodUnit, error) {
	var units []domain.BloodUnit
	_, err := s.run(ctx, op, value, func(ctx context.Context, tx domain.LedgerAccess) error {
		var err error
		units, err = query(NewBloodList(tx), ctx, value)
		return err
	})
	return units, err
}

// CreateProcess logs a donation or a receipt of an existing blood unit.
// Guards run in the order duplicate key, referenced unit, user prefix.
func (s *Service) CreateProcess(ctx context.Context, in domain.ProcessInput) (domain.ProcessRecord, domain.TxReceipt, error) {
	var created domain.ProcessRecord
	res, err := s.run(ctx, OpCreateProcess, in.ProcessID+domain.LogicalKeySeparator+in.Type, func(ctx context.Context, tx domain.LedgerAccess) error {
		if strings.TrimSpace(in.ProcessID) == "" {
			return domain.NewError(domain.KindInvalidAttribute, "process ID is required")
		}
		action, err := domain.ParseActionType(in.Type)
		if err != nil {
			return err
		}
		processes := NewProcessList(tx)
		if _, exists, err := processes.get(ctx, in.ProcessID, action); err != nil {
			return err
		} else if exists {
			return domain.NewError(domain.KindDuplicateKey, fmt.Sprintf("process %s already exists", domain.ProcessNumber(in.ProcessID, action)))
		}
		if _, err := loadBloodUnit(ctx, NewBloodList(tx), in.BloodNumber); err != nil {
			return err
		}
		rec, err := domain.NewProcessRecord(in)
		if err != nil {
			return err
		}
		if err := processes.Put(ctx, rec); err != nil {
			return err
		}
		created = rec
		return nil
	})
	return created, res, err
}

// QueryAllProcesses returns every process record.
func (s *Service) QueryAllProcesses(ctx context.Context) ([]domain.ProcessRecord, error) {
	var recs []domain.ProcessRecord
	_, err := s.run(ctx, OpQueryAllProcesses, "", func(ctx context.Context, tx domain.LedgerAccess) error {
		var err error
		recs, err = NewProcessList(tx).All(ctx)
		return err
	})
	return recs, err
}

// QueryProcess returns the record identified by processNumber.
func (s *Service) QueryProcess(ctx context.Context, processNumber string) (domain.ProcessRecord, error) {
	var rec domain.ProcessRecord
	_, err := s.run(ctx, OpQueryProcess, processNumber, func(ctx context.Context, tx domain.LedgerAccess) error {
		found, ok, err := NewProcessList(tx).Get(ctx, processNumber)
		if err != nil {
			return err
		}
		if !ok {
			return domain.NewError(domain.KindNotFound, fmt.Sprintf("process %s not found", processNumber))
		}
		rec = found
		return nil
	})
	return rec, err
}

// QueryProcessesByHospital returns the records logged by hospitalID.
func (s *Service) QueryProcessesByHospital(ctx context.Context, hospitalID string) ([]domain.ProcessRecord, error) {
	return s.queryProcesses(ctx, OpQueryProcessesByHospital, hospitalID, (*ProcessList).ByHospital)
}

// QueryProcessesByBloodBank returns the records logged by bloodBankID.
func (s *Service) QueryProcessesByBloodBank(ctx context.Context, bloodBankID string) ([]domain.ProcessRecord, error) {
	return s.queryProcesses(ctx, OpQueryProcessesByBank, bloodBankID, (*ProcessList).ByBloodBank)
}

func (s *Service) queryProcesses(ctx context.Context, op, value string, query func(*ProcessList, context.Context, string) ([]domain.ProcessRecord, error)) ([]domain.ProcessRecord, error) {
	var recs []domain.ProcessRecord
	_, err := s.run(ctx, op, value, func(ctx context.Context, tx domain.LedgerAccess) error {
		var err error
		recs, err = query(NewProcessList(tx), ctx, value)
		return err
	})
	return recs, err
}

func loadBloodUnit(ctx context.Context, units *BloodList, bloodNumber string) (domain.BloodUnit, error) {
	unit, ok, err := units.Get(ctx, bloodNumber)
	if err != nil {
		return domain.BloodUnit{}, err
	}
	if !ok {
		return domain.BloodUnit{}, domain.NewError(domain.KindNotFound, fmt.Sprintf("blood unit %s not found", bloodNumber))
	}
	return unit, nil
}

// run executes fn in one ledger transaction and reports the outcome to the
// tracer, metrics recorder, audit recorder and logger.
func (s *Service) run(ctx context.Context, op, key string, fn func(context.Context, domain.LedgerAccess) error) (domain.TxReceipt, error) {
	start := s.clock.Now()
	ctx, span := s.tracer.Start(ctx, op)
	s.logger.Debug("operation started", "operation", op, "key", key)

	res, err := s.ledger.RunInTransaction(ctx, func(tx domain.LedgerAccess) error {
		return fn(ctx, tx)
	})
	duration := s.clock.Now().Sub(start)
	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, duration)

	entry := AuditEntry{
		Operation: op,
		Key:       key,
		TxID:      res.TxID,
		Status:    AuditStatusSuccess,
		Duration:  duration,
		Timestamp: start,
	}
	if err != nil {
		entry.Status = AuditStatusError
		entry.ErrorKind = string(domain.KindOf(err))
		entry.Error = err.Error()
	}
	s.audit.Record(ctx, entry)
	s.logOutcome(op, key, res, err)
	return res, err
}

func (s *Service) logOutcome(op, key string, res domain.TxReceipt, err error) {
	switch {
	case err == nil:
		s.logger.Info("operation committed", "operation", op, "key", key, "tx_id", res.TxID, "writes", res.Writes, "events", len(res.Events))
	case errors.Is(err, domain.ErrStorageFailure), domain.KindOf(err) == "", errors.Is(err, domain.ErrUnknownType):
		s.logger.Error("operation failed", "operation", op, "key", key, "error", err)
	default:
		s.logger.Warn("operation rejected", "operation", op, "key", key, "kind", string(domain.KindOf(err)), "error", err)
	}
}
