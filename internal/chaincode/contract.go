// Package chaincode exposes the blood tracking operations as a Hyperledger
// Fabric contract. Every transaction builds a service over the invocation's
// stub; records are returned as the JSON stored on the ledger.
package chaincode

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"

	"bloodledger/internal/core"
	"bloodledger/internal/infra/ledger/fabric"
	"bloodledger/pkg/domain"
)

// ContractName is the namespace the contract is installed under.
const ContractName = "org.bloodnet.blood"

// Contract is the Fabric contract. Method names follow the transaction names
// clients already invoke.
type Contract struct {
	contractapi.Contract

	// Mode selects how selector queries reach world state.
	Mode fabric.QueryMode
	// Options are applied to the per-transaction service after the clock.
	Options []core.Option
}

// New returns a contract using mode for selector queries.
func New(mode fabric.QueryMode, opts ...core.Option) *Contract {
	c := &Contract{Mode: mode, Options: opts}
	c.Name = ContractName
	return c
}

// NewChaincode wraps contract for the peer.
func NewChaincode(contract *Contract) (*contractapi.ContractChaincode, error) {
	cc, err := contractapi.NewChaincode(contract)
	if err != nil {
		return nil, fmt.Errorf("create chaincode: %w", err)
	}
	cc.Info.Title = "bloodledger"
	cc.Info.Version = "1.0.0"
	return cc, nil
}

// service binds a Service to the invocation. The clock is pinned to the
// proposal timestamp so that every endorser computes identical records.
func (c *Contract) service(ctx contractapi.TransactionContextInterface) (*core.Service, error) {
	stub := ctx.GetStub()
	ts, err := stub.GetTxTimestamp()
	if err != nil {
		return nil, domain.StorageError("read tx timestamp", err)
	}
	now := ts.AsTime().UTC()
	opts := append([]core.Option{core.WithClock(core.ClockFunc(func() time.Time { return now }))}, c.Options...)
	return core.NewService(fabric.New(stub, c.Mode), opts...), nil
}

// CreateBloodBag registers a new READY unit at the blood bank.
func (c *Contract) CreateBloodBag(ctx contractapi.TransactionContextInterface, din, mm, bloodType, date, expired, test, donorID, temperature string) (string, error) {
	svc, err := c.service(ctx)
	if err != nil {
		return "", err
	}
	unit, _, err := svc.CreateBloodUnit(context.Background(), domain.BloodUnitInput{
		DIN:         din,
		Volume:      mm,
		BloodType:   bloodType,
		Date:        date,
		Expired:     expired,
		Test:        test,
		DonorID:     donorID,
		Temperature: temperature,
	})
	return encode(unit, err)
}

// QueryAllBlood returns every blood unit.
func (c *Contract) QueryAllBlood(ctx contractapi.TransactionContextInterface) (string, error) {
	svc, err := c.service(ctx)
	if err != nil {
		return "", err
	}
	return encodeList(svc.QueryAllBloodUnits(context.Background()))
}

// QueryBloodBag returns one unit by blood number.
func (c *Contract) QueryBloodBag(ctx contractapi.TransactionContextInterface, bloodNumber string) (string, error) {
	svc, err := c.service(ctx)
	if err != nil {
		return "", err
	}
	return encode(svc.QueryBloodUnit(context.Background(), bloodNumber))
}

// UnderTransportBloodDIN dispatches a unit from the blood bank.
func (c *Contract) UnderTransportBloodDIN(ctx contractapi.TransactionContextInterface, bloodNumber string) (string, error) {
	svc, err := c.service(ctx)
	if err != nil {
		return "", err
	}
	unit, _, err := svc.Dispatch(context.Background(), bloodNumber)
	return encode(unit, err)
}

// DeliveredBloodDIN marks a transported unit as delivered.
func (c *Contract) DeliveredBloodDIN(ctx contractapi.TransactionContextInterface, bloodNumber string) (string, error) {
	svc, err := c.service(ctx)
	if err != nil {
		return "", err
	}
	unit, _, err := svc.Deliver(context.Background(), bloodNumber)
	return encode(unit, err)
}

// UsedBloodDIN marks a delivered unit as used by patientID.
func (c *Contract) UsedBloodDIN(ctx contractapi.TransactionContextInterface, bloodNumber, patientID string) (string, error) {
	svc, err := c.service(ctx)
	if err != nil {
		return "", err
	}
	unit, _, err := svc.Consume(context.Background(), bloodNumber, patientID)
	return encode(unit, err)
}

// ChangeBloodBagLocation moves a unit and hands it to currentOwner.
func (c *Contract) ChangeBloodBagLocation(ctx contractapi.TransactionContextInterface, bloodNumber, location, currentOwner string) (string, error) {
	svc, err := c.service(ctx)
	if err != nil {
		return "", err
	}
	unit, _, err := svc.Relocate(context.Background(), bloodNumber, domain.Location(location), currentOwner)
	return encode(unit, err)
}

// GetHistoryForBloodBag returns every stored version of a unit, oldest first.
func (c *Contract) GetHistoryForBloodBag(ctx contractapi.TransactionContextInterface, bloodNumber string) (string, error) {
	svc, err := c.service(ctx)
	if err != nil {
		return "", err
	}
	return encodeList(svc.BloodUnitHistory(context.Background(), bloodNumber))
}

// QueryDonorOwner returns the units given by donorID.
func (c *Contract) QueryDonorOwner(ctx contractapi.TransactionContextInterface, donorID string) (string, error) {
	svc, err := c.service(ctx)
	if err != nil {
		return "", err
	}
	return encodeList(svc.QueryBloodUnitsByDonor(context.Background(), donorID))
}

// QueryPatientOwner returns the units used by patientID.
func (c *Contract) QueryPatientOwner(ctx contractapi.TransactionContextInterface, patientID string) (string, error) {
	svc, err := c.service(ctx)
	if err != nil {
		return "", err
	}
	return encodeList(svc.QueryBloodUnitsByPatient(context.Background(), patientID))
}

// QueryHospitalOwner returns the processes logged by hospitalID.
func (c *Contract) QueryHospitalOwner(ctx contractapi.TransactionContextInterface, hospitalID string) (string, error) {
	svc, err := c.service(ctx)
	if err != nil {
		return "", err
	}
	return encodeList(svc.QueryProcessesByHospital(context.Background(), hospitalID))
}

// QueryBloodBankOwner returns the processes logged by bloodBankID.
func (c *Contract) QueryBloodBankOwner(ctx contractapi.TransactionContextInterface, bloodBankID string) (string, error) {
	svc, err := c.service(ctx)
	if err != nil {
		return "", err
	}
	return encodeList(svc.QueryProcessesByBloodBank(context.Background(), bloodBankID))
}

// SearchBloodType returns the units of one blood type.
func (c *Contract) SearchBloodType(ctx contractapi.TransactionContextInterface, bloodType string) (string, error) {
	svc, err := c.service(ctx)
	if err != nil {
		return "", err
	}
	return encodeList(svc.QueryBloodUnitsByType(context.Background(), bloodType))
}

// CreateProcess logs a donation or a receipt.
func (c *Contract) CreateProcess(ctx contractapi.TransactionContextInterface, processID, bloodNumber, userID, hospitalID, bloodBankID, processType string) (string, error) {
	svc, err := c.service(ctx)
	if err != nil {
		return "", err
	}
	rec, _, err := svc.CreateProcess(context.Background(), domain.ProcessInput{
		ProcessID:   processID,
		BloodNumber: bloodNumber,
		UserID:      userID,
		HospitalID:  hospitalID,
		BloodBankID: bloodBankID,
		Type:        processType,
	})
	return encode(rec, err)
}

// QueryAllProcess returns every process record.
func (c *Contract) QueryAllProcess(ctx contractapi.TransactionContextInterface) (string, error) {
	svc, err := c.service(ctx)
	if err != nil {
		return "", err
	}
	return encodeList(svc.QueryAllProcesses(context.Background()))
}

// QueryProcess returns one process record by process number.
func (c *Contract) QueryProcess(ctx contractapi.TransactionContextInterface, processNumber string) (string, error) {
	svc, err := c.service(ctx)
	if err != nil {
		return "", err
	}
	return encode(svc.QueryProcess(context.Background(), processNumber))
}

func encode(v any, err error) (string, error) {
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode response: %w", err)
	}
	return string(data), nil
}

// encodeList renders an empty result as [] rather than null.
func encodeList(v any, err error) (string, error) {
	out, err := encode(v, err)
	if err != nil {
		return "", err
	}
	if out == "null" {
		return "[]", nil
	}
	return out, nil
}
