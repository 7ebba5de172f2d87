package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"bloodledger/internal/blob"
	"bloodledger/pkg/domain"
)

// ArchivePrefix is the blob key prefix custody reports are written under.
const ArchivePrefix = "custody/"

// CustodyReport is the archived custody chain of one blood unit.
type CustodyReport struct {
	BloodNumber string            `json:"bloodNumber"`
	GeneratedAt time.Time         `json:"generatedAt"`
	Versions    int               `json:"versions"`
	Degraded    int               `json:"degradedVersions"`
	Latest      *domain.BloodUnit `json:"latest,omitempty"`
	History     []HistoryEntry    `json:"history"`
}

// ArchiveKey returns the blob key prefix holding the reports of bloodNumber.
// Key parts are path escaped so identifiers cannot leave the prefix.
func ArchiveKey(bloodNumber string) (string, error) {
	donorID, din, err := domain.ParseBloodNumber(bloodNumber)
	if err != nil {
		return "", err
	}
	return ArchivePrefix + escapeSegment(donorID) + "/" + escapeSegment(din) + "/", nil
}

func escapeSegment(part string) string {
	escaped := url.PathEscape(part)
	if strings.Trim(escaped, ".") == "" {
		return strings.ReplaceAll(escaped, ".", "%2E")
	}
	return escaped
}

// ArchiveBloodUnitHistory reads the unit's full history and writes it to store
// as a new JSON custody report. Reports are never overwritten; every call
// produces a new object.
func (s *Service) ArchiveBloodUnitHistory(ctx context.Context, bloodNumber string, store blob.Store) (blob.Info, error) {
	start := s.clock.Now()
	info, err := s.archive(ctx, bloodNumber, store)
	s.metrics.Observe(ctx, OpArchiveHistory, err == nil, s.clock.Now().Sub(start))
	if err != nil {
		s.logger.Error("archive failed", "operation", OpArchiveHistory, "key", bloodNumber, "error", err)
		return blob.Info{}, err
	}
	s.logger.Info("history archived", "operation", OpArchiveHistory, "key", bloodNumber, "blob", info.Key, "driver", string(store.Driver()), "size", info.Size)
	return info, nil
}

func (s *Service) archive(ctx context.Context, bloodNumber string, store blob.Store) (blob.Info, error) {
	if store == nil {
		return blob.Info{}, domain.NewError(domain.KindInvalidAttribute, "blob store is required")
	}
	prefix, err := ArchiveKey(bloodNumber)
	if err != nil {
		return blob.Info{}, err
	}
	history, err := s.BloodUnitHistory(ctx, bloodNumber)
	if err != nil {
		return blob.Info{}, err
	}
	now := s.clock.Now().UTC()
	report := CustodyReport{
		BloodNumber: bloodNumber,
		GeneratedAt: now,
		Versions:    len(history),
		History:     history,
	}
	for i := range history {
		if history[i].Degraded {
			report.Degraded++
			continue
		}
		if unit, ok := history[i].Value.(domain.BloodUnit); ok {
			report.Latest = &unit
		}
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return blob.Info{}, fmt.Errorf("encode custody report: %w", err)
	}
	key := prefix + now.Format("20060102T150405Z") + "-" + uuid.NewString() + ".json"
	info, err := store.Put(ctx, key, bytes.NewReader(data), blob.PutOptions{
		ContentType: "application/json",
		Metadata: map[string]string{
			"blood-number": bloodNumber,
			"versions":     fmt.Sprint(len(history)),
		},
	})
	if err != nil {
		return blob.Info{}, domain.StorageError("archive "+bloodNumber, err)
	}
	return info, nil
}
