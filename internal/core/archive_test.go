package core

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"bloodledger/internal/blob"
	"bloodledger/pkg/domain"
)

func TestArchiveBloodUnitHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	bn := f.mustReachHospital(t, unitInput("d524", "BD58911"))
	store := blob.NewMemory()

	info, err := f.svc.ArchiveBloodUnitHistory(ctx, bn, store)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if !strings.HasPrefix(info.Key, "custody/d524/BD58911/20210219T080000Z-") || !strings.HasSuffix(info.Key, ".json") {
		t.Fatalf("unexpected archive key %q", info.Key)
	}
	if info.ContentType != "application/json" || info.Metadata["blood-number"] != bn || info.Metadata["versions"] != "5" {
		t.Fatalf("unexpected archive info %+v", info)
	}

	_, rc, err := store.Get(ctx, info.Key)
	if err != nil {
		t.Fatalf("get report: %v", err)
	}
	defer func() { _ = rc.Close() }()
	raw, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	var report struct {
		BloodNumber string            `json:"bloodNumber"`
		Versions    int               `json:"versions"`
		Degraded    int               `json:"degradedVersions"`
		Latest      *domain.BloodUnit `json:"latest"`
		History     []struct {
			TxID  string `json:"txId"`
			Value struct {
				Class string `json:"class"`
				Key   string `json:"key"`
			} `json:"value"`
		} `json:"history"`
	}
	if err := json.Unmarshal(raw, &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.BloodNumber != bn || report.Versions != 5 || report.Degraded != 0 || len(report.History) != 5 {
		t.Fatalf("unexpected report header %+v", report)
	}
	if report.Latest == nil || report.Latest.CurrentState != domain.StateDelivered || report.Latest.Location != domain.LocationHospital {
		t.Fatalf("unexpected latest version %+v", report.Latest)
	}
	if v := report.History[0].Value; v.Class != domain.ClassBloodUnit || v.Key != bn {
		t.Fatalf("history values should keep their envelope: %+v", v)
	}

	second, err := f.svc.ArchiveBloodUnitHistory(ctx, bn, store)
	if err != nil {
		t.Fatalf("second archive: %v", err)
	}
	if second.Key == info.Key {
		t.Fatalf("archives must not overwrite each other")
	}
	listed, err := store.List(ctx, "custody/d524/")
	if err != nil || len(listed) != 2 {
		t.Fatalf("expected 2 reports, got %d (%v)", len(listed), err)
	}
}

func TestArchiveCountsDegradedVersions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	bn := f.mustCreate(t, unitInput("d1", "BD1")).BloodNumber()
	if err := f.store.Corrupt(ctx, rawKey(t, domain.ListBloodUnits, "d1", "BD1"), []byte("{")); err != nil {
		t.Fatalf("corrupt: %v", err)
	}
	info, err := f.svc.ArchiveBloodUnitHistory(ctx, bn, blob.NewMemory())
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if info.Metadata["versions"] != "2" {
		t.Fatalf("unexpected versions %q", info.Metadata["versions"])
	}
}

func TestArchiveErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.ArchiveBloodUnitHistory(ctx, "d1:BD1", nil)
	expectKind(t, err, domain.KindInvalidAttribute)
	_, err = f.svc.ArchiveBloodUnitHistory(ctx, "d1:BD404", blob.NewMemory())
	expectKind(t, err, domain.KindNotFound)
	_, err = f.svc.ArchiveBloodUnitHistory(ctx, "nocolon", blob.NewMemory())
	expectKind(t, err, domain.KindInvalidAttribute)
}

func TestArchiveKeyEscapesSegments(t *testing.T) {
	cases := map[string]string{
		"d1:BD1":   "custody/d1/BD1/",
		"d1:a/b":   "custody/d1/a%2Fb/",
		"d1:..":    "custody/d1/%2E%2E/",
		"d1:BD:1":  "custody/d1/BD:1/",
		"d 2:BD 1": "custody/d%202/BD%201/",
		"d3:v1.2":  "custody/d3/v1.2/",
	}
	for bn, want := range cases {
		got, err := ArchiveKey(bn)
		if err != nil {
			t.Fatalf("%s: %v", bn, err)
		}
		if got != want {
			t.Fatalf("ArchiveKey(%q) = %q, want %q", bn, got, want)
		}
	}
}
