package domain

import (
	"errors"
	"testing"
)

func TestCompositeKeyInjective(t *testing.T) {
	tuples := [][]string{
		{"d524", "BD58911"},
		{"d524", "BD5891"},
		{"d52", "4BD58911"},
		{"d524:BD58911"},
		{"d524", "BD:58911"},
		{"d524:BD", "58911"},
		{"", "d524BD58911"},
		{"d524BD58911", ""},
		{"d524", "BD58911", ""},
		{"ü", "血液"},
		{},
	}
	seen := make(map[string][]string, len(tuples))
	for _, parts := range tuples {
		key, err := CreateCompositeKey(ListBloodUnits, parts)
		if err != nil {
			t.Fatalf("create key %q: %v", parts, err)
		}
		if prev, dup := seen[key]; dup {
			t.Fatalf("tuples %q and %q collide on %q", prev, parts, key)
		}
		seen[key] = parts

		again, err := CreateCompositeKey(ListBloodUnits, parts)
		if err != nil || again != key {
			t.Fatalf("key derivation not deterministic for %q: %q vs %q (%v)", parts, key, again, err)
		}
	}
}

func TestCompositeKeyListsDoNotCollide(t *testing.T) {
	a, _ := CreateCompositeKey(ListBloodUnits, []string{"P1", "donate"})
	b, _ := CreateCompositeKey(ListProcesses, []string{"P1", "donate"})
	if a == b {
		t.Fatalf("expected list name to partition keys")
	}
}

func TestSplitCompositeKeyRoundTrip(t *testing.T) {
	parts := []string{"d524", "BD:58911", ""}
	key, err := CreateCompositeKey(ListBloodUnits, parts)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	list, got, err := SplitCompositeKey(key)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if list != ListBloodUnits {
		t.Fatalf("expected list %q, got %q", ListBloodUnits, list)
	}
	if len(got) != len(parts) {
		t.Fatalf("expected %d parts, got %q", len(parts), got)
	}
	for i := range parts {
		if got[i] != parts[i] {
			t.Fatalf("part %d: expected %q, got %q", i, parts[i], got[i])
		}
	}
	if _, _, err := SplitCompositeKey("plain"); !errors.Is(err, ErrInvalidAttribute) {
		t.Fatalf("expected invalid attribute for plain key, got %v", err)
	}
	if _, _, err := SplitCompositeKey("\x00"); !errors.Is(err, ErrInvalidAttribute) {
		t.Fatalf("expected invalid attribute for bare delimiter, got %v", err)
	}
}

func TestCompositeKeyRejectsReservedRunes(t *testing.T) {
	cases := map[string][]string{
		"nul":          {"d5\x0024", "BD1"},
		"max rune":     {"d524", "BD\U0010FFFF"},
		"invalid utf8": {"d524", string([]byte{0xff, 0xfe})},
	}
	for name, parts := range cases {
		if _, err := CreateCompositeKey(ListBloodUnits, parts); !errors.Is(err, ErrInvalidAttribute) {
			t.Fatalf("%s: expected invalid attribute, got %v", name, err)
		}
	}
	if _, err := CreateCompositeKey("bad\x00list", nil); !errors.Is(err, ErrInvalidAttribute) {
		t.Fatalf("expected list name validation, got %v", err)
	}
}

func TestParseLogicalKeys(t *testing.T) {
	donor, din, err := ParseBloodNumber("d524:BD:58911")
	if err != nil {
		t.Fatalf("parse blood number: %v", err)
	}
	if donor != "d524" || din != "BD:58911" {
		t.Fatalf("unexpected split %q %q", donor, din)
	}
	for _, bad := range []string{"", "d524", ":BD1", "d524:"} {
		if _, _, err := ParseBloodNumber(bad); !errors.Is(err, ErrInvalidAttribute) {
			t.Fatalf("expected invalid attribute for %q, got %v", bad, err)
		}
	}

	id, action, err := ParseProcessNumber("P:43:67:recieve")
	if err != nil {
		t.Fatalf("parse process number: %v", err)
	}
	if id != "P:43:67" || action != ActionReceive {
		t.Fatalf("unexpected split %q %q", id, action)
	}
	for _, bad := range []string{"P4367", ":donate", "P4367:", "P4367:transfuse"} {
		if _, _, err := ParseProcessNumber(bad); !errors.Is(err, ErrInvalidAttribute) {
			t.Fatalf("expected invalid attribute for %q, got %v", bad, err)
		}
	}
	if got := ProcessNumber("P4367", ActionDonate); got != "P4367:donate" {
		t.Fatalf("unexpected process number %q", got)
	}
}
