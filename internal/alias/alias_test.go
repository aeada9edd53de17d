package alias

import (
	"sort"
	"testing"
)

func TestSetGetByCanonicalAndAlias(t *testing.T) {
	d := New[uint16, string]()
	d.Set(1, "general")
	d.AddAlias(1, 100) // pretend 100 is a hash of "general"

	if v, ok := d.Get(1); !ok || v != "general" {
		t.Fatalf("Get(1) = %q, %v", v, ok)
	}
	if v, ok := d.Get(100); !ok || v != "general" {
		t.Fatalf("Get(alias) = %q, %v", v, ok)
	}
	if !d.Contains(100) {
		t.Fatal("Contains(alias) = false")
	}
}

func TestSetThroughAliasUpdatesCanonical(t *testing.T) {
	d := New[uint16, string]()
	d.Set(1, "general")
	d.AddAlias(1, 100)

	d.Set(100, "updated")

	if v, _ := d.Get(1); v != "updated" {
		t.Fatalf("Get(1) = %q, want updated", v)
	}
	if d.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 (alias-set must not create a second entry)", d.Len())
	}
}

func TestDeletePurgesAliases(t *testing.T) {
	d := New[uint16, string]()
	d.Set(1, "general")
	d.AddAlias(1, 100)
	d.AddAlias(1, 101)

	d.Delete(1)

	if d.Contains(1) || d.Contains(100) || d.Contains(101) {
		t.Fatal("entry or alias survived Delete")
	}
}

func TestKeysIncludesAliases(t *testing.T) {
	d := New[uint16, string]()
	d.Set(1, "general")
	d.AddAlias(1, 100)

	keys := d.Keys()
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	want := []uint16{1, 100}
	if len(keys) != len(want) || keys[0] != want[0] || keys[1] != want[1] {
		t.Fatalf("Keys() = %v, want %v", keys, want)
	}
}

func TestMissingKey(t *testing.T) {
	d := New[uint16, string]()
	if _, ok := d.Get(42); ok {
		t.Fatal("Get on empty dict returned ok=true")
	}
	if d.Contains(42) {
		t.Fatal("Contains on empty dict returned true")
	}
}
