package node

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadOrCreateNodeID_CreatesFile(t *testing.T) {
	dir := t.TempDir()

	id, err := loadOrCreateNodeID(dir)
	if err != nil {
		t.Fatalf("loadOrCreateNodeID() error = %v", err)
	}
	if id == "" {
		t.Fatal("loadOrCreateNodeID() returned empty string")
	}

	// Verify the file was written.
	data, err := os.ReadFile(filepath.Join(dir, "node_id"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if got := strings.TrimSpace(string(data)); got != id {
		t.Errorf("file content = %q, want %q", got, id)
	}
}

func TestLoadOrCreateNodeID_ReturnsExisting(t *testing.T) {
	dir := t.TempDir()

	first, err := loadOrCreateNodeID(dir)
	if err != nil {
		t.Fatalf("first call error = %v", err)
	}

	second, err := loadOrCreateNodeID(dir)
	if err != nil {
		t.Fatalf("second call error = %v", err)
	}
	if second != first {
		t.Errorf("second = %q, want %q (should be stable)", second, first)
	}
}

func TestDeriveIdentity(t *testing.T) {
	dir := t.TempDir()

	identity, err := DeriveIdentity(dir, "porch")
	if err != nil {
		t.Fatalf("DeriveIdentity error: %v", err)
	}
	if identity.ID == "" {
		t.Error("identity.ID is empty")
	}
	if identity.Name != "porch" {
		t.Errorf("identity.Name = %q, want %q", identity.Name, "porch")
	}

	// Stable across calls on the same data dir.
	again, err := DeriveIdentity(dir, "porch")
	if err != nil {
		t.Fatalf("second DeriveIdentity error: %v", err)
	}
	if again.ID != identity.ID {
		t.Errorf("identity not stable: %q then %q", identity.ID, again.ID)
	}
}
