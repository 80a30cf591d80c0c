package scratch_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sebastian-mora/ec2-managed-ssh-authd/internal/scratch"
)

func TestNewInAndClose(t *testing.T) {
	base := t.TempDir()

	d, err := scratch.NewIn(base)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	info, err := os.Stat(d.Path)
	if err != nil {
		t.Fatalf("scratch dir missing: %v", err)
	}
	if info.Mode().Perm() != 0700 {
		t.Fatalf("expected mode 0700, got %v", info.Mode().Perm())
	}

	if err := d.WriteFile("secret", []byte("hunter2"), 0400); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := os.Stat(filepath.Join(d.Path, "secret")); err != nil {
		t.Fatalf("written file missing: %v", err)
	}

	if err := d.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := os.Stat(d.Path); !os.IsNotExist(err) {
		t.Fatalf("expected scratch dir to be gone, got err=%v", err)
	}
}

func TestCloseNilIsNoop(t *testing.T) {
	var d *scratch.Dir
	if err := d.Close(); err != nil {
		t.Fatalf("expected nil Close to be a no-op, got %v", err)
	}
}
