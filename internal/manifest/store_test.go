package manifest

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestNewStoreMarksPreStagedManifestsReady(t *testing.T) {
	root := t.TempDir()
	toolID := uint64(0xdeadbeef)
	toolDir := filepath.Join(root, strconv.FormatUint(toolID, 16))
	if err := os.MkdirAll(filepath.Join(toolDir, "bin"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(toolDir, "bin", "cc"), []byte("compiler"), 0755); err != nil {
		t.Fatal(err)
	}

	s := NewStore(root)
	if !s.IsReady(toolID) {
		t.Fatal("expected a pre-staged tool directory to be marked ready at startup")
	}
	if got := s.Dir(toolID); got != toolDir {
		t.Fatalf("Dir(%x) = %q, want %q", toolID, got, toolDir)
	}
}

func TestNewStoreIgnoresNonHexEntries(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "not-a-tool-id"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "stray-file"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	s := NewStore(root)
	if s.IsReady(0) {
		t.Fatal("did not expect tool id 0 to be marked ready from unrelated directory entries")
	}
}
