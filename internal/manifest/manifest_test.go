package manifest

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func writeTree(t *testing.T, root string) {
	t.Helper()
	mustWrite := func(rel, content string, exec bool) {
		p := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		mode := os.FileMode(0644)
		if exec {
			mode = 0755
		}
		if err := os.WriteFile(p, []byte(content), mode); err != nil {
			t.Fatal(err)
		}
	}
	mustWrite("bin/cl.exe", "compiler-bytes", true)
	mustWrite("lib/c1.dll", "dll-bytes", false)
}

func TestBuildManifestIdentityStableAcrossCopies(t *testing.T) {
	root1 := t.TempDir()
	root2 := t.TempDir()
	writeTree(t, root1)
	writeTree(t, root2)

	m1, err := Build(root1, false)
	if err != nil {
		t.Fatal(err)
	}
	m2, err := Build(root2, false)
	if err != nil {
		t.Fatal(err)
	}
	if m1.ToolID != m2.ToolID {
		t.Fatalf("ToolID differs between two identical trees: %d != %d", m1.ToolID, m2.ToolID)
	}
	if len(m1.Files) != 2 {
		t.Fatalf("Files = %d entries, want 2", len(m1.Files))
	}
}

func TestBundleRoundTrip(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root)

	m, err := Build(root, false)
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := WriteBundle(&buf, root, m); err != nil {
		t.Fatal(err)
	}

	dest := t.TempDir()
	if err := ExtractBundle(&buf, dest); err != nil {
		t.Fatal(err)
	}

	for _, f := range m.Files {
		got, err := os.ReadFile(filepath.Join(dest, f.RelPath))
		if err != nil {
			t.Fatal(err)
		}
		want, err := os.ReadFile(filepath.Join(root, f.RelPath))
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("%s: extracted content differs", f.RelPath)
		}
	}
}
