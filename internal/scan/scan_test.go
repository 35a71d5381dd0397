package scan

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func identity(s string) string { return s }

func TestScanMSVCShowInclude(t *testing.T) {
	s := NewScanner(FamilyMSVCShowInclude, identity, false)
	input := strings.Join([]string{
		"Note: including file: C:\\proj\\a.h",
		"Note: including file:  C:\\proj\\b.h",
		"Note: including file: C:\\proj\\a.h", // repeat, must be deduped
	}, "\n")
	if err := s.Scan([]byte(input)); err != nil {
		t.Fatal(err)
	}
	want := []string{`C:\proj\a.h`, `C:\proj\b.h`}
	if diff := cmp.Diff(want, s.Headers); diff != "" {
		t.Fatalf("Headers: diff (-want +got):\n%s", diff)
	}
}

func TestScanMSVCPreprocessedFirstLine(t *testing.T) {
	s := NewScanner(FamilyMSVCPreprocessed, identity, false)
	input := `#line 1 "a.h"` + "\n" + `int x;` + "\n" + `#line 2 "b.h"` + "\n"
	if err := s.Scan([]byte(input)); err != nil {
		t.Fatal(err)
	}
	want := []string{"a.h", "b.h"}
	if diff := cmp.Diff(want, s.Headers); diff != "" {
		t.Fatalf("Headers: diff (-want +got):\n%s", diff)
	}
}

func TestScanGCCMarkerSkipsSyntheticAndDirs(t *testing.T) {
	s := NewScanner(FamilyGCCPreprocessed, identity, false)
	input := strings.Join([]string{
		`# 1 "foo.cpp"`,
		`# 1 "<built-in>"`,
		`# 1 "/usr/include/"`,
		`# 1 "/usr/include/stdio.h" 1 3 4`,
	}, "\n")
	if err := s.Scan([]byte(input)); err != nil {
		t.Fatal(err)
	}
	want := []string{"foo.cpp", "/usr/include/stdio.h"}
	if diff := cmp.Diff(want, s.Headers); diff != "" {
		t.Fatalf("Headers: diff (-want +got):\n%s", diff)
	}
}

func TestScanCaseFoldDedup(t *testing.T) {
	s := NewScanner(FamilyGCCPreprocessed, identity, true)
	input := strings.Join([]string{
		`# 1 "/usr/include/Foo.h"`,
		`# 1 "/usr/include/foo.h"`, // same file on a case-insensitive FS
	}, "\n")
	if err := s.Scan([]byte(input)); err != nil {
		t.Fatal(err)
	}
	if len(s.Headers) != 1 {
		t.Fatalf("Headers = %v, want exactly one entry after case-fold dedup", s.Headers)
	}
}
