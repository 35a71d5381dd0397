package cache

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDirPublishRetrieveRoundTrip(t *testing.T) {
	d, err := NewDir(t.TempDir(), true, true, nil)
	if err != nil {
		t.Fatal(err)
	}
	const id = "ABCDEF0123456789_00000001_0000000000000002-0000000000000003.1"
	records := [][]byte{[]byte("artifact-bytes"), []byte("pdb-bytes")}
	if err := d.Publish(id, records); err != nil {
		t.Fatal(err)
	}

	got, ok, err := d.Retrieve(id)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("Retrieve reported a miss right after Publish")
	}
	if diff := cmp.Diff(records, got); diff != "" {
		t.Fatalf("round-tripped records: diff (-want +got):\n%s", diff)
	}
}

func TestDirRetrieveMissIsSilent(t *testing.T) {
	d, err := NewDir(t.TempDir(), true, true, nil)
	if err != nil {
		t.Fatal(err)
	}
	_, ok, err := d.Retrieve("00000000000000000_00000000_0000000000000000-0000000000000000.1")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("Retrieve reported a hit for an entry that was never published")
	}
}

func TestDirPublishExistingEntryIsNoOp(t *testing.T) {
	d, err := NewDir(t.TempDir(), true, true, nil)
	if err != nil {
		t.Fatal(err)
	}
	const id = "ABCDEF0123456789_00000001_0000000000000002-0000000000000003.1"
	if err := d.Publish(id, [][]byte{[]byte("first")}); err != nil {
		t.Fatal(err)
	}
	if err := d.Publish(id, [][]byte{[]byte("second")}); err != nil {
		t.Fatal(err)
	}
	got, _, err := d.Retrieve(id)
	if err != nil {
		t.Fatal(err)
	}
	if string(got[0]) != "first" {
		t.Fatalf("Publish overwrote an existing entry; got %q, want %q", got[0], "first")
	}
}

func TestDirReadDisabled(t *testing.T) {
	d, err := NewDir(t.TempDir(), false, true, nil)
	if err != nil {
		t.Fatal(err)
	}
	const id = "ABCDEF0123456789_00000001_0000000000000002-0000000000000003.1"
	if err := d.Publish(id, [][]byte{[]byte("x")}); err != nil {
		t.Fatal(err)
	}
	_, ok, err := d.Retrieve(id)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("Retrieve succeeded with read disabled")
	}
}

func TestDirOutputInfo(t *testing.T) {
	d, err := NewDir(t.TempDir(), true, true, nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{
		"AAAAAAAAAAAAAAAA_00000001_0000000000000002-0000000000000003.1",
		"BBBBBBBBBBBBBBBB_00000001_0000000000000002-0000000000000003.1",
	} {
		if err := d.Publish(id, [][]byte{[]byte("payload")}); err != nil {
			t.Fatal(err)
		}
	}
	info, err := d.OutputInfo(false)
	if err != nil {
		t.Fatal(err)
	}
	if info.Entries != 2 {
		t.Fatalf("Entries = %d, want 2", info.Entries)
	}
	if info.TotalSize == 0 {
		t.Fatal("TotalSize = 0, want > 0")
	}
}
