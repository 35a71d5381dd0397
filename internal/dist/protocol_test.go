package dist

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMessageRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	body := MarshalJobHeader(JobHeader{JobID: 7, ToolID: 42, NodeName: "foo.obj", RequiredTags: []string{"linux", "amd64"}})
	if err := WriteMessage(&buf, MsgJob, body, []byte("preprocessed source")); err != nil {
		t.Fatal(err)
	}

	msg, err := ReadMessage(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Type != MsgJob {
		t.Fatalf("Type = %v, want MsgJob", msg.Type)
	}
	if string(msg.Payload) != "preprocessed source" {
		t.Fatalf("Payload = %q, want %q", msg.Payload, "preprocessed source")
	}

	jh, err := UnmarshalJobHeader(msg.Body)
	if err != nil {
		t.Fatal(err)
	}
	want := JobHeader{JobID: 7, ToolID: 42, NodeName: "foo.obj", RequiredTags: []string{"linux", "amd64"}}
	if diff := cmp.Diff(want, jh); diff != "" {
		t.Fatalf("JobHeader mismatch (-want +got):\n%s", diff)
	}
}

func TestMessageWithoutPayload(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteMessage(&buf, MsgRequestFile, MarshalRequestFile(RequestFile{ToolID: 1, FileIndex: 3}), nil); err != nil {
		t.Fatal(err)
	}
	msg, err := ReadMessage(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Payload != nil {
		t.Fatalf("Payload = %v, want nil", msg.Payload)
	}
	rf, err := UnmarshalRequestFile(msg.Body)
	if err != nil {
		t.Fatal(err)
	}
	if rf.ToolID != 1 || rf.FileIndex != 3 {
		t.Fatalf("RequestFile = %+v, want {ToolID:1 FileIndex:3}", rf)
	}
}

func TestManifestMarshalRoundTrip(t *testing.T) {
	m := ManifestMsg{
		ToolID: 99,
		Files: []ManifestFile{
			{RelPath: "bin/cc1", Size: 1024, ContentHash: 0xdeadbeef, Executable: true},
			{RelPath: "include/stdio.h", Size: 512, ContentHash: 0xcafef00d, Executable: false},
		},
	}
	body := MarshalManifest(m)
	got, err := UnmarshalManifest(body)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(m, got); diff != "" {
		t.Fatalf("ManifestMsg mismatch (-want +got):\n%s", diff)
	}
}

func TestJobResultMarshalRoundTrip(t *testing.T) {
	j := JobResult{JobID: 55, Result: 2, SystemError: false, Diagnostics: "warning: unused variable"}
	got, err := UnmarshalJobResult(MarshalJobResult(j))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(j, got); diff != "" {
		t.Fatalf("JobResult mismatch (-want +got):\n%s", diff)
	}
}

func TestServerStatusEmptyTags(t *testing.T) {
	s := ServerStatus{}
	got, err := UnmarshalServerStatus(MarshalServerStatus(s))
	if err != nil {
		t.Fatal(err)
	}
	if len(got.TagsAdded) != 0 || len(got.TagsRemoved) != 0 {
		t.Fatalf("ServerStatus = %+v, want empty tag lists", got)
	}
}
