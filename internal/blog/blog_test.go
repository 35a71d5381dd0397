package blog

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestTracefGatedByVerbose(t *testing.T) {
	var buf bytes.Buffer
	SetSink(&buf)
	defer SetSink(nil)

	SetVerbose(false)
	l := New("test")
	l.Tracef("hidden %d", 1)
	if buf.Len() != 0 {
		t.Fatalf("Tracef wrote output while verbose was disabled: %q", buf.String())
	}

	SetVerbose(true)
	defer SetVerbose(false)
	l.Tracef("shown %d", 2)
	if buf.Len() == 0 {
		t.Fatal("Tracef produced no output while verbose was enabled")
	}
}

func TestSinkReceivesJSONEntries(t *testing.T) {
	var buf bytes.Buffer
	SetSink(&buf)
	defer SetSink(nil)

	l := New("cache")
	l.Printf("hit for %s", "foo.obj")

	line := strings.TrimSpace(buf.String())
	var e Entry
	if err := json.Unmarshal([]byte(line), &e); err != nil {
		t.Fatalf("sink line %q did not parse as JSON: %v", line, err)
	}
	if e.Subsystem != "cache" || e.Level != "info" || e.Message != "hit for foo.obj" {
		t.Fatalf("Entry = %+v, want subsystem=cache level=info message=\"hit for foo.obj\"", e)
	}
}
