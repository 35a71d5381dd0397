package dist

import (
	"bytes"

	"github.com/nccbuild/fbuild/internal/wire"
)

// RemoteJobSpec is the MsgJob payload for a compile dispatched to a remote
// worker: the already-resolved compiler
// invocation plus the translation unit's content, so a worker needs
// nothing beyond its already-synced tool manifest for toolID to run it.
type RemoteJobSpec struct {
	ToolRelPath string   // compiler executable, relative to the tool manifest root
	Args        []string // compiler args, excluding the source file itself
	Source      []byte   // translation unit content
	OutputPath  string   // the driver-local absolute path Args reference as the output; the worker substitutes its own temp path for this exact token before invoking the compiler
	OutputName  string   // base name of OutputPath, for naming the worker's temp output file with a recognizable extension
}

func MarshalRemoteJobSpec(s RemoteJobSpec) []byte {
	var buf bytes.Buffer
	w := wire.NewWriter(&buf)
	w.WriteString(s.ToolRelPath)
	w.WriteStrings(s.Args)
	w.WriteBytes(s.Source)
	w.WriteString(s.OutputPath)
	w.WriteString(s.OutputName)
	return buf.Bytes()
}

func UnmarshalRemoteJobSpec(b []byte) (RemoteJobSpec, error) {
	r := wire.NewReader(bytes.NewReader(b))
	var s RemoteJobSpec
	s.ToolRelPath = r.ReadString()
	s.Args = r.ReadStrings()
	s.Source = r.ReadBytes()
	s.OutputPath = r.ReadString()
	s.OutputName = r.ReadString()
	return s, r.Err()
}
