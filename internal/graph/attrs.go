package graph

// Per-type attribute structs. Each implements NodeAttrs via the unexported
// nodeAttrs marker method below; Node.Attrs holds one of these depending on
// Node.Type.

type SourceAttrs struct {
	Path string // absolute, canonicalized filesystem path
}

type ObjectAttrs struct {
	CompilerNode   string // name of the Compiler node used to build this
	CompilerArgs   []string
	PrecompiledHdr string // cache id component, empty if none
	OutputPath     string
}

type ObjectListAttrs struct {
	CompilerNode string
	CompilerArgs []string
	OutputDir    string
}

type LibraryAttrs struct {
	OutputPath string
}

type DLLAttrs struct {
	OutputPath     string
	ImportLibPath  string // generated alongside the DLL, e.g. foo.dll + foo.lib
}

type ExeAttrs struct {
	OutputPath string
	LinkerArgs []string
}

type AliasAttrs struct{}

type DirectoryListingAttrs struct {
	Dir      string
	Patterns []string
	Recurse  bool
}

type UnityAttrs struct {
	OutputPattern string // e.g. "Unity%d.cpp"
	NumFiles      int
	Isolated      map[string]bool // source names excluded because they became writable
}

type CopyAttrs struct {
	Source string
	Dest   string
}

type CopyDirAttrs struct {
	SourceDir string
	DestDir   string
	Patterns  []string
}

type RemoveDirAttrs struct {
	Dir string
}

type ExecAttrs struct {
	Cmd        string
	Args       []string
	WorkingDir string
}

type TestAttrs struct {
	Cmd        string
	Args       []string
	TimeoutSec int
}

type CompilerAttrs struct {
	Executable string
	ExtraFiles []string // DLLs, forced-include headers, support files
}

type CompilerInfoAttrs struct {
	CompilerNode string
	Family       string // "msvc", "gcc", "clang"
}

type SettingsAttrs struct {
	CachePath    string
	CacheReadEnabled  bool
	CacheWriteEnabled bool
}

type WorkerSettingsMode uint8

const (
	WorkerModeDisabled WorkerSettingsMode = iota
	WorkerModeWhenIdle
	WorkerModeDedicated
)

type WorkerSettingsAttrs struct {
	ConnectionLimit   int
	MinimumFreeMemMiB int
	Mode              WorkerSettingsMode
}

type TextFileAttrs struct {
	OutputPath string
	Content    string
}

type ListDependenciesAttrs struct {
	Target string
}

type ProxyAttrs struct {
	Targets []string // aggregates build-only ordering across several nodes
}

func (SourceAttrs) nodeAttrs()           {}
func (ObjectAttrs) nodeAttrs()           {}
func (ObjectListAttrs) nodeAttrs()       {}
func (LibraryAttrs) nodeAttrs()          {}
func (DLLAttrs) nodeAttrs()              {}
func (ExeAttrs) nodeAttrs()              {}
func (AliasAttrs) nodeAttrs()            {}
func (DirectoryListingAttrs) nodeAttrs() {}
func (UnityAttrs) nodeAttrs()            {}
func (CopyAttrs) nodeAttrs()             {}
func (CopyDirAttrs) nodeAttrs()          {}
func (RemoveDirAttrs) nodeAttrs()        {}
func (ExecAttrs) nodeAttrs()             {}
func (TestAttrs) nodeAttrs()             {}
func (CompilerAttrs) nodeAttrs()         {}
func (CompilerInfoAttrs) nodeAttrs()     {}
func (SettingsAttrs) nodeAttrs()         {}
func (WorkerSettingsAttrs) nodeAttrs()   {}
func (TextFileAttrs) nodeAttrs()         {}
func (ListDependenciesAttrs) nodeAttrs() {}
func (ProxyAttrs) nodeAttrs()            {}
