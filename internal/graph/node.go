// Package graph implements the dependency graph: typed nodes, their
// pre-build/static/dynamic edges, the build-pass recursion that determines
// staleness, and persistence of the node database to disk.
package graph

import "fmt"

// Type identifies which kind of buildable artifact a Node represents.
type Type uint8

const (
	TypeSource Type = iota
	TypeObject
	TypeObjectList
	TypeStaticLibrary
	TypeSharedLibrary
	TypeExecutable
	TypeAlias
	TypeDirectoryListing
	TypeUnity
	TypeCopy
	TypeCopyDir
	TypeRemoveDir
	TypeExec
	TypeTest
	TypeCompiler
	TypeSettings
	TypeWorkerSettings
	TypeTextFile
	TypeListDependencies
	TypeCompilerInfo
	TypeProxy

	numTypes
)

var typeNames = [numTypes]string{
	TypeSource:           "Source",
	TypeObject:           "Object",
	TypeObjectList:       "ObjectList",
	TypeStaticLibrary:    "StaticLibrary",
	TypeSharedLibrary:    "SharedLibrary",
	TypeExecutable:       "Executable",
	TypeAlias:            "Alias",
	TypeDirectoryListing: "DirectoryListing",
	TypeUnity:            "Unity",
	TypeCopy:             "Copy",
	TypeCopyDir:          "CopyDir",
	TypeRemoveDir:        "RemoveDir",
	TypeExec:             "Exec",
	TypeTest:             "Test",
	TypeCompiler:         "Compiler",
	TypeSettings:         "Settings",
	TypeWorkerSettings:   "WorkerSettings",
	TypeTextFile:         "TextFile",
	TypeListDependencies: "ListDependencies",
	TypeCompilerInfo:     "CompilerInfo",
	TypeProxy:            "Proxy",
}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("Type(%d)", t)
}

// State is a node's position in its build-pass state machine. States only
// move forward within a single build pass.
type State uint8

const (
	NotProcessed State = iota
	PreDepsReady
	StaticDepsReady
	DynamicDepsDone
	Building
	Failed
	UpToDate
)

func (s State) String() string {
	switch s {
	case NotProcessed:
		return "NotProcessed"
	case PreDepsReady:
		return "PreDepsReady"
	case StaticDepsReady:
		return "StaticDepsReady"
	case DynamicDepsDone:
		return "DynamicDepsDone"
	case Building:
		return "Building"
	case Failed:
		return "Failed"
	case UpToDate:
		return "UpToDate"
	}
	return "Unknown"
}

// ControlFlag bits are set at node-creation time and never change.
type ControlFlag uint8

const (
	FlagNone ControlFlag = 0
	// FlagTrivialBuild means DoBuild may run inline on the main thread
	// instead of being queued (e.g. Alias, RemoveDir).
	FlagTrivialBuild ControlFlag = 1 << iota
	// FlagKeepOnFailure means a failed build must not delete a
	// pre-existing output (e.g. Test, so logs survive).
	FlagKeepOnFailure
)

// StatsFlag bits accumulate per build pass for reporting.
type StatsFlag uint32

const (
	StatProcessed StatsFlag = 1 << iota
	StatBuilt
	StatCacheHit
	StatCacheMiss
	StatCacheStore
	StatBuiltRemote
)

// BuildResult is the four-valued outcome of DoBuild: plain success/failure
// are not enough once jobs can be distributable, since a job can also
// need to return to the main thread before being raced or dispatched
// remotely.
type BuildResult uint8

const (
	ResultFailed BuildResult = iota
	ResultNeedSecondBuildPass
	ResultOK
	ResultOKCache
)

// InvalidIndex marks a Node or Dependency without an assigned dense index.
const InvalidIndex = ^uint32(0)

// Node is a vertex in the dependency graph. Common fields live here;
// type-specific attributes live in Attrs (one concrete *Attrs type per
// Type, see attrs.go).
type Node struct {
	index uint32
	name  string
	crc   uint32 // fast pre-check hash of name, see canon.go

	Type    Type
	Control ControlFlag
	Attrs   NodeAttrs

	state State

	// Stamp is 0 iff the node has never been successfully built.
	Stamp uint64

	Stats StatsFlag

	LastBuildTimeMs    uint32
	RecursiveCost      uint32
	ProgressAccumulator uint32

	// buildPassTag prevents re-entering a node twice within one
	// build_pass call.
	buildPassTag uint32

	PreBuild []*Dependency
	Static   []*Dependency
	Dynamic  []*Dependency
}

// NodeAttrs is implemented by the per-type attribute structs in attrs.go.
// It carries nothing beyond a marker method; callers type-switch on the
// concrete type (Node.Type tells them which one to expect).
type NodeAttrs interface {
	nodeAttrs()
}

func newNode(name string, typ Type, control ControlFlag, attrs NodeAttrs) *Node {
	return &Node{
		index:   InvalidIndex,
		name:    name,
		crc:     nameCRC(name),
		Type:    typ,
		Control: control,
		Attrs:   attrs,
		state:   NotProcessed,
	}
}

func (n *Node) Name() string   { return n.name }
func (n *Node) Index() uint32  { return n.index }
func (n *Node) State() State   { return n.state }
func (n *Node) CRC() uint32    { return n.crc }

// IsAFile reports whether this node's name maps to a filesystem artifact
// (as opposed to a purely logical node like Alias or Settings).
func (n *Node) IsAFile() bool {
	switch n.Type {
	case TypeAlias, TypeSettings, TypeWorkerSettings, TypeListDependencies, TypeCompilerInfo, TypeProxy:
		return false
	default:
		return true
	}
}

func (n *Node) SetStatFlag(f StatsFlag) { n.Stats |= f }
func (n *Node) HasStatFlag(f StatsFlag) bool { return n.Stats&f != 0 }

// CompleteBuild commits a Job's outcome to its Node once the Build Driver
// has finalized it (finalize_completed_jobs): a successful
// result moves the node to UpToDate, stamps it, and records the stamps of
// every dependency edge so future passes can detect staleness relative to
// this build; a failure moves it to Failed and leaves Stamp untouched
// (Stamp is 0 iff never successfully built, so a failed rebuild of a node
// that previously succeeded keeps its old stamp stale rather than zeroing
// it). A Failed node is not retried for the rest of this build; the next
// build, which loads it afresh, tries it again.
func (n *Node) CompleteBuild(result BuildResult, stamp uint64) {
	switch result {
	case ResultOK, ResultOKCache:
		n.Stamp = stamp
		n.state = UpToDate
		n.recordBuildStamps()
		if result == ResultOKCache {
			n.SetStatFlag(StatCacheHit)
		} else {
			n.SetStatFlag(StatBuilt)
		}
	default:
		n.state = Failed
	}
}
