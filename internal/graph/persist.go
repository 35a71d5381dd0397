package graph

import (
	"io"
	"os"

	"github.com/google/renameio"
	"golang.org/x/xerrors"

	"github.com/nccbuild/fbuild/internal/wire"
)

// magic and version identify the persisted node database file:
// 'N','G','D' followed by a single version byte. A version mismatch
// forces the caller to reparse the build configuration from scratch
// rather than trust the stale graph.
var magic = [3]byte{'N', 'G', 'D'}

const currentVersion = 1

var ErrBadMagic = xerrors.New("graph: not a node database (bad magic)")

// Save writes the header (magic, version, used-config-file list) followed
// by every node, each self-describing by type tag. Node records carry no
// length prefix of their own: each is its type tag followed directly by
// its fields.
func (g *NodeGraph) Save(w io.Writer) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, err := w.Write(magic[:]); err != nil {
		return err
	}
	if _, err := w.Write([]byte{currentVersion}); err != nil {
		return err
	}

	ww := wire.NewWriter(w)
	ww.WriteUint32(uint32(len(g.UsedConfigFiles)))
	for _, cf := range g.UsedConfigFiles {
		ww.WriteString(cf.Path)
		ww.WriteUint64(uint64(cf.MtimeUnixNano))
	}

	ww.WriteUint32(uint32(len(g.byIndex)))
	for _, n := range g.byIndex {
		saveNode(ww, n)
	}
	return ww.Err()
}

// LoadResult reports whether the persisted graph can be trusted as-is or
// whether the configuration must be reparsed (version mismatch, or a used
// config file's mtime no longer matches what was recorded).
type LoadResult struct {
	Graph        *NodeGraph
	NeedsReparse bool
}

// Load reads a database previously written by Save. If any recorded used
// config file's mtime has changed (or the file is gone), or the version
// byte doesn't match, NeedsReparse is set and the configuration must be
// reparsed from scratch; the caller should not trust Graph's node set in
// that case (it is still returned for diagnostic purposes).
func Load(r io.Reader, statMtime func(path string) (int64, bool)) (*LoadResult, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	if hdr[0] != magic[0] || hdr[1] != magic[1] || hdr[2] != magic[2] {
		return nil, ErrBadMagic
	}
	version := hdr[3]

	g := New()
	rr := wire.NewReader(r)

	numFiles := rr.ReadUint32()
	needsReparse := version != currentVersion
	for i := uint32(0); i < numFiles; i++ {
		path := rr.ReadString()
		mtime := int64(rr.ReadUint64())
		g.UsedConfigFiles = append(g.UsedConfigFiles, ConfigFileStamp{Path: path, MtimeUnixNano: mtime})
		if statMtime != nil {
			cur, ok := statMtime(path)
			if !ok || cur != mtime {
				needsReparse = true
			}
		}
	}

	numNodes := rr.ReadUint32()
	if rr.Err() != nil {
		return nil, rr.Err()
	}

	// First pass: allocate every node (so dependency indices resolve),
	// deferring dependency-list decode to a second pass.
	type pending struct {
		node        *Node
		preIdx      []depRecord
		staticIdx   []depRecord
		dynamicIdx  []depRecord
	}
	pendings := make([]pending, 0, numNodes)
	for i := uint32(0); i < numNodes; i++ {
		n, pre, static, dyn, err := loadNodeHeader(rr)
		if err != nil {
			return nil, xerrors.Errorf("loading node %d: %w", i, err)
		}
		g.register(n)
		pendings = append(pendings, pending{node: n, preIdx: pre, staticIdx: static, dynamicIdx: dyn})
	}
	if rr.Err() != nil {
		return nil, rr.Err()
	}

	for _, p := range pendings {
		p.node.PreBuild = resolveDeps(g, p.preIdx)
		p.node.Static = resolveDeps(g, p.staticIdx)
		p.node.Dynamic = resolveDeps(g, p.dynamicIdx)
	}

	return &LoadResult{Graph: g, NeedsReparse: needsReparse}, nil
}

type depRecord struct {
	targetIndex uint32
	stamp       uint64
	weak        bool
}

func resolveDeps(g *NodeGraph, recs []depRecord) []*Dependency {
	if len(recs) == 0 {
		return nil
	}
	out := make([]*Dependency, 0, len(recs))
	for _, r := range recs {
		target := g.NodeByIndex(r.targetIndex)
		if target == nil {
			continue // dangling reference; skip rather than fail the whole load
		}
		out = append(out, &Dependency{Target: target, StampAtBuild: r.stamp, Weak: r.weak})
	}
	return out
}

// saveDepRecords / loadDepRecords encode a Dependency slice as a
// length-prefixed array of (target index, stamp, weak) records.
func saveDepRecords(ww *wire.Writer, deps []*Dependency) {
	ww.WriteUint32(uint32(len(deps)))
	for _, d := range deps {
		ww.WriteUint32(d.Target.Index())
		ww.WriteUint64(d.StampAtBuild)
		ww.WriteBool(d.Weak)
	}
}

func loadDepRecords(rr *wire.Reader) []depRecord {
	n := rr.ReadUint32()
	if rr.Err() != nil {
		return nil
	}
	out := make([]depRecord, 0, n)
	for i := uint32(0); i < n; i++ {
		idx := rr.ReadUint32()
		stamp := rr.ReadUint64()
		weak := rr.ReadBool()
		out = append(out, depRecord{targetIndex: idx, stamp: stamp, weak: weak})
	}
	return out
}

func saveNode(ww *wire.Writer, n *Node) {
	ww.WriteUint8(uint8(n.Type))
	ww.WriteString(n.name)
	ww.WriteUint8(uint8(n.Control))
	ww.WriteUint64(n.Stamp)
	ww.WriteUint32(n.LastBuildTimeMs)
	ww.WriteUint32(n.RecursiveCost)
	saveAttrs(ww, n.Type, n.Attrs)
	saveDepRecords(ww, n.PreBuild)
	saveDepRecords(ww, n.Static)
	saveDepRecords(ww, n.Dynamic)
}

func loadNodeHeader(rr *wire.Reader) (*Node, []depRecord, []depRecord, []depRecord, error) {
	typ := Type(rr.ReadUint8())
	name := rr.ReadString()
	control := ControlFlag(rr.ReadUint8())
	stamp := rr.ReadUint64()
	lastBuildMs := rr.ReadUint32()
	cost := rr.ReadUint32()
	attrs, err := loadAttrs(rr, typ)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if rr.Err() != nil {
		return nil, nil, nil, nil, rr.Err()
	}
	n := newNode(name, typ, control, attrs)
	n.Stamp = stamp
	n.LastBuildTimeMs = lastBuildMs
	n.RecursiveCost = cost

	pre := loadDepRecords(rr)
	static := loadDepRecords(rr)
	dyn := loadDepRecords(rr)
	return n, pre, static, dyn, rr.Err()
}

// SaveToFile and LoadFromFile are thin convenience wrappers matching how
// the Build Driver actually persists the database between invocations,
// using the same renameio-based atomic-write idiom used elsewhere for
// durable state.
func (g *NodeGraph) SaveToFile(path string) error {
	t, err := renameio.TempFile("", path)
	if err != nil {
		return err
	}
	defer t.Cleanup()
	if err := g.Save(t); err != nil {
		return err
	}
	return t.CloseAtomicallyReplace()
}

func LoadFromFile(path string, statMtime func(string) (int64, bool)) (*LoadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &LoadResult{Graph: New(), NeedsReparse: true}, nil
		}
		return nil, err
	}
	defer f.Close()
	return Load(f, statMtime)
}
