// Package fstate computes file state (stamps) and assembles the four-part
// cache key ("Cache entry"): a preprocessed-source
// hash, a command-line hash, a toolchain hash, and a precompiled-header
// hash.
package fstate

import (
	"hash/crc64"
	"hash/fnv"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

var crc64Table = crc64.MakeTable(crc64.ISO)

// Stamp returns a node's stamp: the file's content hash if it exists, or 0
// if it is missing. A saved stamp is non-zero iff the node has ever been
// successfully produced.
func Stamp(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	defer f.Close()
	return HashReader(f)
}

// HashReader computes the 64-bit content hash used as a file's stamp and
// as the source-hash component of a cache key.
func HashReader(r io.Reader) (uint64, error) {
	h := crc64.New(crc64Table)
	if _, err := io.Copy(h, r); err != nil {
		return 0, err
	}
	return h.Sum64(), nil
}

// StripLineDirectivePaths removes the path argument from #line / # N
// directives in preprocessed source, so that compiling the same
// translation unit from two different working directories (differing only
// in absolute path prefixes baked into those directives) produces an
// identical hash. This implements the "cache uses relative paths" option
// exercised by a cache-hit scenario.
func StripLineDirectivePaths(preprocessed []byte) []byte {
	lines := strings.Split(string(preprocessed), "\n")
	for i, line := range lines {
		trimmed := strings.TrimLeft(line, " \t")
		isLine := strings.HasPrefix(trimmed, "#line")
		rest := strings.TrimLeft(strings.TrimPrefix(trimmed, "#"), " \t")
		isMarker := !isLine && strings.HasPrefix(trimmed, "#") && rest != "" && rest[0] >= '0' && rest[0] <= '9'
		if !isLine && !isMarker {
			continue
		}
		start := strings.IndexByte(trimmed, '"')
		if start < 0 {
			continue
		}
		end := strings.IndexByte(trimmed[start+1:], '"')
		if end < 0 {
			continue
		}
		lines[i] = trimmed[:start] + `""` + trimmed[start+1+end+1:]
	}
	return []byte(strings.Join(lines, "\n"))
}

// CommandLineHash hashes the argv used to invoke the compiler (the C
// component of the cache id: a 32-bit hex value).
func CommandLineHash(args []string) uint32 {
	h := fnv.New32a()
	for _, a := range args {
		h.Write([]byte(a))
		h.Write([]byte{0})
	}
	return h.Sum32()
}

// ToolchainHash hashes a tool manifest's identity down to the 64-bit T
// component of the cache id (the manifest package already produces a
// 64-bit tool id using the same hashing approach; this wrapper exists so
// fstate doesn't need to import internal/manifest).
func ToolchainHash(toolID uint64) uint64 { return toolID }

// Key is the four-part cache id:
// HHHHHHHHHHHHHHHH_CCCCCCCC_TTTTTTTTTTTTTTTT-PPPPPPPPPPPPPPPP.V
type Key struct {
	SourceHash     uint64
	CommandHash    uint32
	ToolchainHash  uint64
	PCHHash        uint64
	FormatVersion  byte
}

// String formats the key exactly as specified: 16 hex digits, underscore,
// 8 hex digits, underscore, 16 hex digits, dash, 16 hex digits, dot,
// version char.
func (k Key) String() string {
	var b strings.Builder
	writeHex(&b, k.SourceHash, 16)
	b.WriteByte('_')
	writeHex(&b, uint64(k.CommandHash), 8)
	b.WriteByte('_')
	writeHex(&b, k.ToolchainHash, 16)
	b.WriteByte('-')
	writeHex(&b, k.PCHHash, 16)
	b.WriteByte('.')
	b.WriteByte(k.FormatVersion)
	return b.String()
}

func writeHex(b *strings.Builder, v uint64, width int) {
	s := strconv.FormatUint(v, 16)
	for len(s) < width {
		s = "0" + s
	}
	b.WriteString(s)
}

// NewKey composes a cache key from its already-computed components.
func NewKey(sourceHash uint64, args []string, toolID uint64, pchHash uint64, formatVersion byte) Key {
	return Key{
		SourceHash:    sourceHash,
		CommandHash:   CommandLineHash(args),
		ToolchainHash: toolID,
		PCHHash:       pchHash,
		FormatVersion: formatVersion,
	}
}

// ManifestIdentity implements the 64-bit hash over sorted
// (relative-path, size, content-hash) triples
// ("Identifier"). It lives here (rather than internal/manifest) so both
// the cache-key and the tool-manifest code share one hashing primitive.
type ManifestEntry struct {
	RelPath      string
	Size         int64
	ContentHash  uint64
}

func ManifestIdentity(entries []ManifestEntry, caseFold bool) uint64 {
	sorted := make([]ManifestEntry, len(entries))
	copy(sorted, entries)
	key := func(e ManifestEntry) string {
		if caseFold {
			return strings.ToLower(e.RelPath)
		}
		return e.RelPath
	}
	sort.Slice(sorted, func(i, j int) bool { return key(sorted[i]) < key(sorted[j]) })

	h := fnv.New64a()
	for _, e := range sorted {
		h.Write([]byte(key(e)))
		h.Write([]byte{0})
		var buf [8]byte
		putUint64(buf[:], uint64(e.Size))
		h.Write(buf[:])
		putUint64(buf[:], e.ContentHash)
		h.Write(buf[:])
	}
	return h.Sum64()
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
