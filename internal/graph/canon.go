package graph

import (
	"hash/fnv"
	"path"
	"path/filepath"
	"strings"
)

// caseInsensitive mirrors the host platform's filesystem semantics for
// name comparison: names are unique after canonicalization, case-folded
// on case-insensitive platforms. Only Windows distributions
// of this build orchestrator fold case; Linux/macOS builds (the only
// platforms this module targets) do not.
const caseInsensitive = false

// CleanPath normalizes a possibly relative, possibly backslash-separated
// path into the canonical form used as a Node name: forward slashes,
// `..`/`.` collapsed, absolute against cwd.
func CleanPath(cwd, input string) string {
	p := strings.ReplaceAll(input, `\`, `/`)
	if !path.IsAbs(p) {
		p = path.Join(filepath.ToSlash(cwd), p)
	} else {
		p = path.Clean(p)
	}
	if caseInsensitive {
		p = strings.ToLower(p)
	}
	return p
}

// nameCRC is the fast 32-bit pre-check hash used by the hash index before
// falling back to full string comparison.
func nameCRC(name string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(name))
	return h.Sum32()
}
