// Package manifest implements the Tool Manifest: enumerating the
// files that make up a compiler toolchain, deriving a deterministic tool
// id from their content, and bundling them as a cpio archive for transfer
// to remote workers.
package manifest

import (
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/cavaliercoder/go-cpio"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/nccbuild/fbuild/internal/fstate"
)

// File describes one file belonging to a tool manifest.
type File struct {
	RelPath     string
	Size        int64
	ContentHash uint64
	Executable  bool
}

// Manifest is a compiler's identity: its executable, any DLLs/shared libs
// it loads, forced-include headers, and runtime support files, plus the
// 64-bit tool id derived from their content.
type Manifest struct {
	ToolID   uint64
	Files    []File
	CaseFold bool // true when built for a case-insensitive remote filesystem
}

// Build walks root and produces a Manifest for every file found there
// (the compiler's executable, extra support files, etc. are expected to
// already be staged under root by the caller — the Compiler node's
// ExtraFiles list).
func Build(root string, caseFold bool) (*Manifest, error) {
	type found struct {
		relPath    string
		size       int64
		executable bool
		path       string
	}
	var entries []found
	err := filepath.Walk(root, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		entries = append(entries, found{
			relPath:    filepath.ToSlash(rel),
			size:       fi.Size(),
			executable: fi.Mode()&0111 != 0,
			path:       path,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Content-hashing every file is the expensive part of building a
	// manifest for a toolchain with many DLLs/support files; hash them
	// concurrently and bail out on the first read failure.
	files := make([]File, len(entries))
	var g errgroup.Group
	for i, e := range entries {
		i, e := i, e
		g.Go(func() error {
			hash, err := fstate.Stamp(e.path)
			if err != nil {
				return err
			}
			files[i] = File{RelPath: e.relPath, Size: e.size, ContentHash: hash, Executable: e.executable}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool {
		a, b := files[i].RelPath, files[j].RelPath
		if caseFold {
			return toLower(a) < toLower(b)
		}
		return a < b
	})

	ids := make([]fstate.ManifestEntry, len(files))
	for i, f := range files {
		ids[i] = fstate.ManifestEntry{RelPath: f.RelPath, Size: f.Size, ContentHash: f.ContentHash}
	}
	id := fstate.ManifestIdentity(ids, caseFold)

	return &Manifest{ToolID: id, Files: files, CaseFold: caseFold}, nil
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// WriteBundle writes every file under root into a cpio archive, in the
// order recorded in m.Files, matching the sync protocol's file-index
// addressing: the worker requests files by manifest file
// index).
func WriteBundle(w io.Writer, root string, m *Manifest) error {
	cw := cpio.NewWriter(w)
	for _, f := range m.Files {
		mode := int64(0644)
		if f.Executable {
			mode = 0755
		}
		if err := cw.WriteHeader(&cpio.Header{
			Name: f.RelPath,
			Size: f.Size,
			Mode: cpio.FileMode(mode),
		}); err != nil {
			return xerrors.Errorf("manifest: cpio header for %s: %w", f.RelPath, err)
		}
		src, err := os.Open(filepath.Join(root, f.RelPath))
		if err != nil {
			return err
		}
		_, err = io.Copy(cw, src)
		src.Close()
		if err != nil {
			return xerrors.Errorf("manifest: writing %s: %w", f.RelPath, err)
		}
	}
	return cw.Close()
}

// ExtractBundle unpacks a cpio archive into destRoot, creating parent
// directories and setting the executable bit as recorded, and writing
// each file atomically (temp file + rename):
// "the worker writes files atomically under a per-manifest directory".
func ExtractBundle(r io.Reader, destRoot string) error {
	cr := cpio.NewReader(r)
	for {
		hdr, err := cr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return xerrors.Errorf("manifest: reading cpio entry: %w", err)
		}
		dest := filepath.Join(destRoot, hdr.Name)
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return err
		}
		tmp := dest + ".tmp"
		out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(hdr.Mode))
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, cr); err != nil {
			out.Close()
			return err
		}
		if err := out.Close(); err != nil {
			return err
		}
		if err := os.Rename(tmp, dest); err != nil {
			return err
		}
	}
}
