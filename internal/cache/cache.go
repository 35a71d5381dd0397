// Package cache implements the content-addressed artifact store from
// a local-directory backend with atomic writes, plus a
// Plugin variant whose functions are resolved from a dynamically loaded
// module. Cache ids are formatted per internal/fstate.Key.
package cache

import (
	"encoding/binary"
	"io"
	"os"
	"path/filepath"

	"github.com/google/renameio"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/xerrors"
)

// Cache is the interface consulted by the Job Queue before launching an
// external tool, and written back to on successful builds.
type Cache interface {
	Publish(id string, records [][]byte) error
	Retrieve(id string) ([][]byte, bool, error)
	OutputInfo(showProgress bool) (Info, error)
	Trim(showProgress bool, sizeMiB int64) error
	Shutdown() error
}

// Info summarizes cache occupancy for the `-cacheinfo`-style reporting
// path (output_info).
type Info struct {
	Entries   int64
	TotalSize int64
}

// LogFunc is the logging callback passed to a cache on Init: the plugin
// emits through the host's log sink rather than writing to its own.
type LogFunc func(level, msg string)

// Dir is the local-directory Cache backend. Storage layout: for id
// "ABCDEFGH...", the entry lives at <root>/AB/CDEFGH..., holding a
// zstd-compressed concatenation of (u32 size, bytes) records.
// Writes are atomic (temp file + fsync + rename via renameio.TempFile and
// CloseAtomicallyReplace); an entry that already exists is a no-op success.
type Dir struct {
	root         string
	readEnabled  bool
	writeEnabled bool
	log          LogFunc
}

func NewDir(root string, readEnabled, writeEnabled bool, log LogFunc) (*Dir, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, err
	}
	if log == nil {
		log = func(string, string) {}
	}
	return &Dir{root: root, readEnabled: readEnabled, writeEnabled: writeEnabled, log: log}, nil
}

func (d *Dir) entryPath(id string) string {
	if len(id) < 2 {
		return filepath.Join(d.root, id)
	}
	return filepath.Join(d.root, id[:2], id[2:])
}

// Publish writes records (primary artifact first, then side-files such as
// a PDB) as a zstd-compressed concatenation of (u32 size, bytes) records.
func (d *Dir) Publish(id string, records [][]byte) error {
	if !d.writeEnabled {
		return nil
	}
	path := d.entryPath(id)
	if _, err := os.Stat(path); err == nil {
		return nil // existing entry: no-op success
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		d.log("warn", xerrors.Errorf("cache: mkdir: %w", err).Error())
		return nil // cache write failure is non-fatal
	}

	t, err := renameio.TempFile("", path)
	if err != nil {
		d.log("warn", xerrors.Errorf("cache: tempfile: %w", err).Error())
		return nil
	}
	defer t.Cleanup()

	zw, err := zstd.NewWriter(t)
	if err != nil {
		d.log("warn", xerrors.Errorf("cache: zstd writer: %w", err).Error())
		return nil
	}
	for _, rec := range records {
		var sizeBuf [4]byte
		binary.LittleEndian.PutUint32(sizeBuf[:], uint32(len(rec)))
		if _, err := zw.Write(sizeBuf[:]); err != nil {
			d.log("warn", err.Error())
			zw.Close()
			return nil
		}
		if _, err := zw.Write(rec); err != nil {
			d.log("warn", err.Error())
			zw.Close()
			return nil
		}
	}
	if err := zw.Close(); err != nil {
		d.log("warn", xerrors.Errorf("cache: zstd flush: %w", err).Error())
		return nil
	}
	if err := t.CloseAtomicallyReplace(); err != nil {
		d.log("warn", xerrors.Errorf("cache: commit: %w", err).Error())
	}
	return nil
}

// Retrieve reads back the records written by Publish. A miss (file absent
// or read disabled) is reported via the bool, never an error, matching
// a cache read miss is silent: fall through to a local build.
func (d *Dir) Retrieve(id string) ([][]byte, bool, error) {
	if !d.readEnabled {
		return nil, false, nil
	}
	f, err := os.Open(d.entryPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, false, err
	}
	defer zr.Close()

	var records [][]byte
	for {
		var sizeBuf [4]byte
		_, err := io.ReadFull(zr, sizeBuf[:])
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		size := binary.LittleEndian.Uint32(sizeBuf[:])
		rec := make([]byte, size)
		if _, err := io.ReadFull(zr, rec); err != nil {
			return nil, false, err
		}
		records = append(records, rec)
	}
	return records, true, nil
}

func (d *Dir) OutputInfo(showProgress bool) (Info, error) {
	var info Info
	err := filepath.Walk(d.root, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return nil
		}
		info.Entries++
		info.TotalSize += fi.Size()
		return nil
	})
	return info, err
}

// Trim removes the oldest entries (by mtime) until the cache is at or
// below sizeMiB.
func (d *Dir) Trim(showProgress bool, sizeMiB int64) error {
	type entry struct {
		path  string
		size  int64
		mtime int64
	}
	var entries []entry
	var total int64
	err := filepath.Walk(d.root, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return nil
		}
		entries = append(entries, entry{path: path, size: fi.Size(), mtime: fi.ModTime().UnixNano()})
		total += fi.Size()
		return nil
	})
	if err != nil {
		return err
	}
	limit := sizeMiB * 1024 * 1024
	if total <= limit {
		return nil
	}
	// Oldest first.
	for i := 0; i < len(entries); i++ {
		for j := i + 1; j < len(entries); j++ {
			if entries[j].mtime < entries[i].mtime {
				entries[i], entries[j] = entries[j], entries[i]
			}
		}
	}
	for _, e := range entries {
		if total <= limit {
			break
		}
		if err := os.Remove(e.path); err != nil && !os.IsNotExist(err) {
			return err
		}
		total -= e.size
	}
	return nil
}

func (d *Dir) Shutdown() error { return nil }
