// Package dist implements the Distribution Protocol: the client and
// server state machines and wire format.
package dist

import (
	"bytes"
	"encoding/binary"
	"io"

	"golang.org/x/xerrors"

	"github.com/nccbuild/fbuild/internal/wire"
)

// MessageType identifies a protocol message.
type MessageType uint8

const (
	MsgConnection MessageType = iota
	MsgStatus
	MsgServerStatus
	MsgRequestJob
	MsgNoJobAvailable
	MsgJob
	MsgRequestManifest
	MsgManifest
	MsgRequestFile
	MsgFile
	MsgJobResult
)

// Header is the 8-byte frame prefixing every message:
// u8 message_type; u8 has_payload; u16 reserved; u32 body_size; all
// little-endian.
type Header struct {
	Type       MessageType
	HasPayload bool
	BodySize   uint32
}

const headerSize = 8

func writeHeader(w io.Writer, h Header) error {
	var buf [headerSize]byte
	buf[0] = byte(h.Type)
	if h.HasPayload {
		buf[1] = 1
	}
	// buf[2:4] reserved, left zero.
	binary.LittleEndian.PutUint32(buf[4:8], h.BodySize)
	_, err := w.Write(buf[:])
	return err
}

func readHeader(r io.Reader) (Header, error) {
	var buf [headerSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, err
	}
	return Header{
		Type:       MessageType(buf[0]),
		HasPayload: buf[1] != 0,
		BodySize:   binary.LittleEndian.Uint32(buf[4:8]),
	}, nil
}

// WriteMessage frames and writes one protocol message: the 8-byte header,
// the type-specific body, and — when payload is non-nil — a u32
// payload-size prefix followed by the raw payload bytes.
func WriteMessage(w io.Writer, typ MessageType, body []byte, payload []byte) error {
	if err := writeHeader(w, Header{Type: typ, HasPayload: payload != nil, BodySize: uint32(len(body))}); err != nil {
		return err
	}
	if _, err := w.Write(body); err != nil {
		return err
	}
	if payload != nil {
		ww := wire.NewWriter(w)
		ww.WriteBytes(payload)
		if err := ww.Err(); err != nil {
			return err
		}
	}
	return nil
}

// Message is a decoded protocol message: the raw body (still to be
// unmarshaled by the caller) and the raw payload, if any.
type Message struct {
	Type    MessageType
	Body    []byte
	Payload []byte
}

func ReadMessage(r io.Reader) (*Message, error) {
	hdr, err := readHeader(r)
	if err != nil {
		return nil, err
	}
	body := make([]byte, hdr.BodySize)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, xerrors.Errorf("dist: reading body: %w", err)
	}
	m := &Message{Type: hdr.Type, Body: body}
	if hdr.HasPayload {
		rr := wire.NewReader(r)
		m.Payload = rr.ReadBytes()
		if err := rr.Err(); err != nil {
			return nil, xerrors.Errorf("dist: reading payload: %w", err)
		}
	}
	return m, nil
}

// Connection is the client's hello: carries
// the number of jobs currently available for this worker.
type Connection struct {
	JobsAvailable uint32
}

func MarshalConnection(c Connection) []byte {
	var buf bytes.Buffer
	w := wire.NewWriter(&buf)
	w.WriteUint32(c.JobsAvailable)
	return buf.Bytes()
}

func UnmarshalConnection(body []byte) (Connection, error) {
	r := wire.NewReader(bytes.NewReader(body))
	c := Connection{JobsAvailable: r.ReadUint32()}
	return c, r.Err()
}

// Status mirrors Connection's payload, sent periodically.
type Status = Connection

var MarshalStatus = MarshalConnection
var UnmarshalStatus = UnmarshalConnection

// ServerStatus carries worker tag diffs (removed, then added).
type ServerStatus struct {
	TagsRemoved []string
	TagsAdded   []string
}

func MarshalServerStatus(s ServerStatus) []byte {
	var buf bytes.Buffer
	w := wire.NewWriter(&buf)
	w.WriteStrings(s.TagsRemoved)
	w.WriteStrings(s.TagsAdded)
	return buf.Bytes()
}

func UnmarshalServerStatus(body []byte) (ServerStatus, error) {
	r := wire.NewReader(bytes.NewReader(body))
	s := ServerStatus{TagsRemoved: r.ReadStrings(), TagsAdded: r.ReadStrings()}
	return s, r.Err()
}

// JobHeader precedes a serialized Job's inputs: the tool id it requires
// and the node name, used by the worker to decide whether it must first
// request the manifest.
type JobHeader struct {
	JobID        uint64
	ToolID       uint64
	NodeName     string
	RequiredTags []string
}

func MarshalJobHeader(h JobHeader) []byte {
	var buf bytes.Buffer
	w := wire.NewWriter(&buf)
	w.WriteUint64(h.JobID)
	w.WriteUint64(h.ToolID)
	w.WriteString(h.NodeName)
	w.WriteStrings(h.RequiredTags)
	return buf.Bytes()
}

func UnmarshalJobHeader(body []byte) (JobHeader, error) {
	r := wire.NewReader(bytes.NewReader(body))
	h := JobHeader{
		JobID:    r.ReadUint64(),
		ToolID:   r.ReadUint64(),
		NodeName: r.ReadString(),
	}
	h.RequiredTags = r.ReadStrings()
	return h, r.Err()
}

// ManifestMsg carries the manifest file list (relative path, size,
// content hash, executable bit) for a requested tool id.
type ManifestMsg struct {
	ToolID uint64
	Files  []ManifestFile
}

type ManifestFile struct {
	RelPath     string
	Size        uint64
	ContentHash uint64
	Executable  bool
}

func MarshalManifest(m ManifestMsg) []byte {
	var buf bytes.Buffer
	w := wire.NewWriter(&buf)
	w.WriteUint64(m.ToolID)
	w.WriteUint32(uint32(len(m.Files)))
	for _, f := range m.Files {
		w.WriteString(f.RelPath)
		w.WriteUint64(f.Size)
		w.WriteUint64(f.ContentHash)
		w.WriteBool(f.Executable)
	}
	return buf.Bytes()
}

func UnmarshalManifest(body []byte) (ManifestMsg, error) {
	r := wire.NewReader(bytes.NewReader(body))
	m := ManifestMsg{ToolID: r.ReadUint64()}
	n := r.ReadUint32()
	for i := uint32(0); i < n; i++ {
		m.Files = append(m.Files, ManifestFile{
			RelPath:     r.ReadString(),
			Size:        r.ReadUint64(),
			ContentHash: r.ReadUint64(),
			Executable:  r.ReadBool(),
		})
	}
	return m, r.Err()
}

// RequestFile asks for one manifest file by index.
type RequestFile struct {
	ToolID    uint64
	FileIndex uint32
}

func MarshalRequestFile(r RequestFile) []byte {
	var buf bytes.Buffer
	w := wire.NewWriter(&buf)
	w.WriteUint64(r.ToolID)
	w.WriteUint32(r.FileIndex)
	return buf.Bytes()
}

func UnmarshalRequestFile(body []byte) (RequestFile, error) {
	rr := wire.NewReader(bytes.NewReader(body))
	return RequestFile{ToolID: rr.ReadUint64(), FileIndex: rr.ReadUint32()}, rr.Err()
}

// JobResult is the worker's report of a completed build (
// "JobResult"): exit status plus any produced artifacts, carried as the
// message payload.
type JobResult struct {
	JobID       uint64
	Result      uint8 // mirrors graph.BuildResult; dist does not import graph to avoid a cycle
	SystemError bool
	Diagnostics string
}

func MarshalJobResult(j JobResult) []byte {
	var buf bytes.Buffer
	w := wire.NewWriter(&buf)
	w.WriteUint64(j.JobID)
	w.WriteUint8(j.Result)
	w.WriteBool(j.SystemError)
	w.WriteString(j.Diagnostics)
	return buf.Bytes()
}

func UnmarshalJobResult(body []byte) (JobResult, error) {
	r := wire.NewReader(bytes.NewReader(body))
	j := JobResult{
		JobID:       r.ReadUint64(),
		Result:      r.ReadUint8(),
		SystemError: r.ReadBool(),
		Diagnostics: r.ReadString(),
	}
	return j, r.Err()
}
