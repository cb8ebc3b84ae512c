package dispatch

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"

	"github.com/pvfs2/client/pkg/errors"
	"github.com/pvfs2/client/pkg/pvfserr"
	"github.com/pvfs2/client/pkg/types"
)

// WireMagic and WireVersion are the device protocol's compatibility guard
// (spec.md §6 "The wire protocol version is integral to compatibility and
// is bumped whenever any body layout changes"). The header framing itself
// (4-byte magic, 8-byte tag, 4-byte opcode) matches the original's layout
// bit for bit; the body and trailer are out of scope for wire-compatible
// encoding per spec.md §1 ("only its framing and version invariants
// matter here"), so this implementation gob-encodes them rather than
// reproducing per-opcode C struct layouts that have no bearing on any of
// the testable properties in §8.
const (
	WireMagic   uint32 = 0x50564653 // "PVFS"
	WireVersion uint32 = 1
)

const headerLen = 4 + 8 + 4 + 4 // magic + tag + opcode + version

// Extent is one (offset, length) pair from a scatter/gather file_iox
// request's trailer.
type Extent struct {
	Offset int64
	Length int64
}

// Request is the decoded body of a postable upcall. Only the fields a
// given opcode needs are populated; the rest are left zero.
type Request struct {
	Ref     types.ObjectRef
	Parent  types.ObjectRef
	Name    string
	Mask    types.AttrMask
	Attr    types.ObjectAttr
	Token   int64
	Data    []byte
	Extents []Extent
	Hints   types.Hints
}

// Response is the decoded body of a downcall.
type Response struct {
	Attr           types.ObjectAttr
	Ref            types.ObjectRef
	Token          int64
	AmountComplete int64
	Entries        []string
}

// Upcall is a fully decoded upcall message.
type Upcall struct {
	Tag     uint64
	Opcode  Opcode
	Request Request
}

// Downcall is a fully encoded-ready downcall message; it carries no op
// id, only the Tag of the upcall it answers.
type Downcall struct {
	Tag      uint64
	Opcode   Opcode
	Error    pvfserr.Code
	Response Response
}

// DecodeUpcall parses the fixed header and gob-decodes the body.
func DecodeUpcall(raw []byte) (Upcall, error) {
	if len(raw) < headerLen {
		return Upcall{}, errors.New("dispatch", errors.CodeUnknownOpcode, "upcall shorter than header").
			WithOperation("DecodeUpcall")
	}
	magic := binary.BigEndian.Uint32(raw[0:4])
	if magic != WireMagic {
		return Upcall{}, errors.New("dispatch", errors.CodeUnknownOpcode, "bad upcall magic").
			WithOperation("DecodeUpcall")
	}
	tag := binary.BigEndian.Uint64(raw[4:12])
	opcode := Opcode(binary.BigEndian.Uint32(raw[12:16]))
	version := binary.BigEndian.Uint32(raw[16:20])
	if version != WireVersion {
		return Upcall{}, errors.New("dispatch", errors.CodeUnknownOpcode, "unsupported wire version").
			WithOperation("DecodeUpcall").WithContext("version", itoa(version))
	}

	var req Request
	if len(raw) > headerLen {
		dec := gob.NewDecoder(bytes.NewReader(raw[headerLen:]))
		if err := dec.Decode(&req); err != nil {
			return Upcall{}, errors.Wrap("dispatch", errors.CodeUnknownOpcode, err).WithOperation("DecodeUpcall")
		}
	}
	return Upcall{Tag: tag, Opcode: opcode, Request: req}, nil
}

// EncodeUpcall is the inverse of DecodeUpcall, used by tests and by
// whatever in-kernel simulator drives the dispatcher in integration tests.
func EncodeUpcall(u Upcall) ([]byte, error) {
	var body bytes.Buffer
	if err := gob.NewEncoder(&body).Encode(u.Request); err != nil {
		return nil, errors.Wrap("dispatch", errors.CodeUnknownOpcode, err).WithOperation("EncodeUpcall")
	}
	buf := make([]byte, headerLen, headerLen+body.Len())
	binary.BigEndian.PutUint32(buf[0:4], WireMagic)
	binary.BigEndian.PutUint64(buf[4:12], u.Tag)
	binary.BigEndian.PutUint32(buf[12:16], uint32(u.Opcode))
	binary.BigEndian.PutUint32(buf[16:20], WireVersion)
	return append(buf, body.Bytes()...), nil
}

// EncodeDowncall renders a Downcall onto the wire, mirroring an upcall's
// header-plus-body shape.
func EncodeDowncall(d Downcall) ([]byte, error) {
	var body bytes.Buffer
	if err := gob.NewEncoder(&body).Encode(d.Response); err != nil {
		return nil, errors.Wrap("dispatch", errors.CodeUnknownOpcode, err).WithOperation("EncodeDowncall")
	}
	buf := make([]byte, headerLen, headerLen+4+body.Len())
	binary.BigEndian.PutUint32(buf[0:4], WireMagic)
	binary.BigEndian.PutUint64(buf[4:12], d.Tag)
	binary.BigEndian.PutUint32(buf[12:16], uint32(d.Opcode))
	binary.BigEndian.PutUint32(buf[16:20], WireVersion)
	buf = binary.BigEndian.AppendUint32(buf, uint32(d.Error))
	return append(buf, body.Bytes()...), nil
}

func itoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	digits := [10]byte{}
	i := len(digits)
	for v > 0 {
		i--
		digits[i] = byte('0' + v%10)
		v /= 10
	}
	return string(digits[i:])
}
