package zip

import (
	"bytes"
	"fmt"
	"io"

	xdr2 "github.com/rasky/go-xdr/xdr2"

	"github.com/mark-i-m/zippynfs/internal/protocol/xdr"
)

// Fixed-field records (no strings, no optionals, no lists) are marshaled
// with go-xdr struct reflection; everything else is hand-rolled with the
// helpers in internal/protocol/xdr. The split keeps the hot-path records
// (WRITE/READ payloads, directory listings) free of reflection.

// Encoder is implemented by every result record so the dispatch layer can
// frame any of them uniformly.
type Encoder interface {
	Encode(buf *bytes.Buffer) error
}

// ============================================================================
// Reply body framing
// ============================================================================

// EncodeReplyBody builds the body of an accepted reply: the status word,
// followed by the result record on success or the error message string on
// failure.
func EncodeReplyBody(result Encoder, zerr *Error) ([]byte, error) {
	buf := new(bytes.Buffer)

	if zerr != nil && zerr.Status != StatusOK {
		if err := xdr.WriteUint32(buf, uint32(zerr.Status)); err != nil {
			return nil, err
		}
		if err := xdr.WriteString(buf, zerr.Message); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	if err := xdr.WriteUint32(buf, uint32(StatusOK)); err != nil {
		return nil, err
	}
	if result != nil {
		if err := result.Encode(buf); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// DecodeReplyStatus consumes the status word of an accepted reply body.
// On success it returns (nil, nil) and leaves the reader positioned at the
// result record; on a protocol error it decodes and returns the error
// record.
func DecodeReplyStatus(r io.Reader) (*Error, error) {
	status, err := xdr.DecodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("decode reply status: %w", err)
	}
	if Status(status) == StatusOK {
		return nil, nil
	}
	msg, err := xdr.DecodeString(r)
	if err != nil {
		return nil, fmt.Errorf("decode error message: %w", err)
	}
	return &Error{Status: Status(status), Message: msg}, nil
}

// ============================================================================
// Fixed-field records (go-xdr struct marshaling)
// ============================================================================

func marshalFixed(buf *bytes.Buffer, v any) error {
	if _, err := xdr2.Marshal(buf, v); err != nil {
		return fmt.Errorf("xdr marshal %T: %w", v, err)
	}
	return nil
}

func unmarshalFixed(r io.Reader, v any) error {
	if _, err := xdr2.Unmarshal(r, v); err != nil {
		return fmt.Errorf("xdr unmarshal %T: %w", v, err)
	}
	return nil
}

// Encode encodes a FileHandle.
func (h *FileHandle) Encode(buf *bytes.Buffer) error { return marshalFixed(buf, h) }

// DecodeFileHandle decodes a FileHandle.
func DecodeFileHandle(r io.Reader) (*FileHandle, error) {
	var h FileHandle
	if err := unmarshalFixed(r, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Encode encodes a NullRes.
func (n *NullRes) Encode(buf *bytes.Buffer) error { return marshalFixed(buf, n) }

// DecodeNullRes decodes a NullRes.
func DecodeNullRes(r io.Reader) (*NullRes, error) {
	var n NullRes
	if err := unmarshalFixed(r, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

// Encode encodes an AttrStat.
func (a *AttrStat) Encode(buf *bytes.Buffer) error { return marshalFixed(buf, a) }

// DecodeAttrStat decodes an AttrStat.
func DecodeAttrStat(r io.Reader) (*AttrStat, error) {
	var a AttrStat
	if err := unmarshalFixed(r, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// Encode encodes a DirOpRes.
func (d *DirOpRes) Encode(buf *bytes.Buffer) error { return marshalFixed(buf, d) }

// DecodeDirOpRes decodes a DirOpRes.
func DecodeDirOpRes(r io.Reader) (*DirOpRes, error) {
	var d DirOpRes
	if err := unmarshalFixed(r, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// Encode encodes ReadDirArgs.
func (a *ReadDirArgs) Encode(buf *bytes.Buffer) error { return marshalFixed(buf, a) }

// DecodeReadDirArgs decodes ReadDirArgs.
func DecodeReadDirArgs(r io.Reader) (*ReadDirArgs, error) {
	var a ReadDirArgs
	if err := unmarshalFixed(r, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// Encode encodes ReadArgs.
func (a *ReadArgs) Encode(buf *bytes.Buffer) error { return marshalFixed(buf, a) }

// DecodeReadArgs decodes ReadArgs.
func DecodeReadArgs(r io.Reader) (*ReadArgs, error) {
	var a ReadArgs
	if err := unmarshalFixed(r, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// Encode encodes a WriteRes.
func (w *WriteRes) Encode(buf *bytes.Buffer) error { return marshalFixed(buf, w) }

// DecodeWriteRes decodes a WriteRes.
func DecodeWriteRes(r io.Reader) (*WriteRes, error) {
	var w WriteRes
	if err := unmarshalFixed(r, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

// Encode encodes a StatFsRes.
func (s *StatFsRes) Encode(buf *bytes.Buffer) error { return marshalFixed(buf, s) }

// DecodeStatFsRes decodes a StatFsRes.
func DecodeStatFsRes(r io.Reader) (*StatFsRes, error) {
	var s StatFsRes
	if err := unmarshalFixed(r, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Encode encodes CommitArgs.
func (a *CommitArgs) Encode(buf *bytes.Buffer) error { return marshalFixed(buf, a) }

// DecodeCommitArgs decodes CommitArgs.
func DecodeCommitArgs(r io.Reader) (*CommitArgs, error) {
	var a CommitArgs
	if err := unmarshalFixed(r, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// Encode encodes a CommitRes.
func (c *CommitRes) Encode(buf *bytes.Buffer) error { return marshalFixed(buf, c) }

// DecodeCommitRes decodes a CommitRes.
func DecodeCommitRes(r io.Reader) (*CommitRes, error) {
	var c CommitRes
	if err := unmarshalFixed(r, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// ============================================================================
// Variable records (hand-rolled)
// ============================================================================

// Encode encodes DirOpArgs.
func (a *DirOpArgs) Encode(buf *bytes.Buffer) error {
	if err := xdr.WriteUint64(buf, a.Dir.FID); err != nil {
		return err
	}
	return xdr.WriteString(buf, a.Filename)
}

// DecodeDirOpArgs decodes DirOpArgs.
func DecodeDirOpArgs(r io.Reader) (*DirOpArgs, error) {
	fid, err := xdr.DecodeUint64(r)
	if err != nil {
		return nil, err
	}
	name, err := xdr.DecodeString(r)
	if err != nil {
		return nil, err
	}
	return &DirOpArgs{Dir: FileHandle{FID: fid}, Filename: name}, nil
}

// Encode encodes a Sattr as six bool-discriminated optionals in field
// order: mode, uid, gid, size, atime, mtime.
func (s *Sattr) Encode(buf *bytes.Buffer) error {
	if err := encodeOptUint32(buf, s.Mode); err != nil {
		return err
	}
	if err := encodeOptUint32(buf, s.UID); err != nil {
		return err
	}
	if err := encodeOptUint32(buf, s.GID); err != nil {
		return err
	}
	if err := encodeOptInt64(buf, s.Size); err != nil {
		return err
	}
	if err := encodeOptTime(buf, s.Atime); err != nil {
		return err
	}
	return encodeOptTime(buf, s.Mtime)
}

// DecodeSattr decodes a Sattr.
func DecodeSattr(r io.Reader) (*Sattr, error) {
	var s Sattr
	var err error
	if s.Mode, err = decodeOptUint32(r); err != nil {
		return nil, err
	}
	if s.UID, err = decodeOptUint32(r); err != nil {
		return nil, err
	}
	if s.GID, err = decodeOptUint32(r); err != nil {
		return nil, err
	}
	if s.Size, err = decodeOptInt64(r); err != nil {
		return nil, err
	}
	if s.Atime, err = decodeOptTime(r); err != nil {
		return nil, err
	}
	if s.Mtime, err = decodeOptTime(r); err != nil {
		return nil, err
	}
	return &s, nil
}

// Encode encodes SattrArgs.
func (a *SattrArgs) Encode(buf *bytes.Buffer) error {
	if err := xdr.WriteUint64(buf, a.File.FID); err != nil {
		return err
	}
	return a.Attributes.Encode(buf)
}

// DecodeSattrArgs decodes SattrArgs.
func DecodeSattrArgs(r io.Reader) (*SattrArgs, error) {
	fid, err := xdr.DecodeUint64(r)
	if err != nil {
		return nil, err
	}
	sattr, err := DecodeSattr(r)
	if err != nil {
		return nil, err
	}
	return &SattrArgs{File: FileHandle{FID: fid}, Attributes: *sattr}, nil
}

// Encode encodes CreateArgs.
func (a *CreateArgs) Encode(buf *bytes.Buffer) error {
	if err := a.Where.Encode(buf); err != nil {
		return err
	}
	return a.Attributes.Encode(buf)
}

// DecodeCreateArgs decodes CreateArgs.
func DecodeCreateArgs(r io.Reader) (*CreateArgs, error) {
	where, err := DecodeDirOpArgs(r)
	if err != nil {
		return nil, err
	}
	sattr, err := DecodeSattr(r)
	if err != nil {
		return nil, err
	}
	return &CreateArgs{Where: *where, Attributes: *sattr}, nil
}

// Encode encodes RenameArgs.
func (a *RenameArgs) Encode(buf *bytes.Buffer) error {
	if err := a.OldLoc.Encode(buf); err != nil {
		return err
	}
	return a.NewLoc.Encode(buf)
}

// DecodeRenameArgs decodes RenameArgs.
func DecodeRenameArgs(r io.Reader) (*RenameArgs, error) {
	oldLoc, err := DecodeDirOpArgs(r)
	if err != nil {
		return nil, err
	}
	newLoc, err := DecodeDirOpArgs(r)
	if err != nil {
		return nil, err
	}
	return &RenameArgs{OldLoc: *oldLoc, NewLoc: *newLoc}, nil
}

// Encode encodes WriteArgs.
func (a *WriteArgs) Encode(buf *bytes.Buffer) error {
	if err := xdr.WriteUint64(buf, a.File.FID); err != nil {
		return err
	}
	if err := xdr.WriteInt64(buf, a.Offset); err != nil {
		return err
	}
	if err := xdr.WriteUint32(buf, a.Count); err != nil {
		return err
	}
	if err := xdr.WriteOpaque(buf, a.Data); err != nil {
		return err
	}
	return xdr.WriteUint32(buf, uint32(a.Stable))
}

// DecodeWriteArgs decodes WriteArgs.
func DecodeWriteArgs(r io.Reader) (*WriteArgs, error) {
	fid, err := xdr.DecodeUint64(r)
	if err != nil {
		return nil, err
	}
	offset, err := xdr.DecodeInt64(r)
	if err != nil {
		return nil, err
	}
	count, err := xdr.DecodeUint32(r)
	if err != nil {
		return nil, err
	}
	data, err := xdr.DecodeOpaque(r)
	if err != nil {
		return nil, err
	}
	stable, err := xdr.DecodeUint32(r)
	if err != nil {
		return nil, err
	}
	return &WriteArgs{
		File:   FileHandle{FID: fid},
		Offset: offset,
		Count:  count,
		Data:   data,
		Stable: StableHow(stable),
	}, nil
}

// Encode encodes a ReadRes.
func (res *ReadRes) Encode(buf *bytes.Buffer) error {
	if err := marshalFixed(buf, &res.Attributes); err != nil {
		return err
	}
	return xdr.WriteOpaque(buf, res.Data)
}

// DecodeReadRes decodes a ReadRes.
func DecodeReadRes(r io.Reader) (*ReadRes, error) {
	var attrs Fattr
	if err := unmarshalFixed(r, &attrs); err != nil {
		return nil, err
	}
	data, err := xdr.DecodeOpaque(r)
	if err != nil {
		return nil, err
	}
	return &ReadRes{Attributes: attrs, Data: data}, nil
}

// Encode encodes a single directory entry.
func (e *DirEntry) Encode(buf *bytes.Buffer) error {
	if err := xdr.WriteUint64(buf, e.FID); err != nil {
		return err
	}
	if err := xdr.WriteString(buf, e.Name); err != nil {
		return err
	}
	return xdr.WriteUint32(buf, uint32(e.Type))
}

// EncodedLen returns the wire size of the entry: fid + length-prefixed
// padded name + type. Used by the READDIR handler to respect MaxBufLen.
func (e *DirEntry) EncodedLen() int {
	nameLen := len(e.Name)
	padded := nameLen + (4-nameLen%4)%4
	return 8 + 4 + padded + 4
}

// Encode encodes a ReadDirRes as a counted entry list.
func (res *ReadDirRes) Encode(buf *bytes.Buffer) error {
	if err := xdr.WriteUint32(buf, uint32(len(res.Entries))); err != nil {
		return err
	}
	for i := range res.Entries {
		if err := res.Entries[i].Encode(buf); err != nil {
			return err
		}
	}
	return nil
}

// DecodeReadDirRes decodes a ReadDirRes.
func DecodeReadDirRes(r io.Reader) (*ReadDirRes, error) {
	n, err := xdr.DecodeUint32(r)
	if err != nil {
		return nil, err
	}
	// Entries are budget-bounded, so a count above MaxBufLen cannot be
	// genuine and marks a corrupt frame.
	if n > MaxBufLen {
		return nil, fmt.Errorf("readdir entry count %d exceeds budget", n)
	}
	entries := make([]DirEntry, 0, n)
	for i := uint32(0); i < n; i++ {
		fid, err := xdr.DecodeUint64(r)
		if err != nil {
			return nil, err
		}
		name, err := xdr.DecodeString(r)
		if err != nil {
			return nil, err
		}
		ftype, err := xdr.DecodeUint32(r)
		if err != nil {
			return nil, err
		}
		entries = append(entries, DirEntry{FID: fid, Name: name, Type: FileType(ftype)})
	}
	return &ReadDirRes{Entries: entries}, nil
}

// ============================================================================
// Optional-field helpers
// ============================================================================

func encodeOptUint32(buf *bytes.Buffer, v *uint32) error {
	if err := xdr.WriteBool(buf, v != nil); err != nil {
		return err
	}
	if v != nil {
		return xdr.WriteUint32(buf, *v)
	}
	return nil
}

func decodeOptUint32(r io.Reader) (*uint32, error) {
	present, err := xdr.DecodeBool(r)
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, nil
	}
	v, err := xdr.DecodeUint32(r)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func encodeOptInt64(buf *bytes.Buffer, v *int64) error {
	if err := xdr.WriteBool(buf, v != nil); err != nil {
		return err
	}
	if v != nil {
		return xdr.WriteInt64(buf, *v)
	}
	return nil
}

func decodeOptInt64(r io.Reader) (*int64, error) {
	present, err := xdr.DecodeBool(r)
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, nil
	}
	v, err := xdr.DecodeInt64(r)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func encodeOptTime(buf *bytes.Buffer, t *TimeVal) error {
	if err := xdr.WriteBool(buf, t != nil); err != nil {
		return err
	}
	if t != nil {
		if err := xdr.WriteInt64(buf, t.Seconds); err != nil {
			return err
		}
		return xdr.WriteInt64(buf, t.Useconds)
	}
	return nil
}

func decodeOptTime(r io.Reader) (*TimeVal, error) {
	present, err := xdr.DecodeBool(r)
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, nil
	}
	secs, err := xdr.DecodeInt64(r)
	if err != nil {
		return nil, err
	}
	usecs, err := xdr.DecodeInt64(r)
	if err != nil {
		return nil, err
	}
	return &TimeVal{Seconds: secs, Useconds: usecs}, nil
}
