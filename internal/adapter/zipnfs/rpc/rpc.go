// Package rpc implements the call/reply message layer of the ZippyNFS
// transport: parsing incoming call headers and building reply frames.
// Record-marking framing lives one level up, in the adapter's connection
// handling.
package rpc

import (
	"bytes"
	"fmt"

	"github.com/mark-i-m/zippynfs/internal/protocol/xdr"
)

// Message types.
const (
	// RPCCall identifies a call message.
	RPCCall uint32 = 0

	// RPCReply identifies a reply message.
	RPCReply uint32 = 1
)

// Reply statuses.
const (
	// ReplyAccepted means the call was dispatched and the body carries the
	// procedure's status and result.
	ReplyAccepted uint32 = 0

	// ReplyProgUnavail means the requested program is not served here.
	ReplyProgUnavail uint32 = 1

	// ReplyProgMismatch means the requested version is unsupported; the
	// body carries the supported low/high range.
	ReplyProgMismatch uint32 = 2

	// ReplyGarbageArgs means the arguments could not be decoded, or the
	// call violated the protocol in a way that has no status code. The
	// client treats this as a transport-level error and may retry.
	ReplyGarbageArgs uint32 = 3
)

// CallHeaderLen is the fixed size of a call header:
// xid, msg type, program, version, procedure.
const CallHeaderLen = 20

// CallMessage is a parsed RPC call header.
type CallMessage struct {
	XID       uint32
	MsgType   uint32
	Program   uint32
	Version   uint32
	Procedure uint32
}

// ParseCall splits a message into its call header and the procedure
// argument bytes.
func ParseCall(message []byte) (*CallMessage, []byte, error) {
	if len(message) < CallHeaderLen {
		return nil, nil, fmt.Errorf("call too short: %d bytes", len(message))
	}

	r := bytes.NewReader(message)
	fields := make([]uint32, 5)
	for i := range fields {
		v, err := xdr.DecodeUint32(r)
		if err != nil {
			return nil, nil, fmt.Errorf("parse call header: %w", err)
		}
		fields[i] = v
	}

	call := &CallMessage{
		XID:       fields[0],
		MsgType:   fields[1],
		Program:   fields[2],
		Version:   fields[3],
		Procedure: fields[4],
	}

	if call.MsgType != RPCCall {
		return nil, nil, fmt.Errorf("unexpected message type %d", call.MsgType)
	}

	return call, message[CallHeaderLen:], nil
}

// MakeCall builds a call message from a header and argument bytes.
// Used by the client driver.
func MakeCall(xid, procedure uint32, program, version uint32, args []byte) ([]byte, error) {
	buf := new(bytes.Buffer)
	for _, v := range []uint32{xid, RPCCall, program, version, procedure} {
		if err := xdr.WriteUint32(buf, v); err != nil {
			return nil, err
		}
	}
	if _, err := buf.Write(args); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MakeReply builds an accepted reply carrying the given body.
func MakeReply(xid uint32, body []byte) ([]byte, error) {
	buf := new(bytes.Buffer)
	for _, v := range []uint32{xid, RPCReply, ReplyAccepted} {
		if err := xdr.WriteUint32(buf, v); err != nil {
			return nil, err
		}
	}
	if _, err := buf.Write(body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MakeErrorReply builds a reply with a non-accepted status and no body.
func MakeErrorReply(xid uint32, stat uint32) ([]byte, error) {
	buf := new(bytes.Buffer)
	for _, v := range []uint32{xid, RPCReply, stat} {
		if err := xdr.WriteUint32(buf, v); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// MakeProgMismatchReply builds a PROG_MISMATCH reply carrying the
// supported version range.
func MakeProgMismatchReply(xid, low, high uint32) ([]byte, error) {
	buf := new(bytes.Buffer)
	for _, v := range []uint32{xid, RPCReply, ReplyProgMismatch, low, high} {
		if err := xdr.WriteUint32(buf, v); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// ReplyHeader is a parsed reply header.
type ReplyHeader struct {
	XID       uint32
	MsgType   uint32
	ReplyStat uint32
}

// ParseReply splits a message into its reply header and body.
func ParseReply(message []byte) (*ReplyHeader, []byte, error) {
	if len(message) < 12 {
		return nil, nil, fmt.Errorf("reply too short: %d bytes", len(message))
	}

	r := bytes.NewReader(message)
	fields := make([]uint32, 3)
	for i := range fields {
		v, err := xdr.DecodeUint32(r)
		if err != nil {
			return nil, nil, fmt.Errorf("parse reply header: %w", err)
		}
		fields[i] = v
	}

	hdr := &ReplyHeader{XID: fields[0], MsgType: fields[1], ReplyStat: fields[2]}
	if hdr.MsgType != RPCReply {
		return nil, nil, fmt.Errorf("unexpected message type %d", hdr.MsgType)
	}
	return hdr, message[12:], nil
}
