package zipnfs_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	zipnfs "github.com/mark-i-m/zippynfs/internal/adapter/zipnfs"
	"github.com/mark-i-m/zippynfs/internal/adapter/zipnfs/handlers"
	"github.com/mark-i-m/zippynfs/internal/adapter/zipnfs/rpc"
	"github.com/mark-i-m/zippynfs/internal/protocol/zip"
	"github.com/mark-i-m/zippynfs/pkg/storage"
)

func newDispatchFixture(t *testing.T) *handlers.Handler {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, storage.Format(dir))

	store, err := storage.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return handlers.NewHandler(store)
}

func callMessage(t *testing.T, procedure uint32, args zip.Encoder) (*rpc.CallMessage, []byte) {
	t.Helper()
	var argBytes []byte
	if args != nil {
		buf := new(bytes.Buffer)
		require.NoError(t, args.Encode(buf))
		argBytes = buf.Bytes()
	}

	message, err := rpc.MakeCall(7, procedure, zip.Program, zip.VersionV1, argBytes)
	require.NoError(t, err)

	call, data, err := rpc.ParseCall(message)
	require.NoError(t, err)
	return call, data
}

// replyBody strips the RPC reply header and asserts the call was accepted.
func replyBody(t *testing.T, reply []byte) *bytes.Reader {
	t.Helper()
	hdr, body, err := rpc.ParseReply(reply)
	require.NoError(t, err)
	require.Equal(t, rpc.ReplyAccepted, hdr.ReplyStat)
	return bytes.NewReader(body)
}

// TestDispatch_NullRoundtrip tests a full decode/execute/encode pass for
// the simplest procedure.
func TestDispatch_NullRoundtrip(t *testing.T) {
	h := newDispatchFixture(t)

	call, data := callMessage(t, zip.ProcNull, nil)
	result, err := zipnfs.Dispatch(context.Background(), call, data, "127.0.0.1:9", 0, h)
	require.NoError(t, err)
	assert.Equal(t, "NULL", result.ProcedureName)
	assert.Empty(t, result.ErrorCode)

	r := replyBody(t, result.Reply)
	zerr, err := zip.DecodeReplyStatus(r)
	require.NoError(t, err)
	require.Nil(t, zerr)

	res, err := zip.DecodeNullRes(r)
	require.NoError(t, err)
	assert.Equal(t, h.Store.Epoch(), res.Epoch)
}

// TestDispatch_CreateThenLookup tests two chained procedures through the
// dispatch table.
func TestDispatch_CreateThenLookup(t *testing.T) {
	h := newDispatchFixture(t)

	call, data := callMessage(t, zip.ProcMkDir, &zip.CreateArgs{
		Where: zip.DirOpArgs{Dir: zip.FileHandle{FID: zip.RootFID}, Filename: "docs"},
	})
	result, err := zipnfs.Dispatch(context.Background(), call, data, "127.0.0.1:9", 1, h)
	require.NoError(t, err)

	r := replyBody(t, result.Reply)
	zerr, err := zip.DecodeReplyStatus(r)
	require.NoError(t, err)
	require.Nil(t, zerr)
	created, err := zip.DecodeDirOpRes(r)
	require.NoError(t, err)
	assert.Equal(t, zip.FileTypeDir, created.Attributes.Type)

	call, data = callMessage(t, zip.ProcLookup, &zip.DirOpArgs{
		Dir: zip.FileHandle{FID: zip.RootFID}, Filename: "docs"})
	result, err = zipnfs.Dispatch(context.Background(), call, data, "127.0.0.1:9", 1, h)
	require.NoError(t, err)

	r = replyBody(t, result.Reply)
	zerr, err = zip.DecodeReplyStatus(r)
	require.NoError(t, err)
	require.Nil(t, zerr)
	found, err := zip.DecodeDirOpRes(r)
	require.NoError(t, err)
	assert.Equal(t, created.File.FID, found.File.FID)
}

// TestDispatch_ErrorStatus tests that a protocol error becomes a status in
// the accepted body, not an RPC failure.
func TestDispatch_ErrorStatus(t *testing.T) {
	h := newDispatchFixture(t)

	call, data := callMessage(t, zip.ProcLookup, &zip.DirOpArgs{
		Dir: zip.FileHandle{FID: zip.RootFID}, Filename: "missing"})
	result, err := zipnfs.Dispatch(context.Background(), call, data, "127.0.0.1:9", 0, h)
	require.NoError(t, err)
	assert.Equal(t, "NFSERR_NOENT", result.ErrorCode)

	r := replyBody(t, result.Reply)
	zerr, err := zip.DecodeReplyStatus(r)
	require.NoError(t, err)
	require.NotNil(t, zerr)
	assert.Equal(t, zip.StatusNoEnt, zerr.Status)
}

// TestDispatch_UnknownProgram tests the PROG_UNAVAIL reply path.
func TestDispatch_UnknownProgram(t *testing.T) {
	h := newDispatchFixture(t)

	message, err := rpc.MakeCall(9, zip.ProcNull, 999999, zip.VersionV1, nil)
	require.NoError(t, err)
	call, data, err := rpc.ParseCall(message)
	require.NoError(t, err)

	result, err := zipnfs.Dispatch(context.Background(), call, data, "127.0.0.1:9", 0, h)
	require.NoError(t, err)

	hdr, _, err := rpc.ParseReply(result.Reply)
	require.NoError(t, err)
	assert.Equal(t, rpc.ReplyProgUnavail, hdr.ReplyStat)
}

// TestDispatch_VersionMismatch tests the PROG_MISMATCH reply with its
// supported range.
func TestDispatch_VersionMismatch(t *testing.T) {
	h := newDispatchFixture(t)

	message, err := rpc.MakeCall(9, zip.ProcNull, zip.Program, 42, nil)
	require.NoError(t, err)
	call, data, err := rpc.ParseCall(message)
	require.NoError(t, err)

	result, err := zipnfs.Dispatch(context.Background(), call, data, "127.0.0.1:9", 0, h)
	require.NoError(t, err)

	hdr, _, err := rpc.ParseReply(result.Reply)
	require.NoError(t, err)
	assert.Equal(t, rpc.ReplyProgMismatch, hdr.ReplyStat)
}

// TestDispatch_GarbageArgs tests that undecodable arguments become a
// garbage-args reply instead of a crash or a fake status.
func TestDispatch_GarbageArgs(t *testing.T) {
	h := newDispatchFixture(t)

	message, err := rpc.MakeCall(9, zip.ProcLookup, zip.Program, zip.VersionV1, []byte{0x01})
	require.NoError(t, err)
	call, data, err := rpc.ParseCall(message)
	require.NoError(t, err)

	result, err := zipnfs.Dispatch(context.Background(), call, data, "127.0.0.1:9", 0, h)
	require.NoError(t, err)

	hdr, _, err := rpc.ParseReply(result.Reply)
	require.NoError(t, err)
	assert.Equal(t, rpc.ReplyGarbageArgs, hdr.ReplyStat)
}
