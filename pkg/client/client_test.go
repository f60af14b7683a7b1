package client_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mark-i-m/zippynfs/internal/protocol/zip"
	adapter "github.com/mark-i-m/zippynfs/pkg/adapter/zipnfs"
	"github.com/mark-i-m/zippynfs/pkg/client"
	"github.com/mark-i-m/zippynfs/pkg/storage"
)

// testServer is an in-process server over a temp data directory.
type testServer struct {
	store *storage.Store
	addr  string

	cancel context.CancelFunc
	done   chan struct{}
}

// startServer opens (formatting if needed) dir and serves it on listen.
// listen may be "127.0.0.1:0" to pick a port; the bound address is
// recorded so a restart can reuse it.
func startServer(t *testing.T, dir, listen string) *testServer {
	t.Helper()

	if !storage.IsFormatted(dir) {
		require.NoError(t, storage.Format(dir))
	}
	store, err := storage.Open(dir)
	require.NoError(t, err)

	srv := adapter.New(adapter.Config{Listen: listen, Workers: 4}, store, nil)
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.Serve(ctx)
	}()

	ts := &testServer{
		store:  store,
		addr:   srv.Addr().String(),
		cancel: cancel,
		done:   done,
	}
	t.Cleanup(ts.stop)
	return ts
}

func (ts *testServer) stop() {
	ts.cancel()
	select {
	case <-ts.done:
	case <-time.After(5 * time.Second):
	}
	ts.store.Close()
}

func dialFast(t *testing.T, addr string) *client.Client {
	t.Helper()
	c, err := client.Dial(addr)
	require.NoError(t, err)
	c.BackoffBase = 10 * time.Millisecond
	t.Cleanup(func() { c.Close() })
	return c
}

// TestEndToEnd_CreateThenRead walks the first literal scenario: mkdir,
// create, stable write, read back over the wire.
func TestEndToEnd_CreateThenRead(t *testing.T) {
	ts := startServer(t, t.TempDir(), "127.0.0.1:0")
	c := dialFast(t, ts.addr)

	dir, err := c.MkDir(zip.RootFID, "a", zip.Sattr{})
	require.NoError(t, err)

	file, err := c.Create(dir.File.FID, "f", zip.Sattr{})
	require.NoError(t, err)

	wres, err := c.Write(file.File.FID, 0, []byte("hello"), zip.FileSync)
	require.NoError(t, err)
	assert.EqualValues(t, 5, wres.Count)
	assert.Equal(t, zip.FileSync, wres.Committed)
	assert.Equal(t, ts.store.Epoch(), wres.Verf)

	rres, err := c.Read(file.File.FID, 0, 5)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(rres.Data))
}

// TestEndToEnd_UnstableThenCommit walks the second literal scenario: two
// unstable writes are invisible until the commit.
func TestEndToEnd_UnstableThenCommit(t *testing.T) {
	ts := startServer(t, t.TempDir(), "127.0.0.1:0")
	c := dialFast(t, ts.addr)

	dir, err := c.MkDir(zip.RootFID, "a", zip.Sattr{})
	require.NoError(t, err)
	file, err := c.Create(dir.File.FID, "f", zip.Sattr{})
	require.NoError(t, err)
	fid := file.File.FID

	w1, err := c.Write(fid, 0, []byte("aaaa"), zip.Unstable)
	require.NoError(t, err)
	assert.Equal(t, zip.Unstable, w1.Committed)
	w2, err := c.Write(fid, 4, []byte("bbb"), zip.Unstable)
	require.NoError(t, err)
	assert.Equal(t, w1.Verf, w2.Verf)

	pre, err := c.Read(fid, 0, 7)
	require.NoError(t, err)
	assert.Empty(t, pre.Data, "unstable writes must be invisible before commit")

	cres, err := c.Commit(fid, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, w1.Verf, cres.Verf)

	post, err := c.Read(fid, 0, 7)
	require.NoError(t, err)
	assert.Equal(t, "aaaabbb", string(post.Data))
}

// TestEndToEnd_UnstableAcrossRestart walks the third literal scenario: the
// server restarts between two unstable writes, the verifier changes, and
// the client buffer replays everything under the new epoch.
func TestEndToEnd_UnstableAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	ts := startServer(t, dir, "127.0.0.1:0")
	addr := ts.addr
	c := dialFast(t, addr)

	d, err := c.MkDir(zip.RootFID, "a", zip.Sattr{})
	require.NoError(t, err)
	f, err := c.Create(d.File.FID, "f", zip.Sattr{})
	require.NoError(t, err)
	fid := f.File.FID

	buf := client.NewFileBuffer(c, fid)
	require.NoError(t, buf.Write(0, []byte("aaaa")))
	firstEpoch := ts.store.Epoch()

	// Crash-restart the server on the same address; the unstable buffer
	// dies with it.
	ts.stop()
	ts2 := startServer(t, dir, addr)
	assert.Greater(t, ts2.store.Epoch(), firstEpoch)

	// The next buffered write observes the new verifier and replays.
	require.NoError(t, buf.Write(4, []byte("bbb")))
	require.NoError(t, buf.Commit())

	rres, err := c.Read(fid, 0, 7)
	require.NoError(t, err)
	assert.Equal(t, "aaaabbb", string(rres.Data))
}

// TestEndToEnd_CreateContention fans concurrent creators of one name over
// separate connections: exactly one wins, the rest see EXIST.
func TestEndToEnd_CreateContention(t *testing.T) {
	ts := startServer(t, t.TempDir(), "127.0.0.1:0")

	const racers = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	var winners, exists int

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := client.Dial(ts.addr)
			if err != nil {
				t.Error(err)
				return
			}
			defer c.Close()
			c.BackoffBase = 10 * time.Millisecond

			_, err = c.Create(zip.RootFID, "x", zip.Sattr{})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
			case zip.IsStatus(err, zip.StatusExist):
				exists++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	assert.Equal(t, racers-1, exists)

	c := dialFast(t, ts.addr)
	entries, err := c.ReadDir(zip.RootFID, 0)
	require.NoError(t, err)
	count := 0
	for _, e := range entries {
		if e.Name == "x" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

// TestEndToEnd_RmDirNonEmpty walks the fifth literal scenario over the
// wire.
func TestEndToEnd_RmDirNonEmpty(t *testing.T) {
	ts := startServer(t, t.TempDir(), "127.0.0.1:0")
	c := dialFast(t, ts.addr)

	d, err := c.MkDir(zip.RootFID, "d", zip.Sattr{})
	require.NoError(t, err)
	_, err = c.Create(d.File.FID, "f", zip.Sattr{})
	require.NoError(t, err)

	err = c.RmDir(zip.RootFID, "d")
	require.Error(t, err)
	assert.True(t, zip.IsStatus(err, zip.StatusNotEmpty))

	require.NoError(t, c.Remove(d.File.FID, "f"))
	require.NoError(t, c.RmDir(zip.RootFID, "d"))

	_, err = c.Lookup(zip.RootFID, "d")
	require.Error(t, err)
	assert.True(t, zip.IsStatus(err, zip.StatusNoEnt))
}

// TestEndToEnd_RenameOverwriteRejected walks the sixth literal scenario
// over the wire.
func TestEndToEnd_RenameOverwriteRejected(t *testing.T) {
	ts := startServer(t, t.TempDir(), "127.0.0.1:0")
	c := dialFast(t, ts.addr)

	a, err := c.Create(zip.RootFID, "a", zip.Sattr{})
	require.NoError(t, err)
	b, err := c.Create(zip.RootFID, "b", zip.Sattr{})
	require.NoError(t, err)

	err = c.Rename(zip.RootFID, "a", zip.RootFID, "b")
	require.Error(t, err)
	assert.True(t, zip.IsStatus(err, zip.StatusExist))

	gotA, err := c.Lookup(zip.RootFID, "a")
	require.NoError(t, err)
	assert.Equal(t, a.File.FID, gotA.File.FID)
	gotB, err := c.Lookup(zip.RootFID, "b")
	require.NoError(t, err)
	assert.Equal(t, b.File.FID, gotB.File.FID)
}

// TestEndToEnd_NullReportsEpoch tests that NULL carries the server epoch.
func TestEndToEnd_NullReportsEpoch(t *testing.T) {
	ts := startServer(t, t.TempDir(), "127.0.0.1:0")
	c := dialFast(t, ts.addr)

	epoch, err := c.Null()
	require.NoError(t, err)
	assert.Equal(t, ts.store.Epoch(), epoch)
}

// TestEndToEnd_ReadDirBudget tests that a directory too large for one
// response is paged by the offset cursor.
func TestEndToEnd_ReadDirBudget(t *testing.T) {
	ts := startServer(t, t.TempDir(), "127.0.0.1:0")
	c := dialFast(t, ts.addr)

	// Enough entries that the 4000-byte budget cannot hold them all.
	const total = 200
	for i := 0; i < total; i++ {
		name := "entry-number-with-some-length-" + string(rune('a'+i%26)) + "-" + string(rune('a'+i/26))
		_, err := c.Create(zip.RootFID, name, zip.Sattr{})
		require.NoError(t, err)
	}

	var all []zip.DirEntry
	var offset int64
	for {
		page, err := c.ReadDir(zip.RootFID, offset)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		all = append(all, page...)
		offset += int64(len(page))
	}

	assert.Len(t, all, total)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].FID, all[i].FID)
	}
}
