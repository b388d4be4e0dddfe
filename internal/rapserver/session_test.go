package rapserver

import (
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"couling.me/webdavd/internal/webdavfs"
	"couling.me/webdavd/internal/wire"
)

func newTestSession(t *testing.T) (*session, *net.UnixConn) {
	t.Helper()
	a, b, err := wire.NewSocketpair()
	require.NoError(t, err)

	bConn, err := net.FileConn(b)
	require.NoError(t, err)
	require.NoError(t, b.Close())

	mimeTable, err := webdavfs.ParseMimeTable(strings.NewReader("text/plain txt\n"))
	require.NoError(t, err)

	s := &session{sock: a, mimeTable: mimeTable}
	t.Cleanup(func() { a.Close() })
	t.Cleanup(func() { bConn.Close() })
	return s, bConn.(*net.UnixConn)
}

func TestDispatchRejectsRequestsBeforeAuthentication(t *testing.T) {
	s, peer := newTestSession(t)

	go s.run()

	scratch := make([]byte, wire.MaxPacketSize)
	require.NoError(t, wire.Send(peer, &wire.Message{Kind: wire.KindReadFile, Buffers: [][]byte{[]byte("host"), []byte("/tmp/x")}}))

	resp, err := wire.Recv(peer, scratch)
	require.NoError(t, err)
	assert.Equal(t, wire.KindBadRapRequest, resp.Kind)
}

func TestDispatchRejectsNonRequestKind(t *testing.T) {
	s, peer := newTestSession(t)
	go s.run()

	scratch := make([]byte, wire.MaxPacketSize)
	require.NoError(t, wire.Send(peer, &wire.Message{Kind: wire.KindSuccess}))

	resp, err := wire.Recv(peer, scratch)
	require.NoError(t, err)
	assert.Equal(t, wire.KindBadRapRequest, resp.Kind)
}

func TestHandleReadFileServesRegularFile(t *testing.T) {
	s, peer := newTestSession(t)
	s.authenticated = true

	path := filepath.Join(t.TempDir(), "hello.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0644))

	go s.run()

	scratch := make([]byte, wire.MaxPacketSize)
	require.NoError(t, wire.Send(peer, &wire.Message{Kind: wire.KindReadFile, Buffers: [][]byte{[]byte("host"), []byte(path)}}))

	resp, err := wire.Recv(peer, scratch)
	require.NoError(t, err)
	require.Equal(t, wire.KindSuccess, resp.Kind)
	require.True(t, resp.FD.Valid())
	defer resp.FD.Close()
	assert.Equal(t, "text/plain", resp.BufferString(wire.BufMimeType))

	data := make([]byte, 64)
	n, err := resp.FD.File().Read(data)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data[:n]))
}

func TestHandleReadFileMissingReturnsNotFound(t *testing.T) {
	s, peer := newTestSession(t)
	s.authenticated = true

	go s.run()

	scratch := make([]byte, wire.MaxPacketSize)
	require.NoError(t, wire.Send(peer, &wire.Message{Kind: wire.KindReadFile, Buffers: [][]byte{[]byte("host"), []byte("/no/such/file")}}))

	resp, err := wire.Recv(peer, scratch)
	require.NoError(t, err)
	assert.Equal(t, wire.KindNotFound, resp.Kind)
}

func TestHandleWriteFileStreamsBodyThenSuccess(t *testing.T) {
	s, peer := newTestSession(t)
	s.authenticated = true

	path := filepath.Join(t.TempDir(), "upload.txt")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	go s.run()

	r, w, err := os.Pipe()
	require.NoError(t, err)

	scratch := make([]byte, wire.MaxPacketSize)
	require.NoError(t, wire.Send(peer, &wire.Message{
		Kind:    wire.KindWriteFile,
		FD:      wire.NewFD(r),
		Buffers: [][]byte{[]byte("host"), []byte(path)},
	}))

	resp, err := wire.Recv(peer, scratch)
	require.NoError(t, err)
	require.Equal(t, wire.KindContinue, resp.Kind)

	_, err = w.Write([]byte("uploaded body"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	resp, err = wire.Recv(peer, scratch)
	require.NoError(t, err)
	assert.Equal(t, wire.KindSuccess, resp.Kind)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "uploaded body", string(data))
}

func TestHandleWriteFileMissingReturnsConflict(t *testing.T) {
	s, peer := newTestSession(t)
	s.authenticated = true

	go s.run()

	r, _, err := os.Pipe()
	require.NoError(t, err)

	scratch := make([]byte, wire.MaxPacketSize)
	require.NoError(t, wire.Send(peer, &wire.Message{
		Kind:    wire.KindWriteFile,
		FD:      wire.NewFD(r),
		Buffers: [][]byte{[]byte("host"), []byte(filepath.Join(t.TempDir(), "does-not-exist"))},
	}))

	resp, err := wire.Recv(peer, scratch)
	require.NoError(t, err)
	assert.Equal(t, wire.KindConflict, resp.Kind)
}

func TestHandleAuthenticateRejectsSecondAttempt(t *testing.T) {
	s, peer := newTestSession(t)
	s.authenticated = true

	go s.run()

	scratch := make([]byte, wire.MaxPacketSize)
	require.NoError(t, wire.Send(peer, &wire.Message{
		Kind:    wire.KindAuthenticate,
		Buffers: [][]byte{[]byte("alice"), []byte("pw"), []byte("::1")},
	}))

	resp, err := wire.Recv(peer, scratch)
	require.NoError(t, err)
	assert.Equal(t, wire.KindBadRapRequest, resp.Kind)
}

func TestHandlePropfindStreamsMultistatus(t *testing.T) {
	s, peer := newTestSession(t)
	s.authenticated = true

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello world"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden"), nil, 0644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0755))

	go s.run()

	scratch := make([]byte, wire.MaxPacketSize)
	require.NoError(t, wire.Send(peer, &wire.Message{
		Kind:    wire.KindPropfind,
		Buffers: [][]byte{[]byte("host"), []byte(dir), []byte("1")},
	}))

	resp, err := wire.Recv(peer, scratch)
	require.NoError(t, err)
	require.Equal(t, wire.KindMultistatus, resp.Kind)
	require.True(t, resp.FD.Valid())
	defer resp.FD.Close()
	assert.Equal(t, "application/xml; charset=utf-8", resp.BufferString(wire.BufMimeType))

	body, err := io.ReadAll(resp.FD.File())
	require.NoError(t, err)
	out := string(body)
	assert.Equal(t, 3, strings.Count(out, "<d:response>"), "self + two visible children")
	assert.Contains(t, out, "<d:collection/>")
	assert.Contains(t, out, "a.txt")
	assert.NotContains(t, out, ".hidden")
}

func TestHandlePropfindDepthZeroSelfOnly(t *testing.T) {
	s, peer := newTestSession(t)
	s.authenticated = true

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "child"), nil, 0644))

	go s.run()

	scratch := make([]byte, wire.MaxPacketSize)
	require.NoError(t, wire.Send(peer, &wire.Message{
		Kind:    wire.KindPropfind,
		Buffers: [][]byte{[]byte("host"), []byte(dir), []byte("0")},
	}))

	resp, err := wire.Recv(peer, scratch)
	require.NoError(t, err)
	require.Equal(t, wire.KindMultistatus, resp.Kind)
	defer resp.FD.Close()

	body, err := io.ReadAll(resp.FD.File())
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(body), "<d:response>"))
}
