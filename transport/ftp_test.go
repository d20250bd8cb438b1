package transport_test

import (
	"bytes"
	"context"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franksops/rftp/transport"
	"github.com/franksops/rftp/transport/ftptest"
)

func newServer(t *testing.T) *ftptest.Server {
	t.Helper()
	srv, err := ftptest.NewServer("user", "pass")
	require.NoError(t, err)
	t.Cleanup(srv.Close)
	return srv
}

func credentials(srv *ftptest.Server) transport.Credentials {
	return transport.Credentials{
		Host:     srv.Host(),
		Port:     srv.Port(),
		User:     "user",
		Password: "pass",
	}
}

func connect(t *testing.T, srv *ftptest.Server) *transport.FTPTransport {
	t.Helper()
	tr := transport.NewFTPTransport(credentials(srv),
		transport.WithDialTimeout(5*time.Second),
		transport.WithRetry(transport.NoRetryConfig()),
	)
	require.NoError(t, tr.Connect(context.Background()))
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func TestCredentials_Addr(t *testing.T) {
	assert.Equal(t, "example.org:21", transport.Credentials{Host: "example.org"}.Addr())
	assert.Equal(t, "example.org:2121", transport.Credentials{Host: "example.org", Port: 2121}.Addr())
}

func TestCredentials_StringOmitsPassword(t *testing.T) {
	c := transport.Credentials{Host: "example.org", User: "user", Password: "secret"}
	assert.Equal(t, "user@example.org:21", c.String())
	assert.NotContains(t, c.String(), "secret")
}

func TestFTPTransport_NotConnected(t *testing.T) {
	tr := transport.NewFTPTransport(transport.Credentials{Host: "localhost"})
	assert.False(t, tr.IsConnected())

	_, err := tr.Pwd()
	assert.ErrorIs(t, err, transport.ErrNotConnected)
	assert.ErrorIs(t, tr.Chdir("/"), transport.ErrNotConnected)
	assert.ErrorIs(t, tr.Mkdir("a"), transport.ErrNotConnected)
	_, err = tr.ListNames()
	assert.ErrorIs(t, err, transport.ErrNotConnected)
	assert.ErrorIs(t, tr.PutFile("a", strings.NewReader("x"), 8), transport.ErrNotConnected)
	_, err = tr.RemoteSize("a")
	assert.ErrorIs(t, err, transport.ErrNotConnected)

	assert.NoError(t, tr.Close())
}

func TestFTPTransport_ConnectBadPassword(t *testing.T) {
	srv := newServer(t)
	creds := credentials(srv)
	creds.Password = "wrong"

	tr := transport.NewFTPTransport(creds, transport.WithRetry(transport.NoRetryConfig()))
	err := tr.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to login")
	assert.False(t, tr.IsConnected())
}

func TestFTPTransport_Directories(t *testing.T) {
	srv := newServer(t)
	tr := connect(t, srv)

	dir, err := tr.Pwd()
	require.NoError(t, err)
	assert.Equal(t, "/", dir)

	require.NoError(t, tr.Mkdir("up"))
	assert.True(t, srv.IsDir("/up"))

	err = tr.Mkdir("up")
	assert.ErrorIs(t, err, transport.ErrAlreadyExists)

	require.NoError(t, tr.Chdir("up"))
	dir, err = tr.Pwd()
	require.NoError(t, err)
	assert.Equal(t, "/up", dir)

	err = tr.Chdir("missing")
	assert.ErrorIs(t, err, transport.ErrNotFound)
}

func TestFTPTransport_ListNames(t *testing.T) {
	srv := newServer(t)
	srv.MkdirAll("/up/a")
	srv.WriteFile("/up/file.txt", []byte("hello"))
	tr := connect(t, srv)

	require.NoError(t, tr.Chdir("/up"))
	names, err := tr.ListNames()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "file.txt"}, names)

	require.NoError(t, tr.Chdir("a"))
	names, err = tr.ListNames()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestFTPTransport_PutFileAndRemoteSize(t *testing.T) {
	srv := newServer(t)
	srv.MkdirAll("/up")
	tr := connect(t, srv)

	_, err := tr.RemoteSize("/up/file.txt")
	assert.True(t, transport.IsNotFound(err), "expected not found, got %v", err)

	content := bytes.Repeat([]byte("0123456789"), 100)
	require.NoError(t, tr.PutFile("/up/file.txt", bytes.NewReader(content), 64))

	stored, ok := srv.File("/up/file.txt")
	require.True(t, ok)
	assert.Equal(t, content, stored)

	size, err := tr.RemoteSize("/up/file.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), size)
}

func TestFTPTransport_PutFileMissingParent(t *testing.T) {
	srv := newServer(t)
	tr := connect(t, srv)

	err := tr.PutFile("/nowhere/file.txt", strings.NewReader("x"), 8)
	require.Error(t, err)
	assert.False(t, transport.IsNotFound(err))
}

func TestFTPTransport_SizeUnsupported(t *testing.T) {
	srv := newServer(t)
	srv.Fail("SIZE", 502, "Command not implemented")
	tr := connect(t, srv)

	_, err := tr.RemoteSize("/file.txt")
	require.Error(t, err)
	assert.False(t, transport.IsNotFound(err))

	var tpErr *textproto.Error
	require.ErrorAs(t, err, &tpErr)
	assert.Equal(t, 502, tpErr.Code)
}

func TestFTPTransport_MkdirPermissionDenied(t *testing.T) {
	srv := newServer(t)
	srv.Fail("MKD", 550, "Permission denied")
	tr := connect(t, srv)

	err := tr.Mkdir("a")
	require.Error(t, err)
	assert.NotErrorIs(t, err, transport.ErrAlreadyExists)
	assert.Equal(t, []string{"/"}, srv.Dirs())

	srv.ClearFailures()
	require.NoError(t, tr.Mkdir("a"))
	assert.Equal(t, []string{"/", "/a"}, srv.Dirs())
}

func TestFTPTransport_SizeTransientMissingIsNotFound(t *testing.T) {
	srv := newServer(t)
	srv.Fail("SIZE", 450, "file unavailable")
	tr := connect(t, srv)

	_, err := tr.RemoteSize("/file.txt")
	assert.True(t, transport.IsNotFound(err), "expected not found, got %v", err)
}

func TestFTPTransport_ServiceClosingIsConnectionError(t *testing.T) {
	srv := newServer(t)
	srv.Fail("SIZE", 421, "Timeout, closing control connection")
	tr := connect(t, srv)

	_, err := tr.RemoteSize("/file.txt")
	require.Error(t, err)
	assert.False(t, transport.IsNotFound(err))
	assert.True(t, transport.IsConnectionError(err))
}

func TestFTPTransport_CloseIsIdempotent(t *testing.T) {
	srv := newServer(t)
	tr := connect(t, srv)

	assert.True(t, tr.IsConnected())
	assert.NoError(t, tr.Close())
	assert.False(t, tr.IsConnected())
	assert.NoError(t, tr.Close())
}
