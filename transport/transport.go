// Package transport defines the remote side of a sync run. A Transport is one
// live protocol session; the engine drives it through the narrow set of
// primitives below and never shares one between goroutines.
package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"net/textproto"
	"strconv"
	"strings"
)

// DefaultPort is the FTP control port used when Credentials.Port is zero.
const DefaultPort = 21

var (
	// ErrNotFound is returned when the remote path does not exist.
	ErrNotFound = errors.New("remote path not found")

	// ErrAlreadyExists is returned by Mkdir when the directory is already there.
	ErrAlreadyExists = errors.New("remote path already exists")

	// ErrNotConnected is returned when a command is issued before Connect.
	ErrNotConnected = errors.New("not connected")
)

// Credentials identify the remote account. Two values are the same account
// when all fields are equal.
type Credentials struct {
	Host     string
	Port     int
	User     string
	Password string
	Account  string
}

// Addr returns the host:port pair to dial.
func (c Credentials) Addr() string {
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// String omits the password.
func (c Credentials) String() string {
	if c.User == "" {
		return c.Addr()
	}
	return c.User + "@" + c.Addr()
}

// Transport is one protocol session. Every call may block on network I/O.
type Transport interface {
	// Connect dials and authenticates.
	Connect(ctx context.Context) error

	// Pwd returns the current remote working directory.
	Pwd() (string, error)

	// Chdir changes the remote working directory.
	Chdir(path string) error

	// Mkdir creates a directory relative to the working directory.
	Mkdir(name string) error

	// ListNames returns the entry names of the working directory.
	ListNames() ([]string, error)

	// PutFile stores the content of r at remotePath, reading it in
	// blockSize chunks.
	PutFile(remotePath string, r io.Reader, blockSize int) error

	// RemoteSize returns the size of remotePath. A missing file yields an
	// error matching ErrNotFound.
	RemoteSize(remotePath string) (int64, error)

	// Close ends the session.
	Close() error
}

// IsNotFound reports whether err means the remote path is absent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConnectionError reports whether err means the control connection is gone:
// the server closed it (reply 421, EOF) or the socket failed.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if replyCode(err) == 421 {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// replyCode extracts the FTP reply code from a protocol-level error, or 0.
func replyCode(err error) int {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		return tpErr.Code
	}
	return 0
}

// replyMessage extracts the FTP reply text from a protocol-level error.
func replyMessage(err error) string {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		return tpErr.Msg
	}
	return ""
}

// mentionsExists matches the wording servers use when MKD hits an existing
// entry ("File exists", "Directory already exists", "Can't create directory: File exists").
func mentionsExists(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "exists")
}
