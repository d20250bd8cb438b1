package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"path"
	"time"

	goftp "github.com/jlaffaye/ftp"
	"github.com/sirupsen/logrus"
)

// DefaultDialTimeout bounds dialing the control connection.
const DefaultDialTimeout = 30 * time.Second

// ensure interface is implemented
var _ Transport = (*FTPTransport)(nil)

// FTPTransport implements Transport over one FTP control connection.
type FTPTransport struct {
	creds   Credentials
	timeout time.Duration
	retry   RetryConfig
	log     logrus.FieldLogger

	conn *goftp.ServerConn
}

// Option configures an FTPTransport.
type Option func(*FTPTransport)

// WithDialTimeout sets the control connection dial timeout.
func WithDialTimeout(d time.Duration) Option {
	return func(t *FTPTransport) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// WithRetry sets the dial retry policy.
func WithRetry(config RetryConfig) Option {
	return func(t *FTPTransport) {
		t.retry = config
	}
}

// WithLogger sets the logger used for dial retries.
func WithLogger(log logrus.FieldLogger) Option {
	return func(t *FTPTransport) {
		if log != nil {
			t.log = log
		}
	}
}

// NewFTPTransport creates an unconnected FTP transport for creds.
func NewFTPTransport(creds Credentials, opts ...Option) *FTPTransport {
	t := &FTPTransport{
		creds:   creds,
		timeout: DefaultDialTimeout,
		retry:   DefaultRetryConfig(),
		log:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Connect dials the server and logs in, retrying transient dial failures.
func (t *FTPTransport) Connect(ctx context.Context) error {
	if t.conn != nil {
		return nil
	}
	if t.creds.Account != "" {
		t.log.Warnf("connect: %s: ACCT is not supported by the FTP client, account ignored", t.creds)
	}

	addr := t.creds.Addr()
	return Retry(ctx, t.retry, t.log, "connect "+addr, func() error {
		conn, err := goftp.Dial(addr,
			goftp.DialWithContext(ctx),
			goftp.DialWithTimeout(t.timeout),
		)
		if err != nil {
			return fmt.Errorf("failed to connect to FTP server %s: %w", addr, err)
		}

		if err := conn.Login(t.creds.User, t.creds.Password); err != nil {
			_ = conn.Quit()
			return fmt.Errorf("failed to login to FTP server %s: %w", addr, err)
		}

		t.conn = conn
		return nil
	})
}

// IsConnected returns true once Connect has succeeded and until Close.
func (t *FTPTransport) IsConnected() bool {
	return t.conn != nil
}

// Pwd returns the current remote directory.
func (t *FTPTransport) Pwd() (string, error) {
	if t.conn == nil {
		return "", ErrNotConnected
	}
	dir, err := t.conn.CurrentDir()
	if err != nil {
		return "", fmt.Errorf("pwd: %w", err)
	}
	return dir, nil
}

// Chdir changes the remote directory.
func (t *FTPTransport) Chdir(dir string) error {
	if t.conn == nil {
		return ErrNotConnected
	}
	if err := t.conn.ChangeDir(dir); err != nil {
		if replyCode(err) == goftp.StatusFileUnavailable {
			return fmt.Errorf("chdir %s: %w: %w", dir, ErrNotFound, err)
		}
		return fmt.Errorf("chdir %s: %w", dir, err)
	}
	return nil
}

// Mkdir creates name in the current directory. A refusal that names an
// existing entry is reported as ErrAlreadyExists.
func (t *FTPTransport) Mkdir(name string) error {
	if t.conn == nil {
		return ErrNotConnected
	}
	if err := t.conn.MakeDir(name); err != nil {
		code := replyCode(err)
		if code == 521 || (code == goftp.StatusFileUnavailable && mentionsExists(replyMessage(err))) {
			return fmt.Errorf("mkdir %s: %w: %w", name, ErrAlreadyExists, err)
		}
		return fmt.Errorf("mkdir %s: %w", name, err)
	}
	return nil
}

// ListNames returns the base names found in the current directory. Servers
// that answer NLST on an empty directory with 450/550 yield an empty list.
func (t *FTPTransport) ListNames() ([]string, error) {
	if t.conn == nil {
		return nil, ErrNotConnected
	}
	entries, err := t.conn.NameList("")
	if err != nil {
		switch replyCode(err) {
		case goftp.StatusFileActionIgnored, goftp.StatusFileUnavailable:
			return nil, nil
		}
		return nil, fmt.Errorf("nlst: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := path.Base(entry)
		if name == "." || name == ".." || name == "/" {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

// PutFile stores r at remotePath through a blockSize read buffer.
func (t *FTPTransport) PutFile(remotePath string, r io.Reader, blockSize int) error {
	if t.conn == nil {
		return ErrNotConnected
	}
	if blockSize > 0 {
		// No-op when r is already a large enough *bufio.Reader.
		r = bufio.NewReaderSize(r, blockSize)
	}
	if err := t.conn.Stor(remotePath, r); err != nil {
		return fmt.Errorf("failed to store FTP file %s: %w", remotePath, err)
	}
	return nil
}

// RemoteSize issues SIZE for remotePath. Replies 550 and 450 mean the file
// is not there.
func (t *FTPTransport) RemoteSize(remotePath string) (int64, error) {
	if t.conn == nil {
		return 0, ErrNotConnected
	}
	size, err := t.conn.FileSize(remotePath)
	if err != nil {
		if code := replyCode(err); code == goftp.StatusFileUnavailable || code == goftp.StatusFileActionIgnored {
			return 0, fmt.Errorf("size %s: %w: %w", remotePath, ErrNotFound, err)
		}
		return 0, fmt.Errorf("size %s: %w", remotePath, err)
	}
	return size, nil
}

// Close quits the session. Closing an unconnected transport is a no-op.
func (t *FTPTransport) Close() error {
	if t.conn == nil {
		return nil
	}
	err := t.conn.Quit()
	t.conn = nil
	return err
}
