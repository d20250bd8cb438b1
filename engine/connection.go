package engine

import (
	"context"
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/franksops/rftp/provider"
	"github.com/franksops/rftp/transport"
)

// ErrShortRead is returned when the bytes uploaded differ from the source size.
var ErrShortRead = errors.New("short read")

// ConnectionOptions are the collaborators a Connection shares with its pool.
// Zero values fall back to a local source, default-sized blocks and no journal.
type ConnectionOptions struct {
	Source  provider.Provider
	Blocks  *BlockReaderPool
	Tracker *JobTracker
	Stats   *Stats
	Logger  logrus.FieldLogger
}

// Connection pairs one Transport with the run's shared Session. It belongs to
// a single worker and is never used from two goroutines.
type Connection struct {
	t         transport.Transport
	session   *Session
	source    provider.Provider
	blocks    *BlockReaderPool
	tracker   *JobTracker
	stats     *Stats
	log       logrus.FieldLogger
	connected bool
}

var _ Executor = (*Connection)(nil)

// NewConnection wraps t. The transport is dialed on the first operation.
func NewConnection(t transport.Transport, session *Session, opts ConnectionOptions) *Connection {
	c := &Connection{
		t:       t,
		session: session,
		source:  opts.Source,
		blocks:  opts.Blocks,
		tracker: opts.Tracker,
		stats:   opts.Stats,
		log:     opts.Logger,
	}
	if c.source == nil {
		c.source = provider.NewLocalProvider("")
	}
	if c.blocks == nil {
		c.blocks = NewBlockReaderPool(DefaultBlockSize)
	}
	if c.stats == nil {
		c.stats = &Stats{}
	}
	if c.log == nil {
		c.log = logrus.StandardLogger()
	}
	return c
}

// ensureConnected dials on first use, and again after a failed dial or a
// lost session.
func (c *Connection) ensureConnected(ctx context.Context) error {
	if c.connected {
		return nil
	}
	if err := c.t.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	c.connected = true
	return nil
}

// Mkpath makes sure dir exists remotely, creating missing segments one by one.
// A dir already in the Session costs no remote call. Failures past the
// connect are logged and swallowed, and dir stays recorded.
func (c *Connection) Mkpath(ctx context.Context, dir string) error {
	if dir == "" || dir == "." {
		return nil
	}
	if c.session.Exists(dir) {
		c.log.WithField("path", dir).Debug("known to exist")
		return nil
	}
	c.log.Infof("mkpath: %s", dir)

	if err := c.ensureConnected(ctx); err != nil {
		return err
	}
	// Recorded before the work so other workers skip it while we are busy.
	c.session.Record(dir)

	id := JobID(JobMkpath, dir)
	c.track(func(t *JobTracker) error { return t.InitJob(id, "", dir, 0) })

	startDir, err := c.t.Pwd()
	if err != nil {
		c.dropIfLost(err)
		c.log.WithError(err).WithField("path", dir).Error("mkpath: pwd failed")
		c.track(func(t *JobTracker) error { return t.MarkFailed(id, err) })
		return nil
	}
	if startDir == dir {
		c.track(func(t *JobTracker) error { return t.MarkCompleted(id, 0, "") })
		return nil
	}

	err = c.descend(dir, startDir)
	if cerr := c.t.Chdir(startDir); cerr != nil {
		c.log.WithError(cerr).WithField("path", startDir).Error("mkpath: failed to return to start directory")
	}
	if err != nil {
		c.dropIfLost(err)
		c.log.WithError(err).WithField("path", dir).Error("mkpath failed")
		c.track(func(t *JobTracker) error { return t.MarkFailed(id, err) })
		return nil
	}

	c.stats.DirsEnsured.Add(1)
	c.track(func(t *JobTracker) error { return t.MarkCompleted(id, 0, "") })
	return nil
}

func (c *Connection) descend(dir, startDir string) error {
	if strings.HasPrefix(dir, "/") && startDir != "/" {
		if err := c.t.Chdir("/"); err != nil {
			return fmt.Errorf("chdir /: %w", err)
		}
	}

	for _, seg := range strings.Split(dir, "/") {
		if seg == "" || seg == "." {
			continue
		}
		names, err := c.t.ListNames()
		if err != nil {
			return fmt.Errorf("list before %s: %w", seg, err)
		}
		if !slices.Contains(names, seg) {
			c.log.WithField("dir", seg).Debug("mkdir")
			if err := c.t.Mkdir(seg); err != nil && !errors.Is(err, transport.ErrAlreadyExists) {
				return fmt.Errorf("mkdir %s: %w", seg, err)
			}
		}
		c.log.WithField("dir", seg).Debug("chdir")
		if err := c.t.Chdir(seg); err != nil {
			return fmt.Errorf("chdir %s: %w", seg, err)
		}
	}
	return nil
}

// CopyTo uploads source to remotePath unless the remote file already has the
// source's size.
func (c *Connection) CopyTo(ctx context.Context, source, remotePath string) error {
	c.log.Infof("copyTo: %s -> %s", source, remotePath)

	if parent := path.Dir(remotePath); parent != "." {
		if err := c.Mkpath(ctx, parent); err != nil {
			return err
		}
	}
	if err := c.ensureConnected(ctx); err != nil {
		return err
	}

	info, err := c.source.Stat(ctx, source)
	if err != nil {
		return fmt.Errorf("stat %s: %w", source, err)
	}
	size := info.Size()

	id := JobID(JobCopyTo, remotePath)
	c.track(func(t *JobTracker) error { return t.InitJob(id, source, remotePath, size) })
	c.track(func(t *JobTracker) error { return t.MarkInProgress(id) })

	remoteSize, err := c.t.RemoteSize(remotePath)
	switch {
	case err == nil && remoteSize == size:
		c.log.WithField("path", remotePath).Debug("skipping, same size")
		c.stats.FilesSkipped.Add(1)
		c.track(func(t *JobTracker) error { return t.MarkSkipped(id) })
		return nil
	case transport.IsConnectionError(err):
		c.dropIfLost(err)
		c.track(func(t *JobTracker) error { return t.MarkFailed(id, err) })
		return fmt.Errorf("size %s: %w", remotePath, err)
	case err != nil && !transport.IsNotFound(err):
		c.log.WithError(err).WithField("path", remotePath).Warn("size query failed, uploading")
	}

	checksum, err := c.upload(ctx, source, remotePath, size)
	if err != nil {
		c.dropIfLost(err)
		c.track(func(t *JobTracker) error { return t.MarkFailed(id, err) })
		return err
	}

	c.stats.FilesUploaded.Add(1)
	c.stats.BytesUploaded.Add(size)
	c.track(func(t *JobTracker) error { return t.MarkCompleted(id, size, FormatChecksum(checksum)) })
	return nil
}

func (c *Connection) upload(ctx context.Context, source, remotePath string, size int64) (uint64, error) {
	rc, err := c.source.OpenRead(ctx, source)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", source, err)
	}
	defer rc.Close()

	cr := NewChecksumReader(rc)
	br := c.blocks.Get(cr)
	defer c.blocks.Put(br)

	if err := c.t.PutFile(remotePath, br, c.blocks.Size()); err != nil {
		return 0, fmt.Errorf("upload %s: %w", remotePath, err)
	}
	if cr.BytesRead() != size {
		return 0, fmt.Errorf("%w: %s sent %d of %d bytes", ErrShortRead, source, cr.BytesRead(), size)
	}
	return cr.Checksum(), nil
}

// Close ends the transport session if one was opened.
func (c *Connection) Close() error {
	if !c.connected {
		return nil
	}
	c.connected = false
	return c.t.Close()
}

// dropIfLost forgets a session the server or network has ended, so the next
// job dials a fresh one.
func (c *Connection) dropIfLost(err error) {
	if !c.connected || !transport.IsConnectionError(err) {
		return
	}
	c.log.WithError(err).Warn("connection lost, redialing on next job")
	_ = c.t.Close()
	c.connected = false
}

// track applies fn to the journal, if there is one. Journal failures never
// fail a job.
func (c *Connection) track(fn func(*JobTracker) error) {
	if c.tracker == nil {
		return
	}
	if err := fn(c.tracker); err != nil {
		c.log.WithError(err).Warn("journal update failed")
	}
}
