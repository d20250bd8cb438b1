// Package client mirrors local (or S3) trees onto an FTP server through a pool
// of parallel connections.
package client

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/franksops/rftp/engine"
	"github.com/franksops/rftp/provider"
	"github.com/franksops/rftp/transport"
)

// ErrNoHost is returned by New when the credentials name no server.
var ErrNoHost = errors.New("no host given")

// TransportFactory builds the unconnected Transport for one worker.
type TransportFactory func(config Config, log logrus.FieldLogger) transport.Transport

// Option configures a Client.
type Option func(*Client)

// WithSource sets the tree to read from. Defaults to the local filesystem.
func WithSource(p provider.Provider) Option {
	return func(c *Client) {
		c.source = p
	}
}

// WithLogger sets the logger shared by the client, its pool and connections.
func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// WithTracker journals every job outcome.
func WithTracker(t *engine.JobTracker) Option {
	return func(c *Client) {
		c.tracker = t
	}
}

// WithTransportFactory replaces the FTP transport, mostly for tests.
func WithTransportFactory(f TransportFactory) Option {
	return func(c *Client) {
		c.newTransport = f
	}
}

// Client owns one worker pool and the Session its connections share.
type Client struct {
	config       Config
	source       provider.Provider
	log          logrus.FieldLogger
	tracker      *engine.JobTracker
	newTransport TransportFactory

	session *engine.Session
	stats   *engine.Stats
	walker  *engine.Walker
	pool    *engine.WorkerPool
}

// New builds the pool: one Connection per worker, each dialing on its first job.
func New(ctx context.Context, config Config, opts ...Option) (*Client, error) {
	config = config.WithDefaults()
	if config.Credentials.Host == "" {
		return nil, ErrNoHost
	}

	c := &Client{
		config:       config,
		source:       provider.NewLocalProvider(""),
		log:          logrus.StandardLogger(),
		newTransport: newFTPTransport,
		session:      engine.NewSession(),
		stats:        &engine.Stats{},
	}
	for _, opt := range opts {
		opt(c)
	}

	c.walker = engine.NewWalker(c.source, config.Exclude, c.log)
	blocks := engine.NewBlockReaderPool(config.BlockSize)

	c.pool = engine.NewWorkerPool(ctx, config.Workers, func(id int) engine.Executor {
		log := c.log.WithField("worker", id)
		return engine.NewConnection(c.newTransport(config, log), c.session, engine.ConnectionOptions{
			Source:  c.source,
			Blocks:  blocks,
			Tracker: c.tracker,
			Stats:   c.stats,
			Logger:  log,
		})
	}, c.stats, c.log)

	c.log.WithFields(logrus.Fields{
		"server":  config.Credentials.String(),
		"workers": config.Workers,
	}).Debug("client ready")
	return c, nil
}

func newFTPTransport(config Config, log logrus.FieldLogger) transport.Transport {
	return transport.NewFTPTransport(config.Credentials,
		transport.WithDialTimeout(config.DialTimeout),
		transport.WithRetry(*config.DialRetry),
		transport.WithLogger(log),
	)
}

// Credentials returns the account every connection logs in with.
func (c *Client) Credentials() transport.Credentials {
	return c.config.Credentials
}

// Stats returns the run counters.
func (c *Client) Stats() *engine.Stats {
	return c.stats
}

// Pool exposes the worker pool for progress reporting.
func (c *Client) Pool() *engine.WorkerPool {
	return c.pool
}

// SyncTree mirrors localRoot under remoteRoot.
func (c *Client) SyncTree(ctx context.Context, localRoot, remoteRoot string) error {
	return c.Sync(ctx, remoteRoot, localRoot)
}

type fileJob struct {
	source string
	remote string
	size   int64
}

// Sync enqueues the jobs that mirror every root under remoteRoot. Directory
// jobs go first and are drained before any file job is queued. Roots that do
// not exist are logged and skipped. Sync returns once the file jobs are
// queued; use Wait or Close to let them finish. Cancelling ctx stops the walk
// and the queueing, but not jobs already queued.
func (c *Client) Sync(ctx context.Context, remoteRoot string, roots ...string) error {
	dirSet := make(map[string]struct{})
	var files []fileJob

	for _, root := range roots {
		err := c.walker.Walk(ctx, root, func(e engine.Entry) error {
			remote := path.Join(remoteRoot, e.RelPath)
			if e.IsDir {
				dirSet[remote] = struct{}{}
			} else {
				files = append(files, fileJob{source: e.Path, remote: remote, size: e.Size})
			}
			return nil
		})
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, fs.ErrNotExist):
			c.log.WithField("path", root).Error("local path does not exist, skipping")
		default:
			c.log.WithError(err).WithField("path", root).Error("failed to walk local path, skipping")
		}
	}

	dirs := make([]string, 0, len(dirSet))
	for d := range dirSet {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)

	if c.config.DryRun {
		for _, d := range dirs {
			c.log.Infof("dry run: mkpath %s", d)
		}
		for _, f := range files {
			c.log.Infof("dry run: copyTo %s -> %s", f.source, f.remote)
		}
		return nil
	}

	for _, d := range dirs {
		if err := c.pool.Enqueue(engine.JobMkpath, d); err != nil {
			return fmt.Errorf("enqueue mkpath %s: %w", d, err)
		}
	}
	c.pool.AwaitDrain()
	if err := ctx.Err(); err != nil {
		return err
	}

	for _, f := range files {
		if err := c.pool.Enqueue(engine.JobCopyTo, f.source, f.remote); err != nil {
			return fmt.Errorf("enqueue copyTo %s: %w", f.remote, err)
		}
		c.stats.FilesQueued.Add(1)
		c.stats.BytesQueued.Add(f.size)
	}
	return nil
}

// Wait blocks until every queued job has run.
func (c *Client) Wait() {
	c.pool.AwaitDrain()
}

// Close lets queued jobs finish, then closes every connection and stops the
// workers.
func (c *Client) Close() {
	c.pool.Close()
}
