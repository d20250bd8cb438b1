package client_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franksops/rftp/client"
	"github.com/franksops/rftp/engine"
	"github.com/franksops/rftp/store"
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

func configFor(srv *ftptest.Server, workers int) client.Config {
	noRetry := transport.NoRetryConfig()
	return client.Config{
		Credentials: transport.Credentials{
			Host:     srv.Host(),
			Port:     srv.Port(),
			User:     "user",
			Password: "pass",
		},
		Workers:     workers,
		DialTimeout: 5 * time.Second,
		DialRetry:   &noRetry,
	}
}

// scenarioTree builds a/b/file.txt (100 bytes) and the empty directory a/c.
func scenarioTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "a", "b"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "a", "c"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a", "b", "file.txt"), []byte(strings.Repeat("x", 100)), 0644))
	return root
}

func runSync(t *testing.T, config client.Config, root string, opts ...client.Option) *client.Client {
	t.Helper()
	c, err := client.New(context.Background(), config, opts...)
	require.NoError(t, err)
	require.NoError(t, c.SyncTree(context.Background(), root, "/up"))
	c.Close()
	return c
}

func TestNew_RequiresHost(t *testing.T) {
	_, err := client.New(context.Background(), client.Config{})
	assert.ErrorIs(t, err, client.ErrNoHost)
}

func TestConfig_WithDefaults(t *testing.T) {
	c := client.Config{Credentials: transport.Credentials{Host: "example.org"}}.WithDefaults()

	assert.Equal(t, engine.DefaultWorkers, c.Workers)
	assert.Equal(t, engine.DefaultBlockSize, c.BlockSize)
	assert.Equal(t, transport.DefaultDialTimeout, c.DialTimeout)
	assert.Equal(t, transport.DefaultPort, c.Credentials.Port)
	require.NotNil(t, c.DialRetry)
	assert.Equal(t, transport.DefaultRetryConfig(), *c.DialRetry)

	kept := client.Config{Workers: 2, BlockSize: 512}.WithDefaults()
	assert.Equal(t, 2, kept.Workers)
	assert.Equal(t, 512, kept.BlockSize)
}

func TestSyncTree_MirrorsScenario(t *testing.T) {
	srv := newServer(t)
	root := scenarioTree(t)
	log, hook := test.NewNullLogger()

	c := runSync(t, configFor(srv, 3), root, client.WithLogger(log))

	assert.True(t, srv.IsDir("/up/a/c"))
	assert.True(t, srv.IsDir("/up/a/b"))
	data, ok := srv.File("/up/a/b/file.txt")
	require.True(t, ok)
	assert.Len(t, data, 100)

	snap := c.Stats().Snapshot()
	assert.Equal(t, int64(1), snap.FilesQueued)
	assert.Equal(t, int64(100), snap.BytesQueued)
	assert.Equal(t, int64(1), snap.FilesUploaded)
	assert.Zero(t, snap.JobsFailed)

	for _, e := range hook.AllEntries() {
		assert.NotEqual(t, logrus.ErrorLevel, e.Level, e.Message)
	}
	for _, s := range c.Pool().States() {
		assert.Equal(t, engine.WorkerTerminated, s)
	}
}

func TestSyncTree_SecondRunUploadsNothing(t *testing.T) {
	srv := newServer(t)
	root := scenarioTree(t)
	log, _ := test.NewNullLogger()

	runSync(t, configFor(srv, 2), root, client.WithLogger(log))
	require.Equal(t, 1, srv.Count("STOR"))
	srv.ResetCounts()

	c := runSync(t, configFor(srv, 2), root, client.WithLogger(log))

	assert.Zero(t, srv.Count("STOR"))
	assert.Equal(t, int64(1), c.Stats().FilesSkipped.Load())
}

func TestSync_MissingRootIsLoggedAndSkipped(t *testing.T) {
	srv := newServer(t)
	root := scenarioTree(t)
	missing := filepath.Join(t.TempDir(), "does-not-exist")
	log, hook := test.NewNullLogger()

	c, err := client.New(context.Background(), configFor(srv, 2), client.WithLogger(log))
	require.NoError(t, err)
	require.NoError(t, c.Sync(context.Background(), "/up", missing, root))
	c.Close()

	var logged bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.ErrorLevel && e.Data["path"] == missing {
			logged = true
		}
	}
	assert.True(t, logged, "missing root should be logged as an error")
	_, ok := srv.File("/up/a/b/file.txt")
	assert.True(t, ok, "the existing root is still mirrored")
}

func TestSync_DryRunTouchesNothing(t *testing.T) {
	srv := newServer(t)
	root := scenarioTree(t)
	log, hook := test.NewNullLogger()

	config := configFor(srv, 2)
	config.DryRun = true
	runSync(t, config, root, client.WithLogger(log))

	assert.Zero(t, srv.Count("USER"))
	assert.False(t, srv.IsDir("/up"))

	var planned []string
	for _, e := range hook.AllEntries() {
		if strings.HasPrefix(e.Message, "dry run:") {
			planned = append(planned, e.Message)
		}
	}
	assert.Equal(t, []string{
		"dry run: mkpath /up/a/c",
		"dry run: copyTo " + filepath.Join(root, "a", "b", "file.txt") + " -> /up/a/b/file.txt",
	}, planned)
}

func TestSync_FailedUploadDoesNotStopTheRun(t *testing.T) {
	srv := newServer(t)
	root := scenarioTree(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "top.txt"), []byte("top"), 0644))
	srv.Fail("STOR", 553, "Permission denied")
	log, hook := test.NewNullLogger()

	c := runSync(t, configFor(srv, 1), root, client.WithLogger(log))

	assert.Equal(t, int64(2), c.Stats().JobsFailed.Load())
	assert.True(t, srv.IsDir("/up/a/c"), "directory jobs still ran")

	var failed int
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.ErrorLevel && e.Data["job"] == engine.JobCopyTo {
			failed++
		}
	}
	assert.Equal(t, 2, failed)
}

func TestSync_JournalsOutcomes(t *testing.T) {
	srv := newServer(t)
	root := scenarioTree(t)
	log, _ := test.NewNullLogger()

	db, err := store.NewBoltStore(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer db.Close()

	runSync(t, configFor(srv, 2), root, client.WithLogger(log), client.WithTracker(engine.NewJobTracker(db)))

	rec, err := db.GetJob(engine.JobID(engine.JobCopyTo, "/up/a/b/file.txt"))
	require.NoError(t, err)
	assert.Equal(t, store.StateCompleted, rec.State)
	assert.Equal(t, int64(100), rec.BytesTransferred)
	assert.True(t, strings.HasPrefix(rec.Checksum, "crc64:"))

	jobs, err := db.ListJobs()
	require.NoError(t, err)
	counts := store.Summarize(jobs)
	assert.Zero(t, counts[store.StateFailed])
	assert.GreaterOrEqual(t, counts[store.StateCompleted], 2)
}

func TestNew_OneTransportPerWorker(t *testing.T) {
	srv := newServer(t)
	var built atomic.Int32

	c, err := client.New(context.Background(), configFor(srv, 4),
		client.WithTransportFactory(func(config client.Config, log logrus.FieldLogger) transport.Transport {
			built.Add(1)
			return transport.NewFTPTransport(config.Credentials, transport.WithRetry(*config.DialRetry))
		}),
	)
	require.NoError(t, err)
	c.Close()

	assert.Equal(t, int32(4), built.Load())
	assert.Zero(t, srv.Count("USER"), "connections are dialed lazily")
}

func TestSync_CancelledContextQueuesNothing(t *testing.T) {
	srv := newServer(t)
	root := scenarioTree(t)
	log, _ := test.NewNullLogger()

	c, err := client.New(context.Background(), configFor(srv, 2), client.WithLogger(log))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, c.Sync(ctx, "/up", root), context.Canceled)
	c.Close()

	assert.Zero(t, c.Stats().FilesQueued.Load())
	assert.Zero(t, c.Stats().JobsFailed.Load())
	assert.Zero(t, srv.Count("USER"))
}

func TestSync_CancelAfterQueueingLetsJobsFinish(t *testing.T) {
	srv := newServer(t)
	root := scenarioTree(t)
	log, _ := test.NewNullLogger()

	c, err := client.New(context.Background(), configFor(srv, 2), client.WithLogger(log))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.Sync(ctx, "/up", root))
	cancel()
	c.Close()

	assert.Zero(t, c.Stats().JobsFailed.Load())
	_, ok := srv.File("/up/a/b/file.txt")
	assert.True(t, ok)
}
