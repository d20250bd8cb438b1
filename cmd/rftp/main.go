package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"

	"github.com/franksops/rftp/client"
	"github.com/franksops/rftp/engine"
	"github.com/franksops/rftp/provider"
	"github.com/franksops/rftp/store"
	"github.com/franksops/rftp/transport"
	"github.com/franksops/rftp/ui"
)

// stringList collects a repeatable flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func main() {
	// CLI flags
	var (
		creds      transport.Credentials
		workers    int
		blockSize  int
		timeout    time.Duration
		source     string
		dest       string
		stateDir   string
		tuiEnabled bool
		dryRun     bool
		exclude    stringList
		logLevel   string
		logFormat  string
	)

	flag.StringVar(&creds.Host, "host", "", "FTP server host")
	flag.IntVar(&creds.Port, "port", transport.DefaultPort, "FTP server port")
	flag.StringVar(&creds.User, "user", "anonymous", "FTP user")
	flag.StringVar(&creds.Password, "password", "", "FTP password (default $RFTP_PASSWORD)")
	flag.StringVar(&creds.Account, "account", "", "FTP account, if the server asks for one")
	flag.IntVar(&workers, "workers", engine.DefaultWorkers, "Number of parallel FTP connections")
	flag.IntVar(&blockSize, "block-size", engine.DefaultBlockSize, "Upload block size in bytes")
	flag.DurationVar(&timeout, "timeout", transport.DefaultDialTimeout, "Dial timeout per connection")
	flag.StringVar(&source, "source", "", "Local path or s3://bucket/prefix to mirror")
	flag.StringVar(&dest, "dest", "", "Remote directory to mirror into")
	flag.StringVar(&stateDir, "state-dir", "./.rftp-state", "Directory for the run journal and log file (empty disables)")
	flag.BoolVar(&tuiEnabled, "tui", false, "Show live progress (logs go to the state dir)")
	flag.BoolVar(&dryRun, "dry-run", false, "Log the jobs without touching the server")
	flag.Var(&exclude, "exclude", "Glob of names or relative paths to skip (repeatable)")
	flag.StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.StringVar(&logFormat, "log-format", "text", "Log format: text or json")
	flag.Parse()

	roots := flag.Args()
	if source != "" {
		roots = append([]string{source}, roots...)
	}

	if creds.Host == "" || dest == "" || len(roots) == 0 {
		fmt.Println("Usage: rftp -host <host> -dest <remote dir> -source <src> [more local roots...] [options]")
		fmt.Println("\nOptions:")
		flag.PrintDefaults()
		fmt.Println("\nExamples:")
		fmt.Println("  rftp -host ftp.example.org -user deploy -source ./public -dest /www -workers 8")
		fmt.Println("  rftp -host ftp.example.org -source s3://bucket/site -dest /www")
		os.Exit(1)
	}
	if creds.Password == "" {
		creds.Password = os.Getenv("RFTP_PASSWORD")
	}

	log := logrus.New()
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	log.SetLevel(level)
	if logFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if stateDir != "" {
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			log.Fatalf("Failed to create state directory: %v", err)
		}
	}

	if tuiEnabled {
		logDir := stateDir
		if logDir == "" {
			logDir = os.TempDir()
		}
		logFile, err := os.OpenFile(filepath.Join(logDir, "rftp.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			log.Fatalf("Failed to open log file: %v", err)
		}
		defer logFile.Close()
		log.SetOutput(logFile)
	}

	// Context for cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts := []client.Option{client.WithLogger(log)}

	// Initialize the run journal
	var journal store.Store
	if stateDir != "" && !dryRun {
		db, err := store.NewBoltStore(filepath.Join(stateDir, "journal.db"))
		if err != nil {
			log.Fatalf("Failed to initialize run journal: %v", err)
		}
		defer db.Close()
		journal = db
		opts = append(opts, client.WithTracker(engine.NewJobTracker(db)))
	}

	// Create source provider
	src, srcRoot, err := provider.FromURI(ctx, roots[0], log)
	if err != nil {
		log.Fatalf("Failed to create source provider: %v", err)
	}
	roots[0] = srcRoot
	if _, isS3 := src.(*provider.S3Provider); isS3 && len(roots) > 1 {
		log.Fatal("Extra local roots cannot be combined with an S3 source")
	}
	opts = append(opts, client.WithSource(src))

	c, err := client.New(ctx, client.Config{
		Credentials: creds,
		Workers:     workers,
		BlockSize:   blockSize,
		DialTimeout: timeout,
		DryRun:      dryRun,
		Exclude:     exclude,
	}, opts...)
	if err != nil {
		log.Fatalf("Failed to create client: %v", err)
	}

	// Handle signals for graceful shutdown. The first one stops the walk and
	// lets queued jobs run out; the second one exits at once.
	walkCtx, stopWalk := context.WithCancel(ctx)
	defer stopWalk()
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			log.WithField("signal", sig).Warn("interrupted, no new jobs will be queued; interrupt again to abort queued jobs")
			stopWalk()
		case <-ctx.Done():
			return
		}
		select {
		case sig := <-sigChan:
			log.WithField("signal", sig).Error("interrupted again, exiting")
			os.Exit(130)
		case <-ctx.Done():
		}
	}()

	target := c.Credentials().String() + ":" + dest
	started := time.Now()

	var teaProgram *tea.Program
	tuiDone := make(chan struct{})
	if tuiEnabled {
		teaProgram = tea.NewProgram(ui.NewTUIModel(ui.CollectState(target, c.Stats(), c.Pool(), started)), tea.WithAltScreen())
		go func() {
			defer close(tuiDone)
			if _, err := teaProgram.Run(); err != nil {
				log.WithError(err).Error("TUI failed")
			}
		}()

		// Start TUI update loop
		go func() {
			ticker := time.NewTicker(500 * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					teaProgram.Send(ui.TUIUpdateMsg{State: ui.CollectState(target, c.Stats(), c.Pool(), started)})
				}
			}
		}()
	} else {
		close(tuiDone)
	}

	if err := c.Sync(walkCtx, dest, roots...); err != nil {
		log.WithError(err).Error("sync aborted")
	}
	c.Close()

	if teaProgram != nil {
		state := ui.CollectState(target, c.Stats(), c.Pool(), started)
		state.Done = true
		teaProgram.Send(ui.TUIUpdateMsg{State: state})
		<-tuiDone
	}

	printSummary(os.Stdout, c.Stats().Snapshot(), time.Since(started), journal)
}

func printSummary(w io.Writer, snap engine.StatsSnapshot, elapsed time.Duration, journal store.Store) {
	fmt.Fprintf(w, "\nSync complete in %s.\n", elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "  directories ensured: %d\n", snap.DirsEnsured)
	fmt.Fprintf(w, "  files uploaded:      %d (%d bytes)\n", snap.FilesUploaded, snap.BytesUploaded)
	fmt.Fprintf(w, "  files skipped:       %d\n", snap.FilesSkipped)
	fmt.Fprintf(w, "  failed jobs:         %d\n", snap.JobsFailed)

	if journal == nil {
		return
	}
	jobs, err := journal.ListJobs()
	if err != nil {
		fmt.Fprintf(w, "  journal unreadable: %v\n", err)
		return
	}
	counts := store.Summarize(jobs)
	fmt.Fprintf(w, "  journal: %d completed, %d skipped, %d failed\n",
		counts[store.StateCompleted], counts[store.StateSkipped], counts[store.StateFailed])
	for _, job := range jobs {
		if job.State == store.StateFailed {
			fmt.Fprintf(w, "    failed %s: %s\n", job.RemotePath, job.Error)
		}
	}
}
