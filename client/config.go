package client

import (
	"time"

	"github.com/franksops/rftp/engine"
	"github.com/franksops/rftp/transport"
)

// Config holds everything a sync run needs besides its collaborators.
type Config struct {
	// Credentials are handed to every worker's connection.
	Credentials transport.Credentials

	// Workers is the number of parallel connections.
	Workers int

	// BlockSize is the upload transfer block size in bytes.
	BlockSize int

	// DialTimeout bounds each control connection dial.
	DialTimeout time.Duration

	// DialRetry is the backoff policy for dialing. Nil uses
	// transport.DefaultRetryConfig.
	DialRetry *transport.RetryConfig

	// DryRun logs the jobs a run would enqueue without contacting the server.
	DryRun bool

	// Exclude holds glob patterns matched against entry names and relative paths.
	Exclude []string
}

// WithDefaults returns a copy of c with zero values replaced by defaults.
func (c Config) WithDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = engine.DefaultWorkers
	}
	if c.BlockSize <= 0 {
		c.BlockSize = engine.DefaultBlockSize
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = transport.DefaultDialTimeout
	}
	if c.DialRetry == nil {
		retry := transport.DefaultRetryConfig()
		c.DialRetry = &retry
	}
	if c.Credentials.Port == 0 {
		c.Credentials.Port = transport.DefaultPort
	}
	return c
}
