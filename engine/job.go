package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMalformedJob is returned when a job's arguments do not fit its operation.
	ErrMalformedJob = errors.New("malformed job")

	// ErrUnknownJob is returned for a job name no operation answers to.
	ErrUnknownJob = errors.New("unknown job")
)

// JobName selects the Connection operation a Job is dispatched to.
type JobName string

const (
	// JobMkpath ensures a remote directory exists. Args: remote path.
	JobMkpath JobName = "mkpath"

	// JobCopyTo uploads one file. Args: source path, remote path.
	JobCopyTo JobName = "copyTo"

	// JobClose closes the worker's connection and stops the worker. No args.
	JobClose JobName = "close"
)

// Job is a named operation with positional arguments, executed by whichever
// worker dequeues it.
type Job struct {
	Name JobName
	Args []string
}

func (j Job) String() string {
	return fmt.Sprintf("%s(%s)", j.Name, strings.Join(j.Args, ", "))
}

// JobID identifies the journal record of an operation on a remote path.
func JobID(name JobName, remotePath string) string {
	return string(name) + ":" + remotePath
}

// Executor is the per-worker target of dispatched jobs.
type Executor interface {
	Mkpath(ctx context.Context, remotePath string) error
	CopyTo(ctx context.Context, source, remotePath string) error
	Close() error
}

// Dispatch runs job against exec, checking its arity first.
func Dispatch(ctx context.Context, exec Executor, job Job) error {
	switch job.Name {
	case JobMkpath:
		if len(job.Args) != 1 {
			return arityError(job, 1)
		}
		return exec.Mkpath(ctx, job.Args[0])
	case JobCopyTo:
		if len(job.Args) != 2 {
			return arityError(job, 2)
		}
		return exec.CopyTo(ctx, job.Args[0], job.Args[1])
	case JobClose:
		if len(job.Args) != 0 {
			return arityError(job, 0)
		}
		return exec.Close()
	default:
		return fmt.Errorf("%w: %q", ErrUnknownJob, job.Name)
	}
}

func arityError(job Job, want int) error {
	return fmt.Errorf("%w: %s expects %d argument(s), got %d", ErrMalformedJob, job.Name, want, len(job.Args))
}
