package engine

import (
	"sync"
	"time"

	"github.com/franksops/rftp/store"
)

// JobTracker records upload lifecycles in the run journal.
// Records move Pending -> InProgress -> Completed | Skipped | Failed.
type JobTracker struct {
	store store.Store

	// Workers update distinct records, but bbolt read-modify-write of the
	// same ID must not interleave.
	mu sync.Mutex
}

// NewJobTracker creates a new JobTracker
func NewJobTracker(store store.Store) *JobTracker {
	return &JobTracker{store: store}
}

// InitJob writes a fresh Pending record for an upload.
func (jt *JobTracker) InitJob(id, source, remotePath string, totalBytes int64) error {
	jt.mu.Lock()
	defer jt.mu.Unlock()

	return jt.store.SaveJob(&store.JobRecord{
		ID:         id,
		SourcePath: source,
		RemotePath: remotePath,
		State:      store.StatePending,
		TotalBytes: totalBytes,
		UpdatedAt:  time.Now(),
	})
}

// MarkInProgress updates a job's state to InProgress
func (jt *JobTracker) MarkInProgress(id string) error {
	return jt.update(id, func(r *store.JobRecord) {
		r.State = store.StateInProgress
	})
}

// MarkCompleted records a finished upload and its checksum.
func (jt *JobTracker) MarkCompleted(id string, bytes int64, checksum string) error {
	return jt.update(id, func(r *store.JobRecord) {
		r.State = store.StateCompleted
		r.BytesTransferred = bytes
		r.Checksum = checksum
	})
}

// MarkSkipped records an upload avoided because the remote already matches.
func (jt *JobTracker) MarkSkipped(id string) error {
	return jt.update(id, func(r *store.JobRecord) {
		r.State = store.StateSkipped
	})
}

// MarkFailed updates a job's state to Failed with an error message
func (jt *JobTracker) MarkFailed(id string, err error) error {
	return jt.update(id, func(r *store.JobRecord) {
		r.State = store.StateFailed
		if err != nil {
			r.Error = err.Error()
		}
	})
}

func (jt *JobTracker) update(id string, fn func(*store.JobRecord)) error {
	jt.mu.Lock()
	defer jt.mu.Unlock()

	record, err := jt.store.GetJob(id)
	if err != nil {
		return err
	}
	fn(record)
	record.UpdatedAt = time.Now()
	return jt.store.SaveJob(record)
}
