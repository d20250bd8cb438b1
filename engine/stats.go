package engine

import "sync/atomic"

// Stats are the run counters shared by the client, the workers and the UI.
type Stats struct {
	FilesQueued   atomic.Int64
	BytesQueued   atomic.Int64
	DirsEnsured   atomic.Int64
	FilesUploaded atomic.Int64
	FilesSkipped  atomic.Int64
	BytesUploaded atomic.Int64
	JobsFailed    atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	FilesQueued   int64
	BytesQueued   int64
	DirsEnsured   int64
	FilesUploaded int64
	FilesSkipped  int64
	BytesUploaded int64
	JobsFailed    int64
}

// Snapshot reads every counter.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		FilesQueued:   s.FilesQueued.Load(),
		BytesQueued:   s.BytesQueued.Load(),
		DirsEnsured:   s.DirsEnsured.Load(),
		FilesUploaded: s.FilesUploaded.Load(),
		FilesSkipped:  s.FilesSkipped.Load(),
		BytesUploaded: s.BytesUploaded.Load(),
		JobsFailed:    s.JobsFailed.Load(),
	}
}

// FilesDone counts files that reached a final state.
func (s StatsSnapshot) FilesDone() int64 {
	return s.FilesUploaded + s.FilesSkipped
}
