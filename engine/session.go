package engine

import "sync"

// Session is the set of remote directories known to exist during one sync
// run. It is shared by every worker; entries are only ever added.
//
// Exists and Record are separate critical sections. A caller doing
// check-then-record can race another worker doing the same for the same
// path, so both may go on to create it remotely. Connection tolerates that
// by treating "already exists" from the server as success.
type Session struct {
	mu   sync.Mutex
	dirs map[string]struct{}
}

// NewSession returns an empty Session.
func NewSession() *Session {
	return &Session{dirs: make(map[string]struct{})}
}

// Exists reports whether dir has been recorded.
func (s *Session) Exists(dir string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.dirs[dir]
	return ok
}

// Record marks dir as existing.
func (s *Session) Record(dir string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirs[dir] = struct{}{}
}

// Len returns the number of recorded directories.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dirs)
}
