package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/franksops/rftp/store"
	"github.com/franksops/rftp/transport"
)

// fakeTransport is an in-memory remote tree that records every call.
type fakeTransport struct {
	mu    sync.Mutex
	cwd   string
	dirs  map[string]bool
	files map[string][]byte
	calls []string

	// fail maps an operation name to the error it returns.
	fail map[string]error
	// connectFailures makes the next n Connect calls fail.
	connectFailures int
	// hideListing makes ListNames report an empty directory.
	hideListing bool
}

func newFakeTransport(dirs ...string) *fakeTransport {
	f := &fakeTransport{
		cwd:   "/",
		dirs:  map[string]bool{"/": true},
		files: map[string][]byte{},
		fail:  map[string]error{},
	}
	for _, d := range dirs {
		f.mkdirAll(d)
	}
	return f
}

func (f *fakeTransport) mkdirAll(dir string) {
	for dir != "/" && dir != "." {
		f.dirs[dir] = true
		dir = path.Dir(dir)
	}
}

func (f *fakeTransport) abs(p string) string {
	if strings.HasPrefix(p, "/") {
		return path.Clean(p)
	}
	return path.Join(f.cwd, p)
}

func (f *fakeTransport) record(op string, arg ...string) error {
	f.calls = append(f.calls, strings.TrimSpace(op+" "+strings.Join(arg, " ")))
	return f.fail[op]
}

func (f *fakeTransport) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeTransport) Count(op string) int {
	n := 0
	for _, c := range f.Calls() {
		if c == op || strings.HasPrefix(c, op+" ") {
			n++
		}
	}
	return n
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("connect"); err != nil {
		return err
	}
	if f.connectFailures > 0 {
		f.connectFailures--
		return errors.New("connection refused")
	}
	return nil
}

func (f *fakeTransport) Pwd() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("pwd"); err != nil {
		return "", err
	}
	return f.cwd, nil
}

func (f *fakeTransport) Chdir(p string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("chdir", p); err != nil {
		return err
	}
	target := f.abs(p)
	if !f.dirs[target] {
		return fmt.Errorf("chdir %s: %w", p, transport.ErrNotFound)
	}
	f.cwd = target
	return nil
}

func (f *fakeTransport) Mkdir(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("mkdir", name); err != nil {
		return err
	}
	target := f.abs(name)
	if f.dirs[target] {
		return fmt.Errorf("mkdir %s: %w", name, transport.ErrAlreadyExists)
	}
	if !f.dirs[path.Dir(target)] {
		return fmt.Errorf("mkdir %s: %w", name, transport.ErrNotFound)
	}
	f.dirs[target] = true
	return nil
}

func (f *fakeTransport) ListNames() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("list"); err != nil {
		return nil, err
	}
	if f.hideListing {
		return nil, nil
	}
	var names []string
	for d := range f.dirs {
		if d != "/" && path.Dir(d) == f.cwd {
			names = append(names, path.Base(d))
		}
	}
	for p := range f.files {
		if path.Dir(p) == f.cwd {
			names = append(names, path.Base(p))
		}
	}
	sort.Strings(names)
	return names, nil
}

func (f *fakeTransport) PutFile(remotePath string, r io.Reader, blockSize int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("put", remotePath); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	target := f.abs(remotePath)
	if !f.dirs[path.Dir(target)] {
		return fmt.Errorf("put %s: %w", remotePath, transport.ErrNotFound)
	}
	f.files[target] = data
	return nil
}

func (f *fakeTransport) RemoteSize(remotePath string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("size", remotePath); err != nil {
		return 0, err
	}
	data, ok := f.files[f.abs(remotePath)]
	if !ok {
		return 0, fmt.Errorf("size %s: %w", remotePath, transport.ErrNotFound)
	}
	return int64(len(data)), nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record("close")
}

func (f *fakeTransport) Cwd() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cwd
}

func (f *fakeTransport) File(p string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[p]
	return data, ok
}

// MockStore keeps journal records in memory.
type MockStore struct {
	mu   sync.Mutex
	Jobs map[string]*store.JobRecord
}

func NewMockStore() *MockStore {
	return &MockStore{Jobs: make(map[string]*store.JobRecord)}
}

func (m *MockStore) SaveJob(job *store.JobRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.Jobs[job.ID] = &cp
	return nil
}

func (m *MockStore) GetJob(id string) (*store.JobRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.Jobs[id]
	if !ok {
		return nil, store.ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

func (m *MockStore) ListJobs() ([]*store.JobRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	jobs := make([]*store.JobRecord, 0, len(m.Jobs))
	for _, job := range m.Jobs {
		cp := *job
		jobs = append(jobs, &cp)
	}
	return jobs, nil
}

func (m *MockStore) Close() error { return nil }
