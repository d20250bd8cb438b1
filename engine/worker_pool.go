package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// DefaultWorkers is the pool size used when none is given.
const DefaultWorkers = 5

// ErrPoolClosed is returned by Enqueue once Close has started.
var ErrPoolClosed = errors.New("worker pool closed")

// WorkerState is where a worker is in its lifecycle.
type WorkerState int

const (
	WorkerIdle WorkerState = iota
	WorkerExecuting
	WorkerTerminated
)

func (s WorkerState) String() string {
	switch s {
	case WorkerIdle:
		return "idle"
	case WorkerExecuting:
		return "executing"
	case WorkerTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("WorkerState(%d)", int(s))
	}
}

// WorkerPool runs a fixed set of workers, each owning one Executor, over a
// single unbounded FIFO queue of jobs.
type WorkerPool struct {
	ctx context.Context
	log logrus.FieldLogger

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []Job
	inFlight int
	closed   bool
	states   []WorkerState

	stats *Stats
	wg    sync.WaitGroup
}

// NewWorkerPool starts n workers. newExec is called once per worker, up front,
// to build the Executor that worker dispatches to for its whole life.
func NewWorkerPool(ctx context.Context, n int, newExec func(id int) Executor, stats *Stats, log logrus.FieldLogger) *WorkerPool {
	if n <= 0 {
		n = DefaultWorkers
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	if stats == nil {
		stats = &Stats{}
	}

	p := &WorkerPool{
		ctx:    ctx,
		log:    log,
		states: make([]WorkerState, n),
		stats:  stats,
	}
	p.cond = sync.NewCond(&p.mu)

	for id := 0; id < n; id++ {
		exec := newExec(id)
		p.wg.Add(1)
		go p.work(id, exec)
	}
	return p
}

// Enqueue appends a job to the tail of the queue without blocking.
func (p *WorkerPool) Enqueue(name JobName, args ...string) error {
	if name == JobClose {
		return fmt.Errorf("%w: close jobs are issued by Close", ErrMalformedJob)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	p.push(Job{Name: name, Args: args})
	return nil
}

func (p *WorkerPool) push(job Job) {
	p.queue = append(p.queue, job)
	p.cond.Broadcast()
}

// AwaitDrain blocks until the queue is empty and no job is executing.
func (p *WorkerPool) AwaitDrain() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.queue) > 0 || p.inFlight > 0 {
		p.cond.Wait()
	}
}

// Close enqueues one close job per worker, waits for the queue to drain and
// for every worker to exit. Jobs already queued run first. Close is safe to
// call more than once.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		for range p.states {
			p.push(Job{Name: JobClose})
		}
	}
	p.mu.Unlock()

	p.AwaitDrain()
	p.wg.Wait()
}

// WorkerCount returns the number of workers the pool was built with.
func (p *WorkerPool) WorkerCount() int {
	return len(p.states)
}

// States returns a copy of every worker's state, indexed by worker id.
func (p *WorkerPool) States() []WorkerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]WorkerState(nil), p.states...)
}

// Active counts workers currently executing a job.
func (p *WorkerPool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, s := range p.states {
		if s == WorkerExecuting {
			n++
		}
	}
	return n
}

// Stats returns the counters the pool and its executors update.
func (p *WorkerPool) Stats() *Stats {
	return p.stats
}

func (p *WorkerPool) next(id int) Job {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.queue) == 0 {
		p.cond.Wait()
	}
	job := p.queue[0]
	p.queue[0] = Job{}
	p.queue = p.queue[1:]
	p.inFlight++
	p.states[id] = WorkerExecuting
	return job
}

func (p *WorkerPool) done(id int, job Job) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inFlight--
	if job.Name == JobClose {
		p.states[id] = WorkerTerminated
	} else {
		p.states[id] = WorkerIdle
	}
	p.cond.Broadcast()
}

func (p *WorkerPool) work(id int, exec Executor) {
	defer p.wg.Done()
	log := p.log.WithField("worker", id)

	for {
		job := p.next(id)
		p.run(log, exec, job)
		p.done(id, job)
		if job.Name == JobClose {
			log.Debug("worker terminated")
			return
		}
	}
}

// run dispatches one job. Errors and panics are logged and discarded.
func (p *WorkerPool) run(log logrus.FieldLogger, exec Executor, job Job) {
	defer func() {
		if r := recover(); r != nil {
			p.stats.JobsFailed.Add(1)
			log.WithFields(logrus.Fields{
				"job":   job.Name,
				"args":  job.Args,
				"panic": r,
			}).Error("job panicked")
		}
	}()

	if err := Dispatch(p.ctx, exec, job); err != nil {
		p.stats.JobsFailed.Add(1)
		log.WithFields(logrus.Fields{
			"job":  job.Name,
			"args": job.Args,
		}).WithError(err).Error("job failed")
	}
}
