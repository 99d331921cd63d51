// Package pool implements the fixed-size FIFO worker pool that drives the
// per-connection event processor (spec §4.5). It generalizes the teacher's
// internal/transport.AsyncTx — a single context-cancellable consumer
// goroutine draining a buffered channel — to N consumers, which is the
// "equivalent refactor" spec §9 licenses in place of a hand-rolled
// mutex+condition-variable queue.
package pool

import (
	"sync"
	"sync/atomic"
)

// Task is a unit of work: the engine closes over (record, event) to build one.
type Task func()

// Pool runs a fixed number of worker goroutines pulling Tasks off a shared
// FIFO queue until Shutdown is called.
//
// The task channel itself is never closed: the engine's try-lock-and-requeue
// pattern (engine.go's process) and the CLOSING-state pending drain loop
// (engine.go's dispatchClosing) call Submit from inside a running task, so a
// worker can still be submitting new work at the exact moment Shutdown
// decides to stop. Closing p.tasks while that race is possible would panic
// with "send on closed channel" the first time a drain-mode shutdown landed
// on an in-flight self-requeue. Instead, termination is signaled via quit,
// and Submit/the quit-and-close step are serialized against each other by
// mu so a Submit either fully lands before closed is observed, or sees
// closed and no-ops — never both.
type Pool struct {
	tasks chan Task
	quit  chan struct{}

	mu sync.RWMutex // serializes Submit against the shutdown-closing step

	wg     sync.WaitGroup // worker goroutines
	taskWG sync.WaitGroup // tasks submitted but not yet finished running

	draining atomic.Bool
	closed   atomic.Bool
	once     sync.Once
}

// New creates a pool with the given queue capacity; 0 means unbuffered.
func New(queueCap int) *Pool {
	return &Pool{tasks: make(chan Task, queueCap), quit: make(chan struct{})}
}

// Start spawns n worker goroutines.
func (p *Pool) Start(n int) {
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case fn := <-p.tasks:
			fn()
			p.taskWG.Done()
		case <-p.quit:
			return
		}
	}
}

// Submit appends fn to the FIFO queue. It is safe to call from within a
// running task (the self-requeue pattern spec §4.6 requires for try-lock
// contention and for deferred transitions). A no-op once the pool has
// stopped accepting work.
func (p *Pool) Submit(fn Task) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed.Load() {
		return
	}
	p.taskWG.Add(1)
	p.tasks <- fn
}

// Draining reports whether Shutdown has been called (either mode). Tasks
// may consult it before re-queueing themselves; the engine's tasks do not,
// and keep re-queueing through a drain-mode shutdown.
func (p *Pool) Draining() bool { return p.draining.Load() }

// Shutdown stops accepting new work and joins every worker. When drain is
// true, every already-submitted task — including ones it self-requeues
// while running, per spec §4.5/§9's "the pool must not lose a deferred task
// during non-immediate shutdown" — is allowed to run to quiescence before
// workers are told to stop. When false, workers are told to stop
// immediately and any not-yet-picked-up backlog is abandoned.
func (p *Pool) Shutdown(drain bool) {
	p.draining.Store(true)
	p.once.Do(func() {
		if drain {
			// taskWG only reaches zero once every submitted task has
			// returned, including any it chained via Submit from inside
			// its own body (that nested Add happens-before this task's
			// own Done, so the counter never dips to zero mid-chain).
			// Once it does, no goroutine can still be mid-Submit, so it
			// is safe to tell workers to stop.
			p.taskWG.Wait()
		}
		p.mu.Lock()
		p.closed.Store(true)
		close(p.quit)
		p.mu.Unlock()
	})
	p.wg.Wait()
}
