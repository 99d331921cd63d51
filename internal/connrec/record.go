// Package connrec defines the per-connection record: the socket, the
// finite-state-machine state, and the bookkeeping the event processor
// needs to serialize work against a single client (spec §3, §4.2).
package connrec

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// State is the connection's position in the per-record finite state machine.
type State int32

const (
	PreRegister State = iota
	Available
	SendStat
	SendMsg
	PendingStatus
	Err
	Closing
)

func (s State) String() string {
	switch s {
	case PreRegister:
		return "PRE_REGISTER"
	case Available:
		return "AVAILABLE"
	case SendStat:
		return "SEND_STAT"
	case SendMsg:
		return "SEND_MSG"
	case PendingStatus:
		return "PENDING_STATUS"
	case Err:
		return "ERR"
	case Closing:
		return "CLOSING"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Record is a single client's connection state. Exactly one worker may hold
// mu at a time, which is the serialization point for every field below
// except pending and lastActive, which are atomics and are read and updated
// without holding mu (Schedule increments pending for records other than
// the one its caller holds).
type Record struct {
	mu sync.Mutex

	Conn     net.Conn
	R        *bufio.Reader // buffered view of Conn shared by the read-pump and the engine
	ConnID   uint64
	Username string
	StatMsg  string
	State    State

	pending    atomic.Int32
	lastActive atomic.Int64 // unix seconds

	// Resume gates the read-pump goroutine: a token is placed here whenever
	// the engine wants the connection re-armed for reading (spec §4.4/§4.6
	// "re-arming an fd means inserting it back into the poller's interest
	// set"). The read-pump blocks on this channel between frames, which is
	// the goroutine-per-connection translation of an edge-triggered poller
	// entry licensed by spec §9's "equivalent refactor" note.
	Resume chan struct{}
}

// New initializes a record fresh off accept(): PRE_REGISTER, no username,
// pending=0, last_active=now, and one resume token so the read-pump can
// perform its first read immediately (the fd starts armed at accept time).
func New(conn net.Conn, connID uint64) *Record {
	r := &Record{
		Conn:   conn,
		R:      bufio.NewReader(conn),
		ConnID: connID,
		State:  PreRegister,
		Resume: make(chan struct{}, 1),
	}
	r.Touch()
	r.Resume <- struct{}{}
	return r
}

// TryLock attempts to acquire the record's mutex without blocking, used by
// the engine to guarantee at most one worker acts on a record at a time
// (spec §4.6 "the task acquires the record's mutex with try-lock").
func (r *Record) TryLock() bool { return r.mu.TryLock() }

// Lock blocks until the record's mutex is acquired. Used by paths (registry
// lookups, tests) that must not race the engine's own try-lock loop.
func (r *Record) Lock()   { r.mu.Lock() }
func (r *Record) Unlock() { r.mu.Unlock() }

// Touch stamps last-active to now; called on every non-HEARTBEAT event.
func (r *Record) Touch() { r.lastActive.Store(time.Now().Unix()) }

// IdleFor reports how long since the record was last touched.
func (r *Record) IdleFor() time.Duration {
	last := r.lastActive.Load()
	return time.Since(time.Unix(last, 0))
}

// IncPending increments the pending-task counter; called whenever a task is
// scheduled against this record, before it is handed to the pool.
func (r *Record) IncPending() int32 { return r.pending.Add(1) }

// DecPending decrements the pending-task counter; called when a worker picks
// the task up (spec §4.2: pending reflects "scheduled but not yet executed
// or currently executing" plus 1 while executing).
func (r *Record) DecPending() int32 { return r.pending.Add(-1) }

// Pending returns the current pending-task count.
func (r *Record) Pending() int32 { return r.pending.Load() }

// SubmitWrite performs a best-effort synchronous send. Any short write or
// error transitions the record to ERR (spec §4.2). Caller must hold mu.
func (r *Record) SubmitWrite(frame []byte) error {
	n, err := r.Conn.Write(frame)
	if err != nil {
		r.State = Err
		r.StatMsg = "write failed"
		return fmt.Errorf("connrec: write: %w", err)
	}
	if n != len(frame) {
		r.State = Err
		r.StatMsg = "short write"
		return fmt.Errorf("connrec: short write %d/%d", n, len(frame))
	}
	return nil
}

// Rearm signals the read-pump goroutine to resume reading from the socket.
func (r *Record) Rearm() {
	select {
	case r.Resume <- struct{}{}:
	default:
	}
}
