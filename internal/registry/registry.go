// Package registry holds the set of live connection records and enforces
// username uniqueness (spec §3 "Registry", §4.3).
package registry

import (
	"strings"
	"sync"

	"github.com/bktiel/rpchat/internal/connrec"
)

// ServerName is the immutable pseudo-username used as the sender of system
// notices ("X has joined", "X has left"). Matches the literal wire example
// in spec §8 scenario 1: an 8-byte DELIVER `from` field of "[Server]".
const ServerName = "[Server]"

// Registry is the RWMutex-guarded set of connection records, modeled on
// the teacher hub's map-of-clients-with-snapshot discipline.
type Registry struct {
	mu      sync.RWMutex
	records map[*connrec.Record]struct{}
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{records: make(map[*connrec.Record]struct{})}
}

// Insert adds a record to the registry.
func (r *Registry) Insert(rec *connrec.Record) {
	r.mu.Lock()
	r.records[rec] = struct{}{}
	r.mu.Unlock()
}

// Remove drops a record from the registry; safe to call multiple times.
func (r *Registry) Remove(rec *connrec.Record) {
	r.mu.Lock()
	delete(r.records, rec)
	r.mu.Unlock()
}

// FindByUsername returns the record currently registered under name, using
// byte-exact comparison (spec §9 resolves the original C source's ambiguous
// strncmp-length-zero behavior in favor of exact matching). exclude, when
// non-nil, is skipped without locking it: callers (e.g. the engine's
// REGISTER handler, engine.go's handleRegisterAttempt) invoke this while
// already holding their own record's mutex via try-lock, and that record is
// always present in the registry (inserted at accept time, before any
// REGISTER is processed), so locking it again here would self-deadlock on
// Go's non-reentrant sync.Mutex. Mirrors the sender exclusion in
// Broadcaster.Broadcast (engine/broadcast.go).
func (r *Registry) FindByUsername(name string, exclude *connrec.Record) *connrec.Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for rec := range r.records {
		if rec == exclude {
			continue
		}
		rec.Lock()
		u := rec.Username
		st := rec.State
		rec.Unlock()
		if u == name && st != connrec.Closing && st != connrec.Err {
			return rec
		}
	}
	return nil
}

// ListUsernames formats currently registered usernames as a comma-separated
// list (spec §4.3). PRE_REGISTER connections (no username yet) are omitted.
// exclude, when non-nil, is skipped without locking it, for the same
// self-deadlock reason documented on FindByUsername.
func (r *Registry) ListUsernames(exclude *connrec.Record) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.records))
	for rec := range r.records {
		if rec == exclude {
			continue
		}
		rec.Lock()
		u := rec.Username
		rec.Unlock()
		if u != "" {
			names = append(names, u)
		}
	}
	return strings.Join(names, ", ")
}

// Each takes a point-in-time snapshot of the registered records and invokes
// f for each, outside the registry lock (spec §4.3 "snapshot iteration").
func (r *Registry) Each(f func(*connrec.Record)) {
	for _, rec := range r.Snapshot() {
		f(rec)
	}
}

// Snapshot returns a slice copy of currently registered records.
func (r *Registry) Snapshot() []*connrec.Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*connrec.Record, 0, len(r.records))
	for rec := range r.records {
		out = append(out, rec)
	}
	return out
}

// Count returns the number of registered records.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}
