package engine

import (
	"github.com/bktiel/rpchat/internal/bcp"
	"github.com/bktiel/rpchat/internal/connrec"
	"github.com/bktiel/rpchat/internal/metrics"
	"github.com/bktiel/rpchat/internal/registry"
)

// Broadcaster fans a DELIVER frame out to every other live connection
// (spec §4.3, §4.6 "Broadcast"). Grounded on the teacher hub's
// Broadcast: snapshot the registry under its lock, then enqueue against
// each recipient outside that lock.
type Broadcaster struct {
	registry *registry.Registry
	enqueue  func(*connrec.Record, Event)
}

// NewBroadcaster wires a Broadcaster to the registry it fans out over and
// the scheduling function (the engine's own Schedule) it uses to enqueue
// OUTBOUND tasks. Taking enqueue as a func avoids an import cycle between
// the engine and its broadcaster.
func NewBroadcaster(reg *registry.Registry, enqueue func(*connrec.Record, Event)) *Broadcaster {
	return &Broadcaster{registry: reg, enqueue: enqueue}
}

// Broadcast sanitizes nothing itself (callers sanitize before calling) and
// enqueues an OUTBOUND DELIVER task against every registered record except
// sender and any record in CLOSING or ERR state.
func (b *Broadcaster) Broadcast(sender *connrec.Record, from, message string) {
	frame := bcp.EncodeDeliver(bcp.Deliver{From: from, Message: message})
	n := 0
	for _, rec := range b.registry.Snapshot() {
		if rec == sender {
			continue
		}
		rec.Lock()
		st := rec.State
		rec.Unlock()
		if st == connrec.Closing || st == connrec.Err {
			continue
		}
		b.enqueue(rec, Event{Kind: OutboundDeliver, Frame: frame})
		n++
	}
	metrics.SetBroadcastFanout(n)
	metrics.IncFramesRelayed()
}

// AnnounceJoin broadcasts the "X has joined the server." system notice.
func (b *Broadcaster) AnnounceJoin(rec *connrec.Record, username string) {
	b.Broadcast(rec, registry.ServerName, username+" has joined the server.")
}

// AnnounceLeave broadcasts the "X has left the server." system notice.
// Called after rec has already been removed from the registry, so rec no
// longer appears in the snapshot; it is passed through only to keep the
// Broadcast signature uniform.
func (b *Broadcaster) AnnounceLeave(rec *connrec.Record, username string) {
	b.Broadcast(rec, registry.ServerName, username+" has left the server.")
}
