package engine

import "github.com/bktiel/rpchat/internal/bcp"

// Kind is one of the three task shapes spec §3 names: INBOUND, OUTBOUND, HEARTBEAT.
type Kind int

const (
	Inbound Kind = iota
	OutboundDeliver
	OutboundStatus
	Heartbeat
)

func (k Kind) String() string {
	switch k {
	case Inbound:
		return "INBOUND"
	case OutboundDeliver:
		return "OUTBOUND(DELIVER)"
	case OutboundStatus:
		return "OUTBOUND(STATUS)"
	case Heartbeat:
		return "HEARTBEAT"
	default:
		return "UNKNOWN"
	}
}

// Event is the pair (connection-record, event) spec §3 defines as a Task,
// minus the record itself (carried alongside in the closure the engine
// schedules onto the pool).
type Event struct {
	Kind Kind

	// Opcode is valid for Inbound events: the read-pump has already
	// consumed the leading opcode byte off the wire before handing the
	// event to the engine (spec §4.4 point 4).
	Opcode bcp.Opcode

	// ReadErr is set for an Inbound event when the read-pump itself could
	// not even obtain an opcode byte (EOF, reset, hangup).
	ReadErr error

	// Frame is the pre-encoded owned buffer for Outbound* events.
	Frame []byte
}
