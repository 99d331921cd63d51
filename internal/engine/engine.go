// Package engine implements the per-connection finite state machine (spec
// §4.6), the bulk of the core: it consumes INBOUND byte events, drives
// registration, enforces the STATUS interlock, emits outbound frames,
// triggers fan-out via a Broadcaster, and handles teardown.
package engine

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/bktiel/rpchat/internal/bcp"
	"github.com/bktiel/rpchat/internal/connrec"
	"github.com/bktiel/rpchat/internal/metrics"
	"github.com/bktiel/rpchat/internal/pool"
	"github.com/bktiel/rpchat/internal/registry"
	"github.com/bktiel/rpchat/internal/sanitize"
)

// Config bundles the engine's tunables, mirroring the teacher server's
// ServerOption-configured fields.
type Config struct {
	ConnTimeout time.Duration // CONN_TIMEOUT, default 60s
}

// Engine owns the registry, the worker pool, and the broadcaster, and
// drives every record's transition table.
type Engine struct {
	cfg        Config
	registry   *registry.Registry
	pool       *pool.Pool
	broadcast  *Broadcaster
	logger     *slog.Logger
}

// New constructs an Engine bound to reg and pl.
func New(cfg Config, reg *registry.Registry, pl *pool.Pool, logger *slog.Logger) *Engine {
	if cfg.ConnTimeout <= 0 {
		cfg.ConnTimeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{cfg: cfg, registry: reg, pool: pl, logger: logger}
	e.broadcast = NewBroadcaster(reg, e.Schedule)
	return e
}

// Schedule increments the record's pending-task counter and submits the
// task to the pool (spec §4.2 "enqueue_task").
func (e *Engine) Schedule(rec *connrec.Record, ev Event) {
	rec.IncPending()
	e.pool.Submit(func() { e.process(rec, ev) })
}

// ScheduleInbound is called by the reactor's read-pump once it has consumed
// the leading opcode byte off the wire.
func (e *Engine) ScheduleInbound(rec *connrec.Record, op bcp.Opcode, readErr error) {
	e.Schedule(rec, Event{Kind: Inbound, Opcode: op, ReadErr: readErr})
}

// ScheduleHeartbeat is called by the reactor's audit tick for every
// registered record; the HEARTBEAT dispatch (checkTimeout) decides whether
// the record has exceeded the inactivity timeout.
func (e *Engine) ScheduleHeartbeat(rec *connrec.Record) {
	e.Schedule(rec, Event{Kind: Heartbeat})
}

// Disconnect force-fails a still-live record, used for orderly shutdown
// (spec §5 "Cancellation", §7 "On SIGINT").
func (e *Engine) Disconnect(rec *connrec.Record, reason string) {
	rec.Lock()
	if rec.State != connrec.Closing && rec.State != connrec.Err {
		e.fail(rec, reason)
	}
	rec.Unlock()
}

// process is the task function the pool runs: try-lock, dispatch on state,
// unlock. On lock contention it re-submits itself without starving the pool
// (spec §4.6).
func (e *Engine) process(rec *connrec.Record, ev Event) {
	rec.DecPending()
	if !rec.TryLock() {
		e.Schedule(rec, ev)
		return
	}
	defer rec.Unlock()

	if ev.Kind != Heartbeat {
		rec.Touch()
	}

	switch rec.State {
	case connrec.PreRegister:
		e.dispatchPreRegister(rec, ev)
	case connrec.Available:
		e.dispatchAvailable(rec, ev)
	case connrec.SendStat:
		e.dispatchSendStat(rec, ev)
	case connrec.SendMsg:
		e.dispatchSendMsg(rec, ev)
	case connrec.PendingStatus:
		e.dispatchPendingStatus(rec, ev)
	case connrec.Err:
		e.enterClosing(rec)
	case connrec.Closing:
		e.dispatchClosing(rec, ev)
	}
}

func (e *Engine) dispatchPreRegister(rec *connrec.Record, ev Event) {
	switch ev.Kind {
	case Inbound:
		e.handleRegisterAttempt(rec, ev)
	case OutboundDeliver, OutboundStatus:
		e.Schedule(rec, ev) // not yet allowed to send
	case Heartbeat:
		e.checkTimeout(rec)
	}
}

func (e *Engine) handleRegisterAttempt(rec *connrec.Record, ev Event) {
	if ev.ReadErr != nil {
		e.fail(rec, "connection error")
		return
	}
	if ev.Opcode != bcp.OpRegister {
		e.fail(rec, fmt.Sprintf("expected REGISTER, got %s", ev.Opcode))
		return
	}
	reg, err := bcp.ReadRegister(rec.R)
	if err != nil {
		e.fail(rec, "malformed REGISTER frame")
		return
	}
	uname := sanitize.Username(reg.Username)
	if uname == "" {
		metrics.IncRegisterRejected()
		metrics.IncError(metrics.ErrSanitation)
		e.fail(rec, "invalid username")
		return
	}
	if existing := e.registry.FindByUsername(uname, rec); existing != nil {
		metrics.IncRegisterRejected()
		metrics.IncError(metrics.ErrDuplicate)
		e.fail(rec, "username already registered")
		return
	}
	// Snapshot the roster before adding uname to it: the login banner lists
	// clients already present, not the one currently registering.
	existingClients := e.registry.ListUsernames(rec)
	rec.Username = uname
	metrics.IncRegistered()

	loginMsg := fmt.Sprintf("Logged in as %s.\nCurrent Clients: %s", uname, existingClients)
	e.Schedule(rec, Event{Kind: OutboundDeliver, Frame: bcp.EncodeDeliver(bcp.Deliver{From: registry.ServerName, Message: loginMsg})})
	e.broadcast.AnnounceJoin(rec, uname)
	e.Schedule(rec, Event{Kind: OutboundStatus, Frame: bcp.EncodeStatus(bcp.Status{Code: bcp.StatusOK})})
	rec.State = connrec.SendStat
}

func (e *Engine) dispatchAvailable(rec *connrec.Record, ev Event) {
	switch ev.Kind {
	case Inbound:
		e.handleAvailableInbound(rec, ev)
	case OutboundDeliver:
		rec.State = connrec.SendMsg
		e.Schedule(rec, ev)
	case OutboundStatus:
		rec.State = connrec.SendStat
		e.Schedule(rec, ev)
	case Heartbeat:
		e.checkTimeout(rec)
	}
}

func (e *Engine) handleAvailableInbound(rec *connrec.Record, ev Event) {
	if ev.ReadErr != nil {
		e.fail(rec, "connection error")
		return
	}
	switch ev.Opcode {
	case bcp.OpRegister:
		e.fail(rec, "already registered")
	case bcp.OpSend:
		send, err := bcp.ReadSend(rec.R)
		if err != nil {
			e.fail(rec, "malformed SEND frame")
			return
		}
		msg := sanitize.Message(send.Message)
		e.broadcast.Broadcast(rec, rec.Username, msg)
		e.Schedule(rec, Event{Kind: OutboundStatus, Frame: bcp.EncodeStatus(bcp.Status{Code: bcp.StatusOK})})
		rec.State = connrec.SendStat
	default:
		e.fail(rec, fmt.Sprintf("unexpected frame %s", ev.Opcode))
	}
}

func (e *Engine) dispatchSendStat(rec *connrec.Record, ev Event) {
	switch ev.Kind {
	case Inbound, OutboundDeliver:
		e.Schedule(rec, ev)
	case OutboundStatus:
		if err := rec.SubmitWrite(ev.Frame); err != nil {
			e.failIOErr(rec, err)
			return
		}
		rec.State = connrec.Available
		rec.Rearm()
	case Heartbeat:
		e.checkTimeout(rec)
	}
}

func (e *Engine) dispatchSendMsg(rec *connrec.Record, ev Event) {
	switch ev.Kind {
	case Inbound, OutboundStatus:
		e.Schedule(rec, ev)
	case OutboundDeliver:
		if err := rec.SubmitWrite(ev.Frame); err != nil {
			e.failIOErr(rec, err)
			return
		}
		rec.State = connrec.PendingStatus
		rec.Rearm()
	case Heartbeat:
		e.checkTimeout(rec)
	}
}

func (e *Engine) dispatchPendingStatus(rec *connrec.Record, ev Event) {
	switch ev.Kind {
	case OutboundDeliver, OutboundStatus:
		e.Schedule(rec, ev)
	case Inbound:
		e.handlePendingStatusInbound(rec, ev)
	case Heartbeat:
		e.checkTimeout(rec)
	}
}

func (e *Engine) handlePendingStatusInbound(rec *connrec.Record, ev Event) {
	if ev.ReadErr != nil {
		e.fail(rec, "connection error")
		return
	}
	if ev.Opcode != bcp.OpStatus {
		e.fail(rec, fmt.Sprintf("expected STATUS ack, got %s", ev.Opcode))
		return
	}
	st, err := bcp.ReadStatus(rec.R)
	if err != nil {
		e.fail(rec, "malformed STATUS frame")
		return
	}
	if st.Code != bcp.StatusOK {
		e.fail(rec, "peer reported error status")
		return
	}
	rec.State = connrec.Available
	rec.Rearm()
}

func (e *Engine) dispatchClosing(rec *connrec.Record, ev Event) {
	if rec.Pending() == 0 {
		name := rec.Username
		if name == "" {
			name = "An unregistered user"
		}
		e.registry.Remove(rec)
		metrics.SetActiveClients(e.registry.Count())
		e.broadcast.AnnounceLeave(rec, name)
		return
	}
	e.Schedule(rec, ev)
}

func (e *Engine) checkTimeout(rec *connrec.Record) {
	if rec.IdleFor() > e.cfg.ConnTimeout {
		metrics.IncError(metrics.ErrTimeout)
		e.fail(rec, "Disconnected for inactivity.")
	}
}

// fail marks rec ERR and immediately performs the one-shot ERR-row action
// spec §4.6 describes ("entered from any row"): best-effort STATUS(ERROR),
// close the socket, transition to CLOSING, and kick off the drain check.
// Caller must hold rec's mutex.
func (e *Engine) fail(rec *connrec.Record, reason string) {
	rec.State = connrec.Err
	rec.StatMsg = reason
	e.enterClosing(rec)
}

func (e *Engine) failIOErr(rec *connrec.Record, err error) {
	e.logger.Warn("conn_io_error", "conn_id", rec.ConnID, "error", err)
	metrics.IncError(metrics.ErrTCPWrite)
	e.fail(rec, "I/O error")
}

func (e *Engine) enterClosing(rec *connrec.Record) {
	frame := bcp.EncodeStatus(bcp.Status{Code: bcp.StatusError, Message: rec.StatMsg})
	if _, err := rec.Conn.Write(frame); err != nil && !errors.Is(err, io.EOF) {
		e.logger.Debug("err_status_write_failed", "conn_id", rec.ConnID, "error", err)
	}
	_ = rec.Conn.Close()
	rec.State = connrec.Closing
	metrics.IncDisconnect(disconnectReason(rec.StatMsg))
	e.logger.Info("conn_closing", "conn_id", rec.ConnID, "username", rec.Username, "reason", rec.StatMsg)
	e.Schedule(rec, Event{Kind: Heartbeat})
}

func disconnectReason(statMsg string) string {
	switch statMsg {
	case "Disconnected for inactivity.":
		return metrics.ReasonTimeout
	case "I/O error", "connection error":
		return metrics.ReasonIOError
	case "server shutting down":
		return metrics.ReasonShutdown
	default:
		return metrics.ReasonErrProtocol
	}
}
