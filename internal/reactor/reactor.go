// Package reactor owns the TCP listener and the per-connection read-pumps:
// the readiness-detection half of spec §1/§4.4. Each accepted connection
// gets one goroutine that blocks for readability and, once it sees a byte,
// hands a single INBOUND task to the engine — the goroutine-per-connection
// translation of the edge-triggered single-threaded poller spec §9 licenses
// ("Implementers may choose channels ... as long as per-record FIFO is
// preserved").
package reactor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bktiel/rpchat/internal/bcp"
	"github.com/bktiel/rpchat/internal/connrec"
	"github.com/bktiel/rpchat/internal/engine"
	"github.com/bktiel/rpchat/internal/limits"
	"github.com/bktiel/rpchat/internal/logging"
	"github.com/bktiel/rpchat/internal/metrics"
	"github.com/bktiel/rpchat/internal/registry"
)

var (
	// ErrListen mirrors the teacher's sentinel-wrapped listen failures.
	ErrListen = errors.New("reactor: listen failed")
	// ErrAccept wraps a fatal (non-transient) Accept error.
	ErrAccept = errors.New("reactor: accept failed")
	// ErrContext is returned when Shutdown's context expires before every
	// read-pump has exited.
	ErrContext = errors.New("reactor: shutdown context expired")
)

// Reactor accepts TCP clients, maintains the connection registry, and runs
// one read-pump goroutine per connection.
type Reactor struct {
	mu   sync.RWMutex
	addr string

	engine   *engine.Engine
	registry *registry.Registry
	logger   *slog.Logger

	maxClients    int
	auditInterval time.Duration

	listener  net.Listener
	readyOnce sync.Once
	readyCh   chan struct{}

	nextConnID atomic.Uint64
	wg         sync.WaitGroup

	totalAccepted   atomic.Uint64
	totalRejected   atomic.Uint64
	totalDisconnect atomic.Uint64
}

// Option configures a Reactor, mirroring the teacher's ServerOption pattern.
type Option func(*Reactor)

func WithListenAddr(a string) Option { return func(r *Reactor) { r.addr = a } }
func WithMaxClients(n int) Option {
	return func(r *Reactor) {
		if n > 0 {
			r.maxClients = n
		}
	}
}
func WithAuditInterval(d time.Duration) Option {
	return func(r *Reactor) {
		if d > 0 {
			r.auditInterval = d
		}
	}
}
func WithLogger(l *slog.Logger) Option {
	return func(r *Reactor) {
		if l != nil {
			r.logger = l
		}
	}
}

// New builds a Reactor bound to eng and reg.
func New(eng *engine.Engine, reg *registry.Registry, opts ...Option) *Reactor {
	r := &Reactor{
		engine:        eng,
		registry:      reg,
		logger:        logging.L(),
		maxClients:    limits.MaxClients(),
		auditInterval: 10 * time.Second,
		readyCh:       make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	if r.addr == "" {
		r.addr = ":0"
	}
	return r
}

// Addr returns the bound listen address, valid once Ready() has fired.
func (r *Reactor) Addr() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.addr
}

func (r *Reactor) setAddr(a string) { r.mu.Lock(); r.addr = a; r.mu.Unlock() }

// Ready closes once the listener is bound and accepting.
func (r *Reactor) Ready() <-chan struct{} { return r.readyCh }

// listenConfig sets SO_REUSEADDR and, where supported, SO_REUSEPORT on the
// listening socket before bind (spec §6 listener options), so a restarted
// process can rebind promptly.
func listenConfig() *net.ListenConfig {
	return &net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
				sockErr = setReusePort(int(fd))
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}
}

// setReusePort sets SO_REUSEPORT, ignoring ENOPROTOOPT/EINVAL on platforms
// where the constant exists but the kernel does not implement it.
func setReusePort(fd int) error {
	err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	if err != nil && !errors.Is(err, unix.ENOPROTOOPT) && !errors.Is(err, unix.EINVAL) {
		return err
	}
	return nil
}

// Serve binds the listener, then accepts connections until ctx is canceled
// or a fatal listener error occurs.
func (r *Reactor) Serve(ctx context.Context) error {
	ln, err := listenConfig().Listen(ctx, "tcp", r.Addr())
	if err != nil {
		wrap := fmt.Errorf("%w: %v", ErrListen, err)
		metrics.IncError(metrics.ErrListen)
		return wrap
	}
	r.setAddr(ln.Addr().String())
	r.mu.Lock()
	r.listener = ln
	r.mu.Unlock()
	r.readyOnce.Do(func() { close(r.readyCh) })
	r.logger.Info("tcp_listen", "addr", r.Addr(), "max_clients", r.maxClients)

	go r.auditLoop(ctx)
	go func() { <-ctx.Done(); _ = ln.Close() }()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			wrap := fmt.Errorf("%w: %v", ErrAccept, err)
			metrics.IncError(metrics.ErrAccept)
			return wrap
		}
		r.accept(conn)
	}
}

func (r *Reactor) accept(conn net.Conn) {
	r.totalAccepted.Add(1)
	metrics.IncAccepted()

	if r.maxClients > 0 && r.registry.Count() >= r.maxClients {
		r.totalRejected.Add(1)
		r.logger.Warn("client_reject_max", "max_clients", r.maxClients)
		_ = conn.Close()
		return
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
		_ = tcp.SetKeepAlive(true)
		_ = tcp.SetKeepAlivePeriod(30 * time.Second)
	}

	connID := r.nextConnID.Add(1)
	rec := connrec.New(conn, connID)
	r.registry.Insert(rec)
	metrics.SetActiveClients(r.registry.Count())
	r.logger.Info("client_connected", "conn_id", connID, "remote", conn.RemoteAddr().String())

	r.wg.Add(1)
	go r.readPump(rec)
}

// readPump is the per-connection goroutine that stands in for a single fd's
// readiness-loop entry (spec §4.4): it blocks on the record's Resume gate,
// reads exactly the leading opcode byte, and schedules one INBOUND task,
// then waits to be re-armed before reading again. It never reads past the
// opcode byte itself — the rest of the frame is read by whichever worker
// picks up the task, under the record's mutex (spec §4.6's "the worker
// reads the rest of the frame").
func (r *Reactor) readPump(rec *connrec.Record) {
	defer r.wg.Done()
	for {
		if _, ok := <-rec.Resume; !ok {
			return
		}
		op, err := bcp.PeekOpcode(rec.R)
		r.engine.ScheduleInbound(rec, op, err)
		if err != nil {
			return
		}
	}
}

// auditLoop hands a HEARTBEAT event to every registered record on each tick.
// It does not compare idle times itself; the engine's HEARTBEAT handling
// checks each record against CONN_TIMEOUT.
func (r *Reactor) auditLoop(ctx context.Context) {
	ticker := time.NewTicker(r.auditInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.registry.Each(func(rec *connrec.Record) {
				r.engine.ScheduleHeartbeat(rec)
			})
		}
	}
}

// Shutdown stops the listener, force-fails every live connection, and waits
// for every read-pump goroutine to exit or ctx to expire.
func (r *Reactor) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	ln := r.listener
	r.listener = nil
	r.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}

	r.registry.Each(func(rec *connrec.Record) {
		r.engine.Disconnect(rec, "server shutting down")
	})

	done := make(chan struct{})
	go func() { r.wg.Wait(); close(done) }()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrContext, ctx.Err())
	case <-done:
		r.logger.Info("shutdown_summary", "accepted", r.totalAccepted.Load(), "rejected", r.totalRejected.Load())
		return nil
	}
}
