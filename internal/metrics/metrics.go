// Package metrics exposes Prometheus counters/gauges for the chat server,
// re-themed from the teacher's CAN-frame counters (internal/metrics in the
// teacher repo) to connection and broadcast activity.
package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/bktiel/rpchat/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Accepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rpchat_accepted_total",
		Help: "Total TCP connections accepted.",
	})
	Registered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rpchat_registered_total",
		Help: "Total successful REGISTER frames.",
	})
	RegisterRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rpchat_register_rejected_total",
		Help: "Total REGISTER attempts rejected (duplicate or empty username).",
	})
	FramesRelayed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rpchat_frames_relayed_total",
		Help: "Total broadcasts fanned out (relayed SEND messages and join/leave notices).",
	})
	BroadcastFanout = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rpchat_broadcast_fanout",
		Help: "Number of recipients targeted in the most recent broadcast.",
	})
	ActiveClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rpchat_active_clients",
		Help: "Current number of registered or in-flight client connections.",
	})
	Disconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rpchat_disconnects_total",
		Help: "Total client teardowns by reason.",
	}, []string{"reason"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rpchat_errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rpchat_worker_queue_depth",
		Help: "Worker pool task queue depth as last set via SetQueueDepth (not updated by the pool itself).",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rpchat_build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})

	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality).
const (
	ErrTCPRead    = "tcp_read"
	ErrTCPWrite   = "tcp_write"
	ErrProtocol   = "protocol"
	ErrAccept     = "accept"
	ErrListen     = "listen"
	ErrTimeout    = "timeout"
	ErrDuplicate  = "duplicate_username"
	ErrSanitation = "sanitization"
)

// DisconnectReason label constants.
const (
	ReasonErrProtocol = "protocol_error"
	ReasonIOError     = "io_error"
	ReasonTimeout     = "timeout"
	ReasonShutdown    = "shutdown"
)

// StartHTTP serves Prometheus metrics at /metrics and a readiness probe at /ready.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for in-process logging without scraping Prometheus.
var (
	localAccepted   uint64
	localRegistered uint64
	localRejected   uint64
	localRelayed    uint64
	localErrors     uint64
	localDisconnect uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	Accepted     uint64
	Registered   uint64
	Rejected     uint64
	Relayed      uint64
	Errors       uint64
	Disconnected uint64
}

func Snap() Snapshot {
	return Snapshot{
		Accepted:     atomic.LoadUint64(&localAccepted),
		Registered:   atomic.LoadUint64(&localRegistered),
		Rejected:     atomic.LoadUint64(&localRejected),
		Relayed:      atomic.LoadUint64(&localRelayed),
		Errors:       atomic.LoadUint64(&localErrors),
		Disconnected: atomic.LoadUint64(&localDisconnect),
	}
}

func IncAccepted() {
	Accepted.Inc()
	atomic.AddUint64(&localAccepted, 1)
}

func IncRegistered() {
	Registered.Inc()
	atomic.AddUint64(&localRegistered, 1)
}

func IncRegisterRejected() {
	RegisterRejected.Inc()
	atomic.AddUint64(&localRejected, 1)
}

func IncFramesRelayed() {
	FramesRelayed.Inc()
	atomic.AddUint64(&localRelayed, 1)
}

func SetBroadcastFanout(n int) { BroadcastFanout.Set(float64(n)) }

func SetActiveClients(n int) { ActiveClients.Set(float64(n)) }

func SetQueueDepth(n int) { QueueDepth.Set(float64(n)) }

func IncDisconnect(reason string) {
	Disconnects.WithLabelValues(reason).Inc()
	atomic.AddUint64(&localDisconnect, 1)
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

// InitBuildInfo sets the build info gauge and pre-registers error label series.
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	for _, lbl := range []string{ErrTCPRead, ErrTCPWrite, ErrProtocol, ErrAccept, ErrListen, ErrTimeout, ErrDuplicate, ErrSanitation} {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil {
		return true
	}
	return fn()
}
