// Package qxmetrics exposes Prometheus counters for the protocol engine's
// error taxonomy and the gateway's frame traffic, plus a local-mirror
// Snapshot for cheap in-process logging. Counters are promauto-registered
// and mirrored into atomics for the Snapshot; StartHTTP serves /metrics and
// /ready.
package qxmetrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/freefly-qx/qx-gateway/internal/qxlogging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus counters/gauges.
var (
	SerialRxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qx_serial_rx_frames_total",
		Help: "Total QX frames decoded from the serial link.",
	})
	SerialTxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qx_serial_tx_frames_total",
		Help: "Total QX frames written to the serial link.",
	})
	TCPRxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qx_tcp_rx_frames_total",
		Help: "Total QX frames received from TCP clients.",
	})
	TCPTxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qx_tcp_tx_frames_total",
		Help: "Total QX frames sent to TCP clients.",
	})
	HubDroppedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qx_hub_dropped_frames_total",
		Help: "Total QX frames dropped by the hub due to slow clients.",
	})
	HubKickedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qx_hub_kicked_clients_total",
		Help: "Total clients disconnected due to backpressure kick policy.",
	})
	HubActiveClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "qx_hub_active_clients",
		Help: "Current number of connected TCP QX clients.",
	})
	HubBroadcastFanout = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "qx_hub_broadcast_fanout",
		Help: "Number of clients targeted in the most recent broadcast.",
	})
	HubQueueDepthMax = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "qx_hub_queue_depth_max",
		Help: "Observed max queued frames among clients in the last broadcast.",
	})
	HubQueueDepthAvg = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "qx_hub_queue_depth_avg",
		Help: "Approximate average queued frames per client in the last broadcast.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "qx_build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})

	// Errors mirrors the protocol's error taxonomy, one series per label.
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qx_errors_total",
		Help: "Protocol-engine error counters by category.",
	}, []string{"where"})

	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants. The first block is the protocol engine's own
// taxonomy; the second covers the ambient transport/server errors a
// gateway host layers on top.
const (
	ErrFramingResync          = "framing_resync"
	ErrLengthRejected         = "length_rejected"
	ErrChecksumFail           = "checksum_fail"
	ErrCRC32Fail              = "crc32_fail"
	ErrMessageTypeUnsupported = "message_type_unsupported"
	ErrAttributeNotHandled    = "attribute_not_handled"
	ErrLegacyUnsupported      = "legacy_unsupported"
	ErrKeyNotFound            = "key_not_found"

	ErrSerialRead     = "serial_read"
	ErrSerialWrite    = "serial_write"
	ErrSerialOverflow = "serial_tx_overflow"
	ErrTCPRead        = "tcp_read"
	ErrTCPWrite       = "tcp_write"
)

var allErrorLabels = []string{
	ErrFramingResync, ErrLengthRejected, ErrChecksumFail, ErrCRC32Fail,
	ErrMessageTypeUnsupported, ErrAttributeNotHandled, ErrLegacyUnsupported,
	ErrKeyNotFound,
	ErrSerialRead, ErrSerialWrite, ErrSerialOverflow, ErrTCPRead, ErrTCPWrite,
}

// StartHTTP serves Prometheus metrics at /metrics and a readiness probe at
// /ready on addr.
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
		qxlogging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			qxlogging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters, cheaper than scraping Prometheus in-process.
var (
	localSerialRx   uint64
	localSerialTx   uint64
	localTCPRx      uint64
	localTCPTx      uint64
	localHubDrop    uint64
	localHubKick    uint64
	localHubClients uint64
	localErrors     uint64
)

// Snapshot is a cheap copy of the local mirrored counters.
type Snapshot struct {
	SerialRx   uint64
	SerialTx   uint64
	TCPRx      uint64
	TCPTx      uint64
	HubDrops   uint64
	HubKicks   uint64
	HubClients uint64
	Errors     uint64
}

// Snap returns a consistent-enough snapshot of the local counters.
func Snap() Snapshot {
	return Snapshot{
		SerialRx:   atomic.LoadUint64(&localSerialRx),
		SerialTx:   atomic.LoadUint64(&localSerialTx),
		TCPRx:      atomic.LoadUint64(&localTCPRx),
		TCPTx:      atomic.LoadUint64(&localTCPTx),
		HubDrops:   atomic.LoadUint64(&localHubDrop),
		HubKicks:   atomic.LoadUint64(&localHubKick),
		HubClients: atomic.LoadUint64(&localHubClients),
		Errors:     atomic.LoadUint64(&localErrors),
	}
}

func IncSerialRx() { SerialRxFrames.Inc(); atomic.AddUint64(&localSerialRx, 1) }
func IncSerialTx() { SerialTxFrames.Inc(); atomic.AddUint64(&localSerialTx, 1) }
func IncTCPRx()    { TCPRxFrames.Inc(); atomic.AddUint64(&localTCPRx, 1) }
func AddTCPTx(n int) {
	TCPTxFrames.Add(float64(n))
	atomic.AddUint64(&localTCPTx, uint64(n))
}
func IncHubDrop() { HubDroppedFrames.Inc(); atomic.AddUint64(&localHubDrop, 1) }
func IncHubKick() { HubKickedClients.Inc(); atomic.AddUint64(&localHubKick, 1) }

func SetHubClients(n int) {
	HubActiveClients.Set(float64(n))
	atomic.StoreUint64(&localHubClients, uint64(n))
}

func SetBroadcastFanout(n int) { HubBroadcastFanout.Set(float64(n)) }

func SetQueueDepth(max, avg int) {
	HubQueueDepthMax.Set(float64(max))
	HubQueueDepthAvg.Set(float64(avg))
}

// IncError records one occurrence of the named error-taxonomy category.
func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

// InitBuildInfo sets the build info gauge and pre-registers every error
// label series so the first real error doesn't pay registration latency.
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	for _, lbl := range allErrorLabels {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers the function /ready and IsReady consult.
func SetReadinessFunc(fn func() bool) {
	readinessMu.Lock()
	readinessFn = fn
	readinessMu.Unlock()
}

// IsReady reports the registered readiness function's result, defaulting to
// ready when none has been set yet.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil {
		return true
	}
	return fn()
}
