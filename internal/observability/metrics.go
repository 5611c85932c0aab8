package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ipcmux",
			Subsystem: "admin",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ipcmux",
			Subsystem: "admin",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	blocksAllocated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ipcmux",
			Subsystem: "shm",
			Name:      "blocks_allocated_total",
			Help:      "Shared memory blocks reserved for transmission.",
		},
		[]string{"node"},
	)
	blocksReleased = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ipcmux",
			Subsystem: "shm",
			Name:      "releases_total",
			Help:      "Block runs handed back by the peer.",
		},
		[]string{"node"},
	)
	transportBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ipcmux",
			Subsystem: "shm",
			Name:      "sent_bytes_total",
			Help:      "Payload bytes signalled to the peer.",
		},
		[]string{"node"},
	)
	transportFaults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ipcmux",
			Subsystem: "shm",
			Name:      "faults_total",
			Help:      "Unrecoverable shared memory faults.",
		},
		[]string{"node"},
	)
	rpcPackets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ipcmux",
			Subsystem: "rpc",
			Name:      "packets_total",
			Help:      "RPC packets by direction and type.",
		},
		[]string{"node", "direction", "type"},
	)
	rpcErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ipcmux",
			Subsystem: "rpc",
			Name:      "errors_total",
			Help:      "RPC errors by source.",
		},
		[]string{"node", "source"},
	)
	rpcCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ipcmux",
			Subsystem: "rpc",
			Name:      "call_duration_seconds",
			Help:      "Synchronous command round trip duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		},
		[]string{"node", "group"},
	)
	rpcContexts = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "ipcmux",
			Subsystem: "rpc",
			Name:      "contexts_in_use",
			Help:      "Command contexts currently held.",
		},
		[]string{"node"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			blocksAllocated, blocksReleased, transportBytes, transportFaults,
			rpcPackets, rpcErrors, rpcCallDuration, rpcContexts,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordBlocksAllocated(node string, blocks int) {
	RegisterMetrics()
	blocksAllocated.WithLabelValues(node).Add(float64(blocks))
}

func RecordBlocksReleased(node string) {
	RegisterMetrics()
	blocksReleased.WithLabelValues(node).Inc()
}

func RecordTransportSend(node string, bytes int) {
	RegisterMetrics()
	transportBytes.WithLabelValues(node).Add(float64(bytes))
}

func RecordTransportFault(node string) {
	RegisterMetrics()
	transportFaults.WithLabelValues(node).Inc()
}

func RecordPacket(node, direction, packetType string) {
	RegisterMetrics()
	rpcPackets.WithLabelValues(node, direction, packetType).Inc()
}

func RecordRPCError(node, source string) {
	RegisterMetrics()
	rpcErrors.WithLabelValues(node, source).Inc()
}

func RecordCall(node, group string, duration time.Duration) {
	RegisterMetrics()
	rpcCallDuration.WithLabelValues(node, group).Observe(duration.Seconds())
}

func SetContextsInUse(node string, n int) {
	RegisterMetrics()
	rpcContexts.WithLabelValues(node).Set(float64(n))
}
