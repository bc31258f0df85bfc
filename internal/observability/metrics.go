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
			Namespace: "tina",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tina",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	epochs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tina",
			Subsystem: "node",
			Name:      "epochs_total",
			Help:      "Epoch ticks handled.",
		},
		[]string{"node"},
	)
	framesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tina",
			Subsystem: "node",
			Name:      "frames_sent_total",
			Help:      "Frames handed to the radio, by message kind.",
		},
		[]string{"node", "kind"},
	)
	reportsSuppressed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tina",
			Subsystem: "node",
			Name:      "reports_suppressed_total",
			Help:      "Epochs whose aggregate stayed within the coherency threshold.",
		},
		[]string{"node"},
	)
	queueDrops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tina",
			Subsystem: "node",
			Name:      "queue_drops_total",
			Help:      "Frames dropped by a full queue.",
		},
		[]string{"node", "queue"},
	)
	decodeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tina",
			Subsystem: "node",
			Name:      "decode_errors_total",
			Help:      "Inbound frames discarded as malformed.",
		},
		[]string{"node"},
	)
	linkTimeouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tina",
			Subsystem: "node",
			Name:      "link_timeouts_total",
			Help:      "Send watchdog expiries.",
		},
		[]string{"node"},
	)
	rejoins = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tina",
			Subsystem: "node",
			Name:      "rejoins_total",
			Help:      "Topology rejoins, by reason.",
		},
		[]string{"node", "reason"},
	)
	sinkAggregate = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tina",
			Subsystem: "sink",
			Name:      "aggregate",
			Help:      "Latest network-wide aggregate at the sink.",
		},
		[]string{"node", "field"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			epochs, framesSent, reportsSuppressed, queueDrops,
			decodeErrors, linkTimeouts, rejoins, sinkAggregate,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordEpoch(node string) {
	RegisterMetrics()
	epochs.WithLabelValues(node).Inc()
}

func RecordFrameSent(node, kind string) {
	RegisterMetrics()
	framesSent.WithLabelValues(node, kind).Inc()
}

func RecordSuppressed(node string) {
	RegisterMetrics()
	reportsSuppressed.WithLabelValues(node).Inc()
}

func RecordQueueDrop(node, queue string) {
	RegisterMetrics()
	queueDrops.WithLabelValues(node, queue).Inc()
}

func RecordDecodeError(node string) {
	RegisterMetrics()
	decodeErrors.WithLabelValues(node).Inc()
}

func RecordLinkTimeout(node string) {
	RegisterMetrics()
	linkTimeouts.WithLabelValues(node).Inc()
}

func RecordRejoin(node, reason string) {
	RegisterMetrics()
	rejoins.WithLabelValues(node, reason).Inc()
}

// RecordSinkAggregate publishes the sink's latest epoch values. Fields the
// active mode does not compute are left untouched.
func RecordSinkAggregate(node string, maxVal uint8, hasMax bool, countVal uint8, hasCount bool) {
	RegisterMetrics()
	if hasMax {
		sinkAggregate.WithLabelValues(node, "max").Set(float64(maxVal))
	}
	if hasCount {
		sinkAggregate.WithLabelValues(node, "count").Set(float64(countVal))
	}
}
