package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Generator metrics
var (
	// GeneratorTicksTotal counts completed generation ticks.
	GeneratorTicksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "slamviz_generator_ticks_total",
			Help: "Total trajectory generation ticks",
		},
	)

	// GeneratorTickErrorsTotal counts generation ticks that panicked and were recovered.
	GeneratorTickErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "slamviz_generator_tick_errors_total",
			Help: "Total generation ticks aborted by a recovered panic",
		},
	)

	// GeneratorPoints reports the size of the latest generated point set.
	GeneratorPoints = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "slamviz_generator_points",
			Help: "Number of points in the latest generated point set",
		},
	)
)

// Broadcast metrics
var (
	// BroadcastTicksTotal counts broadcast ticks.
	BroadcastTicksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "slamviz_broadcast_ticks_total",
			Help: "Total broadcast ticks",
		},
	)

	// BroadcastPublishTotal counts publish attempts by topic and status (ok/error/panic).
	BroadcastPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slamviz_broadcast_publish_total",
			Help: "Total publish attempts by topic and status",
		},
		[]string{"topic", "status"},
	)

	// BroadcastTickDuration tracks time spent serializing and publishing one tick.
	BroadcastTickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "slamviz_broadcast_tick_duration_seconds",
			Help:    "Broadcast tick duration in seconds",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1},
		},
	)
)

// Transport metrics
var (
	// TransportClients tracks connected clients by front-end (websocket/grpc).
	TransportClients = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "slamviz_transport_clients",
			Help: "Connected transport clients by front-end",
		},
		[]string{"frontend"},
	)

	// TransportDroppedTotal counts messages dropped because a client queue was full.
	TransportDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "slamviz_transport_dropped_messages_total",
			Help: "Total messages dropped for slow clients",
		},
	)
)

// PoseDBWritesTotal counts pose history inserts by status (ok/error).
var PoseDBWritesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "slamviz_posedb_writes_total",
		Help: "Total pose history writes by status",
	},
	[]string{"status"},
)
