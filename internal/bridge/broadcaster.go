// Package bridge republishes the latest SLAM state to a visualisation
// transport at a fixed rate.
//
// Every tick the Broadcaster snapshots the StateStore and publishes three
// messages: the pose on /slam/pose, the point set on /slam/pointcloud and an
// identity map -> base_link transform on /tf. A topic whose channel could not
// be created is skipped for the rest of the run.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/banshee-data/slamviz/internal/config"
	"github.com/banshee-data/slamviz/internal/foxglove"
	"github.com/banshee-data/slamviz/internal/monitoring"
	"github.com/banshee-data/slamviz/internal/slam"
	"github.com/banshee-data/slamviz/internal/transport"
	"github.com/banshee-data/slamviz/internal/worker"
)

// Topics published by the broadcaster.
const (
	TopicPose       = "/slam/pose"
	TopicPointCloud = "/slam/pointcloud"
	TopicTransform  = "/tf"
)

// DefaultInterval is the broadcast cadence.
const DefaultInterval = 100 * time.Millisecond

// shutdownTimeout bounds Transport.Shutdown during Stop.
const shutdownTimeout = 5 * time.Second

// Transport is the publish side of a visualisation server.
type Transport interface {
	Listen(addr string) error
	CreateChannel(topic string, schema foxglove.Schema) (transport.ChannelID, error)
	Publish(id transport.ChannelID, logTime uint64, payload []byte) error
	Shutdown(ctx context.Context) error
}

var _ Transport = (*transport.Server)(nil)

// PointCloudStamp selects the timestamp written into point cloud messages.
type PointCloudStamp int

const (
	// PointCloudStampPose stamps the cloud with the pose it was generated with.
	PointCloudStampPose PointCloudStamp = iota
	// PointCloudStampZero leaves the cloud timestamp at zero.
	PointCloudStampZero
)

// ParsePointCloudStamp maps a config value to a PointCloudStamp.
func ParsePointCloudStamp(s string) (PointCloudStamp, error) {
	switch s {
	case "", config.StampPose:
		return PointCloudStampPose, nil
	case config.StampZero:
		return PointCloudStampZero, nil
	default:
		return 0, fmt.Errorf("unknown point cloud timestamp policy %q", s)
	}
}

// Options configures a Broadcaster.
type Options struct {
	// Host is the interface Start listens on. Defaults to all interfaces.
	Host string

	Interval time.Duration

	// MapFrame and BaseFrame name the fixed and body frames.
	MapFrame  string
	BaseFrame string

	PointCloudStamp PointCloudStamp

	Clock  clockwork.Clock
	Logger *slog.Logger
}

// TopicStats counts publish outcomes for one topic.
type TopicStats struct {
	Available bool
	Published uint64
	Failed    uint64
}

// Stats is a point-in-time copy of the broadcaster counters.
type Stats struct {
	Ticks  uint64
	Topics map[string]TopicStats
}

// channel is the per-topic publish state.
type channel struct {
	topic  string
	schema foxglove.Schema

	id        transport.ChannelID
	available bool

	published atomic.Uint64
	failed    atomic.Uint64
	warned    atomic.Bool
}

// Broadcaster owns the broadcast worker and the transport it publishes to.
type Broadcaster struct {
	transport Transport
	store     *slam.StateStore
	opts      Options
	log       *slog.Logger

	mu       sync.Mutex
	worker   *worker.Periodic
	pose     *channel
	cloud    *channel
	tf       *channel
	channels []*channel
}

// NewBroadcaster creates an idle broadcaster reading from store.
func NewBroadcaster(t Transport, store *slam.StateStore, opts Options) *Broadcaster {
	if opts.Host == "" {
		opts.Host = "0.0.0.0"
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.MapFrame == "" {
		opts.MapFrame = "map"
	}
	if opts.BaseFrame == "" {
		opts.BaseFrame = "base_link"
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = monitoring.Component("bridge")
	}

	b := &Broadcaster{
		transport: t,
		store:     store,
		opts:      opts,
		log:       opts.Logger,
		pose:      &channel{topic: TopicPose, schema: foxglove.PoseInFrameSchema()},
		cloud:     &channel{topic: TopicPointCloud, schema: foxglove.PointCloudSchema()},
		tf:        &channel{topic: TopicTransform, schema: foxglove.FrameTransformSchema()},
	}
	b.channels = []*channel{b.pose, b.cloud, b.tf}
	b.worker = worker.NewPeriodic(worker.Config{
		Name:     "bridge",
		Interval: opts.Interval,
		Clock:    opts.Clock,
		Logger:   opts.Logger,
	}, b.tick)
	return b
}

// Start binds the transport on port, creates the three channels and starts
// broadcasting. A listen failure is returned and leaves the broadcaster
// idle. A channel that cannot be created is logged and skipped. Starting a
// running broadcaster is a logged no-op.
//
// Stop shuts the transport down for good, so a broadcaster is single-use:
// Start after Stop fails with the transport's closed error. Build a new
// transport and Broadcaster to broadcast again.
func (b *Broadcaster) Start(port int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.worker.State() == worker.StateRunning {
		b.log.Info("bridge already running")
		return nil
	}

	addr := net.JoinHostPort(b.opts.Host, strconv.Itoa(port))
	if err := b.transport.Listen(addr); err != nil {
		return fmt.Errorf("failed to start transport: %w", err)
	}

	for _, ch := range b.channels {
		ch.warned.Store(false)
		id, err := b.transport.CreateChannel(ch.topic, ch.schema)
		if err != nil {
			ch.available = false
			b.log.Error("failed to create channel, topic disabled", "topic", ch.topic, "error", err)
			continue
		}
		ch.id = id
		ch.available = true
		b.log.Debug("channel created", "topic", ch.topic, "channel_id", id, "schema", ch.schema.Name)
	}

	b.worker.Start(context.Background())
	b.log.Info("bridge started", "addr", addr, "interval", b.opts.Interval)
	return nil
}

// Stop halts broadcasting, waits for the worker to exit and shuts the
// transport down. Stopping a broadcaster that is not running is a logged
// no-op and returns nil.
func (b *Broadcaster) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.worker.Stop() {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := b.transport.Shutdown(ctx); err != nil {
		b.log.Warn("transport shutdown incomplete", "error", err)
		return fmt.Errorf("failed to shut down transport: %w", err)
	}
	b.log.Info("bridge stopped", "ticks", b.worker.Ticks())
	return nil
}

// State returns the lifecycle state.
func (b *Broadcaster) State() worker.State { return b.worker.State() }

// Done is closed when the current run's goroutine has exited.
func (b *Broadcaster) Done() <-chan struct{} { return b.worker.Done() }

// Stats returns the tick count and per-topic publish counters.
func (b *Broadcaster) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Stats{Ticks: b.worker.Ticks(), Topics: make(map[string]TopicStats, len(b.channels))}
	for _, ch := range b.channels {
		s.Topics[ch.topic] = TopicStats{
			Available: ch.available,
			Published: ch.published.Load(),
			Failed:    ch.failed.Load(),
		}
	}
	return s
}

func (b *Broadcaster) tick(context.Context) {
	start := b.opts.Clock.Now()
	pose, points := b.store.Snapshot()

	b.publish(b.pose, pose.Timestamp, func() ([]byte, error) {
		return foxglove.Marshal(foxglove.SerializePose(pose, b.opts.MapFrame))
	})

	var cloudStamp foxglove.Timestamp
	if b.opts.PointCloudStamp == PointCloudStampPose {
		cloudStamp = foxglove.TimestampFromNanos(pose.Timestamp)
	}
	b.publish(b.cloud, cloudStamp.Nanos(), func() ([]byte, error) {
		return foxglove.Marshal(foxglove.SerializePointCloud(points, cloudStamp, b.opts.MapFrame))
	})

	tf := foxglove.SerializeTransform(start, b.opts.MapFrame, b.opts.BaseFrame)
	b.publish(b.tf, tf.Timestamp.Nanos(), func() ([]byte, error) {
		return foxglove.Marshal(tf)
	})

	monitoring.BroadcastTicksTotal.Inc()
	monitoring.BroadcastTickDuration.Observe(b.opts.Clock.Since(start).Seconds())
}

// publish encodes and sends one message. Failures and panics are confined to
// this topic for this tick.
func (b *Broadcaster) publish(ch *channel, logTime uint64, encode func() ([]byte, error)) {
	if !ch.available {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			ch.failed.Add(1)
			monitoring.BroadcastPublishTotal.WithLabelValues(ch.topic, "panic").Inc()
			b.log.Error("publish panicked", "topic", ch.topic, "panic", r)
		}
	}()

	payload, err := encode()
	if err != nil {
		b.fail(ch, fmt.Errorf("encode: %w", err))
		return
	}
	if err := b.transport.Publish(ch.id, logTime, payload); err != nil {
		b.fail(ch, err)
		return
	}
	ch.published.Add(1)
	monitoring.BroadcastPublishTotal.WithLabelValues(ch.topic, "ok").Inc()
}

// fail records a publish failure. Only the first failure per topic per run
// is logged at warn level.
func (b *Broadcaster) fail(ch *channel, err error) {
	n := ch.failed.Add(1)
	monitoring.BroadcastPublishTotal.WithLabelValues(ch.topic, "error").Inc()
	if ch.warned.CompareAndSwap(false, true) {
		b.log.Warn("publish failed, further failures on this topic are counted only",
			"topic", ch.topic, "error", err)
		return
	}
	b.log.Debug("publish failed", "topic", ch.topic, "failures", n, "error", err)
}
