package posedb

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/banshee-data/slamviz/internal/monitoring"
	"github.com/banshee-data/slamviz/internal/slam"
	"github.com/banshee-data/slamviz/internal/worker"
)

// DefaultInterval is the recording cadence.
const DefaultInterval = time.Second

// RecorderOptions configures a Recorder.
type RecorderOptions struct {
	Interval time.Duration
	Clock    clockwork.Clock
	Logger   *slog.Logger
}

// Recorder periodically copies the latest pose from a StateStore into the
// database. Poses with a zero timestamp (nothing generated yet) or the same
// timestamp as the last write are skipped.
type Recorder struct {
	db     *DB
	store  *slam.StateStore
	log    *slog.Logger
	worker *worker.Periodic

	mu     sync.Mutex
	lastTS uint64
}

// NewRecorder creates an idle recorder.
func NewRecorder(db *DB, store *slam.StateStore, opts RecorderOptions) *Recorder {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Logger == nil {
		opts.Logger = monitoring.Component("posedb")
	}
	r := &Recorder{db: db, store: store, log: opts.Logger}
	r.worker = worker.NewPeriodic(worker.Config{
		Name:     "recorder",
		Interval: opts.Interval,
		Clock:    opts.Clock,
		Logger:   opts.Logger,
	}, r.tick)
	return r
}

// Start begins recording; false when already running.
func (r *Recorder) Start(ctx context.Context) bool { return r.worker.Start(ctx) }

// Stop halts recording and waits for the worker; false when not running.
func (r *Recorder) Stop() bool { return r.worker.Stop() }

// State returns the lifecycle state.
func (r *Recorder) State() worker.State { return r.worker.State() }

// Ticks returns the number of completed recording ticks.
func (r *Recorder) Ticks() uint64 { return r.worker.Ticks() }

func (r *Recorder) tick(ctx context.Context) {
	pose, points := r.store.Snapshot()

	r.mu.Lock()
	defer r.mu.Unlock()
	if pose.Timestamp == 0 || pose.Timestamp == r.lastTS {
		return
	}

	if _, err := r.db.InsertPose(ctx, pose, len(points)); err != nil {
		monitoring.PoseDBWritesTotal.WithLabelValues("error").Inc()
		r.log.Warn("failed to record pose", "error", err)
		return
	}
	monitoring.PoseDBWritesTotal.WithLabelValues("ok").Inc()
	r.lastTS = pose.Timestamp
}
