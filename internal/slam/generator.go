package slam

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/banshee-data/slamviz/internal/config"
	"github.com/banshee-data/slamviz/internal/monitoring"
	"github.com/banshee-data/slamviz/internal/worker"
)

// DefaultInterval is the generation cadence.
const DefaultInterval = 100 * time.Millisecond

// GeneratorOptions configures a Generator.
type GeneratorOptions struct {
	Interval time.Duration

	// NormalizeOrientation rescales the strategy's quaternion to unit length
	// before it is stored.
	NormalizeOrientation bool

	// Clock drives both the ticker and the pose timestamps. Defaults to the
	// real clock.
	Clock clockwork.Clock

	Logger *slog.Logger
}

// Generator periodically asks a Strategy for the next pose and point set and
// publishes them into a StateStore.
//
// Pose timestamps are the clock's wall time in nanoseconds. The elapsed time
// fed to the strategy restarts from zero on every Start.
type Generator struct {
	store     *StateStore
	strategy  Strategy
	clock     clockwork.Clock
	normalize bool
	log       *slog.Logger

	mu     sync.Mutex
	origin atomic.Int64 // UnixNano of the current run's start
	worker *worker.Periodic
}

// NewGenerator creates an idle generator writing into store.
func NewGenerator(store *StateStore, strategy Strategy, opts GeneratorOptions) *Generator {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = monitoring.Component("generator")
	}

	g := &Generator{
		store:     store,
		strategy:  strategy,
		clock:     opts.Clock,
		normalize: opts.NormalizeOrientation,
		log:       opts.Logger,
	}
	g.worker = worker.NewPeriodic(worker.Config{
		Name:     "generator",
		Interval: opts.Interval,
		Clock:    opts.Clock,
		Logger:   opts.Logger,
		OnPanic: func(any) {
			monitoring.GeneratorTickErrorsTotal.Inc()
		},
	}, g.tick)
	return g
}

// Start begins generating. The first tick runs immediately. It reports false
// when the generator is already running.
func (g *Generator) Start(ctx context.Context) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.worker.State() == worker.StateRunning {
		g.log.Info("generator already running")
		return false
	}
	g.origin.Store(g.clock.Now().UnixNano())
	if !g.worker.Start(ctx) {
		return false
	}
	g.log.Info("generator started",
		"strategy", g.strategy.Name(),
		"points", g.strategy.PointCount(),
		"normalize", g.normalize)
	return true
}

// Stop halts generation and waits for the worker goroutine to exit. It
// reports false when the generator is not running.
func (g *Generator) Stop() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.worker.Stop() {
		return false
	}
	g.log.Info("generator stopped", "ticks", g.worker.Ticks())
	return true
}

// State returns the lifecycle state.
func (g *Generator) State() worker.State { return g.worker.State() }

// Ticks returns the number of completed generation ticks.
func (g *Generator) Ticks() uint64 { return g.worker.Ticks() }

// Done is closed when the current run's goroutine has exited.
func (g *Generator) Done() <-chan struct{} { return g.worker.Done() }

// Store returns the store the generator writes to.
func (g *Generator) Store() *StateStore { return g.store }

// Strategy returns the active strategy.
func (g *Generator) Strategy() Strategy { return g.strategy }

func (g *Generator) tick(context.Context) {
	now := g.clock.Now()
	elapsed := now.Sub(time.Unix(0, g.origin.Load())).Seconds()

	pose, points := g.strategy.Next(elapsed)
	pose.Timestamp = uint64(now.UnixNano())
	if g.normalize {
		pose.Orientation = pose.Orientation.Normalized()
	}
	g.store.Replace(pose, points)

	monitoring.GeneratorTicksTotal.Inc()
	monitoring.GeneratorPoints.Set(float64(len(points)))
}

// NewStrategy builds the point strategy selected by cfg.
func NewStrategy(cfg config.GeneratorConfig) (Strategy, error) {
	src := NewSource(uint64(cfg.Seed))

	switch cfg.Strategy {
	case config.StrategyUniform:
		traj := UniformTrajectory
		if cfg.Trajectory != nil {
			traj = trajectoryFromConfig(*cfg.Trajectory)
		}
		return NewUniformVolume(traj, cfg.Uniform.Count, cfg.Uniform.HalfExtent, src), nil
	case config.StrategyScene:
		traj := SceneTrajectory
		if cfg.Trajectory != nil {
			traj = trajectoryFromConfig(*cfg.Trajectory)
		}
		counts := SceneCounts{
			Floor:     cfg.Scene.FloorPoints,
			Ceiling:   cfg.Scene.CeilingPoints,
			Wall:      cfg.Scene.WallPoints,
			Furniture: cfg.Scene.FurniturePoints,
			Sphere:    cfg.Scene.SpherePoints,
		}
		return NewStructuredScene(traj, counts, src), nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", cfg.Strategy)
	}
}

func trajectoryFromConfig(t config.TrajectoryConfig) CircularTrajectory {
	return CircularTrajectory{
		Radius:       t.Radius,
		AngularRate:  t.AngularRate,
		BaseHeight:   t.BaseHeight,
		Amplitude:    t.Amplitude,
		VerticalRate: t.VerticalRate,
		YawRate:      t.YawRate,
	}
}
