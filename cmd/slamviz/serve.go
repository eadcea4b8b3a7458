package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/slamviz/internal/bridge"
	"github.com/banshee-data/slamviz/internal/config"
	"github.com/banshee-data/slamviz/internal/monitoring"
	"github.com/banshee-data/slamviz/internal/posedb"
	"github.com/banshee-data/slamviz/internal/slam"
	"github.com/banshee-data/slamviz/internal/transport"
	"github.com/banshee-data/slamviz/internal/version"
)

// statsInterval is how often serve logs a status line.
const statsInterval = 30 * time.Second

type serveOptions struct {
	*rootOptions
	Port     int
	Strategy string
	GRPCAddr string
	Record   string
}

func newServeCommand(root *rootOptions) *cobra.Command {
	opts := &serveOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Generate telemetry and serve it to Foxglove clients",
		Long: `Start the trajectory generator and the Foxglove bridge, then block until
SIGINT or SIGTERM. On shutdown the bridge is stopped before the generator.

Example:
  slamviz serve
  slamviz serve --port 9000 --strategy scene --grpc-addr localhost:50051`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.apply(cmd); err != nil {
				return err
			}
			return runServe(cmd.Context(), opts.cfg)
		},
	}

	cmd.Flags().IntVarP(&opts.Port, "port", "p", config.DefaultPort, "Foxglove WebSocket port")
	cmd.Flags().StringVar(&opts.Strategy, "strategy", config.StrategyUniform, "point strategy (uniform|scene)")
	cmd.Flags().StringVar(&opts.GRPCAddr, "grpc-addr", "", "also serve the gRPC telemetry API on this address")
	cmd.Flags().StringVar(&opts.Record, "record", "", "record the trajectory into this SQLite file")

	return cmd
}

// apply overlays explicitly set flags on the loaded config.
func (o *serveOptions) apply(cmd *cobra.Command) error {
	if cmd.Flags().Changed("port") {
		o.cfg.Server.Port = o.Port
	}
	if cmd.Flags().Changed("strategy") {
		o.cfg.Generator.Strategy = o.Strategy
	}
	if cmd.Flags().Changed("grpc-addr") {
		o.cfg.Server.GRPCAddr = o.GRPCAddr
	}
	if cmd.Flags().Changed("record") {
		o.cfg.Recorder.Enabled = true
		o.cfg.Recorder.Path = o.Record
	}
	return o.cfg.Validate()
}

// pipeline is the generator, bridge and optional recorder of one serve run.
type pipeline struct {
	gen   *slam.Generator
	b     *bridge.Broadcaster
	srv   *transport.Server
	db    *posedb.DB
	rec   *posedb.Recorder
	port  int
	strat slam.Strategy
	log   *slog.Logger
}

func newPipeline(cfg *config.Config) (*pipeline, error) {
	strategy, err := slam.NewStrategy(cfg.Generator)
	if err != nil {
		return nil, err
	}
	stamp, err := bridge.ParsePointCloudStamp(cfg.Bridge.PointCloudTimestamp)
	if err != nil {
		return nil, err
	}

	store := slam.NewStateStore(slam.IdentityPose(0), nil)
	p := &pipeline{
		port:  cfg.Server.Port,
		strat: strategy,
		log:   monitoring.Component("serve"),
	}
	p.gen = slam.NewGenerator(store, strategy, slam.GeneratorOptions{
		Interval:             cfg.Generator.Interval,
		NormalizeOrientation: cfg.Generator.NormalizeOrientation,
	})

	metadata := version.Metadata()
	metadata["strategy"] = strategy.Name()
	p.srv = transport.NewServer(transport.Options{
		Name:       cfg.Server.Name,
		Metadata:   metadata,
		GRPCAddr:   cfg.Server.GRPCAddr,
		SendBuffer: cfg.Server.SendBuffer,
		MaxClients: cfg.Server.MaxClients,
	})
	p.b = bridge.NewBroadcaster(p.srv, store, bridge.Options{
		Host:            cfg.Server.Host,
		Interval:        cfg.Bridge.Interval,
		MapFrame:        cfg.Bridge.MapFrame,
		BaseFrame:       cfg.Bridge.BaseFrame,
		PointCloudStamp: stamp,
	})

	if cfg.Recorder.Enabled {
		p.db, err = posedb.Open(cfg.Recorder.Path)
		if err != nil {
			return nil, err
		}
		p.rec = posedb.NewRecorder(p.db, store, posedb.RecorderOptions{Interval: cfg.Recorder.Interval})
	}
	return p, nil
}

// start runs the generator, the bridge and the recorder. Cancelling ctx does
// not stop them; only stop does.
func (p *pipeline) start(ctx context.Context) error {
	workerCtx := context.WithoutCancel(ctx)
	p.gen.Start(workerCtx)
	if err := p.b.Start(p.port); err != nil {
		p.gen.Stop()
		return err
	}
	if p.rec != nil {
		p.rec.Start(workerCtx)
	}
	return nil
}

// stop halts the bridge, then the recorder, then the generator.
func (p *pipeline) stop() error {
	var errs []error
	if err := p.b.Stop(); err != nil {
		errs = append(errs, err)
	}
	if p.rec != nil {
		p.rec.Stop()
	}
	p.gen.Stop()
	return errors.Join(errs...)
}

func (p *pipeline) close() {
	if p.db == nil {
		return
	}
	if err := p.db.Close(); err != nil {
		p.log.Error("error closing pose database", "error", err)
	}
}

func runServe(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}

	p, err := newPipeline(cfg)
	if err != nil {
		return err
	}
	defer p.close()
	log := p.log

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := p.start(ctx); err != nil {
		return err
	}
	log.Info("slamviz running",
		"addr", cfg.ListenAddr(),
		"strategy", p.strat.Name(),
		"points", p.strat.PointCount(),
		"grpc", cfg.Server.GRPCAddr,
		"recording", cfg.Recorder.Enabled)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logStats(gctx, log, p.gen, p.b, p.srv, statsInterval)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		return p.stop()
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("slamviz stopped")
	return nil
}

// logStats emits a status line every interval until ctx is done.
func logStats(ctx context.Context, log *slog.Logger, gen *slam.Generator, b *bridge.Broadcaster, srv *transport.Server, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := b.Stats()
			attrs := []any{
				"generator_ticks", gen.Ticks(),
				"broadcast_ticks", stats.Ticks,
				"clients", srv.Hub().ClientCount(),
			}
			for topic, ts := range stats.Topics {
				attrs = append(attrs, slog.Group(topic, "published", ts.Published, "failed", ts.Failed))
			}
			log.Info("status", attrs...)
		}
	}
}
