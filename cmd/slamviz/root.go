package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/banshee-data/slamviz/internal/config"
	"github.com/banshee-data/slamviz/internal/monitoring"
)

// rootOptions holds global flags and the configuration they resolve to.
type rootOptions struct {
	ConfigPath string
	LogLevel   string
	LogFormat  string

	cfg *config.Config
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "slamviz",
		Short: "Simulated SLAM telemetry bridge for Foxglove Studio",
		Long: `slamviz generates a synthetic robot trajectory and point cloud and
publishes them over the Foxglove WebSocket protocol on /slam/pose,
/slam/pointcloud and /tf.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.resolve(cmd)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "", "log format (text|json)")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newTrajectoryCommand(opts))
	cmd.AddCommand(newTailCommand(opts))
	cmd.AddCommand(newVersionCommand())

	return cmd
}

// resolve loads the config file (or defaults), applies the log flags and
// initialises the process logger on stderr.
func (o *rootOptions) resolve(cmd *cobra.Command) error {
	cfg := config.Default()
	if o.ConfigPath != "" {
		loaded, err := config.Load(o.ConfigPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = o.LogLevel
	}
	if cmd.Flags().Changed("log-format") {
		cfg.Log.Format = o.LogFormat
	}

	monitoring.InitLoggerTo(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	o.cfg = cfg
	return nil
}
