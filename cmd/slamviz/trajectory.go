package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/slamviz/internal/posedb"
)

type trajectoryOptions struct {
	*rootOptions
	Database string
	Limit    int
	Format   string
}

func newTrajectoryCommand(root *rootOptions) *cobra.Command {
	opts := &trajectoryOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "trajectory",
		Short: "Print the most recent recorded poses",
		Long: `Print poses recorded by "slamviz serve --record", newest first.

Example:
  slamviz trajectory --db trajectory.db --limit 5
  slamviz trajectory --db trajectory.db --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.Database
			if path == "" {
				path = opts.cfg.Recorder.Path
			}
			return printTrajectory(cmd, path, opts.Limit, opts.Format)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "pose database (defaults to recorder.path)")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 20, "number of poses to print")
	cmd.Flags().StringVar(&opts.Format, "format", "text", "output format (text|json)")

	return cmd
}

// poseRow is the JSON shape of one printed pose.
type poseRow struct {
	ID         int64      `json:"id"`
	Time       time.Time  `json:"time"`
	Position   [3]float64 `json:"position"`
	Quaternion [4]float64 `json:"orientation"`
	Points     int        `json:"points"`
}

func printTrajectory(cmd *cobra.Command, path string, limit int, format string) error {
	if format != "text" && format != "json" {
		return fmt.Errorf("invalid format %q: must be text or json", format)
	}

	db, err := posedb.Open(path)
	if err != nil {
		return err
	}
	defer db.Close()

	records, err := db.RecentPoses(cmd.Context(), limit)
	if err != nil {
		return err
	}

	rows := make([]poseRow, 0, len(records))
	for _, r := range records {
		p := r.Pose
		rows = append(rows, poseRow{
			ID:         r.ID,
			Time:       time.Unix(0, int64(p.Timestamp)).UTC(),
			Position:   [3]float64{p.Position.X, p.Position.Y, p.Position.Z},
			Quaternion: [4]float64{p.Orientation.X, p.Orientation.Y, p.Orientation.Z, p.Orientation.W},
			Points:     r.PointCount,
		})
	}

	out := cmd.OutOrStdout()
	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}
	return writeTrajectoryText(out, rows)
}

func writeTrajectoryText(w io.Writer, rows []poseRow) error {
	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, "no poses recorded")
		return err
	}
	fmt.Fprintf(w, "%-6s %-30s %9s %9s %9s %7s %7s %7s %7s %6s\n",
		"ID", "TIME", "X", "Y", "Z", "QX", "QY", "QZ", "QW", "POINTS")
	for _, r := range rows {
		if _, err := fmt.Fprintf(w, "%-6d %-30s %9.3f %9.3f %9.3f %7.3f %7.3f %7.3f %7.3f %6d\n",
			r.ID, r.Time.Format(time.RFC3339Nano),
			r.Position[0], r.Position[1], r.Position[2],
			r.Quaternion[0], r.Quaternion[1], r.Quaternion[2], r.Quaternion[3],
			r.Points); err != nil {
			return err
		}
	}
	return nil
}
