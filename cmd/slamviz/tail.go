package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/anypb"

	"github.com/banshee-data/slamviz/internal/foxglove"
	"github.com/banshee-data/slamviz/internal/transport"
)

type tailOptions struct {
	*rootOptions
	Addr  string
	Topic string
	Count int
}

func newTailCommand(root *rootOptions) *cobra.Command {
	opts := &tailOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print messages from a running server's gRPC telemetry API",
		Long: `Connect to the gRPC front-end of "slamviz serve --grpc-addr" and print a
one-line summary of each received message.

Example:
  slamviz tail --addr localhost:50051 --topic /slam/pose -n 10`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := opts.Addr
			if addr == "" {
				addr = opts.cfg.Server.GRPCAddr
			}
			if addr == "" {
				return errors.New("no gRPC address: pass --addr or set server.grpc_addr")
			}
			return runTail(cmd, addr, opts.Topic, opts.Count)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "gRPC address (defaults to server.grpc_addr)")
	cmd.Flags().StringVar(&opts.Topic, "topic", "", "topic to follow (empty for all)")
	cmd.Flags().IntVarP(&opts.Count, "count", "n", 0, "stop after this many messages (0 for no limit)")

	return cmd
}

func runTail(cmd *cobra.Command, addr, topic string, count int) error {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	defer conn.Close()

	stream, err := transport.NewTelemetryClient(conn).Subscribe(cmd.Context(), topic)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	out := cmd.OutOrStdout()
	for n := 0; count == 0 || n < count; n++ {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("stream ended: %w", err)
		}
		fmt.Fprintln(out, describe(msg))
	}
	return nil
}

// describe decodes a telemetry message into a one-line summary.
func describe(msg *anypb.Any) string {
	name := transport.SchemaNameFromTypeURL(msg.GetTypeUrl())
	switch name {
	case foxglove.PoseInFrameSchemaName:
		p, err := foxglove.UnmarshalPoseInFrame(msg.GetValue())
		if err != nil {
			return fmt.Sprintf("%s: %v", name, err)
		}
		pos := p.Pose.Position
		return fmt.Sprintf("%s t=%d frame=%s position=(%.3f, %.3f, %.3f)",
			name, p.Timestamp.Nanos(), p.FrameID, pos.X, pos.Y, pos.Z)
	case foxglove.PointCloudSchemaName:
		pc, err := foxglove.UnmarshalPointCloud(msg.GetValue())
		if err != nil {
			return fmt.Sprintf("%s: %v", name, err)
		}
		return fmt.Sprintf("%s t=%d frame=%s points=%d",
			name, pc.Timestamp.Nanos(), pc.FrameID, len(pc.Data)/int(foxglove.PointStride))
	case foxglove.FrameTransformSchemaName:
		tf, err := foxglove.UnmarshalFrameTransform(msg.GetValue())
		if err != nil {
			return fmt.Sprintf("%s: %v", name, err)
		}
		return fmt.Sprintf("%s t=%d %s->%s", name, tf.Timestamp.Nanos(), tf.ParentFrameID, tf.ChildFrameID)
	default:
		return fmt.Sprintf("%s %d bytes", name, len(msg.GetValue()))
	}
}
