package cmd

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/banshee-data/fusion.record/internal/framesvc"
	"github.com/banshee-data/fusion.record/internal/monitoring"
	"github.com/banshee-data/fusion.record/internal/payload"
	"github.com/banshee-data/fusion.record/internal/record"
)

func newServeCmd(a *app) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve <record|dir>...",
		Short: "Serve records over gRPC",
		Long: `serve loads the given records into memory, verifies them and answers
Info, GetFrame and StreamFrames calls until interrupted. The first record
loaded is served when a request names none.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := a.recordPaths(args)
			if err != nil {
				return err
			}
			if len(paths) == 0 {
				return fmt.Errorf("no %s records found", record.FileExtension)
			}
			srv := framesvc.NewServer(a.clock, monitoring.WithComponent(a.log, "serve"))
			for _, path := range paths {
				r, err := record.Open(a.fs, path)
				if err != nil {
					return err
				}
				if err := srv.Add(r); err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
			}

			if listen == "" {
				listen = a.cfg.Server.Address()
			}
			lis, err := net.Listen("tcp", listen)
			if err != nil {
				return fmt.Errorf("listen %s: %w", listen, err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a.log.Info("frame service listening", "addr", lis.Addr().String(), "records", len(paths))
			return framesvc.Serve(ctx, framesvc.NewGRPCServer(srv, a.cfg.Server), lis)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default server.host:server.port from config)")
	return cmd
}

func newRemoteCmd(a *app) *cobra.Command {
	var (
		addr     string
		recordID string
	)
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Query a running frame service",
	}
	cmd.PersistentFlags().StringVar(&addr, "addr", "", "service address (default server.host:server.port from config)")
	cmd.PersistentFlags().StringVar(&recordID, "record", "", "record id (default: the server's first record)")

	dial := func() (*framesvc.Client, func(), error) {
		target := addr
		if target == "" {
			target = a.cfg.Server.Address()
		}
		conn, err := framesvc.Dial(target, a.cfg.Server.MaxRecvMsgSize)
		if err != nil {
			return nil, nil, err
		}
		return framesvc.NewClient(conn), func() { conn.Close() }, nil
	}

	info := &cobra.Command{
		Use:   "info",
		Short: "Print what the service holds for a record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, done, err := dial()
			if err != nil {
				return err
			}
			defer done()
			resp, err := c.Info(cmd.Context(), &framesvc.InfoRequest{RecordID: recordID})
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "record id\t%s\n", resp.RecordID)
			fmt.Fprintf(tw, "format version\t%d\n", resp.Version)
			fmt.Fprintf(tw, "frames\t%d\n", resp.FrameCount)
			fmt.Fprintf(tw, "size\t%s\n", humanize.Bytes(resp.SizeBytes))
			fmt.Fprintf(tw, "start\t%s\n", a.formatTs(resp.Start))
			fmt.Fprintf(tw, "end\t%s\n", a.formatTs(resp.End))
			fmt.Fprintf(tw, "slots\t%d\n", len(resp.Slots))
			return tw.Flush()
		},
	}

	var sel frameSelector
	frame := &cobra.Command{
		Use:   "frame",
		Short: "Fetch and print one frame",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, done, err := dial()
			if err != nil {
				return err
			}
			defer done()
			req := &framesvc.FrameRequest{RecordID: recordID, Index: int64(sel.index)}
			if sel.at != "" {
				ts, err := payload.ParseTimestamp(sel.at)
				if err != nil {
					return err
				}
				req.ByTimestamp, req.Timestamp = true, ts
			}
			resp, err := c.GetFrame(cmd.Context(), req)
			if err != nil {
				return err
			}
			f, err := resp.Frame()
			if err != nil {
				return err
			}
			return a.printFrame(cmd.OutOrStdout(), int(resp.Index), f)
		},
	}
	sel.register(frame)

	var sreq framesvc.StreamRequest
	var decode bool
	stream := &cobra.Command{
		Use:   "stream",
		Short: "Stream frames, optionally paced at a multiple of recorded speed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, done, err := dial()
			if err != nil {
				return err
			}
			defer done()
			sreq.RecordID = recordID
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return streamFrames(ctx, c, &sreq, decode, cmd.OutOrStdout(), a.formatTs)
		},
	}
	stream.Flags().Uint64Var(&sreq.Start, "start", 0, "first frame index")
	stream.Flags().Uint64Var(&sreq.Count, "count", 0, "frames to stream, 0 for all")
	stream.Flags().Float64Var(&sreq.Rate, "rate", 0, "playback speed relative to capture, 0 for as fast as possible")
	stream.Flags().BoolVar(&decode, "decode", false, "decode each frame and report missing slots")

	cmd.AddCommand(info, frame, stream)
	return cmd
}

func streamFrames(ctx context.Context, c *framesvc.Client, req *framesvc.StreamRequest, decode bool, out io.Writer, format func(payload.Timestamp) string) error {
	n := 0
	err := c.Each(ctx, req, func(resp *framesvc.FrameResponse) error {
		n++
		line := fmt.Sprintf("%d\t%d\t%s\t%s", resp.Index, resp.FrameID, format(resp.Timestamp), humanize.Bytes(uint64(len(resp.Data))))
		if decode {
			f, err := resp.Frame()
			if err != nil {
				return err
			}
			line += fmt.Sprintf("\tmissing=%d", len(f.Missing()))
		}
		_, err := fmt.Fprintln(out, line)
		return err
	})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "%d frames\n", n)
	return err
}
