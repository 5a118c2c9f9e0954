package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/banshee-data/fusion.record/internal/api"
	"github.com/banshee-data/fusion.record/internal/catalog"
	"github.com/banshee-data/fusion.record/internal/payload"
)

func (a *app) openCatalog(dsn string) (*catalog.Catalog, error) {
	if dsn == "" {
		dsn = a.cfg.Catalog.DSN
	}
	return catalog.Open(dsn)
}

func newCatalogCmd(a *app) *cobra.Command {
	var dsn string
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Index record directories into a SQLite catalog and query it",
	}
	cmd.PersistentFlags().StringVar(&dsn, "db", "", "catalog database (default catalog.dsn from config)")

	index := &cobra.Command{
		Use:   "index [dir...]",
		Short: "Index every record in the given directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				args = []string{a.cfg.Catalog.RecordsDir}
			}
			c, err := a.openCatalog(dsn)
			if err != nil {
				return err
			}
			defer c.Close()
			total := 0
			for _, dir := range args {
				n, err := c.IndexDir(cmd.Context(), a.fs, dir, a.cfg.Catalog.Workers)
				total += n
				if err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "indexed %d records\n", total)
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List indexed records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.openCatalog(dsn)
			if err != nil {
				return err
			}
			defer c.Close()
			recs, err := c.Records(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RECORD\tFRAMES\tSIZE\tSTART\tEND\tPATH")
			for _, r := range recs {
				start, end := "-", "-"
				if r.FrameCount > 0 {
					start, end = a.formatTs(r.Start), a.formatTs(r.End)
				}
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\n",
					r.RecordID, r.FrameCount, humanize.Bytes(uint64(r.SizeBytes)), start, end, r.Path)
			}
			return tw.Flush()
		},
	}

	var (
		from, to string
		at       string
	)
	frames := &cobra.Command{
		Use:   "frames [record-id]",
		Short: "List frames of one record, or across records by time",
		Long: `frames lists the frames of one record, every frame in --from/--to across
all indexed records, or with --at the first indexed frame at or after a
timestamp.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.openCatalog(dsn)
			if err != nil {
				return err
			}
			defer c.Close()

			var entries []catalog.FrameEntry
			switch {
			case at != "":
				ts, err := payload.ParseTimestamp(at)
				if err != nil {
					return err
				}
				e, err := c.FrameAt(cmd.Context(), ts)
				if err != nil {
					return err
				}
				entries = []catalog.FrameEntry{e}
			case len(args) == 1:
				if entries, err = c.Frames(cmd.Context(), args[0]); err != nil {
					return err
				}
			case from != "" && to != "":
				start, err := payload.ParseTimestamp(from)
				if err != nil {
					return err
				}
				end, err := payload.ParseTimestamp(to)
				if err != nil {
					return err
				}
				if entries, err = c.FramesBetween(cmd.Context(), start, end); err != nil {
					return err
				}
			default:
				return fmt.Errorf("give a record id, --from and --to, or --at")
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RECORD\tINDEX\tFRAME\tTIMESTAMP\tSIZE")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\n",
					e.RecordID, e.FrameIndex, e.FrameID, a.formatTs(e.Timestamp), humanize.Bytes(uint64(e.LengthBytes)))
			}
			return tw.Flush()
		},
	}
	frames.Flags().StringVar(&from, "from", "", "range start (decimal seconds)")
	frames.Flags().StringVar(&to, "to", "", "range end (decimal seconds)")
	frames.Flags().StringVar(&at, "at", "", "first frame at or after this timestamp")

	remove := &cobra.Command{
		Use:   "remove <record-id>",
		Short: "Drop a record from the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.openCatalog(dsn)
			if err != nil {
				return err
			}
			defer c.Close()
			return c.Remove(cmd.Context(), args[0])
		},
	}

	var (
		listen string
		assets string
	)
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Browse the catalog and record reports over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.openCatalog(dsn)
			if err != nil {
				return err
			}
			defer c.Close()
			srv := api.NewServer(c, a.fs, a.cfg.Display, a.log)
			srv.ReportOptions.AssetsHost = assets

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serveHTTP(ctx, a, listen, srv.Handler())
		},
	}
	serve.Flags().StringVar(&listen, "listen", "127.0.0.1:8080", "listen address")
	serve.Flags().StringVar(&assets, "assets", "", "where report pages load echarts from")

	cmd.AddCommand(index, list, frames, remove, serve)
	return cmd
}

// serveHTTP runs h on addr until ctx is done, then shuts down with a short
// grace period.
func serveHTTP(ctx context.Context, a *app, addr string, h http.Handler) error {
	hs := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() {
		a.log.Info("http listening", "addr", addr)
		errc <- hs.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return fmt.Errorf("serve http %s: %w", addr, err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := hs.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http: %w", err)
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
