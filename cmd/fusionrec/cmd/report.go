package cmd

import (
	"bytes"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/banshee-data/fusion.record/internal/record"
	"github.com/banshee-data/fusion.record/internal/report"
)

func newReportCmd(a *app) *cobra.Command {
	var (
		out  string
		opts report.Options
	)
	cmd := &cobra.Command{
		Use:   "report <record>",
		Short: "Write an HTML overview of a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := record.Open(a.fs, args[0])
			if err != nil {
				return err
			}
			s, err := report.Summarize(r)
			if err != nil {
				return err
			}
			var buf bytes.Buffer
			if err := report.Render(&buf, s, opts); err != nil {
				return err
			}
			if err := a.fs.WriteFile(out, buf.Bytes(), 0o644); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			a.log.Info("wrote report", "record_id", s.RecordID, "frames", s.Frames(), "incomplete", s.Incomplete, "out", out)
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "report.html", "output file")
	cmd.Flags().StringVar(&opts.AssetsHost, "assets", "", "where the page loads echarts from")
	cmd.Flags().StringVar(&opts.Theme, "theme", "", "echarts theme, e.g. dark")
	return cmd
}
