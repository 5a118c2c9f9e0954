package cmd

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/banshee-data/fusion.record/internal/calib"
	"github.com/banshee-data/fusion.record/internal/synth"
)

func newSynthCmd(a *app) *cobra.Command {
	cfg := synth.DefaultConfig()
	var (
		frames    int
		noTower   bool
		calibPath string
	)
	cmd := &cobra.Command{
		Use:   "synth <out>",
		Short: "Write a synthetic record",
		Long: `synth drives a vehicle around a circular track past a fixed tower and
records every slot of both agents. The same seed and start time always give
the same bytes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if frames < 0 {
				return fmt.Errorf("--frames must not be negative")
			}
			if cfg.FrameRate <= 0 {
				return fmt.Errorf("--rate must be positive")
			}
			cfg.Tower = !noTower
			var c *calib.Calibration
			if calibPath != "" {
				var err error
				if c, err = calib.Load(a.fs, calibPath); err != nil {
					return err
				}
			}
			if err := synth.WriteRecord(a.fs, args[0], cfg, a.clock, c, frames); err != nil {
				return err
			}
			st, err := a.fs.Stat(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s: %d frames, %s\n", args[0], frames, humanize.Bytes(uint64(st.Size())))
			return nil
		},
	}
	cmd.Flags().IntVarP(&frames, "frames", "n", 50, "number of frames")
	cmd.Flags().Float64Var(&cfg.FrameRate, "rate", cfg.FrameRate, "frames per second")
	cmd.Flags().IntVar(&cfg.PointsPerLidar, "points", cfg.PointsPerLidar, "points per lidar sweep")
	cmd.Flags().IntVar(&cfg.ImageWidth, "width", cfg.ImageWidth, "camera image width")
	cmd.Flags().IntVar(&cfg.ImageHeight, "height", cfg.ImageHeight, "camera image height")
	cmd.Flags().Int64Var(&cfg.Seed, "seed", cfg.Seed, "random seed")
	cmd.Flags().BoolVar(&noTower, "no-tower", false, "leave every tower slot empty")
	cmd.Flags().StringVar(&calibPath, "calib", "", "calibration YAML to stamp onto the generated sensors")
	return cmd
}
