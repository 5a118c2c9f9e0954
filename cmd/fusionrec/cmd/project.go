package cmd

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/banshee-data/fusion.record/internal/calib"
	"github.com/banshee-data/fusion.record/internal/fusion"
	"github.com/banshee-data/fusion.record/internal/record"
	"github.com/banshee-data/fusion.record/internal/sensor"
)

func newProjectCmd(a *app) *cobra.Command {
	var (
		sel        frameSelector
		lidarPath  string
		cameraPath string
		calibPath  string
		out        string
		noImage    bool
	)
	cmd := &cobra.Command{
		Use:   "project <record>",
		Short: "Project one lidar's points into one camera image",
		Long: `project maps a lidar sweep through the lidar-to-camera transform and the
camera intrinsics and plots the points that land inside the image, coloured
by depth. The output format follows the --out extension (png, svg, pdf).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := record.Open(a.fs, args[0])
			if err != nil {
				return err
			}
			_, f, err := sel.read(r)
			if err != nil {
				return err
			}
			if calibPath != "" {
				c, err := calib.Load(a.fs, calibPath)
				if err != nil {
					return err
				}
				if f.Vehicle != nil {
					c.ApplyVehicle(f.Vehicle)
				}
				if f.Tower != nil {
					c.ApplyTower(f.Tower)
				}
			}

			ls, err := sensorAt(f, lidarPath)
			if err != nil {
				return err
			}
			lidar, ok := ls.(*sensor.Lidar)
			if !ok {
				return fmt.Errorf("%s is a %s, not a lidar", lidarPath, ls.Kind())
			}
			cs, err := sensorAt(f, cameraPath)
			if err != nil {
				return err
			}
			camera, ok := cs.(*sensor.Camera)
			if !ok {
				return fmt.Errorf("%s is a %s, not a camera", cameraPath, cs.Kind())
			}
			if camera.Info == nil {
				return fmt.Errorf("%s has no camera information", cameraPath)
			}

			proj, err := fusion.NewProjector(a.cfg.Reference.Resolver()).Project(lidar, camera)
			if err != nil {
				return err
			}
			a.log.Info("projected lidar into camera",
				"lidar", lidarPath, "camera", cameraPath, "frame", f.FrameID,
				"points", lidar.Points.Len(), "visible", proj.Len())

			opts := fusion.PlotOptions{
				Title:  fmt.Sprintf("%s on %s, frame %d", lidarPath, cameraPath, f.FrameID),
				Format: strings.TrimPrefix(filepath.Ext(out), "."),
			}
			if !noImage && camera.Image != nil {
				opts.Background = camera.Image
			}
			var buf bytes.Buffer
			if err := fusion.PlotProjection(&buf, proj, camera.Info.Width, camera.Info.Height, opts); err != nil {
				return err
			}
			if err := a.fs.WriteFile(out, buf.Bytes(), 0o644); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d of %d points visible, wrote %s\n", proj.Len(), lidar.Points.Len(), out)
			return nil
		},
	}
	sel.register(cmd)
	cmd.Flags().StringVar(&lidarPath, "lidar", "vehicle.lidars.TOP", "lidar slot path")
	cmd.Flags().StringVar(&cameraPath, "camera", "vehicle.cameras.STEREO_LEFT", "camera slot path")
	cmd.Flags().StringVar(&calibPath, "calib", "", "calibration YAML overriding the recorded sensor information")
	cmd.Flags().StringVarP(&out, "out", "o", "projection.png", "output image")
	cmd.Flags().BoolVar(&noImage, "no-image", false, "plot the points without the camera image behind them")
	return cmd
}
