package cmd

import (
	"fmt"
	"io"
	"iter"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/fusion.record/internal/agent"
	"github.com/banshee-data/fusion.record/internal/payload"
	"github.com/banshee-data/fusion.record/internal/record"
	"github.com/banshee-data/fusion.record/internal/sensor"
	"github.com/banshee-data/fusion.record/internal/units"
)

// recordPaths expands directories to the record files directly inside them.
func (a *app) recordPaths(args []string) ([]string, error) {
	var out []string
	for _, arg := range args {
		st, err := a.fs.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !st.IsDir() {
			out = append(out, arg)
			continue
		}
		files, err := a.fs.ListFiles(arg, record.FileExtension)
		if err != nil {
			return nil, err
		}
		out = append(out, files...)
	}
	return out, nil
}

// frameSelector picks a frame by index or, when at is set, by timestamp.
type frameSelector struct {
	index int
	at    string
}

func (s *frameSelector) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&s.index, "index", 0, "frame index")
	cmd.Flags().StringVar(&s.at, "at", "", "first frame at or after this timestamp (decimal seconds)")
	cmd.MarkFlagsMutuallyExclusive("index", "at")
}

func (s *frameSelector) read(r *record.Record) (int, *record.Frame, error) {
	p := record.NewPlayer(r)
	if s.at != "" {
		ts, err := payload.ParseTimestamp(s.at)
		if err != nil {
			return 0, nil, err
		}
		if err := p.SeekToTimestamp(ts); err != nil {
			return 0, nil, err
		}
	} else if err := p.Seek(s.index); err != nil {
		return 0, nil, err
	}
	i := p.CurrentFrame()
	f, err := p.ReadFrame()
	return i, f, err
}

// sensorAt finds the sensor at a full slot path such as
// "vehicle.lidars.TOP".
func sensorAt(f *record.Frame, path string) (sensor.Sensor, error) {
	agentName, slotPath, ok := strings.Cut(path, ".")
	if !ok {
		return nil, fmt.Errorf("slot %q: want <agent>.<slot>", path)
	}
	version := f.Version
	if version == 0 {
		version = agent.CurrentVersion
	}
	var (
		layout agent.Layout
		seq    iter.Seq2[agent.Slot, sensor.Sensor]
		err    error
	)
	switch agentName {
	case "vehicle":
		if layout, err = agent.VehicleLayout(version); err == nil && f.Vehicle != nil {
			seq = f.Vehicle.Sensors(layout)
		}
	case "tower":
		if layout, err = agent.TowerLayout(version); err == nil && f.Tower != nil {
			seq = f.Tower.Sensors(layout)
		}
	default:
		return nil, fmt.Errorf("slot %q: unknown agent %q", path, agentName)
	}
	if err != nil {
		return nil, err
	}
	if seq != nil {
		for slot, s := range seq {
			if slot.Path() == slotPath {
				return s, nil
			}
		}
	}
	for _, slot := range layout.Slots {
		if slot.Path() == slotPath {
			return nil, fmt.Errorf("slot %s is empty in frame %d", path, f.FrameID)
		}
	}
	return nil, fmt.Errorf("no slot %q in the %s layout", slotPath, agentName)
}

func (a *app) describeSensor(s sensor.Sensor) string {
	switch x := s.(type) {
	case *sensor.Camera:
		if x.Image == nil {
			return "camera, no image"
		}
		return fmt.Sprintf("camera %dx%d", x.Image.Width, x.Image.Height)
	case *sensor.Lidar:
		if x.Points == nil {
			return "lidar, no points"
		}
		schema := ""
		if x.Info != nil {
			schema = " " + x.Info.Schema.Name
		}
		return fmt.Sprintf("lidar %s points%s", humanize.Comma(int64(x.Points.Len())), schema)
	case *sensor.IMU:
		return fmt.Sprintf("imu %d samples", len(x.Motion))
	case *sensor.GNSS:
		return fmt.Sprintf("gnss %d fixes", len(x.Position))
	case *sensor.Dynamics:
		desc := fmt.Sprintf("dynamics %d velocity, %d heading samples", len(x.Velocity), len(x.Heading))
		if n := len(x.Velocity); n > 0 {
			desc += ", last " + a.cfg.Display.FormatSpeed(units.Magnitude(x.Velocity[n-1].LinearVelocity))
		}
		return desc
	}
	return s.Kind().String()
}

func newInfoCmd(a *app) *cobra.Command {
	var describe bool
	cmd := &cobra.Command{
		Use:   "info <record>",
		Short: "Print a record's header and time range",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := record.Open(a.fs, args[0])
			if err != nil {
				return err
			}
			return a.printInfo(cmd.OutOrStdout(), r, describe)
		},
	}
	cmd.Flags().BoolVar(&describe, "describe", false, "print full camera calibration")
	return cmd
}

func (a *app) printInfo(out io.Writer, r *record.Record, describe bool) error {
	h := r.Header
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "record id\t%s\n", h.RecordID)
	fmt.Fprintf(tw, "format version\t%d\n", h.Version)
	fmt.Fprintf(tw, "created\t%s\n", a.formatTs(payload.Timestamp(h.CreatedNs)))
	fmt.Fprintf(tw, "size\t%s\n", humanize.Bytes(uint64(r.Size())))
	fmt.Fprintf(tw, "frames\t%s\n", humanize.Comma(int64(r.FrameCount())))
	if n := r.FrameCount(); n > 0 {
		first, err := r.Frame(0)
		if err != nil {
			return err
		}
		last, err := r.Frame(n - 1)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "start\t%s\n", a.formatTs(first.Timestamp))
		fmt.Fprintf(tw, "end\t%s\n", a.formatTs(last.Timestamp))
		fmt.Fprintf(tw, "duration\t%s\n", last.Timestamp.Time().Sub(first.Timestamp.Time()))
	}
	if h.Vehicle != nil {
		fmt.Fprintf(tw, "vehicle\t%s\n", h.Vehicle.ModelName)
	}
	if h.Tower != nil {
		fmt.Fprintf(tw, "tower\t%s\n", h.Tower.ModelName)
	}
	fmt.Fprintf(tw, "slots\t%d\n", len(r.Names))
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, name := range r.Names {
		fmt.Fprintf(out, "  %s\n", name)
	}
	if !describe {
		return nil
	}
	for _, name := range r.Names {
		info, ok := h.Cameras[name]
		if !ok {
			continue
		}
		fmt.Fprintf(out, "\n%s\n", name)
		d := info.Describe()
		for _, k := range sensor.DescribeKeys(d) {
			fmt.Fprintf(out, "  %-20s %s\n", k, d[k])
		}
	}
	return nil
}

func newVerifyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <record|dir>...",
		Short: "Check every checksum and decode every frame",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := a.recordPaths(args)
			if err != nil {
				return err
			}
			results := make([]error, len(paths))
			g := new(errgroup.Group)
			g.SetLimit(a.cfg.Catalog.Workers)
			for i, path := range paths {
				g.Go(func() error {
					r, err := record.Open(a.fs, path)
					if err == nil {
						err = r.Verify()
					}
					results[i] = err
					return nil
				})
			}
			_ = g.Wait()

			failed := 0
			out := cmd.OutOrStdout()
			for i, path := range paths {
				if results[i] != nil {
					failed++
					fmt.Fprintf(out, "FAIL %s: %v\n", path, results[i])
					a.log.Warn("record failed verification", "path", path, "error", results[i])
					continue
				}
				fmt.Fprintf(out, "ok   %s\n", path)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d records failed verification", failed, len(paths))
			}
			return nil
		},
	}
}

func newFrameCmd(a *app) *cobra.Command {
	var sel frameSelector
	cmd := &cobra.Command{
		Use:   "frame <record>",
		Short: "Print the slots of one frame",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := record.Open(a.fs, args[0])
			if err != nil {
				return err
			}
			i, f, err := sel.read(r)
			if err != nil {
				return err
			}
			return a.printFrame(cmd.OutOrStdout(), i, f)
		},
	}
	sel.register(cmd)
	return cmd
}

func (a *app) printFrame(out io.Writer, index int, f *record.Frame) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "index\t%d\n", index)
	fmt.Fprintf(tw, "frame id\t%d\n", f.FrameID)
	fmt.Fprintf(tw, "timestamp\t%s\n", a.formatTs(f.Timestamp))
	version := f.Version
	if version == 0 {
		version = agent.CurrentVersion
	}
	vl, err := agent.VehicleLayout(version)
	if err != nil {
		return err
	}
	tl, err := agent.TowerLayout(version)
	if err != nil {
		return err
	}
	for _, group := range []struct {
		name   string
		layout agent.Layout
	}{{"vehicle", vl}, {"tower", tl}} {
		for _, slot := range group.layout.Slots {
			path := group.name + "." + slot.Path()
			s, err := sensorAt(f, path)
			if err != nil {
				fmt.Fprintf(tw, "%s\t-\n", path)
				continue
			}
			fmt.Fprintf(tw, "%s\t%s\n", path, a.describeSensor(s))
		}
	}
	if !f.IsComplete() {
		fmt.Fprintf(tw, "missing\t%d slots\n", len(f.Missing()))
	}
	return tw.Flush()
}
