// Package report renders a self-contained HTML overview of a record with
// go-echarts: frame sizes, capture intervals, slot coverage and the GNSS
// tracks of both agents.
package report

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/fusion.record/internal/agent"
	"github.com/banshee-data/fusion.record/internal/payload"
	"github.com/banshee-data/fusion.record/internal/record"
)

// Summary is what the report shows, gathered in one pass over a record.
type Summary struct {
	RecordID string
	Start    payload.Timestamp
	End      payload.Timestamp

	FrameIDs   []uint64
	FrameBytes []int
	// IntervalsMs[i] is the gap between frame i and frame i+1.
	IntervalsMs []float64
	Incomplete  int

	// Slots lists every slot path in layout order; SlotFrames counts the
	// frames each was present in.
	Slots      []string
	SlotFrames map[string]int

	VehicleTrack []payload.Position
	TowerTrack   []payload.Position
}

// Frames is the number of frames summarized.
func (s *Summary) Frames() int { return len(s.FrameIDs) }

func allSlots() ([]string, error) {
	vl, err := agent.VehicleLayout(agent.CurrentVersion)
	if err != nil {
		return nil, err
	}
	tl, err := agent.TowerLayout(agent.CurrentVersion)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, s := range vl.Slots {
		out = append(out, "vehicle."+s.Path())
	}
	for _, s := range tl.Slots {
		out = append(out, "tower."+s.Path())
	}
	return out, nil
}

// Summarize decodes every frame of r. Any corrupt frame fails the summary.
func Summarize(r *record.Record) (*Summary, error) {
	slots, err := allSlots()
	if err != nil {
		return nil, err
	}
	s := &Summary{
		RecordID:   r.Header.RecordID.String(),
		Slots:      slots,
		SlotFrames: make(map[string]int, len(slots)),
	}
	i := 0
	for f, err := range r.Frames() {
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
		n, err := r.FrameLength(i)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			s.Start = f.Timestamp
		} else {
			s.IntervalsMs = append(s.IntervalsMs, float64(f.Timestamp-s.End)/1e6)
		}
		s.End = f.Timestamp
		s.FrameIDs = append(s.FrameIDs, f.FrameID)
		s.FrameBytes = append(s.FrameBytes, n)

		missing := make(map[string]bool)
		for _, m := range f.Missing() {
			missing[m] = true
		}
		if len(missing) > 0 {
			s.Incomplete++
		}
		for _, slot := range slots {
			if !missing[slot] {
				s.SlotFrames[slot]++
			}
		}

		if f.Vehicle != nil && f.Vehicle.GNSS != nil {
			s.VehicleTrack = append(s.VehicleTrack, f.Vehicle.GNSS.Position...)
		}
		if f.Tower != nil && f.Tower.GNSS != nil {
			s.TowerTrack = append(s.TowerTrack, f.Tower.GNSS.Position...)
		}
		i++
	}
	return s, nil
}

// Options tweak rendering.
type Options struct {
	// AssetsHost overrides where the echarts scripts load from.
	AssetsHost string
	Theme      string
}

func (o Options) init(title, height string) opts.Initialization {
	in := opts.Initialization{PageTitle: title, Width: "100%", Height: height, Theme: o.Theme}
	if o.AssetsHost != "" {
		in.AssetsHost = o.AssetsHost
	}
	return in
}

func frameAxis(s *Summary) []string {
	x := make([]string, len(s.FrameIDs))
	for i, id := range s.FrameIDs {
		x[i] = fmt.Sprint(id)
	}
	return x
}

func (s *Summary) sizeChart(o Options) *charts.Bar {
	data := make([]opts.BarData, len(s.FrameBytes))
	for i, n := range s.FrameBytes {
		data[i] = opts.BarData{Value: n}
	}
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(o.init("Frame sizes", "420px")),
		charts.WithTitleOpts(opts.Title{Title: "Frame sizes", Subtitle: fmt.Sprintf("record=%s frames=%d", s.RecordID, s.Frames())}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "frame id", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "bytes"}),
	)
	bar.SetXAxis(frameAxis(s)).AddSeries("bytes", data)
	return bar
}

func (s *Summary) intervalChart(o Options) *charts.Line {
	data := make([]opts.LineData, len(s.IntervalsMs))
	for i, ms := range s.IntervalsMs {
		data[i] = opts.LineData{Value: ms}
	}
	x := frameAxis(s)
	if len(x) > 0 {
		x = x[1:]
	}
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(o.init("Frame intervals", "420px")),
		charts.WithTitleOpts(opts.Title{Title: "Frame intervals", Subtitle: fmt.Sprintf("%s to %s", s.Start, s.End)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "frame id", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "ms"}),
	)
	line.SetXAxis(x).AddSeries("interval", data)
	return line
}

func (s *Summary) coverageChart(o Options) *charts.Bar {
	data := make([]opts.BarData, len(s.Slots))
	for i, slot := range s.Slots {
		data[i] = opts.BarData{Value: s.SlotFrames[slot]}
	}
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(o.init("Slot coverage", "520px")),
		charts.WithTitleOpts(opts.Title{Title: "Slot coverage", Subtitle: fmt.Sprintf("incomplete frames=%d", s.Incomplete)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{AxisLabel: &opts.AxisLabel{Rotate: 45, Interval: "0"}}),
		charts.WithYAxisOpts(opts.YAxis{Name: "frames", Max: s.Frames()}),
	)
	bar.SetXAxis(s.Slots).AddSeries("present", data,
		charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
	)
	return bar
}

func track(ps []payload.Position) []opts.ScatterData {
	out := make([]opts.ScatterData, len(ps))
	for i, p := range ps {
		out[i] = opts.ScatterData{Value: []interface{}{p.Longitude, p.Latitude, p.Timestamp.String()}}
	}
	return out
}

// trackBounds returns lon min/max and lat min/max over both tracks, padded
// so a stationary agent still gets a visible window.
func (s *Summary) trackBounds() ([4]float64, bool) {
	const pad = 1e-4
	var b [4]float64
	ok := false
	for _, ps := range [][]payload.Position{s.VehicleTrack, s.TowerTrack} {
		for _, p := range ps {
			if !ok {
				b = [4]float64{p.Longitude, p.Longitude, p.Latitude, p.Latitude}
				ok = true
				continue
			}
			b[0], b[1] = min(b[0], p.Longitude), max(b[1], p.Longitude)
			b[2], b[3] = min(b[2], p.Latitude), max(b[3], p.Latitude)
		}
	}
	b[0], b[1], b[2], b[3] = b[0]-pad, b[1]+pad, b[2]-pad, b[3]+pad
	return b, ok
}

func (s *Summary) trackChart(o Options) *charts.Scatter {
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(o.init("GNSS track", "720px")),
		charts.WithTitleOpts(opts.Title{Title: "GNSS track", Subtitle: fmt.Sprintf("vehicle fixes=%d tower fixes=%d", len(s.VehicleTrack), len(s.TowerTrack))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	if b, ok := s.trackBounds(); ok {
		scatter.SetGlobalOptions(
			charts.WithXAxisOpts(opts.XAxis{Min: b[0], Max: b[1], Name: "longitude", NameLocation: "middle", NameGap: 25}),
			charts.WithYAxisOpts(opts.YAxis{Min: b[2], Max: b[3], Name: "latitude", NameLocation: "middle", NameGap: 40}),
		)
	}
	scatter.AddSeries("vehicle", track(s.VehicleTrack), charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}))
	scatter.AddSeries("tower", track(s.TowerTrack), charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 12}))
	return scatter
}

// Render writes the report page.
func Render(w io.Writer, s *Summary, o Options) error {
	page := components.NewPage()
	page.PageTitle = "Record " + s.RecordID
	if o.AssetsHost != "" {
		page.SetAssetsHost(o.AssetsHost)
	}
	page.AddCharts(s.sizeChart(o), s.intervalChart(o), s.coverageChart(o), s.trackChart(o))
	if err := page.Render(w); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return nil
}
