// Package synth generates synthetic records for demos and tests.
//
// The vehicle drives a circle around a fixed tower. Lidar sweeps are random
// discs in each lidar's own frame, so projecting them exercises real
// extrinsics rather than a flat identity setup.
package synth

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/fusion.record/internal/agent"
	"github.com/banshee-data/fusion.record/internal/calib"
	"github.com/banshee-data/fusion.record/internal/fsutil"
	"github.com/banshee-data/fusion.record/internal/monitoring"
	"github.com/banshee-data/fusion.record/internal/payload"
	"github.com/banshee-data/fusion.record/internal/record"
	"github.com/banshee-data/fusion.record/internal/sensor"
	"github.com/banshee-data/fusion.record/internal/timeutil"
)

const metresPerDegree = 111320.0

// Config controls the generated scene.
type Config struct {
	FrameRate      float64 // frames per second
	PointsPerLidar int
	ImageWidth     int
	ImageHeight    int
	AreaRadius     float64 // metres, radius of each lidar's point disc
	TrackRadius    float64 // metres, radius of the vehicle's circular path
	SpeedMPS       float64
	OriginLat      float64
	OriginLon      float64
	OriginAlt      float64
	Tower          bool
	Seed           int64
}

// DefaultConfig is a small scene: ten frames a second, 2000 points per lidar
// and VGA images.
func DefaultConfig() Config {
	return Config{
		FrameRate:      10,
		PointsPerLidar: 2000,
		ImageWidth:     640,
		ImageHeight:    480,
		AreaRadius:     30,
		TrackRadius:    20,
		SpeedMPS:       5,
		OriginLat:      49.0069,
		OriginLon:      8.4037,
		OriginAlt:      115,
		Tower:          true,
		Seed:           1,
	}
}

// Generator produces consecutive frames. It is not safe for concurrent use.
type Generator struct {
	cfg     Config
	rng     *rand.Rand
	calib   *calib.Calibration
	startTs payload.Timestamp
	frameID uint64
}

// NewGenerator starts the scene at the clock's current time.
func NewGenerator(cfg Config, clock timeutil.Clock) *Generator {
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = DefaultConfig().FrameRate
	}
	return &Generator{
		cfg:     cfg,
		rng:     rand.New(rand.NewSource(cfg.Seed)),
		startTs: timeutil.NowTimestamp(clock),
	}
}

// WithCalibration overrides the built-in calibration for every slot c has an
// entry for.
func (g *Generator) WithCalibration(c *calib.Calibration) *Generator {
	g.calib = c
	return g
}

// Period is the time between frames.
func (g *Generator) Period() time.Duration {
	return time.Duration(float64(time.Second) / g.cfg.FrameRate)
}

// NextFrame generates the next frame.
func (g *Generator) NextFrame() *record.Frame {
	id := g.frameID
	g.frameID++
	ts := g.startTs + payload.Timestamp(int64(id)*int64(g.Period()))
	elapsed := float64(id) / g.cfg.FrameRate

	f := &record.Frame{
		FrameID:   id,
		Timestamp: ts,
		Version:   agent.CurrentVersion,
		Vehicle:   g.vehicle(ts, elapsed),
	}
	if g.cfg.Tower {
		f.Tower = g.tower(ts)
	}
	if g.calib != nil {
		g.calib.ApplyVehicle(f.Vehicle)
		g.calib.ApplyTower(f.Tower)
		g.fitImages(f)
	}
	return f
}

// fitImages repaints images whose camera calibration changed the resolution.
func (g *Generator) fitImages(f *record.Frame) {
	fit := func(cam *sensor.Camera) {
		if cam.Info == nil || cam.Image == nil {
			return
		}
		if cam.Image.Width != cam.Info.Width || cam.Image.Height != cam.Info.Height {
			cam.Image = g.image(cam.Info.Width, cam.Info.Height, cam.Image.Timestamp)
		}
	}
	if f.Vehicle != nil {
		for _, cam := range f.Vehicle.CameraSlots() {
			fit(cam)
		}
	}
	if f.Tower != nil {
		for _, cam := range f.Tower.CameraSlots() {
			fit(cam)
		}
	}
}

// Record generates n frames into a new writer. The record id is drawn from
// the generator's seed so equal configs give equal bytes.
func (g *Generator) Record(n int) (*record.Writer, error) {
	id, err := uuid.NewRandomFromReader(g.rng)
	if err != nil {
		return nil, fmt.Errorf("record id: %w", err)
	}
	h := record.NewHeader(id, int64(g.startTs))
	if g.calib != nil {
		h.Vehicle = g.calib.Vehicle
		h.Tower = g.calib.Tower
	}
	w := record.NewWriter(h)
	for i := 0; i < n; i++ {
		if err := w.Append(g.NextFrame()); err != nil {
			return nil, err
		}
	}
	return w, nil
}

// WriteRecord generates n frames and writes them to path.
func WriteRecord(fs fsutil.FileSystem, path string, cfg Config, clock timeutil.Clock, c *calib.Calibration, n int) error {
	g := NewGenerator(cfg, clock)
	if c != nil {
		g.WithCalibration(c)
	}
	w, err := g.Record(n)
	if err != nil {
		return err
	}
	if err := w.WriteFile(fs, path); err != nil {
		return err
	}
	monitoring.Logf("synth: wrote %d frames to %s", n, path)
	return nil
}

// opticalPose is the pose of a camera at xyz looking along heading (radians,
// counter-clockwise from +x) with the usual optical axes: z forward, x right,
// y down.
func opticalPose(x, y, z, heading float64) sensor.Pose {
	return sensor.Pose{XYZ: [3]float64{x, y, z}, RPY: [3]float64{-math.Pi / 2, 0, heading - math.Pi/2}}
}

func (g *Generator) cameraInfo(name string, pose sensor.Pose) *sensor.CameraInformation {
	w, h := g.cfg.ImageWidth, g.cfg.ImageHeight
	fx := float64(w) / 2
	cx, cy := float64(w)/2, float64(h)/2
	return &sensor.CameraInformation{
		Name:             name,
		ModelName:        "synthetic-pinhole",
		Width:            w,
		Height:           h,
		DistortionType:   "plumb_bob",
		CameraMtx:        sensor.NewMatrix(3, 3, []float64{fx, 0, cx, 0, fx, cy, 0, 0, 1}),
		DistortionMtx:    sensor.NewMatrix(1, 5, []float64{0, 0, 0, 0, 0}),
		RectificationMtx: sensor.NewMatrix(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1}),
		ProjectionMtx:    sensor.NewMatrix(3, 4, []float64{fx, 0, cx, 0, 0, fx, cy, 0, 0, 0, 1, 0}),
		ROI:              &sensor.ROI{Width: w, Height: h},
		Extrinsic:        &pose,
	}
}

func (g *Generator) camera(name string, pose sensor.Pose, ts payload.Timestamp) *sensor.Camera {
	img := g.image(g.cfg.ImageWidth, g.cfg.ImageHeight, ts)
	return &sensor.Camera{Info: g.cameraInfo(name, pose), Image: img}
}

func (g *Generator) image(w, h int, ts payload.Timestamp) *payload.Image {
	img := payload.NewImage(w, h, ts)
	shift := int(ts / payload.Timestamp(time.Millisecond))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGB(x, y, uint8(x+shift), uint8(y), uint8(x^y))
		}
	}
	return img
}

func (g *Generator) lidar(name string, pose sensor.Pose, ts payload.Timestamp) *sensor.Lidar {
	info := sensor.NewLidarInformation(name, "synthetic", &pose)
	if info.IsBlickfeld() {
		info.VerticalFOV, info.HorizontalFOV = 30, 70
		info.FrameMode, info.ScanPattern = "COMBINE_UP_DOWN", "basic"
	} else {
		info.ModelName = "synthetic-os"
		info.VerticalScanlines, info.HorizontalScanlines = 64, 1024
	}

	n := g.cfg.PointsPerLidar
	pc := payload.NewPointCloud(info.Schema, ts, n)
	for i := 0; i < n; i++ {
		angle := g.rng.Float64() * 2 * math.Pi
		r := math.Sqrt(g.rng.Float64()) * g.cfg.AreaRadius
		x, y := r*math.Cos(angle), r*math.Sin(angle)
		z := -pose.XYZ[2] + g.rng.Float64()*0.2 - 0.1
		if g.rng.Float64() < 0.1 {
			// Objects standing on the ground.
			z = -pose.XYZ[2] + g.rng.Float64()*2
		}
		dist := math.Sqrt(x*x + y*y + z*z)
		intensity := math.Max(50, 200-dist*3) + float64(g.rng.Intn(30))

		_ = pc.SetFloat(i, "x", x)
		_ = pc.SetFloat(i, "y", y)
		_ = pc.SetFloat(i, "z", z)
		_ = pc.SetFloat(i, "intensity", intensity)
		if info.IsBlickfeld() {
			_ = pc.SetFloat(i, "range", dist)
			_ = pc.SetFloat(i, "point_id", float64(i))
		} else {
			_ = pc.SetFloat(i, "range", dist*1000)
			_ = pc.SetFloat(i, "ring", float64(i%info.VerticalScanlines))
		}
	}
	return &sensor.Lidar{Info: info, Points: pc}
}

// position is the vehicle's place on its circle.
func (g *Generator) position(elapsed float64) (x, y, heading float64) {
	angle := elapsed * g.cfg.SpeedMPS / g.cfg.TrackRadius
	x = g.cfg.TrackRadius * math.Cos(angle)
	y = g.cfg.TrackRadius * math.Sin(angle)
	return x, y, angle + math.Pi/2
}

func (g *Generator) fix(ts payload.Timestamp, x, y float64) payload.Position {
	lat := g.cfg.OriginLat + y/metresPerDegree
	lon := g.cfg.OriginLon + x/(metresPerDegree*math.Cos(g.cfg.OriginLat*math.Pi/180))
	p := payload.NewPosition(ts, lat, lon, g.cfg.OriginAlt)
	p.Status = "FIX"
	return p
}

// yawQuaternion is [x y z w] for a rotation about z.
func yawQuaternion(yaw float64) []float64 {
	return []float64{0, 0, math.Sin(yaw / 2), math.Cos(yaw / 2)}
}

func (g *Generator) vehicle(ts payload.Timestamp, elapsed float64) *agent.Vehicle {
	x, y, heading := g.position(elapsed)
	vx := -g.cfg.SpeedMPS * math.Sin(heading-math.Pi/2)
	vy := g.cfg.SpeedMPS * math.Cos(heading-math.Pi/2)
	yawRate := g.cfg.SpeedMPS / g.cfg.TrackRadius
	deg := math.Pi / 180

	return &agent.Vehicle{
		Cameras: agent.VehicleCameras{
			BackLeft:    g.camera("BACK_LEFT", opticalPose(-0.5, 0.9, 1.5, 150*deg), ts),
			FrontLeft:   g.camera("FRONT_LEFT", opticalPose(1.5, 0.9, 1.5, 30*deg), ts),
			StereoLeft:  g.camera("STEREO_LEFT", opticalPose(1.2, 0.25, 1.6, 0), ts),
			StereoRight: g.camera("STEREO_RIGHT", opticalPose(1.2, -0.25, 1.6, 0), ts),
			FrontRight:  g.camera("FRONT_RIGHT", opticalPose(1.5, -0.9, 1.5, -30*deg), ts),
			BackRight:   g.camera("BACK_RIGHT", opticalPose(-0.5, -0.9, 1.5, -150*deg), ts),
		},
		Lidars: agent.VehicleLidars{
			Left:  g.lidar("LEFT", sensor.Pose{XYZ: [3]float64{0.5, 0.8, 1.5}, RPY: [3]float64{0, 0, 90 * deg}}, ts),
			Top:   g.lidar("TOP", sensor.Pose{XYZ: [3]float64{0.5, 0, 1.8}}, ts),
			Right: g.lidar("RIGHT", sensor.Pose{XYZ: [3]float64{0.5, -0.8, 1.5}, RPY: [3]float64{0, 0, -90 * deg}}, ts),
		},
		IMU: &sensor.IMU{
			Info: &sensor.IMUInformation{ModelName: "synthetic-ins", Extrinsic: &sensor.Pose{}},
			Motion: []payload.Motion{{
				Timestamp:          ts,
				Orientation:        yawQuaternion(heading),
				AngularVelocity:    []float64{0, 0, yawRate},
				LinearAcceleration: []float64{-g.cfg.SpeedMPS * yawRate, 0, 9.81},
			}},
		},
		GNSS: &sensor.GNSS{
			Info:     &sensor.GNSSInformation{ModelName: "synthetic-gnss", Extrinsic: &sensor.Pose{}},
			Position: []payload.Position{g.fix(ts, x, y)},
		},
		Dynamics: &sensor.Dynamics{
			Info:     &sensor.DynamicsInformation{VelocitySource: "synthetic", HeadingSource: "synthetic"},
			Velocity: []payload.Velocity{{Timestamp: ts, LinearVelocity: []float64{vx, vy, 0}, AngularVelocity: []float64{0, 0, yawRate}}},
			Heading:  []payload.Heading{{Timestamp: ts, Orientation: yawQuaternion(heading)}},
		},
	}
}

// tower stands at the circle's centre and looks east.
func (g *Generator) tower(ts payload.Timestamp) *agent.Tower {
	deg := math.Pi / 180
	return &agent.Tower{
		Cameras: agent.TowerCameras{
			View1: g.camera("VIEW_1", opticalPose(0, 0.5, 6, -20*deg), ts),
			View2: g.camera("VIEW_2", opticalPose(0, -0.5, 6, 20*deg), ts),
		},
		Lidars: agent.TowerLidars{
			View1:         g.lidar("VIEW_1", sensor.Pose{XYZ: [3]float64{0, 0.5, 6}, RPY: [3]float64{0, 15 * deg, -20 * deg}}, ts),
			View2:         g.lidar("VIEW_2", sensor.Pose{XYZ: [3]float64{0, -0.5, 6}, RPY: [3]float64{0, 15 * deg, 20 * deg}}, ts),
			UpperPlatform: g.lidar("UPPER_PLATFORM", sensor.Pose{XYZ: [3]float64{0, 0, 8}}, ts),
		},
		GNSS: &sensor.GNSS{
			Info:     &sensor.GNSSInformation{ModelName: "synthetic-gnss", Extrinsic: &sensor.Pose{}},
			Position: []payload.Position{g.fix(ts, 0, 0)},
		},
	}
}
