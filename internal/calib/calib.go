// Package calib loads sensor calibration from YAML files.
//
// A calibration file describes the vehicle and the tower slot by slot. Lidar
// entries may point at the ROS driver metadata JSON an Ouster writes at
// start-up; the beam table is then read from there.
package calib

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/fusion.record/internal/agent"
	"github.com/banshee-data/fusion.record/internal/fsutil"
	"github.com/banshee-data/fusion.record/internal/monitoring"
	"github.com/banshee-data/fusion.record/internal/security"
	"github.com/banshee-data/fusion.record/internal/sensor"
	"github.com/banshee-data/fusion.record/internal/transform"
)

// File is the on-disk layout.
type File struct {
	Vehicle *AgentFile `yaml:"vehicle"`
	Tower   *AgentFile `yaml:"tower"`
}

// AgentFile is one agent's section. Camera and lidar keys are slot names,
// e.g. BACK_LEFT or UPPER_PLATFORM.
type AgentFile struct {
	ModelName string                `yaml:"model_name"`
	Extrinsic *PoseFile             `yaml:"extrinsic"`
	Cameras   map[string]CameraFile `yaml:"cameras"`
	Lidars    map[string]LidarFile  `yaml:"lidars"`
	IMU       *MountFile            `yaml:"imu"`
	GNSS      *MountFile            `yaml:"gnss"`
	Dynamics  *DynamicsFile         `yaml:"dynamics"`
}

// PoseFile is a pose in metres and radians, or degrees when Degrees is set.
type PoseFile struct {
	XYZ     [3]float64 `yaml:"xyz"`
	RPY     [3]float64 `yaml:"rpy"`
	Degrees bool       `yaml:"degrees"`
}

// MatrixFile is a matrix written row by row.
type MatrixFile [][]float64

type CameraFile struct {
	ModelName      string     `yaml:"model_name"`
	Width          int        `yaml:"width"`
	Height         int        `yaml:"height"`
	DistortionType string     `yaml:"distortion_type"`
	CameraMtx      MatrixFile `yaml:"camera_mtx"`
	DistortionMtx  MatrixFile `yaml:"distortion_mtx"`
	Rectification  MatrixFile `yaml:"rectification_mtx"`
	Projection     MatrixFile `yaml:"projection_mtx"`
	ROI            *struct {
		XOffset int `yaml:"x_offset"`
		YOffset int `yaml:"y_offset"`
		Width   int `yaml:"width"`
		Height  int `yaml:"height"`
	} `yaml:"roi"`
	CameraType   string    `yaml:"camera_type"`
	FocalLength  int       `yaml:"focal_length"`
	Aperture     int       `yaml:"aperture"`
	ExposureTime int       `yaml:"exposure_time"`
	Extrinsic    *PoseFile `yaml:"extrinsic"`
}

type LidarFile struct {
	ModelName string    `yaml:"model_name"`
	Extrinsic *PoseFile `yaml:"extrinsic"`
	// Metadata is an Ouster metadata JSON path, relative to the YAML file.
	Metadata string `yaml:"metadata"`

	VerticalFOV            float64 `yaml:"vertical_fov"`
	HorizontalFOV          float64 `yaml:"horizontal_fov"`
	HorizontalAngleSpacing float64 `yaml:"horizontal_angle_spacing"`
	FrameMode              string  `yaml:"frame_mode"`
	ScanPattern            string  `yaml:"scan_pattern"`
}

type MountFile struct {
	ModelName string    `yaml:"model_name"`
	Extrinsic *PoseFile `yaml:"extrinsic"`
}

type DynamicsFile struct {
	VelocitySource string `yaml:"velocity_source"`
	HeadingSource  string `yaml:"heading_source"`
}

// Calibration is the decoded file keyed by slot path without the agent
// prefix, e.g. "cameras.BACK_LEFT" or "imu".
type Calibration struct {
	Vehicle     *sensor.VehicleInformation
	Tower       *sensor.TowerInformation
	VehicleSlot Slots
	TowerSlot   Slots
}

// Slots holds the per-slot calibration of one agent.
type Slots struct {
	Cameras  map[string]*sensor.CameraInformation
	Lidars   map[string]*sensor.LidarInformation
	IMU      *sensor.IMUInformation
	GNSS     *sensor.GNSSInformation
	Dynamics *sensor.DynamicsInformation
}

// Count is the number of calibrated slots.
func (s Slots) Count() int {
	n := len(s.Cameras) + len(s.Lidars)
	if s.IMU != nil {
		n++
	}
	if s.GNSS != nil {
		n++
	}
	if s.Dynamics != nil {
		n++
	}
	return n
}

// Load reads and decodes a calibration file through fs.
func Load(fs fsutil.FileSystem, path string) (*Calibration, error) {
	data, err := fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read calibration %s: %w", path, err)
	}
	dir := filepath.Dir(path)
	c, err := Parse(data, func(name string) ([]byte, error) {
		resolved, err := security.ResolveWithin(dir, name)
		if err != nil {
			return nil, err
		}
		return fs.ReadFile(resolved)
	})
	if err != nil {
		return nil, fmt.Errorf("calibration %s: %w", path, err)
	}
	monitoring.Logf("calibration %s: %d vehicle slots, %d tower slots", path, c.VehicleSlot.Count(), c.TowerSlot.Count())
	return c, nil
}

// Parse decodes YAML. readMeta resolves lidar metadata paths; it may be nil
// when no lidar names one.
func Parse(data []byte, readMeta func(string) ([]byte, error)) (*Calibration, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	out := &Calibration{}
	if f.Vehicle != nil {
		l, err := agent.VehicleLayout(agent.CurrentVersion)
		if err != nil {
			return nil, err
		}
		slots, pose, err := f.Vehicle.build(l, readMeta)
		if err != nil {
			return nil, err
		}
		out.VehicleSlot = slots
		out.Vehicle = &sensor.VehicleInformation{ModelName: f.Vehicle.ModelName, Extrinsic: pose}
	}
	if f.Tower != nil {
		l, err := agent.TowerLayout(agent.CurrentVersion)
		if err != nil {
			return nil, err
		}
		slots, pose, err := f.Tower.build(l, readMeta)
		if err != nil {
			return nil, err
		}
		out.TowerSlot = slots
		out.Tower = &sensor.TowerInformation{ModelName: f.Tower.ModelName, Extrinsic: pose}
	}
	return out, nil
}

func hasSlot(l agent.Layout, group, name string) bool {
	return slices.ContainsFunc(l.Slots, func(s agent.Slot) bool {
		return s.Group == group && s.Name == name
	})
}

func (a *AgentFile) build(l agent.Layout, readMeta func(string) ([]byte, error)) (Slots, *sensor.Pose, error) {
	var out Slots
	pose, err := a.Extrinsic.pose(l.Agent)
	if err != nil {
		return out, nil, err
	}

	for name, cf := range a.Cameras {
		if !hasSlot(l, agent.GroupCameras, name) {
			return out, nil, fmt.Errorf("%s has no camera %q", l.Agent, name)
		}
		info, err := cf.info(name)
		if err != nil {
			return out, nil, fmt.Errorf("%s camera %s: %w", l.Agent, name, err)
		}
		if out.Cameras == nil {
			out.Cameras = make(map[string]*sensor.CameraInformation)
		}
		out.Cameras[name] = info
	}

	for name, lf := range a.Lidars {
		if !hasSlot(l, agent.GroupLidars, name) {
			return out, nil, fmt.Errorf("%s has no lidar %q", l.Agent, name)
		}
		info, err := lf.info(name, readMeta)
		if err != nil {
			return out, nil, fmt.Errorf("%s lidar %s: %w", l.Agent, name, err)
		}
		if out.Lidars == nil {
			out.Lidars = make(map[string]*sensor.LidarInformation)
		}
		out.Lidars[name] = info
	}

	if a.IMU != nil {
		if !hasSlot(l, agent.GroupIMU, "") {
			return out, nil, fmt.Errorf("%s has no imu", l.Agent)
		}
		p, err := a.IMU.Extrinsic.pose("imu")
		if err != nil {
			return out, nil, err
		}
		out.IMU = &sensor.IMUInformation{ModelName: a.IMU.ModelName, Extrinsic: p}
	}
	if a.GNSS != nil {
		p, err := a.GNSS.Extrinsic.pose("gnss")
		if err != nil {
			return out, nil, err
		}
		out.GNSS = &sensor.GNSSInformation{ModelName: a.GNSS.ModelName, Extrinsic: p}
	}
	if a.Dynamics != nil {
		if !hasSlot(l, agent.GroupDynamics, "") {
			return out, nil, fmt.Errorf("%s has no dynamics", l.Agent)
		}
		out.Dynamics = &sensor.DynamicsInformation{
			VelocitySource: a.Dynamics.VelocitySource,
			HeadingSource:  a.Dynamics.HeadingSource,
		}
	}
	return out, pose, nil
}

// pose converts and validates. A nil PoseFile is no extrinsic.
func (p *PoseFile) pose(what string) (*sensor.Pose, error) {
	if p == nil {
		return nil, nil
	}
	out := &sensor.Pose{XYZ: p.XYZ, RPY: p.RPY}
	if p.Degrees {
		for i := range out.RPY {
			out.RPY[i] *= math.Pi / 180
		}
	}
	if res := transform.ValidatePose(out); !res.Valid {
		return nil, fmt.Errorf("%s extrinsic: %s", what, strings.Join(res.Issues, "; "))
	}
	return out, nil
}

// matrix flattens rows. Ragged rows are an error.
func (m MatrixFile) matrix(what string) (*sensor.Matrix, error) {
	if len(m) == 0 {
		return nil, nil
	}
	cols := len(m[0])
	data := make([]float64, 0, len(m)*cols)
	for i, row := range m {
		if len(row) != cols {
			return nil, fmt.Errorf("%s row %d has %d values, want %d", what, i, len(row), cols)
		}
		data = append(data, row...)
	}
	if cols == 0 {
		return nil, fmt.Errorf("%s has empty rows", what)
	}
	return sensor.NewMatrix(len(m), cols, data), nil
}

func (c CameraFile) info(name string) (*sensor.CameraInformation, error) {
	info := &sensor.CameraInformation{
		Name:           name,
		ModelName:      c.ModelName,
		Width:          c.Width,
		Height:         c.Height,
		DistortionType: c.DistortionType,
		CameraType:     c.CameraType,
		FocalLength:    c.FocalLength,
		Aperture:       c.Aperture,
		ExposureTime:   c.ExposureTime,
	}
	var err error
	for _, m := range []struct {
		dst  **sensor.Matrix
		src  MatrixFile
		name string
	}{
		{&info.CameraMtx, c.CameraMtx, "camera_mtx"},
		{&info.DistortionMtx, c.DistortionMtx, "distortion_mtx"},
		{&info.RectificationMtx, c.Rectification, "rectification_mtx"},
		{&info.ProjectionMtx, c.Projection, "projection_mtx"},
	} {
		if *m.dst, err = m.src.matrix(m.name); err != nil {
			return nil, err
		}
	}
	if c.ROI != nil {
		info.ROI = &sensor.ROI{XOffset: c.ROI.XOffset, YOffset: c.ROI.YOffset, Width: c.ROI.Width, Height: c.ROI.Height}
	}
	if info.Extrinsic, err = c.Extrinsic.pose("camera"); err != nil {
		return nil, err
	}
	return info, nil
}

func (l LidarFile) info(name string, readMeta func(string) ([]byte, error)) (*sensor.LidarInformation, error) {
	pose, err := l.Extrinsic.pose("lidar")
	if err != nil {
		return nil, err
	}
	info := sensor.NewLidarInformation(name, l.ModelName, pose)
	if info.IsBlickfeld() {
		info.VerticalFOV = l.VerticalFOV
		info.HorizontalFOV = l.HorizontalFOV
		info.HorizontalAngleSpacing = l.HorizontalAngleSpacing
		info.FrameMode = l.FrameMode
		info.ScanPattern = l.ScanPattern
	}
	if l.Metadata == "" {
		return info, nil
	}
	if readMeta == nil {
		return nil, errors.New("metadata file given but no reader")
	}
	raw, err := readMeta(l.Metadata)
	if err != nil {
		return nil, fmt.Errorf("metadata: %w", err)
	}
	meta, err := ParseOusterMetadata(raw)
	if err != nil {
		return nil, fmt.Errorf("metadata %s: %w", l.Metadata, err)
	}
	meta.ApplyTo(info)
	return info, nil
}

// ApplyVehicle sets the calibration of every present vehicle sensor that has
// an entry. Sensors without an entry keep theirs.
func (c *Calibration) ApplyVehicle(v *agent.Vehicle) {
	if v == nil {
		return
	}
	for name, cam := range v.CameraSlots() {
		if info, ok := c.VehicleSlot.Cameras[name]; ok {
			cam.Info = info
		}
	}
	for name, li := range v.LidarSlots() {
		if info, ok := c.VehicleSlot.Lidars[name]; ok {
			li.Info = info
		}
	}
	if v.IMU != nil && c.VehicleSlot.IMU != nil {
		v.IMU.Info = c.VehicleSlot.IMU
	}
	if v.GNSS != nil && c.VehicleSlot.GNSS != nil {
		v.GNSS.Info = c.VehicleSlot.GNSS
	}
	if v.Dynamics != nil && c.VehicleSlot.Dynamics != nil {
		v.Dynamics.Info = c.VehicleSlot.Dynamics
	}
}

// ApplyTower is ApplyVehicle for the tower.
func (c *Calibration) ApplyTower(t *agent.Tower) {
	if t == nil {
		return
	}
	for name, cam := range t.CameraSlots() {
		if info, ok := c.TowerSlot.Cameras[name]; ok {
			cam.Info = info
		}
	}
	for name, li := range t.LidarSlots() {
		if info, ok := c.TowerSlot.Lidars[name]; ok {
			li.Info = info
		}
	}
	if t.GNSS != nil && c.TowerSlot.GNSS != nil {
		t.GNSS.Info = c.TowerSlot.GNSS
	}
}
