package calib

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/fusion.record/internal/fsutil"
	"github.com/banshee-data/fusion.record/internal/payload"
	"github.com/banshee-data/fusion.record/internal/sensor"
	"github.com/banshee-data/fusion.record/internal/testutil"
)

const calibYAML = `
vehicle:
  model_name: test-car
  extrinsic: {xyz: [0, 0, 0], rpy: [0, 0, 0]}
  cameras:
    BACK_LEFT:
      model_name: cam-a
      width: 1920
      height: 1080
      distortion_type: plumb_bob
      camera_mtx: [[1000, 0, 960], [0, 1000, 540], [0, 0, 1]]
      rectification_mtx: [[1, 0, 0], [0, 1, 0], [0, 0, 1]]
      projection_mtx: [[1000, 0, 960, 0], [0, 1000, 540, 0], [0, 0, 1, 0]]
      roi: {x_offset: 0, y_offset: 0, width: 1920, height: 1080}
      extrinsic: {xyz: [1, 2, 3], rpy: [0, 0, 90], degrees: true}
  lidars:
    TOP:
      model_name: OS1-64
      metadata: meta/top.json
      extrinsic: {xyz: [0, 0, 1.8], rpy: [0, 0, 0]}
  imu:
    model_name: ins-1
    extrinsic: {xyz: [0, 0, 0.5], rpy: [0, 0, 0]}
  dynamics:
    velocity_source: can
    heading_source: ins
tower:
  lidars:
    VIEW_1:
      model_name: cube-1
      vertical_fov: 30
      horizontal_fov: 70
      frame_mode: COMBINE_UP_DOWN
      extrinsic: {xyz: [0, 0, 0], rpy: [0, 0, 0]}
  gnss:
    model_name: rtk
`

const ousterJSON = `{
  "beam_intrinsics": {
    "beam_altitude_angles": [2.0, 0.0, -2.0],
    "beam_azimuth_angles": [-3.1, -3.0, -2.9],
    "lidar_origin_to_beam_origin_mm": 15.806
  },
  "lidar_data_format": {"columns_per_frame": 1024, "pixels_per_column": 3},
  "config_params": {"phase_lock_offset": 180},
  "lidar_intrinsics": {
    "lidar_to_sensor_transform": [-1, 0, 0, 0, 0, -1, 0, 0, 0, 0, 1, 38.195, 0, 0, 0, 1]
  },
  "sensor_info": {"prod_line": "OS-1-64"}
}`

func writeFiles(t *testing.T, files map[string]string) *fsutil.MemoryFileSystem {
	t.Helper()
	fs := fsutil.NewMemoryFileSystem()
	require.NoError(t, fs.MkdirAll("/calib/meta", 0o755))
	for name, body := range files {
		require.NoError(t, fs.WriteFile(name, []byte(body), 0o644))
	}
	return fs
}

func TestLoad(t *testing.T) {
	fs := writeFiles(t, map[string]string{
		"/calib/calib.yaml":    calibYAML,
		"/calib/meta/top.json": ousterJSON,
	})

	c, err := Load(fs, "/calib/calib.yaml")
	require.NoError(t, err)

	require.NotNil(t, c.Vehicle)
	assert.Equal(t, "test-car", c.Vehicle.ModelName)
	assert.Equal(t, 4, c.VehicleSlot.Count())
	assert.Equal(t, 2, c.TowerSlot.Count())

	cam := c.VehicleSlot.Cameras["BACK_LEFT"]
	require.NotNil(t, cam)
	assert.Equal(t, "BACK_LEFT", cam.Name)
	assert.Equal(t, 1920, cam.Width)
	assert.Equal(t, 3, cam.ProjectionMtx.Rows)
	assert.Equal(t, 4, cam.ProjectionMtx.Cols)
	assert.Equal(t, []float64{1000, 0, 960, 0, 1000, 540, 0, 0, 1}, cam.CameraMtx.Data)
	assert.Nil(t, cam.DistortionMtx)
	assert.InDelta(t, math.Pi/2, cam.Extrinsic.RPY[2], 1e-12)
	assert.Equal(t, [3]float64{1, 2, 3}, cam.Extrinsic.XYZ)

	top := c.VehicleSlot.Lidars["TOP"]
	require.NotNil(t, top)
	assert.Equal(t, "OS1-64", top.ModelName, "explicit model name wins over prod_line")
	assert.Equal(t, payload.OusterSchema.Name, top.Schema.Name)
	assert.Equal(t, []float64{2, 0, -2}, top.BeamAltitudeAngles)
	assert.InDelta(t, 15.806, top.LidarOriginToBeamOriginMM, 1e-12)
	assert.Equal(t, 1024, top.HorizontalScanlines)
	assert.Equal(t, 3, top.VerticalScanlines)
	assert.Equal(t, 180, top.PhaseLockOffset)
	require.NotNil(t, top.LidarToSensorTransform)
	assert.InDelta(t, 38.195, top.LidarToSensorTransform.Dense().At(2, 3), 1e-12)

	assert.Equal(t, "can", c.VehicleSlot.Dynamics.VelocitySource)
	assert.Nil(t, c.VehicleSlot.GNSS)

	view := c.TowerSlot.Lidars["VIEW_1"]
	require.NotNil(t, view)
	assert.True(t, view.IsBlickfeld())
	assert.Equal(t, 70.0, view.HorizontalFOV)
	assert.Equal(t, "COMBINE_UP_DOWN", view.FrameMode)
	assert.Nil(t, c.TowerSlot.GNSS.Extrinsic)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name  string
		files map[string]string
	}{
		{"missing file", map[string]string{}},
		{"bad yaml", map[string]string{"/calib/calib.yaml": "vehicle: [\n"}},
		{"unknown camera", map[string]string{"/calib/calib.yaml": "vehicle:\n  cameras:\n    ROOF: {width: 1}\n"}},
		{"unknown tower lidar", map[string]string{"/calib/calib.yaml": "tower:\n  lidars:\n    TOP: {}\n"}},
		{"imu on tower", map[string]string{"/calib/calib.yaml": "tower:\n  imu: {model_name: x}\n"}},
		{"ragged matrix", map[string]string{"/calib/calib.yaml": "vehicle:\n  cameras:\n    BACK_LEFT:\n      camera_mtx: [[1, 0], [0]]\n"}},
		{"non-finite pose", map[string]string{"/calib/calib.yaml": "vehicle:\n  extrinsic: {xyz: [.nan, 0, 0]}\n"}},
		{"missing metadata", map[string]string{"/calib/calib.yaml": "vehicle:\n  lidars:\n    TOP: {metadata: nope.json}\n"}},
		{"metadata outside calibration dir", map[string]string{
			"/calib/calib.yaml": "vehicle:\n  lidars:\n    TOP: {metadata: ../top.json}\n",
			"/top.json":         `{}`,
		}},
		{"bad metadata", map[string]string{
			"/calib/calib.yaml":    "vehicle:\n  lidars:\n    TOP: {metadata: meta/top.json}\n",
			"/calib/meta/top.json": `{"beam_intrinsics": {"beam_altitude_angles": [1], "beam_azimuth_angles": []}}`,
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFiles(t, tt.files), "/calib/calib.yaml")
			assert.Error(t, err)
		})
	}
}

func TestParse_NoMetadataReader(t *testing.T) {
	_, err := Parse([]byte("vehicle:\n  lidars:\n    TOP: {metadata: top.json}\n"), nil)
	assert.Error(t, err)

	c, err := Parse([]byte("vehicle:\n  lidars:\n    TOP: {model_name: x}\n"), nil)
	require.NoError(t, err)
	assert.Equal(t, "x", c.VehicleSlot.Lidars["TOP"].ModelName)
}

func TestParseOusterMetadata(t *testing.T) {
	m, err := ParseOusterMetadata([]byte(ousterJSON))
	require.NoError(t, err)
	assert.Equal(t, "OS-1-64", m.SensorInfo.ProdLine)

	info := testutil.LidarInfo("TOP", sensor.Pose{})
	info.ModelName = ""
	m.ApplyTo(info)
	assert.Equal(t, "OS-1-64", info.ModelName)

	_, err = ParseOusterMetadata([]byte(`{"lidar_intrinsics": {"lidar_to_sensor_transform": [1, 2, 3]}}`))
	assert.Error(t, err)
	_, err = ParseOusterMetadata([]byte(`{"beam_intrinsics": {"beam_altitude_angles": [1, 2], "beam_azimuth_angles": [1, 2]},
		"lidar_data_format": {"pixels_per_column": 64}}`))
	assert.Error(t, err)
	_, err = ParseOusterMetadata([]byte(`not json`))
	assert.Error(t, err)
}

func TestApply(t *testing.T) {
	fs := writeFiles(t, map[string]string{
		"/calib/calib.yaml":    calibYAML,
		"/calib/meta/top.json": ousterJSON,
	})
	c, err := Load(fs, "/calib/calib.yaml")
	require.NoError(t, err)

	ts := payload.Timestamp(1_700_000_000_000_000_000)
	v := testutil.Vehicle(ts)
	frontLeft := v.Cameras.FrontLeft.Info
	c.ApplyVehicle(v)
	assert.Same(t, c.VehicleSlot.Cameras["BACK_LEFT"], v.Cameras.BackLeft.Info)
	assert.Same(t, frontLeft, v.Cameras.FrontLeft.Info, "uncalibrated slot keeps its info")
	assert.Same(t, c.VehicleSlot.Lidars["TOP"], v.Lidars.Top.Info)
	assert.Same(t, c.VehicleSlot.IMU, v.IMU.Info)
	assert.Same(t, c.VehicleSlot.Dynamics, v.Dynamics.Info)

	tw := testutil.Tower(ts)
	c.ApplyTower(tw)
	assert.Same(t, c.TowerSlot.Lidars["VIEW_1"], tw.Lidars.View1.Info)
	assert.Same(t, c.TowerSlot.GNSS, tw.GNSS.Info)

	c.ApplyVehicle(nil)
	c.ApplyTower(nil)
}
