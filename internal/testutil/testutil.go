// Package testutil provides shared test utilities and fixtures.
//
// The fixtures build fully populated agents with small but valid payloads so
// codec and projection tests across packages exercise every slot.
package testutil

import (
	"errors"
	"testing"

	"github.com/banshee-data/fusion.record/internal/agent"
	"github.com/banshee-data/fusion.record/internal/payload"
	"github.com/banshee-data/fusion.record/internal/sensor"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// AssertErrorIs fails the test unless err matches target.
func AssertErrorIs(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("error = %v, want %v", err, target)
	}
}

// Fixture image size. Small enough to keep records tiny.
const (
	ImageWidth  = 8
	ImageHeight = 6
)

// CameraInfo returns pinhole calibration for an ImageWidth x ImageHeight
// camera with the principal point at the centre.
func CameraInfo(name string, extrinsic sensor.Pose) *sensor.CameraInformation {
	cx, cy := float64(ImageWidth)/2, float64(ImageHeight)/2
	return &sensor.CameraInformation{
		Name:             name,
		ModelName:        "fixture-cam",
		Width:            ImageWidth,
		Height:           ImageHeight,
		DistortionType:   "plumb_bob",
		CameraMtx:        sensor.NewMatrix(3, 3, []float64{4, 0, cx, 0, 4, cy, 0, 0, 1}),
		DistortionMtx:    sensor.NewMatrix(1, 5, []float64{0, 0, 0, 0, 0}),
		RectificationMtx: sensor.NewMatrix(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1}),
		ProjectionMtx:    sensor.NewMatrix(3, 4, []float64{4, 0, cx, 0, 0, 4, cy, 0, 0, 0, 1, 0}),
		ROI:              &sensor.ROI{Width: ImageWidth, Height: ImageHeight},
		Extrinsic:        &extrinsic,
	}
}

// LidarInfo returns calibration with the schema chosen from the name.
func LidarInfo(name string, extrinsic sensor.Pose) *sensor.LidarInformation {
	info := sensor.NewLidarInformation(name, "fixture-lidar", &extrinsic)
	if info.IsBlickfeld() {
		info.VerticalFOV, info.HorizontalFOV = 30, 70
		info.FrameMode, info.ScanPattern = "COMBINE_UP_DOWN", "basic"
	} else {
		info.BeamAltitudeAngles = []float64{2, 0, -2}
		info.BeamAzimuthAngles = []float64{0, 0, 0}
		info.VerticalScanlines, info.HorizontalScanlines = 3, 1024
		info.LidarToSensorTransform = sensor.NewMatrix(4, 4, []float64{
			-1, 0, 0, 0, 0, -1, 0, 0, 0, 0, 1, 38.195, 0, 0, 0, 1,
		})
	}
	return info
}

// Camera returns a camera whose image is a gradient seeded by ts.
func Camera(name string, ts payload.Timestamp) *sensor.Camera {
	img := payload.NewImage(ImageWidth, ImageHeight, ts)
	for y := 0; y < ImageHeight; y++ {
		for x := 0; x < ImageWidth; x++ {
			img.SetRGB(x, y, uint8(x*30), uint8(y*40), uint8(ts))
		}
	}
	return &sensor.Camera{Info: CameraInfo(name, sensor.Pose{}), Image: img}
}

// Lidar returns a lidar with n points along the x axis.
func Lidar(name string, ts payload.Timestamp, n int) *sensor.Lidar {
	info := LidarInfo(name, sensor.Pose{})
	pc := payload.NewPointCloud(info.Schema, ts, n)
	for i := 0; i < n; i++ {
		_ = pc.SetFloat(i, "x", float64(i+1))
		_ = pc.SetFloat(i, "z", 0.5)
	}
	return &sensor.Lidar{Info: info, Points: pc}
}

// GNSS returns a receiver with a single fix.
func GNSS(ts payload.Timestamp) *sensor.GNSS {
	return &sensor.GNSS{
		Info:     &sensor.GNSSInformation{ModelName: "fixture-gnss"},
		Position: []payload.Position{payload.NewPosition(ts, 49.0069, 8.4037, 115)},
	}
}

// Vehicle returns a vehicle with every slot populated.
func Vehicle(ts payload.Timestamp) *agent.Vehicle {
	return &agent.Vehicle{
		Cameras: agent.VehicleCameras{
			BackLeft:    Camera("BACK_LEFT", ts),
			FrontLeft:   Camera("FRONT_LEFT", ts),
			StereoLeft:  Camera("STEREO_LEFT", ts),
			StereoRight: Camera("STEREO_RIGHT", ts),
			FrontRight:  Camera("FRONT_RIGHT", ts),
			BackRight:   Camera("BACK_RIGHT", ts),
		},
		Lidars: agent.VehicleLidars{
			Left:  Lidar("LEFT", ts, 4),
			Top:   Lidar("TOP", ts, 8),
			Right: Lidar("RIGHT", ts, 4),
		},
		IMU: &sensor.IMU{
			Info:   &sensor.IMUInformation{ModelName: "fixture-imu"},
			Motion: []payload.Motion{{Timestamp: ts, LinearAcceleration: []float64{0, 0, 9.81}}},
		},
		GNSS: GNSS(ts),
		Dynamics: &sensor.Dynamics{
			Info:     &sensor.DynamicsInformation{VelocitySource: "odom", HeadingSource: "ins"},
			Velocity: []payload.Velocity{{Timestamp: ts, LinearVelocity: []float64{5, 0, 0}}},
			Heading:  []payload.Heading{{Timestamp: ts, Orientation: []float64{0, 0, 0, 1}}},
		},
	}
}

// Tower returns a tower with every slot populated.
func Tower(ts payload.Timestamp) *agent.Tower {
	return &agent.Tower{
		Cameras: agent.TowerCameras{
			View1: Camera("VIEW_1", ts),
			View2: Camera("VIEW_2", ts),
		},
		Lidars: agent.TowerLidars{
			View1:         Lidar("VIEW_1", ts, 5),
			View2:         Lidar("VIEW_2", ts, 5),
			UpperPlatform: Lidar("UPPER_PLATFORM", ts, 6),
		},
		GNSS: GNSS(ts),
	}
}
