package transform

import (
	"errors"
	"fmt"
	"strings"

	"github.com/banshee-data/fusion.record/internal/sensor"
)

// Default reference frames. Tower sensors are calibrated against the upper
// platform lidar, everything else against the vehicle's top lidar.
const (
	DefaultTowerMarker      = "view"
	DefaultTowerReference   = "lidar_upper_platform/os_sensor"
	DefaultVehicleReference = "lidar_top/os_sensor"
	INSFrame                = "ins"
)

// ErrNoExtrinsic is returned for a sensor without calibration.
var ErrNoExtrinsic = errors.New("sensor has no extrinsic calibration")

// Resolver turns sensor calibration into transforms towards the sensor's
// reference frame. The reference is picked by name: names containing
// TowerMarker (case-insensitive) belong to the tower.
type Resolver struct {
	TowerMarker      string
	TowerReference   string
	VehicleReference string
}

// DefaultResolver returns the resolver for the standard rig.
func DefaultResolver() Resolver {
	return Resolver{
		TowerMarker:      DefaultTowerMarker,
		TowerReference:   DefaultTowerReference,
		VehicleReference: DefaultVehicleReference,
	}
}

func (r Resolver) isTower(name string) bool {
	marker := r.TowerMarker
	if marker == "" {
		marker = DefaultTowerMarker
	}
	return strings.Contains(strings.ToLower(name), strings.ToLower(marker))
}

// Reference returns the reference frame for a sensor name.
func (r Resolver) Reference(name string) string {
	if r.isTower(name) {
		if r.TowerReference == "" {
			return DefaultTowerReference
		}
		return r.TowerReference
	}
	if r.VehicleReference == "" {
		return DefaultVehicleReference
	}
	return r.VehicleReference
}

// CameraFrame is the frame name of a camera.
func CameraFrame(name string) string { return "cam_" + name }

// LidarFrame is the frame name of a lidar. Tower lidars have no os_sensor
// sub-frame.
func (r Resolver) LidarFrame(name string) string {
	if r.isTower(name) {
		return "lidar_" + name
	}
	return "lidar_" + name + "/os_sensor"
}

// ForCamera returns the camera-to-reference transform.
func (r Resolver) ForCamera(info *sensor.CameraInformation) (Transform, error) {
	if info == nil || info.Extrinsic == nil {
		return Transform{}, fmt.Errorf("camera: %w", ErrNoExtrinsic)
	}
	return FromPose(CameraFrame(info.Name), r.Reference(info.Name), *info.Extrinsic), nil
}

// ForLidar returns the lidar-to-reference transform.
func (r Resolver) ForLidar(info *sensor.LidarInformation) (Transform, error) {
	if info == nil || info.Extrinsic == nil {
		return Transform{}, fmt.Errorf("lidar: %w", ErrNoExtrinsic)
	}
	return FromPose(r.LidarFrame(info.Name), r.Reference(info.Name), *info.Extrinsic), nil
}

// ForIMU returns the INS-to-reference transform of an IMU. IMUs are unnamed
// and always resolve to the vehicle reference.
func (r Resolver) ForIMU(info *sensor.IMUInformation) (Transform, error) {
	if info == nil || info.Extrinsic == nil {
		return Transform{}, fmt.Errorf("imu: %w", ErrNoExtrinsic)
	}
	return FromPose(INSFrame, r.Reference(""), *info.Extrinsic), nil
}

// ForGNSS returns the INS-to-reference transform of a GNSS receiver.
func (r Resolver) ForGNSS(info *sensor.GNSSInformation) (Transform, error) {
	if info == nil || info.Extrinsic == nil {
		return Transform{}, fmt.Errorf("gnss: %w", ErrNoExtrinsic)
	}
	return FromPose(INSFrame, r.Reference(""), *info.Extrinsic), nil
}

// For dispatches on the sensor type. Dynamics carry no extrinsic.
func (r Resolver) For(s sensor.Sensor) (Transform, error) {
	switch x := s.(type) {
	case *sensor.Camera:
		return r.ForCamera(x.Info)
	case *sensor.Lidar:
		return r.ForLidar(x.Info)
	case *sensor.IMU:
		return r.ForIMU(x.Info)
	case *sensor.GNSS:
		return r.ForGNSS(x.Info)
	default:
		return Transform{}, fmt.Errorf("%T: %w", s, ErrNoExtrinsic)
	}
}
