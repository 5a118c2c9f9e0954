package agent

import (
	"iter"

	"github.com/banshee-data/fusion.record/internal/sensor"
)

// VehicleCameras are the six vehicle cameras, in encode order.
type VehicleCameras struct {
	BackLeft    *sensor.Camera
	FrontLeft   *sensor.Camera
	StereoLeft  *sensor.Camera
	StereoRight *sensor.Camera
	FrontRight  *sensor.Camera
	BackRight   *sensor.Camera
}

// VehicleLidars are the three roof lidars.
type VehicleLidars struct {
	Left  *sensor.Lidar
	Top   *sensor.Lidar
	Right *sensor.Lidar
}

// Vehicle is the moving platform. A nil field is an absent sensor.
type Vehicle struct {
	Cameras  VehicleCameras
	Lidars   VehicleLidars
	IMU      *sensor.IMU
	GNSS     *sensor.GNSS
	Dynamics *sensor.Dynamics
}

func (v *Vehicle) camera(name string) **sensor.Camera {
	switch name {
	case "BACK_LEFT":
		return &v.Cameras.BackLeft
	case "FRONT_LEFT":
		return &v.Cameras.FrontLeft
	case "STEREO_LEFT":
		return &v.Cameras.StereoLeft
	case "STEREO_RIGHT":
		return &v.Cameras.StereoRight
	case "FRONT_RIGHT":
		return &v.Cameras.FrontRight
	case "BACK_RIGHT":
		return &v.Cameras.BackRight
	}
	return nil
}

func (v *Vehicle) lidar(name string) **sensor.Lidar {
	switch name {
	case "LEFT":
		return &v.Lidars.Left
	case "TOP":
		return &v.Lidars.Top
	case "RIGHT":
		return &v.Lidars.Right
	}
	return nil
}

func (v *Vehicle) get(slot Slot) sensor.Sensor {
	switch slot.Kind {
	case sensor.KindCamera:
		if p := v.camera(slot.Name); p != nil && *p != nil {
			return *p
		}
	case sensor.KindLidar:
		if p := v.lidar(slot.Name); p != nil && *p != nil {
			return *p
		}
	case sensor.KindIMU:
		if v.IMU != nil {
			return v.IMU
		}
	case sensor.KindGNSS:
		if v.GNSS != nil {
			return v.GNSS
		}
	case sensor.KindDynamics:
		if v.Dynamics != nil {
			return v.Dynamics
		}
	}
	return nil
}

func (v *Vehicle) set(slot Slot, s sensor.Sensor) error {
	switch x := s.(type) {
	case *sensor.Camera:
		if p := v.camera(slot.Name); p != nil {
			*p = x
			return nil
		}
	case *sensor.Lidar:
		if p := v.lidar(slot.Name); p != nil {
			*p = x
			return nil
		}
	case *sensor.IMU:
		v.IMU = x
		return nil
	case *sensor.GNSS:
		v.GNSS = x
		return nil
	case *sensor.Dynamics:
		v.Dynamics = x
		return nil
	}
	return wrongKind("vehicle", slot, s)
}

// Encode writes one block per slot of the layout for version.
func (v *Vehicle) Encode(version uint32) ([]byte, error) {
	l, err := VehicleLayout(version)
	if err != nil {
		return nil, err
	}
	return encodeSlots(v, l)
}

// DecodeVehicle reverses Encode.
func DecodeVehicle(b []byte, version uint32) (*Vehicle, error) {
	l, err := VehicleLayout(version)
	if err != nil {
		return nil, err
	}
	v := &Vehicle{}
	if err := decodeSlots(v, l, b); err != nil {
		return nil, err
	}
	return v, nil
}

// Missing lists the paths of empty slots in layout order.
func (v *Vehicle) Missing(l Layout) []string {
	return missing(v, l)
}

// Sensors yields the populated slots in layout order.
func (v *Vehicle) Sensors(l Layout) iter.Seq2[Slot, sensor.Sensor] {
	return present(v, l)
}

// CameraSlots yields (slot name, camera) for every populated camera.
func (v *Vehicle) CameraSlots() iter.Seq2[string, *sensor.Camera] {
	return camerasOf(v, vehicleLayouts[CurrentVersion])
}

// LidarSlots yields (slot name, lidar) for every populated lidar.
func (v *Vehicle) LidarSlots() iter.Seq2[string, *sensor.Lidar] {
	return lidarsOf(v, vehicleLayouts[CurrentVersion])
}
