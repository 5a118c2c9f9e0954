package agent

import (
	"iter"

	"github.com/banshee-data/fusion.record/internal/sensor"
)

// TowerCameras are the two infrastructure cameras.
type TowerCameras struct {
	View1 *sensor.Camera
	View2 *sensor.Camera
}

// TowerLidars are the two Blickfeld view lidars and the Ouster on the upper
// platform.
type TowerLidars struct {
	View1         *sensor.Lidar
	View2         *sensor.Lidar
	UpperPlatform *sensor.Lidar
}

// Tower is the static roadside platform.
type Tower struct {
	Cameras TowerCameras
	Lidars  TowerLidars
	GNSS    *sensor.GNSS
}

func (t *Tower) camera(name string) **sensor.Camera {
	switch name {
	case "VIEW_1":
		return &t.Cameras.View1
	case "VIEW_2":
		return &t.Cameras.View2
	}
	return nil
}

func (t *Tower) lidar(name string) **sensor.Lidar {
	switch name {
	case "VIEW_1":
		return &t.Lidars.View1
	case "VIEW_2":
		return &t.Lidars.View2
	case "UPPER_PLATFORM":
		return &t.Lidars.UpperPlatform
	}
	return nil
}

func (t *Tower) get(slot Slot) sensor.Sensor {
	switch slot.Kind {
	case sensor.KindCamera:
		if p := t.camera(slot.Name); p != nil && *p != nil {
			return *p
		}
	case sensor.KindLidar:
		if p := t.lidar(slot.Name); p != nil && *p != nil {
			return *p
		}
	case sensor.KindGNSS:
		if t.GNSS != nil {
			return t.GNSS
		}
	}
	return nil
}

func (t *Tower) set(slot Slot, s sensor.Sensor) error {
	switch x := s.(type) {
	case *sensor.Camera:
		if p := t.camera(slot.Name); p != nil {
			*p = x
			return nil
		}
	case *sensor.Lidar:
		if p := t.lidar(slot.Name); p != nil {
			*p = x
			return nil
		}
	case *sensor.GNSS:
		t.GNSS = x
		return nil
	}
	return wrongKind("tower", slot, s)
}

// Encode writes one block per slot of the layout for version.
func (t *Tower) Encode(version uint32) ([]byte, error) {
	l, err := TowerLayout(version)
	if err != nil {
		return nil, err
	}
	return encodeSlots(t, l)
}

// DecodeTower reverses Encode.
func DecodeTower(b []byte, version uint32) (*Tower, error) {
	l, err := TowerLayout(version)
	if err != nil {
		return nil, err
	}
	t := &Tower{}
	if err := decodeSlots(t, l, b); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Tower) Missing(l Layout) []string {
	return missing(t, l)
}

func (t *Tower) Sensors(l Layout) iter.Seq2[Slot, sensor.Sensor] {
	return present(t, l)
}

func (t *Tower) CameraSlots() iter.Seq2[string, *sensor.Camera] {
	return camerasOf(t, towerLayouts[CurrentVersion])
}

func (t *Tower) LidarSlots() iter.Seq2[string, *sensor.Lidar] {
	return lidarsOf(t, towerLayouts[CurrentVersion])
}
