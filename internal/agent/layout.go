// Package agent models the two physical platforms of a capture, the vehicle
// and the sensor tower, as closed sets of named sensor slots.
//
// Slots are encoded in the order given by the layout for the frame's format
// version. The byte stream carries no slot names, so encode and decode both
// walk the same Layout.
package agent

import (
	"fmt"
	"iter"

	"github.com/banshee-data/fusion.record/internal/blockio"
	"github.com/banshee-data/fusion.record/internal/sensor"
)

// CurrentVersion is the layout version written by new records.
const CurrentVersion uint32 = 1

// Slot groups, used as the middle part of a slot path.
const (
	GroupCameras  = "cameras"
	GroupLidars   = "lidars"
	GroupIMU      = "imu"
	GroupGNSS     = "gnss"
	GroupDynamics = "dynamics"
)

// Slot is one named position in an agent.
type Slot struct {
	Group string
	Name  string
	Kind  sensor.Kind
}

// Path is the slot's dotted name, e.g. "cameras.BACK_LEFT".
func (s Slot) Path() string {
	if s.Name == "" {
		return s.Group
	}
	return s.Group + "." + s.Name
}

// Layout is the ordered slot list of one agent type at one format version.
type Layout struct {
	Agent   string
	Version uint32
	Slots   []Slot
}

var vehicleLayouts = map[uint32]Layout{
	1: {
		Agent:   "vehicle",
		Version: 1,
		Slots: []Slot{
			{GroupCameras, "BACK_LEFT", sensor.KindCamera},
			{GroupCameras, "FRONT_LEFT", sensor.KindCamera},
			{GroupCameras, "STEREO_LEFT", sensor.KindCamera},
			{GroupCameras, "STEREO_RIGHT", sensor.KindCamera},
			{GroupCameras, "FRONT_RIGHT", sensor.KindCamera},
			{GroupCameras, "BACK_RIGHT", sensor.KindCamera},
			{GroupLidars, "LEFT", sensor.KindLidar},
			{GroupLidars, "TOP", sensor.KindLidar},
			{GroupLidars, "RIGHT", sensor.KindLidar},
			{GroupIMU, "", sensor.KindIMU},
			{GroupGNSS, "", sensor.KindGNSS},
			{GroupDynamics, "", sensor.KindDynamics},
		},
	},
}

var towerLayouts = map[uint32]Layout{
	1: {
		Agent:   "tower",
		Version: 1,
		Slots: []Slot{
			{GroupCameras, "VIEW_1", sensor.KindCamera},
			{GroupCameras, "VIEW_2", sensor.KindCamera},
			{GroupLidars, "VIEW_1", sensor.KindLidar},
			{GroupLidars, "VIEW_2", sensor.KindLidar},
			{GroupLidars, "UPPER_PLATFORM", sensor.KindLidar},
			{GroupGNSS, "", sensor.KindGNSS},
		},
	},
}

// VehicleLayout returns the vehicle slot order for version.
func VehicleLayout(version uint32) (Layout, error) {
	return lookup(vehicleLayouts, "vehicle", version)
}

// TowerLayout returns the tower slot order for version.
func TowerLayout(version uint32) (Layout, error) {
	return lookup(towerLayouts, "tower", version)
}

func lookup(layouts map[uint32]Layout, agent string, version uint32) (Layout, error) {
	l, ok := layouts[version]
	if !ok {
		return Layout{}, blockio.Malformed(agent, fmt.Sprintf("unknown format version %d", version), nil)
	}
	return l, nil
}

// slotted is implemented by Vehicle and Tower so encode, decode and
// iteration share one walk over the layout.
type slotted interface {
	get(Slot) sensor.Sensor
	set(Slot, sensor.Sensor) error
}

func encodeSlots(a slotted, l Layout) ([]byte, error) {
	var dst []byte
	for _, slot := range l.Slots {
		s := a.get(slot)
		if s == nil {
			dst = blockio.AppendBlock(dst, nil)
			continue
		}
		if s.Kind() != slot.Kind {
			return nil, fmt.Errorf("%s %s: holds a %s, want %s", l.Agent, slot.Path(), s.Kind(), slot.Kind)
		}
		b, err := s.Encode()
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", l.Agent, slot.Path(), err)
		}
		if dst, err = blockio.AppendSizedBlock(dst, b, l.Agent+" "+slot.Path()); err != nil {
			return nil, err
		}
	}
	return dst, nil
}

func decodeSlots(a slotted, l Layout, b []byte) error {
	c := blockio.NewCursor(b)
	for _, slot := range l.Slots {
		blk, err := c.Next()
		if err != nil {
			return blockio.Malformed(l.Agent, "slot "+slot.Path(), err)
		}
		if len(blk) == 0 {
			continue
		}
		s, err := sensor.Decode(slot.Kind, blk)
		if err != nil {
			return fmt.Errorf("%s %s: %w", l.Agent, slot.Path(), err)
		}
		if err := a.set(slot, s); err != nil {
			return err
		}
	}
	if !c.Done() {
		return blockio.Malformed(l.Agent, fmt.Sprintf("%d bytes after last slot of layout v%d", c.Remaining(), l.Version), nil)
	}
	return nil
}

func missing(a slotted, l Layout) []string {
	var out []string
	for _, slot := range l.Slots {
		if a.get(slot) == nil {
			out = append(out, slot.Path())
		}
	}
	return out
}

func wrongKind(agent string, slot Slot, s sensor.Sensor) error {
	return fmt.Errorf("%s %s: cannot hold %T", agent, slot.Path(), s)
}

func present(a slotted, l Layout) iter.Seq2[Slot, sensor.Sensor] {
	return func(yield func(Slot, sensor.Sensor) bool) {
		for _, slot := range l.Slots {
			if s := a.get(slot); s != nil {
				if !yield(slot, s) {
					return
				}
			}
		}
	}
}

func camerasOf(a slotted, l Layout) iter.Seq2[string, *sensor.Camera] {
	return func(yield func(string, *sensor.Camera) bool) {
		for slot, s := range present(a, l) {
			if c, ok := s.(*sensor.Camera); ok && !yield(slot.Name, c) {
				return
			}
		}
	}
}

func lidarsOf(a slotted, l Layout) iter.Seq2[string, *sensor.Lidar] {
	return func(yield func(string, *sensor.Lidar) bool) {
		for slot, s := range present(a, l) {
			if li, ok := s.(*sensor.Lidar); ok && !yield(slot.Name, li) {
				return
			}
		}
	}
}
