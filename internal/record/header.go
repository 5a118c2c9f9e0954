package record

import (
	"fmt"
	"slices"
	"sort"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/banshee-data/fusion.record/internal/agent"
	"github.com/banshee-data/fusion.record/internal/blockio"
	"github.com/banshee-data/fusion.record/internal/sensor"
)

const nameTableField protowire.Number = 1

// Header is the record-level metadata: identity plus the calibration of every
// sensor slot that appears in the record. Calibration maps are keyed by the
// full slot path, e.g. "vehicle.cameras.FRONT_LEFT".
type Header struct {
	RecordID  uuid.UUID                              `cbor:"record_id"`
	CreatedNs int64                                  `cbor:"created_ns"`
	Version   uint32                                 `cbor:"version"`
	Vehicle   *sensor.VehicleInformation             `cbor:"vehicle"`
	Tower     *sensor.TowerInformation               `cbor:"tower"`
	Cameras   map[string]*sensor.CameraInformation   `cbor:"cameras"`
	Lidars    map[string]*sensor.LidarInformation    `cbor:"lidars"`
	IMU       map[string]*sensor.IMUInformation      `cbor:"imu"`
	GNSS      map[string]*sensor.GNSSInformation     `cbor:"gnss"`
	Dynamics  map[string]*sensor.DynamicsInformation `cbor:"dynamics"`
}

// NewHeader returns an empty header for a new record.
func NewHeader(id uuid.UUID, createdNs int64) *Header {
	return &Header{
		RecordID:  id,
		CreatedNs: createdNs,
		Version:   agent.CurrentVersion,
		Cameras:   map[string]*sensor.CameraInformation{},
		Lidars:    map[string]*sensor.LidarInformation{},
		IMU:       map[string]*sensor.IMUInformation{},
		GNSS:      map[string]*sensor.GNSSInformation{},
		Dynamics:  map[string]*sensor.DynamicsInformation{},
	}
}

// Names returns the slot paths that carry calibration, sorted.
func (h *Header) Names() []string {
	var names []string
	names = appendKeys(names, h.Cameras)
	names = appendKeys(names, h.Lidars)
	names = appendKeys(names, h.IMU)
	names = appendKeys(names, h.GNSS)
	names = appendKeys(names, h.Dynamics)
	sort.Strings(names)
	return names
}

func appendKeys[V any](dst []string, m map[string]V) []string {
	for k := range m {
		dst = append(dst, k)
	}
	return dst
}

// Observe records the calibration of every populated slot in f that the
// header has not seen yet. The first frame to carry a slot wins.
func (h *Header) Observe(f *Frame) {
	version := f.Version
	if version == 0 {
		version = agent.CurrentVersion
	}
	if f.Vehicle != nil {
		if l, err := agent.VehicleLayout(version); err == nil {
			for slot, s := range f.Vehicle.Sensors(l) {
				h.observe("vehicle."+slot.Path(), s)
			}
		}
	}
	if f.Tower != nil {
		if l, err := agent.TowerLayout(version); err == nil {
			for slot, s := range f.Tower.Sensors(l) {
				h.observe("tower."+slot.Path(), s)
			}
		}
	}
}

func (h *Header) observe(path string, s sensor.Sensor) {
	switch x := s.(type) {
	case *sensor.Camera:
		putInfo(&h.Cameras, path, x.Info)
	case *sensor.Lidar:
		putInfo(&h.Lidars, path, x.Info)
	case *sensor.IMU:
		putInfo(&h.IMU, path, x.Info)
	case *sensor.GNSS:
		putInfo(&h.GNSS, path, x.Info)
	case *sensor.Dynamics:
		putInfo(&h.Dynamics, path, x.Info)
	}
}

func putInfo[T any](m *map[string]*T, path string, info *T) {
	if info == nil {
		return
	}
	if *m == nil {
		*m = map[string]*T{}
	}
	if _, ok := (*m)[path]; !ok {
		(*m)[path] = info
	}
}

// encode returns [name_table_len][name_table][info_len][info_blob].
func (h *Header) encode() ([]byte, error) {
	var table []byte
	for _, name := range h.Names() {
		table = protowire.AppendTag(table, nameTableField, protowire.BytesType)
		table = protowire.AppendString(table, name)
	}
	info, err := blockio.MarshalObject(h)
	if err != nil {
		return nil, fmt.Errorf("encode header: %w", err)
	}
	out := blockio.AppendBlock(nil, table)
	return blockio.AppendBlock(out, info), nil
}

func decodeNameTable(b []byte) ([]string, error) {
	var names []string
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		b = b[n:]
		if num != nameTableField || typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, protowire.ParseError(n)
			}
			b = b[n:]
			continue
		}
		s, n := protowire.ConsumeString(b)
		if n < 0 {
			return nil, protowire.ParseError(n)
		}
		names = append(names, s)
		b = b[n:]
	}
	return names, nil
}

// decodeHeader parses verified header content and checks that the name table
// lists exactly the slots the info blob calibrates.
func decodeHeader(content []byte) (*Header, []string, error) {
	c := blockio.NewCursor(content)
	table, err := c.Next()
	if err != nil {
		return nil, nil, blockio.Malformed("header", "name table", err)
	}
	info, err := c.Next()
	if err != nil {
		return nil, nil, blockio.Malformed("header", "info blob", err)
	}
	if !c.Done() {
		return nil, nil, blockio.Malformed("header", fmt.Sprintf("%d bytes after info blob", c.Remaining()), nil)
	}

	names, err := decodeNameTable(table)
	if err != nil {
		return nil, nil, blockio.Malformed("header", "name table", err)
	}
	h := &Header{}
	if err := blockio.UnmarshalObject(info, h); err != nil {
		return nil, nil, fmt.Errorf("header info: %w", err)
	}
	sorted := slices.Clone(names)
	sort.Strings(sorted)
	if calibrated := h.Names(); !slices.Equal(sorted, calibrated) {
		return nil, nil, blockio.Malformed("header",
			fmt.Sprintf("name table %v does not match calibrated slots %v", sorted, calibrated), nil)
	}
	return h, names, nil
}
