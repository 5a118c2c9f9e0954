package payload

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// PointField is one named member of a point record. Format uses numpy type
// strings: a byte-order character, a kind (f, u or i) and a width in bytes,
// e.g. "<f4".
type PointField struct {
	Name   string `cbor:"name"`
	Format string `cbor:"format"`
	Offset int    `cbor:"offset"`
}

// PointSchema describes the fixed-size record a lidar writes per point.
type PointSchema struct {
	Name     string       `cbor:"name"`
	Fields   []PointField `cbor:"fields"`
	ItemSize int          `cbor:"item_size"`
}

// OusterSchema is the 48-byte record written by the Ouster OS sensors. Bytes
// 12-15 and 36-47 are padding.
var OusterSchema = PointSchema{
	Name: "ouster",
	Fields: []PointField{
		{Name: "x", Format: "<f4", Offset: 0},
		{Name: "y", Format: "<f4", Offset: 4},
		{Name: "z", Format: "<f4", Offset: 8},
		{Name: "intensity", Format: "<f4", Offset: 16},
		{Name: "t", Format: "<u4", Offset: 20},
		{Name: "reflectivity", Format: "<u2", Offset: 24},
		{Name: "ring", Format: "<u2", Offset: 26},
		{Name: "ambient", Format: "<u2", Offset: 28},
		{Name: "range", Format: "<u4", Offset: 32},
	},
	ItemSize: 48,
}

// BlickfeldSchema is the packed 28-byte record written by the Blickfeld
// sensors on the tower.
var BlickfeldSchema = PointSchema{
	Name: "blickfeld",
	Fields: []PointField{
		{Name: "x", Format: "<f4", Offset: 0},
		{Name: "y", Format: "<f4", Offset: 4},
		{Name: "z", Format: "<f4", Offset: 8},
		{Name: "range", Format: "<f4", Offset: 12},
		{Name: "intensity", Format: "<u4", Offset: 16},
		{Name: "point_id", Format: "<u4", Offset: 20},
		{Name: "point_time_offset", Format: "<u4", Offset: 24},
	},
	ItemSize: 28,
}

// BlickfeldMarker in a lidar name selects the Blickfeld record layout.
const BlickfeldMarker = "view"

// SchemaFor picks the record layout by lidar name.
func SchemaFor(lidarName string) PointSchema {
	if strings.Contains(strings.ToLower(lidarName), BlickfeldMarker) {
		return BlickfeldSchema
	}
	return OusterSchema
}

// Field looks up a field by name.
func (s PointSchema) Field(name string) (PointField, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return PointField{}, false
}

// Validate checks every field has a supported format and lies inside the
// record.
func (s PointSchema) Validate() error {
	if s.ItemSize <= 0 {
		return fmt.Errorf("schema %q: item size must be positive, got %d", s.Name, s.ItemSize)
	}
	seen := make(map[string]bool, len(s.Fields))
	for _, f := range s.Fields {
		if seen[f.Name] {
			return fmt.Errorf("schema %q: duplicate field %q", s.Name, f.Name)
		}
		seen[f.Name] = true
		size, err := f.Size()
		if err != nil {
			return fmt.Errorf("schema %q: %w", s.Name, err)
		}
		if f.Offset < 0 || f.Offset+size > s.ItemSize {
			return fmt.Errorf("schema %q: field %q at offset %d overruns item size %d",
				s.Name, f.Name, f.Offset, s.ItemSize)
		}
	}
	return nil
}

// Equal reports whether two schemas describe the same byte layout.
func (s PointSchema) Equal(o PointSchema) bool {
	if s.ItemSize != o.ItemSize || len(s.Fields) != len(o.Fields) {
		return false
	}
	for i := range s.Fields {
		if s.Fields[i] != o.Fields[i] {
			return false
		}
	}
	return true
}

type fieldType struct {
	kind  byte
	size  int
	order binary.ByteOrder
}

func parseFormat(format string) (fieldType, error) {
	if len(format) < 3 {
		return fieldType{}, fmt.Errorf("unsupported point format %q", format)
	}
	var ft fieldType
	switch format[0] {
	case '<', '|':
		ft.order = binary.LittleEndian
	case '>':
		ft.order = binary.BigEndian
	default:
		return fieldType{}, fmt.Errorf("unsupported byte order in point format %q", format)
	}
	ft.kind = format[1]
	size, err := strconv.Atoi(format[2:])
	if err != nil {
		return fieldType{}, fmt.Errorf("unsupported point format %q", format)
	}
	ft.size = size
	switch {
	case ft.kind == 'f' && (size == 4 || size == 8):
	case (ft.kind == 'u' || ft.kind == 'i') && (size == 1 || size == 2 || size == 4 || size == 8):
	default:
		return fieldType{}, fmt.Errorf("unsupported point format %q", format)
	}
	return ft, nil
}

// Size is the width of the field in bytes.
func (f PointField) Size() (int, error) {
	ft, err := parseFormat(f.Format)
	if err != nil {
		return 0, fmt.Errorf("field %q: %w", f.Name, err)
	}
	return ft.size, nil
}

func (ft fieldType) read(b []byte) float64 {
	switch ft.size {
	case 1:
		if ft.kind == 'i' {
			return float64(int8(b[0]))
		}
		return float64(b[0])
	case 2:
		v := ft.order.Uint16(b)
		if ft.kind == 'i' {
			return float64(int16(v))
		}
		return float64(v)
	case 4:
		v := ft.order.Uint32(b)
		switch ft.kind {
		case 'f':
			return float64(math.Float32frombits(v))
		case 'i':
			return float64(int32(v))
		}
		return float64(v)
	default:
		v := ft.order.Uint64(b)
		switch ft.kind {
		case 'f':
			return math.Float64frombits(v)
		case 'i':
			return float64(int64(v))
		}
		return float64(v)
	}
}

func (ft fieldType) write(b []byte, v float64) {
	switch ft.size {
	case 1:
		if ft.kind == 'i' {
			b[0] = byte(int8(v))
			return
		}
		b[0] = byte(v)
	case 2:
		if ft.kind == 'i' {
			ft.order.PutUint16(b, uint16(int16(v)))
			return
		}
		ft.order.PutUint16(b, uint16(v))
	case 4:
		switch ft.kind {
		case 'f':
			ft.order.PutUint32(b, math.Float32bits(float32(v)))
		case 'i':
			ft.order.PutUint32(b, uint32(int32(v)))
		default:
			ft.order.PutUint32(b, uint32(v))
		}
	default:
		switch ft.kind {
		case 'f':
			ft.order.PutUint64(b, math.Float64bits(v))
		case 'i':
			ft.order.PutUint64(b, uint64(int64(v)))
		default:
			ft.order.PutUint64(b, uint64(v))
		}
	}
}
