package payload

import (
	"fmt"

	"github.com/golang/geo/r3"

	"github.com/banshee-data/fusion.record/internal/blockio"
)

// PointCloud is one lidar sweep: Len() records of Schema.ItemSize bytes each.
type PointCloud struct {
	Schema    PointSchema
	Data      []byte
	Timestamp Timestamp
}

// NewPointCloud allocates n zeroed records.
func NewPointCloud(schema PointSchema, ts Timestamp, n int) *PointCloud {
	return &PointCloud{
		Schema:    schema,
		Data:      make([]byte, n*schema.ItemSize),
		Timestamp: ts,
	}
}

// PointCloudFromXYZ builds a cloud whose x, y and z fields hold pts. Other
// fields are zero.
func PointCloudFromXYZ(schema PointSchema, ts Timestamp, pts []r3.Vector) (*PointCloud, error) {
	pc := NewPointCloud(schema, ts, len(pts))
	for i, p := range pts {
		for _, fv := range [...]struct {
			name string
			v    float64
		}{{"x", p.X}, {"y", p.Y}, {"z", p.Z}} {
			if err := pc.SetFloat(i, fv.name, fv.v); err != nil {
				return nil, err
			}
		}
	}
	return pc, nil
}

// Len is the number of point records.
func (pc *PointCloud) Len() int {
	if pc == nil || pc.Schema.ItemSize <= 0 {
		return 0
	}
	return len(pc.Data) / pc.Schema.ItemSize
}

func (pc *PointCloud) locate(i int, field string) (fieldType, []byte, error) {
	if i < 0 || i >= pc.Len() {
		return fieldType{}, nil, &blockio.IndexOutOfRangeError{Index: i, Count: pc.Len()}
	}
	f, ok := pc.Schema.Field(field)
	if !ok {
		return fieldType{}, nil, fmt.Errorf("schema %q has no field %q", pc.Schema.Name, field)
	}
	ft, err := parseFormat(f.Format)
	if err != nil {
		return fieldType{}, nil, err
	}
	start := i*pc.Schema.ItemSize + f.Offset
	return ft, pc.Data[start : start+ft.size], nil
}

// Float reads one field of record i, widened to float64.
func (pc *PointCloud) Float(i int, field string) (float64, error) {
	ft, b, err := pc.locate(i, field)
	if err != nil {
		return 0, err
	}
	return ft.read(b), nil
}

// SetFloat writes one field of record i, narrowing to the field's format.
func (pc *PointCloud) SetFloat(i int, field string, v float64) error {
	ft, b, err := pc.locate(i, field)
	if err != nil {
		return err
	}
	ft.write(b, v)
	return nil
}

// XYZ returns the cartesian position of record i.
func (pc *PointCloud) XYZ(i int) (r3.Vector, error) {
	var xyz [3]float64
	for k, name := range [...]string{"x", "y", "z"} {
		v, err := pc.Float(i, name)
		if err != nil {
			return r3.Vector{}, err
		}
		xyz[k] = v
	}
	return r3.Vector{X: xyz[0], Y: xyz[1], Z: xyz[2]}, nil
}

// Points returns every record's position.
func (pc *PointCloud) Points() ([]r3.Vector, error) {
	n := pc.Len()
	if n == 0 {
		return nil, nil
	}
	fx, okx := pc.Schema.Field("x")
	fy, oky := pc.Schema.Field("y")
	fz, okz := pc.Schema.Field("z")
	if !okx || !oky || !okz {
		return nil, fmt.Errorf("schema %q lacks x/y/z fields", pc.Schema.Name)
	}
	types := make([]fieldType, 3)
	for k, f := range []PointField{fx, fy, fz} {
		ft, err := parseFormat(f.Format)
		if err != nil {
			return nil, err
		}
		types[k] = ft
	}
	out := make([]r3.Vector, n)
	for i := range out {
		rec := pc.Data[i*pc.Schema.ItemSize:]
		out[i] = r3.Vector{
			X: types[0].read(rec[fx.Offset:]),
			Y: types[1].read(rec[fy.Offset:]),
			Z: types[2].read(rec[fz.Offset:]),
		}
	}
	return out, nil
}

// Encode returns block(point records) followed by block(timestamp).
func (pc *PointCloud) Encode() []byte {
	dst := make([]byte, 0, 2*blockio.LengthSize+len(pc.Data)+20)
	dst = blockio.AppendBlock(dst, pc.Data)
	return pc.Timestamp.appendBlock(dst)
}

// DecodePointCloud reverses Encode using the schema from the lidar
// information. The buffer must hold a whole number of records.
func DecodePointCloud(b []byte, schema PointSchema) (*PointCloud, error) {
	c := blockio.NewCursor(b)
	data, err := c.Next()
	if err != nil {
		return nil, blockio.Malformed("points", "point block", err)
	}
	tsBytes, err := c.Next()
	if err != nil {
		return nil, blockio.Malformed("points", "timestamp block", err)
	}
	if !c.Done() {
		return nil, blockio.Malformed("points", "trailing data after timestamp", nil)
	}
	if err := schema.Validate(); err != nil {
		return nil, &blockio.SchemaMismatchError{Payload: "points", Actual: len(data), Detail: err.Error()}
	}
	if rem := len(data) % schema.ItemSize; rem != 0 {
		return nil, &blockio.SchemaMismatchError{
			Payload:  "points",
			Expected: len(data) - rem + schema.ItemSize,
			Actual:   len(data),
			Detail:   fmt.Sprintf("not a multiple of %q item size %d", schema.Name, schema.ItemSize),
		}
	}
	ts, err := decodeTimestampBlock(tsBytes)
	if err != nil {
		return nil, blockio.Malformed("points", "timestamp", err)
	}
	return &PointCloud{
		Schema:    schema,
		Data:      append([]byte(nil), data...),
		Timestamp: ts,
	}, nil
}
