package record

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/banshee-data/fusion.record/internal/agent"
	"github.com/banshee-data/fusion.record/internal/blockio"
	"github.com/banshee-data/fusion.record/internal/payload"
)

// Frame meta field numbers.
const (
	metaFrameID   protowire.Number = 1
	metaTimestamp protowire.Number = 2
	metaVersion   protowire.Number = 3
)

// Frame is one synchronized snapshot of both agents.
type Frame struct {
	FrameID   uint64
	Timestamp payload.Timestamp
	Version   uint32
	Vehicle   *agent.Vehicle
	Tower     *agent.Tower
}

// Encode returns block(meta) + block(vehicle) + block(tower). A nil agent is
// written as an empty block. A zero Version is set to agent.CurrentVersion
// first, so the frame matches what decoding its bytes returns.
func (f *Frame) Encode() ([]byte, error) {
	if f.Version == 0 {
		f.Version = agent.CurrentVersion
	}
	version := f.Version

	var meta []byte
	meta = protowire.AppendTag(meta, metaFrameID, protowire.VarintType)
	meta = protowire.AppendVarint(meta, f.FrameID)
	meta = protowire.AppendTag(meta, metaTimestamp, protowire.BytesType)
	meta = protowire.AppendString(meta, f.Timestamp.String())
	meta = protowire.AppendTag(meta, metaVersion, protowire.VarintType)
	meta = protowire.AppendVarint(meta, uint64(version))

	var vehicle, tower []byte
	var err error
	if f.Vehicle != nil {
		if vehicle, err = f.Vehicle.Encode(version); err != nil {
			return nil, fmt.Errorf("frame %d: %w", f.FrameID, err)
		}
	}
	if f.Tower != nil {
		if tower, err = f.Tower.Encode(version); err != nil {
			return nil, fmt.Errorf("frame %d: %w", f.FrameID, err)
		}
	}

	out := make([]byte, 0, 3*blockio.LengthSize+len(meta)+len(vehicle)+len(tower))
	out = blockio.AppendBlock(out, meta)
	if out, err = blockio.AppendSizedBlock(out, vehicle, "vehicle"); err != nil {
		return nil, fmt.Errorf("frame %d: %w", f.FrameID, err)
	}
	if out, err = blockio.AppendSizedBlock(out, tower, "tower"); err != nil {
		return nil, fmt.Errorf("frame %d: %w", f.FrameID, err)
	}
	return out, nil
}

// FrameMeta is the identity part of a frame, readable without decoding the
// agents.
type FrameMeta struct {
	FrameID   uint64
	Timestamp payload.Timestamp
	Version   uint32
}

// DecodeFrameMeta reads only the meta block of encoded frame bytes.
func DecodeFrameMeta(b []byte) (FrameMeta, error) {
	blk, _, err := blockio.ReadBlock(b, 0)
	if err != nil {
		return FrameMeta{}, blockio.Malformed("frame", "meta block", err)
	}
	m, err := decodeMeta(blk)
	if err != nil {
		return FrameMeta{}, blockio.Malformed("frame", "meta", err)
	}
	return m, nil
}

func decodeMeta(b []byte) (FrameMeta, error) {
	var m FrameMeta
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return m, protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == metaFrameID && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return m, protowire.ParseError(n)
			}
			m.FrameID = v
			b = b[n:]
		case num == metaTimestamp && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return m, protowire.ParseError(n)
			}
			ts, err := payload.ParseTimestamp(s)
			if err != nil {
				return m, err
			}
			m.Timestamp = ts
			b = b[n:]
		case num == metaVersion && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return m, protowire.ParseError(n)
			}
			if v > 1<<32-1 {
				return m, fmt.Errorf("version %d overflows uint32", v)
			}
			m.Version = uint32(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return m, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return m, nil
}

// DecodeFrame reverses Encode. It either returns a whole frame or an error;
// there is no partial result.
func DecodeFrame(b []byte) (*Frame, error) {
	c := blockio.NewCursor(b)
	var blocks [3][]byte
	for i, what := range [...]string{"meta", "vehicle", "tower"} {
		blk, err := c.Next()
		if err != nil {
			return nil, blockio.Malformed("frame", what+" block", err)
		}
		blocks[i] = blk
	}
	if !c.Done() {
		return nil, blockio.Malformed("frame", fmt.Sprintf("%d bytes after tower block", c.Remaining()), nil)
	}

	meta, err := decodeMeta(blocks[0])
	if err != nil {
		return nil, blockio.Malformed("frame", "meta", err)
	}
	f := &Frame{FrameID: meta.FrameID, Timestamp: meta.Timestamp, Version: meta.Version}

	if len(blocks[1]) > 0 {
		if f.Vehicle, err = agent.DecodeVehicle(blocks[1], f.Version); err != nil {
			return nil, fmt.Errorf("frame %d: %w", f.FrameID, err)
		}
	}
	if len(blocks[2]) > 0 {
		if f.Tower, err = agent.DecodeTower(blocks[2], f.Version); err != nil {
			return nil, fmt.Errorf("frame %d: %w", f.FrameID, err)
		}
	}
	if f.Vehicle == nil || f.Tower == nil {
		// An absent agent still has to name a known layout.
		if _, err := agent.VehicleLayout(f.Version); err != nil {
			return nil, fmt.Errorf("frame %d: %w", f.FrameID, err)
		}
	}
	return f, nil
}

// Missing lists every empty slot as "vehicle.<path>" or "tower.<path>".
func (f *Frame) Missing() []string {
	version := f.Version
	if version == 0 {
		version = agent.CurrentVersion
	}
	var out []string
	if vl, err := agent.VehicleLayout(version); err == nil {
		v := f.Vehicle
		if v == nil {
			v = &agent.Vehicle{}
		}
		for _, p := range v.Missing(vl) {
			out = append(out, "vehicle."+p)
		}
	}
	if tl, err := agent.TowerLayout(version); err == nil {
		t := f.Tower
		if t == nil {
			t = &agent.Tower{}
		}
		for _, p := range t.Missing(tl) {
			out = append(out, "tower."+p)
		}
	}
	return out
}

// IsComplete reports whether every slot of both agents is populated.
func (f *Frame) IsComplete() bool {
	return len(f.Missing()) == 0
}
