package framesvc

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/banshee-data/fusion.record/internal/payload"
	"github.com/banshee-data/fusion.record/internal/record"
)

// message is what the wire codec moves. Field numbers are stable; unknown
// fields are skipped so older clients keep working.
type message interface {
	marshal() []byte
	unmarshal([]byte) error
}

// InfoRequest asks for a record summary. An empty RecordID selects the
// server's default record.
type InfoRequest struct {
	RecordID string
}

// InfoResponse summarizes one record.
type InfoResponse struct {
	RecordID   string
	FrameCount uint64
	Start      payload.Timestamp
	End        payload.Timestamp
	SizeBytes  uint64
	Version    uint32
	Slots      []string
}

// FrameRequest selects one frame by index, or by time when ByTimestamp is
// set: the first frame at or after Timestamp, else the last frame.
type FrameRequest struct {
	RecordID    string
	Index       int64
	Timestamp   payload.Timestamp
	ByTimestamp bool
}

// FrameResponse carries one encoded frame as stored in the record.
type FrameResponse struct {
	RecordID  string
	Index     uint64
	FrameID   uint64
	Timestamp payload.Timestamp
	Data      []byte
}

// Frame decodes Data.
func (r *FrameResponse) Frame() (*record.Frame, error) {
	return record.DecodeFrame(r.Data)
}

// StreamRequest streams Count frames from Start; Count 0 streams to the end.
// Rate 1 paces frames at their recorded spacing, 2 at double speed; 0 sends
// as fast as the client reads.
type StreamRequest struct {
	RecordID string
	Start    uint64
	Count    uint64
	Rate     float64
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendSint(b []byte, num protowire.Number, v int64) []byte {
	return appendVarint(b, num, protowire.EncodeZigZag(v))
}

// skip is returned by a field callback to have walk skip the field. It is
// below every protowire error code.
const skip = -1 << 30

// walk calls fn for each field. fn returns the bytes it consumed, skip, or a
// negative protowire error code.
func walk(b []byte, what string, fn func(num protowire.Number, typ protowire.Type, b []byte) int) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%s: %w", what, protowire.ParseError(n))
		}
		b = b[n:]
		m := fn(num, typ, b)
		if m == skip {
			m = protowire.ConsumeFieldValue(num, typ, b)
		}
		if m < 0 {
			return fmt.Errorf("%s field %d: %w", what, num, protowire.ParseError(m))
		}
		b = b[m:]
	}
	return nil
}

func consumeString(typ protowire.Type, b []byte, dst *string) int {
	if typ != protowire.BytesType {
		return skip
	}
	s, n := protowire.ConsumeString(b)
	if n >= 0 {
		*dst = s
	}
	return n
}

func consumeVarint(typ protowire.Type, b []byte, dst *uint64) int {
	if typ != protowire.VarintType {
		return skip
	}
	v, n := protowire.ConsumeVarint(b)
	if n >= 0 {
		*dst = v
	}
	return n
}

func consumeSint(typ protowire.Type, b []byte, dst *int64) int {
	var v uint64
	n := consumeVarint(typ, b, &v)
	if n >= 0 {
		*dst = protowire.DecodeZigZag(v)
	}
	return n
}

func (m *InfoRequest) marshal() []byte {
	return appendString(nil, 1, m.RecordID)
}

func (m *InfoRequest) unmarshal(b []byte) error {
	*m = InfoRequest{}
	return walk(b, "info request", func(num protowire.Number, typ protowire.Type, b []byte) int {
		if num == 1 {
			return consumeString(typ, b, &m.RecordID)
		}
		return skip
	})
}

func (m *InfoResponse) marshal() []byte {
	b := appendString(nil, 1, m.RecordID)
	b = appendVarint(b, 2, m.FrameCount)
	b = appendSint(b, 3, int64(m.Start))
	b = appendSint(b, 4, int64(m.End))
	b = appendVarint(b, 5, m.SizeBytes)
	b = appendVarint(b, 6, uint64(m.Version))
	for _, s := range m.Slots {
		b = protowire.AppendTag(b, 7, protowire.BytesType)
		b = protowire.AppendString(b, s)
	}
	return b
}

func (m *InfoResponse) unmarshal(b []byte) error {
	*m = InfoResponse{}
	return walk(b, "info response", func(num protowire.Number, typ protowire.Type, b []byte) int {
		var v uint64
		var s int64
		switch num {
		case 1:
			return consumeString(typ, b, &m.RecordID)
		case 2:
			return consumeVarint(typ, b, &m.FrameCount)
		case 3:
			n := consumeSint(typ, b, &s)
			m.Start = payload.Timestamp(s)
			return n
		case 4:
			n := consumeSint(typ, b, &s)
			m.End = payload.Timestamp(s)
			return n
		case 5:
			return consumeVarint(typ, b, &m.SizeBytes)
		case 6:
			n := consumeVarint(typ, b, &v)
			m.Version = uint32(v)
			return n
		case 7:
			var slot string
			n := consumeString(typ, b, &slot)
			if n >= 0 {
				m.Slots = append(m.Slots, slot)
			}
			return n
		}
		return skip
	})
}

func (m *FrameRequest) marshal() []byte {
	b := appendString(nil, 1, m.RecordID)
	b = appendSint(b, 2, m.Index)
	b = appendSint(b, 3, int64(m.Timestamp))
	if m.ByTimestamp {
		b = appendVarint(b, 4, 1)
	}
	return b
}

func (m *FrameRequest) unmarshal(b []byte) error {
	*m = FrameRequest{}
	return walk(b, "frame request", func(num protowire.Number, typ protowire.Type, b []byte) int {
		var s int64
		var v uint64
		switch num {
		case 1:
			return consumeString(typ, b, &m.RecordID)
		case 2:
			return consumeSint(typ, b, &m.Index)
		case 3:
			n := consumeSint(typ, b, &s)
			m.Timestamp = payload.Timestamp(s)
			return n
		case 4:
			n := consumeVarint(typ, b, &v)
			m.ByTimestamp = v != 0
			return n
		}
		return skip
	})
}

func (m *FrameResponse) marshal() []byte {
	b := appendString(nil, 1, m.RecordID)
	b = appendVarint(b, 2, m.Index)
	b = appendVarint(b, 3, m.FrameID)
	b = appendSint(b, 4, int64(m.Timestamp))
	if len(m.Data) > 0 {
		b = protowire.AppendTag(b, 5, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Data)
	}
	return b
}

func (m *FrameResponse) unmarshal(b []byte) error {
	*m = FrameResponse{}
	return walk(b, "frame response", func(num protowire.Number, typ protowire.Type, b []byte) int {
		var s int64
		switch num {
		case 1:
			return consumeString(typ, b, &m.RecordID)
		case 2:
			return consumeVarint(typ, b, &m.Index)
		case 3:
			return consumeVarint(typ, b, &m.FrameID)
		case 4:
			n := consumeSint(typ, b, &s)
			m.Timestamp = payload.Timestamp(s)
			return n
		case 5:
			if typ != protowire.BytesType {
				return skip
			}
			v, n := protowire.ConsumeBytes(b)
			if n >= 0 {
				m.Data = append([]byte(nil), v...)
			}
			return n
		}
		return skip
	})
}

func (m *StreamRequest) marshal() []byte {
	b := appendString(nil, 1, m.RecordID)
	b = appendVarint(b, 2, m.Start)
	b = appendVarint(b, 3, m.Count)
	if m.Rate != 0 {
		b = protowire.AppendTag(b, 4, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(m.Rate))
	}
	return b
}

func (m *StreamRequest) unmarshal(b []byte) error {
	*m = StreamRequest{}
	return walk(b, "stream request", func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1:
			return consumeString(typ, b, &m.RecordID)
		case 2:
			return consumeVarint(typ, b, &m.Start)
		case 3:
			return consumeVarint(typ, b, &m.Count)
		case 4:
			if typ != protowire.Fixed64Type {
				return skip
			}
			v, n := protowire.ConsumeFixed64(b)
			if n >= 0 {
				m.Rate = math.Float64frombits(v)
			}
			return n
		}
		return skip
	})
}
