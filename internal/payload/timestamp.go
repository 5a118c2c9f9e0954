// Package payload holds the raw sensor payloads carried by a frame: image and
// point buffers with their capture timestamps, and the small telemetry sample
// lists recorded by the IMU, GNSS and dynamics sensors.
//
// Raw buffers are not self-describing. Decoders take the image shape or point
// schema as an explicit argument and validate the buffer length against it.
package payload

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Timestamp is a capture time in nanoseconds since the Unix epoch.
type Timestamp int64

const nanosPerSecond = int64(time.Second)

// FromTime converts t to a Timestamp.
func FromTime(t time.Time) Timestamp {
	return Timestamp(t.UnixNano())
}

// ParseTimestamp parses the decimal seconds form written by String, e.g.
// "1692873600.123456789". Fewer than nine fractional digits are padded; more
// are rejected rather than rounded.
func ParseTimestamp(s string) (Timestamp, error) {
	if s == "" {
		return 0, fmt.Errorf("parse timestamp: empty string")
	}
	neg := false
	body := s
	if body[0] == '-' {
		neg = true
		body = body[1:]
	}
	secPart, fracPart, _ := strings.Cut(body, ".")
	if secPart == "" {
		return 0, fmt.Errorf("parse timestamp %q: missing seconds", s)
	}
	sec, err := strconv.ParseInt(secPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	if len(fracPart) > 9 {
		return 0, fmt.Errorf("parse timestamp %q: more than 9 fractional digits", s)
	}
	var nsec int64
	if fracPart != "" {
		padded := fracPart + strings.Repeat("0", 9-len(fracPart))
		nsec, err = strconv.ParseInt(padded, 10, 64)
		if err != nil || strings.ContainsAny(fracPart, "+-") {
			return 0, fmt.Errorf("parse timestamp %q: bad fraction", s)
		}
	}
	if sec > (1<<63-1-nsec)/nanosPerSecond {
		return 0, fmt.Errorf("parse timestamp %q: out of range", s)
	}
	ns := sec*nanosPerSecond + nsec
	if neg {
		ns = -ns
	}
	return Timestamp(ns), nil
}

// Seconds returns the whole seconds and the nanosecond remainder. The
// remainder carries the sign of t.
func (t Timestamp) Seconds() (int64, int64) {
	return int64(t) / nanosPerSecond, int64(t) % nanosPerSecond
}

// String renders t as decimal seconds with nine fractional digits.
func (t Timestamp) String() string {
	sec, nsec := t.Seconds()
	if t < 0 {
		return fmt.Sprintf("-%d.%09d", -sec, -nsec)
	}
	return fmt.Sprintf("%d.%09d", sec, nsec)
}

// Time converts t to a UTC time.Time.
func (t Timestamp) Time() time.Time {
	return time.Unix(0, int64(t)).UTC()
}

// Format renders t as wall-clock time shifted by tzOffsetHours. precision is
// "ns" (nanosecond suffix) or "s".
func (t Timestamp) Format(precision string, tzOffsetHours float64) (string, error) {
	local := t.Time().Add(time.Duration(tzOffsetHours * float64(time.Hour)))
	const layout = "2006-01-02_15:04:05"
	switch precision {
	case "ns":
		return local.Format(layout) + fmt.Sprintf(".%09d", local.Nanosecond()), nil
	case "s":
		return local.Format(layout), nil
	default:
		return "", fmt.Errorf("precision must be \"ns\" or \"s\", got %q", precision)
	}
}

func (t Timestamp) appendBlock(dst []byte) []byte {
	return appendString(dst, t.String())
}

func decodeTimestampBlock(b []byte) (Timestamp, error) {
	return ParseTimestamp(string(b))
}
