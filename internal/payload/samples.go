package payload

import (
	"github.com/banshee-data/fusion.record/internal/blockio"
)

// Motion is one IMU sample. Vectors are nil when the source did not report
// them; covariances are flattened row-major 3x3.
type Motion struct {
	Timestamp                    Timestamp `cbor:"ts"`
	Orientation                  []float64 `cbor:"orientation"`
	OrientationCovariance        []float64 `cbor:"orientation_cov"`
	AngularVelocity              []float64 `cbor:"angular_velocity"`
	AngularVelocityCovariance    []float64 `cbor:"angular_velocity_cov"`
	LinearAcceleration           []float64 `cbor:"linear_acceleration"`
	LinearAccelerationCovariance []float64 `cbor:"linear_acceleration_cov"`
}

// Velocity is one twist sample from the dynamics source.
type Velocity struct {
	Timestamp       Timestamp `cbor:"ts"`
	LinearVelocity  []float64 `cbor:"linear_velocity"`
	AngularVelocity []float64 `cbor:"angular_velocity"`
	Covariance      []float64 `cbor:"cov"`
}

// Heading is one orientation sample from the dynamics source.
type Heading struct {
	Timestamp   Timestamp `cbor:"ts"`
	Orientation []float64 `cbor:"orientation"`
	Covariance  []float64 `cbor:"cov"`
}

// Position is one GNSS fix.
type Position struct {
	Timestamp Timestamp `cbor:"ts"`
	Status    string    `cbor:"status"`
	// Services flags which constellations contributed; nil means unknown.
	Services       map[string]*bool `cbor:"services"`
	Latitude       float64          `cbor:"lat"`
	Longitude      float64          `cbor:"lon"`
	Altitude       float64          `cbor:"alt"`
	Covariance     []float64        `cbor:"cov"`
	CovarianceType string           `cbor:"cov_type"`
}

// Constellations always present in Position.Services.
var Constellations = []string{"GPS", "Glonass", "Galileo", "Baidou"}

// NewPosition returns a fix with every constellation flag set to unknown.
func NewPosition(ts Timestamp, lat, lon, alt float64) Position {
	return Position{
		Timestamp: ts,
		Services:  InitServices(nil),
		Latitude:  lat,
		Longitude: lon,
		Altitude:  alt,
	}
}

// InitServices adds any missing constellation key with an unknown flag. A nil
// map is replaced by a fresh one.
func InitServices(services map[string]*bool) map[string]*bool {
	if services == nil {
		services = make(map[string]*bool, len(Constellations))
	}
	for _, name := range Constellations {
		if _, ok := services[name]; !ok {
			services[name] = nil
		}
	}
	return services
}

// EncodeMotion and friends serialize a sample list into a single object
// block body. A nil list encodes to a zero-length body.

func EncodeMotion(samples []Motion) ([]byte, error)     { return encodeSamples(samples) }
func EncodeVelocity(samples []Velocity) ([]byte, error) { return encodeSamples(samples) }
func EncodeHeading(samples []Heading) ([]byte, error)   { return encodeSamples(samples) }
func EncodePosition(samples []Position) ([]byte, error) { return encodeSamples(samples) }

func DecodeMotion(b []byte) ([]Motion, error)     { return decodeSamples[Motion](b) }
func DecodeVelocity(b []byte) ([]Velocity, error) { return decodeSamples[Velocity](b) }
func DecodeHeading(b []byte) ([]Heading, error)   { return decodeSamples[Heading](b) }
func DecodePosition(b []byte) ([]Position, error) { return decodeSamples[Position](b) }

func encodeSamples[T any](samples []T) ([]byte, error) {
	if samples == nil {
		return nil, nil
	}
	return blockio.MarshalObject(samples)
}

func decodeSamples[T any](b []byte) ([]T, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var out []T
	if err := blockio.UnmarshalObject(b, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []T{}
	}
	return out, nil
}
