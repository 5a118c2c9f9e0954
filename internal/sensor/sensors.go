package sensor

import (
	"fmt"

	"github.com/banshee-data/fusion.record/internal/blockio"
	"github.com/banshee-data/fusion.record/internal/payload"
)

// Kind identifies a sensor type within an agent layout.
type Kind uint8

const (
	KindCamera Kind = iota + 1
	KindLidar
	KindIMU
	KindGNSS
	KindDynamics
)

func (k Kind) String() string {
	switch k {
	case KindCamera:
		return "camera"
	case KindLidar:
		return "lidar"
	case KindIMU:
		return "imu"
	case KindGNSS:
		return "gnss"
	case KindDynamics:
		return "dynamics"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Sensor is implemented by every sensor wrapper.
type Sensor interface {
	Kind() Kind
	// Encode writes the payload block(s) followed by the information block.
	Encode() ([]byte, error)
}

// Decode dispatches to the decoder for kind.
func Decode(kind Kind, b []byte) (Sensor, error) {
	var (
		s   Sensor
		err error
	)
	switch kind {
	case KindCamera:
		var c *Camera
		c, err = DecodeCamera(b)
		s = c
	case KindLidar:
		var l *Lidar
		l, err = DecodeLidar(b)
		s = l
	case KindIMU:
		var m *IMU
		m, err = DecodeIMU(b)
		s = m
	case KindGNSS:
		var g *GNSS
		g, err = DecodeGNSS(b)
		s = g
	case KindDynamics:
		var d *Dynamics
		d, err = DecodeDynamics(b)
		s = d
	default:
		return nil, blockio.Malformed("sensor", fmt.Sprintf("unknown kind %d", kind), nil)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Camera is one camera's image for a frame.
type Camera struct {
	Info  *CameraInformation
	Image *payload.Image
}

func (c *Camera) Kind() Kind { return KindCamera }

func (c *Camera) Encode() ([]byte, error) {
	var dst []byte
	if c.Image != nil {
		if c.Info == nil {
			return nil, blockio.Malformed("camera", "image without camera information", nil)
		}
		if err := checkImageShape(c.Info, c.Image); err != nil {
			return nil, err
		}
		if err := blockio.CheckBlockSize("camera "+c.Info.Name+" pixels", len(c.Image.Pix)); err != nil {
			return nil, err
		}
		var err error
		if dst, err = blockio.AppendSizedBlock(dst, c.Image.Encode(), "camera "+c.Info.Name+" image"); err != nil {
			return nil, err
		}
	} else {
		dst = blockio.AppendBlock(dst, nil)
	}
	return appendInfo(dst, c.Info)
}

// checkImageShape rejects images the decoder could not rebuild from info.
func checkImageShape(info *CameraInformation, img *payload.Image) error {
	want := info.Width * info.Height * payload.BytesPerPixel
	if img.Width != info.Width || img.Height != info.Height || len(img.Pix) != want {
		return &blockio.SchemaMismatchError{
			Payload:  "image",
			Expected: want,
			Actual:   len(img.Pix),
			Detail: fmt.Sprintf("camera %s is %dx%d, image is %dx%d",
				info.Name, info.Width, info.Height, img.Width, img.Height),
		}
	}
	return nil
}

func DecodeCamera(b []byte) (*Camera, error) {
	blocks, err := splitBlocks(b, "camera", 2)
	if err != nil {
		return nil, err
	}
	info, err := decodeInfo[CameraInformation](blocks[1], "camera")
	if err != nil {
		return nil, err
	}
	cam := &Camera{Info: info}
	if len(blocks[0]) == 0 {
		return cam, nil
	}
	if info == nil {
		return nil, blockio.Malformed("camera", "image present without camera information", nil)
	}
	cam.Image, err = payload.DecodeImage(blocks[0], info.Width, info.Height)
	if err != nil {
		return nil, fmt.Errorf("camera %s: %w", info.Name, err)
	}
	return cam, nil
}

// Lidar is one lidar's sweep for a frame.
type Lidar struct {
	Info   *LidarInformation
	Points *payload.PointCloud
}

func (l *Lidar) Kind() Kind { return KindLidar }

func (l *Lidar) Encode() ([]byte, error) {
	var dst []byte
	if l.Points != nil {
		if l.Info == nil {
			return nil, blockio.Malformed("lidar", "points without lidar information", nil)
		}
		if !l.Points.Schema.Equal(l.Info.Schema) {
			return nil, &blockio.SchemaMismatchError{
				Payload:  "points",
				Expected: l.Info.Schema.ItemSize,
				Actual:   l.Points.Schema.ItemSize,
				Detail:   fmt.Sprintf("cloud schema %q differs from lidar %s schema %q", l.Points.Schema.Name, l.Info.Name, l.Info.Schema.Name),
			}
		}
		if err := blockio.CheckBlockSize("lidar "+l.Info.Name+" points", len(l.Points.Data)); err != nil {
			return nil, err
		}
		var err error
		if dst, err = blockio.AppendSizedBlock(dst, l.Points.Encode(), "lidar "+l.Info.Name+" sweep"); err != nil {
			return nil, err
		}
	} else {
		dst = blockio.AppendBlock(dst, nil)
	}
	return appendInfo(dst, l.Info)
}

func DecodeLidar(b []byte) (*Lidar, error) {
	blocks, err := splitBlocks(b, "lidar", 2)
	if err != nil {
		return nil, err
	}
	info, err := decodeInfo[LidarInformation](blocks[1], "lidar")
	if err != nil {
		return nil, err
	}
	lidar := &Lidar{Info: info}
	if len(blocks[0]) == 0 {
		return lidar, nil
	}
	if info == nil {
		return nil, blockio.Malformed("lidar", "points present without lidar information", nil)
	}
	lidar.Points, err = payload.DecodePointCloud(blocks[0], info.Schema)
	if err != nil {
		return nil, fmt.Errorf("lidar %s: %w", info.Name, err)
	}
	return lidar, nil
}

// IMU carries the inertial samples taken during a frame.
type IMU struct {
	Info   *IMUInformation
	Motion []payload.Motion
}

func (m *IMU) Kind() Kind { return KindIMU }

func (m *IMU) Encode() ([]byte, error) {
	body, err := payload.EncodeMotion(m.Motion)
	if err != nil {
		return nil, err
	}
	return appendInfo(blockio.AppendBlock(nil, body), m.Info)
}

func DecodeIMU(b []byte) (*IMU, error) {
	blocks, err := splitBlocks(b, "imu", 2)
	if err != nil {
		return nil, err
	}
	info, err := decodeInfo[IMUInformation](blocks[1], "imu")
	if err != nil {
		return nil, err
	}
	motion, err := payload.DecodeMotion(blocks[0])
	if err != nil {
		return nil, fmt.Errorf("imu motion: %w", err)
	}
	return &IMU{Info: info, Motion: motion}, nil
}

// GNSS carries the fixes received during a frame.
type GNSS struct {
	Info     *GNSSInformation
	Position []payload.Position
}

func (g *GNSS) Kind() Kind { return KindGNSS }

func (g *GNSS) Encode() ([]byte, error) {
	body, err := payload.EncodePosition(g.Position)
	if err != nil {
		return nil, err
	}
	return appendInfo(blockio.AppendBlock(nil, body), g.Info)
}

func DecodeGNSS(b []byte) (*GNSS, error) {
	blocks, err := splitBlocks(b, "gnss", 2)
	if err != nil {
		return nil, err
	}
	info, err := decodeInfo[GNSSInformation](blocks[1], "gnss")
	if err != nil {
		return nil, err
	}
	pos, err := payload.DecodePosition(blocks[0])
	if err != nil {
		return nil, fmt.Errorf("gnss position: %w", err)
	}
	return &GNSS{Info: info, Position: pos}, nil
}

// Dynamics carries vehicle velocity and heading samples.
type Dynamics struct {
	Info     *DynamicsInformation
	Velocity []payload.Velocity
	Heading  []payload.Heading
}

func (d *Dynamics) Kind() Kind { return KindDynamics }

func (d *Dynamics) Encode() ([]byte, error) {
	vel, err := payload.EncodeVelocity(d.Velocity)
	if err != nil {
		return nil, err
	}
	head, err := payload.EncodeHeading(d.Heading)
	if err != nil {
		return nil, err
	}
	dst := blockio.AppendBlock(nil, vel)
	dst = blockio.AppendBlock(dst, head)
	return appendInfo(dst, d.Info)
}

func DecodeDynamics(b []byte) (*Dynamics, error) {
	blocks, err := splitBlocks(b, "dynamics", 3)
	if err != nil {
		return nil, err
	}
	info, err := decodeInfo[DynamicsInformation](blocks[2], "dynamics")
	if err != nil {
		return nil, err
	}
	vel, err := payload.DecodeVelocity(blocks[0])
	if err != nil {
		return nil, fmt.Errorf("dynamics velocity: %w", err)
	}
	head, err := payload.DecodeHeading(blocks[1])
	if err != nil {
		return nil, fmt.Errorf("dynamics heading: %w", err)
	}
	return &Dynamics{Info: info, Velocity: vel, Heading: head}, nil
}

func appendInfo[T any](dst []byte, info *T) ([]byte, error) {
	if info == nil {
		return blockio.AppendBlock(dst, nil), nil
	}
	return blockio.AppendObject(dst, info)
}

func decodeInfo[T any](b []byte, what string) (*T, error) {
	if len(b) == 0 {
		return nil, nil
	}
	info := new(T)
	if err := blockio.UnmarshalObject(b, info); err != nil {
		return nil, fmt.Errorf("%s information: %w", what, err)
	}
	return info, nil
}

// splitBlocks reads exactly n blocks and rejects anything after them.
func splitBlocks(b []byte, what string, n int) ([][]byte, error) {
	c := blockio.NewCursor(b)
	out := make([][]byte, n)
	for i := range out {
		blk, err := c.Next()
		if err != nil {
			return nil, blockio.Malformed(what, fmt.Sprintf("block %d of %d", i+1, n), err)
		}
		out[i] = blk
	}
	if !c.Done() {
		return nil, blockio.Malformed(what, fmt.Sprintf("%d trailing bytes", c.Remaining()), nil)
	}
	return out, nil
}
