// Package fusion projects lidar points onto camera image planes.
//
// A point is carried from the lidar frame into the camera frame through the
// two sensors' shared reference frame, then through the camera's
// rectification and projection matrices. Only points in front of the camera
// that land inside the image survive; nothing is clamped.
package fusion

import (
	"errors"
	"fmt"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/fusion.record/internal/sensor"
	"github.com/banshee-data/fusion.record/internal/transform"
)

// ErrNoIntrinsics is returned for a camera without a usable projection matrix.
var ErrNoIntrinsics = errors.New("camera has no projection matrix")

// Intrinsics is what projection needs from a camera: image bounds, the 3x3
// rectification and the 3x4 projection matrix.
type Intrinsics struct {
	Width  int
	Height int

	Rectification *mat.Dense
	Projection    *mat.Dense
}

// IntrinsicsFrom reads the intrinsics out of camera calibration. A missing
// rectification is taken as identity. A 4x4 projection matrix is cut to its
// first three rows.
func IntrinsicsFrom(info *sensor.CameraInformation) (Intrinsics, error) {
	if info == nil || info.ProjectionMtx == nil {
		return Intrinsics{}, ErrNoIntrinsics
	}
	if err := info.ProjectionMtx.Validate(); err != nil {
		return Intrinsics{}, fmt.Errorf("camera %s projection: %w", info.Name, err)
	}
	p := info.ProjectionMtx.Dense()
	switch r, c := p.Dims(); {
	case r == 3 && c == 4:
	case r == 4 && c == 4:
		p = mat.DenseCopyOf(p.Slice(0, 3, 0, 4))
	default:
		return Intrinsics{}, fmt.Errorf("camera %s projection must be 3x4 or 4x4, got %dx%d", info.Name, r, c)
	}

	in := Intrinsics{Width: info.Width, Height: info.Height, Projection: p}
	if info.RectificationMtx != nil {
		if err := info.RectificationMtx.Validate(); err != nil {
			return Intrinsics{}, fmt.Errorf("camera %s rectification: %w", info.Name, err)
		}
		rect := info.RectificationMtx.Dense()
		if r, c := rect.Dims(); r != 3 || c != 3 {
			return Intrinsics{}, fmt.Errorf("camera %s rectification must be 3x3, got %dx%d", info.Name, r, c)
		}
		in.Rectification = rect
	}
	if in.Width <= 0 || in.Height <= 0 {
		return Intrinsics{}, fmt.Errorf("camera %s has no image size", info.Name)
	}
	return in, nil
}

// rect4 embeds the rectification into a 4x4 identity.
func (in Intrinsics) rect4() *mat.Dense {
	m := mat.NewDense(4, 4, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
	if in.Rectification != nil {
		m.Slice(0, 3, 0, 3).(*mat.Dense).Copy(in.Rectification)
	}
	return m
}

// Projection is the set of visible points. The slices run in parallel:
// Points[i] is the original lidar-frame point that lands on Pixels[i] at
// camera depth Depths[i], and Indices[i] is its position in the input.
type Projection struct {
	Points  []r3.Vector
	Pixels  []r2.Point
	Depths  []float64
	Indices []int
}

// Len is the number of visible points.
func (p *Projection) Len() int { return len(p.Points) }

// ProjectPoints maps lidar-frame points through lidarToCam and the camera
// intrinsics. A point is kept iff w' > 0 and its pixel lies in
// [0, Width) x [0, Height).
func ProjectPoints(points []r3.Vector, lidarToCam transform.Transform, in Intrinsics) *Projection {
	// P · rect · T, folded once into a 3x4.
	var rt, full mat.Dense
	rt.Mul(in.rect4(), lidarToCam.Matrix())
	full.Mul(in.Projection, &rt)

	w, h := float64(in.Width), float64(in.Height)
	out := &Projection{}
	for i, p := range points {
		up := full.At(0, 0)*p.X + full.At(0, 1)*p.Y + full.At(0, 2)*p.Z + full.At(0, 3)
		vp := full.At(1, 0)*p.X + full.At(1, 1)*p.Y + full.At(1, 2)*p.Z + full.At(1, 3)
		wp := full.At(2, 0)*p.X + full.At(2, 1)*p.Y + full.At(2, 2)*p.Z + full.At(2, 3)
		if !(wp > 0) {
			continue
		}
		u, v := up/wp, vp/wp
		if !(u >= 0 && u < w && v >= 0 && v < h) {
			continue
		}
		out.Points = append(out.Points, p)
		out.Pixels = append(out.Pixels, r2.Point{X: u, Y: v})
		out.Depths = append(out.Depths, wp)
		out.Indices = append(out.Indices, i)
	}
	return out
}

// Projector projects with a configurable reference-frame policy.
type Projector struct {
	Resolver transform.Resolver
}

// NewProjector returns a projector using r.
func NewProjector(r transform.Resolver) *Projector {
	return &Projector{Resolver: r}
}

// LidarToCamera is T_lidar combined with the inverse of T_camera.
func (p *Projector) LidarToCamera(lidar *sensor.LidarInformation, camera *sensor.CameraInformation) (transform.Transform, error) {
	tl, err := p.Resolver.ForLidar(lidar)
	if err != nil {
		return transform.Transform{}, err
	}
	tc, err := p.Resolver.ForCamera(camera)
	if err != nil {
		return transform.Transform{}, err
	}
	return tl.Combine(tc.Invert()), nil
}

// Project projects the lidar's points onto the camera's image plane. An
// empty projection is a valid result.
func (p *Projector) Project(lidar *sensor.Lidar, camera *sensor.Camera) (*Projection, error) {
	if lidar == nil || camera == nil {
		return nil, errors.New("project: lidar and camera are required")
	}
	tf, err := p.LidarToCamera(lidar.Info, camera.Info)
	if err != nil {
		return nil, fmt.Errorf("project: %w", err)
	}
	in, err := IntrinsicsFrom(camera.Info)
	if err != nil {
		return nil, fmt.Errorf("project: %w", err)
	}
	if lidar.Points == nil {
		return &Projection{}, nil
	}
	pts, err := lidar.Points.Points()
	if err != nil {
		return nil, fmt.Errorf("project: %w", err)
	}
	return ProjectPoints(pts, tf, in), nil
}

func defaultProjector() *Projector {
	return NewProjector(transform.DefaultResolver())
}

// Project projects with the default reference frames.
func Project(lidar *sensor.Lidar, camera *sensor.Camera) (*Projection, error) {
	return defaultProjector().Project(lidar, camera)
}
