// Package transform implements rigid transforms between named sensor frames.
//
// A Transform maps points expressed in its From frame into its To frame. The
// rotation is built from roll, pitch and yaw as R = Rz(yaw)·Ry(pitch)·Rx(roll),
// i.e. the X rotation is applied first, then Y, then Z, all about fixed axes.
package transform

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/fusion.record/internal/sensor"
)

// gimbalLockEpsilon is how close |sin(pitch)| may get to 1 before roll and
// yaw are treated as coupled.
const gimbalLockEpsilon = 1e-9

// Transform is a rigid transform from one named frame to another.
type Transform struct {
	From string
	To   string

	// Translation is x, y, z in metres.
	Translation [3]float64
	// Rotation is roll, pitch, yaw in radians.
	Rotation [3]float64

	m *mat.Dense // 4x4 homogeneous; nil means identity
}

// New builds a transform from a translation and roll, pitch, yaw.
func New(from, to string, translation, rotation [3]float64) Transform {
	return Transform{
		From:        from,
		To:          to,
		Translation: translation,
		Rotation:    rotation,
		m:           homogeneous(translation, rotation),
	}
}

// FromPose builds a transform from a sensor extrinsic.
func FromPose(from, to string, p sensor.Pose) Transform {
	return New(from, to, p.XYZ, p.RPY)
}

// Identity returns the identity transform of a frame onto itself.
func Identity(frame string) Transform {
	return Transform{From: frame, To: frame, m: identity4()}
}

// FromMatrix builds a transform from a 4x4 homogeneous matrix, extracting
// the translation and Euler angles. The matrix is copied.
func FromMatrix(from, to string, m mat.Matrix) (Transform, error) {
	r, c := m.Dims()
	if r != 4 || c != 4 {
		return Transform{}, fmt.Errorf("transform matrix must be 4x4, got %dx%d", r, c)
	}
	d := mat.DenseCopyOf(m)
	if !IsValidTransformMatrix(d) {
		return Transform{}, fmt.Errorf("matrix %s -> %s is not a rigid transform", from, to)
	}
	return fromDense(from, to, d), nil
}

func fromDense(from, to string, d *mat.Dense) Transform {
	return Transform{
		From:        from,
		To:          to,
		Translation: [3]float64{d.At(0, 3), d.At(1, 3), d.At(2, 3)},
		Rotation:    eulerFromMatrix(d),
		m:           d,
	}
}

func (t Transform) dense() *mat.Dense {
	if t.m == nil {
		return identity4()
	}
	return t.m
}

// Matrix returns a copy of the 4x4 homogeneous matrix.
func (t Transform) Matrix() *mat.Dense {
	return mat.DenseCopyOf(t.dense())
}

// Combine chains t with other: the result maps t.From into other.To by
// applying t first and then other. Its matrix is other·t.
func (t Transform) Combine(other Transform) Transform {
	var prod mat.Dense
	prod.Mul(other.dense(), t.dense())
	return fromDense(t.From, other.To, &prod)
}

// Invert returns the transform from t.To back to t.From.
func (t Transform) Invert() Transform {
	m := t.dense()
	inv := identity4()
	// Rigid inverse: R' = Rᵀ, t' = -Rᵀ·t.
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			inv.Set(i, j, m.At(j, i))
		}
	}
	for i := 0; i < 3; i++ {
		var s float64
		for j := 0; j < 3; j++ {
			s -= m.At(j, i) * m.At(j, 3)
		}
		inv.Set(i, 3, s)
	}
	return fromDense(t.To, t.From, inv)
}

// Apply maps p from t.From into t.To.
func (t Transform) Apply(p r3.Vector) r3.Vector {
	m := t.dense()
	return r3.Vector{
		X: m.At(0, 0)*p.X + m.At(0, 1)*p.Y + m.At(0, 2)*p.Z + m.At(0, 3),
		Y: m.At(1, 0)*p.X + m.At(1, 1)*p.Y + m.At(1, 2)*p.Z + m.At(1, 3),
		Z: m.At(2, 0)*p.X + m.At(2, 1)*p.Y + m.At(2, 2)*p.Z + m.At(2, 3),
	}
}

// ApplyAll maps every point. The input is not modified.
func (t Transform) ApplyAll(points []r3.Vector) []r3.Vector {
	out := make([]r3.Vector, len(points))
	for i, p := range points {
		out[i] = t.Apply(p)
	}
	return out
}

// Equal reports whether both transforms join the same frames and their
// matrices agree element-wise within tol.
func (t Transform) Equal(other Transform, tol float64) bool {
	return t.From == other.From && t.To == other.To &&
		mat.EqualApprox(t.dense(), other.dense(), tol)
}

// IsIdentity reports whether the matrix is the identity within tol.
func (t Transform) IsIdentity(tol float64) bool {
	return mat.EqualApprox(t.dense(), identity4(), tol)
}

func (t Transform) String() string {
	return fmt.Sprintf("%s -> %s translation=[%.3f, %.3f, %.3f] rotation=[%.3f, %.3f, %.3f]",
		t.From, t.To,
		t.Translation[0], t.Translation[1], t.Translation[2],
		t.Rotation[0], t.Rotation[1], t.Rotation[2])
}

func identity4() *mat.Dense {
	return mat.NewDense(4, 4, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
}

// RotationMatrix returns Rz(yaw)·Ry(pitch)·Rx(roll) as a 3x3 matrix.
func RotationMatrix(roll, pitch, yaw float64) *mat.Dense {
	sr, cr := math.Sincos(roll)
	sp, cp := math.Sincos(pitch)
	sy, cy := math.Sincos(yaw)
	return mat.NewDense(3, 3, []float64{
		cy * cp, cy*sp*sr - sy*cr, cy*sp*cr + sy*sr,
		sy * cp, sy*sp*sr + cy*cr, sy*sp*cr - cy*sr,
		-sp, cp * sr, cp * cr,
	})
}

func homogeneous(translation, rotation [3]float64) *mat.Dense {
	r := RotationMatrix(rotation[0], rotation[1], rotation[2])
	m := identity4()
	m.Slice(0, 3, 0, 3).(*mat.Dense).Copy(r)
	for i := 0; i < 3; i++ {
		m.Set(i, 3, translation[i])
	}
	return m
}

// eulerFromMatrix inverts RotationMatrix. Near pitch = ±90° roll is fixed at
// zero and the combined angle is reported as yaw.
func eulerFromMatrix(m mat.Matrix) [3]float64 {
	r20 := m.At(2, 0)
	pitch := math.Asin(math.Max(-1, math.Min(1, -r20)))
	if math.Abs(r20) > 1-gimbalLockEpsilon {
		return [3]float64{0, pitch, math.Atan2(-m.At(0, 1), m.At(1, 1))}
	}
	roll := math.Atan2(m.At(2, 1), m.At(2, 2))
	yaw := math.Atan2(m.At(1, 0), m.At(0, 0))
	return [3]float64{roll, pitch, yaw}
}
