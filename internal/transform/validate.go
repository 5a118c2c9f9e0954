package transform

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/fusion.record/internal/sensor"
)

// MatrixValidationTolerance is the tolerance for checking rotation matrix validity.
const MatrixValidationTolerance = 0.01

// ValidationResult contains the result of transform validation.
type ValidationResult struct {
	Valid  bool
	Issues []string
}

// IsValidTransformMatrix checks if a 4x4 matrix is a valid rigid transform.
// A valid rigid transform has:
// 1. Orthonormal rotation submatrix with det ≈ 1
// 2. Last row is [0 0 0 1]
func IsValidTransformMatrix(m mat.Matrix) bool {
	if r, c := m.Dims(); r != 4 || c != 4 {
		return false
	}
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			if v := m.At(i, j); math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}

	rot := mat.DenseCopyOf(m).Slice(0, 3, 0, 3)
	if math.Abs(mat.Det(rot)-1.0) > MatrixValidationTolerance {
		return false
	}
	var rrt mat.Dense
	rrt.Mul(rot, rot.T())
	if !mat.EqualApprox(&rrt, eye3(), MatrixValidationTolerance) {
		return false
	}

	if m.At(3, 0) != 0 || m.At(3, 1) != 0 || m.At(3, 2) != 0 || math.Abs(m.At(3, 3)-1.0) > 0.001 {
		return false
	}
	return true
}

func eye3() *mat.Dense {
	return mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
}

// Validate checks that t names both frames and carries a rigid matrix.
func Validate(t Transform) ValidationResult {
	result := ValidationResult{Issues: make([]string, 0)}

	if t.From == "" {
		result.Issues = append(result.Issues, "source frame is empty")
	}
	if t.To == "" {
		result.Issues = append(result.Issues, "target frame is empty")
	}
	if !IsValidTransformMatrix(t.dense()) {
		result.Issues = append(result.Issues, "invalid transform matrix (not proper rigid transform)")
	}
	if t.From != "" && t.From == t.To && !t.IsIdentity(MatrixValidationTolerance) {
		result.Issues = append(result.Issues, fmt.Sprintf("frame %s maps onto itself with a non-identity transform", t.From))
	}

	result.Valid = len(result.Issues) == 0
	return result
}

// ValidatePose checks an extrinsic for non-finite values.
func ValidatePose(p *sensor.Pose) ValidationResult {
	result := ValidationResult{Issues: make([]string, 0)}
	if p == nil {
		result.Issues = append(result.Issues, "pose is nil")
		return result
	}
	for i, v := range p.XYZ {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			result.Issues = append(result.Issues, fmt.Sprintf("xyz[%d] is %v", i, v))
		}
	}
	for i, v := range p.RPY {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			result.Issues = append(result.Issues, fmt.Sprintf("rpy[%d] is %v", i, v))
		}
	}
	result.Valid = len(result.Issues) == 0
	return result
}
