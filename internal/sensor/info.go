// Package sensor pairs static calibration information with the payloads a
// sensor produced for one frame.
package sensor

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/fusion.record/internal/payload"
)

// Pose is a sensor's fixed offset from its reference frame: translation in
// metres and roll, pitch, yaw in radians.
type Pose struct {
	XYZ [3]float64 `cbor:"xyz"`
	RPY [3]float64 `cbor:"rpy"`
}

func (p Pose) String() string {
	return fmt.Sprintf("Pose(xyz=%v, rpy=%v)", p.XYZ, p.RPY)
}

// Matrix is a dense row-major calibration matrix.
type Matrix struct {
	Rows int       `cbor:"rows"`
	Cols int       `cbor:"cols"`
	Data []float64 `cbor:"data"`
}

// NewMatrix copies data into a rows x cols matrix. It panics if the sizes
// disagree, as mat.NewDense does.
func NewMatrix(rows, cols int, data []float64) *Matrix {
	if len(data) != rows*cols {
		panic(fmt.Sprintf("sensor: matrix %dx%d needs %d values, got %d", rows, cols, rows*cols, len(data)))
	}
	return &Matrix{Rows: rows, Cols: cols, Data: append([]float64(nil), data...)}
}

// MatrixFromDense copies a gonum matrix.
func MatrixFromDense(m mat.Matrix) *Matrix {
	r, c := m.Dims()
	out := &Matrix{Rows: r, Cols: c, Data: make([]float64, 0, r*c)}
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out.Data = append(out.Data, m.At(i, j))
		}
	}
	return out
}

// Dense returns a copy as a gonum matrix.
func (m *Matrix) Dense() *mat.Dense {
	return mat.NewDense(m.Rows, m.Cols, append([]float64(nil), m.Data...))
}

// Validate checks the declared shape against the data length.
func (m *Matrix) Validate() error {
	if m.Rows <= 0 || m.Cols <= 0 || len(m.Data) != m.Rows*m.Cols {
		return fmt.Errorf("matrix shape %dx%d does not match %d values", m.Rows, m.Cols, len(m.Data))
	}
	return nil
}

func (m *Matrix) String() string {
	rows := make([][]float64, m.Rows)
	for i := range rows {
		rows[i] = m.Data[i*m.Cols : (i+1)*m.Cols]
	}
	return fmt.Sprint(rows)
}

// ROI is a camera region of interest in pixels.
type ROI struct {
	XOffset int `cbor:"x_offset"`
	YOffset int `cbor:"y_offset"`
	Width   int `cbor:"width"`
	Height  int `cbor:"height"`
}

func (r ROI) String() string {
	return fmt.Sprintf("ROI(x_offset=%d, y_offset=%d, width=%d, height=%d)", r.XOffset, r.YOffset, r.Width, r.Height)
}

// TransformationMtx is the stereo pair offset between the two stereo cameras.
type TransformationMtx struct {
	Rotation    *Matrix    `cbor:"rotation"`
	Translation [3]float64 `cbor:"translation"`
}

func (t TransformationMtx) String() string {
	return fmt.Sprintf("TransformationMtx(rotation=%v, translation=%v)", t.Rotation, t.Translation)
}

// CameraInformation is the calibration of one camera.
type CameraInformation struct {
	Name             string             `cbor:"name"`
	ModelName        string             `cbor:"model_name"`
	Width            int                `cbor:"width"`
	Height           int                `cbor:"height"`
	DistortionType   string             `cbor:"distortion_type"`
	CameraMtx        *Matrix            `cbor:"camera_mtx"`
	DistortionMtx    *Matrix            `cbor:"distortion_mtx"`
	RectificationMtx *Matrix            `cbor:"rectification_mtx"`
	ProjectionMtx    *Matrix            `cbor:"projection_mtx"`
	ROI              *ROI               `cbor:"roi"`
	CameraType       string             `cbor:"camera_type"`
	FocalLength      int                `cbor:"focal_length"`
	Aperture         int                `cbor:"aperture"`
	ExposureTime     int                `cbor:"exposure_time"`
	Extrinsic        *Pose              `cbor:"extrinsic"`
	StereoTransform  *TransformationMtx `cbor:"stereo_transform"`
}

// Describe flattens the calibration into display strings. Unset fields read
// "N/A".
func (c *CameraInformation) Describe() map[string]string {
	str := func(s string) string {
		if s == "" {
			return "N/A"
		}
		return s
	}
	num := func(v int) string {
		if v == 0 {
			return "N/A"
		}
		return fmt.Sprint(v)
	}
	out := map[string]string{
		"name":               str(c.Name),
		"model_name":         str(c.ModelName),
		"shape":              fmt.Sprintf("%d, %d", c.Width, c.Height),
		"distortion_type":    str(c.DistortionType),
		"camera_type":        str(c.CameraType),
		"focal_length":       num(c.FocalLength),
		"aperture":           num(c.Aperture),
		"exposure_time":      num(c.ExposureTime),
		"camera_mtx":         "N/A",
		"distortion_mtx":     "N/A",
		"rectification_mtx":  "N/A",
		"projection_mtx":     "N/A",
		"region_of_interest": "N/A",
		"extrinsic":          "N/A",
		"stereo_transform":   "N/A",
	}
	for key, m := range map[string]*Matrix{
		"camera_mtx":        c.CameraMtx,
		"distortion_mtx":    c.DistortionMtx,
		"rectification_mtx": c.RectificationMtx,
		"projection_mtx":    c.ProjectionMtx,
	} {
		if m != nil {
			out[key] = m.String()
		}
	}
	if c.ROI != nil {
		out["region_of_interest"] = c.ROI.String()
	}
	if c.Extrinsic != nil {
		out["extrinsic"] = c.Extrinsic.String()
	}
	if c.StereoTransform != nil {
		out["stereo_transform"] = c.StereoTransform.String()
	}
	return out
}

// DescribeKeys returns Describe's keys in a stable order for printing.
func DescribeKeys(d map[string]string) []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// LidarInformation is the calibration of one lidar. Which vendor block is
// populated depends on the name, see payload.SchemaFor.
type LidarInformation struct {
	Name      string              `cbor:"name"`
	ModelName string              `cbor:"model_name"`
	Extrinsic *Pose               `cbor:"extrinsic"`
	Schema    payload.PointSchema `cbor:"schema"`

	// Ouster
	BeamAltitudeAngles        []float64 `cbor:"beam_altitude_angles,omitempty"`
	BeamAzimuthAngles         []float64 `cbor:"beam_azimuth_angles,omitempty"`
	LidarOriginToBeamOriginMM float64   `cbor:"lidar_origin_to_beam_origin_mm,omitempty"`
	HorizontalScanlines       int       `cbor:"horizontal_scanlines,omitempty"`
	VerticalScanlines         int       `cbor:"vertical_scanlines,omitempty"`
	PhaseLockOffset           int       `cbor:"phase_lock_offset,omitempty"`
	LidarToSensorTransform    *Matrix   `cbor:"lidar_to_sensor_transform,omitempty"`

	// Blickfeld
	VerticalFOV            float64 `cbor:"vertical_fov,omitempty"`
	HorizontalFOV          float64 `cbor:"horizontal_fov,omitempty"`
	HorizontalAngleSpacing float64 `cbor:"horizontal_angle_spacing,omitempty"`
	FrameMode              string  `cbor:"frame_mode,omitempty"`
	ScanPattern            string  `cbor:"scan_pattern,omitempty"`
}

// NewLidarInformation returns information with the record schema chosen from
// the name.
func NewLidarInformation(name, model string, extrinsic *Pose) *LidarInformation {
	return &LidarInformation{
		Name:      name,
		ModelName: model,
		Extrinsic: extrinsic,
		Schema:    payload.SchemaFor(name),
	}
}

// IsBlickfeld reports whether the lidar uses the Blickfeld record layout.
func (l *LidarInformation) IsBlickfeld() bool {
	return l.Schema.Name == payload.BlickfeldSchema.Name
}

// IMUInformation is the mounting of the inertial unit.
type IMUInformation struct {
	ModelName string `cbor:"model_name"`
	Extrinsic *Pose  `cbor:"extrinsic"`
}

// GNSSInformation is the mounting of the GNSS receiver.
type GNSSInformation struct {
	ModelName string `cbor:"model_name"`
	Extrinsic *Pose  `cbor:"extrinsic"`
}

// DynamicsInformation names the topics velocity and heading were taken from.
type DynamicsInformation struct {
	VelocitySource string `cbor:"velocity_source"`
	HeadingSource  string `cbor:"heading_source"`
}

// VehicleInformation and TowerInformation describe the agent itself. They
// live in the record header only.
type VehicleInformation struct {
	ModelName string `cbor:"model_name"`
	Extrinsic *Pose  `cbor:"extrinsic"`
}

type TowerInformation struct {
	ModelName string `cbor:"model_name"`
	Extrinsic *Pose  `cbor:"extrinsic"`
}
