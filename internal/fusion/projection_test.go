package fusion

import (
	"bytes"
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/fusion.record/internal/agent"
	"github.com/banshee-data/fusion.record/internal/payload"
	"github.com/banshee-data/fusion.record/internal/sensor"
	"github.com/banshee-data/fusion.record/internal/testutil"
	"github.com/banshee-data/fusion.record/internal/transform"
)

const ts payload.Timestamp = 1721318705000000000

func hdIntrinsics() Intrinsics {
	return Intrinsics{
		Width:         1920,
		Height:        1080,
		Rectification: mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1}),
		Projection: mat.NewDense(3, 4, []float64{
			1000, 0, 960, 0,
			0, 1000, 540, 0,
			0, 0, 1, 0,
		}),
	}
}

func unitIntrinsics(w, h int) Intrinsics {
	return Intrinsics{
		Width:      w,
		Height:     h,
		Projection: mat.NewDense(3, 4, []float64{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0}),
	}
}

func lidarWith(t *testing.T, name string, pose sensor.Pose, pts ...r3.Vector) *sensor.Lidar {
	t.Helper()
	info := testutil.LidarInfo(name, pose)
	pc, err := payload.PointCloudFromXYZ(info.Schema, ts, pts)
	require.NoError(t, err)
	return &sensor.Lidar{Info: info, Points: pc}
}

func cameraWith(name string, pose sensor.Pose) *sensor.Camera {
	c := testutil.Camera(name, ts)
	c.Info = testutil.CameraInfo(name, pose)
	return c
}

func TestProjectPoints_HDExample(t *testing.T) {
	id := transform.Identity("cam")
	proj := ProjectPoints([]r3.Vector{{Z: 2}, {Z: -1}}, id, hdIntrinsics())

	require.Equal(t, 1, proj.Len())
	assert.Equal(t, r3.Vector{Z: 2}, proj.Points[0])
	assert.Equal(t, r2.Point{X: 960, Y: 540}, proj.Pixels[0])
	assert.Equal(t, []float64{2}, proj.Depths)
	assert.Equal(t, []int{0}, proj.Indices)
}

func TestProjectPoints_Boundaries(t *testing.T) {
	tests := []struct {
		name string
		p    r3.Vector
		kept bool
	}{
		{"origin pixel u=0 v=0", r3.Vector{Z: 1}, true},
		{"w' = 0", r3.Vector{X: 1, Y: 1}, false},
		{"behind camera", r3.Vector{X: -1, Y: -1, Z: -1}, false},
		{"u = width", r3.Vector{X: 4, Z: 1}, false},
		{"v = height", r3.Vector{Y: 3, Z: 1}, false},
		{"just inside", r3.Vector{X: 3.5, Y: 2.5, Z: 1}, true},
		{"negative u", r3.Vector{X: -0.001, Z: 1}, false},
		{"nan", r3.Vector{X: math.NaN(), Z: 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proj := ProjectPoints([]r3.Vector{tt.p}, transform.Identity("c"), unitIntrinsics(4, 3))
			assert.Equal(t, tt.kept, proj.Len() == 1)
		})
	}
}

func TestProjectPoints_EmptyIsValid(t *testing.T) {
	proj := ProjectPoints(nil, transform.Identity("c"), hdIntrinsics())
	assert.Equal(t, 0, proj.Len())

	proj = ProjectPoints([]r3.Vector{{Z: -1}, {Z: -5}}, transform.Identity("c"), hdIntrinsics())
	assert.Equal(t, 0, proj.Len())
}

func TestProjectPoints_KeepsInputOrder(t *testing.T) {
	pts := []r3.Vector{{Z: 2}, {Z: -1}, {X: 0.1, Z: 2}, {X: 100, Z: 1}, {Y: -0.1, Z: 2}}
	proj := ProjectPoints(pts, transform.Identity("c"), hdIntrinsics())

	assert.Equal(t, []int{0, 2, 4}, proj.Indices)
	for i, idx := range proj.Indices {
		assert.Equal(t, pts[idx], proj.Points[i])
	}
	assert.InDelta(t, 1010, proj.Pixels[1].X, 1e-9)
	assert.InDelta(t, 490, proj.Pixels[2].Y, 1e-9)
}

func TestProjectPoints_AppliesRectification(t *testing.T) {
	in := hdIntrinsics()
	// Swap x and y before projecting.
	in.Rectification = mat.NewDense(3, 3, []float64{0, 1, 0, 1, 0, 0, 0, 0, 1})
	proj := ProjectPoints([]r3.Vector{{X: 0.2, Z: 2}}, transform.Identity("c"), in)
	require.Equal(t, 1, proj.Len())
	assert.InDelta(t, 960, proj.Pixels[0].X, 1e-9)
	assert.InDelta(t, 640, proj.Pixels[0].Y, 1e-9)
}

func TestProject_CameraBehindReference(t *testing.T) {
	// The camera sits 1 m back along its optical axis, so the reference
	// origin is 1 m in front of it and lands on the principal point.
	cam := cameraWith("FRONT_LEFT", sensor.Pose{XYZ: [3]float64{0, 0, -1}})
	lidar := lidarWith(t, "TOP", sensor.Pose{}, r3.Vector{})

	proj, err := Project(lidar, cam)
	require.NoError(t, err)
	require.Equal(t, 1, proj.Len())
	assert.InDelta(t, 1, proj.Depths[0], 1e-9)
	assert.InDelta(t, testutil.ImageWidth/2, proj.Pixels[0].X, 1e-9)
	assert.InDelta(t, testutil.ImageHeight/2, proj.Pixels[0].Y, 1e-9)
}

func TestProject_CombineOrder(t *testing.T) {
	// Lidar rotated 90° about z and raised 0.5 m; camera shifted in x and
	// pulled back 1 m. Applying the lidar transform first gives the point
	// (-0.5, 1, 2.5) in the camera frame; the reverse order would give
	// (0, 0.5, 1.5).
	lidar := lidarWith(t, "TOP",
		sensor.Pose{XYZ: [3]float64{0, 0, 0.5}, RPY: [3]float64{0, 0, math.Pi / 2}},
		r3.Vector{X: 1})
	cam := cameraWith("FRONT_LEFT", sensor.Pose{XYZ: [3]float64{0.5, 0, -1}})

	proj, err := Project(lidar, cam)
	require.NoError(t, err)
	require.Equal(t, 1, proj.Len())
	assert.InDelta(t, 2.5, proj.Depths[0], 1e-6)
	assert.InDelta(t, 3.2, proj.Pixels[0].X, 1e-6)
	assert.InDelta(t, 4.6, proj.Pixels[0].Y, 1e-6)

	tf, err := defaultProjector().LidarToCamera(lidar.Info, cam.Info)
	require.NoError(t, err)
	assert.Equal(t, "lidar_TOP/os_sensor", tf.From)
	assert.Equal(t, "cam_FRONT_LEFT", tf.To)
}

func TestProject_Errors(t *testing.T) {
	lidar := lidarWith(t, "TOP", sensor.Pose{}, r3.Vector{Z: 1})

	_, err := Project(nil, cameraWith("FRONT_LEFT", sensor.Pose{}))
	assert.Error(t, err)

	noPose := cameraWith("FRONT_LEFT", sensor.Pose{})
	noPose.Info.Extrinsic = nil
	_, err = Project(lidar, noPose)
	assert.ErrorIs(t, err, transform.ErrNoExtrinsic)

	noP := cameraWith("FRONT_LEFT", sensor.Pose{})
	noP.Info.ProjectionMtx = nil
	_, err = Project(lidar, noP)
	assert.ErrorIs(t, err, ErrNoIntrinsics)

	badRect := cameraWith("FRONT_LEFT", sensor.Pose{})
	badRect.Info.RectificationMtx = sensor.NewMatrix(2, 2, []float64{1, 0, 0, 1})
	_, err = Project(lidar, badRect)
	assert.Error(t, err)
}

func TestProject_NoPointsIsEmpty(t *testing.T) {
	lidar := &sensor.Lidar{Info: testutil.LidarInfo("TOP", sensor.Pose{})}
	proj, err := Project(lidar, cameraWith("FRONT_LEFT", sensor.Pose{}))
	require.NoError(t, err)
	assert.Equal(t, 0, proj.Len())
}

func TestIntrinsicsFrom(t *testing.T) {
	info := testutil.CameraInfo("BACK_LEFT", sensor.Pose{})
	in, err := IntrinsicsFrom(info)
	require.NoError(t, err)
	assert.Equal(t, testutil.ImageWidth, in.Width)
	r, c := in.Projection.Dims()
	assert.Equal(t, [2]int{3, 4}, [2]int{r, c})

	info.ProjectionMtx = sensor.NewMatrix(4, 4, []float64{
		4, 0, 4, 0,
		0, 4, 3, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
	in, err = IntrinsicsFrom(info)
	require.NoError(t, err)
	r, c = in.Projection.Dims()
	assert.Equal(t, [2]int{3, 4}, [2]int{r, c})
	assert.Equal(t, 3.0, in.Projection.At(1, 2))

	info.ProjectionMtx = sensor.NewMatrix(3, 3, make([]float64, 9))
	_, err = IntrinsicsFrom(info)
	assert.Error(t, err)

	info = testutil.CameraInfo("BACK_LEFT", sensor.Pose{})
	info.RectificationMtx = nil
	in, err = IntrinsicsFrom(info)
	require.NoError(t, err)
	assert.Nil(t, in.Rectification)
	assert.True(t, mat.Equal(in.rect4(), transform.Identity("x").Matrix()))
}

func TestToReferenceAndCombine(t *testing.T) {
	left := lidarWith(t, "LEFT", sensor.Pose{XYZ: [3]float64{0, 1, 0}}, r3.Vector{X: 1}, r3.Vector{X: 2})
	right := lidarWith(t, "RIGHT", sensor.Pose{XYZ: [3]float64{0, -1, 0}}, r3.Vector{X: 3})

	pts, err := ToReference(left)
	require.NoError(t, err)
	assert.Equal(t, []r3.Vector{{X: 1, Y: 1}, {X: 2, Y: 1}}, pts)

	all, err := CombineLidarPoints(left, nil, right)
	require.NoError(t, err)
	assert.Equal(t, []r3.Vector{{X: 1, Y: 1}, {X: 2, Y: 1}, {X: 3, Y: -1}}, all)

	none, err := ToReference(nil)
	require.NoError(t, err)
	assert.Empty(t, none)

	uncalibrated := lidarWith(t, "TOP", sensor.Pose{}, r3.Vector{})
	uncalibrated.Info.Extrinsic = nil
	_, err = CombineLidarPoints(left, uncalibrated)
	assert.ErrorIs(t, err, transform.ErrNoExtrinsic)
}

func TestAgentPoints(t *testing.T) {
	p := defaultProjector()
	v := testutil.Vehicle(ts)
	pts, err := p.VehiclePoints(v)
	require.NoError(t, err)
	assert.Len(t, pts, 4+8+4)

	v.Lidars.Top = nil
	pts, err = p.VehiclePoints(v)
	require.NoError(t, err)
	assert.Len(t, pts, 8)

	pts, err = p.TowerPoints(testutil.Tower(ts))
	require.NoError(t, err)
	assert.Len(t, pts, 5+5+6)

	pts, err = p.TowerPoints(&agent.Tower{})
	require.NoError(t, err)
	assert.Empty(t, pts)
}

func TestPlotProjection(t *testing.T) {
	cam := cameraWith("FRONT_LEFT", sensor.Pose{XYZ: [3]float64{0, 0, -1}})
	lidar := testutil.Lidar("TOP", ts, 8)
	lidar.Info.Extrinsic = &sensor.Pose{RPY: [3]float64{0, -math.Pi / 2, 0}}
	proj, err := Project(lidar, cam)
	require.NoError(t, err)

	var buf bytes.Buffer
	err = PlotProjection(&buf, proj, testutil.ImageWidth, testutil.ImageHeight, PlotOptions{
		Title:      "FRONT_LEFT",
		Background: cam.Image,
	})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("\x89PNG")), "expected PNG output")

	buf.Reset()
	require.NoError(t, PlotProjection(&buf, &Projection{}, 10, 10, PlotOptions{Format: "svg"}))
	assert.Contains(t, buf.String(), "<svg")

	assert.Error(t, PlotProjection(&buf, proj, 0, 10, PlotOptions{}))
}
