package cmd

import (
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/fusion.record/internal/config"
	"github.com/banshee-data/fusion.record/internal/framesvc"
	"github.com/banshee-data/fusion.record/internal/fsutil"
	"github.com/banshee-data/fusion.record/internal/record"
	"github.com/banshee-data/fusion.record/internal/timeutil"
)

var start = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd(fsutil.OSFileSystem{}, timeutil.NewMockClock(start))
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, args...)
	require.NoError(t, err, "fusionrec %s", strings.Join(args, " "))
	return out
}

// synthRecord writes a small record into dir and returns its path.
func synthRecord(t *testing.T, dir, name string, seed, frames int) string {
	t.Helper()
	path := filepath.Join(dir, name+record.FileExtension)
	mustRun(t, "synth", path,
		"--frames", strconv.Itoa(frames), "--seed", strconv.Itoa(seed),
		"--points", "200", "--width", "64", "--height", "48")
	return path
}

func TestVersion(t *testing.T) {
	out := mustRun(t, "version")
	assert.Contains(t, out, "fusionrec")
}

func TestSynthInfoVerify(t *testing.T) {
	dir := t.TempDir()
	path := synthRecord(t, dir, "a", 1, 5)

	out := mustRun(t, "info", path)
	assert.Regexp(t, `frames\s+5\n`, out)
	assert.Contains(t, out, "2024-06-01_12:00:00.000000000")
	assert.Contains(t, out, "2024-06-01_12:00:00.400000000")
	assert.Contains(t, out, "vehicle.cameras.STEREO_LEFT")
	assert.Contains(t, out, "tower.lidars.UPPER_PLATFORM")

	out = mustRun(t, "info", "--describe", path)
	assert.Contains(t, out, "camera_mtx")

	out = mustRun(t, "verify", dir)
	assert.Contains(t, out, "ok   "+path)
}

func TestVerify_Corrupt(t *testing.T) {
	dir := t.TempDir()
	good := synthRecord(t, dir, "good", 1, 2)
	bad := synthRecord(t, dir, "bad", 2, 2)

	b, err := os.ReadFile(bad)
	require.NoError(t, err)
	b[len(b)-1] ^= 0xff
	require.NoError(t, os.WriteFile(bad, b, 0o644))

	out, err := run(t, "verify", good, bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 records failed")
	assert.Contains(t, out, "ok   "+good)
	assert.Contains(t, out, "FAIL "+bad)
}

func TestFrame(t *testing.T) {
	path := synthRecord(t, t.TempDir(), "a", 1, 5)

	out := mustRun(t, "frame", path, "--index", "3")
	assert.Regexp(t, `frame id\s+3\n`, out)
	assert.Contains(t, out, "lidar 200 points")
	assert.Contains(t, out, "camera 64x48")
	assert.NotContains(t, out, "missing")

	// 150ms in: the next frame is index 2.
	out = mustRun(t, "frame", path, "--at", "1717243200.15")
	assert.Regexp(t, `index\s+2\n`, out)

	_, err := run(t, "frame", path, "--index", "9")
	assert.Error(t, err)
}

func TestFrame_DisplayConfig(t *testing.T) {
	dir := t.TempDir()
	path := synthRecord(t, dir, "a", 1, 1)
	cfg := filepath.Join(dir, "fusionrec.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("display:\n  timezone: Europe/Berlin\n  precision: s\n  speed_units: kph\n"), 0o600))

	out := mustRun(t, "frame", path, "--config", cfg)
	assert.Regexp(t, `timestamp\s+2024-06-01_14:00:00\n`, out)
	assert.Regexp(t, `dynamics 1 velocity, 1 heading samples, last [0-9.]+ km/h`, out)
}

func TestFrame_NoTower(t *testing.T) {
	path := filepath.Join(t.TempDir(), "v"+record.FileExtension)
	mustRun(t, "synth", path, "--frames", "1", "--points", "10", "--width", "8", "--height", "6", "--no-tower")

	out := mustRun(t, "frame", path)
	assert.Regexp(t, `missing\s+6 slots`, out)
}

func TestSensorAt(t *testing.T) {
	path := synthRecord(t, t.TempDir(), "a", 1, 1)
	r, err := record.Open(fsutil.OSFileSystem{}, path)
	require.NoError(t, err)
	f, err := r.Frame(0)
	require.NoError(t, err)

	s, err := sensorAt(f, "tower.cameras.VIEW_2")
	require.NoError(t, err)
	assert.Equal(t, "camera", s.Kind().String())

	for _, bad := range []string{"vehicle", "boat.lidars.TOP", "vehicle.lidars.MIDDLE"} {
		_, err := sensorAt(f, bad)
		assert.Error(t, err, bad)
	}
}

func TestProject(t *testing.T) {
	dir := t.TempDir()
	path := synthRecord(t, dir, "a", 1, 1)
	img := filepath.Join(dir, "proj.png")

	out := mustRun(t, "project", path, "--out", img)
	assert.Contains(t, out, "points visible")
	st, err := os.Stat(img)
	require.NoError(t, err)
	assert.Positive(t, st.Size())

	_, err = run(t, "project", path, "--lidar", "vehicle.cameras.FRONT_LEFT", "--out", img)
	assert.ErrorContains(t, err, "not a lidar")
}

func TestReport(t *testing.T) {
	dir := t.TempDir()
	path := synthRecord(t, dir, "a", 1, 3)
	html := filepath.Join(dir, "report.html")

	mustRun(t, "report", path, "-o", html)
	b, err := os.ReadFile(html)
	require.NoError(t, err)
	assert.Contains(t, string(b), "Slot coverage")
}

func TestCatalog(t *testing.T) {
	dir := t.TempDir()
	synthRecord(t, dir, "a", 1, 3)
	synthRecord(t, dir, "b", 2, 2)
	db := filepath.Join(t.TempDir(), "catalog.db")

	out := mustRun(t, "catalog", "index", dir, "--db", db)
	assert.Contains(t, out, "indexed 2 records")

	out = mustRun(t, "catalog", "list", "--db", db)
	assert.Equal(t, 3, strings.Count(out, "\n"), out)

	out = mustRun(t, "catalog", "frames", "--db", db, "--from", "1717243200", "--to", "1717243200.1")
	// Both records start at the same instant: two frames each at 0 and 100ms.
	assert.Equal(t, 5, strings.Count(out, "\n"), out)

	out = mustRun(t, "catalog", "frames", "--db", db, "--at", "1717243200.15")
	assert.Contains(t, out, "2024-06-01_12:00:00.200000000")

	_, err := run(t, "catalog", "frames", "--db", db)
	assert.Error(t, err)
}

func TestRemote(t *testing.T) {
	path := synthRecord(t, t.TempDir(), "a", 1, 4)
	r, err := record.Open(fsutil.OSFileSystem{}, path)
	require.NoError(t, err)

	srv := framesvc.NewServer(timeutil.RealClock{}, nil)
	require.NoError(t, srv.Add(r))
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	gs := framesvc.NewGRPCServer(srv, config.Default().Server)
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)
	addr := lis.Addr().String()

	out := mustRun(t, "remote", "info", "--addr", addr)
	assert.Contains(t, out, r.Header.RecordID.String())
	assert.Regexp(t, `frames\s+4\n`, out)

	out = mustRun(t, "remote", "frame", "--addr", addr, "--index", "1")
	assert.Regexp(t, `frame id\s+1\n`, out)

	out = mustRun(t, "remote", "stream", "--addr", addr, "--start", "1", "--decode")
	assert.Contains(t, out, "3 frames")
	assert.Contains(t, out, "missing=0")

	_, err = run(t, "remote", "info", "--addr", addr, "--record", "nope")
	assert.Error(t, err)
}

func TestBadLogLevel(t *testing.T) {
	_, err := run(t, "--log-level", "loud", "frame", "x")
	assert.ErrorContains(t, err, "logging.level")
}
