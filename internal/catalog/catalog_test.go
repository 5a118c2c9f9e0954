package catalog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/fusion.record/internal/fsutil"
	"github.com/banshee-data/fusion.record/internal/payload"
	"github.com/banshee-data/fusion.record/internal/record"
	"github.com/banshee-data/fusion.record/internal/synth"
	"github.com/banshee-data/fusion.record/internal/timeutil"
)

var base = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func setupTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

// writeRecords writes one three-frame record per offset into /records.
func writeRecords(t *testing.T, offsets ...time.Duration) *fsutil.MemoryFileSystem {
	t.Helper()
	fs := fsutil.NewMemoryFileSystem()
	require.NoError(t, fs.MkdirAll("/records", 0o755))
	for i, off := range offsets {
		cfg := synth.DefaultConfig()
		cfg.PointsPerLidar = 10
		cfg.ImageWidth, cfg.ImageHeight = 4, 4
		cfg.Seed = int64(i + 1)
		path := filepath.Join("/records", string(rune('a'+i))+record.FileExtension)
		require.NoError(t, synth.WriteRecord(fs, path, cfg, timeutil.NewMockClock(base.Add(off)), nil, 3))
	}
	return fs
}

func ts(d time.Duration) payload.Timestamp {
	return payload.FromTime(base.Add(d))
}

func TestOpen_MigratesOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	c, err := Open(path)
	require.NoError(t, err)
	v, dirty, err := c.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), v)
	assert.False(t, dirty)
	require.NoError(t, c.Close())

	c, err = Open(path)
	require.NoError(t, err)
	defer c.Close()
	v, _, err = c.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), v)

	require.NoError(t, c.MigrateDown())
	v, _, err = c.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), v)
}

func TestIndexDir_AndQueries(t *testing.T) {
	ctx := context.Background()
	c := setupTestCatalog(t)
	fs := writeRecords(t, 10*time.Second, 0, time.Second)

	n, err := c.IndexDir(ctx, fs, "/records", 2)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	recs, err := c.Records(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "/records/b"+record.FileExtension, recs[0].Path)
	assert.Equal(t, "/records/c"+record.FileExtension, recs[1].Path)
	assert.Equal(t, "/records/a"+record.FileExtension, recs[2].Path)
	assert.Equal(t, 3, recs[0].FrameCount)
	assert.Equal(t, ts(0), recs[0].Start)
	assert.Equal(t, ts(200*time.Millisecond), recs[0].End)
	assert.Len(t, recs[0].HeaderSHA256, 64)
	assert.Positive(t, recs[0].SizeBytes)

	got, err := c.Record(ctx, recs[1].RecordID)
	require.NoError(t, err)
	assert.Equal(t, recs[1], got)

	frames, err := c.FramesBetween(ctx, ts(time.Second), ts(1150*time.Millisecond))
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, recs[1].RecordID, frames[0].RecordID)
	assert.Equal(t, 0, frames[0].FrameIndex)
	assert.Equal(t, 1, frames[1].FrameIndex)
	assert.Equal(t, ts(1100*time.Millisecond), frames[1].Timestamp)

	at, err := c.FrameAt(ctx, ts(1050*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, recs[1].Path, at.Path)
	assert.Equal(t, 1, at.FrameIndex)
	assert.Equal(t, uint64(1), at.FrameID)
	assert.Positive(t, at.LengthBytes)

	_, err = c.FrameAt(ctx, ts(time.Minute))
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := c.Frames(ctx, recs[2].RecordID)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	slots, err := c.Slots(ctx, recs[0].RecordID)
	require.NoError(t, err)
	assert.Len(t, slots, 18)
	assert.Contains(t, slots, "vehicle.cameras.BACK_LEFT")
}

func TestIndexRecord_Replaces(t *testing.T) {
	ctx := context.Background()
	c := setupTestCatalog(t)
	fs := writeRecords(t, 0)
	path := "/records/a" + record.FileExtension

	require.NoError(t, c.IndexFile(ctx, fs, path))
	require.NoError(t, c.IndexFile(ctx, fs, path))

	recs, err := c.Records(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	frames, err := c.Frames(ctx, recs[0].RecordID)
	require.NoError(t, err)
	assert.Len(t, frames, 3)
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	c := setupTestCatalog(t)
	fs := writeRecords(t, 0)
	_, err := c.IndexDir(ctx, fs, "/records", 1)
	require.NoError(t, err)
	recs, err := c.Records(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	id := recs[0].RecordID

	require.NoError(t, c.Remove(ctx, id))
	_, err = c.Record(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
	frames, err := c.Frames(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, frames)

	assert.ErrorIs(t, c.Remove(ctx, id), ErrNotFound)
}

func TestIndexDir_CorruptRecord(t *testing.T) {
	ctx := context.Background()
	c := setupTestCatalog(t)
	fs := writeRecords(t, 0)
	require.NoError(t, fs.WriteFile("/records/z"+record.FileExtension, []byte{0, 0, 0, 1}, 0o644))

	_, err := c.IndexDir(ctx, fs, "/records", 1)
	assert.Error(t, err)

	_, err = c.IndexDir(ctx, fs, "/missing", 1)
	assert.Error(t, err)
}

func TestIndexRecord_EmptyRecord(t *testing.T) {
	ctx := context.Background()
	c := setupTestCatalog(t)
	fs := fsutil.NewMemoryFileSystem()
	require.NoError(t, fs.MkdirAll("/records", 0o755))
	w, err := synth.NewGenerator(synth.DefaultConfig(), timeutil.NewMockClock(base)).Record(0)
	require.NoError(t, err)
	require.NoError(t, w.WriteFile(fs, "/records/empty"+record.FileExtension))

	require.NoError(t, c.IndexFile(ctx, fs, "/records/empty"+record.FileExtension))
	recs, err := c.Records(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 0, recs[0].FrameCount)
	assert.Equal(t, payload.Timestamp(0), recs[0].Start)
}
