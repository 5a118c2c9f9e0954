package record

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/fusion.record/internal/agent"
	"github.com/banshee-data/fusion.record/internal/blockio"
	"github.com/banshee-data/fusion.record/internal/fsutil"
	"github.com/banshee-data/fusion.record/internal/payload"
	"github.com/banshee-data/fusion.record/internal/testutil"
)

const baseTs payload.Timestamp = 1721318705000000000

func fullFrame(id uint64) *Frame {
	ts := baseTs + payload.Timestamp(id)*100_000_000
	return &Frame{
		FrameID:   id,
		Timestamp: ts,
		Version:   agent.CurrentVersion,
		Vehicle:   testutil.Vehicle(ts),
		Tower:     testutil.Tower(ts),
	}
}

func buildRecord(t *testing.T, frames ...*Frame) ([]byte, *Header) {
	t.Helper()
	h := NewHeader(uuid.MustParse("6f1c1b2e-8d4a-4f5e-9a61-3c2b7d9e0f11"), int64(baseTs))
	w := NewWriter(h)
	for _, f := range frames {
		require.NoError(t, w.Append(f))
	}
	data, err := w.Bytes()
	require.NoError(t, err)
	return data, h
}

func TestFrame_RoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		frame *Frame
	}{
		{"complete", fullFrame(3)},
		{"no tower", &Frame{FrameID: 4, Timestamp: baseTs, Version: agent.CurrentVersion, Vehicle: testutil.Vehicle(baseTs)}},
		{"empty agents", &Frame{FrameID: 5, Timestamp: baseTs, Version: agent.CurrentVersion, Vehicle: &agent.Vehicle{}, Tower: &agent.Tower{}}},
		{"no agents", &Frame{FrameID: 6, Version: agent.CurrentVersion}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := tt.frame.Encode()
			require.NoError(t, err)
			got, err := DecodeFrame(b)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.frame, got); diff != "" {
				t.Errorf("frame mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFrame_ZeroVersionIsNormalised(t *testing.T) {
	f := &Frame{FrameID: 7, Timestamp: baseTs, Vehicle: testutil.Vehicle(baseTs)}
	b, err := f.Encode()
	require.NoError(t, err)
	assert.Equal(t, agent.CurrentVersion, f.Version)

	got, err := DecodeFrame(b)
	require.NoError(t, err)
	if diff := cmp.Diff(f, got); diff != "" {
		t.Errorf("frame mismatch (-want +got):\n%s", diff)
	}
}

func TestFrame_DecodeErrors(t *testing.T) {
	good, err := fullFrame(1).Encode()
	require.NoError(t, err)

	tests := []struct {
		name string
		data []byte
	}{
		{"trailing block", blockio.AppendBlock(bytes.Clone(good), []byte("x"))},
		{"two blocks", blockio.AppendBlock(blockio.AppendBlock(nil, nil), nil)},
		{"truncated", good[:len(good)-10]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeFrame(tt.data)
			assert.ErrorIs(t, err, blockio.ErrMalformedFrame)
		})
	}

	f := &Frame{FrameID: 1, Version: 42, Vehicle: &agent.Vehicle{}}
	_, err = f.Encode()
	assert.ErrorIs(t, err, blockio.ErrMalformedFrame, "encoding with an unknown layout version")
}

func TestFrame_UnknownVersionOnDecode(t *testing.T) {
	// Hand-build a meta block that names version 7.
	b, err := (&Frame{FrameID: 2, Version: agent.CurrentVersion}).Encode()
	require.NoError(t, err)
	meta, _, err := blockio.ReadBlock(b, 0)
	require.NoError(t, err)
	meta[len(meta)-1] = 7

	_, err = DecodeFrame(b)
	assert.ErrorIs(t, err, blockio.ErrMalformedFrame)
}

func TestFrame_Completeness(t *testing.T) {
	f := fullFrame(0)
	assert.True(t, f.IsComplete())
	assert.Empty(t, f.Missing())

	f.Vehicle.Cameras.StereoRight = nil
	f.Tower.GNSS = nil
	assert.False(t, f.IsComplete())
	assert.Equal(t, []string{"vehicle.cameras.STEREO_RIGHT", "tower.gnss"}, f.Missing())

	f.Tower = nil
	assert.Contains(t, f.Missing(), "tower.lidars.UPPER_PLATFORM")
}

func TestDecodeFrameMeta(t *testing.T) {
	b, err := fullFrame(9).Encode()
	require.NoError(t, err)
	m, err := DecodeFrameMeta(b)
	require.NoError(t, err)
	assert.Equal(t, FrameMeta{FrameID: 9, Timestamp: baseTs + 900_000_000, Version: agent.CurrentVersion}, m)
}

func TestRecord_RoundTrip(t *testing.T) {
	frames := []*Frame{fullFrame(0), fullFrame(1), fullFrame(2)}
	frames[1].Vehicle.Lidars.Left = nil
	data, h := buildRecord(t, frames...)

	r, err := Parse(data)
	require.NoError(t, err)
	require.Equal(t, 3, r.FrameCount())
	assert.Equal(t, len(data), r.Size())
	assert.Equal(t, h.RecordID, r.Header.RecordID)
	assert.Equal(t, h.Names(), r.Header.Names())
	assert.Contains(t, r.Names, "vehicle.cameras.BACK_LEFT")
	assert.Contains(t, r.Names, "tower.lidars.VIEW_2")
	assert.Len(t, r.Names, 18)

	for i, want := range frames {
		got, err := r.Frame(i)
		require.NoError(t, err)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("frame %d mismatch (-want +got):\n%s", i, diff)
		}
	}
}

func TestRecord_EmptyRecord(t *testing.T) {
	data, _ := buildRecord(t)
	r, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, 0, r.FrameCount())
	assert.Empty(t, r.Names)

	_, err = r.Frame(0)
	testutil.AssertErrorIs(t, err, blockio.ErrIndexOutOfRange)
	_, err = r.RawFrame(-1)
	testutil.AssertError(t, err)
}

func TestRecord_HeaderByteFlipIsChecksumMismatch(t *testing.T) {
	data, _ := buildRecord(t, fullFrame(0))
	headerLen, _, err := blockio.ReadUint32(data, 0)
	testutil.AssertNoError(t, err)

	start := blockio.LengthSize + blockio.ChecksumSize
	for i := start; i < start+int(headerLen); i++ {
		corrupt := bytes.Clone(data)
		corrupt[i] ^= 0xff
		_, err := Parse(corrupt)
		var cm *blockio.ChecksumMismatchError
		if !errors.As(err, &cm) {
			t.Fatalf("flip at %d: expected checksum mismatch, got %v", i, err)
		}
		if cm.Section != "header" {
			t.Fatalf("flip at %d: section = %q", i, cm.Section)
		}
	}
}

func TestRecord_FrameByteFlipIsChecksumMismatch(t *testing.T) {
	data, _ := buildRecord(t, fullFrame(0), fullFrame(1))
	// Flip the last byte of the file, which belongs to frame 1.
	data[len(data)-1] ^= 0x01

	r, err := Parse(data)
	require.NoError(t, err, "frame checksums are checked on access")
	_, err = r.Frame(0)
	require.NoError(t, err)
	_, err = r.Frame(1)
	assert.ErrorIs(t, err, blockio.ErrChecksumMismatch)
	assert.ErrorIs(t, r.Verify(), blockio.ErrChecksumMismatch)
}

func TestRecord_RandomAccessMatchesSequential(t *testing.T) {
	frames := []*Frame{fullFrame(0), fullFrame(1), {FrameID: 2, Version: agent.CurrentVersion}, fullFrame(3)}
	data, _ := buildRecord(t, frames...)
	r, err := Parse(data)
	require.NoError(t, err)

	// Walk the file sequentially: skip the header, read the length table,
	// then slice the frame region frame by frame.
	c := blockio.NewCursor(data)
	hl, err := c.NextUint32()
	require.NoError(t, err)
	_, err = c.NextBytes(blockio.ChecksumSize + int(hl))
	require.NoError(t, err)
	n, err := c.NextUint32()
	require.NoError(t, err)
	lengths := make([]int, n)
	for i := range lengths {
		v, err := c.NextUint32()
		require.NoError(t, err)
		lengths[i] = int(v)
	}
	for i, l := range lengths {
		blob, err := c.NextBytes(l)
		require.NoError(t, err)
		seq, err := DecodeFrame(blob[blockio.ChecksumSize:])
		require.NoError(t, err)

		random, err := r.Frame(i)
		require.NoError(t, err)
		if diff := cmp.Diff(seq, random); diff != "" {
			t.Errorf("frame %d differs (-sequential +random):\n%s", i, diff)
		}
		raw, err := r.RawFrame(i)
		require.NoError(t, err)
		assert.Equal(t, blob[blockio.ChecksumSize:], raw)
		fl, err := r.FrameLength(i)
		require.NoError(t, err)
		assert.Equal(t, l, fl)
	}
	assert.True(t, c.Done())
}

func TestRecord_IndexOutOfRange(t *testing.T) {
	data, _ := buildRecord(t, fullFrame(0))
	r, err := Parse(data)
	require.NoError(t, err)

	for _, i := range []int{-1, 1, 100} {
		_, err := r.Frame(i)
		var ie *blockio.IndexOutOfRangeError
		require.True(t, errors.As(err, &ie), "index %d: %v", i, err)
		assert.Equal(t, 1, ie.Count)
	}
}

func TestParse_StructuralErrors(t *testing.T) {
	data, _ := buildRecord(t, fullFrame(0))

	_, err := Parse(data[:2])
	assert.ErrorIs(t, err, blockio.ErrTruncatedData)

	_, err = Parse(data[:len(data)-1])
	assert.ErrorIs(t, err, blockio.ErrTruncatedData)

	_, err = Parse(append(bytes.Clone(data), 0))
	assert.ErrorIs(t, err, blockio.ErrMalformedFrame)

	// A frame count the file cannot hold must not allocate.
	headerLen, _, _ := blockio.ReadUint32(data, 0)
	countAt := blockio.LengthSize + blockio.ChecksumSize + int(headerLen)
	huge := bytes.Clone(data)
	huge[countAt], huge[countAt+1], huge[countAt+2], huge[countAt+3] = 0xff, 0xff, 0xff, 0xff
	_, err = Parse(huge)
	assert.ErrorIs(t, err, blockio.ErrTruncatedData)
}

func TestParse_NameTableMustMatchInfo(t *testing.T) {
	h := NewHeader(uuid.New(), 1)
	h.Observe(fullFrame(0))
	content, err := h.encode()
	require.NoError(t, err)

	// Replace the name table with one that lists a single bogus slot.
	c := blockio.NewCursor(content)
	_, err = c.Next()
	require.NoError(t, err)
	info, err := c.Next()
	require.NoError(t, err)
	bogus := blockio.AppendBlock(nil, []byte{0x0a, 0x03, 'f', 'o', 'o'})
	bogus = blockio.AppendBlock(bogus, info)

	data := blockio.AppendUint32(nil, uint32(len(bogus)))
	data = blockio.AppendChecksummed(data, bogus)
	data = blockio.AppendUint32(data, 0)

	_, err = Parse(data)
	assert.ErrorIs(t, err, blockio.ErrMalformedFrame)
}

func TestOpen_ThroughFileSystem(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	require.NoError(t, mfs.MkdirAll("/records", 0755))

	w := NewWriter(NewHeader(uuid.New(), int64(baseTs)))
	require.NoError(t, w.Append(fullFrame(0)))
	require.NoError(t, w.Append(fullFrame(1)))
	require.NoError(t, w.WriteFile(mfs, "/records/seq.4mse"))
	assert.Error(t, w.Append(fullFrame(2)), "append after close")

	r, err := Open(mfs, "/records/seq.4mse")
	require.NoError(t, err)
	assert.Equal(t, 2, r.FrameCount())
	require.NoError(t, r.Verify())

	_, err = Open(mfs, "/records/missing.4mse")
	assert.Error(t, err)
}

func TestWriter_AppendRejectsUndecodableFrames(t *testing.T) {
	w := NewWriter(NewHeader(uuid.New(), int64(baseTs)))

	wrongShape := fullFrame(0)
	wrongShape.Vehicle.Cameras.FrontLeft.Image = payload.NewImage(2, 2, baseTs)
	assert.ErrorIs(t, w.Append(wrongShape), blockio.ErrSchemaMismatch)

	noCameraInfo := fullFrame(0)
	noCameraInfo.Vehicle.Cameras.FrontLeft.Info = nil
	assert.ErrorIs(t, w.Append(noCameraInfo), blockio.ErrMalformedFrame)

	noLidarInfo := fullFrame(0)
	noLidarInfo.Tower.Lidars.View1.Info = nil
	assert.ErrorIs(t, w.Append(noLidarInfo), blockio.ErrMalformedFrame)

	assert.Equal(t, 0, w.FrameCount(), "rejected frames are not written")

	require.NoError(t, w.Append(fullFrame(0)))
	data, err := w.Bytes()
	require.NoError(t, err)
	r, err := Parse(data)
	require.NoError(t, err)
	require.Equal(t, 1, r.FrameCount())
	_, err = r.Frame(0)
	assert.NoError(t, err)
}

func TestWriter_AppendRejectsOversizedBlocks(t *testing.T) {
	old := blockio.MaxBlockSize
	blockio.MaxBlockSize = 64
	t.Cleanup(func() { blockio.MaxBlockSize = old })

	w := NewWriter(NewHeader(uuid.New(), int64(baseTs)))
	err := w.Append(fullFrame(0))
	assert.ErrorIs(t, err, blockio.ErrBlockTooLarge)
	assert.Equal(t, 0, w.FrameCount())
}

func TestWriter_TimeRange(t *testing.T) {
	w := NewWriter(NewHeader(uuid.New(), 0))
	for i := uint64(0); i < 3; i++ {
		require.NoError(t, w.Append(fullFrame(i)))
	}
	start, end := w.TimeRange()
	assert.Equal(t, baseTs, start)
	assert.Equal(t, baseTs+200_000_000, end)
	assert.Equal(t, 3, w.FrameCount())

	var buf bytes.Buffer
	n, err := w.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(buf.Len()), n)
}

func TestRecord_FramesIterator(t *testing.T) {
	data, _ := buildRecord(t, fullFrame(0), fullFrame(1), fullFrame(2))
	r, err := Parse(data)
	require.NoError(t, err)

	var ids []uint64
	for f, err := range r.Frames() {
		require.NoError(t, err)
		ids = append(ids, f.FrameID)
	}
	assert.Equal(t, []uint64{0, 1, 2}, ids)
}

func TestPlayer(t *testing.T) {
	data, _ := buildRecord(t, fullFrame(0), fullFrame(1), fullFrame(2))
	r, err := Parse(data)
	require.NoError(t, err)
	p := NewPlayer(r)

	require.NoError(t, p.SeekToTimestamp(baseTs+150_000_000))
	assert.Equal(t, 2, p.CurrentFrame())
	require.NoError(t, p.SeekToTimestamp(baseTs+100_000_000))
	assert.Equal(t, 1, p.CurrentFrame())
	require.NoError(t, p.SeekToTimestamp(baseTs+10_000_000_000))
	assert.Equal(t, 2, p.CurrentFrame())

	f, err := p.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), f.FrameID)
	_, err = p.ReadFrame()
	assert.ErrorIs(t, err, io.EOF)

	assert.ErrorIs(t, p.Seek(3), blockio.ErrIndexOutOfRange)
	require.NoError(t, p.Seek(0))
	f, err = p.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), f.FrameID)
}
