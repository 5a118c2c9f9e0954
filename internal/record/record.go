// Package record reads and writes record files: a checksummed header, a table
// of frame lengths and the checksummed frame blobs.
//
//	[header_len][header_checksum:32][header_content]
//	[frame_count]
//	frame_count x [frame_len]
//	frame_count x ([frame_checksum:32][frame bytes])
//
// All integers are big-endian uint32. frame_len covers the checksum and the
// frame bytes. Frame offsets are never stored; they are the prefix sums of
// the length table.
package record

import (
	"fmt"
	"iter"

	"github.com/banshee-data/fusion.record/internal/blockio"
	"github.com/banshee-data/fusion.record/internal/fsutil"
	"github.com/banshee-data/fusion.record/internal/monitoring"
)

// FileExtension is what the CLI uses when listing record files. Readers go by
// content only.
const FileExtension = ".4mse"

// Record is an opened record held fully in memory. It is read-only and safe
// for concurrent use.
type Record struct {
	Header *Header
	// Names is the header name table in stored order.
	Names []string

	headerSum [blockio.ChecksumSize]byte
	lengths   []uint32
	offsets   []int // len(lengths)+1 prefix sums into frames
	frames    []byte
	size      int
}

// Open reads path in one pass and parses it.
func Open(fs fsutil.FileSystem, path string) (*Record, error) {
	data, err := fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open record %s: %w", path, err)
	}
	r, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("open record %s: %w", path, err)
	}
	monitoring.Logf("opened record %s: %d frames, %d bytes", path, r.FrameCount(), r.size)
	return r, nil
}

// Parse validates the header and the length table of an in-memory record.
// Frame checksums are checked lazily by Frame and RawFrame.
func Parse(data []byte) (*Record, error) {
	c := blockio.NewCursor(data)

	headerLen, err := c.NextUint32()
	if err != nil {
		return nil, fmt.Errorf("header length: %w", err)
	}
	envelope, err := c.NextBytes(blockio.ChecksumSize + int(headerLen))
	if err != nil {
		return nil, fmt.Errorf("header: %w", err)
	}
	content, err := blockio.VerifyChecksummed(envelope, "header")
	if err != nil {
		return nil, err
	}
	h, names, err := decodeHeader(content)
	if err != nil {
		return nil, err
	}

	count, err := c.NextUint32()
	if err != nil {
		return nil, fmt.Errorf("frame count: %w", err)
	}
	// Each length entry takes 4 bytes; reject counts the buffer cannot hold
	// before allocating for them.
	if uint64(count)*blockio.LengthSize > uint64(c.Remaining()) {
		return nil, &blockio.TruncatedDataError{
			Offset:    c.Offset(),
			Declared:  int(count) * blockio.LengthSize,
			Remaining: c.Remaining(),
		}
	}
	lengths := make([]uint32, count)
	offsets := make([]int, count+1)
	for i := range lengths {
		n, err := c.NextUint32()
		if err != nil {
			return nil, fmt.Errorf("frame length %d: %w", i, err)
		}
		if n < blockio.ChecksumSize {
			return nil, blockio.Malformed("record", fmt.Sprintf("frame %d length %d is shorter than its checksum", i, n), nil)
		}
		lengths[i] = n
		offsets[i+1] = offsets[i] + int(n)
	}

	region := c.Rest()
	total := offsets[count]
	switch {
	case len(region) < total:
		return nil, &blockio.TruncatedDataError{Offset: c.Offset(), Declared: total, Remaining: len(region)}
	case len(region) > total:
		return nil, blockio.Malformed("record", fmt.Sprintf("%d bytes after the last frame", len(region)-total), nil)
	}

	var sum [blockio.ChecksumSize]byte
	copy(sum[:], envelope[:blockio.ChecksumSize])
	return &Record{
		Header:    h,
		Names:     names,
		headerSum: sum,
		lengths:   lengths,
		offsets:   offsets,
		frames:    region,
		size:      len(data),
	}, nil
}

// FrameCount is the number of frames in the record.
func (r *Record) FrameCount() int { return len(r.lengths) }

// Size is the record's size in bytes.
func (r *Record) Size() int { return r.size }

// HeaderChecksum is the stored SHA-256 of the header content.
func (r *Record) HeaderChecksum() [blockio.ChecksumSize]byte { return r.headerSum }

// FrameLength returns the stored length of frame i, checksum included.
func (r *Record) FrameLength(i int) (int, error) {
	if err := r.checkIndex(i); err != nil {
		return 0, err
	}
	return int(r.lengths[i]), nil
}

func (r *Record) checkIndex(i int) error {
	if i < 0 || i >= len(r.lengths) {
		return &blockio.IndexOutOfRangeError{Index: i, Count: len(r.lengths)}
	}
	return nil
}

// RawFrame returns the checksum-verified bytes of frame i without decoding
// them. The slice aliases the record buffer and must not be modified.
func (r *Record) RawFrame(i int) ([]byte, error) {
	if err := r.checkIndex(i); err != nil {
		return nil, err
	}
	blob := r.frames[r.offsets[i]:r.offsets[i+1]]
	return blockio.VerifyChecksummed(blob, fmt.Sprintf("frame %d", i))
}

// Frame decodes frame i.
func (r *Record) Frame(i int) (*Frame, error) {
	raw, err := r.RawFrame(i)
	if err != nil {
		return nil, err
	}
	f, err := DecodeFrame(raw)
	if err != nil {
		return nil, fmt.Errorf("frame %d: %w", i, err)
	}
	return f, nil
}

// Frames yields every frame in order. Iteration stops after the first error.
func (r *Record) Frames() iter.Seq2[*Frame, error] {
	return func(yield func(*Frame, error) bool) {
		for i := range r.lengths {
			f, err := r.Frame(i)
			if !yield(f, err) || err != nil {
				return
			}
		}
	}
}

// Verify checks and decodes every frame.
func (r *Record) Verify() error {
	for i := range r.lengths {
		if _, err := r.Frame(i); err != nil {
			return err
		}
	}
	return nil
}
