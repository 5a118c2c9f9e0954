package record

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/banshee-data/fusion.record/internal/blockio"
	"github.com/banshee-data/fusion.record/internal/fsutil"
	"github.com/banshee-data/fusion.record/internal/monitoring"
	"github.com/banshee-data/fusion.record/internal/payload"
)

// Writer assembles a record in memory. Frames are encoded and checksummed as
// they are appended; the header is encoded last so it can list every slot
// seen in any frame.
type Writer struct {
	header *Header

	lengths []uint32
	blobs   bytes.Buffer

	startTs payload.Timestamp
	endTs   payload.Timestamp

	mu     sync.Mutex
	closed bool
}

// NewWriter returns a writer that fills in h as frames arrive.
func NewWriter(h *Header) *Writer {
	return &Writer{header: h}
}

// Append encodes f and adds it as the next frame.
func (w *Writer) Append(f *Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("writer is closed")
	}

	data, err := f.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode frame %d: %w", f.FrameID, err)
	}
	n := blockio.ChecksumSize + len(data)
	if err := blockio.CheckBlockSize(fmt.Sprintf("frame %d", f.FrameID), n); err != nil {
		return err
	}

	if len(w.lengths) == 0 {
		w.startTs = f.Timestamp
	}
	w.endTs = f.Timestamp

	sum := blockio.Checksum(data)
	w.blobs.Write(sum[:])
	w.blobs.Write(data)
	w.lengths = append(w.lengths, uint32(n))
	w.header.Observe(f)
	return nil
}

// FrameCount returns the number of frames appended.
func (w *Writer) FrameCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.lengths)
}

// TimeRange returns the first and last frame timestamps.
func (w *Writer) TimeRange() (payload.Timestamp, payload.Timestamp) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.startTs, w.endTs
}

// Bytes returns the complete record.
func (w *Writer) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteTo writes the complete record to dst.
func (w *Writer) WriteTo(dst io.Writer) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	content, err := w.header.encode()
	if err != nil {
		return 0, err
	}
	prefix := blockio.AppendUint32(nil, uint32(len(content)))
	prefix = blockio.AppendChecksummed(prefix, content)
	prefix = blockio.AppendUint32(prefix, uint32(len(w.lengths)))
	for _, n := range w.lengths {
		prefix = blockio.AppendUint32(prefix, n)
	}

	written, err := dst.Write(prefix)
	if err != nil {
		return int64(written), fmt.Errorf("failed to write record header: %w", err)
	}
	m, err := dst.Write(w.blobs.Bytes())
	total := int64(written) + int64(m)
	if err != nil {
		return total, fmt.Errorf("failed to write frames: %w", err)
	}
	return total, nil
}

// WriteFile writes the record to path and closes the writer.
func (w *Writer) WriteFile(fs fsutil.FileSystem, path string) error {
	data, err := w.Bytes()
	if err != nil {
		return err
	}
	if err := fs.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write record %s: %w", path, err)
	}
	monitoring.Logf("wrote record %s: %d frames, %d bytes", path, w.FrameCount(), len(data))
	return w.Close()
}

// Close stops further appends. The encoded record stays available.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}
