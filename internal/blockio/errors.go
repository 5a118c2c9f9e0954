package blockio

import (
	"errors"
	"fmt"
)

// Sentinels for errors.Is. Every typed error below matches exactly one of them.
var (
	ErrTruncatedData    = errors.New("truncated data")
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrMalformedFrame   = errors.New("malformed frame")
	ErrSchemaMismatch   = errors.New("schema mismatch")
	ErrIndexOutOfRange  = errors.New("index out of range")
	ErrBlockTooLarge    = errors.New("block too large")
)

// TruncatedDataError is returned when a block declares more bytes than remain
// in the buffer.
type TruncatedDataError struct {
	Offset    int
	Declared  int
	Remaining int
}

func (e *TruncatedDataError) Error() string {
	return fmt.Sprintf("truncated data at offset %d: block declares %d bytes, %d remain",
		e.Offset, e.Declared, e.Remaining)
}

func (e *TruncatedDataError) Is(target error) bool { return target == ErrTruncatedData }

// ChecksumMismatchError is returned when stored and computed digests differ.
// The data is corrupt; it is never retried.
type ChecksumMismatchError struct {
	Section  string // "header" or "frame N"
	Expected [32]byte
	Actual   [32]byte
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch in %s: stored %x, computed %x",
		e.Section, e.Expected[:6], e.Actual[:6])
}

func (e *ChecksumMismatchError) Is(target error) bool { return target == ErrChecksumMismatch }

// MalformedFrameError reports block structure that does not match the layout
// expected for the format version, typically a version mismatch.
type MalformedFrameError struct {
	Context string
	Reason  string
	Err     error
}

func (e *MalformedFrameError) Error() string {
	msg := fmt.Sprintf("malformed %s: %s", e.Context, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MalformedFrameError) Is(target error) bool { return target == ErrMalformedFrame }

func (e *MalformedFrameError) Unwrap() error { return e.Err }

// Malformed builds a MalformedFrameError. err may be nil.
func Malformed(context, reason string, err error) error {
	return &MalformedFrameError{Context: context, Reason: reason, Err: err}
}

// SchemaMismatchError reports a raw buffer whose length does not fit the
// out-of-band schema supplied to decode it.
type SchemaMismatchError struct {
	Payload  string
	Expected int
	Actual   int
	Detail   string
}

func (e *SchemaMismatchError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("schema mismatch for %s: %s (expected %d, got %d bytes)",
			e.Payload, e.Detail, e.Expected, e.Actual)
	}
	return fmt.Sprintf("schema mismatch for %s: expected %d bytes, got %d",
		e.Payload, e.Expected, e.Actual)
}

func (e *SchemaMismatchError) Is(target error) bool { return target == ErrSchemaMismatch }

// IndexOutOfRangeError is a caller error: the frame index is outside
// [0, Count).
type IndexOutOfRangeError struct {
	Index int
	Count int
}

func (e *IndexOutOfRangeError) Error() string {
	return fmt.Sprintf("frame index out of range: %d not in [0, %d)", e.Index, e.Count)
}

func (e *IndexOutOfRangeError) Is(target error) bool { return target == ErrIndexOutOfRange }
