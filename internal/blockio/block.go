// Package blockio implements the length-prefixed block primitive that every
// container in a record is composed of.
//
// A block is a 4-byte big-endian unsigned length followed by exactly that many
// content bytes. Blocks carry no type tags, so a decoder must read them in the
// same order the encoder wrote them.
package blockio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// LengthSize is the size in bytes of a block length prefix.
const LengthSize = 4

// MaxBlockSize bounds the content accepted by AppendSizedBlock and
// CheckBlockSize. It never exceeds what a length prefix can describe.
var MaxBlockSize uint64 = math.MaxUint32

// CheckBlockSize reports ErrBlockTooLarge when n bytes cannot be one block.
func CheckBlockSize(what string, n int) error {
	if uint64(n) > MaxBlockSize {
		return fmt.Errorf("%s is %d bytes, limit %d: %w", what, n, MaxBlockSize, ErrBlockTooLarge)
	}
	return nil
}

// AppendSizedBlock is AppendBlock for content of unbounded size: it returns
// an error instead of panicking.
func AppendSizedBlock(dst, content []byte, what string) ([]byte, error) {
	if err := CheckBlockSize(what, len(content)); err != nil {
		return dst, err
	}
	return AppendBlock(dst, content), nil
}

// AppendBlock appends content to dst as a single length-prefixed block. Use
// it for content whose size is bounded by construction; it panics past 4 GiB.
func AppendBlock(dst, content []byte) []byte {
	if uint64(len(content)) > math.MaxUint32 {
		panic("blockio: block content exceeds 4 GiB")
	}
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(content)))
	return append(dst, content...)
}

// WriteBlock returns content prefixed with its length.
func WriteBlock(content []byte) []byte {
	return AppendBlock(make([]byte, 0, LengthSize+len(content)), content)
}

// EmptyBlock is the zero-length marker written for absent sensors and payloads.
func EmptyBlock() []byte {
	return []byte{0, 0, 0, 0}
}

// AppendUint32 appends a bare big-endian length or count, as used by the record
// frame table.
func AppendUint32(dst []byte, v uint32) []byte {
	return binary.BigEndian.AppendUint32(dst, v)
}

// ReadUint32 reads a bare big-endian u32 at offset.
func ReadUint32(buf []byte, offset int) (uint32, int, error) {
	if offset < 0 || len(buf)-offset < LengthSize {
		return 0, offset, &TruncatedDataError{
			Offset:    offset,
			Declared:  LengthSize,
			Remaining: remaining(buf, offset),
		}
	}
	return binary.BigEndian.Uint32(buf[offset:]), offset + LengthSize, nil
}

// ReadBlock reads the block starting at offset and returns its content and the
// offset just past it. The returned content aliases buf.
func ReadBlock(buf []byte, offset int) ([]byte, int, error) {
	n, next, err := ReadUint32(buf, offset)
	if err != nil {
		return nil, offset, err
	}
	if uint64(n) > uint64(len(buf)-next) {
		return nil, offset, &TruncatedDataError{
			Offset:    offset,
			Declared:  int(n),
			Remaining: len(buf) - next,
		}
	}
	end := next + int(n)
	return buf[next:end:end], end, nil
}

func remaining(buf []byte, offset int) int {
	if offset < 0 || offset > len(buf) {
		return 0
	}
	return len(buf) - offset
}

// Cursor walks a buffer block by block.
type Cursor struct {
	buf    []byte
	offset int
}

// NewCursor returns a cursor positioned at the start of buf.
func NewCursor(buf []byte) *Cursor {
	return &Cursor{buf: buf}
}

// Next returns the next block's content.
func (c *Cursor) Next() ([]byte, error) {
	content, next, err := ReadBlock(c.buf, c.offset)
	if err != nil {
		return nil, err
	}
	c.offset = next
	return content, nil
}

// NextUint32 reads a bare big-endian u32.
func (c *Cursor) NextUint32() (uint32, error) {
	v, next, err := ReadUint32(c.buf, c.offset)
	if err != nil {
		return 0, err
	}
	c.offset = next
	return v, nil
}

// NextBytes returns the next n raw bytes without a length prefix.
func (c *Cursor) NextBytes(n int) ([]byte, error) {
	if n < 0 || len(c.buf)-c.offset < n {
		return nil, &TruncatedDataError{Offset: c.offset, Declared: n, Remaining: c.Remaining()}
	}
	b := c.buf[c.offset : c.offset+n : c.offset+n]
	c.offset += n
	return b, nil
}

// Offset is the current read position.
func (c *Cursor) Offset() int { return c.offset }

// Remaining is the number of unread bytes.
func (c *Cursor) Remaining() int { return len(c.buf) - c.offset }

// Done reports whether the whole buffer has been consumed.
func (c *Cursor) Done() bool { return c.offset == len(c.buf) }

// Rest returns the unread tail of the buffer.
func (c *Cursor) Rest() []byte { return c.buf[c.offset:] }
