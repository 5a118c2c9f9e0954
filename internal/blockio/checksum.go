package blockio

import (
	"crypto/sha256"
	"fmt"
)

// ChecksumSize is the length of a stored digest.
const ChecksumSize = sha256.Size

// Checksum returns the SHA-256 digest of b. It detects corruption; it is not a
// security boundary.
func Checksum(b []byte) [ChecksumSize]byte {
	return sha256.Sum256(b)
}

// AppendChecksummed appends [checksum:32][content] to dst.
func AppendChecksummed(dst, content []byte) []byte {
	sum := Checksum(content)
	dst = append(dst, sum[:]...)
	return append(dst, content...)
}

// VerifyChecksummed splits a [checksum:32][content] envelope and checks it.
// section names the envelope in the returned error.
func VerifyChecksummed(b []byte, section string) ([]byte, error) {
	if len(b) < ChecksumSize {
		return nil, &TruncatedDataError{Declared: ChecksumSize, Remaining: len(b)}
	}
	var stored [ChecksumSize]byte
	copy(stored[:], b[:ChecksumSize])
	content := b[ChecksumSize:]
	if actual := Checksum(content); actual != stored {
		return nil, &ChecksumMismatchError{Section: section, Expected: stored, Actual: actual}
	}
	return content, nil
}

// FormatChecksum renders a digest as lowercase hex.
func FormatChecksum(sum [ChecksumSize]byte) string {
	return fmt.Sprintf("%x", sum[:])
}
