package packaging

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
)

// Checksum returns the SHA-256 hex digest of data
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// VerifyChecksum reports whether data hashes to the expected digest.
// A mismatch means the archive is corrupt and must never be served.
func VerifyChecksum(data []byte, expected string) bool {
	return Checksum(data) == expected
}

// ChecksumWriter computes a running SHA-256 digest of everything written
// through it, so archives can be hashed while being streamed to storage.
type ChecksumWriter struct {
	w       io.Writer
	hasher  hash.Hash
	written int64
}

// NewChecksumWriter wraps w with digest accumulation
func NewChecksumWriter(w io.Writer) *ChecksumWriter {
	return &ChecksumWriter{w: w, hasher: sha256.New()}
}

// Write implements io.Writer
func (cw *ChecksumWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.hasher.Write(p[:n])
	cw.written += int64(n)
	return n, err
}

// Sum returns the hex digest of all bytes written so far
func (cw *ChecksumWriter) Sum() string {
	return hex.EncodeToString(cw.hasher.Sum(nil))
}

// Written returns the byte count written so far
func (cw *ChecksumWriter) Written() int64 {
	return cw.written
}
