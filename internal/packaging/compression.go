// Package packaging serializes extracted tenant data into a single
// checksummed, optionally compressed and encrypted archive, and reads such
// archives back during restore.
package packaging

import (
	"compress/gzip"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"org-backup-engine/internal/errors"
)

// CompressionType identifies the algorithm applied to archive table entries
type CompressionType string

const (
	CompressionTypeNone CompressionType = "none"
	CompressionTypeGzip CompressionType = "gzip"
	CompressionTypeLZ4  CompressionType = "lz4"
	CompressionTypeZstd CompressionType = "zstd"
)

// Compressor wraps a stream with one compression algorithm
type Compressor interface {
	// NewWriter wraps w; data written to the result is compressed into w.
	// Close must be called to flush the final frame.
	NewWriter(w io.Writer) (io.WriteCloser, error)

	// NewReader wraps r for decompression
	NewReader(r io.Reader) (io.ReadCloser, error)

	// Algorithm returns the algorithm identifier
	Algorithm() CompressionType

	// Extension returns the filename suffix for entries using this algorithm
	Extension() string
}

// CompressionManager resolves compressors by algorithm and by file extension
type CompressionManager struct {
	compressors map[CompressionType]Compressor
}

// NewCompressionManager creates a manager with all supported algorithms
func NewCompressionManager() *CompressionManager {
	cm := &CompressionManager{
		compressors: make(map[CompressionType]Compressor),
	}

	cm.compressors[CompressionTypeGzip] = &gzipCompressor{}
	cm.compressors[CompressionTypeLZ4] = &lz4Compressor{}
	cm.compressors[CompressionTypeZstd] = &zstdCompressor{}

	return cm
}

// Get returns the compressor for an algorithm. CompressionTypeNone has no
// compressor and callers handle it as a pass-through.
func (cm *CompressionManager) Get(algorithm CompressionType) (Compressor, error) {
	compressor, exists := cm.compressors[algorithm]
	if !exists {
		return nil, errors.NewConfigurationError(
			fmt.Sprintf("unsupported compression algorithm: %s", algorithm), nil)
	}
	return compressor, nil
}

// ForExtension resolves the algorithm from an archive entry's suffix
func (cm *CompressionManager) ForExtension(ext string) (CompressionType, error) {
	switch ext {
	case "":
		return CompressionTypeNone, nil
	case ".gz":
		return CompressionTypeGzip, nil
	case ".lz4":
		return CompressionTypeLZ4, nil
	case ".zst":
		return CompressionTypeZstd, nil
	}
	return "", errors.NewConfigurationError(
		fmt.Sprintf("unrecognized compression extension: %s", ext), nil)
}

// SupportedAlgorithms returns every algorithm the manager can apply
func (cm *CompressionManager) SupportedAlgorithms() []CompressionType {
	algorithms := []CompressionType{CompressionTypeNone}
	for algorithm := range cm.compressors {
		algorithms = append(algorithms, algorithm)
	}
	return algorithms
}

// ValidCompressionType reports whether the value names a known algorithm
func ValidCompressionType(ct CompressionType) bool {
	switch ct {
	case CompressionTypeNone, CompressionTypeGzip, CompressionTypeLZ4, CompressionTypeZstd:
		return true
	}
	return false
}

type gzipCompressor struct{}

func (c *gzipCompressor) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return gzip.NewWriter(w), nil
}

func (c *gzipCompressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	reader, err := gzip.NewReader(r)
	if err != nil {
		return nil, errors.NewIntegrityError("failed to open gzip stream", err)
	}
	return reader, nil
}

func (c *gzipCompressor) Algorithm() CompressionType { return CompressionTypeGzip }
func (c *gzipCompressor) Extension() string          { return ".gz" }

type lz4Compressor struct{}

func (c *lz4Compressor) NewWriter(w io.Writer) (io.WriteCloser, error) {
	return lz4.NewWriter(w), nil
}

func (c *lz4Compressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(lz4.NewReader(r)), nil
}

func (c *lz4Compressor) Algorithm() CompressionType { return CompressionTypeLZ4 }
func (c *lz4Compressor) Extension() string          { return ".lz4" }

type zstdCompressor struct{}

func (c *zstdCompressor) NewWriter(w io.Writer) (io.WriteCloser, error) {
	writer, err := zstd.NewWriter(w)
	if err != nil {
		return nil, errors.NewFatalError("failed to create zstd encoder", err)
	}
	return writer, nil
}

func (c *zstdCompressor) NewReader(r io.Reader) (io.ReadCloser, error) {
	reader, err := zstd.NewReader(r)
	if err != nil {
		return nil, errors.NewIntegrityError("failed to open zstd stream", err)
	}
	return &zstdReadCloser{reader}, nil
}

func (c *zstdCompressor) Algorithm() CompressionType { return CompressionTypeZstd }
func (c *zstdCompressor) Extension() string          { return ".zst" }

// zstdReadCloser adapts the zstd decoder's Close (no error) to io.ReadCloser
type zstdReadCloser struct {
	*zstd.Decoder
}

func (z *zstdReadCloser) Close() error {
	z.Decoder.Close()
	return nil
}
