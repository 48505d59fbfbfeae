package store

import (
	"fmt"
	"io"
	"strings"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Compression names the stream compression of a container file
type Compression string

const (
	CompressionNone   Compression = "none"
	CompressionGzip   Compression = "gzip"
	CompressionZstd   Compression = "zstd"
	CompressionSnappy Compression = "snappy"
)

// gzipLevel trades ratio for ingestion speed
const gzipLevel = 3

// ParseCompression maps a config or flag value to a Compression. Empty means none.
func ParseCompression(s string) (Compression, error) {
	switch c := Compression(strings.ToLower(strings.TrimSpace(s))); c {
	case "":
		return CompressionNone, nil
	case CompressionNone, CompressionGzip, CompressionZstd, CompressionSnappy:
		return c, nil
	default:
		return "", fmt.Errorf("unknown compression %q", s)
	}
}

// Seekable reports whether byte offsets in the decoded stream are file offsets
func (c Compression) Seekable() bool {
	return c == CompressionNone || c == ""
}

// NewDecompressor wraps r with a decoder for kind. Closing the result does not close r.
func NewDecompressor(r io.Reader, kind Compression) (io.ReadCloser, error) {
	switch kind {
	case CompressionNone, "":
		return io.NopCloser(r), nil
	case CompressionGzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		return zr, nil
	case CompressionZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to open zstd stream: %w", err)
		}
		return dec.IOReadCloser(), nil
	case CompressionSnappy:
		return io.NopCloser(snappy.NewReader(r)), nil
	default:
		return nil, fmt.Errorf("unknown compression %q", kind)
	}
}

// NewCompressor wraps w with an encoder for kind. Close flushes the encoder
// but does not close w.
func NewCompressor(w io.Writer, kind Compression) (io.WriteCloser, error) {
	switch kind {
	case CompressionNone, "":
		return nopWriteCloser{w}, nil
	case CompressionGzip:
		zw, err := gzip.NewWriterLevel(w, gzipLevel)
		if err != nil {
			return nil, err
		}
		return zw, nil
	case CompressionZstd:
		enc, err := zstd.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
		return enc, nil
	case CompressionSnappy:
		return snappy.NewBufferedWriter(w), nil
	default:
		return nil, fmt.Errorf("unknown compression %q", kind)
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
