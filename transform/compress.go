// Package transform provides the two wire-payload transforms a peer
// connection may negotiate: gzip compression and AES-256-CBC
// encryption. Both are applied to an already-framed payload before it
// goes on the wire, and reversed in the opposite order on receipt.
package transform

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

// Compressor compresses and decompresses frame payloads.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

// gzipCompressor matches compression_station.py: gzip at a fixed
// level, whole-payload in and out (no streaming).
type gzipCompressor struct {
	level int
}

// NewGzipCompressor returns a Compressor at the given gzip level.
func NewGzipCompressor(level int) Compressor {
	return &gzipCompressor{level: level}
}

func (c *gzipCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, c.level)
	if err != nil {
		return nil, errors.Wrap(err, "transform: gzip writer")
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, errors.Wrap(err, "transform: gzip write")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "transform: gzip close")
	}
	return buf.Bytes(), nil
}

func (c *gzipCompressor) Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "transform: gzip reader")
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "transform: gzip read")
	}
	return out, nil
}
