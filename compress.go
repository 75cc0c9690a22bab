package binschema

import (
	"github.com/klauspost/compress/zstd"
)

// WithCompression enables whole-message zstd compression on [Write]: the
// struct/array/etc. walk still produces plain bytes exactly as without
// this option, and the finished buffer is zstd-compressed as one final
// step, the one place a whole-buffer transform (as opposed to a
// per-field schema node) fits this codec.
func WithCompression() WriteOption {
	return func(c *writeConfig) { c.compress = true }
}

// WithDecompression tells [Read] that data is zstd-compressed and must
// be inflated before any field is decoded against t.
func WithDecompression() ReadOption {
	return func(c *readConfig) { c.decompress = true }
}

func compressBytes(b []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, newErr(ErrSchema, "constructing zstd encoder: %v", err)
	}
	defer enc.Close()
	return enc.EncodeAll(b, nil), nil
}

func decompressBytes(b []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, newErr(ErrSchema, "constructing zstd decoder: %v", err)
	}
	defer dec.Close()
	out, err := dec.DecodeAll(b, nil)
	if err != nil {
		return nil, newErr(ErrTruncation, "decompressing: %v", err)
	}
	return out, nil
}
