package wire

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

// MaxCompressionLevel is the highest accepted zlib level.
const MaxCompressionLevel = zlib.BestCompression

// EncodingZlib names the payload encoding used at non-zero levels.
const EncodingZlib = "zlib"

// Encoding returns the payload encoding for level, or "" when payloads are
// sent as is.
func Encoding(level int) string {
	if level == 0 {
		return ""
	}
	return EncodingZlib
}

// Compress returns payload deflated at level. Level 0 returns payload as is.
func Compress(level int, payload []byte) ([]byte, error) {
	if level == 0 {
		return payload, nil
	}
	if level < 0 || level > MaxCompressionLevel {
		return nil, fmt.Errorf("wire: invalid compression level %d", level)
	}

	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("wire: creating compressor: %w", err)
	}
	if _, err := zw.Write(payload); err != nil {
		return nil, fmt.Errorf("wire: compressing payload: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("wire: flushing compressor: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress inflates a payload produced by Compress with a non-zero level.
func Decompress(data []byte) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("wire: opening payload: %w", err)
	}
	defer zr.Close()

	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("wire: decompressing payload: %w", err)
	}
	return out, nil
}
