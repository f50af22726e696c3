package object

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// CompressThreshold is the payload size above which payloads are stored
// and sent zstd-compressed.
const CompressThreshold = 1 << 10

var (
	encOnce sync.Once
	encoder *zstd.Encoder
	decOnce sync.Once
	decoder *zstd.Decoder
)

func sharedEncoder() *zstd.Encoder {
	encOnce.Do(func() {
		// NewWriter(nil) never fails with valid static options.
		encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	})

	return encoder
}

func sharedDecoder() *zstd.Decoder {
	decOnce.Do(func() {
		decoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	})

	return decoder
}

// Compress compresses payload with zstd.
func Compress(payload []byte) []byte {
	return sharedEncoder().EncodeAll(payload, make([]byte, 0, len(payload)/2))
}

// Decompress reverses Compress.
func Decompress(data []byte) ([]byte, error) {
	out, err := sharedDecoder().DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decode:\n%w", err)
	}

	return out, nil
}

// ShouldCompress reports whether a payload is worth compressing.
func ShouldCompress(payload []byte) bool {
	return len(payload) > CompressThreshold
}
