// Package codec is the binary encoding shared by the session store and the
// result-set cache: deterministic CBOR, compressed with zstd.
package codec

import (
	"encoding/hex"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode

	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: cbor encoder: " + err.Error())
	}

	// Row values decode into any; keep maps JSON-compatible.
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: cbor decoder: " + err.Error())
	}

	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("codec: zstd encoder: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("codec: zstd decoder: " + err.Error())
	}
}

// Marshal encodes v as deterministic CBOR.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

func Compress(data []byte) []byte {
	return zstdEncoder.EncodeAll(data, make([]byte, 0, len(data)/2))
}

func Decompress(data []byte) ([]byte, error) {
	out, err := zstdDecoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decode: %w", err)
	}
	return out, nil
}

// Pack marshals v to CBOR and compresses the result.
func Pack(v any) ([]byte, error) {
	raw, err := Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("cbor encode: %w", err)
	}
	return Compress(raw), nil
}

// Unpack reverses Pack.
func Unpack(data []byte, v any) error {
	raw, err := Decompress(data)
	if err != nil {
		return err
	}
	if err := Unmarshal(raw, v); err != nil {
		return fmt.Errorf("cbor decode: %w", err)
	}
	return nil
}

// Digest returns the hex BLAKE3 hash of data, cut to n characters when n is
// positive and shorter than the full digest.
func Digest(data []byte, n int) string {
	sum := blake3.Sum256(data)
	s := hex.EncodeToString(sum[:])
	if n > 0 && n < len(s) {
		return s[:n]
	}
	return s
}
