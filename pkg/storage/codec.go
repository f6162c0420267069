package storage

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/orneryd/nornicsom/pkg/gpu/kernel"
)

// Compression selects how grid weights are stored.
type Compression uint8

const (
	// CompressionNone stores raw little-endian float32 weights.
	CompressionNone Compression = 0
	// CompressionZSTD stores zstd-compressed weights.
	CompressionZSTD Compression = 1
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZSTD:
		return "zstd"
	}
	return fmt.Sprintf("compression(%d)", uint8(c))
}

// ParseCompression maps a configuration string to a Compression.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(s) {
	case "", "zstd":
		return CompressionZSTD, nil
	case "none", "raw":
		return CompressionNone, nil
	}
	return 0, fmt.Errorf("unknown compression %q", s)
}

// Weight blob layout, little-endian:
//
//	[0:4]   magic "NSOM"
//	[4]     format version
//	[5]     compression
//	[6:8]   flags (bit 0: toroidal)
//	[8:12]  width
//	[12:16] height
//	[16:20] dimension
//	[20:24] metric
//	[24:28] payload length
//	[28:]   payload
const (
	blobMagic      = "NSOM"
	blobVersion    = 1
	blobHeaderSize = 28

	flagToroidal = 1 << 0
)

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// blobHeader is the decoded fixed part of a weight blob.
type blobHeader struct {
	Compression Compression
	Toroidal    bool
	Shape       kernel.Shape
	Metric      kernel.Metric
	PayloadLen  uint32
}

// encodeWeights serializes a grid. Compressed payloads that do not shrink
// are stored raw.
func encodeWeights(shape kernel.Shape, metric kernel.Metric, toroidal bool, weights []float32, c Compression) ([]byte, error) {
	if len(weights) != shape.Floats() {
		return nil, fmt.Errorf("%w: %d floats for grid %s", ErrCorrupt, len(weights), shape)
	}
	raw := make([]byte, 4*len(weights))
	for i, w := range weights {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(w))
	}

	payload := raw
	if c == CompressionZSTD {
		enc := getZstdEncoder()
		compressed := enc.EncodeAll(raw, make([]byte, 0, len(raw)/2))
		zstdEncoderPool.Put(enc)
		if len(compressed) < len(raw) {
			payload = compressed
		} else {
			c = CompressionNone
		}
	}

	buf := make([]byte, blobHeaderSize+len(payload))
	copy(buf[0:4], blobMagic)
	buf[4] = blobVersion
	buf[5] = byte(c)
	var flags uint16
	if toroidal {
		flags |= flagToroidal
	}
	binary.LittleEndian.PutUint16(buf[6:], flags)
	binary.LittleEndian.PutUint32(buf[8:], uint32(shape.Width))
	binary.LittleEndian.PutUint32(buf[12:], uint32(shape.Height))
	binary.LittleEndian.PutUint32(buf[16:], uint32(shape.Dimension))
	binary.LittleEndian.PutUint32(buf[20:], uint32(metric))
	binary.LittleEndian.PutUint32(buf[24:], uint32(len(payload)))
	copy(buf[blobHeaderSize:], payload)
	return buf, nil
}

func decodeHeader(data []byte) (blobHeader, error) {
	var h blobHeader
	if len(data) < blobHeaderSize {
		return h, fmt.Errorf("%w: blob of %d bytes", ErrCorrupt, len(data))
	}
	if string(data[0:4]) != blobMagic {
		return h, fmt.Errorf("%w: bad magic %q", ErrCorrupt, data[0:4])
	}
	if data[4] != blobVersion {
		return h, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, data[4])
	}
	h.Compression = Compression(data[5])
	h.Toroidal = binary.LittleEndian.Uint16(data[6:])&flagToroidal != 0
	h.Shape = kernel.Shape{
		Width:     int(binary.LittleEndian.Uint32(data[8:])),
		Height:    int(binary.LittleEndian.Uint32(data[12:])),
		Dimension: int(binary.LittleEndian.Uint32(data[16:])),
	}
	h.Metric = kernel.Metric(int32(binary.LittleEndian.Uint32(data[20:])))
	h.PayloadLen = binary.LittleEndian.Uint32(data[24:])
	if int(h.PayloadLen) != len(data)-blobHeaderSize {
		return h, fmt.Errorf("%w: payload length %d, have %d", ErrCorrupt, h.PayloadLen, len(data)-blobHeaderSize)
	}
	return h, nil
}

// decodeWeights parses a weight blob.
func decodeWeights(data []byte) (blobHeader, []float32, error) {
	h, err := decodeHeader(data)
	if err != nil {
		return h, nil, err
	}
	payload := data[blobHeaderSize:]
	want := 4 * h.Shape.Floats()

	switch h.Compression {
	case CompressionNone:
	case CompressionZSTD:
		dec := getZstdDecoder()
		raw, err := dec.DecodeAll(payload, make([]byte, 0, want))
		zstdDecoderPool.Put(dec)
		if err != nil {
			return h, nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		payload = raw
	default:
		return h, nil, fmt.Errorf("%w: unknown compression %d", ErrCorrupt, h.Compression)
	}

	if len(payload) != want {
		return h, nil, fmt.Errorf("%w: %d weight bytes for grid %s", ErrCorrupt, len(payload), h.Shape)
	}
	weights := make([]float32, h.Shape.Floats())
	for i := range weights {
		weights[i] = math.Float32frombits(binary.LittleEndian.Uint32(payload[i*4:]))
	}
	return h, weights, nil
}
