package zarr

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/janelia-flyem/mipmapper/dvid"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// CodecSpec is one entry of an array's codecs list.
type CodecSpec struct {
	Name          string          `json:"name"`
	Configuration json.RawMessage `json:"configuration,omitempty"`
}

func newSpec(name string, config interface{}) CodecSpec {
	spec := CodecSpec{Name: name}
	if config != nil {
		b, err := json.Marshal(config)
		if err != nil {
			panic(fmt.Sprintf("can't marshal %s codec configuration: %v", name, err))
		}
		spec.Configuration = b
	}
	return spec
}

type bytesConfig struct {
	Endian string `json:"endian,omitempty"`
}

type compressConfig struct {
	Level    int  `json:"level"`
	Checksum bool `json:"checksum,omitempty"`
}

type gzipConfig struct {
	Level int `json:"level"`
}

// BytesCodec returns the little-endian "bytes" array-to-bytes codec.
func BytesCodec() CodecSpec {
	return newSpec("bytes", bytesConfig{Endian: "little"})
}

// ZstdCodec returns a "zstd" bytes-to-bytes codec at the given compression level.
func ZstdCodec(level int) CodecSpec {
	return newSpec("zstd", compressConfig{Level: level})
}

// GzipCodec returns a "gzip" bytes-to-bytes codec at the given compression level.
func GzipCodec(level int) CodecSpec {
	return newSpec("gzip", gzipConfig{Level: level})
}

// Crc32cCodec returns the "crc32c" checksum codec.
func Crc32cCodec() CodecSpec {
	return CodecSpec{Name: "crc32c"}
}

type arrayToBytes interface {
	encode(c *Chunk) ([]byte, error)
	decode(b []byte, shape []int) (*Chunk, error)
}

type bytesToBytes interface {
	encode(b []byte) ([]byte, error)
	decode(b []byte) ([]byte, error)
}

// Codec is the codec pipeline of an array: a single array-to-bytes codec followed by
// any number of bytes-to-bytes codecs.  It is safe for concurrent use.
type Codec struct {
	dtype      dvid.DataType
	arrayBytes arrayToBytes
	bytesBytes []bytesToBytes
}

func newCodec(specs []CodecSpec, dtype dvid.DataType, fill []byte) (*Codec, error) {
	c := &Codec{dtype: dtype}
	for _, spec := range specs {
		switch spec.Name {
		case "bytes", "sharding_indexed":
			if c.arrayBytes != nil {
				return nil, fmt.Errorf("codec %q follows another array-to-bytes codec", spec.Name)
			}
			ab, err := newArrayToBytes(spec, dtype, fill)
			if err != nil {
				return nil, err
			}
			c.arrayBytes = ab
		case "zstd", "gzip", "crc32c":
			if c.arrayBytes == nil {
				return nil, fmt.Errorf("codec %q precedes the array-to-bytes codec", spec.Name)
			}
			bb, err := newBytesToBytes(spec)
			if err != nil {
				return nil, err
			}
			c.bytesBytes = append(c.bytesBytes, bb)
		default:
			return nil, fmt.Errorf("unsupported codec %q", spec.Name)
		}
	}
	if c.arrayBytes == nil {
		return nil, fmt.Errorf("no array-to-bytes codec in %d codecs", len(specs))
	}
	return c, nil
}

func newArrayToBytes(spec CodecSpec, dtype dvid.DataType, fill []byte) (arrayToBytes, error) {
	if spec.Name == "sharding_indexed" {
		return newShardingCodec(spec, dtype, fill)
	}
	var config bytesConfig
	if len(spec.Configuration) != 0 {
		if err := json.Unmarshal(spec.Configuration, &config); err != nil {
			return nil, fmt.Errorf("bad bytes codec configuration: %w", err)
		}
	}
	switch config.Endian {
	case "", "little":
		return bytesCodec{dtype: dtype}, nil
	case "big":
		return bytesCodec{dtype: dtype, bigEndian: dtype.Bytes() > 1}, nil
	default:
		return nil, fmt.Errorf("unsupported endian %q", config.Endian)
	}
}

func newBytesToBytes(spec CodecSpec) (bytesToBytes, error) {
	switch spec.Name {
	case "zstd":
		var config compressConfig
		if len(spec.Configuration) != 0 {
			if err := json.Unmarshal(spec.Configuration, &config); err != nil {
				return nil, fmt.Errorf("bad zstd configuration: %w", err)
			}
		}
		return newZstdCodec(config)
	case "gzip":
		config := gzipConfig{Level: gzip.DefaultCompression}
		if len(spec.Configuration) != 0 {
			if err := json.Unmarshal(spec.Configuration, &config); err != nil {
				return nil, fmt.Errorf("bad gzip configuration: %w", err)
			}
		}
		if config.Level < gzip.HuffmanOnly || config.Level > gzip.BestCompression {
			return nil, fmt.Errorf("bad gzip level %d", config.Level)
		}
		return gzipCodec{level: config.Level}, nil
	default:
		return crc32cCodec{}, nil
	}
}

// Encode encodes a chunk through the pipeline.
func (c *Codec) Encode(chunk *Chunk) ([]byte, error) {
	b, err := c.arrayBytes.encode(chunk)
	if err != nil {
		return nil, err
	}
	for _, bb := range c.bytesBytes {
		if b, err = bb.encode(b); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// Decode decodes stored bytes into a chunk of the given shape.
func (c *Codec) Decode(b []byte, shape []int) (*Chunk, error) {
	var err error
	for i := len(c.bytesBytes) - 1; i >= 0; i-- {
		if b, err = c.bytesBytes[i].decode(b); err != nil {
			return nil, err
		}
	}
	return c.arrayBytes.decode(b, shape)
}

// --- bytes ---

type bytesCodec struct {
	dtype     dvid.DataType
	bigEndian bool
}

func (bc bytesCodec) encode(c *Chunk) ([]byte, error) {
	if err := c.validate(bc.dtype, c.Shape); err != nil {
		return nil, err
	}
	if !bc.bigEndian {
		return c.Data, nil
	}
	return swapBytes(c.Data, bc.dtype.Bytes()), nil
}

func (bc bytesCodec) decode(b []byte, shape []int) (*Chunk, error) {
	if expected := NumElements(shape) * bc.dtype.Bytes(); len(b) != expected {
		return nil, fmt.Errorf("decoded chunk has %d bytes, expected %d for shape %v", len(b), expected, shape)
	}
	data := b
	if bc.bigEndian {
		data = swapBytes(b, bc.dtype.Bytes())
	}
	return &Chunk{Data: data, Shape: append([]int(nil), shape...), Stride: CStrides(shape)}, nil
}

func swapBytes(b []byte, width int) []byte {
	out := make([]byte, len(b))
	for i := 0; i < len(b); i += width {
		for j := 0; j < width; j++ {
			out[i+j] = b[i+width-1-j]
		}
	}
	return out
}

// --- zstd ---

type zstdCodec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func newZstdCodec(config compressConfig) (*zstdCodec, error) {
	level := zstd.SpeedDefault
	if config.Level != 0 {
		level = zstd.EncoderLevelFromZstd(config.Level)
	}
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level), zstd.WithEncoderCRC(config.Checksum))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &zstdCodec{encoder: encoder, decoder: decoder}, nil
}

func (z *zstdCodec) encode(b []byte) ([]byte, error) {
	return z.encoder.EncodeAll(b, make([]byte, 0, len(b)/2)), nil
}

func (z *zstdCodec) decode(b []byte) ([]byte, error) {
	out, err := z.decoder.DecodeAll(b, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress zstd chunk: %w", err)
	}
	return out, nil
}

// --- gzip ---

type gzipCodec struct {
	level int
}

func (g gzipCodec) encode(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, g.level)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(b); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (g gzipCodec) decode(b []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("failed to open gzip chunk: %w", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress gzip chunk: %w", err)
	}
	return out, nil
}

// --- crc32c ---

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

type crc32cCodec struct{}

func (crc32cCodec) encode(b []byte) ([]byte, error) {
	out := make([]byte, len(b), len(b)+4)
	copy(out, b)
	return binary.LittleEndian.AppendUint32(out, crc32.Checksum(b, castagnoli)), nil
}

func (crc32cCodec) decode(b []byte) ([]byte, error) {
	if len(b) < 4 {
		return nil, fmt.Errorf("crc32c: %d bytes too short for checksum", len(b))
	}
	data := b[:len(b)-4]
	stored := binary.LittleEndian.Uint32(b[len(b)-4:])
	if computed := crc32.Checksum(data, castagnoli); computed != stored {
		return nil, fmt.Errorf("crc32c: bad checksum, stored %08x computed %08x", stored, computed)
	}
	return data, nil
}
