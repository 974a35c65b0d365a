package zarr

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/janelia-flyem/mipmapper/dvid"
)

// emptyEntry marks an inner chunk that is not stored in a shard because it holds
// only the fill value.
const emptyEntry = math.MaxUint64

type shardingConfig struct {
	ChunkShape    []int       `json:"chunk_shape"`
	Codecs        []CodecSpec `json:"codecs"`
	IndexCodecs   []CodecSpec `json:"index_codecs"`
	IndexLocation string      `json:"index_location,omitempty"`
}

// ShardingCodec returns a "sharding_indexed" codec that bundles inner chunks of chunkShape
// into each grid chunk (the shard).  The shard index is stored at the end of each shard.
func ShardingCodec(chunkShape []int, codecs, indexCodecs []CodecSpec) CodecSpec {
	if len(codecs) == 0 {
		codecs = []CodecSpec{BytesCodec()}
	}
	if len(indexCodecs) == 0 {
		indexCodecs = []CodecSpec{BytesCodec(), Crc32cCodec()}
	}
	return newSpec("sharding_indexed", shardingConfig{
		ChunkShape:    chunkShape,
		Codecs:        codecs,
		IndexCodecs:   indexCodecs,
		IndexLocation: "end",
	})
}

// ShardChunkShape returns the inner chunk shape if the codecs shard chunks.
func ShardChunkShape(codecs []CodecSpec) ([]int, bool) {
	for _, spec := range codecs {
		if spec.Name != "sharding_indexed" {
			continue
		}
		var config shardingConfig
		if err := json.Unmarshal(spec.Configuration, &config); err != nil {
			return nil, false
		}
		return config.ChunkShape, true
	}
	return nil, false
}

type shardingCodec struct {
	dtype        dvid.DataType
	fill         []byte
	chunkShape   []int
	inner        *Codec
	index        *Codec
	indexAtStart bool
}

func newShardingCodec(spec CodecSpec, dtype dvid.DataType, fill []byte) (*shardingCodec, error) {
	var config shardingConfig
	if err := json.Unmarshal(spec.Configuration, &config); err != nil {
		return nil, fmt.Errorf("bad sharding_indexed configuration: %w", err)
	}
	if len(config.ChunkShape) == 0 {
		return nil, fmt.Errorf("sharding_indexed requires chunk_shape")
	}
	for _, s := range config.ChunkShape {
		if s <= 0 {
			return nil, fmt.Errorf("bad sharding chunk_shape %v", config.ChunkShape)
		}
	}
	s := &shardingCodec{
		dtype:      dtype,
		fill:       fill,
		chunkShape: config.ChunkShape,
	}
	switch config.IndexLocation {
	case "", "end":
	case "start":
		s.indexAtStart = true
	default:
		return nil, fmt.Errorf("bad sharding index_location %q", config.IndexLocation)
	}
	if len(config.Codecs) == 0 {
		config.Codecs = []CodecSpec{BytesCodec()}
	}
	if len(config.IndexCodecs) == 0 {
		config.IndexCodecs = []CodecSpec{BytesCodec(), Crc32cCodec()}
	}
	for _, ic := range config.IndexCodecs {
		if ic.Name != "bytes" && ic.Name != "crc32c" {
			return nil, fmt.Errorf("index codec %q does not have a fixed encoded size", ic.Name)
		}
	}
	var err error
	if s.inner, err = newCodec(config.Codecs, dtype, fill); err != nil {
		return nil, fmt.Errorf("sharding inner codecs: %w", err)
	}
	if s.index, err = newCodec(config.IndexCodecs, dvid.T_uint64, make([]byte, 8)); err != nil {
		return nil, fmt.Errorf("sharding index codecs: %w", err)
	}
	return s, nil
}

func (s *shardingCodec) innerGrid(shape []int) ([]int, error) {
	if len(shape) != len(s.chunkShape) {
		return nil, fmt.Errorf("shard shape %v and inner chunk shape %v differ in dimensions", shape, s.chunkShape)
	}
	grid := make([]int, len(shape))
	for i := range shape {
		if shape[i]%s.chunkShape[i] != 0 {
			return nil, fmt.Errorf("shard shape %v is not divisible by inner chunk shape %v", shape, s.chunkShape)
		}
		grid[i] = shape[i] / s.chunkShape[i]
	}
	return grid, nil
}

func (s *shardingCodec) encodeIndex(index []uint64, grid []int) ([]byte, error) {
	data, err := dvid.EncodeValues(index)
	if err != nil {
		return nil, err
	}
	return s.index.Encode(&Chunk{Data: data, Shape: append(append([]int(nil), grid...), 2)})
}

func (s *shardingCodec) decodeIndex(b []byte, grid []int) ([]uint64, error) {
	c, err := s.index.Decode(b, append(append([]int(nil), grid...), 2))
	if err != nil {
		return nil, fmt.Errorf("bad shard index: %w", err)
	}
	return dvid.DecodeValues[uint64](c.Data)
}

func (s *shardingCodec) indexLength(grid []int) (int, error) {
	b, err := s.encodeIndex(make([]uint64, 2*NumElements(grid)), grid)
	return len(b), err
}

// unravel sets pos to the C-order coordinates of element i within shape.
func unravel(i int, shape []int, pos []int) {
	for d := len(shape) - 1; d >= 0; d-- {
		pos[d] = i % shape[d]
		i /= shape[d]
	}
}

func (s *shardingCodec) encode(c *Chunk) ([]byte, error) {
	if err := c.validate(s.dtype, c.Shape); err != nil {
		return nil, err
	}
	grid, err := s.innerGrid(c.Shape)
	if err != nil {
		return nil, err
	}
	n := NumElements(grid)
	width := s.dtype.Bytes()
	index := make([]uint64, 2*n)
	zeros := make([]int, len(grid))
	pos := make([]int, len(grid))
	offset := make([]int, len(grid))
	innerBuf := make([]byte, NumElements(s.chunkShape)*width)
	innerChunk := &Chunk{Data: innerBuf, Shape: s.chunkShape, Stride: CStrides(s.chunkShape)}

	var body []byte
	for i := 0; i < n; i++ {
		unravel(i, grid, pos)
		for d := range pos {
			offset[d] = pos[d] * s.chunkShape[d]
		}
		copyBlock(innerBuf, s.chunkShape, zeros, c.Data, c.Shape, offset, s.chunkShape, width)
		if isFill(innerBuf, s.fill) {
			index[2*i], index[2*i+1] = emptyEntry, emptyEntry
			continue
		}
		enc, err := s.inner.Encode(innerChunk)
		if err != nil {
			return nil, err
		}
		index[2*i] = uint64(len(body))
		index[2*i+1] = uint64(len(enc))
		body = append(body, enc...)
	}

	if !s.indexAtStart {
		indexBytes, err := s.encodeIndex(index, grid)
		if err != nil {
			return nil, err
		}
		return append(body, indexBytes...), nil
	}
	indexLen, err := s.indexLength(grid)
	if err != nil {
		return nil, err
	}
	for i := 0; i < n; i++ {
		if index[2*i] != emptyEntry {
			index[2*i] += uint64(indexLen)
		}
	}
	indexBytes, err := s.encodeIndex(index, grid)
	if err != nil {
		return nil, err
	}
	return append(indexBytes, body...), nil
}

func (s *shardingCodec) decode(b []byte, shape []int) (*Chunk, error) {
	grid, err := s.innerGrid(shape)
	if err != nil {
		return nil, err
	}
	indexLen, err := s.indexLength(grid)
	if err != nil {
		return nil, err
	}
	if len(b) < indexLen {
		return nil, fmt.Errorf("shard of %d bytes is smaller than its %d byte index", len(b), indexLen)
	}
	var indexBytes []byte
	if s.indexAtStart {
		indexBytes = b[:indexLen]
	} else {
		indexBytes = b[len(b)-indexLen:]
	}
	index, err := s.decodeIndex(indexBytes, grid)
	if err != nil {
		return nil, err
	}

	n := NumElements(grid)
	width := s.dtype.Bytes()
	out := &Chunk{
		Data:   repeatElement(s.fill, NumElements(shape)),
		Shape:  append([]int(nil), shape...),
		Stride: CStrides(shape),
	}
	zeros := make([]int, len(grid))
	pos := make([]int, len(grid))
	offset := make([]int, len(grid))
	for i := 0; i < n; i++ {
		start, size := index[2*i], index[2*i+1]
		if start == emptyEntry && size == emptyEntry {
			continue
		}
		if start > uint64(len(b)) || size > uint64(len(b))-start {
			return nil, fmt.Errorf("shard index entry %d (offset %d, size %d) exceeds shard of %d bytes", i, start, size, len(b))
		}
		inner, err := s.inner.Decode(b[start:start+size], s.chunkShape)
		if err != nil {
			return nil, fmt.Errorf("inner chunk %d: %w", i, err)
		}
		unravel(i, grid, pos)
		for d := range pos {
			offset[d] = pos[d] * s.chunkShape[d]
		}
		copyBlock(out.Data, shape, offset, inner.Data, s.chunkShape, zeros, s.chunkShape, width)
	}
	return out, nil
}
