package zarr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/janelia-flyem/mipmapper/dvid"
	"github.com/janelia-flyem/mipmapper/storage"
)

func TestChunkKeys(t *testing.T) {
	tests := []struct {
		enc      ChunkKeyEncoding
		coords   []int
		expected string
	}{
		{DefaultKeyEncoding(), []int{0, 1, 2, 3}, "c/0/1/2/3"},
		{ChunkKeyEncoding{Name: "default", Configuration: &KeyEncodingConfig{Separator: "."}}, []int{4, 5}, "c.4.5"},
		{ChunkKeyEncoding{Name: "default"}, []int{}, "c"},
		{V2KeyEncoding(), []int{0, 1, 2, 3}, "0.1.2.3"},
		{V2KeyEncoding(), []int{}, "0"},
	}
	for _, tc := range tests {
		if got := tc.enc.EncodeKey(tc.coords); got != tc.expected {
			t.Errorf("%s encoding of %v: expected %q, got %q", tc.enc.Name, tc.coords, tc.expected, got)
		}
	}
	g := &Geometry{prefix: "/mipmaps/1", encoding: DefaultKeyEncoding()}
	if key := g.EncodeChunkKey([]int{0, 0, 1, 2}); key != "mipmaps/1/c/0/0/1/2" {
		t.Errorf("unexpected store key %q", key)
	}
}

func TestGridAndStrides(t *testing.T) {
	grid := GridShape([]int{1, 5, 64, 65}, []int{1, 2, 32, 32})
	expected := []int{1, 3, 2, 3}
	for i := range expected {
		if grid[i] != expected[i] {
			t.Fatalf("expected grid %v, got %v", expected, grid)
		}
	}
	strides := CStrides([]int{2, 3, 4, 5})
	for i, s := range []int{60, 20, 5, 1} {
		if strides[i] != s {
			t.Fatalf("expected strides [60 20 5 1], got %v", strides)
		}
	}
}

func TestCopyBlock(t *testing.T) {
	// 3x4 source, copy 2x2 block at (1,1) into 2x3 destination at (0,1).
	src := []byte{
		0, 1, 2, 3,
		4, 5, 6, 7,
		8, 9, 10, 11,
	}
	dst := make([]byte, 6)
	copyBlock(dst, []int{2, 3}, []int{0, 1}, src, []int{3, 4}, []int{1, 1}, []int{2, 2}, 1)
	expected := []byte{0, 5, 6, 0, 9, 10}
	if !bytes.Equal(dst, expected) {
		t.Errorf("expected %v, got %v", expected, dst)
	}
}

func TestFillValueJSON(t *testing.T) {
	for _, v := range []float64{0, 3.5, math.Inf(-1), math.Inf(1)} {
		b, err := json.Marshal(FillValue(v))
		if err != nil {
			t.Fatalf("marshal %f: %v", v, err)
		}
		var f FillValue
		if err := json.Unmarshal(b, &f); err != nil {
			t.Fatalf("unmarshal %s: %v", b, err)
		}
		if float64(f) != v {
			t.Errorf("fill value %f became %f", v, f)
		}
	}
	var f FillValue
	if err := json.Unmarshal([]byte(`"NaN"`), &f); err != nil || !math.IsNaN(float64(f)) {
		t.Errorf("expected NaN fill value, got %f, %v", f, err)
	}
}

func testChunk(t *testing.T, shape []int) *Chunk {
	t.Helper()
	n := NumElements(shape)
	values := make([]uint16, n)
	for i := range values {
		values[i] = uint16(i * 7)
	}
	data, err := dvid.EncodeValues(values)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return &Chunk{Data: data, Shape: shape, Stride: CStrides(shape)}
}

func TestCodecPipelines(t *testing.T) {
	shape := []int{2, 4, 8, 8}
	pipelines := map[string][]CodecSpec{
		"bytes":      {BytesCodec()},
		"big endian": {newSpec("bytes", bytesConfig{Endian: "big"})},
		"zstd":       {BytesCodec(), ZstdCodec(3)},
		"gzip":       {BytesCodec(), GzipCodec(5)},
		"crc32c":     {BytesCodec(), ZstdCodec(0), Crc32cCodec()},
		"sharded":    {ShardingCodec([]int{1, 2, 4, 4}, []CodecSpec{BytesCodec(), ZstdCodec(0)}, nil)},
	}
	for name, specs := range pipelines {
		codec, err := newCodec(specs, dvid.T_uint16, make([]byte, 2))
		if err != nil {
			t.Fatalf("%s: can't make codec: %v", name, err)
		}
		c := testChunk(t, shape)
		b, err := codec.Encode(c)
		if err != nil {
			t.Fatalf("%s: encode: %v", name, err)
		}
		out, err := codec.Decode(b, shape)
		if err != nil {
			t.Fatalf("%s: decode: %v", name, err)
		}
		if !bytes.Equal(out.Data, c.Data) {
			t.Errorf("%s: round trip mismatch", name)
		}
	}
}

func TestBadPipelines(t *testing.T) {
	bad := map[string][]CodecSpec{
		"empty":         nil,
		"no bytes":      {ZstdCodec(0)},
		"two bytes":     {BytesCodec(), BytesCodec()},
		"unknown":       {BytesCodec(), {Name: "blosc"}},
		"bad endian":    {newSpec("bytes", bytesConfig{Endian: "middle"})},
		"sharded index": {ShardingCodec([]int{2, 2}, nil, []CodecSpec{BytesCodec(), ZstdCodec(0)})},
	}
	for name, specs := range bad {
		if _, err := newCodec(specs, dvid.T_uint8, []byte{0}); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestCrc32cDetectsCorruption(t *testing.T) {
	codec, err := newCodec([]CodecSpec{BytesCodec(), Crc32cCodec()}, dvid.T_uint8, []byte{0})
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	b, err := codec.Encode(&Chunk{Data: []byte{1, 2, 3, 4}, Shape: []int{4}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	b[1] ^= 0xFF
	if _, err := codec.Decode(b, []int{4}); err == nil {
		t.Fatalf("expected checksum error")
	}
}

func TestShardOmitsFillChunks(t *testing.T) {
	shape := []int{1, 2, 8, 8}
	codec, err := newCodec([]CodecSpec{ShardingCodec([]int{1, 2, 4, 4}, nil, nil)}, dvid.T_uint8, []byte{0})
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	c := NewChunk(dvid.T_uint8, shape)
	// Only the inner chunk at (0, 0, 1, 1) holds data.
	c.Data[CStrides(shape)[2]*5+6] = 42
	b, err := codec.Encode(c)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	innerBytes := 1 * 2 * 4 * 4
	indexBytes := 4*16 + 4
	if len(b) != innerBytes+indexBytes {
		t.Fatalf("expected one stored inner chunk plus index (%d bytes), got %d", innerBytes+indexBytes, len(b))
	}
	out, err := codec.Decode(b, shape)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(out.Data, c.Data) {
		t.Errorf("sharded round trip mismatch")
	}

	b[len(b)-5] ^= 0x01
	if _, err := codec.Decode(b, shape); err == nil {
		t.Errorf("expected error on corrupted shard index")
	}
}

func TestShardIndexAtStart(t *testing.T) {
	spec := ShardingCodec([]int{2, 2}, nil, nil)
	var config shardingConfig
	if err := json.Unmarshal(spec.Configuration, &config); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	config.IndexLocation = "start"
	codec, err := newCodec([]CodecSpec{newSpec("sharding_indexed", config)}, dvid.T_uint16, make([]byte, 2))
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	c := testChunk(t, []int{4, 4})
	b, err := codec.Encode(c)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := codec.Decode(b, []int{4, 4})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(out.Data, c.Data) {
		t.Errorf("round trip mismatch with index at start")
	}
}

func TestArrayCreateOpen(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	opts := CreateOptions{
		Shape:          []int{1, 5, 9, 9},
		DataType:       dvid.T_uint16,
		ChunkShape:     []int{1, 4, 8, 8},
		Codecs:         []CodecSpec{ShardingCodec([]int{1, 2, 4, 4}, []CodecSpec{BytesCodec(), ZstdCodec(0)}, nil)},
		DimensionNames: []string{"c", "z", "y", "x"},
	}
	a, err := Create(ctx, store, "/mipmaps/1", opts)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := Create(ctx, store, "mipmaps/1/", opts); !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists on second create, got %v", err)
	}
	if a.Path() != "/mipmaps/1" {
		t.Errorf("unexpected path %q", a.Path())
	}
	if a.Resolve("../analytics") != "/mipmaps/analytics" {
		t.Errorf("unexpected resolved path %q", a.Resolve("../analytics"))
	}
	grid := a.GridShape()
	if grid[1] != 2 || grid[2] != 2 || grid[3] != 2 {
		t.Fatalf("unexpected grid %v", grid)
	}

	c, err := a.GetChunk(ctx, []int{0, 1, 1, 1})
	if err != nil {
		t.Fatalf("get unwritten chunk: %v", err)
	}
	if !allZero(c.Data) || len(c.Data) != 1*4*8*8*2 {
		t.Fatalf("expected fill chunk, got %d bytes", len(c.Data))
	}

	written := testChunk(t, []int{1, 4, 8, 8})
	if err := a.SetChunk(ctx, []int{0, 1, 1, 1}, written); err != nil {
		t.Fatalf("set chunk: %v", err)
	}
	if err := a.SetChunk(ctx, []int{0, 2, 0, 0}, written); err == nil {
		t.Errorf("expected error writing outside grid")
	}
	if err := a.SetChunk(ctx, []int{0, 0, 0, 0}, testChunk(t, []int{1, 2, 8, 8})); err == nil {
		t.Errorf("expected error writing wrong chunk shape")
	}
	raw, err := store.Get(ctx, "mipmaps/1/c/0/1/1/1")
	if err != nil || raw == nil {
		t.Fatalf("expected shard at default chunk key: %v", err)
	}

	b, err := Open(ctx, store, "mipmaps/1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if b.DataType() != dvid.T_uint16 || len(b.Shape()) != 4 || b.Shape()[3] != 9 {
		t.Errorf("unexpected opened array %s", b)
	}
	inner, ok := ShardChunkShape(b.Metadata().Codecs)
	if !ok || inner[2] != 4 {
		t.Errorf("expected sharded array with inner chunk shape, got %v", inner)
	}
	got, err := b.GetChunk(ctx, []int{0, 1, 1, 1})
	if err != nil {
		t.Fatalf("get chunk: %v", err)
	}
	if !bytes.Equal(got.Data, written.Data) {
		t.Errorf("chunk round trip through store mismatch")
	}

	if _, err := Open(ctx, store, "/nothing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestOpenBadMetadata(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	docs := map[string]string{
		"complex": `{"zarr_format":3,"node_type":"array","shape":[4],"data_type":"complex64",
			"chunk_grid":{"name":"regular","configuration":{"chunk_shape":[4]}},
			"chunk_key_encoding":{"name":"default"},"fill_value":0,"codecs":[{"name":"bytes"}]}`,
		"v2": `{"zarr_format":2,"node_type":"array","shape":[4],"data_type":"uint8",
			"chunk_grid":{"name":"regular","configuration":{"chunk_shape":[4]}},
			"chunk_key_encoding":{"name":"default"},"fill_value":0,"codecs":[{"name":"bytes"}]}`,
		"indivisible": `{"zarr_format":3,"node_type":"array","shape":[8],"data_type":"uint8",
			"chunk_grid":{"name":"regular","configuration":{"chunk_shape":[6]}},
			"chunk_key_encoding":{"name":"default"},"fill_value":0,
			"codecs":[{"name":"sharding_indexed","configuration":{"chunk_shape":[4],"codecs":[{"name":"bytes"}],"index_codecs":[{"name":"bytes"}]}}]}`,
	}
	for name, doc := range docs {
		if err := store.Set(ctx, name+"/zarr.json", []byte(doc)); err != nil {
			t.Fatalf("set: %v", err)
		}
		if _, err := Open(ctx, store, name); !errors.Is(err, ErrBadMetadata) {
			t.Errorf("%s: expected ErrBadMetadata opening array, got %v", name, err)
		}
	}
}

func TestGroups(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	g, err := ReadGroup(ctx, store, "/")
	if err != nil || g != nil {
		t.Fatalf("expected nil, nil for absent group, got %v, %v", g, err)
	}
	attrs := map[string]interface{}{"layout": "mipmaps"}
	if err := WriteGroup(ctx, store, "/", attrs); err != nil {
		t.Fatalf("write group: %v", err)
	}
	g, err = ReadGroup(ctx, store, "")
	if err != nil {
		t.Fatalf("read group: %v", err)
	}
	if g.ZarrFormat != 3 || g.NodeType != "group" {
		t.Errorf("unexpected group document %+v", g)
	}
	var decoded map[string]string
	if err := json.Unmarshal(g.Attributes, &decoded); err != nil || decoded["layout"] != "mipmaps" {
		t.Errorf("unexpected attributes %s (%v)", g.Attributes, err)
	}

	if _, err := Create(ctx, store, "/raw", CreateOptions{Shape: []int{4}, DataType: dvid.T_uint8, ChunkShape: []int{4}}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := ReadGroup(ctx, store, "/raw"); !errors.Is(err, ErrBadMetadata) {
		t.Errorf("expected ErrBadMetadata reading array as group, got %v", err)
	}
}
