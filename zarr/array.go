/*
Package zarr implements zarr v3 arrays and groups on top of a storage.Store.

An array's grid chunks are read and written whole.  When the array uses the
sharding_indexed codec each grid chunk is a shard holding many independently
compressed inner chunks, and inner chunks holding only the fill value are omitted.
*/
package zarr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"

	"github.com/janelia-flyem/mipmapper/dvid"
	"github.com/janelia-flyem/mipmapper/storage"
)

var (
	// ErrExists is returned when creating a node where metadata already exists.
	ErrExists = errors.New("zarr node already exists")

	// ErrNotFound is returned when opening an array without metadata.
	ErrNotFound = errors.New("zarr array not found")

	// ErrBadMetadata is returned when a metadata document can't be parsed or describes
	// the wrong kind of node.
	ErrBadMetadata = errors.New("bad zarr metadata")
)

// CreateOptions describe a new array.  ChunkShape is the shape of the grid chunks;
// with a sharding codec it is the shard shape.
type CreateOptions struct {
	Shape          []int
	DataType       dvid.DataType
	ChunkShape     []int
	Codecs         []CodecSpec // defaults to bytes + zstd
	FillValue      float64
	DimensionNames []string
	KeyEncoding    *ChunkKeyEncoding // defaults to "default" with "/" separator
	Attributes     map[string]interface{}
}

// Array is a handle to a stored zarr v3 array.
type Array struct {
	store    storage.Store
	path     string
	meta     ArrayMetadata
	fill     []byte
	geometry *Geometry
}

// Geometry is the low-level chunk geometry of an array, sufficient to encode and store
// grid chunks directly.
type Geometry struct {
	// ChunkShape is the shape of the grid chunks.
	ChunkShape []int

	// Codec encodes a grid chunk into its stored bytes.
	Codec *Codec

	prefix   string
	encoding ChunkKeyEncoding
}

// EncodeChunkKey returns the store key of the grid chunk at the coordinates.
func (g *Geometry) EncodeChunkKey(coords []int) string {
	return storage.JoinKey(g.prefix, g.encoding.EncodeKey(coords))
}

// Strides returns the C-order strides, in elements, for a chunk shape.
func (g *Geometry) Strides(shape []int) []int {
	return CStrides(shape)
}

func cleanPath(p string) string {
	return path.Join("/", p)
}

// Create creates a new array at the path.  It is an error if a node already exists there.
func Create(ctx context.Context, store storage.Store, p string, opts CreateOptions) (*Array, error) {
	p = cleanPath(p)
	metaKey := storage.JoinKey(p, MetadataKey)
	existing, err := store.Get(ctx, metaKey)
	if err != nil {
		return nil, fmt.Errorf("checking for array at %s: %w", p, err)
	}
	if existing != nil {
		return nil, fmt.Errorf("can't create array at %s: %w", p, ErrExists)
	}

	codecs := opts.Codecs
	if len(codecs) == 0 {
		codecs = []CodecSpec{BytesCodec(), ZstdCodec(0)}
	}
	enc := DefaultKeyEncoding()
	if opts.KeyEncoding != nil {
		enc = *opts.KeyEncoding
	}
	meta := ArrayMetadata{
		ZarrFormat:       FormatVersion,
		NodeType:         "array",
		Shape:            append([]int(nil), opts.Shape...),
		DataType:         opts.DataType,
		ChunkGrid:        RegularGrid(append([]int(nil), opts.ChunkShape...)),
		ChunkKeyEncoding: enc,
		FillValue:        FillValue(opts.FillValue),
		Codecs:           codecs,
		DimensionNames:   opts.DimensionNames,
		Attributes:       opts.Attributes,
	}
	a, err := newArray(store, p, meta)
	if err != nil {
		return nil, fmt.Errorf("can't create array at %s: %w", p, err)
	}
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := store.Set(ctx, metaKey, b); err != nil {
		return nil, fmt.Errorf("writing array metadata for %s: %w", p, err)
	}
	dvid.Debugf("Created %s array %s with shape %v, chunks %v\n", opts.DataType, p, opts.Shape, opts.ChunkShape)
	return a, nil
}

// Open opens an existing array.
func Open(ctx context.Context, store storage.Store, p string) (*Array, error) {
	p = cleanPath(p)
	b, err := store.Get(ctx, storage.JoinKey(p, MetadataKey))
	if err != nil {
		return nil, fmt.Errorf("reading array metadata for %s: %w", p, err)
	}
	if b == nil {
		return nil, fmt.Errorf("no array at %s: %w", p, ErrNotFound)
	}
	var meta ArrayMetadata
	if err := json.Unmarshal(b, &meta); err != nil {
		return nil, fmt.Errorf("%w for array %s: %v", ErrBadMetadata, p, err)
	}
	a, err := newArray(store, p, meta)
	if err != nil {
		return nil, fmt.Errorf("%w for array %s: %v", ErrBadMetadata, p, err)
	}
	return a, nil
}

func newArray(store storage.Store, p string, meta ArrayMetadata) (*Array, error) {
	if err := meta.validate(); err != nil {
		return nil, err
	}
	fill, err := scalarBytes(meta.DataType, float64(meta.FillValue))
	if err != nil {
		return nil, err
	}
	codec, err := newCodec(meta.Codecs, meta.DataType, fill)
	if err != nil {
		return nil, err
	}
	if sc, ok := codec.arrayBytes.(*shardingCodec); ok {
		if _, err := sc.innerGrid(meta.ChunkGrid.Configuration.ChunkShape); err != nil {
			return nil, err
		}
	}
	return &Array{
		store: store,
		path:  p,
		meta:  meta,
		fill:  fill,
		geometry: &Geometry{
			ChunkShape: meta.ChunkGrid.Configuration.ChunkShape,
			Codec:      codec,
			prefix:     p,
			encoding:   meta.ChunkKeyEncoding,
		},
	}, nil
}

func (a *Array) String() string {
	return fmt.Sprintf("%s array %s %v", a.meta.DataType, a.path, a.meta.Shape)
}

// Shape returns the array shape.
func (a *Array) Shape() []int {
	return append([]int(nil), a.meta.Shape...)
}

func (a *Array) DataType() dvid.DataType {
	return a.meta.DataType
}

func (a *Array) Store() storage.Store {
	return a.store
}

// Path returns the absolute path of the array within the store, e.g., "/mipmaps/1".
func (a *Array) Path() string {
	return a.path
}

// Resolve returns the absolute path of a path relative to the array.
func (a *Array) Resolve(rel string) string {
	return path.Join(a.path, rel)
}

// Metadata returns a copy of the array metadata.
func (a *Array) Metadata() ArrayMetadata {
	return a.meta
}

// FillValue returns the array's fill value.
func (a *Array) FillValue() float64 {
	return float64(a.meta.FillValue)
}

// ChunkShape returns the shape of the grid chunks.
func (a *Array) ChunkShape() []int {
	return append([]int(nil), a.geometry.ChunkShape...)
}

// GridShape returns the number of grid chunks along each axis.
func (a *Array) GridShape() []int {
	return GridShape(a.meta.Shape, a.geometry.ChunkShape)
}

// Geometry returns the chunk geometry used to directly encode and store grid chunks.
func (a *Array) Geometry() *Geometry {
	return a.geometry
}

func (a *Array) checkCoords(coords []int) error {
	grid := a.GridShape()
	if len(coords) != len(grid) {
		return fmt.Errorf("chunk coordinates %v have wrong dimensions for %s", coords, a)
	}
	for i := range coords {
		if coords[i] < 0 || coords[i] >= grid[i] {
			return fmt.Errorf("chunk coordinates %v outside grid %v of %s", coords, grid, a)
		}
	}
	return nil
}

// GetChunk returns the decoded grid chunk at the coordinates.  A chunk that was never
// written is returned filled with the fill value.
func (a *Array) GetChunk(ctx context.Context, coords []int) (*Chunk, error) {
	if err := a.checkCoords(coords); err != nil {
		return nil, err
	}
	key := a.geometry.EncodeChunkKey(coords)
	b, err := a.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("reading chunk %q: %w", key, err)
	}
	shape := a.geometry.ChunkShape
	if b == nil {
		return &Chunk{
			Data:   repeatElement(a.fill, NumElements(shape)),
			Shape:  append([]int(nil), shape...),
			Stride: CStrides(shape),
		}, nil
	}
	c, err := a.geometry.Codec.Decode(b, shape)
	if err != nil {
		return nil, fmt.Errorf("decoding chunk %q: %w", key, err)
	}
	return c, nil
}

// SetChunk encodes and stores a full grid chunk at the coordinates.
func (a *Array) SetChunk(ctx context.Context, coords []int, c *Chunk) error {
	if err := a.checkCoords(coords); err != nil {
		return err
	}
	if err := c.validate(a.meta.DataType, a.geometry.ChunkShape); err != nil {
		return err
	}
	b, err := a.geometry.Codec.Encode(c)
	if err != nil {
		return err
	}
	key := a.geometry.EncodeChunkKey(coords)
	if err := a.store.Set(ctx, key, b); err != nil {
		return fmt.Errorf("writing chunk %q: %w", key, err)
	}
	return nil
}
