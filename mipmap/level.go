package mipmap

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/janelia-flyem/mipmapper/dvid"
	"github.com/janelia-flyem/mipmapper/storage"
	"github.com/janelia-flyem/mipmapper/zarr"
)

// DimensionNames are the axis names of every level.
var DimensionNames = []string{"c", "z", "y", "x"}

// LevelPlan holds the byte budgets and compression used to lay out a level.
type LevelPlan struct {
	ChunkBytes int // defaults to DefaultChunkBytes
	ShardBytes int // defaults to DefaultShardBytes
	ZstdLevel  int // 0 uses the zstd default
}

func (p LevelPlan) withDefaults() LevelPlan {
	if p.ChunkBytes <= 0 {
		p.ChunkBytes = DefaultChunkBytes
	}
	if p.ShardBytes <= 0 {
		p.ShardBytes = DefaultShardBytes
	}
	return p
}

// Level is a created pyramid level with the geometry needed to write its shards directly.
type Level struct {
	Array      *zarr.Array
	ChunkShape VolumeChunkShape
	ShardShape VolumeChunkShape
	Geometry   *zarr.Geometry
}

// CreateLevel creates an array at the path whose shards bundle chunks sized by the plan.
// The array's grid chunk is the shard, so each write stores one complete shard.
func CreateLevel(ctx context.Context, store storage.Store, path string, shape VolumeChunkShape,
	dtype dvid.DataType, plan LevelPlan) (*Level, error) {

	if !dtype.Valid() {
		return nil, fmt.Errorf("can't create level %s with %s", path, dtype)
	}
	plan = plan.withDefaults()
	dims := DimensionsOf(shape)
	chunk := ComputeChunkShape(dims, dtype.Bytes(), plan.ChunkBytes)
	shard := ComputeShardShape(chunk, dims, dtype.Bytes(), plan.ShardBytes)

	codecs := []zarr.CodecSpec{
		zarr.ShardingCodec(chunk.Slice(),
			[]zarr.CodecSpec{zarr.BytesCodec(), zarr.ZstdCodec(plan.ZstdLevel)},
			[]zarr.CodecSpec{zarr.BytesCodec(), zarr.Crc32cCodec()}),
	}
	arr, err := zarr.Create(ctx, store, path, zarr.CreateOptions{
		Shape:          shape.Slice(),
		DataType:       dtype,
		ChunkShape:     shard.Slice(),
		Codecs:         codecs,
		DimensionNames: DimensionNames,
	})
	if err != nil {
		return nil, err
	}
	dvid.Infof("Created level %s (%s) with %s chunks (%s) in %s shards (%s)\n", path, shape,
		chunk, humanize.Bytes(uint64(chunk.Bytes(dtype.Bytes()))),
		shard, humanize.Bytes(uint64(shard.Bytes(dtype.Bytes()))))
	return &Level{
		Array:      arr,
		ChunkShape: chunk,
		ShardShape: shard,
		Geometry:   arr.Geometry(),
	}, nil
}

// NextLevelShape returns the shape of the next coarser level: z, y and x halved,
// rounding up, with the channel count unchanged.
func NextLevelShape(shape VolumeChunkShape) VolumeChunkShape {
	return VolumeChunkShape{
		shape[AxisC],
		(shape[AxisZ] + 1) / 2,
		(shape[AxisY] + 1) / 2,
		(shape[AxisX] + 1) / 2,
	}
}

// MaxSpatial returns the largest of the z, y and x extents.
func MaxSpatial(shape VolumeChunkShape) int {
	return max(shape[AxisZ], shape[AxisY], shape[AxisX])
}
