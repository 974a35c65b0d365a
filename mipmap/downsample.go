package mipmap

import (
	"context"
	"fmt"

	"github.com/janelia-flyem/mipmapper/dvid"
	"github.com/janelia-flyem/mipmapper/zarr"
)

// DownsampleOptions control how source chunks are read.
type DownsampleOptions struct {
	// FetchConcurrency is the number of source chunks fetched at once for each target
	// chunk.  Values of 0 or 1 read strictly one chunk at a time.
	FetchConcurrency int
}

// Downsample fills the target level from its source by 2x2x2 max-pooling over z, y and x.
// Channels map 1:1.  NaN voxels never win a block; a block of only NaN gets the fill value.
// If acc is non-nil, every source voxel read is added to the channel
// statistics, which should only be done when the source holds base-resolution data.
func Downsample(ctx context.Context, src *zarr.Array, dst *Level, acc *StatsAccumulator, opts DownsampleOptions) error {
	srcShape, err := ShapeFromSlice(src.Shape())
	if err != nil {
		return err
	}
	dstShape, err := ShapeFromSlice(dst.Array.Shape())
	if err != nil {
		return err
	}
	if NextLevelShape(srcShape) != dstShape {
		return fmt.Errorf("level %s shape %s is not the downsampled shape of %s %s",
			dst.Array.Path(), dstShape, src.Path(), srcShape)
	}
	if src.DataType() != dst.Array.DataType() {
		return fmt.Errorf("can't downsample %s data into %s level", src.DataType(), dst.Array.DataType())
	}
	if acc != nil && acc.Channels() != srcShape[AxisC] {
		return fmt.Errorf("stats for %d channels given for %d channel volume", acc.Channels(), srcShape[AxisC])
	}

	ds := &downsampler{src: src, dst: dst, acc: acc, opts: opts, srcShape: srcShape, dstShape: dstShape}
	switch dtype := src.DataType(); dtype {
	case dvid.T_uint8:
		return downsampleTyped[uint8](ctx, ds)
	case dvid.T_int8:
		return downsampleTyped[int8](ctx, ds)
	case dvid.T_uint16:
		return downsampleTyped[uint16](ctx, ds)
	case dvid.T_int16:
		return downsampleTyped[int16](ctx, ds)
	case dvid.T_uint32:
		return downsampleTyped[uint32](ctx, ds)
	case dvid.T_int32:
		return downsampleTyped[int32](ctx, ds)
	case dvid.T_uint64:
		return downsampleTyped[uint64](ctx, ds)
	case dvid.T_int64:
		return downsampleTyped[int64](ctx, ds)
	case dvid.T_float32:
		return downsampleTyped[float32](ctx, ds)
	case dvid.T_float64:
		return downsampleTyped[float64](ctx, ds)
	default:
		panic(fmt.Sprintf("Downsample() called with unexpected data type %d", uint8(dtype)))
	}
}

type downsampler struct {
	src      *zarr.Array
	dst      *Level
	acc      *StatsAccumulator
	opts     DownsampleOptions
	srcShape VolumeChunkShape
	dstShape VolumeChunkShape
}

func downsampleTyped[T dvid.Number](ctx context.Context, ds *downsampler) error {
	sentinel, fill := dvid.Limits[T](ds.src.DataType())
	geom := ds.dst.Geometry
	chunkShape := geom.ChunkShape
	targetStrides := geom.Strides(chunkShape)
	srcChunkShape := ds.src.ChunkShape()
	srcStrides := zarr.CStrides(srcChunkShape)
	grid := ds.dst.Array.GridShape()
	store := ds.dst.Array.Store()
	acc := ds.acc

	timedLog := dvid.NewTimeLog()
	var numChunks, numSource int
	var coords [4]int
	for coords[0] = 0; coords[0] < grid[0]; coords[0]++ {
		for coords[1] = 0; coords[1] < grid[1]; coords[1]++ {
			for coords[2] = 0; coords[2] < grid[2]; coords[2]++ {
				for coords[3] = 0; coords[3] < grid[3]; coords[3]++ {
					if err := ctx.Err(); err != nil {
						return err
					}

					// Target voxel range of this chunk and the source range it pools.
					var tBeg, tEnd, sBeg, sEnd [4]int
					for d := 0; d < 4; d++ {
						tBeg[d] = coords[d] * chunkShape[d]
						tEnd[d] = min(tBeg[d]+chunkShape[d], ds.dstShape[d])
					}
					sBeg[AxisC], sEnd[AxisC] = tBeg[AxisC], tEnd[AxisC]
					for d := AxisZ; d <= AxisX; d++ {
						sBeg[d] = tBeg[d] * 2
						sEnd[d] = min(tEnd[d]*2, ds.srcShape[d])
					}

					n := zarr.NumElements(chunkShape)
					buf := make([]T, n)
					for i := range buf {
						buf[i] = sentinel
					}
					written := make([]bool, n)

					sources := gridRange(srcChunkShape, sBeg, sEnd)
					numSource += len(sources)
					err := forEachSourceChunk(ctx, ds.src, sources, ds.opts.FetchConcurrency,
						func(sc [4]int, values []T) {
							var origin, lo, hi [4]int
							for d := 0; d < 4; d++ {
								origin[d] = sc[d] * srcChunkShape[d]
								lo[d] = max(origin[d], sBeg[d])
								hi[d] = min(origin[d]+srcChunkShape[d], sEnd[d])
							}
							for c := lo[0]; c < hi[0]; c++ {
								si0 := (c - origin[0]) * srcStrides[0]
								ti0 := (c - tBeg[0]) * targetStrides[0]
								for z := lo[1]; z < hi[1]; z++ {
									si1 := si0 + (z-origin[1])*srcStrides[1]
									ti1 := ti0 + (z/2-tBeg[1])*targetStrides[1]
									for y := lo[2]; y < hi[2]; y++ {
										si2 := si1 + (y-origin[2])*srcStrides[2]
										ti2 := ti1 + (y/2-tBeg[2])*targetStrides[2]
										for x := lo[3]; x < hi[3]; x++ {
											v := values[si2+(x-origin[3])*srcStrides[3]]
											if acc != nil {
												acc.Add(c, float64(v))
											}
											if v != v {
												continue
											}
											ti := ti2 + (x/2-tBeg[3])*targetStrides[3]
											if !written[ti] {
												buf[ti] = v
												written[ti] = true
											} else if v > buf[ti] {
												buf[ti] = v
											}
										}
									}
								}
							}
						})
					if err != nil {
						return fmt.Errorf("downsampling %s chunk %v: %w", ds.dst.Array.Path(), coords, err)
					}

					for i, ok := range written {
						if !ok {
							buf[i] = fill
						}
					}
					data, err := dvid.EncodeValues(buf)
					if err != nil {
						return err
					}
					encoded, err := geom.Codec.Encode(&zarr.Chunk{Data: data, Shape: chunkShape, Stride: targetStrides})
					if err != nil {
						return fmt.Errorf("encoding %s chunk %v: %w", ds.dst.Array.Path(), coords, err)
					}
					key := geom.EncodeChunkKey(coords[:])
					if err := store.Set(ctx, key, encoded); err != nil {
						return fmt.Errorf("writing chunk %q: %w", key, err)
					}
					numChunks++
				}
			}
		}
	}
	timedLog.Infof("Downsampled %s into %s: %d chunks from %d source chunks", ds.src.Path(), ds.dst.Array.Path(), numChunks, numSource)
	return nil
}
