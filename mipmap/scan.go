package mipmap

import (
	"context"
	"fmt"

	"github.com/janelia-flyem/mipmapper/dvid"
	"github.com/janelia-flyem/mipmapper/zarr"
)

// ScanLevel adds every voxel of the array to the statistics without writing anything.
func ScanLevel(ctx context.Context, arr *zarr.Array, acc *StatsAccumulator) error {
	shape, err := ShapeFromSlice(arr.Shape())
	if err != nil {
		return err
	}
	if acc.Channels() != shape[AxisC] {
		return fmt.Errorf("stats for %d channels given for %d channel volume", acc.Channels(), shape[AxisC])
	}
	switch dtype := arr.DataType(); dtype {
	case dvid.T_uint8:
		return scanTyped[uint8](ctx, arr, shape, acc)
	case dvid.T_int8:
		return scanTyped[int8](ctx, arr, shape, acc)
	case dvid.T_uint16:
		return scanTyped[uint16](ctx, arr, shape, acc)
	case dvid.T_int16:
		return scanTyped[int16](ctx, arr, shape, acc)
	case dvid.T_uint32:
		return scanTyped[uint32](ctx, arr, shape, acc)
	case dvid.T_int32:
		return scanTyped[int32](ctx, arr, shape, acc)
	case dvid.T_uint64:
		return scanTyped[uint64](ctx, arr, shape, acc)
	case dvid.T_int64:
		return scanTyped[int64](ctx, arr, shape, acc)
	case dvid.T_float32:
		return scanTyped[float32](ctx, arr, shape, acc)
	case dvid.T_float64:
		return scanTyped[float64](ctx, arr, shape, acc)
	default:
		panic(fmt.Sprintf("ScanLevel() called with unexpected data type %d", uint8(dtype)))
	}
}

func scanTyped[T dvid.Number](ctx context.Context, arr *zarr.Array, shape VolumeChunkShape, acc *StatsAccumulator) error {
	chunkShape := arr.ChunkShape()
	strides := zarr.CStrides(chunkShape)
	timedLog := dvid.NewTimeLog()
	coords := gridRange(chunkShape, [4]int{}, shape)
	for _, cc := range coords {
		if err := ctx.Err(); err != nil {
			return err
		}
		values, err := fetchValues[T](ctx, arr, cc)
		if err != nil {
			return fmt.Errorf("scanning %s chunk %v: %w", arr.Path(), cc, err)
		}
		var origin, extent [4]int
		for d := 0; d < 4; d++ {
			origin[d] = cc[d] * chunkShape[d]
			extent[d] = min(chunkShape[d], shape[d]-origin[d])
		}
		for c := 0; c < extent[0]; c++ {
			for z := 0; z < extent[1]; z++ {
				for y := 0; y < extent[2]; y++ {
					i := c*strides[0] + z*strides[1] + y*strides[2]
					for x := 0; x < extent[3]; x++ {
						acc.Add(origin[0]+c, float64(values[i+x*strides[3]]))
					}
				}
			}
		}
	}
	timedLog.Infof("Scanned %d chunks of %s", len(coords), arr.Path())
	return nil
}
