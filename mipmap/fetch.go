package mipmap

import (
	"context"

	"github.com/janelia-flyem/mipmapper/dvid"
	"github.com/janelia-flyem/mipmapper/zarr"

	"golang.org/x/sync/errgroup"
)

func fetchValues[T dvid.Number](ctx context.Context, arr *zarr.Array, coords [4]int) ([]T, error) {
	c, err := arr.GetChunk(ctx, coords[:])
	if err != nil {
		return nil, err
	}
	return dvid.DecodeValues[T](c.Data)
}

// forEachSourceChunk calls fn in order for the decoded values of each grid chunk.
// Serially, each chunk is fetched only after the previous one was processed.  With
// concurrency > 1 up to that many chunks are fetched at once, then fn is called in
// the original order.
func forEachSourceChunk[T dvid.Number](ctx context.Context, arr *zarr.Array, coords [][4]int,
	concurrency int, fn func(coords [4]int, values []T)) error {

	if concurrency <= 1 || len(coords) <= 1 {
		for _, c := range coords {
			values, err := fetchValues[T](ctx, arr, c)
			if err != nil {
				return err
			}
			fn(c, values)
		}
		return nil
	}

	fetched := make([][]T, len(coords))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, c := range coords {
		i, c := i, c
		g.Go(func() error {
			values, err := fetchValues[T](gctx, arr, c)
			if err != nil {
				return err
			}
			fetched[i] = values
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for i, c := range coords {
		fn(c, fetched[i])
	}
	return nil
}

// gridRange returns the coordinates, in c, z, y, x order, of the grid chunks of the
// given shape that intersect the voxel range [beg, end).
func gridRange(chunkShape []int, beg, end [4]int) [][4]int {
	var first, last [4]int
	for d := 0; d < 4; d++ {
		if end[d] <= beg[d] {
			return nil
		}
		first[d] = beg[d] / chunkShape[d]
		last[d] = (end[d] - 1) / chunkShape[d]
	}
	var coords [][4]int
	for c := first[0]; c <= last[0]; c++ {
		for z := first[1]; z <= last[1]; z++ {
			for y := first[2]; y <= last[2]; y++ {
				for x := first[3]; x <= last[3]; x++ {
					coords = append(coords, [4]int{c, z, y, x})
				}
			}
		}
	}
	return coords
}
