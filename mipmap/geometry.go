/*
Package mipmap builds multi-resolution pyramids of 4-D (c, z, y, x) zarr arrays by
2x2x2 max-pooling and collects per-channel intensity statistics along the way.
Levels are computed chunk by chunk against the store so the full-resolution volume
is never held in memory.
*/
package mipmap

import (
	"fmt"

	"github.com/janelia-flyem/mipmapper/dvid"
)

const (
	// DefaultChunkBytes is the target size of an inner chunk, the unit of compression.
	DefaultChunkBytes = 1 * dvid.Mega

	// DefaultShardBytes is the target size of a shard, the unit of storage I/O.
	DefaultShardBytes = 16 * dvid.Mega

	// maxShardFactor is the most a shard can extend beyond its chunk along any axis.
	maxShardFactor = 8
)

// Axis indices into a VolumeChunkShape.
const (
	AxisC = iota
	AxisZ
	AxisY
	AxisX
)

// VolumeChunkShape is an extent along the axes [channels, z, y, x].
type VolumeChunkShape [4]int

// Voxels returns the number of elements in the shape.
func (s VolumeChunkShape) Voxels() int {
	return s[0] * s[1] * s[2] * s[3]
}

// Bytes returns the byte size of the shape for elements of the given width.
func (s VolumeChunkShape) Bytes(bytesPerValue int) int {
	return s.Voxels() * bytesPerValue
}

// Slice returns the shape as a slice for use with the zarr package.
func (s VolumeChunkShape) Slice() []int {
	return []int{s[0], s[1], s[2], s[3]}
}

func (s VolumeChunkShape) String() string {
	return fmt.Sprintf("c%d z%d y%d x%d", s[0], s[1], s[2], s[3])
}

// ShapeFromSlice converts a 4-D array shape to a VolumeChunkShape.
func ShapeFromSlice(shape []int) (VolumeChunkShape, error) {
	var s VolumeChunkShape
	if len(shape) != 4 {
		return s, fmt.Errorf("expected 4-D (c, z, y, x) shape, got %v", shape)
	}
	copy(s[:], shape)
	return s, nil
}

// VoxelDimensions are the extents of a volume.
type VoxelDimensions struct {
	Width    int
	Height   int
	Depth    int
	Channels int
}

// DimensionsOf returns the dimensions of a volume with the given shape.
func DimensionsOf(shape VolumeChunkShape) VoxelDimensions {
	return VoxelDimensions{
		Width:    shape[AxisX],
		Height:   shape[AxisY],
		Depth:    shape[AxisZ],
		Channels: shape[AxisC],
	}
}

func (d VoxelDimensions) extent() VolumeChunkShape {
	return VolumeChunkShape{d.Channels, d.Depth, d.Height, d.Width}
}

func atLeastOne(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

// ComputeChunkShape returns a chunk shape of at most budget bytes, starting from
// [min(c,4), min(d,16), min(h,256), min(w,256)] and halving axes in the order x, y, z, c.
// Every axis is at least 1, so a single voxel larger than the budget is accepted.
func ComputeChunkShape(dims VoxelDimensions, bytesPerValue, budget int) VolumeChunkShape {
	shape := VolumeChunkShape{
		atLeastOne(min(dims.Channels, 4)),
		atLeastOne(min(dims.Depth, 16)),
		atLeastOne(min(dims.Height, 256)),
		atLeastOne(min(dims.Width, 256)),
	}
	shrinkOrder := [4]int{AxisX, AxisY, AxisZ, AxisC}
	for shape.Bytes(bytesPerValue) > budget {
		shrunk := false
		for _, axis := range shrinkOrder {
			if shape[axis] > 1 {
				shape[axis] /= 2
				shrunk = true
				break
			}
		}
		if !shrunk {
			break
		}
	}
	return shape
}

// ComputeShardShape returns a shard shape that bundles chunks by doubling axes of the
// chunk shape in rotating order z, y, x, c while the shard is below budget bytes and
// no axis has reached 8x its chunk extent.  Axes already covering the volume are not
// grown.
func ComputeShardShape(chunk VolumeChunkShape, dims VoxelDimensions, bytesPerValue, budget int) VolumeChunkShape {
	shard := chunk
	extent := dims.extent()
	growOrder := [4]int{AxisZ, AxisY, AxisX, AxisC}
	next := 0
	for shard.Bytes(bytesPerValue) < budget && !reachedShardLimit(shard, chunk) {
		grown := false
		for i := 0; i < len(growOrder); i++ {
			axis := growOrder[(next+i)%len(growOrder)]
			if shard[axis] >= extent[axis] {
				continue
			}
			shard[axis] *= 2
			next = (next + i + 1) % len(growOrder)
			grown = true
			break
		}
		if !grown {
			break
		}
	}
	return shard
}

func reachedShardLimit(shard, chunk VolumeChunkShape) bool {
	for i := range shard {
		if shard[i] >= maxShardFactor*chunk[i] {
			return true
		}
	}
	return false
}
