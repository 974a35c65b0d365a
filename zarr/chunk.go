package zarr

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/janelia-flyem/mipmapper/dvid"
)

// Chunk is a decoded block of an array: little-endian element bytes in C order
// with the shape of the block and its strides in elements.
type Chunk struct {
	Data   []byte
	Shape  []int
	Stride []int
}

// NewChunk returns a zeroed chunk of the given shape.
func NewChunk(dtype dvid.DataType, shape []int) *Chunk {
	return &Chunk{
		Data:   make([]byte, NumElements(shape)*dtype.Bytes()),
		Shape:  append([]int(nil), shape...),
		Stride: CStrides(shape),
	}
}

// NumElements returns the number of elements in a block of the given shape.
func NumElements(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}

// CStrides returns the C-order (last axis fastest) strides, in elements, for a shape.
func CStrides(shape []int) []int {
	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}

// GridShape calculates the number of chunks in each dimension.
// For each dimension i, the number of chunks is ceil(shape[i] / chunks[i]).
func GridShape(shape, chunks []int) []int {
	grid := make([]int, len(shape))
	for i := range shape {
		grid[i] = (shape[i] + chunks[i] - 1) / chunks[i]
	}
	return grid
}

func (c *Chunk) validate(dtype dvid.DataType, shape []int) error {
	if len(c.Shape) != len(shape) {
		return fmt.Errorf("chunk has %d dimensions, expected %d", len(c.Shape), len(shape))
	}
	for i := range shape {
		if c.Shape[i] != shape[i] {
			return fmt.Errorf("chunk shape %v does not match expected %v", c.Shape, shape)
		}
	}
	if expected := NumElements(shape) * dtype.Bytes(); len(c.Data) != expected {
		return fmt.Errorf("chunk has %d bytes, expected %d for %s shape %v", len(c.Data), expected, dtype, shape)
	}
	if c.Stride != nil {
		want := CStrides(shape)
		for i := range want {
			if c.Stride[i] != want[i] && shape[i] > 1 {
				return fmt.Errorf("chunk strides %v are not C order for shape %v", c.Stride, shape)
			}
		}
	}
	return nil
}

// scalarBytes returns the little-endian encoding of a single value in the data type.
func scalarBytes(dtype dvid.DataType, v float64) ([]byte, error) {
	b := make([]byte, dtype.Bytes())
	switch dtype {
	case dvid.T_uint8:
		b[0] = uint8(v)
	case dvid.T_int8:
		b[0] = byte(int8(v))
	case dvid.T_uint16:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case dvid.T_int16:
		binary.LittleEndian.PutUint16(b, uint16(int16(v)))
	case dvid.T_uint32:
		binary.LittleEndian.PutUint32(b, uint32(v))
	case dvid.T_int32:
		binary.LittleEndian.PutUint32(b, uint32(int32(v)))
	case dvid.T_uint64:
		binary.LittleEndian.PutUint64(b, uint64(v))
	case dvid.T_int64:
		binary.LittleEndian.PutUint64(b, uint64(int64(v)))
	case dvid.T_float32:
		binary.LittleEndian.PutUint32(b, math.Float32bits(float32(v)))
	case dvid.T_float64:
		binary.LittleEndian.PutUint64(b, math.Float64bits(v))
	default:
		return nil, fmt.Errorf("no scalar encoding for %s", dtype)
	}
	return b, nil
}

// repeatElement fills a buffer of n elements with the given element bytes.
func repeatElement(elem []byte, n int) []byte {
	out := make([]byte, n*len(elem))
	if allZero(elem) {
		return out
	}
	for i := 0; i < len(out); i += len(elem) {
		copy(out[i:], elem)
	}
	return out
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// isFill returns true if every element of data equals the element bytes.
func isFill(data, elem []byte) bool {
	if allZero(elem) {
		return allZero(data)
	}
	w := len(elem)
	for i := 0; i < len(data); i += w {
		for j := 0; j < w; j++ {
			if data[i+j] != elem[j] {
				return false
			}
		}
	}
	return true
}

// copyBlock copies a block of the given size from src at srcOff into dst at dstOff.
// Both buffers are C-ordered with the given shapes and elements of width bytes.
func copyBlock(dst []byte, dstShape, dstOff []int, src []byte, srcShape, srcOff []int, size []int, width int) {
	nd := len(size)
	if nd == 0 {
		copy(dst[:width], src[:width])
		return
	}
	for _, s := range size {
		if s <= 0 {
			return
		}
	}
	dstStrides := CStrides(dstShape)
	srcStrides := CStrides(srcShape)
	rowBytes := size[nd-1] * width
	pos := make([]int, nd-1)
	for {
		di, si := dstOff[nd-1], srcOff[nd-1]
		for d := 0; d < nd-1; d++ {
			di += (dstOff[d] + pos[d]) * dstStrides[d]
			si += (srcOff[d] + pos[d]) * srcStrides[d]
		}
		copy(dst[di*width:di*width+rowBytes], src[si*width:si*width+rowBytes])

		d := nd - 2
		for ; d >= 0; d-- {
			pos[d]++
			if pos[d] < size[d] {
				break
			}
			pos[d] = 0
		}
		if d < 0 {
			return
		}
	}
}
