package mipmap

import (
	"context"
	"errors"
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/janelia-flyem/mipmapper/dvid"
	"github.com/janelia-flyem/mipmapper/storage"
	"github.com/janelia-flyem/mipmapper/zarr"
)

func voxelIndex(shape VolumeChunkShape, c, z, y, x int) int {
	return ((c*shape[AxisZ]+z)*shape[AxisY]+y)*shape[AxisX] + x
}

func volumeValues[T dvid.Number](shape VolumeChunkShape, value func(c, z, y, x int) T) []T {
	values := make([]T, shape.Voxels())
	for c := 0; c < shape[AxisC]; c++ {
		for z := 0; z < shape[AxisZ]; z++ {
			for y := 0; y < shape[AxisY]; y++ {
				for x := 0; x < shape[AxisX]; x++ {
					values[voxelIndex(shape, c, z, y, x)] = value(c, z, y, x)
				}
			}
		}
	}
	return values
}

// pool is a whole-volume 2x2x2 max-pool to check against.
func pool[T dvid.Number](values []T, shape VolumeChunkShape) ([]T, VolumeChunkShape) {
	out := NextLevelShape(shape)
	result := make([]T, out.Voxels())
	set := make([]bool, len(result))
	for c := 0; c < shape[AxisC]; c++ {
		for z := 0; z < shape[AxisZ]; z++ {
			for y := 0; y < shape[AxisY]; y++ {
				for x := 0; x < shape[AxisX]; x++ {
					v := values[voxelIndex(shape, c, z, y, x)]
					i := voxelIndex(out, c, z/2, y/2, x/2)
					if !set[i] || v > result[i] {
						result[i] = v
						set[i] = true
					}
				}
			}
		}
	}
	return result, out
}

// writeVolume stores values as a plain, unsharded array with the given chunk shape.
func writeVolume[T dvid.Number](t *testing.T, store storage.Store, p string, dtype dvid.DataType,
	shape VolumeChunkShape, chunk []int, values []T) *zarr.Array {

	t.Helper()
	ctx := context.Background()
	arr, err := zarr.Create(ctx, store, p, zarr.CreateOptions{
		Shape:          shape.Slice(),
		DataType:       dtype,
		ChunkShape:     chunk,
		DimensionNames: DimensionNames,
	})
	if err != nil {
		t.Fatalf("creating %s: %v", p, err)
	}
	strides := zarr.CStrides(chunk)
	for _, cc := range gridRange(chunk, [4]int{}, shape) {
		buf := make([]T, zarr.NumElements(chunk))
		for c := 0; c < chunk[0]; c++ {
			for z := 0; z < chunk[1]; z++ {
				for y := 0; y < chunk[2]; y++ {
					for x := 0; x < chunk[3]; x++ {
						g := [4]int{cc[0]*chunk[0] + c, cc[1]*chunk[1] + z, cc[2]*chunk[2] + y, cc[3]*chunk[3] + x}
						if g[0] >= shape[0] || g[1] >= shape[1] || g[2] >= shape[2] || g[3] >= shape[3] {
							continue
						}
						buf[c*strides[0]+z*strides[1]+y*strides[2]+x*strides[3]] = values[voxelIndex(shape, g[0], g[1], g[2], g[3])]
					}
				}
			}
		}
		data, err := dvid.EncodeValues(buf)
		if err != nil {
			t.Fatalf("encoding values: %v", err)
		}
		if err := arr.SetChunk(ctx, cc[:], &zarr.Chunk{Data: data, Shape: chunk, Stride: strides}); err != nil {
			t.Fatalf("writing chunk %v of %s: %v", cc, p, err)
		}
	}
	return arr
}

// readVolume assembles a whole array from its grid chunks.
func readVolume[T dvid.Number](t *testing.T, arr *zarr.Array) []T {
	t.Helper()
	shape, err := ShapeFromSlice(arr.Shape())
	if err != nil {
		t.Fatalf("%v", err)
	}
	chunk := arr.ChunkShape()
	strides := zarr.CStrides(chunk)
	out := make([]T, shape.Voxels())
	for _, cc := range gridRange(chunk, [4]int{}, shape) {
		values, err := fetchValues[T](context.Background(), arr, cc)
		if err != nil {
			t.Fatalf("reading chunk %v of %s: %v", cc, arr.Path(), err)
		}
		for c := 0; c < chunk[0]; c++ {
			for z := 0; z < chunk[1]; z++ {
				for y := 0; y < chunk[2]; y++ {
					for x := 0; x < chunk[3]; x++ {
						g := [4]int{cc[0]*chunk[0] + c, cc[1]*chunk[1] + z, cc[2]*chunk[2] + y, cc[3]*chunk[3] + x}
						if g[0] >= shape[0] || g[1] >= shape[1] || g[2] >= shape[2] || g[3] >= shape[3] {
							continue
						}
						out[voxelIndex(shape, g[0], g[1], g[2], g[3])] = values[c*strides[0]+z*strides[1]+y*strides[2]+x*strides[3]]
					}
				}
			}
		}
	}
	return out
}

func checkDownsample[T dvid.Number](t *testing.T, dtype dvid.DataType, value func(c, z, y, x int) T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	shape := VolumeChunkShape{2, 5, 7, 9}
	values := volumeValues(shape, value)
	src := writeVolume(t, store, "/base", dtype, shape, []int{1, 2, 3, 4}, values)

	level, err := CreateLevel(ctx, store, "/mipmaps/1", NextLevelShape(shape), dtype, LevelPlan{ChunkBytes: 8, ShardBytes: 32})
	if err != nil {
		t.Fatalf("%s: creating level: %v", dtype, err)
	}
	if len(gridRange(level.Array.ChunkShape(), [4]int{}, NextLevelShape(shape))) < 2 {
		t.Fatalf("%s: expected level with several shards, got %s shards", dtype, level.ShardShape)
	}
	acc := NewStatsAccumulator(shape[AxisC], 128)
	if err := Downsample(ctx, src, level, acc, DownsampleOptions{}); err != nil {
		t.Fatalf("%s: downsample: %v", dtype, err)
	}
	expected, _ := pool(values, shape)
	got := readVolume[T](t, level.Array)
	if !reflect.DeepEqual(got, expected) {
		t.Fatalf("%s: downsampled %v, expected %v", dtype, got, expected)
	}

	for c := 0; c < shape[AxisC]; c++ {
		if total := acc.Histograms[c].Total(); total != 5*7*9 {
			t.Errorf("%s: channel %d expected %d values in stats, got %d", dtype, c, 5*7*9, total)
		}
		lo, hi := math.Inf(1), math.Inf(-1)
		for i := c * 315; i < (c+1)*315; i++ {
			lo = math.Min(lo, float64(values[i]))
			hi = math.Max(hi, float64(values[i]))
		}
		if acc.Min[c] != lo || acc.Max[c] != hi {
			t.Errorf("%s: channel %d expected range [%g, %g], got [%g, %g]", dtype, c, lo, hi, acc.Min[c], acc.Max[c])
		}
	}
}

func TestDownsampleEdgeChunks(t *testing.T) {
	checkDownsample(t, dvid.T_int16, func(c, z, y, x int) int16 {
		return -int16(c*1000+z*100+y*10+x) - 1
	})
	checkDownsample(t, dvid.T_uint8, func(c, z, y, x int) uint8 {
		return uint8((c*7 + z*5 + y*3 + x) % 4)
	})
	checkDownsample(t, dvid.T_float32, func(c, z, y, x int) float32 {
		return -float32(z*y) - 0.5*float32(x) - float32(c)
	})
	checkDownsample(t, dvid.T_uint64, func(c, z, y, x int) uint64 {
		return uint64(c+1) << 40 * uint64(x+y+z)
	})
}

func TestParallelFetchMatchesSerial(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	shape := VolumeChunkShape{1, 9, 10, 11}
	values := volumeValues(shape, func(c, z, y, x int) uint16 {
		return uint16((z*131 + y*17 + x*5) % 1000)
	})
	src := writeVolume(t, store, "/base", dvid.T_uint16, shape, []int{1, 2, 2, 2}, values)

	run := func(p string, concurrency int) ([]uint16, *StatsAccumulator) {
		level, err := CreateLevel(ctx, store, p, NextLevelShape(shape), dvid.T_uint16, LevelPlan{})
		if err != nil {
			t.Fatalf("creating level %s: %v", p, err)
		}
		acc := NewStatsAccumulator(1, 64)
		if err := Downsample(ctx, src, level, acc, DownsampleOptions{FetchConcurrency: concurrency}); err != nil {
			t.Fatalf("downsample into %s: %v", p, err)
		}
		return readVolume[uint16](t, level.Array), acc
	}
	serial, serialAcc := run("/serial", 0)
	parallel, parallelAcc := run("/parallel", 4)
	if !reflect.DeepEqual(serial, parallel) {
		t.Fatalf("parallel fetch output differs from serial")
	}
	expected, _ := pool(values, shape)
	if !reflect.DeepEqual(serial, expected) {
		t.Fatalf("serial output differs from max-pool")
	}
	if !reflect.DeepEqual(serialAcc.Finalize(), parallelAcc.Finalize()) {
		t.Errorf("parallel fetch stats differ from serial")
	}
}

func TestDownsampleWithoutStats(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	shape := VolumeChunkShape{1, 4, 4, 4}
	values := volumeValues(shape, func(c, z, y, x int) int32 { return int32(x - y*z) })
	src := writeVolume(t, store, "/base", dvid.T_int32, shape, []int{1, 4, 4, 4}, values)
	level, err := CreateLevel(ctx, store, "/mipmaps/1", NextLevelShape(shape), dvid.T_int32, LevelPlan{})
	if err != nil {
		t.Fatalf("creating level: %v", err)
	}
	if err := Downsample(ctx, src, level, nil, DownsampleOptions{}); err != nil {
		t.Fatalf("downsample: %v", err)
	}
	expected, _ := pool(values, shape)
	if got := readVolume[int32](t, level.Array); !reflect.DeepEqual(got, expected) {
		t.Errorf("downsampled %v, expected %v", got, expected)
	}
}

func TestDownsampleIgnoresNaN(t *testing.T) {
	ctx := context.Background()
	shape := VolumeChunkShape{1, 2, 2, 2}
	nan := float32(math.NaN())
	for pos := 0; pos < 8; pos++ {
		store := storage.NewMemoryStore()
		values := make([]float32, 8)
		for i := range values {
			values[i] = float32(i)
		}
		values[pos] = nan
		src := writeVolume(t, store, "/base", dvid.T_float32, shape, []int{1, 2, 2, 2}, values)
		level, err := CreateLevel(ctx, store, "/mipmaps/1", NextLevelShape(shape), dvid.T_float32, LevelPlan{})
		if err != nil {
			t.Fatalf("creating level: %v", err)
		}
		if err := Downsample(ctx, src, level, nil, DownsampleOptions{}); err != nil {
			t.Fatalf("downsample: %v", err)
		}
		expected := float32(7)
		if pos == 7 {
			expected = 6
		}
		if got := readVolume[float32](t, level.Array); len(got) != 1 || got[0] != expected {
			t.Errorf("NaN at %d: expected pooled %g, got %v", pos, expected, got)
		}
	}

	store := storage.NewMemoryStore()
	values := []float32{nan, nan, nan, nan, nan, nan, nan, nan}
	src := writeVolume(t, store, "/base", dvid.T_float32, shape, []int{1, 2, 2, 2}, values)
	level, err := CreateLevel(ctx, store, "/mipmaps/1", NextLevelShape(shape), dvid.T_float32, LevelPlan{})
	if err != nil {
		t.Fatalf("creating level: %v", err)
	}
	if err := Downsample(ctx, src, level, nil, DownsampleOptions{}); err != nil {
		t.Fatalf("downsample: %v", err)
	}
	if got := readVolume[float32](t, level.Array); len(got) != 1 || got[0] != 0 {
		t.Errorf("expected all-NaN block to pool to fill value 0, got %v", got)
	}
}

func TestDownsampleMismatches(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	shape := VolumeChunkShape{2, 4, 4, 4}
	values := volumeValues(shape, func(c, z, y, x int) uint8 { return uint8(x) })
	src := writeVolume(t, store, "/base", dvid.T_uint8, shape, []int{1, 4, 4, 4}, values)

	wrongShape, err := CreateLevel(ctx, store, "/wrongshape", VolumeChunkShape{2, 3, 2, 2}, dvid.T_uint8, LevelPlan{})
	if err != nil {
		t.Fatalf("creating level: %v", err)
	}
	if err := Downsample(ctx, src, wrongShape, nil, DownsampleOptions{}); err == nil {
		t.Errorf("expected error downsampling into wrong shape")
	}
	wrongType, err := CreateLevel(ctx, store, "/wrongtype", NextLevelShape(shape), dvid.T_uint16, LevelPlan{})
	if err != nil {
		t.Fatalf("creating level: %v", err)
	}
	if err := Downsample(ctx, src, wrongType, nil, DownsampleOptions{}); err == nil {
		t.Errorf("expected error downsampling into wrong data type")
	}
	level, err := CreateLevel(ctx, store, "/mipmaps/1", NextLevelShape(shape), dvid.T_uint8, LevelPlan{})
	if err != nil {
		t.Fatalf("creating level: %v", err)
	}
	if err := Downsample(ctx, src, level, NewStatsAccumulator(1, 16), DownsampleOptions{}); err == nil {
		t.Errorf("expected error with stats for wrong number of channels")
	}
	if _, err := CreateLevel(ctx, store, "/mipmaps/1", NextLevelShape(shape), dvid.T_uint8, LevelPlan{}); !errors.Is(err, zarr.ErrExists) {
		t.Errorf("expected ErrExists recreating level, got %v", err)
	}
}

var errInjected = errors.New("injected store failure")

// failingStore fails reads of keys with the given prefix.
type failingStore struct {
	storage.Store
	prefix string
}

func (s failingStore) Get(ctx context.Context, key string) ([]byte, error) {
	if strings.HasPrefix(key, s.prefix) {
		return nil, errInjected
	}
	return s.Store.Get(ctx, key)
}

func TestDownsampleStoreFailure(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemoryStore()
	shape := VolumeChunkShape{1, 4, 4, 4}
	values := volumeValues(shape, func(c, z, y, x int) uint8 { return uint8(z) })
	writeVolume(t, mem, "/base", dvid.T_uint8, shape, []int{1, 2, 2, 2}, values)

	store := failingStore{Store: mem, prefix: "base/c/"}
	src, err := zarr.Open(ctx, store, "/base")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	level, err := CreateLevel(ctx, store, "/mipmaps/1", NextLevelShape(shape), dvid.T_uint8, LevelPlan{})
	if err != nil {
		t.Fatalf("creating level: %v", err)
	}
	for _, concurrency := range []int{1, 3} {
		err := Downsample(ctx, src, level, nil, DownsampleOptions{FetchConcurrency: concurrency})
		if !errors.Is(err, errInjected) {
			t.Errorf("concurrency %d: expected injected error, got %v", concurrency, err)
		}
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := Downsample(cancelled, src, level, nil, DownsampleOptions{}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected cancellation error, got %v", err)
	}
}

func TestScanLevel(t *testing.T) {
	store := storage.NewMemoryStore()
	shape := VolumeChunkShape{2, 3, 5, 7}
	values := volumeValues(shape, func(c, z, y, x int) float64 {
		if x == 6 {
			return math.NaN()
		}
		return float64(c*100 + z*y - x)
	})
	arr := writeVolume(t, store, "/base", dvid.T_float64, shape, []int{1, 2, 2, 4}, values)
	acc := NewStatsAccumulator(2, 32)
	if err := ScanLevel(context.Background(), arr, acc); err != nil {
		t.Fatalf("scan: %v", err)
	}
	for c := 0; c < 2; c++ {
		if total := acc.Histograms[c].Total(); total != 3*5*6 {
			t.Errorf("channel %d: expected %d finite values, got %d", c, 3*5*6, total)
		}
	}
	if acc.Min[1] != 95 || acc.Max[1] != 108 {
		t.Errorf("channel 1: expected range [95, 108], got [%g, %g]", acc.Min[1], acc.Max[1])
	}
	if err := ScanLevel(context.Background(), arr, NewStatsAccumulator(3, 32)); err == nil {
		t.Errorf("expected error scanning with wrong number of channels")
	}
}
