package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/janelia-flyem/mipmapper/dvid"
	"github.com/janelia-flyem/mipmapper/mipmap"
	"github.com/janelia-flyem/mipmapper/storage"
	"github.com/janelia-flyem/mipmapper/storage/filestore"
	"github.com/janelia-flyem/mipmapper/zarr"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	filename := filepath.Join(t.TempDir(), "mipmap.toml")
	if err := os.WriteFile(filename, []byte(contents), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return filename
}

func TestLoadConfig(t *testing.T) {
	filename := writeConfig(t, `
[logging]
logfile = "logs/mipmap.log"
max_log_size = 10

[store]
engine = "filestore"
path = "volume.zarr"

[cache]
size = 64

[build]
base = "/raw"
target_max_dimension = 32
histogram_bins = 256
fetch_concurrency = 4
chunk_bytes = 4096

[volume]
voxel_size = [8.0, 8.0, 40.0]
voxel_unit = "nanometer"
channels = ["GFP"]
`)
	tc, err := LoadConfig(filename)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	dir := filepath.Dir(filename)
	if tc.Logging.Logfile != filepath.Join(dir, "logs", "mipmap.log") || tc.Logging.MaxSize != 10 {
		t.Errorf("unexpected logging config %+v", tc.Logging)
	}
	sc, err := tc.StoreConfig()
	if err != nil {
		t.Fatalf("store config: %v", err)
	}
	if sc.Engine != "filestore" {
		t.Errorf("expected filestore engine, got %q", sc.Engine)
	}
	if path, found, err := sc.GetString("path"); err != nil || !found || path != filepath.Join(dir, "volume.zarr") {
		t.Errorf("expected absolute store path, got %q (%v)", path, err)
	}
	if _, found := sc.Config["engine"]; found {
		t.Errorf("engine should not be passed as a store setting")
	}

	config, err := tc.BuildConfig(nil, dvid.Command{"build"})
	if err != nil {
		t.Fatalf("build config: %v", err)
	}
	if config.BasePath != "/raw" || config.TargetMaxDimension != 32 || config.HistogramBins != 256 ||
		config.FetchConcurrency != 4 || config.Plan.ChunkBytes != 4096 {
		t.Errorf("unexpected build config %+v", config)
	}
	config, err = tc.BuildConfig(nil, dvid.Command{"build", "/other", "target=8", "prefix=/levels"})
	if err != nil {
		t.Fatalf("build config: %v", err)
	}
	if config.BasePath != "/other" || config.TargetMaxDimension != 8 || config.LevelPrefix != "/levels" {
		t.Errorf("command overrides not applied: %+v", config)
	}
	if _, err := tc.BuildConfig(nil, dvid.Command{"build", "bins=many"}); err == nil {
		t.Errorf("expected error for non-integer bins")
	}

	vs, err := tc.VoxelSize()
	if err != nil {
		t.Fatalf("voxel size: %v", err)
	}
	if vs.Unit != "nanometer" || vs.Values != [3]float64{8, 8, 40} {
		t.Errorf("unexpected voxel size %+v", vs)
	}
	tc.Volume.VoxelSize = []float64{1, 2}
	if _, err := tc.VoxelSize(); err == nil {
		t.Errorf("expected error for 2 voxel size values")
	}
}

func TestConfigDefaults(t *testing.T) {
	if _, err := LoadConfig(""); err == nil {
		t.Errorf("expected error without config file")
	}
	if _, err := LoadConfig(writeConfig(t, "[store\nengine=")); err == nil {
		t.Errorf("expected error for bad TOML")
	}
	tc, err := LoadConfig(writeConfig(t, "[cache]\nsize = 1\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	store, err := tc.OpenStore()
	if err != nil {
		t.Fatalf("open default store: %v", err)
	}
	cached, ok := store.(*storage.CachedStore)
	if !ok {
		t.Fatalf("expected cached store, got %T", store)
	}
	if _, ok := cached.Unwrap().(*storage.MemoryStore); !ok {
		t.Errorf("expected memory store by default, got %T", cached.Unwrap())
	}
	if _, err := tc.BuildConfig(store, dvid.Command{"build"}); err == nil {
		t.Errorf("expected error without base array")
	}
	vs, err := tc.VoxelSize()
	if err != nil || vs.Unit != mipmap.DefaultVoxelUnit || vs.Values != [3]float64{1, 1, 1} {
		t.Errorf("unexpected default voxel size %+v (%v)", vs, err)
	}

	tc.Store = storeConfig{"engine": 3}
	if _, err := tc.OpenStore(); err == nil {
		t.Errorf("expected error for non-string engine")
	}
	tc.Store = storeConfig{"engine": "nosuchengine"}
	if _, err := tc.OpenStore(); err == nil {
		t.Errorf("expected error for unknown engine")
	}
}

func TestBuildCommand(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	fs, _, err := filestore.New(filepath.Join(dir, "volume.zarr"))
	if err != nil {
		t.Fatalf("filestore: %v", err)
	}
	base, err := zarr.Create(ctx, fs, "/raw", zarr.CreateOptions{
		Shape:      []int{1, 4, 4, 4},
		DataType:   dvid.T_uint8,
		ChunkShape: []int{1, 4, 4, 4},
	})
	if err != nil {
		t.Fatalf("create base: %v", err)
	}
	chunk := zarr.NewChunk(dvid.T_uint8, []int{1, 4, 4, 4})
	for i := range chunk.Data {
		chunk.Data[i] = byte(i)
	}
	if err := base.SetChunk(ctx, []int{0, 0, 0, 0}, chunk); err != nil {
		t.Fatalf("write base: %v", err)
	}

	*configFile = writeConfig(t, `
[store]
engine = "filestore"
path = "`+filepath.Join(dir, "volume.zarr")+`"

[build]
base = "/raw"
target_max_dimension = 1

[volume]
voxel_size = [4.0, 4.0, 4.0]
channels = ["DAPI"]
`)
	defer func() { *configFile = "" }()

	if err := DoCommand(ctx, dvid.Command{"build"}); err != nil {
		t.Fatalf("build command: %v", err)
	}
	for _, p := range []string{"mipmaps/1", "mipmaps/2"} {
		if _, err := os.Stat(filepath.Join(dir, "volume.zarr", p, "zarr.json")); err != nil {
			t.Errorf("expected level metadata at %s: %v", p, err)
		}
	}
	attrs, err := mipmap.ReadRootAttributes(ctx, fs, "/")
	if err != nil || attrs == nil {
		t.Fatalf("expected root attributes, got %v, %v", attrs, err)
	}
	if attrs.VoxelSize.Values != [3]float64{4, 4, 4} || attrs.Channels[0].Label != "DAPI" {
		t.Errorf("configured volume settings not recorded: %+v", attrs)
	}
	stats, found := mipmap.StatsFor(attrs, "/raw")
	if !found || stats[0].Max != 63 {
		t.Errorf("expected stats for /raw with max 63, got %+v", stats)
	}

	for _, cmd := range []dvid.Command{{"stats"}, {"stats", "/raw"}, {"attrs"}, {"about"}} {
		if err := DoCommand(ctx, cmd); err != nil {
			t.Errorf("%s: %v", cmd, err)
		}
	}
	if err := DoCommand(ctx, dvid.Command{"stats", "/missing"}); err == nil {
		t.Errorf("expected error for array without stats")
	}
	if err := DoCommand(ctx, dvid.Command{"frobnicate"}); err == nil {
		t.Errorf("expected error for unknown command")
	}
	if err := DoCommand(ctx, dvid.Command{}); err == nil {
		t.Errorf("expected error for blank command")
	}
}
