package main

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/janelia-flyem/mipmapper/dvid"
	"github.com/janelia-flyem/mipmapper/mipmap"
	"github.com/janelia-flyem/mipmapper/storage"
)

type tomlConfig struct {
	Logging dvid.LogConfig
	Store   storeConfig
	Cache   cacheConfig
	Build   buildConfig
	Volume  volumeConfig
}

// storeConfig holds the "engine" name plus engine-specific settings.
type storeConfig map[string]interface{}

type cacheConfig struct {
	Size int `toml:"size"` // MB; 0 disables the cache
}

type buildConfig struct {
	Base               string
	LevelPrefix        string `toml:"level_prefix"`
	TargetMaxDimension int    `toml:"target_max_dimension"`
	HistogramBins      int    `toml:"histogram_bins"`
	AnalyticsGroup     string `toml:"analytics_group"`
	RootGroup          string `toml:"root_group"`
	ChunkBytes         int    `toml:"chunk_bytes"`
	ShardBytes         int    `toml:"shard_bytes"`
	ZstdLevel          int    `toml:"zstd_level"`
	FetchConcurrency   int    `toml:"fetch_concurrency"`
}

type volumeConfig struct {
	VoxelSize []float64 `toml:"voxel_size"` // x, y, z
	VoxelUnit string    `toml:"voxel_unit"`
	Channels  []string
}

// LoadConfig reads a TOML configuration file.
func LoadConfig(filename string) (*tomlConfig, error) {
	if filename == "" {
		return nil, fmt.Errorf("no TOML configuration file provided")
	}
	var tc tomlConfig
	if _, err := toml.DecodeFile(filename, &tc); err != nil {
		return nil, fmt.Errorf("could not decode TOML config: %v", err)
	}
	if err := tc.convertPathsToAbsolute(filename); err != nil {
		return nil, fmt.Errorf("could not convert relative paths to absolute paths in TOML config: %v", err)
	}
	dvid.Debugf("tomlConfig: %v\n", tc)
	return &tc, nil
}

// Some settings in the TOML can be given as relative paths.
// This function converts them in-place to absolute paths,
// assuming the given paths were relative to the TOML file's own directory.
func (c *tomlConfig) convertPathsToAbsolute(configPath string) error {
	var err error

	configDir := filepath.Dir(configPath)

	// [logging].logfile
	if c.Logging.Logfile != "" {
		c.Logging.Logfile, err = dvid.ConvertToAbsolute(c.Logging.Logfile, configDir)
		if err != nil {
			return fmt.Errorf("Error converting logfile setting to absolute path")
		}
	}

	// [store].path
	if p, ok := c.Store["path"]; ok {
		path, ok := p.(string)
		if !ok {
			return fmt.Errorf("Don't understand path setting for store: %v", p)
		}
		absPath, err := dvid.ConvertToAbsolute(path, configDir)
		if err != nil {
			return fmt.Errorf("Error converting store.path to absolute path: %q", path)
		}
		c.Store["path"] = absPath
	}
	return nil
}

// StoreConfig returns the [store] settings with the engine name split out.
// The memory engine is used if no engine is given.
func (c *tomlConfig) StoreConfig() (dvid.StoreConfig, error) {
	sc := dvid.StoreConfig{Engine: "memory"}
	for k, v := range c.Store {
		if k == "engine" {
			name, ok := v.(string)
			if !ok {
				return sc, fmt.Errorf("store engine must be a string, got %v", v)
			}
			sc.Engine = name
			continue
		}
		sc.Set(k, v)
	}
	return sc, nil
}

// OpenStore opens the configured store, wrapping it in a read cache if one is configured.
func (c *tomlConfig) OpenStore() (storage.Store, error) {
	sc, err := c.StoreConfig()
	if err != nil {
		return nil, err
	}
	store, _, err := storage.OpenStore(sc)
	if err != nil {
		return nil, err
	}
	if c.Cache.Size > 0 {
		return storage.NewCachedStore(store, c.Cache.Size*dvid.Mega), nil
	}
	return store, nil
}

// BuildConfig returns the pyramid build settings with command-line overrides of the
// form "target=32" applied.  The base array path may be given as the first argument.
func (c *tomlConfig) BuildConfig(store storage.Store, cmd dvid.Command) (mipmap.BuildConfig, error) {
	b := c.Build
	if base := cmd.Argument(1); base != "" {
		b.Base = base
	}
	config := mipmap.BuildConfig{
		Store:              store,
		BasePath:           b.Base,
		LevelPrefix:        b.LevelPrefix,
		TargetMaxDimension: b.TargetMaxDimension,
		HistogramBins:      b.HistogramBins,
		AnalyticsGroupPath: b.AnalyticsGroup,
		RootGroupPath:      b.RootGroup,
		Plan: mipmap.LevelPlan{
			ChunkBytes: b.ChunkBytes,
			ShardBytes: b.ShardBytes,
			ZstdLevel:  b.ZstdLevel,
		},
		FetchConcurrency: b.FetchConcurrency,
	}
	if config.BasePath == "" {
		return config, fmt.Errorf("no base array given in [build] config or command")
	}
	overrides := map[string]*int{
		"target":      &config.TargetMaxDimension,
		"bins":        &config.HistogramBins,
		"concurrency": &config.FetchConcurrency,
	}
	for key, dst := range overrides {
		v, found := cmd.Parameter(key)
		if !found {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return config, fmt.Errorf("bad %s setting %q: %v", key, v, err)
		}
		*dst = n
	}
	if v, found := cmd.Parameter("prefix"); found {
		config.LevelPrefix = v
	}
	return config, nil
}

// VoxelSize returns the [volume] voxel size, defaulting to 1 along each axis.
func (c *tomlConfig) VoxelSize() (mipmap.VoxelSize, error) {
	vs := mipmap.VoxelSize{Unit: c.Volume.VoxelUnit, Values: [3]float64{1, 1, 1}}
	if vs.Unit == "" {
		vs.Unit = mipmap.DefaultVoxelUnit
	}
	switch len(c.Volume.VoxelSize) {
	case 0:
	case 3:
		copy(vs.Values[:], c.Volume.VoxelSize)
	default:
		return vs, fmt.Errorf("voxel_size must have 3 values (x, y, z), got %v", c.Volume.VoxelSize)
	}
	return vs, nil
}
