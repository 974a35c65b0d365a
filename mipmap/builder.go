package mipmap

import (
	"context"
	"fmt"
	"math"
	"path"
	"strconv"
	"time"

	"github.com/DmitriyVTitov/size"
	"github.com/dustin/go-humanize"
	"github.com/janelia-flyem/mipmapper/dvid"
	"github.com/janelia-flyem/mipmapper/storage"
	"github.com/janelia-flyem/mipmapper/zarr"
	"github.com/twinj/uuid"
)

const (
	DefaultLevelPrefix        = "/mipmaps"
	DefaultTargetMaxDimension = 64
	DefaultAnalyticsGroupPath = "/analytics"
	DefaultRootGroupPath      = "/"
)

// BuildConfig specifies a pyramid build.
type BuildConfig struct {
	Store    storage.Store
	BasePath string

	LevelPrefix        string // defaults to "/mipmaps"
	TargetMaxDimension int    // defaults to 64
	HistogramBins      int    // defaults to 1024
	AnalyticsGroupPath string // defaults to "/analytics"
	RootGroupPath      string // defaults to "/"

	Plan             LevelPlan
	FetchConcurrency int
}

func (c BuildConfig) withDefaults() BuildConfig {
	if c.LevelPrefix == "" {
		c.LevelPrefix = DefaultLevelPrefix
	}
	if c.TargetMaxDimension <= 0 {
		c.TargetMaxDimension = DefaultTargetMaxDimension
	}
	if c.HistogramBins <= 0 {
		c.HistogramBins = DefaultHistogramBins
	}
	if c.AnalyticsGroupPath == "" {
		c.AnalyticsGroupPath = DefaultAnalyticsGroupPath
	}
	if c.RootGroupPath == "" {
		c.RootGroupPath = DefaultRootGroupPath
	}
	return c
}

// BuildResult is the outcome of a pyramid build.
type BuildResult struct {
	// Levels are the paths of the generated levels, finest first, excluding the base.
	Levels []string

	// Stats are the statistics of each channel of the base array.
	Stats []ChannelStats
}

// LevelPath returns the path of the nth generated level, e.g., "/mipmaps/1".
func LevelPath(prefix string, n int) string {
	return path.Join("/", prefix, strconv.Itoa(n))
}

// BuildMipmaps builds a chain of max-pooled levels from the base array until the largest
// spatial extent is at most the target, computes per-channel statistics of the base data,
// and records them in the root and analytics groups.  Levels already written are left in
// place if the build fails.
func BuildMipmaps(ctx context.Context, config BuildConfig) (*BuildResult, error) {
	config = config.withDefaults()
	if config.Store == nil {
		return nil, fmt.Errorf("no store given for mipmap build")
	}
	started := time.Now()
	timedLog := dvid.NewTimeLog()

	base, err := zarr.Open(ctx, config.Store, config.BasePath)
	if err != nil {
		return nil, err
	}
	baseShape, err := ShapeFromSlice(base.Shape())
	if err != nil {
		return nil, fmt.Errorf("base array %s: %w", base.Path(), err)
	}
	acc := NewStatsAccumulator(baseShape[AxisC], config.HistogramBins)
	dvid.Infof("Building mipmaps of %s, histograms using %s\n", base, humanize.Bytes(uint64(size.Of(acc))))

	multiscales := []Multiscale{{Path: base.Path(), Shape: baseShape.Slice(), Scale: []float64{1, 1, 1, 1}}}
	var levels []string
	current := base
	shape := baseShape
	scale := 1.0
	for MaxSpatial(shape) > config.TargetMaxDimension {
		shape = NextLevelShape(shape)
		scale *= 2
		levelPath := LevelPath(config.LevelPrefix, len(levels)+1)
		level, err := CreateLevel(ctx, config.Store, levelPath, shape, base.DataType(), config.Plan)
		if err != nil {
			return nil, err
		}
		var levelAcc *StatsAccumulator
		if len(levels) == 0 {
			levelAcc = acc
		}
		opts := DownsampleOptions{FetchConcurrency: config.FetchConcurrency}
		if err := Downsample(ctx, current, level, levelAcc, opts); err != nil {
			return nil, err
		}
		levels = append(levels, level.Array.Path())
		multiscales = append(multiscales, Multiscale{
			Path:  level.Array.Path(),
			Shape: shape.Slice(),
			Scale: []float64{1, scale, scale, scale},
		})
		current = level.Array
	}
	if len(levels) == 0 {
		if err := ScanLevel(ctx, base, acc); err != nil {
			return nil, err
		}
	}

	finalized := acc.Finalize()
	stats := acc.Observed(finalized)
	if err := persistRootStats(ctx, config, base.Path(), stats, multiscales); err != nil {
		return nil, err
	}
	record := BuildRecord{
		ID:                 uuid.NewV4().String(),
		Started:            started,
		Finished:           time.Now(),
		Levels:             levels,
		TargetMaxDimension: config.TargetMaxDimension,
		HistogramBins:      config.HistogramBins,
	}
	if err := persistAnalytics(ctx, config, base.Path(), finalized, record); err != nil {
		return nil, err
	}
	timedLog.Infof("Built %d levels of %s (build %s)", len(levels), base.Path(), record.ID)
	if levels == nil {
		levels = []string{}
	}
	return &BuildResult{Levels: levels, Stats: stats}, nil
}

func persistRootStats(ctx context.Context, config BuildConfig, basePath string, stats []ChannelStats, multiscales []Multiscale) error {
	attrs, err := ReadRootAttributes(ctx, config.Store, config.RootGroupPath)
	if err != nil {
		return err
	}
	voxelSize := VoxelSize{Unit: DefaultVoxelUnit, Values: [3]float64{1, 1, 1}}
	if attrs == nil {
		dvid.Infof("No root attributes at %s, creating defaults\n", config.RootGroupPath)
		attrs = CreateRootAttributes(voxelSize, DefaultChannelLabels(len(stats)), nil)
	} else if attrs.Layout == "" {
		dvid.Infof("Completing root attributes at %s not written by %s\n", config.RootGroupPath, Layout)
	}
	attrs.Complete(voxelSize, DefaultChannelLabels(len(stats)))
	attrs.Stats[basePath] = stats
	if attrs.Multiscales == nil {
		attrs.Multiscales = make(map[string][]Multiscale)
	}
	attrs.Multiscales[basePath] = multiscales
	return WriteRootAttributes(ctx, config.Store, config.RootGroupPath, attrs)
}

func persistAnalytics(ctx context.Context, config BuildConfig, basePath string, stats []ChannelStats, record BuildRecord) error {
	attrs, err := ReadAnalyticsAttributes(ctx, config.Store, config.AnalyticsGroupPath)
	if err != nil {
		return err
	}
	if attrs == nil {
		attrs = &AnalyticsAttributes{}
	}
	if attrs.Histograms == nil {
		attrs.Histograms = make(map[string][]ChannelStats)
	}
	if attrs.Builds == nil {
		attrs.Builds = make(map[string]BuildRecord)
	}
	attrs.Histograms[basePath] = stats
	attrs.Builds[basePath] = record
	return WriteAnalyticsAttributes(ctx, config.Store, config.AnalyticsGroupPath, attrs)
}

// StatsFor returns the recorded statistics of an array, with channel min/max that are
// not finite replaced by the histogram range.
func StatsFor(attrs *RootAttributes, arrayPath string) ([]ChannelStats, bool) {
	if attrs == nil {
		return nil, false
	}
	stats, found := attrs.Stats[path.Join("/", arrayPath)]
	if !found {
		stats, found = attrs.Stats[arrayPath]
	}
	if !found {
		return nil, false
	}
	out := make([]ChannelStats, len(stats))
	for i, s := range stats {
		out[i] = s
		if math.IsInf(s.Min, 0) || math.IsNaN(s.Min) {
			out[i].Min = s.Histogram.Min
		}
		if math.IsInf(s.Max, 0) || math.IsNaN(s.Max) {
			out[i].Max = s.Histogram.Max
		}
	}
	return out, true
}
