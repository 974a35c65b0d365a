package mipmap

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/blang/semver"
	"github.com/janelia-flyem/mipmapper/dvid"
	"github.com/janelia-flyem/mipmapper/storage"
	"github.com/janelia-flyem/mipmapper/zarr"
)

const (
	// Layout tags root attributes written by this package.
	Layout = "mipmapper"

	// AttributesVersion is the version of the attribute format written.  Attributes with a
	// newer major version can't be read.
	AttributesVersion = "1.1.0"

	// DefaultVoxelUnit is used when no physical unit is known.
	DefaultVoxelUnit = "micrometer"
)

var attributesVersion = semver.MustParse(AttributesVersion)

// Axes is the fixed axis order of every volume.
var Axes = []string{"c", "z", "y", "x"}

// VoxelSize is the physical size of a voxel.  Values are ordered x, y, z.
type VoxelSize struct {
	Unit   string     `json:"unit"`
	Values [3]float64 `json:"values"`
}

// Channel describes one channel of a volume.
type Channel struct {
	Label string `json:"label"`
}

// Multiscale describes one level of a pyramid.  Scale is the nominal voxel scale of the
// level relative to the base along c, z, y, x.
type Multiscale struct {
	Path  string    `json:"path"`
	Shape []int     `json:"shape"`
	Scale []float64 `json:"scale"`
}

// RootAttributes are the attributes of the root group of a volume store.
type RootAttributes struct {
	Layout    string    `json:"layout"`
	Version   string    `json:"version"`
	Axes      []string  `json:"axes"`
	VoxelSize VoxelSize `json:"voxelSize"`
	Channels  []Channel `json:"channels"`

	// Stats maps an array path to the statistics of each of its channels.
	Stats map[string][]ChannelStats `json:"stats"`

	// Multiscales maps a base array path to its pyramid levels, base first.
	Multiscales map[string][]Multiscale `json:"multiscales,omitempty"`

	// Extra holds attributes written by other tools.  They are kept on rewrite.
	Extra map[string]json.RawMessage `json:"-"`
}

var rootAttributeKeys = map[string]bool{
	"layout": true, "version": true, "axes": true, "voxelsize": true,
	"channels": true, "stats": true, "multiscales": true,
}

// CreateRootAttributes returns attributes for a volume with the given voxel size, channel
// labels and statistics keyed by array path.
func CreateRootAttributes(voxelSize VoxelSize, labels []string, stats map[string][]ChannelStats) *RootAttributes {
	if voxelSize.Unit == "" {
		voxelSize.Unit = DefaultVoxelUnit
	}
	channels := make([]Channel, len(labels))
	for i, label := range labels {
		channels[i] = Channel{Label: label}
	}
	if stats == nil {
		stats = make(map[string][]ChannelStats)
	}
	return &RootAttributes{
		Layout:    Layout,
		Version:   AttributesVersion,
		Axes:      append([]string(nil), Axes...),
		VoxelSize: voxelSize,
		Channels:  channels,
		Stats:     stats,
	}
}

// DefaultChannelLabels returns labels "Channel 1", "Channel 2", ... for n channels.
func DefaultChannelLabels(n int) []string {
	labels := make([]string, n)
	for i := range labels {
		labels[i] = fmt.Sprintf("Channel %d", i+1)
	}
	return labels
}

// Complete fills in any fields missing from attributes not written by this package,
// such as an empty zarr group or one holding another tool's attributes.  Fields already
// present are left alone.
func (r *RootAttributes) Complete(voxelSize VoxelSize, labels []string) {
	if r.Layout == "" {
		r.Layout = Layout
	}
	if r.Version == "" {
		r.Version = AttributesVersion
	}
	if len(r.Axes) == 0 {
		r.Axes = append([]string(nil), Axes...)
	}
	if r.VoxelSize.Values == [3]float64{} {
		r.VoxelSize.Values = voxelSize.Values
	}
	if r.VoxelSize.Unit == "" {
		r.VoxelSize.Unit = voxelSize.Unit
		if r.VoxelSize.Unit == "" {
			r.VoxelSize.Unit = DefaultVoxelUnit
		}
	}
	if len(r.Channels) == 0 {
		r.Channels = make([]Channel, len(labels))
		for i, label := range labels {
			r.Channels[i] = Channel{Label: label}
		}
	}
	if r.Stats == nil {
		r.Stats = make(map[string][]ChannelStats)
	}
}

// normalizeKey folds case and underscores so "voxel_size", "VoxelSize" and "voxelSize"
// name the same attribute.
func normalizeKey(k string) string {
	return strings.ToLower(strings.ReplaceAll(k, "_", ""))
}

type legacyStats struct {
	Path     string         `json:"path"`
	Channels []ChannelStats `json:"channels"`
}

// UnmarshalJSON reads the current format as well as older documents that used
// alternate key casing and stored stats as an array of {path, channels} records.
func (r *RootAttributes) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	fields := make(map[string]json.RawMessage, len(raw))
	for k, v := range raw {
		fields[normalizeKey(k)] = v
	}
	decode := func(key string, dst interface{}) error {
		v, found := fields[key]
		if !found || string(v) == "null" {
			return nil
		}
		if err := json.Unmarshal(v, dst); err != nil {
			return fmt.Errorf("bad %q attribute: %w", key, err)
		}
		return nil
	}

	var out RootAttributes
	if err := decode("layout", &out.Layout); err != nil {
		return err
	}
	if err := decode("version", &out.Version); err != nil {
		return err
	}
	if err := decode("axes", &out.Axes); err != nil {
		return err
	}
	if err := decode("voxelsize", &out.VoxelSize); err != nil {
		return err
	}
	if err := decode("channels", &out.Channels); err != nil {
		return err
	}
	if err := decode("multiscales", &out.Multiscales); err != nil {
		return err
	}
	if v, found := fields["stats"]; found {
		stats, err := decodeStats(v)
		if err != nil {
			return err
		}
		out.Stats = stats
	}
	if out.Stats == nil {
		out.Stats = make(map[string][]ChannelStats)
	}
	for k, v := range raw {
		if rootAttributeKeys[normalizeKey(k)] {
			continue
		}
		if out.Extra == nil {
			out.Extra = make(map[string]json.RawMessage)
		}
		out.Extra[k] = v
	}
	*r = out
	return nil
}

// MarshalJSON writes the known attributes followed by any kept from other tools.
func (r RootAttributes) MarshalJSON() ([]byte, error) {
	type plain RootAttributes
	b, err := json.Marshal(plain(r))
	if err != nil || len(r.Extra) == 0 {
		return b, err
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	for k, v := range r.Extra {
		if _, found := doc[k]; !found {
			doc[k] = v
		}
	}
	return json.Marshal(doc)
}

func decodeStats(v json.RawMessage) (map[string][]ChannelStats, error) {
	stats := make(map[string][]ChannelStats)
	trimmed := bytes.TrimSpace(v)
	switch {
	case len(trimmed) == 0 || string(trimmed) == "null":
	case trimmed[0] == '[':
		var legacy []legacyStats
		if err := json.Unmarshal(trimmed, &legacy); err != nil {
			return nil, fmt.Errorf("bad legacy stats attribute: %w", err)
		}
		for _, ls := range legacy {
			stats[ls.Path] = ls.Channels
		}
	default:
		if err := json.Unmarshal(trimmed, &stats); err != nil {
			return nil, fmt.Errorf("bad stats attribute: %w", err)
		}
	}
	for path, channels := range stats {
		for i := range channels {
			channels[i].Quantiles = normalizeQuantiles(channels[i].Quantiles)
		}
		stats[path] = channels
	}
	return stats, nil
}

func normalizeQuantiles(q map[string]float64) map[string]float64 {
	if q == nil {
		return nil
	}
	out := make(map[string]float64, len(q))
	for k, v := range q {
		out[strings.ToLower(k)] = v
	}
	return out
}

// compatible returns false if the attributes were written in a newer major format.
func (r *RootAttributes) compatible() bool {
	if r.Version == "" {
		return true
	}
	v, err := semver.ParseTolerant(r.Version)
	if err != nil {
		dvid.Warningf("Unparseable root attributes version %q, reading as legacy\n", r.Version)
		return true
	}
	return v.Major <= attributesVersion.Major
}

// ReadRootAttributes returns the attributes of the group at groupPath.  Missing or
// unreadable metadata is not an error and returns nil, so callers can bootstrap
// new attributes.  Store failures are returned.
func ReadRootAttributes(ctx context.Context, store storage.Store, groupPath string) (*RootAttributes, error) {
	group, err := zarr.ReadGroup(ctx, store, groupPath)
	if errors.Is(err, zarr.ErrBadMetadata) {
		dvid.Warningf("Ignoring unreadable root metadata: %v\n", err)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if group == nil || len(group.Attributes) == 0 {
		return nil, nil
	}
	var attrs RootAttributes
	if err := json.Unmarshal(group.Attributes, &attrs); err != nil {
		dvid.Warningf("Ignoring unreadable root attributes in %s: %v\n", groupPath, err)
		return nil, nil
	}
	if !attrs.compatible() {
		dvid.Warningf("Ignoring root attributes in %s with unsupported version %s\n", groupPath, attrs.Version)
		return nil, nil
	}
	return &attrs, nil
}

// WriteRootAttributes validates the attributes and writes them as the group's metadata.
func WriteRootAttributes(ctx context.Context, store storage.Store, groupPath string, attrs *RootAttributes) error {
	if err := ValidateRootAttributes(attrs); err != nil {
		return err
	}
	return zarr.WriteGroup(ctx, store, groupPath, attrs)
}

// BuildRecord describes one pyramid build.
type BuildRecord struct {
	ID                 string    `json:"id"`
	Started            time.Time `json:"started"`
	Finished           time.Time `json:"finished"`
	Levels             []string  `json:"levels"`
	TargetMaxDimension int       `json:"targetMaxDimension"`
	HistogramBins      int       `json:"histogramBins"`
}

// AnalyticsAttributes are the attributes of the analytics group.
type AnalyticsAttributes struct {
	// Histograms maps a base array path to the full finalized statistics of its channels.
	Histograms map[string][]ChannelStats `json:"histograms"`

	// Builds maps a base array path to its most recent build.
	Builds map[string]BuildRecord `json:"builds,omitempty"`
}

// ReadAnalyticsAttributes returns the analytics attributes at the group path, or nil if
// there are none or they are unreadable.
func ReadAnalyticsAttributes(ctx context.Context, store storage.Store, groupPath string) (*AnalyticsAttributes, error) {
	group, err := zarr.ReadGroup(ctx, store, groupPath)
	if errors.Is(err, zarr.ErrBadMetadata) {
		dvid.Warningf("Ignoring unreadable analytics metadata: %v\n", err)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if group == nil || len(group.Attributes) == 0 {
		return nil, nil
	}
	var attrs AnalyticsAttributes
	if err := json.Unmarshal(group.Attributes, &attrs); err != nil {
		dvid.Warningf("Ignoring unreadable analytics attributes in %s: %v\n", groupPath, err)
		return nil, nil
	}
	return &attrs, nil
}

// WriteAnalyticsAttributes writes the attributes as the analytics group's metadata.
func WriteAnalyticsAttributes(ctx context.Context, store storage.Store, groupPath string, attrs *AnalyticsAttributes) error {
	return zarr.WriteGroup(ctx, store, groupPath, attrs)
}
