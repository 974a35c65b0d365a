package mipmap

import (
	"fmt"
	"math"
	"strconv"
)

// Percentiles are the quantiles computed for every channel.
var Percentiles = []float64{1, 5, 10, 25, 50, 75, 90, 95, 99}

// ChannelStats are the finalized intensity statistics of one channel.
type ChannelStats struct {
	Channel   int                `json:"channel"`
	Min       float64            `json:"min"`
	Max       float64            `json:"max"`
	Histogram HistogramData      `json:"histogram"`
	Quantiles map[string]float64 `json:"quantiles"`
}

// QuantileKey returns the key of a percentile in ChannelStats.Quantiles, e.g., "p50".
func QuantileKey(percentile float64) string {
	return "p" + strconv.FormatFloat(percentile, 'f', -1, 64)
}

// StatsAccumulator collects a streaming histogram and running min/max for each channel.
type StatsAccumulator struct {
	Histograms []*Histogram
	Min        []float64
	Max        []float64
}

// NewStatsAccumulator returns an accumulator for the given number of channels with
// min/max initialized to +Inf/-Inf.
func NewStatsAccumulator(channels, bins int) *StatsAccumulator {
	acc := &StatsAccumulator{
		Histograms: make([]*Histogram, channels),
		Min:        make([]float64, channels),
		Max:        make([]float64, channels),
	}
	for c := 0; c < channels; c++ {
		acc.Histograms[c] = NewHistogram(bins)
		acc.Min[c] = math.Inf(1)
		acc.Max[c] = math.Inf(-1)
	}
	return acc
}

// Channels returns the number of channels.
func (acc *StatsAccumulator) Channels() int {
	return len(acc.Histograms)
}

// Add records a value for a channel.  Non-finite values are ignored.
func (acc *StatsAccumulator) Add(channel int, v float64) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}
	if v < acc.Min[channel] {
		acc.Min[channel] = v
	}
	if v > acc.Max[channel] {
		acc.Max[channel] = v
	}
	acc.Histograms[channel].Add(v)
}

// Merge adds the statistics of another accumulator with the same channels.
func (acc *StatsAccumulator) Merge(other *StatsAccumulator) error {
	if other.Channels() != acc.Channels() {
		return fmt.Errorf("can't merge %d channel stats into %d channel stats", other.Channels(), acc.Channels())
	}
	for c := range acc.Histograms {
		if err := acc.Histograms[c].Merge(other.Histograms[c]); err != nil {
			return err
		}
		acc.Min[c] = math.Min(acc.Min[c], other.Min[c])
		acc.Max[c] = math.Max(acc.Max[c], other.Max[c])
	}
	return nil
}

// Finalize returns the histogram-derived statistics of each channel.
func (acc *StatsAccumulator) Finalize() []ChannelStats {
	targets := make([]float64, len(Percentiles))
	for i, p := range Percentiles {
		targets[i] = p / 100
	}
	stats := make([]ChannelStats, acc.Channels())
	for c, h := range acc.Histograms {
		result := h.Finalize(targets)
		quantiles := make(map[string]float64, len(Percentiles))
		for i, p := range Percentiles {
			quantiles[QuantileKey(p)] = result.Quantiles[i]
		}
		stats[c] = ChannelStats{
			Channel:   c,
			Min:       result.Min,
			Max:       result.Max,
			Histogram: result.Histogram,
			Quantiles: quantiles,
		}
	}
	return stats
}

// Observed returns finalized statistics with the min/max replaced by the directly
// observed values when those are finite.
func (acc *StatsAccumulator) Observed(finalized []ChannelStats) []ChannelStats {
	out := make([]ChannelStats, len(finalized))
	for c, s := range finalized {
		out[c] = s
		if c < acc.Channels() && !math.IsInf(acc.Min[c], 0) && !math.IsInf(acc.Max[c], 0) {
			out[c].Min = acc.Min[c]
			out[c].Max = acc.Max[c]
		}
	}
	return out
}
