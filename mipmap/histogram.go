package mipmap

import (
	"fmt"
	"math"
	"sort"
)

// DefaultHistogramBins is the number of histogram bins per channel.
const DefaultHistogramBins = 1024

// Histogram is a streaming fixed-bin histogram whose range grows to cover every value
// added.  When the range grows, existing counts are moved to the bins covering their
// old bin positions in the new range, so total counts are always preserved.
type Histogram struct {
	counts      []uint64
	minimum     float64
	maximum     float64
	total       uint64
	initialized bool
}

// HistogramData is the serialized form of a finalized histogram.
type HistogramData struct {
	Bins   int      `json:"bins"`
	Min    float64  `json:"min"`
	Max    float64  `json:"max"`
	Counts []uint64 `json:"counts"`
}

// HistogramResult is a finalized histogram with quantiles in the order requested.
type HistogramResult struct {
	Min       float64
	Max       float64
	Histogram HistogramData
	Quantiles []float64
}

// NewHistogram returns an empty histogram with the given number of bins.
func NewHistogram(bins int) *Histogram {
	if bins < 1 {
		bins = 1
	}
	return &Histogram{counts: make([]uint64, bins)}
}

// Bins returns the number of bins.
func (h *Histogram) Bins() int {
	return len(h.counts)
}

// Total returns the number of values added.
func (h *Histogram) Total() uint64 {
	return h.total
}

// Range returns the current range covered by the bins.
func (h *Histogram) Range() (minimum, maximum float64) {
	return h.minimum, h.maximum
}

func (h *Histogram) binIndex(v, minimum, maximum float64) int {
	n := len(h.counts)
	if n == 1 {
		return 0
	}
	norm := (v - minimum) / (maximum - minimum)
	i := int(math.Floor(norm * float64(n-1)))
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// binValue is the value at a bin's fractional position within the range.
func (h *Histogram) binValue(i int, minimum, maximum float64) float64 {
	n := len(h.counts)
	if n == 1 {
		return minimum
	}
	return minimum + float64(i)/float64(n-1)*(maximum-minimum)
}

// Add adds a value.  Non-finite values are ignored.
func (h *Histogram) Add(v float64) {
	h.addCount(v, 1)
}

func (h *Histogram) addCount(v float64, count uint64) {
	if math.IsNaN(v) || math.IsInf(v, 0) || count == 0 {
		return
	}
	if !h.initialized {
		h.minimum, h.maximum = v, v+1
		h.initialized = true
	} else if v < h.minimum || v > h.maximum {
		h.expand(v)
	}
	h.counts[h.binIndex(v, h.minimum, h.maximum)] += count
	h.total += count
}

// expand grows the range to include v and rebins the existing counts.
func (h *Histogram) expand(v float64) {
	oldMin, oldMax := h.minimum, h.maximum
	newMin, newMax := math.Min(oldMin, v), math.Max(oldMax, v)
	if newMax == newMin {
		newMax = newMin + 1
	}
	counts := make([]uint64, len(h.counts))
	for i, c := range h.counts {
		if c == 0 {
			continue
		}
		value := h.binValue(i, oldMin, oldMax)
		counts[h.binIndex(value, newMin, newMax)] += c
	}
	h.counts = counts
	h.minimum, h.maximum = newMin, newMax
}

// Merge adds the counts of another histogram with the same number of bins.
func (h *Histogram) Merge(other *Histogram) error {
	if len(other.counts) != len(h.counts) {
		return fmt.Errorf("can't merge histogram of %d bins into one of %d bins", len(other.counts), len(h.counts))
	}
	if !other.initialized {
		return nil
	}
	// Extend to the other range first so its counts keep their positions.
	if !h.initialized {
		h.minimum, h.maximum = other.minimum, other.maximum
		h.initialized = true
	} else {
		if other.minimum < h.minimum {
			h.expand(other.minimum)
		}
		if other.maximum > h.maximum {
			h.expand(other.maximum)
		}
	}
	for i, c := range other.counts {
		if c != 0 {
			h.addCount(h.binValue(i, other.minimum, other.maximum), c)
		}
	}
	return nil
}

// Finalize returns the histogram with quantiles for the target fractions (0 to 1).
// An empty histogram has range [0, 1] and every quantile is 0.
func (h *Histogram) Finalize(targets []float64) HistogramResult {
	counts := make([]uint64, len(h.counts))
	copy(counts, h.counts)
	quantiles := make([]float64, len(targets))
	if h.total == 0 {
		return HistogramResult{
			Min:       0,
			Max:       1,
			Histogram: HistogramData{Bins: len(counts), Min: 0, Max: 1, Counts: counts},
			Quantiles: quantiles,
		}
	}

	order := make([]int, len(targets))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return targets[order[a]] < targets[order[b]] })

	next := 0
	var cum uint64
	for i, c := range counts {
		cum += c
		for next < len(order) && float64(cum) >= targets[order[next]]*float64(h.total) {
			quantiles[order[next]] = h.binValue(i, h.minimum, h.maximum)
			next++
		}
		if next == len(order) {
			break
		}
	}
	for ; next < len(order); next++ {
		quantiles[order[next]] = h.maximum
	}
	return HistogramResult{
		Min:       h.minimum,
		Max:       h.maximum,
		Histogram: HistogramData{Bins: len(counts), Min: h.minimum, Max: h.maximum, Counts: counts},
		Quantiles: quantiles,
	}
}
