// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package timing estimates RTP-timestamp-to-wall-clock render time and
// per-frame decode deadlines, the way naivertc's rtp::video::Timing and its
// supporting filters do.
package timing

import "sort"

// PercentileFilter tracks the percentile-th value (0..1) of a sliding
// multiset of int64 observations, backed by a sorted slice rather than the
// order-statistics tree the original uses: Insert/Erase are O(n), which is
// fine at this filter's scale (single-digit thousands of samples in a 10s
// window at typical frame rates).
type PercentileFilter struct {
	percentile float64
	values     []int64
}

// NewPercentileFilter creates a filter for the given percentile, which must
// be between 0 and 1.
func NewPercentileFilter(percentile float64) *PercentileFilter {
	return &PercentileFilter{percentile: percentile}
}

// Insert adds one observation.
func (f *PercentileFilter) Insert(value int64) {
	i := sort.Search(len(f.values), func(i int) bool { return f.values[i] >= value })
	f.values = append(f.values, 0)
	copy(f.values[i+1:], f.values[i:])
	f.values[i] = value
}

// Erase removes one occurrence of value, reporting whether it was present.
func (f *PercentileFilter) Erase(value int64) bool {
	i := sort.Search(len(f.values), func(i int) bool { return f.values[i] >= value })
	if i >= len(f.values) || f.values[i] != value {
		return false
	}
	f.values = append(f.values[:i], f.values[i+1:]...)
	return true
}

// GetPercentileValue returns the percentile-th value, or 0 if empty.
func (f *PercentileFilter) GetPercentileValue() int64 {
	if len(f.values) == 0 {
		return 0
	}
	index := int(f.percentile * float64(len(f.values)-1))
	return f.values[index]
}

// Reset clears all observations.
func (f *PercentileFilter) Reset() {
	f.values = nil
}
