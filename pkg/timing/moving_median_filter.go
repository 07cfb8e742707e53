// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package timing

// MovingMedianFilter tracks the median of the windowSize most recent int64
// samples, evicting the oldest sample once the window is full.
//
// Reference: naivertc's MovingMedianFilter<T>
// (rtc/base/numerics/moving_median_filter.hpp), which wraps a 0.5-percentile
// PercentileFilter over a bounded FIFO of samples.
type MovingMedianFilter struct {
	windowSize int
	filter     *PercentileFilter
	samples    []int64
}

// NewMovingMedianFilter creates a filter over the given window size, which
// must be positive.
func NewMovingMedianFilter(windowSize int) *MovingMedianFilter {
	return &MovingMedianFilter{
		windowSize: windowSize,
		filter:     NewPercentileFilter(0.5),
	}
}

// Insert adds one sample, evicting the oldest stored sample if the window is
// already full.
func (m *MovingMedianFilter) Insert(value int64) {
	m.filter.Insert(value)
	m.samples = append(m.samples, value)
	if len(m.samples) > m.windowSize {
		m.filter.Erase(m.samples[0])
		m.samples = m.samples[1:]
	}
}

// Reset clears all stored samples.
func (m *MovingMedianFilter) Reset() {
	m.filter.Reset()
	m.samples = nil
}

// GetFilteredValue returns the current median, or 0 if no samples have been
// inserted.
func (m *MovingMedianFilter) GetFilteredValue() int64 {
	return m.filter.GetPercentileValue()
}

// StoredSampleCount returns how many samples are currently stored.
func (m *MovingMedianFilter) StoredSampleCount() int {
	return len(m.samples)
}
