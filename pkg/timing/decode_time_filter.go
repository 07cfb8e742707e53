// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package timing

const (
	defaultPercentile             = 0.95
	defaultWindowSizeMs     int64 = 10000
	defaultIgnoredSamples         = 5
)

type decodeSample struct {
	decodeTimeMs int64
	sampleTimeMs int64
}

// DecodeTimeFilter estimates the decode time budget to reserve per frame as
// the percentile-th observed decode time within a trailing time window,
// ignoring the first few samples (decoder warm-up is not representative).
type DecodeTimeFilter struct {
	windowSizeMs          int64
	ignoredSampleThreshold int
	ignoredSampleCount     int
	history                []decodeSample
	filter                 *PercentileFilter
}

// NewDecodeTimeFilter creates a DecodeTimeFilter with naivertc's defaults:
// 95th percentile over a 10s window, ignoring the first 5 samples.
func NewDecodeTimeFilter() *DecodeTimeFilter {
	return &DecodeTimeFilter{
		windowSizeMs:           defaultWindowSizeMs,
		ignoredSampleThreshold: defaultIgnoredSamples,
		filter:                 NewPercentileFilter(defaultPercentile),
	}
}

// AddTiming records a decode-time observation at now_ms.
func (d *DecodeTimeFilter) AddTiming(decodeTimeMs, nowMs int64) {
	if d.ignoredSampleCount < d.ignoredSampleThreshold {
		d.ignoredSampleCount++
		return
	}

	d.filter.Insert(decodeTimeMs)
	d.history = append(d.history, decodeSample{decodeTimeMs: decodeTimeMs, sampleTimeMs: nowMs})

	for len(d.history) > 0 && nowMs-d.history[0].sampleTimeMs > d.windowSizeMs {
		d.filter.Erase(d.history[0].decodeTimeMs)
		d.history = d.history[1:]
	}
}

// RequiredDecodeTimeMs returns the current percentile decode time estimate.
func (d *DecodeTimeFilter) RequiredDecodeTimeMs() int64 {
	return d.filter.GetPercentileValue()
}

// Reset clears all history.
func (d *DecodeTimeFilter) Reset() {
	d.ignoredSampleCount = 0
	d.history = nil
	d.filter.Reset()
}
