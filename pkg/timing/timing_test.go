// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package timing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPercentileFilter_Basic(t *testing.T) {
	f := NewPercentileFilter(0.5)
	for _, v := range []int64{5, 1, 3, 2, 4} {
		f.Insert(v)
	}
	assert.Equal(t, int64(3), f.GetPercentileValue())

	assert.True(t, f.Erase(3))
	assert.False(t, f.Erase(100))
}

func TestDecodeTimeFilter_IgnoresWarmupSamples(t *testing.T) {
	f := NewDecodeTimeFilter()
	for i := 0; i < defaultIgnoredSamples; i++ {
		f.AddTiming(1000, int64(i))
	}
	assert.Equal(t, int64(0), f.RequiredDecodeTimeMs(), "warm-up samples must not affect the estimate")

	f.AddTiming(20, 1000)
	assert.Equal(t, int64(20), f.RequiredDecodeTimeMs())
}

func TestDecodeTimeFilter_ExpiresOldSamples(t *testing.T) {
	f := NewDecodeTimeFilter()
	for i := 0; i < defaultIgnoredSamples; i++ {
		f.AddTiming(1000, int64(i))
	}

	f.AddTiming(20, 0)
	require.Equal(t, int64(20), f.RequiredDecodeTimeMs())

	f.AddTiming(5, defaultWindowSizeMs+1)
	assert.Equal(t, int64(5), f.RequiredDecodeTimeMs(), "the first sample should have aged out of the window")
}

func TestTimestampExtrapolator_TracksLinearClock(t *testing.T) {
	e := NewTimestampExtrapolator(0)

	var ts uint32
	var recvMs int64
	for i := 0; i < 200; i++ {
		e.Update(ts, recvMs)
		ts += 3000
		recvMs += 33
	}

	got := e.ExtrapolateLocalTime(ts)
	want := recvMs
	assert.InDelta(t, want, got, 50, "after convergence the extrapolator should track roughly 90kHz/33ms frame pacing")
}

func TestTimestampExtrapolator_NoObservationsReturnsSentinel(t *testing.T) {
	e := NewTimestampExtrapolator(0)
	assert.Equal(t, int64(-1), e.ExtrapolateLocalTime(0))
}

func TestTiming_RenderTimeMsZeroLatency(t *testing.T) {
	now := time.Unix(1000, 0)
	tm := newWithClock(func() time.Time { return now })
	tm.SetMaxPlayoutDelayMs(0)

	assert.Equal(t, int64(0), tm.RenderTimeMs(0, now), "min = max = 0 playout delay takes the low-latency path")
}

func TestTiming_RenderTimeMsWithPlayoutDelay(t *testing.T) {
	now := time.Unix(1000, 0)
	tm := newWithClock(func() time.Time { return now })
	tm.SetMinPlayoutDelayMs(100)
	tm.SetMaxPlayoutDelayMs(1000)

	var ts uint32
	recvMs := now.UnixMilli()
	for i := 0; i < 10; i++ {
		tm.IncomingTimestamp(ts, recvMs)
		ts += 3000
		recvMs += 33
	}

	rt := tm.RenderTimeMs(ts, now)
	assert.Greater(t, rt, int64(0))
}

func TestTiming_MaxWaitBeforeDecode(t *testing.T) {
	now := time.Unix(1000, 0)
	tm := newWithClock(func() time.Time { return now })

	wait := tm.MaxWaitBeforeDecode(now.UnixMilli()+500, now)
	assert.Equal(t, int64(500-defaultRenderDelayMs), wait)
}
