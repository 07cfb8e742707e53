// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package ntp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTime_ValidAndToMs(t *testing.T) {
	zero := NewTime(0, 0)
	assert.False(t, zero.Valid())

	ts := FromMs(1_700_000_000_123)
	assert.True(t, ts.Valid())
	// The 32.32 fixed-point fraction field truncates sub-millisecond
	// precision, so the round trip can land a millisecond short.
	assert.InDelta(t, 1_700_000_000_123, ts.ToMs(), 1)
}

func TestRemoteNtpTimeEstimator_NoEstimateBeforeTwoSamples(t *testing.T) {
	e := NewRemoteNtpTimeEstimator()
	_, ok := e.Estimate(90000)
	assert.False(t, ok)

	ntp0 := FromMs(1_700_000_000_000)
	ok = e.UpdateMeasurements(ntp0.Seconds, ntp0.Fractions, 90000)
	assert.True(t, ok)

	_, ok = e.Estimate(90000)
	assert.False(t, ok, "a single sample has no variance to fit a slope against")
}

func TestRemoteNtpTimeEstimator_TracksLinearClock(t *testing.T) {
	e := NewRemoteNtpTimeEstimator()

	startMs := int64(1_700_000_000_000)
	var rtpTimestamp uint32
	for i := 0; i < 10; i++ {
		ms := startMs + int64(i)*1000
		ntpTime := FromMs(ms)
		ok := e.UpdateMeasurements(ntpTime.Seconds, ntpTime.Fractions, rtpTimestamp)
		require.True(t, ok)
		rtpTimestamp += 90000 // 90kHz clock, 1 second per sample
	}

	params, ok := e.Params()
	require.True(t, ok)
	assert.InDelta(t, 90.0, params.FrequencyKhz, 1.0)

	estimated, ok := e.Estimate(rtpTimestamp)
	require.True(t, ok)
	wantMs := startMs + 10*1000
	assert.InDelta(t, wantMs, estimated, 5)
}

func TestRemoteNtpTimeEstimator_RejectsNonMonotonicRtp(t *testing.T) {
	e := NewRemoteNtpTimeEstimator()

	ntp0 := FromMs(1_700_000_000_000)
	require.True(t, e.UpdateMeasurements(ntp0.Seconds, ntp0.Fractions, 90000))

	ntp1 := FromMs(1_700_000_001_000)
	// A backwards RTP timestamp is an invalid sample and must not be folded
	// into the regression.
	ok := e.UpdateMeasurements(ntp1.Seconds, ntp1.Fractions, 1000)
	assert.False(t, ok)
}

func TestRemoteNtpTimeEstimator_DuplicateMeasurementIsAccepted(t *testing.T) {
	e := NewRemoteNtpTimeEstimator()

	ntp0 := FromMs(1_700_000_000_000)
	require.True(t, e.UpdateMeasurements(ntp0.Seconds, ntp0.Fractions, 90000))
	// Re-submitting the exact same sample must not error or double-count.
	assert.True(t, e.UpdateMeasurements(ntp0.Seconds, ntp0.Fractions, 90000))
}
