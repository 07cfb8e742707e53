// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package ntp

import (
	"github.com/pion/rtpvideo/pkg/rtpx"
	"github.com/pion/rtpvideo/pkg/timing"
)

// maxMeasurements bounds the regression sample list, matching naivertc's
// RtpToNtpEstimator::kNumRtcpReportsToUse.
const maxMeasurements = 20

// maxInvalidSamples is the number of consecutively invalid RTCP SR reports
// tolerated before every measurement is discarded and the estimator starts
// over, matching RtpToNtpEstimator::kMaxInvalidSamples.
const maxInvalidSamples = 3

// maxAllowedNtpIntervalMs bounds the gap between two SRs' NTP times: a wider
// gap than this means something reset the sender's NTP clock.
const maxAllowedNtpIntervalMs = 60 * 60 * 1000

// maxAllowedRtpTimestampInterval bounds the gap between two SRs' unwrapped
// RTP timestamps, matching kMaxAllowedRtcpTimestampIntervalMs (1 << 25).
const maxAllowedRtpTimestampInterval = 1 << 25

// movingMedianWindow is the number of recent clock-offset samples the
// moving-median filter keeps, matching the window naivertc's
// MovingMedianFilter is constructed with for RTP-to-NTP offset smoothing.
const movingMedianWindow = 30

type measurement struct {
	ntpTimeMs          int64
	unwrappedTimestamp int64
}

// Parameters is the fitted RTP-clock-to-NTP-domain mapping: an estimate is
// unwrappedTimestamp/frequencyKhz + offsetMs.
type Parameters struct {
	FrequencyKhz float64
	OffsetMs     float64
}

// RemoteNtpTimeEstimator converts a sender's RTP timestamps into the
// sender's NTP timebase (milliseconds since the Unix epoch) by fitting a
// line through (unwrapped RTP timestamp, sender NTP time) pairs taken from
// RTCP Sender Reports. A moving median of the fit's residual at each report
// is subtracted from every estimate. No local receive time enters the fit,
// so estimates are not mapped onto the receiver's own clock.
//
// Reference: naivertc's RtpToNtpEstimator
// (rtc/rtp_rtcp/components/rtp_to_ntp_estimator.cpp/.hpp).
type RemoteNtpTimeEstimator struct {
	unwrapper *rtpx.TimestampUnwrapper

	consecutiveInvalidSamples int
	measurements              []measurement
	params                    *Parameters

	offsetFilter *timing.MovingMedianFilter
}

// NewRemoteNtpTimeEstimator creates an empty RemoteNtpTimeEstimator.
func NewRemoteNtpTimeEstimator() *RemoteNtpTimeEstimator {
	return &RemoteNtpTimeEstimator{
		unwrapper:    rtpx.NewTimestampUnwrapper(true),
		offsetFilter: timing.NewMovingMedianFilter(movingMedianWindow),
	}
}

// UpdateMeasurements feeds one RTCP Sender Report sample: the sender's wall
// clock at the time of the report (ntpSecs/ntpFrac) and the RTP timestamp
// sampled at that same instant. It returns false if the sample was rejected
// as invalid.
func (e *RemoteNtpTimeEstimator) UpdateMeasurements(ntpSecs, ntpFrac uint32, rtpTimestamp uint32) bool {
	ntp := NewTime(ntpSecs, ntpFrac)
	if !ntp.Valid() {
		return false
	}
	ntpTimeMs := ntp.ToMs()
	unwrapped := e.unwrapper.Unwrap(rtpTimestamp)

	m := measurement{ntpTimeMs: ntpTimeMs, unwrappedTimestamp: unwrapped}
	if e.contains(m) {
		return true
	}

	if len(e.measurements) > 0 {
		last := e.measurements[len(e.measurements)-1]

		ntpIntervalMs := ntpTimeMs - last.ntpTimeMs
		rtpInterval := unwrapped - last.unwrappedTimestamp

		valid := ntpIntervalMs > 0 &&
			ntpIntervalMs <= maxAllowedNtpIntervalMs &&
			rtpInterval > 0 &&
			rtpInterval <= maxAllowedRtpTimestampInterval

		if !valid {
			e.consecutiveInvalidSamples++
			if e.consecutiveInvalidSamples < maxInvalidSamples {
				return false
			}
			e.consecutiveInvalidSamples = 0
			e.measurements = nil
			e.params = nil
		}
	}
	e.consecutiveInvalidSamples = 0

	e.measurements = append(e.measurements, m)
	if len(e.measurements) > maxMeasurements {
		e.measurements = e.measurements[1:]
	}

	e.calculateParameters()
	e.updateOffset(ntpTimeMs, unwrapped)
	return true
}

func (e *RemoteNtpTimeEstimator) contains(m measurement) bool {
	for _, existing := range e.measurements {
		if existing == m {
			return true
		}
	}
	return false
}

// updateOffset folds this sample's fit residual (fitted estimate minus the
// sample's own NTP time) into the moving-median filter,
// so Estimate's output is smoothed against single noisy SRs.
func (e *RemoteNtpTimeEstimator) updateOffset(ntpTimeMs, unwrappedTimestamp int64) {
	if e.params == nil {
		return
	}
	estimated := float64(unwrappedTimestamp)/e.params.FrequencyKhz + e.params.OffsetMs
	offset := estimated - float64(ntpTimeMs)

	e.offsetFilter.Insert(int64(offset))
}

// calculateParameters refits Parameters via ordinary least squares over the
// current measurement window. It leaves params untouched (nil, on the very
// first valid sample) when fewer than two points are available or the
// timestamps carry no variance to fit a slope against.
func (e *RemoteNtpTimeEstimator) calculateParameters() {
	if len(e.measurements) < 2 {
		return
	}

	var sumX, sumY float64
	for _, m := range e.measurements {
		sumX += float64(m.unwrappedTimestamp)
		sumY += float64(m.ntpTimeMs)
	}
	n := float64(len(e.measurements))
	avgX := sumX / n
	avgY := sumY / n

	var varianceX, covarianceXY float64
	for _, m := range e.measurements {
		dx := float64(m.unwrappedTimestamp) - avgX
		dy := float64(m.ntpTimeMs) - avgY
		varianceX += dx * dx
		covarianceXY += dx * dy
	}

	if varianceX < 1e-8 && varianceX > -1e-8 {
		return
	}

	slope := covarianceXY / varianceX
	intercept := avgY - slope*avgX

	if slope <= 0 {
		return
	}

	e.params = &Parameters{FrequencyKhz: 1.0 / slope, OffsetMs: intercept}
}

// Estimate converts rtpTimestamp to the sender's NTP time in milliseconds. ok is
// false until at least two valid measurements have been observed, or if the
// fitted estimate would be negative.
func (e *RemoteNtpTimeEstimator) Estimate(rtpTimestamp uint32) (ms int64, ok bool) {
	if e.params == nil {
		return 0, false
	}

	unwrapped := e.unwrapper.Unwrap(rtpTimestamp)
	estimated := float64(unwrapped)/e.params.FrequencyKhz + e.params.OffsetMs
	if estimated < 0 {
		return 0, false
	}

	offset := e.offsetFilter.GetFilteredValue()
	return int64(estimated+0.5) - offset, true
}

// Params returns the current fit, if any.
func (e *RemoteNtpTimeEstimator) Params() (Parameters, bool) {
	if e.params == nil {
		return Parameters{}, false
	}
	return *e.params, true
}
