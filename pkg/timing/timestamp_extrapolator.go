// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package timing

import "github.com/pion/rtpvideo/pkg/rtpx"

const (
	alarmThreshold             = 60e3
	accDrift                   = 6600.0
	accMaxError                = 7000.0
	thetaCov11                 = 1e10
	lambda                     = 1.0
	minPacketCountBeforeFilter = 2
	resetIdleThresholdMs       = 10e3
)

// TimestampExtrapolator maps RTP timestamps to local receive time with a
// two-state (sample-rate, offset) Kalman filter fit to (unwrapped
// timestamp, receive time) observations, the way
// naivertc's TimestampExtrapolator does.
type TimestampExtrapolator struct {
	startTimeMs   int64
	prevTimeMs    int64

	theta    [2]float64
	thetaCov [2][2]float64

	firstUnwrappedTimestamp int64
	prevUnwrappedTimestamp  int64
	haveUnwrapped           bool
	unwrapper               rtpx.TimestampUnwrapper

	firstAfterReset bool
	packetCount     int

	detectorAccPos float64
	detectorAccNeg float64
}

// NewTimestampExtrapolator creates an extrapolator seeded at startTimeMs
// (the local clock time of construction).
func NewTimestampExtrapolator(startTimeMs int64) *TimestampExtrapolator {
	e := &TimestampExtrapolator{unwrapper: *rtpx.NewTimestampUnwrapper(true)}
	e.Reset(startTimeMs)
	return e
}

// Reset reinitializes the filter state, as after a codec switch or a long
// idle gap.
func (e *TimestampExtrapolator) Reset(startTimeMs int64) {
	e.startTimeMs = startTimeMs
	e.prevTimeMs = startTimeMs
	e.firstUnwrappedTimestamp = 0
	e.theta[0] = 90.0
	e.theta[1] = 0
	e.thetaCov[0][0] = 1
	e.thetaCov[0][1] = 0
	e.thetaCov[1][0] = 0
	e.thetaCov[1][1] = thetaCov11
	e.firstAfterReset = true
	e.haveUnwrapped = false
	e.unwrapper = *rtpx.NewTimestampUnwrapper(true)
	e.packetCount = 0
	e.detectorAccPos = 0
	e.detectorAccNeg = 0
}

// Update feeds one (timestamp, receiveTimeMs) observation into the filter.
func (e *TimestampExtrapolator) Update(timestamp uint32, receiveTimeMs int64) {
	if receiveTimeMs-e.prevTimeMs > resetIdleThresholdMs {
		e.Reset(receiveTimeMs)
	} else {
		e.prevTimeMs = receiveTimeMs
	}

	recvDiffMs := receiveTimeMs - e.startTimeMs
	unwrapped := e.unwrapper.Unwrap(timestamp)

	if e.firstAfterReset {
		e.theta[1] = -e.theta[0] * float64(recvDiffMs)
		e.firstUnwrappedTimestamp = unwrapped
		e.firstAfterReset = false
	}

	residual := float64(unwrapped-e.firstUnwrappedTimestamp) - float64(recvDiffMs)*e.theta[0] - e.theta[1]

	if e.delayChangeDetected(residual) && e.packetCount >= minPacketCountBeforeFilter {
		e.thetaCov[1][1] = thetaCov11
	}

	if e.haveUnwrapped && unwrapped < e.prevUnwrappedTimestamp {
		return
	}

	k0 := e.thetaCov[0][0]*float64(recvDiffMs) + e.thetaCov[0][1]
	k1 := e.thetaCov[1][0]*float64(recvDiffMs) + e.thetaCov[1][1]
	hph := lambda + float64(recvDiffMs)*k0 + k1
	k0 /= hph
	k1 /= hph

	e.theta[0] += k0 * residual
	e.theta[1] += k1 * residual

	p00 := (1 / lambda) * (e.thetaCov[0][0] - (k0*float64(recvDiffMs)*e.thetaCov[0][0] + k0*e.thetaCov[1][0]))
	p01 := (1 / lambda) * (e.thetaCov[0][1] - (k0*float64(recvDiffMs)*e.thetaCov[0][1] + k0*e.thetaCov[1][1]))
	e.thetaCov[1][0] = (1 / lambda) * (e.thetaCov[1][0] - (k1*float64(recvDiffMs)*e.thetaCov[0][0] + k1*e.thetaCov[1][0]))
	e.thetaCov[1][1] = (1 / lambda) * (e.thetaCov[1][1] - (k1*float64(recvDiffMs)*e.thetaCov[0][1] + k1*e.thetaCov[1][1]))
	e.thetaCov[0][0] = p00
	e.thetaCov[0][1] = p01

	e.prevUnwrappedTimestamp = unwrapped
	e.haveUnwrapped = true
	if e.packetCount < minPacketCountBeforeFilter {
		e.packetCount++
	}
}

// ExtrapolateLocalTime estimates the local receive time at which timestamp
// would have completed, or -1 if no observation has been made yet.
func (e *TimestampExtrapolator) ExtrapolateLocalTime(timestamp uint32) int64 {
	if !e.haveUnwrapped {
		return -1
	}

	unwrapped := e.unwrapper.Unwrap(timestamp)

	switch {
	case e.packetCount == 0:
		return -1
	case e.packetCount < minPacketCountBeforeFilter:
		return e.prevTimeMs + int64(float64(unwrapped-e.prevUnwrappedTimestamp)/90.0+0.5)
	case e.theta[0] < 1e-3:
		return e.startTimeMs
	default:
		timestampDiff := float64(unwrapped - e.firstUnwrappedTimestamp)
		return int64(float64(e.startTimeMs) + (timestampDiff-e.theta[1])/e.theta[0] + 0.5)
	}
}

// delayChangeDetected runs a CUSUM-style two-sided accumulator over the
// Kalman residual to flag a sudden network delay shift.
func (e *TimestampExtrapolator) delayChangeDetected(errIn float64) bool {
	err := errIn
	if err > 0 {
		if err > accMaxError {
			err = accMaxError
		}
	} else {
		if err < -accMaxError {
			err = -accMaxError
		}
	}

	e.detectorAccPos = max64(e.detectorAccPos+err-accDrift, 0)
	e.detectorAccNeg = min64(e.detectorAccNeg+err+accDrift, 0)

	if e.detectorAccPos > alarmThreshold || e.detectorAccNeg < -alarmThreshold {
		e.detectorAccPos = 0
		e.detectorAccNeg = 0
		return true
	}
	return false
}

func max64(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
