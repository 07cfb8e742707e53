// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package timing

import "math"

// ProtectionMode selects how much of the measured RTT is folded into the
// jitter estimate: a NACK-only stream must wait out a full retransmission
// round trip before a lost packet can still arrive, so its jitter delay is
// widened accordingly; a NACK+FEC stream can recover losses without a round
// trip and does not need the extra margin.
type ProtectionMode int

const (
	// ProtectionModeNack is a NACK-only protected stream.
	ProtectionModeNack ProtectionMode = iota
	// ProtectionModeNackFEC is a NACK+FEC protected stream.
	ProtectionModeNackFEC
)

const (
	jitterPhi              = 0.97
	jitterPsi              = 0.9999
	jitterAlphaCountMax     = 400
	jitterThetaCov11Default = 1e-1
	jitterQ11Default        = 1e-3
	jitterRttMultiplier     = 1.0 / 3.0
	jitterRttMultAddCapMs   = 2000.0
	jitterNoiseStdDevs      = 2.33 // ~99th percentile of a normal distribution
	jitterNoiseStdDevOffset = 30.0
)

// JitterEstimator tracks the relationship between encoded frame size and
// network transmission delay with a 2-state Kalman filter
// (theta[0]: ms per byte, theta[1]: average per-frame transmission delay)
// and derives a jitter delay estimate, increased by a fraction of the RTT when
// the stream cannot rely on FEC to recover losses, the way libwebrtc's
// VCMJitterEstimator does. naivertc's frame_buffer.hpp consumes this filter
// through an opaque JitterEstimator member (see DESIGN.md); its concrete
// algorithm is not retrieved in this pack, so it is implemented directly
// from spec.md 4.8's description.
type JitterEstimator struct {
	theta    [2]float64
	thetaCov [2][2]float64
	varNoise float64

	avgFrameSize  float64
	varFrameSize  float64
	maxFrameSize  float64
	fsCount       int
	lastFrameSize float64
	haveLastFrame bool

	avgNoise   float64
	alphaCount int

	estimate float64

	rttMs float64
}

// NewJitterEstimator creates a JitterEstimator with libwebrtc-style
// defaults.
func NewJitterEstimator() *JitterEstimator {
	j := &JitterEstimator{}
	j.Reset()
	return j
}

// Reset reinitializes all filter state, as after a codec switch or a long
// idle period.
func (j *JitterEstimator) Reset() {
	j.theta = [2]float64{1.0 / 512.0, 0}
	j.thetaCov = [2][2]float64{{1e-4, 0}, {0, jitterThetaCov11Default}}
	j.varNoise = 4.0
	j.avgFrameSize = 0
	j.varFrameSize = 100
	j.maxFrameSize = 0
	j.fsCount = 0
	j.haveLastFrame = false
	j.avgNoise = 0
	j.alphaCount = 1
	j.estimate = 0
}

// UpdateRTT feeds the latest RTT measurement used to bound the jitter
// estimate for NACK-only protected streams.
func (j *JitterEstimator) UpdateRTT(rttMs float64) {
	j.rttMs = rttMs
}

// Update feeds one (inter-frame delay, encoded frame size) observation
// into the Kalman filter, updating the jitter estimate.
func (j *JitterEstimator) Update(frameDelayMs float64, frameSizeBytes int) {
	if frameSizeBytes <= 0 {
		return
	}
	frameSize := float64(frameSizeBytes)

	j.updateFrameSizeStats(frameSize)

	deltaFS := frameSize - j.avgFrameSize
	if !j.haveLastFrame {
		j.haveLastFrame = true
		j.lastFrameSize = frameSize
		return
	}

	maxFsDelta := deltaFS
	if maxFsDelta < 0 {
		maxFsDelta = 0
	}

	j.kalmanFilterEstimate(frameDelayMs, maxFsDelta)
	j.lastFrameSize = frameSize

	residual := frameDelayMs - (j.theta[0]*maxFsDelta + j.theta[1])
	j.estimateRandomJitter(residual, frameSizeBytes)
}

// updateFrameSizeStats folds frameSize into the running mean/variance and
// tracks the largest observed frame, the way VCMJitterEstimator's
// avg_frame_size_/max_frame_size_ filters do.
func (j *JitterEstimator) updateFrameSizeStats(frameSize float64) {
	if j.fsCount == 0 {
		j.avgFrameSize = frameSize
	} else {
		alpha := (float64(j.fsCount) - 1) / float64(j.fsCount)
		if alpha < jitterPhi {
			alpha = jitterPhi
		}
		j.avgFrameSize = alpha*j.avgFrameSize + (1-alpha)*frameSize
		diff := frameSize - j.avgFrameSize
		j.varFrameSize = alpha*j.varFrameSize + (1-alpha)*diff*diff
	}
	if frameSize > j.maxFrameSize {
		j.maxFrameSize = frameSize
	}
	j.fsCount++
}

// kalmanFilterEstimate runs one step of the 2-state Kalman filter:
// observation = theta[0]*deltaFS + theta[1] + noise.
func (j *JitterEstimator) kalmanFilterEstimate(frameDelayMs, deltaFS float64) {
	measurementNoiseStdDev := math.Sqrt(j.varNoise)
	if measurementNoiseStdDev < 1 {
		measurementNoiseStdDev = 1
	}

	// Process noise, grown slightly with the observed frame-size variance so
	// a burst of larger frames doesn't get over-attributed to jitter.
	qFS := jitterQ11Default * math.Max(j.varFrameSize, 1)

	j.thetaCov[0][0] += 1e-9
	j.thetaCov[1][1] += qFS

	k0 := j.thetaCov[0][0]*deltaFS + j.thetaCov[0][1]
	k1 := j.thetaCov[1][0]*deltaFS + j.thetaCov[1][1]
	denom := deltaFS*k0 + k1 + measurementNoiseStdDev*measurementNoiseStdDev
	if denom <= 0 {
		return
	}
	k0 /= denom
	k1 /= denom

	residual := frameDelayMs - (j.theta[0]*deltaFS + j.theta[1])

	j.theta[0] += k0 * residual
	j.theta[1] += k1 * residual
	if j.theta[0] < 0 {
		j.theta[0] = 0
	}

	p00 := j.thetaCov[0][0] - k0*(deltaFS*j.thetaCov[0][0]+j.thetaCov[1][0])
	p01 := j.thetaCov[0][1] - k0*(deltaFS*j.thetaCov[0][1]+j.thetaCov[1][1])
	p10 := j.thetaCov[1][0] - k1*(deltaFS*j.thetaCov[0][0]+j.thetaCov[1][0])
	p11 := j.thetaCov[1][1] - k1*(deltaFS*j.thetaCov[0][1]+j.thetaCov[1][1])
	j.thetaCov[0][0], j.thetaCov[0][1] = p00, p01
	j.thetaCov[1][0], j.thetaCov[1][1] = p10, p11
}

// estimateRandomJitter folds the Kalman residual into an exponentially
// weighted noise estimate, with a short warm-up ramp (alphaCount) so the
// filter converges quickly on the first few frames.
func (j *JitterEstimator) estimateRandomJitter(residual float64, frameSizeBytes int) {
	alpha := (float64(j.alphaCount) - 1) / float64(j.alphaCount)
	if j.alphaCount < jitterAlphaCountMax {
		j.alphaCount++
	}
	alpha *= jitterPsi

	j.avgNoise = alpha*j.avgNoise + (1-alpha)*residual
	j.varNoise = alpha*j.varNoise + (1-alpha)*(residual-j.avgNoise)*(residual-j.avgNoise)
	if j.varNoise < 1 {
		j.varNoise = 1
	}
}

// GetJitterEstimate returns the current jitter delay estimate in ms. For
// protectionMode == ProtectionModeNack, a fraction of the last known RTT
// (capped) is added to the estimate to account for the extra round
// trip a NACK-only stream needs before a lost packet can still be used.
func (j *JitterEstimator) GetJitterEstimate(protectionMode ProtectionMode) int64 {
	deltaFS := j.maxFrameSize - j.avgFrameSize
	if deltaFS < 0 {
		deltaFS = 0
	}

	jitterMs := j.theta[0]*deltaFS + jitterNoiseStdDevs*math.Sqrt(j.varNoise) - jitterNoiseStdDevOffset
	if jitterMs < 0 {
		jitterMs = 0
	}

	if protectionMode == ProtectionModeNack && j.rttMs > 0 {
		addMs := j.rttMs * jitterRttMultiplier
		if addMs > jitterRttMultAddCapMs {
			addMs = jitterRttMultAddCapMs
		}
		jitterMs += addMs
	}

	j.estimate = jitterMs
	return int64(jitterMs + 0.5)
}
