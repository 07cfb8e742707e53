// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package timing

import "github.com/pion/rtpvideo/pkg/rtpx"

// InterFrameDelay computes the delay of a complete frame: the difference
// between how far apart two frames arrived and how far apart their RTP
// timestamps say they should have arrived, the way naivertc's
// rtp::video::InterFrameDelay does.
type InterFrameDelay struct {
	havePrev       bool
	prevRecvTimeMs int64
	prevTimestamp  uint32
}

// NewInterFrameDelay creates a reset InterFrameDelay.
func NewInterFrameDelay() *InterFrameDelay {
	return &InterFrameDelay{}
}

// Reset clears the previous-sample state, as after a codec switch.
func (d *InterFrameDelay) Reset() {
	d.havePrev = false
	d.prevRecvTimeMs = 0
	d.prevTimestamp = 0
}

// Calculate returns the inter-frame delay in ms for a frame with the given
// RTP timestamp received at recvTimeMs. ok is false when the frame arrived
// out of RTP-timestamp order (a reordered/incomplete frame, or real packet
// loss surfacing as a later completion): the caller should not feed the
// result into a jitter estimate in that case.
func (d *InterFrameDelay) Calculate(timestamp uint32, recvTimeMs int64) (delayMs int64, ok bool) {
	if !d.havePrev {
		d.havePrev = true
		d.prevRecvTimeMs = recvTimeMs
		d.prevTimestamp = timestamp
		return 0, true
	}

	if timestamp != d.prevTimestamp && !rtpx.AheadOf32(timestamp, d.prevTimestamp) {
		return 0, false
	}

	diffTimestampMs := int64(float64(rtpx.ForwardDiff32(timestamp, d.prevTimestamp))/90.0 + 0.5)
	delay := recvTimeMs - d.prevRecvTimeMs - diffTimestampMs

	d.prevTimestamp = timestamp
	d.prevRecvTimeMs = recvTimeMs

	return delay, true
}
