// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package rtpvideo

import (
	"github.com/pion/logging"

	"github.com/pion/rtpvideo/pkg/timing"
)

// ReceiverInterceptorOption can be used to configure ReceiverInterceptor.
type ReceiverInterceptorOption func(r *ReceiverInterceptor) error

// WithSpsPpsIdrIsKeyframe sets the H.264 keyframe classification policy
// (4.2): when enabled (the default), a frame is KEY only if its packets
// carried SPS, PPS and IDR NALUs; when disabled, IDR alone is sufficient.
func WithSpsPpsIdrIsKeyframe(enabled bool) ReceiverInterceptorOption {
	return func(r *ReceiverInterceptor) error {
		r.spsPpsIdrIsKeyframe = enabled
		return nil
	}
}

// WithKeyFrameRequester registers a callback invoked whenever the receive
// pipeline determines a keyframe must be requested from the sender (packet
// buffer capacity collision, a missing SPS/PPS referenced by an IDR, or a
// NACK list overflow).
func WithKeyFrameRequester(f func(ssrc uint32)) ReceiverInterceptorOption {
	return func(r *ReceiverInterceptor) error {
		r.onKeyframeRequired = f
		return nil
	}
}

// WithLog sets a logger for the interceptor.
func WithLog(log logging.LeveledLogger) ReceiverInterceptorOption {
	return func(r *ReceiverInterceptor) error {
		r.log = log
		return nil
	}
}

// WithLoggerFactory sets a logger factory for the interceptor.
func WithLoggerFactory(loggerFactory logging.LoggerFactory) ReceiverInterceptorOption {
	return func(r *ReceiverInterceptor) error {
		r.loggerFactory = loggerFactory
		return nil
	}
}

// WithNACK enables or disables NACK-based retransmission requests (4.4) and
// sets the maximum number of sequence numbers tracked per stream awaiting
// retransmission. NACK is enabled with a list size of 1000 by default.
func WithNACK(enabled bool, maxNackListSize int) ReceiverInterceptorOption {
	return func(r *ReceiverInterceptor) error {
		r.nackEnabled = enabled
		if maxNackListSize > 0 {
			r.maxNackListSize = maxNackListSize
		}
		return nil
	}
}

// WithFEC enables ULP-FEC recovery (4.5) for packets carried RED-encapsulated
// (RFC 2198) on redPayloadType, with FEC payloads identified by
// ulpfecPayloadType within the RED block.
func WithFEC(redPayloadType, ulpfecPayloadType uint8) ReceiverInterceptorOption {
	return func(r *ReceiverInterceptor) error {
		r.fecEnabled = true
		r.redPayloadType = redPayloadType
		r.ulpfecPayloadType = ulpfecPayloadType
		return nil
	}
}

// WithProtectionMode sets whether the stream is protected by NACK alone or by
// NACK+FEC (4.8), which changes how much of the measured RTT the jitter
// estimator folds into its delay estimate.
func WithProtectionMode(mode timing.ProtectionMode) ReceiverInterceptorOption {
	return func(r *ReceiverInterceptor) error {
		r.protectionMode = mode
		return nil
	}
}

// WithPlayoutDelay sets the minimum and maximum playout delay bounds (in
// milliseconds) the Timing estimator clamps its target delay to. A
// maxPlayoutDelayMs of 0 leaves the teacher/Timing default in place.
func WithPlayoutDelay(minPlayoutDelayMs, maxPlayoutDelayMs int64) ReceiverInterceptorOption {
	return func(r *ReceiverInterceptor) error {
		r.minPlayoutDelayMs = minPlayoutDelayMs
		r.maxPlayoutDelayMs = maxPlayoutDelayMs
		return nil
	}
}

// WithLocalSSRC sets the SSRC this interceptor identifies itself with as the
// sender of generated RTCP feedback (generic NACKs).
func WithLocalSSRC(ssrc uint32) ReceiverInterceptorOption {
	return func(r *ReceiverInterceptor) error {
		r.localSSRC = ssrc
		return nil
	}
}

// WithFrameReady registers a callback invoked whenever a frame becomes
// dispatchable after its render deadline was still in the future at
// insertion time (frames ready with zero wait are instead returned
// synchronously via interceptor.Attributes, see FramesKey).
func WithFrameReady(f func(ssrc uint32, frame *FrameToDecode)) ReceiverInterceptorOption {
	return func(r *ReceiverInterceptor) error {
		r.onFrameReady = f
		return nil
	}
}
