// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package rtpvideo

import "time"

// FrameReferenceFinder resolves frame dependencies for video frames,
// assigning monotonic frame_ids and populating each frame's reference set.
// This is similar to libwebrtc's RtpFrameReferenceFinder
// (modules/video_coding/rtp_frame_reference_finder.cc), narrowed to the
// sequence-number/GOP variant this module uses for H.264.
type FrameReferenceFinder interface {
	// ManageFrame processes an AssembledFrame and resolves its references,
	// returning every FrameToDecode that becomes resolvable as a result
	// (the input frame itself, and any previously stashed frames whose
	// dependency is now satisfied). Returns nil if the frame had to be
	// stashed.
	ManageFrame(frame *AssembledFrame) []*FrameToDecode

	// InsertPadding records a padding-only sequence number so that frames
	// depending on sequence ranges spanning it can still resolve.
	InsertPadding(seqNum int64)

	// ClearTo drops stashed frames and GOP state at or before seqNum.
	ClearTo(seqNum int64)
}

// maxStashedFrames bounds how many DELTA frames can be held awaiting their
// GOP's keyframe before the oldest is dropped.
const maxStashedFrames = 100

// FrameToDecode is an AssembledFrame after reference resolution.
type FrameToDecode struct {
	// ID is the monotonic frame_id assigned by the reference finder.
	ID int64

	// References holds the frame_ids this frame depends on; empty for
	// keyframes.
	References []int64

	// Timestamp, FrameType and Payload are carried over from the
	// AssembledFrame unchanged.
	Timestamp uint32
	FrameType FrameType
	Payload   []byte

	// MaxPacketArrivalTime is the latest wall-clock arrival time across the
	// frame's packets, carried over from AssembledFrame for jitter
	// estimation.
	MaxPacketArrivalTime time.Time

	// NackDelayed is true if any packet of this frame has a non-zero
	// TimesNacked, which only FEC-recovered packets have (retransmissions
	// are not tracked): such frames are excluded from jitter/extrapolator sampling (4.7 step 5 and
	// the dispatch-time jitter update).
	NackDelayed bool

	// RenderTimeMs is resolved lazily by the frame buffer via Timing.
	RenderTimeMs int64
}
