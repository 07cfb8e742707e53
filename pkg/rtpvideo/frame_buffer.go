// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package rtpvideo

import (
	"time"

	"github.com/pion/rtpvideo/pkg/rtpx"
	"github.com/pion/rtpvideo/pkg/timing"
)

// maxFrameBufferSize is the frame-count backpressure threshold (4.7, shared
// resource policy in §3): above this, a KEY frame clears the buffer and a
// DELTA frame is dropped.
const maxFrameBufferSize = 800

// decodedHistorySize bounds the DecodedFramesHistory ring.
const decodedHistorySize = 8192

// maxRenderHorizonMs bounds how far into the future a dispatch candidate's
// render time (or Timing's target delay) may sit before it is treated as
// stale/bogus state and the jitter estimator and Timing are reset (4.7
// dispatch-time rule).
const maxRenderHorizonMs = 10000

// Timing is the subset of pkg/timing.Timing that FrameBuffer needs to
// compute render time, dispatch deadlines, and feed back jitter/extrapolator
// samples. *timing.Timing satisfies this structurally.
type Timing interface {
	RenderTimeMs(rtpTimestamp uint32, now time.Time) int64
	MaxWaitBeforeDecode(renderTimeMs int64, now time.Time) int64
	IncomingTimestamp(timestamp uint32, receiveTimeMs int64)
	SetJitterDelayMs(ms int64)
	UpdateCurrentDelayFromTimestamp(timestamp uint32)
	TargetDelayMs() int64
	Reset()
}

// FrameInfo is a FrameBuffer entry: it owns (or awaits) one FrameToDecode
// plus its continuity/decodability bookkeeping.
type FrameInfo struct {
	frame *FrameToDecode

	numMissingContinuous int
	numMissingDecodable  int

	dependentFrames []int64
}

type decodedHistoryEntry struct {
	frameID   int64
	timestamp uint32
}

// FrameBuffer orders resolved frames into a decode-continuous,
// reference-decodable DAG and dispatches the next frame whose dependencies
// are satisfied, the way libwebrtc's FrameBuffer
// (modules/video_coding/frame_buffer2.cc) does.
type FrameBuffer struct {
	frames map[int64]*FrameInfo

	lastContinuousFrameID int64
	haveLastContinuous    bool

	lastDecodedFrameID        int64
	lastDecodedTimestamp      uint32
	haveLastDecoded           bool

	history      []decodedHistoryEntry
	historyNext  int
	historyCount int

	timing Timing

	interFrameDelay *timing.InterFrameDelay
	jitterEstimator *timing.JitterEstimator
	protectionMode  timing.ProtectionMode
}

// NewFrameBuffer creates an empty FrameBuffer driven by t.
func NewFrameBuffer(t Timing) *FrameBuffer {
	return &FrameBuffer{
		frames:          make(map[int64]*FrameInfo),
		history:         make([]decodedHistoryEntry, decodedHistorySize),
		timing:          t,
		interFrameDelay: timing.NewInterFrameDelay(),
		jitterEstimator: timing.NewJitterEstimator(),
		protectionMode:  timing.ProtectionModeNackFEC,
	}
}

// SetProtectionMode selects how much of the RTT is folded into the jitter
// estimate (timing.ProtectionModeNack widens it; timing.ProtectionModeNackFEC
// does not), matching whichever loss-recovery mechanisms are enabled for
// this stream.
func (b *FrameBuffer) SetProtectionMode(mode timing.ProtectionMode) {
	b.protectionMode = mode
}

// UpdateRTT feeds the latest RTT estimate to the jitter estimator.
func (b *FrameBuffer) UpdateRTT(rttMs float64) {
	b.jitterEstimator.UpdateRTT(rttMs)
}

// InsertFrame implements 4.7 insert_frame. It returns the (possibly
// unchanged) last continuous frame id and whether the frame was accepted.
func (b *FrameBuffer) InsertFrame(frame *FrameToDecode) (lastContinuousFrameID int64, inserted bool) {
	for _, ref := range frame.References {
		if ref >= frame.ID {
			return b.currentLastContinuous(), false
		}
	}

	if len(b.frames) > maxFrameBufferSize {
		if frame.FrameType != FrameTypeKey {
			return b.currentLastContinuous(), false
		}
		b.clear()
	}

	if b.haveLastDecoded && frame.ID <= b.lastDecodedFrameID {
		isCodecReset := frame.FrameType == FrameTypeKey && rtpx.AheadOf32(frame.Timestamp, b.lastDecodedTimestamp)
		if !isCodecReset {
			return b.currentLastContinuous(), false
		}
		b.clear()
	}

	info, exists := b.frames[frame.ID]
	if !exists {
		info = &FrameInfo{}
		b.frames[frame.ID] = info
	}
	info.frame = frame

	missing := 0
	for _, refID := range frame.References {
		refInfo, ok := b.frames[refID]
		if !ok {
			refInfo = &FrameInfo{}
			b.frames[refID] = refInfo
		}
		if b.isDecoded(refID) {
			continue
		}
		refInfo.dependentFrames = append(refInfo.dependentFrames, frame.ID)
		missing++
	}
	info.numMissingContinuous = missing
	info.numMissingDecodable = missing

	if !frame.NackDelayed {
		b.timing.IncomingTimestamp(frame.Timestamp, frame.MaxPacketArrivalTime.UnixMilli())
	}

	if info.numMissingContinuous == 0 {
		b.continuityBFS(frame.ID)
	}

	return b.currentLastContinuous(), true
}

func (b *FrameBuffer) currentLastContinuous() int64 {
	if !b.haveLastContinuous {
		return -1
	}
	return b.lastContinuousFrameID
}

func (b *FrameBuffer) clear() {
	b.frames = make(map[int64]*FrameInfo)
	b.haveLastContinuous = false
}

func (b *FrameBuffer) isDecoded(frameID int64) bool {
	for i := 0; i < b.historyCount; i++ {
		if b.history[i].frameID == frameID {
			return true
		}
	}
	return false
}

// continuityBFS advances last_continuous_frame_id from a frame that just
// became continuous, propagating through dependent_frames.
func (b *FrameBuffer) continuityBFS(startID int64) {
	queue := []int64{startID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		if !b.haveLastContinuous || id > b.lastContinuousFrameID {
			b.lastContinuousFrameID = id
			b.haveLastContinuous = true
		}

		info, ok := b.frames[id]
		if !ok {
			continue
		}
		for _, depID := range info.dependentFrames {
			depInfo, ok := b.frames[depID]
			if !ok {
				continue
			}
			depInfo.numMissingContinuous--
			if depInfo.numMissingContinuous == 0 {
				queue = append(queue, depID)
			}
		}
	}
}

// NextFrame implements the decodability dispatch of 4.7: it scans
// continuous frames in id order, skipping undecodable ones, delta frames
// when a keyframe is required, and frames older than the last decode, and
// returns the best candidate along with how long to wait before decoding
// it. ok is false when no frame is currently dispatchable.
func (b *FrameBuffer) NextFrame(now time.Time, keyframeRequired bool) (frame *FrameToDecode, waitMs int64, ok bool) {
	if !b.haveLastContinuous {
		return nil, 0, false
	}

	ids := make([]int64, 0, len(b.frames))
	for id, info := range b.frames {
		if info.frame == nil || id > b.lastContinuousFrameID {
			continue
		}
		ids = append(ids, id)
	}
	sortInt64s(ids)

	for _, id := range ids {
		info := b.frames[id]
		if info.numMissingDecodable > 0 {
			continue
		}
		if keyframeRequired && info.frame.FrameType != FrameTypeKey {
			continue
		}
		if b.haveLastDecoded && !rtpx.AheadOf32(info.frame.Timestamp, b.lastDecodedTimestamp) {
			continue
		}

		renderTime := b.timing.RenderTimeMs(info.frame.Timestamp, now)
		nowMs := now.UnixMilli()
		if renderTime != 0 && (renderTime < nowMs || renderTime > nowMs+maxRenderHorizonMs || b.timing.TargetDelayMs() > maxRenderHorizonMs) {
			b.jitterEstimator.Reset()
			b.timing.Reset()
			renderTime = b.timing.RenderTimeMs(info.frame.Timestamp, now)
		}
		wait := b.timing.MaxWaitBeforeDecode(renderTime, now)
		if wait < -5 {
			continue
		}

		info.frame.RenderTimeMs = renderTime
		return info.frame, wait, true
	}

	return nil, 0, false
}

// Dispatch records frame as decoded: it feeds the jitter estimator and
// Timing's current-delay filter (for non-NACK-delayed frames), updates the
// decoded-history ring, erases every frame at or before its id, and runs
// the decodability BFS on its dependents.
func (b *FrameBuffer) Dispatch(frame *FrameToDecode) {
	if !frame.NackDelayed {
		if delay, ok := b.interFrameDelay.Calculate(frame.Timestamp, frame.MaxPacketArrivalTime.UnixMilli()); ok {
			b.jitterEstimator.Update(float64(delay), len(frame.Payload))
		}
		b.timing.SetJitterDelayMs(b.jitterEstimator.GetJitterEstimate(b.protectionMode))
		b.timing.UpdateCurrentDelayFromTimestamp(frame.Timestamp)
	}

	b.history[b.historyNext] = decodedHistoryEntry{frameID: frame.ID, timestamp: frame.Timestamp}
	b.historyNext = (b.historyNext + 1) % decodedHistorySize
	if b.historyCount < decodedHistorySize {
		b.historyCount++
	}

	b.lastDecodedFrameID = frame.ID
	b.lastDecodedTimestamp = frame.Timestamp
	b.haveLastDecoded = true

	info, ok := b.frames[frame.ID]
	if ok {
		b.decodabilityBFS(info.dependentFrames)
	}

	for id := range b.frames {
		if id <= frame.ID {
			delete(b.frames, id)
		}
	}
}

// decodabilityBFS propagates a just-decoded frame's effect transitively:
// each dependent whose counter reaches zero becomes decodable itself and
// its own dependents are enqueued in turn, mirroring continuityBFS.
func (b *FrameBuffer) decodabilityBFS(start []int64) {
	queue := append([]int64(nil), start...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		info, ok := b.frames[id]
		if !ok {
			continue
		}
		info.numMissingDecodable--
		if info.numMissingDecodable == 0 {
			queue = append(queue, info.dependentFrames...)
		}
	}
}

func sortInt64s(ids []int64) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
}
