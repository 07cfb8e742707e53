// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package timing

import (
	"sync"
	"time"

	"github.com/pion/rtpvideo/pkg/rtpx"
)

const (
	defaultRenderDelayMs        = 10
	defaultMaxPlayoutDelayMs    = 10000
	delayMaxChangeMsPerSec      = 100
	lowLatencyMaxPlayoutDelayMs = 500
)

// Info is a snapshot of the delay budget, mirroring Timing::TimingInfo.
type Info struct {
	MaxDecodeMs        int64
	CurrPlayoutDelayMs int64
	TargetDelayMs      int64
	JitterDelayMs      int64
	MinPlayoutDelayMs  int64
	RenderDelayMs      int64
}

// Timing estimates, for a single stream, when an RTP-timestamped frame
// should be rendered and how long the receive pipeline can still wait
// before handing it to the decoder. It satisfies rtpvideo.Timing.
//
// Reference: naivertc's rtp::video::Timing.
type Timing struct {
	mu sync.Mutex

	extrapolator *TimestampExtrapolator
	decodeFilter *DecodeTimeFilter

	lowLatencyRendererEnabled bool
	zeroPlayoutDelayMinPacing time.Duration

	renderDelayMs       int64
	minPlayoutDelayMs   int64
	maxPlayoutDelayMs   int64
	jitterDelayMs       int64
	currDelayMs         int64
	prevTimestamp       uint32
	havePrevTimestamp   bool
	numDecodedFrames    int

	earliestNextDecodeStartMs int64

	now func() time.Time
}

// New creates a Timing using the real wall clock.
func New() *Timing {
	return newWithClock(time.Now)
}

func newWithClock(now func() time.Time) *Timing {
	t := &Timing{
		lowLatencyRendererEnabled: true,
		renderDelayMs:             defaultRenderDelayMs,
		maxPlayoutDelayMs:         defaultMaxPlayoutDelayMs,
		now:                       now,
	}
	t.decodeFilter = NewDecodeTimeFilter()
	t.extrapolator = NewTimestampExtrapolator(now().UnixMilli())
	return t
}

// SetMinPlayoutDelayMs sets the floor of the best-effort playout delay
// range.
func (t *Timing) SetMinPlayoutDelayMs(ms int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.minPlayoutDelayMs = ms
}

// SetMaxPlayoutDelayMs sets the ceiling of the best-effort playout delay
// range.
func (t *Timing) SetMaxPlayoutDelayMs(ms int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.maxPlayoutDelayMs = ms
}

// SetRenderDelayMs sets the time needed to render a decoded image.
func (t *Timing) SetRenderDelayMs(ms int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.renderDelayMs = ms
}

// SetJitterDelayMs sets the minimum delay needed to absorb observed network
// jitter.
func (t *Timing) SetJitterDelayMs(ms int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.jitterDelayMs == ms {
		return
	}
	t.jitterDelayMs = ms
	if t.currDelayMs == 0 {
		t.currDelayMs = ms
	}
}

// IncomingTimestamp feeds an RTP-timestamp/receive-time pair into the
// extrapolator.
func (t *Timing) IncomingTimestamp(timestamp uint32, receiveTimeMs int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.extrapolator.Update(timestamp, receiveTimeMs)
}

// AddDecodeTime records how long decoding the most recent frame took.
func (t *Timing) AddDecodeTime(decodeTimeMs, nowMs int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.decodeFilter.AddTiming(decodeTimeMs, nowMs)
	t.numDecodedFrames++
}

// UpdateCurrentDelayFromTimestamp nudges the current delay toward the
// target delay in proportion to elapsed media time, capped at 100ms/s of
// change to avoid audible/visible freezes or fast-forwarding.
func (t *Timing) UpdateCurrentDelayFromTimestamp(timestamp uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()

	target := t.targetDelayMsLocked()

	switch {
	case t.currDelayMs == 0:
		t.currDelayMs = target
	case target != t.currDelayMs:
		diff := target - t.currDelayMs

		var elapsedTicks int64
		if t.havePrevTimestamp {
			elapsedTicks = int64(rtpx.ForwardDiff32(timestamp, t.prevTimestamp))
		}
		maxChange := delayMaxChangeMsPerSec * elapsedTicks / 90000
		if maxChange <= 0 {
			t.prevTimestamp = timestamp
			t.havePrevTimestamp = true
			return
		}

		if diff < -maxChange {
			diff = -maxChange
		}
		if diff > maxChange {
			diff = maxChange
		}
		t.currDelayMs += diff
	}

	t.prevTimestamp = timestamp
	t.havePrevTimestamp = true
}

// UpdateCurrentDelayFromDecode nudges the current delay based on how late a
// specific frame's decode started relative to its render deadline.
func (t *Timing) UpdateCurrentDelayFromDecode(expectRenderTimeMs, actualDecodeTimeMs int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	target := t.targetDelayMsLocked()
	decodeTimeMs := t.decodeFilter.RequiredDecodeTimeMs()
	expectStartMs := expectRenderTimeMs - decodeTimeMs - t.renderDelayMs

	delayedMs := actualDecodeTimeMs - expectStartMs
	if delayedMs < 0 {
		return
	}

	if t.currDelayMs+delayedMs <= target {
		t.currDelayMs += delayedMs
	} else {
		t.currDelayMs = target
	}
}

// TargetDelayMs returns required-decode-time + jitter + render delay,
// floored at the configured minimum.
func (t *Timing) TargetDelayMs() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.targetDelayMsLocked()
}

func (t *Timing) targetDelayMsLocked() int64 {
	v := t.jitterDelayMs + t.decodeFilter.RequiredDecodeTimeMs() + t.renderDelayMs
	if t.minPlayoutDelayMs > v {
		return t.minPlayoutDelayMs
	}
	return v
}

// GetInfo returns a snapshot of the delay budget and whether any frame has
// been decoded yet.
func (t *Timing) GetInfo() (Info, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Info{
		MaxDecodeMs:        t.decodeFilter.RequiredDecodeTimeMs(),
		CurrPlayoutDelayMs: t.currDelayMs,
		TargetDelayMs:      t.targetDelayMsLocked(),
		JitterDelayMs:      t.jitterDelayMs,
		MinPlayoutDelayMs:  t.minPlayoutDelayMs,
		RenderDelayMs:      t.renderDelayMs,
	}, t.numDecodedFrames > 0
}

// Reset reinitializes filters and delay state after a codec switch or long
// idle period.
func (t *Timing) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.extrapolator.Reset(t.now().UnixMilli())
	t.decodeFilter.Reset()
	t.renderDelayMs = defaultRenderDelayMs
	t.minPlayoutDelayMs = 0
	t.jitterDelayMs = 0
	t.currDelayMs = 0
	t.havePrevTimestamp = false
}

// RenderTimeMs implements rtpvideo.Timing: it returns the receiver
// system time at which a frame with the given RTP timestamp should be
// rendered.
func (t *Timing) RenderTimeMs(timestamp uint32, now time.Time) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.minPlayoutDelayMs == 0 &&
		(t.maxPlayoutDelayMs == 0 ||
			(t.lowLatencyRendererEnabled && t.maxPlayoutDelayMs <= lowLatencyMaxPlayoutDelayMs)) {
		return 0
	}

	nowMs := now.UnixMilli()
	estimated := t.extrapolator.ExtrapolateLocalTime(timestamp)
	if estimated == -1 {
		estimated = nowMs
	}

	actualDelay := t.currDelayMs
	if actualDelay < t.minPlayoutDelayMs {
		actualDelay = t.minPlayoutDelayMs
	}
	if actualDelay > t.maxPlayoutDelayMs {
		actualDelay = t.maxPlayoutDelayMs
	}

	return estimated + actualDelay
}

// MaxWaitBeforeDecode implements rtpvideo.Timing: it returns how long, in
// ms, the pipeline may still wait before handing a frame with the given
// render time to the decoder. When renderTimeMs is zero and
// zeroPlayoutDelayMinPacing is positive, decode starts are paced at least
// that far apart; otherwise the wait is renderTimeMs minus now, the
// required decode time and the render delay.
func (t *Timing) MaxWaitBeforeDecode(renderTimeMs int64, now time.Time) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	nowMs := now.UnixMilli()

	if renderTimeMs == 0 && t.zeroPlayoutDelayMinPacing > 0 {
		var wait int64
		if nowMs < t.earliestNextDecodeStartMs {
			wait = t.earliestNextDecodeStartMs - nowMs
		}
		t.earliestNextDecodeStartMs = nowMs + wait + t.zeroPlayoutDelayMinPacing.Milliseconds()
		return wait
	}

	return renderTimeMs - nowMs - t.decodeFilter.RequiredDecodeTimeMs() - t.renderDelayMs
}
