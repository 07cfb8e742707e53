// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package rtpvideo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTiming renders immediately and never asks for a wait, so tests can
// focus on FrameBuffer's continuity/decodability bookkeeping.
type fakeTiming struct{}

func (fakeTiming) RenderTimeMs(uint32, time.Time) int64       { return 0 }
func (fakeTiming) MaxWaitBeforeDecode(int64, time.Time) int64 { return 0 }
func (fakeTiming) IncomingTimestamp(uint32, int64)            {}
func (fakeTiming) SetJitterDelayMs(int64)                     {}
func (fakeTiming) UpdateCurrentDelayFromTimestamp(uint32)     {}
func (fakeTiming) TargetDelayMs() int64                       { return 0 }
func (fakeTiming) Reset()                                     {}

func ftd(id int64, refs []int64, frameType FrameType) *FrameToDecode {
	return &FrameToDecode{
		ID:                   id,
		References:           refs,
		FrameType:            frameType,
		Timestamp:            uint32(id),
		MaxPacketArrivalTime: time.Unix(0, 0).Add(time.Duration(id) * 33 * time.Millisecond),
	}
}

func TestFrameBuffer_KeyframeIsImmediatelyContinuous(t *testing.T) {
	fb := NewFrameBuffer(fakeTiming{})

	lastContinuous, inserted := fb.InsertFrame(ftd(0, nil, FrameTypeKey))
	require.True(t, inserted)
	assert.Equal(t, int64(0), lastContinuous)
}

func TestFrameBuffer_DeltaWaitsForReference(t *testing.T) {
	fb := NewFrameBuffer(fakeTiming{})

	// Delta frame 1 references frame 0, which hasn't arrived yet.
	lastContinuous, inserted := fb.InsertFrame(ftd(1, []int64{0}, FrameTypeDelta))
	require.True(t, inserted)
	assert.Equal(t, int64(-1), lastContinuous, "frame 1 cannot be continuous before frame 0 arrives")

	lastContinuous, inserted = fb.InsertFrame(ftd(0, nil, FrameTypeKey))
	require.True(t, inserted)
	assert.Equal(t, int64(1), lastContinuous, "inserting frame 0 should propagate continuity through frame 1")
}

func TestFrameBuffer_RejectsForwardReference(t *testing.T) {
	fb := NewFrameBuffer(fakeTiming{})

	_, inserted := fb.InsertFrame(ftd(0, []int64{5}, FrameTypeDelta))
	assert.False(t, inserted, "a reference >= the frame's own id must be rejected")
}

func TestFrameBuffer_DispatchAdvancesDecodability(t *testing.T) {
	fb := NewFrameBuffer(fakeTiming{})

	fb.InsertFrame(ftd(0, nil, FrameTypeKey))
	fb.InsertFrame(ftd(1, []int64{0}, FrameTypeDelta))

	frame, _, ok := fb.NextFrame(time.Unix(0, 0), false)
	require.True(t, ok)
	assert.Equal(t, int64(0), frame.ID)

	fb.Dispatch(frame)

	frame, _, ok = fb.NextFrame(time.Unix(0, 0), false)
	require.True(t, ok)
	assert.Equal(t, int64(1), frame.ID)
}

func TestFrameBuffer_KeyframeRequiredSkipsDeltas(t *testing.T) {
	fb := NewFrameBuffer(fakeTiming{})

	fb.InsertFrame(ftd(0, nil, FrameTypeKey))
	fb.InsertFrame(ftd(1, []int64{0}, FrameTypeDelta))
	fb.Dispatch(mustDispatchable(t, fb))

	_, _, ok := fb.NextFrame(time.Unix(0, 0), true)
	assert.False(t, ok, "no keyframe is dispatchable, so a keyframe-required scan must find nothing")
}

func mustDispatchable(t *testing.T, fb *FrameBuffer) *FrameToDecode {
	t.Helper()
	frame, _, ok := fb.NextFrame(time.Unix(0, 0), false)
	require.True(t, ok)
	return frame
}
