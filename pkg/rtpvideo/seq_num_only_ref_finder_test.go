// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package rtpvideo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func af(seqStart, seqEnd int64, frameType FrameType) *AssembledFrame {
	return &AssembledFrame{SeqNumStart: seqStart, SeqNumEnd: seqEnd, FrameType: frameType, Timestamp: uint32(seqStart)}
}

func TestSeqNumRefFinder_Keyframe(t *testing.T) {
	finder := NewSeqNumRefFinder()

	result := finder.ManageFrame(af(1000, 1000, FrameTypeKey))

	require.Len(t, result, 1)
	assert.Equal(t, int64(0), result[0].ID)
	assert.Empty(t, result[0].References)
}

func TestSeqNumRefFinder_DeltaAfterKeyframe(t *testing.T) {
	finder := NewSeqNumRefFinder()

	result := finder.ManageFrame(af(1000, 1000, FrameTypeKey))
	require.Len(t, result, 1)
	keyID := result[0].ID

	result = finder.ManageFrame(af(1001, 1001, FrameTypeDelta))
	require.Len(t, result, 1)
	assert.Equal(t, []int64{keyID}, result[0].References)
}

func TestSeqNumRefFinder_DeltaWithoutKeyframeStashes(t *testing.T) {
	finder := NewSeqNumRefFinder()

	result := finder.ManageFrame(af(1000, 1000, FrameTypeDelta))
	assert.Len(t, result, 0)
}

func TestSeqNumRefFinder_ChainOfDeltaFrames(t *testing.T) {
	finder := NewSeqNumRefFinder()

	result := finder.ManageFrame(af(1000, 1000, FrameTypeKey))
	require.Len(t, result, 1)
	keyID := result[0].ID

	result = finder.ManageFrame(af(1001, 1001, FrameTypeDelta))
	require.Len(t, result, 1)
	delta1ID := result[0].ID
	assert.Equal(t, []int64{keyID}, result[0].References)

	result = finder.ManageFrame(af(1002, 1002, FrameTypeDelta))
	require.Len(t, result, 1)
	// The sequence-number variant references the GOP's keyframe directly,
	// not a chain of immediately preceding deltas.
	assert.Equal(t, []int64{keyID}, result[0].References)
	assert.NotEqual(t, delta1ID, result[0].ID)
}

func TestSeqNumRefFinder_OutOfOrderFramesResolveOnGap(t *testing.T) {
	finder := NewSeqNumRefFinder()

	result := finder.ManageFrame(af(1000, 1000, FrameTypeKey))
	require.Len(t, result, 1)

	// Delta covering 1002 arrives before 1001: the gap (1000,1002) is not
	// yet accounted for, so it stashes.
	result = finder.ManageFrame(af(1002, 1002, FrameTypeDelta))
	assert.Len(t, result, 0)

	// Delta 1001 arrives and closes the gap; both resolve.
	result = finder.ManageFrame(af(1001, 1001, FrameTypeDelta))
	require.Len(t, result, 2)
}

func TestSeqNumRefFinder_NewKeyframeDoesNotConsumeOldStash(t *testing.T) {
	finder := NewSeqNumRefFinder()

	finder.ManageFrame(af(1000, 1000, FrameTypeKey))

	result := finder.ManageFrame(af(1005, 1005, FrameTypeDelta))
	assert.Len(t, result, 0)

	result = finder.ManageFrame(af(1010, 1010, FrameTypeKey))
	require.Len(t, result, 1, "new GOP's keyframe resolves on its own; the stash from the old GOP stays stashed")
}

func TestSeqNumRefFinder_NilFrame(t *testing.T) {
	finder := NewSeqNumRefFinder()
	result := finder.ManageFrame(nil)
	assert.Nil(t, result)
}

func TestSeqNumRefFinder_MultiPacketFrame(t *testing.T) {
	finder := NewSeqNumRefFinder()

	result := finder.ManageFrame(af(1000, 1002, FrameTypeKey))
	require.Len(t, result, 1)
	keyID := result[0].ID

	result = finder.ManageFrame(af(1003, 1005, FrameTypeDelta))
	require.Len(t, result, 1)
	assert.Equal(t, []int64{keyID}, result[0].References)
}

func TestSeqNumRefFinder_InsertPaddingBridgesGap(t *testing.T) {
	finder := NewSeqNumRefFinder()

	result := finder.ManageFrame(af(1000, 1000, FrameTypeKey))
	require.Len(t, result, 1)

	// 1001 was padding, not a frame: the gap should still resolve.
	finder.InsertPadding(1001)

	result = finder.ManageFrame(af(1002, 1002, FrameTypeDelta))
	require.Len(t, result, 1, "padding at 1001 should bridge the gap for a delta starting at 1002")
}

func TestSeqNumRefFinder_ClearTo(t *testing.T) {
	finder := NewSeqNumRefFinder()

	finder.ManageFrame(af(1000, 1000, FrameTypeKey))
	finder.ManageFrame(af(1005, 1005, FrameTypeDelta)) // stashed, gap at 1001-1004

	finder.ClearTo(1007)

	result := finder.ManageFrame(af(1008, 1008, FrameTypeDelta))
	assert.Len(t, result, 0, "GOP state was cleared, so the new delta has no GOP to resolve against")
}

func TestSeqNumRefFinder_SequenceWrapAround(t *testing.T) {
	finder := NewSeqNumRefFinder()

	result := finder.ManageFrame(af(65534, 65534, FrameTypeKey))
	require.Len(t, result, 1)
	keyID := result[0].ID

	result = finder.ManageFrame(af(65535, 65535, FrameTypeDelta))
	require.Len(t, result, 1)
	assert.Equal(t, []int64{keyID}, result[0].References)

	result = finder.ManageFrame(af(65536, 65536, FrameTypeDelta))
	require.Len(t, result, 1)
	assert.Equal(t, []int64{keyID}, result[0].References)

	result = finder.ManageFrame(af(65537, 65537, FrameTypeDelta))
	require.Len(t, result, 1)
	assert.Equal(t, []int64{keyID}, result[0].References)
}
