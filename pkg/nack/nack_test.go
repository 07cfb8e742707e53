// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package nack

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestController_InsertPacket_NoGap(t *testing.T) {
	c := NewController(1000)

	c.InsertPacket(100, false, false)
	c.InsertPacket(101, false, false)
	c.InsertPacket(102, false, false)

	due := c.NackListOnRttPassed(time.Now())
	assert.Empty(t, due, "consecutive arrivals should never enter the nack list")
}

func TestController_InsertPacket_DetectsGap(t *testing.T) {
	c := NewController(1000)

	c.InsertPacket(100, false, false)
	c.InsertPacket(103, false, false)

	due := c.NackListOnRttPassed(time.Now())
	assert.ElementsMatch(t, []uint16{101, 102}, due)
}

func TestController_LateArrivalErasesEntry(t *testing.T) {
	c := NewController(1000)

	c.InsertPacket(100, false, false)
	c.InsertPacket(103, false, false)

	erased := c.InsertPacket(101, false, false)
	assert.True(t, erased)

	due := c.NackListOnRttPassed(time.Now())
	assert.ElementsMatch(t, []uint16{102}, due)
}

func TestController_RttPacing(t *testing.T) {
	c := NewController(1000)
	c.UpdateRTT(50 * time.Millisecond)

	c.InsertPacket(100, false, false)
	c.InsertPacket(102, false, false)

	now := time.Now()
	due := c.NackListOnRttPassed(now)
	require.ElementsMatch(t, []uint16{101}, due)

	// Immediately re-checking before the RTT has elapsed should not resend.
	due = c.NackListOnRttPassed(now.Add(10 * time.Millisecond))
	assert.Empty(t, due)

	due = c.NackListOnRttPassed(now.Add(60 * time.Millisecond))
	assert.ElementsMatch(t, []uint16{101}, due)
}

func TestController_MaxRetriesDropsEntry(t *testing.T) {
	c := NewController(1000)
	c.maxRetries = 2

	c.InsertPacket(100, false, false)
	c.InsertPacket(102, false, false)

	now := time.Now()
	for i := 0; i < 2; i++ {
		due := c.NackListOnRttPassed(now)
		require.ElementsMatch(t, []uint16{101}, due)
		now = now.Add(time.Second)
	}

	// Third attempt exceeds max_retries and the entry is dropped.
	due := c.NackListOnRttPassed(now)
	assert.Empty(t, due)

	due = c.NackListOnRttPassed(now.Add(time.Second))
	assert.Empty(t, due, "dropped entries must not resurface")
}

func TestController_OverflowRequestsKeyframeWithoutTrackedKeyframe(t *testing.T) {
	c := NewController(2)

	c.InsertPacket(100, false, false)
	c.InsertPacket(110, false, false) // opens a large gap, well past capacity

	assert.True(t, c.KeyframeRequested())
	assert.False(t, c.KeyframeRequested(), "flag should clear after being read once")
}

func TestController_SequenceWrapAround(t *testing.T) {
	c := NewController(1000)

	c.InsertPacket(65534, false, false)
	c.InsertPacket(1, false, false)

	due := c.NackListOnRttPassed(time.Now())
	assert.ElementsMatch(t, []uint16{65535, 0}, due)
}

func TestBuildNack_GroupsConsecutiveSeqNums(t *testing.T) {
	pkt := BuildNack(1, 2, []uint16{100, 101, 102, 117, 200})
	require.NotNil(t, pkt)
	require.Len(t, pkt.Nacks, 3)

	assert.Equal(t, uint16(100), pkt.Nacks[0].PacketID)
	assert.Equal(t, uint16(117), pkt.Nacks[1].PacketID)
	assert.Equal(t, uint16(200), pkt.Nacks[2].PacketID)
}

func TestBuildNack_Empty(t *testing.T) {
	assert.Nil(t, BuildNack(1, 2, nil))
}
