// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package nack tracks per-sequence-number retransmission state for a single
// RTP stream and paces NACK requests, similar to libwebrtc's
// modules/video_coding/nack_module2.cc.
package nack

import (
	"time"

	"github.com/pion/rtcp"

	"github.com/pion/rtpvideo/pkg/rtpx"
)

const (
	// defaultMaxRetries bounds how many times a sequence number is
	// retransmitted before it is given up on.
	defaultMaxRetries = 10

	// defaultSendNackDelay is how long a freshly missing sequence number
	// waits before its first NACK is sent, giving reordering a chance to
	// resolve it without a round trip.
	defaultSendNackDelay = 0 * time.Millisecond

	// keyframeHistorySize bounds the ancillary keyframe sequence-number
	// list. The recovered sequence-number set is not bounded.
	keyframeHistorySize = 50
)

// Info is one tracked sequence number's retransmission state.
type Info struct {
	SeqNum        uint16
	CreatedTime   time.Time
	SentTime      time.Time
	HasSentTime   bool
	Retries       int
}

// Controller implements the NACK module of 4.4: it tracks missing
// sequence numbers in arrival order and decides, on each RTT tick, which
// ones are due for a (re)send.
type Controller struct {
	nackList map[uint16]*Info
	order    []uint16

	newestSeqNum    uint16
	haveNewest      bool

	keyframeSeqNums   []uint16
	recoveredSeqNums  map[uint16]struct{}

	rtt time.Duration

	maxRetries    int
	sendNackDelay time.Duration
	maxNackCount  int

	keyframeRequested bool
}

// NewController creates a Controller with a NACK list capacity of
// maxNackCount entries beyond the tracked keyframe history.
func NewController(maxNackCount int) *Controller {
	return &Controller{
		nackList:         make(map[uint16]*Info),
		recoveredSeqNums: make(map[uint16]struct{}),
		maxRetries:       defaultMaxRetries,
		sendNackDelay:    defaultSendNackDelay,
		maxNackCount:     maxNackCount,
	}
}

// InsertPacket implements insert_packet(seq_num, is_keyframe, is_recovered).
// It returns true if the packet's own arrival caused any NACK entries to be
// erased (a late arrival of a previously-missing packet).
func (c *Controller) InsertPacket(seqNum uint16, isKeyframe, isRecovered bool) bool {
	erased := false

	if !c.haveNewest {
		c.haveNewest = true
		c.newestSeqNum = seqNum
	} else if !rtpx.AheadOf16(seqNum, c.newestSeqNum) {
		// seq_num <= newest_seq_num: late arrival.
		if c.remove(seqNum) {
			erased = true
		}
	} else {
		for s := c.newestSeqNum + 1; s != seqNum; s++ {
			c.insertMissing(s)
			if s == seqNum-1 {
				break
			}
		}
		c.newestSeqNum = seqNum
		c.enforceOverflow()
	}

	if isKeyframe {
		c.keyframeSeqNums = append(c.keyframeSeqNums, seqNum)
		if len(c.keyframeSeqNums) > keyframeHistorySize {
			c.keyframeSeqNums = c.keyframeSeqNums[1:]
		}
	}
	if isRecovered {
		c.recoveredSeqNums[seqNum] = struct{}{}
	}

	return erased
}

func (c *Controller) insertMissing(seqNum uint16) {
	if _, ok := c.nackList[seqNum]; ok {
		return
	}
	info := &Info{SeqNum: seqNum, CreatedTime: time.Now()}
	c.nackList[seqNum] = info
	c.order = append(c.order, seqNum)
}

func (c *Controller) remove(seqNum uint16) bool {
	if _, ok := c.nackList[seqNum]; !ok {
		return false
	}
	delete(c.nackList, seqNum)
	for i, s := range c.order {
		if s == seqNum {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return true
}

// enforceOverflow drops entries older than the oldest tracked keyframe when
// the list exceeds the keyframe-history size plus the configured cap; if
// still full, requests a keyframe and clears entirely.
func (c *Controller) enforceOverflow() {
	limit := len(c.keyframeSeqNums) + c.maxNackCount
	if len(c.order) <= limit {
		return
	}

	if len(c.keyframeSeqNums) > 0 {
		oldestKeyframe := c.keyframeSeqNums[0]
		kept := c.order[:0]
		for _, s := range c.order {
			if rtpx.AheadOf16(oldestKeyframe, s) {
				delete(c.nackList, s)
				continue
			}
			kept = append(kept, s)
		}
		c.order = kept
	}

	if len(c.order) > limit {
		c.keyframeRequested = true
		c.nackList = make(map[uint16]*Info)
		c.order = nil
	}
}

// KeyframeRequested reports and clears the pending keyframe-request flag
// raised by InsertPacket's overflow handling.
func (c *Controller) KeyframeRequested() bool {
	v := c.keyframeRequested
	c.keyframeRequested = false
	return v
}

// UpdateRTT implements update_rtt(rtt_ms).
func (c *Controller) UpdateRTT(rtt time.Duration) {
	c.rtt = rtt
}

// NackListOnRttPassed implements nack_list_on_rtt_passed(), called
// periodically (e.g. every 20ms). It returns the sequence numbers due for
// a (re)send, incrementing their retry count; entries that exceed
// maxRetries are dropped.
func (c *Controller) NackListOnRttPassed(now time.Time) []uint16 {
	var due []uint16
	var dropped []uint16

	for _, seqNum := range c.order {
		info := c.nackList[seqNum]

		ready := false
		if !info.HasSentTime {
			ready = now.Sub(info.CreatedTime) >= c.sendNackDelay
		} else {
			ready = now.Sub(info.SentTime) >= c.rtt
		}
		if !ready {
			continue
		}

		info.Retries++
		if info.Retries > c.maxRetries {
			dropped = append(dropped, seqNum)
			continue
		}

		info.SentTime = now
		info.HasSentTime = true
		due = append(due, seqNum)
	}

	for _, seqNum := range dropped {
		c.remove(seqNum)
	}

	return due
}

// BuildNack encodes seqNums (the result of NackListOnRttPassed, assumed
// sorted oldest-first) into a single rtcp.TransportLayerNack, grouping
// consecutive sequence numbers into PacketID/bitmap pairs.
func BuildNack(senderSSRC, mediaSSRC uint32, seqNums []uint16) *rtcp.TransportLayerNack {
	if len(seqNums) == 0 {
		return nil
	}

	var nacks []rtcp.NackPair
	for len(seqNums) > 0 {
		first := seqNums[0]
		rest := seqNums[1:]

		var bitmap uint16
		for len(rest) > 0 {
			delta := rest[0] - first
			if delta == 0 || delta > 16 {
				break
			}
			bitmap |= 1 << (delta - 1)
			rest = rest[1:]
		}

		nacks = append(nacks, rtcp.NackPair{PacketID: first, LostPackets: rtcp.PacketBitmap(bitmap)})
		seqNums = rest
	}

	return &rtcp.TransportLayerNack{
		SenderSSRC: senderSSRC,
		MediaSSRC:  mediaSSRC,
		Nacks:      nacks,
	}
}
