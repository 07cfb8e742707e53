// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package rtpvideo

import (
	"time"
)

const (
	// packetBufferStartSize is the initial ring capacity.
	packetBufferStartSize = 512
	// packetBufferMaxSize is the largest capacity the ring will expand to.
	packetBufferMaxSize = 2048
	// kMaxMissingPacketCount bounds the missing_packets set.
	kMaxMissingPacketCount = 1000
)

// BufferedPacket is an RTP packet stored in a VideoPacketBuffer, similar to
// libwebrtc's PacketBuffer::Packet.
type BufferedPacket struct {
	// SequenceNumber is the unwrapped sequence number.
	SequenceNumber int64

	// Timestamp is the RTP timestamp.
	Timestamp uint32

	// Payload is the raw RTP payload (packetization header included).
	Payload []byte

	// VideoHeader contains video-specific metadata parsed via
	// ParseH264VideoHeader.
	VideoHeader *RTPVideoHeader

	// ArrivalTime is the wall-clock time the packet was received.
	ArrivalTime time.Time

	// TimesNacked is 1 for a packet recovered through FEC and 0 for a
	// packet received from the stream; NACK retransmissions are not counted.
	TimesNacked int

	// Continuous is true once every earlier packet of this packet's frame
	// is known to be present. Set during InsertPacket/insert_padding.
	Continuous bool
}

// InsertResult is the result of inserting a packet (or padding) into a
// VideoPacketBuffer.
type InsertResult struct {
	// Frames holds every AssembledFrame completed by this insert, oldest
	// first.
	Frames []*AssembledFrame

	// KeyframeRequested is true when the buffer hit a condition (ring
	// collision at max capacity, or an IDR whose SPS/PPS is missing) that
	// requires the far end to send a new keyframe.
	KeyframeRequested bool
}

// VideoPacketBuffer buffers H.264 RTP packets and emits AssembledFrames as
// soon as every packet of a frame is present and contiguous with earlier
// continuity, the way libwebrtc's PacketBuffer
// (modules/video_coding/packet_buffer.cc) does for a single stream.
type VideoPacketBuffer struct {
	buffer []*BufferedPacket
	size   int

	firstSeqNum    int64
	firstSeqNumSet bool

	lastInserted    int64
	lastInsertedSet bool

	missing *missingPacketSet

	tracker             *SpsPpsTracker
	assembler           *VideoFrameAssembler
	spsPpsIdrIsKeyframe bool
}

// NewVideoPacketBuffer creates a VideoPacketBuffer starting at 512 slots,
// expanding up to 2048 on collision. spsPpsIdrIsKeyframe selects the
// keyframe classification policy of 4.2: when true, SPS+PPS+IDR must all be
// observed during the backward walk; when false, IDR alone suffices.
func NewVideoPacketBuffer(tracker *SpsPpsTracker, spsPpsIdrIsKeyframe bool) *VideoPacketBuffer {
	return &VideoPacketBuffer{
		buffer:              make([]*BufferedPacket, packetBufferStartSize),
		size:                packetBufferStartSize,
		missing:             newMissingPacketSet(kMaxMissingPacketCount),
		tracker:             tracker,
		assembler:           NewVideoFrameAssembler(tracker),
		spsPpsIdrIsKeyframe: spsPpsIdrIsKeyframe,
	}
}

func (b *VideoPacketBuffer) index(seqNum int64) int {
	idx := seqNum % int64(b.size)
	if idx < 0 {
		idx += int64(b.size)
	}
	return int(idx)
}

// InsertPacket inserts pkt and returns any frames it completes.
//
// Reference: libwebrtc PacketBuffer::InsertPacket (packet_buffer.cc).
func (b *VideoPacketBuffer) InsertPacket(pkt *BufferedPacket) InsertResult {
	if !b.firstSeqNumSet {
		b.firstSeqNum = pkt.SequenceNumber
		b.firstSeqNumSet = true
	} else if pkt.SequenceNumber < b.firstSeqNum {
		b.firstSeqNum = pkt.SequenceNumber
	}

	idx := b.index(pkt.SequenceNumber)
	if b.buffer[idx] != nil && b.buffer[idx].SequenceNumber != pkt.SequenceNumber {
		if !b.expand() {
			b.clear()
			return InsertResult{KeyframeRequested: true}
		}
		idx = b.index(pkt.SequenceNumber)
	}

	b.recordMissing(pkt.SequenceNumber)

	pkt.Continuous = false
	b.buffer[idx] = pkt

	return b.tryAssemble(pkt.SequenceNumber)
}

// InsertPadding records a padding-only RTP packet (no media payload) at
// seqNum, clearing it from missing_packets and retrying assembly from the
// next sequence number.
func (b *VideoPacketBuffer) InsertPadding(seqNum int64) InsertResult {
	b.recordMissing(seqNum)
	b.missing.remove(seqNum)
	return b.tryAssemble(seqNum + 1)
}

// ClearTo drops every stored packet older than or equal to seqNum.
func (b *VideoPacketBuffer) ClearTo(seqNum int64) {
	for i := 0; i < b.size; i++ {
		pkt := b.buffer[i]
		if pkt != nil && pkt.SequenceNumber <= seqNum {
			b.buffer[i] = nil
		}
	}
	b.missing.removeUpTo(seqNum)
}

func (b *VideoPacketBuffer) clear() {
	b.buffer = make([]*BufferedPacket, b.size)
	b.missing = newMissingPacketSet(kMaxMissingPacketCount)
	b.firstSeqNumSet = false
	b.lastInsertedSet = false
}

// expand doubles ring capacity up to packetBufferMaxSize. Returns false
// when already at max capacity.
func (b *VideoPacketBuffer) expand() bool {
	if b.size >= packetBufferMaxSize {
		return false
	}
	newSize := b.size * 2
	if newSize > packetBufferMaxSize {
		newSize = packetBufferMaxSize
	}

	newBuffer := make([]*BufferedPacket, newSize)
	for _, pkt := range b.buffer {
		if pkt == nil {
			continue
		}
		newBuffer[pkt.SequenceNumber%int64(newSize)] = pkt
	}
	b.buffer = newBuffer
	b.size = newSize
	return true
}

func (b *VideoPacketBuffer) recordMissing(seqNum int64) {
	if !b.lastInsertedSet {
		b.lastInsertedSet = true
		b.lastInserted = seqNum
		return
	}
	if seqNum > b.lastInserted {
		for s := b.lastInserted + 1; s <= seqNum; s++ {
			b.missing.insert(s)
		}
		b.lastInserted = seqNum
	}
	b.missing.remove(seqNum)
}

// continuous reports whether the packet at seqNum is continuous per 4.2:
// either marked first-in-frame and present, or S-1 is present, shares its
// timestamp, and is itself continuous.
func (b *VideoPacketBuffer) continuous(seqNum int64) bool {
	pkt := b.at(seqNum)
	if pkt == nil {
		return false
	}
	if pkt.Continuous {
		return true
	}

	if pkt.VideoHeader != nil && pkt.VideoHeader.IsFirstPacketInFrame {
		pkt.Continuous = true
		return true
	}

	prev := b.at(seqNum - 1)
	if prev == nil || prev.Timestamp != pkt.Timestamp {
		return false
	}
	if !b.continuous(seqNum - 1) {
		return false
	}

	pkt.Continuous = true
	return true
}

func (b *VideoPacketBuffer) at(seqNum int64) *BufferedPacket {
	idx := b.index(seqNum)
	pkt := b.buffer[idx]
	if pkt == nil || pkt.SequenceNumber != seqNum {
		return nil
	}
	return pkt
}

// tryAssemble attempts frame assembly starting at seqNum and scans forward
// across the ring for any further packets this insert made continuous,
// mirroring libwebrtc's PacketBuffer::FindFrames sweep.
func (b *VideoPacketBuffer) tryAssemble(seqNum int64) InsertResult {
	var result InsertResult

	for i := 0; i < b.size; i++ {
		s := seqNum + int64(i)
		pkt := b.at(s)
		if pkt == nil {
			continue
		}
		if !b.continuous(s) {
			continue
		}
		if pkt.VideoHeader == nil || !pkt.VideoHeader.IsLastPacketInFrame {
			continue
		}

		frame, keyframeRequested := b.assembleAt(s)
		if keyframeRequested {
			result.KeyframeRequested = true
		}
		if frame != nil {
			result.Frames = append(result.Frames, frame)
		}
	}

	return result
}

// assembleAt walks backward from seqNum (the last packet of a frame) while
// timestamps match, classifies the frame, and on success builds the
// AssembledFrame and evicts its packets.
func (b *VideoPacketBuffer) assembleAt(seqNum int64) (*AssembledFrame, bool) {
	last := b.at(seqNum)
	if last == nil {
		return nil, false
	}
	timestamp := last.Timestamp

	start := seqNum
	hasSPS, hasPPS, hasIDR := false, false, false

	for {
		pkt := b.at(start)
		if pkt == nil || pkt.Timestamp != timestamp {
			start++ // step back to the last in-range packet
			break
		}
		if pkt.VideoHeader != nil {
			hasSPS = hasSPS || pkt.VideoHeader.HasSPS
			hasPPS = hasPPS || pkt.VideoHeader.HasPPS
			hasIDR = hasIDR || pkt.VideoHeader.HasIDR
		}
		if seqNum-start >= int64(b.size) {
			break
		}
		if start == b.firstSeqNum {
			break
		}
		start--
	}

	frameType := FrameTypeDelta
	if hasIDR && (!b.spsPpsIdrIsKeyframe || (hasSPS && hasPPS)) {
		frameType = FrameTypeKey
	}

	if frameType == FrameTypeDelta && b.missing.hasOlderThan(start) {
		return nil, false
	}

	packets := make([]*BufferedPacket, 0, seqNum-start+1)
	for s := start; s <= seqNum; s++ {
		pkt := b.at(s)
		if pkt == nil {
			return nil, false
		}
		packets = append(packets, pkt)
	}

	frame, action := b.assembler.AssembleFrame(packets, frameType)
	switch action {
	case FixRequestKeyFrame:
		return nil, true
	case FixDrop:
		return nil, false
	}

	for s := start; s <= seqNum; s++ {
		b.buffer[b.index(s)] = nil
	}
	b.missing.removeUpTo(seqNum)

	return frame, false
}

// missingPacketSet is an insertion-ordered set of sequence numbers bounded
// to a maximum size, dropping the oldest entry on overflow.
type missingPacketSet struct {
	set   map[int64]struct{}
	order []int64
	max   int
}

func newMissingPacketSet(max int) *missingPacketSet {
	return &missingPacketSet{set: make(map[int64]struct{}), max: max}
}

func (s *missingPacketSet) insert(seqNum int64) {
	if _, ok := s.set[seqNum]; ok {
		return
	}
	s.set[seqNum] = struct{}{}
	s.order = append(s.order, seqNum)
	if len(s.order) > s.max {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.set, oldest)
	}
}

func (s *missingPacketSet) remove(seqNum int64) {
	if _, ok := s.set[seqNum]; !ok {
		return
	}
	delete(s.set, seqNum)
	for i, v := range s.order {
		if v == seqNum {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *missingPacketSet) removeUpTo(seqNum int64) {
	kept := s.order[:0]
	for _, v := range s.order {
		if v <= seqNum {
			delete(s.set, v)
			continue
		}
		kept = append(kept, v)
	}
	s.order = kept
}

func (s *missingPacketSet) hasOlderThan(seqNum int64) bool {
	for v := range s.set {
		if v < seqNum {
			return true
		}
	}
	return false
}
