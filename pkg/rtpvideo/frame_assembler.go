// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package rtpvideo

import (
	"sync/atomic"
	"time"
)

// AssembledFrame is a contiguous bitstream of one complete video frame,
// produced by VideoPacketBuffer once every packet between seq_num_start and
// seq_num_end is present and continuous.
type AssembledFrame struct {
	// ID is a monotonically increasing counter, unrelated to the
	// reference-finder's frame_id (see FrameToDecode).
	ID int64

	// SeqNumStart/SeqNumEnd are the unwrapped sequence numbers of the first
	// and last packet of this frame.
	SeqNumStart int64
	SeqNumEnd   int64

	// Timestamp is the RTP timestamp shared by every packet of this frame.
	Timestamp uint32

	// FrameType is KEY or DELTA, classified during the packet buffer's
	// backward walk (see VideoPacketBuffer.assembleAt).
	FrameType FrameType

	// CodecType identifies the media codec; this module only produces H264.
	CodecType string

	// MinPacketArrival/MaxPacketArrival are the earliest and latest
	// wall-clock arrival times across the frame's packets.
	MinPacketArrival time.Time
	MaxPacketArrival time.Time

	// MaxTimesNacked is the largest BufferedPacket.TimesNacked observed
	// across the frame's packets.
	MaxTimesNacked int

	// Payload is the Annex-B framed bitstream, ready for a decoder.
	Payload []byte
}

// VideoFrameAssembler turns a contiguous, ordered run of BufferedPackets
// into an AssembledFrame, fixing up the bitstream via an SpsPpsTracker along
// the way. This is similar to libwebrtc's RtpFrameObject construction
// (video/rtp_video_stream_receiver2.cc) combined with H264SpsPpsTracker.
type VideoFrameAssembler struct {
	tracker    *SpsPpsTracker
	idCounter  atomic.Int64
	codecType  string
}

// NewVideoFrameAssembler creates a VideoFrameAssembler backed by tracker.
func NewVideoFrameAssembler(tracker *SpsPpsTracker) *VideoFrameAssembler {
	return &VideoFrameAssembler{tracker: tracker, codecType: "H264"}
}

// AssembleFrame concatenates packets (already known to be contiguous and in
// sequence order) into an AssembledFrame of the given frameType. It returns
// FixDrop if any packet's bitstream cannot be fixed up, and
// FixRequestKeyFrame if the frame is an IDR missing its referenced
// parameter sets.
func (a *VideoFrameAssembler) AssembleFrame(packets []*BufferedPacket, frameType FrameType) (*AssembledFrame, FixAction) {
	if len(packets) == 0 {
		return nil, FixDrop
	}

	first := packets[0]
	last := packets[len(packets)-1]

	frame := &AssembledFrame{
		ID:               a.idCounter.Add(1) - 1,
		SeqNumStart:      first.SequenceNumber,
		SeqNumEnd:        last.SequenceNumber,
		Timestamp:        first.Timestamp,
		FrameType:        frameType,
		CodecType:        a.codecType,
		MinPacketArrival: first.ArrivalTime,
		MaxPacketArrival: first.ArrivalTime,
	}

	totalSize := 0
	for _, pkt := range packets {
		totalSize += len(pkt.Payload)
	}
	payload := make([]byte, 0, totalSize+16*len(packets))

	for i, pkt := range packets {
		if pkt.VideoHeader == nil {
			return nil, FixDrop
		}

		fixed, action := a.tracker.CopyAndFixBitstream(i == 0, pkt.VideoHeader, pkt.Payload)
		if action != FixInsert {
			return nil, action
		}
		payload = append(payload, fixed...)

		if pkt.ArrivalTime.Before(frame.MinPacketArrival) {
			frame.MinPacketArrival = pkt.ArrivalTime
		}
		if pkt.ArrivalTime.After(frame.MaxPacketArrival) {
			frame.MaxPacketArrival = pkt.ArrivalTime
		}
		if pkt.TimesNacked > frame.MaxTimesNacked {
			frame.MaxTimesNacked = pkt.TimesNacked
		}
	}

	frame.Payload = payload
	return frame, FixInsert
}
