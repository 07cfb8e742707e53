// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package rtpvideo assembles H.264 video frames from RTP packets. It
// implements frame boundary detection, SPS/PPS tracking and frame assembly
// similar to libwebrtc's PacketBuffer, H264SpsPpsTracker and
// RtpFrameObject, wired as a pion/interceptor-style receive pipeline.
package rtpvideo

import "errors"

// FrameType indicates the type of video frame.
type FrameType int

const (
	// FrameTypeKey indicates a key frame (I-frame).
	FrameTypeKey FrameType = iota
	// FrameTypeDelta indicates a delta frame (P-frame or B-frame).
	FrameTypeDelta
)

// NaluType enumerates the H.264 NAL unit types relevant to packetization
// and SPS/PPS/IDR tracking. Reference: RFC 6184 Table 1.
type NaluType uint8

const (
	NaluTypeSlice       NaluType = 1
	NaluTypeSliceDPA    NaluType = 2
	NaluTypeSliceDPB    NaluType = 3
	NaluTypeSliceDPC    NaluType = 4
	NaluTypeIDR         NaluType = 5
	NaluTypeSEI         NaluType = 6
	NaluTypeSPS         NaluType = 7
	NaluTypePPS         NaluType = 8
	NaluTypeAUD         NaluType = 9
	NaluTypeEndOfSeq    NaluType = 10
	NaluTypeEndOfStream NaluType = 11
	NaluTypeFillerData  NaluType = 12
	NaluTypeSPSExt      NaluType = 13
	NaluTypeSTAPA       NaluType = 24
	NaluTypeFUA         NaluType = 28
)

// PacketizationType indicates the RFC 6184 packetization mode used by a
// single RTP packet.
type PacketizationType int

const (
	// PacketizationSingle carries one complete NALU per RTP packet.
	PacketizationSingle PacketizationType = iota
	// PacketizationSTAPA aggregates multiple NALUs into one RTP packet.
	PacketizationSTAPA
	// PacketizationFUA fragments one NALU across multiple RTP packets.
	PacketizationFUA
)

// NaluInfo describes one NAL unit observed while parsing a packet's
// payload: its type and, for parameter sets and slices, the ids it carries
// or refers to. SpsID/PpsID are -1 when not applicable or not resolvable
// from the bitstream alone.
type NaluInfo struct {
	Type  NaluType
	SpsID int
	PpsID int
}

// maxNaluNumPerPacket bounds NaluInfo slices the way the STAP-A aggregation
// and the SPS/PPS fixup's out-of-band insertion do.
const maxNaluNumPerPacket = 10

// RTPVideoHeader contains video-specific metadata extracted from an H.264
// RTP payload. This structure is similar to libwebrtc's RTPVideoHeader plus
// its H264 codec-specific header.
type RTPVideoHeader struct {
	// FrameType indicates whether this is a key frame or delta frame.
	FrameType FrameType

	// IsFirstPacketInFrame indicates if this packet is the first packet of
	// a frame. The packet buffer treats it as a continuity anchor; its
	// backward assembly walk finds the frame start by timestamp change, not
	// by this flag.
	IsFirstPacketInFrame bool

	// IsLastPacketInFrame indicates if this packet is the last packet of a
	// frame. Derived from the RTP marker bit (or, for FU-A, the E bit).
	IsLastPacketInFrame bool

	// Width/Height are non-zero only when resolved from an SPS (in-band or
	// out-of-band), typically on the first packet of an IDR.
	Width  uint16
	Height uint16

	// PacketizationType is the RFC 6184 mode used by this packet.
	PacketizationType PacketizationType

	// Nalus lists every NAL unit that begins within this packet (for
	// STAP-A, possibly more than one; for FU-A and single-NALU mode,
	// exactly one, the reconstructed/original NALU type).
	Nalus []NaluInfo

	// HasSPS/HasPPS/HasIDR record whether an SPS/PPS/IDR NALU was observed
	// in this packet.
	HasSPS bool
	HasPPS bool
	HasIDR bool
}

var (
	errEmptyPayload   = errors.New("rtpvideo: empty RTP payload")
	errTruncatedSTAPA = errors.New("rtpvideo: truncated STAP-A packet")
	errTruncatedFUA   = errors.New("rtpvideo: truncated FU-A packet")
)

// ParseH264VideoHeader parses the RFC 6184 payload of a single H.264 RTP
// packet and returns the derived video header. Frame type classification
// is left to the packet buffer, which has visibility into every packet of
// the frame (see VideoPacketBuffer.assembleAt).
//
// Reference: libwebrtc video_rtp_depacketizer_h264.cc ParseFuaNalu /
// ParseStapAOrSingleNalu.
func ParseH264VideoHeader(marker bool, payload []byte) (*RTPVideoHeader, error) {
	if len(payload) == 0 {
		return nil, errEmptyPayload
	}

	header := &RTPVideoHeader{
		IsLastPacketInFrame: marker,
	}

	naluType := NaluType(payload[0] & 0x1F)

	switch naluType {
	case NaluTypeSTAPA:
		header.PacketizationType = PacketizationSTAPA
		header.IsFirstPacketInFrame = true
		if err := parseStapA(header, payload); err != nil {
			return nil, err
		}
	case NaluTypeFUA:
		header.PacketizationType = PacketizationFUA
		if err := parseFUA(header, payload); err != nil {
			return nil, err
		}
	default:
		header.PacketizationType = PacketizationSingle
		header.IsFirstPacketInFrame = true
		recordNalu(header, naluType, payload[1:])
	}

	return header, nil
}

func parseStapA(header *RTPVideoHeader, payload []byte) error {
	offset := 1 // skip the STAP-A header octet
	for offset < len(payload) {
		if offset+2 > len(payload) {
			return errTruncatedSTAPA
		}
		size := int(payload[offset])<<8 | int(payload[offset+1])
		offset += 2
		if size == 0 || offset+size > len(payload) {
			return errTruncatedSTAPA
		}
		nalu := payload[offset : offset+size]
		recordNalu(header, NaluType(nalu[0]&0x1F), nalu[1:])
		offset += size
	}
	return nil
}

func parseFUA(header *RTPVideoHeader, payload []byte) error {
	if len(payload) < 2 {
		return errTruncatedFUA
	}
	fuHeader := payload[1]

	start := fuHeader&0x80 != 0
	end := fuHeader&0x40 != 0
	originalType := NaluType(fuHeader & 0x1F)

	header.IsFirstPacketInFrame = start
	if end {
		header.IsLastPacketInFrame = true
	}

	if start {
		recordNalu(header, originalType, payload[2:])
	}
	return nil
}

// recordNalu appends a NaluInfo for naluType, resolving sps_id/pps_id from
// the NALU body when the type carries or references one. body excludes the
// one-byte NAL header.
func recordNalu(header *RTPVideoHeader, naluType NaluType, body []byte) {
	info := NaluInfo{Type: naluType, SpsID: -1, PpsID: -1}

	switch naluType {
	case NaluTypeSPS:
		header.HasSPS = true
		if id, width, height, ok := parseSps(body); ok {
			info.SpsID = id
			header.Width = width
			header.Height = height
		}
	case NaluTypePPS:
		header.HasPPS = true
		if spsID, ppsID, ok := parsePps(body); ok {
			info.SpsID = spsID
			info.PpsID = ppsID
		}
	case NaluTypeIDR, NaluTypeSlice:
		if naluType == NaluTypeIDR {
			header.HasIDR = true
		}
		if ppsID, ok := parseSliceHeaderPpsID(body); ok {
			info.PpsID = ppsID
		}
	}

	if len(header.Nalus) < maxNaluNumPerPacket {
		header.Nalus = append(header.Nalus, info)
	}
}
