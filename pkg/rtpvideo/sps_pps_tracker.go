// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package rtpvideo

// FixAction is the outcome of SpsPpsTracker.CopyAndFixBitstream.
type FixAction int

const (
	// FixInsert means a valid, Annex-B-framed bitstream was produced.
	FixInsert FixAction = iota
	// FixDrop means the packet could not be parsed and must be discarded.
	FixDrop
	// FixRequestKeyFrame means a referenced parameter set is missing and a
	// keyframe must be requested before this packet's frame can be used.
	FixRequestKeyFrame
)

func (a FixAction) String() string {
	switch a {
	case FixInsert:
		return "INSERT"
	case FixDrop:
		return "DROP"
	case FixRequestKeyFrame:
		return "REQUEST_KEY_FRAME"
	default:
		return "UNKNOWN"
	}
}

// spsEntry records a sequence parameter set's resolved dimensions and,
// when supplied out-of-band, the raw NALU bytes to splice in ahead of the
// first packet of an IDR.
type spsEntry struct {
	width, height uint16
	bytes         []byte // non-nil only for out-of-band SPS/PPS
}

type ppsEntry struct {
	spsID int
	bytes []byte
}

var annexBStartCode = [4]byte{0, 0, 0, 1}

// SpsPpsTracker maintains the H.264 parameter-set state needed to fix up
// RTP payloads into an Annex-B bitstream the decoder can consume, the way
// libwebrtc's H264SpsPpsTracker does.
//
// Reference: naivertc sps_pps_tracker.cpp (InsertSpsPpsNalus / CopyAndFixBitstream).
type SpsPpsTracker struct {
	sps map[int]spsEntry
	pps map[int]ppsEntry
}

// NewSpsPpsTracker creates an empty SpsPpsTracker.
func NewSpsPpsTracker() *SpsPpsTracker {
	return &SpsPpsTracker{
		sps: make(map[int]spsEntry),
		pps: make(map[int]ppsEntry),
	}
}

// InsertSpsPps parses sps and pps NALU bytes (each excluding the one-byte
// NAL header) supplied out-of-band, e.g. from SDP fmtp sprop-parameter-sets,
// and records them for later splicing ahead of the first packet of an IDR.
func (t *SpsPpsTracker) InsertSpsPps(spsNalu, ppsNalu []byte) bool {
	spsID, width, height, ok := parseSps(spsNalu)
	if !ok {
		return false
	}
	spsRefID, ppsID, ok := parsePps(ppsNalu)
	if !ok {
		return false
	}

	t.sps[spsID] = spsEntry{width: width, height: height, bytes: append([]byte(nil), spsNalu...)}
	t.pps[ppsID] = ppsEntry{spsID: spsRefID, bytes: append([]byte(nil), ppsNalu...)}
	return true
}

// observeSps/observePps record parameter sets seen in-band. observeSps
// updates the dimensions of an existing entry and keeps its out-of-band
// bytes; observePps replaces any existing entry, out-of-band bytes included.
func (t *SpsPpsTracker) observeSps(id int, width, height uint16) {
	if existing, ok := t.sps[id]; ok {
		existing.width, existing.height = width, height
		t.sps[id] = existing
		return
	}
	t.sps[id] = spsEntry{width: width, height: height}
}

func (t *SpsPpsTracker) observePps(spsID, ppsID int) {
	t.pps[ppsID] = ppsEntry{spsID: spsID}
}

// observe records every parameter set carried by header, in-band.
func (t *SpsPpsTracker) observe(header *RTPVideoHeader) {
	for _, nalu := range header.Nalus {
		switch nalu.Type {
		case NaluTypeSPS:
			if nalu.SpsID >= 0 {
				t.observeSps(nalu.SpsID, header.Width, header.Height)
			}
		case NaluTypePPS:
			if nalu.SpsID >= 0 && nalu.PpsID >= 0 {
				t.observePps(nalu.SpsID, nalu.PpsID)
			}
		}
	}
}

// resolution returns the width/height the given pps (and the sps it
// references) resolve to, and whether both parameter sets are known.
func (t *SpsPpsTracker) resolution(ppsID int) (width, height uint16, ok bool) {
	pps, ok := t.pps[ppsID]
	if !ok {
		return 0, 0, false
	}
	sps, ok := t.sps[pps.spsID]
	if !ok {
		return 0, 0, false
	}
	return sps.width, sps.height, true
}

// CopyAndFixBitstream rebuilds bitstream into an Annex-B framed NALU
// sequence suitable for a decoder, resolving out-of-band parameter sets
// ahead of IDR frames. bitstream is the packet's raw RTP payload,
// packetization header included: a single NALU, a STAP-A packet (split into
// its aggregated NALUs), or an FU-A fragment (the start fragment gets a
// start code and the rebuilt NALU header; every fragment loses its FU
// indicator and FU header).
//
// Reference: naivertc sps_pps_tracker.cpp CopyAndFixBitstream.
func (t *SpsPpsTracker) CopyAndFixBitstream(
	isFirstPacketInFrame bool,
	header *RTPVideoHeader,
	bitstream []byte,
) ([]byte, FixAction) {
	t.observe(header)

	var prefix []byte
	if isFirstPacketInFrame && header.HasIDR {
		var ppsID = -1
		for _, nalu := range header.Nalus {
			if nalu.Type == NaluTypeIDR || nalu.Type == NaluTypeSlice {
				ppsID = nalu.PpsID
				break
			}
		}
		if ppsID < 0 {
			return nil, FixRequestKeyFrame
		}
		pps, ok := t.pps[ppsID]
		if !ok {
			return nil, FixRequestKeyFrame
		}
		sps, ok := t.sps[pps.spsID]
		if !ok {
			return nil, FixRequestKeyFrame
		}

		if pps.bytes != nil && sps.bytes != nil {
			prefix = make([]byte, 0, len(sps.bytes)+len(pps.bytes)+8)
			prefix = append(prefix, annexBStartCode[:]...)
			prefix = append(prefix, sps.bytes...)
			prefix = append(prefix, annexBStartCode[:]...)
			prefix = append(prefix, pps.bytes...)
		}

		header.Width, header.Height = sps.width, sps.height
	}

	switch header.PacketizationType {
	case PacketizationSTAPA:
		return t.fixStapA(prefix, bitstream)
	case PacketizationFUA:
		if len(bitstream) < 2 {
			return nil, FixDrop
		}
		out := make([]byte, 0, len(prefix)+5+len(bitstream))
		out = append(out, prefix...)
		if bitstream[1]&0x80 != 0 {
			out = append(out, annexBStartCode[:]...)
			out = append(out, bitstream[0]&0xE0|bitstream[1]&0x1F)
		}
		out = append(out, bitstream[2:]...)
		return out, FixInsert
	default:
		out := make([]byte, 0, len(prefix)+4+len(bitstream))
		out = append(out, prefix...)
		out = append(out, annexBStartCode[:]...)
		out = append(out, bitstream...)
		return out, FixInsert
	}
}

// fixStapA reassembles a STAP-A payload (the full packet payload, including
// the one-byte STAP-A header) into Annex-B framed NALUs.
func (t *SpsPpsTracker) fixStapA(prefix, payload []byte) ([]byte, FixAction) {
	out := make([]byte, 0, len(prefix)+len(payload)+16)
	out = append(out, prefix...)

	offset := 1
	for offset < len(payload) {
		if offset+2 > len(payload) {
			return nil, FixDrop
		}
		size := int(payload[offset])<<8 | int(payload[offset+1])
		offset += 2
		if size == 0 || offset+size > len(payload) {
			return nil, FixDrop
		}
		out = append(out, annexBStartCode[:]...)
		out = append(out, payload[offset:offset+size]...)
		offset += size
	}

	return out, FixInsert
}
