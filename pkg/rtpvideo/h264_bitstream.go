// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package rtpvideo

// This file implements the minimal H.264 Exp-Golomb / SPS / PPS / slice
// header parsing needed to recover parameter-set ids and picture
// dimensions from a raw NALU body (the bytes following the one-byte NAL
// header; each parser removes emulation-prevention bytes itself via
// stripEmulationPrevention).
//
// Reference: ITU-T H.264 §7.3.2.1.1 (seq_parameter_set_rbsp), §7.3.2.2
// (pic_parameter_set_rbsp), §7.3.3 (slice_header); naivertc's
// sps_parser.cpp / pps_parser.cpp express the same fields.

// stripEmulationPrevention removes 0x000003 -> 0x0000 emulation-prevention
// sequences from an Annex-B RBSP payload before bit-level parsing.
func stripEmulationPrevention(in []byte) []byte {
	out := make([]byte, 0, len(in))
	zeroRun := 0
	for i := 0; i < len(in); i++ {
		b := in[i]
		if zeroRun >= 2 && b == 0x03 && i+1 < len(in) && in[i+1] <= 0x03 {
			zeroRun = 0
			continue
		}
		if b == 0 {
			zeroRun++
		} else {
			zeroRun = 0
		}
		out = append(out, b)
	}
	return out
}

// bitReader reads H.264 bitstream fields (u(n) and ue(v)) MSB-first.
type bitReader struct {
	data    []byte
	bytePos int
	bitPos  uint // 0 = MSB of data[bytePos]
}

func newBitReader(data []byte) *bitReader {
	return &bitReader{data: data}
}

func (r *bitReader) exhausted() bool {
	return r.bytePos >= len(r.data)
}

func (r *bitReader) readBit() (uint32, bool) {
	if r.exhausted() {
		return 0, false
	}
	bit := (r.data[r.bytePos] >> (7 - r.bitPos)) & 1
	r.bitPos++
	if r.bitPos == 8 {
		r.bitPos = 0
		r.bytePos++
	}
	return uint32(bit), true
}

// u reads n bits as an unsigned integer.
func (r *bitReader) u(n int) (uint32, bool) {
	var v uint32
	for i := 0; i < n; i++ {
		bit, ok := r.readBit()
		if !ok {
			return 0, false
		}
		v = v<<1 | bit
	}
	return v, true
}

// ue reads an Exp-Golomb coded unsigned integer.
func (r *bitReader) ue() (uint32, bool) {
	zeros := 0
	for {
		bit, ok := r.readBit()
		if !ok {
			return 0, false
		}
		if bit == 1 {
			break
		}
		zeros++
		if zeros > 32 {
			return 0, false
		}
	}
	if zeros == 0 {
		return 0, true
	}
	suffix, ok := r.u(zeros)
	if !ok {
		return 0, false
	}
	return (1 << uint(zeros)) - 1 + suffix, true
}

// se reads an Exp-Golomb coded signed integer.
func (r *bitReader) se() (int32, bool) {
	v, ok := r.ue()
	if !ok {
		return 0, false
	}
	if v%2 == 0 {
		return -int32(v / 2), true
	}
	return int32((v + 1) / 2), true
}

// parseSps parses enough of seq_parameter_set_rbsp to recover the sps id
// and the coded picture width/height in pixels.
func parseSps(rbsp []byte) (id int, width, height uint16, ok bool) {
	rbsp = stripEmulationPrevention(rbsp)
	if len(rbsp) < 4 {
		return 0, 0, 0, false
	}
	r := newBitReader(rbsp)

	profileIdc, ok1 := r.u(8)
	_, _ = r.u(8) // constraint flags + reserved
	_, ok2 := r.u(8) // level_idc
	if !ok1 || !ok2 {
		return 0, 0, 0, false
	}

	spsID, ok3 := r.ue()
	if !ok3 {
		return 0, 0, 0, false
	}

	chromaFormatIdc := uint32(1)
	switch profileIdc {
	case 100, 110, 122, 244, 44, 83, 86, 118, 128, 138, 139, 134, 135:
		var ok4 bool
		chromaFormatIdc, ok4 = r.ue()
		if !ok4 {
			return 0, 0, 0, false
		}
		if chromaFormatIdc == 3 {
			if _, ok := r.u(1); !ok { // separate_colour_plane_flag
				return 0, 0, 0, false
			}
		}
		if _, ok := r.ue(); !ok { // bit_depth_luma_minus8
			return 0, 0, 0, false
		}
		if _, ok := r.ue(); !ok { // bit_depth_chroma_minus8
			return 0, 0, 0, false
		}
		if _, ok := r.u(1); !ok { // qpprime_y_zero_transform_bypass_flag
			return 0, 0, 0, false
		}
		seqScalingMatrixPresent, ok5 := r.u(1)
		if !ok5 {
			return 0, 0, 0, false
		}
		if seqScalingMatrixPresent == 1 {
			// Scaling lists are out of scope for dimension/id recovery; a
			// stream that relies on them will fail to parse here and the
			// caller falls back to REQUEST_KEY_FRAME.
			return 0, 0, 0, false
		}
	}

	if _, ok := r.ue(); !ok { // log2_max_frame_num_minus4
		return 0, 0, 0, false
	}
	picOrderCntType, ok6 := r.ue()
	if !ok6 {
		return 0, 0, 0, false
	}
	if picOrderCntType == 0 {
		if _, ok := r.ue(); !ok { // log2_max_pic_order_cnt_lsb_minus4
			return 0, 0, 0, false
		}
	} else if picOrderCntType == 1 {
		if _, ok := r.u(1); !ok { // delta_pic_order_always_zero_flag
			return 0, 0, 0, false
		}
		if _, ok := r.se(); !ok { // offset_for_non_ref_pic
			return 0, 0, 0, false
		}
		if _, ok := r.se(); !ok { // offset_for_top_to_bottom_field
			return 0, 0, 0, false
		}
		numRefFrames, ok := r.ue() // num_ref_frames_in_pic_order_cnt_cycle
		if !ok {
			return 0, 0, 0, false
		}
		for i := uint32(0); i < numRefFrames; i++ {
			if _, ok := r.se(); !ok {
				return 0, 0, 0, false
			}
		}
	}

	if _, ok := r.ue(); !ok { // max_num_ref_frames
		return 0, 0, 0, false
	}
	if _, ok := r.u(1); !ok { // gaps_in_frame_num_value_allowed_flag
		return 0, 0, 0, false
	}

	picWidthInMbsMinus1, ok7 := r.ue()
	picHeightInMapUnitsMinus1, ok8 := r.ue()
	frameMbsOnlyFlag, ok9 := r.u(1)
	if !ok7 || !ok8 || !ok9 {
		return 0, 0, 0, false
	}

	heightMultiplier := uint32(2)
	if frameMbsOnlyFlag == 1 {
		heightMultiplier = 1
	} else {
		if _, ok := r.u(1); !ok { // mb_adaptive_frame_field_flag
			return 0, 0, 0, false
		}
	}

	w := (picWidthInMbsMinus1 + 1) * 16
	h := (picHeightInMapUnitsMinus1 + 1) * 16 * heightMultiplier

	return int(spsID), uint16(w), uint16(h), true
}

// parsePps parses enough of pic_parameter_set_rbsp to recover the pps id
// and the sps id it refers to.
func parsePps(rbsp []byte) (spsID, ppsID int, ok bool) {
	rbsp = stripEmulationPrevention(rbsp)
	if len(rbsp) == 0 {
		return 0, 0, false
	}
	r := newBitReader(rbsp)
	pID, ok1 := r.ue()
	sID, ok2 := r.ue()
	if !ok1 || !ok2 {
		return 0, 0, false
	}
	return int(sID), int(pID), true
}

// parseSliceHeaderPpsID parses just enough of a slice_header to recover
// the referenced pps id (first_mb_in_slice, slice_type, then pps_id).
func parseSliceHeaderPpsID(rbsp []byte) (ppsID int, ok bool) {
	rbsp = stripEmulationPrevention(rbsp)
	if len(rbsp) == 0 {
		return 0, false
	}
	r := newBitReader(rbsp)
	if _, ok := r.ue(); !ok { // first_mb_in_slice
		return 0, false
	}
	if _, ok := r.ue(); !ok { // slice_type
		return 0, false
	}
	id, ok2 := r.ue() // pic_parameter_set_id
	if !ok2 {
		return 0, false
	}
	return int(id), true
}
