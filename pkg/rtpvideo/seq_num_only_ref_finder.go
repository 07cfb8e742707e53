// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package rtpvideo

import "sort"

// gopInfo tracks one GOP's resolution frontier, keyed by the picture id of
// its keyframe (the seq_num of the keyframe's last packet).
type gopInfo struct {
	keyFrameID int64 // frame_id assigned to this GOP's keyframe

	lastPictureIDInGop            int64
	lastPictureIDWithPaddingInGop int64
}

// SeqNumRefFinder is the sequence-number variant of FrameReferenceFinder
// used for H.264: every DELTA frame references exactly the most recent
// keyframe of its GOP, resolved once the sequence-number range between the
// GOP tip and the frame's start is accounted for (either by an already
// processed frame or by known padding).
//
// Reference: libwebrtc rtp_seq_num_only_ref_finder.cc, narrowed to a single
// reference per delta frame for this module's H.264-only scope.
type SeqNumRefFinder struct {
	gops map[int64]*gopInfo // keyed by keyframe picture id

	padding map[int64]struct{}

	stashed []*AssembledFrame

	nextFrameID int64
}

// NewSeqNumRefFinder creates an empty SeqNumRefFinder.
func NewSeqNumRefFinder() *SeqNumRefFinder {
	return &SeqNumRefFinder{
		gops:    make(map[int64]*gopInfo),
		padding: make(map[int64]struct{}),
	}
}

// ManageFrame implements FrameReferenceFinder.
func (f *SeqNumRefFinder) ManageFrame(frame *AssembledFrame) []*FrameToDecode {
	if frame == nil {
		return nil
	}

	if frame.FrameType == FrameTypeKey {
		return f.insertKeyFrame(frame)
	}
	return f.insertDeltaFrame(frame)
}

func (f *SeqNumRefFinder) insertKeyFrame(frame *AssembledFrame) []*FrameToDecode {
	pictureID := frame.SeqNumEnd

	frameID := f.nextFrameID
	f.nextFrameID++

	f.gops[pictureID] = &gopInfo{
		keyFrameID:                    frameID,
		lastPictureIDInGop:            pictureID,
		lastPictureIDWithPaddingInGop: pictureID,
	}

	out := []*FrameToDecode{toFrameToDecode(frameID, nil, frame)}
	out = append(out, f.retryStashed()...)
	return out
}

func (f *SeqNumRefFinder) insertDeltaFrame(frame *AssembledFrame) []*FrameToDecode {
	gop := f.nearestPrecedingGop(frame.SeqNumStart)
	if gop == nil || !f.gopCovers(gop, frame.SeqNumStart) {
		f.stash(frame)
		return nil
	}

	frameID := f.nextFrameID
	f.nextFrameID++

	gop.lastPictureIDInGop = frame.SeqNumEnd
	if frame.SeqNumEnd > gop.lastPictureIDWithPaddingInGop {
		gop.lastPictureIDWithPaddingInGop = frame.SeqNumEnd
	}

	out := []*FrameToDecode{toFrameToDecode(frameID, []int64{gop.keyFrameID}, frame)}
	out = append(out, f.retryStashed()...)
	return out
}

// gopCovers reports whether seqNumStart is reachable from gop's current
// frontier without an unaccounted-for gap.
func (f *SeqNumRefFinder) gopCovers(gop *gopInfo, seqNumStart int64) bool {
	return seqNumStart <= gop.lastPictureIDWithPaddingInGop+1
}

// nearestPrecedingGop finds the GOP whose keyframe picture id is the
// largest value still less than seqNumStart.
func (f *SeqNumRefFinder) nearestPrecedingGop(seqNumStart int64) *gopInfo {
	var best *gopInfo
	var bestID int64 = -1
	for id, gop := range f.gops {
		if id < seqNumStart && id > bestID {
			bestID = id
			best = gop
		}
	}
	return best
}

func (f *SeqNumRefFinder) stash(frame *AssembledFrame) {
	f.stashed = append(f.stashed, frame)
	if len(f.stashed) > maxStashedFrames {
		f.stashed = f.stashed[1:]
	}
}

// retryStashed re-attempts every stashed frame after a successful emission,
// in seq_num_start order, repeating until a full pass makes no progress.
func (f *SeqNumRefFinder) retryStashed() []*FrameToDecode {
	var out []*FrameToDecode

	for {
		if len(f.stashed) == 0 {
			return out
		}

		pending := f.stashed
		sort.Slice(pending, func(i, j int) bool {
			return pending[i].SeqNumStart < pending[j].SeqNumStart
		})
		f.stashed = nil

		progressed := false
		for _, frame := range pending {
			resolved := f.insertDeltaFrame(frame)
			if resolved != nil {
				out = append(out, resolved...)
				progressed = true
			}
		}

		if !progressed {
			return out
		}
	}
}

// InsertPadding implements FrameReferenceFinder.
func (f *SeqNumRefFinder) InsertPadding(seqNum int64) {
	f.padding[seqNum] = struct{}{}

	gop := f.nearestPrecedingGop(seqNum + 1)
	if gop == nil {
		return
	}
	if seqNum == gop.lastPictureIDWithPaddingInGop+1 {
		gop.lastPictureIDWithPaddingInGop = seqNum
	}
}

// ClearTo implements FrameReferenceFinder.
func (f *SeqNumRefFinder) ClearTo(seqNum int64) {
	for id := range f.gops {
		if id <= seqNum {
			delete(f.gops, id)
		}
	}
	for id := range f.padding {
		if id <= seqNum {
			delete(f.padding, id)
		}
	}

	kept := f.stashed[:0]
	for _, frame := range f.stashed {
		if frame.SeqNumStart > seqNum {
			kept = append(kept, frame)
		}
	}
	f.stashed = kept
}

func toFrameToDecode(frameID int64, refs []int64, frame *AssembledFrame) *FrameToDecode {
	return &FrameToDecode{
		ID:                   frameID,
		References:           refs,
		Timestamp:            frame.Timestamp,
		FrameType:            frame.FrameType,
		Payload:              frame.Payload,
		MaxPacketArrivalTime: frame.MaxPacketArrival,
		NackDelayed:          frame.MaxTimesNacked > 0,
	}
}
