// SPDX-FileCopyrightText: 2026 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

package rtpvideo

import (
	"testing"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReceiverInterceptor_Factory(t *testing.T) {
	factory, err := NewReceiverInterceptor()
	require.NoError(t, err)
	require.NotNil(t, factory)

	i, err := factory.NewInterceptor("")
	require.NoError(t, err)
	require.NotNil(t, i)

	assert.NoError(t, i.Close())
}

func marshalRTP(t *testing.T, seq uint16, timestamp uint32, marker bool, payload []byte) []byte {
	t.Helper()
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    96,
			SequenceNumber: seq,
			Timestamp:      timestamp,
			SSRC:           123456,
			Marker:         marker,
		},
		Payload: payload,
	}
	data, err := pkt.Marshal()
	require.NoError(t, err)
	return data
}

func TestReceiverInterceptor_SingleNaluDeltaFrame(t *testing.T) {
	factory, err := NewReceiverInterceptor()
	require.NoError(t, err)

	i, err := factory.NewInterceptor("")
	require.NoError(t, err)
	defer func() { _ = i.Close() }()

	info := &interceptor.StreamInfo{SSRC: 123456, ClockRate: 90000, MimeType: "video/H264", PayloadType: 96}

	payload := []byte{byte(NaluTypeSlice), 0xAA, 0xBB}
	data := marshalRTP(t, 1000, 90000, true, payload)

	reader := i.BindRemoteStream(info, interceptor.RTPReaderFunc(
		func(b []byte, attrs interceptor.Attributes) (int, interceptor.Attributes, error) {
			copy(b, data)
			return len(data), attrs, nil
		},
	))

	buf := make([]byte, 1500)
	_, attrs, err := reader.Read(buf, interceptor.Attributes{})
	require.NoError(t, err)
	require.NotNil(t, attrs)

	frames, ok := attrs.Get(FramesKey).([]*FrameToDecode)
	require.True(t, ok, "FramesKey should be present")
	require.Len(t, frames, 1)
	assert.Equal(t, uint32(90000), frames[0].Timestamp)
}

func TestReceiverInterceptor_MultiPacketFrame(t *testing.T) {
	factory, err := NewReceiverInterceptor()
	require.NoError(t, err)

	i, err := factory.NewInterceptor("")
	require.NoError(t, err)
	defer func() { _ = i.Close() }()

	info := &interceptor.StreamInfo{SSRC: 123456, ClockRate: 90000, MimeType: "video/H264", PayloadType: 96}

	packets := [][]byte{
		marshalRTP(t, 1000, 90000, false, []byte{byte(NaluTypeSlice), 0x01}),
		marshalRTP(t, 1001, 90000, false, []byte{byte(NaluTypeSlice), 0x02}),
		marshalRTP(t, 1002, 90000, true, []byte{byte(NaluTypeSlice), 0x03}),
	}

	idx := 0
	reader := i.BindRemoteStream(info, interceptor.RTPReaderFunc(
		func(b []byte, attrs interceptor.Attributes) (int, interceptor.Attributes, error) {
			if idx >= len(packets) {
				return 0, attrs, nil
			}
			data := packets[idx]
			idx++
			copy(b, data)
			return len(data), attrs, nil
		},
	))

	buf := make([]byte, 1500)

	for j := 0; j < 2; j++ {
		_, attrs, err := reader.Read(buf, interceptor.Attributes{})
		require.NoError(t, err)
		if attrs != nil {
			assert.Nil(t, attrs.Get(FramesKey), "frame should not complete before the last packet")
		}
	}

	_, attrs, err := reader.Read(buf, interceptor.Attributes{})
	require.NoError(t, err)
	require.NotNil(t, attrs)

	frames, ok := attrs.Get(FramesKey).([]*FrameToDecode)
	require.True(t, ok)
	require.Len(t, frames, 1)
	assert.Equal(t, uint32(90000), frames[0].Timestamp)
}

func TestReceiverInterceptor_NonH264Passthrough(t *testing.T) {
	factory, err := NewReceiverInterceptor()
	require.NoError(t, err)

	i, err := factory.NewInterceptor("")
	require.NoError(t, err)
	defer func() { _ = i.Close() }()

	info := &interceptor.StreamInfo{SSRC: 123456, ClockRate: 48000, MimeType: "audio/opus", PayloadType: 111}

	data := marshalRTP(t, 1000, 48000, true, []byte{0x01, 0x02, 0x03})

	reader := i.BindRemoteStream(info, interceptor.RTPReaderFunc(
		func(b []byte, attrs interceptor.Attributes) (int, interceptor.Attributes, error) {
			copy(b, data)
			return len(data), attrs, nil
		},
	))

	buf := make([]byte, 1500)
	n, attrs, err := reader.Read(buf, interceptor.Attributes{})
	require.NoError(t, err)
	assert.Greater(t, n, 0)

	if attrs != nil {
		assert.Nil(t, attrs.Get(FramesKey))
	}
}

func TestReceiverInterceptor_WithOptions(t *testing.T) {
	factory, err := NewReceiverInterceptor(
		WithSpsPpsIdrIsKeyframe(false),
	)
	require.NoError(t, err)

	i, err := factory.NewInterceptor("")
	require.NoError(t, err)
	require.NotNil(t, i)

	assert.NoError(t, i.Close())
}

func TestReceiverInterceptor_KeyframeRequesterInvoked(t *testing.T) {
	var requested uint32
	factory, err := NewReceiverInterceptor(
		WithKeyFrameRequester(func(ssrc uint32) { requested = ssrc }),
	)
	require.NoError(t, err)

	i, err := factory.NewInterceptor("")
	require.NoError(t, err)
	defer func() { _ = i.Close() }()

	info := &interceptor.StreamInfo{SSRC: 123456, ClockRate: 90000, MimeType: "video/H264", PayloadType: 96}

	// A non-IDR slice is inserted even when its pps_id was never observed:
	// CopyAndFixBitstream only returns REQUEST_KEY_FRAME for IDR frames, so
	// use an IDR to exercise the keyframe-request path.
	idrPayload := []byte{byte(NaluTypeIDR), 0x88, 0x84}
	data := marshalRTP(t, 1000, 90000, true, idrPayload)

	reader := i.BindRemoteStream(info, interceptor.RTPReaderFunc(
		func(b []byte, attrs interceptor.Attributes) (int, interceptor.Attributes, error) {
			copy(b, data)
			return len(data), attrs, nil
		},
	))

	buf := make([]byte, 1500)
	_, attrs, err := reader.Read(buf, interceptor.Attributes{})
	require.NoError(t, err)

	if v, ok := attrs.Get(KeyframeRequestedKey).(bool); ok && v {
		assert.Equal(t, uint32(123456), requested)
	}
}

func TestReceiverInterceptor_Close(t *testing.T) {
	factory, err := NewReceiverInterceptor()
	require.NoError(t, err)

	i, err := factory.NewInterceptor("")
	require.NoError(t, err)

	info := &interceptor.StreamInfo{SSRC: 123456, ClockRate: 90000, MimeType: "video/H264", PayloadType: 96}

	_ = i.BindRemoteStream(info, interceptor.RTPReaderFunc(
		func(b []byte, attrs interceptor.Attributes) (int, interceptor.Attributes, error) {
			return 0, attrs, nil
		},
	))

	assert.NoError(t, i.Close())
}
