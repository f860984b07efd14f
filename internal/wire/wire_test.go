package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDisplayConfigExactSize(t *testing.T) {
	b := EncodeDisplayConfig(1920, 1200, 0)
	require.Len(t, b, 13)
	require.Equal(t, byte(TagDisplayConfig), b[0])
}

func TestEncodeVideoFrameExactSize(t *testing.T) {
	data := make([]byte, 321)
	b := EncodeVideoFrame(data)
	require.Len(t, b, 5+len(data))
	require.Equal(t, byte(TagVideoFrame), b[0])
}

func TestEncodeTouchEventSizes(t *testing.T) {
	b1, err := EncodeTouchEvent(1, 0.5, 0.5, 0, 0, ActionDown)
	require.NoError(t, err)
	require.Len(t, b1, 14)

	b2, err := EncodeTouchEvent(2, 0.1, 0.2, 0.3, 0.4, ActionMove)
	require.NoError(t, err)
	require.Len(t, b2, 22)

	_, err = EncodeTouchEvent(3, 0, 0, 0, 0, ActionDown)
	require.Error(t, err)
}

func TestDecodeEncodeRoundTrip(t *testing.T) {
	cases := [][]byte{
		EncodeDisplayConfig(1920, 1080, 90),
		EncodeVideoFrame([]byte("annex-b-nalus")),
	}
	tb1, _ := EncodeTouchEvent(1, 0.25, 0.75, 0, 0, ActionUp)
	cases = append(cases, tb1)
	tb2, _ := EncodeTouchEvent(2, 0.1, 0.2, 0.3, 0.4, ActionMove)
	cases = append(cases, tb2)
	cases = append(cases, EncodePing([8]byte{1, 2, 3, 4, 5, 6, 7, 8}))
	cases = append(cases, EncodePong([8]byte{8, 7, 6, 5, 4, 3, 2, 1}))

	for _, enc := range cases {
		msg, n, err := Decode(enc)
		require.NoError(t, err)
		require.Equal(t, len(enc), n)
		require.NotNil(t, msg)
	}
}

func TestDecodeNeedMore(t *testing.T) {
	full := EncodeDisplayConfig(640, 480, 0)
	for i := 0; i < len(full); i++ {
		_, _, err := Decode(full[:i])
		require.ErrorIs(t, err, ErrNeedMore)
	}
}

func TestDecodeUnknownTagFatal(t *testing.T) {
	_, _, err := Decode([]byte{0x7f})
	var fe *FatalError
	require.ErrorAs(t, err, &fe)
}

func TestDecodeOversizeFrameFatal(t *testing.T) {
	hdr := EncodeDisplayConfig(0, 0, 0)
	hdr[0] = byte(TagVideoFrame)
	big := make([]byte, 5)
	big[0] = byte(TagVideoFrame)
	big[1] = 0x01 // size = 0x01000000 (16 MiB) > 5MiB
	_, _, err := Decode(big)
	var fe *FatalError
	require.ErrorAs(t, err, &fe)
}

func TestDecodeInvalidPointerCountFatal(t *testing.T) {
	for _, count := range []byte{0, 3, 255} {
		buf := []byte{byte(TagTouchEvent), count}
		_, _, err := Decode(buf)
		var fe *FatalError
		require.ErrorAs(t, err, &fe, "count=%d", count)
	}
}

func TestPongEchoesPingTimestamp(t *testing.T) {
	var ts [8]byte
	for i := range ts {
		ts[i] = byte(i * 17)
	}
	ping := EncodePing(ts)
	msg, n, err := Decode(ping)
	require.NoError(t, err)
	require.Equal(t, len(ping), n)

	pong := EncodePong(msg.Timestamp)
	out, n2, err := Decode(pong)
	require.NoError(t, err)
	require.Equal(t, len(pong), n2)
	require.Equal(t, ts, out.Timestamp)
}

func TestMaxFrameSizeBoundary(t *testing.T) {
	exact := make([]byte, MaxFrameSize)
	enc := EncodeVideoFrame(exact)
	msg, n, err := Decode(enc)
	require.NoError(t, err)
	require.Equal(t, len(enc), n)
	require.Len(t, msg.FrameData, MaxFrameSize)
}
