package server

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/caststream/scrcast/internal/wire"
)

func dialLoopback(t *testing.T, port int) net.Conn {
	t.Helper()
	var conn net.Conn
	var err error
	require.Eventually(t, func() bool {
		conn, err = net.Dial("tcp4", "127.0.0.1:"+strconv.Itoa(port))
		return err == nil
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, err)
	return conn
}

func TestPreemptionClosesOldBeforeNewConnects(t *testing.T) {
	var events []bool
	s := New(WithOnConnection(func(connected bool) {
		events = append(events, connected)
	}))
	require.NoError(t, s.Start(18081))
	defer s.Stop()

	connA := dialLoopback(t, 18081)
	require.Eventually(t, func() bool { return s.IsClientConnected() }, time.Second, 5*time.Millisecond)

	connB := dialLoopback(t, 18081)
	defer connB.Close()

	require.Eventually(t, func() bool { return len(events) >= 3 }, time.Second, 5*time.Millisecond)
	require.Equal(t, []bool{true, false, true}, events[:3])

	buf := make([]byte, 1)
	connA.SetReadDeadline(time.Now().Add(time.Second))
	_, err := connA.Read(buf)
	require.Error(t, err)
}

func TestSendFrameDeliversOrderedFraming(t *testing.T) {
	s := New()
	require.NoError(t, s.Start(18082))
	defer s.Stop()

	conn := dialLoopback(t, 18082)
	defer conn.Close()
	require.Eventually(t, func() bool { return s.IsClientConnected() }, time.Second, 5*time.Millisecond)

	s.SendFrame([]byte{1, 2, 3, 4})

	buf := make([]byte, 0, 256)
	tmp := make([]byte, 64)
	conn.SetReadDeadline(time.Now().Add(time.Second))
	for {
		n, err := conn.Read(tmp)
		require.NoError(t, err)
		buf = append(buf, tmp[:n]...)
		msg, _, derr := wire.Decode(buf)
		if derr == wire.ErrNeedMore {
			continue
		}
		require.NoError(t, derr)
		require.Equal(t, wire.TagDisplayConfig, msg.Tag)
		break
	}
}

func TestTouchEventDispatchedToCallback(t *testing.T) {
	touched := make(chan *wire.Message, 1)
	s := New(WithOnTouch(func(msg *wire.Message) {
		touched <- msg
	}))
	require.NoError(t, s.Start(18083))
	defer s.Stop()

	conn := dialLoopback(t, 18083)
	defer conn.Close()
	require.Eventually(t, func() bool { return s.IsClientConnected() }, time.Second, 5*time.Millisecond)

	payload, err := wire.EncodeTouchEvent(1, 0.5, 0.5, 0, 0, wire.ActionDown)
	require.NoError(t, err)
	_, err = conn.Write(payload)
	require.NoError(t, err)

	select {
	case msg := <-touched:
		require.Equal(t, wire.TagTouchEvent, msg.Tag)
		require.Equal(t, uint8(1), msg.PointerCount)
	case <-time.After(time.Second):
		t.Fatal("touch event not dispatched")
	}
}

func TestPingElicitsPongWithSameTimestamp(t *testing.T) {
	s := New()
	require.NoError(t, s.Start(18084))
	defer s.Stop()

	conn := dialLoopback(t, 18084)
	defer conn.Close()
	require.Eventually(t, func() bool { return s.IsClientConnected() }, time.Second, 5*time.Millisecond)

	ts := [8]byte{1, 2, 3, 4, 5, 6, 7, 8}
	_, err := conn.Write(wire.EncodePing(ts))
	require.NoError(t, err)

	buf := make([]byte, 0, 64)
	tmp := make([]byte, 64)
	conn.SetReadDeadline(time.Now().Add(time.Second))
	for {
		msg, consumed, derr := wire.Decode(buf)
		if derr == wire.ErrNeedMore {
			n, err := conn.Read(tmp)
			require.NoError(t, err)
			buf = append(buf, tmp[:n]...)
			continue
		}
		require.NoError(t, derr)
		buf = buf[consumed:]
		if msg.Tag == wire.TagDisplayConfig {
			continue
		}
		require.Equal(t, wire.TagPong, msg.Tag)
		require.Equal(t, ts, msg.Timestamp)
		break
	}
}
