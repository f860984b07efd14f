package client

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/caststream/scrcast/internal/wire"
)

func listenOnce(t *testing.T) (net.Listener, chan net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()
	return ln, accepted
}

func lnPort(ln net.Listener) int {
	return ln.Addr().(*net.TCPAddr).Port
}

func TestDispatchesVideoFrameAndDisplayConfig(t *testing.T) {
	ln, accepted := listenOnce(t)
	defer ln.Close()

	frames := make(chan []byte, 4)
	configs := make(chan [3]int32, 4)
	c := New(
		WithOnVideoFrame(func(data []byte) { frames <- append([]byte(nil), data...) }),
		WithOnDisplayConfig(func(w, h, r int32) { configs <- [3]int32{w, h, r} }),
	)
	require.NoError(t, c.Connect("127.0.0.1", lnPort(ln)))
	defer c.Disconnect()

	srv := <-accepted
	defer srv.Close()

	_, err := srv.Write(wire.EncodeDisplayConfig(1920, 1080, 90))
	require.NoError(t, err)
	_, err = srv.Write(wire.EncodeVideoFrame([]byte{9, 9, 9}))
	require.NoError(t, err)

	select {
	case cfg := <-configs:
		require.Equal(t, [3]int32{1920, 1080, 90}, cfg)
	case <-time.After(time.Second):
		t.Fatal("display config not dispatched")
	}
	select {
	case f := <-frames:
		require.Equal(t, []byte{9, 9, 9}, f)
	case <-time.After(time.Second):
		t.Fatal("video frame not dispatched")
	}
}

func TestSendTouchWritesEncodedPayload(t *testing.T) {
	ln, accepted := listenOnce(t)
	defer ln.Close()

	c := New()
	require.NoError(t, c.Connect("127.0.0.1", lnPort(ln)))
	defer c.Disconnect()

	srv := <-accepted
	defer srv.Close()

	c.SendTouch(1, 0.25, 0.5, 0, 0, wire.ActionDown)

	buf := make([]byte, 0, 64)
	tmp := make([]byte, 64)
	srv.SetReadDeadline(time.Now().Add(time.Second))
	for {
		n, err := srv.Read(tmp)
		require.NoError(t, err)
		buf = append(buf, tmp[:n]...)
		msg, _, derr := wire.Decode(buf)
		if derr == wire.ErrNeedMore {
			continue
		}
		require.NoError(t, derr)
		require.Equal(t, wire.TagTouchEvent, msg.Tag)
		require.Equal(t, uint8(1), msg.PointerCount)
		break
	}
}

func TestDisconnectCallbackFiresOnPeerClose(t *testing.T) {
	ln, accepted := listenOnce(t)
	defer ln.Close()

	done := make(chan struct{})
	c := New(WithOnDisconnect(func(err error) { close(done) }))
	require.NoError(t, c.Connect("127.0.0.1", lnPort(ln)))

	srv := <-accepted
	srv.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("onDisconnect not called")
	}
}
