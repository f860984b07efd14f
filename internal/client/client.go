// Package client implements the device-side Streaming Client: a receive
// loop dispatching VIDEO_FRAME/DISPLAY_CONFIG, and a dedicated touch-send
// path so gesture latency never waits behind a video write.
package client

import (
	"fmt"
	"log/slog"
	"net"
	"runtime"
	"sync"
	"time"

	"github.com/caststream/scrcast/internal/applog"
	"github.com/caststream/scrcast/internal/metrics"
	"github.com/caststream/scrcast/internal/wire"
)

// Option configures a Client at construction time.
type Option func(*Client)

// WithOnVideoFrame registers the VIDEO_FRAME callback.
func WithOnVideoFrame(fn func(data []byte)) Option {
	return func(c *Client) { c.onVideoFrame = fn }
}

// WithOnDisplayConfig registers the DISPLAY_CONFIG callback.
func WithOnDisplayConfig(fn func(width, height, rotation int32)) Option {
	return func(c *Client) { c.onDisplayConfig = fn }
}

// WithOnDisconnect registers a callback fired when the connection drops.
func WithOnDisconnect(fn func(err error)) Option {
	return func(c *Client) { c.onDisconnect = fn }
}

// WithLogger overrides the default component logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// Client is the device-side half of the wire protocol.
type Client struct {
	log *slog.Logger

	onVideoFrame    func(data []byte)
	onDisplayConfig func(width, height, rotation int32)
	onDisconnect    func(err error)

	connMu sync.Mutex
	conn   net.Conn

	touchMu   sync.Mutex
	touchCh   chan []byte
	touchDone chan struct{}

	wg sync.WaitGroup
}

// New constructs a disconnected Client.
func New(opts ...Option) *Client {
	c := &Client{log: applog.L("client")}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Connect dials host:port and starts the receive loop and the dedicated
// touch-send goroutine. The touch channel is small and bounded: under
// back-pressure we drop the oldest pending touch rather than block the
// caller, since a stale touch sample is worse than a dropped one.
func (c *Client) Connect(host string, port int) error {
	conn, err := net.DialTimeout("tcp4", fmt.Sprintf("%s:%d", host, port), 5*time.Second)
	if err != nil {
		return fmt.Errorf("client: dial: %w", err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	c.touchCh = make(chan []byte, 8)
	c.touchDone = make(chan struct{})

	c.wg.Add(2)
	applog.GoSafe("client-receive", func() {
		defer c.wg.Done()
		c.receiveLoop(conn)
	})
	applog.GoSafe("client-touch-send", func() {
		defer c.wg.Done()
		c.touchSendLoop(conn)
	})
	return nil
}

// Disconnect closes the socket and joins the receive and touch goroutines.
func (c *Client) Disconnect() {
	c.connMu.Lock()
	conn := c.conn
	c.conn = nil
	c.connMu.Unlock()
	if conn == nil {
		return
	}
	_ = conn.Close()
	if c.touchDone != nil {
		close(c.touchDone)
	}
	c.wg.Wait()
}

// SendTouch encodes and enqueues a TOUCH_EVENT for the dedicated send
// goroutine. pointerCount selects the 1- or 2-pointer wire layout.
func (c *Client) SendTouch(pointerCount uint8, x1, y1, x2, y2 float32, action wire.TouchAction) {
	payload, err := wire.EncodeTouchEvent(pointerCount, x1, y1, x2, y2, action)
	if err != nil {
		c.log.Warn("dropping malformed touch event", "err", err)
		return
	}
	select {
	case c.touchCh <- payload:
	default:
		select {
		case <-c.touchCh:
		default:
		}
		select {
		case c.touchCh <- payload:
		default:
		}
	}
}

// touchSendLoop owns the socket write path for TOUCH_EVENT, isolated from
// the bulkier video-framed reads so a gesture never waits on decode work.
// It runs pinned to its own OS thread.
func (c *Client) touchSendLoop(conn net.Conn) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	for {
		select {
		case <-c.touchDone:
			return
		case payload := <-c.touchCh:
			if _, err := conn.Write(payload); err != nil {
				c.log.Warn("touch send failed", "err", err)
				return
			}
		}
	}
}

func (c *Client) receiveLoop(conn net.Conn) {
	buf := make([]byte, 0, 256*1024)
	tmp := make([]byte, 64*1024)

	for {
		n, err := conn.Read(tmp)
		if err != nil {
			c.log.Debug("receive loop ending", "err", err)
			if c.onDisconnect != nil {
				c.onDisconnect(err)
			}
			return
		}
		buf = append(buf, tmp[:n]...)

		for {
			msg, consumed, derr := wire.Decode(buf)
			if derr == wire.ErrNeedMore {
				break
			}
			if derr != nil {
				c.log.Warn("protocol violation", "err", derr)
				metrics.IncError(wire.MetricLabel(derr))
				if c.onDisconnect != nil {
					c.onDisconnect(derr)
				}
				return
			}
			buf = buf[consumed:]
			c.dispatch(msg)
		}
	}
}

func (c *Client) dispatch(msg *wire.Message) {
	switch msg.Tag {
	case wire.TagVideoFrame:
		metrics.IncFramesReceived()
		if c.onVideoFrame != nil {
			c.onVideoFrame(msg.FrameData)
		}
	case wire.TagDisplayConfig:
		if c.onDisplayConfig != nil {
			c.onDisplayConfig(msg.Width, msg.Height, msg.Rotation)
		}
	case wire.TagPong:
		// Round-trip latency measurement is left to the caller, which can
		// correlate msg.Timestamp against the ping it sent.
	default:
		c.log.Debug("ignoring unexpected tag from host", "tag", msg.Tag)
	}
}

// Ping writes a PING with an opaque 8-byte timestamp payload, letting the
// caller encode whatever clock value it wants echoed back in the PONG.
func (c *Client) Ping(ts [8]byte) error {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		return fmt.Errorf("client: not connected")
	}
	_, err := conn.Write(wire.EncodePing(ts))
	return err
}
