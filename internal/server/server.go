// Package server implements the host-side Streaming Server: accepts at
// most one client, serializes sends, and dispatches inbound messages.
package server

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/caststream/scrcast/internal/applog"
	"github.com/caststream/scrcast/internal/metrics"
	"github.com/caststream/scrcast/internal/wire"
)

// State is the server's lifecycle state machine.
type State int32

const (
	StateStopped State = iota
	StateListening
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateListening:
		return "listening"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Option configures a Server at construction time.
type Option func(*Server)

// WithOnTouch registers the TOUCH_EVENT callback.
func WithOnTouch(fn func(msg *wire.Message)) Option {
	return func(s *Server) { s.onTouch = fn }
}

// WithOnConnection registers the connect/disconnect callback.
func WithOnConnection(fn func(connected bool)) Option {
	return func(s *Server) { s.onConnection = fn }
}

// WithOnStats registers the rolling stats callback.
func WithOnStats(fn func(fps, mbps float64)) Option {
	return func(s *Server) { s.onStats = fn }
}

// WithLogger overrides the default component logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// Server accepts at most one active client and serializes writes to it
// behind a single send mutex shared by VIDEO_FRAME, DISPLAY_CONFIG and
// PONG so wire messages never interleave.
type Server struct {
	log *slog.Logger

	onTouch      func(msg *wire.Message)
	onConnection func(connected bool)
	onStats      func(fps, mbps float64)

	state atomic.Int32

	listenerMu sync.Mutex
	listener   net.Listener
	stopCh     chan struct{}

	connMu sync.Mutex
	conn   net.Conn
	connID string

	sendMu sync.Mutex

	displayMu sync.Mutex
	width     int32
	height    int32
	rotation  int32

	statsMu     sync.Mutex
	statsBytes  int64
	statsFrames int64
	windowStart time.Time

	wg sync.WaitGroup
}

// New constructs a Server in the Stopped state.
func New(opts ...Option) *Server {
	s := &Server{log: applog.L("server")}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start binds TCP v4 on port (SO_REUSEADDR via net.ListenConfig default,
// backlog left to the OS default) and spawns the accept loop.
func (s *Server) Start(port int) error {
	if s.state.Load() != int32(StateStopped) {
		return fmt.Errorf("server: already started")
	}
	ln, err := net.Listen("tcp4", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	s.listenerMu.Lock()
	s.listener = ln
	s.listenerMu.Unlock()
	s.stopCh = make(chan struct{})
	s.state.Store(int32(StateListening))

	s.wg.Add(1)
	applog.GoSafe("server-accept", func() {
		defer s.wg.Done()
		s.acceptLoop(ln)
	})
	return nil
}

// Stop shuts down the listen socket (to unblock accept), closes the
// active client, and joins all spawned goroutines.
func (s *Server) Stop() {
	if s.state.Load() == int32(StateStopped) {
		return
	}
	close(s.stopCh)
	s.listenerMu.Lock()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.listenerMu.Unlock()
	s.closeClient()
	s.wg.Wait()
	s.state.Store(int32(StateStopped))
}

// IsClientConnected reports whether a client is currently active.
func (s *Server) IsClientConnected() bool {
	return s.state.Load() == int32(StateConnected)
}

// SetDisplaySize sets width/height/rotation and, if a client is
// connected, sends a fresh DISPLAY_CONFIG immediately.
func (s *Server) SetDisplaySize(w, h, rotation int32) {
	s.displayMu.Lock()
	s.width, s.height, s.rotation = w, h, rotation
	s.displayMu.Unlock()
	s.sendDisplayConfig()
}

// UpdateRotation updates rotation only; idempotent calls still emit one
// DISPLAY_CONFIG on the wire, matching spec.md's boundary behavior.
func (s *Server) UpdateRotation(rotation int32) {
	s.displayMu.Lock()
	s.rotation = rotation
	s.displayMu.Unlock()
	s.sendDisplayConfig()
}

func (s *Server) sendDisplayConfig() {
	s.displayMu.Lock()
	w, h, r := s.width, s.height, s.rotation
	s.displayMu.Unlock()

	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	conn := s.snapshotConn()
	if conn == nil {
		return
	}
	if _, err := conn.Write(wire.EncodeDisplayConfig(w, h, r)); err != nil {
		s.log.Warn("send DISPLAY_CONFIG failed", "err", err)
		s.disconnectFromSendFailure()
	}
}

// SendFrame writes a VIDEO_FRAME to the active client, if any. Frames
// larger than wire.MaxFrameSize are dropped with a log; a disconnected
// client silently drops the frame.
func (s *Server) SendFrame(data []byte) {
	if len(data) > wire.MaxFrameSize {
		s.log.Warn("dropping oversize frame", "size", len(data))
		metrics.IncDropped(metrics.DropOversize)
		return
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	conn := s.snapshotConn()
	if conn == nil {
		return
	}
	if _, err := conn.Write(wire.EncodeVideoFrame(data)); err != nil {
		s.log.Warn("send VIDEO_FRAME failed", "err", err)
		s.disconnectFromSendFailure()
		return
	}
	metrics.IncFramesSent(len(data))
	s.accumulateStats(len(data))
}

func (s *Server) sendPong(ts [8]byte) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	conn := s.snapshotConn()
	if conn == nil {
		return
	}
	if _, err := conn.Write(wire.EncodePong(ts)); err != nil {
		s.log.Warn("send PONG failed", "err", err)
		s.disconnectFromSendFailure()
	}
}

// snapshotConn briefly holds connMu to read the handle, then releases it
// before any I/O — the client mutex never guards the write itself.
func (s *Server) snapshotConn() net.Conn {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.conn
}

func (s *Server) accumulateStats(n int) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	if s.windowStart.IsZero() {
		s.windowStart = time.Now()
	}
	s.statsBytes += int64(n)
	s.statsFrames++
	elapsed := time.Since(s.windowStart)
	if elapsed < time.Second {
		return
	}
	fps := float64(s.statsFrames) / elapsed.Seconds()
	mbps := float64(s.statsBytes) * 8 / elapsed.Seconds() / 1e6
	s.statsBytes, s.statsFrames = 0, 0
	s.windowStart = time.Now()
	if s.onStats != nil {
		s.onStats(fps, mbps)
	}
}

func (s *Server) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			s.log.Warn("accept failed", "err", err)
			continue
		}
		s.acceptOne(conn)
	}
}

// acceptOne preempts any previous client (closing it and joining its
// receive goroutine) before installing the new one, so onConnection(false)
// for the old peer strictly precedes onConnection(true) for the new one.
func (s *Server) acceptOne(conn net.Conn) {
	s.closeClient()

	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}

	id := uuid.NewString()
	// sendMu is held from installing the connection until its
	// DISPLAY_CONFIG is written, so no VIDEO_FRAME can reach it first.
	s.sendMu.Lock()
	s.connMu.Lock()
	s.conn = conn
	s.connID = id
	s.connMu.Unlock()
	s.displayMu.Lock()
	w, h, r := s.width, s.height, s.rotation
	s.displayMu.Unlock()
	_, werr := conn.Write(wire.EncodeDisplayConfig(w, h, r))
	s.sendMu.Unlock()

	s.statsMu.Lock()
	s.statsBytes, s.statsFrames = 0, 0
	s.windowStart = time.Time{}
	s.statsMu.Unlock()

	s.state.Store(int32(StateConnected))
	metrics.SetActivePeer(true)
	if werr != nil {
		s.log.Warn("send DISPLAY_CONFIG failed", "err", werr)
		s.disconnectFromSendFailure()
	}
	if s.onConnection != nil {
		s.onConnection(true)
	}

	s.wg.Add(1)
	applog.GoSafe("server-recv-"+id, func() {
		defer s.wg.Done()
		s.receiveLoop(conn, id)
	})
}

// closeClient closes and clears the active client, if any, invoking
// onConnection(false) exactly once.
func (s *Server) closeClient() {
	s.connMu.Lock()
	conn := s.conn
	s.conn = nil
	s.connID = ""
	s.connMu.Unlock()
	if conn == nil {
		return
	}
	_ = conn.Close()
	s.state.Store(int32(StateListening))
	metrics.SetActivePeer(false)
	if s.onConnection != nil {
		s.onConnection(false)
	}
}

func (s *Server) disconnectFromSendFailure() {
	s.connMu.Lock()
	conn := s.conn
	s.conn = nil
	s.connID = ""
	s.connMu.Unlock()
	if conn == nil {
		return
	}
	_ = conn.Close()
	s.state.Store(int32(StateListening))
	metrics.SetActivePeer(false)
	if s.onConnection != nil {
		s.onConnection(false)
	}
}

// receiveLoop reads one message at a time off conn until a read error,
// unknown tag, or protocol violation, then closes the client and returns
// to Listening. It is a no-op once a newer client has preempted it (the
// connID check guards against a stale goroutine racing a new accept).
func (s *Server) receiveLoop(conn net.Conn, connID string) {
	buf := make([]byte, 0, 64*1024)
	tmp := make([]byte, 32*1024)

	for {
		n, err := conn.Read(tmp)
		if err != nil {
			s.log.Debug("receive loop ending", "err", err)
			s.closeIfCurrent(connID)
			return
		}
		buf = append(buf, tmp[:n]...)

		for {
			msg, consumed, derr := wire.Decode(buf)
			if derr == wire.ErrNeedMore {
				break
			}
			if derr != nil {
				s.log.Warn("protocol violation", "err", derr)
				metrics.IncError(wire.MetricLabel(derr))
				s.closeIfCurrent(connID)
				return
			}
			buf = buf[consumed:]
			s.dispatch(msg)
		}
	}
}

func (s *Server) dispatch(msg *wire.Message) {
	switch msg.Tag {
	case wire.TagTouchEvent:
		if s.onTouch != nil {
			s.onTouch(msg)
		}
	case wire.TagPing:
		s.sendPong(msg.Timestamp)
	default:
		s.log.Debug("ignoring unexpected tag from client", "tag", msg.Tag)
	}
}

// closeIfCurrent closes the client only if connID still names the active
// connection, avoiding a stale receive goroutine tearing down a newer one.
func (s *Server) closeIfCurrent(connID string) {
	s.connMu.Lock()
	current := s.connID
	s.connMu.Unlock()
	if current != connID {
		return
	}
	s.closeClient()
}
