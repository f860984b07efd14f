// Package gesture implements the touch interpretation state machine: it
// turns a stream of normalized touch samples into pointer commands for
// an injector, entirely independent of the wire and injector backends.
package gesture

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/caststream/scrcast/internal/applog"
)

// Tunable constants. These must match exactly across host and client
// builds for consistent feel, since the machine itself runs host-side
// driven by samples relayed from the client.
const (
	TapMaxDistance       = 15.0
	TapMaxTime           = 250 * time.Millisecond
	DoubleTapMaxTime     = 400 * time.Millisecond
	DoubleTapMaxDistance = 20.0
	LongPressTime        = 500 * time.Millisecond
	ScrollSensitivity    = 1.2
	PinchMinDistance     = 20.0
	MomentumDecay        = 0.92
	MomentumMinVelocity  = 0.5
	MomentumInterval     = 16 * time.Millisecond
)

// State is one point in the gesture machine's lifecycle.
type State int

const (
	Idle State = iota
	Pending
	Scrolling
	LongPressReady
	Dragging
	TwoFingerScroll
	Pinching
)

// Action is an touch action value matching the wire TOUCH_EVENT encoding
// (down=0, move=1, up=2), duplicated here so gesture has no dependency
// on the wire package.
type Action int32

const (
	ActionDown Action = 0
	ActionMove Action = 1
	ActionUp   Action = 2
)

// Sample is one normalized touch reading relayed from the server's
// receive thread.
type Sample struct {
	PointerCount uint8
	X1, Y1       float32
	X2, Y2       float32
	Action       Action
}

// Sink is the injector-facing output of the machine — a pure capability
// interface with no knowledge of gesture state.
type Sink interface {
	SetDisplayBounds(x, y, w, h float64)
	Move(sx, sy float64)
	LeftDown(sx, sy float64)
	LeftUp(sx, sy float64)
	RightDown(sx, sy float64)
	RightUp(sx, sy float64)
	Scroll(sx, sy, dx, dy float64)
	DoubleClick(sx, sy float64)
	Zoom(sx, sy float64, delta int)
}

type tapRecord struct {
	valid bool
	x, y  float64
	t     time.Time
}

type bounds struct {
	originX, originY, width, height float64
}

// Machine owns all gesture state behind a single mutex. Samples arrive
// serialized from the network thread; momentum and the long-press timer
// run on their own goroutines and also take the mutex. Injector calls are
// never made while the mutex is held — state is updated and a plain
// action list captured first, then the mutex is released before dispatch.
type Machine struct {
	log  *slog.Logger
	sink Sink

	mu     sync.Mutex
	b      bounds
	state  State
	startX, startY float64
	startTime      time.Time
	lastX, lastY   float64
	lastMoveTime   time.Time
	lastScrollDX   float64
	lastScrollDY   float64
	lastTap        tapRecord

	longPressGen    int
	longPressCancel chan struct{}

	twoDecided    bool
	twoInitDist   float64
	twoLastDist   float64
	twoInitMid    [2]float64
	twoLastMid    [2]float64

	momentumGen    int
	momentumActive bool
}

// New constructs a Machine in Idle state, emitting to sink.
func New(sink Sink) *Machine {
	return &Machine{log: applog.L("gesture"), sink: sink}
}

// SetDisplayBounds configures the denormalization rectangle used to turn
// [0,1] touch coordinates into screen pixels, and forwards the bounds to
// the injector.
func (m *Machine) SetDisplayBounds(x, y, w, h float64) {
	m.mu.Lock()
	m.b = bounds{originX: x, originY: y, width: w, height: h}
	m.mu.Unlock()
	m.sink.SetDisplayBounds(x, y, w, h)
}

func (m *Machine) toScreen(nx, ny float32) (float64, float64) {
	return m.b.originX + float64(nx)*m.b.width, m.b.originY + float64(ny)*m.b.height
}

// Process interprets one touch sample and dispatches the resulting
// injector calls, if any.
func (m *Machine) Process(s Sample) {
	now := time.Now()
	m.mu.Lock()
	var acts []func()
	if s.PointerCount == 2 {
		acts = m.processTwoFinger(s, now)
	} else {
		acts = m.processOneFinger(s, now)
	}
	m.mu.Unlock()
	for _, a := range acts {
		a()
	}
}

func dist(x1, y1, x2, y2 float64) float64 {
	dx, dy := x2-x1, y2-y1
	return math.Sqrt(dx*dx + dy*dy)
}

func (m *Machine) cancelLongPress() {
	if m.longPressCancel != nil {
		close(m.longPressCancel)
		m.longPressCancel = nil
	}
}

func (m *Machine) armLongPress() {
	m.cancelLongPress()
	cancel := make(chan struct{})
	m.longPressCancel = cancel
	m.longPressGen++
	gen := m.longPressGen
	applog.GoSafe("gesture-longpress", func() {
		select {
		case <-time.After(LongPressTime):
			m.onLongPressFired(gen)
		case <-cancel:
		}
	})
}

func (m *Machine) onLongPressFired(gen int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Pending || gen != m.longPressGen {
		return
	}
	if dist(m.startX, m.startY, m.lastX, m.lastY) <= TapMaxDistance {
		m.state = LongPressReady
	}
}

func (m *Machine) processOneFinger(s Sample, now time.Time) []func() {
	sx, sy := m.toScreen(s.X1, s.Y1)
	var acts []func()

	switch m.state {
	case Idle:
		if s.Action == ActionDown {
			m.momentumGen++ // any new down preempts momentum
			m.momentumActive = false
			m.state = Pending
			m.startX, m.startY = sx, sy
			m.lastX, m.lastY = sx, sy
			m.startTime = now
			m.lastMoveTime = now
			m.armLongPress()
			acts = append(acts, func() { m.sink.Move(sx, sy) })
		}

	case Pending:
		switch s.Action {
		case ActionMove:
			if dist(m.startX, m.startY, sx, sy) > TapMaxDistance {
				m.cancelLongPress()
				m.state = Scrolling
				dx := (sx - m.lastX) * ScrollSensitivity
				dy := (sy - m.lastY) * ScrollSensitivity
				m.lastX, m.lastY = sx, sy
				m.lastScrollDX, m.lastScrollDY = dx, dy
				m.lastMoveTime = now
				acts = append(acts, func() { m.sink.Scroll(sx, sy, dx, dy) })
			} else {
				m.lastX, m.lastY = sx, sy
			}
		case ActionUp:
			m.cancelLongPress()
			elapsed := now.Sub(m.startTime)
			if elapsed <= TapMaxTime && dist(m.startX, m.startY, sx, sy) <= TapMaxDistance {
				if m.lastTap.valid && now.Sub(m.lastTap.t) < DoubleTapMaxTime &&
					dist(m.lastTap.x, m.lastTap.y, sx, sy) <= DoubleTapMaxDistance {
					m.lastTap.valid = false
					acts = append(acts, func() { m.sink.DoubleClick(sx, sy) })
				} else {
					m.lastTap = tapRecord{valid: true, x: sx, y: sy, t: now}
					acts = append(acts, func() { m.sink.LeftDown(sx, sy) }, func() { m.sink.LeftUp(sx, sy) })
				}
			}
			m.state = Idle
		}

	case LongPressReady:
		switch s.Action {
		case ActionMove:
			if dist(m.startX, m.startY, sx, sy) > TapMaxDistance {
				m.state = Dragging
				startX, startY := m.startX, m.startY
				m.lastX, m.lastY = sx, sy
				m.lastMoveTime = now
				acts = append(acts,
					func() { m.sink.LeftDown(startX, startY) },
					func() { m.sink.Move(sx, sy) },
				)
			}
		case ActionUp:
			m.state = Idle
			acts = append(acts, func() { m.sink.RightDown(sx, sy) }, func() { m.sink.RightUp(sx, sy) })
		}

	case Scrolling:
		switch s.Action {
		case ActionMove:
			dx := (sx - m.lastX) * ScrollSensitivity
			dy := (sy - m.lastY) * ScrollSensitivity
			gap := now.Sub(m.lastMoveTime)
			if gap > 0 && gap < 100*time.Millisecond {
				m.lastScrollDX, m.lastScrollDY = dx, dy
			}
			m.lastX, m.lastY = sx, sy
			m.lastMoveTime = now
			acts = append(acts, func() { m.sink.Scroll(sx, sy, dx, dy) })
		case ActionUp:
			gap := now.Sub(m.lastMoveTime)
			if gap < 50*time.Millisecond && (math.Abs(m.lastScrollDX) > 2 || math.Abs(m.lastScrollDY) > 2) {
				m.startMomentum(sx, sy, m.lastScrollDX*6, m.lastScrollDY*6)
			}
			m.state = Idle
		}

	case Dragging:
		switch s.Action {
		case ActionMove:
			m.lastX, m.lastY = sx, sy
			acts = append(acts, func() { m.sink.Move(sx, sy) })
		case ActionUp:
			m.state = Idle
			acts = append(acts, func() { m.sink.LeftUp(sx, sy) })
		}
	}
	return acts
}

func (m *Machine) processTwoFinger(s Sample, now time.Time) []func() {
	sx1, sy1 := m.toScreen(s.X1, s.Y1)
	sx2, sy2 := m.toScreen(s.X2, s.Y2)
	midX, midY := (sx1+sx2)/2, (sy1+sy2)/2
	d := dist(sx1, sy1, sx2, sy2)

	switch s.Action {
	case ActionDown:
		m.cancelLongPress()
		m.momentumGen++ // any new down preempts momentum
		m.momentumActive = false
		m.state = Idle
		m.twoDecided = false
		m.twoInitDist = d
		m.twoLastDist = d
		m.twoInitMid = [2]float64{midX, midY}
		m.twoLastMid = [2]float64{midX, midY}
		return nil

	case ActionMove:
		if !m.twoDecided {
			// The deciding move falls through and emits its delta measured
			// from the down sample (twoLastDist/twoLastMid still hold it).
			if math.Abs(d-m.twoInitDist) > PinchMinDistance {
				m.state = Pinching
				m.twoDecided = true
			} else if dist(midX, midY, m.twoInitMid[0], m.twoInitMid[1]) > TapMaxDistance {
				m.state = TwoFingerScroll
				m.twoDecided = true
			} else {
				return nil
			}
		}
		switch m.state {
		case TwoFingerScroll:
			dx := (midX - m.twoLastMid[0]) * ScrollSensitivity
			dy := (midY - m.twoLastMid[1]) * ScrollSensitivity
			m.twoLastMid = [2]float64{midX, midY}
			return []func(){func() { m.sink.Scroll(midX, midY, dx, dy) }}
		case Pinching:
			delta := int(math.Round((d - m.twoLastDist) * 0.5))
			m.twoLastDist = d
			return []func(){func() { m.sink.Zoom(midX, midY, delta) }}
		}
		return nil

	case ActionUp:
		m.state = Idle
		m.twoDecided = false
		return nil
	}
	return nil
}

// startMomentum spawns the momentum goroutine; any subsequent Down event
// preempts it by bumping momentumGen, which the tick loop observes.
func (m *Machine) startMomentum(anchorX, anchorY, vx, vy float64) {
	m.momentumGen++
	gen := m.momentumGen
	m.momentumActive = true
	applog.GoSafe("gesture-momentum", func() {
		m.runMomentum(gen, anchorX, anchorY, vx, vy)
	})
}

func (m *Machine) runMomentum(gen int, anchorX, anchorY, vx, vy float64) {
	for {
		time.Sleep(MomentumInterval)

		m.mu.Lock()
		if gen != m.momentumGen {
			m.mu.Unlock()
			return
		}
		if math.Abs(vx) < MomentumMinVelocity && math.Abs(vy) < MomentumMinVelocity {
			m.momentumActive = false
			m.mu.Unlock()
			return
		}
		curVX, curVY := vx, vy
		vx *= MomentumDecay
		vy *= MomentumDecay
		m.mu.Unlock()

		m.sink.Scroll(anchorX, anchorY, curVX, curVY)
	}
}

// State returns the machine's current state, for diagnostics/tests.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}
