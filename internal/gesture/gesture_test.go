package gesture

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recordedCall struct {
	kind           string
	sx, sy, dx, dy float64
	delta          int
}

type fakeSink struct {
	mu    sync.Mutex
	calls []recordedCall
}

func (f *fakeSink) add(c recordedCall) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
}

func (f *fakeSink) snapshot() []recordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]recordedCall, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeSink) SetDisplayBounds(x, y, w, h float64) {}
func (f *fakeSink) Move(sx, sy float64)                 { f.add(recordedCall{kind: "move", sx: sx, sy: sy}) }
func (f *fakeSink) LeftDown(sx, sy float64)             { f.add(recordedCall{kind: "leftDown", sx: sx, sy: sy}) }
func (f *fakeSink) LeftUp(sx, sy float64)               { f.add(recordedCall{kind: "leftUp", sx: sx, sy: sy}) }
func (f *fakeSink) RightDown(sx, sy float64)            { f.add(recordedCall{kind: "rightDown", sx: sx, sy: sy}) }
func (f *fakeSink) RightUp(sx, sy float64)              { f.add(recordedCall{kind: "rightUp", sx: sx, sy: sy}) }
func (f *fakeSink) Scroll(sx, sy, dx, dy float64) {
	f.add(recordedCall{kind: "scroll", sx: sx, sy: sy, dx: dx, dy: dy})
}
func (f *fakeSink) DoubleClick(sx, sy float64) {
	f.add(recordedCall{kind: "doubleClick", sx: sx, sy: sy})
}
func (f *fakeSink) Zoom(sx, sy float64, delta int) {
	f.add(recordedCall{kind: "zoom", sx: sx, sy: sy, delta: delta})
}

func newTestMachine() (*Machine, *fakeSink) {
	sink := &fakeSink{}
	m := New(sink)
	m.SetDisplayBounds(0, 0, 1920, 1080)
	return m, sink
}

// TestDoubleTapTrace reproduces the exact sample sequence and expected
// injector trace from the end-to-end double-tap scenario.
func TestDoubleTapTrace(t *testing.T) {
	m, sink := newTestMachine()

	m.Process(Sample{PointerCount: 1, X1: 0.5, Y1: 0.5, Action: ActionDown})
	m.Process(Sample{PointerCount: 1, X1: 0.5, Y1: 0.5, Action: ActionUp})
	m.Process(Sample{PointerCount: 1, X1: 0.505, Y1: 0.505, Action: ActionDown})
	m.Process(Sample{PointerCount: 1, X1: 0.505, Y1: 0.505, Action: ActionUp})

	calls := sink.snapshot()
	require.Len(t, calls, 5)
	require.Equal(t, "move", calls[0].kind)
	require.InDelta(t, 960, calls[0].sx, 0.001)
	require.InDelta(t, 540, calls[0].sy, 0.001)
	require.Equal(t, "leftDown", calls[1].kind)
	require.Equal(t, "leftUp", calls[2].kind)
	require.Equal(t, "move", calls[3].kind)
	require.InDelta(t, 969.6, calls[3].sx, 0.001)
	require.InDelta(t, 545.4, calls[3].sy, 0.001)
	require.Equal(t, "doubleClick", calls[4].kind)
}

// TestLongPressThenDragTrace reproduces the long-press-then-drag scenario,
// waiting on the real long-press timer since the machine has no injected
// clock for it.
func TestLongPressThenDragTrace(t *testing.T) {
	m, sink := newTestMachine()

	m.Process(Sample{PointerCount: 1, X1: 0.1, Y1: 0.1, Action: ActionDown})

	require.Eventually(t, func() bool {
		return m.State() == LongPressReady
	}, 2*time.Second, 5*time.Millisecond)

	m.Process(Sample{PointerCount: 1, X1: 0.2, Y1: 0.2, Action: ActionMove})
	m.Process(Sample{PointerCount: 1, X1: 0.2, Y1: 0.2, Action: ActionUp})

	calls := sink.snapshot()
	require.Len(t, calls, 4)
	require.Equal(t, "move", calls[0].kind)
	require.InDelta(t, 192, calls[0].sx, 0.001)
	require.InDelta(t, 108, calls[0].sy, 0.001)
	require.Equal(t, "leftDown", calls[1].kind)
	require.InDelta(t, 192, calls[1].sx, 0.001)
	require.InDelta(t, 108, calls[1].sy, 0.001)
	require.Equal(t, "move", calls[2].kind)
	require.InDelta(t, 384, calls[2].sx, 0.001)
	require.InDelta(t, 216, calls[2].sy, 0.001)
	require.Equal(t, "leftUp", calls[3].kind)
}

func TestDoubleTapExactlyAtThresholdIsSingleTap(t *testing.T) {
	m, sink := newTestMachine()

	m.Process(Sample{PointerCount: 1, X1: 0.5, Y1: 0.5, Action: ActionDown})
	m.Process(Sample{PointerCount: 1, X1: 0.5, Y1: 0.5, Action: ActionUp})

	// Force the recorded tap to be exactly DoubleTapMaxTime in the past;
	// the boundary rule is strict "<", so an equal gap must not combine.
	m.mu.Lock()
	m.lastTap.t = time.Now().Add(-DoubleTapMaxTime)
	m.mu.Unlock()

	m.Process(Sample{PointerCount: 1, X1: 0.5, Y1: 0.5, Action: ActionDown})
	m.Process(Sample{PointerCount: 1, X1: 0.5, Y1: 0.5, Action: ActionUp})

	calls := sink.snapshot()
	var doubleClicks int
	for _, c := range calls {
		if c.kind == "doubleClick" {
			doubleClicks++
		}
	}
	require.Zero(t, doubleClicks)
}

func TestMovementExactlyAtTapMaxDistanceIsStillATap(t *testing.T) {
	m, sink := newTestMachine()

	m.Process(Sample{PointerCount: 1, X1: 0.5, Y1: 0.5, Action: ActionDown})
	// TapMaxDistance is 15px; move exactly 15px in x at 1920 width (1px = 1/1920).
	dxNorm := float32(TapMaxDistance / 1920.0)
	m.Process(Sample{PointerCount: 1, X1: 0.5 + dxNorm, Y1: 0.5, Action: ActionMove})
	m.Process(Sample{PointerCount: 1, X1: 0.5 + dxNorm, Y1: 0.5, Action: ActionUp})

	require.Equal(t, Idle, m.State())
	calls := sink.snapshot()
	var scrolls int
	for _, c := range calls {
		if c.kind == "scroll" {
			scrolls++
		}
	}
	require.Zero(t, scrolls)
}

func TestTwoFingerPinchEmitsZoom(t *testing.T) {
	m, sink := newTestMachine()

	m.Process(Sample{PointerCount: 2, X1: 0.4, Y1: 0.5, X2: 0.6, Y2: 0.5, Action: ActionDown})
	m.Process(Sample{PointerCount: 2, X1: 0.3, Y1: 0.5, X2: 0.7, Y2: 0.5, Action: ActionMove})

	require.Equal(t, Pinching, m.State())
	calls := sink.snapshot()
	require.NotEmpty(t, calls)
	require.Equal(t, "zoom", calls[len(calls)-1].kind)
}
