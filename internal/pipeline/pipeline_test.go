package pipeline

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/caststream/scrcast/internal/encoder"
	"github.com/caststream/scrcast/internal/wire"
)

type fakeSource struct {
	cb func(data []byte, w, h, stride int, tsNs int64)
}

func (f *fakeSource) Init(displayHandle uintptr) error { return nil }
func (f *fakeSource) Start(targetFps int) error        { return nil }
func (f *fakeSource) Stop()                            {}
func (f *fakeSource) SetFrameCallback(fn func(data []byte, w, h, stride int, tsNs int64)) {
	f.cb = fn
}
func (f *fakeSource) Width() int  { return 1920 }
func (f *fakeSource) Height() int { return 1080 }

type fakeEncoderBackend struct {
	onOutput func(data []byte, tsNs int64, isKeyframe bool)
}

func (f *fakeEncoderBackend) New(w, h, fps int, bitrateMbps float64) error { return nil }
func (f *fakeEncoderBackend) Encode(frame []byte, tsNs int64) error       { return nil }
func (f *fakeEncoderBackend) UpdateSettings(bitrateMbps, quality01 float64, gamingBoost bool) error {
	return nil
}
func (f *fakeEncoderBackend) Flush() error { return nil }
func (f *fakeEncoderBackend) SetOutputCallback(fn func(data []byte, tsNs int64, isKeyframe bool)) {
	f.onOutput = fn
}
func (f *fakeEncoderBackend) Name() string { return "fake" }

type fakeInjector struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeInjector) record(name string) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
}

func (f *fakeInjector) SetDisplayBounds(x, y, w, h float64)     { f.record("bounds") }
func (f *fakeInjector) Move(sx, sy float64)                     { f.record("move") }
func (f *fakeInjector) LeftDown(sx, sy float64)                 { f.record("leftDown") }
func (f *fakeInjector) LeftUp(sx, sy float64)                   { f.record("leftUp") }
func (f *fakeInjector) RightDown(sx, sy float64)                { f.record("rightDown") }
func (f *fakeInjector) RightUp(sx, sy float64)                  { f.record("rightUp") }
func (f *fakeInjector) Scroll(sx, sy, dx, dy float64)           { f.record("scroll") }
func (f *fakeInjector) DoubleClick(sx, sy float64)              { f.record("doubleClick") }
func (f *fakeInjector) Zoom(sx, sy float64, delta int)          { f.record("zoom") }

func newTestPipeline() (*Pipeline, *fakeInjector) {
	inj := &fakeInjector{}
	p := New(Config{Port: 0, EncoderSettings: encoder.DefaultSettings(60)},
		&fakeSource{}, &fakeEncoderBackend{}, inj)
	return p, inj
}

func TestSetDisplaySizeOnlyOverwritesNonZeroDimensions(t *testing.T) {
	p, _ := newTestPipeline()
	p.setDisplaySize(1920, 1080, 0)
	p.setDisplaySize(0, 0, 90)
	w, h, rot := p.DisplaySize()
	require.Equal(t, int32(1920), w)
	require.Equal(t, int32(1080), h)
	require.Equal(t, int32(90), rot)
}

func TestFpsOrDefaultFallsBackTo60(t *testing.T) {
	require.Equal(t, 60, fpsOrDefault(0))
	require.Equal(t, 60, fpsOrDefault(-5))
	require.Equal(t, 30, fpsOrDefault(30))
}

func TestOnConnectionSetsGestureBoundsFromTrackedDisplaySize(t *testing.T) {
	p, inj := newTestPipeline()
	p.setDisplaySize(1920, 1080, 0)
	p.onConnection(true)
	require.Contains(t, inj.calls, "bounds")
}

func TestOnConnectionIgnoresDisconnect(t *testing.T) {
	p, inj := newTestPipeline()
	p.onConnection(false)
	require.Empty(t, inj.calls)
}

func TestOnTouchDrivesGestureMachine(t *testing.T) {
	p, inj := newTestPipeline()
	p.setDisplaySize(1920, 1080, 0)
	p.onConnection(true)
	p.onTouch(&wire.Message{PointerCount: 1, X1: 0.5, Y1: 0.5, Action: wire.ActionDown})
	p.onTouch(&wire.Message{PointerCount: 1, X1: 0.5, Y1: 0.5, Action: wire.ActionUp})
	require.Contains(t, inj.calls, "leftDown")
	require.Contains(t, inj.calls, "leftUp")
}

func TestEncoderNameReportsBackendName(t *testing.T) {
	p, _ := newTestPipeline()
	require.Equal(t, "fake", p.EncoderName())
}
