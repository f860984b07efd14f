package capture

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu  sync.Mutex
	cb  func(data []byte, w, h, stride int, tsNs int64)
	w   int
	h   int
}

func (f *fakeSource) Init(uintptr) error { return nil }
func (f *fakeSource) Start(int) error    { return nil }
func (f *fakeSource) Stop()              {}
func (f *fakeSource) SetFrameCallback(fn func(data []byte, w, h, stride int, tsNs int64)) {
	f.mu.Lock()
	f.cb = fn
	f.mu.Unlock()
}
func (f *fakeSource) Width() int  { return f.w }
func (f *fakeSource) Height() int { return f.h }
func (f *fakeSource) push(data []byte, tsNs int64) {
	f.mu.Lock()
	cb := f.cb
	f.mu.Unlock()
	if cb != nil {
		cb(data, f.w, f.h, f.w*4, tsNs)
	}
}

func TestBackpressureDropsAboveTwoPending(t *testing.T) {
	src := &fakeSource{w: 100, h: 100}
	a := New(src, Config{TargetFps: 60, SelfPaced: true})
	var delivered atomic.Int32
	a.SetFrameCallback(func(data []byte, w, h, stride int, tsNs int64) {
		delivered.Add(1)
	})
	require.NoError(t, a.Start())
	defer a.Stop()

	a.PendingEncodes.Store(2)
	src.push([]byte{1, 2, 3}, time.Now().UnixNano())
	require.Equal(t, int32(0), delivered.Load())

	a.PendingEncodes.Store(1)
	src.push([]byte{1, 2, 3}, time.Now().UnixNano())
	require.Eventually(t, func() bool { return delivered.Load() == 1 }, time.Second, time.Millisecond)
}

func TestIdleResendRedeliversLastFrame(t *testing.T) {
	src := &fakeSource{w: 10, h: 10}
	a := New(src, Config{TargetFps: 120, SelfPaced: true})
	var count atomic.Int32
	a.SetFrameCallback(func(data []byte, w, h, stride int, tsNs int64) {
		count.Add(1)
	})
	require.NoError(t, a.Start())
	defer a.Stop()

	src.push([]byte{9, 9}, time.Now().UnixNano())
	require.Eventually(t, func() bool { return count.Load() >= 3 }, 500*time.Millisecond, time.Millisecond)
}
