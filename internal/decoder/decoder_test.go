package decoder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	newCalls    int
	decodeCalls [][]byte
	pending     []Output
	resUpdates  [][2]int
}

func (f *fakeBackend) New(surface any, refreshRateHz int) error { f.newCalls++; return nil }

func (f *fakeBackend) UpdateResolution(w, h int) error {
	f.resUpdates = append(f.resUpdates, [2]int{w, h})
	return nil
}

func (f *fakeBackend) Decode(data []byte, tsNs int64) (bool, error) {
	f.decodeCalls = append(f.decodeCalls, data)
	f.pending = append(f.pending, Output{Frame: data})
	return true, nil
}

func (f *fakeBackend) Drain() []Output {
	out := f.pending
	f.pending = nil
	return out
}

func (f *fakeBackend) Release() {}

func TestIngestDropsStaleFramesWithoutSubmitting(t *testing.T) {
	fb := &fakeBackend{}
	a := New(fb, Config{RefreshRateHz: 60})
	staleTs := time.Now().Add(-StaleBudget - time.Second).UnixNano()
	a.Ingest([]byte("old"), staleTs)
	require.Empty(t, fb.decodeCalls)
	stale, _ := a.Dropped()
	require.Equal(t, int64(1), stale)
}

func TestIngestSubmitsFreshFrameAndDeliversOutput(t *testing.T) {
	fb := &fakeBackend{}
	a := New(fb, Config{RefreshRateHz: 60})
	var got Output
	a.SetOutputCallback(func(o Output) { got = o })
	a.Ingest([]byte("fresh"), time.Now().UnixNano())
	require.Equal(t, []byte("fresh"), got.Frame)
	require.Greater(t, got.PresentsAt, time.Now().UnixNano()-int64(time.Second))
}

func TestUpdateResolutionNoopWhenUnchanged(t *testing.T) {
	fb := &fakeBackend{}
	a := New(fb, Config{Width: 1920, Height: 1080})
	require.NoError(t, a.UpdateResolution(1920, 1080))
	require.Empty(t, fb.resUpdates)
}

func TestUpdateResolutionForwardsOnChange(t *testing.T) {
	fb := &fakeBackend{}
	a := New(fb, Config{Width: 1920, Height: 1080})
	require.NoError(t, a.UpdateResolution(1280, 720))
	require.Equal(t, [][2]int{{1280, 720}}, fb.resUpdates)
}

func TestDroppedCountersStartAtZero(t *testing.T) {
	a := New(&fakeBackend{}, Config{})
	stale, timeout := a.Dropped()
	require.Zero(t, stale)
	require.Zero(t, timeout)
}
