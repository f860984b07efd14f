// Package decoder adapts an external, opaque low-latency HEVC decoder,
// dropping stale frames and releasing output aligned to vsync.
package decoder

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/caststream/scrcast/internal/applog"
	"github.com/caststream/scrcast/internal/metrics"
)

// StaleBudget is the freshness budget: frames older than this at ingest
// are dropped before queueing.
const StaleBudget = 50 * time.Millisecond

// SubmitTimeout bounds how long the adapter waits for an input buffer
// from the backend before treating it as encoder backpressure.
const SubmitTimeout = 5 * time.Millisecond

// Backend is the external, opaque codec collaborator (out of scope per
// the core spec; consumed only through this interface).
type Backend interface {
	New(surface any, refreshRateHz int) error
	UpdateResolution(w, h int) error
	// Decode submits compressed bytes with the capture timestamp carried
	// in the codec's PTS field, blocking up to SubmitTimeout for an input
	// buffer; ok=false means no buffer was available in time.
	Decode(data []byte, tsNs int64) (ok bool, err error)
	// Drain returns all currently available decoded output buffers.
	Drain() []Output
	Release()
}

// Output is one decoded frame ready for presentation. Frame is an opaque
// handle to the backend's native output; ffmpegBackend resolves this to a
// tightly packed planar YUV420 buffer before it ever reaches a Backend
// consumer, since that is the one format every presentation surface in
// this module knows how to push to a texture. A backend producing a
// different native type (a GPU texture handle, say) would resolve it to
// whatever its paired presentation surface expects instead.
type Output struct {
	Frame      any
	PresentsAt int64 // vsync-aligned presentation timestamp, ns
}

// Config configures the adapter.
type Config struct {
	Width, Height int
	RefreshRateHz int
	LowLatency    bool
	MaxBFrames    int
}

// Stats is the rolling telemetry emitted every 60 output frames.
type Stats struct {
	Fps      float64
	StddevMs float64
}

// Adapter wraps a Backend, applying stale-drop on ingest and
// vsync-aligned release timestamps on output.
type Adapter struct {
	backend Backend
	log     *slog.Logger

	mu  sync.Mutex
	cfg Config

	dropped struct {
		stale   int64
		timeout int64
	}

	onOutput   func(Output)
	onStats    func(Stats)
	frameTimes []time.Time
}

// New constructs an Adapter bound to backend.
func New(backend Backend, cfg Config) *Adapter {
	return &Adapter{backend: backend, cfg: cfg, log: applog.L("decoder")}
}

// Start creates the backend session against the presentation surface.
func (a *Adapter) Start(surface any) error {
	return a.backend.New(surface, a.cfg.RefreshRateHz)
}

// SetOutputCallback installs the consumer of decoded frames.
func (a *Adapter) SetOutputCallback(fn func(Output)) { a.onOutput = fn }

// SetStatsCallback installs the fps/stddev telemetry consumer.
func (a *Adapter) SetStatsCallback(fn func(Stats)) { a.onStats = fn }

// UpdateResolution tears down and rebuilds the codec session when either
// dimension changes; otherwise it is a no-op.
func (a *Adapter) UpdateResolution(w, h int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if w == a.cfg.Width && h == a.cfg.Height {
		return nil
	}
	a.cfg.Width, a.cfg.Height = w, h
	return a.backend.UpdateResolution(w, h)
}

// Ingest submits one compressed Annex-B frame captured at tsNs (the
// original capture timestamp, carried through to the codec's PTS field).
// It drops the frame (without submitting) if it is already stale, and
// drops it (counted as backpressure) if no input buffer is available
// within SubmitTimeout.
func (a *Adapter) Ingest(data []byte, tsNs int64) {
	age := time.Duration(time.Now().UnixNano() - tsNs)
	if age > StaleBudget {
		a.mu.Lock()
		a.dropped.stale++
		a.mu.Unlock()
		metrics.IncDropped(metrics.DropStale)
		a.log.Debug("dropping stale frame", "age_ms", age.Milliseconds())
		return
	}

	ok, err := a.backend.Decode(data, tsNs)
	if err != nil {
		a.log.Warn("decode failed", "err", err)
		return
	}
	if !ok {
		a.mu.Lock()
		a.dropped.timeout++
		a.mu.Unlock()
		metrics.IncDropped(metrics.DropCodecTimeout)
		a.log.Debug("dropping frame, no input buffer available")
		return
	}
	a.drainAndRelease()
}

// drainAndRelease pulls all available output buffers and releases each
// with a presentation timestamp rounded up to the next display vsync.
func (a *Adapter) drainAndRelease() {
	refresh := a.cfg.RefreshRateHz
	if refresh <= 0 {
		refresh = 60
	}
	frameIntervalNs := int64(1e9) / int64(refresh)

	for _, out := range a.backend.Drain() {
		now := time.Now().UnixNano()
		out.PresentsAt = ((now / frameIntervalNs) + 1) * frameIntervalNs
		a.recordFrameTime()
		if a.onOutput != nil {
			a.onOutput(out)
		}
	}
}

// recordFrameTime updates the rolling inter-frame-delta window and emits
// (fps, stddevMs) telemetry every 60 output frames.
func (a *Adapter) recordFrameTime() {
	now := time.Now()
	a.mu.Lock()
	a.frameTimes = append(a.frameTimes, now)
	if len(a.frameTimes) < 60 {
		a.mu.Unlock()
		return
	}
	times := a.frameTimes
	a.frameTimes = nil
	a.mu.Unlock()

	deltas := make([]float64, 0, len(times)-1)
	for i := 1; i < len(times); i++ {
		deltas = append(deltas, float64(times[i].Sub(times[i-1]).Microseconds())/1000.0)
	}
	if len(deltas) == 0 {
		return
	}
	var sum float64
	for _, d := range deltas {
		sum += d
	}
	mean := sum / float64(len(deltas))
	var varSum float64
	for _, d := range deltas {
		varSum += (d - mean) * (d - mean)
	}
	stddev := math.Sqrt(varSum / float64(len(deltas)))
	fps := 1000.0 / mean

	if a.onStats != nil {
		a.onStats(Stats{Fps: fps, StddevMs: stddev})
	}
}

// Dropped returns the running stale/timeout drop counters.
func (a *Adapter) Dropped() (stale, timeout int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dropped.stale, a.dropped.timeout
}

// Close releases the backend's codec session.
func (a *Adapter) Close() { a.backend.Release() }
