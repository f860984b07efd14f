// Package capture adapts an external raw frame source into the pipeline,
// applying backpressure, idle re-send, and (optional) self-pacing.
package capture

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/caststream/scrcast/internal/applog"
	"github.com/caststream/scrcast/internal/metrics"
)

// Source is the external, platform-specific capture collaborator
// (out of scope per the core spec; consumed only through this interface).
type Source interface {
	Init(displayHandle uintptr) error
	Start(targetFps int) error
	Stop()
	SetFrameCallback(fn func(data []byte, w, h, stride int, tsNs int64))
	Width() int
	Height() int
}

// Puller is implemented by sources that are not self-paced: instead of
// calling the frame callback on their own schedule, the adapter pulls a
// frame synchronously every frameInterval.
type Puller interface {
	CaptureOnce() (data []byte, w, h, stride int, tsNs int64, err error)
}

// FrameFunc is the adapter's output contract: a single-producer callback.
// The receiver must not retain data past the call unless it copies it.
type FrameFunc func(data []byte, w, h, stride int, tsNs int64)

// Config configures the adapter.
type Config struct {
	DisplayHandle uintptr
	TargetFps     int
	// SelfPaced is true if Source calls the frame callback on its own
	// schedule; otherwise the adapter runs its own pacing loop.
	SelfPaced bool
}

type lastFrame struct {
	data   []byte
	w, h   int
	stride int
	haveIt bool
}

// Adapter pulls frames from a Source, gates them behind pendingEncodes,
// and re-delivers the last frame when the source goes idle.
type Adapter struct {
	src Source
	cfg Config
	log *slog.Logger

	onFrame FrameFunc

	// PendingEncodes is the backpressure hint: incremented when a frame
	// is handed to the encoder, decremented when the encoder returns.
	PendingEncodes atomic.Int32

	mu   sync.Mutex
	last lastFrame

	lastArrival atomic.Int64 // unix nano of the last source frame or idle re-send

	stopCh   chan struct{}
	wg       sync.WaitGroup
	started  atomic.Bool
}

// New constructs an Adapter bound to src.
func New(src Source, cfg Config) *Adapter {
	return &Adapter{
		src: src,
		cfg: cfg,
		log: applog.L("capture"),
	}
}

// SetFrameCallback installs the downstream consumer (normally the encoder
// adapter). Must be called before Start.
func (a *Adapter) SetFrameCallback(fn FrameFunc) {
	a.onFrame = fn
}

// Start initializes and starts the source, and begins the idle-resend and
// (if needed) self-pacing loops.
func (a *Adapter) Start() error {
	if err := a.src.Init(a.cfg.DisplayHandle); err != nil {
		return err
	}
	a.src.SetFrameCallback(a.handleSourceFrame)
	if err := a.src.Start(a.cfg.TargetFps); err != nil {
		return err
	}
	a.stopCh = make(chan struct{})
	a.started.Store(true)
	a.lastArrival.Store(time.Now().UnixNano())

	a.wg.Add(1)
	applog.GoSafe("capture-idle-resend", func() {
		defer a.wg.Done()
		a.idleResendLoop()
	})

	if !a.cfg.SelfPaced {
		a.wg.Add(1)
		applog.GoSafe("capture-pace", func() {
			defer a.wg.Done()
			a.paceLoop()
		})
	}
	return nil
}

// Stop halts the source and joins the adapter's own goroutines.
func (a *Adapter) Stop() {
	if !a.started.CompareAndSwap(true, false) {
		return
	}
	close(a.stopCh)
	a.src.Stop()
	a.wg.Wait()
}

func (a *Adapter) frameInterval() time.Duration {
	fps := a.cfg.TargetFps
	if fps <= 0 {
		fps = 60
	}
	return time.Second / time.Duration(fps)
}

// handleSourceFrame is the callback registered with the Source. It applies
// the backpressure gate, remembers the frame for idle re-send, and
// forwards it downstream.
func (a *Adapter) handleSourceFrame(data []byte, w, h, stride int, tsNs int64) {
	a.lastArrival.Store(time.Now().UnixNano())
	a.rememberFrame(data, w, h, stride)
	a.deliver(data, w, h, stride, tsNs)
}

func (a *Adapter) rememberFrame(data []byte, w, h, stride int) {
	cp := make([]byte, len(data))
	copy(cp, data)
	a.mu.Lock()
	a.last = lastFrame{data: cp, w: w, h: h, stride: stride, haveIt: true}
	a.mu.Unlock()
}

// deliver applies the pendingEncodes backpressure gate and, if not
// backpressured, invokes the downstream callback.
func (a *Adapter) deliver(data []byte, w, h, stride int, tsNs int64) {
	if a.PendingEncodes.Load() >= 2 {
		a.log.Debug("dropping frame, pendingEncodes>=2")
		metrics.IncDropped(metrics.DropBackpressure)
		return
	}
	if a.onFrame != nil {
		a.onFrame(data, w, h, stride, tsNs)
	}
}

// idleResendLoop re-delivers the last frame with a fresh timestamp
// whenever no new frame has arrived for 2*frameInterval, so the encoder
// (and ultimately the client) keeps producing output for an idle screen.
func (a *Adapter) idleResendLoop() {
	interval := a.frameInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	threshold := 2 * interval

	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
			idleFor := time.Since(time.Unix(0, a.lastArrival.Load()))
			if idleFor < threshold {
				continue
			}
			a.mu.Lock()
			lf := a.last
			a.mu.Unlock()
			if !lf.haveIt {
				continue
			}
			a.lastArrival.Store(time.Now().UnixNano())
			a.deliver(lf.data, lf.w, lf.h, lf.stride, time.Now().UnixNano())
		}
	}
}

// paceLoop drives sources that are not self-paced by pulling a frame
// every frameInterval minus elapsed time since the previous pull.
func (a *Adapter) paceLoop() {
	puller, ok := a.src.(Puller)
	if !ok {
		a.log.Warn("source is not self-paced and does not implement Puller; pacing disabled")
		return
	}
	interval := a.frameInterval()
	last := time.Now()
	for {
		select {
		case <-a.stopCh:
			return
		default:
		}
		elapsed := time.Since(last)
		sleep := interval - elapsed
		if sleep > 0 {
			select {
			case <-a.stopCh:
				return
			case <-time.After(sleep):
			}
		}
		last = time.Now()
		data, w, h, stride, tsNs, err := puller.CaptureOnce()
		if err != nil {
			a.log.Debug("capture pull failed", "err", err)
			continue
		}
		a.handleSourceFrame(data, w, h, stride, tsNs)
	}
}
