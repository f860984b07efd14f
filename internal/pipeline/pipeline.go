// Package pipeline implements the Pipeline Orchestrator: it owns the
// lifetimes of capture, encoder, server, and injector, wires their
// callbacks together, and is the only component that may start or stop
// them.
package pipeline

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/caststream/scrcast/internal/adbhelper"
	"github.com/caststream/scrcast/internal/applog"
	"github.com/caststream/scrcast/internal/capture"
	"github.com/caststream/scrcast/internal/encoder"
	"github.com/caststream/scrcast/internal/gesture"
	"github.com/caststream/scrcast/internal/injector"
	"github.com/caststream/scrcast/internal/metrics"
	"github.com/caststream/scrcast/internal/server"
	"github.com/caststream/scrcast/internal/wire"
)

// Config bundles the live-reconfigurable and start-time settings for
// one pipeline instance.
type Config struct {
	Port            int
	EncoderSettings encoder.Settings
	UseAdbReverse   bool
	DeviceSerial    string
}

// Pipeline wires capture -> encoder -> server, and server -> gesture ->
// injector, the two directions of the stream. It is the only component
// that starts or stops its constituents, and the only one that retains
// all of them — stages themselves only hold plain callbacks.
type Pipeline struct {
	log *slog.Logger

	mu      sync.Mutex
	started bool

	captureSrc  capture.Source
	captureAd   *capture.Adapter
	encoderAd   *encoder.Adapter
	srv         *server.Server
	gestureMach *gesture.Machine
	adb         *adbhelper.Helper

	cfg Config

	displayMu sync.Mutex
	width     int32
	height    int32
	rotation  int32
}

// New constructs an un-started Pipeline from its constituent backends.
// captureSrc, encoderBackend and injectorBackend are supplied by the
// caller (cmd/hostd), which owns the platform-specific choice of each.
func New(cfg Config, captureSrc capture.Source, encoderBackend encoder.Backend, injectorBackend injector.Injector) *Pipeline {
	p := &Pipeline{
		log:        applog.L("pipeline"),
		cfg:        cfg,
		captureSrc: captureSrc,
	}
	p.encoderAd = encoder.New(encoderBackend, cfg.EncoderSettings)
	p.srv = server.New(
		server.WithOnTouch(p.onTouch),
		server.WithOnConnection(p.onConnection),
		server.WithOnStats(p.onStats),
	)
	p.gestureMach = gesture.New(injectorBackend)
	if cfg.DeviceSerial != "" || cfg.UseAdbReverse {
		p.adb = adbhelper.New(cfg.DeviceSerial)
	}
	return p
}

// Start runs the documented start sequence: locate port-forward helper
// (best effort) -> initialize capture -> create encoder -> create server
// -> wire callbacks -> start capture -> start server. Any failure rolls
// back everything already started.
func (p *Pipeline) Start(displayHandle uintptr, width, height int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return fmt.Errorf("pipeline: already started")
	}

	if p.adb != nil && p.cfg.UseAdbReverse {
		if !p.adb.IsDeviceConnected() {
			p.log.Warn("no adb device connected; streaming will rely on direct TCP reachability")
		} else if !p.adb.SetupReverse(p.cfg.Port) {
			p.log.Warn("adb reverse setup failed; continuing without it")
		}
	}

	p.captureAd = capture.New(p.captureSrc, capture.Config{
		DisplayHandle: displayHandle,
		TargetFps:     fpsOrDefault(p.cfg.EncoderSettings.OperatingRate),
	})
	p.captureAd.SetFrameCallback(p.onCapturedFrame)

	if err := p.encoderAd.Start(width, height); err != nil {
		return fmt.Errorf("pipeline: encoder start: %w", err)
	}
	p.encoderAd.SetOutputCallback(p.onEncodedOutput)

	if err := p.captureAd.Start(); err != nil {
		_ = p.encoderAd.Flush()
		return fmt.Errorf("pipeline: capture start: %w", err)
	}

	p.setDisplaySize(int32(width), int32(height), 0)
	p.srv.SetDisplaySize(int32(width), int32(height), 0)
	if err := p.srv.Start(p.cfg.Port); err != nil {
		p.captureAd.Stop()
		_ = p.encoderAd.Flush()
		return fmt.Errorf("pipeline: server start: %w", err)
	}

	p.started = true
	return nil
}

func fpsOrDefault(fps int) int {
	if fps <= 0 {
		return 60
	}
	return fps
}

// Stop reverses the start sequence and joins every component.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return
	}
	p.srv.Stop()
	if p.captureAd != nil {
		p.captureAd.Stop()
	}
	_ = p.encoderAd.Flush()
	if p.adb != nil && p.cfg.UseAdbReverse {
		p.adb.RemoveReverse(p.cfg.Port)
	}
	p.started = false
}

// UpdateSettings applies live encoder and server-side changes without a
// restart.
func (p *Pipeline) UpdateSettings(bitrateMbps float64, quality encoder.Quality, gamingBoost bool, rotation int32) error {
	if err := p.encoderAd.UpdateSettings(bitrateMbps, quality, gamingBoost); err != nil {
		return fmt.Errorf("pipeline: update encoder settings: %w", err)
	}
	p.setDisplaySize(0, 0, rotation)
	p.srv.UpdateRotation(rotation)
	return nil
}

func (p *Pipeline) setDisplaySize(w, h, rot int32) {
	p.displayMu.Lock()
	defer p.displayMu.Unlock()
	if w != 0 {
		p.width = w
	}
	if h != 0 {
		p.height = h
	}
	p.rotation = rot
}

// ClientConnected reports whether a streaming client is attached,
// satisfying adminhttp.StatusProvider.
func (p *Pipeline) ClientConnected() bool { return p.srv.IsClientConnected() }

// DisplaySize reports the dimensions last configured on the server,
// satisfying adminhttp.StatusProvider.
func (p *Pipeline) DisplaySize() (width, height, rotation int32) {
	p.displayMu.Lock()
	defer p.displayMu.Unlock()
	return p.width, p.height, p.rotation
}

// EncoderName reports the active encoder backend's name, satisfying
// adminhttp.StatusProvider.
func (p *Pipeline) EncoderName() string { return p.encoderAd.Name() }

// onCapturedFrame hands one captured frame to the encoder and holds the
// backpressure counter for exactly that frame's processing, regardless
// of how many output packets (if any) the encoder emits for it: Encode
// is synchronous with respect to its own output callback (the backend
// invokes it, once per packet, before Encode itself returns), so by the
// time Encode returns this frame is fully accounted for either way.
func (p *Pipeline) onCapturedFrame(data []byte, w, h, stride int, tsNs int64) {
	p.captureAd.PendingEncodes.Add(1)
	metrics.SetQueueDepth(p.captureAd.PendingEncodes.Load())
	err := p.encoderAd.Encode(data, tsNs)
	p.captureAd.PendingEncodes.Add(-1)
	metrics.SetQueueDepth(p.captureAd.PendingEncodes.Load())
	if err != nil {
		p.log.Warn("encode failed", "err", err)
	}
}

func (p *Pipeline) onEncodedOutput(data []byte, tsNs int64, isKeyframe bool) {
	p.srv.SendFrame(data)
}

func (p *Pipeline) onTouch(msg *wire.Message) {
	p.gestureMach.Process(gesture.Sample{
		PointerCount: msg.PointerCount,
		X1:           msg.X1,
		Y1:           msg.Y1,
		X2:           msg.X2,
		Y2:           msg.Y2,
		Action:       gesture.Action(msg.Action),
	})
}

func (p *Pipeline) onConnection(connected bool) {
	if !connected {
		return
	}
	w, h, _ := p.DisplaySize()
	p.gestureMach.SetDisplayBounds(0, 0, float64(w), float64(h))
}

func (p *Pipeline) onStats(fps, mbps float64) {
	p.log.Info("stream stats", "fps", fps, "mbps", mbps)
}
