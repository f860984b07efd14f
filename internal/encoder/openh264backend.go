package encoder

import (
	"fmt"
	"sync"

	"github.com/y9o/go-openh264/openh264"
)

// openh264Backend is a concrete software Backend for environments with no
// hardware HEVC/H.264 encoder available, mirroring the wrap-an-external-
// codec-library shape the teacher uses for its decoder (open/feed/pull).
type openh264Backend struct {
	mu  sync.Mutex
	enc *openh264.Encoder
	w   int
	h   int
	// configuredFPS is the operating rate Start was originally called
	// with, independent of any later gaming-boost rebuild, so a boost
	// toggling back off has a real rate to return to.
	configuredFPS int

	onOutput func(data []byte, tsNs int64, isKeyframe bool)
}

// gamingBoostFPS is the operating rate applied on a live gaming-boost
// toggle, matching encoder.GamingBoosted's OperatingRate override.
const gamingBoostFPS = 120

// NewOpenH264Backend returns a software Backend implementation.
func NewOpenH264Backend() Backend {
	return &openh264Backend{}
}

func (b *openh264Backend) New(w, h, fps int, bitrateMbps float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.enc != nil {
		b.enc.Close()
		b.enc = nil
	}
	enc, err := openh264.NewEncoder(openh264.Params{
		Width:        w,
		Height:       h,
		FPS:          fps,
		BitrateKbps:  int(bitrateMbps * 1000),
		MaxBFrames:   0,
		IntraPeriod:  1,
	})
	if err != nil {
		return fmt.Errorf("openh264: new encoder: %w", err)
	}
	b.enc = enc
	b.w, b.h = w, h
	if b.configuredFPS == 0 {
		b.configuredFPS = fps
	}
	return nil
}

func (b *openh264Backend) Encode(frame []byte, tsNs int64) error {
	b.mu.Lock()
	enc := b.enc
	onOutput := b.onOutput
	b.mu.Unlock()
	if enc == nil {
		return fmt.Errorf("openh264: encoder not started")
	}
	packets, isKey, err := enc.EncodeI420(frame)
	if err != nil {
		return fmt.Errorf("openh264: encode: %w", err)
	}
	if onOutput != nil {
		for _, pkt := range packets {
			onOutput(pkt, tsNs, isKey)
		}
	}
	return nil
}

// UpdateSettings applies a live settings change by rebuilding the encoder
// session, mirroring ffmpegBackend.UpdateResolution's "just rebuild" idiom
// rather than trying to mutate a running session in place. gamingBoost
// selects gamingBoostFPS over the originally configured rate, and reverts
// cleanly because configuredFPS is never touched by a boost-triggered
// rebuild. quality01 has no effect: this binding's Params carries no
// independent quality/complexity knob (no rate-distortion tradeoff control
// beyond bitrate itself is exposed anywhere in its API surface), so a
// quality tier can only ever express itself here through the bitrate the
// caller already supplies.
func (b *openh264Backend) UpdateSettings(bitrateMbps, quality01 float64, gamingBoost bool) error {
	b.mu.Lock()
	w, h, fps := b.w, b.h, b.configuredFPS
	started := b.enc != nil
	b.mu.Unlock()
	if !started {
		return nil
	}
	if gamingBoost {
		fps = gamingBoostFPS
	}
	return b.New(w, h, fps, bitrateMbps)
}

func (b *openh264Backend) Flush() error {
	b.mu.Lock()
	enc := b.enc
	b.mu.Unlock()
	if enc == nil {
		return nil
	}
	return enc.Flush()
}

func (b *openh264Backend) SetOutputCallback(fn func(data []byte, tsNs int64, isKeyframe bool)) {
	b.mu.Lock()
	b.onOutput = fn
	b.mu.Unlock()
}

func (b *openh264Backend) Name() string { return "openh264-software" }
