// Package encoder adapts an external, opaque hardware/software HEVC
// encoder into the pipeline's capture->encode->send flow.
package encoder

import (
	"log/slog"
	"sync"

	"github.com/caststream/scrcast/internal/applog"
	"github.com/caststream/scrcast/internal/metrics"
)

// Quality is the coarse quality tier from spec.md's configuration table,
// each mapping to a backend-defined float.
type Quality string

const (
	QualityUltraLow Quality = "ultralow"
	QualityLow      Quality = "low"
	QualityMedium   Quality = "medium"
	QualityHigh     Quality = "high"
)

var qualityFloats = map[Quality]float64{
	QualityUltraLow: 0.15,
	QualityLow:      0.35,
	QualityMedium:   0.6,
	QualityHigh:     0.85,
}

// Float returns the backend-facing float for a quality tier, defaulting
// to QualityMedium's value for an unrecognized tier.
func (q Quality) Float() float64 {
	if f, ok := qualityFloats[q]; ok {
		return f
	}
	return qualityFloats[QualityMedium]
}

// Settings is the recognized configuration key/value table for the
// encoder, all of which implementers must support.
type Settings struct {
	Codec                          string // "HEVC"
	LowLatency                     bool
	MaxBFrames                     int
	GopSize                        int // 1 == all-intra
	BitrateMbps                    float64
	Quality                        Quality
	OperatingRate                  int
	ParameterSetsWithEveryKeyframe bool
	GamingBoost                    bool
}

// DefaultSettings returns the low-latency defaults the pipeline starts
// the encoder with.
func DefaultSettings(fps int) Settings {
	return Settings{
		Codec:                          "HEVC",
		LowLatency:                     true,
		MaxBFrames:                     0,
		GopSize:                        1,
		BitrateMbps:                    12,
		Quality:                        QualityMedium,
		OperatingRate:                  fps,
		ParameterSetsWithEveryKeyframe: true,
	}
}

// GamingBoosted returns Settings tuned by the gamingBoost override:
// typically 1 Gbps, 120 fps, low quality.
func GamingBoosted(s Settings) Settings {
	s.GamingBoost = true
	s.BitrateMbps = 1000
	s.OperatingRate = 120
	s.Quality = QualityLow
	return s
}

// Backend is the external, opaque codec collaborator (out of scope per
// the core spec; consumed only through this interface).
type Backend interface {
	New(w, h, fps int, bitrateMbps float64) error
	Encode(frame []byte, tsNs int64) error
	UpdateSettings(bitrateMbps, quality01 float64, gamingBoost bool) error
	Flush() error
	SetOutputCallback(fn func(data []byte, tsNs int64, isKeyframe bool))
	Name() string
}

// OutputFunc receives one Annex-B packet per encoder output callback
// invocation; the encoder may batch multiple packets per input frame,
// each delivered as a separate call.
type OutputFunc func(data []byte, tsNs int64, isKeyframe bool)

// Adapter wraps a Backend and applies the settings table. Width/height are
// those passed to Start; the pendingEncodes counter is kept by the caller
// (see Encode).
type Adapter struct {
	backend Backend
	log     *slog.Logger

	mu       sync.Mutex
	settings Settings
	started  bool

	onOutput OutputFunc
}

func New(backend Backend, settings Settings) *Adapter {
	return &Adapter{backend: backend, settings: settings, log: applog.L("encoder")}
}

// SetOutputCallback installs the downstream consumer (normally the
// server's sendFrame).
func (a *Adapter) SetOutputCallback(fn OutputFunc) {
	a.onOutput = fn
	a.backend.SetOutputCallback(func(data []byte, tsNs int64, isKeyframe bool) {
		if a.onOutput != nil {
			a.onOutput(data, tsNs, isKeyframe)
		}
	})
}

// Start creates the backend session at the given frame dimensions.
func (a *Adapter) Start(w, h int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.backend.New(w, h, a.settings.OperatingRate, a.settings.BitrateMbps); err != nil {
		return err
	}
	a.started = true
	return nil
}

// Encode feeds one raw frame to the backend. Callers (normally the
// capture->encode glue in the pipeline) are expected to increment a
// shared pendingEncodes counter before calling and decrement it after
// this returns, matching spec.md's backpressure hint contract.
func (a *Adapter) Encode(frame []byte, tsNs int64) error {
	a.mu.Lock()
	started := a.started
	a.mu.Unlock()
	if !started {
		return nil
	}
	return a.backend.Encode(frame, tsNs)
}

// UpdateSettings applies bitrate/quality/gaming live; the backend decides
// whether this is truly live or requires a transparent session rebuild. A
// rebuilt session always starts on a fresh IDR, the same event a PLI from a
// peer would force, so it is counted as a keyframe request here rather
// than at a wire-level control message the protocol doesn't define.
func (a *Adapter) UpdateSettings(bitrateMbps float64, quality Quality, gamingBoost bool) error {
	a.mu.Lock()
	a.settings.BitrateMbps = bitrateMbps
	a.settings.Quality = quality
	a.settings.GamingBoost = gamingBoost
	a.mu.Unlock()
	metrics.KeyframeRequests.Inc()
	return a.backend.UpdateSettings(bitrateMbps, quality.Float(), gamingBoost)
}

// Flush blocks until all pending output has been delivered.
func (a *Adapter) Flush() error {
	return a.backend.Flush()
}

// Name returns the backend's self-reported name, for logging/metrics.
func (a *Adapter) Name() string {
	return a.backend.Name()
}
