// Package metrics exposes Prometheus counters/gauges for the streaming
// core, mirrored into a small set of local atomics for cheap in-process
// reads (the stats window the server/client callbacks report).
package metrics

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Drop reason labels, kept as a small fixed set to bound cardinality.
const (
	DropBackpressure = "backpressure"
	DropStale        = "stale"
	DropCodecTimeout = "codec_timeout"
	DropOversize     = "oversize"
)

var (
	FramesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scrcast_frames_sent_total",
		Help: "VIDEO_FRAME messages sent by the host.",
	})
	FramesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scrcast_frames_received_total",
		Help: "VIDEO_FRAME messages received by the client.",
	})
	BytesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scrcast_bytes_sent_total",
		Help: "Bytes sent on the video channel.",
	})
	FramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scrcast_frames_dropped_total",
		Help: "Frames dropped, by reason.",
	}, []string{"reason"})
	KeyframeRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scrcast_keyframe_requests_total",
		Help: "Keyframe requests issued to the encoder.",
	})
	ActivePeer = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scrcast_active_peer",
		Help: "1 if a client is currently connected, else 0.",
	})
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scrcast_pending_encodes",
		Help: "Current pendingEncodes backpressure counter value.",
	})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scrcast_errors_total",
		Help: "Errors by taxonomy kind.",
	}, []string{"kind"})

	localFramesSent     atomic.Int64
	localFramesReceived atomic.Int64
	localBytesSent      atomic.Int64
)

// IncFramesSent records one sent VIDEO_FRAME of n bytes.
func IncFramesSent(n int) {
	FramesSent.Inc()
	BytesSent.Add(float64(n))
	localFramesSent.Add(1)
	localBytesSent.Add(int64(n))
}

// IncFramesReceived records one received VIDEO_FRAME.
func IncFramesReceived() {
	FramesReceived.Inc()
	localFramesReceived.Add(1)
}

// IncDropped records one dropped frame for the given reason.
func IncDropped(reason string) {
	FramesDropped.WithLabelValues(reason).Inc()
}

// IncError records one taxonomy-classified error.
func IncError(kind string) {
	Errors.WithLabelValues(kind).Inc()
}

// SetActivePeer reflects whether a client is currently connected.
func SetActivePeer(connected bool) {
	if connected {
		ActivePeer.Set(1)
	} else {
		ActivePeer.Set(0)
	}
}

// SetQueueDepth mirrors the current pendingEncodes value.
func SetQueueDepth(n int32) { QueueDepth.Set(float64(n)) }

// Snapshot is a cheap local read of the running totals, avoiding a scrape
// round-trip for the in-process stats window.
type Snapshot struct {
	FramesSent     int64
	FramesReceived int64
	BytesSent      int64
}

// Snap returns the current local counters.
func Snap() Snapshot {
	return Snapshot{
		FramesSent:     localFramesSent.Load(),
		FramesReceived: localFramesReceived.Load(),
		BytesSent:      localBytesSent.Load(),
	}
}

// StartHTTP serves /metrics (Prometheus) and /ready on addr, returning the
// *http.Server so the caller can Shutdown it.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		_ = srv.ListenAndServe()
	}()
	return srv
}

// StopHTTP shuts srv down with a bounded timeout.
func StopHTTP(srv *http.Server) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
