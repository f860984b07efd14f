// Package adminhttp exposes an optional gin-backed HTTP surface for
// health checks, runtime status, and a debug goroutine dump — separate
// from the Prometheus /metrics endpoint served by internal/metrics.
package adminhttp

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/caststream/scrcast/internal/applog"
	"github.com/caststream/scrcast/internal/encoder"
	"github.com/caststream/scrcast/internal/metrics"
)

// StatusProvider is implemented by the pipeline orchestrator so the
// admin surface can report live connection/stream state without this
// package importing the pipeline package back.
type StatusProvider interface {
	ClientConnected() bool
	DisplaySize() (width, height, rotation int32)
	EncoderName() string
}

// SettingsUpdater is implemented by the pipeline orchestrator to apply a
// live settings change without a restart.
type SettingsUpdater interface {
	UpdateSettings(bitrateMbps float64, quality encoder.Quality, gamingBoost bool, rotation int32) error
}

// settingsRequest is the JSON body accepted by POST /settings.
type settingsRequest struct {
	BitrateMbps float64 `json:"bitrate_mbps"`
	Quality     string  `json:"quality"`
	GamingBoost bool    `json:"gaming_boost"`
	Rotation    int32   `json:"rotation"`
}

// Server wraps a gin.Engine and the *http.Server it's bound to.
type Server struct {
	httpSrv *http.Server
}

// Start binds addr and serves /healthz, /status, /debug/stack and
// POST /settings (live encoder/rotation reconfiguration).
func Start(addr string, status StatusProvider, settings SettingsUpdater) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/status", func(c *gin.Context) {
		w, h, rot := status.DisplaySize()
		snap := metrics.Snap()
		c.JSON(http.StatusOK, gin.H{
			"client_connected": status.ClientConnected(),
			"display": gin.H{
				"width":    w,
				"height":   h,
				"rotation": rot,
			},
			"encoder": status.EncoderName(),
			"stats": gin.H{
				"frames_sent":     snap.FramesSent,
				"frames_received": snap.FramesReceived,
				"bytes_sent":      snap.BytesSent,
			},
		})
	})

	r.POST("/settings", func(c *gin.Context) {
		var req settingsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid settings body"})
			return
		}
		if err := settings.UpdateSettings(req.BitrateMbps, encoder.Quality(req.Quality), req.GamingBoost, req.Rotation); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/debug/stack", func(c *gin.Context) {
		buf := make([]byte, 1<<20)
		n := runtime.Stack(buf, true)
		c.Data(http.StatusOK, "text/plain", buf[:n])
	})

	httpSrv := &http.Server{Addr: addr, Handler: r}
	log := applog.L("adminhttp")
	applog.GoSafe("adminhttp-serve", func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("admin http server stopped", "err", err)
		}
	})
	return &Server{httpSrv: httpSrv}
}

// Stop gracefully shuts down the admin HTTP server.
func (s *Server) Stop() {
	if s == nil || s.httpSrv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = s.httpSrv.Shutdown(ctx)
}
