// Command clientd runs the streaming client: it connects to a hostd
// instance, decodes and presents the incoming HEVC stream, and forwards
// local pointer input back as normalized touch samples.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/veandco/go-sdl2/sdl"

	"github.com/caststream/scrcast/internal/applog"
	"github.com/caststream/scrcast/internal/client"
	"github.com/caststream/scrcast/internal/config"
	"github.com/caststream/scrcast/internal/decoder"
	"github.com/caststream/scrcast/internal/present"
	"github.com/caststream/scrcast/internal/wire"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "clientd",
	Short: "scrcast streaming client daemon",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "connect and present the stream",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runClient(cmd.Flags())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	rootCmd.AddCommand(runCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runClient(fs *pflag.FlagSet) error {
	v := viper.New()
	config.BindFlags(fs, v)
	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		return fmt.Errorf("clientd: %w", err)
	}

	applog.Init(cfg.LogFormat, cfg.LogLevel, os.Stdout)
	log := applog.L("clientd")

	var surface *present.Surface
	var width, height atomic.Int32
	width.Store(1920)
	height.Store(1080)

	dec := decoder.New(decoder.NewFFmpegBackend(), decoder.Config{
		Width:         int(width.Load()),
		Height:        int(height.Load()),
		RefreshRateHz: 60,
		LowLatency:    true,
	})
	dec.SetOutputCallback(func(out decoder.Output) {
		if surface == nil {
			return
		}
		if frame, ok := out.Frame.([]byte); ok {
			_ = surface.Render(frame, out.PresentsAt)
		}
	})
	dec.SetStatsCallback(func(s decoder.Stats) {
		log.Debug("decoder stats", "fps", s.Fps, "stddevMs", s.StddevMs)
	})

	c := client.New(
		client.WithOnVideoFrame(func(data []byte) {
			dec.Ingest(data, time.Now().UnixNano())
		}),
		client.WithOnDisplayConfig(func(w, h, rotation int32) {
			width.Store(w)
			height.Store(h)
			if err := dec.UpdateResolution(int(w), int(h)); err != nil {
				log.Warn("decoder reconfigure failed", "err", err)
			}
			if surface != nil {
				_ = surface.Resize(int(w), int(h))
			}
		}),
		client.WithOnDisconnect(func(err error) {
			log.Warn("disconnected from host", "err", err)
		}),
	)

	if err := c.Connect(cfg.Host, cfg.Port); err != nil {
		return fmt.Errorf("clientd: connect: %w", err)
	}

	surface, err = present.NewSurface("scrcast", int(width.Load()), int(height.Load()))
	if err != nil {
		return fmt.Errorf("clientd: surface: %w", err)
	}
	if err := dec.Start(surface); err != nil {
		return fmt.Errorf("clientd: decoder start: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var pointerDown bool
	handlePointerEvent := func(event sdl.Event) {
		switch e := event.(type) {
		case *sdl.MouseButtonEvent:
			if e.Button != sdl.BUTTON_LEFT {
				return
			}
			action := wire.ActionMove
			switch e.State {
			case sdl.PRESSED:
				action = wire.ActionDown
				pointerDown = true
			case sdl.RELEASED:
				action = wire.ActionUp
				pointerDown = false
			}
			nx, ny := normalize(e.X, e.Y, width.Load(), height.Load())
			c.SendTouch(1, nx, ny, 0, 0, action)
		case *sdl.MouseMotionEvent:
			if !pointerDown {
				return
			}
			nx, ny := normalize(e.X, e.Y, width.Load(), height.Load())
			c.SendTouch(1, nx, ny, 0, 0, wire.ActionMove)
		}
	}

	for {
		select {
		case <-sigCh:
			c.Disconnect()
			dec.Close()
			surface.Close()
			return nil
		default:
		}

		if !surface.PumpEvents(handlePointerEvent) {
			c.Disconnect()
			dec.Close()
			surface.Close()
			return nil
		}

		time.Sleep(time.Millisecond)
	}
}

func normalize(x, y int32, w, h int32) (float32, float32) {
	if w <= 0 {
		w = 1
	}
	if h <= 0 {
		h = 1
	}
	return float32(x) / float32(w), float32(y) / float32(h)
}
