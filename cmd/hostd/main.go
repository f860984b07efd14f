// Command hostd runs the streaming host: it captures a display (the
// synthetic NullSource), encodes it with the software OpenH264 backend,
// which emits H.264 Annex-B rather than HEVC, and serves the wire
// protocol to a single client
// while forwarding touch input to the local injector.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/caststream/scrcast/internal/adminhttp"
	"github.com/caststream/scrcast/internal/applog"
	"github.com/caststream/scrcast/internal/capture"
	"github.com/caststream/scrcast/internal/config"
	"github.com/caststream/scrcast/internal/encoder"
	"github.com/caststream/scrcast/internal/injector"
	"github.com/caststream/scrcast/internal/metrics"
	"github.com/caststream/scrcast/internal/pipeline"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "hostd",
	Short: "scrcast streaming host daemon",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "start streaming",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHost(cmd.Flags())
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

func runHost(fs *pflag.FlagSet) error {
	v := viper.New()
	config.BindFlags(fs, v)
	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		return fmt.Errorf("hostd: %w", err)
	}

	applog.Init(cfg.LogFormat, cfg.LogLevel, os.Stdout)
	log := applog.L("hostd")

	width, height := 1920, 1080
	captureSrc := capture.NewNullSource(width, height)
	encoderBackend := encoder.NewOpenH264Backend()
	injectorBackend := injector.NewRobotgoBackend()

	settings := encoder.DefaultSettings(cfg.TargetFps)
	settings.BitrateMbps = cfg.BitrateMbps
	settings.Quality = encoder.Quality(cfg.Quality)
	if cfg.GamingBoost {
		settings = encoder.GamingBoosted(settings)
	}

	pl := pipeline.New(pipeline.Config{
		Port:            cfg.Port,
		EncoderSettings: settings,
		UseAdbReverse:   cfg.UseAdbReverse,
		DeviceSerial:    cfg.DeviceSerial,
	}, captureSrc, encoderBackend, injectorBackend)

	if err := pl.Start(0, width, height); err != nil {
		return fmt.Errorf("hostd: pipeline start: %w", err)
	}
	log.Info("pipeline started", "port", cfg.Port, "width", width, "height", height)

	metricsSrv := metrics.StartHTTP(cfg.MetricsAddr)
	adminSrv := adminhttp.Start(cfg.AdminAddr, pl, pl)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	adminSrv.Stop()
	metrics.StopHTTP(metricsSrv)
	pl.Stop()
	return nil
}
