// Package config loads the typed settings shared by the hostd and
// clientd entrypoints, layering a config file, environment variables,
// and pflag-bound command-line flags via viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the full set of tunables for either binary; each process
// only reads the subset it needs.
type Config struct {
	Port          int    `mapstructure:"port"`
	DeviceSerial  string `mapstructure:"device_serial"`
	TargetFps     int    `mapstructure:"target_fps"`
	BitrateMbps   float64 `mapstructure:"bitrate_mbps"`
	Quality       string `mapstructure:"quality"`
	GamingBoost   bool   `mapstructure:"gaming_boost"`
	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"`
	AdminAddr     string `mapstructure:"admin_addr"`
	MetricsAddr   string `mapstructure:"metrics_addr"`
	UseAdbReverse bool   `mapstructure:"use_adb_reverse"`

	Host string `mapstructure:"host"`
}

// Default returns the baseline configuration before file/env/flag
// overlays are applied.
func Default() *Config {
	return &Config{
		Port:          8888,
		TargetFps:     60,
		BitrateMbps:   12,
		Quality:       "medium",
		GamingBoost:   false,
		LogLevel:      "info",
		LogFormat:     "text",
		AdminAddr:     ":8889",
		MetricsAddr:   ":9090",
		UseAdbReverse: true,
		Host:          "127.0.0.1",
	}
}

// BindFlags registers the pflag set mirrored by viper, following the
// config-file < env < flag precedence used throughout the module's
// sibling tooling.
func BindFlags(fs *pflag.FlagSet, v *viper.Viper) {
	fs.Int("port", 8888, "TCP port for the streaming wire protocol")
	fs.String("device-serial", "", "adb device serial (empty = the only attached device)")
	fs.Int("target-fps", 60, "capture/encode target frame rate")
	fs.Float64("bitrate-mbps", 12, "encoder bitrate in megabits/sec")
	fs.String("quality", "medium", "encoder quality: ultralow|low|medium|high")
	fs.Bool("gaming-boost", false, "apply the gaming-boost encoder profile")
	fs.String("log-level", "info", "debug|info|warn|error")
	fs.String("log-format", "text", "text|json")
	fs.String("admin-addr", ":8889", "admin HTTP listen address")
	fs.String("metrics-addr", ":9090", "Prometheus /metrics listen address")
	fs.Bool("use-adb-reverse", true, "attempt adb reverse port forwarding at startup")
	fs.String("host", "127.0.0.1", "host address the client dials")

	_ = v.BindPFlag("port", fs.Lookup("port"))
	_ = v.BindPFlag("device_serial", fs.Lookup("device-serial"))
	_ = v.BindPFlag("target_fps", fs.Lookup("target-fps"))
	_ = v.BindPFlag("bitrate_mbps", fs.Lookup("bitrate-mbps"))
	_ = v.BindPFlag("quality", fs.Lookup("quality"))
	_ = v.BindPFlag("gaming_boost", fs.Lookup("gaming-boost"))
	_ = v.BindPFlag("log_level", fs.Lookup("log-level"))
	_ = v.BindPFlag("log_format", fs.Lookup("log-format"))
	_ = v.BindPFlag("admin_addr", fs.Lookup("admin-addr"))
	_ = v.BindPFlag("metrics_addr", fs.Lookup("metrics-addr"))
	_ = v.BindPFlag("use_adb_reverse", fs.Lookup("use-adb-reverse"))
	_ = v.BindPFlag("host", fs.Lookup("host"))
}

// Load reads cfgFile (or the default search path) through viper, overlays
// environment variables prefixed SCRCAST_ and any flags bound with
// BindFlags, and unmarshals the result over a fresh Default().
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	cfg := Default()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("scrcast")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir())
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("SCRCAST")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "scrcast")
	case "darwin":
		return "/Library/Application Support/scrcast"
	default:
		return "/etc/scrcast"
	}
}
