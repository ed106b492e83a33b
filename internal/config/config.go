// Package config loads process configuration from environment variables
// prefixed LOBCAPTURE_, following the teacher's viper-based convention.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all process configuration.
type Config struct {
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`

	Kalshi     KalshiConfig
	Manager    ManagerConfig
	Sink       SinkConfig
}

// KalshiConfig holds the RSA credentials used to sign every Kalshi REST and
// WebSocket request.
type KalshiConfig struct {
	APIKeyID       string `mapstructure:"api_key_id"`
	PrivateKeyPath string `mapstructure:"private_key_path"`
}

// ManagerConfig tunes the listener manager's reload and shutdown behavior.
type ManagerConfig struct {
	ReloadIntervalS int `mapstructure:"reload_interval_s"`
	ShutdownGraceS  int `mapstructure:"shutdown_grace_s"`
}

// ReloadInterval and ShutdownGrace convert the config's integer-second
// fields to time.Duration for callers.
func (m ManagerConfig) ReloadInterval() time.Duration {
	return time.Duration(m.ReloadIntervalS) * time.Second
}

func (m ManagerConfig) ShutdownGrace() time.Duration {
	return time.Duration(m.ShutdownGraceS) * time.Second
}

// SinkConfig describes the external persistence endpoint this service
// writes batches to. The concrete writer (Postgres, Redis, etc.) is an
// external collaborator configured and run outside this repo; these fields
// are only what BatchingSink needs to address it.
type SinkConfig struct {
	Endpoint      string `mapstructure:"endpoint"`
	BatchSize     int    `mapstructure:"batch_size"`
	BatchTimeoutMs int   `mapstructure:"batch_timeout_ms"`
}

func (s SinkConfig) BatchTimeout() time.Duration {
	return time.Duration(s.BatchTimeoutMs) * time.Millisecond
}

// Load reads configuration from environment variables prefixed LOBCAPTURE_.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LOBCAPTURE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("env", "development")
	v.SetDefault("log_level", "info")

	v.SetDefault("kalshi.api_key_id", "")
	v.SetDefault("kalshi.private_key_path", "/etc/lobcapture/kalshi.pem")

	v.SetDefault("manager.reload_interval_s", 60)
	v.SetDefault("manager.shutdown_grace_s", 10)

	v.SetDefault("sink.endpoint", "")
	v.SetDefault("sink.batch_size", 100)
	v.SetDefault("sink.batch_timeout_ms", 1000)

	cfg := &Config{}
	cfg.Env = v.GetString("env")
	cfg.LogLevel = v.GetString("log_level")

	cfg.Kalshi = KalshiConfig{
		APIKeyID:       v.GetString("kalshi.api_key_id"),
		PrivateKeyPath: v.GetString("kalshi.private_key_path"),
	}

	cfg.Manager = ManagerConfig{
		ReloadIntervalS: v.GetInt("manager.reload_interval_s"),
		ShutdownGraceS:  v.GetInt("manager.shutdown_grace_s"),
	}

	cfg.Sink = SinkConfig{
		Endpoint:       v.GetString("sink.endpoint"),
		BatchSize:      v.GetInt("sink.batch_size"),
		BatchTimeoutMs: v.GetInt("sink.batch_timeout_ms"),
	}

	return cfg, nil
}
