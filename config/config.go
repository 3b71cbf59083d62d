// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package config loads pool and logging configuration from YAML files
// and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes the environment variables overriding
// configuration keys. For example HTTPCHAN_LOG_LEVEL=debug overrides
// log.level.
const EnvPrefix = "HTTPCHAN"

// Config is the root configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Pool     PoolConfig     `mapstructure:"pool"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Timeout  TimeoutConfig  `mapstructure:"timeout"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig addresses the server.
type ServerConfig struct {
	// Host and Port of the server. Both may be left empty when the
	// program derives them from a URL.
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// TLS selects encrypted connections.
	TLS bool `mapstructure:"tls"`
	// Type is one of http1, http2 or http2-direct.
	Type string `mapstructure:"type"`
	// Proxy is the URL of an HTTP proxy to tunnel through.
	Proxy string `mapstructure:"proxy"`
	// InsecureSkipVerify continues TLS handshakes despite certificate
	// errors.
	InsecureSkipVerify bool `mapstructure:"insecure_skip_verify"`
}

// PoolConfig sizes the pool.
type PoolConfig struct {
	Channels     int `mapstructure:"channels"`
	MaxRedirects int `mapstructure:"max_redirects"`
}

// RetryConfig controls reconnects after recoverable failures.
type RetryConfig struct {
	// Attempts is the reconnect budget. Zero disables reconnects.
	Attempts int `mapstructure:"attempts"`
	// BackoffBase and BackoffMax bound the exponential wait before
	// reconnecting. A zero BackoffBase reconnects immediately.
	BackoffBase time.Duration `mapstructure:"backoff_base"`
	BackoffMax  time.Duration `mapstructure:"backoff_max"`
	// Jitter randomizes the wait.
	Jitter bool `mapstructure:"jitter"`
}

// TimeoutConfig sets connect and write timeouts.
type TimeoutConfig struct {
	// Usual is the timeout of a first attempt.
	Usual time.Duration `mapstructure:"usual"`
	// After lists the timeouts of later attempts. The last one repeats.
	After []time.Duration `mapstructure:"after"`
}

// PipelineConfig controls HTTP/1.1 pipelining.
type PipelineConfig struct {
	Enable bool `mapstructure:"enable"`
	// Depth is the most requests pipelined behind the one in flight.
	Depth int `mapstructure:"depth"`
	// DenyServers lists Server banner fragments of servers which must
	// not receive pipelined requests. Empty means the built-in list.
	DenyServers []string `mapstructure:"deny_servers"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`
	// Rotation controls rotation of file outputs.
	Rotation RotationConfig `mapstructure:"rotation"`
	// Development toggles development-friendly logging options.
	Development bool `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Default returns a Config populated with defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Type: "http2",
		},
		Pool: PoolConfig{
			Channels:     6,
			MaxRedirects: 10,
		},
		Retry: RetryConfig{
			Attempts:    3,
			BackoffBase: 0,
			BackoffMax:  2 * time.Second,
			Jitter:      true,
		},
		Timeout: TimeoutConfig{
			Usual: 30 * time.Second,
		},
		Pipeline: PipelineConfig{
			Enable: true,
			Depth:  3,
		},
		Log: LogConfig{
			Level:   "info",
			Format:  "console",
			Outputs: []string{"stderr"},
			Rotation: RotationConfig{
				Filename:   "logs/httpchan.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
	}
}

// Load reads configuration from the provided path (if non-empty),
// otherwise from the file named by HTTPCHAN_CONFIG, otherwise from
// httpchan.yaml in the working directory, ./configs or ~/.httpchan. A
// missing file is not an error. Environment variables with the
// HTTPCHAN prefix override file values, with `.` and `-` in keys
// replaced by `_`.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v, cfg)

	if path == "" {
		path = os.Getenv(EnvPrefix + "_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("httpchan")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".httpchan"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MustLoad is like Load but panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

// seed defaults so env-only configs work
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("server.host", cfg.Server.Host)
	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("server.tls", cfg.Server.TLS)
	v.SetDefault("server.type", cfg.Server.Type)
	v.SetDefault("server.proxy", cfg.Server.Proxy)
	v.SetDefault("server.insecure_skip_verify", cfg.Server.InsecureSkipVerify)
	v.SetDefault("pool.channels", cfg.Pool.Channels)
	v.SetDefault("pool.max_redirects", cfg.Pool.MaxRedirects)
	v.SetDefault("retry.attempts", cfg.Retry.Attempts)
	v.SetDefault("retry.backoff_base", cfg.Retry.BackoffBase)
	v.SetDefault("retry.backoff_max", cfg.Retry.BackoffMax)
	v.SetDefault("retry.jitter", cfg.Retry.Jitter)
	v.SetDefault("timeout.usual", cfg.Timeout.Usual)
	v.SetDefault("timeout.after", cfg.Timeout.After)
	v.SetDefault("pipeline.enable", cfg.Pipeline.Enable)
	v.SetDefault("pipeline.depth", cfg.Pipeline.Depth)
	v.SetDefault("pipeline.deny_servers", cfg.Pipeline.DenyServers)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
}

// Validate checks the configuration and fills in blank values.
func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "":
		c.Log.Format = "console"
	case "console", "json":
	default:
		return fmt.Errorf("invalid log.format: %q", c.Log.Format)
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stderr"}
	}
	if _, err := ParseType(c.Server.Type); err != nil {
		return err
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port: %d", c.Server.Port)
	}
	if c.Pool.Channels < 0 {
		return fmt.Errorf("invalid pool.channels: %d", c.Pool.Channels)
	}
	if c.Retry.BackoffBase < 0 || (c.Retry.BackoffBase > 0 && c.Retry.BackoffMax < c.Retry.BackoffBase) {
		return fmt.Errorf("invalid retry backoff: base %s, max %s", c.Retry.BackoffBase, c.Retry.BackoffMax)
	}
	if c.Timeout.Usual <= 0 {
		return fmt.Errorf("invalid timeout.usual: %s", c.Timeout.Usual)
	}
	for _, d := range c.Timeout.After {
		if d <= 0 {
			return fmt.Errorf("invalid timeout.after: %s", d)
		}
	}
	if c.Pipeline.Enable && c.Pipeline.Depth < 1 {
		return fmt.Errorf("invalid pipeline.depth: %d", c.Pipeline.Depth)
	}
	return nil
}
