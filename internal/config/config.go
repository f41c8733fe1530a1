// Package config provides centralized configuration management for the stream tools.
package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/attaebra/hdhr-stream/internal/constants"
)

// EnvPrefix prefixes every environment variable, e.g. HDHR_BUFFER_SIZE.
const EnvPrefix = "HDHR"

// Config holds the application configuration.
type Config struct {
	// Logging
	LogLevel  string
	LogFormat string

	// HTTP transfer engine
	BufferSize     int
	ReadMinCount   int
	ConnectTimeout time.Duration
	HeaderTimeout  time.Duration
	StallTimeout   time.Duration
	UserAgent      string

	// Tuner device streams
	TunerRecvInterval time.Duration
	TunerRecvMaxWait  time.Duration

	// FilterRadio strips video from opened streams.
	FilterRadio bool

	// MetricsAddr serves Prometheus metrics while streaming; empty disables.
	MetricsAddr string
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",

		BufferSize:     constants.DefaultBufferSize,
		ReadMinCount:   constants.DefaultReadMinCount,
		ConnectTimeout: 3 * time.Second,
		HeaderTimeout:  10 * time.Second,
		StallTimeout:   15 * time.Second,
		UserAgent:      "hdhr-stream",

		TunerRecvInterval: constants.DefaultTunerRecvInterval,
		TunerRecvMaxWait:  constants.DefaultTunerRecvMaxWait,
	}
}

// LoadFromEnvironment applies HDHR_* environment variables.
func (c *Config) LoadFromEnvironment() error {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	return c.apply(func(key string) (string, bool) {
		if !v.IsSet(key) {
			return "", false
		}
		return v.GetString(key), true
	})
}

// BindFlags registers the configuration flags on fs with c's values as defaults.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.String("log-level", c.LogLevel, "Logging level: error, warn, info, debug")
	fs.String("log-format", c.LogFormat, "Log output format: json or console")
	fs.String("buffer-size", humanize.IBytes(uint64(c.BufferSize)), "Ring buffer capacity (rounded up to 64KiB)")
	fs.String("read-min", humanize.IBytes(uint64(c.ReadMinCount)), "Minimum bytes a read waits for")
	fs.Duration("connect-timeout", c.ConnectTimeout, "HTTP connect timeout")
	fs.Duration("header-timeout", c.HeaderTimeout, "HTTP response header timeout")
	fs.Duration("stall-timeout", c.StallTimeout, "Abort transfers that deliver nothing for this long (0 disables)")
	fs.String("user-agent", c.UserAgent, "HTTP User-Agent")
	fs.Duration("tuner-recv-interval", c.TunerRecvInterval, "Sleep between empty tuner receives")
	fs.Duration("tuner-recv-max-wait", c.TunerRecvMaxWait, "Longest a tuner read waits for data")
	fs.Bool("radio", c.FilterRadio, "Strip video from the stream")
	fs.String("metrics-addr", c.MetricsAddr, "Serve Prometheus metrics on this address while streaming, e.g. :9090")
}

// LoadFromFlags applies flags registered by BindFlags that were set explicitly.
func (c *Config) LoadFromFlags(fs *pflag.FlagSet) error {
	return c.apply(func(key string) (string, bool) {
		f := fs.Lookup(strings.ReplaceAll(key, "_", "-"))
		if f == nil || !f.Changed {
			return "", false
		}
		return f.Value.String(), true
	})
}

// keys maps setting names (env and flag spelling) to their parsers.
var keys = map[string]func(c *Config, value string) error{
	"log_level":    func(c *Config, v string) error { c.LogLevel = strings.ToLower(v); return nil },
	"log_format":   func(c *Config, v string) error { c.LogFormat = strings.ToLower(v); return nil },
	"user_agent":   func(c *Config, v string) error { c.UserAgent = v; return nil },
	"metrics_addr": func(c *Config, v string) error { c.MetricsAddr = v; return nil },
	"buffer_size": func(c *Config, v string) error {
		return parseSize(v, &c.BufferSize)
	},
	"read_min": func(c *Config, v string) error {
		return parseSize(v, &c.ReadMinCount)
	},
	"connect_timeout":     durationSetter(func(c *Config) *time.Duration { return &c.ConnectTimeout }),
	"header_timeout":      durationSetter(func(c *Config) *time.Duration { return &c.HeaderTimeout }),
	"stall_timeout":       durationSetter(func(c *Config) *time.Duration { return &c.StallTimeout }),
	"tuner_recv_interval": durationSetter(func(c *Config) *time.Duration { return &c.TunerRecvInterval }),
	"tuner_recv_max_wait": durationSetter(func(c *Config) *time.Duration { return &c.TunerRecvMaxWait }),
	"radio": func(c *Config, v string) error {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			c.FilterRadio = true
		case "0", "false", "no", "off", "":
			c.FilterRadio = false
		default:
			return fmt.Errorf("invalid boolean %q", v)
		}
		return nil
	},
}

func durationSetter(field func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*field(c) = d
		return nil
	}
}

func parseSize(v string, dst *int) error {
	n, err := humanize.ParseBytes(v)
	if err != nil {
		return err
	}
	if n > 1<<40 {
		return fmt.Errorf("size %s is too large", v)
	}
	*dst = int(n)
	return nil
}

func (c *Config) apply(lookup func(key string) (string, bool)) error {
	var errs []error
	for key, set := range keys {
		value, ok := lookup(key)
		if !ok {
			continue
		}
		if err := set(c, value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

// Validate ensures the configuration is valid.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %q", c.LogLevel)
	}

	if c.LogFormat != "json" && c.LogFormat != "console" {
		return fmt.Errorf("invalid log format: %q", c.LogFormat)
	}

	if c.BufferSize <= constants.PacketSize {
		return fmt.Errorf("buffer size must exceed one packet: %d", c.BufferSize)
	}

	if c.ReadMinCount < constants.PacketSize {
		return fmt.Errorf("read minimum must be at least one packet: %d", c.ReadMinCount)
	}

	if c.ConnectTimeout <= 0 || c.HeaderTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}

	if c.StallTimeout < 0 {
		return fmt.Errorf("stall timeout cannot be negative: %v", c.StallTimeout)
	}

	if c.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(c.MetricsAddr); err != nil {
			return fmt.Errorf("invalid metrics address %q: %w", c.MetricsAddr, err)
		}
	}

	if c.TunerRecvInterval <= 0 || c.TunerRecvMaxWait < c.TunerRecvInterval {
		return fmt.Errorf("invalid tuner receive pacing: interval %v, max wait %v",
			c.TunerRecvInterval, c.TunerRecvMaxWait)
	}

	return nil
}
