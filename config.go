package callkit

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
)

// Timer defaults. The voice and video front ends used to carry their own
// copies of the 30-second ring timeout; it is hoisted here as the single
// shared value.
const (
	DefaultRingTimeout        = 30 * time.Second
	DefaultStatusPollInterval = 5 * time.Second
	DefaultNoticeLinger       = 3 * time.Second
	DefaultDurationTick       = time.Second
)

type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Config carries the endpoints and timer values for one call client.
type Config struct {
	// SignalingURL is the base URL of the signaling REST API.
	SignalingURL string
	// MediaURL is the base URL of the media room SDP exchange.
	MediaURL string
	// PushURL is the websocket URL of the call status push channel.
	PushURL string

	// RingTimeout bounds how long the initiator waits for the counterparty
	// to join before the call counts as missed.
	RingTimeout time.Duration
	// StatusPollInterval is the cadence of the fallback status poll that
	// guards against push-channel delivery failure.
	StatusPollInterval time.Duration
	// NoticeLinger is how long a terminal user-visible error stays up
	// before the session auto-closes.
	NoticeLinger time.Duration
	// DurationTick is the cadence of duration-display callbacks while the
	// call is active.
	DurationTick time.Duration

	Log LogConfig
}

func DefaultConfig() Config {
	return Config{
		RingTimeout:        DefaultRingTimeout,
		StatusPollInterval: DefaultStatusPollInterval,
		NoticeLinger:       DefaultNoticeLinger,
		DurationTick:       DefaultDurationTick,
		Log: LogConfig{
			File:       "callkit.log",
			MaxSizeMB:  10,
			MaxBackups: 2,
			MaxAgeDays: 3,
		},
	}
}

// withDefaults fills zero or negative timer fields so a zero-value Config
// is still a working one.
func (c Config) withDefaults() Config {
	if c.RingTimeout <= 0 {
		c.RingTimeout = DefaultRingTimeout
	}
	if c.StatusPollInterval <= 0 {
		c.StatusPollInterval = DefaultStatusPollInterval
	}
	if c.NoticeLinger <= 0 {
		c.NoticeLinger = DefaultNoticeLinger
	}
	if c.DurationTick <= 0 {
		c.DurationTick = DefaultDurationTick
	}
	return c
}

// fileConfig is the YAML shape; durations are expressed in milliseconds so
// config files stay free of Go duration syntax.
type fileConfig struct {
	SignalingURL         string    `yaml:"signaling_url"`
	MediaURL             string    `yaml:"media_url"`
	PushURL              string    `yaml:"push_url"`
	RingTimeoutMs        int       `yaml:"ring_timeout_ms"`
	StatusPollIntervalMs int       `yaml:"status_poll_interval_ms"`
	NoticeLingerMs       int       `yaml:"notice_linger_ms"`
	DurationTickMs       int       `yaml:"duration_tick_ms"`
	Log                  LogConfig `yaml:"log"`
}

// LoadConfig reads a YAML config file, filling unset values with defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return cfg, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.SignalingURL = fc.SignalingURL
	cfg.MediaURL = fc.MediaURL
	cfg.PushURL = fc.PushURL
	if fc.RingTimeoutMs > 0 {
		cfg.RingTimeout = time.Duration(fc.RingTimeoutMs) * time.Millisecond
	}
	if fc.StatusPollIntervalMs > 0 {
		cfg.StatusPollInterval = time.Duration(fc.StatusPollIntervalMs) * time.Millisecond
	}
	if fc.NoticeLingerMs > 0 {
		cfg.NoticeLinger = time.Duration(fc.NoticeLingerMs) * time.Millisecond
	}
	if fc.DurationTickMs > 0 {
		cfg.DurationTick = time.Duration(fc.DurationTickMs) * time.Millisecond
	}
	if fc.Log.File != "" {
		cfg.Log = fc.Log
	}
	return cfg, nil
}
