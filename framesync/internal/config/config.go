// CLAUDE:SUMMARY framesync configuration: YAML file overlaid by environment variables, defaults, derived data paths, validation into ConfigError.
// Package config loads the framesync configuration. A YAML file (optional)
// is read first, then environment variables override individual fields,
// then defaults and data-dir derived paths fill the gaps.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigError reports an invalid setting. It is fatal at startup.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// Config is the full framesync configuration.
type Config struct {
	Source      SourceConfig      `yaml:"source"`
	Render      RenderConfig      `yaml:"render"`
	Device      DeviceConfig      `yaml:"device"`
	Screensaver ScreensaverConfig `yaml:"screensaver"`
	MQTT        MQTTConfig        `yaml:"mqtt"`

	Interval    time.Duration `yaml:"interval"`
	HTTPPort    int           `yaml:"http_port"`
	DataDir     string        `yaml:"data_dir"`
	ArtFile     string        `yaml:"art_file"`     // default <data>/art.jpg
	HistoryDB   string        `yaml:"history_db"`   // default <data>/framesync.db
	HistoryKeep int           `yaml:"history_keep"` // default 500
	LogLevel    string        `yaml:"log_level"`
}

// SourceConfig is where the artifact comes from and how to authenticate.
type SourceConfig struct {
	URL          string        `yaml:"url"`
	AuthType     string        `yaml:"auth_type"` // none | bearer | basic | headers
	Token        string        `yaml:"token"`
	TokenHeader  string        `yaml:"token_header"`
	TokenPrefix  string        `yaml:"token_prefix"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	Headers      string        `yaml:"headers"` // JSON object
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
}

// RenderConfig controls HTML snapshots.
type RenderConfig struct {
	Width          int           `yaml:"width"`
	Height         int           `yaml:"height"`
	Scale          float64       `yaml:"scale"`
	Zoom           int           `yaml:"zoom"`
	Settle         time.Duration `yaml:"settle"`
	SkipNavigation bool          `yaml:"skip_navigation"`
	Capture        string        `yaml:"capture"` // viewport | full_page
	Format         string        `yaml:"format"`  // png | jpeg
	Quality        int           `yaml:"quality"`
	Timeout        time.Duration `yaml:"timeout"`
	BrowserBin     string        `yaml:"browser_bin"`
	BrowserRemote  string        `yaml:"browser_remote"`
	Stealth        bool          `yaml:"stealth"`
}

// DeviceConfig addresses the display through its bridge.
type DeviceConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	BridgeURL        string        `yaml:"bridge_url"`
	Matte            string        `yaml:"matte"`
	ShowAfterUpload  bool          `yaml:"show_after_upload"`
	UploadTimeout    time.Duration `yaml:"upload_timeout"`
	TokenFile        string        `yaml:"token_file"`     // default <data>/tv-token.txt
	LastArtFile      string        `yaml:"last_art_file"`  // default <data>/last-art-id.txt
	BreakerThreshold int           `yaml:"breaker_threshold"`
	BreakerReset     time.Duration `yaml:"breaker_reset"`
}

// Enabled reports whether a display is configured.
func (d DeviceConfig) Enabled() bool { return d.Host != "" }

// ScreensaverConfig controls the local image rotation.
type ScreensaverConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Dir      string        `yaml:"dir"`
	Interval time.Duration `yaml:"interval"`
}

// MQTTConfig controls status telemetry.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	Discovery   bool   `yaml:"discovery"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Source: SourceConfig{
			AuthType:     "none",
			TokenHeader:  "Authorization",
			TokenPrefix:  "Bearer",
			FetchTimeout: 30 * time.Second,
		},
		Render: RenderConfig{
			Width:   1920,
			Height:  1080,
			Scale:   1,
			Zoom:    100,
			Capture: "viewport",
			Format:  "png",
			Quality: 90,
			Timeout: 30 * time.Second,
		},
		Device: DeviceConfig{
			Port:             8001,
			ShowAfterUpload:  true,
			UploadTimeout:    60 * time.Second,
			BreakerThreshold: 5,
			BreakerReset:     2 * time.Minute,
		},
		Screensaver: ScreensaverConfig{
			Dir:      "./screensaver",
			Interval: 60 * time.Second,
		},
		MQTT: MQTTConfig{
			ClientID:    "framesync",
			TopicPrefix: "framesync",
			Discovery:   true,
		},
		Interval:    300 * time.Second,
		HTTPPort:    8200,
		HistoryKeep: 500,
		LogLevel:    "info",
	}
}

// LookupFunc reads an environment variable. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// Load builds the configuration from the YAML file at path (skipped when
// empty) and the environment, and validates it.
func Load(path string, lookup LookupFunc) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	cfg.derive()
	return cfg, cfg.Validate()
}

// derive fills paths that depend on the data directory.
func (c *Config) derive() {
	if c.DataDir == "" {
		c.DataDir = "./data"
		if info, err := os.Stat("/data"); err == nil && info.IsDir() {
			c.DataDir = "/data"
		}
	}
	def := func(p *string, name string) {
		if *p == "" {
			*p = filepath.Join(c.DataDir, name)
		}
	}
	def(&c.ArtFile, "art.jpg")
	def(&c.HistoryDB, "framesync.db")
	def(&c.Device.TokenFile, "tv-token.txt")
	def(&c.Device.LastArtFile, "last-art-id.txt")

	c.Source.AuthType = strings.ToLower(strings.TrimSpace(c.Source.AuthType))
	if c.Source.AuthType == "" {
		c.Source.AuthType = "none"
	}
	c.Render.Capture = strings.ToLower(c.Render.Capture)
	c.Render.Format = strings.ToLower(c.Render.Format)
	if c.Render.Format == "jpg" {
		c.Render.Format = "jpeg"
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Source.URL == "" && !c.Screensaver.Enabled {
		return &ConfigError{Field: "source.url", Reason: "required unless the screensaver is enabled"}
	}
	if c.Source.URL != "" {
		u, err := url.Parse(c.Source.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return &ConfigError{Field: "source.url", Reason: fmt.Sprintf("%q is not an http(s) URL", c.Source.URL)}
		}
	}
	switch c.Source.AuthType {
	case "none", "headers":
	case "bearer":
		if c.Source.Token == "" {
			return &ConfigError{Field: "source.token", Reason: "required for bearer auth"}
		}
	case "basic":
		if c.Source.Username == "" || c.Source.Password == "" {
			return &ConfigError{Field: "source.username", Reason: "username and password required for basic auth"}
		}
	default:
		return &ConfigError{Field: "source.auth_type", Reason: fmt.Sprintf("unknown mode %q (none, bearer, basic, headers)", c.Source.AuthType)}
	}

	if c.Interval <= 0 {
		return &ConfigError{Field: "interval", Reason: "must be positive"}
	}
	if c.Render.Width <= 0 || c.Render.Height <= 0 {
		return &ConfigError{Field: "render.width", Reason: "viewport must be positive"}
	}
	if c.Render.Zoom <= 0 {
		return &ConfigError{Field: "render.zoom", Reason: "must be a positive percentage"}
	}
	if c.Render.Capture != "viewport" && c.Render.Capture != "full_page" {
		return &ConfigError{Field: "render.capture", Reason: fmt.Sprintf("unknown mode %q (viewport, full_page)", c.Render.Capture)}
	}
	if c.Render.Format != "png" && c.Render.Format != "jpeg" {
		return &ConfigError{Field: "render.format", Reason: fmt.Sprintf("unknown format %q (png, jpeg)", c.Render.Format)}
	}

	if c.Device.Enabled() {
		if c.Device.BridgeURL == "" {
			return &ConfigError{Field: "device.bridge_url", Reason: "required when device.host is set"}
		}
		if c.Device.Port <= 0 || c.Device.Port > 65535 {
			return &ConfigError{Field: "device.port", Reason: "out of range"}
		}
		if c.Device.UploadTimeout <= 0 {
			return &ConfigError{Field: "device.upload_timeout", Reason: "must be positive"}
		}
	}
	if c.Screensaver.Enabled && c.Screensaver.Interval <= 0 {
		return &ConfigError{Field: "screensaver.interval", Reason: "must be positive"}
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return &ConfigError{Field: "mqtt.broker", Reason: "required when mqtt is enabled"}
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return &ConfigError{Field: "http_port", Reason: "out of range"}
	}
	return nil
}

// IsConfigError reports whether err is a validation failure.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
