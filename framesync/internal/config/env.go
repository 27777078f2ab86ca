package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// envReader applies environment overrides, keeping the first parse error.
type envReader struct {
	lookup LookupFunc
	err    error
}

func (r *envReader) get(keys ...string) (string, bool) {
	for _, k := range keys {
		if v, ok := r.lookup(k); ok && v != "" {
			return v, true
		}
	}
	return "", false
}

func (r *envReader) str(dst *string, keys ...string) {
	if v, ok := r.get(keys...); ok {
		*dst = v
	}
}

func (r *envReader) integer(dst *int, key string) {
	v, ok := r.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		r.fail(key, fmt.Sprintf("%q is not an integer", v))
		return
	}
	*dst = n
}

func (r *envReader) number(dst *float64, key string) {
	v, ok := r.get(key)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		r.fail(key, fmt.Sprintf("%q is not a number", v))
		return
	}
	*dst = f
}

// seconds reads a number of seconds (fractions allowed).
func (r *envReader) seconds(dst *time.Duration, keys ...string) {
	for _, k := range keys {
		v, ok := r.get(k)
		if !ok {
			continue
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			r.fail(k, fmt.Sprintf("%q is not a number of seconds", v))
			return
		}
		*dst = time.Duration(f * float64(time.Second))
		return
	}
}

// flag sets dst from a truthy or falsy value, see ParseBool.
func (r *envReader) flag(dst *bool, key string) {
	if v, ok := r.get(key); ok {
		*dst = ParseBool(v)
	}
}

func (r *envReader) fail(key, reason string) {
	if r.err == nil {
		r.err = &ConfigError{Field: key, Reason: reason}
	}
}

// ParseBool is the truthiness rule for environment flags.
func ParseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func (c *Config) applyEnv(lookup LookupFunc) error {
	r := &envReader{lookup: lookup}

	r.str(&c.Source.URL, "TARGET_URL", "IMAGE_PROVIDER_URL")
	r.str(&c.Source.AuthType, "TARGET_AUTH_TYPE")
	r.str(&c.Source.Token, "TARGET_TOKEN")
	r.str(&c.Source.TokenHeader, "TARGET_TOKEN_HEADER")
	r.str(&c.Source.TokenPrefix, "TARGET_TOKEN_PREFIX")
	r.str(&c.Source.Username, "TARGET_USERNAME")
	r.str(&c.Source.Password, "TARGET_PASSWORD")
	r.str(&c.Source.Headers, "TARGET_HEADERS")
	r.seconds(&c.Source.FetchTimeout, "TARGET_TIMEOUT")

	r.seconds(&c.Interval, "INTERVAL_SECONDS", "INTERVAL")

	r.integer(&c.Render.Width, "SCREENSHOT_WIDTH")
	r.integer(&c.Render.Height, "SCREENSHOT_HEIGHT")
	r.number(&c.Render.Scale, "SCREENSHOT_SCALE")
	r.integer(&c.Render.Zoom, "SCREENSHOT_ZOOM")
	r.seconds(&c.Render.Settle, "SCREENSHOT_WAIT")
	r.flag(&c.Render.SkipNavigation, "SCREENSHOT_SKIP_NAVIGATION")
	r.str(&c.Render.Capture, "SCREENSHOT_CAPTURE")
	r.str(&c.Render.Format, "SCREENSHOT_FORMAT")
	r.integer(&c.Render.Quality, "SCREENSHOT_QUALITY")
	r.seconds(&c.Render.Timeout, "SCREENSHOT_TIMEOUT")
	r.str(&c.Render.BrowserBin, "BROWSER_BIN")
	r.str(&c.Render.BrowserRemote, "BROWSER_REMOTE")
	r.flag(&c.Render.Stealth, "BROWSER_STEALTH")

	r.str(&c.Device.Host, "TV_IP")
	r.integer(&c.Device.Port, "TV_PORT")
	r.str(&c.Device.BridgeURL, "TV_BRIDGE_URL")
	r.str(&c.Device.Matte, "TV_MATTE")
	r.flag(&c.Device.ShowAfterUpload, "TV_SHOW_AFTER_UPLOAD")
	r.seconds(&c.Device.UploadTimeout, "TV_UPLOAD_TIMEOUT")
	r.str(&c.Device.TokenFile, "TV_TOKEN_FILE")
	r.str(&c.Device.LastArtFile, "TV_LAST_ART_FILE")

	r.flag(&c.Screensaver.Enabled, "SCREENSAVER_ENABLED")
	r.str(&c.Screensaver.Dir, "SCREENSAVER_DIR")
	r.seconds(&c.Screensaver.Interval, "SCREENSAVER_INTERVAL")

	r.flag(&c.MQTT.Enabled, "MQTT_ENABLED")
	r.str(&c.MQTT.Broker, "MQTT_BROKER")
	r.str(&c.MQTT.Username, "MQTT_USERNAME")
	r.str(&c.MQTT.Password, "MQTT_PASSWORD")
	r.str(&c.MQTT.ClientID, "MQTT_CLIENT_ID")
	r.str(&c.MQTT.TopicPrefix, "MQTT_TOPIC_PREFIX")
	r.flag(&c.MQTT.Discovery, "MQTT_DISCOVERY")

	r.integer(&c.HTTPPort, "HTTP_PORT")
	r.str(&c.DataDir, "DATA_DIR")
	r.str(&c.ArtFile, "ART_FILE")
	r.integer(&c.HistoryKeep, "HISTORY_KEEP")
	r.str(&c.LogLevel, "LOG_LEVEL")
	if v, ok := r.get("DEBUG_LOGGING"); ok && ParseBool(v) {
		c.LogLevel = "debug"
	}

	return r.err
}
